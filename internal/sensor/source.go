package sensor

import (
	"context"
	"time"

	"github.com/nicolasmoreira/linkuy-connect-app/internal/models"
)

// Source 加速度计数据源
type Source interface {
	// Available 设备上是否存在加速度计
	Available(ctx context.Context) bool
	// RequestPermission 请求读取权限，返回是否授权
	RequestPermission(ctx context.Context) (bool, error)
	// Subscribe 以 interval 为目标间隔推送采样；ctx 结束或数据源关闭时关闭通道
	Subscribe(ctx context.Context, interval time.Duration) (<-chan models.SensorSample, error)
}
