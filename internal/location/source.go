package location

import (
	"context"
	"time"

	"github.com/nicolasmoreira/linkuy-connect-app/internal/models"
)

// Accuracy 定位精度档位
type Accuracy string

const (
	AccuracyLow      Accuracy = "low"
	AccuracyBalanced Accuracy = "balanced"
	AccuracyHigh     Accuracy = "high"
	AccuracyBest     Accuracy = "best"
)

// Valid 是否为已知档位
func (a Accuracy) Valid() bool {
	switch a {
	case AccuracyLow, AccuracyBalanced, AccuracyHigh, AccuracyBest:
		return true
	}
	return false
}

// Options 定位订阅参数（由平台定位服务执行）
type Options struct {
	Accuracy       Accuracy
	Interval       time.Duration
	DistanceMeters float64
}

// Source 平台定位服务
type Source interface {
	RequestForegroundPermission(ctx context.Context) (bool, error)
	RequestBackgroundPermission(ctx context.Context) (bool, error)
	// Subscribe 推送定位结果；ctx 结束时关闭通道
	Subscribe(ctx context.Context, opts Options) (<-chan models.LocationFix, error)
}
