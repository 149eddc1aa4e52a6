package dispatcher

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Connectivity 网络连通性观察者
//
// 状态来源：平台上报（POST /network）、MQTT 连接回调、周期性 TCP 探测。
// 只有状态真正变化时才通知监听者。
type Connectivity struct {
	logger *zap.Logger

	mu        sync.Mutex
	online    bool
	changedAt time.Time
	listeners []func(online bool)
}

// NewConnectivity 创建连通性观察者
func NewConnectivity(initial bool, logger *zap.Logger) *Connectivity {
	return &Connectivity{
		online:    initial,
		changedAt: time.Now(),
		logger:    logger,
	}
}

// Online 当前是否在线
func (c *Connectivity) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// ChangedAt 最近一次状态变化时间
func (c *Connectivity) ChangedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changedAt
}

// OnChange 注册状态变化监听
func (c *Connectivity) OnChange(fn func(online bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Set 更新连通性；签名与 common/mqtt.ConnectionHandler 一致，可直接注册
func (c *Connectivity) Set(online bool) {
	c.mu.Lock()
	if c.online == online {
		c.mu.Unlock()
		return
	}
	c.online = online
	c.changedAt = time.Now()
	listeners := append(([]func(bool))(nil), c.listeners...)
	c.mu.Unlock()

	if online {
		c.logger.Info("Connectivity restored")
	} else {
		c.logger.Warn("Connectivity lost")
	}

	for _, fn := range listeners {
		fn(online)
	}
}

// ProbeTCP 尝试建立 TCP 连接判断端点是否可达
func ProbeTCP(ctx context.Context, addr string, timeout time.Duration) bool {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
