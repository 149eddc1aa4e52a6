package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ErrDeliveryFailed 端点在重试耗尽后仍未返回 2xx（或连接失败/超时）
var ErrDeliveryFailed = errors.New("event delivery failed")

// Transport 上报通道：发送已序列化的请求体，返回最后一次响应的状态码
type Transport interface {
	Send(ctx context.Context, payload []byte) (int, error)
}

// TransportConfig HTTP 上报配置
type TransportConfig struct {
	Endpoint   string
	Timeout    time.Duration // 单次请求超时，超时等同于连接失败
	MaxRetries int           // 首次失败后的重试次数
	RetryDelay time.Duration // 固定重试间隔
}

// HTTPTransport 基于 resty 的上报客户端
type HTTPTransport struct {
	client   *resty.Client
	endpoint string
	logger   *zap.Logger

	mu    sync.RWMutex
	token string
}

// NewHTTPTransport 创建上报客户端
func NewHTTPTransport(cfg TransportConfig, logger *zap.Logger) *HTTPTransport {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	t := &HTTPTransport{
		endpoint: cfg.Endpoint,
		logger:   logger,
	}

	// WaitTime == MaxWaitTime 时 resty 的退避固定为该值
	t.client = resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(cfg.RetryDelay).
		SetRetryMaxWaitTime(cfg.RetryDelay).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetLogger(logger.Sugar()).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp == nil || !resp.IsSuccess()
		}).
		AddRetryHook(func(resp *resty.Response, err error) {
			fields := []zap.Field{zap.String("endpoint", cfg.Endpoint)}
			if resp != nil {
				fields = append(fields, zap.Int("status_code", resp.StatusCode()))
			}
			if err != nil {
				fields = append(fields, zap.Error(err))
			}
			t.logger.Warn("Delivery attempt failed", fields...)
		})

	return t
}

// SetToken 设置 Bearer Token（空字符串表示不发送 Authorization）
func (t *HTTPTransport) SetToken(token string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.token = token
}

func (t *HTTPTransport) currentToken() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.token
}

// Send POST 请求体到上报端点；非 2xx 视为失败，2xx 响应体只记录日志
func (t *HTTPTransport) Send(ctx context.Context, payload []byte) (int, error) {
	req := t.client.R().
		SetContext(ctx).
		SetBody(payload)
	if token := t.currentToken(); token != "" {
		req.SetAuthToken(token)
	}

	resp, err := req.Post(t.endpoint)
	if err != nil {
		code := 0
		if resp != nil {
			code = resp.StatusCode()
		}
		return code, fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}

	if !resp.IsSuccess() {
		return resp.StatusCode(), fmt.Errorf("%w: status %d", ErrDeliveryFailed, resp.StatusCode())
	}

	t.logger.Debug("Event delivered",
		zap.Int("status_code", resp.StatusCode()),
		zap.ByteString("response", resp.Body()),
	)
	return resp.StatusCode(), nil
}
