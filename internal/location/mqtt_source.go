package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	mqttcommon "github.com/nicolasmoreira/linkuy-connect-app/common/mqtt"
	"github.com/nicolasmoreira/linkuy-connect-app/internal/models"
	"go.uber.org/zap"
)

// ErrPermissionTimeout 平台未在限定时间内回报权限状态
var ErrPermissionTimeout = errors.New("timed out waiting for location permission state")

// Broker MQTT 客户端（common/mqtt.Client 实现）
type Broker interface {
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// MQTTTopics 定位相关主题
type MQTTTopics struct {
	Fix         string // 平台发布定位结果
	Permissions string // 平台发布权限状态（retained）
	Request     string // 本服务发布权限请求与订阅参数
}

// DefaultMQTTTopics 默认主题：{prefix}/location/...
func DefaultMQTTTopics(prefix string) MQTTTopics {
	return MQTTTopics{
		Fix:         prefix + "/location/fix",
		Permissions: prefix + "/location/permissions",
		Request:     prefix + "/location/request",
	}
}

// permissionState 权限状态消息
type permissionState struct {
	Foreground string `json:"foreground"` // granted / denied / undetermined
	Background string `json:"background"`
}

// requestMessage 发布到 Request 主题的消息
type requestMessage struct {
	Action         string  `json:"action"` // request_permission / start / stop
	Permission     string  `json:"permission,omitempty"`
	Accuracy       string  `json:"accuracy,omitempty"`
	IntervalMs     int64   `json:"interval_ms,omitempty"`
	DistanceMeters float64 `json:"distance_m,omitempty"`
}

// fixMessage 定位消息（timestamp 为 unix 毫秒，缺省时使用接收时间）
type fixMessage struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  *float64 `json:"accuracy"`
	Timestamp int64    `json:"timestamp"`
}

// MQTTSource 通过 MQTT 接入平台定位服务
type MQTTSource struct {
	broker      Broker
	topics      MQTTTopics
	qos         byte
	waitTimeout time.Duration
	clock       func() time.Time
	logger      *zap.Logger

	mu             sync.Mutex
	permSubscribed bool
	perms          *permissionState
	permChanged    chan struct{}
}

// NewMQTTSource 创建 MQTT 定位源
func NewMQTTSource(broker Broker, topics MQTTTopics, qos byte, logger *zap.Logger) *MQTTSource {
	return &MQTTSource{
		broker:      broker,
		topics:      topics,
		qos:         qos,
		waitTimeout: 5 * time.Second,
		clock:       time.Now,
		logger:      logger,
		permChanged: make(chan struct{}),
	}
}

func (s *MQTTSource) ensurePermissionSubscription() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.permSubscribed {
		return nil
	}
	if err := s.broker.Subscribe(s.topics.Permissions, s.qos, s.handlePermissions); err != nil {
		return err
	}
	s.permSubscribed = true
	return nil
}

func (s *MQTTSource) handlePermissions(topic string, payload []byte) error {
	var st permissionState
	if err := json.Unmarshal(payload, &st); err != nil {
		return fmt.Errorf("failed to unmarshal permission state: %w", err)
	}

	s.mu.Lock()
	s.perms = &st
	close(s.permChanged)
	s.permChanged = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info("Location permission state received",
		zap.String("foreground", st.Foreground),
		zap.String("background", st.Background),
	)
	return nil
}

func (s *MQTTSource) requestPermission(ctx context.Context, which string) (bool, error) {
	if err := s.ensurePermissionSubscription(); err != nil {
		return false, err
	}
	if err := s.publish(requestMessage{Action: "request_permission", Permission: which}); err != nil {
		return false, err
	}

	timeout := time.NewTimer(s.waitTimeout)
	defer timeout.Stop()

	for {
		s.mu.Lock()
		st, changed := s.perms, s.permChanged
		s.mu.Unlock()

		if st != nil {
			state := st.Foreground
			if which == "background" {
				state = st.Background
			}
			switch state {
			case "granted":
				return true, nil
			case "denied":
				return false, nil
			}
		}

		select {
		case <-changed:
		case <-timeout.C:
			return false, ErrPermissionTimeout
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

// RequestForegroundPermission 请求前台定位权限
func (s *MQTTSource) RequestForegroundPermission(ctx context.Context) (bool, error) {
	return s.requestPermission(ctx, "foreground")
}

// RequestBackgroundPermission 请求后台定位权限
func (s *MQTTSource) RequestBackgroundPermission(ctx context.Context) (bool, error) {
	return s.requestPermission(ctx, "background")
}

func (s *MQTTSource) publish(msg requestMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal location request: %w", err)
	}
	return s.broker.Publish(s.topics.Request, s.qos, false, data)
}

// Subscribe 订阅定位主题，并通知平台开始按 opts 推送
func (s *MQTTSource) Subscribe(ctx context.Context, opts Options) (<-chan models.LocationFix, error) {
	out := make(chan models.LocationFix, 8)
	var (
		outMu  sync.Mutex
		closed bool
	)

	handler := func(topic string, payload []byte) error {
		var msg fixMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			return fmt.Errorf("failed to unmarshal location fix: %w", err)
		}
		fix := models.LocationFix{
			Latitude:  msg.Latitude,
			Longitude: msg.Longitude,
			Accuracy:  msg.Accuracy,
			Timestamp: s.clock(),
		}
		if msg.Timestamp > 0 {
			fix.Timestamp = time.UnixMilli(msg.Timestamp)
		}

		outMu.Lock()
		defer outMu.Unlock()
		if closed {
			return nil
		}
		select {
		case out <- fix:
		default:
			s.logger.Warn("Location consumer is lagging, dropping fix")
		}
		return nil
	}

	if err := s.broker.Subscribe(s.topics.Fix, s.qos, handler); err != nil {
		return nil, err
	}
	if err := s.publish(requestMessage{
		Action:         "start",
		Accuracy:       string(opts.Accuracy),
		IntervalMs:     opts.Interval.Milliseconds(),
		DistanceMeters: opts.DistanceMeters,
	}); err != nil {
		if uerr := s.broker.Unsubscribe(s.topics.Fix); uerr != nil {
			s.logger.Warn("Failed to unsubscribe location topic", zap.Error(uerr))
		}
		return nil, err
	}

	go func() {
		<-ctx.Done()
		if err := s.broker.Unsubscribe(s.topics.Fix); err != nil {
			s.logger.Warn("Failed to unsubscribe location topic", zap.Error(err))
		}
		if err := s.publish(requestMessage{Action: "stop"}); err != nil {
			s.logger.Warn("Failed to publish location stop", zap.Error(err))
		}
		outMu.Lock()
		closed = true
		close(out)
		outMu.Unlock()
	}()

	return out, nil
}
