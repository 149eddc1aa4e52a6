package sensor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqttcommon "github.com/nicolasmoreira/linkuy-connect-app/common/mqtt"
	"github.com/nicolasmoreira/linkuy-connect-app/internal/models"
	"go.uber.org/zap"
)

// Broker MQTT 客户端（common/mqtt.Client 实现）
type Broker interface {
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// MQTTTopics 加速度计相关主题
type MQTTTopics struct {
	Samples string // 平台发布采样
	Status  string // 平台发布设备/权限状态（retained）
}

// DefaultMQTTTopics 默认主题：{prefix}/sensor/...
func DefaultMQTTTopics(prefix string) MQTTTopics {
	return MQTTTopics{
		Samples: prefix + "/sensor/accelerometer",
		Status:  prefix + "/sensor/status",
	}
}

// sensorStatus 平台上报的加速度计状态
type sensorStatus struct {
	Available  bool   `json:"available"`
	Permission string `json:"permission"` // granted / denied / undetermined
}

// sampleMessage JSON 采样（timestamp 为 unix 毫秒，缺省时使用接收时间）
type sampleMessage struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Z         float64 `json:"z"`
	Timestamp int64   `json:"timestamp"`
}

// MQTTSource 通过 MQTT 接入平台加速度计（手机端桥接）
type MQTTSource struct {
	broker      Broker
	topics      MQTTTopics
	qos         byte
	waitTimeout time.Duration
	clock       func() time.Time
	logger      *zap.Logger

	mu         sync.Mutex
	subscribed bool
	status     *sensorStatus
	changed    chan struct{}
}

// NewMQTTSource 创建 MQTT 加速度计数据源
func NewMQTTSource(broker Broker, topics MQTTTopics, qos byte, logger *zap.Logger) *MQTTSource {
	return &MQTTSource{
		broker:      broker,
		topics:      topics,
		qos:         qos,
		waitTimeout: 3 * time.Second,
		clock:       time.Now,
		logger:      logger,
		changed:     make(chan struct{}),
	}
}

func (s *MQTTSource) handleStatus(topic string, payload []byte) error {
	var st sensorStatus
	if err := json.Unmarshal(payload, &st); err != nil {
		return fmt.Errorf("failed to unmarshal sensor status: %w", err)
	}
	s.mu.Lock()
	s.status = &st
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()
	return nil
}

// currentStatus 返回平台最近上报的状态，必要时等待 retained 消息到达
func (s *MQTTSource) currentStatus(ctx context.Context) (*sensorStatus, error) {
	s.mu.Lock()
	if !s.subscribed {
		if err := s.broker.Subscribe(s.topics.Status, s.qos, s.handleStatus); err != nil {
			s.mu.Unlock()
			return nil, err
		}
		s.subscribed = true
	}
	st, changed := s.status, s.changed
	s.mu.Unlock()

	if st != nil {
		return st, nil
	}

	timer := time.NewTimer(s.waitTimeout)
	defer timer.Stop()
	select {
	case <-changed:
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, nil
}

// Available 平台是否上报了可用的加速度计
func (s *MQTTSource) Available(ctx context.Context) bool {
	st, err := s.currentStatus(ctx)
	if err != nil {
		s.logger.Warn("Failed to read sensor status", zap.Error(err))
		return false
	}
	if st == nil {
		s.logger.Warn("No sensor status published by platform", zap.String("topic", s.topics.Status))
		return false
	}
	return st.Available
}

// RequestPermission 读取平台上报的授权状态
func (s *MQTTSource) RequestPermission(ctx context.Context) (bool, error) {
	st, err := s.currentStatus(ctx)
	if err != nil {
		return false, err
	}
	return st != nil && st.Permission == "granted", nil
}

// parseSamplePayload 接受 JSON 或 "x,y,z" 文本
func (s *MQTTSource) parseSamplePayload(payload []byte) (models.SensorSample, error) {
	text := strings.TrimSpace(string(payload))
	if strings.HasPrefix(text, "{") {
		var msg sampleMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			return models.SensorSample{}, fmt.Errorf("failed to unmarshal sample: %w", err)
		}
		sample := models.SensorSample{X: msg.X, Y: msg.Y, Z: msg.Z, Timestamp: s.clock()}
		if msg.Timestamp > 0 {
			sample.Timestamp = time.UnixMilli(msg.Timestamp)
		}
		return sample, nil
	}

	x, y, z, err := ParseSampleLine(text)
	if err != nil {
		return models.SensorSample{}, err
	}
	return models.SensorSample{X: x, Y: y, Z: z, Timestamp: s.clock()}, nil
}

// Subscribe 订阅采样主题；ctx 结束时取消订阅并关闭通道
func (s *MQTTSource) Subscribe(ctx context.Context, interval time.Duration) (<-chan models.SensorSample, error) {
	out := make(chan models.SensorSample, sampleBuffer)
	var (
		outMu  sync.Mutex
		closed bool
		last   time.Time
	)
	minGap := interval / 2

	handler := func(topic string, payload []byte) error {
		sample, err := s.parseSamplePayload(payload)
		if err != nil {
			return err
		}

		outMu.Lock()
		defer outMu.Unlock()
		if closed {
			return nil
		}
		if !last.IsZero() && sample.Timestamp.Sub(last) < minGap {
			return nil
		}
		last = sample.Timestamp
		select {
		case out <- sample:
		default:
			s.logger.Debug("Sensor consumer is lagging, dropping sample")
		}
		return nil
	}

	if err := s.broker.Subscribe(s.topics.Samples, s.qos, handler); err != nil {
		return nil, err
	}

	go func() {
		<-ctx.Done()
		if err := s.broker.Unsubscribe(s.topics.Samples); err != nil {
			s.logger.Warn("Failed to unsubscribe sensor topic", zap.Error(err))
		}
		outMu.Lock()
		closed = true
		close(out)
		outMu.Unlock()
	}()

	return out, nil
}
