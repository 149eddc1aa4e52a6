package notify

import (
	"context"
	"encoding/json"

	"github.com/nicolasmoreira/linkuy-connect-app/internal/models"
	"go.uber.org/zap"
)

// Publisher MQTT 发布（common/mqtt.Client 满足该接口）
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// MQTTNotifier 通过 MQTT 把确认提示和状态推送给界面进程
//
// 主题：
//   - {prefix}/ui/state：状态标志（retained，界面重连后立即拿到最新状态）
//   - {prefix}/ui/confirmation：跌倒/紧急确认
type MQTTNotifier struct {
	publisher         Publisher
	stateTopic        string
	confirmationTopic string
	qos               byte
	logger            *zap.Logger
}

// NewMQTTNotifier 创建 MQTT 通知器
func NewMQTTNotifier(publisher Publisher, prefix string, qos byte, logger *zap.Logger) *MQTTNotifier {
	return &MQTTNotifier{
		publisher:         publisher,
		stateTopic:        prefix + "/ui/state",
		confirmationTopic: prefix + "/ui/confirmation",
		qos:               qos,
		logger:            logger,
	}
}

func (n *MQTTNotifier) ConfirmFall(ctx context.Context, ev models.ActivityEvent, status models.DeliveryStatus, err error) {
	n.publish(n.confirmationTopic, false, NewConfirmation(KindFall, ev, status))
}

func (n *MQTTNotifier) ConfirmEmergency(ctx context.Context, ev models.ActivityEvent, status models.DeliveryStatus, err error) {
	n.publish(n.confirmationTopic, false, NewConfirmation(KindEmergency, ev, status))
}

func (n *MQTTNotifier) PublishState(ctx context.Context, state State) {
	n.publish(n.stateTopic, true, state)
}

func (n *MQTTNotifier) publish(topic string, retained bool, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		n.logger.Error("Failed to marshal UI message", zap.String("topic", topic), zap.Error(err))
		return
	}
	if err := n.publisher.Publish(topic, n.qos, retained, payload); err != nil {
		n.logger.Warn("Failed to publish UI message", zap.String("topic", topic), zap.Error(err))
	}
}
