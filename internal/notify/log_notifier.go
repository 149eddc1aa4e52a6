package notify

import (
	"context"

	"github.com/nicolasmoreira/linkuy-connect-app/internal/models"
	"go.uber.org/zap"
)

// LogNotifier 只写日志的 UI 协作方（无界面部署时使用）
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier 创建日志通知器
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) ConfirmFall(ctx context.Context, ev models.ActivityEvent, status models.DeliveryStatus, err error) {
	n.confirm(NewConfirmation(KindFall, ev, status), err)
}

func (n *LogNotifier) ConfirmEmergency(ctx context.Context, ev models.ActivityEvent, status models.DeliveryStatus, err error) {
	n.confirm(NewConfirmation(KindEmergency, ev, status), err)
}

func (n *LogNotifier) confirm(c Confirmation, err error) {
	fields := []zap.Field{
		zap.String("kind", string(c.Kind)),
		zap.Bool("sent", c.Sent),
		zap.String("title", c.Title),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	if c.Sent {
		n.logger.Info("Confirmation shown", fields...)
		return
	}
	n.logger.Warn("Confirmation shown", fields...)
}

func (n *LogNotifier) PublishState(ctx context.Context, state State) {
	n.logger.Info("UI state",
		zap.Bool("tracking_active", state.TrackingActive),
		zap.Bool("fall_detection_active", state.FallDetectionActive),
		zap.Bool("online", state.Online),
		zap.Int("queued_events", state.QueuedEvents),
		zap.String("message", state.Message),
	)
}
