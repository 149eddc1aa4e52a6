package notify

import (
	"context"
	"errors"

	"github.com/nicolasmoreira/linkuy-connect-app/internal/models"
)

// ConfirmationKind 确认提示类型
type ConfirmationKind string

const (
	KindFall      ConfirmationKind = "fall"
	KindEmergency ConfirmationKind = "emergency"
)

// Confirmation 展示给用户的确认提示
type Confirmation struct {
	Kind      ConfirmationKind `json:"kind"`
	EventType models.EventType `json:"event_type"`
	Sent      bool             `json:"sent"` // 已送达或已入队都算已发送
	Title     string           `json:"title"`
	Message   string           `json:"message"`
}

// State UI 协作方展示的状态标志
type State struct {
	TrackingActive      bool   `json:"tracking_active"`
	FallDetectionActive bool   `json:"fall_detection_active"`
	SensorPermission    bool   `json:"sensor_permission"`
	ForegroundLocation  bool   `json:"foreground_location_permission"`
	BackgroundLocation  bool   `json:"background_location_permission"`
	Online              bool   `json:"online"`
	QueuedEvents        int    `json:"queued_events"`
	Message             string `json:"message,omitempty"` // 权限/前置条件失败的可读提示
}

// Notifier UI 协作方（只做展示）
type Notifier interface {
	ConfirmFall(ctx context.Context, ev models.ActivityEvent, status models.DeliveryStatus, err error)
	ConfirmEmergency(ctx context.Context, ev models.ActivityEvent, status models.DeliveryStatus, err error)
	PublishState(ctx context.Context, state State)
}

// Fanout 把通知分发给多个通知器
type Fanout []Notifier

func (f Fanout) ConfirmFall(ctx context.Context, ev models.ActivityEvent, status models.DeliveryStatus, err error) {
	for _, n := range f {
		n.ConfirmFall(ctx, ev, status, err)
	}
}

func (f Fanout) ConfirmEmergency(ctx context.Context, ev models.ActivityEvent, status models.DeliveryStatus, err error) {
	for _, n := range f {
		n.ConfirmEmergency(ctx, ev, status, err)
	}
}

func (f Fanout) PublishState(ctx context.Context, state State) {
	for _, n := range f {
		n.PublishState(ctx, state)
	}
}

// NewConfirmation 根据投递结果构建确认提示
//
// 离线入队与重试耗尽后入队对用户都显示为"已发送"；只有事件未能进入投递流程时才提示失败。
func NewConfirmation(kind ConfirmationKind, ev models.ActivityEvent, status models.DeliveryStatus) Confirmation {
	c := Confirmation{
		Kind:      kind,
		EventType: ev.Type,
		Sent:      status.Accepted(),
	}
	switch {
	case kind == KindFall && c.Sent:
		c.Title = "¡Caída Detectada!"
		c.Message = "Se ha detectado una posible caída. Tu cuidador ha sido notificado."
	case kind == KindFall:
		c.Title = "Error de Comunicación"
		c.Message = "No se pudo enviar la alerta de caída. Por favor, verifica tu conexión a internet."
	case c.Sent:
		c.Title = "Alerta enviada"
		c.Message = "Tu alerta de emergencia ha sido enviada. Un cuidador será notificado inmediatamente."
	default:
		c.Title = "Error"
		c.Message = "Hubo un problema al enviar tu alerta de emergencia."
	}
	return c
}

// PermissionMessage 前置条件失败时的可读提示
func PermissionMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, models.ErrBackgroundPermissionDenied):
		return "Permiso de ubicación en segundo plano denegado. Habilítalo para que el seguimiento continúe con la app cerrada."
	case errors.Is(err, models.ErrPermissionDenied):
		return "Permiso denegado. Por favor, habilita los permisos en tu dispositivo."
	case errors.Is(err, models.ErrSensorUnavailable):
		return "El acelerómetro no está disponible en este dispositivo."
	case errors.Is(err, models.ErrUserNotSet):
		return "Inicia sesión para comenzar el seguimiento."
	}
	return "No se pudo iniciar el seguimiento."
}
