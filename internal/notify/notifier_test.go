package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nicolasmoreira/linkuy-connect-app/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type published struct {
	topic    string
	retained bool
	payload  []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakePublisher) Publish(topic string, qos byte, retained bool, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{topic: topic, retained: retained, payload: payload})
	return f.err
}

func fallEvent() models.ActivityEvent {
	return models.NewFallDetected(7, models.UnknownLocation(), 3.0, 300, time.Now())
}

func TestNewConfirmation_QueuedCountsAsSent(t *testing.T) {
	for _, status := range []models.DeliveryStatus{models.StatusDelivered, models.StatusQueued} {
		c := NewConfirmation(KindEmergency, fallEvent(), status)
		assert.True(t, c.Sent, status)
		assert.Equal(t, "Alerta enviada", c.Title)
	}

	c := NewConfirmation(KindFall, fallEvent(), models.StatusQueued)
	assert.True(t, c.Sent)
	assert.Equal(t, "¡Caída Detectada!", c.Title)
}

func TestNewConfirmation_NotSent(t *testing.T) {
	c := NewConfirmation(KindFall, fallEvent(), "")
	assert.False(t, c.Sent)
	assert.Equal(t, "Error de Comunicación", c.Title)

	c = NewConfirmation(KindEmergency, fallEvent(), "")
	assert.False(t, c.Sent)
	assert.Equal(t, "Error", c.Title)
}

func TestPermissionMessage(t *testing.T) {
	assert.Empty(t, PermissionMessage(nil))
	assert.Contains(t, PermissionMessage(models.ErrBackgroundPermissionDenied), "segundo plano")
	assert.Contains(t, PermissionMessage(fmt.Errorf("start: %w", models.ErrPermissionDenied)), "Permiso denegado")
	assert.Contains(t, PermissionMessage(models.ErrSensorUnavailable), "acelerómetro")
	assert.Contains(t, PermissionMessage(models.ErrUserNotSet), "Inicia sesión")
	assert.NotEmpty(t, PermissionMessage(errors.New("boom")))
}

func TestMQTTNotifier_Topics(t *testing.T) {
	pub := &fakePublisher{}
	n := NewMQTTNotifier(pub, "linkuy/device-1", 1, zap.NewNop())

	n.ConfirmFall(context.Background(), fallEvent(), models.StatusDelivered, nil)
	n.PublishState(context.Background(), State{TrackingActive: true, QueuedEvents: 2})

	require.Len(t, pub.msgs, 2)
	assert.Equal(t, "linkuy/device-1/ui/confirmation", pub.msgs[0].topic)
	assert.False(t, pub.msgs[0].retained)
	var c Confirmation
	require.NoError(t, json.Unmarshal(pub.msgs[0].payload, &c))
	assert.Equal(t, KindFall, c.Kind)
	assert.Equal(t, models.EventFallDetected, c.EventType)

	assert.Equal(t, "linkuy/device-1/ui/state", pub.msgs[1].topic)
	assert.True(t, pub.msgs[1].retained)
	var s State
	require.NoError(t, json.Unmarshal(pub.msgs[1].payload, &s))
	assert.True(t, s.TrackingActive)
	assert.Equal(t, 2, s.QueuedEvents)
}

func TestMQTTNotifier_PublishErrorLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	pub := &fakePublisher{err: errors.New("not connected")}
	n := NewMQTTNotifier(pub, "linkuy", 0, zap.New(core))

	n.ConfirmEmergency(context.Background(), fallEvent(), models.StatusQueued, nil)
	assert.Equal(t, 1, logs.FilterMessage("Failed to publish UI message").Len())
}

func TestFanout(t *testing.T) {
	a, b := &fakePublisher{}, &fakePublisher{}
	f := Fanout{
		NewMQTTNotifier(a, "a", 0, zap.NewNop()),
		NewMQTTNotifier(b, "b", 0, zap.NewNop()),
		NewLogNotifier(zap.NewNop()),
	}
	f.ConfirmEmergency(context.Background(), fallEvent(), models.StatusDelivered, nil)
	assert.Len(t, a.msgs, 1)
	assert.Len(t, b.msgs, 1)
}
