package sensor

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	mqttcommon "github.com/nicolasmoreira/linkuy-connect-app/common/mqtt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// retainedBroker 内存 MQTT：订阅时立即投递 retained 消息
type retainedBroker struct {
	mu       sync.Mutex
	handlers map[string]mqttcommon.MessageHandler
	retained map[string][]byte
}

func newRetainedBroker() *retainedBroker {
	return &retainedBroker{
		handlers: make(map[string]mqttcommon.MessageHandler),
		retained: make(map[string][]byte),
	}
}

func (b *retainedBroker) Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error {
	b.mu.Lock()
	b.handlers[topic] = handler
	payload, ok := b.retained[topic]
	b.mu.Unlock()
	if ok {
		go handler(topic, payload)
	}
	return nil
}

func (b *retainedBroker) Unsubscribe(topics ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, topic := range topics {
		delete(b.handlers, topic)
	}
	return nil
}

func (b *retainedBroker) subscribed(topic string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.handlers[topic]
	return ok
}

func (b *retainedBroker) deliver(topic string, payload []byte) error {
	b.mu.Lock()
	h := b.handlers[topic]
	b.mu.Unlock()
	if h == nil {
		return nil
	}
	return h(topic, payload)
}

func TestMQTTSource_StatusFromRetained(t *testing.T) {
	topics := DefaultMQTTTopics("linkuy")
	b := newRetainedBroker()
	b.retained[topics.Status] = []byte(`{"available":true,"permission":"granted"}`)
	src := NewMQTTSource(b, topics, 1, zap.NewNop())

	assert.True(t, src.Available(context.Background()))
	granted, err := src.RequestPermission(context.Background())
	require.NoError(t, err)
	assert.True(t, granted)
}

func TestMQTTSource_PermissionDenied(t *testing.T) {
	topics := DefaultMQTTTopics("linkuy")
	b := newRetainedBroker()
	b.retained[topics.Status] = []byte(`{"available":true,"permission":"denied"}`)
	src := NewMQTTSource(b, topics, 1, zap.NewNop())

	granted, err := src.RequestPermission(context.Background())
	require.NoError(t, err)
	assert.False(t, granted)
}

func TestMQTTSource_NoStatusMeansUnavailable(t *testing.T) {
	src := NewMQTTSource(newRetainedBroker(), DefaultMQTTTopics("linkuy"), 1, zap.NewNop())
	src.waitTimeout = 20 * time.Millisecond

	assert.False(t, src.Available(context.Background()))
}

func TestMQTTSource_SubscribeParsesAndDownsamples(t *testing.T) {
	topics := DefaultMQTTTopics("linkuy")
	b := newRetainedBroker()
	src := NewMQTTSource(b, topics, 1, zap.NewNop())
	base := time.Unix(1700000000, 0)
	src.clock = func() time.Time { return base }

	ctx, cancel := context.WithCancel(context.Background())
	samples, err := src.Subscribe(ctx, 100*time.Millisecond)
	require.NoError(t, err)

	ms := base.UnixMilli()
	require.NoError(t, b.deliver(topics.Samples, []byte(`{"x":0.1,"y":0.2,"z":0.98,"timestamp":`+itoa(ms)+`}`)))
	// 距上一条 20ms，低于 interval/2，被丢弃
	require.NoError(t, b.deliver(topics.Samples, []byte(`{"x":3,"y":0,"z":0,"timestamp":`+itoa(ms+20)+`}`)))
	require.NoError(t, b.deliver(topics.Samples, []byte(`{"x":0,"y":0,"z":1,"timestamp":`+itoa(ms+100)+`}`)))
	assert.Error(t, b.deliver(topics.Samples, []byte(`not,a,sample`)))

	first := <-samples
	assert.InDelta(t, 0.98, first.Z, 1e-9)
	assert.Equal(t, ms, first.Timestamp.UnixMilli())
	second := <-samples
	assert.Equal(t, ms+100, second.Timestamp.UnixMilli())

	cancel()
	for range samples {
	}
	assert.False(t, b.subscribed(topics.Samples))
}

func TestMQTTSource_PlainTextPayload(t *testing.T) {
	src := NewMQTTSource(newRetainedBroker(), DefaultMQTTTopics("linkuy"), 0, zap.NewNop())
	sample, err := src.parseSamplePayload([]byte("0.5;0.5;0.7"))
	require.NoError(t, err)
	assert.Equal(t, 0.5, sample.X)
	assert.Equal(t, 0.7, sample.Z)
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
