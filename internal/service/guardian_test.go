package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/nicolasmoreira/linkuy-connect-app/internal/detector"
	"github.com/nicolasmoreira/linkuy-connect-app/internal/dispatcher"
	"github.com/nicolasmoreira/linkuy-connect-app/internal/inactivity"
	"github.com/nicolasmoreira/linkuy-connect-app/internal/location"
	"github.com/nicolasmoreira/linkuy-connect-app/internal/models"
	"github.com/nicolasmoreira/linkuy-connect-app/internal/notify"
	"github.com/nicolasmoreira/linkuy-connect-app/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSensor struct {
	available bool
	granted   bool

	mu sync.Mutex
	ch chan models.SensorSample
}

func (f *fakeSensor) Available(ctx context.Context) bool { return f.available }

func (f *fakeSensor) RequestPermission(ctx context.Context) (bool, error) { return f.granted, nil }

func (f *fakeSensor) Subscribe(ctx context.Context, interval time.Duration) (<-chan models.SensorSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ch = make(chan models.SensorSample)
	return f.ch, nil
}

func (f *fakeSensor) push(t *testing.T, s models.SensorSample) {
	t.Helper()
	f.mu.Lock()
	ch := f.ch
	f.mu.Unlock()
	select {
	case ch <- s:
	case <-time.After(time.Second):
		t.Fatal("sampler did not consume sample")
	}
}

type fakeLocation struct {
	foreground bool
	background bool

	mu sync.Mutex
	ch chan models.LocationFix
}

func (f *fakeLocation) RequestForegroundPermission(ctx context.Context) (bool, error) {
	return f.foreground, nil
}

func (f *fakeLocation) RequestBackgroundPermission(ctx context.Context) (bool, error) {
	return f.background, nil
}

func (f *fakeLocation) Subscribe(ctx context.Context, opts location.Options) (<-chan models.LocationFix, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ch = make(chan models.LocationFix)
	return f.ch, nil
}

func (f *fakeLocation) push(t *testing.T, fix models.LocationFix) {
	t.Helper()
	f.mu.Lock()
	ch := f.ch
	f.mu.Unlock()
	select {
	case ch <- fix:
	case <-time.After(time.Second):
		t.Fatal("tracker did not consume fix")
	}
}

type recordingNotifier struct {
	mu          sync.Mutex
	falls       []notify.Confirmation
	emergencies []notify.Confirmation
	states      []notify.State
}

func (r *recordingNotifier) ConfirmFall(ctx context.Context, ev models.ActivityEvent, status models.DeliveryStatus, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.falls = append(r.falls, notify.NewConfirmation(notify.KindFall, ev, status))
}

func (r *recordingNotifier) ConfirmEmergency(ctx context.Context, ev models.ActivityEvent, status models.DeliveryStatus, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emergencies = append(r.emergencies, notify.NewConfirmation(notify.KindEmergency, ev, status))
}

func (r *recordingNotifier) PublishState(ctx context.Context, state notify.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *recordingNotifier) fallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.falls)
}

// ingest 记录收到的事件类型
type ingest struct {
	mu     sync.Mutex
	events []models.ActivityEvent
	hold   chan struct{} // 非空时请求阻塞到关闭
}

func (i *ingest) handler(w http.ResponseWriter, r *http.Request) {
	i.mu.Lock()
	hold := i.hold
	i.mu.Unlock()
	if hold != nil {
		<-hold
	}
	body, _ := io.ReadAll(r.Body)
	var ev models.ActivityEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	i.mu.Lock()
	i.events = append(i.events, ev)
	i.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (i *ingest) ofType(t models.EventType) []models.ActivityEvent {
	i.mu.Lock()
	defer i.mu.Unlock()
	var out []models.ActivityEvent
	for _, ev := range i.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type fixture struct {
	svc      *GuardianService
	store    *repository.StateStore
	sensor   *fakeSensor
	location *fakeLocation
	notifier *recordingNotifier
	ingest   *ingest
	conn     *dispatcher.Connectivity
}

func newFixture(t *testing.T, online bool) *fixture {
	t.Helper()
	logger := zap.NewNop()

	in := &ingest{}
	srv := httptest.NewServer(http.HandlerFunc(in.handler))
	t.Cleanup(srv.Close)

	store := repository.NewStateStore(repository.NewMemoryBackend(), repository.DefaultQueueMax, logger)
	transport := dispatcher.NewHTTPTransport(dispatcher.TransportConfig{
		Endpoint:   srv.URL,
		Timeout:    time.Second,
		MaxRetries: 1,
		RetryDelay: 10 * time.Millisecond,
	}, logger)
	conn := dispatcher.NewConnectivity(online, logger)
	d := dispatcher.New(transport, store, conn, dispatcher.Config{MaxQueueAge: dispatcher.DefaultMaxQueueAge}, logger)

	f := &fixture{
		store:    store,
		sensor:   &fakeSensor{available: true, granted: true},
		location: &fakeLocation{foreground: true, background: true},
		notifier: &recordingNotifier{},
		ingest:   in,
		conn:     conn,
	}

	cfg := Config{
		SampleInterval: 100 * time.Millisecond,
		Fall: detector.Config{
			SampleInterval: 100 * time.Millisecond,
			WindowSize:     10,
			Thresholds: detector.Thresholds{
				FallThreshold:   2.5,
				MinFallDuration: 200 * time.Millisecond,
				Cooldown:        30 * time.Second,
			},
			PostFallInactivity: 300 * time.Second,
		},
		MovementThreshold:       0.15,
		Inactivity:              inactivity.Config{Threshold: 300 * time.Second},
		InactivityCheckInterval: time.Hour,
		Location:                location.Config{Interval: time.Minute},
		Accuracy:                location.AccuracyBalanced,
	}
	f.svc = NewGuardianService(cfg, Deps{
		Store:        store,
		Sensor:       f.sensor,
		Location:     f.location,
		Dispatcher:   d,
		Connectivity: conn,
		Tokens:       transport,
		Notifier:     f.notifier,
	}, logger)
	require.NoError(t, f.svc.Init(context.Background()))
	t.Cleanup(func() { f.svc.Close(context.Background()) })
	return f
}

func TestStartTracking_RequiresUser(t *testing.T) {
	f := newFixture(t, true)

	err := f.svc.StartTracking(context.Background())
	assert.ErrorIs(t, err, models.ErrUserNotSet)
	assert.False(t, f.svc.TrackingActive())
	assert.Contains(t, f.svc.Status(context.Background()).Message, "Inicia sesión")
}

func TestStartTracking_SensorUnavailable(t *testing.T) {
	f := newFixture(t, true)
	require.NoError(t, f.svc.SetUserID(42))
	f.sensor.available = false

	err := f.svc.StartTracking(context.Background())
	assert.ErrorIs(t, err, models.ErrSensorUnavailable)
	assert.False(t, f.svc.TrackingActive())
}

func TestStartTracking_BackgroundDeniedRollsBack(t *testing.T) {
	f := newFixture(t, true)
	require.NoError(t, f.svc.SetUserID(42))
	f.location.background = false

	err := f.svc.StartTracking(context.Background())
	assert.ErrorIs(t, err, models.ErrBackgroundPermissionDenied)
	assert.ErrorIs(t, err, models.ErrPermissionDenied)

	st := f.svc.Status(context.Background())
	assert.False(t, st.TrackingActive)
	assert.False(t, st.FallDetectionActive)
	assert.True(t, st.ForegroundLocation)
	assert.False(t, st.BackgroundLocation)
	assert.NotEmpty(t, st.Message)
}

func TestTracking_FallIsDeliveredAndConfirmed(t *testing.T) {
	f := newFixture(t, true)
	require.NoError(t, f.svc.SetUserID(42))
	require.NoError(t, f.svc.StartTracking(context.Background()))
	require.NoError(t, f.svc.StartTracking(context.Background()))
	assert.True(t, f.svc.Status(context.Background()).FallDetectionActive)

	t0 := time.Now()
	for i := 0; i < 13; i++ {
		f.sensor.push(t, models.SensorSample{Z: 3.0, Timestamp: t0.Add(time.Duration(i) * 100 * time.Millisecond)})
	}

	require.Eventually(t, func() bool {
		return len(f.ingest.ofType(models.EventFallDetected)) == 1 && f.notifier.fallCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	fall := f.ingest.ofType(models.EventFallDetected)[0]
	assert.Equal(t, int64(42), fall.UserID)
	assert.InDelta(t, 3.0, fall.FallIntensity, 1e-9)
	assert.Equal(t, 300, fall.InactiveDurationSec)

	f.svc.StopTracking(context.Background())
	f.svc.StopTracking(context.Background())
	assert.False(t, f.svc.TrackingActive())
}

func TestTracking_LocationUpdateDelivered(t *testing.T) {
	f := newFixture(t, true)
	require.NoError(t, f.svc.SetUserID(42))
	require.NoError(t, f.svc.StartTracking(context.Background()))

	acc := 6.0
	f.location.push(t, models.LocationFix{Latitude: -34.9, Longitude: -56.16, Accuracy: &acc, Timestamp: time.Now()})

	require.Eventually(t, func() bool {
		return len(f.ingest.ofType(models.EventLocationUpdate)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	loc, ok := f.store.LastKnownLocation(context.Background())
	require.True(t, ok)
	assert.Equal(t, -34.9, loc.Latitude)
}

func TestInactivityCheck_AlertsOncePerEpisode(t *testing.T) {
	f := newFixture(t, true)
	require.NoError(t, f.svc.SetUserID(42))
	require.NoError(t, f.svc.StartTracking(context.Background()))

	later := time.Now().Add(10 * time.Minute)
	require.NoError(t, f.svc.checkInactivity(context.Background(), later))
	require.NoError(t, f.svc.checkInactivity(context.Background(), later.Add(time.Minute)))

	alerts := f.ingest.ofType(models.EventInactivityAlert)
	require.Len(t, alerts, 1)
	assert.GreaterOrEqual(t, alerts[0].InactiveDurationSec, 600)
}

func TestInactivityCheck_SkippedWhileNotTracking(t *testing.T) {
	f := newFixture(t, true)
	require.NoError(t, f.svc.SetUserID(42))

	require.NoError(t, f.svc.checkInactivity(context.Background(), time.Now().Add(time.Hour)))
	assert.Empty(t, f.ingest.ofType(models.EventInactivityAlert))
}

func TestTriggerEmergency_OfflineShowsSent(t *testing.T) {
	f := newFixture(t, false)
	require.NoError(t, f.svc.SetUserID(42))

	status, err := f.svc.TriggerEmergency(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, status)
	assert.Empty(t, f.ingest.ofType(models.EventEmergencyButtonPressed))

	require.Len(t, f.notifier.emergencies, 1)
	assert.True(t, f.notifier.emergencies[0].Sent)
	assert.Equal(t, 1, f.svc.Status(context.Background()).QueuedEvents)

	// 网络恢复后补发
	f.svc.SetNetwork(true)
	require.Eventually(t, func() bool {
		return len(f.ingest.ofType(models.EventEmergencyButtonPressed)) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTriggerEmergency_ConfirmsWhileDeliveryPending(t *testing.T) {
	f := newFixture(t, true)
	require.NoError(t, f.svc.SetUserID(42))
	hold := make(chan struct{})
	f.ingest.mu.Lock()
	f.ingest.hold = hold
	f.ingest.mu.Unlock()

	type result struct {
		status models.DeliveryStatus
		err    error
	}
	done := make(chan result, 1)
	go func() {
		status, err := f.svc.TriggerEmergency(context.Background())
		done <- result{status, err}
	}()

	require.Eventually(t, func() bool {
		f.notifier.mu.Lock()
		defer f.notifier.mu.Unlock()
		return len(f.notifier.emergencies) == 1
	}, time.Second, 5*time.Millisecond)
	select {
	case <-done:
		t.Fatal("emergency returned before the endpoint answered")
	default:
	}
	f.notifier.mu.Lock()
	assert.True(t, f.notifier.emergencies[0].Sent)
	f.notifier.mu.Unlock()

	close(hold)
	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, models.StatusDelivered, res.status)
	f.notifier.mu.Lock()
	assert.Len(t, f.notifier.emergencies, 1)
	f.notifier.mu.Unlock()
}

func TestTriggerEmergency_RequiresUser(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.svc.TriggerEmergency(context.Background())
	assert.ErrorIs(t, err, models.ErrUserNotSet)
}

func TestApplySettings(t *testing.T) {
	f := newFixture(t, true)

	start, end := "22:00", "07:00"
	err := f.svc.ApplySettings(models.Settings{
		InactivityThresholdMin: 15,
		DoNotDisturb:           true,
		DoNotDisturbStart:      &start,
		DoNotDisturbEnd:        &end,
		Timezone:               "UTC",
	})
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, f.svc.monitor.Threshold())

	err = f.svc.ApplySettings(models.Settings{InactivityThresholdMin: 0})
	assert.ErrorIs(t, err, models.ErrInvalidPayload)
}

func TestSetUserID_RejectsNonPositive(t *testing.T) {
	f := newFixture(t, true)
	assert.ErrorIs(t, f.svc.SetUserID(0), models.ErrInvalidPayload)
	_, err := f.svc.UserID()
	assert.ErrorIs(t, err, models.ErrUserNotSet)
}

func TestInit_RegistersBackgroundTaskOnce(t *testing.T) {
	f := newFixture(t, true)
	reg, err := f.store.Registration(context.Background())
	require.NoError(t, err)
	require.NotNil(t, reg)
	first := reg.RegisteredAt

	again, err := f.svc.scheduler.EnsureRegistered(context.Background(), reg.TaskName, reg.Interval)
	require.NoError(t, err)
	assert.False(t, again)

	reg, err = f.store.Registration(context.Background())
	require.NoError(t, err)
	assert.True(t, reg.RegisteredAt.Equal(first))
}
