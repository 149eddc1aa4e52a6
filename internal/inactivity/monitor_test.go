package inactivity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nicolasmoreira/linkuy-connect-app/internal/models"
	"github.com/nicolasmoreira/linkuy-connect-app/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSubmitter struct {
	mu     sync.Mutex
	events []models.ActivityEvent
	err    error
}

func (f *fakeSubmitter) Submit(ctx context.Context, ev models.ActivityEvent) (models.DeliveryStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	if f.err != nil {
		return "", f.err
	}
	return models.StatusDelivered, nil
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

type fixedWindow bool

func (w fixedWindow) IsWithinSuppressionWindow(time.Time) bool { return bool(w) }

func setupMonitor(t *testing.T) (*Monitor, *repository.StateStore, *fakeSubmitter) {
	t.Helper()
	store := repository.NewStateStore(repository.NewMemoryBackend(), 0, zap.NewNop())
	user := &models.UserContext{}
	user.SetUserID(9)
	sub := &fakeSubmitter{}
	m := NewMonitor(Config{Threshold: 300 * time.Second, PersistEvery: time.Second}, store, user, sub, zap.NewNop())
	return m, store, sub
}

func TestMonitor_NoAlertWithinThreshold(t *testing.T) {
	m, _, sub := setupMonitor(t)
	ctx := context.Background()
	t0 := time.Unix(10_000, 0)
	require.NoError(t, m.Restore(ctx, t0))

	assert.Equal(t, OutcomeActive, m.Check(ctx, t0.Add(300*time.Second)))
	assert.Zero(t, sub.count())
}

func TestMonitor_AlertsOncePerEpisode(t *testing.T) {
	m, store, sub := setupMonitor(t)
	ctx := context.Background()
	t0 := time.Unix(10_000, 0)
	require.NoError(t, m.Restore(ctx, t0))

	acc := 5.0
	require.NoError(t, store.SaveLastLocation(ctx, models.LocationFix{Latitude: 10, Longitude: 20, Accuracy: &acc}))

	assert.Equal(t, OutcomeAlerted, m.Check(ctx, t0.Add(301*time.Second)))
	assert.Equal(t, OutcomeAlreadyAlerted, m.Check(ctx, t0.Add(361*time.Second)))
	assert.Equal(t, OutcomeAlreadyAlerted, m.Check(ctx, t0.Add(2*time.Hour)))

	require.Equal(t, 1, sub.count())
	ev := sub.events[0]
	assert.Equal(t, models.EventInactivityAlert, ev.Type)
	assert.Equal(t, int64(9), ev.UserID)
	assert.Equal(t, 301, ev.InactiveDurationSec)
	assert.Equal(t, 10.0, ev.Location.Latitude)

	// 活动后重新计时
	m.RecordMovement(ctx, t0.Add(3*time.Hour))
	assert.Equal(t, OutcomeActive, m.Check(ctx, t0.Add(3*time.Hour+time.Minute)))
	assert.Equal(t, OutcomeAlerted, m.Check(ctx, t0.Add(3*time.Hour+6*time.Minute)))
	assert.Equal(t, 2, sub.count())
}

func TestMonitor_SuppressedDuringDoNotDisturb(t *testing.T) {
	m, _, sub := setupMonitor(t)
	ctx := context.Background()
	t0 := time.Unix(10_000, 0)
	require.NoError(t, m.Restore(ctx, t0))

	m.SetSuppressionWindow(fixedWindow(true))
	assert.Equal(t, OutcomeSuppressed, m.Check(ctx, t0.Add(10*time.Minute)))
	assert.Zero(t, sub.count())

	// 免打扰结束后本轮仍会报警
	m.SetSuppressionWindow(fixedWindow(false))
	assert.Equal(t, OutcomeAlerted, m.Check(ctx, t0.Add(11*time.Minute)))
	assert.Equal(t, 1, sub.count())
}

func TestMonitor_DispatchErrorStillConsumesEpisode(t *testing.T) {
	m, _, sub := setupMonitor(t)
	sub.err = errors.New("timeout")
	ctx := context.Background()
	t0 := time.Unix(10_000, 0)
	require.NoError(t, m.Restore(ctx, t0))

	assert.Equal(t, OutcomeAlerted, m.Check(ctx, t0.Add(10*time.Minute)))
	assert.Equal(t, OutcomeAlreadyAlerted, m.Check(ctx, t0.Add(11*time.Minute)))
}

func TestMonitor_RestoreDoesNotRealert(t *testing.T) {
	m, store, sub := setupMonitor(t)
	ctx := context.Background()
	t0 := time.Unix(10_000, 0)
	require.NoError(t, m.Restore(ctx, t0))
	require.Equal(t, OutcomeAlerted, m.Check(ctx, t0.Add(10*time.Minute)))

	// 模拟进程重启
	user := &models.UserContext{}
	user.SetUserID(9)
	restarted := NewMonitor(Config{Threshold: 300 * time.Second}, store, user, sub, zap.NewNop())
	require.NoError(t, restarted.Restore(ctx, t0.Add(20*time.Minute)))

	assert.True(t, restarted.LastMovement().Equal(t0))
	assert.Equal(t, OutcomeAlreadyAlerted, restarted.Check(ctx, t0.Add(21*time.Minute)))
	assert.Equal(t, 1, sub.count())
}

func TestMonitor_RestoreDoesNotRealertAfterThrottledMovement(t *testing.T) {
	store := repository.NewStateStore(repository.NewMemoryBackend(), 0, zap.NewNop())
	user := &models.UserContext{}
	user.SetUserID(9)
	sub := &fakeSubmitter{}
	cfg := Config{Threshold: 300 * time.Second, PersistEvery: 15 * time.Second}
	ctx := context.Background()
	t0 := time.Unix(10_000, 0)

	m := NewMonitor(cfg, store, user, sub, zap.NewNop())
	require.NoError(t, m.Restore(ctx, t0))
	// 5s 内的活动不落盘
	m.RecordMovement(ctx, t0.Add(5*time.Second))
	require.Equal(t, OutcomeAlerted, m.Check(ctx, t0.Add(306*time.Second)))

	persisted, ok, err := store.LastMovement(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, persisted.Equal(t0.Add(5*time.Second)))

	restarted := NewMonitor(cfg, store, user, sub, zap.NewNop())
	require.NoError(t, restarted.Restore(ctx, t0.Add(350*time.Second)))
	assert.True(t, restarted.LastMovement().Equal(t0.Add(5*time.Second)))
	assert.Equal(t, OutcomeAlreadyAlerted, restarted.Check(ctx, t0.Add(360*time.Second)))
	assert.Equal(t, 1, sub.count())
}

func TestMonitor_RestoreLiftsStaleMovementToAlertedEpisode(t *testing.T) {
	m, store, sub := setupMonitor(t)
	ctx := context.Background()
	t0 := time.Unix(10_000, 0)

	// 旧版本遗留：活动时间落后于已报警的那一轮起点
	require.NoError(t, store.SaveLastMovement(ctx, t0))
	require.NoError(t, store.SaveInactivityAlerted(ctx, t0.Add(10*time.Second)))

	require.NoError(t, m.Restore(ctx, t0.Add(time.Hour)))
	assert.True(t, m.LastMovement().Equal(t0.Add(10*time.Second)))
	assert.Equal(t, OutcomeActive, m.Check(ctx, t0.Add(305*time.Second)))
	assert.Equal(t, OutcomeAlreadyAlerted, m.Check(ctx, t0.Add(time.Hour)))
	assert.Zero(t, sub.count())
}

func TestMonitor_RecordMovementThrottlesPersistence(t *testing.T) {
	m, store, _ := setupMonitor(t)
	ctx := context.Background()
	t0 := time.Unix(10_000, 0)
	require.NoError(t, m.Restore(ctx, t0))

	m.RecordMovement(ctx, t0.Add(500*time.Millisecond))
	persisted, ok, err := store.LastMovement(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, persisted.Equal(t0))
	assert.True(t, m.LastMovement().Equal(t0.Add(500*time.Millisecond)))

	m.RecordMovement(ctx, t0.Add(2*time.Second))
	persisted, _, err = store.LastMovement(ctx)
	require.NoError(t, err)
	assert.True(t, persisted.Equal(t0.Add(2*time.Second)))

	// 乱序的旧时间被忽略
	m.RecordMovement(ctx, t0.Add(time.Second))
	assert.True(t, m.LastMovement().Equal(t0.Add(2*time.Second)))
}

func TestMonitor_ApplySettings(t *testing.T) {
	m, _, _ := setupMonitor(t)
	start, end := "22:00", "07:00"

	err := m.ApplySettings(models.Settings{InactivityThresholdMin: 0})
	assert.ErrorIs(t, err, models.ErrInvalidPayload)

	require.NoError(t, m.ApplySettings(models.Settings{
		InactivityThresholdMin: 30,
		DoNotDisturb:           true,
		DoNotDisturbStart:      &start,
		DoNotDisturbEnd:        &end,
		Timezone:               "UTC",
	}))
	assert.Equal(t, 30*time.Minute, m.Threshold())

	ctx := context.Background()
	night := time.Date(2024, 5, 10, 23, 0, 0, 0, time.UTC)
	require.NoError(t, m.Restore(ctx, night.Add(-time.Hour)))
	assert.Equal(t, OutcomeSuppressed, m.Check(ctx, night))
}

func TestMonitor_NoBaselineBeforeRestore(t *testing.T) {
	m, _, sub := setupMonitor(t)
	assert.Equal(t, OutcomeNoBaseline, m.Check(context.Background(), time.Now()))
	assert.Zero(t, sub.count())
}
