package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/nicolasmoreira/linkuy-connect-app/common/config"
	"github.com/nicolasmoreira/linkuy-connect-app/common/database"
	"github.com/nicolasmoreira/linkuy-connect-app/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newSQLiteBackend(t *testing.T) Backend {
	t.Helper()
	cfg := &config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "guardian.db"),
	}
	db, err := database.Open(cfg)
	require.NoError(t, err)
	require.NoError(t, Migrate(db, DialectSQLite, zap.NewNop()))
	b := NewSQLBackend(db, DialectSQLite, zap.NewNop())
	t.Cleanup(func() { b.Close() })
	return b
}

func newRedisBackend(t *testing.T) Backend {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b := NewRedisBackend(client, "test", zap.NewNop())
	t.Cleanup(func() { b.Close() })
	return b
}

// 所有后端共享同一组行为
var backendFactories = map[string]func(t *testing.T) Backend{
	"memory": func(t *testing.T) Backend { return NewMemoryBackend() },
	"sqlite": newSQLiteBackend,
	"redis":  newRedisBackend,
}

func queueEntry(id string, at time.Time) models.QueueEntry {
	return models.QueueEntry{
		ID:         id,
		EventType:  models.EventFallDetected,
		Payload:    []byte(fmt.Sprintf(`{"user_id":1,"id":%q}`, id)),
		EnqueuedAt: at,
	}
}

func TestBackend_KV(t *testing.T) {
	for name, factory := range backendFactories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b := factory(t)

			_, err := b.Get(ctx, KeyLastLocation)
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, b.Set(ctx, KeyLastLocation, `{"latitude":1}`))
			require.NoError(t, b.Set(ctx, KeyLastLocation, `{"latitude":2}`))

			val, err := b.Get(ctx, KeyLastLocation)
			require.NoError(t, err)
			assert.Equal(t, `{"latitude":2}`, val)

			require.NoError(t, b.Delete(ctx, KeyLastLocation))
			_, err = b.Get(ctx, KeyLastLocation)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestBackend_QueueFIFO(t *testing.T) {
	for name, factory := range backendFactories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b := factory(t)
			base := time.UnixMilli(1_700_000_000_000)

			for i, id := range []string{"a", "b", "c", "d"} {
				require.NoError(t, b.AppendQueue(ctx, queueEntry(id, base.Add(time.Duration(i)*time.Second))))
			}

			n, err := b.QueueLen(ctx)
			require.NoError(t, err)
			assert.Equal(t, 4, n)

			require.NoError(t, b.RemoveQueue(ctx, "b", "d", "missing"))

			entries, err := b.ListQueue(ctx)
			require.NoError(t, err)
			require.Len(t, entries, 2)
			assert.Equal(t, "a", entries[0].ID)
			assert.Equal(t, "c", entries[1].ID)
			assert.Equal(t, models.EventFallDetected, entries[1].EventType)
			assert.Equal(t, `{"user_id":1,"id":"c"}`, string(entries[1].Payload))
			assert.Equal(t, base.Add(2*time.Second).UnixMilli(), entries[1].EnqueuedAt.UnixMilli())
		})
	}
}

func TestBackend_EmptyQueue(t *testing.T) {
	for name, factory := range backendFactories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b := factory(t)

			entries, err := b.ListQueue(ctx)
			require.NoError(t, err)
			assert.Empty(t, entries)

			n, err := b.QueueLen(ctx)
			require.NoError(t, err)
			assert.Zero(t, n)

			require.NoError(t, b.RemoveQueue(ctx))
		})
	}
}

func TestBackend_JournalOrderAndLimit(t *testing.T) {
	for name, factory := range backendFactories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b := factory(t)
			base := time.UnixMilli(1_700_000_000_000)

			outcomes := []models.DeliveryOutcome{models.OutcomeQueued, models.OutcomeFlushed, models.OutcomeDelivered}
			for i, o := range outcomes {
				require.NoError(t, b.AppendJournal(ctx, models.JournalEntry{
					ID:         fmt.Sprintf("j%d", i),
					EventType:  models.EventInactivityAlert,
					Outcome:    o,
					StatusCode: 200,
					RecordedAt: base.Add(time.Duration(i) * time.Minute),
				}))
			}

			all, err := b.ListJournal(ctx, 0)
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, "j0", all[0].ID)
			assert.Equal(t, models.OutcomeDelivered, all[2].Outcome)

			last, err := b.ListJournal(ctx, 2)
			require.NoError(t, err)
			require.Len(t, last, 2)
			assert.Equal(t, "j1", last[0].ID)
			assert.Equal(t, "j2", last[1].ID)
			assert.Equal(t, base.Add(2*time.Minute).UnixMilli(), last[1].RecordedAt.UnixMilli())
		})
	}
}

func TestMemoryBackend_JournalCap(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	b.journalCap = 3

	for i := 0; i < 5; i++ {
		require.NoError(t, b.AppendJournal(ctx, models.JournalEntry{ID: fmt.Sprintf("j%d", i)}))
	}

	entries, err := b.ListJournal(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "j2", entries[0].ID)
	assert.Equal(t, "j4", entries[2].ID)
}

func TestRedisBackend_JournalCap(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b := NewRedisBackend(client, "", zap.NewNop())
	b.journalCap = 2

	for i := 0; i < 4; i++ {
		require.NoError(t, b.AppendJournal(ctx, models.JournalEntry{ID: fmt.Sprintf("j%d", i)}))
	}

	items, err := mr.List("linkuy:journal")
	require.NoError(t, err)
	assert.Len(t, items, 2)

	entries, err := b.ListJournal(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "j2", entries[0].ID)
	assert.Equal(t, "j3", entries[1].ID)
}

func TestSQLiteBackend_MigrateIsIdempotent(t *testing.T) {
	cfg := &config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "guardian.db"),
	}
	db, err := database.Open(cfg)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, Migrate(db, DialectSQLite, zap.NewNop()))
	require.NoError(t, Migrate(db, DialectSQLite, zap.NewNop()))

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM delivery_journal`).Scan(&n))
	assert.Zero(t, n)
}

func TestMigrate_UnknownDialect(t *testing.T) {
	err := Migrate(nil, Dialect("oracle"), zap.NewNop())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported dialect")
}
