package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/nicolasmoreira/linkuy-connect-app/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupPostgresMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *SQLBackend) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	return db, mock, NewSQLBackend(db, DialectPostgres, zap.NewNop())
}

func TestSQLBackend_Rebind(t *testing.T) {
	pg := NewSQLBackend(nil, DialectPostgres, zap.NewNop())
	assert.Equal(t, "a = $1 AND b = $2", pg.rebind("a = ? AND b = ?"))

	lite := NewSQLBackend(nil, DialectSQLite, zap.NewNop())
	assert.Equal(t, "a = ? AND b = ?", lite.rebind("a = ? AND b = ?"))
}

func TestSQLBackend_Postgres_Get(t *testing.T) {
	db, mock, b := setupPostgresMock(t)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT value FROM kv_state WHERE key = $1`)).
		WithArgs(KeyLastMovement).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("1700000000000"))

	val, err := b.Get(context.Background(), KeyLastMovement)
	require.NoError(t, err)
	assert.Equal(t, "1700000000000", val)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLBackend_Postgres_GetNotFound(t *testing.T) {
	db, mock, b := setupPostgresMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT value FROM kv_state`).
		WithArgs(KeyLastFall).
		WillReturnError(sql.ErrNoRows)

	_, err := b.Get(context.Background(), KeyLastFall)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLBackend_Postgres_SetUpserts(t *testing.T) {
	db, mock, b := setupPostgresMock(t)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(`ON CONFLICT (key) DO UPDATE`)).
		WithArgs(KeyLastLocation, `{"latitude":1}`, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, b.Set(context.Background(), KeyLastLocation, `{"latitude":1}`))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLBackend_Postgres_AppendQueue(t *testing.T) {
	db, mock, b := setupPostgresMock(t)
	defer db.Close()

	at := time.UnixMilli(1_700_000_000_000)
	entry := models.QueueEntry{
		ID:         "q-1",
		EventType:  models.EventLocationUpdate,
		Payload:    []byte(`{"user_id":7}`),
		EnqueuedAt: at,
	}

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO offline_queue (id, event_type, payload, enqueued_at) VALUES ($1, $2, $3, $4)`)).
		WithArgs("q-1", "LOCATION_UPDATE", []byte(`{"user_id":7}`), at.UnixMilli()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, b.AppendQueue(context.Background(), entry))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLBackend_Postgres_ListQueue(t *testing.T) {
	db, mock, b := setupPostgresMock(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "event_type", "payload", "enqueued_at"}).
		AddRow("q-1", "FALL_DETECTED", []byte(`{"a":1}`), int64(1000)).
		AddRow("q-2", "INACTIVITY_ALERT", []byte(`{"b":2}`), int64(2000))
	mock.ExpectQuery(`SELECT id, event_type, payload, enqueued_at FROM offline_queue ORDER BY seq ASC`).
		WillReturnRows(rows)

	entries, err := b.ListQueue(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "q-1", entries[0].ID)
	assert.Equal(t, models.EventInactivityAlert, entries[1].EventType)
	assert.Equal(t, int64(2000), entries[1].EnqueuedAt.UnixMilli())

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLBackend_Postgres_RemoveQueueInTransaction(t *testing.T) {
	db, mock, b := setupPostgresMock(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM offline_queue WHERE id = $1`)).
		WithArgs("q-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM offline_queue WHERE id = $1`)).
		WithArgs("q-3").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, b.RemoveQueue(context.Background(), "q-1", "q-3"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLBackend_Postgres_RemoveQueueRollsBack(t *testing.T) {
	db, mock, b := setupPostgresMock(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM offline_queue`).
		WithArgs("q-1").WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := b.RemoveQueue(context.Background(), "q-1")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLBackend_Postgres_AppendJournalTrims(t *testing.T) {
	db, mock, b := setupPostgresMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO delivery_journal`).
		WithArgs("j-1", "FALL_DETECTED", "delivered", 201, "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM delivery_journal WHERE seq <= (SELECT MAX(seq) FROM delivery_journal) - $1`)).
		WithArgs(DefaultJournalCap).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := b.AppendJournal(context.Background(), models.JournalEntry{
		ID:         "j-1",
		EventType:  models.EventFallDetected,
		Outcome:    models.OutcomeDelivered,
		StatusCode: 201,
		RecordedAt: time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLBackend_Postgres_QueueLenError(t *testing.T) {
	db, mock, b := setupPostgresMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT`).WillReturnError(errors.New("db down"))

	_, err := b.QueueLen(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to count offline_queue")

	require.NoError(t, mock.ExpectationsWereMet())
}
