package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nicolasmoreira/linkuy-connect-app/common/database"
	"github.com/nicolasmoreira/linkuy-connect-app/internal/models"
	"go.uber.org/zap"
)

// Dialect SQL 方言
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// DefaultJournalCap 投递日志保留条数
const DefaultJournalCap = 1000

// SQLBackend 基于 database/sql 的后端（sqlite 设备本地 / postgres 网关）
type SQLBackend struct {
	db         *sql.DB
	dialect    Dialect
	journalCap int
	logger     *zap.Logger
}

// NewSQLBackend 创建 SQL 后端（调用方需先执行 Migrate）
func NewSQLBackend(db *sql.DB, dialect Dialect, logger *zap.Logger) *SQLBackend {
	return &SQLBackend{
		db:         db,
		dialect:    dialect,
		journalCap: DefaultJournalCap,
		logger:     logger,
	}
}

// rebind 将 ? 占位符转换为 postgres 的 $n
func (b *SQLBackend) rebind(query string) string {
	if b.dialect != DialectPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteString("$" + strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (b *SQLBackend) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := b.db.QueryRowContext(ctx, b.rebind(`SELECT value FROM kv_state WHERE key = ?`), key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to query kv_state: %w", err)
	}
	return value, nil
}

func (b *SQLBackend) Set(ctx context.Context, key string, value string) error {
	query := `
		INSERT INTO kv_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := b.db.ExecContext(ctx, b.rebind(query), key, value, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("failed to upsert kv_state %s: %w", key, err)
	}
	return nil
}

func (b *SQLBackend) Delete(ctx context.Context, key string) error {
	if _, err := b.db.ExecContext(ctx, b.rebind(`DELETE FROM kv_state WHERE key = ?`), key); err != nil {
		return fmt.Errorf("failed to delete kv_state %s: %w", key, err)
	}
	return nil
}

func (b *SQLBackend) AppendQueue(ctx context.Context, entry models.QueueEntry) error {
	query := `INSERT INTO offline_queue (id, event_type, payload, enqueued_at) VALUES (?, ?, ?, ?)`
	_, err := b.db.ExecContext(ctx, b.rebind(query),
		entry.ID, string(entry.EventType), entry.Payload, entry.EnqueuedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert offline_queue: %w", err)
	}
	return nil
}

func (b *SQLBackend) ListQueue(ctx context.Context) ([]models.QueueEntry, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT id, event_type, payload, enqueued_at FROM offline_queue ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query offline_queue: %w", err)
	}
	defer rows.Close()

	entries := []models.QueueEntry{}
	for rows.Next() {
		var (
			e          models.QueueEntry
			eventType  string
			enqueuedAt int64
		)
		if err := rows.Scan(&e.ID, &eventType, &e.Payload, &enqueuedAt); err != nil {
			return nil, fmt.Errorf("failed to scan offline_queue: %w", err)
		}
		e.EventType = models.EventType(eventType)
		e.EnqueuedAt = time.UnixMilli(enqueuedAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (b *SQLBackend) RemoveQueue(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := b.rebind(`DELETE FROM offline_queue WHERE id = ?`)
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, query, id); err != nil {
			return fmt.Errorf("failed to delete offline_queue %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit queue removal: %w", err)
	}
	return nil
}

func (b *SQLBackend) QueueLen(ctx context.Context) (int, error) {
	var n int
	if err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM offline_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count offline_queue: %w", err)
	}
	return n, nil
}

func (b *SQLBackend) AppendJournal(ctx context.Context, entry models.JournalEntry) error {
	insert := `
		INSERT INTO delivery_journal (id, event_type, outcome, status_code, detail, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := b.db.ExecContext(ctx, b.rebind(insert),
		entry.ID, string(entry.EventType), string(entry.Outcome), entry.StatusCode, entry.Detail, entry.RecordedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert delivery_journal: %w", err)
	}

	trim := `DELETE FROM delivery_journal WHERE seq <= (SELECT MAX(seq) FROM delivery_journal) - ?`
	if _, err := b.db.ExecContext(ctx, b.rebind(trim), b.journalCap); err != nil {
		// 裁剪失败不影响本次写入
		b.logger.Warn("Failed to trim delivery journal", zap.Error(err))
	}
	return nil
}

func (b *SQLBackend) ListJournal(ctx context.Context, limit int) ([]models.JournalEntry, error) {
	if limit <= 0 {
		limit = b.journalCap
	}
	query := `
		SELECT id, event_type, outcome, status_code, detail, recorded_at
		FROM delivery_journal
		ORDER BY seq DESC
		LIMIT ?
	`
	rows, err := b.db.QueryContext(ctx, b.rebind(query), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query delivery_journal: %w", err)
	}
	defer rows.Close()

	entries := []models.JournalEntry{}
	for rows.Next() {
		var (
			e                  models.JournalEntry
			eventType, outcome string
			recordedAt         int64
		)
		if err := rows.Scan(&e.ID, &eventType, &outcome, &e.StatusCode, &e.Detail, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan delivery_journal: %w", err)
		}
		e.EventType = models.EventType(eventType)
		e.Outcome = models.DeliveryOutcome(outcome)
		e.RecordedAt = time.UnixMilli(recordedAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// 倒序查询，返回时间正序
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// Close 关闭数据库连接
func (b *SQLBackend) Close() error {
	return database.Close(b.db)
}
