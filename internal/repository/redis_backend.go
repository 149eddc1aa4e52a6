package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	commonredis "github.com/nicolasmoreira/linkuy-connect-app/common/redis"
	"github.com/nicolasmoreira/linkuy-connect-app/internal/models"
	"go.uber.org/zap"
)

// RedisBackend 基于 Redis 的后端
//
// 键格式：
//   - {prefix}:kv:{key}      KV 槽位（String）
//   - {prefix}:offlineQueue  离线队列（Stream，按写入顺序）
//   - {prefix}:journal       投递日志（List，LPUSH + LTRIM）
type RedisBackend struct {
	client     *redis.Client
	prefix     string
	journalCap int
	logger     *zap.Logger
}

// NewRedisBackend 创建 Redis 后端
func NewRedisBackend(client *redis.Client, prefix string, logger *zap.Logger) *RedisBackend {
	if prefix == "" {
		prefix = "linkuy"
	}
	return &RedisBackend{
		client:     client,
		prefix:     prefix,
		journalCap: DefaultJournalCap,
		logger:     logger,
	}
}

func (b *RedisBackend) kvKey(key string) string {
	return fmt.Sprintf("%s:kv:%s", b.prefix, key)
}

func (b *RedisBackend) queueKey() string {
	return fmt.Sprintf("%s:%s", b.prefix, KeyOfflineQueue)
}

func (b *RedisBackend) journalKey() string {
	return fmt.Sprintf("%s:journal", b.prefix)
}

func (b *RedisBackend) Get(ctx context.Context, key string) (string, error) {
	val, err := b.client.Get(ctx, b.kvKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get %s: %w", key, err)
	}
	return val, nil
}

func (b *RedisBackend) Set(ctx context.Context, key string, value string) error {
	if err := b.client.Set(ctx, b.kvKey(key), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	if err := b.client.Del(ctx, b.kvKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (b *RedisBackend) AppendQueue(ctx context.Context, entry models.QueueEntry) error {
	values := map[string]string{
		"id":          entry.ID,
		"event_type":  string(entry.EventType),
		"payload":     string(entry.Payload),
		"enqueued_at": strconv.FormatInt(entry.EnqueuedAt.UnixMilli(), 10),
	}
	_, err := commonredis.AppendToStream(ctx, b.client, b.queueKey(), values, 0)
	return err
}

func (b *RedisBackend) readQueue(ctx context.Context) ([]commonredis.StreamMessage, error) {
	return commonredis.ReadStream(ctx, b.client, b.queueKey())
}

func (b *RedisBackend) ListQueue(ctx context.Context) ([]models.QueueEntry, error) {
	msgs, err := b.readQueue(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]models.QueueEntry, 0, len(msgs))
	for _, msg := range msgs {
		ms, err := strconv.ParseInt(msg.Values["enqueued_at"], 10, 64)
		if err != nil {
			b.logger.Warn("Invalid enqueued_at in offline queue",
				zap.String("stream_id", msg.ID),
				zap.Error(err),
			)
		}
		entries = append(entries, models.QueueEntry{
			ID:         msg.Values["id"],
			EventType:  models.EventType(msg.Values["event_type"]),
			Payload:    []byte(msg.Values["payload"]),
			EnqueuedAt: time.UnixMilli(ms),
		})
	}
	return entries, nil
}

func (b *RedisBackend) RemoveQueue(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	msgs, err := b.readQueue(ctx)
	if err != nil {
		return err
	}

	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	streamIDs := make([]string, 0, len(ids))
	for _, msg := range msgs {
		if _, ok := drop[msg.Values["id"]]; ok {
			streamIDs = append(streamIDs, msg.ID)
		}
	}
	return commonredis.DeleteFromStream(ctx, b.client, b.queueKey(), streamIDs...)
}

func (b *RedisBackend) QueueLen(ctx context.Context) (int, error) {
	n, err := commonredis.StreamLen(ctx, b.client, b.queueKey())
	return int(n), err
}

func (b *RedisBackend) AppendJournal(ctx context.Context, entry models.JournalEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal journal entry: %w", err)
	}

	pipe := b.client.TxPipeline()
	pipe.LPush(ctx, b.journalKey(), data)
	pipe.LTrim(ctx, b.journalKey(), 0, int64(b.journalCap-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append journal: %w", err)
	}
	return nil
}

func (b *RedisBackend) ListJournal(ctx context.Context, limit int) ([]models.JournalEntry, error) {
	if limit <= 0 {
		limit = b.journalCap
	}
	items, err := b.client.LRange(ctx, b.journalKey(), 0, int64(limit-1)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}

	// 列表头部是最新的，倒序解析为时间正序
	entries := make([]models.JournalEntry, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		var e models.JournalEntry
		if err := json.Unmarshal([]byte(items[i]), &e); err != nil {
			b.logger.Warn("Skipping malformed journal entry", zap.Error(err))
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Close 关闭 Redis 连接
func (b *RedisBackend) Close() error {
	return commonredis.Close(b.client)
}
