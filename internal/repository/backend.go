package repository

import (
	"context"
	"errors"

	"github.com/nicolasmoreira/linkuy-connect-app/internal/models"
)

// ErrNotFound 表示键不存在
var ErrNotFound = errors.New("key not found")

// 持久化状态的逻辑键
const (
	KeyLastLocation      = "lastLocationData"
	KeyLastSensor        = "lastSensorData"
	KeyLastMovement      = "lastMovementTime"
	KeyLastFall          = "lastFallDetection"
	KeyInactivityAlerted = "lastInactivityAlert"
	KeyRegistration      = "backgroundRegistration"
	KeyOfflineQueue      = "offlineQueue"
)

// Backend 持久化后端（KV 槽位 + 离线队列 + 投递日志）
//
// 实现：MemoryBackend（测试/临时运行）、SQLBackend（sqlite/postgres）、RedisBackend。
type Backend interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error

	// AppendQueue 追加到队尾
	AppendQueue(ctx context.Context, entry models.QueueEntry) error
	// ListQueue 按入队顺序返回全部条目
	ListQueue(ctx context.Context) ([]models.QueueEntry, error)
	RemoveQueue(ctx context.Context, ids ...string) error
	QueueLen(ctx context.Context) (int, error)

	AppendJournal(ctx context.Context, entry models.JournalEntry) error
	// ListJournal 返回最近 limit 条，按时间正序
	ListJournal(ctx context.Context, limit int) ([]models.JournalEntry, error)

	Close() error
}
