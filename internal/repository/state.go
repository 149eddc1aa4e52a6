package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nicolasmoreira/linkuy-connect-app/internal/models"
	"go.uber.org/zap"
)

// DefaultQueueMax 离线队列默认容量
const DefaultQueueMax = 500

// StateStore 持久化状态存储（按槽位的类型化读写 + 离线队列 + 投递日志）
//
// 每个槽位单写者、多读者；读取方需容忍槽位不存在（返回零值/nil）。
type StateStore struct {
	backend  Backend
	maxQueue int
	logger   *zap.Logger

	// 串行化入队与淘汰
	queueMu sync.Mutex
}

// NewStateStore 创建状态存储，maxQueue <= 0 时使用 DefaultQueueMax
func NewStateStore(backend Backend, maxQueue int, logger *zap.Logger) *StateStore {
	if maxQueue <= 0 {
		maxQueue = DefaultQueueMax
	}
	return &StateStore{
		backend:  backend,
		maxQueue: maxQueue,
		logger:   logger,
	}
}

func (s *StateStore) setJSON(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return s.backend.Set(ctx, key, string(data))
}

// getJSON 读取槽位；不存在或内容损坏时返回 false
func (s *StateStore) getJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	val, err := s.backend.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		s.logger.Warn("Ignoring corrupted state slot",
			zap.String("key", key),
			zap.Error(err),
		)
		return false, nil
	}
	return true, nil
}

// SaveLastLocation 覆盖最近一次定位
func (s *StateStore) SaveLastLocation(ctx context.Context, fix models.LocationFix) error {
	return s.setJSON(ctx, KeyLastLocation, fix)
}

// LastLocation 最近一次定位，不存在时返回 nil
func (s *StateStore) LastLocation(ctx context.Context) (*models.LocationFix, error) {
	var fix models.LocationFix
	ok, err := s.getJSON(ctx, KeyLastLocation, &fix)
	if err != nil || !ok {
		return nil, err
	}
	return &fix, nil
}

// LastKnownLocation 事件使用的最近位置；不存在或读取失败时返回 {0,0,0} 和 false
func (s *StateStore) LastKnownLocation(ctx context.Context) (models.Location, bool) {
	fix, err := s.LastLocation(ctx)
	if err != nil {
		s.logger.Error("Failed to read last location", zap.Error(err))
		return models.UnknownLocation(), false
	}
	if fix == nil {
		return models.UnknownLocation(), false
	}
	return fix.ToLocation(), true
}

// SaveLastSample 覆盖最近一次加速度采样
func (s *StateStore) SaveLastSample(ctx context.Context, sample models.SensorSample) error {
	return s.setJSON(ctx, KeyLastSensor, sample)
}

// LastSample 最近一次采样，不存在时返回 nil
func (s *StateStore) LastSample(ctx context.Context) (*models.SensorSample, error) {
	var sample models.SensorSample
	ok, err := s.getJSON(ctx, KeyLastSensor, &sample)
	if err != nil || !ok {
		return nil, err
	}
	return &sample, nil
}

// SaveLastMovement 记录最近一次活动时间
func (s *StateStore) SaveLastMovement(ctx context.Context, at time.Time) error {
	return s.setJSON(ctx, KeyLastMovement, at.UnixMilli())
}

// LastMovement 最近一次活动时间
func (s *StateStore) LastMovement(ctx context.Context) (time.Time, bool, error) {
	var ms int64
	ok, err := s.getJSON(ctx, KeyLastMovement, &ms)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

// SaveLastFall 记录最近一次确认的跌倒
func (s *StateStore) SaveLastFall(ctx context.Context, rec models.FallRecord) error {
	return s.setJSON(ctx, KeyLastFall, rec)
}

// LastFall 最近一次跌倒，不存在时返回 nil
func (s *StateStore) LastFall(ctx context.Context) (*models.FallRecord, error) {
	var rec models.FallRecord
	ok, err := s.getJSON(ctx, KeyLastFall, &rec)
	if err != nil || !ok {
		return nil, err
	}
	return &rec, nil
}

// SaveInactivityAlerted 记录已报警的无活动周期（以周期起点即最近活动时间标识）
func (s *StateStore) SaveInactivityAlerted(ctx context.Context, episodeStart time.Time) error {
	return s.setJSON(ctx, KeyInactivityAlerted, episodeStart.UnixMilli())
}

// InactivityAlerted 已报警的无活动周期起点
func (s *StateStore) InactivityAlerted(ctx context.Context) (time.Time, bool, error) {
	var ms int64
	ok, err := s.getJSON(ctx, KeyInactivityAlerted, &ms)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

// ClearInactivityAlerted 清除已报警周期
func (s *StateStore) ClearInactivityAlerted(ctx context.Context) error {
	return s.backend.Delete(ctx, KeyInactivityAlerted)
}

// SaveRegistration 记录后台任务注册
func (s *StateStore) SaveRegistration(ctx context.Context, reg models.BackgroundRegistration) error {
	return s.setJSON(ctx, KeyRegistration, reg)
}

// Registration 后台任务注册记录，未注册时返回 nil
func (s *StateStore) Registration(ctx context.Context) (*models.BackgroundRegistration, error) {
	var reg models.BackgroundRegistration
	ok, err := s.getJSON(ctx, KeyRegistration, &reg)
	if err != nil || !ok {
		return nil, err
	}
	return &reg, nil
}

// Enqueue 追加到离线队列；超出容量时淘汰最旧条目并返回被淘汰的条目
func (s *StateStore) Enqueue(ctx context.Context, entry models.QueueEntry) ([]models.QueueEntry, error) {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()

	if err := s.backend.AppendQueue(ctx, entry); err != nil {
		return nil, err
	}

	n, err := s.backend.QueueLen(ctx)
	if err != nil {
		return nil, err
	}
	over := n - s.maxQueue
	if over <= 0 {
		return nil, nil
	}

	entries, err := s.backend.ListQueue(ctx)
	if err != nil {
		return nil, err
	}
	if over > len(entries) {
		over = len(entries)
	}
	evicted := entries[:over]
	ids := make([]string, 0, len(evicted))
	for _, e := range evicted {
		ids = append(ids, e.ID)
	}
	if err := s.backend.RemoveQueue(ctx, ids...); err != nil {
		return nil, err
	}
	s.logger.Warn("Offline queue full, evicted oldest entries",
		zap.Int("evicted", len(evicted)),
		zap.Int("max_entries", s.maxQueue),
	)
	return evicted, nil
}

// PendingEntries 按入队顺序返回离线队列
func (s *StateStore) PendingEntries(ctx context.Context) ([]models.QueueEntry, error) {
	return s.backend.ListQueue(ctx)
}

// RemoveEntries 从离线队列移除指定条目
func (s *StateStore) RemoveEntries(ctx context.Context, ids ...string) error {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	return s.backend.RemoveQueue(ctx, ids...)
}

// QueueLen 离线队列长度
func (s *StateStore) QueueLen(ctx context.Context) (int, error) {
	return s.backend.QueueLen(ctx)
}

// RecordDelivery 追加投递日志
func (s *StateStore) RecordDelivery(ctx context.Context, entry models.JournalEntry) error {
	return s.backend.AppendJournal(ctx, entry)
}

// Journal 最近 limit 条投递日志（时间正序）
func (s *StateStore) Journal(ctx context.Context, limit int) ([]models.JournalEntry, error) {
	return s.backend.ListJournal(ctx, limit)
}

// Close 关闭后端
func (s *StateStore) Close() error {
	return s.backend.Close()
}
