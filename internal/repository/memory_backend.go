package repository

import (
	"context"
	"sync"

	"github.com/nicolasmoreira/linkuy-connect-app/internal/models"
)

// MemoryBackend 内存后端（进程退出即丢失，用于测试与 STORE_DRIVER=memory）
type MemoryBackend struct {
	mu         sync.Mutex
	kv         map[string]string
	queue      []models.QueueEntry
	journal    []models.JournalEntry
	journalCap int
}

// NewMemoryBackend 创建内存后端
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		kv:         make(map[string]string),
		journalCap: DefaultJournalCap,
	}
}

func (m *MemoryBackend) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.kv[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MemoryBackend) Set(ctx context.Context, key string, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kv[key] = value
	return nil
}

func (m *MemoryBackend) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.kv, key)
	return nil
}

func (m *MemoryBackend) AppendQueue(ctx context.Context, entry models.QueueEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.Payload = append([]byte(nil), entry.Payload...)
	m.queue = append(m.queue, entry)
	return nil
}

func (m *MemoryBackend) ListQueue(ctx context.Context) ([]models.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.QueueEntry, len(m.queue))
	copy(out, m.queue)
	return out, nil
}

func (m *MemoryBackend) RemoveQueue(ctx context.Context, ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	kept := m.queue[:0]
	for _, e := range m.queue {
		if _, ok := drop[e.ID]; !ok {
			kept = append(kept, e)
		}
	}
	m.queue = kept
	return nil
}

func (m *MemoryBackend) QueueLen(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue), nil
}

func (m *MemoryBackend) AppendJournal(ctx context.Context, entry models.JournalEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.journal = append(m.journal, entry)
	if over := len(m.journal) - m.journalCap; over > 0 {
		m.journal = append([]models.JournalEntry(nil), m.journal[over:]...)
	}
	return nil
}

func (m *MemoryBackend) ListJournal(ctx context.Context, limit int) ([]models.JournalEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	start := 0
	if limit > 0 && len(m.journal) > limit {
		start = len(m.journal) - limit
	}
	out := make([]models.JournalEntry, len(m.journal)-start)
	copy(out, m.journal[start:])
	return out, nil
}

func (m *MemoryBackend) Close() error { return nil }
