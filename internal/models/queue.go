package models

import "time"

// QueueEntry 离线队列条目（offlineQueue）
type QueueEntry struct {
	ID         string    `json:"id"`
	EventType  EventType `json:"event_type"`
	Payload    []byte    `json:"payload"` // 序列化后的请求体，重放时原样发送
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// DeliveryOutcome 投递结果（用于投递日志）
type DeliveryOutcome string

const (
	OutcomeDelivered DeliveryOutcome = "delivered"
	OutcomeQueued    DeliveryOutcome = "queued"
	OutcomeFailed    DeliveryOutcome = "failed"
	OutcomeInvalid   DeliveryOutcome = "invalid"
	OutcomeFlushed   DeliveryOutcome = "flushed"
	OutcomeExpired   DeliveryOutcome = "expired"
	OutcomeEvicted   DeliveryOutcome = "evicted"
)

// JournalEntry 投递日志条目
type JournalEntry struct {
	ID         string          `json:"id"`
	EventType  EventType       `json:"event_type"`
	Outcome    DeliveryOutcome `json:"outcome"`
	StatusCode int             `json:"status_code,omitempty"`
	Detail     string          `json:"detail,omitempty"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// DeliveryStatus Submit 的结果
type DeliveryStatus string

const (
	// StatusDelivered 端点已返回 2xx
	StatusDelivered DeliveryStatus = "delivered"
	// StatusQueued 已写入离线队列，待网络恢复后补发
	StatusQueued DeliveryStatus = "queued"
)

// Accepted 已送达或已入队（对用户都算已发送）
func (s DeliveryStatus) Accepted() bool {
	return s == StatusDelivered || s == StatusQueued
}
