package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType 活动事件类型
type EventType string

const (
	EventLocationUpdate         EventType = "LOCATION_UPDATE"
	EventFallDetected           EventType = "FALL_DETECTED"
	EventInactivityAlert        EventType = "INACTIVITY_ALERT"
	EventEmergencyButtonPressed EventType = "EMERGENCY_BUTTON_PRESSED"
)

// Valid 是否为已知事件类型
func (t EventType) Valid() bool {
	switch t {
	case EventLocationUpdate, EventFallDetected, EventInactivityAlert, EventEmergencyButtonPressed:
		return true
	}
	return false
}

// ActivityEvent 活动事件（按 Type 区分的联合类型，创建后不可修改）
//
// 变体字段：
//   - LOCATION_UPDATE: Steps, DistanceKm
//   - FALL_DETECTED: FallIntensity, InactiveDurationSec
//   - INACTIVITY_ALERT: InactiveDurationSec
//   - EMERGENCY_BUTTON_PRESSED: 无
type ActivityEvent struct {
	UserID   int64
	Type     EventType
	Location Location

	Steps               int
	DistanceKm          float64
	FallIntensity       float64
	InactiveDurationSec int

	OccurredAt time.Time
}

// NewLocationUpdate 创建位置更新事件
func NewLocationUpdate(userID int64, loc Location, steps int, distanceKm float64, at time.Time) ActivityEvent {
	return ActivityEvent{
		UserID:     userID,
		Type:       EventLocationUpdate,
		Location:   copyLocation(loc),
		Steps:      steps,
		DistanceKm: distanceKm,
		OccurredAt: at,
	}
}

// NewFallDetected 创建跌倒事件
func NewFallDetected(userID int64, loc Location, intensity float64, inactiveDurationSec int, at time.Time) ActivityEvent {
	return ActivityEvent{
		UserID:              userID,
		Type:                EventFallDetected,
		Location:            copyLocation(loc),
		FallIntensity:       intensity,
		InactiveDurationSec: inactiveDurationSec,
		OccurredAt:          at,
	}
}

// NewInactivityAlert 创建长时间无活动报警事件
func NewInactivityAlert(userID int64, loc Location, inactiveDurationSec int, at time.Time) ActivityEvent {
	return ActivityEvent{
		UserID:              userID,
		Type:                EventInactivityAlert,
		Location:            copyLocation(loc),
		InactiveDurationSec: inactiveDurationSec,
		OccurredAt:          at,
	}
}

// NewEmergencyButtonPressed 创建紧急按钮事件
func NewEmergencyButtonPressed(userID int64, loc Location, at time.Time) ActivityEvent {
	return ActivityEvent{
		UserID:     userID,
		Type:       EventEmergencyButtonPressed,
		Location:   copyLocation(loc),
		OccurredAt: at,
	}
}

func copyLocation(loc Location) Location {
	if loc.Accuracy != nil {
		acc := *loc.Accuracy
		loc.Accuracy = &acc
	}
	return loc
}

// Validate 校验事件，失败时返回包装了 ErrInvalidPayload 的错误
func (e ActivityEvent) Validate() error {
	if !e.Type.Valid() {
		return fmt.Errorf("%w: unknown event type %q", ErrInvalidPayload, e.Type)
	}
	if e.UserID <= 0 {
		return ErrUserNotSet
	}
	if err := e.Location.Validate(); err != nil {
		return err
	}
	if e.Steps < 0 || e.DistanceKm < 0 || e.FallIntensity < 0 || e.InactiveDurationSec < 0 {
		return fmt.Errorf("%w: negative variant field", ErrInvalidPayload)
	}
	return nil
}

// wireEvent 上报接口的 JSON 结构（字段顺序即请求体顺序）
type wireEvent struct {
	UserID              int64     `json:"user_id"`
	Type                EventType `json:"type"`
	Location            Location  `json:"location"`
	Steps               *int      `json:"steps,omitempty"`
	DistanceKm          *float64  `json:"distance_km,omitempty"`
	FallIntensity       *float64  `json:"fall_intensity,omitempty"`
	InactiveDurationSec *int      `json:"inactive_duration_sec,omitempty"`
}

// MarshalJSON 只输出当前变体的字段
func (e ActivityEvent) MarshalJSON() ([]byte, error) {
	w := wireEvent{
		UserID:   e.UserID,
		Type:     e.Type,
		Location: e.Location,
	}
	switch e.Type {
	case EventLocationUpdate:
		steps, dist := e.Steps, e.DistanceKm
		w.Steps, w.DistanceKm = &steps, &dist
	case EventFallDetected:
		intensity, inactive := e.FallIntensity, e.InactiveDurationSec
		w.FallIntensity, w.InactiveDurationSec = &intensity, &inactive
	case EventInactivityAlert:
		inactive := e.InactiveDurationSec
		w.InactiveDurationSec = &inactive
	}
	return json.Marshal(w)
}

// UnmarshalJSON 解析上报格式
func (e *ActivityEvent) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*e = ActivityEvent{
		UserID:   w.UserID,
		Type:     w.Type,
		Location: w.Location,
	}
	if w.Steps != nil {
		e.Steps = *w.Steps
	}
	if w.DistanceKm != nil {
		e.DistanceKm = *w.DistanceKm
	}
	if w.FallIntensity != nil {
		e.FallIntensity = *w.FallIntensity
	}
	if w.InactiveDurationSec != nil {
		e.InactiveDurationSec = *w.InactiveDurationSec
	}
	return nil
}
