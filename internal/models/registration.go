package models

import "time"

// BackgroundRegistration 后台任务注册记录（backgroundRegistration）
type BackgroundRegistration struct {
	TaskName     string        `json:"task_name"`
	Interval     time.Duration `json:"interval"`
	RegisteredAt time.Time     `json:"registered_at"`
}
