package models

import (
	"fmt"
	"time"
)

// Settings 照护方配置（设置协作方下发）
type Settings struct {
	InactivityThresholdMin int     `json:"inactivity_threshold"` // 分钟
	DoNotDisturb           bool    `json:"do_not_disturb"`
	DoNotDisturbStart      *string `json:"do_not_disturb_start_time"` // "22:00"
	DoNotDisturbEnd        *string `json:"do_not_disturb_end_time"`   // "07:00"
	Timezone               string  `json:"timezone,omitempty"`        // "America/Montevideo"，空则使用本地时区
}

// InactivityThreshold 无活动阈值
func (s Settings) InactivityThreshold() time.Duration {
	return time.Duration(s.InactivityThresholdMin) * time.Minute
}

// Validate 校验配置
func (s Settings) Validate() error {
	if s.InactivityThresholdMin < 1 {
		return fmt.Errorf("%w: inactivity_threshold must be at least 1 minute", ErrInvalidPayload)
	}
	if s.DoNotDisturb && (s.DoNotDisturbStart == nil || s.DoNotDisturbEnd == nil) {
		return fmt.Errorf("%w: do_not_disturb requires start and end times", ErrInvalidPayload)
	}
	for _, v := range []*string{s.DoNotDisturbStart, s.DoNotDisturbEnd} {
		if v == nil {
			continue
		}
		if _, err := time.Parse("15:04", *v); err != nil {
			return fmt.Errorf("%w: invalid time %q, expected HH:MM", ErrInvalidPayload, *v)
		}
	}
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			return fmt.Errorf("%w: unknown timezone %q", ErrInvalidPayload, s.Timezone)
		}
	}
	return nil
}
