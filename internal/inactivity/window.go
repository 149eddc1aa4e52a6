package inactivity

import (
	"fmt"
	"time"

	"github.com/nicolasmoreira/linkuy-connect-app/internal/models"
)

// SuppressionWindow 报警抑制窗口
type SuppressionWindow interface {
	IsWithinSuppressionWindow(now time.Time) bool
}

// DailyWindow 每日免打扰时段 [Start, End)，End 早于 Start 时跨越午夜
type DailyWindow struct {
	Enabled  bool
	Start    time.Duration // 自当日 0 点起的偏移
	End      time.Duration
	Location *time.Location
}

// ParseClock 解析 "HH:MM"
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// NewDailyWindow 由 "HH:MM" 起止时间创建；timezone 为空时使用本地时区
func NewDailyWindow(start, end, timezone string) (DailyWindow, error) {
	s, err := ParseClock(start)
	if err != nil {
		return DailyWindow{}, err
	}
	e, err := ParseClock(end)
	if err != nil {
		return DailyWindow{}, err
	}
	loc := time.Local
	if timezone != "" {
		if loc, err = time.LoadLocation(timezone); err != nil {
			return DailyWindow{}, fmt.Errorf("invalid timezone %q: %w", timezone, err)
		}
	}
	return DailyWindow{Enabled: true, Start: s, End: e, Location: loc}, nil
}

// WindowFromSettings 由照护方配置构建免打扰时段
func WindowFromSettings(s models.Settings) (DailyWindow, error) {
	if !s.DoNotDisturb || s.DoNotDisturbStart == nil || s.DoNotDisturbEnd == nil {
		return DailyWindow{}, nil
	}
	return NewDailyWindow(*s.DoNotDisturbStart, *s.DoNotDisturbEnd, s.Timezone)
}

// IsWithinSuppressionWindow 当前时间是否处于免打扰时段（Start == End 视为空时段）
func (w DailyWindow) IsWithinSuppressionWindow(now time.Time) bool {
	if !w.Enabled || w.Start == w.End {
		return false
	}
	loc := w.Location
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)
	offset := time.Duration(local.Hour())*time.Hour +
		time.Duration(local.Minute())*time.Minute +
		time.Duration(local.Second())*time.Second

	if w.Start < w.End {
		return offset >= w.Start && offset < w.End
	}
	// 跨午夜，例如 22:00 - 07:00
	return offset >= w.Start || offset < w.End
}
