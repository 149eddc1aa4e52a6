package inactivity

import (
	"context"
	"sync"
	"time"

	"github.com/nicolasmoreira/linkuy-connect-app/internal/models"
	"github.com/nicolasmoreira/linkuy-connect-app/internal/repository"
	"go.uber.org/zap"
)

// DefaultThreshold 默认无活动阈值
const DefaultThreshold = 300 * time.Second

// defaultPersistEvery lastMovementTime 的最小写入间隔
const defaultPersistEvery = 15 * time.Second

// Submitter 事件投递
type Submitter interface {
	Submit(ctx context.Context, ev models.ActivityEvent) (models.DeliveryStatus, error)
}

// Outcome 单次检查结果
type Outcome string

const (
	OutcomeActive         Outcome = "active"          // 未超过阈值
	OutcomeAlreadyAlerted Outcome = "already_alerted" // 本轮静止已报警
	OutcomeSuppressed     Outcome = "suppressed"      // 免打扰时段，未发送
	OutcomeAlerted        Outcome = "alerted"
	OutcomeNoBaseline     Outcome = "no_baseline" // 尚无活动记录
)

// Config 无活动监测配置
type Config struct {
	Threshold    time.Duration
	PersistEvery time.Duration
}

// Monitor 无活动监测：记录最近活动时间，周期检查并在超过阈值时发送 INACTIVITY_ALERT
//
// 每轮静止只报警一次，下一次活动后重新计算；免打扰时段内只记录日志，不消耗本轮。
type Monitor struct {
	store     *repository.StateStore
	user      *models.UserContext
	submitter Submitter
	logger    *zap.Logger

	mu            sync.Mutex
	threshold     time.Duration
	persistEvery  time.Duration
	window        SuppressionWindow
	lastMovement  time.Time
	lastPersisted time.Time
	alerted       time.Time // 已报警周期的起点（即当时的 lastMovement）
}

// NewMonitor 创建无活动监测
func NewMonitor(
	cfg Config,
	store *repository.StateStore,
	user *models.UserContext,
	submitter Submitter,
	logger *zap.Logger,
) *Monitor {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.PersistEvery <= 0 {
		cfg.PersistEvery = defaultPersistEvery
	}
	return &Monitor{
		store:        store,
		user:         user,
		submitter:    submitter,
		logger:       logger,
		threshold:    cfg.Threshold,
		persistEvery: cfg.PersistEvery,
		window:       DailyWindow{},
	}
}

// Restore 从持久化状态恢复；无记录时以 now 作为起点
func (m *Monitor) Restore(ctx context.Context, now time.Time) error {
	last, ok, err := m.store.LastMovement(ctx)
	if err != nil {
		return err
	}
	alerted, alertedOK, err := m.store.InactivityAlerted(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if ok {
		m.lastMovement = last
		m.lastPersisted = last
	} else {
		m.lastMovement = now
		m.lastPersisted = now
	}
	if alertedOK {
		m.alerted = alerted
		// 活动时间按节流持久化，可能早于已报警的那一轮起点
		if alerted.After(m.lastMovement) {
			m.lastMovement = alerted
			m.lastPersisted = alerted
		}
	}
	if !ok {
		return m.store.SaveLastMovement(ctx, now)
	}
	return nil
}

// SetThreshold 更新阈值
func (m *Monitor) SetThreshold(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threshold = d
}

// SetSuppressionWindow 更新免打扰时段
func (m *Monitor) SetSuppressionWindow(w SuppressionWindow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.window = w
}

// ApplySettings 应用照护方配置
func (m *Monitor) ApplySettings(s models.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	w, err := WindowFromSettings(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threshold = s.InactivityThreshold()
	m.window = w
	m.logger.Info("Inactivity settings updated",
		zap.Duration("threshold", m.threshold),
		zap.Bool("do_not_disturb", w.Enabled),
	)
	return nil
}

// Threshold 当前阈值
func (m *Monitor) Threshold() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.threshold
}

// LastMovement 最近活动时间
func (m *Monitor) LastMovement() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastMovement
}

// RecordMovement 记录一次活动；持久化按 PersistEvery 节流
func (m *Monitor) RecordMovement(ctx context.Context, at time.Time) {
	m.mu.Lock()
	if !at.After(m.lastMovement) {
		m.mu.Unlock()
		return
	}
	m.lastMovement = at
	resetEpisode := !m.alerted.IsZero()
	m.alerted = time.Time{}
	persist := at.Sub(m.lastPersisted) >= m.persistEvery
	if persist {
		m.lastPersisted = at
	}
	m.mu.Unlock()

	if resetEpisode {
		if err := m.store.ClearInactivityAlerted(ctx); err != nil {
			m.logger.Error("Failed to clear inactivity episode", zap.Error(err))
		}
	}
	if persist {
		if err := m.store.SaveLastMovement(ctx, at); err != nil {
			m.logger.Error("Failed to persist last movement", zap.Error(err))
		}
	}
}

// Check 周期检查；投递失败只记录日志
func (m *Monitor) Check(ctx context.Context, now time.Time) Outcome {
	m.mu.Lock()
	last := m.lastMovement
	threshold := m.threshold
	window := m.window
	alerted := m.alerted
	m.mu.Unlock()

	if last.IsZero() {
		return OutcomeNoBaseline
	}
	idle := now.Sub(last)
	if idle <= threshold {
		return OutcomeActive
	}
	if alerted.Equal(last) {
		return OutcomeAlreadyAlerted
	}

	if window != nil && window.IsWithinSuppressionWindow(now) {
		m.logger.Info("Inactivity detected during do-not-disturb window, alert suppressed",
			zap.Duration("inactive", idle),
			zap.Time("last_movement", last),
		)
		return OutcomeSuppressed
	}

	m.logger.Warn("Inactivity threshold exceeded",
		zap.Duration("inactive", idle),
		zap.Duration("threshold", threshold),
	)

	// 先记录本轮已报警，避免重启后重复发送
	m.mu.Lock()
	if !m.lastMovement.Equal(last) {
		// 检查期间有新的活动
		m.mu.Unlock()
		return OutcomeActive
	}
	m.alerted = last
	persistLast := !m.lastPersisted.Equal(last)
	m.lastPersisted = last
	m.mu.Unlock()
	// 本轮起点与报警标记一起落盘，重启后两者一致
	if persistLast {
		if err := m.store.SaveLastMovement(ctx, last); err != nil {
			m.logger.Error("Failed to persist last movement", zap.Error(err))
		}
	}
	if err := m.store.SaveInactivityAlerted(ctx, last); err != nil {
		m.logger.Error("Failed to persist inactivity episode", zap.Error(err))
	}

	loc, ok := m.store.LastKnownLocation(ctx)
	if !ok {
		m.logger.Warn("No location data available for inactivity alert, using {0,0,0}")
	}
	userID, _ := m.user.UserID()
	ev := models.NewInactivityAlert(userID, loc, int(idle/time.Second), now)
	if _, err := m.submitter.Submit(ctx, ev); err != nil {
		m.logger.Error("Failed to dispatch inactivity alert", zap.Error(err))
	}
	return OutcomeAlerted
}
