package detector

import (
	"context"
	"sync"
	"time"

	"github.com/nicolasmoreira/linkuy-connect-app/internal/models"
	"github.com/nicolasmoreira/linkuy-connect-app/internal/repository"
	"go.uber.org/zap"
)

// Submitter 事件投递
type Submitter interface {
	Submit(ctx context.Context, ev models.ActivityEvent) (models.DeliveryStatus, error)
}

// Confirmer 向 UI 协作方展示跌倒确认
type Confirmer interface {
	ConfirmFall(ctx context.Context, ev models.ActivityEvent, status models.DeliveryStatus, err error)
}

// Config 跌倒检测配置
type Config struct {
	SampleInterval     time.Duration
	WindowSize         int
	Thresholds         Thresholds
	PostFallInactivity time.Duration // 上报为 inactive_duration_sec
}

// FallDetector 跌倒检测器：滑动窗口 + 状态机，确认后异步投递 FALL_DETECTED
type FallDetector struct {
	config    Config
	store     *repository.StateStore
	user      *models.UserContext
	submitter Submitter
	confirmer Confirmer
	logger    *zap.Logger

	mu      sync.Mutex
	window  *Window
	machine *FallStateMachine

	inflight sync.WaitGroup
}

// NewFallDetector 创建跌倒检测器
func NewFallDetector(
	cfg Config,
	store *repository.StateStore,
	user *models.UserContext,
	submitter Submitter,
	confirmer Confirmer,
	logger *zap.Logger,
) *FallDetector {
	return &FallDetector{
		config:    cfg,
		store:     store,
		user:      user,
		submitter: submitter,
		confirmer: confirmer,
		logger:    logger,
		window:    NewWindow(cfg.SampleInterval, cfg.WindowSize),
		machine:   NewFallStateMachine(cfg.Thresholds),
	}
}

// Restore 从 lastFallDetection 恢复冷却期
func (d *FallDetector) Restore(ctx context.Context, now time.Time) {
	rec, err := d.store.LastFall(ctx)
	if err != nil {
		d.logger.Warn("Failed to read last fall", zap.Error(err))
		return
	}
	if rec == nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.machine.Restore(rec.DetectedAt, now)
	d.logger.Info("Restored fall cooldown",
		zap.Time("last_fall", rec.DetectedAt),
		zap.String("state", d.machine.State().String()),
	)
}

// State 当前状态机状态
func (d *FallDetector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.machine.State()
}

// Process 处理一个采样；确认跌倒时返回 true（投递在后台进行）
func (d *FallDetector) Process(ctx context.Context, sample models.SensorSample) bool {
	d.mu.Lock()
	d.window.Add(sample)
	if !d.window.Ready() {
		d.mu.Unlock()
		return false
	}
	magnitude := d.window.Magnitude()
	confirmed := d.machine.Observe(magnitude, sample.Timestamp)
	d.mu.Unlock()

	if !confirmed {
		return false
	}

	d.logger.Warn("Fall detected",
		zap.Float64("magnitude", magnitude),
		zap.Time("at", sample.Timestamp),
	)

	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		d.handleFall(context.WithoutCancel(ctx), magnitude, sample.Timestamp)
	}()
	return true
}

// handleFall 构建并投递跌倒事件；任何失败只记录日志，不影响状态机
func (d *FallDetector) handleFall(ctx context.Context, magnitude float64, at time.Time) {
	// 1. 读取最近位置
	loc, ok := d.store.LastKnownLocation(ctx)
	if !ok {
		d.logger.Warn("No location data available for fall, using {0,0,0}")
	}

	// 2. 记录 lastFallDetection
	rec := models.FallRecord{
		DetectedAt: at,
		Intensity:  magnitude,
		Location: models.LocationFix{
			Latitude:  loc.Latitude,
			Longitude: loc.Longitude,
			Accuracy:  loc.Accuracy,
			Timestamp: at,
		},
	}
	if err := d.store.SaveLastFall(ctx, rec); err != nil {
		d.logger.Error("Failed to persist last fall", zap.Error(err))
	}

	// 3. 先展示确认，投递可能因重试阻塞数十秒
	userID, _ := d.user.UserID()
	ev := models.NewFallDetected(userID, loc, magnitude, int(d.config.PostFallInactivity/time.Second), at)
	if d.confirmer != nil {
		d.confirmer.ConfirmFall(ctx, ev, models.StatusQueued, nil)
	}

	// 4. 投递；事件未能进入投递流程时再补一条失败提示
	status, err := d.submitter.Submit(ctx, ev)
	if err != nil {
		d.logger.Error("Failed to dispatch fall event", zap.String("status", string(status)), zap.Error(err))
	}
	if d.confirmer != nil && !status.Accepted() {
		d.confirmer.ConfirmFall(ctx, ev, status, err)
	}
}

// Reset 清空窗口与候选状态（停止采样时调用）
func (d *FallDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.window.Reset()
	d.machine.Reset()
}

// Wait 等待进行中的投递完成
func (d *FallDetector) Wait() {
	d.inflight.Wait()
}
