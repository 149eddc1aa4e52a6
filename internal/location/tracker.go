package location

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nicolasmoreira/linkuy-connect-app/internal/models"
	"github.com/nicolasmoreira/linkuy-connect-app/internal/repository"
	"go.uber.org/zap"
)

// 默认参数
const (
	DefaultInterval         = 60 * time.Second
	DefaultDistanceInterval = 10.0 // 米
	DefaultMovementDistance = 25.0 // 米
)

// dispatchBuffer 待投递的位置事件缓冲
const dispatchBuffer = 16

// Submitter 事件投递
type Submitter interface {
	Submit(ctx context.Context, ev models.ActivityEvent) (models.DeliveryStatus, error)
}

// StepSource 提供自上次取值以来的步数
type StepSource interface {
	Take() int
}

// MovementRecorder 接收位移产生的活动
type MovementRecorder interface {
	RecordMovement(ctx context.Context, at time.Time)
}

// Config 定位追踪配置
type Config struct {
	Interval         time.Duration // LOCATION_UPDATE 最小间隔
	DistanceInterval float64       // 平台推送的最小位移（米）
	MovementDistance float64       // 视为活动的位移（米），<= 0 关闭
}

// Permissions 定位权限状态
type Permissions struct {
	Foreground bool `json:"foreground"`
	Background bool `json:"background"`
}

// Tracker 定位追踪：持久化每个定位结果，按间隔发送 LOCATION_UPDATE
type Tracker struct {
	config    Config
	source    Source
	store     *repository.StateStore
	user      *models.UserContext
	submitter Submitter
	steps     StepSource
	movement  MovementRecorder
	logger    *zap.Logger

	mu          sync.Mutex
	running     bool
	cancel      context.CancelFunc
	done        chan struct{}
	permissions Permissions

	// 仅由消费协程访问
	lastAccepted *models.LocationFix
	movementRef  *models.LocationFix
}

// NewTracker 创建定位追踪；steps 与 movement 可为 nil
func NewTracker(
	cfg Config,
	source Source,
	store *repository.StateStore,
	user *models.UserContext,
	submitter Submitter,
	steps StepSource,
	movement MovementRecorder,
	logger *zap.Logger,
) *Tracker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.DistanceInterval <= 0 {
		cfg.DistanceInterval = DefaultDistanceInterval
	}
	return &Tracker{
		config:    cfg,
		source:    source,
		store:     store,
		user:      user,
		submitter: submitter,
		steps:     steps,
		movement:  movement,
		logger:    logger,
	}
}

// Running 是否正在追踪
func (t *Tracker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Permissions 最近一次请求得到的权限状态
func (t *Tracker) Permissions() Permissions {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.permissions
}

// Start 请求前台与后台权限后开始追踪（幂等）
func (t *Tracker) Start(ctx context.Context, accuracy Accuracy) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		t.logger.Debug("Location tracker already running")
		return nil
	}
	if !accuracy.Valid() {
		accuracy = AccuracyBalanced
	}

	// 1. 前台权限
	fg, err := t.source.RequestForegroundPermission(ctx)
	if err != nil {
		return fmt.Errorf("failed to request foreground location permission: %w", err)
	}
	t.permissions.Foreground = fg
	if !fg {
		t.permissions.Background = false
		return fmt.Errorf("foreground location: %w", models.ErrPermissionDenied)
	}

	// 2. 后台权限
	bg, err := t.source.RequestBackgroundPermission(ctx)
	if err != nil {
		return fmt.Errorf("failed to request background location permission: %w", err)
	}
	t.permissions.Background = bg
	if !bg {
		return models.ErrBackgroundPermissionDenied
	}

	// 3. 订阅
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	fixes, err := t.source.Subscribe(runCtx, Options{
		Accuracy:       accuracy,
		Interval:       t.config.Interval,
		DistanceMeters: t.config.DistanceInterval,
	})
	if err != nil {
		cancel()
		return fmt.Errorf("failed to subscribe to location updates: %w", err)
	}

	t.cancel = cancel
	t.done = make(chan struct{})
	t.running = true

	events := make(chan models.ActivityEvent, dispatchBuffer)
	dispatchDone := make(chan struct{})
	go t.dispatchLoop(runCtx, events, dispatchDone)
	go t.consume(runCtx, fixes, events, dispatchDone, t.done)

	t.logger.Info("Location tracking started",
		zap.String("accuracy", string(accuracy)),
		zap.Duration("interval", t.config.Interval),
	)
	return nil
}

func (t *Tracker) consume(
	ctx context.Context,
	fixes <-chan models.LocationFix,
	events chan<- models.ActivityEvent,
	dispatchDone <-chan struct{},
	done chan<- struct{},
) {
	defer func() {
		close(events)
		<-dispatchDone
		close(done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case fix, ok := <-fixes:
			if !ok {
				t.logger.Warn("Location stream closed")
				t.mu.Lock()
				if t.done == done {
					t.running = false
					t.cancel()
				}
				t.mu.Unlock()
				return
			}
			if ev, ok := t.handleFix(ctx, fix); ok {
				select {
				case events <- ev:
				default:
					t.logger.Warn("Location dispatch backlog full, dropping update")
				}
			}
		}
	}
}

// handleFix 持久化定位并判断是否生成 LOCATION_UPDATE
func (t *Tracker) handleFix(ctx context.Context, fix models.LocationFix) (models.ActivityEvent, bool) {
	if err := fix.ToLocation().Validate(); err != nil {
		t.logger.Warn("Discarding invalid location fix", zap.Error(err))
		return models.ActivityEvent{}, false
	}

	// 1. 覆盖写入 lastLocationData
	if err := t.store.SaveLastLocation(context.WithoutCancel(ctx), fix); err != nil {
		t.logger.Error("Failed to persist location", zap.Error(err))
	}

	// 2. 位移视为活动
	if t.movementRef == nil {
		ref := fix
		t.movementRef = &ref
	} else if t.config.MovementDistance > 0 && DistanceMeters(*t.movementRef, fix) >= t.config.MovementDistance {
		ref := fix
		t.movementRef = &ref
		if t.movement != nil {
			t.movement.RecordMovement(ctx, fix.Timestamp)
		}
	}

	// 3. 间隔门限
	if t.lastAccepted != nil && fix.Timestamp.Sub(t.lastAccepted.Timestamp) < t.config.Interval {
		return models.ActivityEvent{}, false
	}

	distanceKm := 0.0
	if t.lastAccepted != nil {
		distanceKm = DistanceMeters(*t.lastAccepted, fix) / 1000
	}
	steps := 0
	if t.steps != nil {
		steps = t.steps.Take()
	}
	accepted := fix
	t.lastAccepted = &accepted

	userID, _ := t.user.UserID()
	return models.NewLocationUpdate(userID, fix.ToLocation(), steps, distanceKm, fix.Timestamp), true
}

// dispatchLoop 按到达顺序逐个投递
func (t *Tracker) dispatchLoop(ctx context.Context, events <-chan models.ActivityEvent, done chan<- struct{}) {
	defer close(done)
	ctx = context.WithoutCancel(ctx)
	for ev := range events {
		if _, err := t.submitter.Submit(ctx, ev); err != nil {
			t.logger.Error("Failed to dispatch location update", zap.Error(err))
		}
	}
}

// Stop 停止追踪（幂等），等待进行中的投递完成
func (t *Tracker) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	cancel, done := t.cancel, t.done
	t.mu.Unlock()

	cancel()
	<-done
	t.logger.Info("Location tracking stopped")
}
