package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nicolasmoreira/linkuy-connect-app/internal/detector"
	"github.com/nicolasmoreira/linkuy-connect-app/internal/dispatcher"
	"github.com/nicolasmoreira/linkuy-connect-app/internal/inactivity"
	"github.com/nicolasmoreira/linkuy-connect-app/internal/location"
	"github.com/nicolasmoreira/linkuy-connect-app/internal/models"
	"github.com/nicolasmoreira/linkuy-connect-app/internal/notify"
	"github.com/nicolasmoreira/linkuy-connect-app/internal/repository"
	"github.com/nicolasmoreira/linkuy-connect-app/internal/scheduler"
	"github.com/nicolasmoreira/linkuy-connect-app/internal/sensor"
	"go.uber.org/zap"
)

// Config 守护服务配置
type Config struct {
	SampleInterval    time.Duration
	Fall              detector.Config
	MovementThreshold float64
	StepThreshold     float64

	Inactivity              inactivity.Config
	InactivityCheckInterval time.Duration
	Settings                *models.Settings // 启动时的照护方配置，可为 nil

	Location location.Config
	Accuracy location.Accuracy

	FlushInterval time.Duration
	ProbeAddr     string
	ProbeInterval time.Duration

	TaskName     string
	TaskInterval time.Duration
}

// TokenSetter 接收会话 Token（dispatcher.HTTPTransport 实现）
type TokenSetter interface {
	SetToken(token string)
}

// Deps 外部依赖
type Deps struct {
	Store        *repository.StateStore
	Sensor       sensor.Source
	Location     location.Source
	Dispatcher   *dispatcher.Dispatcher
	Connectivity *dispatcher.Connectivity
	Tokens       TokenSetter // 可为 nil
	Notifier     notify.Notifier
}

// GuardianService 组合根：拥有采样、跌倒检测、无活动监测、定位追踪与后台调度的生命周期
type GuardianService struct {
	config     Config
	store      *repository.StateStore
	dispatcher *dispatcher.Dispatcher
	conn       *dispatcher.Connectivity
	tokens     TokenSetter
	notifier   notify.Notifier
	logger     *zap.Logger

	user       *models.UserContext
	sampler    *sensor.Sampler
	detector   *detector.FallDetector
	steps      *detector.StepCounter
	classifier detector.MovementClassifier
	monitor    *inactivity.Monitor
	tracker    *location.Tracker
	scheduler  *scheduler.Scheduler

	trackMu      sync.Mutex // 串行化 Start/Stop
	tracking     atomic.Bool
	consumerStop chan struct{}
	consumerDone chan struct{}

	stateMu          sync.Mutex
	sensorPermission bool
	lastMessage      string

	now func() time.Time
}

// NewGuardianService 创建守护服务
func NewGuardianService(cfg Config, deps Deps, logger *zap.Logger) *GuardianService {
	if cfg.InactivityCheckInterval <= 0 {
		cfg.InactivityCheckInterval = time.Minute
	}
	if cfg.TaskName == "" {
		cfg.TaskName = scheduler.DefaultTaskName
	}
	if cfg.TaskInterval <= 0 {
		cfg.TaskInterval = time.Minute
	}
	if cfg.Fall.SampleInterval <= 0 {
		cfg.Fall.SampleInterval = cfg.SampleInterval
	}

	s := &GuardianService{
		config:     cfg,
		store:      deps.Store,
		dispatcher: deps.Dispatcher,
		conn:       deps.Connectivity,
		tokens:     deps.Tokens,
		notifier:   deps.Notifier,
		logger:     logger,
		user:       &models.UserContext{},
		steps:      detector.NewStepCounter(cfg.StepThreshold),
		classifier: detector.MovementClassifier{
			Threshold:     cfg.MovementThreshold,
			FallThreshold: cfg.Fall.Thresholds.FallThreshold,
		},
		now: time.Now,
	}

	s.sampler = sensor.NewSampler(deps.Sensor, deps.Store, cfg.SampleInterval, logger.Named("sampler"))
	s.detector = detector.NewFallDetector(cfg.Fall, deps.Store, s.user, deps.Dispatcher, deps.Notifier, logger.Named("detector"))
	s.monitor = inactivity.NewMonitor(cfg.Inactivity, deps.Store, s.user, deps.Dispatcher, logger.Named("inactivity"))
	s.tracker = location.NewTracker(cfg.Location, deps.Location, deps.Store, s.user, deps.Dispatcher, s.steps, s.monitor, logger.Named("location"))
	s.scheduler = scheduler.New(deps.Store, logger.Named("scheduler"))

	if s.conn != nil {
		s.conn.OnChange(func(bool) { s.publishState(context.Background()) })
	}
	return s
}

// Init 恢复持久化状态、注册后台任务并启动调度器
func (s *GuardianService) Init(ctx context.Context) error {
	now := s.now()

	s.detector.Restore(ctx, now)
	if err := s.monitor.Restore(ctx, now); err != nil {
		return fmt.Errorf("failed to restore inactivity state: %w", err)
	}
	if s.config.Settings != nil {
		if err := s.monitor.ApplySettings(*s.config.Settings); err != nil {
			return fmt.Errorf("invalid initial settings: %w", err)
		}
	}

	if _, err := s.scheduler.EnsureRegistered(ctx, s.config.TaskName, s.config.TaskInterval); err != nil {
		return err
	}

	s.scheduler.Add(scheduler.Task{
		Name:     "inactivity-check",
		Interval: s.config.InactivityCheckInterval,
		Run:      s.checkInactivity,
	})
	if s.config.FlushInterval > 0 {
		s.scheduler.Add(scheduler.Task{
			Name:     "queue-flush",
			Interval: s.config.FlushInterval,
			Run:      s.flushQueue,
		})
	}
	if s.config.ProbeAddr != "" && s.config.ProbeInterval > 0 {
		s.scheduler.Add(scheduler.Task{
			Name:       "connectivity-probe",
			Interval:   s.config.ProbeInterval,
			RunOnStart: true,
			Run:        s.probeConnectivity,
		})
	}
	s.scheduler.Start(ctx)

	s.logger.Info("Guardian service initialized",
		zap.Duration("inactivity_threshold", s.monitor.Threshold()),
		zap.Time("last_movement", s.monitor.LastMovement()),
	)
	return nil
}

func (s *GuardianService) checkInactivity(ctx context.Context, now time.Time) error {
	if !s.TrackingActive() {
		return nil
	}
	outcome := s.monitor.Check(ctx, now)
	s.logger.Debug("Inactivity check", zap.String("outcome", string(outcome)))
	return nil
}

func (s *GuardianService) flushQueue(ctx context.Context, now time.Time) error {
	if !s.conn.Online() {
		return nil
	}
	n, err := s.dispatcher.QueueLen(ctx)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	_, err = s.dispatcher.Flush(ctx)
	return err
}

func (s *GuardianService) probeConnectivity(ctx context.Context, now time.Time) error {
	s.conn.Set(dispatcher.ProbeTCP(ctx, s.config.ProbeAddr, 5*time.Second))
	return nil
}

// SetUserID 认证协作方设置当前用户
func (s *GuardianService) SetUserID(id int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: user id must be positive", models.ErrInvalidPayload)
	}
	s.user.SetUserID(id)
	s.logger.Info("User session set", zap.Int64("user_id", id))
	return nil
}

// SetSession 设置用户与上报 Token
func (s *GuardianService) SetSession(id int64, token string) error {
	if err := s.SetUserID(id); err != nil {
		return err
	}
	if s.tokens != nil {
		s.tokens.SetToken(token)
	}
	return nil
}

// UserID 当前用户
func (s *GuardianService) UserID() (int64, error) {
	return s.user.UserID()
}

// StartTracking 启动采样与定位追踪（幂等）
//
// 任一前置条件失败（未登录、无加速度计、权限被拒）都会回滚已启动的部分并返回错误。
func (s *GuardianService) StartTracking(ctx context.Context) error {
	s.trackMu.Lock()
	defer s.trackMu.Unlock()

	if s.tracking.Load() {
		return nil
	}

	err := s.startLocked(ctx)
	s.setMessage(notify.PermissionMessage(err))
	s.publishState(ctx)
	return err
}

func (s *GuardianService) startLocked(ctx context.Context) error {
	if _, err := s.user.UserID(); err != nil {
		return err
	}

	// 1. 加速度计
	if err := s.sampler.Start(ctx); err != nil {
		s.setSensorPermission(!errors.Is(err, models.ErrPermissionDenied) && !errors.Is(err, models.ErrSensorUnavailable))
		s.logger.Warn("Failed to start sampler", zap.Error(err))
		return err
	}
	s.setSensorPermission(true)

	// 2. 定位
	if err := s.tracker.Start(ctx, s.config.Accuracy); err != nil {
		s.sampler.Stop()
		s.logger.Warn("Failed to start location tracking", zap.Error(err))
		return err
	}

	// 3. 以开始追踪的时刻作为无活动基线
	s.monitor.RecordMovement(ctx, s.now())

	s.consumerStop = make(chan struct{})
	s.consumerDone = make(chan struct{})
	go s.consume(context.WithoutCancel(ctx), s.sampler.Samples(), s.consumerStop, s.consumerDone)

	s.tracking.Store(true)
	s.logger.Info("Tracking started")
	return nil
}

// consume 把采样分发给跌倒检测、计步与活动判定
func (s *GuardianService) consume(ctx context.Context, samples <-chan models.SensorSample, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case sample := <-samples:
			s.detector.Process(ctx, sample)
			s.steps.Observe(sample)
			if s.classifier.IsMovement(sample) {
				s.monitor.RecordMovement(ctx, sample.Timestamp)
			}
		}
	}
}

// StopTracking 停止追踪（幂等）；返回后不再处理新的采样，进行中的投递已完成
func (s *GuardianService) StopTracking(ctx context.Context) {
	s.trackMu.Lock()
	defer s.trackMu.Unlock()

	if !s.tracking.Load() {
		return
	}

	s.tracker.Stop()
	s.sampler.Stop()

	close(s.consumerStop)
	<-s.consumerDone
	s.drainSamples()

	s.detector.Wait()
	s.detector.Reset()

	s.tracking.Store(false)
	s.setMessage("")
	s.logger.Info("Tracking stopped")
	s.publishState(ctx)
}

// drainSamples 丢弃停止前已缓冲的采样
func (s *GuardianService) drainSamples() {
	samples := s.sampler.Samples()
	for {
		select {
		case <-samples:
		default:
			return
		}
	}
}

// TrackingActive 是否正在追踪
func (s *GuardianService) TrackingActive() bool {
	return s.tracking.Load()
}

// TriggerEmergency 紧急按钮：携带最近位置同步投递，并向用户展示确认
func (s *GuardianService) TriggerEmergency(ctx context.Context) (models.DeliveryStatus, error) {
	userID, err := s.user.UserID()
	if err != nil {
		return "", err
	}

	loc, ok := s.store.LastKnownLocation(ctx)
	if !ok {
		s.logger.Warn("No location data available for emergency, using {0,0,0}")
	}

	ev := models.NewEmergencyButtonPressed(userID, loc, s.now())
	// 按下即确认，不等待网络重试
	if s.notifier != nil {
		s.notifier.ConfirmEmergency(ctx, ev, models.StatusQueued, nil)
	}
	status, err := s.dispatcher.Submit(ctx, ev)
	if err != nil {
		s.logger.Error("Emergency alert delivery failed", zap.String("status", string(status)), zap.Error(err))
	}
	if s.notifier != nil && !status.Accepted() {
		s.notifier.ConfirmEmergency(ctx, ev, status, err)
	}

	// 入队即视为已发送：对调用方只暴露非法事件/入队失败
	if status == models.StatusQueued {
		return status, nil
	}
	return status, err
}

// ApplySettings 应用照护方配置（无活动阈值、免打扰）
func (s *GuardianService) ApplySettings(settings models.Settings) error {
	return s.monitor.ApplySettings(settings)
}

// SetNetwork 平台上报网络状态
func (s *GuardianService) SetNetwork(online bool) {
	s.conn.Set(online)
}

// Status 当前 UI 状态
func (s *GuardianService) Status(ctx context.Context) notify.State {
	perms := s.tracker.Permissions()

	s.stateMu.Lock()
	sensorPermission, message := s.sensorPermission, s.lastMessage
	s.stateMu.Unlock()

	queued, err := s.dispatcher.QueueLen(ctx)
	if err != nil {
		s.logger.Warn("Failed to read offline queue length", zap.Error(err))
	}

	return notify.State{
		TrackingActive:      s.TrackingActive(),
		FallDetectionActive: s.sampler.Running(),
		SensorPermission:    sensorPermission,
		ForegroundLocation:  perms.Foreground,
		BackgroundLocation:  perms.Background,
		Online:              s.conn.Online(),
		QueuedEvents:        queued,
		Message:             message,
	}
}

// Journal 最近的投递日志
func (s *GuardianService) Journal(ctx context.Context, limit int) ([]models.JournalEntry, error) {
	return s.store.Journal(ctx, limit)
}

func (s *GuardianService) setSensorPermission(granted bool) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.sensorPermission = granted
}

func (s *GuardianService) setMessage(msg string) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.lastMessage = msg
}

func (s *GuardianService) publishState(ctx context.Context) {
	if s.notifier == nil {
		return
	}
	s.notifier.PublishState(ctx, s.Status(ctx))
}

// Close 停止所有组件
func (s *GuardianService) Close(ctx context.Context) {
	s.StopTracking(ctx)
	s.scheduler.Stop()
	s.dispatcher.Close()
	s.logger.Info("Guardian service closed")
}
