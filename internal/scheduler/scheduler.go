package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nicolasmoreira/linkuy-connect-app/internal/models"
	"github.com/nicolasmoreira/linkuy-connect-app/internal/repository"
	"go.uber.org/zap"
)

// DefaultTaskName 后台检查任务名
const DefaultTaskName = "linkuy-guardian-checks"

// Task 周期任务
type Task struct {
	Name       string
	Interval   time.Duration
	RunOnStart bool
	Run        func(ctx context.Context, now time.Time) error
}

// Scheduler 后台调度器：持有周期任务的生命周期
type Scheduler struct {
	store  *repository.StateStore
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	tasks   []Task
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New 创建调度器
func New(store *repository.StateStore, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Add 注册周期任务（需在 Start 之前调用）
func (s *Scheduler) Add(task Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, task)
}

// EnsureRegistered 幂等注册后台任务
//
// 以持久化的 backgroundRegistration 为准，进程重启后不会重复注册；
// 任务名或间隔变化时覆盖旧记录。返回本次是否新写入了注册记录。
func (s *Scheduler) EnsureRegistered(ctx context.Context, name string, interval time.Duration) (bool, error) {
	existing, err := s.store.Registration(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read background registration: %w", err)
	}
	if existing != nil && existing.TaskName == name && existing.Interval == interval {
		s.logger.Debug("Background task already registered",
			zap.String("task", name),
			zap.Time("registered_at", existing.RegisteredAt),
		)
		return false, nil
	}

	reg := models.BackgroundRegistration{
		TaskName:     name,
		Interval:     interval,
		RegisteredAt: s.now(),
	}
	if err := s.store.SaveRegistration(ctx, reg); err != nil {
		return false, fmt.Errorf("failed to save background registration: %w", err)
	}
	s.logger.Info("Background task registered",
		zap.String("task", name),
		zap.Duration("interval", interval),
	)
	return true, nil
}

// Start 启动所有周期任务；重复调用无副作用
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	for _, task := range s.tasks {
		if task.Interval <= 0 || task.Run == nil {
			s.logger.Warn("Skipping invalid task", zap.String("task", task.Name))
			continue
		}
		s.wg.Add(1)
		go s.loop(runCtx, task)
	}

	s.logger.Info("Scheduler started", zap.Int("tasks", len(s.tasks)))
}

func (s *Scheduler) loop(ctx context.Context, task Task) {
	defer s.wg.Done()

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	if task.RunOnStart {
		s.run(ctx, task)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.run(ctx, task)
		}
	}
}

// run 执行一次任务；失败只记录日志，不影响下一次调度
func (s *Scheduler) run(ctx context.Context, task Task) {
	if err := task.Run(ctx, s.now()); err != nil {
		s.logger.Error("Scheduled task failed",
			zap.String("task", task.Name),
			zap.Error(err),
		)
	}
}

// Running 调度器是否运行中
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Stop 停止所有任务并等待退出；可重复调用
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}
