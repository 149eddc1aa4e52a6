package sensor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nicolasmoreira/linkuy-connect-app/internal/models"
	"github.com/nicolasmoreira/linkuy-connect-app/internal/repository"
	"go.uber.org/zap"
)

// DefaultSampleInterval 默认采样间隔
const DefaultSampleInterval = 100 * time.Millisecond

// sampleBuffer 下游通道缓冲；消费方跟不上时丢弃最新采样
const sampleBuffer = 64

// Sampler 运动采样器：订阅数据源，持久化最近采样，并转发给下游消费者
//
// Start 幂等；Stop 幂等且在返回前等待转发协程退出，之后不再接收采样。
type Sampler struct {
	source   Source
	store    *repository.StateStore
	interval time.Duration
	logger   *zap.Logger

	out     chan models.SensorSample
	dropped atomic.Int64

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	// 持久化合并：只写最新采样
	pendingMu sync.Mutex
	pending   *models.SensorSample
	persistCh chan struct{}
}

// NewSampler 创建采样器
func NewSampler(source Source, store *repository.StateStore, interval time.Duration, logger *zap.Logger) *Sampler {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	return &Sampler{
		source:    source,
		store:     store,
		interval:  interval,
		logger:    logger,
		out:       make(chan models.SensorSample, sampleBuffer),
		persistCh: make(chan struct{}, 1),
	}
}

// Samples 下游采样通道（跨多次 Start/Stop 复用，不会关闭）
func (s *Sampler) Samples() <-chan models.SensorSample {
	return s.out
}

// Running 是否正在采样
func (s *Sampler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Dropped 因下游阻塞被丢弃的采样数
func (s *Sampler) Dropped() int64 {
	return s.dropped.Load()
}

// Start 检查设备与权限后开始采样
func (s *Sampler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Debug("Sampler already running")
		return nil
	}

	if !s.source.Available(ctx) {
		return models.ErrSensorUnavailable
	}
	granted, err := s.source.RequestPermission(ctx)
	if err != nil {
		return fmt.Errorf("failed to request sensor permission: %w", err)
	}
	if !granted {
		return fmt.Errorf("accelerometer: %w", models.ErrPermissionDenied)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	samples, err := s.source.Subscribe(runCtx, s.interval)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to subscribe to sensor: %w", err)
	}

	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	stopPersist := make(chan struct{})
	persistDone := make(chan struct{})
	go s.persistLoop(ctx, stopPersist, persistDone)
	go s.forward(runCtx, cancel, samples, stopPersist, persistDone, s.done)

	s.logger.Info("Sampler started", zap.Duration("interval", s.interval))
	return nil
}

// forward 转发采样；不阻塞数据源
func (s *Sampler) forward(
	ctx context.Context,
	cancel context.CancelFunc,
	samples <-chan models.SensorSample,
	stopPersist chan<- struct{},
	persistDone <-chan struct{},
	done chan<- struct{},
) {
	defer func() {
		close(stopPersist)
		<-persistDone
		close(done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case sample, ok := <-samples:
			if !ok {
				s.logger.Warn("Sensor stream closed")
				s.mu.Lock()
				if s.done == done {
					s.running = false
				}
				s.mu.Unlock()
				cancel()
				return
			}
			if ctx.Err() != nil {
				return
			}
			s.schedulePersist(sample)

			select {
			case s.out <- sample:
			default:
				if n := s.dropped.Add(1); n%100 == 1 {
					s.logger.Warn("Sample consumer is lagging, dropping samples", zap.Int64("dropped", n))
				}
			}
		}
	}
}

func (s *Sampler) schedulePersist(sample models.SensorSample) {
	s.pendingMu.Lock()
	s.pending = &sample
	s.pendingMu.Unlock()

	select {
	case s.persistCh <- struct{}{}:
	default:
	}
}

func (s *Sampler) takePending() *models.SensorSample {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	p := s.pending
	s.pending = nil
	return p
}

// persistLoop 异步写入 lastSensorData；退出前写入最后一个采样
func (s *Sampler) persistLoop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ctx = context.WithoutCancel(ctx)

	write := func() {
		sample := s.takePending()
		if sample == nil {
			return
		}
		if err := s.store.SaveLastSample(ctx, *sample); err != nil {
			s.logger.Error("Failed to persist sensor sample", zap.Error(err))
		}
	}

	for {
		select {
		case <-stop:
			write()
			return
		case <-s.persistCh:
			write()
		}
	}
}

// Stop 停止采样（幂等）
func (s *Sampler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info("Sampler stopped", zap.Int64("dropped", s.dropped.Load()))
}
