package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nicolasmoreira/linkuy-connect-app/internal/models"
	"github.com/nicolasmoreira/linkuy-connect-app/internal/repository"
	"go.uber.org/zap"
)

// DefaultMaxQueueAge 离线条目最长保留时间，超过后在补发时丢弃
const DefaultMaxQueueAge = 72 * time.Hour

// Config 投递配置
type Config struct {
	MaxQueueAge time.Duration // <=0 表示不过期
}

// FlushResult 一次补发的统计
type FlushResult struct {
	Delivered int
	Expired   int
	Remaining int
	Skipped   bool // 已有补发在进行，本次只标记重跑
}

// Dispatcher 事件投递器：在线直接发送（含重试），离线或重试耗尽时写入离线队列
type Dispatcher struct {
	transport Transport
	store     *repository.StateStore
	conn      *Connectivity
	config    Config
	logger    *zap.Logger
	now       func() time.Time

	flushMu  sync.Mutex
	flushing bool
	rerun    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New 创建投递器，并在网络恢复时自动补发离线队列
func New(
	transport Transport,
	store *repository.StateStore,
	conn *Connectivity,
	cfg Config,
	logger *zap.Logger,
) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		transport: transport,
		store:     store,
		conn:      conn,
		config:    cfg,
		logger:    logger,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
	}

	conn.OnChange(func(online bool) {
		if online {
			d.FlushAsync()
		}
	})

	return d
}

// Submit 投递事件
//
// 返回值：
//   - StatusDelivered, nil：端点已返回 2xx
//   - StatusQueued, nil：提交时离线，已入队
//   - StatusQueued, err：在线但重试耗尽，已入队，err 为投递失败原因
//   - "", err：事件非法（ErrInvalidPayload / ErrUserNotSet）或入队失败
func (d *Dispatcher) Submit(ctx context.Context, ev models.ActivityEvent) (models.DeliveryStatus, error) {
	id := uuid.NewString()

	// 1. 校验：非法事件终止，不发送也不入队
	if err := ev.Validate(); err != nil {
		d.logger.Error("Rejected invalid event",
			zap.String("event_type", string(ev.Type)),
			zap.Error(err),
		)
		d.record(ctx, id, ev.Type, models.OutcomeInvalid, 0, err.Error())
		return "", err
	}

	// 2. 序列化（直接发送与离线补发使用同一份字节）
	payload, err := json.Marshal(ev)
	if err != nil {
		d.record(ctx, id, ev.Type, models.OutcomeInvalid, 0, err.Error())
		return "", fmt.Errorf("%w: %v", models.ErrInvalidPayload, err)
	}

	// 3. 离线：只入队，不发起网络请求
	if !d.conn.Online() {
		if err := d.enqueue(ctx, id, ev.Type, payload); err != nil {
			return "", err
		}
		d.logger.Info("Offline, event queued",
			zap.String("id", id),
			zap.String("event_type", string(ev.Type)),
		)
		return models.StatusQueued, nil
	}

	// 4. 在线：发送（transport 内部按固定间隔重试）
	code, sendErr := d.transport.Send(ctx, payload)
	if sendErr == nil {
		d.record(ctx, id, ev.Type, models.OutcomeDelivered, code, "")
		return models.StatusDelivered, nil
	}

	d.logger.Error("Event delivery failed, queueing for later flush",
		zap.String("id", id),
		zap.String("event_type", string(ev.Type)),
		zap.Int("status_code", code),
		zap.Error(sendErr),
	)
	d.record(ctx, id, ev.Type, models.OutcomeFailed, code, sendErr.Error())

	// 调用方取消不应丢失事件
	if err := d.enqueue(context.WithoutCancel(ctx), id, ev.Type, payload); err != nil {
		return "", errors.Join(sendErr, err)
	}
	return models.StatusQueued, sendErr
}

func (d *Dispatcher) enqueue(ctx context.Context, id string, eventType models.EventType, payload []byte) error {
	entry := models.QueueEntry{
		ID:         id,
		EventType:  eventType,
		Payload:    payload,
		EnqueuedAt: d.now(),
	}
	evicted, err := d.store.Enqueue(ctx, entry)
	if err != nil {
		d.logger.Error("Failed to enqueue event",
			zap.String("id", id),
			zap.String("event_type", string(eventType)),
			zap.Error(err),
		)
		return fmt.Errorf("failed to enqueue event: %w", err)
	}
	d.record(ctx, id, eventType, models.OutcomeQueued, 0, "")
	for _, e := range evicted {
		d.record(ctx, e.ID, e.EventType, models.OutcomeEvicted, 0, "queue full")
	}
	return nil
}

func (d *Dispatcher) record(
	ctx context.Context,
	id string,
	eventType models.EventType,
	outcome models.DeliveryOutcome,
	statusCode int,
	detail string,
) {
	entry := models.JournalEntry{
		ID:         id,
		EventType:  eventType,
		Outcome:    outcome,
		StatusCode: statusCode,
		Detail:     detail,
		RecordedAt: d.now(),
	}
	if err := d.store.RecordDelivery(context.WithoutCancel(ctx), entry); err != nil {
		d.logger.Warn("Failed to record delivery journal",
			zap.String("id", id),
			zap.String("outcome", string(outcome)),
			zap.Error(err),
		)
	}
}

// FlushAsync 在后台补发离线队列
func (d *Dispatcher) FlushAsync() {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if _, err := d.Flush(d.ctx); err != nil {
			d.logger.Warn("Offline queue flush incomplete", zap.Error(err))
		}
	}()
}

// Flush 按入队顺序补发离线队列；同一时刻只有一个补发在运行
//
// 补发期间再次触发时，本次立即返回 Skipped，进行中的补发结束后会再跑一轮（该轮失败但仍在线时同样如此）。
// 只移除已送达与已过期的条目；遇到第一条失败即停止，保持剩余条目顺序。
func (d *Dispatcher) Flush(ctx context.Context) (FlushResult, error) {
	d.flushMu.Lock()
	if d.flushing {
		d.rerun = true
		d.flushMu.Unlock()
		return FlushResult{Skipped: true}, nil
	}
	d.flushing = true
	d.flushMu.Unlock()

	var total FlushResult
	for {
		res, err := d.drain(ctx)
		total.Delivered += res.Delivered
		total.Expired += res.Expired
		total.Remaining = res.Remaining

		d.flushMu.Lock()
		// 本轮失败期间若有新的触发（如网络重连），在线时继续跑一轮
		again := d.rerun && (err == nil || (d.conn.Online() && ctx.Err() == nil))
		d.rerun = false
		if !again {
			d.flushing = false
			d.flushMu.Unlock()
			return total, err
		}
		d.flushMu.Unlock()
		if err != nil {
			d.logger.Info("Offline queue flush failed, retrying after new trigger", zap.Error(err))
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) (FlushResult, error) {
	var res FlushResult

	entries, err := d.store.PendingEntries(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to read offline queue: %w", err)
	}
	if len(entries) == 0 {
		return res, nil
	}

	d.logger.Info("Flushing offline queue", zap.Int("pending", len(entries)))

	var (
		done    []string
		failErr error
	)
	now := d.now()
	for _, e := range entries {
		if ctx.Err() != nil {
			failErr = ctx.Err()
			break
		}
		if !d.conn.Online() {
			failErr = errors.New("connectivity lost during flush")
			break
		}

		if d.config.MaxQueueAge > 0 && now.Sub(e.EnqueuedAt) > d.config.MaxQueueAge {
			d.logger.Warn("Dropping expired queued event",
				zap.String("id", e.ID),
				zap.String("event_type", string(e.EventType)),
				zap.Time("enqueued_at", e.EnqueuedAt),
			)
			d.record(ctx, e.ID, e.EventType, models.OutcomeExpired, 0, "max age exceeded")
			done = append(done, e.ID)
			res.Expired++
			continue
		}

		code, err := d.transport.Send(ctx, e.Payload)
		if err != nil {
			d.record(ctx, e.ID, e.EventType, models.OutcomeFailed, code, err.Error())
			failErr = err
			break
		}
		d.record(ctx, e.ID, e.EventType, models.OutcomeFlushed, code, "")
		done = append(done, e.ID)
		res.Delivered++
	}

	if len(done) > 0 {
		if err := d.store.RemoveEntries(context.WithoutCancel(ctx), done...); err != nil {
			return res, fmt.Errorf("failed to remove flushed entries: %w", err)
		}
	}
	res.Remaining = len(entries) - len(done)

	d.logger.Info("Offline queue flush finished",
		zap.Int("delivered", res.Delivered),
		zap.Int("expired", res.Expired),
		zap.Int("remaining", res.Remaining),
	)
	return res, failErr
}

// QueueLen 离线队列长度
func (d *Dispatcher) QueueLen(ctx context.Context) (int, error) {
	return d.store.QueueLen(ctx)
}

// Online 当前网络状态
func (d *Dispatcher) Online() bool {
	return d.conn.Online()
}

// Close 取消后台补发并等待其退出
func (d *Dispatcher) Close() {
	d.cancel()
	d.wg.Wait()
}
