package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	xerrors "RiftBeacon/internal/errors"
	"RiftBeacon/pkg/logger"
)

// Saver 持久化事件。实现必须对重复 ID 幂等，因为队列保证的是至少一次投递。
type Saver interface {
	SaveEvent(ctx context.Context, evt Event) error
}

// Indexer 从队列消费事件并写入存储。
type Indexer struct {
	consumer    Consumer
	saver       Saver
	workerCount int
	retry       RetryConfig
	onFailure   func(Event, error)
	logger      *slog.Logger
}

// RetryConfig 控制单个事件保存失败后的重试：间隔从 InitialInterval 开始
// 指数增长，不超过 MaxInterval，总尝试次数不超过 MaxAttempts。
type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig 返回默认重试参数。
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 5, InitialInterval: 100 * time.Millisecond, MaxInterval: 5 * time.Second}
}

func (c RetryConfig) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.InitialInterval
	eb.MaxInterval = c.MaxInterval
	eb.MaxElapsedTime = 0
	attempts := c.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)
}

// IndexerOption 定义可选配置。
type IndexerOption func(*Indexer)

// WithIndexerLogger 指定日志输出。
func WithIndexerLogger(l *slog.Logger) IndexerOption {
	return func(i *Indexer) {
		i.logger = l
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) IndexerOption {
	return func(i *Indexer) {
		if workers > 0 {
			i.workerCount = workers
		}
	}
}

// WithRetry 覆盖保存失败时的重试参数。
func WithRetry(cfg RetryConfig) IndexerOption {
	return func(i *Indexer) {
		if cfg.MaxAttempts > 0 {
			i.retry = cfg
		}
	}
}

// WithFailureHook 在事件重试耗尽后回调一次，可用于计数或转存死信。
func WithFailureHook(fn func(Event, error)) IndexerOption {
	return func(i *Indexer) {
		i.onFailure = fn
	}
}

// NewIndexer 构造 Indexer。
func NewIndexer(consumer Consumer, saver Saver, opts ...IndexerOption) *Indexer {
	idx := &Indexer{
		consumer:    consumer,
		saver:       saver,
		workerCount: 1,
		retry:       DefaultRetryConfig(),
		logger:      logger.Named("indexer"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(idx)
		}
	}
	return idx
}

// Start 启动消费循环，直到 ctx 结束。
func (i *Indexer) Start(ctx context.Context) error {
	if i.consumer == nil || i.saver == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "事件索引器未初始化")
	}
	return i.consumer.Consume(ctx, i.workerCount, i.handle)
}

func (i *Indexer) handle(ctx context.Context, evt Event) error {
	attempts := 0
	save := func() error {
		attempts++
		return i.saver.SaveEvent(ctx, evt)
	}
	notify := func(err error, wait time.Duration) {
		i.logger.Warn("保存事件失败，稍后重试",
			slog.String("event_id", evt.ID),
			slog.Int("attempt", attempts),
			slog.Duration("wait", wait),
			slog.Any("error", err))
	}
	if err := backoff.RetryNotify(save, i.retry.backOff(ctx), notify); err != nil {
		if ctx.Err() != nil {
			return err
		}
		i.logger.Error("保存事件失败，已放弃",
			slog.String("event_id", evt.ID),
			slog.String("kind", string(evt.Kind)),
			slog.Int("attempts", attempts),
			slog.Any("error", err))
		if i.onFailure != nil {
			i.onFailure(evt, err)
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存事件失败")
	}
	i.logger.Debug("事件已索引",
		slog.String("event_id", evt.ID),
		slog.String("kind", string(evt.Kind)),
		slog.Uint64("height", evt.Height))
	return nil
}
