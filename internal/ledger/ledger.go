package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/orderedcode"
	"github.com/google/uuid"
	dbm "github.com/tendermint/tm-db"

	"RiftBeacon/internal/events"
	xerrors "RiftBeacon/internal/errors"
	"RiftBeacon/internal/web3"
	"RiftBeacon/pkg/logger"
)

// Config 描述账本存储后端。
type Config struct {
	Backend string
	Dir     string
	Name    string
}

// Observer 接收每次操作的执行结果，通常由指标模块实现。
type Observer interface {
	ObserveOperation(op string, err error, elapsed time.Duration)
}

// Option 定义账本的可选配置。
type Option func(*Ledger)

// WithLogger 指定账本使用的日志实例。
func WithLogger(l *slog.Logger) Option {
	return func(led *Ledger) {
		if l != nil {
			led.logger = l
		}
	}
}

// WithPublisher 追加一个事件发布目标。事件只会在提交成功后投递。
func WithPublisher(p events.Publisher) Option {
	return func(led *Ledger) {
		if p != nil {
			led.publishers = append(led.publishers, p)
		}
	}
}

// WithObserver 设置操作观察者。
func WithObserver(o Observer) Option {
	return func(led *Ledger) {
		led.observer = o
	}
}

// Ledger 为所有状态变更提供单一全局顺序。每次 Execute 都是原子的：
// 要么写集与事件全部生效，要么全部丢弃。
type Ledger struct {
	mu         sync.RWMutex
	db         dbm.DB
	clock      web3.Clock
	lastNow    uint64
	height     uint64
	publishers []events.Publisher
	observer   Observer
	logger     *slog.Logger
}

type meta struct {
	Height  uint64 `json:"height"`
	LastNow uint64 `json:"last_now"`
}

var metaKey = Key("meta", []byte("head"))

// Open 根据配置创建底层数据库并返回账本。
func Open(cfg Config, clock web3.Clock, opts ...Option) (*Ledger, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "" || backend == "memory" {
		backend = string(dbm.MemDBBackend)
	}
	name := cfg.Name
	if name == "" {
		name = "riftbeacon"
	}
	dir := cfg.Dir
	if dir == "" {
		dir = filepath.Join("data", "ledger")
	}
	db, err := dbm.NewDB(name, dbm.BackendType(backend), dir)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("打开 %s 账本失败", backend))
	}
	return New(db, clock, opts...)
}

// New 使用已有数据库构建账本，并恢复已持久化的高度与时间。
func New(db dbm.DB, clock web3.Clock, opts ...Option) (*Ledger, error) {
	if db == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "账本数据库未配置")
	}
	if clock == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "账本时钟未配置")
	}
	led := &Ledger{
		db:     db,
		clock:  clock,
		logger: logger.Named("ledger"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(led)
		}
	}

	raw, err := db.Get(metaKey)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取账本元数据失败")
	}
	if len(raw) > 0 {
		var m meta
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析账本元数据失败")
		}
		led.height = m.Height
		led.lastNow = m.LastNow
	}
	return led, nil
}

// NewMemory 返回基于内存数据库的账本，适用于测试与开发环境。
func NewMemory(clock web3.Clock, opts ...Option) *Ledger {
	led, err := New(dbm.NewMemDB(), clock, opts...)
	if err != nil {
		panic(err)
	}
	return led
}

// Close 关闭底层数据库。
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.db.Close()
}

// Height 返回已提交操作的数量。
func (l *Ledger) Height() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.height
}

// Execute 以 sender 身份执行一次状态变更。fn 返回错误时不写入任何状态，
// 也不发布任何事件。
func (l *Ledger) Execute(ctx context.Context, sender common.Address, op string, fn func(*Tx) error) (err error) {
	start := time.Now()
	defer func() {
		if l.observer != nil {
			l.observer.ObserveOperation(op, err, time.Since(start))
		}
	}()

	l.mu.Lock()
	locked := true
	defer func() {
		if locked {
			l.mu.Unlock()
		}
	}()

	now, err := l.readClock(ctx)
	if err != nil {
		return err
	}

	tx := &Tx{
		txState: &txState{
			ctx:    ctx,
			ledger: l,
			op:     op,
			now:    now,
			writes: make(map[string][]byte),
		},
		sender: sender,
	}

	if err = fn(tx); err != nil {
		l.logger.Warn("账本操作已回滚",
			slog.String("op", op),
			slog.String("sender", sender.Hex()),
			slog.String("code", string(xerrors.CodeOf(err))),
			slog.Any("error", err))
		return err
	}
	if err = ctx.Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeTimeout, err, "提交前上下文已结束")
	}

	height := l.height + 1
	if err = l.commit(tx.txState, height); err != nil {
		return err
	}
	l.height = height
	l.lastNow = now
	emitted := tx.stamp(height)
	locked = false
	l.mu.Unlock()

	logger.Audit().Info("ledger operation committed",
		slog.String("op", op),
		slog.String("sender", sender.Hex()),
		slog.Uint64("height", height),
		slog.Uint64("now", now),
		slog.Int("writes", len(tx.order)),
		slog.Int("events", len(emitted)))

	l.publish(ctx, emitted)
	return nil
}

// View 在当前时间点上执行只读查询。
func (l *Ledger) View(ctx context.Context, fn func(Reader) error) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	now, err := l.clock.Now(ctx)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeClockFailure, err, "读取时钟失败")
	}
	if now < l.lastNow {
		now = l.lastNow
	}
	return fn(&snapshot{ctx: ctx, db: l.db, now: now})
}

func (l *Ledger) readClock(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, xerrors.Wrap(xerrors.CodeTimeout, err, "上下文已结束")
	}
	now, err := l.clock.Now(ctx)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeClockFailure, err, "读取时钟失败")
	}
	// 时间在操作之间不得回退。
	if now < l.lastNow {
		now = l.lastNow
	}
	return now, nil
}

func (l *Ledger) commit(st *txState, height uint64) error {
	headRaw, err := json.Marshal(meta{Height: height, LastNow: st.now})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码账本元数据失败")
	}

	batch := l.db.NewBatch()
	defer batch.Close()

	for _, key := range st.order {
		if err := batch.Set([]byte(key), st.writes[key]); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入批次失败")
		}
	}
	if err := batch.Set(metaKey, headRaw); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入账本元数据失败")
	}
	if err := batch.WriteSync(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交批次失败")
	}
	return nil
}

func (l *Ledger) publish(ctx context.Context, emitted []events.Event) {
	for _, evt := range emitted {
		for _, p := range l.publishers {
			if err := p.Publish(ctx, evt); err != nil {
				l.logger.Error("事件发布失败",
					slog.String("event_id", evt.ID),
					slog.String("kind", string(evt.Kind)),
					slog.Any("error", err))
			}
		}
	}
}

// Key 使用 orderedcode 编码命名空间与标识，保证不同命名空间的键互不重叠且保持有序。
func Key(space string, id []byte) []byte {
	key, err := orderedcode.Append(nil, space, string(id))
	if err != nil {
		// string 参数的编码不会失败。
		panic(err)
	}
	return key
}

func newEventID() string {
	return uuid.NewString()
}
