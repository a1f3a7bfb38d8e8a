package ledger

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	dbm "github.com/tendermint/tm-db"

	"RiftBeacon/internal/events"
	xerrors "RiftBeacon/internal/errors"
)

// Reader 是只读视图，Tx 与 View 均实现该接口。
type Reader interface {
	Context() context.Context
	Now() uint64
	Get(key []byte, v any) (bool, error)
	Has(key []byte) (bool, error)
}

type txState struct {
	ctx    context.Context
	ledger *Ledger
	op     string
	now    uint64
	writes map[string][]byte
	order  []string
	events []events.Event
}

// Tx 缓冲一次操作内的全部写入与事件。跨组件调用通过 As 切换调用者身份，
// 但共享同一个缓冲区，因此整体要么提交要么回滚。
type Tx struct {
	*txState
	sender common.Address
}

// Context 返回操作上下文。
func (tx *Tx) Context() context.Context { return tx.ctx }

// Now 返回本次操作的时间戳，同一操作内保持不变。
func (tx *Tx) Now() uint64 { return tx.now }

// Sender 返回当前调用者。
func (tx *Tx) Sender() common.Address { return tx.sender }

// Operation 返回操作名称。
func (tx *Tx) Operation() string { return tx.op }

// As 返回以 sender 身份继续执行的同一事务。
func (tx *Tx) As(sender common.Address) *Tx {
	return &Tx{txState: tx.txState, sender: sender}
}

// Get 读取并解码 key 对应的值，优先读取本事务中尚未提交的写入。
func (tx *Tx) Get(key []byte, v any) (bool, error) {
	if raw, ok := tx.writes[string(key)]; ok {
		return true, decode(raw, v)
	}
	return readDB(tx.ledger.db, key, v)
}

// Has 判断 key 是否存在。
func (tx *Tx) Has(key []byte) (bool, error) {
	if _, ok := tx.writes[string(key)]; ok {
		return true, nil
	}
	ok, err := tx.ledger.db.Has(key)
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询键失败")
	}
	return ok, nil
}

// Set 编码 v 并缓冲写入。
func (tx *Tx) Set(key []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码记录失败")
	}
	k := string(key)
	if _, exists := tx.writes[k]; !exists {
		tx.order = append(tx.order, k)
	}
	tx.writes[k] = raw
	return nil
}

// Emit 缓冲一个事件，提交成功后才会对外发布。
func (tx *Tx) Emit(kind events.Kind, subject string, attrs map[string]string) {
	tx.events = append(tx.events, events.Event{
		Kind:       kind,
		Subject:    subject,
		Sender:     tx.sender.Hex(),
		Operation:  tx.op,
		Attributes: attrs,
	})
}

// NextSequence 返回命名序列的下一个值，序列值随事务一起提交。
func (tx *Tx) NextSequence(name string) (uint64, error) {
	key := Key("seq", []byte(name))
	var current uint64
	if _, err := tx.Get(key, &current); err != nil {
		return 0, err
	}
	current++
	if err := tx.Set(key, current); err != nil {
		return 0, err
	}
	return current, nil
}

func (tx *Tx) stamp(height uint64) []events.Event {
	out := make([]events.Event, len(tx.events))
	for i, evt := range tx.events {
		evt.ID = newEventID()
		evt.Height = height
		evt.Index = i
		evt.Timestamp = tx.now
		out[i] = evt
	}
	return out
}

type snapshot struct {
	ctx context.Context
	db  dbm.DB
	now uint64
}

func (s *snapshot) Context() context.Context { return s.ctx }

func (s *snapshot) Now() uint64 { return s.now }

func (s *snapshot) Get(key []byte, v any) (bool, error) {
	return readDB(s.db, key, v)
}

func (s *snapshot) Has(key []byte) (bool, error) {
	ok, err := s.db.Has(key)
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询键失败")
	}
	return ok, nil
}

func readDB(db dbm.DB, key []byte, v any) (bool, error) {
	raw, err := db.Get(key)
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取键失败")
	}
	if raw == nil {
		return false, nil
	}
	return true, decode(raw, v)
}

func decode(raw []byte, v any) error {
	if v == nil {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "解码记录失败")
	}
	return nil
}

// FormatUint 用于事件属性中的数值字段。
func FormatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}
