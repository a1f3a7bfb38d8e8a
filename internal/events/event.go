package events

import (
	"context"
	"encoding/json"
	"sync"
)

// Kind 标识协议事件类型。
type Kind string

const (
	KindChallengeIssued       Kind = "challenge-issued"
	KindResponseSubmitted     Kind = "response-submitted"
	KindNullifierConsumed     Kind = "nullifier-consumed"
	KindAttestationRegistered Kind = "attestation-registered"
	KindAttestationRevoked    Kind = "attestation-revoked"
	KindScoreChanged          Kind = "score-changed"
	KindPenalized             Kind = "penalized"
	KindBlacklisted           Kind = "blacklisted"
	KindBlacklistRemoved      Kind = "blacklist-removed"
	KindCommitmentRegistered  Kind = "commitment-registered"
	KindProofVerified         Kind = "proof-verified"
	KindBatchScoreUpdate      Kind = "batch-score-update"
)

// Event 是一次成功提交的状态变更对外发布的记录。
// ID 全局唯一，(Height, Index) 给出事件在全局顺序中的位置。
type Event struct {
	ID         string            `json:"id"`
	Kind       Kind              `json:"kind"`
	Height     uint64            `json:"height"`
	Index      int               `json:"index"`
	Timestamp  uint64            `json:"timestamp"`
	Sender     string            `json:"sender"`
	Subject    string            `json:"subject"`
	Operation  string            `json:"operation"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Attr 返回属性值。
func (e Event) Attr(key string) string {
	if e.Attributes == nil {
		return ""
	}
	return e.Attributes[key]
}

// Encode 将事件编码为队列消息体。
func Encode(evt Event) ([]byte, error) {
	return json.Marshal(evt)
}

// Decode 解析队列消息体。
func Decode(raw []byte) (Event, error) {
	var evt Event
	err := json.Unmarshal(raw, &evt)
	return evt, err
}

// Recorder 在内存中保存发布过的事件，主要用于测试与调试。
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder 创建 Recorder。
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Publish 实现 Publisher。
func (r *Recorder) Publish(_ context.Context, evt Event) error {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
	return nil
}

// Close 实现 Publisher。
func (r *Recorder) Close() error { return nil }

// Events 返回已记录事件的副本。
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Kinds 按顺序返回已记录事件的类型。
func (r *Recorder) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Kind, len(r.events))
	for i, evt := range r.events {
		out[i] = evt.Kind
	}
	return out
}

// Reset 清空已记录事件。
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
