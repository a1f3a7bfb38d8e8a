// Package protocol 在同一个账本上组装各活体验证组件，
// 并为组件间调用配置模块身份。
package protocol

import (
	"RiftBeacon/internal/attestation"
	"RiftBeacon/internal/auth"
	"RiftBeacon/internal/batch"
	"RiftBeacon/internal/ledger"
	"RiftBeacon/internal/nullifier"
	"RiftBeacon/internal/penalty"
	"RiftBeacon/internal/score"
	"RiftBeacon/internal/session"
	"RiftBeacon/internal/verifier"
)

// Params 汇总各组件的可调参数。
type Params struct {
	Score   score.Params   `mapstructure:"score" json:"score"`
	Penalty penalty.Params `mapstructure:"penalty" json:"penalty"`
	Session session.Params `mapstructure:"session" json:"session"`
}

// DefaultParams 返回默认参数。
func DefaultParams() Params {
	return Params{
		Score:   score.DefaultParams(),
		Penalty: penalty.DefaultParams(),
		Session: session.DefaultParams(),
	}
}

// Protocol 持有已组装的组件。所有组件共享同一个 Ledger，
// 跨组件的操作整体提交或整体回滚。
type Protocol struct {
	Ledger       *ledger.Ledger
	Policy       *auth.Policy
	Nullifiers   *nullifier.Store
	Attestations *attestation.Registry
	Verifier     *verifier.Verifier
	Scores       *score.Engine
	Penalties    *penalty.Engine
	Sessions     *session.Manager
	Batch        *batch.Operator
}

// New 在 led 上构建全部组件，并为模块身份授予互相调用所需的能力。
func New(led *ledger.Ledger, policy *auth.Policy, params Params) (*Protocol, error) {
	if policy == nil {
		policy = auth.NewPolicy()
	}
	scores, err := score.NewEngine(led, policy, params.Score)
	if err != nil {
		return nil, err
	}
	penalties, err := penalty.NewEngine(led, policy, scores, params.Penalty)
	if err != nil {
		return nil, err
	}
	nullifiers := nullifier.NewStore(led, policy)
	attestations := attestation.NewRegistry(led, policy)
	sessions, err := session.NewManager(led, nullifiers, attestations, scores, params.Session)
	if err != nil {
		return nil, err
	}
	operator := batch.NewOperator(led, policy, scores)

	policy.Grant(sessions.Module(), auth.CapabilityConsumer, auth.CapabilityRegistrar, auth.CapabilityScorer)
	policy.Grant(penalties.Module(), auth.CapabilityScorer)
	policy.Grant(operator.Module(), auth.CapabilityScorer)

	return &Protocol{
		Ledger:       led,
		Policy:       policy,
		Nullifiers:   nullifiers,
		Attestations: attestations,
		Verifier:     verifier.New(led),
		Scores:       scores,
		Penalties:    penalties,
		Sessions:     sessions,
		Batch:        operator,
	}, nil
}
