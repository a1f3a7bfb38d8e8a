package auth

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	xerrors "RiftBeacon/internal/errors"
)

// Capability 表示协议操作所需的权限。
type Capability string

const (
	CapabilityConsumer      Capability = "consumer"
	CapabilityRegistrar     Capability = "registrar"
	CapabilityScorer        Capability = "scorer"
	CapabilityEnforcer      Capability = "enforcer"
	CapabilityAdministrator Capability = "administrator"
	CapabilityOperator      Capability = "operator"
)

// AllCapabilities 列出协议支持的全部能力。
var AllCapabilities = []Capability{
	CapabilityConsumer,
	CapabilityRegistrar,
	CapabilityScorer,
	CapabilityEnforcer,
	CapabilityAdministrator,
	CapabilityOperator,
}

// ParseCapability 规范化能力名称。
func ParseCapability(s string) (Capability, bool) {
	c := Capability(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllCapabilities {
		if c == known {
			return c, true
		}
	}
	return "", false
}

// ErrUnauthorized 表示调用者缺少所需能力。
var ErrUnauthorized = xerrors.New(xerrors.CodeUnauthorized, "caller lacks the required capability")

// Authorizer 检查 caller 是否持有 capability，协议组件在执行特权操作前调用。
type Authorizer interface {
	Authorize(ctx context.Context, caller common.Address, capability Capability) error
}

// AuthorizerFunc 将函数适配为 Authorizer。
type AuthorizerFunc func(ctx context.Context, caller common.Address, capability Capability) error

// Authorize 实现 Authorizer。
func (f AuthorizerFunc) Authorize(ctx context.Context, caller common.Address, capability Capability) error {
	return f(ctx, caller, capability)
}

// AllowAll 对任何调用者放行全部能力，仅用于测试。
var AllowAll = AuthorizerFunc(func(context.Context, common.Address, Capability) error { return nil })

func unauthorized(caller common.Address, capability Capability) error {
	return xerrors.New(xerrors.CodeUnauthorized, "caller lacks the required capability",
		xerrors.WithMetadata("caller", caller.Hex()),
		xerrors.WithMetadata("capability", string(capability)))
}
