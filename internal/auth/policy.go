package auth

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Policy 是内存中的能力表，可并发使用。
type Policy struct {
	mu     sync.RWMutex
	grants map[common.Address]map[Capability]struct{}
}

// NewPolicy 创建空的能力表。
func NewPolicy() *Policy {
	return &Policy{grants: make(map[common.Address]map[Capability]struct{})}
}

// Grant 为 caller 授予所列能力。
func (p *Policy) Grant(caller common.Address, caps ...Capability) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.grants[caller]
	if !ok {
		set = make(map[Capability]struct{}, len(caps))
		p.grants[caller] = set
	}
	for _, c := range caps {
		set[c] = struct{}{}
	}
}

// Revoke 收回 caller 的所列能力。
func (p *Policy) Revoke(caller common.Address, caps ...Capability) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.grants[caller]
	if !ok {
		return
	}
	for _, c := range caps {
		delete(set, c)
	}
	if len(set) == 0 {
		delete(p.grants, caller)
	}
}

// Has 判断 caller 是否持有 capability。
func (p *Policy) Has(caller common.Address, capability Capability) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.grants[caller][capability]
	return ok
}

// Capabilities 返回 caller 持有的能力，按名称排序。
func (p *Policy) Capabilities(caller common.Address) []Capability {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Capability, 0, len(p.grants[caller]))
	for c := range p.grants[caller] {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Authorize 实现 Authorizer。
func (p *Policy) Authorize(_ context.Context, caller common.Address, capability Capability) error {
	if p.Has(caller, capability) {
		return nil
	}
	return unauthorized(caller, capability)
}

// RoleFile 对应角色种子文件。
//
//	grants:
//	  - address: "0x..."
//	    capabilities: [scorer, enforcer]
type RoleFile struct {
	Grants []RoleGrant `yaml:"grants"`
}

// RoleGrant 为单个地址分配能力。
type RoleGrant struct {
	Address      string   `yaml:"address"`
	Capabilities []string `yaml:"capabilities"`
}

// LoadRoleFile 解析 YAML 角色种子文件。路径为空时返回空授权。
func LoadRoleFile(path string) (RoleFile, error) {
	if strings.TrimSpace(path) == "" {
		return RoleFile{}, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return RoleFile{}, fmt.Errorf("read roles file: %w", err)
	}
	var file RoleFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return RoleFile{}, fmt.Errorf("parse roles file: %w", err)
	}
	return file, nil
}

// Apply 应用种子文件中的全部授权。地址或能力无效时整体拒绝，不做部分授权。
func (p *Policy) Apply(file RoleFile) error {
	type entry struct {
		addr common.Address
		caps []Capability
	}
	entries := make([]entry, 0, len(file.Grants))
	for _, g := range file.Grants {
		if !common.IsHexAddress(g.Address) {
			return fmt.Errorf("invalid address in roles file: %q", g.Address)
		}
		caps := make([]Capability, 0, len(g.Capabilities))
		for _, raw := range g.Capabilities {
			c, ok := ParseCapability(raw)
			if !ok {
				return fmt.Errorf("unknown capability %q for %s", raw, g.Address)
			}
			caps = append(caps, c)
		}
		entries = append(entries, entry{addr: common.HexToAddress(g.Address), caps: caps})
	}
	for _, e := range entries {
		p.Grant(e.addr, e.caps...)
	}
	return nil
}
