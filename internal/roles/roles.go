// Package roles 权限表组件。
// 治理/策略师/守护者三个特权身份集中在一张角色表里，
// Controller 和 Strategy 在构造时注入同一张表，通过接口检查权限，
// 不在业务代码里散落地址比较。
package roles

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Role 特权角色。
type Role string

const (
	RoleGovernance Role = "governance"
	RoleStrategist Role = "strategist"
	RoleKeeper     Role = "keeper"
)

// ErrUnauthorized 权限错误。与外部依赖错误区分开，调用方可用 errors.Is 判定。
var ErrUnauthorized = errors.New("caller is not authorized")

// Table 角色表。每个角色对应一个持有者地址（与原系统一致的单地址模型），
// 但检查统一走这里，便于替换为多地址实现。
type Table struct {
	mu      sync.RWMutex
	holders map[Role]common.Address
}

// NewTable 创建角色表并登记初始持有者。
func NewTable(governance, strategist, keeper common.Address) *Table {
	return &Table{
		holders: map[Role]common.Address{
			RoleGovernance: governance,
			RoleStrategist: strategist,
			RoleKeeper:     keeper,
		},
	}
}

// Holder 返回角色当前持有者。
func (t *Table) Holder(role Role) common.Address {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.holders[role]
}

// Is 判断 addr 是否持有 role。
func (t *Table) Is(addr common.Address, role Role) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	holder, ok := t.holders[role]
	return ok && holder == addr && addr != (common.Address{})
}

// IsAny 判断 addr 是否持有任一给定角色。
func (t *Table) IsAny(addr common.Address, roleList ...Role) bool {
	for _, role := range roleList {
		if t.Is(addr, role) {
			return true
		}
	}
	return false
}

// Require 要求 addr 持有任一给定角色，否则返回 ErrUnauthorized。
func (t *Table) Require(addr common.Address, roleList ...Role) error {
	if t.IsAny(addr, roleList...) {
		return nil
	}
	return fmt.Errorf("%w: %s requires one of %v", ErrUnauthorized, addr.Hex(), roleList)
}

// SetHolder 变更角色持有者，仅治理可操作。
func (t *Table) SetHolder(caller common.Address, role Role, holder common.Address) error {
	if err := t.Require(caller, RoleGovernance); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.holders[role] = holder
	return nil
}
