package roles

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"math/big"
)

func addr(n int64) common.Address {
	return common.BigToAddress(big.NewInt(n))
}

// TestRequire 测试角色检查
func TestRequire(t *testing.T) {
	gov, strategist, keeper := addr(1), addr(2), addr(3)
	table := NewTable(gov, strategist, keeper)

	if err := table.Require(gov, RoleGovernance); err != nil {
		t.Errorf("治理地址应通过检查: %v", err)
	}
	if err := table.Require(strategist, RoleGovernance, RoleStrategist); err != nil {
		t.Errorf("策略师应通过多角色检查: %v", err)
	}
	err := table.Require(addr(99), RoleGovernance, RoleStrategist, RoleKeeper)
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("陌生地址应返回 ErrUnauthorized，实际 %v", err)
	}
}

// TestZeroAddressNeverAuthorized 测试零地址永不通过
func TestZeroAddressNeverAuthorized(t *testing.T) {
	table := NewTable(addr(1), common.Address{}, addr(3))
	if table.Is(common.Address{}, RoleStrategist) {
		t.Error("零地址不应持有任何角色")
	}
}

// TestSetHolder 测试角色变更仅治理可操作
func TestSetHolder(t *testing.T) {
	gov, strategist, keeper := addr(1), addr(2), addr(3)
	table := NewTable(gov, strategist, keeper)

	if err := table.SetHolder(strategist, RoleKeeper, addr(4)); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("策略师不应能改角色表，实际 %v", err)
	}
	if err := table.SetHolder(gov, RoleKeeper, addr(4)); err != nil {
		t.Fatalf("治理变更角色失败: %v", err)
	}
	if table.Holder(RoleKeeper) != addr(4) {
		t.Errorf("守护者应变更为 %s，实际 %s", addr(4).Hex(), table.Holder(RoleKeeper).Hex())
	}
	if table.Is(keeper, RoleKeeper) {
		t.Error("旧守护者不应再持有角色")
	}
}
