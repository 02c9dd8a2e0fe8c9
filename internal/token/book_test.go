package token

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func addr(n int64) common.Address {
	return common.BigToAddress(big.NewInt(n))
}

// TestBookMove 测试账本划转与余额不足
func TestBookMove(t *testing.T) {
	book := NewBook()
	asset, alice, bob := addr(10), addr(1), addr(2)
	book.Mint(asset, alice, big.NewInt(100))

	if err := book.Move(asset, alice, bob, big.NewInt(40)); err != nil {
		t.Fatalf("划转失败: %v", err)
	}
	if got := book.Balance(asset, alice); got.Int64() != 60 {
		t.Errorf("alice 余额 = %s，期望 60", got)
	}
	if got := book.Balance(asset, bob); got.Int64() != 40 {
		t.Errorf("bob 余额 = %s，期望 40", got)
	}

	err := book.Move(asset, alice, bob, big.NewInt(1000))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("超额划转应返回 ErrInsufficientBalance，实际 %v", err)
	}
	// 失败的划转不应留下部分效果
	if got := book.Balance(asset, alice); got.Int64() != 60 {
		t.Errorf("失败划转后 alice 余额 = %s，期望 60", got)
	}
}

// TestBookZeroMove 测试零额划转为静默空操作
func TestBookZeroMove(t *testing.T) {
	book := NewBook()
	asset, alice, bob := addr(10), addr(1), addr(2)
	if err := book.Move(asset, alice, bob, big.NewInt(0)); err != nil {
		t.Errorf("零额划转应成功: %v", err)
	}
}

// TestBookTokenView 测试 Token 视图与底层账本一致
func TestBookTokenView(t *testing.T) {
	book := NewBook()
	asset, alice, bob := addr(10), addr(1), addr(2)
	book.Mint(asset, alice, big.NewInt(5))

	tok, err := book.Token(asset)
	if err != nil {
		t.Fatalf("解析 Token 失败: %v", err)
	}
	if err := tok.Transfer(context.Background(), alice, bob, big.NewInt(5)); err != nil {
		t.Fatalf("Token 转账失败: %v", err)
	}
	bal, err := tok.BalanceOf(context.Background(), bob)
	if err != nil {
		t.Fatalf("查询余额失败: %v", err)
	}
	if bal.Int64() != 5 {
		t.Errorf("bob 余额 = %s，期望 5", bal)
	}
	// 返回的余额是副本，改动不应影响账本
	bal.SetInt64(999)
	if got := book.Balance(asset, bob); got.Int64() != 5 {
		t.Errorf("账本余额被外部改动: %s", got)
	}
}
