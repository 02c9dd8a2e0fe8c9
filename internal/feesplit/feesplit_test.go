package feesplit

import (
	"math/big"
	"testing"
)

// TestIndependent 测试独立费率计算
func TestIndependent(t *testing.T) {
	cases := []struct {
		name    string
		gross   int64
		rateBps uint64
		want    int64
	}{
		{"提现费50bps", 1000, 50, 5},
		{"向零截断", 999, 50, 4}, // 999*50/10000 = 4.995 -> 4
		{"零费率", 1000, 0, 0},
		{"零总额", 0, 50, 0},
		{"全额费率", 1000, 10000, 1000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Independent(big.NewInt(tc.gross), tc.rateBps)
			if got.Int64() != tc.want {
				t.Errorf("Independent(%d, %d) = %s，期望 %d", tc.gross, tc.rateBps, got, tc.want)
			}
		})
	}
}

// TestProportional 测试比例分摊：总费按各费率占比切分
func TestProportional(t *testing.T) {
	// 参考场景：结算余额 10000，策略师 450 bps，收割者 50 bps
	// 总费 = 10000*500/10000 = 500，策略师 450，收割者 50
	total, shares := Proportional(big.NewInt(10000), 450, 50)
	if total.Int64() != 500 {
		t.Fatalf("总费 = %s，期望 500", total)
	}
	if shares[0].Int64() != 450 {
		t.Errorf("策略师份额 = %s，期望 450", shares[0])
	}
	if shares[1].Int64() != 50 {
		t.Errorf("收割者份额 = %s，期望 50", shares[1])
	}
}

// TestProportionalRemainder 测试截断余数归最后一位受益人
func TestProportionalRemainder(t *testing.T) {
	// gross=1001, rates=333+333: total = 1001*666/10000 = 66
	// 第一份 = 66*333/666 = 33，最后一份补足 = 66-33 = 33
	total, shares := Proportional(big.NewInt(1001), 333, 333)
	if total.Int64() != 66 {
		t.Fatalf("总费 = %s，期望 66", total)
	}
	sum := new(big.Int).Add(shares[0], shares[1])
	if sum.Cmp(total) != 0 {
		t.Errorf("份额之和 %s != 总费 %s", sum, total)
	}

	// 非均分费率下最后一份吃掉截断余数
	total, shares = Proportional(big.NewInt(1000), 100, 7)
	// total = 1000*107/10000 = 10；share0 = 10*100/107 = 9；share1 = 1
	if total.Int64() != 10 || shares[0].Int64() != 9 || shares[1].Int64() != 1 {
		t.Errorf("Proportional(1000,100,7) = total=%s shares=[%s,%s]，期望 10/[9,1]", total, shares[0], shares[1])
	}
}

// TestProportionalZero 测试零输入的静默行为
func TestProportionalZero(t *testing.T) {
	total, shares := Proportional(big.NewInt(0), 450, 50)
	if total.Sign() != 0 || shares[0].Sign() != 0 || shares[1].Sign() != 0 {
		t.Errorf("零总额应全零，实际 total=%s shares=[%s,%s]", total, shares[0], shares[1])
	}
	total, shares = Proportional(big.NewInt(10000), 0, 0)
	if total.Sign() != 0 || shares[0].Sign() != 0 || shares[1].Sign() != 0 {
		t.Errorf("零费率应全零，实际 total=%s shares=[%s,%s]", total, shares[0], shares[1])
	}
}

// TestProportionalDust 测试尘埃可见：gross - total 留在本金
func TestProportionalDust(t *testing.T) {
	gross := big.NewInt(9999)
	total, _ := Proportional(gross, 450, 50)
	// 9999*500/10000 = 499（截断），本金保留 9999-499 = 9500
	if total.Int64() != 499 {
		t.Fatalf("总费 = %s，期望 499", total)
	}
	principal := new(big.Int).Sub(gross, total)
	if principal.Int64() != 9500 {
		t.Errorf("本金余量 = %s，期望 9500", principal)
	}
}
