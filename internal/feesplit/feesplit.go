// Package feesplit 纯计算：按 bps 费率切分总额。
// 所有除法向零截断，不做余数补偿；截断产生的尘埃留在最后计算的一方（本金）。
package feesplit

import (
	"math/big"

	"github.com/yieldbot/goyield/internal/domain"
)

// Independent 独立费率：gross * rateBps / 10000。
// 用于提现手续费这类相对总额独立收取的费。
func Independent(gross *big.Int, rateBps uint64) *big.Int {
	if gross == nil || gross.Sign() <= 0 || rateBps == 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(gross, new(big.Int).SetUint64(rateBps))
	return out.Div(out, big.NewInt(domain.FeeDenominator))
}

// Proportional 比例分摊：先取 total = gross * Σrates / 10000，
// 再按各费率在 Σrates 中的占比切分 total。
// 前 n-1 份向零截断，最后一份取补足（total - 已分配），
// 与参考行为一致：截断余数归最后一位受益人，而不是留在本金。
// 返回 total 与各份额；rates 全零或 gross 非正时全部为零。
func Proportional(gross *big.Int, ratesBps ...uint64) (total *big.Int, shares []*big.Int) {
	shares = make([]*big.Int, len(ratesBps))
	for i := range shares {
		shares[i] = new(big.Int)
	}
	total = new(big.Int)
	if gross == nil || gross.Sign() <= 0 || len(ratesBps) == 0 {
		return total, shares
	}

	var sum uint64
	for _, r := range ratesBps {
		sum += r
	}
	if sum == 0 {
		return total, shares
	}

	total.Mul(gross, new(big.Int).SetUint64(sum))
	total.Div(total, big.NewInt(domain.FeeDenominator))

	allocated := new(big.Int)
	for i, r := range ratesBps[:len(ratesBps)-1] {
		share := new(big.Int).Mul(total, new(big.Int).SetUint64(r))
		share.Div(share, new(big.Int).SetUint64(sum))
		shares[i] = share
		allocated.Add(allocated, share)
	}
	shares[len(ratesBps)-1] = new(big.Int).Sub(total, allocated)
	return total, shares
}
