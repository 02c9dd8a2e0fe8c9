package quotes

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Pricer 面向收割兑换的询价器：把资产地址映射到报价符号，
// 用两条对计价货币的中间价推出 from→to 的参考价，
// 再按滑点容忍度给出最小可接受产出。
type Pricer struct {
	client      *Client
	quoteSymbol string
	slippageBps uint64
	symbols     map[common.Address]string
}

// NewPricer 创建询价器。symbols 是资产地址到报价符号的映射，
// quoteSymbol 是计价货币（如 USDT）。
func NewPricer(client *Client, quoteSymbol string, slippageBps uint64, symbols map[common.Address]string) *Pricer {
	table := make(map[common.Address]string, len(symbols))
	for addr, sym := range symbols {
		if sym != "" {
			table[addr] = sym
		}
	}
	return &Pricer{
		client:      client,
		quoteSymbol: quoteSymbol,
		slippageBps: slippageBps,
		symbols:     table,
	}
}

// MinOut from→to 兑换的最小可接受产出。
// 参考价 = mid(from/计价) ÷ mid(to/计价)。
func (p *Pricer) MinOut(ctx context.Context, amountIn *big.Int, from, to common.Address) (*big.Int, error) {
	fromSym, ok := p.symbols[from]
	if !ok {
		return nil, errors.Errorf("资产 %s 未配置报价符号", from.Hex())
	}
	toSym, ok := p.symbols[to]
	if !ok {
		return nil, errors.Errorf("资产 %s 未配置报价符号", to.Hex())
	}
	if fromSym == toSym {
		return MinOut(amountIn, decimal.New(1, 0), p.slippageBps), nil
	}

	midFrom, err := p.client.MidPrice(ctx, fromSym, p.quoteSymbol)
	if err != nil {
		return nil, errors.Wrapf(err, "查询 %s/%s 中间价失败", fromSym, p.quoteSymbol)
	}
	midTo, err := p.client.MidPrice(ctx, toSym, p.quoteSymbol)
	if err != nil {
		return nil, errors.Wrapf(err, "查询 %s/%s 中间价失败", toSym, p.quoteSymbol)
	}
	return MinOut(amountIn, midFrom.Div(midTo), p.slippageBps), nil
}
