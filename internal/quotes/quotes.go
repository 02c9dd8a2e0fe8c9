// Package quotes 链下询价客户端。
// 守护者在定时收割前用它核对收割的预期产出是否值得执行；
// 链上兑换的权威报价仍然来自兑换场所本身，这里只做参考价与滑点下限计算。
package quotes

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/yieldbot/goyield/internal/domain"
)

// Client 价格 API 客户端。
type Client struct {
	client *resty.Client
}

// NewClient 创建客户端。resty 自动读取环境变量中的代理配置。
func NewClient(host string) *Client {
	host = strings.TrimSuffix(host, "/")
	client := resty.New().
		SetBaseURL(host).
		SetTimeout(15 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second)
	return &Client{client: client}
}

type priceResponse struct {
	Price string `json:"price"`
}

// MidPrice 查询 base/quote 的中间价。
func (c *Client) MidPrice(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	var out priceResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("base", base).
		SetQueryParam("quote", quote).
		SetResult(&out).
		Get("/price")
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "询价请求失败")
	}
	if resp.IsError() {
		return decimal.Zero, errors.Errorf("询价接口返回 %d: %s", resp.StatusCode(), resp.String())
	}
	price, err := decimal.NewFromString(out.Price)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "解析价格 %q 失败", out.Price)
	}
	if price.Sign() <= 0 {
		return decimal.Zero, errors.Errorf("价格非正: %s", price)
	}
	return price, nil
}

// MinOut 按参考价与滑点容忍度（bps）计算兑换的最小可接受产出。
// amountIn × price × (10000 - slippageBps) / 10000，向零截断。
func MinOut(amountIn *big.Int, price decimal.Decimal, slippageBps uint64) *big.Int {
	if amountIn == nil || amountIn.Sign() <= 0 || price.Sign() <= 0 || slippageBps >= domain.FeeDenominator {
		return new(big.Int)
	}
	in := decimal.NewFromBigInt(amountIn, 0)
	factor := decimal.NewFromInt(int64(domain.FeeDenominator) - int64(slippageBps)).
		Div(decimal.NewFromInt(domain.FeeDenominator))
	out := in.Mul(price).Mul(factor)
	return out.BigInt()
}
