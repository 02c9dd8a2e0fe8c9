package market

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/yieldbot/goyield/internal/domain"
	"github.com/yieldbot/goyield/internal/token"
)

func addr(n int64) common.Address {
	return common.BigToAddress(big.NewInt(n))
}

func newTestAdapter(t *testing.T) (*Adapter, *SimMarket, *token.Book, common.Address) {
	t.Helper()
	book := token.NewBook()
	want, ctoken, reward := addr(10), addr(11), addr(12)
	wn := addr(13)
	holder, marketAddr, venueAddr := addr(1), addr(2), addr(3)

	sim := NewSimMarket(book, marketAddr, holder, want, ctoken, reward)
	venue := NewSimVenue(book, venueAddr)
	adapter, err := NewAdapter(AdapterConfig{
		Want:          want,
		WrappedNative: wn,
		Market:        sim,
		Claimer:       sim,
		Venue:         venue,
	})
	if err != nil {
		t.Fatalf("创建适配器失败: %v", err)
	}
	return adapter, sim, book, holder
}

// TestPooledValue 测试在池价值 = 份额 × 汇率 / 1e18
func TestPooledValue(t *testing.T) {
	adapter, sim, book, holder := newTestAdapter(t)
	ctx := context.Background()
	book.Mint(addr(10), holder, big.NewInt(1000))

	if err := adapter.Deposit(ctx, big.NewInt(1000)); err != nil {
		t.Fatalf("存入失败: %v", err)
	}
	pooled, err := adapter.PooledValue(ctx)
	if err != nil {
		t.Fatalf("读取在池价值失败: %v", err)
	}
	if pooled.Int64() != 1000 {
		t.Errorf("在池价值 = %s，期望 1000", pooled)
	}

	// 汇率涨 10% 后在池价值同步上浮，且无需任何市场交互
	rate := new(big.Int).Mul(domain.ExchangeRateScale, big.NewInt(11))
	rate.Div(rate, big.NewInt(10))
	sim.SetExchangeRate(rate)
	pooled, err = adapter.PooledValue(ctx)
	if err != nil {
		t.Fatalf("读取在池价值失败: %v", err)
	}
	if pooled.Int64() != 1100 {
		t.Errorf("汇率上浮后在池价值 = %s，期望 1100", pooled)
	}
}

// TestRedeemLimited 测试市场限额下赎回少付不报错
func TestRedeemLimited(t *testing.T) {
	adapter, sim, book, holder := newTestAdapter(t)
	ctx := context.Background()
	want := addr(10)
	book.Mint(want, holder, big.NewInt(1000))

	if err := adapter.Deposit(ctx, big.NewInt(1000)); err != nil {
		t.Fatalf("存入失败: %v", err)
	}
	sim.SetRedeemLimit(big.NewInt(300))
	if err := adapter.Redeem(ctx, big.NewInt(800)); err != nil {
		t.Fatalf("赎回失败: %v", err)
	}
	if got := book.Balance(want, holder); got.Int64() != 300 {
		t.Errorf("限额赎回到账 = %s，期望 300", got)
	}
}

// TestSwapDeadline 测试过期兑换窗口直接失败
func TestSwapDeadline(t *testing.T) {
	adapter, _, _, holder := newTestAdapter(t)
	ctx := context.Background()
	path := []common.Address{addr(10), addr(13)}

	err := adapter.Swap(ctx, big.NewInt(100), new(big.Int), path, holder, time.Now().Add(-time.Second))
	if !errors.Is(err, ErrDeadlineElapsed) {
		t.Errorf("过期窗口应返回 ErrDeadlineElapsed，实际 %v", err)
	}
}

// TestPath 测试兑换路径构造
func TestPath(t *testing.T) {
	a, b, wn := addr(1), addr(2), addr(3)
	if got := Path(a, b, wn); len(got) != 3 || got[1] != wn {
		t.Errorf("非原生两端应经包裹原生中转，实际 %v", got)
	}
	if got := Path(a, wn, wn); len(got) != 2 {
		t.Errorf("一端为包裹原生时应直连，实际 %v", got)
	}
	if got := Path(wn, b, wn); len(got) != 2 {
		t.Errorf("一端为包裹原生时应直连，实际 %v", got)
	}
}

// TestNativeWantRequiresWrapper 测试原生 want 缺包裹器时报错
func TestNativeWantRequiresWrapper(t *testing.T) {
	book := token.NewBook()
	wn := addr(13)
	sim := NewSimMarket(book, addr(2), addr(1), wn, addr(11), addr(12))
	venue := NewSimVenue(book, addr(3))
	_, err := NewAdapter(AdapterConfig{
		Want:          wn,
		WrappedNative: wn,
		Market:        sim,
		Claimer:       sim,
		Venue:         venue,
	})
	if err == nil {
		t.Error("want 为包裹原生资产且缺包裹器时应报错")
	}
}

// TestSimVenueQuoteAndSwap 测试模拟场所的询价与成交一致
func TestSimVenueQuoteAndSwap(t *testing.T) {
	book := token.NewBook()
	venue := NewSimVenue(book, addr(3))
	a, wn, b := addr(20), addr(21), addr(22)
	holder := addr(1)
	venue.SetPrice(a, wn, big.NewRat(2, 1))
	venue.SetPrice(wn, b, big.NewRat(3, 1))
	book.Mint(a, holder, big.NewInt(100))

	ctx := context.Background()
	amounts, err := venue.Quote(ctx, big.NewInt(100), []common.Address{a, wn, b})
	if err != nil {
		t.Fatalf("询价失败: %v", err)
	}
	if amounts[len(amounts)-1].Int64() != 600 {
		t.Errorf("询价产出 = %s，期望 600", amounts[len(amounts)-1])
	}

	err = venue.Swap(ctx, big.NewInt(100), big.NewInt(601), []common.Address{a, wn, b}, holder, time.Now().Add(time.Minute))
	if err == nil {
		t.Error("产出低于 minOut 时应失败")
	}
	if err := venue.Swap(ctx, big.NewInt(100), big.NewInt(600), []common.Address{a, wn, b}, holder, time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("兑换失败: %v", err)
	}
	if got := book.Balance(b, holder); got.Int64() != 600 {
		t.Errorf("兑换到账 = %s，期望 600", got)
	}
	if got := book.Balance(a, holder); got.Sign() != 0 {
		t.Errorf("输入应全额扣除，剩余 %s", got)
	}
}
