package quotes

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// TestMidPrice 测试询价请求与解析
func TestMidPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/price" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("base") != "HT" || r.URL.Query().Get("quote") != "USDT" {
			http.Error(w, "bad params", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"price":"2.5"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	price, err := client.MidPrice(context.Background(), "HT", "USDT")
	if err != nil {
		t.Fatalf("询价失败: %v", err)
	}
	if !price.Equal(decimal.RequireFromString("2.5")) {
		t.Errorf("价格 = %s，期望 2.5", price)
	}
}

// TestMidPriceErrors 测试接口错误与非法价格
func TestMidPriceErrors(t *testing.T) {
	cases := []struct {
		name string
		body string
		code int
	}{
		{"接口报错", `{"error":"oops"}`, http.StatusInternalServerError},
		{"价格不可解析", `{"price":"abc"}`, http.StatusOK},
		{"价格非正", `{"price":"0"}`, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.code)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			client := NewClient(srv.URL)
			client.client.SetRetryCount(0)
			if _, err := client.MidPrice(context.Background(), "HT", "USDT"); err == nil {
				t.Error("应返回错误")
			}
		})
	}
}

// TestPricerMinOut 测试地址级询价器：参考价 = mid(from)/mid(to)
func TestPricerMinOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prices := map[string]string{"COMP": "10", "HUSD": "2"}
		price, ok := prices[r.URL.Query().Get("base")]
		if !ok || r.URL.Query().Get("quote") != "USDT" {
			http.Error(w, "unknown symbol", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"price":"` + price + `"}`))
	}))
	defer srv.Close()

	comp := common.BigToAddress(big.NewInt(1))
	husd := common.BigToAddress(big.NewInt(2))
	unknown := common.BigToAddress(big.NewInt(3))
	pricer := NewPricer(NewClient(srv.URL), "USDT", 100, map[common.Address]string{
		comp: "COMP",
		husd: "HUSD",
	})

	// 100 COMP → HUSD：价 10/2 = 5，滑点 100 bps：100×5×0.99 = 495
	got, err := pricer.MinOut(context.Background(), big.NewInt(100), comp, husd)
	if err != nil {
		t.Fatalf("询价失败: %v", err)
	}
	if got.Int64() != 495 {
		t.Errorf("MinOut = %s，期望 495", got)
	}

	// 同符号两端按 1:1 只扣滑点
	same := NewPricer(NewClient(srv.URL), "USDT", 100, map[common.Address]string{
		comp: "COMP", husd: "COMP",
	})
	got, err = same.MinOut(context.Background(), big.NewInt(1000), comp, husd)
	if err != nil {
		t.Fatalf("同符号询价失败: %v", err)
	}
	if got.Int64() != 990 {
		t.Errorf("同符号 MinOut = %s，期望 990", got)
	}

	// 未配置符号的资产报错
	if _, err := pricer.MinOut(context.Background(), big.NewInt(100), unknown, husd); err == nil {
		t.Error("未配置符号应报错")
	}
}

// TestMinOut 测试滑点下限计算
func TestMinOut(t *testing.T) {
	price := decimal.RequireFromString("2.5")

	// 1000 × 2.5 × (10000-100)/10000 = 2475
	if got := MinOut(big.NewInt(1000), price, 100); got.Int64() != 2475 {
		t.Errorf("MinOut(1000, 2.5, 100) = %s，期望 2475", got)
	}
	// 零滑点
	if got := MinOut(big.NewInt(1000), price, 0); got.Int64() != 2500 {
		t.Errorf("MinOut(1000, 2.5, 0) = %s，期望 2500", got)
	}
	// 向零截断：33 × 2.5 × 0.99 = 81.675 -> 81
	if got := MinOut(big.NewInt(33), price, 100); got.Int64() != 81 {
		t.Errorf("MinOut(33, 2.5, 100) = %s，期望 81", got)
	}
	// 滑点达到分母时退化为零
	if got := MinOut(big.NewInt(1000), price, 10000); got.Sign() != 0 {
		t.Errorf("全滑点应为零，实际 %s", got)
	}
	if got := MinOut(nil, price, 100); got.Sign() != 0 {
		t.Errorf("nil 输入应为零，实际 %s", got)
	}
	if got := MinOut(big.NewInt(1000), decimal.Zero, 100); got.Sign() != 0 {
		t.Errorf("零价格应为零，实际 %s", got)
	}
}
