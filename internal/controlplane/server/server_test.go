package server

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubLedger 测试用账本视图。
type stubLedger struct {
	harvestGain *big.Int
	yearn       *YearnOutcome

	lastYearnAsset common.Address
	lastYearnStray common.Address
}

func (l *stubLedger) Assets() []AssetRef {
	return []AssetRef{{Symbol: "HUSD", Token: common.BigToAddress(big.NewInt(0x10))}}
}

func (l *stubLedger) Status(_ context.Context, _ common.Address) (*AssetStatus, error) {
	return &AssetStatus{Symbol: "HUSD"}, nil
}

func (l *stubLedger) TriggerHarvest(_ context.Context, _ common.Address) (*big.Int, error) {
	return new(big.Int).Set(l.harvestGain), nil
}

func (l *stubLedger) TriggerYearn(_ context.Context, asset, stray common.Address) (*YearnOutcome, error) {
	l.lastYearnAsset = asset
	l.lastYearnStray = stray
	return l.yearn, nil
}

func newTestServer(t *testing.T, ledger *stubLedger) *Server {
	t.Helper()
	srv, err := New(Config{
		Listen: ":0",
		DBPath: filepath.Join(t.TempDir(), "history.db"),
	}, ledger)
	require.NoError(t, err, "创建控制面失败")
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func doJSON(t *testing.T, router http.Handler, method, path, body string) (int, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "响应不是合法 JSON")
	}
	return rec.Code, out
}

// TestHarvestEndpointRecordsHistory 测试收割触发落历史并返回引用号
func TestHarvestEndpointRecordsHistory(t *testing.T) {
	ledger := &stubLedger{harvestGain: big.NewInt(9500)}
	srv := newTestServer(t, ledger)
	router := srv.Router()
	token := common.BigToAddress(big.NewInt(0x10)).Hex()

	code, resp := doJSON(t, router, http.MethodPost, "/api/assets/"+token+"/harvest", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "9500", resp["gain"])
	ref, _ := resp["ref"].(string)
	require.NotEmpty(t, ref, "收割响应应带记录引用号")

	code, resp = doJSON(t, router, http.MethodGet, "/api/history/harvests", "")
	require.Equal(t, http.StatusOK, code)
	records := resp["harvests"].([]any)
	require.Len(t, records, 1)
	row := records[0].(map[string]any)
	assert.Equal(t, "9500", row["gain"])
	assert.Equal(t, "api", row["caller"])
	assert.Equal(t, ref, row["ref"], "历史行与响应引用号一致")
}

// TestYearnEndpointRecordsHistory 测试回收触发落历史
func TestYearnEndpointRecordsHistory(t *testing.T) {
	strategyAddr := common.BigToAddress(big.NewInt(0x51))
	ledger := &stubLedger{yearn: &YearnOutcome{
		Strategy:   strategyAddr,
		Recovered:  big.NewInt(1000),
		Reinvested: big.NewInt(950),
	}}
	srv := newTestServer(t, ledger)
	router := srv.Router()
	token := common.BigToAddress(big.NewInt(0x10)).Hex()
	stray := common.BigToAddress(big.NewInt(0x99))

	// 缺 asset 字段时 400
	code, _ := doJSON(t, router, http.MethodPost, "/api/assets/"+token+"/yearn", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp := doJSON(t, router, http.MethodPost, "/api/assets/"+token+"/yearn",
		`{"asset":"`+stray.Hex()+`"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "1000", resp["recovered"])
	assert.Equal(t, "950", resp["reinvested"])
	assert.NotEmpty(t, resp["ref"])
	assert.Equal(t, stray, ledger.lastYearnStray, "回收目标应透传给账本")

	code, resp = doJSON(t, router, http.MethodGet, "/api/history/yearns", "")
	require.Equal(t, http.StatusOK, code)
	records := resp["yearns"].([]any)
	require.Len(t, records, 1)
	row := records[0].(map[string]any)
	assert.Equal(t, strategyAddr.Hex(), row["strategy"])
	assert.Equal(t, "1000", row["recovered"])
	assert.Equal(t, "950", row["reinvested"])
}

// TestHistorySharedWriter 测试守护者进程路径：直接写历史库后可经接口读出
func TestHistorySharedWriter(t *testing.T) {
	ledger := &stubLedger{harvestGain: big.NewInt(0)}
	dbPath := filepath.Join(t.TempDir(), "history.db")
	srv, err := New(Config{Listen: ":0", DBPath: dbPath}, ledger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	hist, err := OpenHistory(dbPath)
	require.NoError(t, err, "第二个写入方打开历史库失败")
	defer hist.Close()
	ref, err := hist.RecordHarvest(context.Background(), "0xabc", "keeper", "123")
	require.NoError(t, err)
	require.NotEmpty(t, ref)

	code, resp := doJSON(t, srv.Router(), http.MethodGet, "/api/history/harvests", "")
	require.Equal(t, http.StatusOK, code)
	records := resp["harvests"].([]any)
	require.Len(t, records, 1)
	row := records[0].(map[string]any)
	assert.Equal(t, "keeper", row["caller"])
	assert.Equal(t, "123", row["gain"])
	assert.Equal(t, ref, row["ref"])
}
