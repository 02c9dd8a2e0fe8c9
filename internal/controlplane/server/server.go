// Package server 控制面服务：暴露注册表/余额/费率的只读接口、
// 手动触发收割与回收的入口，并把收割与回收历史落到 sqlite。
package server

import (
	"context"
	"errors"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

// Config 服务配置
type Config struct {
	Listen string
	DBPath string
}

// AssetRef 在管资产引用
type AssetRef struct {
	Symbol string
	Token  common.Address
}

// AssetStatus 单资产状态快照
type AssetStatus struct {
	Symbol        string `json:"symbol"`
	Token         string `json:"token"`
	Vault         string `json:"vault"`
	Strategy      string `json:"strategy"`
	Idle          string `json:"idle"`
	Pooled        string `json:"pooled"`
	Total         string `json:"total"`
	StrategistBps uint64 `json:"strategist_bps"`
	HarvestBps    uint64 `json:"harvest_bps"`
	WithdrawalBps uint64 `json:"withdrawal_bps"`
}

// YearnOutcome 一次回收的结果。
type YearnOutcome struct {
	Strategy   common.Address
	Recovered  *big.Int
	Reinvested *big.Int
}

// Ledger 控制面对账本核心的视图。
type Ledger interface {
	Assets() []AssetRef
	Status(ctx context.Context, asset common.Address) (*AssetStatus, error)
	// TriggerHarvest 以守护者身份对资产的激活策略执行一次收割，返回本次增益。
	TriggerHarvest(ctx context.Context, asset common.Address) (*big.Int, error)
	// TriggerYearn 以策略师身份回收资产激活策略里滞留的 stray 代币。
	TriggerYearn(ctx context.Context, asset, stray common.Address) (*YearnOutcome, error)
}

// Server 控制面服务
type Server struct {
	cfg    Config
	hist   *History
	ledger Ledger
}

// New 创建服务并初始化历史库。
func New(cfg Config, ledger Ledger) (*Server, error) {
	if ledger == nil {
		return nil, errors.New("ledger is required")
	}
	hist, err := OpenHistory(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	return &Server{cfg: cfg, hist: hist, ledger: ledger}, nil
}

// Close 关闭底层资源。
func (s *Server) Close() error {
	if s.hist != nil {
		return s.hist.Close()
	}
	return nil
}

// Router 组装路由。
func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api")
	api.GET("/assets", s.handleAssets)
	api.GET("/assets/:token/status", s.handleStatus)
	api.GET("/history/harvests", s.handleHarvestHistory)
	api.GET("/history/yearns", s.handleYearnHistory)
	api.POST("/assets/:token/harvest", s.handleHarvest)
	api.POST("/assets/:token/yearn", s.handleYearn)
	return r
}

// Run 启动 HTTP 服务直至 ctx 取消。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.Listen, Handler: s.Router()}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case <-ctx.Done():
		_ = srv.Close()
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleAssets(c *gin.Context) {
	refs := s.ledger.Assets()
	out := make([]gin.H, 0, len(refs))
	for _, ref := range refs {
		out = append(out, gin.H{"symbol": ref.Symbol, "token": ref.Token.Hex()})
	}
	c.JSON(http.StatusOK, gin.H{"assets": out})
}

func (s *Server) handleStatus(c *gin.Context) {
	token := common.HexToAddress(c.Param("token"))
	status, err := s.ledger.Status(c.Request.Context(), token)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleHarvest(c *gin.Context) {
	token := common.HexToAddress(c.Param("token"))
	gain, err := s.ledger.TriggerHarvest(c.Request.Context(), token)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ref, err := s.hist.RecordHarvest(c.Request.Context(), token.Hex(), "api", gain.String())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"gain": gain.String(), "ref": ref})
}

type yearnRequest struct {
	Asset string `json:"asset" binding:"required"`
}

func (s *Server) handleYearn(c *gin.Context) {
	token := common.HexToAddress(c.Param("token"))
	var req yearnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	stray := common.HexToAddress(req.Asset)
	outcome, err := s.ledger.TriggerYearn(c.Request.Context(), token, stray)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ref, err := s.hist.RecordYearn(c.Request.Context(),
		outcome.Strategy.Hex(), stray.Hex(), outcome.Recovered.String(), outcome.Reinvested.String())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"recovered":  outcome.Recovered.String(),
		"reinvested": outcome.Reinvested.String(),
		"ref":        ref,
	})
}
