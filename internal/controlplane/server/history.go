package server

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// History 收割与回收历史库。控制面服务与守护者进程写同一个
// sqlite 文件，各自持有单连接句柄。
type History struct {
	db *sql.DB
}

// OpenHistory 打开（必要时创建）历史库。
func OpenHistory(dbPath string) (*History, error) {
	if dbPath == "" {
		return nil, errors.New("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, errors.Wrap(err, "mkdir db dir")
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	db.SetMaxOpenConns(1) // SQLite：单连接更稳定
	db.SetMaxIdleConns(1)

	h := &History{db: db}
	if err := h.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return h, nil
}

// Close 关闭底层连接。
func (h *History) Close() error {
	return h.db.Close()
}

func (h *History) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS harvests (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ref TEXT NOT NULL,
			asset TEXT NOT NULL,
			caller TEXT NOT NULL,
			gain TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS yearns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ref TEXT NOT NULL,
			strategy TEXT NOT NULL,
			asset TEXT NOT NULL,
			recovered TEXT NOT NULL,
			reinvested TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_harvests_asset ON harvests(asset)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_harvests_ref ON harvests(ref)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_yearns_ref ON yearns(ref)`,
	}
	for _, stmt := range stmts {
		if _, err := h.db.Exec(stmt); err != nil {
			return errors.Wrap(err, "migrate")
		}
	}
	return nil
}

// HarvestRecord 收割历史行
type HarvestRecord struct {
	ID        int64  `json:"id"`
	Ref       string `json:"ref"`
	Asset     string `json:"asset"`
	Caller    string `json:"caller"`
	Gain      string `json:"gain"`
	CreatedAt int64  `json:"created_at"`
}

// YearnRecord 回收历史行
type YearnRecord struct {
	ID         int64  `json:"id"`
	Ref        string `json:"ref"`
	Strategy   string `json:"strategy"`
	Asset      string `json:"asset"`
	Recovered  string `json:"recovered"`
	Reinvested string `json:"reinvested"`
	CreatedAt  int64  `json:"created_at"`
}

// RecordHarvest 落一条收割历史，返回记录引用号。
func (h *History) RecordHarvest(ctx context.Context, asset, caller, gain string) (string, error) {
	ref := uuid.NewString()
	_, err := h.db.ExecContext(ctx,
		`INSERT INTO harvests(ref, asset, caller, gain, created_at) VALUES(?,?,?,?,?)`,
		ref, asset, caller, gain, time.Now().Unix())
	if err != nil {
		return "", errors.Wrap(err, "record harvest")
	}
	return ref, nil
}

// RecordYearn 落一条回收历史，返回记录引用号。
func (h *History) RecordYearn(ctx context.Context, strategy, asset, recovered, reinvested string) (string, error) {
	ref := uuid.NewString()
	_, err := h.db.ExecContext(ctx,
		`INSERT INTO yearns(ref, strategy, asset, recovered, reinvested, created_at) VALUES(?,?,?,?,?,?)`,
		ref, strategy, asset, recovered, reinvested, time.Now().Unix())
	if err != nil {
		return "", errors.Wrap(err, "record yearn")
	}
	return ref, nil
}

// ListHarvests 按时间倒序列出收割历史。
func (h *History) ListHarvests(ctx context.Context, limit int) ([]HarvestRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := h.db.QueryContext(ctx,
		`SELECT id, ref, asset, caller, gain, created_at FROM harvests ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []HarvestRecord
	for rows.Next() {
		var r HarvestRecord
		if err := rows.Scan(&r.ID, &r.Ref, &r.Asset, &r.Caller, &r.Gain, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListYearns 按时间倒序列出回收历史。
func (h *History) ListYearns(ctx context.Context, limit int) ([]YearnRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := h.db.QueryContext(ctx,
		`SELECT id, ref, strategy, asset, recovered, reinvested, created_at FROM yearns ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []YearnRecord
	for rows.Next() {
		var r YearnRecord
		if err := rows.Scan(&r.ID, &r.Ref, &r.Strategy, &r.Asset, &r.Recovered, &r.Reinvested, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Server) handleHarvestHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	records, err := s.hist.ListHarvests(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"harvests": records})
}

func (s *Server) handleYearnHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	records, err := s.hist.ListYearns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"yearns": records})
}
