package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"portbt/internal/engine"
	"portbt/internal/types"
)

// ErrRunNotFound 指定 run_id 不存在。
var ErrRunNotFound = errors.New("回测任务不存在")

// Store 回测结果仓库，Gorm + SQLite。
type Store struct {
	db *gorm.DB
}

// New 打开（必要时创建）结果数据库。
func New(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("results store: 数据库路径不能为空")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	// CGO_ENABLED=0：通过 modernc.org/sqlite 纯 Go 驱动打开（DSN 的 _pragma 语法即该驱动格式）。
	db, err := gorm.Open(sqlite.Dialector{DriverName: "sqlite", DSN: dsn}, &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&RunModel{}, &DailyRowModel{}, &TradeModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL：允许少量并行读，降低锁竞争。
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

// CreateRun 登记一次新的回测任务，返回生成的 run_id。
func (s *Store) CreateRun(ctx context.Context, strategy string, cfg engine.Config) (string, error) {
	runID := uuid.NewString()
	rawCfg, err := json.Marshal(map[string]any{
		"symbols":     cfg.Symbols,
		"interval":    cfg.Interval,
		"start":       cfg.Start,
		"end":         cfg.End,
		"capital":     cfg.Capital,
		"risk_free":   cfg.RiskFree,
		"annual_days": cfg.AnnualDays,
	})
	if err != nil {
		return "", err
	}

	mode := "bar"
	if cfg.Mode == engine.ModeTick {
		mode = "tick"
	}
	now := time.Now().Unix()
	run := RunModel{
		RunID:         runID,
		Strategy:      strategy,
		Symbols:       strings.Join(cfg.Symbols, ","),
		Interval:      string(cfg.Interval),
		Mode:          mode,
		StartUnix:     cfg.Start.Unix(),
		EndUnix:       cfg.End.Unix(),
		Capital:       cfg.Capital,
		Status:        RunStatusRunning,
		Config:        datatypes.JSON(rawCfg),
		CreatedAtUnix: now,
		UpdatedAtUnix: now,
	}
	if err := s.db.WithContext(ctx).Create(&run).Error; err != nil {
		return "", err
	}
	return runID, nil
}

// FinishRun 写入统计结果并把任务标记为完成。
func (s *Store) FinishRun(ctx context.Context, runID string, stats engine.Statistics) error {
	rawStats, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	return s.updateRun(ctx, runID, map[string]any{
		"status":     RunStatusFinished,
		"stats_json": datatypes.JSON(rawStats),
		"updated_at": time.Now().Unix(),
	})
}

// FailRun 把任务标记为失败并记录原因。
func (s *Store) FailRun(ctx context.Context, runID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return s.updateRun(ctx, runID, map[string]any{
		"status":     RunStatusFailed,
		"error":      msg,
		"updated_at": time.Now().Unix(),
	})
}

func (s *Store) updateRun(ctx context.Context, runID string, fields map[string]any) error {
	tx := s.db.WithContext(ctx).Model(&RunModel{}).Where("run_id = ?", runID).Updates(fields)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrRunNotFound
	}
	return nil
}

// SaveDailyRows 批量写入逐日盯市结果。
func (s *Store) SaveDailyRows(ctx context.Context, runID string, rows []engine.DailyRow) error {
	if len(rows) == 0 {
		return nil
	}
	models := make([]DailyRowModel, 0, len(rows))
	for _, row := range rows {
		models = append(models, DailyRowModel{
			RunID:       runID,
			Date:        row.Date.Format(time.DateOnly),
			TradeCount:  row.TradeCount,
			Turnover:    row.Turnover,
			Commission:  row.Commission,
			Slippage:    row.Slippage,
			TradingPnL:  row.TradingPnL,
			HoldingPnL:  row.HoldingPnL,
			TotalPnL:    row.TotalPnL,
			NetPnL:      row.NetPnL,
			CloseWindow: row.CloseWindow,
			CloseOther:  row.CloseOther,
			Balance:     row.Balance,
			Return:      row.Return,
			HighLevel:   row.HighLevel,
			Drawdown:    row.Drawdown,
			DDPercent:   row.DDPercent,
		})
	}
	return s.db.WithContext(ctx).CreateInBatches(models, 200).Error
}

// SaveTrades 批量写入成交记录。
func (s *Store) SaveTrades(ctx context.Context, runID string, trades []types.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	models := make([]TradeModel, 0, len(trades))
	for _, trade := range trades {
		models = append(models, TradeModel{
			RunID:     runID,
			TradeID:   trade.ID,
			OrderID:   int64(trade.OrderID),
			Symbol:    trade.Symbol,
			Direction: string(trade.Direction),
			Offset:    string(trade.Offset),
			Price:     trade.Price,
			Volume:    trade.Volume,
			TimeUnix:  trade.Time.UnixMilli(),
		})
	}
	return s.db.WithContext(ctx).CreateInBatches(models, 500).Error
}

// GetRun 按 run_id 查询任务。
func (s *Store) GetRun(ctx context.Context, runID string) (RunModel, error) {
	var run RunModel
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return run, ErrRunNotFound
	}
	return run, err
}

// ListRuns 按创建时间倒序列出任务。
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunModel, error) {
	if limit <= 0 {
		limit = 50
	}
	var runs []RunModel
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&runs).Error
	return runs, err
}

// DailyRows 按日期升序返回任务的逐日结果。
func (s *Store) DailyRows(ctx context.Context, runID string) ([]DailyRowModel, error) {
	var rows []DailyRowModel
	err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("date ASC").
		Find(&rows).Error
	return rows, err
}

// Trades 按成交号升序返回任务的成交记录。
func (s *Store) Trades(ctx context.Context, runID string) ([]TradeModel, error) {
	var trades []TradeModel
	err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("trade_id ASC").
		Find(&trades).Error
	return trades, err
}
