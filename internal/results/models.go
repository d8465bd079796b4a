package results

import (
	"gorm.io/datatypes"
)

// RunStatus 回测任务状态。
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusFinished RunStatus = "finished"
	RunStatusFailed   RunStatus = "failed"
)

// RunModel 一次回测任务的元信息与统计结果。
type RunModel struct {
	RunID     string         `gorm:"column:run_id;primaryKey"`
	Strategy  string         `gorm:"column:strategy"`
	Symbols   string         `gorm:"column:symbols"` // 逗号分隔
	Interval  string         `gorm:"column:interval"`
	Mode      string         `gorm:"column:mode"`
	StartUnix int64          `gorm:"column:start_at"`
	EndUnix   int64          `gorm:"column:end_at"`
	Capital   float64        `gorm:"column:capital"`
	Status    RunStatus      `gorm:"column:status;index"`
	Error     string         `gorm:"column:error"`
	Config    datatypes.JSON `gorm:"column:config_json;type:TEXT"`
	Stats     datatypes.JSON `gorm:"column:stats_json;type:TEXT"`

	CreatedAtUnix int64 `gorm:"column:created_at"`
	UpdatedAtUnix int64 `gorm:"column:updated_at"`
}

func (RunModel) TableName() string { return "backtest_runs" }

// DailyRowModel 回测任务的逐日盯市结果。
type DailyRowModel struct {
	ID    int64  `gorm:"column:id;primaryKey"`
	RunID string `gorm:"column:run_id;uniqueIndex:idx_run_date,priority:1"`
	Date  string `gorm:"column:date;uniqueIndex:idx_run_date,priority:2"` // 2006-01-02

	TradeCount  int     `gorm:"column:trade_count"`
	Turnover    float64 `gorm:"column:turnover"`
	Commission  float64 `gorm:"column:commission"`
	Slippage    float64 `gorm:"column:slippage"`
	TradingPnL  float64 `gorm:"column:trading_pnl"`
	HoldingPnL  float64 `gorm:"column:holding_pnl"`
	TotalPnL    float64 `gorm:"column:total_pnl"`
	NetPnL      float64 `gorm:"column:net_pnl"`
	CloseWindow int     `gorm:"column:window_close_count"`
	CloseOther  int     `gorm:"column:other_close_count"`

	Balance   float64 `gorm:"column:balance"`
	Return    float64 `gorm:"column:return"`
	HighLevel float64 `gorm:"column:high_level"`
	Drawdown  float64 `gorm:"column:drawdown"`
	DDPercent float64 `gorm:"column:dd_percent"`
}

func (DailyRowModel) TableName() string { return "backtest_daily_results" }

// TradeModel 回测任务的成交记录。
type TradeModel struct {
	ID      int64  `gorm:"column:id;primaryKey"`
	RunID   string `gorm:"column:run_id;uniqueIndex:idx_run_trade,priority:1"`
	TradeID int64  `gorm:"column:trade_id;uniqueIndex:idx_run_trade,priority:2"`

	OrderID   int64   `gorm:"column:order_id"`
	Symbol    string  `gorm:"column:symbol"`
	Direction string  `gorm:"column:direction"`
	Offset    string  `gorm:"column:offset"`
	Price     float64 `gorm:"column:price"`
	Volume    float64 `gorm:"column:volume"`
	TimeUnix  int64   `gorm:"column:traded_at"` // 毫秒
}

func (TradeModel) TableName() string { return "backtest_trades" }
