package engine

import (
	"sort"
	"time"

	"portbt/internal/logger"
	"portbt/internal/types"
)

// ContractDailyResult 单合约单日盯市结果。
type ContractDailyResult struct {
	Date       time.Time
	ClosePrice float64
	PreClose   float64

	Trades      []types.Trade
	TradeCount  int
	CloseWindow int // 收盘窗口内的空头平仓笔数
	CloseOther  int // 其余空头平仓笔数

	StartPos float64
	EndPos   float64

	Turnover   float64
	Commission float64
	Slippage   float64

	TradingPnL float64
	HoldingPnL float64
	TotalPnL   float64
	NetPnL     float64
}

// NewContractDailyResult 构造单合约日结果。
func NewContractDailyResult(date time.Time, closePrice float64) *ContractDailyResult {
	return &ContractDailyResult{Date: date, ClosePrice: closePrice}
}

// AddTrade 登记当日成交。
func (r *ContractDailyResult) AddTrade(trade types.Trade) {
	r.Trades = append(r.Trades, trade)
}

// CalculatePnL 计算单合约当日盈亏。preClose 为 0 时以 1 代替，
// 避免后续除法运算退化。
func (r *ContractDailyResult) CalculatePnL(preClose, startPos float64, ins types.Instrument, m MatchingConfig) {
	if preClose != 0 {
		r.PreClose = preClose
	} else {
		r.PreClose = 1
	}

	r.StartPos = startPos
	r.EndPos = startPos
	r.HoldingPnL = r.StartPos * (r.ClosePrice - r.PreClose) * ins.Size

	r.TradeCount = len(r.Trades)

	for _, trade := range r.Trades {
		posChange := trade.SignedVolume()
		r.EndPos += posChange

		turnover := trade.Volume * ins.Size * trade.Price

		r.TradingPnL += posChange * (r.ClosePrice - trade.Price) * ins.Size
		r.Slippage += trade.Volume * ins.Size * ins.Slippage
		r.Turnover += turnover
		r.Commission += turnover * ins.Rate

		if trade.Direction == types.DirectionShort && trade.Offset == types.OffsetClose {
			if trade.Time.Minute() == m.CloseWindowMinute {
				if trade.Time.In(m.CloseWindowZone).Hour() == m.CloseWindowHour {
					r.CloseWindow++
				} else {
					r.CloseOther++
				}
			} else {
				r.CloseOther++
			}
		}
	}

	r.TotalPnL = r.TradingPnL + r.HoldingPnL
	r.NetPnL = r.TotalPnL - r.Commission - r.Slippage
}

// UpdateClosePrice 更新当日收盘价。
func (r *ContractDailyResult) UpdateClosePrice(closePrice float64) {
	r.ClosePrice = closePrice
}

// PortfolioDailyResult 组合单日盯市结果，汇总各合约并记录
// 结转到下一日的收盘价与持仓。
type PortfolioDailyResult struct {
	Date        time.Time
	ClosePrices map[string]float64
	PreCloses   map[string]float64
	StartPoses  map[string]float64
	EndPoses    map[string]float64

	ContractResults map[string]*ContractDailyResult

	TradeCount  int
	Turnover    float64
	Commission  float64
	Slippage    float64
	TradingPnL  float64
	HoldingPnL  float64
	TotalPnL    float64
	NetPnL      float64
	CloseWindow int
	CloseOther  int
}

// NewPortfolioDailyResult 构造组合日结果。
func NewPortfolioDailyResult(date time.Time, closePrices map[string]float64) *PortfolioDailyResult {
	dr := &PortfolioDailyResult{
		Date:            date,
		ClosePrices:     closePrices,
		PreCloses:       make(map[string]float64),
		StartPoses:      make(map[string]float64),
		EndPoses:        make(map[string]float64),
		ContractResults: make(map[string]*ContractDailyResult),
	}
	for symbol, closePrice := range closePrices {
		dr.ContractResults[symbol] = NewContractDailyResult(date, closePrice)
	}
	return dr
}

// AddTrade 把成交登记到对应合约。
func (dr *PortfolioDailyResult) AddTrade(trade types.Trade) {
	cr, ok := dr.ContractResults[trade.Symbol]
	if !ok {
		cr = NewContractDailyResult(dr.Date, 0)
		dr.ContractResults[trade.Symbol] = cr
	}
	cr.AddTrade(trade)
}

// CalculatePnL 计算组合当日盈亏并汇总各合约字段。
// 合约遍历按 symbol 排序，保证结果可复现。
func (dr *PortfolioDailyResult) CalculatePnL(
	preCloses, startPoses map[string]float64,
	instruments map[string]types.Instrument,
	m MatchingConfig,
) {
	dr.PreCloses = preCloses

	symbols := make([]string, 0, len(dr.ContractResults))
	for symbol := range dr.ContractResults {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	for _, symbol := range symbols {
		cr := dr.ContractResults[symbol]
		cr.CalculatePnL(preCloses[symbol], startPoses[symbol], instruments[symbol], m)

		dr.TradeCount += cr.TradeCount
		dr.Turnover += cr.Turnover
		dr.Commission += cr.Commission
		dr.Slippage += cr.Slippage
		dr.TradingPnL += cr.TradingPnL
		dr.HoldingPnL += cr.HoldingPnL
		dr.TotalPnL += cr.TotalPnL
		dr.NetPnL += cr.NetPnL
		dr.CloseWindow += cr.CloseWindow
		dr.CloseOther += cr.CloseOther

		dr.EndPoses[symbol] = cr.EndPos
	}
}

// UpdateClosePrices 更新当日收盘价，新出现的合约即时建档。
func (dr *PortfolioDailyResult) UpdateClosePrices(closePrices map[string]float64) {
	dr.ClosePrices = closePrices

	for symbol, closePrice := range closePrices {
		if cr, ok := dr.ContractResults[symbol]; ok {
			cr.UpdateClosePrice(closePrice)
		} else {
			dr.ContractResults[symbol] = NewContractDailyResult(dr.Date, closePrice)
		}
	}
}

// DailyRow 日度结果表的一行。Balance 起的衍生列由统计计算填充。
type DailyRow struct {
	Date        time.Time `json:"date"`
	TradeCount  int       `json:"trade_count"`
	Turnover    float64   `json:"turnover"`
	Commission  float64   `json:"commission"`
	Slippage    float64   `json:"slippage"`
	TradingPnL  float64   `json:"trading_pnl"`
	HoldingPnL  float64   `json:"holding_pnl"`
	TotalPnL    float64   `json:"total_pnl"`
	NetPnL      float64   `json:"net_pnl"`
	CloseWindow int       `json:"window_close_count"`
	CloseOther  int       `json:"other_close_count"`

	Balance   float64 `json:"balance"`
	Return    float64 `json:"return"`
	HighLevel float64 `json:"high_level"`
	Drawdown  float64 `json:"drawdown"`
	DDPercent float64 `json:"dd_percent"`
}

// CalculateResult 把成交归入所属交易日，按日期升序级联计算
// 逐日盯市盈亏：每一日消费前一日的收盘价与持仓。
func (e *Engine) CalculateResult() []DailyRow {
	logger.Infof("开始计算逐日盯市盈亏")

	if len(e.trades) == 0 {
		logger.Warnf("成交记录为空，无法计算")
		return nil
	}

	for _, trade := range e.trades {
		if dr, ok := e.dailyResults[dateKey(trade.Time)]; ok {
			dr.AddTrade(trade)
		}
	}

	keys := make([]string, 0, len(e.dailyResults))
	for key := range e.dailyResults {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	preCloses := make(map[string]float64)
	startPoses := make(map[string]float64)
	rows := make([]DailyRow, 0, len(keys))

	for _, key := range keys {
		dr := e.dailyResults[key]
		dr.CalculatePnL(preCloses, startPoses, e.cfg.Instruments, e.cfg.Matching)

		preCloses = dr.ClosePrices
		startPoses = dr.EndPoses

		rows = append(rows, DailyRow{
			Date:        dr.Date,
			TradeCount:  dr.TradeCount,
			Turnover:    dr.Turnover,
			Commission:  dr.Commission,
			Slippage:    dr.Slippage,
			TradingPnL:  dr.TradingPnL,
			HoldingPnL:  dr.HoldingPnL,
			TotalPnL:    dr.TotalPnL,
			NetPnL:      dr.NetPnL,
			CloseWindow: dr.CloseWindow,
			CloseOther:  dr.CloseOther,
		})
	}

	logger.Infof("逐日盯市盈亏计算完成")
	return rows
}

// DailyResults 返回日期升序的组合日结果。
func (e *Engine) DailyResults() []*PortfolioDailyResult {
	keys := make([]string, 0, len(e.dailyResults))
	for key := range e.dailyResults {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]*PortfolioDailyResult, 0, len(keys))
	for _, key := range keys {
		out = append(out, e.dailyResults[key])
	}
	return out
}
