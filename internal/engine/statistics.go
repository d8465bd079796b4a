package engine

import (
	"math"
	"time"

	"portbt/internal/logger"
)

// Statistics 回测统计指标。发生爆仓（任一日资金 <= 0）时仅保留
// 衍生列，汇总指标全部置零。
type Statistics struct {
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`

	TotalDays  int `json:"total_days"`
	ProfitDays int `json:"profit_days"`
	LossDays   int `json:"loss_days"`

	Capital    float64 `json:"capital"`
	EndBalance float64 `json:"end_balance"`

	MaxDrawdown         float64 `json:"max_drawdown"`
	MaxDDPercent        float64 `json:"max_dd_percent"`
	MaxDrawdownDuration int     `json:"max_drawdown_duration"`

	TotalNetPnL     float64 `json:"total_net_pnl"`
	DailyNetPnL     float64 `json:"daily_net_pnl"`
	TotalCommission float64 `json:"total_commission"`
	DailyCommission float64 `json:"daily_commission"`
	TotalSlippage   float64 `json:"total_slippage"`
	DailySlippage   float64 `json:"daily_slippage"`
	TotalTurnover   float64 `json:"total_turnover"`
	DailyTurnover   float64 `json:"daily_turnover"`
	TotalTradeCount int     `json:"total_trade_count"`
	DailyTradeCount float64 `json:"daily_trade_count"`

	TotalReturn  float64 `json:"total_return"`
	AnnualReturn float64 `json:"annual_return"`
	DailyReturn  float64 `json:"daily_return"`
	ReturnStd    float64 `json:"return_std"`

	SharpeRatio         float64 `json:"sharpe_ratio"`
	ReturnDrawdownRatio float64 `json:"return_drawdown_ratio"`

	CloseWindow int `json:"window_close_count"`
	CloseOther  int `json:"other_close_count"`

	Ruined bool `json:"ruined"`
}

// CalculateStatistics 基于日期升序的日度结果计算统计指标，
// 并就地填充 rows 的 Balance/Return/HighLevel/Drawdown/DDPercent 列。
func CalculateStatistics(rows []DailyRow, capital, riskFree float64, annualDays int) Statistics {
	logger.Infof("开始计算策略统计指标")

	stats := Statistics{Capital: capital}
	if annualDays <= 0 {
		annualDays = 240
	}
	if len(rows) == 0 {
		return stats
	}

	// 资金曲线与回撤衍生列。
	positiveBalance := true
	balance := capital
	high := math.Inf(-1)
	prevBalance := capital
	for i := range rows {
		balance += rows[i].NetPnL
		rows[i].Balance = balance
		if balance <= 0 {
			positiveBalance = false
		}
		if i == 0 {
			rows[i].Return = 0
		} else {
			rows[i].Return = math.Log(balance / prevBalance)
		}
		prevBalance = balance
		if balance > high {
			high = balance
		}
		rows[i].HighLevel = high
		rows[i].Drawdown = balance - high
		rows[i].DDPercent = rows[i].Drawdown / high * 100
	}

	// 爆仓后无法继续计算统计指标。
	if !positiveBalance {
		logger.Warnf("回测中出现爆仓（资金小于等于0），无法计算策略统计指标")
		stats.Ruined = true
		return sanitize(stats)
	}

	stats.StartDate = calendarDay(rows[0].Date)
	stats.EndDate = calendarDay(rows[len(rows)-1].Date)
	stats.TotalDays = len(rows)

	var sumReturn float64
	ddEnd := 0
	for i, row := range rows {
		if row.NetPnL > 0 {
			stats.ProfitDays++
		} else if row.NetPnL < 0 {
			stats.LossDays++
		}
		stats.TotalNetPnL += row.NetPnL
		stats.TotalCommission += row.Commission
		stats.TotalSlippage += row.Slippage
		stats.TotalTurnover += row.Turnover
		stats.TotalTradeCount += row.TradeCount
		stats.CloseWindow += row.CloseWindow
		stats.CloseOther += row.CloseOther
		sumReturn += row.Return

		if row.Drawdown < stats.MaxDrawdown {
			stats.MaxDrawdown = row.Drawdown
			ddEnd = i
		}
		if row.DDPercent < stats.MaxDDPercent {
			stats.MaxDDPercent = row.DDPercent
		}
	}

	// 最长回撤天数：回撤谷底与此前资金峰值之间的自然日数。
	if stats.MaxDrawdown < 0 {
		ddStart := 0
		for i := 1; i <= ddEnd; i++ {
			if rows[i].Balance > rows[ddStart].Balance {
				ddStart = i
			}
		}
		duration := calendarDay(rows[ddEnd].Date).Sub(calendarDay(rows[ddStart].Date))
		stats.MaxDrawdownDuration = int(duration.Hours() / 24)
	}

	total := float64(stats.TotalDays)
	stats.EndBalance = rows[len(rows)-1].Balance
	stats.DailyNetPnL = stats.TotalNetPnL / total
	stats.DailyCommission = stats.TotalCommission / total
	stats.DailySlippage = stats.TotalSlippage / total
	stats.DailyTurnover = stats.TotalTurnover / total
	stats.DailyTradeCount = float64(stats.TotalTradeCount) / total

	stats.TotalReturn = (stats.EndBalance/capital - 1) * 100
	stats.AnnualReturn = stats.TotalReturn / total * float64(annualDays)
	stats.DailyReturn = sumReturn / total * 100

	// 样本标准差（ddof=1）。
	if len(rows) > 1 {
		mean := sumReturn / total
		var ss float64
		for _, row := range rows {
			d := row.Return - mean
			ss += d * d
		}
		stats.ReturnStd = math.Sqrt(ss/(total-1)) * 100
	}

	if stats.ReturnStd != 0 {
		dailyRiskFree := riskFree / math.Sqrt(float64(annualDays))
		stats.SharpeRatio = (stats.DailyReturn - dailyRiskFree) / stats.ReturnStd * math.Sqrt(float64(annualDays))
	}

	stats.ReturnDrawdownRatio = -stats.TotalNetPnL / stats.MaxDrawdown

	logger.Infof("策略统计指标计算完成")
	return sanitize(stats)
}

// calendarDay 丢弃时刻部分，只保留自然日。日度结果的 Date 带着
// 当日首次推送的时刻，直接相减会在时刻错位时少算一天。
func calendarDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// sanitize 把 NaN 与 ±Inf 统一压成 0，保证指标永远可序列化。
func sanitize(s Statistics) Statistics {
	for _, p := range []*float64{
		&s.EndBalance, &s.MaxDrawdown, &s.MaxDDPercent,
		&s.TotalNetPnL, &s.DailyNetPnL,
		&s.TotalCommission, &s.DailyCommission,
		&s.TotalSlippage, &s.DailySlippage,
		&s.TotalTurnover, &s.DailyTurnover, &s.DailyTradeCount,
		&s.TotalReturn, &s.AnnualReturn, &s.DailyReturn, &s.ReturnStd,
		&s.SharpeRatio, &s.ReturnDrawdownRatio,
	} {
		if math.IsNaN(*p) || math.IsInf(*p, 0) {
			*p = 0
		}
	}
	return s
}

// Log 按原始引擎的格式输出统计报告。
func (s Statistics) Log() {
	logger.Infof("------------------------------")
	logger.Infof("首个交易日：\t%s", s.StartDate.Format(time.DateOnly))
	logger.Infof("最后交易日：\t%s", s.EndDate.Format(time.DateOnly))
	logger.Infof("总交易日：\t%d", s.TotalDays)
	logger.Infof("盈利交易日：\t%d", s.ProfitDays)
	logger.Infof("亏损交易日：\t%d", s.LossDays)
	logger.Infof("起始资金：\t%.2f", s.Capital)
	logger.Infof("结束资金：\t%.2f", s.EndBalance)
	logger.Infof("总收益率：\t%.2f%%", s.TotalReturn)
	logger.Infof("年化收益：\t%.2f%%", s.AnnualReturn)
	logger.Infof("最大回撤: \t%.2f", s.MaxDrawdown)
	logger.Infof("百分比最大回撤: %.2f%%", s.MaxDDPercent)
	logger.Infof("最长回撤天数: \t%d", s.MaxDrawdownDuration)
	logger.Infof("总盈亏：\t%.2f", s.TotalNetPnL)
	logger.Infof("总手续费：\t%.2f", s.TotalCommission)
	logger.Infof("总滑点：\t%.2f", s.TotalSlippage)
	logger.Infof("总成交金额：\t%.2f", s.TotalTurnover)
	logger.Infof("总成交笔数：\t%d", s.TotalTradeCount)
	logger.Infof("日均盈亏：\t%.2f", s.DailyNetPnL)
	logger.Infof("日均手续费：\t%.2f", s.DailyCommission)
	logger.Infof("日均滑点：\t%.2f", s.DailySlippage)
	logger.Infof("日均成交金额：\t%.2f", s.DailyTurnover)
	logger.Infof("日均成交笔数：\t%.2f", s.DailyTradeCount)
	logger.Infof("窗口平仓笔数：\t%d", s.CloseWindow)
	logger.Infof("其他平仓笔数：\t%d", s.CloseOther)
	logger.Infof("日均收益率：\t%.2f%%", s.DailyReturn)
	logger.Infof("收益标准差：\t%.2f%%", s.ReturnStd)
	logger.Infof("Sharpe Ratio：\t%.2f", s.SharpeRatio)
	logger.Infof("收益回撤比：\t%.2f", s.ReturnDrawdownRatio)
}
