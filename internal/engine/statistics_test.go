package engine

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pnlRows(pnls ...float64) []DailyRow {
	rows := make([]DailyRow, len(pnls))
	for i, pnl := range pnls {
		rows[i] = DailyRow{Date: day(i + 1), NetPnL: pnl}
	}
	return rows
}

func TestStatisticsDerivedColumns(t *testing.T) {
	rows := pnlRows(100, -50, 200)
	stats := CalculateStatistics(rows, 1000, 0, 240)

	assert.Equal(t, []float64{1100, 1050, 1250}, []float64{rows[0].Balance, rows[1].Balance, rows[2].Balance})
	assert.Equal(t, []float64{1100, 1100, 1250}, []float64{rows[0].HighLevel, rows[1].HighLevel, rows[2].HighLevel})
	assert.Equal(t, []float64{0, -50, 0}, []float64{rows[0].Drawdown, rows[1].Drawdown, rows[2].Drawdown})

	assert.Equal(t, 0.0, rows[0].Return)
	assert.InDelta(t, math.Log(1050.0/1100.0), rows[1].Return, 1e-12)
	assert.InDelta(t, math.Log(1250.0/1050.0), rows[2].Return, 1e-12)

	assert.Equal(t, 1250.0, stats.EndBalance)
	assert.Equal(t, 250.0, stats.TotalNetPnL)
	assert.Equal(t, 2, stats.ProfitDays)
	assert.Equal(t, 1, stats.LossDays)
	assert.InDelta(t, 25.0, stats.TotalReturn, 1e-9)
	assert.InDelta(t, 25.0/3*240, stats.AnnualReturn, 1e-9)
	assert.InDelta(t, 5.0, stats.ReturnDrawdownRatio, 1e-9) // -250 / -50
}

func TestStatisticsSampleStd(t *testing.T) {
	// 两日等收益：样本标准差为 0，Sharpe 约定取 0。
	rows := []DailyRow{
		{Date: day(1), NetPnL: 0},
		{Date: day(2), NetPnL: 0},
	}
	stats := CalculateStatistics(rows, 1000, 0.02, 240)
	assert.Equal(t, 0.0, stats.ReturnStd)
	assert.Equal(t, 0.0, stats.SharpeRatio)
}

func TestStatisticsSingleDayNoStd(t *testing.T) {
	stats := CalculateStatistics(pnlRows(10), 1000, 0, 240)
	assert.Equal(t, 0.0, stats.ReturnStd)
	assert.Equal(t, 0.0, stats.SharpeRatio)
	assert.Equal(t, 1, stats.TotalDays)
}

func TestStatisticsRuin(t *testing.T) {
	rows := pnlRows(-600, -600, 100)
	stats := CalculateStatistics(rows, 1000, 0, 240)

	require.True(t, stats.Ruined)
	assert.Equal(t, 0.0, stats.EndBalance)
	assert.Equal(t, 0.0, stats.TotalNetPnL)
	assert.Equal(t, 0.0, stats.SharpeRatio)
	assert.Equal(t, 0, stats.TotalDays)
	// 衍生列仍然填充，便于排查爆仓过程。
	assert.Equal(t, 400.0, rows[0].Balance)
	assert.Equal(t, -200.0, rows[1].Balance)
}

func TestStatisticsEmptyRows(t *testing.T) {
	stats := CalculateStatistics(nil, 1000, 0, 240)
	assert.Equal(t, 1000.0, stats.Capital)
	assert.Equal(t, 0, stats.TotalDays)
}

func TestMaxDrawdownDuration(t *testing.T) {
	// 峰值在第 2 天，谷底在第 5 天：最长回撤 3 个自然日。
	rows := pnlRows(100, 100, -50, -100, -150, 50)
	stats := CalculateStatistics(rows, 1000, 0, 240)

	assert.InDelta(t, -300.0, stats.MaxDrawdown, 1e-9)
	assert.Equal(t, 3, stats.MaxDrawdownDuration)
}

func TestMaxDrawdownDurationFirstOccurrence(t *testing.T) {
	// 同深度回撤出现两次，取第一次谷底；峰值取区间内首个最高点。
	rows := pnlRows(100, -100, 100, -100)
	stats := CalculateStatistics(rows, 1000, 0, 240)

	assert.InDelta(t, -100.0, stats.MaxDrawdown, 1e-9)
	// 峰值第 1 天、谷底第 2 天。
	assert.Equal(t, 1, stats.MaxDrawdownDuration)
}

func TestMaxDrawdownDurationCalendarDays(t *testing.T) {
	// 谷底日的首次推送时刻早于峰值日：按自然日相减仍是 1 天，
	// 不能因为不足 24 小时就舍去。
	rows := []DailyRow{
		{Date: time.Date(2024, 1, 1, 15, 0, 0, 0, time.UTC), NetPnL: 100},
		{Date: time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC), NetPnL: -100},
	}
	stats := CalculateStatistics(rows, 1000, 0, 240)

	assert.InDelta(t, -100.0, stats.MaxDrawdown, 1e-9)
	assert.Equal(t, 1, stats.MaxDrawdownDuration)

	// 起止日期同样只保留自然日。
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), stats.StartDate)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), stats.EndDate)
}

func TestStatisticsSanitize(t *testing.T) {
	s := Statistics{SharpeRatio: math.NaN(), ReturnDrawdownRatio: math.Inf(1), TotalReturn: math.Inf(-1)}
	out := sanitize(s)
	assert.Equal(t, 0.0, out.SharpeRatio)
	assert.Equal(t, 0.0, out.ReturnDrawdownRatio)
	assert.Equal(t, 0.0, out.TotalReturn)
}
