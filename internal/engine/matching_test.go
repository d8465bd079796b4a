package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portbt/internal/types"
)

func tickAt(symbol string, t time.Time, last, bid, ask float64) types.Tick {
	tick := types.Tick{
		Symbol:    symbol,
		Time:      t,
		LastPrice: last,
	}
	tick.BidPrice[0] = bid
	tick.AskPrice[0] = ask
	return tick
}

func tickConfig(useLastPrice bool, symbols ...string) Config {
	cfg := testConfig(symbols...)
	cfg.Mode = ModeTick
	cfg.Interval = types.IntervalMinute
	cfg.Matching.UseLastPrice = useLastPrice
	return cfg
}

func TestTickLimitLatency(t *testing.T) {
	base := day(1)
	repo := &fakeRepo{ticks: map[string][]types.Tick{
		"BTCUSDT": {
			tickAt("BTCUSDT", base, 100, 99.9, 100.1),
			tickAt("BTCUSDT", base.Add(400*time.Millisecond), 99, 98.9, 99.1),
			tickAt("BTCUSDT", base.Add(600*time.Millisecond), 99, 98.9, 99.1),
		},
	}}

	s := newScriptStrategy("BTCUSDT")
	s.onTick = func(s *scriptStrategy, tick types.Tick) error {
		if s.tickCount == 1 {
			s.Buy("BTCUSDT", 100, 1)
		}
		return nil
	}

	eng := runBacktest(t, tickConfig(true, "BTCUSDT"), repo, s)
	trades := eng.Trades()
	require.Len(t, trades, 1)
	// +400ms 的行情在报单延迟内被跳过，+600ms 才成交。
	assert.Equal(t, base.Add(600*time.Millisecond), trades[0].Time)
	assert.Equal(t, 100.0, trades[0].Price)
	// 延迟内不推送任何状态。
	assert.Equal(t, []types.Status{types.StatusNotTraded, types.StatusAllTraded}, s.statusLog)
}

func TestTickLimitCrossBook(t *testing.T) {
	base := day(1)
	repo := &fakeRepo{ticks: map[string][]types.Tick{
		"BTCUSDT": {
			tickAt("BTCUSDT", base, 100, 99.9, 100.1),
			// 最新价 98 已低于委托价，但买一 100.5 仍高于委托价：
			// 盘口模式下用买一判断，不成交。
			tickAt("BTCUSDT", base.Add(time.Second), 98, 100.5, 100.7),
			tickAt("BTCUSDT", base.Add(2*time.Second), 98, 99.5, 99.7),
		},
	}}

	s := newScriptStrategy("BTCUSDT")
	s.onTick = func(s *scriptStrategy, tick types.Tick) error {
		if s.tickCount == 1 {
			s.Buy("BTCUSDT", 100, 1)
		}
		return nil
	}

	eng := runBacktest(t, tickConfig(false, "BTCUSDT"), repo, s)
	trades := eng.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, base.Add(2*time.Second), trades[0].Time)
	assert.Equal(t, 100.0, trades[0].Price)
}

func TestTickLimitZeroPriceNoLongFill(t *testing.T) {
	base := day(1)
	repo := &fakeRepo{ticks: map[string][]types.Tick{
		"BTCUSDT": {
			tickAt("BTCUSDT", base, 100, 0, 0),
			tickAt("BTCUSDT", base.Add(time.Second), 0, 0, 0),
			tickAt("BTCUSDT", base.Add(2*time.Second), 0, 0, 0),
		},
	}}

	s := newScriptStrategy("BTCUSDT")
	s.onTick = func(s *scriptStrategy, tick types.Tick) error {
		if s.tickCount == 1 {
			s.Buy("BTCUSDT", 100, 1)
		}
		return nil
	}

	eng := runBacktest(t, tickConfig(true, "BTCUSDT"), repo, s)
	assert.Empty(t, eng.Trades())
	assert.Equal(t, []types.Status{types.StatusNotTraded}, s.statusLog)
}

func TestTickMarketOrderNoLatency(t *testing.T) {
	base := day(1)
	repo := &fakeRepo{ticks: map[string][]types.Tick{
		"BTCUSDT": {
			tickAt("BTCUSDT", base, 100, 99.9, 100.1),
			tickAt("BTCUSDT", base.Add(100*time.Millisecond), 100, 99.8, 100.2),
		},
	}}

	s := newScriptStrategy("BTCUSDT")
	s.onTick = func(s *scriptStrategy, tick types.Tick) error {
		if s.tickCount == 1 {
			s.SendMarketOrder("BTCUSDT", types.DirectionLong, types.OffsetOpen, 1)
		}
		return nil
	}

	eng := runBacktest(t, tickConfig(true, "BTCUSDT"), repo, s)
	trades := eng.Trades()
	require.Len(t, trades, 1)
	// 市价单不受报单延迟限制，下一笔行情即以卖一成交。
	assert.Equal(t, base.Add(100*time.Millisecond), trades[0].Time)
	assert.Equal(t, 100.2, trades[0].Price)
}

func TestMatchingOrderDeterministic(t *testing.T) {
	repo := &fakeRepo{bars: map[string][]types.Bar{
		"BTCUSDT": {
			dailyBar("BTCUSDT", 1, 100, 101, 99, 100),
			dailyBar("BTCUSDT", 2, 100, 101, 90, 100),
		},
	}}

	s := newScriptStrategy("BTCUSDT")
	s.onBars = func(s *scriptStrategy, bars map[string]types.Bar) error {
		if s.barCount == 1 {
			// 同一根 K 线内可成交的多笔委托按委托号顺序撮合。
			s.Buy("BTCUSDT", 95, 1)
			s.Buy("BTCUSDT", 96, 1)
			s.Buy("BTCUSDT", 97, 1)
		}
		return nil
	}

	eng := runBacktest(t, testConfig("BTCUSDT"), repo, s)
	trades := eng.Trades()
	require.Len(t, trades, 3)
	assert.Equal(t, []float64{95, 96, 97}, []float64{trades[0].Price, trades[1].Price, trades[2].Price})
	for i, trade := range trades {
		assert.Equal(t, int64(i+1), trade.ID)
	}
}

func TestCloseWindowDiagnostics(t *testing.T) {
	m := MatchingConfig{}.withDefaults()
	ins := types.Instrument{Symbol: "RB2405", Size: 10}

	// UTC+8 的 14:59 命中收盘窗口。
	window := time.Date(2024, 1, 2, 14, 59, 0, 0, m.CloseWindowZone)
	other := time.Date(2024, 1, 2, 10, 59, 0, 0, m.CloseWindowZone)

	r := NewContractDailyResult(window, 4000)
	r.AddTrade(types.Trade{
		Symbol: "RB2405", Direction: types.DirectionShort, Offset: types.OffsetClose,
		Price: 4000, Volume: 1, Time: window,
	})
	r.AddTrade(types.Trade{
		Symbol: "RB2405", Direction: types.DirectionShort, Offset: types.OffsetClose,
		Price: 4000, Volume: 1, Time: other,
	})
	r.AddTrade(types.Trade{
		Symbol: "RB2405", Direction: types.DirectionLong, Offset: types.OffsetClose,
		Price: 4000, Volume: 1, Time: window,
	})
	r.CalculatePnL(3990, 2, ins, m)

	assert.Equal(t, 1, r.CloseWindow)
	assert.Equal(t, 1, r.CloseOther)
	// 持仓盈亏按昨收盘计：2*(4000-3990)*10。
	assert.InDelta(t, 200.0, r.HoldingPnL, 1e-9)
}

func TestPreCloseDefaultsToOne(t *testing.T) {
	m := MatchingConfig{}.withDefaults()
	r := NewContractDailyResult(day(1), 5)
	r.CalculatePnL(0, 3, types.Instrument{Symbol: "X", Size: 1}, m)
	assert.Equal(t, 1.0, r.PreClose)
	assert.InDelta(t, 12.0, r.HoldingPnL, 1e-9) // 3*(5-1)*1
}
