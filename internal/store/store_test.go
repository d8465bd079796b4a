package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portbt/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func minuteBar(d int, m int, closePrice float64) types.Bar {
	return types.Bar{
		Symbol:   "BTCUSDT",
		Exchange: "BINANCE",
		Time:     time.Date(2024, 1, d, 10, m, 0, 0, time.UTC),
		Open:     closePrice - 1,
		High:     closePrice + 1,
		Low:      closePrice - 2,
		Close:    closePrice,
		Volume:   10,
	}
}

func TestBarRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	bars := []types.Bar{minuteBar(1, 0, 100), minuteBar(1, 1, 101), minuteBar(1, 2, 102)}
	count, err := s.InsertBars(ctx, "btcusdt", types.IntervalMinute, bars)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	loaded, err := s.LoadBars(ctx, "BTCUSDT", types.IntervalMinute,
		bars[0].Time, bars[2].Time)
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	assert.Equal(t, "BTCUSDT", loaded[0].Symbol)
	assert.Equal(t, 100.0, loaded[0].Close)
	assert.True(t, loaded[0].Time.Equal(bars[0].Time))
	// 升序返回。
	assert.True(t, loaded[1].Time.Before(loaded[2].Time))

	// 闭区间：只取前两根。
	partial, err := s.LoadBars(ctx, "BTCUSDT", types.IntervalMinute,
		bars[0].Time, bars[1].Time)
	require.NoError(t, err)
	assert.Len(t, partial, 2)
}

func TestBarUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	bar := minuteBar(1, 0, 100)
	_, err := s.InsertBars(ctx, "BTCUSDT", types.IntervalMinute, []types.Bar{bar})
	require.NoError(t, err)

	bar.Close = 999
	_, err = s.InsertBars(ctx, "BTCUSDT", types.IntervalMinute, []types.Bar{bar})
	require.NoError(t, err)

	loaded, err := s.LoadBars(ctx, "BTCUSDT", types.IntervalMinute, bar.Time, bar.Time)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, 999.0, loaded[0].Close)
}

func TestEmptyRangeReturnsEmptySlice(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	loaded, err := s.LoadBars(ctx, "BTCUSDT", types.IntervalMinute, time.Now(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.NotNil(t, loaded)
	assert.Empty(t, loaded)

	ticks, err := s.LoadTicks(ctx, "BTCUSDT", time.Now(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.NotNil(t, ticks)
	assert.Empty(t, ticks)
}

func TestTickRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	tick := types.Tick{
		Symbol:    "BTCUSDT",
		Exchange:  "BINANCE",
		Time:      base,
		LastPrice: 100,
		Volume:    5,
	}
	for i := 0; i < types.Depth; i++ {
		tick.BidPrice[i] = 99.9 - float64(i)*0.1
		tick.AskPrice[i] = 100.1 + float64(i)*0.1
		tick.BidVolume[i] = float64(i + 1)
		tick.AskVolume[i] = float64(i + 1)
	}

	count, err := s.InsertTicks(ctx, "BTCUSDT", []types.Tick{tick})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	loaded, err := s.LoadTicks(ctx, "BTCUSDT", base, base)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, 100.0, loaded[0].LastPrice)
	assert.Equal(t, tick.BidPrice, loaded[0].BidPrice)
	assert.Equal(t, tick.AskPrice, loaded[0].AskPrice)
	assert.Equal(t, tick.BidVolume, loaded[0].BidVolume)
}

func TestManifest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.InsertBars(ctx, "BTCUSDT", types.IntervalMinute,
		[]types.Bar{minuteBar(1, 0, 100), minuteBar(1, 1, 101)})
	require.NoError(t, err)

	m, err := s.Manifest(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", m.Symbol)
	assert.Equal(t, int64(2), m.BarRows)
	assert.Equal(t, int64(0), m.TickRows)
	assert.NotZero(t, m.LastSyncAt)
}
