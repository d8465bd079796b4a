package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portbt/internal/engine"
	"portbt/internal/types"
)

const sampleConfig = `
log:
  level: debug
data:
  root: /tmp/market
backtest:
  symbols: [btcusdt]
  interval: 1m
  start: "2024-01-01"
  end: "2024-03-31"
  mode: tick
  capital: 500000
  tick_latency_ms: 300
strategy:
  name: trend
  setting:
    fast_window: 5
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/tmp/market", cfg.Data.Root)
	assert.Equal(t, "tick", cfg.Backtest.Mode)
	assert.Equal(t, 500000.0, cfg.Backtest.Capital)
	assert.Equal(t, "trend", cfg.Strategy.Name)
	assert.Equal(t, 5.0, cfg.Strategy.Setting["fast_window"])

	// 未配置项取默认值。
	assert.Equal(t, "data/results.db", cfg.Data.ResultsDB)
	assert.Equal(t, ":8080", cfg.Server.Listen)
}

func TestLoadRejectsBadConfig(t *testing.T) {
	_, err := Load(writeConfig(t, "backtest:\n  mode: streaming\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "backtest:\n  interval: 3m\n"))
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestEngineConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	instruments := map[string]types.Instrument{
		"BTCUSDT": {Symbol: "BTCUSDT", PriceTick: 0.1, Size: 1},
	}
	ecfg, err := cfg.EngineConfig(instruments)
	require.NoError(t, err)

	assert.Equal(t, []string{"BTCUSDT"}, ecfg.Symbols)
	assert.Equal(t, engine.ModeTick, ecfg.Mode)
	assert.Equal(t, types.IntervalMinute, ecfg.Interval)
	assert.Equal(t, 300*time.Millisecond, ecfg.Matching.TickLatency)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), ecfg.Start)
	// 结束日全天纳入区间。
	assert.True(t, ecfg.End.After(time.Date(2024, 3, 31, 23, 59, 59, 0, time.UTC)))

	// 日期非法时报错。
	cfg.Backtest.Start = "01/01/2024"
	_, err = cfg.EngineConfig(instruments)
	assert.Error(t, err)
}
