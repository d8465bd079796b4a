package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portbt/internal/types"
)

func TestOptimizationParamValues(t *testing.T) {
	p := OptimizationParam{Name: "n", Start: 5, End: 15, Step: 5}
	assert.Equal(t, []float64{5, 10, 15}, p.Values())

	// 浮点步长的终点也要包含。
	p = OptimizationParam{Name: "n", Start: 0.1, End: 0.3, Step: 0.1}
	values := p.Values()
	require.Len(t, values, 3)
	assert.InDelta(t, 0.3, values[2], 1e-9)

	// 非法步长退化为单值。
	p = OptimizationParam{Name: "n", Start: 7}
	assert.Equal(t, []float64{7}, p.Values())
}

func TestOptimizationSettingGenerate(t *testing.T) {
	setting := OptimizationSetting{
		Target: "sharpe_ratio",
		Params: []OptimizationParam{
			{Name: "slow", Start: 20, End: 30, Step: 10},
			{Name: "fast", Start: 5, End: 10, Step: 5},
		},
	}
	require.NoError(t, setting.Validate())

	combos := setting.Generate()
	require.Len(t, combos, 4)
	// 参数名排序后展开，顺序确定。
	assert.Equal(t, map[string]float64{"fast": 5, "slow": 20}, combos[0])
	assert.Equal(t, map[string]float64{"fast": 5, "slow": 30}, combos[1])
	assert.Equal(t, map[string]float64{"fast": 10, "slow": 20}, combos[2])
	assert.Equal(t, map[string]float64{"fast": 10, "slow": 30}, combos[3])
}

func TestOptimizationSettingValidate(t *testing.T) {
	// 参数为空。
	err := OptimizationSetting{Target: "sharpe_ratio"}.Validate()
	assert.Error(t, err)

	// 只有一个组合没有寻优意义。
	err = OptimizationSetting{
		Target: "sharpe_ratio",
		Params: []OptimizationParam{{Name: "n", Start: 5}},
	}.Validate()
	assert.Error(t, err)

	// 未知优化目标。
	err = OptimizationSetting{
		Target: "bogus",
		Params: []OptimizationParam{{Name: "n", Start: 5, End: 10, Step: 5}},
	}.Validate()
	assert.Error(t, err)
}

func TestTargetValue(t *testing.T) {
	stats := Statistics{SharpeRatio: 1.5, TotalReturn: 20, MaxDrawdown: -300}
	v, err := TargetValue(stats, "sharpe_ratio")
	require.NoError(t, err)
	assert.Equal(t, 1.5, v)

	v, err = TargetValue(stats, "max_drawdown")
	require.NoError(t, err)
	assert.Equal(t, -300.0, v)

	_, err = TargetValue(stats, "nope")
	assert.Error(t, err)
}

func TestLoadOptimizationSetting(t *testing.T) {
	dir := t.TempDir()

	valid := filepath.Join(dir, "ok.json")
	require.NoError(t, os.WriteFile(valid, []byte(`{
		"target": "sharpe_ratio",
		"params": [{"name": "fast", "start": 5, "end": 10, "step": 5}]
	}`), 0o644))
	setting, err := LoadOptimizationSetting(valid)
	require.NoError(t, err)
	assert.Equal(t, "sharpe_ratio", setting.Target)
	require.Len(t, setting.Params, 1)

	// schema 拒绝未知字段。
	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{
		"target": "sharpe_ratio",
		"params": [{"name": "fast", "start": 5}],
		"bogus": 1
	}`), 0o644))
	_, err = LoadOptimizationSetting(bad)
	assert.Error(t, err)

	_, err = LoadOptimizationSetting(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestSettingRepr(t *testing.T) {
	repr := settingRepr(map[string]float64{"b": 2, "a": 1})
	assert.Equal(t, "{a=1, b=2}", repr)
}

func TestRunGridOptimization(t *testing.T) {
	repo := &fakeRepo{bars: map[string][]types.Bar{
		"BTCUSDT": {
			dailyBar("BTCUSDT", 1, 100, 101, 99, 100),
			dailyBar("BTCUSDT", 2, 100, 101, 99, 101),
			dailyBar("BTCUSDT", 3, 101, 103, 100, 102),
		},
	}}

	// 参数 size 直接决定首日买入手数，目标取 end_balance，
	// 行情上涨时手数越大结果越靠前。
	factory := func(setting map[string]float64) (Strategy, error) {
		s := newScriptStrategy("BTCUSDT")
		size := setting["size"]
		s.onBars = func(s *scriptStrategy, bars map[string]types.Bar) error {
			if s.barCount == 1 {
				s.Buy("BTCUSDT", 100, size)
			}
			return nil
		}
		return s, nil
	}

	setting := OptimizationSetting{
		Target: "end_balance",
		Params: []OptimizationParam{{Name: "size", Start: 1, End: 3, Step: 1}},
	}

	results, err := RunGridOptimization(context.Background(), testConfig("BTCUSDT"), repo, factory, setting, 2)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, 3.0, results[0].Setting["size"])
	assert.Equal(t, 1.0, results[2].Setting["size"])
	assert.Greater(t, results[0].Target, results[2].Target)
}
