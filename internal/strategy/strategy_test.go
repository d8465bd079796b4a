package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	s, err := New("trend", []string{"BTCUSDT"}, map[string]float64{
		"fast_window": 5,
		"slow_window": 10,
	})
	require.NoError(t, err)
	require.NotNil(t, s)

	_, err = New("bogus", []string{"BTCUSDT"}, nil)
	assert.Error(t, err)
}

func TestNames(t *testing.T) {
	names := Names()
	assert.Contains(t, names, "trend")
	assert.Contains(t, names, "mean_revert")
}

func TestTrendSettingValidation(t *testing.T) {
	_, err := NewTrend([]string{"BTCUSDT"}, map[string]float64{
		"fast_window": 20,
		"slow_window": 10,
	})
	assert.Error(t, err)

	// 默认参数可用。
	s, err := NewTrend([]string{"BTCUSDT"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 10, s.FastWindow)
	assert.Equal(t, 20, s.SlowWindow)
	assert.Equal(t, 1.0, s.FixedSize)
}

func TestMeanRevertSettingValidation(t *testing.T) {
	_, err := NewMeanRevert([]string{"BTCUSDT"}, map[string]float64{
		"oversold":   70,
		"overbought": 30,
	})
	assert.Error(t, err)

	s, err := NewMeanRevert([]string{"BTCUSDT"}, map[string]float64{"rsi_window": 7})
	require.NoError(t, err)
	assert.Equal(t, 7, s.Window)
	assert.Equal(t, 30.0, s.Oversold)
}
