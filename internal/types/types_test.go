package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRoundTo(t *testing.T) {
	assert.Equal(t, 100.1, RoundTo(100.12, 0.1))
	assert.Equal(t, 100.2, RoundTo(100.15, 0.1))
	assert.Equal(t, 4000.0, RoundTo(4001.0, 5))
	// 浮点跳动不产生累积误差。
	assert.Equal(t, 0.3, RoundTo(0.31, 0.1))
	// 跳动为 0 时原样返回。
	assert.Equal(t, 123.456, RoundTo(123.456, 0))
}

func TestIntervalDelta(t *testing.T) {
	assert.Equal(t, time.Second, IntervalSecond.Delta())
	assert.Equal(t, time.Minute, IntervalMinute.Delta())
	assert.Equal(t, time.Hour, IntervalHour.Delta())
	assert.Equal(t, 24*time.Hour, IntervalDaily.Delta())

	assert.True(t, IntervalMinute.Valid())
	assert.False(t, Interval("3m").Valid())
}

func TestOrderIsActive(t *testing.T) {
	o := Order{Status: StatusSubmitting}
	assert.True(t, o.IsActive())
	o.Status = StatusNotTraded
	assert.True(t, o.IsActive())
	o.Status = StatusAllTraded
	assert.False(t, o.IsActive())
	o.Status = StatusCancelled
	assert.False(t, o.IsActive())
}

func TestTradeSignedVolume(t *testing.T) {
	long := Trade{Direction: DirectionLong, Volume: 3}
	short := Trade{Direction: DirectionShort, Volume: 3}
	assert.Equal(t, 3.0, long.SignedVolume())
	assert.Equal(t, -3.0, short.SignedVolume())
}

func TestInstrumentValidate(t *testing.T) {
	ins := Instrument{Symbol: "BTCUSDT", Size: 1}
	assert.NoError(t, ins.Validate())

	assert.Error(t, Instrument{Size: 1}.Validate())
	assert.Error(t, Instrument{Symbol: "X"}.Validate())
	assert.Error(t, Instrument{Symbol: "X", Size: 1, Rate: -1}.Validate())
}
