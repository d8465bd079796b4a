package strategy

import (
	"fmt"

	talib "github.com/markcheno/go-talib"

	"portbt/internal/engine"
	"portbt/internal/types"
)

// MeanRevert RSI 均值回归：超卖做多、超买做空，回到中轴平仓。
type MeanRevert struct {
	*engine.Template

	Window     int
	Oversold   float64
	Overbought float64
	FixedSize  float64
	WarmupDays int

	closes map[string][]float64
}

// NewMeanRevert 构造 RSI 均值回归策略。
func NewMeanRevert(symbols []string, setting map[string]float64) (*MeanRevert, error) {
	s := &MeanRevert{
		Template:   engine.NewTemplate("mean_revert", symbols),
		Window:     intSetting(setting, "rsi_window", 14),
		Oversold:   floatSetting(setting, "oversold", 30),
		Overbought: floatSetting(setting, "overbought", 70),
		FixedSize:  floatSetting(setting, "fixed_size", 1),
		WarmupDays: intSetting(setting, "warmup_days", 10),
		closes:     make(map[string][]float64),
	}
	if s.Oversold >= s.Overbought {
		return nil, fmt.Errorf("oversold 必须小于 overbought")
	}
	return s, nil
}

func (s *MeanRevert) OnInit() error {
	s.WriteLog("策略初始化")
	s.LoadBars(s.WarmupDays)
	return nil
}

func (s *MeanRevert) OnStart() error {
	s.WriteLog("策略启动")
	return nil
}

func (s *MeanRevert) OnStop() error {
	s.WriteLog("策略停止")
	return nil
}

func (s *MeanRevert) OnBars(bars map[string]types.Bar) error {
	for symbol, bar := range bars {
		s.closes[symbol] = append(s.closes[symbol], bar.Close)
	}
	if !s.Inited() || !s.Trading() {
		return nil
	}

	for symbol := range bars {
		closes := s.closes[symbol]
		if len(closes) <= s.Window {
			continue
		}
		rsi := talib.Rsi(closes, s.Window)
		value := rsi[len(rsi)-1]

		pos := s.Pos(symbol)
		switch {
		case value < s.Oversold:
			s.SetTarget(symbol, s.FixedSize)
		case value > s.Overbought:
			s.SetTarget(symbol, -s.FixedSize)
		case pos > 0 && value > 50:
			s.SetTarget(symbol, 0)
		case pos < 0 && value < 50:
			s.SetTarget(symbol, 0)
		}
	}

	s.RebalancePortfolio(bars)
	return nil
}
