package strategy

import (
	"fmt"

	talib "github.com/markcheno/go-talib"

	"portbt/internal/engine"
	"portbt/internal/types"
)

// Trend 双均线趋势跟随：快线上穿慢线做多、下穿做空，
// 每根 K 线按目标仓位调仓。
type Trend struct {
	*engine.Template

	FastWindow int
	SlowWindow int
	FixedSize  float64
	WarmupDays int

	closes map[string][]float64
}

// NewTrend 构造双均线策略。
func NewTrend(symbols []string, setting map[string]float64) (*Trend, error) {
	s := &Trend{
		Template:   engine.NewTemplate("trend", symbols),
		FastWindow: intSetting(setting, "fast_window", 10),
		SlowWindow: intSetting(setting, "slow_window", 20),
		FixedSize:  floatSetting(setting, "fixed_size", 1),
		WarmupDays: intSetting(setting, "warmup_days", 10),
		closes:     make(map[string][]float64),
	}
	if s.FastWindow >= s.SlowWindow {
		return nil, fmt.Errorf("fast_window 必须小于 slow_window")
	}
	return s, nil
}

func (s *Trend) OnInit() error {
	s.WriteLog("策略初始化")
	s.LoadBars(s.WarmupDays)
	return nil
}

func (s *Trend) OnStart() error {
	s.WriteLog("策略启动")
	return nil
}

func (s *Trend) OnStop() error {
	s.WriteLog("策略停止")
	return nil
}

func (s *Trend) OnBars(bars map[string]types.Bar) error {
	for symbol, bar := range bars {
		s.closes[symbol] = append(s.closes[symbol], bar.Close)
	}
	if !s.Inited() || !s.Trading() {
		return nil
	}

	for symbol := range bars {
		closes := s.closes[symbol]
		if len(closes) < s.SlowWindow {
			continue
		}
		fast := talib.Sma(closes, s.FastWindow)
		slow := talib.Sma(closes, s.SlowWindow)
		last := len(closes) - 1

		switch {
		case fast[last] > slow[last]:
			s.SetTarget(symbol, s.FixedSize)
		case fast[last] < slow[last]:
			s.SetTarget(symbol, -s.FixedSize)
		}
	}

	s.RebalancePortfolio(bars)
	return nil
}

func intSetting(setting map[string]float64, key string, fallback int) int {
	if v, ok := setting[key]; ok {
		return int(v)
	}
	return fallback
}

func floatSetting(setting map[string]float64, key string, fallback float64) float64 {
	if v, ok := setting[key]; ok {
		return v
	}
	return fallback
}
