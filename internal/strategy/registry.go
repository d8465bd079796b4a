package strategy

import (
	"fmt"
	"sort"

	"portbt/internal/engine"
)

// Factory 按 symbol 列表与参数构造策略实例。
type Factory func(symbols []string, setting map[string]float64) (engine.Strategy, error)

var factories = map[string]Factory{
	"trend": func(symbols []string, setting map[string]float64) (engine.Strategy, error) {
		return NewTrend(symbols, setting)
	},
	"mean_revert": func(symbols []string, setting map[string]float64) (engine.Strategy, error) {
		return NewMeanRevert(symbols, setting)
	},
}

// New 按名称构造策略。
func New(name string, symbols []string, setting map[string]float64) (engine.Strategy, error) {
	factory, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("未注册的策略: %s（可用：%v）", name, Names())
	}
	return factory(symbols, setting)
}

// Register 注册自定义策略工厂，重名时覆盖。
func Register(name string, factory Factory) {
	factories[name] = factory
}

// Names 返回全部已注册策略名（升序）。
func Names() []string {
	out := make([]string, 0, len(factories))
	for name := range factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
