package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"portbt/internal/engine"
	"portbt/internal/types"
)

// Config 应用主配置。
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Data     DataConfig     `mapstructure:"data"`
	Backtest BacktestConfig `mapstructure:"backtest"`
	Server   ServerConfig   `mapstructure:"server"`
	Strategy StrategyConfig `mapstructure:"strategy"`
}

// LogConfig 日志配置。
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// DataConfig 数据存储配置。
type DataConfig struct {
	Root        string `mapstructure:"root"`        // 行情 sqlite 目录
	ResultsDB   string `mapstructure:"results_db"`  // 回测结果数据库
	Instruments string `mapstructure:"instruments"` // 合约参数 YAML
	BinanceURL  string `mapstructure:"binance_url"` // 为空用官方地址
}

// BacktestConfig 回测任务参数。
type BacktestConfig struct {
	Symbols    []string `mapstructure:"symbols"`
	Interval   string   `mapstructure:"interval"`
	Start      string   `mapstructure:"start"` // 2006-01-02
	End        string   `mapstructure:"end"`
	Mode       string   `mapstructure:"mode"` // bar | tick
	Capital    float64  `mapstructure:"capital"`
	RiskFree   float64  `mapstructure:"risk_free"`
	AnnualDays int      `mapstructure:"annual_days"`

	TickLatencyMS int  `mapstructure:"tick_latency_ms"`
	UseLastPrice  bool `mapstructure:"use_last_price"`

	Output OutputConfig `mapstructure:"output"`
}

// OutputConfig 回测产物输出。
type OutputConfig struct {
	ChartHTML string `mapstructure:"chart_html"`
	ChartPNG  string `mapstructure:"chart_png"`
}

// ServerConfig HTTP 服务配置。
type ServerConfig struct {
	Listen string `mapstructure:"listen"`
}

// StrategyConfig 策略名与参数。
type StrategyConfig struct {
	Name    string             `mapstructure:"name"`
	Setting map[string]float64 `mapstructure:"setting"`
}

// Load 读取 YAML 配置文件。
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("配置文件路径不能为空")
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败 (%s): %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Data.Root == "" {
		c.Data.Root = "data/market"
	}
	if c.Data.ResultsDB == "" {
		c.Data.ResultsDB = "data/results.db"
	}
	if c.Data.Instruments == "" {
		c.Data.Instruments = "configs/instruments.yaml"
	}
	if c.Backtest.Interval == "" {
		c.Backtest.Interval = string(types.IntervalMinute)
	}
	if c.Backtest.Mode == "" {
		c.Backtest.Mode = "bar"
	}
	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
}

func (c *Config) validate() error {
	switch c.Backtest.Mode {
	case "bar", "tick":
	default:
		return fmt.Errorf("不支持的回测模式: %s", c.Backtest.Mode)
	}
	if !types.Interval(c.Backtest.Interval).Valid() {
		return fmt.Errorf("不支持的周期: %s", c.Backtest.Interval)
	}
	return nil
}

// EngineConfig 把回测配置转换为引擎参数，合约表由调用方按 symbol 提供。
func (c *Config) EngineConfig(instruments map[string]types.Instrument) (engine.Config, error) {
	start, err := time.Parse(time.DateOnly, c.Backtest.Start)
	if err != nil {
		return engine.Config{}, fmt.Errorf("start 日期格式错误: %w", err)
	}
	var end time.Time
	if c.Backtest.End != "" {
		end, err = time.Parse(time.DateOnly, c.Backtest.End)
		if err != nil {
			return engine.Config{}, fmt.Errorf("end 日期格式错误: %w", err)
		}
		// 结束日当天全天纳入回放区间。
		end = end.Add(24*time.Hour - time.Nanosecond)
	}

	mode := engine.ModeBar
	if c.Backtest.Mode == "tick" {
		mode = engine.ModeTick
	}

	symbols := make([]string, 0, len(c.Backtest.Symbols))
	for _, symbol := range c.Backtest.Symbols {
		symbols = append(symbols, strings.ToUpper(symbol))
	}

	return engine.Config{
		Symbols:    symbols,
		Interval:   types.Interval(c.Backtest.Interval),
		Start:      start,
		End:        end,
		Capital:    c.Backtest.Capital,
		RiskFree:   c.Backtest.RiskFree,
		AnnualDays: c.Backtest.AnnualDays,
		Mode:       mode,
		Matching: engine.MatchingConfig{
			TickLatency:  time.Duration(c.Backtest.TickLatencyMS) * time.Millisecond,
			UseLastPrice: c.Backtest.UseLastPrice,
		},
		Instruments: instruments,
	}, nil
}
