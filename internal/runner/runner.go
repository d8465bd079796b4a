package runner

import (
	"context"
	"fmt"

	"portbt/internal/config"
	"portbt/internal/engine"
	"portbt/internal/logger"
	"portbt/internal/registry"
	"portbt/internal/results"
	"portbt/internal/store"
	"portbt/internal/strategy"
)

// Runner 回测任务编排：组装引擎、执行回放、落库结果。
type Runner struct {
	cfg      *config.Config
	market   *store.Store
	results  *results.Store
	registry *registry.Registry
}

// New 构造 Runner。
func New(cfg *config.Config, market *store.Store, res *results.Store, reg *registry.Registry) *Runner {
	return &Runner{cfg: cfg, market: market, results: res, registry: reg}
}

// Request 单次回测请求。零值字段回落到配置文件。
type Request struct {
	Strategy string
	Setting  map[string]float64
	Symbols  []string
}

// Report 回测完成后的全部产出。
type Report struct {
	RunID  string
	Stats  engine.Statistics
	Rows   []engine.DailyRow
	Engine *engine.Engine
}

func (r *Runner) engineConfig(symbols []string) (engine.Config, error) {
	if len(symbols) == 0 {
		symbols = r.cfg.Backtest.Symbols
	}
	instruments, err := r.registry.Select(symbols)
	if err != nil {
		return engine.Config{}, err
	}
	cfg := *r.cfg
	cfg.Backtest.Symbols = symbols
	return cfg.EngineConfig(instruments)
}

// Execute 执行一次回测并把日度结果、成交与统计指标写入结果库。
func (r *Runner) Execute(ctx context.Context, req Request) (Report, error) {
	name := req.Strategy
	if name == "" {
		name = r.cfg.Strategy.Name
	}
	setting := req.Setting
	if setting == nil {
		setting = r.cfg.Strategy.Setting
	}

	ecfg, err := r.engineConfig(req.Symbols)
	if err != nil {
		return Report{}, err
	}

	runID, err := r.results.CreateRun(ctx, name, ecfg)
	if err != nil {
		return Report{}, err
	}
	return r.run(ctx, runID, name, setting, ecfg)
}

// ExecuteAsync 先登记任务并返回 run_id，回放在后台进行，
// 进度通过结果库的任务状态查询。
func (r *Runner) ExecuteAsync(ctx context.Context, req Request) (string, error) {
	name := req.Strategy
	if name == "" {
		name = r.cfg.Strategy.Name
	}
	setting := req.Setting
	if setting == nil {
		setting = r.cfg.Strategy.Setting
	}
	ecfg, err := r.engineConfig(req.Symbols)
	if err != nil {
		return "", err
	}
	// 提前构造一次策略，把参数错误留在提交阶段暴露。
	if _, err := strategy.New(name, ecfg.Symbols, setting); err != nil {
		return "", err
	}
	runID, err := r.results.CreateRun(ctx, name, ecfg)
	if err != nil {
		return "", err
	}

	go func() {
		if _, err := r.run(context.Background(), runID, name, setting, ecfg); err != nil {
			logger.Errorf("回测任务 %s 执行失败: %v", runID, err)
		}
	}()
	return runID, nil
}

func (r *Runner) run(ctx context.Context, runID, name string, setting map[string]float64, ecfg engine.Config) (Report, error) {
	report := Report{RunID: runID}

	fail := func(cause error) (Report, error) {
		if err := r.results.FailRun(ctx, runID, cause); err != nil {
			logger.Warnf("任务 %s 标记失败时出错: %v", runID, err)
		}
		return report, cause
	}

	eng, err := engine.New(ecfg, r.market)
	if err != nil {
		return fail(err)
	}
	strat, err := strategy.New(name, ecfg.Symbols, setting)
	if err != nil {
		return fail(err)
	}
	eng.AddStrategy(strat)

	if err := eng.LoadData(ctx); err != nil {
		return fail(err)
	}
	if err := eng.Run(); err != nil {
		return fail(err)
	}

	rows := eng.CalculateResult()
	stats := engine.CalculateStatistics(rows, ecfg.Capital, ecfg.RiskFree, ecfg.AnnualDays)
	stats.Log()

	if err := r.results.SaveDailyRows(ctx, runID, rows); err != nil {
		return fail(err)
	}
	if err := r.results.SaveTrades(ctx, runID, eng.Trades()); err != nil {
		return fail(err)
	}
	if err := r.results.FinishRun(ctx, runID, stats); err != nil {
		return fail(err)
	}

	report.Stats = stats
	report.Rows = rows
	report.Engine = eng
	return report, nil
}

// Optimize 读取寻优配置文件并执行穷举参数寻优。
func (r *Runner) Optimize(ctx context.Context, settingPath string, concurrency int) ([]engine.OptimizationResult, error) {
	setting, err := engine.LoadOptimizationSetting(settingPath)
	if err != nil {
		return nil, err
	}

	name := r.cfg.Strategy.Name
	if name == "" {
		return nil, fmt.Errorf("寻优需要在配置中指定策略名")
	}
	ecfg, err := r.engineConfig(nil)
	if err != nil {
		return nil, err
	}

	base := r.cfg.Strategy.Setting
	factory := func(params map[string]float64) (engine.Strategy, error) {
		merged := make(map[string]float64, len(base)+len(params))
		for k, v := range base {
			merged[k] = v
		}
		for k, v := range params {
			merged[k] = v
		}
		return strategy.New(name, ecfg.Symbols, merged)
	}

	return engine.RunGridOptimization(ctx, ecfg, r.market, factory, setting, concurrency)
}
