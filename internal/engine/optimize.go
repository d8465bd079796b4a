package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/sync/errgroup"

	"portbt/internal/logger"
)

// OptimizationParam 单个待优化参数，按 [Start, End] 区间以 Step 递增取值。
type OptimizationParam struct {
	Name  string  `json:"name"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Step  float64 `json:"step"`
}

// Values 展开参数取值列表。
func (p OptimizationParam) Values() []float64 {
	if p.Step <= 0 || p.End < p.Start {
		return []float64{p.Start}
	}
	var out []float64
	for v := p.Start; v <= p.End+p.Step/1e9; v += p.Step {
		out = append(out, v)
	}
	return out
}

// OptimizationSetting 参数寻优配置：优化目标与参数空间。
type OptimizationSetting struct {
	Target string              `json:"target"`
	Params []OptimizationParam `json:"params"`
}

// Validate 检查寻优配置。
func (s OptimizationSetting) Validate() error {
	if len(s.Params) == 0 {
		return fmt.Errorf("优化参数为空，请检查")
	}
	if _, err := TargetValue(Statistics{}, s.Target); err != nil {
		return err
	}
	total := 1
	for _, p := range s.Params {
		total *= len(p.Values())
	}
	if total <= 1 {
		return fmt.Errorf("优化参数组合为空，请检查")
	}
	return nil
}

// Generate 展开全部参数组合（笛卡尔积），顺序确定。
func (s OptimizationSetting) Generate() []map[string]float64 {
	combos := []map[string]float64{{}}
	params := append([]OptimizationParam(nil), s.Params...)
	sort.Slice(params, func(i, j int) bool { return params[i].Name < params[j].Name })

	for _, p := range params {
		values := p.Values()
		next := make([]map[string]float64, 0, len(combos)*len(values))
		for _, combo := range combos {
			for _, v := range values {
				m := make(map[string]float64, len(combo)+1)
				for k, old := range combo {
					m[k] = old
				}
				m[p.Name] = v
				next = append(next, m)
			}
		}
		combos = next
	}
	return combos
}

// optimizationSchema 校验寻优配置文件格式。
const optimizationSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["target", "params"],
  "properties": {
    "target": {"type": "string", "minLength": 1},
    "params": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name", "start"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "start": {"type": "number"},
          "end": {"type": "number"},
          "step": {"type": "number", "exclusiveMinimum": 0}
        },
        "additionalProperties": false
      }
    }
  },
  "additionalProperties": false
}`

// LoadOptimizationSetting 读取 JSON 寻优配置并按 schema 校验。
func LoadOptimizationSetting(path string) (OptimizationSetting, error) {
	var setting OptimizationSetting

	raw, err := os.ReadFile(path)
	if err != nil {
		return setting, fmt.Errorf("读取寻优配置失败: %w", err)
	}

	schema, err := jsonschema.CompileString("optimization.schema.json", optimizationSchema)
	if err != nil {
		return setting, err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return setting, fmt.Errorf("寻优配置不是合法 JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return setting, fmt.Errorf("寻优配置校验失败: %w", err)
	}

	if err := json.Unmarshal(raw, &setting); err != nil {
		return setting, err
	}
	if err := setting.Validate(); err != nil {
		return setting, err
	}
	return setting, nil
}

// TargetValue 按名称取优化目标指标。
func TargetValue(stats Statistics, name string) (float64, error) {
	switch name {
	case "sharpe_ratio":
		return stats.SharpeRatio, nil
	case "total_return":
		return stats.TotalReturn, nil
	case "annual_return":
		return stats.AnnualReturn, nil
	case "total_net_pnl":
		return stats.TotalNetPnL, nil
	case "daily_net_pnl":
		return stats.DailyNetPnL, nil
	case "end_balance":
		return stats.EndBalance, nil
	case "max_drawdown":
		return stats.MaxDrawdown, nil
	case "return_drawdown_ratio":
		return stats.ReturnDrawdownRatio, nil
	default:
		return 0, fmt.Errorf("未知的优化目标: %s", name)
	}
}

// StrategyFactory 按参数组合构造策略实例，寻优时每个候选一份。
type StrategyFactory func(setting map[string]float64) (Strategy, error)

// OptimizationResult 单个参数组合的评估结果。
type OptimizationResult struct {
	Setting map[string]float64 `json:"setting"`
	Repr    string             `json:"repr"`
	Target  float64            `json:"target"`
	Stats   Statistics         `json:"stats"`
}

// Evaluate 评估单个参数组合：独立构建引擎与策略，无共享状态，
// 可安全并行调用。
func Evaluate(ctx context.Context, cfg Config, repo Repository, factory StrategyFactory, target string, setting map[string]float64) (OptimizationResult, error) {
	result := OptimizationResult{Setting: setting, Repr: settingRepr(setting)}

	eng, err := New(cfg, repo)
	if err != nil {
		return result, err
	}
	strategy, err := factory(setting)
	if err != nil {
		return result, err
	}
	eng.AddStrategy(strategy)

	if err := eng.LoadData(ctx); err != nil {
		return result, err
	}
	if err := eng.Run(); err != nil {
		return result, err
	}

	rows := eng.CalculateResult()
	result.Stats = CalculateStatistics(rows, cfg.Capital, cfg.RiskFree, cfg.AnnualDays)
	result.Target, err = TargetValue(result.Stats, target)
	return result, err
}

// RunGridOptimization 暴力穷举寻优：逐组合评估并按目标值降序返回。
func RunGridOptimization(ctx context.Context, cfg Config, repo Repository, factory StrategyFactory, setting OptimizationSetting, concurrency int) ([]OptimizationResult, error) {
	if err := setting.Validate(); err != nil {
		return nil, err
	}
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}

	combos := setting.Generate()
	logger.Infof("开始执行穷举算法优化（%d 个参数组合，并发 %d）", len(combos), concurrency)

	results := make([]OptimizationResult, len(combos))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, combo := range combos {
		g.Go(func() error {
			r, err := Evaluate(gctx, cfg, repo, factory, setting.Target, combo)
			if err != nil {
				return fmt.Errorf("参数 %s 评估失败: %w", r.Repr, err)
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Target > results[j].Target })
	for _, r := range results {
		logger.Infof("参数：%s, 目标：%.4f", r.Repr, r.Target)
	}
	return results, nil
}

func settingRepr(setting map[string]float64) string {
	keys := make([]string, 0, len(setting))
	for k := range setting {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, setting[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
