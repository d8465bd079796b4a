package app

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"portbt/internal/chart"
	"portbt/internal/config"
	"portbt/internal/feed"
	"portbt/internal/logger"
	"portbt/internal/registry"
	"portbt/internal/results"
	"portbt/internal/runner"
	"portbt/internal/server"
	"portbt/internal/store"
	"portbt/internal/types"
)

// App 负责应用级编排：加载配置→初始化依赖→执行回测/寻优/导入，
// 或常驻提供 HTTP 服务。
type App struct {
	cfg      *config.Config
	market   *store.Store
	results  *results.Store
	registry *registry.Registry
	runner   *runner.Runner
	importer *feed.BinanceImporter
	http     *server.Server
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.Log.Level)
	return buildAppWithWire(cfg)
}

// Close 释放持有的存储句柄。
func (a *App) Close() {
	if a.registry != nil {
		_ = a.registry.Close()
	}
	if a.market != nil {
		_ = a.market.Close()
	}
}

// RunBacktest 按配置执行一次回测并输出图表产物。
func (a *App) RunBacktest(ctx context.Context) error {
	report, err := a.runner.Execute(ctx, runner.Request{})
	if err != nil {
		return err
	}
	logger.Infof("回测完成，run_id=%s", report.RunID)

	out := a.cfg.Backtest.Output
	title := fmt.Sprintf("%s %s", a.cfg.Strategy.Name, strings.Join(a.cfg.Backtest.Symbols, "+"))
	if out.ChartHTML != "" {
		if err := chart.WriteHTML(out.ChartHTML, title, report.Rows); err != nil {
			return fmt.Errorf("输出图表失败: %w", err)
		}
		logger.Infof("图表已输出: %s", out.ChartHTML)
	}
	if out.ChartPNG != "" {
		if err := chart.WritePNG(ctx, out.ChartPNG, title, report.Rows); err != nil {
			// 无头浏览器不可用时只丢失截图，HTML 仍然可看。
			logger.Warnf("图表截图失败: %v", err)
		} else {
			logger.Infof("截图已输出: %s", out.ChartPNG)
		}
	}
	return nil
}

// RunOptimization 执行穷举参数寻优。
func (a *App) RunOptimization(ctx context.Context, settingPath string) error {
	_, err := a.runner.Optimize(ctx, settingPath, runtime.NumCPU())
	return err
}

// Serve 常驻运行 HTTP 服务，合约参数文件开启热更新。
func (a *App) Serve(ctx context.Context) error {
	if err := a.registry.Watch(); err != nil {
		return fmt.Errorf("合约参数监听启动失败: %w", err)
	}
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return a.http.Start(ctx)
	})
	return group.Wait()
}

// ImportBars 为配置内全部 symbol 拉取历史 K 线。
func (a *App) ImportBars(ctx context.Context) error {
	start, err := time.Parse(time.DateOnly, a.cfg.Backtest.Start)
	if err != nil {
		return fmt.Errorf("start 日期格式错误: %w", err)
	}
	end := time.Now()
	if a.cfg.Backtest.End != "" {
		end, err = time.Parse(time.DateOnly, a.cfg.Backtest.End)
		if err != nil {
			return fmt.Errorf("end 日期格式错误: %w", err)
		}
		end = end.Add(24 * time.Hour)
	}

	interval := types.Interval(a.cfg.Backtest.Interval)
	for _, symbol := range a.cfg.Backtest.Symbols {
		count, err := a.importer.ImportBars(ctx, symbol, interval, start, end)
		if err != nil {
			return err
		}
		logger.Infof("%s 历史K线导入完成，数据量：%d", symbol, count)
	}
	return nil
}

// ImportTicks 从 CSV 文件导入单合约 tick 数据。
func (a *App) ImportTicks(ctx context.Context, symbol, path string) error {
	_, err := feed.ImportTicksCSV(ctx, a.market, symbol, path)
	return err
}
