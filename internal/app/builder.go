package app

import (
	"portbt/internal/config"
	"portbt/internal/feed"
	"portbt/internal/registry"
	"portbt/internal/results"
	"portbt/internal/runner"
	"portbt/internal/server"
	"portbt/internal/store"
)

// AppBuilder 按依赖顺序装配应用，各 provider 可在测试中替换。
type AppBuilder struct {
	cfg *config.Config

	marketFn   func(*config.Config) (*store.Store, error)
	resultsFn  func(*config.Config) (*results.Store, error)
	registryFn func(*config.Config) (*registry.Registry, error)
}

// AppBuilderOption 覆盖默认 provider。
type AppBuilderOption func(*AppBuilder)

// NewAppBuilder 构造默认装配器。
func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		marketFn:   buildMarketStore,
		resultsFn:  buildResultsStore,
		registryFn: buildRegistry,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func buildMarketStore(cfg *config.Config) (*store.Store, error) {
	return store.New(cfg.Data.Root)
}

func buildResultsStore(cfg *config.Config) (*results.Store, error) {
	return results.New(cfg.Data.ResultsDB)
}

func buildRegistry(cfg *config.Config) (*registry.Registry, error) {
	return registry.Load(cfg.Data.Instruments)
}

// Build 装配全部依赖。
func (b *AppBuilder) Build() (*App, error) {
	market, err := b.marketFn(b.cfg)
	if err != nil {
		return nil, err
	}
	res, err := b.resultsFn(b.cfg)
	if err != nil {
		return nil, err
	}
	reg, err := b.registryFn(b.cfg)
	if err != nil {
		return nil, err
	}

	run := runner.New(b.cfg, market, res, reg)
	importer := feed.NewBinanceImporter(market, b.cfg.Data.BinanceURL)

	httpServer, err := server.NewServer(server.Config{
		Addr:     b.cfg.Server.Listen,
		Runner:   run,
		Results:  res,
		Market:   market,
		Registry: reg,
	})
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:      b.cfg,
		market:   market,
		results:  res,
		registry: reg,
		runner:   run,
		importer: importer,
		http:     httpServer,
	}, nil
}
