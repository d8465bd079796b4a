package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"portbt/internal/chart"
	"portbt/internal/engine"
	"portbt/internal/logger"
	"portbt/internal/registry"
	"portbt/internal/results"
	"portbt/internal/runner"
	"portbt/internal/store"
	"portbt/internal/strategy"
)

// Server 提供回测任务提交与结果查询的 HTTP API。
type Server struct {
	addr     string
	runner   *runner.Runner
	results  *results.Store
	market   *store.Store
	registry *registry.Registry
	router   *gin.Engine
}

// Config 描述 HTTP Server 的依赖。
type Config struct {
	Addr     string
	Runner   *runner.Runner
	Results  *results.Store
	Market   *store.Store
	Registry *registry.Registry
}

// NewServer 构建 HTTP Server。
func NewServer(cfg Config) (*Server, error) {
	if cfg.Runner == nil || cfg.Results == nil {
		return nil, errors.New("runner/results 不能为空")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		addr:     cfg.Addr,
		runner:   cfg.Runner,
		results:  cfg.Results,
		market:   cfg.Market,
		registry: cfg.Registry,
		router:   router,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	api := s.router.Group("/api/backtest")
	api.GET("/strategies", s.handleStrategies)
	api.GET("/instruments", s.handleInstruments)
	api.GET("/data/:symbol", s.handleManifest)
	api.POST("/runs", s.handleRunStart)
	api.GET("/runs", s.handleRunList)
	api.GET("/runs/:id", s.handleRunDetail)
	api.GET("/runs/:id/daily", s.handleRunDaily)
	api.GET("/runs/:id/trades", s.handleRunTrades)
	api.GET("/runs/:id/chart", s.handleRunChart)
}

func (s *Server) handleStrategies(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"strategies": strategy.Names()})
}

func (s *Server) handleInstruments(c *gin.Context) {
	if s.registry == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "合约登记表未启用"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"instruments": s.registry.All()})
}

func (s *Server) handleManifest(c *gin.Context) {
	if s.market == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "行情仓库未启用"})
		return
	}
	m, err := s.market.Manifest(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, m)
}

// handleRunStart 提交回测任务。任务在后台执行，立即返回 run_id 由
// 调用方轮询状态。
func (s *Server) handleRunStart(c *gin.Context) {
	var req struct {
		Strategy string             `json:"strategy" binding:"required"`
		Setting  map[string]float64 `json:"setting"`
		Symbols  []string           `json:"symbols"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	runID, err := s.runner.ExecuteAsync(c.Request.Context(), runner.Request{
		Strategy: req.Strategy,
		Setting:  req.Setting,
		Symbols:  req.Symbols,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run_id": runID})
}

func (s *Server) handleRunList(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := s.results.ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleRunDetail(c *gin.Context) {
	run, err := s.results.GetRun(c.Request.Context(), c.Param("id"))
	if errors.Is(err, results.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) handleRunDaily(c *gin.Context) {
	rows, err := s.results.DailyRows(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"daily": rows})
}

func (s *Server) handleRunTrades(c *gin.Context) {
	trades, err := s.results.Trades(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) handleRunChart(c *gin.Context) {
	runID := c.Param("id")
	models, err := s.results.DailyRows(c.Request.Context(), runID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	rows := toDailyRows(models)
	html, err := chart.RenderHTML(runID, rows)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", html)
}

func toDailyRows(models []results.DailyRowModel) []engine.DailyRow {
	rows := make([]engine.DailyRow, 0, len(models))
	for _, m := range models {
		date, _ := time.Parse(time.DateOnly, m.Date)
		rows = append(rows, engine.DailyRow{
			Date:        date,
			TradeCount:  m.TradeCount,
			Turnover:    m.Turnover,
			Commission:  m.Commission,
			Slippage:    m.Slippage,
			TradingPnL:  m.TradingPnL,
			HoldingPnL:  m.HoldingPnL,
			TotalPnL:    m.TotalPnL,
			NetPnL:      m.NetPnL,
			CloseWindow: m.CloseWindow,
			CloseOther:  m.CloseOther,
			Balance:     m.Balance,
			Return:      m.Return,
			HighLevel:   m.HighLevel,
			Drawdown:    m.Drawdown,
			DDPercent:   m.DDPercent,
		})
	}
	return rows
}

// Router 暴露底层路由，测试用。
func (s *Server) Router() http.Handler { return s.router }

// Start 启动并阻塞运行，ctx 取消时优雅关停。
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Infof("HTTP服务已启动: %s", s.addr)

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
