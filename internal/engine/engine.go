package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"portbt/internal/logger"
	"portbt/internal/types"
)

// Mode 回测驱动数据的粒度。
type Mode int

const (
	ModeBar  Mode = iota // K 线驱动
	ModeTick             // tick 驱动（K 线仅用于策略预热）
)

// Repository 历史行情仓库。区间内无数据时返回空切片而非错误。
type Repository interface {
	LoadBars(ctx context.Context, symbol string, interval types.Interval, start, end time.Time) ([]types.Bar, error)
	LoadTicks(ctx context.Context, symbol string, start, end time.Time) ([]types.Tick, error)
}

// Config 单次回测的全部参数。
type Config struct {
	Symbols  []string
	Interval types.Interval
	Start    time.Time
	End      time.Time

	Capital    float64
	RiskFree   float64
	AnnualDays int // 年化交易日数，默认 240

	Mode        Mode
	Matching    MatchingConfig
	Instruments map[string]types.Instrument
}

func (c *Config) applyDefaults() {
	if c.Capital <= 0 {
		c.Capital = 1_000_000
	}
	if c.AnnualDays <= 0 {
		c.AnnualDays = 240
	}
	if c.End.IsZero() {
		c.End = time.Now()
	}
	c.Matching = c.Matching.withDefaults()
}

// Validate 校验参数完整性。
func (c *Config) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("symbols 不能为空")
	}
	if !c.Interval.Valid() {
		return fmt.Errorf("不支持的周期: %s", c.Interval)
	}
	if c.Start.IsZero() {
		return fmt.Errorf("start 不能为空")
	}
	if !c.End.IsZero() && !c.Start.Before(c.End) {
		return fmt.Errorf("起始日期必须小于结束日期")
	}
	for _, symbol := range c.Symbols {
		ins, ok := c.Instruments[symbol]
		if !ok {
			return fmt.Errorf("缺少合约参数: %s", symbol)
		}
		if err := ins.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Engine 组合策略回测引擎：按时间顺序回放 bar/tick、撮合委托、
// 逐日盯市核算盈亏。单个实例内所有状态私有，严格单线程。
type Engine struct {
	cfg      Config
	repo     Repository
	strategy Strategy

	datetime time.Time
	bars     map[string]types.Bar
	ticks    map[string]types.Tick

	barTimes  []time.Time
	tickTimes []time.Time
	barData   map[int64]map[string]types.Bar
	tickData  map[int64]map[string]types.Tick

	days int // 预热天数，由策略在 OnInit 中声明

	orderCount types.OrderID
	orders     map[types.OrderID]*types.Order
	actives    map[types.OrderID]*types.Order

	tradeCount int64
	trades     []types.Trade

	dailyResults map[string]*PortfolioDailyResult
	logs         []string
}

// New 构造回测引擎。
func New(cfg Config, repo Repository) (*Engine, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if repo == nil {
		return nil, fmt.Errorf("repository 不能为空")
	}
	return &Engine{
		cfg:          cfg,
		repo:         repo,
		bars:         make(map[string]types.Bar),
		ticks:        make(map[string]types.Tick),
		barData:      make(map[int64]map[string]types.Bar),
		tickData:     make(map[int64]map[string]types.Tick),
		orders:       make(map[types.OrderID]*types.Order),
		actives:      make(map[types.OrderID]*types.Order),
		dailyResults: make(map[string]*PortfolioDailyResult),
	}, nil
}

type binder interface {
	Bind(Broker)
}

// AddStrategy 注册策略，内嵌 *Template 的策略会自动注入 Broker。
func (e *Engine) AddStrategy(s Strategy) {
	e.strategy = s
	if b, ok := s.(binder); ok {
		b.Bind(e)
	}
}

// Config 返回本次回测参数快照。
func (e *Engine) Config() Config { return e.cfg }

// 加载窗口大小：分段加载便于输出进度。
const loadWindowDays = 30

// LoadData 从仓库加载历史行情并建立回放时间轴。
func (e *Engine) LoadData(ctx context.Context) error {
	logger.Infof("开始加载历史数据")

	barTimes := make(map[int64]time.Time)
	for _, symbol := range e.cfg.Symbols {
		count, err := e.loadSymbolBars(ctx, symbol, barTimes)
		if err != nil {
			return fmt.Errorf("%s 历史bar数据加载失败: %w", symbol, err)
		}
		logger.Infof("%s 历史bar数据加载完成，数据量：%d", symbol, count)
	}
	e.barTimes = sortedTimes(barTimes)

	if e.cfg.Mode == ModeTick {
		tickTimes := make(map[int64]time.Time)
		for _, symbol := range e.cfg.Symbols {
			count, err := e.loadSymbolTicks(ctx, symbol, tickTimes)
			if err != nil {
				return fmt.Errorf("%s 历史tick数据加载失败: %w", symbol, err)
			}
			logger.Infof("%s 历史tick数据加载完成，数据量：%d", symbol, count)
		}
		e.tickTimes = sortedTimes(tickTimes)
	}

	logger.Infof("所有历史数据加载完成")
	return nil
}

func (e *Engine) loadSymbolBars(ctx context.Context, symbol string, times map[int64]time.Time) (int, error) {
	// 分钟及以下粒度分窗口加载，其余一次取全量。
	chunked := e.cfg.Interval == types.IntervalMinute || e.cfg.Interval == types.IntervalSecond
	count := 0
	add := func(bars []types.Bar) {
		for _, bar := range bars {
			key := bar.Time.UnixNano()
			times[key] = bar.Time
			step, ok := e.barData[key]
			if !ok {
				step = make(map[string]types.Bar)
				e.barData[key] = step
			}
			step[symbol] = bar
			count++
		}
	}

	if !chunked {
		bars, err := e.repo.LoadBars(ctx, symbol, e.cfg.Interval, e.cfg.Start, e.cfg.End)
		if err != nil {
			return 0, err
		}
		add(bars)
		return count, nil
	}

	window := loadWindowDays * 24 * time.Hour
	delta := e.cfg.Interval.Delta()
	total := e.cfg.End.Sub(e.cfg.Start)
	var done time.Duration
	for start := e.cfg.Start; start.Before(e.cfg.End); {
		end := start.Add(window)
		if end.After(e.cfg.End) {
			end = e.cfg.End
		}
		bars, err := e.repo.LoadBars(ctx, symbol, e.cfg.Interval, start, end)
		if err != nil {
			return 0, err
		}
		add(bars)

		done += window
		if done > total {
			done = total
		}
		logger.Debugf("%s 加载bar进度：%.0f%%", symbol, float64(done)/float64(total)*100)
		start = end.Add(delta)
	}
	return count, nil
}

func (e *Engine) loadSymbolTicks(ctx context.Context, symbol string, times map[int64]time.Time) (int, error) {
	window := loadWindowDays * 24 * time.Hour
	total := e.cfg.End.Sub(e.cfg.Start)
	var done time.Duration
	count := 0
	for start := e.cfg.Start; start.Before(e.cfg.End); {
		end := start.Add(window)
		if end.After(e.cfg.End) {
			end = e.cfg.End
		}
		ticks, err := e.repo.LoadTicks(ctx, symbol, start, end)
		if err != nil {
			return 0, err
		}
		for _, tick := range ticks {
			key := tick.Time.UnixNano()
			times[key] = tick.Time
			step, ok := e.tickData[key]
			if !ok {
				step = make(map[string]types.Tick)
				e.tickData[key] = step
			}
			step[symbol] = tick
			count++
		}

		done += window
		if done > total {
			done = total
		}
		logger.Debugf("%s 加载tick进度：%.0f%%", symbol, float64(done)/float64(total)*100)
		start = end.Add(time.Nanosecond)
	}
	return count, nil
}

func sortedTimes(set map[int64]time.Time) []time.Time {
	out := make([]time.Time, 0, len(set))
	for _, t := range set {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// Run 回放全部历史数据。预热期内照常撮合但策略尚未开始交易；
// 策略回调返回的任何错误会立即终止回测并原样上抛。
func (e *Engine) Run() error {
	if e.strategy == nil {
		return fmt.Errorf("尚未注册策略")
	}

	if err := e.strategy.OnInit(); err != nil {
		return fmt.Errorf("策略初始化失败，回测终止: %w", err)
	}

	// 用指定天数的历史数据预热策略。
	dayCount := 0
	ix, ixTick := 0, 0
	if e.cfg.Mode == ModeBar {
		for ix < len(e.barTimes) {
			dt := e.barTimes[ix]
			if !e.datetime.IsZero() && dt.Day() != e.datetime.Day() {
				dayCount++
			}
			if dayCount >= e.days {
				break
			}
			if err := e.newBars(dt); err != nil {
				return e.abort(err)
			}
			ix++
		}
	} else {
		for ix < len(e.barTimes) && ixTick < len(e.tickTimes) {
			dt, dtTick := e.barTimes[ix], e.tickTimes[ixTick]
			next := dt
			if dtTick.Before(dt) {
				next = dtTick
			}
			if !e.datetime.IsZero() && next.Day() != e.datetime.Day() {
				dayCount++
			}
			if dayCount >= e.days {
				break
			}
			if !dtTick.Before(dt) { // 时间相同时 bar 优先
				if err := e.newBars(dt); err != nil {
					return e.abort(err)
				}
				ix++
			} else {
				if err := e.newTicks(dtTick); err != nil {
					return e.abort(err)
				}
				ixTick++
			}
		}
	}

	e.strategy.SetInited(true)
	logger.Infof("策略初始化完成")

	if err := e.strategy.OnStart(); err != nil {
		return e.abort(err)
	}
	e.strategy.SetTrading(true)
	logger.Infof("开始回放历史数据")

	// 用剩余历史数据进行回测。
	if e.cfg.Mode == ModeBar {
		for ; ix < len(e.barTimes); ix++ {
			if err := e.newBars(e.barTimes[ix]); err != nil {
				return e.abort(err)
			}
		}
	} else {
		for ix < len(e.barTimes) && ixTick < len(e.tickTimes) {
			dt, dtTick := e.barTimes[ix], e.tickTimes[ixTick]
			if !dtTick.Before(dt) {
				if err := e.newBars(dt); err != nil {
					return e.abort(err)
				}
				ix++
			} else {
				if err := e.newTicks(dtTick); err != nil {
					return e.abort(err)
				}
				ixTick++
			}
		}
		for ; ix < len(e.barTimes); ix++ {
			if err := e.newBars(e.barTimes[ix]); err != nil {
				return e.abort(err)
			}
		}
		for ; ixTick < len(e.tickTimes); ixTick++ {
			if err := e.newTicks(e.tickTimes[ixTick]); err != nil {
				return e.abort(err)
			}
		}
	}

	e.strategy.SetTrading(false)
	if err := e.strategy.OnStop(); err != nil {
		return e.abort(err)
	}

	logger.Infof("历史数据回放结束")
	return nil
}

func (e *Engine) abort(err error) error {
	logger.Errorf("触发异常，回测终止: %v", err)
	return fmt.Errorf("回测终止: %w", err)
}

// newBars 推进一个 bar 时间步：刷新缓存（缺失合约用前收盘补平）、
// 撮合、推送策略，最后更新当日收盘价。
func (e *Engine) newBars(dt time.Time) error {
	e.datetime = dt

	fresh := make(map[string]types.Bar)
	step := e.barData[dt.UnixNano()]
	for _, symbol := range e.cfg.Symbols {
		if bar, ok := step[symbol]; ok {
			e.bars[symbol] = bar
			fresh[symbol] = bar
		} else if old, ok := e.bars[symbol]; ok {
			// 该时间点无数据但此前有过行情，用前收盘合成平盘 K 线补缺。
			e.bars[symbol] = types.Bar{
				Symbol:   old.Symbol,
				Exchange: old.Exchange,
				Time:     dt,
				Open:     old.Close,
				High:     old.Close,
				Low:      old.Close,
				Close:    old.Close,
			}
		}
	}

	if e.cfg.Mode == ModeBar {
		e.crossLimitOrders()
		e.crossMarketOrders()
		if err := e.strategy.OnBars(fresh); err != nil {
			return err
		}
		if e.strategy.Inited() {
			e.updateDailyClose(dt)
		}
		return nil
	}
	// tick 模式下 bar 仅用于策略预热，不参与撮合与核算。
	return e.strategy.OnBars(fresh)
}

// newTicks 推进一个 tick 时间步。
func (e *Engine) newTicks(dt time.Time) error {
	e.datetime = dt

	fresh := make(map[string]types.Tick)
	step := e.tickData[dt.UnixNano()]
	for _, symbol := range e.cfg.Symbols {
		if tick, ok := step[symbol]; ok {
			e.ticks[symbol] = tick
			fresh[symbol] = tick
		}
	}

	e.crossLimitOrders()
	e.crossMarketOrders()

	for _, symbol := range e.cfg.Symbols {
		if tick, ok := fresh[symbol]; ok {
			if err := e.strategy.OnTick(tick); err != nil {
				return err
			}
		}
	}

	if e.strategy.Inited() {
		e.updateTickDailyClose(fresh, dt)
	}
	return nil
}

func dateKey(t time.Time) string { return t.Format("2006-01-02") }

// updateDailyClose 把当前缓存的收盘价写入当日组合结果。
func (e *Engine) updateDailyClose(dt time.Time) {
	closePrices := make(map[string]float64, len(e.bars))
	for symbol, bar := range e.bars {
		closePrices[symbol] = bar.Close
	}

	key := dateKey(dt)
	if dr, ok := e.dailyResults[key]; ok {
		dr.UpdateClosePrices(closePrices)
	} else {
		e.dailyResults[key] = NewPortfolioDailyResult(dt, closePrices)
	}
}

// updateTickDailyClose 用最新价增量合并当日收盘价，同一合约以最后一笔为准。
func (e *Engine) updateTickDailyClose(fresh map[string]types.Tick, dt time.Time) {
	key := dateKey(dt)
	if dr, ok := e.dailyResults[key]; ok {
		merged := dr.ClosePrices
		for symbol, tick := range fresh {
			merged[symbol] = tick.LastPrice
		}
		dr.UpdateClosePrices(merged)
		return
	}
	closePrices := make(map[string]float64, len(fresh))
	for symbol, tick := range fresh {
		closePrices[symbol] = tick.LastPrice
	}
	e.dailyResults[key] = NewPortfolioDailyResult(dt, closePrices)
}

// SendOrder 实现 Broker。限价单价格先对齐到最小跳动。
func (e *Engine) SendOrder(symbol string, direction types.Direction, offset types.Offset, price, volume float64, limit bool) []types.OrderID {
	kind := types.KindMarket
	if limit {
		kind = types.KindLimit
		price = types.RoundTo(price, e.cfg.Instruments[symbol].PriceTick)
	} else {
		price = 0
	}

	e.orderCount++
	order := &types.Order{
		ID:        e.orderCount,
		Symbol:    symbol,
		Direction: direction,
		Offset:    offset,
		Kind:      kind,
		Price:     price,
		Volume:    volume,
		Status:    types.StatusSubmitting,
		Time:      e.datetime,
	}
	e.orders[order.ID] = order
	e.actives[order.ID] = order
	return []types.OrderID{order.ID}
}

// CancelOrder 实现 Broker：活动委托直接转入 Cancelled。
func (e *Engine) CancelOrder(id types.OrderID) {
	order, ok := e.actives[id]
	if !ok {
		return
	}
	delete(e.actives, id)
	order.Status = types.StatusCancelled
	e.strategy.UpdateOrder(*order)
}

// LoadBars 实现 Broker：记录策略声明的预热天数。
func (e *Engine) LoadBars(days int) { e.days = days }

// PriceTick 实现 Broker。
func (e *Engine) PriceTick(symbol string) float64 { return e.cfg.Instruments[symbol].PriceTick }

// Size 实现 Broker。
func (e *Engine) Size(symbol string) float64 { return e.cfg.Instruments[symbol].Size }

// WriteLog 实现 Broker。
func (e *Engine) WriteLog(msg string) {
	line := fmt.Sprintf("%s\t%s", e.datetime.Format(time.DateTime), msg)
	e.logs = append(e.logs, line)
	logger.Infof("%s", line)
}

// Logs 返回策略日志。
func (e *Engine) Logs() []string { return e.logs }

// Trades 返回全部成交（按成交号升序）。
func (e *Engine) Trades() []types.Trade { return e.trades }

// Orders 返回全部委托（按委托号升序）。
func (e *Engine) Orders() []types.Order {
	ids := make([]types.OrderID, 0, len(e.orders))
	for id := range e.orders {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]types.Order, 0, len(ids))
	for _, id := range ids {
		out = append(out, *e.orders[id])
	}
	return out
}
