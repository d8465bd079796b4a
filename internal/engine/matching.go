package engine

import (
	"sort"
	"time"

	"portbt/internal/types"
)

// MatchingConfig 撮合参数。tick 撮合延迟与收盘窗口规则源自特定
// 市场的交易时段，全部做成可配置而非写死常量。
type MatchingConfig struct {
	// TickLatency tick 模式下委托从提交到可撮合的最小延迟，
	// 模拟报单传输耗时。默认 500ms。
	TickLatency time.Duration
	// UseLastPrice true 时双向均以最新价为对手价，否则多头用买一、
	// 空头用卖一。
	UseLastPrice bool
	// 收盘窗口诊断：分钟命中 CloseWindowMinute 的空头平仓成交，
	// 换算到 CloseWindowZone 后小时等于 CloseWindowHour 记为窗口平仓。
	CloseWindowMinute int
	CloseWindowHour   int
	CloseWindowZone   *time.Location
}

func (m MatchingConfig) withDefaults() MatchingConfig {
	if m.TickLatency <= 0 {
		m.TickLatency = 500 * time.Millisecond
	}
	if m.CloseWindowMinute <= 0 {
		m.CloseWindowMinute = 59
	}
	if m.CloseWindowHour <= 0 {
		m.CloseWindowHour = 14
	}
	if m.CloseWindowZone == nil {
		m.CloseWindowZone = time.FixedZone("UTC+8", 8*3600)
	}
	return m
}

// activeByID 返回指定类型的活动委托，按委托号升序保证撮合顺序确定。
func (e *Engine) activeByID(kind types.OrderKind) []*types.Order {
	out := make([]*types.Order, 0, len(e.actives))
	for _, order := range e.actives {
		if order.Kind == kind {
			out = append(out, order)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// crossLimitOrders 撮合限价委托。成交价始终取委托自身限价，
// 不取更优价，保证结果偏保守。
func (e *Engine) crossLimitOrders() {
	for _, order := range e.activeByID(types.KindLimit) {
		var longCross, shortCross bool

		if e.cfg.Mode == ModeBar {
			bar, ok := e.bars[order.Symbol]
			if !ok {
				continue
			}
			longCross = order.Direction == types.DirectionLong &&
				order.Price > bar.Low && bar.Low > 0
			shortCross = order.Direction == types.DirectionShort &&
				order.Price < bar.High && bar.High > 0
		} else {
			tick, ok := e.ticks[order.Symbol]
			if !ok {
				continue
			}
			// 未过报单延迟的委托本步跳过，下一步重新检查。
			if order.Time.Add(e.cfg.Matching.TickLatency).After(tick.Time) {
				continue
			}
			var longPrice, shortPrice float64
			if e.cfg.Matching.UseLastPrice {
				longPrice, shortPrice = tick.LastPrice, tick.LastPrice
			} else {
				longPrice, shortPrice = tick.BidPrice[0], tick.AskPrice[0]
			}
			longCross = order.Direction == types.DirectionLong &&
				order.Price >= longPrice && longPrice > 0
			shortCross = order.Direction == types.DirectionShort &&
				order.Price <= shortPrice && shortPrice > 0
		}

		// 首次检查时推送未成交状态，与是否成交无关。
		if order.Status == types.StatusSubmitting {
			order.Status = types.StatusNotTraded
			e.strategy.UpdateOrder(*order)
		}

		if !longCross && !shortCross {
			continue
		}

		e.fill(order, order.Price)
	}
}

// crossMarketOrders 撮合市价委托：bar 模式以开盘价成交，
// tick 模式多头吃卖一、空头吃买一，且不受报单延迟限制。
func (e *Engine) crossMarketOrders() {
	for _, order := range e.activeByID(types.KindMarket) {
		var longPrice, shortPrice float64

		if e.cfg.Mode == ModeBar {
			bar, ok := e.bars[order.Symbol]
			if !ok {
				continue
			}
			longPrice, shortPrice = bar.Open, bar.Open
		} else {
			tick, ok := e.ticks[order.Symbol]
			if !ok {
				continue
			}
			longPrice, shortPrice = tick.AskPrice[0], tick.BidPrice[0]
		}

		if order.Status == types.StatusSubmitting {
			order.Status = types.StatusNotTraded
			e.strategy.UpdateOrder(*order)
		}

		price := longPrice
		if order.Direction == types.DirectionShort {
			price = shortPrice
		}
		e.fill(order, price)
	}
}

// fill 以给定价格对委托做一次全量成交：推送 AllTraded、移出活动
// 集合、生成成交记录并通知策略。
func (e *Engine) fill(order *types.Order, price float64) {
	order.Traded = order.Volume
	order.Status = types.StatusAllTraded
	e.strategy.UpdateOrder(*order)

	delete(e.actives, order.ID)

	e.tradeCount++
	trade := types.Trade{
		ID:        e.tradeCount,
		OrderID:   order.ID,
		Symbol:    order.Symbol,
		Direction: order.Direction,
		Offset:    order.Offset,
		Price:     price,
		Volume:    order.Volume,
		Time:      e.datetime,
	}
	e.strategy.UpdateTrade(trade)
	e.trades = append(e.trades, trade)
}
