package engine

import (
	"sort"

	"portbt/internal/types"
)

// Broker 是策略回调内核的能力集合，回测引擎实现该接口。
type Broker interface {
	// SendOrder 发送委托并返回委托号，limit 为 false 时按市价单处理。
	SendOrder(symbol string, direction types.Direction, offset types.Offset, price, volume float64, limit bool) []types.OrderID
	// CancelOrder 撤销活动委托。
	CancelOrder(id types.OrderID)
	// LoadBars 声明策略初始化所需的预热天数。
	LoadBars(days int)
	// PriceTick 查询合约最小价格跳动。
	PriceTick(symbol string) float64
	// Size 查询合约乘数。
	Size(symbol string) float64
	// WriteLog 记录策略日志。
	WriteLog(msg string)
}

// Strategy 组合策略接口。回调返回的 error 会立即终止整个回测。
type Strategy interface {
	OnInit() error
	OnStart() error
	OnStop() error
	// OnBars 推送同一时间点的 K 线切片。
	OnBars(bars map[string]types.Bar) error
	// OnTick 推送单笔行情。
	OnTick(tick types.Tick) error

	// UpdateOrder 委托状态更新通知，每步对每个委托至多一次。
	UpdateOrder(order types.Order)
	// UpdateTrade 成交通知。
	UpdateTrade(trade types.Trade)

	// CalculatePrice 计算调仓委托价格。
	CalculatePrice(symbol string, direction types.Direction, reference float64) float64

	SetInited(v bool)
	Inited() bool
	SetTrading(v bool)
	Trading() bool
}

// PriceBook 缓存 tick 模式下每个合约的最新价与五档盘口，
// 供 CalculatePrice 在不同报价模式下取价。
type PriceBook struct {
	Last [Depth + 1]map[string]float64 // 下标 0 为最新价，1~5 为档位占位
	Bid  [Depth + 1]map[string]float64
	Ask  [Depth + 1]map[string]float64
}

// Depth 盘口档位数，与 types.Depth 一致。
const Depth = types.Depth

func newPriceBook() *PriceBook {
	pb := &PriceBook{}
	for i := 0; i <= Depth; i++ {
		pb.Last[i] = make(map[string]float64)
		pb.Bid[i] = make(map[string]float64)
		pb.Ask[i] = make(map[string]float64)
	}
	return pb
}

// Update 记录一笔行情。
func (pb *PriceBook) Update(tick types.Tick) {
	pb.Last[0][tick.Symbol] = tick.LastPrice
	for i := 0; i < Depth; i++ {
		pb.Bid[i+1][tick.Symbol] = tick.BidPrice[i]
		pb.Ask[i+1][tick.Symbol] = tick.AskPrice[i]
	}
}

// QuoteMode 调仓取价方式：最新价或某一档买卖价。
type QuoteMode int

const (
	QuoteLast QuoteMode = iota // 最新价
	QuoteL1                    // 买一/卖一
	QuoteL2
	QuoteL3
	QuoteL4
	QuoteL5
)

// Template 组合策略基类，维护持仓、目标仓位与活动委托，
// 具体策略内嵌 *Template 后按需覆盖回调。
type Template struct {
	Name    string
	Symbols []string

	broker Broker

	inited  bool
	trading bool

	Quote QuoteMode
	Book  *PriceBook

	pos     map[string]float64
	target  map[string]float64
	orders  map[types.OrderID]types.Order
	actives map[types.OrderID]struct{}
}

// NewTemplate 构造策略基类。
func NewTemplate(name string, symbols []string) *Template {
	return &Template{
		Name:    name,
		Symbols: append([]string(nil), symbols...),
		Book:    newPriceBook(),
		pos:     make(map[string]float64),
		target:  make(map[string]float64),
		orders:  make(map[types.OrderID]types.Order),
		actives: make(map[types.OrderID]struct{}),
	}
}

// Bind 由引擎在注册策略时注入 Broker。
func (t *Template) Bind(b Broker) { t.broker = b }

func (t *Template) OnInit() error  { return nil }
func (t *Template) OnStart() error { return nil }
func (t *Template) OnStop() error  { return nil }

func (t *Template) OnBars(map[string]types.Bar) error { return nil }

// OnTick 默认只维护盘口缓存。
func (t *Template) OnTick(tick types.Tick) error {
	t.Book.Update(tick)
	return nil
}

// UpdateTrade 按成交方向累积净持仓。
func (t *Template) UpdateTrade(trade types.Trade) {
	t.pos[trade.Symbol] += trade.SignedVolume()
}

// UpdateOrder 缓存委托并维护活动委托集合。
func (t *Template) UpdateOrder(order types.Order) {
	t.orders[order.ID] = order
	if !order.IsActive() {
		delete(t.actives, order.ID)
	}
}

func (t *Template) SetInited(v bool)  { t.inited = v }
func (t *Template) Inited() bool      { return t.inited }
func (t *Template) SetTrading(v bool) { t.trading = v }
func (t *Template) Trading() bool     { return t.trading }

// Pos 查询当前净持仓。
func (t *Template) Pos(symbol string) float64 { return t.pos[symbol] }

// Target 查询目标仓位。
func (t *Template) Target(symbol string) float64 { return t.target[symbol] }

// SetTarget 设置目标仓位。
func (t *Template) SetTarget(symbol string, target float64) { t.target[symbol] = target }

// Order 查询委托快照。
func (t *Template) Order(id types.OrderID) (types.Order, bool) {
	o, ok := t.orders[id]
	return o, ok
}

// ActiveOrderIDs 返回全部活动委托号（升序）。
func (t *Template) ActiveOrderIDs() []types.OrderID {
	ids := make([]types.OrderID, 0, len(t.actives))
	for id := range t.actives {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Buy 买入开仓。
func (t *Template) Buy(symbol string, price, volume float64) []types.OrderID {
	return t.sendOrder(symbol, types.DirectionLong, types.OffsetOpen, price, volume)
}

// Sell 卖出平仓。
func (t *Template) Sell(symbol string, price, volume float64) []types.OrderID {
	return t.sendOrder(symbol, types.DirectionShort, types.OffsetClose, price, volume)
}

// Short 卖出开仓。
func (t *Template) Short(symbol string, price, volume float64) []types.OrderID {
	return t.sendOrder(symbol, types.DirectionShort, types.OffsetOpen, price, volume)
}

// Cover 买入平仓。
func (t *Template) Cover(symbol string, price, volume float64) []types.OrderID {
	return t.sendOrder(symbol, types.DirectionLong, types.OffsetClose, price, volume)
}

// SendMarketOrder 发送市价委托。
func (t *Template) SendMarketOrder(symbol string, direction types.Direction, offset types.Offset, volume float64) []types.OrderID {
	if !t.trading || t.broker == nil {
		return nil
	}
	ids := t.broker.SendOrder(symbol, direction, offset, 0, volume, false)
	for _, id := range ids {
		t.actives[id] = struct{}{}
	}
	return ids
}

func (t *Template) sendOrder(symbol string, direction types.Direction, offset types.Offset, price, volume float64) []types.OrderID {
	if !t.trading || t.broker == nil {
		return nil
	}
	ids := t.broker.SendOrder(symbol, direction, offset, price, volume, true)
	for _, id := range ids {
		t.actives[id] = struct{}{}
	}
	return ids
}

// CancelOrder 撤销单笔委托。
func (t *Template) CancelOrder(id types.OrderID) {
	if t.trading && t.broker != nil {
		t.broker.CancelOrder(id)
	}
}

// CancelAll 撤销全部活动委托。
func (t *Template) CancelAll() {
	for _, id := range t.ActiveOrderIDs() {
		t.CancelOrder(id)
	}
}

// LoadBars 声明预热天数。
func (t *Template) LoadBars(days int) {
	if t.broker != nil {
		t.broker.LoadBars(days)
	}
}

// WriteLog 记录策略日志。
func (t *Template) WriteLog(msg string) {
	if t.broker != nil {
		t.broker.WriteLog(msg)
	}
}

// PriceTick 查询合约最小价格跳动。
func (t *Template) PriceTick(symbol string) float64 {
	if t.broker == nil {
		return 0
	}
	return t.broker.PriceTick(symbol)
}

// Size 查询合约乘数。
func (t *Template) Size(symbol string) float64 {
	if t.broker == nil {
		return 0
	}
	return t.broker.Size(symbol)
}

// CalculatePrice 默认调仓取价：bar 模式直接用参考价，
// tick 模式按 Quote 设置取最新价或对手档价，档位缺失时
// 按半个买卖价差（不低于最小跳动）向外递推估算。
func (t *Template) CalculatePrice(symbol string, direction types.Direction, reference float64) float64 {
	if t.Quote == QuoteLast || t.Book == nil {
		if t.Quote == QuoteLast {
			if last, ok := t.Book.Last[0][symbol]; ok && last > 0 {
				return last
			}
		}
		return reference
	}
	level := int(t.Quote) // QuoteL1=1 … QuoteL5=5
	if direction == types.DirectionLong {
		return t.depthPrice(t.Book.Bid, symbol, level, -1)
	}
	return t.depthPrice(t.Book.Ask, symbol, level, +1)
}

// depthPrice 返回指定档位价格，档位为空时从最近的有效档位
// 按价差步长外推。sign 为 -1（买方向下）或 +1（卖方向上）。
func (t *Template) depthPrice(side [Depth + 1]map[string]float64, symbol string, level int, sign float64) float64 {
	if level < 1 {
		level = 1
	}
	if level > Depth {
		level = Depth
	}
	if p := side[level][symbol]; p > 0 {
		return p
	}
	step := t.PriceTick(symbol)
	if bid, ask := t.Book.Bid[1][symbol], t.Book.Ask[1][symbol]; ask > bid {
		if half := (ask - bid) / 2; half > step {
			step = half
		}
	}
	count := 1
	for level > 1 {
		level--
		if p := side[level][symbol]; p > 0 {
			break
		}
		count++
	}
	return side[level][symbol] + sign*step*float64(count)
}

// RebalancePortfolio 按目标仓位与实际仓位的差额生成调仓委托，
// 先撤掉全部活动委托，再对当前切片内有行情的合约拆分平仓/开仓。
func (t *Template) RebalancePortfolio(bars map[string]types.Bar) {
	t.CancelAll()

	for symbol, bar := range bars {
		diff := t.Target(symbol) - t.Pos(symbol)
		if diff == 0 {
			continue
		}

		if diff > 0 {
			price := t.CalculatePrice(symbol, types.DirectionLong, bar.Close)

			var coverVolume, buyVolume float64
			if pos := t.Pos(symbol); pos < 0 {
				coverVolume = min(diff, -pos)
				buyVolume = diff - coverVolume
			} else {
				buyVolume = diff
			}

			if coverVolume > 0 {
				t.Cover(symbol, price, coverVolume)
			}
			if buyVolume > 0 {
				t.Buy(symbol, price, buyVolume)
			}
		} else {
			price := t.CalculatePrice(symbol, types.DirectionShort, bar.Close)

			var sellVolume, shortVolume float64
			if pos := t.Pos(symbol); pos > 0 {
				sellVolume = min(-diff, pos)
				shortVolume = -diff - sellVolume
			} else {
				shortVolume = -diff
			}

			if sellVolume > 0 {
				t.Sell(symbol, price, sellVolume)
			}
			if shortVolume > 0 {
				t.Short(symbol, price, shortVolume)
			}
		}
	}
}
