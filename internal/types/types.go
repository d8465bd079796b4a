package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Direction 委托/成交方向。
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Offset 开平方向。
type Offset string

const (
	OffsetOpen  Offset = "open"
	OffsetClose Offset = "close"
)

// Status 委托状态机：Submitting → NotTraded → {AllTraded | Cancelled}。
type Status string

const (
	StatusSubmitting Status = "submitting"
	StatusNotTraded  Status = "not_traded"
	StatusAllTraded  Status = "all_traded"
	StatusCancelled  Status = "cancelled"
)

// OrderKind 区分限价单与市价单的撮合规则。
type OrderKind string

const (
	KindLimit  OrderKind = "limit"
	KindMarket OrderKind = "market"
)

// Interval K 线周期。
type Interval string

const (
	IntervalSecond Interval = "1s"
	IntervalMinute Interval = "1m"
	IntervalHour   Interval = "1h"
	IntervalDaily  Interval = "1d"
)

// Delta 返回周期对应的时间步长。
func (i Interval) Delta() time.Duration {
	switch i {
	case IntervalSecond:
		return time.Second
	case IntervalMinute:
		return time.Minute
	case IntervalHour:
		return time.Hour
	case IntervalDaily:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

// Valid 校验周期是否受支持。
func (i Interval) Valid() bool {
	switch i {
	case IntervalSecond, IntervalMinute, IntervalHour, IntervalDaily:
		return true
	}
	return false
}

// Bar 单根 K 线。
type Bar struct {
	Symbol   string    `json:"symbol"`
	Exchange string    `json:"exchange"`
	Time     time.Time `json:"time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Depth 行情盘口档位数量。
const Depth = 5

// Tick 一笔行情快照，带 5 档买卖盘。
type Tick struct {
	Symbol    string         `json:"symbol"`
	Exchange  string         `json:"exchange"`
	Time      time.Time      `json:"time"`
	LastPrice float64        `json:"last_price"`
	Volume    float64        `json:"volume"`
	BidPrice  [Depth]float64 `json:"bid_price"`
	AskPrice  [Depth]float64 `json:"ask_price"`
	BidVolume [Depth]float64 `json:"bid_volume"`
	AskVolume [Depth]float64 `json:"ask_volume"`
}

// OrderID 委托号，单次回测内单调递增且唯一。
type OrderID int64

// Order 委托单。市价单 Price 为 0。
type Order struct {
	ID        OrderID   `json:"id"`
	Symbol    string    `json:"symbol"`
	Direction Direction `json:"direction"`
	Offset    Offset    `json:"offset"`
	Kind      OrderKind `json:"kind"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
	Traded    float64   `json:"traded"`
	Status    Status    `json:"status"`
	Time      time.Time `json:"time"`
}

// IsActive 委托是否仍可撮合或撤销。
func (o *Order) IsActive() bool {
	return o.Status == StatusSubmitting || o.Status == StatusNotTraded
}

// Trade 成交记录，生成后不可变。
type Trade struct {
	ID        int64     `json:"id"`
	OrderID   OrderID   `json:"order_id"`
	Symbol    string    `json:"symbol"`
	Direction Direction `json:"direction"`
	Offset    Offset    `json:"offset"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
	Time      time.Time `json:"time"`
}

// SignedVolume 多头记正、空头记负。
func (t *Trade) SignedVolume() float64 {
	if t.Direction == DirectionLong {
		return t.Volume
	}
	return -t.Volume
}

// Instrument 合约静态参数，单次回测内不可变。
type Instrument struct {
	Symbol    string  `json:"symbol" yaml:"symbol"`
	Exchange  string  `json:"exchange" yaml:"exchange"`
	PriceTick float64 `json:"price_tick" yaml:"price_tick"` // 最小价格跳动
	Size      float64 `json:"size" yaml:"size"`             // 合约乘数
	Rate      float64 `json:"rate" yaml:"rate"`             // 手续费率
	Slippage  float64 `json:"slippage" yaml:"slippage"`     // 单手滑点成本
}

// Validate 检查合约参数是否完整。
func (ins Instrument) Validate() error {
	if ins.Symbol == "" {
		return fmt.Errorf("合约 symbol 不能为空")
	}
	if ins.Size <= 0 {
		return fmt.Errorf("合约 %s 乘数需 > 0", ins.Symbol)
	}
	if ins.PriceTick < 0 || ins.Rate < 0 || ins.Slippage < 0 {
		return fmt.Errorf("合约 %s 参数不能为负", ins.Symbol)
	}
	return nil
}

// RoundTo 将价格对齐到最小跳动，使用 decimal 避免浮点累积误差。
func RoundTo(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	p := decimal.NewFromFloat(price)
	t := decimal.NewFromFloat(tick)
	rounded := p.Div(t).Round(0).Mul(t)
	f, _ := rounded.Float64()
	return f
}
