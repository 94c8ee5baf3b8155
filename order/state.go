package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side 买卖方向。
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite 返回反方向。
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Valid 判断方向是否合法。
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Type 订单类型。
type Type string

const (
	TypeMarket     Type = "MARKET"
	TypeLimit      Type = "LIMIT"
	TypeStopLimit  Type = "STOP"
	TypeStopMarket Type = "STOP_MARKET"
)

// Status represents order lifecycle.
type Status string

const (
	StatusPending         Status = "PENDING" // 本地已创建，尚未被交易所确认
	StatusNew             Status = "NEW"
	StatusPartiallyFilled Status = "PARTIALLY_FILLED"
	StatusFilled          Status = "FILLED"
	StatusCanceled        Status = "CANCELED"
	StatusRejected        Status = "REJECTED"
	StatusExpired         Status = "EXPIRED"
)

// IsTerminal 判断是否终态。
func (s Status) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	default:
		return false
	}
}

// Order holds the engine's view of one venue order.
// ID 在交易所确认前为空；ClientID 由本地生成，下单前即可用于路由回报。
type Order struct {
	ID          string
	ClientID    string
	Symbol      string
	Side        Side
	Type        Type
	Quantity    decimal.Decimal
	Price       decimal.Decimal // 市价单为零
	StopPrice   decimal.Decimal
	TimeInForce string
	ReduceOnly  bool

	Status    Status
	FilledQty decimal.Decimal
	AvgPrice  decimal.Decimal
	UpdatedAt time.Time
	LastError string
}

// IsLive 订单可能继续成交。
func (o Order) IsLive() bool {
	return !o.Status.IsTerminal() && o.Status != ""
}

// Unfilled 剩余未成交数量。
func (o Order) Unfilled() decimal.Decimal {
	rest := o.Quantity.Sub(o.FilledQty)
	if rest.IsNegative() {
		return decimal.Zero
	}
	return rest
}

// Key 优先使用 ClientID 作为路由键。
func (o Order) Key() string {
	if o.ClientID != "" {
		return o.ClientID
	}
	return o.ID
}
