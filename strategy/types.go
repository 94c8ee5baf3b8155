package strategy

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"algo-exec-go/order"
)

// Kind 策略类型。
type Kind string

const (
	KindOCO  Kind = "oco"
	KindTWAP Kind = "twap"
	KindGrid Kind = "grid"
)

// Status 策略生命周期状态。
type Status string

const (
	StatusPending       Status = "PENDING"
	StatusActive        Status = "ACTIVE"
	StatusPartiallyDone Status = "PARTIALLY_DONE"
	StatusCompleted     Status = "COMPLETED"
	StatusCancelled     Status = "CANCELLED"
	StatusFailed        Status = "FAILED"
)

// IsTerminal 判断是否终态。
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

// Strategy 策略能力接口：推进（回报）、撤销、查看。
type Strategy interface {
	ID() string
	Kind() Kind
	Symbol() string
	CreatedAt() time.Time
	// Start 下首批订单并启动策略任务。
	Start(ctx context.Context) error
	// Advance 投递回报，从不阻塞。
	Advance(ev order.FillEvent)
	// Cancel 请求撤销并等待终态；已是终态时直接返回。
	Cancel(ctx context.Context) error
	View() View
	Done() <-chan struct{}
}

// OrderManager 策略依赖的下单边界，由 *order.Manager 实现。
type OrderManager interface {
	Submit(ctx context.Context, owner string, o order.Order) (order.Order, error)
	Cancel(ctx context.Context, symbol, clientID string) error
	Query(ctx context.Context, symbol, clientID string) (order.Order, error)
}

// OrderView 子订单快照。
type OrderView struct {
	Role      string          `json:"role"`
	ClientID  string          `json:"clientOrderId"`
	OrderID   string          `json:"orderId,omitempty"`
	Side      order.Side      `json:"side"`
	Type      order.Type      `json:"type"`
	Price     decimal.Decimal `json:"price"`
	StopPrice decimal.Decimal `json:"stopPrice"`
	Quantity  decimal.Decimal `json:"qty"`
	FilledQty decimal.Decimal `json:"filledQty"`
	AvgPrice  decimal.Decimal `json:"avgPrice"`
	Status    order.Status    `json:"status"`
}

func viewOf(role string, o *order.Order) OrderView {
	return OrderView{
		Role:      role,
		ClientID:  o.ClientID,
		OrderID:   o.ID,
		Side:      o.Side,
		Type:      o.Type,
		Price:     o.Price,
		StopPrice: o.StopPrice,
		Quantity:  o.Quantity,
		FilledQty: o.FilledQty,
		AvgPrice:  o.AvgPrice,
		Status:    o.Status,
	}
}

// View 策略状态快照。
type View struct {
	ID           string          `json:"id"`
	Kind         Kind            `json:"kind"`
	Symbol       string          `json:"symbol"`
	Status       Status          `json:"status"`
	Reason       string          `json:"reason,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
	Orders       []OrderView     `json:"orders"`
	FilledQty    decimal.Decimal `json:"filledQty"`
	RemainingQty decimal.Decimal `json:"remainingQty"`

	OCO  *OCODetail  `json:"oco,omitempty"`
	TWAP *TWAPDetail `json:"twap,omitempty"`
	Grid *GridDetail `json:"grid,omitempty"`
}

// OCODetail 两条腿的状态。
type OCODetail struct {
	TakeProfit OrderView `json:"takeProfit"`
	StopLoss   OrderView `json:"stopLoss"`
	FilledLeg  string    `json:"filledLeg,omitempty"`
}

// TWAPDetail 切片进度。
type TWAPDetail struct {
	TotalQty     decimal.Decimal   `json:"totalQty"`
	SliceCount   int               `json:"sliceCount"`
	SlicesDone   int               `json:"slicesDone"`
	PendingPlan  []decimal.Decimal `json:"pendingPlan"`
	Attempt      int               `json:"attempt"`
	AvgPrice     decimal.Decimal   `json:"avgPrice"`
	InitialPrice decimal.Decimal   `json:"initialPrice"`
	NextSliceAt  time.Time         `json:"nextSliceAt"`
}

// GridDetail 档位与收益。
type GridDetail struct {
	Levels         []LevelView     `json:"levels"`
	RealizedProfit decimal.Decimal `json:"realizedProfit"`
	Trades         []Trade         `json:"trades"`
}

// LevelView 单个档位状态。
type LevelView struct {
	Index       int             `json:"index"`
	Price       decimal.Decimal `json:"price"`
	State       LevelState      `json:"state"`
	Side        order.Side      `json:"side,omitempty"`
	ClientID    string          `json:"clientOrderId,omitempty"`
	OrderStatus order.Status    `json:"orderStatus,omitempty"`
	Rearms      int             `json:"rearms"`
	Reason      string          `json:"reason,omitempty"`
}

// Trade 网格成交记录。
type Trade struct {
	Level int             `json:"level"`
	Side  order.Side      `json:"side"`
	Price decimal.Decimal `json:"price"`
	Qty   decimal.Decimal `json:"qty"`
	Time  time.Time       `json:"time"`
}
