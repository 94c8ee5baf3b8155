package order

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// FillEvent 交易所推送的订单回报。FilledQty 为累计成交量。
type FillEvent struct {
	Symbol    string
	OrderID   string
	ClientID  string
	Status    Status
	FilledQty decimal.Decimal
	AvgPrice  decimal.Decimal
	Time      time.Time
}

// Key 与 Order.Key 对应的路由键。
func (e FillEvent) Key() string {
	if e.ClientID != "" {
		return e.ClientID
	}
	return e.OrderID
}

// ErrInconsistent 回报与本地状态矛盾（非法状态跳转、成交量回退）。
type ErrInconsistent struct {
	Key    string
	Reason string
}

func (e *ErrInconsistent) Error() string {
	return fmt.Sprintf("inconsistent update for order %s: %s", e.Key, e.Reason)
}

// Apply 将回报应用到订单上，返回是否发生变化。
// 非法跳转返回 *ErrInconsistent，订单保持不变。
func (o *Order) Apply(ev FillEvent) (bool, error) {
	if ev.Status == "" {
		return false, &ErrInconsistent{Key: ev.Key(), Reason: "empty status"}
	}
	if err := defaultStateMachine.ValidateTransition(o.Status, ev.Status); err != nil {
		return false, &ErrInconsistent{Key: ev.Key(), Reason: err.Error()}
	}
	if ev.FilledQty.LessThan(o.FilledQty) {
		return false, &ErrInconsistent{
			Key:    ev.Key(),
			Reason: fmt.Sprintf("filled qty went backwards %s -> %s", o.FilledQty, ev.FilledQty),
		}
	}
	if ev.FilledQty.GreaterThan(o.Quantity) && o.Quantity.IsPositive() {
		return false, &ErrInconsistent{
			Key:    ev.Key(),
			Reason: fmt.Sprintf("filled qty %s exceeds order qty %s", ev.FilledQty, o.Quantity),
		}
	}
	changed := o.Status != ev.Status || !o.FilledQty.Equal(ev.FilledQty)
	o.Status = ev.Status
	o.FilledQty = ev.FilledQty
	if ev.AvgPrice.IsPositive() {
		o.AvgPrice = ev.AvgPrice
	}
	if ev.OrderID != "" && o.ID == "" {
		o.ID = ev.OrderID
	}
	if !ev.Time.IsZero() {
		o.UpdatedAt = ev.Time
	}
	return changed, nil
}

// EventFromOrder 由查询到的订单快照合成回报（对账/撤单回执使用）。
func EventFromOrder(o Order) FillEvent {
	return FillEvent{
		Symbol:    o.Symbol,
		OrderID:   o.ID,
		ClientID:  o.ClientID,
		Status:    o.Status,
		FilledQty: o.FilledQty,
		AvgPrice:  o.AvgPrice,
		Time:      o.UpdatedAt,
	}
}
