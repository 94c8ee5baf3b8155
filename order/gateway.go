package order

import (
	"context"

	"github.com/shopspring/decimal"
)

// Gateway 交易所订单接口；与 gateway.BinanceRESTClient / gateway.Paper 对接。
// 撤单与查询统一使用 ClientID（下单前即已知，确认前也能撤）。
type Gateway interface {
	SymbolRules(ctx context.Context, symbol string) (SymbolRules, error)
	PlaceOrder(ctx context.Context, o Order) (Order, error)
	CancelOrder(ctx context.Context, symbol, clientID string) error
	QueryOrder(ctx context.Context, symbol, clientID string) (Order, error)
	// SubscribeFills 返回该交易对的回报流，ctx 结束时关闭。断线重连由实现负责。
	SubscribeFills(ctx context.Context, symbol string) (<-chan FillEvent, error)
}

// PriceSource 最新成交价/标记价。
type PriceSource interface {
	LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Observer 订单边界事件回调（指标）。
type Observer interface {
	OrderPlaced(symbol string, typ Type)
	OrderRejected(symbol, reason string)
	OrderCanceled(symbol string)
	SubmitRetry(op string)
}

type nopObserver struct{}

func (nopObserver) OrderPlaced(string, Type)     {}
func (nopObserver) OrderRejected(string, string) {}
func (nopObserver) OrderCanceled(string)         {}
func (nopObserver) SubmitRetry(string)           {}
