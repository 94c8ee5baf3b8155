package order

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

// stubGateway 按脚本返回错误的内存网关。
type stubGateway struct {
	mu        sync.Mutex
	rules     map[string]SymbolRules
	orders    map[string]Order
	placeErrs []error // 依次消费，nil 表示成功
	cancelErr error
	queryErr  error
	placed    []Order
	canceled  []string
	queries   int
	nextID    int
}

func newStubGateway() *stubGateway {
	return &stubGateway{
		rules: map[string]SymbolRules{
			"BTCUSDT": {
				TickSize:    decimal.RequireFromString("0.1"),
				StepSize:    decimal.RequireFromString("0.001"),
				MinQty:      decimal.RequireFromString("0.001"),
				MinNotional: decimal.RequireFromString("5"),
			},
		},
		orders: make(map[string]Order),
	}
}

func (g *stubGateway) SymbolRules(_ context.Context, symbol string) (SymbolRules, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rules[symbol]
	if !ok {
		return SymbolRules{}, ErrUnknownSymbol
	}
	return r, nil
}

func (g *stubGateway) PlaceOrder(_ context.Context, o Order) (Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.placeErrs) > 0 {
		err := g.placeErrs[0]
		g.placeErrs = g.placeErrs[1:]
		if err != nil {
			return Order{}, err
		}
	}
	g.nextID++
	o.ID = decimal.NewFromInt(int64(g.nextID)).String()
	o.Status = StatusNew
	g.orders[o.ClientID] = o
	g.placed = append(g.placed, o)
	return o, nil
}

func (g *stubGateway) CancelOrder(_ context.Context, _ string, clientID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancelErr != nil {
		return g.cancelErr
	}
	o, ok := g.orders[clientID]
	if !ok || o.Status.IsTerminal() {
		return ErrOrderNotFound
	}
	o.Status = StatusCanceled
	g.orders[clientID] = o
	g.canceled = append(g.canceled, clientID)
	return nil
}

func (g *stubGateway) QueryOrder(_ context.Context, _ string, clientID string) (Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queries++
	if g.queryErr != nil {
		return Order{}, g.queryErr
	}
	o, ok := g.orders[clientID]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return o, nil
}

func (g *stubGateway) SubscribeFills(ctx context.Context, _ string) (<-chan FillEvent, error) {
	ch := make(chan FillEvent)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (g *stubGateway) setOrder(o Order) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orders[o.ClientID] = o
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }
