package gateway

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"algo-exec-go/order"
)

// Paper 内存撮合的模拟交易所：不主动成交，由 Fill/Expire/CancelExternally 驱动；
// 可注入拒单与瞬时错误。用于纸面交易与测试。
type Paper struct {
	mu     sync.Mutex
	rules  map[string]order.SymbolRules
	prices map[string]decimal.Decimal
	orders map[string]*order.Order // client id -> order
	seq    []string                // 下单顺序
	nextID int64
	now    func() time.Time

	rejectNext    int
	rejectReason  string
	transientNext int
	ackLost       int // 已受理但返回瞬时错误（回执丢失）
	autoFill      bool

	subs map[string][]*fillSub

	placed   int
	canceled int
	queried  int
}

var (
	_ order.Gateway     = (*Paper)(nil)
	_ order.PriceSource = (*Paper)(nil)
)

func NewPaper(rules ...order.SymbolRules) *Paper {
	p := &Paper{
		rules:  make(map[string]order.SymbolRules),
		prices: make(map[string]decimal.Decimal),
		orders: make(map[string]*order.Order),
		subs:   make(map[string][]*fillSub),
		nextID: 1000,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, r := range rules {
		p.rules[r.Symbol] = r
	}
	return p
}

// AddSymbol 注册交易规则。
func (p *Paper) AddSymbol(r order.SymbolRules) {
	p.mu.Lock()
	p.rules[r.Symbol] = r
	p.mu.Unlock()
}

// SetPrice 设置最新价；开启 AutoFillMarket 时市价单按该价格立即成交。
func (p *Paper) SetPrice(symbol string, px decimal.Decimal) {
	p.mu.Lock()
	p.prices[symbol] = px
	p.mu.Unlock()
}

// AutoFillMarket 市价单受理后立即全部成交。
func (p *Paper) AutoFillMarket(on bool) {
	p.mu.Lock()
	p.autoFill = on
	p.mu.Unlock()
}

// RejectNext 接下来 n 笔下单被拒。
func (p *Paper) RejectNext(n int, reason string) {
	p.mu.Lock()
	p.rejectNext = n
	p.rejectReason = reason
	p.mu.Unlock()
}

// FailTransient 接下来 n 笔下单返回瞬时错误且未受理。
func (p *Paper) FailTransient(n int) {
	p.mu.Lock()
	p.transientNext = n
	p.mu.Unlock()
}

// LoseAck 接下来 n 笔下单被受理，但调用方收到瞬时错误。
func (p *Paper) LoseAck(n int) {
	p.mu.Lock()
	p.ackLost = n
	p.mu.Unlock()
}

func (p *Paper) SymbolRules(_ context.Context, symbol string) (order.SymbolRules, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.rules[symbol]
	if !ok {
		return order.SymbolRules{}, fmt.Errorf("%w: %s", order.ErrUnknownSymbol, symbol)
	}
	return r, nil
}

func (p *Paper) LastPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	px, ok := p.prices[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("no price for %s", symbol)
	}
	return px, nil
}

func (p *Paper) PlaceOrder(ctx context.Context, o order.Order) (order.Order, error) {
	if err := ctx.Err(); err != nil {
		return o, err
	}
	p.mu.Lock()
	if p.transientNext > 0 {
		p.transientNext--
		p.mu.Unlock()
		return o, &order.TransientError{Op: "place", Err: fmt.Errorf("paper: connection reset")}
	}
	if p.rejectNext > 0 {
		p.rejectNext--
		reason := p.rejectReason
		p.mu.Unlock()
		return o, &order.RejectedError{Code: -2019, Reason: reason}
	}
	rules, ok := p.rules[o.Symbol]
	if !ok {
		p.mu.Unlock()
		return o, fmt.Errorf("%w: %s", order.ErrUnknownSymbol, o.Symbol)
	}
	if err := rules.ValidateOrder(o); err != nil {
		p.mu.Unlock()
		return o, &order.RejectedError{Code: -1013, Reason: err.Error()}
	}
	if _, dup := p.orders[o.ClientID]; dup && o.ClientID != "" {
		p.mu.Unlock()
		return o, &order.RejectedError{Code: -4015, Reason: "duplicate clientOrderId"}
	}
	p.nextID++
	stored := o
	stored.ID = formatID(p.nextID)
	stored.Status = order.StatusNew
	stored.FilledQty = decimal.Zero
	stored.UpdatedAt = p.now()
	p.orders[o.ClientID] = &stored
	p.seq = append(p.seq, o.ClientID)
	p.placed++

	lost := false
	if p.ackLost > 0 {
		p.ackLost--
		lost = true
	}
	var fill *order.FillEvent
	if p.autoFill && o.Type == order.TypeMarket {
		if px, ok := p.prices[o.Symbol]; ok {
			stored.FilledQty = stored.Quantity
			stored.AvgPrice = px
			stored.Status = order.StatusFilled
			ev := order.EventFromOrder(stored)
			fill = &ev
		}
	}
	ack := stored
	ack.Status = order.StatusNew
	ack.FilledQty = decimal.Zero
	ack.AvgPrice = decimal.Zero
	p.mu.Unlock()

	if fill != nil {
		p.emit(*fill)
	}
	if lost {
		return o, &order.TransientError{Op: "place", Err: fmt.Errorf("paper: ack lost")}
	}
	return ack, nil
}

func (p *Paper) CancelOrder(ctx context.Context, symbol, clientID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	o, ok := p.orders[clientID]
	if !ok || o.Symbol != symbol || !order.CanCancel(o.Status) {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", order.ErrOrderNotFound, clientID)
	}
	o.Status = order.StatusCanceled
	o.UpdatedAt = p.now()
	p.canceled++
	ev := order.EventFromOrder(*o)
	p.mu.Unlock()
	p.emit(ev)
	return nil
}

func (p *Paper) QueryOrder(ctx context.Context, symbol, clientID string) (order.Order, error) {
	if err := ctx.Err(); err != nil {
		return order.Order{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queried++
	o, ok := p.orders[clientID]
	if !ok || o.Symbol != symbol {
		return order.Order{}, fmt.Errorf("%w: %s", order.ErrOrderNotFound, clientID)
	}
	return *o, nil
}

// SubscribeFills 订阅回报；ctx 结束时关闭通道。
func (p *Paper) SubscribeFills(ctx context.Context, symbol string) (<-chan order.FillEvent, error) {
	sub := &fillSub{ctx: ctx, ch: make(chan order.FillEvent, fillBuffer)}
	p.mu.Lock()
	p.subs[symbol] = append(p.subs[symbol], sub)
	p.mu.Unlock()
	go func() {
		<-ctx.Done()
		p.mu.Lock()
		list := p.subs[symbol]
		for i, s := range list {
			if s == sub {
				p.subs[symbol] = append(list[:i], list[i+1:]...)
				break
			}
		}
		p.mu.Unlock()
		sub.close()
	}()
	return sub.ch, nil
}

// Fill 累计成交 qty（价格 px），推送回报。
func (p *Paper) Fill(clientID string, qty, px decimal.Decimal) error {
	p.mu.Lock()
	o, ok := p.orders[clientID]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", order.ErrOrderNotFound, clientID)
	}
	if o.Status.IsTerminal() {
		p.mu.Unlock()
		return fmt.Errorf("order %s already %s", clientID, o.Status)
	}
	total := o.FilledQty.Add(qty)
	if total.GreaterThan(o.Quantity) {
		p.mu.Unlock()
		return fmt.Errorf("fill %s exceeds order qty %s", total, o.Quantity)
	}
	notional := o.AvgPrice.Mul(o.FilledQty).Add(px.Mul(qty))
	o.FilledQty = total
	o.AvgPrice = notional.Div(total)
	o.Status = order.StatusPartiallyFilled
	if total.Equal(o.Quantity) {
		o.Status = order.StatusFilled
	}
	o.UpdatedAt = p.now()
	ev := order.EventFromOrder(*o)
	p.mu.Unlock()
	p.emit(ev)
	return nil
}

// FillAll 按挂单价全部成交。
func (p *Paper) FillAll(clientID string) error {
	p.mu.Lock()
	o, ok := p.orders[clientID]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", order.ErrOrderNotFound, clientID)
	}
	rest, px := o.Quantity.Sub(o.FilledQty), o.Price
	if !px.IsPositive() {
		px = p.prices[o.Symbol]
	}
	p.mu.Unlock()
	return p.Fill(clientID, rest, px)
}

// Expire 交易所侧过期。
func (p *Paper) Expire(clientID string) error {
	return p.terminate(clientID, order.StatusExpired)
}

// CancelExternally 模拟非本系统发起的撤单（例如手工在交易所撤单）。
func (p *Paper) CancelExternally(clientID string) error {
	return p.terminate(clientID, order.StatusCanceled)
}

// SilentFill 成交但不推送回报（模拟回报流断档）。
func (p *Paper) SilentFill(clientID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[clientID]
	if !ok || o.Status.IsTerminal() {
		return fmt.Errorf("%w: %s", order.ErrOrderNotFound, clientID)
	}
	o.FilledQty = o.Quantity
	o.AvgPrice = o.Price
	o.Status = order.StatusFilled
	o.UpdatedAt = p.now()
	return nil
}

func (p *Paper) terminate(clientID string, st order.Status) error {
	p.mu.Lock()
	o, ok := p.orders[clientID]
	if !ok || o.Status.IsTerminal() {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", order.ErrOrderNotFound, clientID)
	}
	o.Status = st
	o.UpdatedAt = p.now()
	ev := order.EventFromOrder(*o)
	p.mu.Unlock()
	p.emit(ev)
	return nil
}

func (p *Paper) emit(ev order.FillEvent) {
	p.mu.Lock()
	subs := append([]*fillSub(nil), p.subs[ev.Symbol]...)
	p.mu.Unlock()
	for _, s := range subs {
		s.send(ev)
	}
}

// Orders 按下单顺序返回 symbol 的订单（"" 表示全部）。
func (p *Paper) Orders(symbol string) []order.Order {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]order.Order, 0, len(p.seq))
	for _, id := range p.seq {
		o := p.orders[id]
		if symbol == "" || o.Symbol == symbol {
			out = append(out, *o)
		}
	}
	return out
}

// Live 未终态订单，按价格升序。
func (p *Paper) Live(symbol string) []order.Order {
	var out []order.Order
	for _, o := range p.Orders(symbol) {
		if o.IsLive() {
			out = append(out, o)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Price.LessThan(out[j].Price) })
	return out
}

// Order 按 ClientID 取订单。
func (p *Paper) Order(clientID string) (order.Order, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[clientID]
	if !ok {
		return order.Order{}, false
	}
	return *o, true
}

// Counts 下单/撤单/查询次数。
func (p *Paper) Counts() (placed, canceled, queried int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.placed, p.canceled, p.queried
}
