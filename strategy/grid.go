package strategy

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"algo-exec-go/audit"
	"algo-exec-go/order"
)

// LevelState 网格档位状态。
type LevelState string

const (
	LevelIdle     LevelState = "IDLE"     // 等于参考价且配置为跳过
	LevelArmed    LevelState = "ARMED"    // 有挂单
	LevelCooldown LevelState = "COOLDOWN" // 成交后等待冷却再反向挂单
	LevelAwaiting LevelState = "AWAITING" // 反向单挂到了相邻档位，等待回补
	LevelCapped   LevelState = "CAPPED"   // 达到重挂上限
	LevelFailed   LevelState = "FAILED"   // 重挂被拒
	LevelStopped  LevelState = "STOPPED"
)

const recentOrdersPerLevel = 8

// gridLevel 单个档位。mu 保证“成交 -> 重挂”对该档位原子，不同档位互不阻塞。
type gridLevel struct {
	index int
	price decimal.Decimal
	inbox *mailbox

	mu     sync.Mutex
	state  LevelState
	side   order.Side
	ord    *order.Order
	recent []*order.Order
	rearms int
	reason string
}

type lot struct {
	price decimal.Decimal
	qty   decimal.Decimal
}

// Grid 区间网格：每档一张挂单，成交后在同价（或相邻档）反向重挂。
type Grid struct {
	*base
	params GridParams
	prices []decimal.Decimal
	levels []*gridLevel

	runCtx    context.Context
	routeMu   sync.RWMutex
	route     map[string]int
	stopping  atomic.Bool
	halt      chan struct{}
	haltOnce  sync.Once
	exhausted chan struct{}
	wg        sync.WaitGroup

	statsMu sync.Mutex
	lots    []lot
	profit  decimal.Decimal
	traded  decimal.Decimal
	trades  []Trade

	viewMu     sync.RWMutex
	levelViews []LevelView
	liveOrders []*OrderView
}

// NewGrid 校验参数并计算档位价格。ReferencePrice 必须已确定。
func NewGrid(p GridParams, rules order.SymbolRules, deps Deps) (*Grid, error) {
	p.applyDefaults()
	prices, err := p.Validate(rules)
	if err != nil {
		return nil, err
	}
	g := &Grid{
		base:       newBase(KindGrid, p.Symbol, deps),
		params:     p,
		prices:     prices,
		route:      make(map[string]int),
		halt:       make(chan struct{}),
		exhausted:  make(chan struct{}, 1),
		levelViews: make([]LevelView, len(prices)),
		liveOrders: make([]*OrderView, len(prices)),
	}
	for i, px := range prices {
		lvl := &gridLevel{index: i, price: px, inbox: newMailbox(), state: LevelIdle}
		lvl.side = SideFor(px, p.ReferencePrice, p.AtReference)
		g.levels = append(g.levels, lvl)
		g.publishLevel(lvl)
	}
	return g, nil
}

// Prices 档位价格（严格递增）。
func (g *Grid) Prices() []decimal.Decimal {
	out := make([]decimal.Decimal, len(g.prices))
	copy(out, g.prices)
	return out
}

// Start 每档挂一张初始单；单档失败不影响其他档位，全部失败则策略失败。
func (g *Grid) Start(ctx context.Context) error {
	g.recordCreated()
	g.runCtx = ctx

	var (
		armed    int
		firstErr error
	)
	for _, lvl := range g.levels {
		lvl.mu.Lock()
		if lvl.side == "" {
			g.publishLevel(lvl)
			lvl.mu.Unlock()
			continue
		}
		if err := g.place(ctx, lvl, lvl.side); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			lvl.state = LevelFailed
			lvl.reason = order.RejectReason(err)
		} else {
			armed++
			if st, _ := g.Status(); st == StatusPending {
				g.setStatus(StatusActive, "")
			}
		}
		g.publishLevel(lvl)
		lvl.mu.Unlock()
	}
	if armed == 0 {
		if firstErr == nil {
			firstErr = invalid("referencePrice", "no level has a side to place")
		}
		g.finish(StatusFailed, "no grid level could be placed: "+order.RejectReason(firstErr))
		return firstErr
	}

	for _, lvl := range g.levels {
		g.wg.Add(1)
		go g.work(lvl)
	}
	go g.supervise(ctx)
	return nil
}

// Advance 按 ClientID 把回报投递到对应档位的信箱。
func (g *Grid) Advance(ev order.FillEvent) {
	g.routeMu.RLock()
	idx, ok := g.route[ev.ClientID]
	g.routeMu.RUnlock()
	if !ok {
		g.inconsistent(ev, "event does not match any grid level")
		return
	}
	g.levels[idx].inbox.push(ev)
}

func (g *Grid) work(lvl *gridLevel) {
	defer g.wg.Done()
	for {
		select {
		case <-lvl.inbox.ready:
			g.onEvents(lvl, lvl.inbox.drain())
		case <-g.halt:
			return
		}
	}
}

func (g *Grid) onEvents(lvl *gridLevel, events []order.FillEvent) {
	lvl.mu.Lock()
	defer lvl.mu.Unlock()
	defer g.publishLevel(lvl)

	for _, ev := range events {
		o := lvl.find(ev.ClientID)
		if o == nil {
			g.inconsistent(ev, fmt.Sprintf("event routed to level %d but order unknown", lvl.index))
			continue
		}
		before := o.FilledQty
		g.apply(o, ev)
		if delta := o.FilledQty.Sub(before); delta.IsPositive() {
			px := o.AvgPrice
			if !px.IsPositive() {
				px = o.Price
			}
			g.recordTrade(lvl.index, o.Side, px, delta)
		}
		if o != lvl.ord || g.stopping.Load() {
			continue
		}
		switch o.Status {
		case order.StatusFilled:
			g.rearm(lvl, o.Side.Opposite(), "filled")
		case order.StatusCanceled, order.StatusExpired:
			// 外部撤单：同方向补挂
			g.rearm(lvl, o.Side, string(o.Status)+" by venue")
		case order.StatusRejected:
			lvl.state = LevelFailed
			lvl.reason = "rejected by venue"
			lvl.ord = nil
			g.signalIfExhausted()
		}
	}
}

// rearm 调用方持有 lvl.mu。
func (g *Grid) rearm(lvl *gridLevel, side order.Side, why string) {
	lvl.ord = nil
	if g.params.MaxRearmsPerLevel > 0 && lvl.rearms >= g.params.MaxRearmsPerLevel {
		lvl.state = LevelCapped
		lvl.reason = fmt.Sprintf("re-arm cap %d reached", g.params.MaxRearmsPerLevel)
		g.log.Warn("grid level capped", zap.Int("level", lvl.index), zap.Int("rearms", lvl.rearms))
		g.signalIfExhausted()
		return
	}
	if g.params.RearmCooldown > 0 && !g.cooldown(lvl) {
		return
	}

	target := lvl
	if nb := g.neighbor(lvl, side); nb != nil {
		target = nb
		defer func() {
			g.publishLevel(nb)
			nb.mu.Unlock()
		}()
	}
	// shutdown 先置标志再逐档加锁，持有目标档位锁后检查才不会漏撤
	if g.stopping.Load() {
		lvl.state = LevelStopped
		return
	}
	lvl.rearms++
	if err := g.place(g.runCtx, target, side); err != nil {
		target.state = LevelFailed
		target.reason = "re-arm rejected: " + order.RejectReason(err)
		if target != lvl {
			lvl.state = LevelAwaiting
		}
		g.signalIfExhausted()
		return
	}
	if target != lvl {
		lvl.state = LevelAwaiting
		lvl.side = ""
	}
	g.record(audit.Record{
		Event:  audit.EventGridRearm,
		Level:  audit.Int(target.index),
		Side:   string(side),
		Price:  target.price.String(),
		Reason: why,
	})
	g.log.Info("grid level re-armed",
		zap.Int("from_level", lvl.index), zap.Int("level", target.index),
		zap.String("side", string(side)), zap.String("reason", why))
}

// cooldown 调用方持有 lvl.mu；等待期间释放锁，返回 false 表示网格已停止。
// COOLDOWN 状态挡住相邻档位的重挂，该档的回报只由本档协程处理。
func (g *Grid) cooldown(lvl *gridLevel) bool {
	lvl.state = LevelCooldown
	g.publishLevel(lvl)
	timer := g.deps.Clock.NewTimer(g.params.RearmCooldown)
	lvl.mu.Unlock()
	halted := false
	select {
	case <-timer.C():
	case <-g.halt:
		timer.Stop()
		halted = true
	}
	lvl.mu.Lock()
	if halted || g.stopping.Load() || lvl.state != LevelCooldown {
		lvl.state = LevelStopped
		return false
	}
	return true
}

// neighbor 相邻档位模式下返回已加锁的空闲相邻档位；不可用时返回 nil（同档重挂）。
func (g *Grid) neighbor(lvl *gridLevel, side order.Side) *gridLevel {
	if g.params.RearmOffset == 0 {
		return nil
	}
	j := lvl.index - 1
	if side == order.SideSell {
		j = lvl.index + 1
	}
	if j < 0 || j >= len(g.levels) {
		return nil
	}
	nb := g.levels[j]
	// 持有本档锁时只尝试加锁，避免两档互相重挂时死锁
	if !nb.mu.TryLock() {
		return nil
	}
	if nb.state != LevelAwaiting && nb.state != LevelIdle {
		nb.mu.Unlock()
		return nil
	}
	return nb
}

// place 调用方持有 lvl.mu。先登记路由再下单，回报早于回执也能路由。
func (g *Grid) place(ctx context.Context, lvl *gridLevel, side order.Side) error {
	o := order.Order{
		ClientID:    order.NewClientID(),
		Symbol:      g.symbol,
		Side:        side,
		Type:        order.TypeLimit,
		Quantity:    g.params.QuantityPerLevel,
		Price:       lvl.price,
		TimeInForce: "GTC",
	}
	g.routeMu.Lock()
	g.route[o.ClientID] = lvl.index
	g.routeMu.Unlock()

	placed, err := g.submit(ctx, o)
	if err != nil {
		g.routeMu.Lock()
		delete(g.route, o.ClientID)
		g.routeMu.Unlock()
		return err
	}
	lvl.remember(&placed)
	lvl.ord = &placed
	lvl.side = side
	lvl.state = LevelArmed
	lvl.reason = ""
	return nil
}

func (lvl *gridLevel) remember(o *order.Order) {
	lvl.recent = append(lvl.recent, o)
	if len(lvl.recent) > recentOrdersPerLevel {
		lvl.recent = lvl.recent[len(lvl.recent)-recentOrdersPerLevel:]
	}
}

func (lvl *gridLevel) find(clientID string) *order.Order {
	for i := len(lvl.recent) - 1; i >= 0; i-- {
		if lvl.recent[i].ClientID == clientID {
			return lvl.recent[i]
		}
	}
	return nil
}

func (g *Grid) signalIfExhausted() {
	select {
	case g.exhausted <- struct{}{}:
	default:
	}
}

func (g *Grid) supervise(ctx context.Context) {
	for {
		select {
		case <-g.cancelReq:
			g.shutdown(ctx, StatusCancelled, "cancelled by request")
			return
		case <-ctx.Done():
			g.shutdown(ctx, StatusCancelled, "engine stopped")
			return
		case <-g.exhausted:
			if status, reason, done := g.checkExhausted(); done {
				g.shutdown(ctx, status, reason)
				return
			}
		}
	}
}

// checkExhausted 按档位顺序加锁检查：没有任何档位还能继续产生成交时网格结束。
func (g *Grid) checkExhausted() (Status, string, bool) {
	for _, lvl := range g.levels {
		lvl.mu.Lock()
	}
	defer func() {
		for _, lvl := range g.levels {
			lvl.mu.Unlock()
		}
	}()
	var capped, failed int
	for _, lvl := range g.levels {
		switch lvl.state {
		case LevelArmed, LevelCooldown:
			return "", "", false
		case LevelCapped:
			capped++
		case LevelFailed:
			failed++
		}
	}
	reason := fmt.Sprintf("no level can progress: %d capped, %d failed", capped, failed)
	if failed > 0 {
		return StatusFailed, reason, true
	}
	return StatusCompleted, reason, true
}

// shutdown 先置停止标志，再逐档加锁撤单；重挂与撤单对同一档位互斥，不会漏撤。
func (g *Grid) shutdown(ctx context.Context, status Status, reason string) {
	g.stopping.Store(true)
	g.haltOnce.Do(func() { close(g.halt) })

	cctx, cancel := cleanupContext(ctx)
	defer cancel()
	var failed []string
	for _, lvl := range g.levels {
		lvl.mu.Lock()
		for _, ev := range lvl.inbox.drain() {
			if o := lvl.find(ev.ClientID); o != nil {
				before := o.FilledQty
				g.apply(o, ev)
				if delta := o.FilledQty.Sub(before); delta.IsPositive() {
					g.recordTrade(lvl.index, o.Side, lvl.price, delta)
				}
			}
		}
		if lvl.ord != nil && lvl.ord.IsLive() {
			before := lvl.ord.FilledQty
			if err := g.settle(cctx, lvl.ord); err != nil {
				g.log.Error("cancel level order failed", zap.Int("level", lvl.index), zap.Error(err))
				failed = append(failed, err.Error())
			}
			if delta := lvl.ord.FilledQty.Sub(before); delta.IsPositive() {
				g.recordTrade(lvl.index, lvl.ord.Side, lvl.price, delta)
			}
		}
		if lvl.state == LevelArmed || lvl.state == LevelCooldown || lvl.state == LevelAwaiting {
			lvl.state = LevelStopped
		}
		g.publishLevel(lvl)
		lvl.mu.Unlock()
	}
	g.wg.Wait()
	if len(failed) > 0 {
		g.finish(StatusFailed, reason+"; cleanup failed: "+failed[0])
		return
	}
	g.finish(status, reason)
}

func (g *Grid) recordTrade(level int, side order.Side, price, qty decimal.Decimal) {
	g.statsMu.Lock()
	defer g.statsMu.Unlock()
	g.trades = append(g.trades, Trade{Level: level, Side: side, Price: price, Qty: qty, Time: g.deps.Clock.Now()})
	g.traded = g.traded.Add(qty)
	if side == order.SideBuy {
		g.lots = append(g.lots, lot{price: price, qty: qty})
		return
	}
	// 卖出按 FIFO 与持有的买入批次配对计算已实现收益
	rest := qty
	for rest.IsPositive() && len(g.lots) > 0 {
		l := &g.lots[0]
		m := decimal.Min(rest, l.qty)
		g.profit = g.profit.Add(price.Sub(l.price).Mul(m))
		l.qty = l.qty.Sub(m)
		rest = rest.Sub(m)
		if !l.qty.IsPositive() {
			g.lots = g.lots[1:]
		}
	}
}

// publishLevel 调用方持有 lvl.mu（或处于单线程初始化阶段）。
func (g *Grid) publishLevel(lvl *gridLevel) {
	lv := LevelView{
		Index:  lvl.index,
		Price:  lvl.price,
		State:  lvl.state,
		Side:   lvl.side,
		Rearms: lvl.rearms,
		Reason: lvl.reason,
	}
	var live *OrderView
	if lvl.ord != nil {
		lv.ClientID = lvl.ord.ClientID
		lv.OrderStatus = lvl.ord.Status
		ov := viewOf(fmt.Sprintf("level-%d", lvl.index), lvl.ord)
		live = &ov
	}
	g.viewMu.Lock()
	g.levelViews[lvl.index] = lv
	g.liveOrders[lvl.index] = live
	g.viewMu.Unlock()
	g.touch()
}

// Cancel 撤掉所有档位挂单；已终态时为空操作。
func (g *Grid) Cancel(ctx context.Context) error {
	return g.cancelAndWait(ctx)
}

func (g *Grid) View() View {
	var v View
	g.fillView(&v)

	g.viewMu.RLock()
	levels := make([]LevelView, len(g.levelViews))
	copy(levels, g.levelViews)
	v.Orders = make([]OrderView, 0, len(g.liveOrders))
	remaining := decimal.Zero
	for _, ov := range g.liveOrders {
		if ov == nil {
			continue
		}
		v.Orders = append(v.Orders, *ov)
		if !ov.Status.IsTerminal() {
			remaining = remaining.Add(ov.Quantity.Sub(ov.FilledQty))
		}
	}
	g.viewMu.RUnlock()

	g.statsMu.Lock()
	trades := make([]Trade, len(g.trades))
	copy(trades, g.trades)
	profit, traded := g.profit, g.traded
	g.statsMu.Unlock()

	v.FilledQty = traded
	v.RemainingQty = remaining
	v.Grid = &GridDetail{Levels: levels, RealizedProfit: profit, Trades: trades}
	return v
}
