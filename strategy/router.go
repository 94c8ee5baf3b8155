package strategy

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"algo-exec-go/audit"
	"algo-exec-go/order"
)

// FillSource 按交易对订阅回报流，由网关实现。
type FillSource interface {
	SubscribeFills(ctx context.Context, symbol string) (<-chan order.FillEvent, error)
}

// Router 每个交易对一个订阅，按订单归属把回报分发给对应策略。
type Router struct {
	src    FillSource
	book   *order.Book
	reg    *Registry
	rec    audit.Recorder
	logger *zap.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	subs   map[string]context.CancelFunc
	wg     sync.WaitGroup
}

func NewRouter(src FillSource, book *order.Book, reg *Registry, rec audit.Recorder, logger *zap.Logger) *Router {
	if rec == nil {
		rec = audit.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Router{
		src:    src,
		book:   book,
		reg:    reg,
		rec:    rec,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[string]context.CancelFunc),
	}
}

// Ensure 确保已订阅 symbol 的回报；重复调用无副作用。
func (r *Router) Ensure(symbol string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[symbol]; ok {
		return nil
	}
	if r.ctx.Err() != nil {
		return fmt.Errorf("router stopped")
	}
	ctx, cancel := context.WithCancel(r.ctx)
	ch, err := r.src.SubscribeFills(ctx, symbol)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe fills %s: %w", symbol, err)
	}
	r.subs[symbol] = cancel
	r.wg.Add(1)
	go r.pump(ctx, symbol, ch)
	r.logger.Info("fill subscription started", zap.String("symbol", symbol))
	return nil
}

// pump 回报流关闭或订阅 ctx 取消时退出，不依赖数据源配合关闭通道。
func (r *Router) pump(ctx context.Context, symbol string, ch <-chan order.FillEvent) {
	defer r.wg.Done()
	defer func() {
		// 移除订阅，下次 Ensure 重新订阅
		r.mu.Lock()
		if cancel, ok := r.subs[symbol]; ok {
			cancel()
			delete(r.subs, symbol)
		}
		r.mu.Unlock()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				if r.ctx.Err() == nil {
					r.logger.Warn("fill subscription closed", zap.String("symbol", symbol))
				}
				return
			}
			if ev.Symbol == "" {
				ev.Symbol = symbol
			}
			r.Dispatch(ev)
		}
	}
}

// Dispatch 路由单条回报。未知订单记日志与审计后丢弃。
func (r *Router) Dispatch(ev order.FillEvent) {
	entry, ok := r.book.Observe(ev)
	if !ok {
		r.unroutable(ev, "order not tracked")
		return
	}
	if ev.ClientID == "" {
		ev.ClientID = entry.ClientID
	}
	s, err := r.reg.Get(entry.Owner)
	if err != nil {
		r.unroutable(ev, "owner "+entry.Owner+" not registered")
		return
	}
	s.Advance(ev)
}

func (r *Router) unroutable(ev order.FillEvent, reason string) {
	r.logger.Warn("unroutable fill event",
		zap.String("symbol", ev.Symbol),
		zap.String("client_id", ev.ClientID),
		zap.String("order_id", ev.OrderID),
		zap.String("status", string(ev.Status)),
		zap.String("reason", reason))
	r.rec.Record(audit.Record{
		Time:     ev.Time,
		Event:    audit.EventInconsistency,
		Symbol:   ev.Symbol,
		ClientID: ev.ClientID,
		OrderID:  ev.OrderID,
		Status:   string(ev.Status),
		Reason:   reason,
	})
}

// Symbols 当前已订阅的交易对。
func (r *Router) Symbols() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.subs))
	for s := range r.subs {
		out = append(out, s)
	}
	return out
}

// Stop 取消全部订阅并等待分发协程退出。
func (r *Router) Stop() {
	r.cancel()
	r.wg.Wait()
}
