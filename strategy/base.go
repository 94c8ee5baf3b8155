package strategy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"algo-exec-go/audit"
	"algo-exec-go/order"
)

// cleanupTimeout 撤单清理的最长时间，不受调用方 ctx 取消影响。
const cleanupTimeout = 30 * time.Second

// Deps 策略运行所需的外部协作者。
type Deps struct {
	Orders   OrderManager
	Prices   order.PriceSource // 可选
	Clock    Clock
	Recorder audit.Recorder
	Logger   *zap.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = RealClock
	}
	if d.Recorder == nil {
		d.Recorder = audit.Nop{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return d
}

// base 三种策略共享的状态信封：ID、状态机、审计、回报信箱、撤销信号。
type base struct {
	id      string
	kind    Kind
	symbol  string
	created time.Time

	deps Deps
	log  *zap.Logger

	mu      sync.RWMutex
	status  Status
	reason  string
	updated time.Time

	inbox      *mailbox
	cancelReq  chan struct{}
	cancelOnce sync.Once
	done       chan struct{}
	doneOnce   sync.Once
	beforeDone func() // 关闭 done 前刷新快照
}

func newBase(kind Kind, symbol string, deps Deps) *base {
	deps = deps.withDefaults()
	id := string(kind) + "-" + uuid.New().String()
	now := deps.Clock.Now()
	return &base{
		id:        id,
		kind:      kind,
		symbol:    symbol,
		created:   now,
		updated:   now,
		deps:      deps,
		log:       deps.Logger.With(zap.String("strategy_id", id), zap.String("kind", string(kind)), zap.String("symbol", symbol)),
		status:    StatusPending,
		inbox:     newMailbox(),
		cancelReq: make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (b *base) ID() string           { return b.id }
func (b *base) Kind() Kind           { return b.kind }
func (b *base) Symbol() string       { return b.symbol }
func (b *base) CreatedAt() time.Time { return b.created }
func (b *base) Done() <-chan struct{} { return b.done }

// Advance 投递回报到信箱。
func (b *base) Advance(ev order.FillEvent) { b.inbox.push(ev) }

func (b *base) Status() (Status, string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status, b.reason
}

func (b *base) fillView(v *View) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v.ID = b.id
	v.Kind = b.kind
	v.Symbol = b.symbol
	v.Status = b.status
	v.Reason = b.reason
	v.CreatedAt = b.created
	v.UpdatedAt = b.updated
}

// setStatus 迁移状态并记录审计；终态不可离开。
func (b *base) setStatus(to Status, reason string) bool {
	b.mu.Lock()
	from := b.status
	if from == to || from.IsTerminal() {
		b.mu.Unlock()
		return false
	}
	b.status = to
	if reason != "" {
		b.reason = reason
	}
	b.updated = b.deps.Clock.Now()
	b.mu.Unlock()

	b.record(audit.Record{Event: audit.EventStrategyStatus, From: string(from), To: string(to), Reason: reason})
	if to == StatusFailed {
		b.log.Warn("strategy failed", zap.String("from", string(from)), zap.String("reason", reason))
	} else {
		b.log.Info("strategy status", zap.String("from", string(from)), zap.String("to", string(to)), zap.String("reason", reason))
	}
	return true
}

// finish 进入终态并关闭 done。
func (b *base) finish(to Status, reason string) {
	if b.beforeDone != nil {
		b.beforeDone()
	}
	b.setStatus(to, reason)
	b.doneOnce.Do(func() { close(b.done) })
}

func (b *base) touch() {
	b.mu.Lock()
	b.updated = b.deps.Clock.Now()
	b.mu.Unlock()
}

func (b *base) requestCancel() {
	b.cancelOnce.Do(func() { close(b.cancelReq) })
}

// cancelAndWait 幂等撤销：已是终态直接返回，否则发信号并等待任务收尾。
func (b *base) cancelAndWait(ctx context.Context) error {
	if st, _ := b.Status(); st.IsTerminal() {
		return nil
	}
	b.requestCancel()
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for %s to stop: %w", b.id, ctx.Err())
	}
}

func (b *base) cancelled() bool {
	select {
	case <-b.cancelReq:
		return true
	default:
		return false
	}
}

func (b *base) record(r audit.Record) {
	r.Time = b.deps.Clock.Now()
	r.StrategyID = b.id
	r.Kind = string(b.kind)
	if r.Symbol == "" {
		r.Symbol = b.symbol
	}
	b.deps.Recorder.Record(r)
}

func (b *base) recordOrder(ev audit.Event, o *order.Order, reason string) {
	r := audit.Record{
		Event:     ev,
		ClientID:  o.ClientID,
		OrderID:   o.ID,
		Side:      string(o.Side),
		Type:      string(o.Type),
		Status:    string(o.Status),
		Price:     o.Price.String(),
		Qty:       o.Quantity.String(),
		FilledQty: o.FilledQty.String(),
		Reason:    reason,
	}
	if o.FilledQty.IsPositive() {
		r.AvgPrice = o.AvgPrice.String()
	}
	b.record(r)
}

func (b *base) recordCreated() {
	b.record(audit.Record{Event: audit.EventStrategyCreated, To: string(StatusPending)})
}

// submit 下单并记录审计；失败时 o 保持原样（状态标记为 Rejected）。
func (b *base) submit(ctx context.Context, o order.Order) (order.Order, error) {
	o.Symbol = b.symbol
	placed, err := b.deps.Orders.Submit(ctx, b.id, o)
	if err != nil {
		if placed.Symbol == "" {
			placed = o
		}
		placed.Status = order.StatusRejected
		placed.LastError = order.RejectReason(err)
		b.recordOrder(audit.EventOrderRejected, &placed, placed.LastError)
		return placed, err
	}
	b.recordOrder(audit.EventOrderPlaced, &placed, "")
	b.touch()
	return placed, nil
}

// apply 将回报应用到子订单；矛盾回报记日志后忽略。
func (b *base) apply(o *order.Order, ev order.FillEvent) bool {
	if o.Status.IsTerminal() && !ev.FilledQty.GreaterThan(o.FilledQty) {
		if ev.Status != o.Status {
			b.log.Debug("stale order event ignored",
				zap.String("client_id", o.ClientID),
				zap.String("have", string(o.Status)),
				zap.String("got", string(ev.Status)))
		}
		return false
	}
	changed, err := o.Apply(ev)
	if err != nil {
		b.inconsistent(ev, err.Error())
		return false
	}
	if changed {
		b.recordOrder(audit.EventOrderUpdate, o, "")
		b.touch()
	}
	return changed
}

func (b *base) inconsistent(ev order.FillEvent, reason string) {
	b.log.Warn("inconsistent order event ignored",
		zap.String("client_id", ev.ClientID),
		zap.String("order_id", ev.OrderID),
		zap.String("status", string(ev.Status)),
		zap.String("reason", reason))
	b.record(audit.Record{
		Event:    audit.EventInconsistency,
		ClientID: ev.ClientID,
		OrderID:  ev.OrderID,
		Status:   string(ev.Status),
		Reason:   reason,
	})
}

// settle 撤掉仍在挂单的子订单并以交易所真实状态收尾。
// 返回 error 表示订单可能仍在交易所挂着。
func (b *base) settle(ctx context.Context, o *order.Order) error {
	if !o.IsLive() || o.ClientID == "" {
		return nil
	}
	cerr := b.deps.Orders.Cancel(ctx, b.symbol, o.ClientID)
	notFound := errors.Is(cerr, order.ErrOrderNotFound)
	if cerr != nil && !notFound {
		return fmt.Errorf("cancel %s: %w", o.ClientID, cerr)
	}
	if notFound {
		b.log.Info("cancel found order already terminal", zap.String("client_id", o.ClientID))
	} else {
		b.recordOrder(audit.EventOrderCanceled, o, "")
	}

	remote, qerr := b.deps.Orders.Query(ctx, b.symbol, o.ClientID)
	if qerr != nil {
		if !notFound {
			b.apply(o, order.FillEvent{
				Symbol:    b.symbol,
				ClientID:  o.ClientID,
				OrderID:   o.ID,
				Status:    order.StatusCanceled,
				FilledQty: o.FilledQty,
				Time:      b.deps.Clock.Now(),
			})
			return nil
		}
		return fmt.Errorf("query %s after cancel: %w", o.ClientID, qerr)
	}
	ev := order.EventFromOrder(remote)
	ev.ClientID = o.ClientID
	b.apply(o, ev)
	if o.IsLive() {
		return fmt.Errorf("order %s still %s after cancel", o.ClientID, o.Status)
	}
	return nil
}

// cleanupContext 收尾用的 ctx：继承值但不继承取消。
func cleanupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
}
