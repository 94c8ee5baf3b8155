package strategy

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"algo-exec-go/audit"
	"algo-exec-go/order"
)

type twapSlice struct {
	index   int
	attempt int
	order   order.Order
}

// TWAP 将大单按固定间隔切片执行。
// 守恒：已成交 + 在途未成交 + 待执行计划 == 总量。
type TWAP struct {
	*base
	params TWAPParams

	// 以下字段只由策略任务 goroutine 读写
	plan         []decimal.Decimal
	planned      int
	slices       []*twapSlice
	current      *twapSlice
	sliceNo      int
	attempt      int
	initialPrice decimal.Decimal
	nextAt       time.Time

	viewMu sync.RWMutex
	snap   View
}

// NewTWAP 校验参数并生成切片计划。
func NewTWAP(p TWAPParams, rules order.SymbolRules, deps Deps) (*TWAP, error) {
	p.applyDefaults()
	plan, err := p.Validate(rules)
	if err != nil {
		return nil, err
	}
	s := &TWAP{
		base:    newBase(KindTWAP, p.Symbol, deps),
		params:  p,
		plan:    plan,
		planned: len(plan),
	}
	s.beforeDone = s.publish
	s.publish()
	return s, nil
}

// Plan 返回尚未执行的切片计划。
func (s *TWAP) Plan() []decimal.Decimal {
	s.viewMu.RLock()
	defer s.viewMu.RUnlock()
	out := make([]decimal.Decimal, len(s.snap.TWAP.PendingPlan))
	copy(out, s.snap.TWAP.PendingPlan)
	return out
}

// Start 记录初始价格并启动切片任务；第一片立即执行。
func (s *TWAP) Start(ctx context.Context) error {
	s.recordCreated()
	if s.deps.Prices != nil && s.params.MaxPriceDeviation.IsPositive() {
		px, err := s.deps.Prices.LastPrice(ctx, s.symbol)
		if err != nil {
			s.log.Warn("initial price unavailable, deviation watch disabled until next slice", zap.Error(err))
		} else {
			s.initialPrice = px
		}
	}
	s.publish()
	go s.run(ctx)
	return nil
}

func (s *TWAP) run(ctx context.Context) {
	wait := time.Duration(0)
	for {
		if len(s.plan) == 0 {
			s.finish(StatusCompleted, "all slices filled")
			return
		}
		if stop := s.sleep(ctx, wait); stop != "" {
			s.shutdown(ctx, stop)
			return
		}
		wait = s.params.Interval

		q := s.plan[0]
		s.plan = s.plan[1:]
		s.attempt++
		s.checkDeviation(ctx)

		sl := &twapSlice{index: s.sliceNo, attempt: s.attempt, order: s.sliceOrder(q)}
		placed, err := s.submit(ctx, sl.order)
		sl.order = placed
		s.slices = append(s.slices, sl)
		if err != nil {
			s.plan = prepend(s.plan, q)
			s.publish()
			if ctx.Err() != nil {
				s.shutdown(ctx, "engine stopped")
				return
			}
			if !s.retryOrFail("rejected: " + order.RejectReason(err)) {
				return
			}
			continue
		}
		if st, _ := s.Status(); st == StatusPending {
			s.setStatus(StatusActive, "")
		}
		s.current = sl
		s.publish()

		if stop := s.await(ctx, sl); stop != "" {
			s.shutdown(ctx, stop)
			return
		}
		if st, _ := s.Status(); st.IsTerminal() {
			return
		}
		s.current = nil

		filled := sl.order.FilledQty
		unfilled := q.Sub(filled)
		if filled.IsPositive() {
			s.setStatus(StatusPartiallyDone, "")
		}
		switch {
		case !unfilled.IsPositive():
			s.sliceNo++
			s.attempt = 0
		case filled.IsPositive():
			// 部分成交：未成交部分并入下一片，没有下一片则追加补齐片
			if len(s.plan) > 0 {
				s.plan[0] = s.plan[0].Add(unfilled)
			} else {
				s.plan = append(s.plan, unfilled)
				s.planned++
			}
			s.log.Info("slice partially filled, remainder folded",
				zap.Int("slice", sl.index), zap.String("filled", filled.String()), zap.String("folded", unfilled.String()))
			s.sliceNo++
			s.attempt = 0
		default:
			s.plan = prepend(s.plan, q)
			s.publish()
			if !s.retryOrFail(string(sl.order.Status) + " without fill") {
				return
			}
		}
		s.publish()
	}
}

func (s *TWAP) sliceOrder(q decimal.Decimal) order.Order {
	o := order.Order{
		Symbol:     s.symbol,
		Side:       s.params.Side,
		Type:       s.params.OrderType,
		Quantity:   q,
		ReduceOnly: s.params.ReduceOnly,
	}
	if s.params.OrderType == order.TypeLimit {
		o.Price = s.params.LimitPrice
		o.TimeInForce = "GTC"
	}
	return o
}

// retryOrFail 当前切片未成交：未超过次数则等待下个间隔重试，否则整体失败（剩余量不变）。
func (s *TWAP) retryOrFail(reason string) bool {
	s.record(audit.Record{Event: audit.EventSliceRetry, Slice: audit.Int(s.sliceNo), Attempt: s.attempt, Reason: reason})
	if s.attempt >= s.params.MaxSliceAttempts {
		s.finish(StatusFailed, fmt.Sprintf("slice %d failed after %d attempts: %s", s.sliceNo, s.attempt, reason))
		return false
	}
	s.log.Warn("slice attempt failed, will retry",
		zap.Int("slice", s.sliceNo), zap.Int("attempt", s.attempt), zap.String("reason", reason))
	return true
}

// sleep 等待下一个 tick，期间继续消费迟到回报。返回非空表示需要停止。
func (s *TWAP) sleep(ctx context.Context, d time.Duration) string {
	s.nextAt = s.deps.Clock.Now().Add(d)
	s.publish()
	if d <= 0 {
		select {
		case <-s.cancelReq:
			return "cancelled by request"
		case <-ctx.Done():
			return "engine stopped"
		default:
			return ""
		}
	}
	timer := s.deps.Clock.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-timer.C():
			return ""
		case <-s.inbox.ready:
			s.consume(s.inbox.drain())
		case <-s.cancelReq:
			return "cancelled by request"
		case <-ctx.Done():
			return "engine stopped"
		}
	}
}

// await 等待切片终态或超时；超时撤单并以真实状态收尾。
func (s *TWAP) await(ctx context.Context, sl *twapSlice) string {
	timer := s.deps.Clock.NewTimer(s.params.SliceTimeout)
	defer timer.Stop()
	for sl.order.IsLive() {
		select {
		case <-s.inbox.ready:
			s.consume(s.inbox.drain())
		case <-timer.C():
			s.log.Info("slice timed out, cancelling", zap.Int("slice", sl.index), zap.String("client_id", sl.order.ClientID))
			cctx, cancel := cleanupContext(ctx)
			err := s.settle(cctx, &sl.order)
			cancel()
			s.publish()
			if err != nil {
				s.finish(StatusFailed, fmt.Sprintf("slice %d timeout cancel failed: %v", sl.index, err))
				return ""
			}
		case <-s.cancelReq:
			return "cancelled by request"
		case <-ctx.Done():
			return "engine stopped"
		}
	}
	return ""
}

func (s *TWAP) consume(events []order.FillEvent) {
	for _, ev := range events {
		sl := s.sliceFor(ev)
		if sl == nil {
			s.inconsistent(ev, "event does not match any slice")
			continue
		}
		s.apply(&sl.order, ev)
	}
	s.publish()
}

func (s *TWAP) sliceFor(ev order.FillEvent) *twapSlice {
	for i := len(s.slices) - 1; i >= 0; i-- {
		o := &s.slices[i].order
		if (ev.ClientID != "" && ev.ClientID == o.ClientID) || (ev.OrderID != "" && ev.OrderID == o.ID) {
			return s.slices[i]
		}
	}
	return nil
}

func (s *TWAP) shutdown(ctx context.Context, reason string) {
	s.consume(s.inbox.drain())
	if s.current != nil {
		cctx, cancel := cleanupContext(ctx)
		err := s.settle(cctx, &s.current.order)
		cancel()
		if err != nil {
			s.finish(StatusFailed, reason+"; in-flight slice cancel failed: "+err.Error())
			return
		}
		// 撤单过程中成交的部分不丢失
		unfilled := s.current.order.Quantity.Sub(s.current.order.FilledQty)
		if unfilled.IsPositive() {
			s.plan = prepend(s.plan, unfilled)
		}
		s.current = nil
	}
	if !s.remaining().IsPositive() {
		s.finish(StatusCompleted, "all slices filled")
		return
	}
	s.finish(StatusCancelled, reason)
}

func (s *TWAP) checkDeviation(ctx context.Context) {
	if s.deps.Prices == nil || !s.params.MaxPriceDeviation.IsPositive() {
		return
	}
	px, err := s.deps.Prices.LastPrice(ctx, s.symbol)
	if err != nil {
		s.log.Debug("price unavailable for deviation check", zap.Error(err))
		return
	}
	if !s.initialPrice.IsPositive() {
		s.initialPrice = px
		return
	}
	dev := px.Sub(s.initialPrice).Abs().Div(s.initialPrice)
	if dev.GreaterThan(s.params.MaxPriceDeviation) {
		s.log.Warn("price deviation exceeds limit",
			zap.String("price", px.String()),
			zap.String("initial", s.initialPrice.String()),
			zap.String("deviation", dev.StringFixed(4)))
		s.record(audit.Record{
			Event:     audit.EventPriceDeviation,
			Price:     px.String(),
			Deviation: dev.StringFixed(6),
			Slice:     audit.Int(s.sliceNo),
		})
	}
}

func (s *TWAP) filled() decimal.Decimal {
	sum := decimal.Zero
	for _, sl := range s.slices {
		sum = sum.Add(sl.order.FilledQty)
	}
	return sum
}

func (s *TWAP) remaining() decimal.Decimal {
	return s.params.TotalQuantity.Sub(s.filled())
}

func (s *TWAP) avgPrice() decimal.Decimal {
	qty, notional := decimal.Zero, decimal.Zero
	for _, sl := range s.slices {
		if sl.order.FilledQty.IsPositive() && sl.order.AvgPrice.IsPositive() {
			qty = qty.Add(sl.order.FilledQty)
			notional = notional.Add(sl.order.FilledQty.Mul(sl.order.AvgPrice))
		}
	}
	if qty.IsZero() {
		return decimal.Zero
	}
	return notional.Div(qty)
}

func (s *TWAP) publish() {
	orders := make([]OrderView, 0, len(s.slices))
	for _, sl := range s.slices {
		orders = append(orders, viewOf("slice-"+strconv.Itoa(sl.index)+"#"+strconv.Itoa(sl.attempt), &sl.order))
	}
	pending := make([]decimal.Decimal, len(s.plan))
	copy(pending, s.plan)
	done := 0
	for _, sl := range s.slices {
		if sl.order.Status == order.StatusFilled {
			done++
		}
	}
	snap := View{
		Orders:       orders,
		FilledQty:    s.filled(),
		RemainingQty: s.remaining(),
		TWAP: &TWAPDetail{
			TotalQty:     s.params.TotalQuantity,
			SliceCount:   s.planned,
			SlicesDone:   done,
			PendingPlan:  pending,
			Attempt:      s.attempt,
			AvgPrice:     s.avgPrice(),
			InitialPrice: s.initialPrice,
			NextSliceAt:  s.nextAt,
		},
	}
	s.viewMu.Lock()
	s.snap = snap
	s.viewMu.Unlock()
}

// Cancel 撤销在途切片并停止；已终态时为空操作。
func (s *TWAP) Cancel(ctx context.Context) error {
	return s.cancelAndWait(ctx)
}

func (s *TWAP) View() View {
	s.viewMu.RLock()
	v := s.snap
	detail := *s.snap.TWAP
	s.viewMu.RUnlock()
	v.TWAP = &detail
	s.fillView(&v)
	return v
}

func prepend(plan []decimal.Decimal, q decimal.Decimal) []decimal.Decimal {
	return append([]decimal.Decimal{q}, plan...)
}
