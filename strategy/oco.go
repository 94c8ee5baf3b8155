package strategy

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"algo-exec-go/audit"
	"algo-exec-go/order"
)

const (
	legTakeProfit = "take_profit"
	legStopLoss   = "stop_loss"
)

// OCO 止盈/止损二选一：任一腿成交即撤另一腿。
type OCO struct {
	*base
	params OCOParams

	// decideMu 串行化“成交 -> 撤对手腿”的判定，两腿近乎同时成交时也只有一个结论。
	decideMu  sync.Mutex
	tp, sl    order.Order
	filledLeg string

	viewMu sync.RWMutex
	snap   OCODetail
}

// NewOCO 校验参数并创建策略（Pending）。
func NewOCO(p OCOParams, rules order.SymbolRules, deps Deps) (*OCO, error) {
	if err := p.Validate(rules); err != nil {
		return nil, err
	}
	if p.TimeInForce == "" {
		p.TimeInForce = "GTC"
	}
	s := &OCO{base: newBase(KindOCO, p.Symbol, deps), params: p}
	s.beforeDone = s.publish
	s.tp = order.Order{
		Symbol:      p.Symbol,
		Side:        p.Side,
		Type:        order.TypeLimit,
		Quantity:    p.Quantity,
		Price:       p.TakeProfitPrice,
		TimeInForce: p.TimeInForce,
		ReduceOnly:  true,
	}
	s.sl = order.Order{
		Symbol:     p.Symbol,
		Side:       p.Side,
		Type:       order.TypeStopMarket,
		Quantity:   p.Quantity,
		StopPrice:  p.StopPrice,
		ReduceOnly: true,
	}
	if p.StopLimitPrice.IsPositive() {
		s.sl.Type = order.TypeStopLimit
		s.sl.Price = p.StopLimitPrice
		s.sl.TimeInForce = p.TimeInForce
	}
	s.publish()
	return s, nil
}

// Start 先挂止盈再挂止损；任一腿失败则撤掉已挂的腿并进入 Failed。
func (s *OCO) Start(ctx context.Context) error {
	s.recordCreated()

	s.decideMu.Lock()
	defer s.decideMu.Unlock()

	tp, err := s.submit(ctx, s.tp)
	s.tp = tp
	s.publish()
	if err != nil {
		s.finish(StatusFailed, "take-profit placement failed: "+order.RejectReason(err))
		return err
	}
	s.setStatus(StatusActive, "")

	sl, err := s.submit(ctx, s.sl)
	s.sl = sl
	s.publish()
	if err != nil {
		reason := "stop-loss placement failed: " + order.RejectReason(err)
		cctx, cancel := cleanupContext(ctx)
		if serr := s.settle(cctx, &s.tp); serr != nil {
			s.log.Error("unwind take-profit failed", zap.Error(serr))
			reason += "; take-profit unwind failed: " + serr.Error()
		}
		cancel()
		s.publish()
		s.finish(StatusFailed, reason)
		return err
	}

	go s.run(ctx)
	return nil
}

func (s *OCO) run(ctx context.Context) {
	for {
		select {
		case <-s.inbox.ready:
			if s.handle(ctx, s.inbox.drain()) {
				return
			}
		case <-s.cancelReq:
			s.shutdown(ctx, "cancelled by request")
			return
		case <-ctx.Done():
			s.shutdown(ctx, "engine stopped")
			return
		}
	}
}

// handle 处理一批回报，返回是否已进入终态。
func (s *OCO) handle(ctx context.Context, events []order.FillEvent) bool {
	s.decideMu.Lock()
	defer s.decideMu.Unlock()
	defer s.publish()

	for _, ev := range events {
		leg, sibling, role := s.legs(ev)
		if leg == nil {
			s.inconsistent(ev, "event does not match either leg")
			continue
		}
		s.apply(leg, ev)

		switch leg.Status {
		case order.StatusFilled:
			s.filledLeg = role
			cctx, cancel := cleanupContext(ctx)
			err := s.settle(cctx, sibling)
			cancel()
			if err != nil {
				s.log.Error("cancel sibling leg failed", zap.String("leg", role), zap.Error(err))
				s.finish(StatusFailed, role+" filled but sibling cancel failed: "+err.Error())
				return true
			}
			if sibling.Status == order.StatusFilled {
				s.log.Error("both legs reported filled", zap.String("first", role))
				s.record(audit.Record{Event: audit.EventInconsistency, ClientID: sibling.ClientID, Reason: "both OCO legs filled"})
			} else if sibling.FilledQty.IsPositive() {
				s.log.Warn("sibling leg partially filled before cancel", zap.String("filled", sibling.FilledQty.String()))
			}
			s.finish(StatusCompleted, role+" filled")
			return true

		case order.StatusPartiallyFilled:
			s.setStatus(StatusPartiallyDone, role+" partially filled")

		case order.StatusCanceled, order.StatusExpired, order.StatusRejected:
			// 非本策略发起的终结：撤掉对手腿，避免留下无配对的平仓单
			cctx, cancel := cleanupContext(ctx)
			err := s.settle(cctx, sibling)
			cancel()
			reason := role + " " + string(leg.Status) + " by venue"
			if err != nil {
				reason += "; sibling cancel failed: " + err.Error()
			}
			if sibling.Status == order.StatusFilled {
				s.filledLeg = siblingRole(role)
				s.finish(StatusCompleted, siblingRole(role)+" filled")
				return true
			}
			s.finish(StatusFailed, reason)
			return true
		}
	}
	return false
}

func (s *OCO) shutdown(ctx context.Context, reason string) {
	s.decideMu.Lock()
	defer s.decideMu.Unlock()
	defer s.publish()

	// 信箱中尚未处理的回报先落账
	for _, ev := range s.inbox.drain() {
		if leg, _, _ := s.legs(ev); leg != nil {
			s.apply(leg, ev)
		}
	}

	cctx, cancel := cleanupContext(ctx)
	defer cancel()
	var failed []string
	for _, leg := range []*order.Order{&s.tp, &s.sl} {
		if err := s.settle(cctx, leg); err != nil {
			s.log.Error("cancel leg failed", zap.String("client_id", leg.ClientID), zap.Error(err))
			failed = append(failed, err.Error())
		}
	}
	switch {
	case s.tp.Status == order.StatusFilled:
		s.filledLeg = legTakeProfit
		s.finish(StatusCompleted, legTakeProfit+" filled before cancel")
	case s.sl.Status == order.StatusFilled:
		s.filledLeg = legStopLoss
		s.finish(StatusCompleted, legStopLoss+" filled before cancel")
	case len(failed) > 0:
		s.finish(StatusFailed, reason+"; cleanup failed: "+failed[0])
	default:
		s.finish(StatusCancelled, reason)
	}
}

func (s *OCO) legs(ev order.FillEvent) (*order.Order, *order.Order, string) {
	match := func(o *order.Order) bool {
		return (ev.ClientID != "" && ev.ClientID == o.ClientID) || (ev.OrderID != "" && ev.OrderID == o.ID)
	}
	switch {
	case match(&s.tp):
		return &s.tp, &s.sl, legTakeProfit
	case match(&s.sl):
		return &s.sl, &s.tp, legStopLoss
	}
	return nil, nil, ""
}

func siblingRole(role string) string {
	if role == legTakeProfit {
		return legStopLoss
	}
	return legTakeProfit
}

// Cancel 撤销两腿；已终态时为空操作。
func (s *OCO) Cancel(ctx context.Context) error {
	return s.cancelAndWait(ctx)
}

func (s *OCO) publish() {
	s.viewMu.Lock()
	s.snap = OCODetail{
		TakeProfit: viewOf(legTakeProfit, &s.tp),
		StopLoss:   viewOf(legStopLoss, &s.sl),
		FilledLeg:  s.filledLeg,
	}
	s.viewMu.Unlock()
}

func (s *OCO) View() View {
	var v View
	s.fillView(&v)
	s.viewMu.RLock()
	detail := s.snap
	s.viewMu.RUnlock()
	v.OCO = &detail
	v.Orders = []OrderView{detail.TakeProfit, detail.StopLoss}
	filled := detail.TakeProfit.FilledQty.Add(detail.StopLoss.FilledQty)
	v.FilledQty = filled
	v.RemainingQty = s.params.Quantity.Sub(filled)
	if v.RemainingQty.IsNegative() {
		v.RemainingQty = decimal.Zero
	}
	return v
}
