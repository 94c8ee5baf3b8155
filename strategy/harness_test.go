package strategy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"algo-exec-go/audit"
	"algo-exec-go/gateway"
	"algo-exec-go/order"
)

const testSymbol = "BTCUSDT"

var testStart = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testRules() order.SymbolRules {
	return order.SymbolRules{
		Symbol:      testSymbol,
		TickSize:    d("0.01"),
		StepSize:    d("0.001"),
		MinQty:      d("0.001"),
		MinNotional: d("1"),
	}
}

// harness 内存交易所 + 下单边界 + 回报路由 + 虚拟时钟。
type harness struct {
	t      *testing.T
	paper  *gateway.Paper
	mgr    *order.Manager
	reg    *Registry
	router *Router
	rec    *audit.Memory
	clock  *ManualClock
	orders OrderManager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	paper := gateway.NewPaper(testRules())
	paper.SetPrice(testSymbol, d("100"))
	mgr := order.NewManager(paper, order.WithRetryPolicy(order.RetryPolicy{
		MaxRetries:  1,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  time.Millisecond,
	}))
	reg := NewRegistry()
	rec := audit.NewMemory()
	router := NewRouter(paper, mgr.Book(), reg, rec, zap.NewNop())
	require.NoError(t, router.Ensure(testSymbol))
	t.Cleanup(router.Stop)
	return &harness{
		t:      t,
		paper:  paper,
		mgr:    mgr,
		reg:    reg,
		router: router,
		rec:    rec,
		clock:  NewManualClock(testStart),
		orders: mgr,
	}
}

func (h *harness) deps() Deps {
	return Deps{
		Orders:   h.orders,
		Prices:   h.paper,
		Clock:    h.clock,
		Recorder: h.rec,
		Logger:   zap.NewNop(),
	}
}

// start 登记并启动策略；测试结束时撤销仍在运行的策略。
func (h *harness) start(s Strategy) error {
	h.t.Helper()
	require.NoError(h.t, h.reg.Add(s))
	ctx, cancel := context.WithCancel(context.Background())
	h.t.Cleanup(func() {
		cctx, ccancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer ccancel()
		_ = s.Cancel(cctx)
		cancel()
	})
	return s.Start(ctx)
}

func (h *harness) waitStatus(s Strategy, want Status) View {
	h.t.Helper()
	var v View
	require.Eventually(h.t, func() bool {
		v = s.View()
		return v.Status == want
	}, 2*time.Second, 2*time.Millisecond, "want status %s, last %s (%s)", want, v.Status, v.Reason)
	return v
}

func (h *harness) waitLive(n int) []order.Order {
	h.t.Helper()
	var live []order.Order
	require.Eventually(h.t, func() bool {
		live = h.paper.Live(testSymbol)
		return len(live) == n
	}, 2*time.Second, 2*time.Millisecond, "want %d live orders, have %d", n, len(live))
	return live
}

func (h *harness) cancel(s Strategy) {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(h.t, s.Cancel(ctx))
}

// scriptedOrders 在第 rejectAt 次（从 1 计）下单时返回拒单，其余委托给真实 Manager。
type scriptedOrders struct {
	OrderManager
	mu       sync.Mutex
	submits  int
	rejectAt map[int]bool
}

func (s *scriptedOrders) Submit(ctx context.Context, owner string, o order.Order) (order.Order, error) {
	s.mu.Lock()
	s.submits++
	reject := s.rejectAt[s.submits]
	s.mu.Unlock()
	if reject {
		return o, &order.RejectedError{Code: -2019, Reason: "margin is insufficient"}
	}
	return s.OrderManager.Submit(ctx, owner, o)
}

// failingCancel 撤单一律返回网络错误。
type failingCancel struct {
	OrderManager
}

func (f failingCancel) Cancel(context.Context, string, string) error {
	return &order.TransientError{Op: "cancel", Err: errors.New("connection reset")}
}
