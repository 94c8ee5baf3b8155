package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RetryPolicy 瞬时错误的重试参数。
type RetryPolicy struct {
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryPolicy 默认：最多重试 3 次，200ms 起指数退避，上限 5s。
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseBackoff: 200 * time.Millisecond, MaxBackoff: 5 * time.Second}
}

// Backoff 返回第 n 次重试前的等待时间：base*2^n，封顶 max。
func (p RetryPolicy) Backoff(n int) time.Duration {
	base := p.BaseBackoff
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	max := p.MaxBackoff
	if max <= 0 {
		max = 5 * time.Second
	}
	if n < 0 {
		return base
	}
	if n > 30 {
		return max
	}
	d := base * time.Duration(1<<n)
	if d > max || d <= 0 {
		return max
	}
	return d
}

// PreTradeCheck 下单前风控校验，返回错误即本地拒单。
type PreTradeCheck interface {
	PreOrder(o Order) error
}

// Manager 下单边界：规则校验、ClientID 分配、归属登记、瞬时错误有界重试。
type Manager struct {
	gw       Gateway
	rules    *RulesCache
	preTrade PreTradeCheck
	book     *Book
	retryMu  sync.RWMutex
	retry    RetryPolicy
	observer Observer
	logger   *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// ManagerOption 可选配置。
type ManagerOption func(*Manager)

func WithRetryPolicy(p RetryPolicy) ManagerOption {
	return func(m *Manager) { m.retry = p }
}

func WithObserver(o Observer) ManagerOption {
	return func(m *Manager) {
		if o != nil {
			m.observer = o
		}
	}
}

func WithLogger(l *zap.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithRulesCache 与引擎共享规则缓存。
func WithRulesCache(c *RulesCache) ManagerOption {
	return func(m *Manager) {
		if c != nil {
			m.rules = c
		}
	}
}

// WithPreTradeCheck 在规则校验之后执行风控。
func WithPreTradeCheck(c PreTradeCheck) ManagerOption {
	return func(m *Manager) { m.preTrade = c }
}

func NewManager(gw Gateway, opts ...ManagerOption) *Manager {
	m := &Manager{
		gw:       gw,
		book:     NewBook(),
		retry:    DefaultRetryPolicy(),
		observer: nopObserver{},
		logger:   zap.NewNop(),
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.rules == nil {
		m.rules = NewRulesCache(gw)
	}
	return m
}

// Book 返回归属登记簿（回报路由使用）。
func (m *Manager) Book() *Book { return m.book }

// Rules 返回共享规则缓存。
func (m *Manager) Rules() *RulesCache { return m.rules }

// SetRetryPolicy 热更新重试参数。
func (m *Manager) SetRetryPolicy(p RetryPolicy) {
	m.retryMu.Lock()
	m.retry = p
	m.retryMu.Unlock()
}

// RetryPolicy 当前重试参数。
func (m *Manager) RetryPolicy() RetryPolicy {
	m.retryMu.RLock()
	defer m.retryMu.RUnlock()
	return m.retry
}

// NewClientID 生成交易所可接受的 clientOrderId（≤36 字符）。
func NewClientID() string {
	return "ae" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// Submit 校验并发送订单，返回交易所确认后的订单。
// 校验失败或被拒返回 *RejectedError；瞬时错误重试耗尽后同样按拒单处理。
func (m *Manager) Submit(ctx context.Context, owner string, o Order) (Order, error) {
	if o.Type == "" {
		o.Type = TypeLimit
	}
	if !o.Side.Valid() {
		return o, &RejectedError{Reason: fmt.Sprintf("invalid side %q", o.Side)}
	}
	rules, err := m.rules.Get(ctx, o.Symbol)
	if err != nil {
		return o, err
	}
	if err := rules.ValidateOrder(o); err != nil {
		m.observer.OrderRejected(o.Symbol, "local_validation")
		return o, &RejectedError{Reason: err.Error()}
	}
	if m.preTrade != nil {
		if err := m.preTrade.PreOrder(o); err != nil {
			m.observer.OrderRejected(o.Symbol, "risk_limit")
			return o, &RejectedError{Reason: err.Error()}
		}
	}
	if o.ClientID == "" {
		o.ClientID = NewClientID()
	}
	o.Status = StatusPending
	m.book.Register(owner, o)

	log := m.logger.With(
		zap.String("owner", owner),
		zap.String("symbol", o.Symbol),
		zap.String("client_id", o.ClientID),
		zap.String("side", string(o.Side)),
		zap.String("type", string(o.Type)),
		zap.String("qty", o.Quantity.String()),
		zap.String("price", o.Price.String()),
	)

	var lastErr error
	policy := m.RetryPolicy()
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			m.observer.SubmitRetry("place")
			if err := m.sleep(ctx, policy.Backoff(attempt-1)); err != nil {
				m.abandon(o, err)
				return o, err
			}
			// 上一次可能已到达交易所，先查再发，避免重复下单
			if existing, qerr := m.gw.QueryOrder(ctx, o.Symbol, o.ClientID); qerr == nil {
				log.Warn("order found after transient place error", zap.String("order_id", existing.ID))
				m.book.Update(existing)
				m.observer.OrderPlaced(o.Symbol, o.Type)
				return existing, nil
			}
		}
		placed, err := m.gw.PlaceOrder(ctx, o)
		if err == nil {
			if placed.ClientID == "" {
				placed.ClientID = o.ClientID
			}
			if placed.Status == "" {
				placed.Status = StatusNew
			}
			m.book.Update(placed)
			m.observer.OrderPlaced(o.Symbol, o.Type)
			log.Debug("order placed", zap.String("order_id", placed.ID))
			return placed, nil
		}
		lastErr = err
		if !IsTransient(err) {
			break
		}
		log.Warn("transient place error", zap.Int("attempt", attempt+1), zap.Error(err))
	}

	if IsTransient(lastErr) {
		lastErr = &RejectedError{Reason: fmt.Sprintf("retries exhausted: %v", lastErr)}
	}
	m.abandon(o, lastErr)
	log.Warn("order rejected", zap.Error(lastErr))
	return o, lastErr
}

// Cancel 撤单，瞬时错误重试。订单已终态/不存在时返回 ErrOrderNotFound，由调用方决定是否视为成功。
func (m *Manager) Cancel(ctx context.Context, symbol, clientID string) error {
	err := m.withRetry(ctx, "cancel", func() error {
		return m.gw.CancelOrder(ctx, symbol, clientID)
	})
	if err == nil {
		m.observer.OrderCanceled(symbol)
		return nil
	}
	if errors.Is(err, ErrOrderNotFound) {
		return err
	}
	return fmt.Errorf("cancel %s/%s: %w", symbol, clientID, err)
}

// Query 查询订单在交易所的真实状态。
func (m *Manager) Query(ctx context.Context, symbol, clientID string) (Order, error) {
	var res Order
	err := m.withRetry(ctx, "query", func() error {
		o, err := m.gw.QueryOrder(ctx, symbol, clientID)
		if err != nil {
			return err
		}
		res = o
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	m.book.Update(res)
	return res, nil
}

func (m *Manager) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	policy := m.RetryPolicy()
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			m.observer.SubmitRetry(op)
			if serr := m.sleep(ctx, policy.Backoff(attempt-1)); serr != nil {
				return serr
			}
		}
		if err = fn(); err == nil || !IsTransient(err) {
			return err
		}
	}
	return err
}

func (m *Manager) abandon(o Order, err error) {
	o.Status = StatusRejected
	m.book.Update(o)
	m.observer.OrderRejected(o.Symbol, RejectReason(err))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
