package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"algo-exec-go/audit"
	"algo-exec-go/config"
	"algo-exec-go/order"
	"algo-exec-go/strategy"
)

// EngineState 引擎状态
type EngineState int

const (
	// StateIdle 空闲状态
	StateIdle EngineState = iota
	// StateRunning 运行状态
	StateRunning
	// StateStopped 停止状态
	StateStopped
)

// String 返回状态名称
func (s EngineState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// stopTimeout 停止时等待策略撤单收尾的最长时间。
const stopTimeout = 45 * time.Second

var (
	// ErrNotRunning 引擎未启动或已停止。
	ErrNotRunning = errors.New("engine not running")
)

// Components 引擎依赖组件
type Components struct {
	Gateway  order.Gateway
	Prices   order.PriceSource  // 可选；网格参考价、OCO 价格检查、TWAP 偏离检查
	Fills    strategy.FillSource // 为空时使用 Gateway
	Clock    strategy.Clock
	Recorder audit.Recorder
	Observer order.Observer
	Logger   *zap.Logger
	Rules    map[string]order.SymbolRules // 预置规则，未命中时向交易所拉取
	PreTrade order.PreTradeCheck          // 可选下单前风控
}

// Engine 策略执行引擎：创建、登记、撤销与查询策略；回报路由与对账在引擎生命周期内运行。
type Engine struct {
	cfgMu    sync.RWMutex
	defaults config.EngineConfig

	mgr        *order.Manager
	registry   *strategy.Registry
	router     *strategy.Router
	reconciler *order.Reconciler
	factory    *strategy.Factory
	prices     order.PriceSource
	logger     *zap.Logger

	mu     sync.RWMutex
	state  EngineState
	runCtx context.Context
	cancel context.CancelFunc
}

// New 创建引擎
func New(cfg config.EngineConfig, c Components) (*Engine, error) {
	if c.Gateway == nil {
		return nil, fmt.Errorf("invalid components: gateway is required")
	}
	if err := config.ValidateEngine(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Recorder == nil {
		c.Recorder = audit.Nop{}
	}
	if c.Fills == nil {
		c.Fills = c.Gateway
	}
	log := c.Logger.Named("engine")

	opts := []order.ManagerOption{
		order.WithRetryPolicy(retryPolicy(cfg.Submit)),
		order.WithLogger(c.Logger.Named("order")),
	}
	if c.Observer != nil {
		opts = append(opts, order.WithObserver(c.Observer))
	}
	if c.PreTrade != nil {
		opts = append(opts, order.WithPreTradeCheck(c.PreTrade))
	}
	rules := order.NewRulesCache(c.Gateway)
	rules.Seed(c.Rules)
	opts = append(opts, order.WithRulesCache(rules))
	mgr := order.NewManager(c.Gateway, opts...)

	registry := strategy.NewRegistry()
	router := strategy.NewRouter(c.Fills, mgr.Book(), registry, c.Recorder, c.Logger.Named("router"))
	reconciler := order.NewReconciler(mgr, router.Dispatch, order.ReconcilerConfig{
		Interval: cfg.ReconcileInterval,
		Logger:   c.Logger.Named("reconciler"),
	})
	factory := strategy.NewFactory(strategy.Deps{
		Orders:   mgr,
		Prices:   c.Prices,
		Clock:    c.Clock,
		Recorder: c.Recorder,
		Logger:   c.Logger.Named("strategy"),
	})

	return &Engine{
		defaults:   cfg,
		mgr:        mgr,
		registry:   registry,
		router:     router,
		reconciler: reconciler,
		factory:    factory,
		prices:     c.Prices,
		logger:     log,
		state:      StateIdle,
	}, nil
}

// Start 启动对账；之后才能创建策略。ctx 结束等同于 Stop 的撤销效果。
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateIdle {
		return fmt.Errorf("engine already %s", e.state)
	}
	e.runCtx, e.cancel = context.WithCancel(ctx)
	if err := e.reconciler.Start(e.runCtx); err != nil {
		e.cancel()
		return fmt.Errorf("start reconciler: %w", err)
	}
	e.state = StateRunning
	e.logger.Info("engine started")
	return nil
}

// Stop 撤销所有未终态策略并等待其收尾，然后停止回报路由与对账。
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return nil
	}
	e.state = StateStopped
	cancel := e.cancel
	e.mu.Unlock()

	active := e.registry.Active()
	e.logger.Info("engine stopping", zap.Int("active_strategies", len(active)))
	cancel()

	timer := time.NewTimer(stopTimeout)
	defer timer.Stop()
	var pending []string
wait:
	for i, s := range active {
		select {
		case <-s.Done():
		case <-timer.C:
			for _, rest := range active[i:] {
				pending = append(pending, rest.ID())
			}
			break wait
		}
	}
	_ = e.reconciler.Stop()
	e.router.Stop()
	if len(pending) > 0 {
		e.logger.Error("strategies did not settle before stop timeout", zap.Strings("strategy_ids", pending))
		return fmt.Errorf("%d strategies did not settle before stop timeout", len(pending))
	}
	e.logger.Info("engine stopped")
	return nil
}

// State 当前引擎状态。
func (e *Engine) State() EngineState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *Engine) running() (context.Context, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state != StateRunning {
		return nil, ErrNotRunning
	}
	return e.runCtx, nil
}

// StartOCO 创建并启动 OCO 策略，返回策略 ID。
func (e *Engine) StartOCO(ctx context.Context, p strategy.OCOParams) (string, error) {
	d := e.Defaults().OCO
	if p.TimeInForce == "" {
		p.TimeInForce = d.TimeInForce
	}
	p.CheckMarkPrice = p.CheckMarkPrice || d.CheckMarkPrice
	return e.launch(ctx, strategy.KindOCO, p.Symbol, func(rules order.SymbolRules) (interface{}, error) {
		if !p.CheckMarkPrice || e.prices == nil {
			return p, nil
		}
		// 先做参数本身的校验，价格关系错误优先于行情错误
		if err := p.Validate(rules); err != nil {
			return nil, err
		}
		mark, err := e.prices.LastPrice(ctx, p.Symbol)
		if err != nil {
			return nil, fmt.Errorf("mark price for %s: %w", p.Symbol, err)
		}
		if err := p.CheckMark(mark); err != nil {
			return nil, err
		}
		return p, nil
	})
}

// StartTWAP 创建并启动 TWAP 策略，返回策略 ID。
func (e *Engine) StartTWAP(ctx context.Context, p strategy.TWAPParams) (string, error) {
	applyTWAPDefaults(&p, e.Defaults().TWAP)
	return e.launch(ctx, strategy.KindTWAP, p.Symbol, func(order.SymbolRules) (interface{}, error) {
		return p, nil
	})
}

// StartGrid 创建并启动网格策略，返回策略 ID。ReferencePrice 为零时取当前价。
func (e *Engine) StartGrid(ctx context.Context, p strategy.GridParams) (string, error) {
	applyGridDefaults(&p, e.Defaults().Grid)
	return e.launch(ctx, strategy.KindGrid, p.Symbol, func(order.SymbolRules) (interface{}, error) {
		if p.ReferencePrice.IsPositive() {
			return p, nil
		}
		if e.prices == nil {
			return nil, &strategy.ValidationError{Field: "referencePrice", Reason: "required when no price source is configured"}
		}
		px, err := e.prices.LastPrice(ctx, p.Symbol)
		if err != nil {
			return nil, fmt.Errorf("reference price for %s: %w", p.Symbol, err)
		}
		p.ReferencePrice = px
		return p, nil
	})
}

// launch 校验失败时不登记；登记后 Start 失败的策略保留为 Failed 以便查询。
func (e *Engine) launch(ctx context.Context, kind strategy.Kind, symbol string, prepare func(order.SymbolRules) (interface{}, error)) (string, error) {
	runCtx, err := e.running()
	if err != nil {
		return "", err
	}
	if symbol == "" {
		return "", &strategy.ValidationError{Field: "symbol", Reason: "empty"}
	}
	rules, err := e.mgr.Rules().Get(ctx, symbol)
	if err != nil {
		return "", err
	}
	params, err := prepare(rules)
	if err != nil {
		return "", err
	}
	s, err := e.factory.Create(kind, params, rules)
	if err != nil {
		return "", err
	}
	if err := e.router.Ensure(symbol); err != nil {
		return "", err
	}
	if err := e.registry.Add(s); err != nil {
		return "", err
	}

	log := e.logger.With(zap.String("strategy_id", s.ID()), zap.String("kind", string(kind)), zap.String("symbol", symbol))
	if err := s.Start(runCtx); err != nil {
		log.Warn("strategy failed to start", zap.Error(err))
		return s.ID(), fmt.Errorf("start %s strategy %s: %w", kind, s.ID(), err)
	}
	log.Info("strategy started")
	return s.ID(), nil
}

// Cancel 撤销策略并等待终态；对已终态的策略无副作用。
func (e *Engine) Cancel(ctx context.Context, id string) error {
	s, err := e.registry.Get(id)
	if err != nil {
		return err
	}
	if err := s.Cancel(ctx); err != nil {
		return fmt.Errorf("cancel strategy %s: %w", id, err)
	}
	e.logger.Info("strategy cancel finished", zap.String("strategy_id", id), zap.String("status", string(s.View().Status)))
	return nil
}

// Status 返回策略快照。
func (e *Engine) Status(id string) (strategy.View, error) {
	s, err := e.registry.Get(id)
	if err != nil {
		return strategy.View{}, err
	}
	return s.View(), nil
}

// Acknowledge 确认并移除已终态的策略及其订单归属记录。
func (e *Engine) Acknowledge(id string) error {
	if err := e.registry.Remove(id); err != nil {
		return err
	}
	n := e.mgr.Book().Forget(id)
	e.logger.Debug("strategy acknowledged", zap.String("strategy_id", id), zap.Int("orders_forgotten", n))
	return nil
}

// List 按创建时间列出策略；activeOnly 时只含未终态策略。
func (e *Engine) List(activeOnly bool) []strategy.View {
	return e.registry.List(activeOnly)
}

// Reconcile 立即对账一次（回报流重连后调用）。
func (e *Engine) Reconcile(ctx context.Context) (int, error) {
	return e.reconciler.Reconcile(ctx)
}

// ReconcileStats 对账统计
func (e *Engine) ReconcileStats() order.ReconcilerStats {
	return e.reconciler.GetStatistics()
}

// Orders 下单边界（测试与诊断使用）。
func (e *Engine) Orders() *order.Manager { return e.mgr }
