package order

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Reconciler 订单对账器：轮询本地仍在挂单的订单，回报流有缺口时补发合成回报。
type Reconciler struct {
	mgr      *Manager
	sink     func(FillEvent)
	interval time.Duration
	logger   *zap.Logger

	stopChan chan struct{}
	doneChan chan struct{}
	resetCh  chan struct{}
	stopOnce sync.Once
	mu       sync.RWMutex

	// 统计信息
	totalReconciliations int64
	conflictsResolved    int64
	lastReconcileTime    time.Time
}

// ReconcilerConfig 对账器配置
type ReconcilerConfig struct {
	Interval time.Duration // 对账间隔
	Logger   *zap.Logger
}

// NewReconciler 创建订单对账器；发现差异时调用 sink（通常为 strategy.Router.Dispatch）。
func NewReconciler(mgr *Manager, sink func(FillEvent), config ReconcilerConfig) *Reconciler {
	if config.Interval <= 0 {
		config.Interval = 30 * time.Second // 默认30秒
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &Reconciler{
		mgr:      mgr,
		sink:     sink,
		interval: config.Interval,
		logger:   config.Logger,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
		resetCh:  make(chan struct{}, 1),
	}
}

// Start 启动对账服务
func (r *Reconciler) Start(ctx context.Context) error {
	go r.reconcileLoop(ctx)
	return nil
}

// Stop 停止对账服务
func (r *Reconciler) Stop() error {
	r.stopOnce.Do(func() { close(r.stopChan) })
	<-r.doneChan // 等待循环退出
	return nil
}

func (r *Reconciler) reconcileLoop(ctx context.Context) {
	defer close(r.doneChan)

	r.mu.RLock()
	interval := r.interval
	r.mu.RUnlock()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopChan:
			return
		case <-r.resetCh:
			r.mu.RLock()
			next := r.interval
			r.mu.RUnlock()
			if next != interval {
				interval = next
				ticker.Reset(interval)
				r.logger.Info("reconcile interval updated", zap.Duration("interval", interval))
			}
		case <-ticker.C:
			if n, err := r.Reconcile(ctx); err != nil {
				r.logger.Warn("reconcile failed", zap.Int("synthesized", n), zap.Error(err))
			}
		}
	}
}

// Reconcile 执行一次完整对账，返回合成的回报数量。单笔失败不影响其他订单。
func (r *Reconciler) Reconcile(ctx context.Context) (int, error) {
	r.mu.Lock()
	r.totalReconciliations++
	r.lastReconcileTime = time.Now()
	r.mu.Unlock()

	var (
		firstErr error
		n        int
	)
	for _, local := range r.mgr.Book().Live("") {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		changed, err := r.reconcileEntry(ctx, local)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if changed {
			n++
		}
	}
	return n, firstErr
}

func (r *Reconciler) reconcileEntry(ctx context.Context, local Entry) (bool, error) {
	remote, err := r.mgr.gw.QueryOrder(ctx, local.Symbol, local.ClientID)
	if err != nil {
		// 确认前查询不到属正常
		if errors.Is(err, ErrOrderNotFound) && local.Status == StatusPending {
			return false, nil
		}
		return false, err
	}
	if remote.Status == local.Status && remote.FilledQty.Equal(local.FilledQty) {
		return false, nil
	}
	if remote.ClientID == "" {
		remote.ClientID = local.ClientID
	}
	r.logger.Info("order drift detected",
		zap.String("client_id", local.ClientID),
		zap.String("local_status", string(local.Status)),
		zap.String("remote_status", string(remote.Status)),
		zap.String("local_filled", local.FilledQty.String()),
		zap.String("remote_filled", remote.FilledQty.String()),
	)
	r.mu.Lock()
	r.conflictsResolved++
	r.mu.Unlock()
	if r.sink != nil {
		ev := EventFromOrder(remote)
		if ev.Time.IsZero() {
			ev.Time = time.Now()
		}
		r.sink(ev)
	}
	return true, nil
}

// GetStatistics 获取对账统计信息
func (r *Reconciler) GetStatistics() ReconcilerStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return ReconcilerStats{
		TotalReconciliations: r.totalReconciliations,
		ConflictsResolved:    r.conflictsResolved,
		LastReconcileTime:    r.lastReconcileTime,
		Interval:             r.interval,
	}
}

// ReconcilerStats 对账统计信息
type ReconcilerStats struct {
	TotalReconciliations int64
	ConflictsResolved    int64
	LastReconcileTime    time.Time
	Interval             time.Duration
}

// UpdateInterval 更新对账间隔，运行中的循环立即重置定时器。
func (r *Reconciler) UpdateInterval(interval time.Duration) {
	if interval <= 0 {
		return
	}
	r.mu.Lock()
	r.interval = interval
	r.mu.Unlock()
	select {
	case r.resetCh <- struct{}{}:
	default:
	}
}
