package engine

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"algo-exec-go/config"
	"algo-exec-go/order"
	"algo-exec-go/strategy"
)

// Defaults 当前默认参数快照。
func (e *Engine) Defaults() config.EngineConfig {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.defaults
}

// UpdateDefaults 热更新默认参数；运行中的策略保留启动时的参数。
// 对账间隔立即生效。
func (e *Engine) UpdateDefaults(cfg config.EngineConfig) error {
	if err := config.ValidateEngine(cfg); err != nil {
		return err
	}
	e.cfgMu.Lock()
	e.defaults = cfg
	e.cfgMu.Unlock()
	e.mgr.SetRetryPolicy(retryPolicy(cfg.Submit))
	e.reconciler.UpdateInterval(cfg.ReconcileInterval)
	e.logger.Info("engine defaults updated",
		zap.Int("twap_max_slice_attempts", cfg.TWAP.MaxSliceAttempts),
		zap.Int("grid_max_rearms", cfg.Grid.MaxRearmsPerLevel),
		zap.Int("submit_max_retries", cfg.Submit.MaxRetries))
	return nil
}

func retryPolicy(s config.SubmitDefaults) order.RetryPolicy {
	p := order.DefaultRetryPolicy()
	p.MaxRetries = s.MaxRetries
	if s.BaseBackoff > 0 {
		p.BaseBackoff = s.BaseBackoff
	}
	if s.MaxBackoff > 0 {
		p.MaxBackoff = s.MaxBackoff
	}
	return p
}

// 参数中的零值字段取默认值。
func applyTWAPDefaults(p *strategy.TWAPParams, d config.TWAPDefaults) {
	if p.MaxSliceAttempts <= 0 {
		p.MaxSliceAttempts = d.MaxSliceAttempts
	}
	if p.SliceTimeout <= 0 {
		p.SliceTimeout = d.SliceTimeout
	}
	if p.Remainder == "" {
		p.Remainder = strategy.RemainderPolicy(d.RemainderPolicy)
	}
	if p.MaxPriceDeviation.IsZero() && d.MaxPriceDeviation > 0 {
		p.MaxPriceDeviation = decimal.NewFromFloat(d.MaxPriceDeviation)
	}
}

func applyGridDefaults(p *strategy.GridParams, d config.GridDefaults) {
	if p.MaxRearmsPerLevel == 0 {
		p.MaxRearmsPerLevel = d.MaxRearmsPerLevel
	}
	if p.RearmOffset == 0 {
		p.RearmOffset = d.RearmOffset
	}
	if p.RearmCooldown == 0 {
		p.RearmCooldown = d.RearmCooldown
	}
	if p.AtReference == "" {
		p.AtReference = strategy.AtReferencePolicy(d.AtReference)
	}
}
