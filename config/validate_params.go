package config

// ValidateEngine 检查策略默认参数；热更新时单独调用。
func ValidateEngine(e EngineConfig) error {
	if e.TWAP.MaxSliceAttempts < 0 {
		return ErrInvalid("engine.twap.maxSliceAttempts must be >= 0")
	}
	if e.TWAP.SliceTimeout < 0 {
		return ErrInvalid("engine.twap.sliceTimeout must be >= 0")
	}
	switch e.TWAP.RemainderPolicy {
	case "", "first", "last":
	default:
		return ErrInvalid("engine.twap.remainderPolicy must be first or last")
	}
	if e.TWAP.MaxPriceDeviation < 0 {
		return ErrInvalid("engine.twap.maxPriceDeviation must be >= 0")
	}
	if e.Grid.MaxRearmsPerLevel < 0 {
		return ErrInvalid("engine.grid.maxRearmsPerLevel must be >= 0")
	}
	if e.Grid.RearmOffset != 0 && e.Grid.RearmOffset != 1 {
		return ErrInvalid("engine.grid.rearmOffset must be 0 or 1")
	}
	if e.Grid.RearmCooldown < 0 {
		return ErrInvalid("engine.grid.rearmCooldown must be >= 0")
	}
	switch e.Grid.AtReference {
	case "", "skip", "buy", "sell":
	default:
		return ErrInvalid("engine.grid.atReference must be skip, buy or sell")
	}
	switch e.OCO.TimeInForce {
	case "", "GTC", "IOC", "FOK", "GTX":
	default:
		return ErrInvalid("engine.oco.timeInForce must be GTC, IOC, FOK or GTX")
	}
	if e.Submit.MaxRetries < 0 {
		return ErrInvalid("engine.submit.maxRetries must be >= 0")
	}
	if e.Submit.BaseBackoff < 0 || e.Submit.MaxBackoff < 0 {
		return ErrInvalid("engine.submit backoff must be >= 0")
	}
	if e.ReconcileInterval < 0 {
		return ErrInvalid("engine.reconcileInterval must be >= 0")
	}
	return nil
}

// ErrInvalid 用于参数验证错误。
type ErrInvalid string

func (e ErrInvalid) Error() string { return string(e) }
