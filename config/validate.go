package config

import (
	"errors"
	"fmt"
)

// Validate ensures required fields are present.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return errors.New("env is required")
	}
	switch cfg.Gateway.Mode {
	case ModePaper:
		if len(cfg.Symbols) == 0 {
			return errors.New("symbols config is required in paper mode")
		}
	case ModeBinance:
		if cfg.Gateway.APIKey == "" || cfg.Gateway.APISecret == "" {
			return errors.New("gateway.apiKey/apiSecret is required (or env overrides)")
		}
	default:
		return fmt.Errorf("gateway.mode must be paper or binance, got %q", cfg.Gateway.Mode)
	}
	if cfg.Gateway.RateLimit < 0 || cfg.Gateway.RateBurst < 0 {
		return errors.New("gateway rate limits must be >= 0")
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		return errors.New("metrics.addr is required when metrics are enabled")
	}
	if err := ValidateEngine(cfg.Engine); err != nil {
		return err
	}
	for sym, sc := range cfg.Symbols {
		if sc.TickSize <= 0 {
			return fmt.Errorf("symbol %s tickSize must be > 0", sym)
		}
		if sc.StepSize <= 0 {
			return fmt.Errorf("symbol %s stepSize must be > 0", sym)
		}
		if sc.MinQty < 0 || sc.MaxQty < 0 {
			return fmt.Errorf("symbol %s qty bounds must be >= 0", sym)
		}
		if sc.MaxQty > 0 && sc.MinQty > sc.MaxQty {
			return fmt.Errorf("symbol %s minQty must be <= maxQty", sym)
		}
		if sc.MinNotional < 0 || sc.Price < 0 {
			return fmt.Errorf("symbol %s minNotional/price must be >= 0", sym)
		}
		if sc.MaxOrderQty < 0 || sc.MaxDailyQty < 0 {
			return fmt.Errorf("symbol %s risk limits must be >= 0", sym)
		}
	}
	return nil
}
