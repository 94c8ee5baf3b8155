package order

import (
	"context"
	"fmt"
	"sync"
)

// RulesCache 各交易对 SymbolRules 的共享缓存，读多写少。
type RulesCache struct {
	gw    Gateway
	mu    sync.RWMutex
	rules map[string]SymbolRules
}

func NewRulesCache(gw Gateway) *RulesCache {
	return &RulesCache{gw: gw, rules: make(map[string]SymbolRules)}
}

// Seed 预置规则（配置文件中的静态规则）。
func (c *RulesCache) Seed(rules map[string]SymbolRules) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for sym, r := range rules {
		r.Symbol = sym
		c.rules[sym] = r
	}
}

// Get 命中缓存直接返回，否则向交易所拉取。
func (c *RulesCache) Get(ctx context.Context, symbol string) (SymbolRules, error) {
	c.mu.RLock()
	r, ok := c.rules[symbol]
	c.mu.RUnlock()
	if ok {
		return r, nil
	}
	if c.gw == nil {
		return SymbolRules{}, fmt.Errorf("rules for %s: %w", symbol, ErrUnknownSymbol)
	}
	r, err := c.gw.SymbolRules(ctx, symbol)
	if err != nil {
		return SymbolRules{}, fmt.Errorf("fetch rules for %s: %w", symbol, err)
	}
	r.Symbol = symbol
	c.mu.Lock()
	c.rules[symbol] = r
	c.mu.Unlock()
	return r, nil
}

// Invalidate 删除缓存，下次 Get 重新拉取。
func (c *RulesCache) Invalidate(symbol string) {
	c.mu.Lock()
	delete(c.rules, symbol)
	c.mu.Unlock()
}
