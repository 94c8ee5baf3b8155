package risk

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"algo-exec-go/order"
)

// Limits 单个交易对的数量限制，零值表示不限。
type Limits struct {
	SingleMax decimal.Decimal // 单笔最大数量
	DailyMax  decimal.Decimal // 24h 累计提交数量
}

// LimitChecker 维护日累计提交量与单笔校验。
type LimitChecker struct {
	mu       sync.Mutex
	limits   map[string]Limits
	dayVol   map[string]decimal.Decimal
	dayReset time.Time
	now      func() time.Time
}

func NewLimitChecker(limits map[string]Limits) *LimitChecker {
	norm := make(map[string]Limits, len(limits))
	for sym, l := range limits {
		norm[strings.ToUpper(sym)] = l
	}
	return &LimitChecker{
		limits:   norm,
		dayVol:   make(map[string]decimal.Decimal),
		dayReset: time.Now(),
		now:      time.Now,
	}
}

// PreOrder 校验下单前约束；未配置限制的交易对直接放行。
// 通过校验的数量计入日累计，之后即使被交易所拒绝也不回退。
func (lc *LimitChecker) PreOrder(o order.Order) error {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	l, ok := lc.limits[o.Symbol]
	if !ok {
		return nil
	}
	now := lc.now()
	if now.Sub(lc.dayReset) > 24*time.Hour {
		lc.dayVol = make(map[string]decimal.Decimal)
		lc.dayReset = now
	}

	qty := o.Quantity.Abs()
	if l.SingleMax.IsPositive() && qty.GreaterThan(l.SingleMax) {
		return fmt.Errorf("%w: %s > single %s", ErrSingleExceed, qty, l.SingleMax)
	}
	next := lc.dayVol[o.Symbol].Add(qty)
	if l.DailyMax.IsPositive() && next.GreaterThan(l.DailyMax) {
		return fmt.Errorf("%w: %s > daily %s", ErrDailyExceed, next, l.DailyMax)
	}
	lc.dayVol[o.Symbol] = next
	return nil
}

// DailyVolume 当前窗口内已提交数量。
func (lc *LimitChecker) DailyVolume(symbol string) decimal.Decimal {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.dayVol[strings.ToUpper(symbol)]
}
