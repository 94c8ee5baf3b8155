package strategy

import (
	"math"

	"github.com/shopspring/decimal"

	"algo-exec-go/order"
)

// Spacing 档位间距模式。
type Spacing string

const (
	SpacingArithmetic Spacing = "arithmetic" // 等差
	SpacingGeometric  Spacing = "geometric"  // 等比，价格越高间距越宽
)

// GeometricLevelPrices 等比档位 lower * (upper/lower)^(i/(levels-1))，按 tick 取整后必须严格递增。
// 比例在 float64 下计算，首尾两档固定为 lower/upper。
func GeometricLevelPrices(lower, upper decimal.Decimal, levels int, rules order.SymbolRules) ([]decimal.Decimal, error) {
	if levels < 2 {
		return nil, invalid("levels", "must be >= 2, got %d", levels)
	}
	lo, _ := lower.Float64()
	hi, _ := upper.Float64()
	ratio := math.Pow(hi/lo, 1/float64(levels-1))

	prices := make([]decimal.Decimal, levels)
	for i := 0; i < levels; i++ {
		var px decimal.Decimal
		switch i {
		case 0:
			px = lower
		case levels - 1:
			px = upper
		default:
			px = decimal.NewFromFloat(lo * math.Pow(ratio, float64(i)))
		}
		prices[i] = rules.RoundPrice(px)
		if i > 0 && !prices[i].GreaterThan(prices[i-1]) {
			return nil, invalid("levels", "level %d price %s collides with level %d after tick rounding", i, prices[i], i-1)
		}
	}
	return prices, nil
}
