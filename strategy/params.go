package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"algo-exec-go/order"
)

// OCOParams 一对平仓单：止盈限价 + 止损（stop-limit 或 stop-market）。
// Side 为平仓方向：平多为 SELL，平空为 BUY。
type OCOParams struct {
	Symbol          string
	Side            order.Side
	Quantity        decimal.Decimal
	TakeProfitPrice decimal.Decimal
	StopPrice       decimal.Decimal
	StopLimitPrice  decimal.Decimal // 为零时止损腿使用 STOP_MARKET
	TimeInForce     string
	CheckMarkPrice  bool
}

// Validate 检查方向、价格关系与交易规则。
func (p OCOParams) Validate(rules order.SymbolRules) error {
	if p.Symbol == "" {
		return invalid("symbol", "empty")
	}
	if !p.Side.Valid() {
		return invalid("side", "must be BUY or SELL, got %q", p.Side)
	}
	if !p.Quantity.IsPositive() {
		return invalid("quantity", "must be > 0")
	}
	if !p.TakeProfitPrice.IsPositive() || !p.StopPrice.IsPositive() {
		return invalid("price", "take-profit and stop prices must be > 0")
	}
	if p.StopLimitPrice.IsNegative() {
		return invalid("stopLimitPrice", "must be >= 0")
	}
	switch p.Side {
	case order.SideSell:
		if !p.TakeProfitPrice.GreaterThan(p.StopPrice) {
			return invalid("price", "SELL exit needs takeProfit %s > stop %s", p.TakeProfitPrice, p.StopPrice)
		}
	case order.SideBuy:
		if !p.TakeProfitPrice.LessThan(p.StopPrice) {
			return invalid("price", "BUY exit needs takeProfit %s < stop %s", p.TakeProfitPrice, p.StopPrice)
		}
	}
	if err := rules.Validate(p.TakeProfitPrice, p.Quantity); err != nil {
		return invalid("takeProfit", "%v", err)
	}
	if err := rules.ValidatePrice(p.StopPrice); err != nil {
		return invalid("stopPrice", "%v", err)
	}
	if p.StopLimitPrice.IsPositive() {
		if err := rules.Validate(p.StopLimitPrice, p.Quantity); err != nil {
			return invalid("stopLimitPrice", "%v", err)
		}
	}
	return nil
}

// CheckMark 平仓单价格必须位于当前价两侧。
func (p OCOParams) CheckMark(mark decimal.Decimal) error {
	switch p.Side {
	case order.SideSell:
		if !p.TakeProfitPrice.GreaterThan(mark) || !p.StopPrice.LessThan(mark) {
			return invalid("price", "SELL exit needs takeProfit %s > mark %s > stop %s", p.TakeProfitPrice, mark, p.StopPrice)
		}
	case order.SideBuy:
		if !p.TakeProfitPrice.LessThan(mark) || !p.StopPrice.GreaterThan(mark) {
			return invalid("price", "BUY exit needs takeProfit %s < mark %s < stop %s", p.TakeProfitPrice, mark, p.StopPrice)
		}
	}
	return nil
}

// RemainderPolicy 取整余量归入哪个切片。
type RemainderPolicy string

const (
	RemainderLast  RemainderPolicy = "last"
	RemainderFirst RemainderPolicy = "first"
)

// TWAPParams 时间加权切片下单。
type TWAPParams struct {
	Symbol            string
	Side              order.Side
	TotalQuantity     decimal.Decimal
	SliceCount        int
	Interval          time.Duration
	OrderType         order.Type      // MARKET 或 LIMIT
	LimitPrice        decimal.Decimal // LIMIT 时必填
	SliceTimeout      time.Duration   // 为零时使用 Interval
	MaxSliceAttempts  int
	Remainder         RemainderPolicy
	MaxPriceDeviation decimal.Decimal // 相对初始价格的比例，零表示不检查
	ReduceOnly        bool
}

func (p *TWAPParams) applyDefaults() {
	if p.OrderType == "" {
		p.OrderType = order.TypeMarket
	}
	if p.MaxSliceAttempts <= 0 {
		p.MaxSliceAttempts = 3
	}
	if p.SliceTimeout <= 0 {
		p.SliceTimeout = p.Interval
	}
	if p.Remainder == "" {
		p.Remainder = RemainderLast
	}
}

// Validate 检查配置并返回切片计划。
func (p TWAPParams) Validate(rules order.SymbolRules) ([]decimal.Decimal, error) {
	p.applyDefaults()
	if p.Symbol == "" {
		return nil, invalid("symbol", "empty")
	}
	if !p.Side.Valid() {
		return nil, invalid("side", "must be BUY or SELL, got %q", p.Side)
	}
	if !p.TotalQuantity.IsPositive() {
		return nil, invalid("totalQuantity", "must be > 0")
	}
	if p.SliceCount <= 0 {
		return nil, invalid("sliceCount", "must be > 0, got %d", p.SliceCount)
	}
	if p.Interval <= 0 {
		return nil, invalid("interval", "must be > 0")
	}
	if p.MaxPriceDeviation.IsNegative() {
		return nil, invalid("maxPriceDeviation", "must be >= 0")
	}
	switch p.OrderType {
	case order.TypeMarket:
	case order.TypeLimit:
		if !p.LimitPrice.IsPositive() {
			return nil, invalid("limitPrice", "required for LIMIT slices")
		}
		if err := rules.ValidatePrice(p.LimitPrice); err != nil {
			return nil, invalid("limitPrice", "%v", err)
		}
	default:
		return nil, invalid("orderType", "slices must be MARKET or LIMIT, got %q", p.OrderType)
	}
	if p.Remainder != RemainderFirst && p.Remainder != RemainderLast {
		return nil, invalid("remainderPolicy", "must be first or last, got %q", p.Remainder)
	}
	plan, err := PlanSlices(p.TotalQuantity, p.SliceCount, rules.StepSize, p.Remainder)
	if err != nil {
		return nil, err
	}
	for i, q := range plan {
		price := decimal.Zero
		if p.OrderType == order.TypeLimit {
			price = p.LimitPrice
		}
		if err := rules.Validate(price, q); err != nil {
			return nil, invalid("sliceCount", "slice %d (%s) violates rules: %v", i, q, err)
		}
	}
	return plan, nil
}

// PlanSlices 将总量按 step 向下取整均分，余量归入首/末切片，总和恰好等于 total。
func PlanSlices(total decimal.Decimal, count int, step decimal.Decimal, policy RemainderPolicy) ([]decimal.Decimal, error) {
	if count <= 0 {
		return nil, invalid("sliceCount", "must be > 0, got %d", count)
	}
	if step.IsPositive() && !total.Mod(step).IsZero() {
		return nil, invalid("totalQuantity", "%s not aligned to lot step %s", total, step)
	}
	per := total.Div(decimal.NewFromInt(int64(count)))
	if step.IsPositive() {
		per = per.Div(step).Floor().Mul(step)
	}
	if !per.IsPositive() {
		return nil, invalid("sliceCount", "%d slices of %s round to zero at lot step %s", count, total, step)
	}
	plan := make([]decimal.Decimal, count)
	for i := range plan {
		plan[i] = per
	}
	rest := total.Sub(per.Mul(decimal.NewFromInt(int64(count))))
	if policy == RemainderFirst {
		plan[0] = plan[0].Add(rest)
	} else {
		plan[count-1] = plan[count-1].Add(rest)
	}
	return plan, nil
}

// AtReferencePolicy 恰好等于参考价的档位如何处理。
type AtReferencePolicy string

const (
	AtReferenceSkip AtReferencePolicy = "skip"
	AtReferenceBuy  AtReferencePolicy = "buy"
	AtReferenceSell AtReferencePolicy = "sell"
)

// GridParams 区间网格。
type GridParams struct {
	Symbol            string
	LowerPrice        decimal.Decimal
	UpperPrice        decimal.Decimal
	Levels            int
	QuantityPerLevel  decimal.Decimal
	ReferencePrice    decimal.Decimal // 为零时取当前价
	AtReference       AtReferencePolicy
	MaxRearmsPerLevel int // 零表示不限
	RearmOffset       int // 0 同价反向；1 相邻档位
	RearmCooldown     time.Duration
	Spacing           Spacing // 默认等差
}

func (p *GridParams) applyDefaults() {
	if p.AtReference == "" {
		p.AtReference = AtReferenceSkip
	}
	if p.Spacing == "" {
		p.Spacing = SpacingArithmetic
	}
}

// Validate 检查配置并返回档位价格。需要已确定的 ReferencePrice。
func (p GridParams) Validate(rules order.SymbolRules) ([]decimal.Decimal, error) {
	p.applyDefaults()
	if p.Symbol == "" {
		return nil, invalid("symbol", "empty")
	}
	if p.Levels < 2 {
		return nil, invalid("levels", "must be >= 2, got %d", p.Levels)
	}
	if !p.LowerPrice.IsPositive() || !p.UpperPrice.GreaterThan(p.LowerPrice) {
		return nil, invalid("price", "need 0 < lower %s < upper %s", p.LowerPrice, p.UpperPrice)
	}
	if !p.QuantityPerLevel.IsPositive() {
		return nil, invalid("quantityPerLevel", "must be > 0")
	}
	if !p.ReferencePrice.IsPositive() {
		return nil, invalid("referencePrice", "must be > 0")
	}
	if p.MaxRearmsPerLevel < 0 {
		return nil, invalid("maxRearmsPerLevel", "must be >= 0")
	}
	if p.RearmOffset != 0 && p.RearmOffset != 1 {
		return nil, invalid("rearmOffset", "must be 0 or 1, got %d", p.RearmOffset)
	}
	switch p.AtReference {
	case AtReferenceSkip, AtReferenceBuy, AtReferenceSell:
	default:
		return nil, invalid("atReference", "must be skip, buy or sell, got %q", p.AtReference)
	}
	var (
		prices []decimal.Decimal
		err    error
	)
	switch p.Spacing {
	case SpacingArithmetic:
		prices, err = LevelPrices(p.LowerPrice, p.UpperPrice, p.Levels, rules)
	case SpacingGeometric:
		prices, err = GeometricLevelPrices(p.LowerPrice, p.UpperPrice, p.Levels, rules)
	default:
		return nil, invalid("spacing", "must be arithmetic or geometric, got %q", p.Spacing)
	}
	if err != nil {
		return nil, err
	}
	for i, px := range prices {
		if err := rules.Validate(px, p.QuantityPerLevel); err != nil {
			return nil, invalid("quantityPerLevel", "level %d @ %s: %v", i, px, err)
		}
	}
	return prices, nil
}

// LevelPrices 等差档位 lower + i*(upper-lower)/(levels-1)，按 tick 取整后必须严格递增。
func LevelPrices(lower, upper decimal.Decimal, levels int, rules order.SymbolRules) ([]decimal.Decimal, error) {
	if levels < 2 {
		return nil, invalid("levels", "must be >= 2, got %d", levels)
	}
	step := upper.Sub(lower).Div(decimal.NewFromInt(int64(levels - 1)))
	prices := make([]decimal.Decimal, levels)
	for i := 0; i < levels; i++ {
		px := lower.Add(step.Mul(decimal.NewFromInt(int64(i))))
		if i == levels-1 {
			px = upper
		}
		prices[i] = rules.RoundPrice(px)
		if i > 0 && !prices[i].GreaterThan(prices[i-1]) {
			return nil, invalid("levels", "level %d price %s collides with level %d after tick rounding", i, prices[i], i-1)
		}
	}
	return prices, nil
}

// SideFor 档位初始方向：低于参考价买，高于参考价卖；等于时按 policy，返回 "" 表示不挂单。
func SideFor(price, reference decimal.Decimal, policy AtReferencePolicy) order.Side {
	switch price.Cmp(reference) {
	case -1:
		return order.SideBuy
	case 1:
		return order.SideSell
	}
	switch policy {
	case AtReferenceBuy:
		return order.SideBuy
	case AtReferenceSell:
		return order.SideSell
	default:
		return ""
	}
}
