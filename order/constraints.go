package order

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// SymbolRules 描述交易对的步长与名义限制（来自 exchangeInfo 的 PRICE_FILTER/LOT_SIZE/MIN_NOTIONAL）。
type SymbolRules struct {
	Symbol      string
	TickSize    decimal.Decimal
	StepSize    decimal.Decimal
	MinQty      decimal.Decimal
	MaxQty      decimal.Decimal
	MinPrice    decimal.Decimal
	MaxPrice    decimal.Decimal
	MinNotional decimal.Decimal
}

// FloorQty 向下取整到 stepSize。
func (r SymbolRules) FloorQty(qty decimal.Decimal) decimal.Decimal {
	return floorTo(qty, r.StepSize)
}

// FloorPrice 向下取整到 tickSize。
func (r SymbolRules) FloorPrice(price decimal.Decimal) decimal.Decimal {
	return floorTo(price, r.TickSize)
}

// RoundPrice 四舍五入到最近的 tick。
func (r SymbolRules) RoundPrice(price decimal.Decimal) decimal.Decimal {
	if !r.TickSize.IsPositive() {
		return price
	}
	return price.Div(r.TickSize).Round(0).Mul(r.TickSize)
}

// ValidateQty 检查数量的步长与上下限。
func (r SymbolRules) ValidateQty(qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return fmt.Errorf("qty %s must be > 0", qty)
	}
	if !isMultiple(qty, r.StepSize) {
		return fmt.Errorf("qty %s not aligned to stepSize %s", qty, r.StepSize)
	}
	if r.MinQty.IsPositive() && qty.LessThan(r.MinQty) {
		return fmt.Errorf("qty %s < minQty %s", qty, r.MinQty)
	}
	if r.MaxQty.IsPositive() && qty.GreaterThan(r.MaxQty) {
		return fmt.Errorf("qty %s > maxQty %s", qty, r.MaxQty)
	}
	return nil
}

// ValidatePrice 检查价格的 tick 对齐与上下限。
func (r SymbolRules) ValidatePrice(price decimal.Decimal) error {
	if !price.IsPositive() {
		return fmt.Errorf("price %s must be > 0", price)
	}
	if !isMultiple(price, r.TickSize) {
		return fmt.Errorf("price %s not aligned to tickSize %s", price, r.TickSize)
	}
	if r.MinPrice.IsPositive() && price.LessThan(r.MinPrice) {
		return fmt.Errorf("price %s < minPrice %s", price, r.MinPrice)
	}
	if r.MaxPrice.IsPositive() && price.GreaterThan(r.MaxPrice) {
		return fmt.Errorf("price %s > maxPrice %s", price, r.MaxPrice)
	}
	return nil
}

// Validate 检查订单价格/数量是否符合精度与最小名义。price 为零时跳过价格与名义检查（市价单）。
func (r SymbolRules) Validate(price, qty decimal.Decimal) error {
	if err := r.ValidateQty(qty); err != nil {
		return err
	}
	if price.IsZero() {
		return nil
	}
	if err := r.ValidatePrice(price); err != nil {
		return err
	}
	if r.MinNotional.IsPositive() && price.Mul(qty).LessThan(r.MinNotional) {
		return fmt.Errorf("notional %s < minNotional %s", price.Mul(qty), r.MinNotional)
	}
	return nil
}

// ValidateOrder 按订单类型选择参与校验的价格。
func (r SymbolRules) ValidateOrder(o Order) error {
	switch o.Type {
	case TypeMarket:
		return r.ValidateQty(o.Quantity)
	case TypeStopMarket:
		if err := r.ValidateQty(o.Quantity); err != nil {
			return err
		}
		return r.ValidatePrice(o.StopPrice)
	case TypeStopLimit:
		if err := r.ValidatePrice(o.StopPrice); err != nil {
			return fmt.Errorf("stop %w", err)
		}
		return r.Validate(o.Price, o.Quantity)
	default:
		return r.Validate(o.Price, o.Quantity)
	}
}

func floorTo(value, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return value
	}
	return value.Div(step).Floor().Mul(step)
}

func isMultiple(value, step decimal.Decimal) bool {
	if !step.IsPositive() {
		return true
	}
	return value.Mod(step).IsZero()
}
