package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"algo-exec-go/order"
)

func sum(qs []decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, q := range qs {
		total = total.Add(q)
	}
	return total
}

func strs(qs []decimal.Decimal) []string {
	out := make([]string, len(qs))
	for i, q := range qs {
		out[i] = q.String()
	}
	return out
}

func TestPlanSlicesRemainderPolicy(t *testing.T) {
	first, err := PlanSlices(d("100"), 3, d("1"), RemainderFirst)
	require.NoError(t, err)
	assert.Equal(t, []string{"34", "33", "33"}, strs(first))
	assert.True(t, sum(first).Equal(d("100")))

	last, err := PlanSlices(d("100"), 3, d("1"), RemainderLast)
	require.NoError(t, err)
	assert.Equal(t, []string{"33", "33", "34"}, strs(last))
	assert.True(t, sum(last).Equal(d("100")))
}

func TestPlanSlicesConservesTotal(t *testing.T) {
	cases := []struct {
		total string
		count int
		step  string
	}{
		{"1", 3, "0.001"},
		{"0.5", 7, "0.001"},
		{"12.345", 4, "0.005"},
		{"10", 10, "1"},
	}
	for _, c := range cases {
		plan, err := PlanSlices(d(c.total), c.count, d(c.step), RemainderLast)
		require.NoError(t, err, "%+v", c)
		assert.Len(t, plan, c.count)
		assert.True(t, sum(plan).Equal(d(c.total)), "%+v sums to %s", c, sum(plan))
		for _, q := range plan {
			assert.True(t, q.Mod(d(c.step)).IsZero(), "slice %s not on step %s", q, c.step)
		}
	}
}

func TestPlanSlicesErrors(t *testing.T) {
	_, err := PlanSlices(d("1"), 0, d("1"), RemainderLast)
	assert.True(t, IsValidation(err))

	_, err = PlanSlices(d("2"), 3, d("1"), RemainderLast)
	assert.True(t, IsValidation(err), "slices round to zero")

	_, err = PlanSlices(d("1.0005"), 2, d("0.001"), RemainderLast)
	assert.True(t, IsValidation(err), "total off step")
}

func TestLevelPrices(t *testing.T) {
	prices, err := LevelPrices(d("100"), d("120"), 5, testRules())
	require.NoError(t, err)
	assert.Equal(t, []string{"100", "105", "110", "115", "120"}, strs(prices))

	coarse := testRules()
	coarse.TickSize = d("10")
	_, err = LevelPrices(d("100"), d("120"), 5, coarse)
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Contains(t, err.Error(), "collides")
}

func TestGeometricLevelPrices(t *testing.T) {
	prices, err := GeometricLevelPrices(d("100"), d("400"), 3, testRules())
	require.NoError(t, err)
	assert.Equal(t, []string{"100", "200", "400"}, strs(prices))

	prices, err = GeometricLevelPrices(d("100"), d("120"), 6, testRules())
	require.NoError(t, err)
	for i := 1; i < len(prices); i++ {
		assert.True(t, prices[i].GreaterThan(prices[i-1]))
	}
	// 等比间距逐档加宽
	assert.True(t, prices[5].Sub(prices[4]).GreaterThan(prices[1].Sub(prices[0])))
}

func TestSideFor(t *testing.T) {
	ref := d("110")
	assert.Equal(t, order.SideBuy, SideFor(d("100"), ref, AtReferenceSkip))
	assert.Equal(t, order.SideSell, SideFor(d("120"), ref, AtReferenceSkip))
	assert.Equal(t, order.Side(""), SideFor(ref, ref, AtReferenceSkip))
	assert.Equal(t, order.SideBuy, SideFor(ref, ref, AtReferenceBuy))
	assert.Equal(t, order.SideSell, SideFor(ref, ref, AtReferenceSell))
}

func TestOCOParamsValidate(t *testing.T) {
	ok := OCOParams{Symbol: testSymbol, Side: order.SideSell, Quantity: d("1"), TakeProfitPrice: d("110"), StopPrice: d("90")}
	require.NoError(t, ok.Validate(testRules()))

	cases := map[string]func(*OCOParams){
		"zero qty":      func(p *OCOParams) { p.Quantity = decimal.Zero },
		"bad side":      func(p *OCOParams) { p.Side = "HOLD" },
		"inverted sell": func(p *OCOParams) { p.TakeProfitPrice, p.StopPrice = d("90"), d("110") },
		"off tick":      func(p *OCOParams) { p.TakeProfitPrice = d("110.005") },
		"no symbol":     func(p *OCOParams) { p.Symbol = "" },
	}
	for name, mutate := range cases {
		p := ok
		mutate(&p)
		assert.True(t, IsValidation(p.Validate(testRules())), name)
	}

	buy := OCOParams{Symbol: testSymbol, Side: order.SideBuy, Quantity: d("1"), TakeProfitPrice: d("90"), StopPrice: d("110")}
	assert.NoError(t, buy.Validate(testRules()))
	assert.NoError(t, buy.CheckMark(d("100")))
	assert.Error(t, buy.CheckMark(d("85")))
	assert.NoError(t, ok.CheckMark(d("100")))
	assert.Error(t, ok.CheckMark(d("115")))
}

func TestTWAPParamsValidate(t *testing.T) {
	base := TWAPParams{Symbol: testSymbol, Side: order.SideBuy, TotalQuantity: d("1"), SliceCount: 4, Interval: time.Second}
	plan, err := base.Validate(testRules())
	require.NoError(t, err)
	assert.Equal(t, []string{"0.25", "0.25", "0.25", "0.25"}, strs(plan))

	cases := map[string]func(*TWAPParams){
		"zero slices":     func(p *TWAPParams) { p.SliceCount = 0 },
		"zero total":      func(p *TWAPParams) { p.TotalQuantity = decimal.Zero },
		"zero interval":   func(p *TWAPParams) { p.Interval = 0 },
		"limit w/o price": func(p *TWAPParams) { p.OrderType = order.TypeLimit },
		"stop type":       func(p *TWAPParams) { p.OrderType = order.TypeStopMarket },
		"below min qty":   func(p *TWAPParams) { p.TotalQuantity, p.SliceCount = d("0.002"), 3 },
		"bad remainder":   func(p *TWAPParams) { p.Remainder = "middle" },
	}
	for name, mutate := range cases {
		p := base
		mutate(&p)
		_, err := p.Validate(testRules())
		assert.True(t, IsValidation(err), "%s: %v", name, err)
	}
}

func TestGridParamsValidate(t *testing.T) {
	base := GridParams{Symbol: testSymbol, LowerPrice: d("100"), UpperPrice: d("120"), Levels: 5, QuantityPerLevel: d("0.1"), ReferencePrice: d("110")}
	prices, err := base.Validate(testRules())
	require.NoError(t, err)
	assert.Len(t, prices, 5)

	cases := map[string]func(*GridParams){
		"one level":      func(p *GridParams) { p.Levels = 1 },
		"inverted":       func(p *GridParams) { p.LowerPrice, p.UpperPrice = d("120"), d("100") },
		"zero qty":       func(p *GridParams) { p.QuantityPerLevel = decimal.Zero },
		"no reference":   func(p *GridParams) { p.ReferencePrice = decimal.Zero },
		"offset":         func(p *GridParams) { p.RearmOffset = 2 },
		"negative cap":   func(p *GridParams) { p.MaxRearmsPerLevel = -1 },
		"spacing":        func(p *GridParams) { p.Spacing = "log" },
		"at reference":   func(p *GridParams) { p.AtReference = "both" },
		"below notional": func(p *GridParams) { p.QuantityPerLevel = d("0.001") },
	}
	for name, mutate := range cases {
		p := base
		mutate(&p)
		_, err := p.Validate(testRules())
		assert.True(t, IsValidation(err), "%s: %v", name, err)
	}
}
