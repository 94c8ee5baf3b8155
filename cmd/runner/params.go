package main

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"algo-exec-go/order"
	"algo-exec-go/strategy"
)

// strategyFlags 命令行上描述一个策略；不同类型使用其中不同的字段。
type strategyFlags struct {
	kind   string
	symbol string
	side   string
	qty    string

	// oco
	takeProfit string
	stop       string
	stopLimit  string

	// twap
	slices    int
	interval  time.Duration
	orderType string
	limit     string
	timeout   time.Duration
	remainder string
	maxDev    string

	// grid
	lower   string
	upper   string
	levels  int
	ref     string
	offset  int
	cap     int
	spacing string
}

func (f *strategyFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.kind, "kind", "oco", "策略类型：oco | twap | grid")
	fs.StringVar(&f.symbol, "symbol", "BTCUSDT", "交易对")
	fs.StringVar(&f.side, "side", "SELL", "方向（oco 为平仓方向，twap 为下单方向）")
	fs.StringVar(&f.qty, "qty", "", "数量（oco 每腿数量 / twap 总量 / grid 每档数量）")

	fs.StringVar(&f.takeProfit, "tp", "", "oco 止盈价")
	fs.StringVar(&f.stop, "sl", "", "oco 止损触发价")
	fs.StringVar(&f.stopLimit, "slLimit", "", "oco 止损限价，留空则 STOP_MARKET")

	fs.IntVar(&f.slices, "slices", 0, "twap 切片数")
	fs.DurationVar(&f.interval, "interval", time.Minute, "twap 切片间隔")
	fs.StringVar(&f.orderType, "type", "MARKET", "twap 切片类型 MARKET | LIMIT")
	fs.StringVar(&f.limit, "limit", "", "twap LIMIT 切片价格")
	fs.DurationVar(&f.timeout, "sliceTimeout", 0, "twap 单片超时，0 使用引擎默认")
	fs.StringVar(&f.remainder, "remainder", "", "twap 余量归属 first | last")
	fs.StringVar(&f.maxDev, "maxDeviation", "", "twap 价格偏离告警阈值（比例）")

	fs.StringVar(&f.lower, "lower", "", "grid 下边界")
	fs.StringVar(&f.upper, "upper", "", "grid 上边界")
	fs.IntVar(&f.levels, "levels", 0, "grid 档位数")
	fs.StringVar(&f.ref, "ref", "", "grid 参考价，留空取当前价")
	fs.IntVar(&f.offset, "offset", 0, "grid 重挂偏移 0 | 1")
	fs.IntVar(&f.cap, "maxRearms", 0, "grid 每档重挂上限，0 使用引擎默认")
	fs.StringVar(&f.spacing, "spacing", "", "grid 间距 arithmetic | geometric")
}

// parseDec 空字符串视为零。
func parseDec(name, s string) (decimal.Decimal, error) {
	if strings.TrimSpace(s) == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("flag -%s: %w", name, err)
	}
	return d, nil
}

type decFlag struct {
	name string
	raw  string
	dst  *decimal.Decimal
}

// decs 依次解析，遇到第一个错误即返回。
func decs(flags ...decFlag) error {
	for _, f := range flags {
		v, err := parseDec(f.name, f.raw)
		if err != nil {
			return err
		}
		*f.dst = v
	}
	return nil
}

func (f *strategyFlags) oco() (strategy.OCOParams, error) {
	p := strategy.OCOParams{
		Symbol: strings.ToUpper(f.symbol),
		Side:   order.Side(strings.ToUpper(f.side)),
	}
	err := decs(
		decFlag{"qty", f.qty, &p.Quantity},
		decFlag{"tp", f.takeProfit, &p.TakeProfitPrice},
		decFlag{"sl", f.stop, &p.StopPrice},
		decFlag{"slLimit", f.stopLimit, &p.StopLimitPrice},
	)
	return p, err
}

func (f *strategyFlags) twap() (strategy.TWAPParams, error) {
	p := strategy.TWAPParams{
		Symbol:       strings.ToUpper(f.symbol),
		Side:         order.Side(strings.ToUpper(f.side)),
		SliceCount:   f.slices,
		Interval:     f.interval,
		OrderType:    order.Type(strings.ToUpper(f.orderType)),
		SliceTimeout: f.timeout,
		Remainder:    strategy.RemainderPolicy(f.remainder),
	}
	err := decs(
		decFlag{"qty", f.qty, &p.TotalQuantity},
		decFlag{"limit", f.limit, &p.LimitPrice},
		decFlag{"maxDeviation", f.maxDev, &p.MaxPriceDeviation},
	)
	return p, err
}

func (f *strategyFlags) grid() (strategy.GridParams, error) {
	p := strategy.GridParams{
		Symbol:            strings.ToUpper(f.symbol),
		Levels:            f.levels,
		RearmOffset:       f.offset,
		MaxRearmsPerLevel: f.cap,
		Spacing:           strategy.Spacing(f.spacing),
	}
	err := decs(
		decFlag{"qty", f.qty, &p.QuantityPerLevel},
		decFlag{"lower", f.lower, &p.LowerPrice},
		decFlag{"upper", f.upper, &p.UpperPrice},
		decFlag{"ref", f.ref, &p.ReferencePrice},
	)
	return p, err
}
