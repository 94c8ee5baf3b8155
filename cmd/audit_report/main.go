package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// zap ISO8601TimeEncoder 的输出格式
const isoLayout = "2006-01-02T15:04:05.000Z0700"

type fill struct {
	side   string
	qty    decimal.Decimal
	avgPx  decimal.Decimal
}

type summary struct {
	id       string
	kind     string
	symbol   string
	status   string
	reason   string
	placed   int
	rejected int
	canceled int
	retries  int
	rearms   int
	fills    map[string]fill // clientOrderId -> 最新累计成交
	first    time.Time
	last     time.Time
}

func (s *summary) notional(side string) (qty, notional decimal.Decimal) {
	for _, f := range s.fills {
		if f.side != side {
			continue
		}
		qty = qty.Add(f.qty)
		notional = notional.Add(f.qty.Mul(f.avgPx))
	}
	return qty, notional
}

type filter struct {
	symbol   string
	strategy string
	since    time.Time
}

// summarize 逐行读取日志，跳过非审计行，按策略聚合。
func summarize(r io.Reader, flt filter) (map[string]*summary, error) {
	out := make(map[string]*summary)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		idx := strings.Index(line, "{")
		if idx == -1 {
			continue
		}
		var evt map[string]interface{}
		if err := json.Unmarshal([]byte(line[idx:]), &evt); err != nil {
			continue
		}
		name := str(evt, "event")
		id := str(evt, "strategyId")
		if name == "" || id == "" {
			continue
		}
		if flt.strategy != "" && id != flt.strategy {
			continue
		}
		if flt.symbol != "" && str(evt, "symbol") != "" && str(evt, "symbol") != flt.symbol {
			continue
		}
		ts, _ := time.Parse(isoLayout, str(evt, "ts"))
		if !flt.since.IsZero() && !ts.IsZero() && ts.Before(flt.since) {
			continue
		}

		s := out[id]
		if s == nil {
			s = &summary{id: id, fills: make(map[string]fill), first: ts}
			out[id] = s
		}
		if !ts.IsZero() {
			s.last = ts
		}
		if k := str(evt, "kind"); k != "" {
			s.kind = k
		}
		if sym := str(evt, "symbol"); sym != "" {
			s.symbol = sym
		}

		switch name {
		case "strategy_status":
			s.status = str(evt, "to")
			if reason := str(evt, "reason"); reason != "" {
				s.reason = reason
			}
		case "order_placed":
			s.placed++
		case "order_rejected":
			s.rejected++
		case "order_canceled":
			s.canceled++
		case "slice_retry":
			s.retries++
		case "grid_rearm":
			s.rearms++
		case "order_update":
			qty, err := decimal.NewFromString(str(evt, "filledQty"))
			if err != nil || !qty.IsPositive() {
				continue
			}
			px, _ := decimal.NewFromString(str(evt, "avgPrice"))
			cid := str(evt, "clientOrderId")
			prev := s.fills[cid]
			if qty.GreaterThanOrEqual(prev.qty) {
				s.fills[cid] = fill{side: str(evt, "side"), qty: qty, avgPx: px}
			}
		}
	}
	return out, scanner.Err()
}

func str(evt map[string]interface{}, k string) string {
	v, _ := evt[k].(string)
	return v
}

func main() {
	logPath := flag.String("log", "/var/log/algo-exec/runner.log", "runner 日志路径")
	symbol := flag.String("symbol", "", "仅统计指定交易对 (默认全量)")
	strategyID := flag.String("strategy", "", "仅统计指定策略")
	sinceStr := flag.String("since", "", "仅统计此时间之后的记录 (RFC3339，例如 2026-01-02T00:00:00Z)")
	flag.Parse()

	flt := filter{symbol: strings.ToUpper(*symbol), strategy: *strategyID}
	if *sinceStr != "" {
		since, err := time.Parse(time.RFC3339Nano, *sinceStr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "解析 since 参数失败: %v\n", err)
			os.Exit(1)
		}
		flt.since = since
	}

	f, err := os.Open(*logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "无法读取日志: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	sums, err := summarize(f, flt)
	if err != nil {
		fmt.Fprintf(os.Stderr, "读取日志出错: %v\n", err)
		os.Exit(1)
	}
	report(os.Stdout, sums)
}

func report(w io.Writer, sums map[string]*summary) {
	list := make([]*summary, 0, len(sums))
	for _, s := range sums {
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].first.Before(list[j].first) })

	for _, s := range list {
		fmt.Fprintf(w, "%s [%s %s] 状态=%s", s.id, s.kind, s.symbol, s.status)
		if s.reason != "" {
			fmt.Fprintf(w, " 原因=%q", s.reason)
		}
		fmt.Fprintln(w)
		fmt.Fprintf(w, "  下单=%d 拒单=%d 撤单=%d 切片重试=%d 网格重挂=%d\n", s.placed, s.rejected, s.canceled, s.retries, s.rearms)
		bq, bn := s.notional("BUY")
		sq, sn := s.notional("SELL")
		fmt.Fprintf(w, "  买入 %s (名义 %s) 卖出 %s (名义 %s) 净差额 %s\n", bq, bn.StringFixed(4), sq, sn.StringFixed(4), sn.Sub(bn).StringFixed(4))
		if !s.first.IsZero() && !s.last.IsZero() {
			fmt.Fprintf(w, "  时间 %s ~ %s\n", s.first.Format(time.RFC3339), s.last.Format(time.RFC3339))
		}
	}
}
