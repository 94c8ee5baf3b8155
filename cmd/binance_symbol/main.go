package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"algo-exec-go/config"
	"algo-exec-go/gateway"
)

// 查询交易对规则与最新价，输出可直接粘贴到 symbols 配置段的 YAML。
func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	symbol := flag.String("symbol", "BTCUSDT", "查询的交易对(如 ETHUSDT)")
	timeout := flag.Duration("timeout", 10*time.Second, "请求超时")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	gw := cfg.Gateway
	client := gateway.NewBinance(gateway.BinanceConfig{
		APIKey:       gw.APIKey,
		APISecret:    gw.APISecret,
		RestURL:      gw.BaseURL,
		RecvWindowMs: gw.RecvWindowMs,
	}, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	sym := strings.ToUpper(strings.TrimSpace(*symbol))
	rules, err := client.SymbolRules(ctx, sym)
	if err != nil {
		log.Fatalf("获取交易对信息失败: %v", err)
	}
	price, err := client.LastPrice(ctx, sym)
	if err != nil {
		log.Printf("获取最新价失败: %v", err)
	}
	fmt.Printf("# %s 价格区间=[%s, %s] 最新价=%s\n", rules.Symbol, rules.MinPrice, rules.MaxPrice, price)

	sc := config.SymbolConfig{
		TickSize:    rules.TickSize.InexactFloat64(),
		StepSize:    rules.StepSize.InexactFloat64(),
		MinQty:      rules.MinQty.InexactFloat64(),
		MaxQty:      rules.MaxQty.InexactFloat64(),
		MinNotional: rules.MinNotional.InexactFloat64(),
	}
	out, err := yaml.Marshal(map[string]map[string]config.SymbolConfig{
		"symbols": {rules.Symbol: sc},
	})
	if err != nil {
		log.Fatalf("序列化失败: %v", err)
	}
	fmt.Print(string(out))
}
