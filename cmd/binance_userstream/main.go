package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"algo-exec-go/config"
	"algo-exec-go/gateway"
	"algo-exec-go/infrastructure/logger"
	"algo-exec-go/order"
)

// 订阅用户数据流并打印回报，用于排查策略收不到成交的问题。
func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	symbols := flag.String("symbols", "BTCUSDT", "逗号分隔的交易对")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	lg, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("创建日志失败: %v", err)
	}
	defer lg.Close()
	zl := lg.Component("userstream")

	gw := cfg.Gateway
	client := gateway.NewBinance(gateway.BinanceConfig{
		APIKey:       gw.APIKey,
		APISecret:    gw.APISecret,
		RestURL:      gw.BaseURL,
		WSEndpoint:   gw.WSEndpoint,
		RecvWindowMs: gw.RecvWindowMs,
	}, nil, zl)
	client.OnReconnect = func() { zl.Warn("user stream reconnected, fills may have been missed") }
	defer client.UserStream.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	merged := make(chan order.FillEvent, 64)
	n := 0
	for _, s := range strings.Split(*symbols, ",") {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		ch, err := client.SubscribeFills(ctx, s)
		if err != nil {
			zl.Fatal("subscribe failed", zap.String("symbol", s), zap.Error(err))
		}
		n++
		go func(ch <-chan order.FillEvent) {
			for ev := range ch {
				select {
				case merged <- ev:
				case <-ctx.Done():
					return
				}
			}
		}(ch)
	}
	zl.Info("listening", zap.Int("symbols", n))

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-merged:
			fmt.Printf("%s %s client=%s order=%s status=%s filled=%s avg=%s\n",
				ev.Time.Format("15:04:05.000"), ev.Symbol, ev.ClientID, ev.OrderID, ev.Status, ev.FilledQty, ev.AvgPrice)
		}
	}
}
