package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"go.uber.org/zap"

	"algo-exec-go/internal/container"
	"algo-exec-go/internal/engine"
	"algo-exec-go/strategy"
)

const pollEvery = 500 * time.Millisecond

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	keep := flag.Bool("keep", false, "策略结束后不退出，直到收到信号")
	var sf strategyFlags
	sf.register(flag.CommandLine)
	flag.Parse()

	c, err := container.New(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if err := c.Build(); err != nil {
		log.Fatalf("初始化失败: %v", err)
	}
	lg := c.Logger().Component("runner")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := c.Start(ctx); err != nil {
		lg.Fatal("start container failed", zap.Error(err))
	}
	notify(lg, daemon.SdNotifyReady)
	go watchdog(ctx, lg)

	id, err := launch(ctx, c.Engine(), sf)
	if err != nil {
		lg.Error("strategy not started", zap.String("kind", sf.kind), zap.Error(err))
	}
	if id != "" {
		lg.Info("strategy started", zap.String("strategy_id", id), zap.String("kind", sf.kind))
		follow(ctx, c.Engine(), id, *keep)
	}

	notify(lg, daemon.SdNotifyStopping)
	st := c.Engine().ReconcileStats()
	lg.Info("reconcile stats", zap.Int64("runs", st.TotalReconciliations), zap.Int64("drift_fixed", st.ConflictsResolved))
	if err := c.Stop(); err != nil {
		log.Printf("停止失败: %v", err)
	}
	if id != "" {
		if v, serr := c.Engine().Status(id); serr == nil {
			printView(v)
		}
	}
	if err != nil {
		os.Exit(1)
	}
}

func launch(ctx context.Context, eng *engine.Engine, sf strategyFlags) (string, error) {
	switch strategy.Kind(sf.kind) {
	case strategy.KindOCO:
		p, err := sf.oco()
		if err != nil {
			return "", err
		}
		return eng.StartOCO(ctx, p)
	case strategy.KindTWAP:
		p, err := sf.twap()
		if err != nil {
			return "", err
		}
		return eng.StartTWAP(ctx, p)
	case strategy.KindGrid:
		p, err := sf.grid()
		if err != nil {
			return "", err
		}
		return eng.StartGrid(ctx, p)
	default:
		return "", fmt.Errorf("unknown strategy kind %q", sf.kind)
	}
}

// follow 状态变化时打印快照，直到策略终态或收到信号。
func follow(ctx context.Context, eng *engine.Engine, id string, keep bool) {
	ticker := time.NewTicker(pollEvery)
	defer ticker.Stop()
	var last strategy.Status
	var filled string
	for {
		v, err := eng.Status(id)
		if err != nil {
			return
		}
		if v.Status != last || v.FilledQty.String() != filled {
			last, filled = v.Status, v.FilledQty.String()
			printView(v)
		}
		if v.Status.IsTerminal() && !keep {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func printView(v strategy.View) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Printf("marshal view: %v", err)
		return
	}
	fmt.Println(string(b))
}

func notify(lg *zap.Logger, state string) {
	if ok, err := daemon.SdNotify(false, state); err != nil {
		lg.Warn("sd_notify failed", zap.String("state", state), zap.Error(err))
	} else if ok {
		lg.Debug("sd_notify sent", zap.String("state", state))
	}
}

// watchdog 在 systemd 启用 WatchdogSec 时按一半间隔发送心跳。
func watchdog(ctx context.Context, lg *zap.Logger) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			notify(lg, daemon.SdNotifyWatchdog)
		}
	}
}
