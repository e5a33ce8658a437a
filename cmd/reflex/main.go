package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"

	"main/internal/gateway"
	"main/internal/ingest"
	"main/internal/ops"
	"main/internal/schema"
	"main/internal/sovereign"
)

const (
	exitClean = 0
	exitFault = 1
	exitKill  = 2
)

func main() {
	configPath := flag.String("config", "reflex.json", "Path to JSON config")
	modeFlag := flag.String("mode", "", "Override config mode: sim|shadow|live")
	flag.Parse()

	env := ops.LoadEnv()
	cfg, err := ops.Load(*configPath)
	if err != nil {
		logs.Errorf("config load failed: %+v", err)
		os.Exit(exitFault)
	}
	if *modeFlag != "" {
		mode := ops.ParseMode(*modeFlag)
		if mode == ops.ModeUnknown {
			logs.Errorf("unknown mode override: %q", *modeFlag)
			os.Exit(exitFault)
		}
		cfg.Mode = mode
	}
	if err := env.Check(cfg.Mode); err != nil {
		logs.Errorf("refusing to start: %+v", err)
		os.Exit(exitFault)
	}

	if addr := os.Getenv("PYROSCOPE_SERVER_ADDRESS"); addr != "" {
		if _, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "reflex",
			ServerAddress:   addr,
		}); err != nil {
			logs.Warnf("pyroscope start failed: %+v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	k, err := buildKernel(ctx, cfg, env)
	if err != nil {
		logs.Errorf("kernel build failed: %+v", err)
		os.Exit(exitFault)
	}

	os.Exit(run(ctx, stop, k))
}

func run(ctx context.Context, stop context.CancelFunc, k *kernel) int {
	logs.Infof("reflex starting: mode=%s symbol=%s", k.cfg.Mode, k.cfg.LiveSymbol)

	var wg sync.WaitGroup
	k.consume(ctx, &wg)

	switch k.cfg.Mode {
	case ops.ModeSimulation:
		wg.Add(1)
		go func() {
			defer wg.Done()
			simLoop(ctx, k)
		}()

	case ops.ModeShadow, ops.ModeLive:
		feed := ingest.NewFeed(ctx, ingest.FeedConfig{
			URL:        k.env.FeedURL,
			Pair:       k.cfg.LiveSymbol,
			StaleAfter: 60 * time.Second,
		}, k.metrics, k.offerTick, func() {
			// No ratchet here: the governor already refuses to act on
			// expired data, and a reconnect recovers silently.
			logs.Warn("feed stale, holding until data resumes")
		})
		if err := feed.Run(ctx); err != nil {
			logs.Errorf("feed start failed: %+v", err)
			return exitFault
		}
		defer feed.Close()
	}

	if k.cfg.Mode == ops.ModeLive {
		src, ok := k.venue.(ingest.AccountSource)
		if ok {
			rec := ingest.NewReconciler(ingest.ReconcilerConfig{}, src, k.exec.Ledger(), func() {
				if k.gov.Ratchet().Raise(schema.RatchetFreeze) {
					logs.Error("account drift detected, freezing")
				}
			})
			wg.Add(1)
			go func() {
				defer wg.Done()
				rec.Run(ctx)
			}()
		}

		// Resting makers fill between cycles; poll the venue so those
		// fills reach the ledger before reconciliation sees them as
		// drift.
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					k.exec.SyncOpenOrders(ctx, time.Now().UnixMicro())
				}
			}
		}()
	}

	if k.cfg.AdminSocket != "" {
		admin, err := sovereign.NewAdminServer(k.cfg.AdminSocket, k.plane)
		if err != nil {
			logs.Errorf("admin socket: %+v", err)
			return exitFault
		}
		go func() {
			if err := admin.Serve(ctx); err != nil {
				logs.Errorf("admin socket serve: %+v", err)
			}
		}()
	}

	gw := gateway.NewServer(gateway.Config{Listen: k.cfg.HTTPListen}, k.gatewayDeps())
	if err := gw.Start(ctx); err != nil {
		logs.Errorf("gateway start failed: %+v", err)
		return exitFault
	}

	code := exitClean
	select {
	case <-ctx.Done():
		logs.Info("shutdown signal received")
	case <-k.plane.Killed():
		logs.Error("sovereign kill completed, exiting")
		code = exitKill
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = gw.Shutdown(shutdownCtx)

	wg.Wait()
	if err := k.shutdown(); err != nil {
		logs.Errorf("shutdown fault: %+v", err)
		if code == exitClean {
			code = exitFault
		}
	}

	logs.Infof("reflex stopped: last gsid %d", k.gov.LastGSID())
	return code
}
