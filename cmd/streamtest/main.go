// streamtest connects to the price feed and streams decoded prices, alerts
// and connection status to the console.
// Usage: go run ./cmd/streamtest --assets bitcoin,ethereum
//
// Optional environment variables:
//
//	COINCAP_API_KEY - Feed credential sent after the socket opens
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rickgao/pricepulse/internal/alert"
	"github.com/rickgao/pricepulse/internal/api"
	"github.com/rickgao/pricepulse/internal/config"
	"github.com/rickgao/pricepulse/internal/connection"
	"github.com/rickgao/pricepulse/internal/market"
	"github.com/rickgao/pricepulse/internal/model"
	"github.com/rickgao/pricepulse/internal/notify"
	"github.com/rickgao/pricepulse/internal/router"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults when empty)")
	assets := flag.String("assets", "", "comma separated assets, overrides feed.assets")
	verbose := flag.Bool("verbose", false, "print full record JSON")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	// Load config
	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadWithDefaults(*configPath)
		if err != nil {
			logger.Error("failed to load config", "error", err)
			os.Exit(1)
		}
	}
	if *assets != "" {
		cfg.Feed.Assets = strings.Split(*assets, ",")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	store := market.NewStore(cfg.Feed.Assets)
	notifications := notify.NewLog(logger)
	generator := alert.NewGenerator(alert.Config{
		ThresholdPct:  cfg.Alerts.PriceThresholdPct,
		MajorMovePct:  cfg.Alerts.MajorMovePct,
		MinInterval:   cfg.Alerts.MinInterval,
		RatePerMinute: cfg.Alerts.RatePerMinute,
		Burst:         cfg.Alerts.Burst,
	}, notifications, logger)
	rtr := router.NewRouter(router.RouterConfig{}, store, logger, generator)

	connCfg := connection.DefaultManagerConfig()
	connCfg.WSURL = cfg.Feed.WSURL
	connCfg.APIKey = cfg.Feed.APIKey
	connCfg.Assets = cfg.Feed.Assets
	connCfg.MaxReconnectAttempts = cfg.Feed.MaxReconnectAttempts
	connCfg.ReconnectDelay = cfg.Feed.ReconnectDelay
	connCfg.WeatherInterval = 0

	connMgr := connection.NewManager(connCfg, rtr, logger)

	logger.Info("starting connection manager", "url", connCfg.WSURL, "assets", connCfg.Assets)
	if err := connMgr.Start(ctx); err != nil {
		logger.Error("failed to start connection manager", "error", err)
		os.Exit(1)
	}

	// Start console printers
	prices, cancelPrices := store.Subscribe(256)
	defer cancelPrices()
	alerts, cancelAlerts := notifications.Subscribe(16)
	defer cancelAlerts()
	statuses, cancelStatus := connMgr.Subscribe()
	defer cancelStatus()

	go printPrices(ctx, prices, *verbose)
	go printAlerts(ctx, alerts)
	go printStatus(ctx, statuses)

	// Seed from the market snapshot so the first update reports a change.
	cryptoClient := api.NewCryptoClient(cfg.API.CryptoURL, cfg.API.CryptoAPIKey,
		api.WithLogger(logger),
		api.WithRetries(0, time.Second),
	)
	seedCtx, seedCancel := context.WithTimeout(ctx, cfg.API.Timeout)
	if markets, err := cryptoClient.Markets(seedCtx, cfg.Feed.Assets); err != nil {
		logger.Warn("failed to seed prices", "error", err)
	} else {
		logger.Info("seeded starting prices", "assets", store.Seed(markets, time.Now()))
	}
	seedCancel()

	if err := connMgr.Connect(ctx); err != nil {
		logger.Error("failed to connect", "error", err)
		os.Exit(1)
	}

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := rtr.Stats()
				status := connMgr.Status()
				logger.Info("stats",
					"state", status.State,
					"attempts", status.Attempts,
					"frames", stats.FramesReceived,
					"frame_errors", stats.FrameErrors,
					"applied", stats.PricesApplied,
					"skipped", stats.PricesSkipped,
					"untracked", stats.PricesUntracked,
					"alerts", notifications.Len(),
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")

	// Wait for shutdown
	<-ctx.Done()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	connMgr.Stop(shutdownCtx)
	rtr.Close()

	logger.Info("shutdown complete")
}

func printPrices(ctx context.Context, ch <-chan model.PriceRecord, verbose bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-ch:
			if verbose {
				data, _ := json.MarshalIndent(rec, "", "  ")
				fmt.Printf("[PRICE] %s\n", data)
				continue
			}
			if rec.HasChange {
				fmt.Printf("[PRICE] %s $%.2f (%+.2f, %+.2f%%)\n",
					rec.AssetID, rec.Current, rec.AbsoluteChange, rec.PercentChange)
			} else {
				fmt.Printf("[PRICE] %s $%.2f\n", rec.AssetID, rec.Current)
			}
		}
	}
}

func printAlerts(ctx context.Context, ch <-chan model.Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-ch:
			fmt.Printf("[ALERT] %s: %s\n", n.Title, n.Message)
		}
	}
}

func printStatus(ctx context.Context, ch <-chan model.Status) {
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-ch:
			if s.Error != "" {
				fmt.Printf("[STATUS] %s attempts=%d error=%q\n", s.State, s.Attempts, s.Error)
			} else {
				fmt.Printf("[STATUS] %s attempts=%d\n", s.State, s.Attempts)
			}
		}
	}
}
