// dashboard streams live crypto prices, raises price and weather alerts, and
// serves the dashboard API with a push channel for browsers.
//
// Usage: go run ./cmd/dashboard --config configs/dashboard.example.yaml
//
// Credentials are read from the environment (or a .env file):
//
//	COINCAP_API_KEY      - Optional feed credential sent after the socket opens
//	OPENWEATHER_API_KEY  - Enables /weather and the weather poller
//	NEWSDATA_API_KEY     - Enables /news
//	COINGECKO_API_KEY    - Optional demo key for /crypto and price seeding
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/rickgao/pricepulse/internal/alert"
	"github.com/rickgao/pricepulse/internal/api"
	"github.com/rickgao/pricepulse/internal/cache"
	"github.com/rickgao/pricepulse/internal/config"
	"github.com/rickgao/pricepulse/internal/connection"
	"github.com/rickgao/pricepulse/internal/database"
	"github.com/rickgao/pricepulse/internal/market"
	"github.com/rickgao/pricepulse/internal/metrics"
	"github.com/rickgao/pricepulse/internal/model"
	"github.com/rickgao/pricepulse/internal/notify"
	"github.com/rickgao/pricepulse/internal/poller"
	"github.com/rickgao/pricepulse/internal/router"
	"github.com/rickgao/pricepulse/internal/server"
	"github.com/rickgao/pricepulse/internal/version"
	"github.com/rickgao/pricepulse/internal/writer"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults and environment when empty)")
	envFile := flag.String("env", ".env", "dotenv file with credentials")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	// Credentials may come from a .env file; a missing file is fine.
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load %s: %v\n", *envFile, err)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := cfg.Log.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	logger.Info("starting dashboard",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"instance_id", cfg.Instance.ID,
	)

	metrics.Init()

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Optional archive database
	var pool *pgxpool.Pool
	if cfg.Database.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Database.Timescale.Host,
			"port", cfg.Database.Timescale.Port,
			"database", cfg.Database.Timescale.Name,
		)
		pool, err = database.Open(ctx, cfg.Database.Timescale)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		logger.Info("database connected")
	}

	// Response cache for the upstream proxies
	respCache := cache.Open(ctx, cfg.Cache, logger)
	defer respCache.Close()

	// Notification log, archived when the database is enabled
	logOpts := []notify.Option{notify.WithCapacity(cfg.Notifications.Capacity)}
	var notifBuf *router.GrowableBuffer[model.Notification]
	if pool != nil {
		notifBuf = router.NewBoundedBuffer[model.Notification](cfg.Writers.BatchSize, cfg.Writers.BufferSize)
		logOpts = append(logOpts, notify.WithSink(notifBuf))
	}
	notifications := notify.NewLog(logger.With("component", "notifications"), logOpts...)

	// Price state and alerts
	store := market.NewStore(cfg.Feed.Assets)
	generator := alert.NewGenerator(alert.Config{
		ThresholdPct:  cfg.Alerts.PriceThresholdPct,
		MajorMovePct:  cfg.Alerts.MajorMovePct,
		MinInterval:   cfg.Alerts.MinInterval,
		RatePerMinute: cfg.Alerts.RatePerMinute,
		Burst:         cfg.Alerts.Burst,
	}, notifications, logger.With("component", "alerts"))

	routerCfg := router.RouterConfig{}
	if pool != nil {
		routerCfg.ArchiveBufferSize = cfg.Writers.BatchSize
		routerCfg.ArchiveMaxSize = cfg.Writers.BufferSize
	}
	rtr := router.NewRouter(routerCfg, store, logger.With("component", "router"), generator)

	// Upstream REST clients
	weatherClient := api.NewWeatherClient(cfg.API.WeatherURL, cfg.API.WeatherAPIKey,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, time.Second),
	)
	newsClient := api.NewNewsClient(cfg.API.NewsURL, cfg.API.NewsAPIKey,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, time.Second),
	)
	cryptoClient := api.NewCryptoClient(cfg.API.CryptoURL, cfg.API.CryptoAPIKey,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, time.Second),
	)

	// The server is created below; the poller pushes refreshed snapshots
	// through it.
	var srv *server.Server

	var cities alert.CitySource = alert.StaticCities(cfg.API.Cities)
	var weatherPoller *poller.Poller
	if weatherClient.Configured() {
		weatherPoller = poller.New(poller.Config{
			Interval: cfg.Poller.Interval,
			Timeout:  cfg.Poller.Timeout,
			Cities:   cfg.API.Cities,
		}, weatherClient, poller.SnapshotHandlerFunc(func(c []model.WeatherCity) {
			srv.HandleWeather(c)
		}), logger.With("component", "weather_poller"))
		cities = weatherPoller
	} else {
		logger.Warn("OpenWeather API key not configured, weather proxy disabled")
	}

	// Connection manager
	mgrCfg := connection.ManagerConfig{
		WSURL:                cfg.Feed.WSURL,
		APIKey:               cfg.Feed.APIKey,
		Assets:               cfg.Feed.Assets,
		MaxReconnectAttempts: cfg.Feed.MaxReconnectAttempts,
		ReconnectDelay:       cfg.Feed.ReconnectDelay,
		ExponentialBackoff:   cfg.Feed.ReconnectBackoff == "exponential",
		ReconnectMaxDelay:    cfg.Feed.ReconnectMaxDelay,
		PingTimeout:          cfg.Feed.PingTimeout,
		WriteTimeout:         cfg.Feed.WriteTimeout,
		BufferSize:           cfg.Feed.BufferSize,
	}
	var mgrOpts []connection.ManagerOption
	if cfg.Alerts.WeatherAlertsEnabled() {
		mgrCfg.WeatherInterval = cfg.Alerts.WeatherInterval
		sim := alert.NewWeatherSimulator(cfg.Alerts.WeatherProbability, cities, notifications, nil,
			logger.With("component", "weather_alerts"))
		mgrOpts = append(mgrOpts, connection.WithTickHandler(sim))
	}
	connMgr := connection.NewManager(mgrCfg, rtr, logger.With("component", "connection"), mgrOpts...)

	// HTTP API and push hub
	deps := server.Deps{
		Stream:        connMgr,
		Prices:        store,
		Notifications: notifications,
		Weather:       weatherClient,
		News:          newsClient,
		Markets:       cryptoClient,
		Cache:         respCache,
	}
	if weatherPoller != nil {
		deps.Snapshot = weatherPoller
	}
	srv = server.New(server.Config{
		Port:           cfg.Server.Port,
		Mode:           cfg.Server.Mode,
		MetricsPath:    cfg.Metrics.Path,
		Cities:         cfg.API.Cities,
		SnapshotMaxAge: 2 * cfg.Poller.Interval,
	}, deps, logger)

	// Archive writers
	var priceWriter *writer.PriceTickWriter
	var notifWriter *writer.NotificationWriter
	if pool != nil {
		writerCfg := writer.WriterConfig{
			BatchSize:     cfg.Writers.BatchSize,
			FlushInterval: cfg.Writers.FlushInterval,
			InstanceID:    cfg.Instance.ID,
		}
		priceWriter = writer.NewPriceTickWriter(writerCfg, rtr.Archive(), pool, logger)
		notifWriter = writer.NewNotificationWriter(writerCfg, notifBuf, pool, logger)

		if err := priceWriter.Start(ctx); err != nil {
			logger.Error("failed to start price writer", "error", err)
			os.Exit(1)
		}
		if err := notifWriter.Start(ctx); err != nil {
			logger.Error("failed to start notification writer", "error", err)
			os.Exit(1)
		}
	}

	if err := connMgr.Start(ctx); err != nil {
		logger.Error("failed to start connection manager", "error", err)
		os.Exit(1)
	}
	if err := srv.Start(ctx); err != nil {
		logger.Error("failed to start server", "error", err)
		os.Exit(1)
	}
	if weatherPoller != nil {
		if err := weatherPoller.Start(ctx); err != nil {
			logger.Error("failed to start weather poller", "error", err)
			os.Exit(1)
		}
	}

	// Starting prices from the REST snapshot give the first streamed update
	// a prior to compare against.
	seedPrices(ctx, cryptoClient, store, cfg.Feed.Assets, cfg.API.Timeout, logger)

	// The stream connects on startup; /api/stream/connect recovers from Failed.
	if err := connMgr.Connect(ctx); err != nil {
		logger.Error("failed to connect feed", "error", err)
	}

	logger.Info("dashboard running",
		"assets", connMgr.Assets(),
		"url", fmt.Sprintf("http://localhost:%d", cfg.Server.Port),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Warn("server shutdown", "error", err)
	}
	if weatherPoller != nil {
		weatherPoller.Stop(shutdownCtx)
	}
	if err := connMgr.Stop(shutdownCtx); err != nil {
		logger.Warn("connection manager shutdown", "error", err)
	}

	// Writers drain what the router and the log already buffered.
	rtr.Close()
	if notifBuf != nil {
		notifBuf.Close()
	}
	if priceWriter != nil {
		priceWriter.Stop(shutdownCtx)
		logWriterStats(logger, "price_ticks", priceWriter.Stats())
	}
	if notifWriter != nil {
		notifWriter.Stop(shutdownCtx)
		logWriterStats(logger, "notifications", notifWriter.Stats())
	}

	stats := rtr.Stats()
	logger.Info("dashboard stopped",
		"frames", stats.FramesReceived,
		"frame_errors", stats.FrameErrors,
		"prices_applied", stats.PricesApplied,
		"notifications", notifications.Len(),
	)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("validate config: %w", err)
		}
		return cfg, nil
	}
	return config.LoadAndValidate(path)
}

func seedPrices(ctx context.Context, client *api.CryptoClient, store *market.Store, ids []string, timeout time.Duration, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	markets, err := client.Markets(ctx, ids)
	if err != nil {
		logger.Warn("failed to seed prices, starting from zero", "error", err)
		return
	}
	logger.Info("seeded starting prices", "assets", store.Seed(markets, time.Now()))
}

func logWriterStats(logger *slog.Logger, name string, m writer.WriterMetrics) {
	logger.Info("writer stats",
		"writer", name,
		"inserts", m.Inserts,
		"conflicts", m.Conflicts,
		"errors", m.Errors,
		"flushes", m.Flushes,
	)
}
