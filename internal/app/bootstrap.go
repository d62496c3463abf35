package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"tinybtc/internal/domain"
	"tinybtc/internal/infra"
	"tinybtc/internal/server"
	"tinybtc/internal/service"
)

// Options are command-line overrides applied on top of the config file.
type Options struct {
	ConfigPath string
	Timeframe  string // empty keeps the configured value
	Addr       string // empty keeps the configured value
	NoServer   bool
}

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config      *infra.Config
	Metrics     *infra.Metrics
	Client      *service.MarketClient
	Reconnector *service.Reconnector
	Server      *server.Server
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads configuration, installs the logger and builds every component.
// Nothing connects yet.
func (b *Bootstrap) Initialize(opts Options) error {
	// 1. Load Config
	cfg, err := infra.LoadConfig(opts.ConfigPath)
	if err != nil {
		return err
	}
	if opts.Timeframe != "" {
		cfg.Chart.Timeframe = opts.Timeframe
	}
	if opts.Addr != "" {
		cfg.Server.Enabled = true
		cfg.Server.Addr = opts.Addr
	}
	if opts.NoServer {
		cfg.Server.Enabled = false
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	b.Config = cfg

	// 2. Setup Logger
	slog.SetDefault(infra.NewLogger(cfg))
	slog.Info("Bootstrapping tinybtc",
		slog.String("symbol", cfg.Feed.Symbol),
		slog.String("timeframe", cfg.Chart.Timeframe),
	)

	// 3. Market client
	tf, _ := domain.ParseTimeframe(cfg.Chart.Timeframe)
	keep, _ := domain.ParseKeepPolicy(cfg.Chart.Keep)
	b.Metrics = infra.NewMetrics()
	b.Client = service.NewMarketClient(service.MarketConfig{
		URL:            cfg.Feed.WSURL,
		Symbol:         cfg.Feed.Symbol,
		Timeframe:      tf,
		WindowCapacity: cfg.Chart.Capacity,
		Keep:           keep,
		ConnectTimeout: cfg.ConnectTimeout(),
		WriteTimeout:   cfg.WriteTimeout(),
		QueueSize:      cfg.Feed.QueueSize,
	}, service.WithMetrics(b.Metrics))
	b.Reconnector = service.NewReconnector(b.Client, cfg.RetryGrace(), service.RealClock(), b.Metrics)

	// 4. Control surface
	if cfg.Server.Enabled {
		b.Server = server.New(server.Config{
			Addr:  cfg.Server.Addr,
			Debug: cfg.Logging.Level == "debug",
		}, b.Client, b.Reconnector)
	}

	return nil
}

// Run connects both channels and serves until ctx ends, then disconnects.
func (b *Bootstrap) Run(ctx context.Context) error {
	if err := b.Client.ConnectAll(ctx); err != nil {
		return err
	}
	defer b.Client.DisconnectAll()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errc := make(chan error, 1)

	if b.Server != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := b.Server.Run(ctx); err != nil {
				errc <- err
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		b.reportStatus(ctx, b.Config.UpdateInterval())
	}()

	slog.InfoContext(ctx, "tinybtc running. Press Ctrl+C to exit.")

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errc:
		slog.Error("Control surface failed", slog.Any("error", runErr))
		cancel()
	}

	wg.Wait()
	return runErr
}

// reportStatus logs the one-line summary whenever it changes, checked once per interval.
func (b *Bootstrap) reportStatus(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last string
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := b.Client.Snapshot()
			line := snap.MenuLabel()
			status := snap.StatusText()
			if line+status == last {
				continue
			}
			last = line + status
			slog.Info("Market",
				slog.String("summary", line),
				slog.String("status", status),
				slog.Int("candles", len(snap.Candles)),
				slog.String("timeframe", snap.Timeframe.Label()),
			)
		}
	}
}
