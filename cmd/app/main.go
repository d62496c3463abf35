package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"tinybtc/internal/app"
	"tinybtc/internal/domain"

	"github.com/spf13/cobra"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tinybtc",
		Short:         "Live BTC/USD ticker and candle stream from Bitfinex",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newTimeframesCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var (
		opts  app.Options
		pprof string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the feed and serve the control surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			// 1. Pprof Server (for performance profiling)
			if pprof != "" {
				go func() {
					slog.Info("Pprof server started", slog.String("addr", pprof))
					if err := http.ListenAndServe(pprof, nil); err != nil {
						slog.Error("Pprof server failed", slog.Any("error", err))
					}
				}()
			}

			// 2. System Bootstrapping
			bootstrap := app.NewBootstrap()
			if err := bootstrap.Initialize(opts); err != nil {
				slog.Error("Bootstrapping failed", slog.Any("error", err))
				return err
			}

			// 3. Graceful Shutdown Context
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			err := bootstrap.Run(ctx)
			slog.Info("Shutting down gracefully...")
			return err
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.ConfigPath, "config", "c", "configs/config.yaml", "config file path")
	f.StringVarP(&opts.Timeframe, "timeframe", "t", "", "candle timeframe (1m, 15m, 30m, 1h, 6h, 12h)")
	f.StringVar(&opts.Addr, "addr", "", "control surface listen address (enables the server)")
	f.BoolVar(&opts.NoServer, "no-server", false, "disable the control surface")
	f.StringVar(&pprof, "pprof", "", "pprof listen address, e.g. localhost:6060")
	return cmd
}

func newTimeframesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "timeframes",
		Short: "List supported candle timeframes",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			for _, tf := range domain.Timeframes() {
				fmt.Fprintf(out, "%-4s %-5s %s\n", tf.Token(), tf.Label(), tf.Duration())
			}
		},
	}
}
