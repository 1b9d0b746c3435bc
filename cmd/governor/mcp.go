package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/pario-ai/governor/pkg/mcp"
)

func newMCPCmd() *cobra.Command {
	var configPath, metricsListen string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve governor tools to MCP clients over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(configPath)
			if err != nil {
				return fmt.Errorf("init governor: %w", err)
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a.cache.Start()
			go a.router.Run(ctx)

			if metricsListen == "" {
				metricsListen = a.cfg.Metrics.Listen
			}
			if metricsListen != "" {
				srv := serveMetrics(metricsListen, a)
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
			}

			srv := mcp.New(a.ledger, version,
				mcp.WithCache(a.cache),
				mcp.WithSavings(a.router),
				mcp.WithNudges(a.nudges),
				mcp.WithEvents(a.events),
				mcp.WithLogger(a.logger),
			)
			a.logger.Info().Str("db", a.cfg.DBPath).Msg("mcp server started")
			return srv.Run(ctx, os.Stdin, os.Stdout)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "address for the prometheus /metrics endpoint, e.g. :9090")
	return cmd
}

func serveMetrics(addr string, a *app) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		a.logger.Info().Str("addr", addr).Msg("metrics endpoint listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error().Err(err).Msg("metrics endpoint")
		}
	}()
	return srv
}
