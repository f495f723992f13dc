package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/ocr-gateway/config"
	"github.com/angeloszaimis/ocr-gateway/internal/httpserver"
	"github.com/angeloszaimis/ocr-gateway/pkg/logger"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}

			log := logger.New(cfg.Logging.Level, cfg.Logging.AddSource, cfg.Server.Environment)

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(cfg, log)
			if err != nil {
				return err
			}
			return a.serve(ctx, nil)
		},
	}
}

// serverOptions lets a shutdown wait out the slowest OCR request, so handlers
// finish and remove their staged uploads before the process exits.
func serverOptions(cfg *config.Config) httpserver.Options {
	timeout := httpserver.WriteTimeoutFor(cfg.Timeouts.OCRRequest)
	return httpserver.Options{
		WriteTimeout:    timeout,
		ShutdownTimeout: timeout,
	}
}

// serve runs the collector, the health monitor and the HTTP server until ctx
// is cancelled or one of them fails. A nil listener means "listen on the
// configured address".
func (a *app) serve(ctx context.Context, ln net.Listener) error {
	srv, err := httpserver.New(a.cfg.Server.Address,
		setupRouter(a.log, a.handler, a.collector, a.cfg.CORS.AllowedOrigins),
		serverOptions(a.cfg))
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	a.collector.Start(ctx)

	g.Go(func() error {
		return a.monitor.Run(ctx)
	})

	g.Go(func() error {
		a.log.Info("Gateway listening",
			slog.String("address", a.cfg.Server.Address),
			slog.Any("backends", a.registry.IDs()))
		if ln != nil {
			return srv.Serve(ln)
		}
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		a.log.Info("Shutting down gracefully...")
		if err := srv.Shutdown(context.Background()); err != nil {
			a.log.Error("Error during shutdown", slog.Any("err", err))
			return err
		}
		return nil
	})

	return g.Wait()
}
