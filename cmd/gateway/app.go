package main

import (
	"fmt"
	"log/slog"

	"github.com/angeloszaimis/ocr-gateway/config"
	"github.com/angeloszaimis/ocr-gateway/internal/backend"
	"github.com/angeloszaimis/ocr-gateway/internal/handler"
	"github.com/angeloszaimis/ocr-gateway/internal/healthcheck"
	"github.com/angeloszaimis/ocr-gateway/internal/metrics"
	"github.com/angeloszaimis/ocr-gateway/internal/router"
)

// app holds the wired components of one gateway process.
type app struct {
	cfg       *config.Config
	log       *slog.Logger
	registry  *backend.Registry
	table     *healthcheck.Table
	monitor   *healthcheck.Monitor
	collector *metrics.Collector
	router    *router.Router
	handler   *handler.OCRHandler
}

func initializeBackends(cfg *config.Config) (*backend.Registry, error) {
	descriptors := make([]*backend.Descriptor, 0, len(cfg.Backends))

	for _, bc := range cfg.Backends {
		d, err := backend.New(backend.Settings{
			ID:          bc.ID,
			URL:         bc.URL,
			HealthPath:  bc.Endpoints.Health,
			ImagePath:   bc.Endpoints.ImageOCR,
			PDFPath:     bc.Endpoints.PDFOCR,
			Description: bc.Description,
			GPU:         bc.GPU,
			Format:      bc.Format,
		})
		if err != nil {
			return nil, err
		}
		descriptors = append(descriptors, d)
	}

	return backend.NewRegistry(descriptors...)
}

func newApp(cfg *config.Config, log *slog.Logger) (*app, error) {
	registry, err := initializeBackends(cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize backends: %w", err)
	}

	table := healthcheck.NewTable(registry.IDs()...)
	collector := metrics.NewCollector(cfg.Metrics.BufferSize, log)

	monitor := healthcheck.NewMonitor(log, registry, table, healthcheck.Options{
		Interval:       cfg.HealthCheck.Interval,
		Timeout:        cfg.HealthCheck.Timeout,
		ConnectTimeout: cfg.Timeouts.Connection,
		Thresholds: healthcheck.Thresholds{
			Failure: cfg.HealthCheck.FailureThreshold,
			Success: cfg.HealthCheck.SuccessThreshold,
		},
	}, collector)

	rt := router.New(log, registry, monitor, router.Options{
		RequestTimeout: cfg.Timeouts.OCRRequest,
		ConnectTimeout: cfg.Timeouts.Connection,
		TempDir:        cfg.Server.TempDir,
		Overlay:        cfg.Overlay.Enabled,
	}, collector)

	h := handler.NewOCRHandler(log, rt, registry, table, handler.Options{
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	})

	return &app{
		cfg:       cfg,
		log:       log,
		registry:  registry,
		table:     table,
		monitor:   monitor,
		collector: collector,
		router:    rt,
		handler:   h,
	}, nil
}
