package main

import (
	"log/slog"
	"net/http"

	"github.com/rs/cors"

	"github.com/angeloszaimis/ocr-gateway/internal/handler"
	"github.com/angeloszaimis/ocr-gateway/internal/metrics"
)

func setupRouter(
	log *slog.Logger,
	h *handler.OCRHandler,
	collector *metrics.Collector,
	allowedOrigins []string,
) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /ocr/image", h.Image)
	mux.HandleFunc("POST /ocr/pdf", h.PDF)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /backends", h.Backends)
	mux.HandleFunc("GET /metrics", collector.Handler())

	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", handler.RequestIDHeader},
		ExposedHeaders: []string{handler.RequestIDHeader, "X-Backend-Server"},
		MaxAge:         600,
	})

	return c.Handler(handler.RequestLogger(log)(mux))
}
