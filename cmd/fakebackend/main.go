// Fakebackend is a stand-in OCR backend for running the gateway locally.
// It implements the backend contract with canned results.
//
// Usage:
//
//	go run ./cmd/fakebackend -port 5000 -id deepseek-ocr -format deepseek
//	go run ./cmd/fakebackend -port 5001 -id mineru -format mineru -delay 2s -fail-rate 0.1
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/angeloszaimis/ocr-gateway/pkg/logger"
)

func main() {
	port := flag.Int("port", 5000, "port to listen on")
	id := flag.String("id", "deepseek-ocr", "backend id reported in responses")
	format := flag.String("format", "deepseek", "result format: deepseek or mineru")
	delay := flag.Duration("delay", 0, "artificial processing delay")
	failRate := flag.Float64("fail-rate", 0, "fraction of OCR requests answered with 500")
	loaded := flag.Bool("model-loaded", true, "report the model as loaded")
	flag.Parse()

	log := logger.New("info", false, "dev").With(slog.String("backend", *id))

	srv, err := newServer(serverOptions{
		ID:          *id,
		Format:      *format,
		Delay:       *delay,
		FailRate:    *failRate,
		ModelLoaded: *loaded,
	}, log)
	if err != nil {
		log.Error("Invalid options", slog.Any("err", err))
		os.Exit(1)
	}

	addr := fmt.Sprintf(":%d", *port)
	log.Info("Starting fake backend", slog.String("address", addr), slog.String("format", *format))

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 15 * time.Second,
	}
	if err := httpServer.ListenAndServe(); err != nil {
		log.Error("Server failed", slog.Any("err", err))
		os.Exit(1)
	}
}
