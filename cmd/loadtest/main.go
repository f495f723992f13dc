// Loadtest sends concurrent OCR uploads through the gateway and reports
// status codes, error kinds and latency percentiles per backend.
//
// Usage:
//
//	go run ./cmd/loadtest -url http://localhost:8080 -file page.png -backends deepseek-ocr,mineru
//	go run ./cmd/loadtest -file scan.pdf -type pdf -pages 1,2 -requests 200 -concurrency 20 -out summary.json
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"
)

func main() {
	cfg := loadConfig{}
	var backends, outJSON string

	flag.StringVar(&cfg.URL, "url", "http://localhost:8080", "Gateway base URL")
	flag.StringVar(&cfg.File, "file", "", "File to upload")
	flag.StringVar(&cfg.FileType, "type", "image", "Upload type: image or pdf")
	flag.StringVar(&backends, "backends", "deepseek-ocr,mineru", "Backends to rotate through")
	flag.StringVar(&cfg.Prompt, "prompt", "", "Optional prompt")
	flag.StringVar(&cfg.Pages, "pages", "", "Optional pages, e.g. 1,2,5")
	flag.IntVar(&cfg.Requests, "requests", 100, "Total number of requests to send")
	flag.IntVar(&cfg.Concurrency, "concurrency", 10, "Number of concurrent workers")
	flag.DurationVar(&cfg.Timeout, "timeout", 150*time.Second, "Per-request timeout")
	flag.BoolVar(&cfg.Verbose, "v", false, "Verbose per-request logging to stdout")
	flag.StringVar(&outJSON, "out", "", "Write JSON summary to this file (optional)")
	flag.Parse()

	for _, b := range strings.Split(backends, ",") {
		if b = strings.TrimSpace(b); b != "" {
			cfg.Backends = append(cfg.Backends, b)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	rep, err := run(ctx, cfg, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loadtest: %v\n", err)
		os.Exit(1)
	}
	rep.print(os.Stdout)

	if outJSON != "" {
		f, err := os.Create(outJSON)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create json file: %v\n", err)
			os.Exit(1)
		}
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		enc.Encode(rep)
		f.Close()
		fmt.Printf("\nWrote JSON summary to %s\n", outJSON)
	}

	if rep.Failure > 0 {
		os.Exit(2)
	}
}
