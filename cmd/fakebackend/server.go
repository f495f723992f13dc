package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const sampleMarkup = "<|ref|>title<|/ref|><|det|>[[80,40,920,110]]<|/det|>\n" +
	"<|ref|>text<|/ref|><|det|>[[80,150,920,480]]<|/det|>\n" +
	"<|ref|>image<|/ref|><|det|>[[80,520,920,900]]<|/det|>"

type serverOptions struct {
	ID          string
	Format      string
	Delay       time.Duration
	FailRate    float64
	ModelLoaded bool
}

type server struct {
	opts   serverOptions
	logger *slog.Logger
	fail   func() bool
}

func newServer(opts serverOptions, log *slog.Logger) (*server, error) {
	if opts.Format != "deepseek" && opts.Format != "mineru" {
		return nil, fmt.Errorf("unknown format %q", opts.Format)
	}
	if opts.FailRate < 0 || opts.FailRate > 1 {
		return nil, fmt.Errorf("fail-rate must be between 0 and 1, got %v", opts.FailRate)
	}

	return &server{
		opts:   opts,
		logger: log,
		fail:   func() bool { return rand.Float64() < opts.FailRate },
	}, nil
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.health)
	mux.HandleFunc("POST /ocr/image", s.ocr("image"))
	mux.HandleFunc("POST /ocr/pdf", s.ocr("pdf"))
	return mux
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "healthy",
		"model_loaded":  s.opts.ModelLoaded,
		"gpu_available": false,
		"backend":       s.opts.ID,
		"timestamp":     float64(time.Now().UnixNano()) / float64(time.Second),
	})
}

func (s *server) ocr(field string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		if err := r.ParseMultipartForm(32 << 20); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid multipart body"})
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, header, err := r.FormFile(field)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": fmt.Sprintf("No %s file provided", field)})
			return
		}
		size, _ := io.Copy(io.Discard, file)
		file.Close()

		pages, err := atoiAll(r.MultipartForm.Value["pages"])
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}

		s.logger.Info("OCR request",
			slog.String("field", field),
			slog.String("file", header.Filename),
			slog.Int64("size", size),
			slog.String("prompt", r.FormValue("prompt")),
			slog.Any("pages", pages))

		if s.opts.Delay > 0 {
			select {
			case <-time.After(s.opts.Delay):
			case <-r.Context().Done():
				return
			}
		}

		if s.fail() {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "simulated failure"})
			return
		}

		resp := map[string]any{
			"success":         true,
			"backend":         s.opts.ID,
			"file_name":       header.Filename,
			"processing_time": time.Since(start).Seconds(),
		}
		if field == "image" {
			resp["raw_result"] = s.imageResult()
		} else {
			resp["raw_result"] = s.pdfResult(pages)
		}
		if s.opts.Format == "mineru" {
			resp["markdown"] = "# Sample document\n\nRecognized text."
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *server) imageResult() map[string]any {
	if s.opts.Format == "deepseek" {
		return map[string]any{"deepseek": sampleMarkup}
	}
	return map[string]any{"mineru": map[string]any{
		"request_id": uuid.NewString(),
		"blocks": []map[string]any{
			{"type": "title", "text": "Sample document", "bbox": []int{80, 40, 920, 110}},
			{"type": "text", "text": "Recognized text.", "bbox": []int{80, 150, 920, 480}},
		},
	}}
}

func (s *server) pdfResult(pages []int) map[string]any {
	if len(pages) == 0 {
		pages = []int{1}
	}

	if s.opts.Format == "deepseek" {
		out := make([]map[string]any, 0, len(pages))
		for _, p := range pages {
			out = append(out, map[string]any{"page": p, "raw_output": sampleMarkup})
		}
		return map[string]any{"deepseek": map[string]any{
			"pages":           out,
			"total_pages":     pages[len(pages)-1],
			"processed_pages": pages,
		}}
	}
	return map[string]any{"mineru": map[string]any{
		"request_id": uuid.NewString(),
		"pages":      pages,
	}}
}

func atoiAll(values []string) ([]int, error) {
	out := make([]int, 0, len(values))
	for _, v := range values {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid page %q", v)
		}
		out = append(out, n)
	}
	return out, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
