package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

type loadConfig struct {
	URL         string
	File        string
	FileType    string
	Backends    []string
	Prompt      string
	Pages       string
	Requests    int
	Concurrency int
	Timeout     time.Duration
	Verbose     bool
}

type backendStats struct {
	Count     int            `json:"count"`
	Success   int            `json:"success"`
	Failure   int            `json:"failure"`
	Kinds     map[string]int `json:"kinds"`
	P50       float64        `json:"p50_ms"`
	P95       float64        `json:"p95_ms"`
	P99       float64        `json:"p99_ms"`
	latencies []time.Duration
}

type report struct {
	Target        string                   `json:"target"`
	Requests      int                      `json:"requests"`
	Concurrency   int                      `json:"concurrency"`
	Success       int                      `json:"success"`
	Failure       int                      `json:"failure"`
	DurationMS    int64                    `json:"duration_ms"`
	ThroughputRPS float64                  `json:"throughput_rps"`
	StatusCodes   map[int]int              `json:"status_codes"`
	Backends      map[string]*backendStats `json:"backends"`

	mu sync.Mutex
}

func (c loadConfig) validate() error {
	if c.File == "" {
		return errors.New("-file is required")
	}
	if c.FileType != "image" && c.FileType != "pdf" {
		return fmt.Errorf("-type must be image or pdf, got %q", c.FileType)
	}
	if len(c.Backends) == 0 {
		return errors.New("-backends must name at least one backend")
	}
	if c.Requests < 1 || c.Concurrency < 1 {
		return errors.New("-requests and -concurrency must be positive")
	}
	return nil
}

// run sends cfg.Requests uploads with cfg.Concurrency workers, rotating the
// target backend, and collects the results.
func run(ctx context.Context, cfg loadConfig, out io.Writer) (*report, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	payload, err := os.ReadFile(cfg.File)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	contentType := mimetype.Detect(payload).String()

	rep := &report{
		Target:      cfg.URL,
		Requests:    cfg.Requests,
		Concurrency: cfg.Concurrency,
		StatusCodes: make(map[int]int),
		Backends:    make(map[string]*backendStats),
	}
	client := &http.Client{Timeout: cfg.Timeout}
	endpoint := cfg.URL + "/ocr/" + cfg.FileType

	jobs := make(chan int)
	g, ctx := errgroup.WithContext(ctx)

	for w := 0; w < cfg.Concurrency; w++ {
		g.Go(func() error {
			for idx := range jobs {
				backendID := cfg.Backends[idx%len(cfg.Backends)]
				start := time.Now()
				status, kind, err := send(ctx, client, endpoint, cfg, backendID, payload, contentType)
				dur := time.Since(start)

				rep.record(backendID, status, kind, err, dur)
				if cfg.Verbose {
					fmt.Fprintf(out, "idx=%d backend=%s status=%d kind=%s dur=%v err=%v\n",
						idx, backendID, status, kind, dur, err)
				}
			}
			return nil
		})
	}

	testStart := time.Now()
	g.Go(func() error {
		defer close(jobs)
		for i := 0; i < cfg.Requests; i++ {
			select {
			case jobs <- i:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return nil, err
	}

	elapsed := time.Since(testStart)
	rep.DurationMS = elapsed.Milliseconds()
	rep.ThroughputRPS = float64(rep.Success+rep.Failure) / elapsed.Seconds()
	rep.finish()
	return rep, nil
}

func send(
	ctx context.Context,
	client *http.Client,
	endpoint string,
	cfg loadConfig,
	backendID string,
	payload []byte,
	contentType string,
) (int, string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, cfg.FileType, filepath.Base(cfg.File)))
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return 0, "", err
	}
	part.Write(payload)

	mw.WriteField("backend", backendID)
	if cfg.Prompt != "" {
		mw.WriteField("prompt", cfg.Prompt)
	}
	if cfg.Pages != "" {
		mw.WriteField("pages", cfg.Pages)
	}
	if err := mw.Close(); err != nil {
		return 0, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, "", nil
	}

	var failure struct {
		Kind string `json:"kind"`
	}
	json.NewDecoder(resp.Body).Decode(&failure)
	return resp.StatusCode, failure.Kind, nil
}

func (r *report) record(backendID string, status int, kind string, err error, dur time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bs, ok := r.Backends[backendID]
	if !ok {
		bs = &backendStats{Kinds: make(map[string]int)}
		r.Backends[backendID] = bs
	}
	bs.Count++
	bs.latencies = append(bs.latencies, dur)

	switch {
	case err != nil:
		bs.Failure++
		bs.Kinds["client_error"]++
		r.Failure++
	case status == http.StatusOK:
		bs.Success++
		r.Success++
		r.StatusCodes[status]++
	default:
		bs.Failure++
		if kind != "" {
			bs.Kinds[kind]++
		}
		r.Failure++
		r.StatusCodes[status]++
	}
}

func (r *report) finish() {
	for _, bs := range r.Backends {
		if len(bs.latencies) == 0 {
			continue
		}
		sort.Slice(bs.latencies, func(i, j int) bool { return bs.latencies[i] < bs.latencies[j] })
		pick := func(p float64) float64 {
			d := bs.latencies[int(float64(len(bs.latencies)-1)*p)]
			return float64(d.Microseconds()) / 1000.0
		}
		bs.P50 = pick(0.50)
		bs.P95 = pick(0.95)
		bs.P99 = pick(0.99)
	}
}

func (r *report) print(out io.Writer) {
	fmt.Fprintln(out, "--- Load Test Summary ---")
	fmt.Fprintf(out, "Target: %s\n", r.Target)
	fmt.Fprintf(out, "Requests: %d  Concurrency: %d\n", r.Requests, r.Concurrency)
	fmt.Fprintf(out, "Success: %d  Failure: %d\n", r.Success, r.Failure)
	fmt.Fprintf(out, "Duration: %dms  Throughput: %.2f req/s\n", r.DurationMS, r.ThroughputRPS)

	fmt.Fprintln(out, "\nStatus codes:")
	codes := make([]int, 0, len(r.StatusCodes))
	for c := range r.StatusCodes {
		codes = append(codes, c)
	}
	sort.Ints(codes)
	for _, c := range codes {
		fmt.Fprintf(out, "  %d -> %d\n", c, r.StatusCodes[c])
	}

	fmt.Fprintln(out, "\nBackends:")
	ids := make([]string, 0, len(r.Backends))
	for id := range r.Backends {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		bs := r.Backends[id]
		fmt.Fprintf(out, "  %s -> total=%d success=%d failure=%d p50=%.1fms p95=%.1fms p99=%.1fms\n",
			id, bs.Count, bs.Success, bs.Failure, bs.P50, bs.P95, bs.P99)
		for kind, n := range bs.Kinds {
			fmt.Fprintf(out, "    %s: %d\n", kind, n)
		}
	}
}
