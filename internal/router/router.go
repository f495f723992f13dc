package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/angeloszaimis/ocr-gateway/internal/backend"
	"github.com/angeloszaimis/ocr-gateway/internal/contract"
	"github.com/angeloszaimis/ocr-gateway/internal/markup"
	"github.com/angeloszaimis/ocr-gateway/internal/metrics"
	"github.com/angeloszaimis/ocr-gateway/pkg/logger"
)

const (
	DefaultRequestTimeout = 120 * time.Second
	DefaultConnectTimeout = 5 * time.Second

	// SuggestedAction accompanies every BackendUnavailable answer.
	SuggestedAction = "Try again later or use the other backend"

	maxResponseBody = 256 << 20
	maxErrorExcerpt = 512
)

// HealthChecker reports the last computed health of a backend.
type HealthChecker interface {
	IsHealthy(id string) bool
}

// Options configures a Router. Zero values fall back to the defaults.
type Options struct {
	RequestTimeout time.Duration
	ConnectTimeout time.Duration
	TempDir        string
	Overlay        bool
}

type Router struct {
	logger    *slog.Logger
	registry  *backend.Registry
	health    HealthChecker
	client    *http.Client
	timeout   time.Duration
	tempDir   string
	overlay   bool
	collector *metrics.Collector
}

// New creates a router. collector may be nil.
func New(
	logger *slog.Logger,
	registry *backend.Registry,
	health HealthChecker,
	opts Options,
	collector *metrics.Collector,
) *Router {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}

	return &Router{
		logger:    logger,
		registry:  registry,
		health:    health,
		client:    backend.NewClient(opts.RequestTimeout, opts.ConnectTimeout),
		timeout:   opts.RequestTimeout,
		tempDir:   opts.TempDir,
		overlay:   opts.Overlay,
		collector: collector,
	}
}

// Route forwards req to its backend. The returned error is always a
// *contract.Error.
func (r *Router) Route(ctx context.Context, req *contract.OCRRequest) (*contract.UnifiedResponse, error) {
	start := req.ReceivedAt
	if start.IsZero() {
		start = time.Now()
	}
	log := logger.FromContext(ctx, r.logger).With(slog.String("backend", req.BackendID))

	d, err := r.validate(req)
	if err != nil {
		log.Info("Rejected invalid OCR request", slog.String("error", err.Error()))
		return nil, &contract.Error{
			Kind:    contract.KindValidation,
			Backend: req.BackendID,
			Message: "invalid request",
			Elapsed: time.Since(start),
			Err:     err,
		}
	}

	if !r.health.IsHealthy(d.ID) {
		log.Warn("Backend unavailable, request refused")
		r.collector.Emit(metrics.MetricEvent{Type: metrics.EventRequestRejected, Backend: d.ID})
		return nil, &contract.Error{
			Kind:            contract.KindBackendUnavailable,
			Backend:         d.ID,
			Message:         fmt.Sprintf("Backend %s is currently unavailable", d.ID),
			Elapsed:         time.Since(start),
			SuggestedAction: SuggestedAction,
		}
	}

	r.collector.Emit(metrics.MetricEvent{Type: metrics.EventRequestReceived, Backend: d.ID})

	res, err := r.dispatch(ctx, log, d, req, start)
	elapsed := time.Since(start)

	event := metrics.MetricEvent{
		Type:       metrics.EventResponseCompleted,
		Backend:    d.ID,
		Outcome:    metrics.OutcomeOK,
		Duration:   elapsed,
		StatusCode: http.StatusOK,
	}
	if err != nil {
		routeErr := contract.AsError(err, d.ID, elapsed)
		routeErr.Elapsed = elapsed
		event.Outcome = string(routeErr.Kind)
		event.StatusCode = routeErr.Kind.HTTPStatus()
		r.collector.Emit(event)

		log.Warn("OCR request failed",
			slog.String("kind", string(routeErr.Kind)),
			slog.Duration("elapsed", elapsed),
			slog.String("error", routeErr.Error()))
		return nil, routeErr
	}
	r.collector.Emit(event)

	log.Info("OCR request completed",
		slog.String("file_type", string(req.FileType)),
		slog.Duration("elapsed", elapsed))
	return res, nil
}

func (r *Router) validate(req *contract.OCRRequest) (*backend.Descriptor, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	d, err := r.registry.Lookup(req.BackendID)
	if err != nil {
		return nil, fmt.Errorf("%w, must be one of: %s", err, strings.Join(r.registry.IDs(), ", "))
	}
	return d, nil
}

// dispatch stages the payload, calls the backend and builds the response.
// The staged file is gone by the time it returns.
func (r *Router) dispatch(
	ctx context.Context,
	log *slog.Logger,
	d *backend.Descriptor,
	req *contract.OCRRequest,
	start time.Time,
) (*contract.UnifiedResponse, error) {
	staged, err := stage(r.tempDir, req)
	if err != nil {
		return nil, &contract.Error{
			Kind:    contract.KindTransport,
			Backend: d.ID,
			Message: "failed to stage upload",
			Err:     err,
		}
	}
	defer staged.remove(log)

	endpoint, err := d.OCRURL(req.FileType)
	if err != nil {
		return nil, err
	}

	status, body, err := r.forward(ctx, endpoint, req, staged)
	if err != nil {
		return nil, r.classify(ctx, d, err)
	}

	if status != http.StatusOK {
		return nil, &contract.Error{
			Kind:       contract.KindBackendProcessing,
			Backend:    d.ID,
			Message:    fmt.Sprintf("Backend error: %s", backendMessage(body)),
			StatusCode: status,
		}
	}

	var res contract.UnifiedResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, &contract.Error{
			Kind:       contract.KindBackendProcessing,
			Backend:    d.ID,
			Message:    "backend returned an invalid response body",
			StatusCode: status,
			Err:        err,
		}
	}

	if r.overlay {
		r.enrich(log, d, req.FileType, staged, &res)
	}

	res.Normalize(d.ID, d.Format, req.FileType, time.Since(start))
	if err := res.Validate(); err != nil {
		return nil, &contract.Error{
			Kind:       contract.KindBackendProcessing,
			Backend:    d.ID,
			Message:    "backend response failed validation",
			StatusCode: status,
			Err:        err,
		}
	}
	return &res, nil
}

// classify maps a failed backend call onto a timeout or transport error.
func (r *Router) classify(ctx context.Context, d *backend.Descriptor, err error) error {
	if isTimeout(err) {
		return &contract.Error{
			Kind:    contract.KindBackendTimeout,
			Backend: d.ID,
			Message: fmt.Sprintf("Backend %s timed out after %s", d.ID, r.timeout),
			Err:     err,
		}
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return &contract.Error{
			Kind:    contract.KindTransport,
			Backend: d.ID,
			Message: "request cancelled by client",
			Err:     err,
		}
	}
	return &contract.Error{
		Kind:    contract.KindTransport,
		Backend: d.ID,
		Message: fmt.Sprintf("error routing to backend %s", d.ID),
		Err:     err,
	}
}

// enrich derives markdown and the box overlay for deepseek image results the
// backend left incomplete. Markup errors leave the response untouched.
func (r *Router) enrich(
	log *slog.Logger,
	d *backend.Descriptor,
	fileType contract.FileType,
	staged *stagedFile,
	res *contract.UnifiedResponse,
) {
	if d.Format != contract.FormatDeepSeek || fileType != contract.FileTypeImage {
		return
	}
	raw := res.RawResult.DeepSeek.Text
	if raw == "" || (res.Markdown != "" && res.BoxesImage != "") {
		return
	}

	if res.Markdown == "" {
		md, err := markup.ExtractMarkdown(raw)
		if err != nil {
			log.Warn("Could not extract markdown", slog.String("error", err.Error()))
			return
		}
		res.Markdown = md
	}

	if res.BoxesImage == "" {
		f, err := os.Open(staged.path)
		if err != nil {
			log.Warn("Could not reopen staged image", slog.String("error", err.Error()))
			return
		}
		defer f.Close()

		encoded, err := markup.BoxesImage(f, raw)
		if err != nil {
			log.Warn("Could not draw detection boxes", slog.String("error", err.Error()))
			return
		}
		res.BoxesImage = encoded
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// backendMessage pulls the error text out of a backend failure body.
func backendMessage(body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}

	text := strings.TrimSpace(string(body))
	if text == "" {
		return "empty response"
	}
	if len(text) > maxErrorExcerpt {
		text = text[:maxErrorExcerpt] + "..."
	}
	return text
}

func readBody(res *http.Response) ([]byte, error) {
	return io.ReadAll(io.LimitReader(res.Body, maxResponseBody))
}
