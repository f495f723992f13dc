package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/angeloszaimis/ocr-gateway/internal/backend"
	"github.com/angeloszaimis/ocr-gateway/internal/contract"
	"github.com/angeloszaimis/ocr-gateway/internal/healthcheck"
	"github.com/angeloszaimis/ocr-gateway/pkg/logger"
)

const (
	DefaultMaxUploadBytes = 100 << 20
	Version               = "1.0.0"

	// Parts above this size spill to disk during multipart parsing.
	multipartMemory = 10 << 20
)

// Router forwards one OCR request to a backend.
type Router interface {
	Route(ctx context.Context, req *contract.OCRRequest) (*contract.UnifiedResponse, error)
}

// HealthView lists the current health records.
type HealthView interface {
	Snapshots() []healthcheck.Snapshot
}

type Options struct {
	MaxUploadBytes int64
	Version        string
}

type OCRHandler struct {
	logger    *slog.Logger
	router    Router
	registry  *backend.Registry
	health    HealthView
	maxUpload int64
	version   string
	started   time.Time
}

func NewOCRHandler(
	logger *slog.Logger,
	router Router,
	registry *backend.Registry,
	health HealthView,
	opts Options,
) *OCRHandler {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if opts.Version == "" {
		opts.Version = Version
	}

	return &OCRHandler{
		logger:    logger,
		router:    router,
		registry:  registry,
		health:    health,
		maxUpload: opts.MaxUploadBytes,
		version:   opts.Version,
		started:   time.Now(),
	}
}

// Image serves POST /ocr/image.
func (h *OCRHandler) Image(w http.ResponseWriter, r *http.Request) {
	h.serveOCR(w, r, contract.FileTypeImage)
}

// PDF serves POST /ocr/pdf.
func (h *OCRHandler) PDF(w http.ResponseWriter, r *http.Request) {
	h.serveOCR(w, r, contract.FileTypePDF)
}

func (h *OCRHandler) serveOCR(w http.ResponseWriter, r *http.Request, fileType contract.FileType) {
	received := time.Now()
	log := logger.FromContext(r.Context(), h.logger)

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		log.Info("Could not parse upload", slog.String("error", err.Error()))
		writeError(w, h.invalid("", received, parseFailure(err, h.maxUpload)))
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			log.Error("Failed to remove multipart files", slog.String("error", err.Error()))
		}
	}()

	backendID := strings.TrimSpace(r.FormValue("backend"))

	pages, err := parsePages(r.MultipartForm.Value["pages"])
	if err != nil {
		writeError(w, h.invalid(backendID, received, err))
		return
	}

	req := &contract.OCRRequest{
		BackendID:  backendID,
		FileType:   fileType,
		Prompt:     r.FormValue("prompt"),
		Pages:      pages,
		ReceivedAt: received,
	}

	file, header, err := r.FormFile(string(fileType))
	switch {
	case errors.Is(err, http.ErrMissingFile):
		// Left nil; the router reports the missing file.
	case err != nil:
		writeError(w, h.invalid(backendID, received, err))
		return
	default:
		defer file.Close()
		req.Payload = file
		req.FileName = header.Filename
		req.ContentType = header.Header.Get("Content-Type")
	}

	res, err := h.router.Route(r.Context(), req)
	if err != nil {
		writeError(w, contract.AsError(err, backendID, time.Since(received)))
		return
	}

	w.Header().Set("X-Backend-Server", res.Backend)
	writeJSON(w, http.StatusOK, res)
}

func (h *OCRHandler) invalid(backendID string, received time.Time, err error) *contract.Error {
	return &contract.Error{
		Kind:    contract.KindValidation,
		Backend: backendID,
		Message: "invalid request",
		Elapsed: time.Since(received),
		Err:     err,
	}
}

func parseFailure(err error, limit int64) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return fmt.Errorf("upload exceeds %d bytes", limit)
	}
	if errors.Is(err, http.ErrNotMultipart) || errors.Is(err, multipart.ErrMessageTooLarge) {
		return err
	}
	return fmt.Errorf("malformed multipart body: %w", err)
}

// parsePages accepts repeated fields, comma lists and JSON arrays, or any mix
// of them.
func parsePages(values []string) ([]int, error) {
	var pages []int
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}

		if strings.HasPrefix(v, "[") {
			var list []int
			if err := json.Unmarshal([]byte(v), &list); err != nil {
				return nil, fmt.Errorf("pages: malformed list %q", v)
			}
			pages = append(pages, list...)
			continue
		}

		for _, item := range strings.Split(v, ",") {
			item = strings.TrimSpace(item)
			if item == "" {
				continue
			}
			n, err := strconv.Atoi(item)
			if err != nil {
				return nil, fmt.Errorf("pages: %q is not a page number", item)
			}
			pages = append(pages, n)
		}
	}
	return pages, nil
}
