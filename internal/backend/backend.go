package backend

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/angeloszaimis/ocr-gateway/internal/contract"
)

var (
	ErrUnknownBackend   = errors.New("unknown backend")
	ErrDuplicateBackend = errors.New("duplicate backend id")
	ErrNoBackends       = errors.New("no backends configured")
)

const (
	DefaultHealthPath = "/health"
	DefaultImagePath  = "/ocr/image"
	DefaultPDFPath    = "/ocr/pdf"
)

// Descriptor describes one GPU-pinned OCR backend.
type Descriptor struct {
	ID          string
	BaseURL     *url.URL
	HealthPath  string
	ImagePath   string
	PDFPath     string
	Description string
	GPU         string
	Format      contract.Format
}

// Settings is the raw material for a Descriptor, usually straight from config.
type Settings struct {
	ID          string
	URL         string
	HealthPath  string
	ImagePath   string
	PDFPath     string
	Description string
	GPU         string
	Format      string
}

// New parses s into a Descriptor, defaulting empty endpoint paths.
func New(s Settings) (*Descriptor, error) {
	if strings.TrimSpace(s.ID) == "" {
		return nil, errors.New("backend id is required")
	}

	u, err := url.Parse(s.URL)
	if err != nil {
		return nil, fmt.Errorf("backend %s: parse url: %w", s.ID, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("backend %s: url %q must be absolute", s.ID, s.URL)
	}

	format := contract.Format(s.Format)
	if format != contract.FormatDeepSeek && format != contract.FormatMinerU {
		return nil, fmt.Errorf("backend %s: unknown result format %q", s.ID, s.Format)
	}

	return &Descriptor{
		ID:          s.ID,
		BaseURL:     u,
		HealthPath:  orDefault(s.HealthPath, DefaultHealthPath),
		ImagePath:   orDefault(s.ImagePath, DefaultImagePath),
		PDFPath:     orDefault(s.PDFPath, DefaultPDFPath),
		Description: s.Description,
		GPU:         s.GPU,
		Format:      format,
	}, nil
}

// HealthURL returns the absolute URL of the health endpoint.
func (d *Descriptor) HealthURL() string {
	return d.resolve(d.HealthPath)
}

// ImageURL returns the absolute URL of the image OCR endpoint.
func (d *Descriptor) ImageURL() string {
	return d.resolve(d.ImagePath)
}

// PDFURL returns the absolute URL of the pdf OCR endpoint.
func (d *Descriptor) PDFURL() string {
	return d.resolve(d.PDFPath)
}

// OCRURL returns the endpoint serving fileType.
func (d *Descriptor) OCRURL(fileType contract.FileType) (string, error) {
	switch fileType {
	case contract.FileTypeImage:
		return d.ImageURL(), nil
	case contract.FileTypePDF:
		return d.PDFURL(), nil
	default:
		return "", fmt.Errorf("unsupported file type %q", fileType)
	}
}

// resolve appends path to the base URL, keeping any base path prefix.
func (d *Descriptor) resolve(path string) string {
	return d.BaseURL.JoinPath(path).String()
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
