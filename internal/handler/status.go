package handler

import (
	"net/http"
	"time"

	"github.com/angeloszaimis/ocr-gateway/internal/backend"
	"github.com/angeloszaimis/ocr-gateway/internal/healthcheck"
)

type orchestratorStatus struct {
	Healthy       bool    `json:"healthy"`
	Timestamp     float64 `json:"timestamp"`
	Version       string  `json:"version"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

type backendConfig struct {
	URL         string `json:"url"`
	Description string `json:"description"`
	GPU         string `json:"gpu"`
	Format      string `json:"format"`
}

type backendHealth struct {
	Healthy              bool          `json:"healthy"`
	LastCheck            *float64      `json:"last_check"`
	ConsecutiveFailures  int           `json:"consecutive_failures"`
	ConsecutiveSuccesses int           `json:"consecutive_successes"`
	Config               backendConfig `json:"config"`
}

type healthResponse struct {
	Status        healthcheck.Status       `json:"status"`
	Orchestrator  orchestratorStatus       `json:"orchestrator"`
	Backends      map[string]backendHealth `json:"backends"`
	SystemSummary healthcheck.Summary      `json:"system_summary"`
}

type backendEndpoints struct {
	Health   string `json:"health"`
	ImageOCR string `json:"image_ocr"`
	PDFOCR   string `json:"pdf_ocr"`
}

type backendInfo struct {
	Description string           `json:"description"`
	GPU         string           `json:"gpu"`
	Format      string           `json:"format"`
	Healthy     bool             `json:"healthy"`
	Endpoints   backendEndpoints `json:"endpoints"`
	LastCheck   *float64         `json:"last_check"`
}

type backendsResponse struct {
	AvailableBackends []string               `json:"available_backends"`
	Backends          map[string]backendInfo `json:"backends"`
	Timestamp         float64                `json:"timestamp"`
}

// Health serves GET /health. It reads the health table and never polls.
func (h *OCRHandler) Health(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	snaps := h.health.Snapshots()
	status, summary := healthcheck.Aggregate(snaps)

	backends := make(map[string]backendHealth, len(snaps))
	for _, s := range snaps {
		entry := backendHealth{
			Healthy:              s.Healthy,
			LastCheck:            unixSeconds(s.LastCheck),
			ConsecutiveFailures:  s.ConsecutiveFailures,
			ConsecutiveSuccesses: s.ConsecutiveSuccesses,
		}
		if d, ok := h.registry.Get(s.BackendID); ok {
			entry.Config = configOf(d)
		}
		backends[s.BackendID] = entry
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status: status,
		Orchestrator: orchestratorStatus{
			Healthy:       true,
			Timestamp:     *unixSeconds(now),
			Version:       h.version,
			UptimeSeconds: now.Sub(h.started).Seconds(),
		},
		Backends:      backends,
		SystemSummary: summary,
	})
}

// Backends serves GET /backends.
func (h *OCRHandler) Backends(w http.ResponseWriter, r *http.Request) {
	snaps := make(map[string]healthcheck.Snapshot)
	for _, s := range h.health.Snapshots() {
		snaps[s.BackendID] = s
	}

	infos := make(map[string]backendInfo, h.registry.Len())
	for _, d := range h.registry.All() {
		s := snaps[d.ID]
		infos[d.ID] = backendInfo{
			Description: d.Description,
			GPU:         d.GPU,
			Format:      string(d.Format),
			Healthy:     s.Healthy,
			Endpoints: backendEndpoints{
				Health:   d.HealthURL(),
				ImageOCR: d.ImageURL(),
				PDFOCR:   d.PDFURL(),
			},
			LastCheck: unixSeconds(s.LastCheck),
		}
	}

	writeJSON(w, http.StatusOK, backendsResponse{
		AvailableBackends: h.registry.IDs(),
		Backends:          infos,
		Timestamp:         *unixSeconds(time.Now()),
	})
}

func configOf(d *backend.Descriptor) backendConfig {
	return backendConfig{
		URL:         d.BaseURL.String(),
		Description: d.Description,
		GPU:         d.GPU,
		Format:      string(d.Format),
	}
}

// unixSeconds renders t as fractional epoch seconds, or nil for "never".
func unixSeconds(t time.Time) *float64 {
	if t.IsZero() {
		return nil
	}
	secs := float64(t.UnixNano()) / float64(time.Second)
	return &secs
}
