package contract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// FileType identifies which upload part a request carries.
type FileType string

const (
	FileTypeImage FileType = "image"
	FileTypePDF   FileType = "pdf"
)

// Format identifies the raw_result slot a backend fills.
type Format string

const (
	FormatDeepSeek Format = "deepseek"
	FormatMinerU   Format = "mineru"
)

// OCRRequest is one inbound OCR call. Payload is read exactly once, when the
// router stages it to disk. ReceivedAt anchors processing_time; the zero value
// means "when routing starts".
type OCRRequest struct {
	BackendID   string
	FileType    FileType
	FileName    string
	ContentType string
	Payload     io.Reader
	Prompt      string
	Pages       []int
	ReceivedAt  time.Time
}

// UnifiedResponse is the canonical success document.
type UnifiedResponse struct {
	Success        bool      `json:"success"`
	Backend        string    `json:"backend"`
	RawResult      RawResult `json:"raw_result"`
	Markdown       string    `json:"markdown"`
	SourceMarkdown string    `json:"source_markdown"`
	BoxesImage     string    `json:"boxes_image"`
	ProcessingTime float64   `json:"processing_time"`
	FileName       string    `json:"file_name"`
	FileType       FileType  `json:"file_type,omitempty"`
	PageCount      int       `json:"page_count,omitempty"`
	ProcessedPages []int     `json:"processed_pages,omitempty"`
}

// UnmarshalJSON accepts the legacy image_name field some backends still send
// in place of file_name.
func (u *UnifiedResponse) UnmarshalJSON(data []byte) error {
	type plain UnifiedResponse
	wire := struct {
		*plain
		ImageName string `json:"image_name"`
	}{plain: (*plain)(u)}

	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if u.FileName == "" {
		u.FileName = wire.ImageName
	}
	return nil
}

// SetElapsed stores a duration as seconds in ProcessingTime.
func (u *UnifiedResponse) SetElapsed(d time.Duration) {
	u.ProcessingTime = seconds(d)
}

// RawResult is the per-format discriminated union. Exactly one slot is
// populated after Restrict.
type RawResult struct {
	DeepSeek DeepSeekResult `json:"deepseek"`
	MinerU   MinerUResult   `json:"mineru"`
}

// Restrict clears every slot except the one belonging to format.
func (r *RawResult) Restrict(format Format) {
	switch format {
	case FormatDeepSeek:
		r.MinerU = nil
	case FormatMinerU:
		r.DeepSeek = DeepSeekResult{}
	}
}

// DeepSeekPage is one page of a multi-page deepseek result.
type DeepSeekPage struct {
	Page      int    `json:"page"`
	RawOutput string `json:"raw_output"`
}

// DeepSeekResult is either raw text with ref/det markup (single image) or a
// per-page object (pdf). Pages is non-nil only for the latter.
type DeepSeekResult struct {
	Text           string
	Pages          []DeepSeekPage
	TotalPages     int
	ProcessedPages []int
}

type deepSeekPages struct {
	Pages          []DeepSeekPage `json:"pages"`
	TotalPages     int            `json:"total_pages"`
	ProcessedPages []int          `json:"processed_pages"`
}

// MultiPage reports whether the result is the per-page shape.
func (d DeepSeekResult) MultiPage() bool {
	return d.Pages != nil
}

// IsZero reports whether the slot is empty.
func (d DeepSeekResult) IsZero() bool {
	return d.Text == "" && d.Pages == nil
}

func (d DeepSeekResult) MarshalJSON() ([]byte, error) {
	if !d.MultiPage() {
		return json.Marshal(d.Text)
	}
	processed := d.ProcessedPages
	if processed == nil {
		processed = []int{}
	}
	return json.Marshal(deepSeekPages{
		Pages:          d.Pages,
		TotalPages:     d.TotalPages,
		ProcessedPages: processed,
	})
}

func (d *DeepSeekResult) UnmarshalJSON(data []byte) error {
	*d = DeepSeekResult{}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	switch trimmed[0] {
	case '"':
		return json.Unmarshal(trimmed, &d.Text)
	case '{':
		var pages deepSeekPages
		if err := json.Unmarshal(trimmed, &pages); err != nil {
			return err
		}
		// An empty object is the conventional "empty slot".
		if pages.Pages == nil && pages.TotalPages == 0 && len(pages.ProcessedPages) == 0 {
			return nil
		}
		d.Pages = pages.Pages
		if d.Pages == nil {
			d.Pages = []DeepSeekPage{}
		}
		d.TotalPages = pages.TotalPages
		d.ProcessedPages = pages.ProcessedPages
		return nil
	default:
		return fmt.Errorf("deepseek result must be a string or an object, got %q", truncate(trimmed, 16))
	}
}

// MinerUResult is the structured mineru object, relayed verbatim.
type MinerUResult map[string]json.RawMessage

func (m MinerUResult) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]json.RawMessage(m))
}

func (m *MinerUResult) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*m = nil
		return nil
	}
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return fmt.Errorf("mineru result must be an object, got %q", truncate(trimmed, 16))
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return err
	}
	if len(fields) == 0 {
		*m = nil
		return nil
	}
	*m = fields
	return nil
}

func seconds(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return d.Seconds()
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
