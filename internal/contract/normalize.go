package contract

import (
	"encoding/base64"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Normalize applies the fixed-shape rules to a backend's success body: the
// routed backend id wins, only the format's raw_result slot survives and
// absent optional fields are defaulted. The processing time is always the
// gateway's own measurement.
func (u *UnifiedResponse) Normalize(backendID string, format Format, fileType FileType, elapsed time.Duration) {
	u.Backend = backendID
	u.RawResult.Restrict(format)

	if u.SourceMarkdown == "" {
		u.SourceMarkdown = u.Markdown
	}
	if u.FileType == "" {
		u.FileType = fileType
	}

	if ds := u.RawResult.DeepSeek; ds.MultiPage() {
		if len(u.ProcessedPages) == 0 && len(ds.ProcessedPages) > 0 {
			u.ProcessedPages = append([]int(nil), ds.ProcessedPages...)
		}
		if u.PageCount == 0 {
			u.PageCount = ds.TotalPages
		}
	}

	u.SetElapsed(elapsed)
}

// Validate checks the client-supplied part of an OCR request.
func (r OCRRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.BackendID, validation.Required),
		validation.Field(&r.FileType, validation.Required, validation.In(FileTypeImage, FileTypePDF)),
		validation.Field(&r.FileName, validation.Required.Error("no file selected")),
		validation.Field(&r.Payload, validation.NotNil.Error("no file provided")),
		validation.Field(&r.Pages, validation.Each(validation.By(positivePage))),
	)
}

// Validate checks a backend body at the gateway boundary.
func (u UnifiedResponse) Validate() error {
	return validation.ValidateStruct(&u,
		validation.Field(&u.Backend, validation.Required),
		validation.Field(&u.FileType, validation.In(FileTypeImage, FileTypePDF)),
		validation.Field(&u.PageCount, validation.Min(0)),
		validation.Field(&u.ProcessedPages, validation.Each(validation.By(positivePage))),
		validation.Field(&u.BoxesImage, validation.By(validateBase64Image)),
	)
}

// positivePage rejects page numbers below 1. validation.Min skips zero
// values as empty, so 0 needs an explicit check.
func positivePage(value interface{}) error {
	page, ok := value.(int)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be an integer")
	}
	if page < 1 {
		return validation.NewError("validation_page_not_positive", "must be a page number of 1 or more")
	}
	return nil
}

func validateBase64Image(value interface{}) error {
	encoded, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}
	if encoded == "" {
		return nil
	}

	if strings.HasPrefix(encoded, "data:") {
		_, payload, found := strings.Cut(encoded, ";base64,")
		if !found {
			return validation.NewError("validation_invalid_data_uri", "must be a base64 data URI")
		}
		encoded = payload
	}

	if _, err := base64.StdEncoding.DecodeString(encoded); err != nil {
		return validation.NewError("validation_invalid_base64", "must be base64 encoded")
	}
	return nil
}
