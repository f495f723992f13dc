package router

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/angeloszaimis/ocr-gateway/internal/contract"
)

const stagePattern = "ocr-upload-*"

type stagedFile struct {
	path        string
	contentType string
}

// stage copies the request payload into a temporary file in dir. The content
// type is taken from the client when it is specific, else sniffed.
func stage(dir string, req *contract.OCRRequest) (*stagedFile, error) {
	f, err := os.CreateTemp(dir, stagePattern+filepath.Ext(req.FileName))
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	staged := &stagedFile{path: f.Name()}

	if _, err := io.Copy(f, req.Payload); err != nil {
		f.Close()
		os.Remove(staged.path)
		return nil, fmt.Errorf("copy upload: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(staged.path)
		return nil, fmt.Errorf("close temp file: %w", err)
	}

	staged.contentType = req.ContentType
	if ct := strings.TrimSpace(staged.contentType); ct == "" || ct == "application/octet-stream" {
		mtype, err := mimetype.DetectFile(staged.path)
		if err != nil {
			staged.contentType = "application/octet-stream"
		} else {
			staged.contentType = mtype.String()
		}
	}

	return staged, nil
}

func (s *stagedFile) remove(log *slog.Logger) {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		log.Error("Failed to remove staged upload",
			slog.String("path", s.path),
			slog.String("error", err.Error()))
	}
}

// forward streams the staged file to endpoint as multipart and returns the
// backend's status and body.
func (r *Router) forward(
	ctx context.Context,
	endpoint string,
	req *contract.OCRRequest,
	staged *stagedFile,
) (int, []byte, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	written := make(chan struct{})
	go func() {
		defer close(written)
		pw.CloseWithError(writeForm(mw, req, staged))
	}()
	defer func() {
		// Unblocks the writer if the backend answered without reading the body.
		pr.Close()
		<-written
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, pr)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("Accept", "application/json")

	res, err := r.client.Do(httpReq)
	if err != nil {
		return 0, nil, err
	}
	defer res.Body.Close()

	body, err := readBody(res)
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return res.StatusCode, body, nil
}

func writeForm(mw *multipart.Writer, req *contract.OCRRequest, staged *stagedFile) error {
	f, err := os.Open(staged.path)
	if err != nil {
		return err
	}
	defer f.Close()

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		escapeQuotes(string(req.FileType)), escapeQuotes(req.FileName)))
	header.Set("Content-Type", staged.contentType)

	part, err := mw.CreatePart(header)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return err
	}

	if req.Prompt != "" {
		if err := mw.WriteField("prompt", req.Prompt); err != nil {
			return err
		}
	}
	if req.FileType == contract.FileTypePDF {
		for _, p := range req.Pages {
			if err := mw.WriteField("pages", strconv.Itoa(p)); err != nil {
				return err
			}
		}
	}

	return mw.Close()
}

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
