package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/ocr-gateway/internal/contract"
	"github.com/angeloszaimis/ocr-gateway/internal/markup"
)

var _ = Describe("fake backend", func() {
	var log *slog.Logger

	BeforeEach(func() {
		log = slog.New(slog.NewTextHandler(GinkgoWriter, nil))
	})

	serve := func(opts serverOptions, req *http.Request) *httptest.ResponseRecorder {
		srv, err := newServer(opts, log)
		Expect(err).NotTo(HaveOccurred())
		w := httptest.NewRecorder()
		srv.routes().ServeHTTP(w, req)
		return w
	}

	upload := func(path, field string, pages ...string) *http.Request {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		part, _ := mw.CreateFormFile(field, "doc.bin")
		part.Write([]byte("payload"))
		for _, p := range pages {
			mw.WriteField("pages", p)
		}
		mw.Close()

		req := httptest.NewRequest(http.MethodPost, path, &body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		return req
	}

	decode := func(w *httptest.ResponseRecorder) contract.UnifiedResponse {
		var res contract.UnifiedResponse
		ExpectWithOffset(1, json.Unmarshal(w.Body.Bytes(), &res)).To(Succeed())
		return res
	}

	It("should reject unknown formats and fail rates", func() {
		_, err := newServer(serverOptions{Format: "plain"}, log)
		Expect(err).To(HaveOccurred())
		_, err = newServer(serverOptions{Format: "mineru", FailRate: 2}, log)
		Expect(err).To(HaveOccurred())
	})

	It("should answer health checks in the shape the gateway polls for", func() {
		w := serve(serverOptions{ID: "mineru", Format: "mineru", ModelLoaded: true},
			httptest.NewRequest(http.MethodGet, "/health", nil))

		Expect(w.Code).To(Equal(http.StatusOK))
		var body map[string]any
		Expect(json.Unmarshal(w.Body.Bytes(), &body)).To(Succeed())
		Expect(body).To(HaveKeyWithValue("status", "healthy"))
		Expect(body).To(HaveKeyWithValue("model_loaded", true))
		Expect(body).To(HaveKeyWithValue("backend", "mineru"))
	})

	It("should return deepseek markup the tokenizer accepts", func() {
		w := serve(serverOptions{ID: "deepseek-ocr", Format: "deepseek"}, upload("/ocr/image", "image"))

		Expect(w.Code).To(Equal(http.StatusOK))
		res := decode(w)
		Expect(res.RawResult.DeepSeek.Text).NotTo(BeEmpty())

		segments, err := markup.Tokenize(res.RawResult.DeepSeek.Text)
		Expect(err).NotTo(HaveOccurred())
		Expect(segments).To(HaveLen(3))
	})

	It("should return multi-page deepseek pdf results", func() {
		w := serve(serverOptions{ID: "deepseek-ocr", Format: "deepseek"}, upload("/ocr/pdf", "pdf", "2", "4"))

		res := decode(w)
		res.Normalize("deepseek-ocr", contract.FormatDeepSeek, contract.FileTypePDF, time.Second)
		Expect(res.Validate()).To(Succeed())
		Expect(res.RawResult.DeepSeek.Pages).To(HaveLen(2))
		Expect(res.ProcessedPages).To(Equal([]int{2, 4}))
		Expect(res.PageCount).To(Equal(4))
	})

	It("should return structured mineru results", func() {
		w := serve(serverOptions{ID: "mineru", Format: "mineru"}, upload("/ocr/image", "image"))

		res := decode(w)
		Expect(res.RawResult.MinerU).To(HaveKey("blocks"))
		Expect(res.Markdown).NotTo(BeEmpty())
		Expect(res.FileName).To(Equal("doc.bin"))
	})

	It("should require the right file field", func() {
		w := serve(serverOptions{ID: "mineru", Format: "mineru"}, upload("/ocr/pdf", "image"))
		Expect(w.Code).To(Equal(http.StatusBadRequest))
	})

	It("should simulate failures", func() {
		w := serve(serverOptions{ID: "mineru", Format: "mineru", FailRate: 1}, upload("/ocr/image", "image"))
		Expect(w.Code).To(Equal(http.StatusInternalServerError))
	})
})
