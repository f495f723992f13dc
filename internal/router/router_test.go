package router_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/ocr-gateway/internal/backend"
	"github.com/angeloszaimis/ocr-gateway/internal/contract"
	"github.com/angeloszaimis/ocr-gateway/internal/metrics"
	"github.com/angeloszaimis/ocr-gateway/internal/router"
)

type staticHealth struct {
	mu      sync.Mutex
	healthy map[string]bool
}

func (s *staticHealth) IsHealthy(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthy[id]
}

func (s *staticHealth) set(id string, healthy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthy[id] = healthy
}

// received is what the spy backend saw of the last forwarded request.
type received struct {
	path        string
	fileField   string
	fileName    string
	contentType string
	content     []byte
	prompt      string
	pages       []string
}

func pngBytes(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	Expect(png.Encode(&buf, img)).To(Succeed())
	return buf.Bytes()
}

var _ = Describe("Router", func() {
	var (
		log       *slog.Logger
		tempDir   string
		calls     atomic.Int32
		mu        sync.Mutex
		last      received
		respond   http.HandlerFunc
		server    *httptest.Server
		registry  *backend.Registry
		health    *staticHealth
		collector *metrics.Collector
		opts      router.Options
		ctx       context.Context
		cancel    context.CancelFunc
	)

	build := func() *router.Router {
		return router.New(log, registry, health, opts, collector)
	}

	imageRequest := func(id string) *contract.OCRRequest {
		return &contract.OCRRequest{
			BackendID: id,
			FileType:  contract.FileTypeImage,
			FileName:  "page.png",
			Payload:   bytes.NewReader(pngBytes(200, 100)),
		}
	}

	routeErr := func(err error) *contract.Error {
		var e *contract.Error
		ExpectWithOffset(1, errors.As(err, &e)).To(BeTrue())
		return e
	}

	BeforeEach(func() {
		log = slog.New(slog.NewTextHandler(GinkgoWriter, nil))

		var err error
		tempDir, err = os.MkdirTemp("", "router-test-")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(os.RemoveAll, tempDir)

		calls.Store(0)
		last = received{}
		respond = func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"success":true,"raw_result":{"mineru":{"blocks":[]}}}`))
		}

		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)

			rec := received{path: r.URL.Path}
			if err := r.ParseMultipartForm(32 << 20); err == nil {
				for field, headers := range r.MultipartForm.File {
					f, _ := headers[0].Open()
					rec.content, _ = io.ReadAll(f)
					f.Close()
					rec.fileField = field
					rec.fileName = headers[0].Filename
					rec.contentType = headers[0].Header.Get("Content-Type")
				}
				rec.prompt = r.FormValue("prompt")
				rec.pages = r.MultipartForm.Value["pages"]
			}
			mu.Lock()
			last = rec
			mu.Unlock()

			respond(w, r)
		}))
		DeferCleanup(server.Close)

		deepseek, err := backend.New(backend.Settings{ID: "deepseek-ocr", URL: server.URL, Format: "deepseek"})
		Expect(err).NotTo(HaveOccurred())
		mineru, err := backend.New(backend.Settings{ID: "mineru", URL: server.URL, Format: "mineru"})
		Expect(err).NotTo(HaveOccurred())
		registry, err = backend.NewRegistry(deepseek, mineru)
		Expect(err).NotTo(HaveOccurred())

		health = &staticHealth{healthy: map[string]bool{"deepseek-ocr": true, "mineru": true}}
		collector = metrics.NewCollector(100, log)
		opts = router.Options{TempDir: tempDir, RequestTimeout: 2 * time.Second, Overlay: true}

		ctx, cancel = context.WithCancel(context.Background())
		DeferCleanup(func() { cancel() })
	})

	AfterEach(func() {
		entries, err := os.ReadDir(tempDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(BeEmpty(), "staged uploads must never outlive a request")
	})

	Describe("validation", func() {
		It("should reject unknown backends without calling out", func() {
			_, err := build().Route(ctx, imageRequest("tesseract"))

			e := routeErr(err)
			Expect(e.Kind).To(Equal(contract.KindValidation))
			Expect(e.Kind.HTTPStatus()).To(Equal(http.StatusBadRequest))
			Expect(e.Error()).To(ContainSubstring("deepseek-ocr, mineru"))
			Expect(calls.Load()).To(BeZero())
		})

		It("should reject a request without a file", func() {
			req := imageRequest("mineru")
			req.Payload = nil

			_, err := build().Route(ctx, req)
			Expect(routeErr(err).Kind).To(Equal(contract.KindValidation))
		})

		It("should reject non-positive pages", func() {
			req := imageRequest("mineru")
			req.FileType = contract.FileTypePDF
			req.Pages = []int{0}

			_, err := build().Route(ctx, req)
			Expect(routeErr(err).Kind).To(Equal(contract.KindValidation))
			Expect(calls.Load()).To(BeZero())
		})

		It("should not forward a zero page hidden among valid ones", func() {
			req := imageRequest("mineru")
			req.FileType = contract.FileTypePDF
			req.Pages = []int{0, 2}

			_, err := build().Route(ctx, req)
			Expect(routeErr(err).Kind).To(Equal(contract.KindValidation))
			Expect(calls.Load()).To(BeZero())
		})
	})

	Describe("admission", func() {
		It("should refuse unhealthy backends with zero outbound calls", func() {
			health.set("mineru", false)

			_, err := build().Route(ctx, imageRequest("mineru"))

			e := routeErr(err)
			Expect(e.Kind).To(Equal(contract.KindBackendUnavailable))
			Expect(e.Kind.HTTPStatus()).To(Equal(http.StatusServiceUnavailable))
			Expect(e.Backend).To(Equal("mineru"))
			Expect(e.SuggestedAction).To(Equal(router.SuggestedAction))
			Expect(calls.Load()).To(BeZero())
		})

		It("should still serve the healthy backend", func() {
			health.set("deepseek-ocr", false)

			_, err := build().Route(ctx, imageRequest("mineru"))
			Expect(err).NotTo(HaveOccurred())
			Expect(calls.Load()).To(Equal(int32(1)))
		})
	})

	Describe("success", func() {
		It("should normalize the backend body and measure processing time itself", func() {
			respond = func(w http.ResponseWriter, r *http.Request) {
				time.Sleep(20 * time.Millisecond)
				w.Write([]byte(`{
					"success": true,
					"backend": "something-else",
					"raw_result": {"mineru": {"blocks": [1, 2]}, "deepseek": "stray"},
					"markdown": "# Title",
					"processing_time": 5.0,
					"image_name": "page.png"
				}`))
			}

			res, err := build().Route(ctx, imageRequest("mineru"))
			Expect(err).NotTo(HaveOccurred())

			Expect(res.Success).To(BeTrue())
			Expect(res.Backend).To(Equal("mineru"))
			Expect(res.ProcessingTime).NotTo(Equal(5.0))
			Expect(res.ProcessingTime).To(BeNumerically(">=", 0.02))
			Expect(res.ProcessingTime).To(BeNumerically("<", 2))
			Expect(res.FileName).To(Equal("page.png"))
			Expect(res.FileType).To(Equal(contract.FileTypeImage))
			Expect(res.SourceMarkdown).To(Equal("# Title"))
			Expect(res.RawResult.DeepSeek.IsZero()).To(BeTrue())
			Expect(res.RawResult.MinerU).To(HaveKey("blocks"))
		})

		It("should count processing time from ReceivedAt", func() {
			req := imageRequest("mineru")
			req.ReceivedAt = time.Now().Add(-time.Second)

			res, err := build().Route(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.ProcessingTime).To(BeNumerically(">=", 1))
		})

		It("should forward images as multipart with a sniffed content type", func() {
			req := imageRequest("mineru")
			req.Prompt = "<image>\nFree OCR."

			_, err := build().Route(ctx, req)
			Expect(err).NotTo(HaveOccurred())

			mu.Lock()
			defer mu.Unlock()
			Expect(last.path).To(Equal("/ocr/image"))
			Expect(last.fileField).To(Equal("image"))
			Expect(last.fileName).To(Equal("page.png"))
			Expect(last.contentType).To(Equal("image/png"))
			Expect(last.content).To(Equal(pngBytes(200, 100)))
			Expect(last.prompt).To(Equal("<image>\nFree OCR."))
			Expect(last.pages).To(BeEmpty())
		})

		It("should forward pdf pages as repeated fields", func() {
			req := &contract.OCRRequest{
				BackendID:   "mineru",
				FileType:    contract.FileTypePDF,
				FileName:    "scan.pdf",
				ContentType: "application/pdf",
				Payload:     strings.NewReader("%PDF-1.4 fake"),
				Pages:       []int{1, 3},
			}

			res, err := build().Route(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.FileType).To(Equal(contract.FileTypePDF))

			mu.Lock()
			defer mu.Unlock()
			Expect(last.path).To(Equal("/ocr/pdf"))
			Expect(last.fileField).To(Equal("pdf"))
			Expect(last.contentType).To(Equal("application/pdf"))
			Expect(last.pages).To(Equal([]string{"1", "3"}))
		})

		It("should fill page counts from a multi-page deepseek result", func() {
			respond = func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"success":true,"raw_result":{"deepseek":{
					"pages":[{"page":2,"raw_output":"a"},{"page":4,"raw_output":"b"}],
					"total_pages":5,"processed_pages":[2,4]}}}`))
			}
			req := &contract.OCRRequest{
				BackendID: "deepseek-ocr",
				FileType:  contract.FileTypePDF,
				FileName:  "scan.pdf",
				Payload:   strings.NewReader("%PDF-1.4 fake"),
			}

			res, err := build().Route(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.PageCount).To(Equal(5))
			Expect(res.ProcessedPages).To(Equal([]int{2, 4}))
		})
	})

	Describe("box overlay", func() {
		const raw = "<|ref|>Title<|/ref|><|det|>[[100,100,500,800]]<|/det|>"

		BeforeEach(func() {
			respond = func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"success":true,"raw_result":{"deepseek":"` + strings.ReplaceAll(raw, `"`, `\"`) + `"}}`))
			}
		})

		It("should derive markdown and boxes for deepseek images", func() {
			res, err := build().Route(ctx, imageRequest("deepseek-ocr"))
			Expect(err).NotTo(HaveOccurred())

			Expect(res.Markdown).To(Equal("Title"))
			Expect(res.SourceMarkdown).To(Equal("Title"))
			decoded, err := base64.StdEncoding.DecodeString(res.BoxesImage)
			Expect(err).NotTo(HaveOccurred())
			img, err := png.Decode(bytes.NewReader(decoded))
			Expect(err).NotTo(HaveOccurred())
			Expect(img.Bounds()).To(Equal(image.Rect(0, 0, 200, 100)))
		})

		It("should leave the response alone when disabled", func() {
			opts.Overlay = false

			res, err := build().Route(ctx, imageRequest("deepseek-ocr"))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Markdown).To(BeEmpty())
			Expect(res.BoxesImage).To(BeEmpty())
		})

		It("should ignore malformed markup", func() {
			respond = func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"success":true,"raw_result":{"deepseek":"<|ref|>broken"}}`))
			}

			res, err := build().Route(ctx, imageRequest("deepseek-ocr"))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Markdown).To(BeEmpty())
			Expect(res.RawResult.DeepSeek.Text).To(Equal("<|ref|>broken"))
		})
	})

	Describe("backend failures", func() {
		It("should report non-200 answers as processing errors", func() {
			respond = func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
				w.Write([]byte(`{"error":"CUDA out of memory"}`))
			}

			_, err := build().Route(ctx, imageRequest("mineru"))

			e := routeErr(err)
			Expect(e.Kind).To(Equal(contract.KindBackendProcessing))
			Expect(e.StatusCode).To(Equal(http.StatusBadGateway))
			Expect(e.Error()).To(ContainSubstring("CUDA out of memory"))
			Expect(e.Response().ProcessingTime).To(BeNumerically(">", 0))
		})

		It("should report malformed success bodies as processing errors", func() {
			respond = func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"success": tru`))
			}

			_, err := build().Route(ctx, imageRequest("mineru"))

			e := routeErr(err)
			Expect(e.Kind).To(Equal(contract.KindBackendProcessing))
			Expect(e.StatusCode).To(Equal(http.StatusOK))
		})

		It("should report bodies failing validation as processing errors", func() {
			respond = func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"success":true,"boxes_image":"%%%not-base64"}`))
			}

			_, err := build().Route(ctx, imageRequest("mineru"))
			Expect(routeErr(err).Kind).To(Equal(contract.KindBackendProcessing))
		})

		It("should time out a backend that never answers", func() {
			opts.RequestTimeout = 100 * time.Millisecond
			respond = func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(5 * time.Second):
				}
			}

			started := time.Now()
			_, err := build().Route(ctx, imageRequest("deepseek-ocr"))

			e := routeErr(err)
			Expect(e.Kind).To(Equal(contract.KindBackendTimeout))
			Expect(e.Kind.HTTPStatus()).To(Equal(http.StatusGatewayTimeout))
			Expect(e.Backend).To(Equal("deepseek-ocr"))
			Expect(e.Elapsed).To(BeNumerically(">=", 100*time.Millisecond))
			Expect(time.Since(started)).To(BeNumerically("<", time.Second))
		})

		It("should report unreachable backends as transport errors", func() {
			server.Close()

			_, err := build().Route(ctx, imageRequest("mineru"))

			e := routeErr(err)
			Expect(e.Kind).To(Equal(contract.KindTransport))
			Expect(e.Error()).To(ContainSubstring("error routing to backend mineru"))
		})

		It("should abandon the call when the client goes away", func() {
			respond = func(w http.ResponseWriter, r *http.Request) {
				<-r.Context().Done()
			}
			go func() {
				time.Sleep(50 * time.Millisecond)
				cancel()
			}()

			_, err := build().Route(ctx, imageRequest("mineru"))
			Expect(routeErr(err).Kind).To(Equal(contract.KindTransport))
		})
	})

	Describe("metrics", func() {
		It("should record rejections and outcomes per backend", func() {
			collector.Start(ctx)
			r := build()

			health.set("deepseek-ocr", false)
			r.Route(ctx, imageRequest("deepseek-ocr"))
			r.Route(ctx, imageRequest("mineru"))

			Eventually(func() int64 {
				return collector.Snapshot().Backends["mineru"].Outcomes[metrics.OutcomeOK]
			}).Should(Equal(int64(1)))
			Eventually(func() int64 {
				return collector.Snapshot().Backends["deepseek-ocr"].Rejections
			}).Should(Equal(int64(1)))
		})
	})
})
