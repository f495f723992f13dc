package metrics_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/ocr-gateway/internal/metrics"
)

var _ = Describe("Collector", func() {
	var (
		collector *metrics.Collector
		log       *slog.Logger
		ctx       context.Context
		cancel    context.CancelFunc
	)

	BeforeEach(func() {
		log = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelError, // Suppress logs in tests
		}))
		ctx, cancel = context.WithCancel(context.Background())
		collector = metrics.NewCollector(100, log)
	})

	AfterEach(func() {
		cancel()
	})

	requestsOf := func(backend string) func() int64 {
		return func() int64 {
			return collector.Snapshot().Backends[backend].Requests
		}
	}

	Describe("NewCollector", func() {
		It("should create a collector with specified buffer size", func() {
			c := metrics.NewCollector(500, log)
			Expect(c).NotTo(BeNil())
		})
	})

	Describe("EventChannel", func() {
		It("should return a write-only channel", func() {
			ch := collector.EventChannel()
			Expect(ch).NotTo(BeNil())
		})
	})

	Describe("Emit", func() {
		It("should be a no-op on a nil collector", func() {
			var c *metrics.Collector
			Expect(func() {
				c.Emit(metrics.MetricEvent{Type: metrics.EventRequestReceived})
			}).NotTo(Panic())
		})

		It("should drop events instead of blocking when the buffer is full", func() {
			small := metrics.NewCollector(1, log)
			done := make(chan struct{})
			go func() {
				defer close(done)
				for i := 0; i < 10; i++ {
					small.Emit(metrics.MetricEvent{Type: metrics.EventRequestReceived, Backend: "mineru"})
				}
			}()
			Eventually(done).Should(BeClosed())
		})
	})

	Describe("Start and event processing", func() {
		It("should process EventRequestReceived", func() {
			collector.Start(ctx)

			collector.Emit(metrics.MetricEvent{
				Type:    metrics.EventRequestReceived,
				Backend: "deepseek-ocr",
			})

			Eventually(requestsOf("deepseek-ocr")).Should(Equal(int64(1)))
		})

		It("should process EventRequestRejected", func() {
			collector.Start(ctx)

			collector.Emit(metrics.MetricEvent{
				Type:    metrics.EventRequestRejected,
				Backend: "mineru",
			})

			Eventually(func() int64 {
				return collector.Snapshot().Backends["mineru"].Rejections
			}).Should(Equal(int64(1)))
		})

		It("should process EventResponseCompleted", func() {
			collector.Start(ctx)

			collector.Emit(metrics.MetricEvent{
				Type:       metrics.EventResponseCompleted,
				Backend:    "deepseek-ocr",
				Outcome:    metrics.OutcomeOK,
				Duration:   100 * time.Millisecond,
				StatusCode: 200,
			})

			Eventually(func() int64 {
				return collector.Snapshot().Backends["deepseek-ocr"].StatusCodes[200]
			}).Should(Equal(int64(1)))

			backend := collector.Snapshot().Backends["deepseek-ocr"]
			Expect(backend.AvgResponse).To(Equal(100 * time.Millisecond))
			Expect(backend.Outcomes[metrics.OutcomeOK]).To(Equal(int64(1)))
		})

		It("should process EventHealthChanged", func() {
			collector.Start(ctx)

			collector.Emit(metrics.MetricEvent{
				Type:    metrics.EventHealthChanged,
				Backend: "deepseek-ocr",
				Healthy: true,
			})

			Eventually(func() bool {
				return collector.Snapshot().Backends["deepseek-ocr"].Healthy
			}).Should(BeTrue())
		})

		It("should drain events on context cancellation", func() {
			for i := 0; i < 5; i++ {
				collector.EventChannel() <- metrics.MetricEvent{
					Type:      metrics.EventRequestReceived,
					Timestamp: time.Now(),
					Backend:   "deepseek-ocr",
				}
			}

			cancel()
			collector.Start(ctx)

			// All events should be processed via drain
			Eventually(requestsOf("deepseek-ocr")).Should(Equal(int64(5)))
		})
	})

	Describe("Handler", func() {
		It("should serve the snapshot as JSON", func() {
			collector.Start(ctx)
			collector.Emit(metrics.MetricEvent{Type: metrics.EventRequestReceived, Backend: "mineru"})
			Eventually(requestsOf("mineru")).Should(Equal(int64(1)))

			w := httptest.NewRecorder()
			collector.Handler()(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Header().Get("Content-Type")).To(Equal("application/json"))

			var snap metrics.Snapshot
			Expect(json.Unmarshal(w.Body.Bytes(), &snap)).To(Succeed())
			Expect(snap.TotalRequests).To(Equal(int64(1)))
		})
	})
})
