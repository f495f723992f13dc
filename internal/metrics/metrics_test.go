package metrics_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/ocr-gateway/internal/metrics"
)

var _ = Describe("Metrics", func() {
	var m *metrics.Metrics

	BeforeEach(func() {
		m = metrics.NewMetrics()
	})

	Describe("NewMetrics", func() {
		It("should create a new metrics instance", func() {
			Expect(m).NotTo(BeNil())
		})
	})

	Describe("IncrementRequests", func() {
		It("should increment request count for a backend", func() {
			m.IncrementRequests("deepseek-ocr")
			m.IncrementRequests("deepseek-ocr")

			snap := m.Snapshot()
			Expect(snap.TotalRequests).To(Equal(int64(2)))
			Expect(snap.Backends["deepseek-ocr"].Requests).To(Equal(int64(2)))
		})

		It("should track multiple backends separately", func() {
			m.IncrementRequests("deepseek-ocr")
			m.IncrementRequests("mineru")
			m.IncrementRequests("deepseek-ocr")

			snap := m.Snapshot()
			Expect(snap.TotalRequests).To(Equal(int64(3)))
			Expect(snap.Backends["deepseek-ocr"].Requests).To(Equal(int64(2)))
			Expect(snap.Backends["mineru"].Requests).To(Equal(int64(1)))
		})
	})

	Describe("IncrementRejections", func() {
		It("should count admission refusals per backend", func() {
			m.IncrementRejections("mineru")
			m.IncrementRejections("mineru")
			m.IncrementRejections("deepseek-ocr")

			snap := m.Snapshot()
			Expect(snap.TotalRejections).To(Equal(int64(3)))
			Expect(snap.Backends["mineru"].Rejections).To(Equal(int64(2)))
			Expect(snap.Backends["deepseek-ocr"].Rejections).To(Equal(int64(1)))
		})

		It("should list a backend that only saw rejections", func() {
			m.IncrementRejections("mineru")

			snap := m.Snapshot()
			Expect(snap.TotalRequests).To(BeZero())
			Expect(snap.Backends).To(HaveKey("mineru"))
			Expect(snap.Backends["mineru"].Requests).To(BeZero())
		})
	})

	Describe("RecordResponse", func() {
		It("should record response time and status code", func() {
			m.RecordResponse("deepseek-ocr", "ok", 100*time.Millisecond, 200)
			m.RecordResponse("deepseek-ocr", "ok", 200*time.Millisecond, 200)

			snap := m.Snapshot()
			backend := snap.Backends["deepseek-ocr"]

			Expect(backend.AvgResponse).To(Equal(150 * time.Millisecond))
			Expect(backend.StatusCodes[200]).To(Equal(int64(2)))
		})

		It("should track the status of each error kind", func() {
			m.RecordResponse("deepseek-ocr", "ok", 100*time.Millisecond, 200)
			m.RecordResponse("deepseek-ocr", "BackendProcessingError", 150*time.Millisecond, 500)
			m.RecordResponse("deepseek-ocr", "BackendTimeout", 200*time.Millisecond, 504)

			snap := m.Snapshot()
			backend := snap.Backends["deepseek-ocr"]

			Expect(backend.StatusCodes).To(Equal(map[int]int64{200: 1, 500: 1, 504: 1}))
		})

		It("should calculate percentiles correctly", func() {
			for i := 1; i <= 100; i++ {
				m.RecordResponse("deepseek-ocr", "ok", time.Duration(i)*time.Millisecond, 200)
			}

			snap := m.Snapshot()
			backend := snap.Backends["deepseek-ocr"]

			Expect(backend.P50Response).To(BeNumerically("~", 50*time.Millisecond, 1*time.Millisecond))
			Expect(backend.P95Response).To(BeNumerically("~", 95*time.Millisecond, 1*time.Millisecond))
			Expect(backend.P99Response).To(BeNumerically("~", 99*time.Millisecond, 1*time.Millisecond))
		})

		It("should limit stored response times to 1000", func() {
			for i := 1; i <= 1500; i++ {
				m.RecordResponse("deepseek-ocr", "ok", time.Duration(i)*time.Millisecond, 200)
			}

			snap := m.Snapshot()
			backend := snap.Backends["deepseek-ocr"]

			// Only samples 501ms..1500ms remain.
			Expect(backend.AvgResponse).To(BeNumerically(">", 1000*time.Millisecond))
			Expect(backend.P50Response).To(BeNumerically("~", 1000*time.Millisecond, 2*time.Millisecond))
		})
	})

	Describe("UpdateHealthStatus", func() {
		It("should update backend health status", func() {
			m.UpdateHealthStatus("deepseek-ocr", true)

			snap := m.Snapshot()
			Expect(snap.Backends["deepseek-ocr"].Healthy).To(BeTrue())
		})

		It("should track health status changes", func() {
			m.UpdateHealthStatus("deepseek-ocr", true)
			snap1 := m.Snapshot()
			Expect(snap1.Backends["deepseek-ocr"].Healthy).To(BeTrue())

			m.UpdateHealthStatus("deepseek-ocr", false)
			snap2 := m.Snapshot()
			Expect(snap2.Backends["deepseek-ocr"].Healthy).To(BeFalse())
		})
	})

	Describe("Snapshot", func() {
		It("should count rejections separately from requests", func() {
			m.IncrementRequests("deepseek-ocr")
			m.IncrementRejections("deepseek-ocr")
			m.IncrementRejections("mineru")

			snap := m.Snapshot()
			Expect(snap.TotalRequests).To(Equal(int64(1)))
			Expect(snap.TotalRejections).To(Equal(int64(2)))
			Expect(snap.Backends["mineru"].Rejections).To(Equal(int64(1)))
		})

		It("should count outcomes per kind", func() {
			m.RecordResponse("mineru", "ok", time.Second, 200)
			m.RecordResponse("mineru", "BackendTimeout", 2*time.Second, 504)
			m.RecordResponse("mineru", "BackendTimeout", 2*time.Second, 504)

			snap := m.Snapshot()
			Expect(snap.Backends["mineru"].Outcomes).To(Equal(map[string]int64{
				"ok":             1,
				"BackendTimeout": 2,
			}))
		})

		It("should not share maps with the live metrics", func() {
			m.RecordResponse("mineru", "ok", time.Second, 200)
			snap := m.Snapshot()
			snap.Backends["mineru"].StatusCodes[200] = 99

			Expect(m.Snapshot().Backends["mineru"].StatusCodes[200]).To(Equal(int64(1)))
		})

		It("should include uptime", func() {
			time.Sleep(10 * time.Millisecond)

			snap := m.Snapshot()
			Expect(snap.Uptime).To(BeNumerically(">", 0))
		})

		It("should handle empty metrics", func() {
			snap := m.Snapshot()

			Expect(snap.TotalRequests).To(Equal(int64(0)))
			Expect(snap.Backends).To(BeEmpty())
		})

		It("should return independent snapshot", func() {
			m.IncrementRequests("deepseek-ocr")

			snap1 := m.Snapshot()
			m.IncrementRequests("deepseek-ocr")
			snap2 := m.Snapshot()

			Expect(snap1.TotalRequests).To(Equal(int64(1)))
			Expect(snap2.TotalRequests).To(Equal(int64(2)))
		})
	})
})
