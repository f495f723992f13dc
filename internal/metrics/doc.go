// Package metrics collects routing and health metrics for the OCR gateway.
//
// Events are pushed onto a buffered channel and folded into in-memory
// counters by a single collector goroutine, so the request path never blocks
// on bookkeeping. Emit drops events when the buffer is full.
//
// Per backend the collector tracks:
//   - requests received and requests rejected by the health gate
//   - outcomes per error kind and HTTP status codes returned
//   - response times with P50, P95 and P99
//   - the latest health transition
//
// Example usage:
//
//	collector := metrics.NewCollector(1000, logger)
//	collector.Start(ctx)
//
//	collector.Emit(metrics.MetricEvent{
//		Type:       metrics.EventResponseCompleted,
//		Backend:    "deepseek-ocr",
//		Outcome:    "ok",
//		Duration:   4 * time.Second,
//		StatusCode: 200,
//	})
//
//	snapshot := collector.Snapshot()
package metrics
