package metrics

import (
	"sort"
	"sync"
	"time"
)

const maxSamples = 1000

type Metrics struct {
	mutex         sync.RWMutex
	requests      map[string]int64
	rejections    map[string]int64
	outcomes      map[string]map[string]int64
	responseTimes map[string][]time.Duration
	statusCodes   map[string]map[int]int64
	healthStatus  map[string]bool
	startTime     time.Time
}

type Snapshot struct {
	TotalRequests   int64                     `json:"total_requests"`
	TotalRejections int64                     `json:"total_rejections"`
	Uptime          time.Duration             `json:"uptime"`
	Backends        map[string]BackendMetrics `json:"backends"`
}

type BackendMetrics struct {
	Requests    int64            `json:"requests"`
	Rejections  int64            `json:"rejections"`
	Healthy     bool             `json:"healthy"`
	Outcomes    map[string]int64 `json:"outcomes"`
	AvgResponse time.Duration    `json:"avg_response"`
	P50Response time.Duration    `json:"p50_response"`
	P95Response time.Duration    `json:"p95_response"`
	P99Response time.Duration    `json:"p99_response"`
	StatusCodes map[int]int64    `json:"status_codes"`
}

func (m *Metrics) IncrementRequests(backend string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.requests[backend]++
}

func (m *Metrics) IncrementRejections(backend string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.rejections[backend]++
}

func (m *Metrics) RecordResponse(backend, outcome string, duration time.Duration, statusCode int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.responseTimes[backend] = append(m.responseTimes[backend], duration)
	if len(m.responseTimes[backend]) > maxSamples {
		m.responseTimes[backend] = m.responseTimes[backend][1:]
	}

	if m.statusCodes[backend] == nil {
		m.statusCodes[backend] = make(map[int]int64)
	}
	m.statusCodes[backend][statusCode]++

	if outcome != "" {
		if m.outcomes[backend] == nil {
			m.outcomes[backend] = make(map[string]int64)
		}
		m.outcomes[backend][outcome]++
	}
}

func (m *Metrics) UpdateHealthStatus(backend string, healthy bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.healthStatus[backend] = healthy
}

func (m *Metrics) Snapshot() Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		Uptime:   time.Since(m.startTime),
		Backends: make(map[string]BackendMetrics),
	}

	allBackends := make(map[string]bool)
	for backend := range m.requests {
		allBackends[backend] = true
	}
	for backend := range m.rejections {
		allBackends[backend] = true
	}
	for backend := range m.responseTimes {
		allBackends[backend] = true
	}
	for backend := range m.healthStatus {
		allBackends[backend] = true
	}

	for backend := range allBackends {
		snap.TotalRequests += m.requests[backend]
		snap.TotalRejections += m.rejections[backend]

		bm := BackendMetrics{
			Requests:    m.requests[backend],
			Rejections:  m.rejections[backend],
			Healthy:     m.healthStatus[backend],
			Outcomes:    copyCounts(m.outcomes[backend]),
			StatusCodes: copyCounts(m.statusCodes[backend]),
		}

		durations := m.responseTimes[backend]
		if len(durations) > 0 {
			sorted := make([]time.Duration, len(durations))
			copy(sorted, durations)
			sort.Slice(sorted, func(i, j int) bool {
				return sorted[i] < sorted[j]
			})

			bm.AvgResponse = average(sorted)
			bm.P50Response = percentile(sorted, 0.50)
			bm.P95Response = percentile(sorted, 0.95)
			bm.P99Response = percentile(sorted, 0.99)
		}

		snap.Backends[backend] = bm
	}

	return snap
}

func NewMetrics() *Metrics {
	return &Metrics{
		requests:      make(map[string]int64),
		rejections:    make(map[string]int64),
		outcomes:      make(map[string]map[string]int64),
		responseTimes: make(map[string][]time.Duration),
		statusCodes:   make(map[string]map[int]int64),
		healthStatus:  make(map[string]bool),
		startTime:     time.Now(),
	}
}

func copyCounts[K comparable](in map[K]int64) map[K]int64 {
	out := make(map[K]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func average(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return sum / time.Duration(len(durations))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	return sorted[index]
}
