package healthcheck

// Status is the gateway-wide health derived from every backend.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Summary counts backends by state.
type Summary struct {
	TotalBackends     int `json:"total_backends"`
	HealthyBackends   int `json:"healthy_backends"`
	UnhealthyBackends int `json:"unhealthy_backends"`
}

// Aggregate derives the overall status from snapshots: healthy when all
// backends are healthy, degraded when some are, unhealthy when none are or
// when there are no backends at all.
func Aggregate(snapshots []Snapshot) (Status, Summary) {
	summary := Summary{TotalBackends: len(snapshots)}
	for _, s := range snapshots {
		if s.Healthy {
			summary.HealthyBackends++
		} else {
			summary.UnhealthyBackends++
		}
	}

	switch {
	case summary.TotalBackends > 0 && summary.HealthyBackends == summary.TotalBackends:
		return StatusHealthy, summary
	case summary.HealthyBackends > 0:
		return StatusDegraded, summary
	default:
		return StatusUnhealthy, summary
	}
}
