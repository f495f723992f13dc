package healthcheck

import (
	"sync"
	"time"
)

const (
	DefaultFailureThreshold = 3
	DefaultSuccessThreshold = 2
)

// Thresholds are the consecutive poll counts needed to flip a record.
type Thresholds struct {
	Failure int
	Success int
}

// DefaultThresholds returns 3 failures / 2 successes.
func DefaultThresholds() Thresholds {
	return Thresholds{Failure: DefaultFailureThreshold, Success: DefaultSuccessThreshold}
}

// Snapshot is a point-in-time copy of a Record.
type Snapshot struct {
	BackendID            string    `json:"backend_id"`
	Healthy              bool      `json:"healthy"`
	ConsecutiveSuccesses int       `json:"consecutive_successes"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	LastCheck            time.Time `json:"last_check"`
}

// Record is the health state of one backend. It starts unhealthy.
type Record struct {
	mutex                sync.RWMutex
	backendID            string
	healthy              bool
	consecutiveSuccesses int
	consecutiveFailures  int
	lastCheck            time.Time
}

// Observe folds one poll result into the record and reports whether the
// healthy flag changed.
func (r *Record) Observe(success bool, at time.Time, th Thresholds) (Snapshot, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if success {
		r.consecutiveSuccesses++
		r.consecutiveFailures = 0
	} else {
		r.consecutiveFailures++
		r.consecutiveSuccesses = 0
	}

	before := r.healthy
	switch {
	case r.consecutiveFailures >= th.Failure:
		r.healthy = false
	case r.consecutiveSuccesses >= th.Success:
		r.healthy = true
	}
	r.lastCheck = at

	return r.snapshotLocked(), before != r.healthy
}

// Healthy returns the current flag.
func (r *Record) Healthy() bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.healthy
}

// Snapshot returns a copy of the record.
func (r *Record) Snapshot() Snapshot {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.snapshotLocked()
}

func (r *Record) snapshotLocked() Snapshot {
	return Snapshot{
		BackendID:            r.backendID,
		Healthy:              r.healthy,
		ConsecutiveSuccesses: r.consecutiveSuccesses,
		ConsecutiveFailures:  r.consecutiveFailures,
		LastCheck:            r.lastCheck,
	}
}

// Table maps backend ids to records. The set of ids is fixed at construction,
// so the map itself needs no lock; each record guards its own fields.
type Table struct {
	records map[string]*Record
	order   []string
}

// NewTable creates one unhealthy record per id.
func NewTable(ids ...string) *Table {
	t := &Table{
		records: make(map[string]*Record, len(ids)),
		order:   make([]string, 0, len(ids)),
	}
	for _, id := range ids {
		if _, exists := t.records[id]; exists {
			continue
		}
		t.records[id] = &Record{backendID: id}
		t.order = append(t.order, id)
	}
	return t
}

// Record returns the record for id.
func (t *Table) Record(id string) (*Record, bool) {
	r, ok := t.records[id]
	return r, ok
}

// IsHealthy reports the last computed state; unknown ids are unhealthy.
func (t *Table) IsHealthy(id string) bool {
	r, ok := t.records[id]
	if !ok {
		return false
	}
	return r.Healthy()
}

// Snapshot returns a copy of the record for id.
func (t *Table) Snapshot(id string) (Snapshot, bool) {
	r, ok := t.records[id]
	if !ok {
		return Snapshot{}, false
	}
	return r.Snapshot(), true
}

// Snapshots returns a copy of every record in table order.
func (t *Table) Snapshots() []Snapshot {
	out := make([]Snapshot, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.records[id].Snapshot())
	}
	return out
}
