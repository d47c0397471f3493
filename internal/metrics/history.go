package metrics

import (
	"sync"
	"time"
)

// DataPoint is one sample of the run timeline.
type DataPoint struct {
	Timestamp         time.Time `json:"timestamp"`
	ElapsedMs         float64   `json:"elapsed_ms"`
	Iterations        int64     `json:"iterations"`
	Failures          int64     `json:"failures"`
	IterationsPerSec  float64   `json:"iterations_per_sec"`
	ActiveConcurrency int       `json:"active_concurrency"`
	Target            float64   `json:"target"`
	P50Ms             float64   `json:"p50_ms"`
	P95Ms             float64   `json:"p95_ms"`
	P99Ms             float64   `json:"p99_ms"`
}

// History keeps a bounded timeline of snapshots. When full, every other
// point is discarded so the timeline keeps covering the whole run at a
// coarser resolution.
type History struct {
	mu     sync.Mutex
	limit  int
	points []DataPoint
}

// DefaultHistoryLimit bounds the timeline kept for reports.
const DefaultHistoryLimit = 3600

// NewHistory returns a History holding at most limit points.
func NewHistory(limit int) *History {
	if limit < 2 {
		limit = DefaultHistoryLimit
	}
	return &History{limit: limit}
}

// Record appends a point derived from s.
func (h *History) Record(at time.Time, s Snapshot) {
	total := s.Iterations()
	window := s.Interval[IterationDuration]
	p := DataPoint{
		Timestamp:         at,
		ElapsedMs:         s.ElapsedMs,
		Iterations:        total.Count,
		Failures:          total.Failures,
		IterationsPerSec:  window.Rate,
		ActiveConcurrency: s.Active,
		Target:            s.Target,
		P50Ms:             window.P50,
		P95Ms:             window.P95,
		P99Ms:             window.P99,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.points) >= h.limit {
		kept := h.points[:0]
		for i := 0; i < len(h.points); i += 2 {
			kept = append(kept, h.points[i])
		}
		h.points = kept
	}
	h.points = append(h.points, p)
}

// Points returns a copy of the timeline.
func (h *History) Points() []DataPoint {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]DataPoint(nil), h.points...)
}
