// Package telemetry aggregates loop-level metrics and exposes them both as
// an in-process snapshot and as Prometheus collectors.
package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Snapshot is the point-in-time aggregate for the API and logs.
type Snapshot struct {
	SessionsStarted    int64         `json:"sessions_started"`
	SessionsCompleted  int64         `json:"sessions_completed"`
	SessionsFailed     int64         `json:"sessions_failed"`
	SessionsClarifying int64         `json:"sessions_clarifying"`
	CacheHits          int64         `json:"cache_hits"`
	TotalIterations    int64         `json:"total_iterations"`
	AverageDuration    time.Duration `json:"average_duration"`
}

// Telemetry is safe for concurrent use.
type Telemetry struct {
	mu            sync.RWMutex
	snap          Snapshot
	totalDuration time.Duration
	finished      int64

	sessionsTotal   *prometheus.CounterVec
	cacheHitsTotal  prometheus.Counter
	iterationsHist  prometheus.Histogram
	durationSeconds prometheus.Histogram
}

// New creates the aggregator and registers its collectors. A nil registerer
// uses the default one.
func New(reg prometheus.Registerer) *Telemetry {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	t := &Telemetry{
		sessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sift",
			Name:      "sessions_total",
			Help:      "Sessions by outcome.",
		}, []string{"outcome"}),
		cacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sift",
			Name:      "plan_cache_hits_total",
			Help:      "Sessions answered from the plan cache.",
		}),
		iterationsHist: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sift",
			Name:      "session_iterations",
			Help:      "Loop iterations per finished session.",
			Buckets:   []float64{1, 2, 3, 5, 7, 10},
		}),
		durationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sift",
			Name:      "session_duration_seconds",
			Help:      "Wall time per finished session.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(t.sessionsTotal, t.cacheHitsTotal, t.iterationsHist, t.durationSeconds)
	return t
}

// SessionStarted records a new session.
func (t *Telemetry) SessionStarted() {
	t.mu.Lock()
	t.snap.SessionsStarted++
	t.mu.Unlock()
	t.sessionsTotal.WithLabelValues("started").Inc()
}

// SessionFinished records a terminal outcome.
func (t *Telemetry) SessionFinished(outcome string, iterations int, duration time.Duration) {
	t.mu.Lock()
	switch outcome {
	case "completed":
		t.snap.SessionsCompleted++
	case "failed":
		t.snap.SessionsFailed++
	}
	t.snap.TotalIterations += int64(iterations)
	t.totalDuration += duration
	t.finished++
	t.snap.AverageDuration = t.totalDuration / time.Duration(t.finished)
	t.mu.Unlock()

	t.sessionsTotal.WithLabelValues(outcome).Inc()
	t.iterationsHist.Observe(float64(iterations))
	t.durationSeconds.Observe(duration.Seconds())
}

// SessionClarifying records a session paused on a question.
func (t *Telemetry) SessionClarifying() {
	t.mu.Lock()
	t.snap.SessionsClarifying++
	t.mu.Unlock()
	t.sessionsTotal.WithLabelValues("clarifying").Inc()
}

// CacheHit records a plan-cache fast path.
func (t *Telemetry) CacheHit() {
	t.mu.Lock()
	t.snap.CacheHits++
	t.mu.Unlock()
	t.cacheHitsTotal.Inc()
}

// Current copies the snapshot.
func (t *Telemetry) Current() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap
}
