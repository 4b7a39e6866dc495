// Package recovery turns component failures into usable, possibly degraded
// results via an ordered list of pluggable strategies.
package recovery

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/sift-labs/sift/internal/agent/core"
)

// Strategy attempts to turn one class of failure into a usable result.
type Strategy interface {
	Name() string
	Priority() int
	CanHandle(ctx core.ErrorContext) bool
	Execute(ctx core.ErrorContext) core.RecoveryResult
}

// StrategyMetrics is the per-strategy usage snapshot.
type StrategyMetrics struct {
	Attempts  int64 `json:"attempts"`
	Recovered int64 `json:"recovered"`
}

// Metrics aggregates recovery outcomes across the process.
type Metrics struct {
	Handled        int64                      `json:"handled"`
	Recovered      int64                      `json:"recovered"`
	Failed         int64                      `json:"failed"`
	AverageLatency time.Duration              `json:"average_latency"`
	PerStrategy    map[string]StrategyMetrics `json:"per_strategy"`
}

// Manager evaluates strategies highest-priority-first; the first one that
// claims the error and recovers wins.
type Manager struct {
	logger *log.Logger

	mu           sync.RWMutex
	strategies   []Strategy
	handled      int64
	recovered    int64
	failed       int64
	totalLatency time.Duration
	perStrategy  map[string]*StrategyMetrics
}

// NewManager creates a manager with the supplied strategies, sorted once by
// descending priority. Registration after construction re-sorts explicitly.
func NewManager(logger *log.Logger, strategies ...Strategy) *Manager {
	if logger == nil {
		logger = log.New(log.Writer(), "[RECOVERY] ", log.LstdFlags)
	}
	m := &Manager{logger: logger, perStrategy: make(map[string]*StrategyMetrics)}
	m.strategies = append(m.strategies, strategies...)
	m.sortLocked()
	return m
}

// NewDefaultManager wires the built-in strategy set.
func NewDefaultManager(logger *log.Logger) *Manager {
	return NewManager(logger,
		&parseRecovery{},
		&validationRecovery{},
		&toolExecutionRecovery{},
		&networkRecovery{},
		&memoryPressureRecovery{},
	)
}

// Register adds a strategy and re-sorts the list.
func (m *Manager) Register(s Strategy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strategies = append(m.strategies, s)
	m.sortLocked()
}

// Remove drops a strategy by name.
func (m *Manager) Remove(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.strategies {
		if s.Name() == name {
			m.strategies = append(m.strategies[:i], m.strategies[i+1:]...)
			return true
		}
	}
	return false
}

func (m *Manager) sortLocked() {
	sort.SliceStable(m.strategies, func(i, j int) bool {
		return m.strategies[i].Priority() > m.strategies[j].Priority()
	})
}

// Handle walks the strategies in priority order. A strategy's own failure is
// caught and the scan continues; if nothing recovers the caller gets a
// non-recovered "fail" result rather than an error.
func (m *Manager) Handle(ctx core.ErrorContext) core.RecoveryResult {
	start := time.Now()
	if ctx.Timestamp.IsZero() {
		ctx.Timestamp = time.Now()
	}

	m.mu.RLock()
	strategies := make([]Strategy, len(m.strategies))
	copy(strategies, m.strategies)
	m.mu.RUnlock()

	for _, s := range strategies {
		if !safeCanHandle(s, ctx) {
			continue
		}
		res := safeExecute(s, ctx)
		m.recordAttempt(s.Name(), res.Recovered)
		if res.Recovered {
			m.logger.Printf("recovered %s/%s via %s (confidence %.2f)", ctx.Component, ctx.Operation, s.Name(), res.Confidence)
			m.recordOutcome(true, time.Since(start))
			return res
		}
		if res.ShouldRetry {
			// Retry signals are terminal for this pass; the caller owns
			// the backoff.
			m.recordOutcome(false, time.Since(start))
			return res
		}
	}

	m.recordOutcome(false, time.Since(start))
	return core.RecoveryResult{
		Success:   false,
		Recovered: false,
		Action:    "fail",
		Message:   fmt.Sprintf("no strategy recovered %s/%s: %v", ctx.Component, ctx.Operation, ctx.Err),
	}
}

func safeCanHandle(s Strategy, ctx core.ErrorContext) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	return s.CanHandle(ctx)
}

func safeExecute(s Strategy, ctx core.ErrorContext) (res core.RecoveryResult) {
	defer func() {
		if r := recover(); r != nil {
			res = core.RecoveryResult{Action: "fail", Message: fmt.Sprintf("strategy %s panicked: %v", s.Name(), r)}
		}
	}()
	return s.Execute(ctx)
}

func (m *Manager) recordAttempt(name string, recovered bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sm := m.perStrategy[name]
	if sm == nil {
		sm = &StrategyMetrics{}
		m.perStrategy[name] = sm
	}
	sm.Attempts++
	if recovered {
		sm.Recovered++
	}
}

func (m *Manager) recordOutcome(recovered bool, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handled++
	m.totalLatency += latency
	if recovered {
		m.recovered++
	} else {
		m.failed++
	}
}

// Snapshot returns a copy of the recovery metrics.
func (m *Manager) Snapshot() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := Metrics{
		Handled:     m.handled,
		Recovered:   m.recovered,
		Failed:      m.failed,
		PerStrategy: make(map[string]StrategyMetrics, len(m.perStrategy)),
	}
	if m.handled > 0 {
		out.AverageLatency = m.totalLatency / time.Duration(m.handled)
	}
	for k, v := range m.perStrategy {
		out.PerStrategy[k] = *v
	}
	return out
}
