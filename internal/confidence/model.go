// Package confidence turns raw loop signals into a single explainable
// 0-1 score. Every judgment component in the agent goes through it.
package confidence

import (
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// Factor is a named weighted sub-score feeding a calculation.
type Factor struct {
	Name      string  `json:"name"`
	Score     float64 `json:"score"`
	Weight    float64 `json:"weight"`
	Reasoning string  `json:"reasoning,omitempty"`
}

// Calculation bundles factors into one overall score.
type Calculation struct {
	Score     float64       `json:"score"`
	Factors   []Factor      `json:"factors"`
	Reasoning string        `json:"reasoning"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Metrics is a process-wide rolling snapshot for observability.
type Metrics struct {
	Calculations int64            `json:"calculations"`
	Average      float64          `json:"average"`
	Distribution map[string]int64 `json:"distribution"` // bucket -> count
	FactorUsage  map[string]int64 `json:"factor_usage"`
}

// Model scores factor sets and keeps rolling metrics. Safe for concurrent use.
type Model struct {
	logger *log.Logger

	mu           sync.Mutex
	count        int64
	sum          float64
	distribution map[string]int64
	factorUsage  map[string]int64
}

// NewModel creates a confidence model with empty metrics.
func NewModel(logger *log.Logger) *Model {
	if logger == nil {
		logger = log.New(log.Writer(), "[CONFIDENCE] ", log.LstdFlags)
	}
	return &Model{
		logger:       logger,
		distribution: make(map[string]int64),
		factorUsage:  make(map[string]int64),
	}
}

// Score computes the weighted mean of the factors, clamped to [0,1].
// It never fails: an empty or zero-weight factor set scores 0.
func (m *Model) Score(factors []Factor) Calculation {
	start := time.Now()

	var weighted, totalWeight float64
	for _, f := range factors {
		if math.IsNaN(f.Score) || math.IsInf(f.Score, 0) || f.Weight <= 0 {
			continue
		}
		weighted += f.Score * f.Weight
		totalWeight += f.Weight
	}

	score := 0.0
	if totalWeight > 0 {
		score = Clamp(weighted / totalWeight)
	}

	calc := Calculation{
		Score:     score,
		Factors:   factors,
		Reasoning: explain(score, factors),
		Elapsed:   time.Since(start),
	}
	m.record(calc)
	return calc
}

// explain buckets factors into strong (>=0.7) and weak (<0.4) groups and
// states which group dominates.
func explain(score float64, factors []Factor) string {
	var strong, weak []string
	for _, f := range factors {
		switch {
		case f.Score >= 0.7:
			strong = append(strong, f.Name)
		case f.Score < 0.4:
			weak = append(weak, f.Name)
		}
	}
	sort.Strings(strong)
	sort.Strings(weak)

	switch {
	case len(strong) > 0 && len(strong) >= len(weak):
		return fmt.Sprintf("confidence %.2f driven by strong signals: %s", score, strings.Join(strong, ", "))
	case len(weak) > 0:
		return fmt.Sprintf("confidence %.2f pulled down by weak signals: %s", score, strings.Join(weak, ", "))
	default:
		return fmt.Sprintf("confidence %.2f from uniformly moderate signals", score)
	}
}

func (m *Model) record(calc Calculation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count++
	m.sum += calc.Score
	m.distribution[bucket(calc.Score)]++
	for _, f := range calc.Factors {
		m.factorUsage[f.Name]++
	}
}

func bucket(score float64) string {
	switch {
	case score >= 0.8:
		return "0.8-1.0"
	case score >= 0.6:
		return "0.6-0.8"
	case score >= 0.4:
		return "0.4-0.6"
	case score >= 0.2:
		return "0.2-0.4"
	default:
		return "0.0-0.2"
	}
}

// Snapshot returns a copy of the rolling metrics.
func (m *Model) Snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := Metrics{
		Calculations: m.count,
		Distribution: make(map[string]int64, len(m.distribution)),
		FactorUsage:  make(map[string]int64, len(m.factorUsage)),
	}
	if m.count > 0 {
		out.Average = m.sum / float64(m.count)
	}
	for k, v := range m.distribution {
		out.Distribution[k] = v
	}
	for k, v := range m.factorUsage {
		out.FactorUsage[k] = v
	}
	return out
}

// Reset clears rolling metrics. Explicit so callers own the lifecycle.
func (m *Model) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count = 0
	m.sum = 0
	m.distribution = make(map[string]int64)
	m.factorUsage = make(map[string]int64)
}

// Validate checks an externally supplied confidence value before the loop
// trusts it. It returns all issues found rather than stopping at the first.
func Validate(score float64) (bool, []string) {
	var issues []string
	if math.IsNaN(score) {
		issues = append(issues, "score is NaN")
	}
	if math.IsInf(score, 0) {
		issues = append(issues, "score is infinite")
	}
	if len(issues) == 0 {
		if score < 0 {
			issues = append(issues, "score below 0")
		}
		if score > 1 {
			issues = append(issues, "score above 1")
		}
	}
	return len(issues) == 0, issues
}

// Clamp bounds v to [0,1].
func Clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
