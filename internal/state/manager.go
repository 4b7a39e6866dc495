// Package state owns the session state lifecycle. All transitions are
// copy-on-write: callers get a new state, the input is never mutated.
package state

import (
	"fmt"
	"log"
	"time"

	"github.com/sift-labs/sift/internal/agent/core"
	"github.com/sift-labs/sift/internal/confidence"
)

const (
	maxIterations   = 10
	maxPresentable  = 50
	maxTransitions  = 100
	completionScore = 0.9
	lateStopScore   = 0.7
)

// Manager derives new states from old ones and recomputes confidence as the
// loop progresses.
type Manager struct {
	model  *confidence.Model
	logger *log.Logger
}

// NewManager creates a state manager over the given confidence model. A nil
// model gets a fresh one.
func NewManager(model *confidence.Model, logger *log.Logger) *Manager {
	if model == nil {
		model = confidence.NewModel(nil)
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[STATE] ", log.LstdFlags)
	}
	return &Manager{model: model, logger: logger}
}

// CreateInitial returns the starting state for a query.
func (m *Manager) CreateInitial(query core.Query) core.AgentState {
	return core.AgentState{
		Query:            query,
		Results:          []core.Result{},
		Iteration:        0,
		ConfidenceScores: []float64{},
		ToolHistory:      []core.ToolInvocation{},
		Phase:            core.PhaseIdle,
		Metadata:         core.StateMetadata{StartedAt: time.Now()},
	}
}

// UpdateWithResults folds one execution outcome into a new state: results
// are replaced when the tool produced a list, the invocation is appended to
// history, the iteration advances, and confidence is recomputed.
func (m *Manager) UpdateWithResults(prev core.AgentState, qc *core.QueryContext, exec core.ExecutionResult, invocation core.ToolInvocation) core.AgentState {
	next := clone(prev)
	next.Iteration++
	next.Metadata.ExecutionSteps++

	if results, ok := exec.Data.([]core.Result); ok {
		next.Results = append([]core.Result{}, results...)
	}

	invocation.ResultCount = exec.ResultCount
	if invocation.Timestamp.IsZero() {
		invocation.Timestamp = time.Now()
	}
	next.ToolHistory = append(next.ToolHistory, invocation)

	calc := m.model.Score([]confidence.Factor{
		confidence.QueryClarity(next.Query.Text),
		confidence.AmbiguityPenalty(qc.Ambiguities),
		confidence.IntentMatch(qc.Intent),
		confidence.ResultQuality(len(next.Results), exec.Success),
		confidence.Trajectory(next.ConfidenceScores),
	})
	next.Confidence = calc.Score
	next.ConfidenceScores = append(next.ConfidenceScores, calc.Score)

	m.logger.Printf("iteration %d: %d results, confidence %.2f", next.Iteration, len(next.Results), next.Confidence)
	return next
}

// Transition moves the state to a new phase and records it. The transition
// log is bounded; old entries fall off the front.
func (m *Manager) Transition(prev core.AgentState, to core.Phase, reason string) core.AgentState {
	next := clone(prev)
	next.Transitions = append(next.Transitions, core.StateTransition{
		From:       prev.Phase,
		To:         to,
		Reason:     reason,
		Confidence: prev.Confidence,
		Timestamp:  time.Now(),
	})
	if len(next.Transitions) > maxTransitions {
		next.Transitions = next.Transitions[len(next.Transitions)-maxTransitions:]
	}
	next.Phase = to
	switch to {
	case core.PhaseCompleted:
		next.Completed = true
	case core.PhaseError:
		next.Metadata.HasError = true
		if next.Metadata.ErrorMessage == "" {
			next.Metadata.ErrorMessage = reason
		}
	}
	return next
}

// IsComplete reports whether the session should stop successfully: an
// explicit completion flag, high confidence with a presentable result set,
// or the iteration cap with a decent recent average.
func IsComplete(state core.AgentState) bool {
	if state.Completed {
		return true
	}
	n := len(state.Results)
	if state.Confidence >= completionScore && n > 0 && n <= maxPresentable {
		return true
	}
	if state.Iteration >= maxIterations && recentAverage(state.ConfidenceScores, 3) >= lateStopScore {
		return true
	}
	return false
}

// HasError reports whether the session is in an unrecoverable slump: rock
// bottom confidence now, or a sustained run of bad scores.
func HasError(state core.AgentState) bool {
	if state.Metadata.HasError {
		return true
	}
	if len(state.ConfidenceScores) > 0 && state.Confidence < 0.3 {
		return true
	}
	window := state.ConfidenceScores
	if len(window) > 5 {
		window = window[len(window)-5:]
	}
	bad := 0
	for _, s := range window {
		if s < 0.4 {
			bad++
		}
	}
	return bad >= 4
}

// Validate checks the structural invariants and returns every violation it
// finds. It never panics on any input.
func Validate(state core.AgentState) []string {
	var issues []string
	if state.Iteration < 0 {
		issues = append(issues, fmt.Sprintf("iteration %d is negative", state.Iteration))
	}
	if state.Confidence < 0 || state.Confidence > 1 {
		issues = append(issues, fmt.Sprintf("confidence %v outside [0,1]", state.Confidence))
	}
	for i, s := range state.ConfidenceScores {
		if s < 0 || s > 1 {
			issues = append(issues, fmt.Sprintf("confidence score %d (%v) outside [0,1]", i, s))
		}
	}
	if state.Completed && state.Phase != core.PhaseCompleted {
		issues = append(issues, fmt.Sprintf("completed state in phase %s", state.Phase))
	}
	if len(state.ToolHistory) > 0 && state.Iteration == 0 {
		issues = append(issues, "tool history present before the first iteration")
	}
	for i := 1; i < len(state.ToolHistory); i++ {
		if state.ToolHistory[i].Timestamp.Before(state.ToolHistory[i-1].Timestamp) {
			issues = append(issues, fmt.Sprintf("tool history entry %d is out of order", i))
			break
		}
	}
	for i, r := range state.Results {
		if r.Name == "" {
			issues = append(issues, fmt.Sprintf("result %d has no name", i))
			break
		}
	}
	return issues
}

// clone deep-copies the slices so the previous state stays immutable.
func clone(s core.AgentState) core.AgentState {
	out := s
	out.Results = append([]core.Result{}, s.Results...)
	out.ConfidenceScores = append([]float64{}, s.ConfidenceScores...)
	out.ToolHistory = append([]core.ToolInvocation{}, s.ToolHistory...)
	out.Transitions = append([]core.StateTransition{}, s.Transitions...)
	return out
}

func recentAverage(scores []float64, n int) float64 {
	if len(scores) == 0 {
		return 0
	}
	if len(scores) > n {
		scores = scores[len(scores)-n:]
	}
	sum := 0.0
	for _, s := range scores {
		sum += s
	}
	return sum / float64(len(scores))
}
