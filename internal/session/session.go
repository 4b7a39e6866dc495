// Package session runs the confidence-gated search loop end to end:
// analyze, clarify, plan, execute, evaluate, repeat until the evidence says
// stop.
package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sift-labs/sift/internal/agent/core"
	"github.com/sift-labs/sift/internal/agent/telemetry"
	"github.com/sift-labs/sift/internal/ambiguity"
	"github.com/sift-labs/sift/internal/evaluator"
	"github.com/sift-labs/sift/internal/executor"
	"github.com/sift-labs/sift/internal/recovery"
	"github.com/sift-labs/sift/internal/state"
)

// Session status values.
const (
	StatusRunning    = "running"
	StatusClarifying = "clarifying"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// maxSteps bounds the loop independently of the iteration counter so a
// planning cycle that never executes anything still terminates.
const maxSteps = 40

// cacheConfidenceFloor is the minimum cached-plan confidence worth reusing.
const cacheConfidenceFloor = 0.7

// Session is one query's lifecycle. The service keeps the live instance to
// itself and hands out snapshots; mu serializes loop mutation against reads.
type Session struct {
	ID            string                     `json:"id"`
	Query         core.Query                 `json:"query"`
	Context       *core.QueryContext         `json:"context"`
	State         core.AgentState            `json:"state"`
	Clarification *core.ClarificationRequest `json:"clarification,omitempty"`
	Evaluation    *core.EvaluationResult     `json:"evaluation,omitempty"`
	Status        string                     `json:"status"`
	FromCache     bool                       `json:"from_cache"`
	Faults        []string                   `json:"faults,omitempty"`
	StartedAt     time.Time                  `json:"started_at"`
	FinishedAt    time.Time                  `json:"finished_at,omitempty"`

	mu sync.Mutex
}

// snapshot deep-copies the session so callers can read and marshal it while
// the loop keeps mutating the live instance. Caller holds mu.
func (sess *Session) snapshot() *Session {
	out := &Session{
		ID:         sess.ID,
		Query:      sess.Query,
		State:      copyState(sess.State),
		Status:     sess.Status,
		FromCache:  sess.FromCache,
		Faults:     append([]string(nil), sess.Faults...),
		StartedAt:  sess.StartedAt,
		FinishedAt: sess.FinishedAt,
	}
	if sess.Context != nil {
		out.Context = copyContext(sess.Context)
	}
	if sess.Clarification != nil {
		c := *sess.Clarification
		c.Options = append([]core.ResolutionOption(nil), sess.Clarification.Options...)
		c.AmbiguityIDs = append([]string(nil), sess.Clarification.AmbiguityIDs...)
		out.Clarification = &c
	}
	if sess.Evaluation != nil {
		ev := *sess.Evaluation
		ev.Checks = append([]core.QualityCheck(nil), sess.Evaluation.Checks...)
		ev.Recommendations = append([]string(nil), sess.Evaluation.Recommendations...)
		out.Evaluation = &ev
	}
	return out
}

func copyState(st core.AgentState) core.AgentState {
	st.Results = append([]core.Result(nil), st.Results...)
	st.ConfidenceScores = append([]float64(nil), st.ConfidenceScores...)
	st.ToolHistory = append([]core.ToolInvocation(nil), st.ToolHistory...)
	st.Transitions = append([]core.StateTransition(nil), st.Transitions...)
	return st
}

func copyContext(qc *core.QueryContext) *core.QueryContext {
	out := &core.QueryContext{
		Intent:               qc.Intent,
		Entities:             make(map[string]interface{}, len(qc.Entities)),
		Constraints:          make(map[string]interface{}, len(qc.Constraints)),
		Ambiguities:          append([]core.Ambiguity(nil), qc.Ambiguities...),
		ClarificationHistory: append([]core.ClarificationRound(nil), qc.ClarificationHistory...),
		RefinementHistory:    append([]core.QueryRefinement(nil), qc.RefinementHistory...),
	}
	for k, v := range qc.Entities {
		out.Entities[k] = v
	}
	for k, v := range qc.Constraints {
		out.Constraints[k] = v
	}
	return out
}

// Config wires the service's collaborators. Cache and Metrics are optional.
type Config struct {
	Detector  *ambiguity.Detector
	Planner   core.Planner
	Executor  *executor.Executor
	Evaluator *evaluator.Evaluator
	States    *state.Manager
	Recovery  *recovery.Manager
	Cache     core.PlanCache
	Metrics   *telemetry.Telemetry
	Logger    *log.Logger
}

// Service owns the active sessions and runs the loop.
type Service struct {
	cfg    Config
	tracer trace.Tracer
	logger *log.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewService validates the required collaborators and returns a service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Detector == nil || cfg.Planner == nil || cfg.Executor == nil || cfg.Evaluator == nil || cfg.States == nil || cfg.Recovery == nil {
		return nil, fmt.Errorf("session service is missing a required collaborator")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[SESSION] ", log.LstdFlags)
	}
	return &Service{
		cfg:      cfg,
		tracer:   otel.Tracer("sift/session"),
		logger:   cfg.Logger,
		sessions: make(map[string]*Session),
	}, nil
}

// Start runs a new session for the query text. It returns when the session
// completes, fails, or pauses on a clarification question.
func (s *Service) Start(ctx context.Context, text string) (*Session, error) {
	if text == "" {
		return nil, core.ValidationError{Field: "query", Reason: "query text is required"}
	}

	sess := &Session{
		ID:        uuid.NewString(),
		Query:     core.Query{SessionID: "", Text: text, CreatedAt: time.Now()},
		Context:   core.NewQueryContext(),
		Status:    StatusRunning,
		StartedAt: time.Now(),
	}
	sess.Query.SessionID = sess.ID
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.SessionStarted()
	}

	ctx, span := s.tracer.Start(ctx, "session.run", trace.WithAttributes(
		attribute.String("session.id", sess.ID),
	))
	defer span.End()

	if cached, ok := s.tryCache(ctx, sess); ok {
		s.put(cached)
		return cached.snapshot(), nil
	}

	sess.State = s.cfg.States.CreateInitial(sess.Query)
	s.put(sess)

	err := s.run(ctx, sess)
	return sess.snapshot(), err
}

// Resume feeds a clarification answer back into a paused session and
// continues the loop.
func (s *Service) Resume(ctx context.Context, sessionID string, resp core.ClarificationResponse) (*Session, error) {
	sess, ok := s.lookup(sessionID)
	if !ok {
		return nil, core.NotFoundError{Kind: "session", Name: sessionID}
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.Status != StatusClarifying || sess.Clarification == nil {
		return nil, core.ValidationError{Field: "session", Reason: "session is not waiting for clarification"}
	}

	refined, conf, _, err := s.cfg.Detector.Resolve(resp, sess.Query, sess.Context)
	if err != nil {
		return nil, err
	}

	s.logger.Printf("session %s clarified, query now %q (confidence %.2f)", sess.ID, refined, conf)
	sess.Query.Text = refined
	sess.State.Query.Text = refined
	sess.Clarification = nil
	sess.Status = StatusRunning

	// The refined wording may surface new ambiguities of its own.
	sess.Context.Ambiguities = s.cfg.Detector.Detect(refined, sess.Context)

	ctx, span := s.tracer.Start(ctx, "session.resume", trace.WithAttributes(
		attribute.String("session.id", sess.ID),
	))
	defer span.End()

	err = s.run(ctx, sess)
	return sess.snapshot(), err
}

// Get returns a point-in-time copy of a session by ID. The copy is safe to
// read and marshal while the loop keeps running.
func (s *Service) Get(id string) (*Session, bool) {
	sess, ok := s.lookup(id)
	if !ok {
		return nil, false
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.snapshot(), true
}

func (s *Service) lookup(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

func (s *Service) put(sess *Session) {
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
}

// tryCache answers the session from the plan cache when a confident prior
// run exists. Cache failures degrade silently to the full loop.
func (s *Service) tryCache(ctx context.Context, sess *Session) (*Session, bool) {
	if s.cfg.Cache == nil {
		return nil, false
	}
	plan, hit, err := s.cfg.Cache.Lookup(ctx, sess.Query.Text)
	if err != nil {
		s.logger.Printf("plan cache lookup failed, running the full loop: %v", err)
		return nil, false
	}
	if !hit || plan.Confidence < cacheConfidenceFloor {
		return nil, false
	}

	st := s.cfg.States.CreateInitial(sess.Query)
	st.Results = append([]core.Result{}, plan.Results...)
	st.ToolHistory = append([]core.ToolInvocation{}, plan.ToolTrace...)
	st.Confidence = plan.Confidence
	st.ConfidenceScores = []float64{plan.Confidence}
	st.Iteration = 1
	st = s.cfg.States.Transition(st, core.PhaseCompleted, "answered from plan cache")

	sess.State = st
	sess.Context.Intent = plan.Intent
	sess.Status = StatusCompleted
	sess.FromCache = true
	sess.FinishedAt = time.Now()

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.CacheHit()
		s.cfg.Metrics.SessionFinished("completed", st.Iteration, time.Since(sess.StartedAt))
	}
	s.logger.Printf("session %s answered from cache (%d results)", sess.ID, len(st.Results))
	return sess, true
}

// run drives the plan/act loop until a terminal status.
func (s *Service) run(ctx context.Context, sess *Session) error {
	for step := 0; step < maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			s.fail(sess, fmt.Sprintf("context cancelled: %v", err))
			return err
		}

		planRes, err := s.cfg.Planner.PlanNextAction(ctx, sess.Context, sess.State)
		if err != nil {
			s.fail(sess, fmt.Sprintf("planning failed: %v", err))
			return err
		}
		action := planRes.Action

		_, actionSpan := s.tracer.Start(ctx, "session.action", trace.WithAttributes(
			attribute.String("action.type", string(action.Type)),
			attribute.String("action.tool", action.Tool),
			attribute.String("rule.id", planRes.RuleID),
			attribute.Int("iteration", sess.State.Iteration),
		))

		var done bool
		switch action.Type {
		case core.ActionAnalyze:
			s.analyze(sess)
		case core.ActionClarify:
			done = s.clarify(sess)
			if done {
				actionSpan.End()
				return nil
			}
		case core.ActionExecute, core.ActionSelectTool, core.ActionIterate:
			done = s.executeAndEvaluate(ctx, sess, action)
		case core.ActionComplete:
			s.complete(ctx, sess, action.Reasoning)
			done = true
		case core.ActionError:
			s.fail(sess, action.Reasoning)
			done = true
		default:
			s.fail(sess, fmt.Sprintf("planner produced unknown action %q", action.Type))
			done = true
		}
		actionSpan.End()

		if done {
			return nil
		}
	}

	s.fail(sess, "session exceeded the step budget without completing")
	return nil
}

func (s *Service) analyze(sess *Session) {
	sess.State = s.cfg.States.Transition(sess.State, core.PhaseAnalyzing, "interpreting the query")
	analyzeQuery(sess.Query.Text, sess.Context)
	sess.Context.Ambiguities = s.cfg.Detector.Detect(sess.Query.Text, sess.Context)
	sess.State = s.cfg.States.Transition(sess.State, core.PhasePlanning, fmt.Sprintf("intent %q with %d ambiguities", sess.Context.Intent, len(sess.Context.Ambiguities)))
}

// clarify pauses the session on a question. Returns false when there is
// nothing left worth asking, in which case the remaining ambiguities are
// downgraded so the loop proceeds on best effort.
func (s *Service) clarify(sess *Session) bool {
	if s.cfg.Detector.NeedsClarification(sess.Context) {
		if req := s.cfg.Detector.BuildRequest(sess.Context.Ambiguities, sess.Query, sess.Context); req != nil {
			sess.Clarification = req
			sess.Status = StatusClarifying
			sess.State = s.cfg.States.Transition(sess.State, core.PhaseClarifying, "waiting for the user to disambiguate")
			if s.cfg.Metrics != nil {
				s.cfg.Metrics.SessionClarifying()
			}
			return true
		}
	}
	for i := range sess.Context.Ambiguities {
		if sess.Context.Ambiguities[i].Severity == core.SeverityHigh {
			sess.Context.Ambiguities[i].Severity = core.SeverityMedium
		}
	}
	return false
}

// executeAndEvaluate runs one tool and judges the outcome. An iterate action
// with no tool broadens via a fresh text search.
func (s *Service) executeAndEvaluate(ctx context.Context, sess *Session, action core.PlanningAction) bool {
	tool := action.Tool
	if tool == "" {
		tool = "search_by_text"
	}

	sess.State = s.cfg.States.Transition(sess.State, core.PhaseExecuting, fmt.Sprintf("running %s", tool))
	req := core.ExecutionRequest{
		Tool:       tool,
		Parameters: action.Parameters,
		Context:    sess.Context,
		State:      sess.State,
	}
	res := s.cfg.Executor.Execute(ctx, req)

	if !res.Success {
		rec := s.cfg.Recovery.Handle(core.ErrorContext{
			Component: "executor",
			Operation: fmt.Sprintf("invoke %s", tool),
			Err:       res.Err,
			Payload:   map[string]interface{}{"tool": tool, "parameters": action.Parameters},
		})
		sess.Faults = append(sess.Faults, fmt.Sprintf("%s: %v (recovery: %s)", tool, res.Err, rec.Action))
		if rec.Recovered {
			res.Success = true
			res.Data = rec.Data
			res.Confidence = rec.Confidence
		} else if !rec.ShouldRetry {
			s.fail(sess, fmt.Sprintf("tool %s failed without recovery: %v", tool, res.Err))
			return true
		}
	}

	sess.State = s.cfg.States.UpdateWithResults(sess.State, sess.Context, res, core.ToolInvocation{
		Tool:       tool,
		Parameters: action.Parameters,
		Confidence: res.Confidence,
		Reasoning:  action.Reasoning,
	})

	sess.State = s.cfg.States.Transition(sess.State, core.PhaseEvaluating, "judging the result set")
	eval := s.cfg.Evaluator.Evaluate(sess.Context, sess.State)
	sess.Evaluation = &eval

	if state.HasError(sess.State) {
		s.fail(sess, "confidence collapsed with no recovery path")
		return true
	}
	if !eval.ShouldContinue || state.IsComplete(sess.State) {
		s.complete(ctx, sess, eval.Reasoning)
		return true
	}

	s.applyGuidance(sess, eval.NextAction)
	sess.State = s.cfg.States.Transition(sess.State, core.PhasePlanning, eval.NextAction)
	return false
}

// applyGuidance turns the evaluator's next-action hint into context changes
// the planner will pick up.
func (s *Service) applyGuidance(sess *Session, nextAction string) {
	switch nextAction {
	case "relax_constraints":
		// Drop the tightest constraint first.
		if _, ok := sess.Context.Constraints["max_price"]; ok {
			delete(sess.Context.Constraints, "max_price")
			return
		}
		for k := range sess.Context.Constraints {
			delete(sess.Context.Constraints, k)
			return
		}
	case "broaden_search_criteria":
		delete(sess.Context.Entities, "features")
	}
}

func (s *Service) complete(ctx context.Context, sess *Session, reason string) {
	sess.State = s.cfg.States.Transition(sess.State, core.PhaseCompleted, reason)
	sess.Status = StatusCompleted
	sess.FinishedAt = time.Now()
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.SessionFinished("completed", sess.State.Iteration, time.Since(sess.StartedAt))
	}
	s.storePlan(ctx, sess)
	s.logger.Printf("session %s completed: %d results after %d iterations (confidence %.2f)",
		sess.ID, len(sess.State.Results), sess.State.Iteration, sess.State.Confidence)
}

func (s *Service) fail(sess *Session, reason string) {
	sess.State = s.cfg.States.Transition(sess.State, core.PhaseError, reason)
	sess.Status = StatusFailed
	sess.FinishedAt = time.Now()
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.SessionFinished("failed", sess.State.Iteration, time.Since(sess.StartedAt))
	}
	s.logger.Printf("session %s failed: %s", sess.ID, reason)
}

// storePlan memoizes a confident outcome. Best effort only.
func (s *Service) storePlan(ctx context.Context, sess *Session) {
	if s.cfg.Cache == nil || sess.State.Confidence < cacheConfidenceFloor || len(sess.State.Results) == 0 {
		return
	}
	plan := core.CachedPlan{
		Query:      sess.Query.Text,
		Intent:     sess.Context.Intent,
		ToolTrace:  sess.State.ToolHistory,
		Results:    sess.State.Results,
		Confidence: sess.State.Confidence,
		ElapsedMS:  time.Since(sess.StartedAt).Milliseconds(),
	}
	if err := s.cfg.Cache.Store(ctx, plan); err != nil {
		s.logger.Printf("plan cache store failed: %v", err)
	}
}
