package core

import (
	"context"
	"time"
)

// Query represents the immutable original search request for a session.
type Query struct {
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// AmbiguityType classifies what makes a span of the query underspecified.
type AmbiguityType string

const (
	AmbiguitySubjective   AmbiguityType = "subjective_criteria"
	AmbiguityQuantitative AmbiguityType = "quantitative"
	AmbiguityTechnical    AmbiguityType = "technical"
	AmbiguityScope        AmbiguityType = "scope"
	AmbiguityContext      AmbiguityType = "context"
	AmbiguityTemporal     AmbiguityType = "temporal"
	AmbiguityComparative  AmbiguityType = "comparative"
)

// Severity levels for ambiguities.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// ResolutionOption is one candidate answer to a clarification question.
type ResolutionOption struct {
	ID         string  `json:"id"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	// Rewrite, when present, replaces the whole query once the option is chosen.
	Rewrite string `json:"rewrite,omitempty"`
}

// Ambiguity is a detected portion of a query whose meaning is underspecified.
type Ambiguity struct {
	ID          string             `json:"id"`
	Type        AmbiguityType      `json:"type"`
	Severity    string             `json:"severity"`
	MatchedText string             `json:"matched_text"`
	Position    int                `json:"position"`
	Questions   []string           `json:"questions"`
	Options     []ResolutionOption `json:"options"`
}

// ClarificationRequest ties one question to the ambiguity ids it addresses.
type ClarificationRequest struct {
	ID           string             `json:"id"`
	SessionID    string             `json:"session_id"`
	Question     string             `json:"question"`
	Options      []ResolutionOption `json:"options"`
	AmbiguityIDs []string           `json:"ambiguity_ids"`
	CreatedAt    time.Time          `json:"created_at"`
}

// ClarificationResponse selects an option or supplies free text.
type ClarificationResponse struct {
	RequestID  string  `json:"request_id"`
	OptionID   string  `json:"option_id,omitempty"`
	FreeText   string  `json:"free_text,omitempty"`
	Confidence float64 `json:"confidence"`
}

// ClarificationRound records one completed question/response exchange.
type ClarificationRound struct {
	Question   string    `json:"question"`
	Response   string    `json:"response"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// QueryRefinement records an original->refined query transition.
type QueryRefinement struct {
	Original  string    `json:"original"`
	Refined   string    `json:"refined"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// QueryContext is the mutable per-session interpretation of the query.
// It is owned exclusively by the session loop and never shared across sessions.
type QueryContext struct {
	Intent               string                 `json:"intent"`
	Entities             map[string]interface{} `json:"entities"`
	Constraints          map[string]interface{} `json:"constraints"`
	Ambiguities          []Ambiguity            `json:"ambiguities"`
	ClarificationHistory []ClarificationRound   `json:"clarification_history"`
	RefinementHistory    []QueryRefinement      `json:"refinement_history"`
}

// NewQueryContext returns an empty context with initialized maps.
func NewQueryContext() *QueryContext {
	return &QueryContext{
		Entities:    make(map[string]interface{}),
		Constraints: make(map[string]interface{}),
	}
}

// HasPriorContext reports whether any interpretation has been accumulated,
// which is what pronoun resolution needs to anchor against.
func (c *QueryContext) HasPriorContext() bool {
	if c == nil {
		return false
	}
	return c.Intent != "" || len(c.Entities) > 0 || len(c.ClarificationHistory) > 0
}

// Result is a single catalog entry returned by a tool invocation.
type Result struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	PricingTier string   `json:"pricing_tier"` // free, freemium, paid
	Price       float64  `json:"price"`
	Rating      float64  `json:"rating"`
	Tags        []string `json:"tags,omitempty"`
	Score       float64  `json:"score"`
}

// Phase tags the loop position of a session state.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseAnalyzing  Phase = "analyzing"
	PhasePlanning   Phase = "planning"
	PhaseExecuting  Phase = "executing"
	PhaseEvaluating Phase = "evaluating"
	PhaseClarifying Phase = "clarifying"
	PhaseCompleted  Phase = "completed"
	PhaseError      Phase = "error"
)

// ToolInvocation is one append-only tool history entry.
type ToolInvocation struct {
	Tool        string                 `json:"tool"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
	ResultCount int                    `json:"result_count"`
	Confidence  float64                `json:"confidence"`
	Reasoning   string                 `json:"reasoning,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}

// StateMetadata carries bookkeeping that does not affect loop decisions.
type StateMetadata struct {
	StartedAt       time.Time `json:"started_at"`
	PlanningSteps   int       `json:"planning_steps"`
	ExecutionSteps  int       `json:"execution_steps"`
	EvaluationSteps int       `json:"evaluation_steps"`
	HasError        bool      `json:"has_error"`
	ErrorMessage    string    `json:"error_message,omitempty"`
}

// StateTransition records one phase change for diagnostics.
type StateTransition struct {
	From       Phase     `json:"from"`
	To         Phase     `json:"to"`
	Reason     string    `json:"reason"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// AgentState is the full loop state for one session. Callers never mutate it
// in place; StateManager functions return updated copies.
type AgentState struct {
	Query            Query             `json:"query"`
	Results          []Result          `json:"results"`
	Iteration        int               `json:"iteration"`
	Completed        bool              `json:"completed"`
	ConfidenceScores []float64         `json:"confidence_scores"`
	ToolHistory      []ToolInvocation  `json:"tool_history"`
	Confidence       float64           `json:"confidence"`
	Phase            Phase             `json:"phase"`
	Transitions      []StateTransition `json:"transitions,omitempty"`
	Metadata         StateMetadata     `json:"metadata"`
}

// ActionType enumerates planner action variants.
type ActionType string

const (
	ActionAnalyze    ActionType = "analyze"
	ActionClarify    ActionType = "clarify"
	ActionSelectTool ActionType = "select_tool"
	ActionExecute    ActionType = "execute"
	ActionEvaluate   ActionType = "evaluate"
	ActionIterate    ActionType = "iterate"
	ActionComplete   ActionType = "complete"
	ActionError      ActionType = "error"
)

// PlanningAction is the chosen next step for the current iteration.
type PlanningAction struct {
	Type       ActionType             `json:"type"`
	Confidence float64                `json:"confidence"`
	Reasoning  string                 `json:"reasoning"`
	Tool       string                 `json:"tool,omitempty"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	NextPhase  Phase                  `json:"next_phase,omitempty"`
}

// PlanningResult bundles the primary action with ranked alternatives.
type PlanningResult struct {
	Action       PlanningAction   `json:"action"`
	Alternatives []PlanningAction `json:"alternatives,omitempty"`
	RuleID       string           `json:"rule_id,omitempty"`
	RuleName     string           `json:"rule_name,omitempty"`
	Elapsed      time.Duration    `json:"elapsed"`
}

// Planner produces the next action for a (context, state) pair. The rules
// planner and the LLM planner share this contract so they are interchangeable.
type Planner interface {
	PlanNextAction(ctx context.Context, qc *QueryContext, state AgentState) (PlanningResult, error)
}

// ExecutionRequest describes one tool invocation.
type ExecutionRequest struct {
	Tool       string                 `json:"tool"`
	Parameters map[string]interface{} `json:"parameters"`
	Context    *QueryContext          `json:"-"`
	State      AgentState             `json:"-"`
	Priority   int                    `json:"priority"`
	Timeout    time.Duration          `json:"timeout,omitempty"`
}

// ExecutionResult is the structured outcome of a tool invocation. It is
// always returned, success or not.
type ExecutionResult struct {
	Success      bool          `json:"success"`
	Data         interface{}   `json:"data,omitempty"`
	Err          error         `json:"-"`
	Elapsed      time.Duration `json:"elapsed"`
	Confidence   float64       `json:"confidence"`
	Attempts     int           `json:"attempts"`
	FallbackUsed bool          `json:"fallback_used"`
	ResultCount  int           `json:"result_count"`
}

// QualityCheck is a single named, scored, pass/fail assessment of the
// current result set.
type QualityCheck struct {
	Name        string   `json:"name"`
	Passed      bool     `json:"passed"`
	Score       float64  `json:"score"`
	Reasoning   string   `json:"reasoning"`
	Suggestions []string `json:"suggestions,omitempty"`
	Priority    string   `json:"priority"` // high, medium, low
}

// EvaluationCriteria are the five weighted judgment dimensions, each in [0,1].
type EvaluationCriteria struct {
	Relevance    float64 `json:"relevance"`
	Completeness float64 `json:"completeness"`
	Accuracy     float64 `json:"accuracy"`
	Quality      float64 `json:"quality"`
	Confidence   float64 `json:"confidence"`
}

// EvaluationResult decides whether the loop should continue.
type EvaluationResult struct {
	Criteria        EvaluationCriteria `json:"criteria"`
	Checks          []QualityCheck     `json:"checks"`
	Overall         float64            `json:"overall"`
	ShouldContinue  bool               `json:"should_continue"`
	NextAction      string             `json:"next_action"`
	Reasoning       string             `json:"reasoning"`
	Recommendations []string           `json:"recommendations,omitempty"`
	Depth           string             `json:"depth"`
	Elapsed         time.Duration      `json:"elapsed"`
	ResultCount     int                `json:"result_count"`
	Iteration       int                `json:"iteration"`
}

// ErrorContext describes a failure handed to the recovery subsystem.
type ErrorContext struct {
	Component  string                 `json:"component"`
	Operation  string                 `json:"operation"`
	Err        error                  `json:"-"`
	Timestamp  time.Time              `json:"timestamp"`
	RetryCount int                    `json:"retry_count"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}

// RecoveryResult is what a recovery strategy produced.
type RecoveryResult struct {
	Success      bool        `json:"success"`
	Recovered    bool        `json:"recovered"`
	Data         interface{} `json:"data,omitempty"`
	Action       string      `json:"action"`
	Message      string      `json:"message"`
	ShouldRetry  bool        `json:"should_retry"`
	NextStrategy string      `json:"next_strategy,omitempty"`
	Confidence   float64     `json:"confidence"`
}

// LLMProvider is the contract the LLM-backed planner generates through.
type LLMProvider interface {
	Generate(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, error)
}

// CachedPlan is a memoized outcome of a prior session for the same query.
type CachedPlan struct {
	Query      string           `json:"query"`
	Intent     string           `json:"intent"`
	ToolTrace  []ToolInvocation `json:"tool_trace"`
	Results    []Result         `json:"results"`
	Confidence float64          `json:"confidence"`
	ElapsedMS  int64            `json:"elapsed_ms"`
	StoredAt   time.Time        `json:"stored_at"`
}

// PlanCache memoizes winning plans keyed by normalized query. A cache error
// must degrade to the full loop, never fail the session.
type PlanCache interface {
	Lookup(ctx context.Context, query string) (CachedPlan, bool, error)
	Store(ctx context.Context, plan CachedPlan) error
}
