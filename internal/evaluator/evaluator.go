// Package evaluator judges the current result set and decides whether the
// loop should continue.
package evaluator

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/sift-labs/sift/internal/agent/core"
)

// Evaluation depths. Deeper runs add checks; they never remove any.
const (
	DepthShallow = "shallow"
	DepthMedium  = "medium"
	DepthDeep    = "deep"
)

const (
	maxIterations     = 10
	maxPresentable    = 50
	continueThreshold = 0.7
)

// Criteria weights. They sum to 1 so the overall score stays in [0,1].
var criteriaWeights = map[string]float64{
	"relevance":    0.3,
	"completeness": 0.2,
	"accuracy":     0.2,
	"quality":      0.2,
	"confidence":   0.1,
}

// Evaluator is stateless apart from its logger; every call judges the given
// state snapshot on its own.
type Evaluator struct {
	logger *log.Logger
}

// New returns an evaluator.
func New(logger *log.Logger) *Evaluator {
	if logger == nil {
		logger = log.New(log.Writer(), "[EVALUATOR] ", log.LstdFlags)
	}
	return &Evaluator{logger: logger}
}

// Evaluate runs the checks for the chosen depth and aggregates them into a
// continue/stop decision. A panic inside a check degrades to a conservative
// result instead of killing the session.
func (e *Evaluator) Evaluate(qc *core.QueryContext, state core.AgentState) (result core.EvaluationResult) {
	start := time.Now()
	depth := depthFor(state.Iteration)

	defer func() {
		if r := recover(); r != nil {
			e.logger.Printf("evaluation panicked (%v), returning conservative result", r)
			result = conservativeResult(state, depth)
		}
		result.Depth = depth
		result.Elapsed = time.Since(start)
		result.ResultCount = len(state.Results)
		result.Iteration = state.Iteration
	}()

	checks := e.runChecks(depth, qc, state)
	criteria := aggregateCriteria(checks, state)
	overall := criteria.Relevance*criteriaWeights["relevance"] +
		criteria.Completeness*criteriaWeights["completeness"] +
		criteria.Accuracy*criteriaWeights["accuracy"] +
		criteria.Quality*criteriaWeights["quality"] +
		criteria.Confidence*criteriaWeights["confidence"]

	shouldContinue, nextAction, reasoning := decide(overall, checks, qc, state)

	result = core.EvaluationResult{
		Criteria:        criteria,
		Checks:          checks,
		Overall:         overall,
		ShouldContinue:  shouldContinue,
		NextAction:      nextAction,
		Reasoning:       reasoning,
		Recommendations: recommendations(checks),
	}
	return result
}

// depthFor deepens evaluation as the loop matures: early iterations need a
// cheap sanity check, late ones a full judgment.
func depthFor(iteration int) string {
	switch {
	case iteration < 2:
		return DepthShallow
	case iteration < 6:
		return DepthMedium
	default:
		return DepthDeep
	}
}

func (e *Evaluator) runChecks(depth string, qc *core.QueryContext, state core.AgentState) []core.QualityCheck {
	checks := []core.QualityCheck{
		checkResultsPresent(state),
		checkResultConsistency(state),
		checkTrajectory(state),
	}
	if depth == DepthMedium || depth == DepthDeep {
		checks = append(checks,
			checkRelevance(state),
			checkDiversity(state),
			checkEfficiency(state),
		)
	}
	if depth == DepthDeep {
		checks = append(checks,
			checkEntityCoverage(qc, state),
			checkCompleteness(state),
			checkConstraintAccuracy(qc, state),
		)
	}
	return checks
}

func checkResultsPresent(state core.AgentState) core.QualityCheck {
	n := len(state.Results)
	c := core.QualityCheck{Name: "results_present", Priority: "high"}
	switch {
	case n == 0:
		c.Score = 0
		c.Reasoning = "no results collected yet"
		c.Suggestions = []string{"broaden the search terms"}
	case n > maxPresentable:
		c.Score = 0.5
		c.Reasoning = fmt.Sprintf("%d results exceed the presentable limit of %d", n, maxPresentable)
		c.Suggestions = []string{"apply filters or ranking to trim the set"}
	default:
		c.Passed = true
		c.Score = 1
		c.Reasoning = fmt.Sprintf("%d results within the presentable range", n)
	}
	return c
}

func checkResultConsistency(state core.AgentState) core.QualityCheck {
	c := core.QualityCheck{Name: "result_consistency", Priority: "high"}
	if len(state.Results) == 0 {
		c.Passed = true
		c.Score = 1
		c.Reasoning = "nothing to validate"
		return c
	}
	valid := 0
	for _, r := range state.Results {
		if r.Name != "" && r.Price >= 0 && r.Rating >= 0 && r.Rating <= 5 {
			valid++
		}
	}
	c.Score = float64(valid) / float64(len(state.Results))
	c.Passed = c.Score >= 0.9
	c.Reasoning = fmt.Sprintf("%d of %d results are well-formed", valid, len(state.Results))
	if !c.Passed {
		c.Suggestions = []string{"drop malformed entries before presenting"}
	}
	return c
}

func checkTrajectory(state core.AgentState) core.QualityCheck {
	c := core.QualityCheck{Name: "confidence_trajectory", Priority: "medium"}
	scores := state.ConfidenceScores
	if len(scores) < 2 {
		c.Passed = true
		c.Score = 0.5
		c.Reasoning = "not enough history to judge a trend"
		return c
	}
	window := scores
	if len(window) > 3 {
		window = window[len(window)-3:]
	}
	delta := window[len(window)-1] - window[0]
	switch {
	case delta > 0.05:
		c.Passed = true
		c.Score = 0.9
		c.Reasoning = fmt.Sprintf("confidence improving (%+.2f over the window)", delta)
	case delta < -0.05:
		c.Score = 0.2
		c.Reasoning = fmt.Sprintf("confidence declining (%+.2f over the window)", delta)
		c.Suggestions = []string{"change strategy, the current one is losing ground"}
	default:
		c.Passed = true
		c.Score = 0.5
		c.Reasoning = "confidence flat"
	}
	return c
}

func checkRelevance(state core.AgentState) core.QualityCheck {
	c := core.QualityCheck{Name: "relevance", Priority: "high"}
	if len(state.Results) == 0 {
		c.Score = 0
		c.Reasoning = "no results to judge"
		return c
	}
	terms := tokenize(state.Query.Text)
	if len(terms) == 0 {
		c.Passed = true
		c.Score = 0.5
		c.Reasoning = "query carries no scorable terms"
		return c
	}
	total := 0.0
	for _, r := range state.Results {
		hay := strings.ToLower(r.Name + " " + r.Description + " " + strings.Join(r.Tags, " ") + " " + r.Category + " " + r.PricingTier)
		hits := 0
		for _, t := range terms {
			if strings.Contains(hay, t) {
				hits++
			}
		}
		total += float64(hits) / float64(len(terms))
	}
	c.Score = total / float64(len(state.Results))
	c.Passed = c.Score >= 0.4
	c.Reasoning = fmt.Sprintf("mean query-term overlap %.2f across %d results", c.Score, len(state.Results))
	if !c.Passed {
		c.Suggestions = []string{"refine the query toward the stated intent"}
	}
	return c
}

func checkDiversity(state core.AgentState) core.QualityCheck {
	c := core.QualityCheck{Name: "diversity", Priority: "low"}
	if len(state.Results) == 0 {
		c.Score = 0
		c.Reasoning = "no results"
		return c
	}
	cats := make(map[string]struct{})
	for _, r := range state.Results {
		cats[r.Category] = struct{}{}
	}
	c.Score = float64(len(cats)) / float64(len(state.Results))
	if c.Score > 1 {
		c.Score = 1
	}
	c.Passed = len(cats) > 1 || len(state.Results) <= 3
	c.Reasoning = fmt.Sprintf("%d categories across %d results", len(cats), len(state.Results))
	return c
}

func checkEfficiency(state core.AgentState) core.QualityCheck {
	c := core.QualityCheck{Name: "efficiency", Priority: "low"}
	if len(state.ToolHistory) == 0 {
		c.Passed = true
		c.Score = 0.5
		c.Reasoning = "no tool invocations yet"
		return c
	}
	perCall := float64(len(state.Results)) / float64(len(state.ToolHistory))
	switch {
	case perCall >= 5:
		c.Passed = true
		c.Score = 1
	case perCall >= 1:
		c.Passed = true
		c.Score = 0.7
	default:
		c.Score = 0.3
		c.Suggestions = []string{"recent tool calls are not producing results"}
	}
	c.Reasoning = fmt.Sprintf("%.1f results per tool invocation", perCall)
	return c
}

func checkEntityCoverage(qc *core.QueryContext, state core.AgentState) core.QualityCheck {
	c := core.QualityCheck{Name: "entity_coverage", Priority: "medium"}
	if len(qc.Entities) == 0 {
		c.Passed = true
		c.Score = 0.5
		c.Reasoning = "no entities extracted"
		return c
	}
	covered := 0
	for _, v := range qc.Entities {
		needle := strings.ToLower(fmt.Sprintf("%v", v))
		for _, r := range state.Results {
			hay := strings.ToLower(r.Name + " " + r.Description + " " + r.Category + " " + strings.Join(r.Tags, " "))
			if strings.Contains(hay, needle) {
				covered++
				break
			}
		}
	}
	c.Score = float64(covered) / float64(len(qc.Entities))
	c.Passed = c.Score >= 0.5
	c.Reasoning = fmt.Sprintf("%d of %d entities reflected in results", covered, len(qc.Entities))
	return c
}

func checkCompleteness(state core.AgentState) core.QualityCheck {
	c := core.QualityCheck{Name: "completeness", Priority: "medium"}
	n := len(state.Results)
	switch {
	case n == 0:
		c.Score = 0
		c.Reasoning = "empty result set"
	case n < 3:
		c.Score = 0.5
		c.Reasoning = "very few results, the answer may be partial"
		c.Suggestions = []string{"broaden the search to confirm coverage"}
	case n <= maxPresentable:
		c.Passed = true
		c.Score = 1
		c.Reasoning = "result set size looks complete"
	default:
		c.Score = 0.6
		c.Reasoning = "result set too large to be a final answer"
	}
	return c
}

func checkConstraintAccuracy(qc *core.QueryContext, state core.AgentState) core.QualityCheck {
	c := core.QualityCheck{Name: "constraint_accuracy", Priority: "high"}
	if len(qc.Constraints) == 0 || len(state.Results) == 0 {
		c.Passed = true
		c.Score = 0.8
		c.Reasoning = "no constraints to verify"
		return c
	}
	violations := 0
	for _, r := range state.Results {
		if maxPrice, ok := asPrice(qc.Constraints["max_price"]); ok && r.Price > maxPrice {
			violations++
			continue
		}
		if tier, ok := qc.Constraints["pricing_tier"].(string); ok && tier != "" && r.PricingTier != tier {
			violations++
		}
	}
	c.Score = 1 - float64(violations)/float64(len(state.Results))
	c.Passed = violations == 0
	c.Reasoning = fmt.Sprintf("%d of %d results violate stated constraints", violations, len(state.Results))
	if violations > 0 {
		c.Suggestions = []string{"re-apply the price filter before presenting"}
	}
	return c
}

func asPrice(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	}
	return 0, false
}

// aggregateCriteria maps check scores onto the five judgment dimensions.
// Checks that did not run (shallower depths) leave their dimension at a
// neutral value derived from what did run.
func aggregateCriteria(checks []core.QualityCheck, state core.AgentState) core.EvaluationCriteria {
	byName := make(map[string]float64, len(checks))
	for _, c := range checks {
		byName[c.Name] = c.Score
	}
	pick := func(names []string, fallback float64) float64 {
		sum, n := 0.0, 0
		for _, name := range names {
			if s, ok := byName[name]; ok {
				sum += s
				n++
			}
		}
		if n == 0 {
			return fallback
		}
		return sum / float64(n)
	}

	base := pick([]string{"results_present", "result_consistency"}, 0.5)
	return core.EvaluationCriteria{
		Relevance:    pick([]string{"relevance", "entity_coverage"}, base),
		Completeness: pick([]string{"completeness", "results_present"}, base),
		Accuracy:     pick([]string{"constraint_accuracy", "result_consistency"}, base),
		Quality:      pick([]string{"diversity", "efficiency", "result_consistency"}, base),
		Confidence:   pick([]string{"confidence_trajectory"}, clamp01(state.Confidence)),
	}
}

func decide(overall float64, checks []core.QualityCheck, qc *core.QueryContext, state core.AgentState) (bool, string, string) {
	n := len(state.Results)
	switch {
	case state.Iteration >= maxIterations:
		return false, "present_results", "iteration cap reached, presenting the best available results"
	case overall >= 0.9 && n > 0 && n <= maxPresentable:
		return false, "present_results", "evaluation score is high and the result set is presentable"
	case n == 0 && state.Iteration == 0:
		return true, "broaden_search_criteria", "first pass returned nothing, broaden before giving up"
	case n == 0:
		return true, "relax_constraints", "still no results, the constraints may be too tight"
	case n > maxPresentable:
		return true, "apply_filters", "too many results to present, filter or rank first"
	case overall < continueThreshold:
		return true, "refine_query", fmt.Sprintf("overall score %.2f below the continue threshold", overall)
	}
	if name, failed := failedHighCheck(checks); failed {
		return true, "refine_query", fmt.Sprintf("high-priority check %s failed despite overall score %.2f", name, overall)
	}
	if countSuggesting(checks) > 2 && state.Iteration < 6 {
		return true, "refine_query", "several checks still suggest improvements and the loop is young"
	}
	return false, "present_results", "results are good enough to present"
}

func failedHighCheck(checks []core.QualityCheck) (string, bool) {
	for _, c := range checks {
		if c.Priority == "high" && !c.Passed {
			return c.Name, true
		}
	}
	return "", false
}

func countSuggesting(checks []core.QualityCheck) int {
	n := 0
	for _, c := range checks {
		if len(c.Suggestions) > 0 {
			n++
		}
	}
	return n
}

func recommendations(checks []core.QualityCheck) []string {
	type ranked struct {
		priority int
		text     string
	}
	var out []ranked
	for _, c := range checks {
		if c.Passed {
			continue
		}
		p := 1
		switch c.Priority {
		case "high":
			p = 3
		case "medium":
			p = 2
		}
		for _, s := range c.Suggestions {
			out = append(out, ranked{p, s})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].priority > out[j].priority })
	recs := make([]string, 0, len(out))
	for _, r := range out {
		recs = append(recs, r.text)
	}
	return recs
}

// conservativeResult is the degraded answer when evaluation itself breaks:
// trust existing results a little, an empty state not at all, and keep the
// loop going unless it has clearly done enough.
func conservativeResult(state core.AgentState, depth string) core.EvaluationResult {
	overall := 0.2
	if len(state.Results) > 0 {
		overall = 0.5
	}
	return core.EvaluationResult{
		Criteria: core.EvaluationCriteria{
			Relevance: overall, Completeness: overall, Accuracy: overall, Quality: overall, Confidence: overall,
		},
		Overall:        overall,
		ShouldContinue: overall < 0.6 && state.Iteration < maxIterations,
		NextAction:     "refine_query",
		Reasoning:      "evaluation failed internally, applying a conservative judgment",
		Depth:          depth,
	}
}

func tokenize(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,!?\"'()")
		if len(f) < 2 || stopwords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "for": true, "of": true, "to": true,
	"me": true, "my": true, "in": true, "on": true, "with": true, "and": true,
	"show": true, "find": true, "list": true, "get": true,
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
