package evaluator

import (
	"testing"

	"github.com/sift-labs/sift/internal/agent/core"
)

func stateWith(iteration int, results []core.Result) core.AgentState {
	return core.AgentState{
		Query:     core.Query{SessionID: "s", Text: "free cli tools"},
		Iteration: iteration,
		Results:   results,
	}
}

func goodResults(n int) []core.Result {
	out := make([]core.Result, n)
	for i := range out {
		out[i] = core.Result{
			ID: "r", Name: "free cli helper", Description: "a free cli for developers",
			Category: "developer-tools", PricingTier: "free", Rating: 4.5,
		}
	}
	return out
}

func TestDepthDeepensWithIterations(t *testing.T) {
	e := New(nil)
	if d := e.Evaluate(core.NewQueryContext(), stateWith(0, nil)).Depth; d != DepthShallow {
		t.Fatalf("iteration 0 should be shallow, got %s", d)
	}
	if d := e.Evaluate(core.NewQueryContext(), stateWith(3, goodResults(5))).Depth; d != DepthMedium {
		t.Fatalf("iteration 3 should be medium, got %s", d)
	}
	if d := e.Evaluate(core.NewQueryContext(), stateWith(7, goodResults(5))).Depth; d != DepthDeep {
		t.Fatalf("iteration 7 should be deep, got %s", d)
	}
}

func TestEmptyFirstPassBroadens(t *testing.T) {
	e := New(nil)
	res := e.Evaluate(core.NewQueryContext(), stateWith(0, nil))
	if !res.ShouldContinue {
		t.Fatalf("empty first pass must continue")
	}
	if res.NextAction != "broaden_search_criteria" {
		t.Fatalf("expected broaden_search_criteria, got %s", res.NextAction)
	}
}

func TestEmptyLaterPassRelaxesConstraints(t *testing.T) {
	e := New(nil)
	res := e.Evaluate(core.NewQueryContext(), stateWith(4, nil))
	if !res.ShouldContinue || res.NextAction != "relax_constraints" {
		t.Fatalf("persistent empty set should relax constraints, got %+v", res)
	}
}

func TestOversizedSetAppliesFilters(t *testing.T) {
	e := New(nil)
	res := e.Evaluate(core.NewQueryContext(), stateWith(3, goodResults(80)))
	if !res.ShouldContinue || res.NextAction != "apply_filters" {
		t.Fatalf("oversized set should filter, got %+v", res)
	}
}

func TestGoodResultsStop(t *testing.T) {
	e := New(nil)
	state := stateWith(3, goodResults(10))
	state.Confidence = 0.9
	state.ConfidenceScores = []float64{0.6, 0.8, 0.9}
	state.ToolHistory = []core.ToolInvocation{{Tool: "search_by_text", ResultCount: 10}}

	res := e.Evaluate(core.NewQueryContext(), state)
	if res.ShouldContinue {
		t.Fatalf("relevant, consistent, well-sized results should stop: %+v", res)
	}
	if res.NextAction != "present_results" {
		t.Fatalf("expected present_results, got %s", res.NextAction)
	}
	if res.Overall < 0.7 {
		t.Fatalf("good results should score well, got %v", res.Overall)
	}
}

func TestFailingHighCheckContinuesDespiteDecentScore(t *testing.T) {
	e := New(nil)
	categories := []string{"audio", "video", "design", "finance", "games"}
	results := make([]core.Result, 10)
	for i := range results {
		results[i] = core.Result{
			ID: "r", Name: "standalone app", Description: "a desktop application",
			Category: categories[i%len(categories)], PricingTier: "free", Rating: 4.5,
		}
	}
	state := stateWith(3, results)
	state.ConfidenceScores = []float64{0.6, 0.8, 0.9}
	state.ToolHistory = []core.ToolInvocation{{Tool: "search_by_text", ResultCount: 10}}

	res := e.Evaluate(core.NewQueryContext(), state)
	if res.Overall < continueThreshold || res.Overall >= 0.9 {
		t.Fatalf("scenario should score between the thresholds, got %v", res.Overall)
	}
	if !res.ShouldContinue || res.NextAction != "refine_query" {
		t.Fatalf("a failed relevance check should keep the loop going, got %+v", res)
	}
}

func TestLingeringSuggestionsKeepYoungLoopGoing(t *testing.T) {
	checks := []core.QualityCheck{
		{Name: "results_present", Priority: "high", Passed: true, Score: 1},
		{Name: "result_consistency", Priority: "high", Passed: true, Score: 1, Suggestions: []string{"drop malformed entries before presenting"}},
		{Name: "confidence_trajectory", Priority: "medium", Passed: true, Score: 0.5, Suggestions: []string{"change strategy, the current one is losing ground"}},
		{Name: "efficiency", Priority: "low", Passed: true, Score: 0.7, Suggestions: []string{"recent tool calls are not producing results"}},
	}
	state := stateWith(3, goodResults(10))

	cont, action, _ := decide(0.8, checks, core.NewQueryContext(), state)
	if !cont || action != "refine_query" {
		t.Fatalf("three suggesting checks at iteration 3 should continue, got %v %s", cont, action)
	}

	state.Iteration = 7
	cont, _, _ = decide(0.8, checks, core.NewQueryContext(), state)
	if cont {
		t.Fatalf("mature loop should present despite lingering suggestions")
	}
}

func TestIterationCapStops(t *testing.T) {
	e := New(nil)
	state := stateWith(10, nil)
	res := e.Evaluate(core.NewQueryContext(), state)
	if res.ShouldContinue {
		t.Fatalf("iteration cap must stop the loop: %+v", res)
	}
}

func TestWeightsSumToOne(t *testing.T) {
	sum := 0.0
	for _, w := range criteriaWeights {
		sum += w
	}
	if sum < 0.999 || sum > 1.001 {
		t.Fatalf("criteria weights must sum to 1, got %v", sum)
	}
}

func TestConstraintViolationsLowerAccuracy(t *testing.T) {
	e := New(nil)
	qc := core.NewQueryContext()
	qc.Constraints["max_price"] = 10.0

	results := goodResults(4)
	results[0].Price = 50
	results[1].Price = 50

	state := stateWith(7, results)
	res := e.Evaluate(qc, state)
	var check *core.QualityCheck
	for i := range res.Checks {
		if res.Checks[i].Name == "constraint_accuracy" {
			check = &res.Checks[i]
		}
	}
	if check == nil {
		t.Fatalf("deep evaluation must run the constraint check")
	}
	if check.Passed || check.Score != 0.5 {
		t.Fatalf("half the results violate the price cap, got %+v", check)
	}
}

func TestDecliningTrajectoryFlagged(t *testing.T) {
	e := New(nil)
	state := stateWith(3, goodResults(5))
	state.ConfidenceScores = []float64{0.8, 0.6, 0.4}

	res := e.Evaluate(core.NewQueryContext(), state)
	for _, c := range res.Checks {
		if c.Name == "confidence_trajectory" {
			if c.Passed || c.Score > 0.3 {
				t.Fatalf("declining trajectory should fail the check: %+v", c)
			}
			return
		}
	}
	t.Fatalf("trajectory check missing")
}

func TestRecommendationsOrderedByPriority(t *testing.T) {
	e := New(nil)
	qc := core.NewQueryContext()
	qc.Constraints["max_price"] = 1.0

	results := goodResults(5)
	for i := range results {
		results[i].Price = 99
	}
	state := stateWith(7, results)
	state.ConfidenceScores = []float64{0.8, 0.5, 0.3}

	res := e.Evaluate(qc, state)
	if len(res.Recommendations) == 0 {
		t.Fatalf("failing checks should yield recommendations")
	}
	if res.Recommendations[0] != "re-apply the price filter before presenting" {
		t.Fatalf("high-priority suggestion should come first, got %v", res.Recommendations)
	}
}

func TestConservativeResultShape(t *testing.T) {
	withResults := conservativeResult(stateWith(3, goodResults(2)), DepthMedium)
	if withResults.Overall != 0.5 || !withResults.ShouldContinue {
		t.Fatalf("conservative result with results should be 0.5 and continue: %+v", withResults)
	}
	empty := conservativeResult(stateWith(3, nil), DepthMedium)
	if empty.Overall != 0.2 {
		t.Fatalf("conservative result without results should be 0.2, got %v", empty.Overall)
	}
	capped := conservativeResult(stateWith(10, nil), DepthMedium)
	if capped.ShouldContinue {
		t.Fatalf("conservative result must still respect the iteration cap")
	}
}
