// Package planner decides the next loop action. The rules planner is the
// deterministic baseline; the LLM planner layers generation on top and falls
// back to the rules on any failure.
package planner

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/sift-labs/sift/internal/agent/core"
)

const maxIterations = 10

// Rule is one planning rule: a guard plus an action builder. Rules never
// mutate their inputs.
type Rule struct {
	ID       string
	Name     string
	Priority int
	Applies  func(qc *core.QueryContext, state core.AgentState) bool
	Build    func(qc *core.QueryContext, state core.AgentState) core.PlanningAction
}

// RulesPlanner scans its rule table highest priority first and enhances the
// first match. The catch-all guarantees it always produces an action.
type RulesPlanner struct {
	logger *log.Logger

	mu    sync.RWMutex
	rules []Rule
}

// NewRulesPlanner builds a planner with the default rule table.
func NewRulesPlanner(logger *log.Logger) *RulesPlanner {
	if logger == nil {
		logger = log.New(log.Writer(), "[PLANNER] ", log.LstdFlags)
	}
	p := &RulesPlanner{logger: logger}
	p.rules = defaultRules()
	p.sortLocked()
	return p
}

// AddRule registers a rule and re-sorts the table.
func (p *RulesPlanner) AddRule(r Rule) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rules = append(p.rules, r)
	p.sortLocked()
}

// RemoveRule drops a rule by ID.
func (p *RulesPlanner) RemoveRule(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, r := range p.rules {
		if r.ID == id {
			p.rules = append(p.rules[:i], p.rules[i+1:]...)
			return true
		}
	}
	return false
}

func (p *RulesPlanner) sortLocked() {
	sort.SliceStable(p.rules, func(i, j int) bool {
		return p.rules[i].Priority > p.rules[j].Priority
	})
}

// PlanNextAction returns the enhanced action of the highest-priority
// applicable rule, with the next two matches as alternatives. A rule that
// panics is skipped.
func (p *RulesPlanner) PlanNextAction(ctx context.Context, qc *core.QueryContext, state core.AgentState) (core.PlanningResult, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return core.PlanningResult{}, err
	}

	p.mu.RLock()
	rules := make([]Rule, len(p.rules))
	copy(rules, p.rules)
	p.mu.RUnlock()

	var (
		primary      *core.PlanningAction
		primaryRule  Rule
		alternatives []core.PlanningAction
	)
	for _, r := range rules {
		action, ok := applyRule(r, qc, state)
		if !ok {
			continue
		}
		if primary == nil {
			a := action
			primary = &a
			primaryRule = r
			continue
		}
		alternatives = append(alternatives, action)
		if len(alternatives) == 2 {
			break
		}
	}
	if primary == nil {
		// The catch-all should make this unreachable; fail loudly if the
		// table was emptied.
		return core.PlanningResult{}, fmt.Errorf("no planning rule matched at iteration %d", state.Iteration)
	}

	enhanced := enhance(*primary, qc, state)
	p.logger.Printf("rule %s chose %s (confidence %.2f, iteration %d)", primaryRule.ID, enhanced.Type, enhanced.Confidence, state.Iteration)
	return core.PlanningResult{
		Action:       enhanced,
		Alternatives: alternatives,
		RuleID:       primaryRule.ID,
		RuleName:     primaryRule.Name,
		Elapsed:      time.Since(start),
	}, nil
}

func applyRule(r Rule, qc *core.QueryContext, state core.AgentState) (action core.PlanningAction, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
		}
	}()
	if !r.Applies(qc, state) {
		return core.PlanningAction{}, false
	}
	return r.Build(qc, state), true
}

// enhance fills in defaults the rule left open: parameters from context,
// scaled confidence, and the phase the action moves the loop into.
func enhance(a core.PlanningAction, qc *core.QueryContext, state core.AgentState) core.PlanningAction {
	if a.Parameters == nil {
		a.Parameters = make(map[string]interface{})
	}
	if _, ok := a.Parameters["query"]; !ok && state.Query.Text != "" {
		a.Parameters["query"] = state.Query.Text
	}
	for k, v := range qc.Constraints {
		if _, ok := a.Parameters[k]; !ok {
			a.Parameters[k] = v
		}
	}
	scale := scaleConfidence(qc)
	if a.Confidence == 0 {
		a.Confidence = scale
	} else {
		a.Confidence *= scale
	}
	if a.NextPhase == "" {
		a.NextPhase = phaseFor(a.Type)
	}
	return a
}

// scaleConfidence starts at a neutral base and adjusts for how much the
// context already pins down: intent, entity/constraint density, unresolved
// ambiguity.
func scaleConfidence(qc *core.QueryContext) float64 {
	conf := 0.5
	if qc.Intent != "" {
		conf += 0.2
	}
	density := float64(len(qc.Entities)+len(qc.Constraints)) * 0.07
	if density > 0.35 {
		density = 0.35
	}
	conf += density
	penalty := 0.0
	for _, amb := range qc.Ambiguities {
		switch amb.Severity {
		case core.SeverityHigh:
			penalty += 0.15
		case core.SeverityMedium:
			penalty += 0.08
		default:
			penalty += 0.03
		}
	}
	if penalty > 0.3 {
		penalty = 0.3
	}
	conf -= penalty
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return conf
}

func phaseFor(t core.ActionType) core.Phase {
	switch t {
	case core.ActionAnalyze:
		return core.PhaseAnalyzing
	case core.ActionClarify:
		return core.PhaseClarifying
	case core.ActionSelectTool, core.ActionExecute:
		return core.PhaseExecuting
	case core.ActionEvaluate:
		return core.PhaseEvaluating
	case core.ActionIterate:
		return core.PhasePlanning
	case core.ActionComplete:
		return core.PhaseCompleted
	case core.ActionError:
		return core.PhaseError
	default:
		return core.PhasePlanning
	}
}

func hasUnresolvedBlocking(qc *core.QueryContext) bool {
	for _, a := range qc.Ambiguities {
		if a.Severity == core.SeverityHigh {
			return true
		}
	}
	return false
}

func hasConstraint(qc *core.QueryContext, keys ...string) bool {
	for _, k := range keys {
		if _, ok := qc.Constraints[k]; ok {
			return true
		}
	}
	return false
}

func defaultRules() []Rule {
	return []Rule{
		{
			ID:       "clarification_needed",
			Name:     "blocking ambiguity requires clarification",
			Priority: 100,
			Applies: func(qc *core.QueryContext, state core.AgentState) bool {
				return hasUnresolvedBlocking(qc) && len(qc.ClarificationHistory) < 3
			},
			Build: func(qc *core.QueryContext, state core.AgentState) core.PlanningAction {
				return core.PlanningAction{
					Type:      core.ActionClarify,
					Reasoning: "a blocking ambiguity must be resolved before searching",
				}
			},
		},
		{
			ID:       "initial_analysis",
			Name:     "fresh query needs analysis",
			Priority: 90,
			Applies: func(qc *core.QueryContext, state core.AgentState) bool {
				return state.Iteration == 0 && qc.Intent == ""
			},
			Build: func(qc *core.QueryContext, state core.AgentState) core.PlanningAction {
				return core.PlanningAction{
					Type:      core.ActionAnalyze,
					Reasoning: "no intent extracted yet, analyze the query first",
				}
			},
		},
		{
			ID:       "clear_intent_search",
			Name:     "analyzed query with no results searches",
			Priority: 80,
			Applies: func(qc *core.QueryContext, state core.AgentState) bool {
				return qc.Intent != "" && len(state.Results) == 0 && !hasUnresolvedBlocking(qc)
			},
			Build: func(qc *core.QueryContext, state core.AgentState) core.PlanningAction {
				return core.PlanningAction{
					Type:      core.ActionExecute,
					Tool:      "search_by_text",
					Reasoning: "intent is clear and no results exist yet",
				}
			},
		},
		{
			ID:       "price_constraint_filter",
			Name:     "price constraint filters existing results",
			Priority: 75,
			Applies: func(qc *core.QueryContext, state core.AgentState) bool {
				return len(state.Results) > 0 && hasConstraint(qc, "max_price", "pricing_tier", "free_only")
			},
			Build: func(qc *core.QueryContext, state core.AgentState) core.PlanningAction {
				return core.PlanningAction{
					Type:      core.ActionExecute,
					Tool:      "filter_by_price",
					Reasoning: "a price constraint is set and unapplied results exist",
				}
			},
		},
		{
			ID:       "excessive_results_rank",
			Name:     "oversized result set gets ranked and trimmed",
			Priority: 70,
			Applies: func(qc *core.QueryContext, state core.AgentState) bool {
				return len(state.Results) > 50
			},
			Build: func(qc *core.QueryContext, state core.AgentState) core.PlanningAction {
				return core.PlanningAction{
					Type: core.ActionExecute,
					Tool: "sort_by_field",
					Parameters: map[string]interface{}{
						"field": "score",
						"order": "desc",
						"limit": 50,
					},
					Reasoning: "too many results to present, rank by score and trim",
				}
			},
		},
		{
			ID:       "category_refine",
			Name:     "category entity narrows the result set",
			Priority: 65,
			Applies: func(qc *core.QueryContext, state core.AgentState) bool {
				_, ok := qc.Entities["category"]
				return ok && len(state.Results) > 0 && !alreadyInvoked(state, "search_by_category")
			},
			Build: func(qc *core.QueryContext, state core.AgentState) core.PlanningAction {
				return core.PlanningAction{
					Type:       core.ActionExecute,
					Tool:       "search_by_category",
					Parameters: map[string]interface{}{"category": qc.Entities["category"]},
					Reasoning:  "a category entity narrows the search",
				}
			},
		},
		{
			ID:       "comparison_grouping",
			Name:     "comparison intent groups results",
			Priority: 50,
			Applies: func(qc *core.QueryContext, state core.AgentState) bool {
				return (qc.Intent == "compare" || qc.Intent == "group") && len(state.Results) > 0 && !alreadyInvoked(state, "group_by_category")
			},
			Build: func(qc *core.QueryContext, state core.AgentState) core.PlanningAction {
				return core.PlanningAction{
					Type:      core.ActionExecute,
					Tool:      "group_by_category",
					Reasoning: "a comparative query reads better grouped",
				}
			},
		},
		{
			ID:       "confident_completion",
			Name:     "high confidence with usable results completes",
			Priority: 40,
			Applies: func(qc *core.QueryContext, state core.AgentState) bool {
				return state.Confidence >= 0.9 && len(state.Results) > 0 && len(state.Results) <= 50
			},
			Build: func(qc *core.QueryContext, state core.AgentState) core.PlanningAction {
				return core.PlanningAction{
					Type:       core.ActionComplete,
					Confidence: state.Confidence,
					Reasoning:  "confidence is high and the result set is presentable",
				}
			},
		},
		{
			ID:       "iteration_cap",
			Name:     "iteration cap forces completion",
			Priority: 35,
			Applies: func(qc *core.QueryContext, state core.AgentState) bool {
				return state.Iteration >= maxIterations
			},
			Build: func(qc *core.QueryContext, state core.AgentState) core.PlanningAction {
				return core.PlanningAction{
					Type:      core.ActionComplete,
					Reasoning: "iteration cap reached, present the best available results",
				}
			},
		},
		{
			ID:       "default_iterate",
			Name:     "catch-all keeps the loop moving",
			Priority: 10,
			Applies: func(qc *core.QueryContext, state core.AgentState) bool {
				return true
			},
			Build: func(qc *core.QueryContext, state core.AgentState) core.PlanningAction {
				return core.PlanningAction{
					Type:      core.ActionIterate,
					Reasoning: "no specific rule applied, refine and continue",
				}
			},
		},
	}
}

func alreadyInvoked(state core.AgentState, tool string) bool {
	for _, inv := range state.ToolHistory {
		if inv.Tool == tool {
			return true
		}
	}
	return false
}
