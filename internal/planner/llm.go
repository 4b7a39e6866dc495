package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/sift-labs/sift/internal/agent/core"
)

// LLMPlanner asks a language model for the next action and validates the
// answer. Any failure along the way (provider error, unparseable output,
// nonsense action) degrades to the rules planner, so planning never fails.
type LLMPlanner struct {
	provider core.LLMProvider
	model    string
	fallback *RulesPlanner
	logger   *log.Logger
}

// NewLLMPlanner wires a provider over the rules fallback. The fallback must
// not be nil.
func NewLLMPlanner(provider core.LLMProvider, model string, fallback *RulesPlanner, logger *log.Logger) *LLMPlanner {
	if logger == nil {
		logger = log.New(log.Writer(), "[PLANNER] ", log.LstdFlags)
	}
	return &LLMPlanner{provider: provider, model: model, fallback: fallback, logger: logger}
}

// PlanNextAction generates, extracts, and validates a planning action.
func (p *LLMPlanner) PlanNextAction(ctx context.Context, qc *core.QueryContext, state core.AgentState) (core.PlanningResult, error) {
	start := time.Now()
	if p.provider == nil {
		return p.fallback.PlanNextAction(ctx, qc, state)
	}

	prompt := buildPrompt(qc, state)
	raw, err := p.provider.Generate(ctx, prompt, p.model, map[string]interface{}{"temperature": 0.1})
	if err != nil {
		p.logger.Printf("llm planning failed (%v), falling back to rules", err)
		return p.fallback.PlanNextAction(ctx, qc, state)
	}

	action, err := parseAction(raw)
	if err != nil {
		p.logger.Printf("llm output unusable (%v), falling back to rules", err)
		return p.fallback.PlanNextAction(ctx, qc, state)
	}

	enhanced := enhance(action, qc, state)
	return core.PlanningResult{
		Action:   enhanced,
		RuleID:   "llm",
		RuleName: "llm planner",
		Elapsed:  time.Since(start),
	}, nil
}

func buildPrompt(qc *core.QueryContext, state core.AgentState) string {
	var b strings.Builder
	b.WriteString("You plan the next step of an iterative tool-catalog search.\n")
	fmt.Fprintf(&b, "Query: %s\n", state.Query.Text)
	fmt.Fprintf(&b, "Iteration: %d of %d\n", state.Iteration, maxIterations)
	fmt.Fprintf(&b, "Results so far: %d\n", len(state.Results))
	fmt.Fprintf(&b, "Current confidence: %.2f\n", state.Confidence)
	if qc.Intent != "" {
		fmt.Fprintf(&b, "Intent: %s\n", qc.Intent)
	}
	if len(qc.Constraints) > 0 {
		cs, _ := json.Marshal(qc.Constraints)
		fmt.Fprintf(&b, "Constraints: %s\n", cs)
	}
	if len(state.ToolHistory) > 0 {
		b.WriteString("Tools already used:")
		for _, inv := range state.ToolHistory {
			fmt.Fprintf(&b, " %s(%d results)", inv.Tool, inv.ResultCount)
		}
		b.WriteString("\n")
	}
	b.WriteString(`Respond with one JSON object only:
{"type": "analyze|clarify|execute|evaluate|iterate|complete", "tool": "optional tool name", "parameters": {}, "confidence": 0.0, "reasoning": "why"}
`)
	return b.String()
}

// parseAction extracts the first balanced JSON object from the model output
// and validates the action type. Models wrap JSON in prose and code fences
// often enough that a plain Unmarshal is not good enough.
func parseAction(raw string) (core.PlanningAction, error) {
	obj, err := extractJSONObject(raw)
	if err != nil {
		return core.PlanningAction{}, err
	}
	var action core.PlanningAction
	if err := json.Unmarshal([]byte(obj), &action); err != nil {
		return core.PlanningAction{}, fmt.Errorf("decoding action: %w", err)
	}
	switch action.Type {
	case core.ActionAnalyze, core.ActionClarify, core.ActionSelectTool, core.ActionExecute,
		core.ActionEvaluate, core.ActionIterate, core.ActionComplete:
	default:
		return core.PlanningAction{}, fmt.Errorf("unknown action type %q", action.Type)
	}
	if action.Type == core.ActionExecute && action.Tool == "" {
		return core.PlanningAction{}, fmt.Errorf("execute action without a tool")
	}
	if action.Confidence < 0 || action.Confidence > 1 {
		return core.PlanningAction{}, fmt.Errorf("confidence %v out of range", action.Confidence)
	}
	return action, nil
}

// extractJSONObject scans for the first balanced top-level {...} span,
// ignoring braces inside strings.
func extractJSONObject(raw string) (string, error) {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return "", fmt.Errorf("no JSON object in output")
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return raw[start : i+1], nil
				}
			}
		}
	}
	return "", fmt.Errorf("unbalanced JSON object in output")
}
