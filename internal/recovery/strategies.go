package recovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"

	"github.com/sift-labs/sift/internal/agent/core"
)

const maxNetworkRetries = 3

// parseRecovery salvages malformed structured payloads. A successful JSON
// repair is worth more than line-level key extraction, hence the two
// confidence tiers.
type parseRecovery struct{}

func (parseRecovery) Name() string  { return "parse_recovery" }
func (parseRecovery) Priority() int { return 100 }

func (parseRecovery) CanHandle(ctx core.ErrorContext) bool {
	if _, ok := ctx.Payload["raw"].(string); ok && mentionsAny(ctx, "parse", "unmarshal", "decode", "json", "syntax") {
		return true
	}
	var syntaxErr *json.SyntaxError
	return errors.As(ctx.Err, &syntaxErr)
}

func (parseRecovery) Execute(ctx core.ErrorContext) core.RecoveryResult {
	raw, _ := ctx.Payload["raw"].(string)
	if raw == "" {
		return core.RecoveryResult{Action: "fail", Message: "no raw payload to repair"}
	}

	if repaired, ok := repairJSON(raw); ok {
		return core.RecoveryResult{
			Success:    true,
			Recovered:  true,
			Data:       repaired,
			Action:     "repaired_json",
			Message:    "payload repaired and re-parsed",
			Confidence: 0.6,
		}
	}

	if partial := extractKeyValues(raw); len(partial) > 0 {
		return core.RecoveryResult{
			Success:    true,
			Recovered:  true,
			Data:       partial,
			Action:     "partial_extraction",
			Message:    fmt.Sprintf("extracted %d fields from malformed payload", len(partial)),
			Confidence: 0.4,
		}
	}

	return core.RecoveryResult{Action: "fail", Message: "payload unrecoverable"}
}

var (
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	keyValueLineRe  = regexp.MustCompile(`(?m)^\s*"?([A-Za-z_][A-Za-z0-9_ ]*)"?\s*[:=]\s*"?([^",}\n]+)"?\s*,?\s*$`)
)

// repairJSON applies cheap syntactic fixes (trailing commas, unbalanced
// braces) and re-parses.
func repairJSON(raw string) (map[string]interface{}, bool) {
	s := strings.TrimSpace(raw)
	if start := strings.IndexAny(s, "{["); start > 0 {
		s = s[start:]
	}
	s = trailingCommaRe.ReplaceAllString(s, "$1")
	for _, r := range []struct{ open, close string }{{"{", "}"}, {"[", "]"}} {
		if diff := strings.Count(s, r.open) - strings.Count(s, r.close); diff > 0 {
			s += strings.Repeat(r.close, diff)
		}
	}
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, false
	}
	return out, true
}

// extractKeyValues pulls key:value lines out of text that will never parse
// as JSON. Lossy on purpose.
func extractKeyValues(raw string) map[string]interface{} {
	out := make(map[string]interface{})
	for _, m := range keyValueLineRe.FindAllStringSubmatch(raw, -1) {
		key := strings.TrimSpace(m[1])
		val := strings.TrimSpace(m[2])
		if key == "" || val == "" {
			continue
		}
		if n, err := strconv.ParseFloat(val, 64); err == nil {
			out[key] = n
		} else if b, err := strconv.ParseBool(val); err == nil {
			out[key] = b
		} else {
			out[key] = val
		}
	}
	return out
}

// validationRecovery sanitizes a payload against a declared shape and accepts
// the result when at least half the fields survive.
type validationRecovery struct{}

func (validationRecovery) Name() string  { return "validation_recovery" }
func (validationRecovery) Priority() int { return 90 }

func (validationRecovery) CanHandle(ctx core.ErrorContext) bool {
	if core.IsValidation(ctx.Err) {
		return true
	}
	return mentionsAny(ctx, "validation", "invalid", "schema")
}

func (validationRecovery) Execute(ctx core.ErrorContext) core.RecoveryResult {
	value, _ := ctx.Payload["value"].(map[string]interface{})
	shape, _ := ctx.Payload["shape"].(map[string]string)
	if len(value) == 0 || len(shape) == 0 {
		return core.RecoveryResult{Action: "fail", Message: "nothing to sanitize"}
	}

	sanitized := make(map[string]interface{}, len(shape))
	valid := 0
	for field, kind := range shape {
		v, present := value[field]
		if !present {
			continue
		}
		if coerced, ok := coerceKind(v, kind); ok {
			sanitized[field] = coerced
			valid++
		}
	}

	score := float64(valid) / float64(len(shape))
	if score < 0.5 {
		return core.RecoveryResult{
			Action:  "fail",
			Message: fmt.Sprintf("only %d of %d fields validated", valid, len(shape)),
		}
	}
	return core.RecoveryResult{
		Success:    true,
		Recovered:  true,
		Data:       sanitized,
		Action:     "sanitized",
		Message:    fmt.Sprintf("%d of %d fields validated after sanitization", valid, len(shape)),
		Confidence: score,
	}
}

func coerceKind(v interface{}, kind string) (interface{}, bool) {
	switch kind {
	case "string":
		switch t := v.(type) {
		case string:
			return t, true
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64), true
		case bool:
			return strconv.FormatBool(t), true
		}
	case "number":
		switch t := v.(type) {
		case float64:
			return t, true
		case int:
			return float64(t), true
		case string:
			if n, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
				return n, true
			}
		}
	case "boolean":
		switch t := v.(type) {
		case bool:
			return t, true
		case string:
			if b, err := strconv.ParseBool(strings.TrimSpace(t)); err == nil {
				return b, true
			}
		}
	case "array":
		if arr, ok := v.([]interface{}); ok {
			return arr, true
		}
		return []interface{}{v}, true
	}
	return nil, false
}

// toolExecutionRecovery tries parameter repair first, then an alternative
// tool from the same category, then a type-appropriate safe default.
type toolExecutionRecovery struct{}

func (toolExecutionRecovery) Name() string  { return "tool_execution_recovery" }
func (toolExecutionRecovery) Priority() int { return 80 }

func (toolExecutionRecovery) CanHandle(ctx core.ErrorContext) bool {
	var execErr core.ExecutionError
	if errors.As(ctx.Err, &execErr) {
		return true
	}
	return ctx.Component == "executor" || mentionsAny(ctx, "tool")
}

func (t toolExecutionRecovery) Execute(ctx core.ErrorContext) core.RecoveryResult {
	tool, _ := ctx.Payload["tool"].(string)

	if params, ok := ctx.Payload["parameters"].(map[string]interface{}); ok {
		if fixed, changed := repairParameters(params); changed {
			return core.RecoveryResult{
				Success:    true,
				Recovered:  true,
				Data:       fixed,
				Action:     "fixed_parameters",
				Message:    "retry with repaired parameters",
				Confidence: 0.6,
			}
		}
	}

	if alt := alternativeTool(tool, ctx.Payload); alt != "" {
		return core.RecoveryResult{
			Success:      true,
			Recovered:    true,
			Data:         alt,
			Action:       "alternative_tool",
			NextStrategy: alt,
			Message:      fmt.Sprintf("retry with alternative tool %s", alt),
			Confidence:   0.5,
		}
	}

	return core.RecoveryResult{
		Success:    true,
		Recovered:  true,
		Data:       safeDefault(tool),
		Action:     "safe_default",
		Message:    fmt.Sprintf("substituted safe default for %s", tool),
		Confidence: 0.3,
	}
}

// repairParameters fixes obviously-wrong values: negative or zero limits,
// numeric strings, singleton values where lists are conventional.
func repairParameters(params map[string]interface{}) (map[string]interface{}, bool) {
	fixed := make(map[string]interface{}, len(params))
	changed := false
	for k, v := range params {
		switch k {
		case "limit", "max_results", "count":
			n, ok := asFloat(v)
			if !ok || n <= 0 {
				fixed[k] = float64(10)
				changed = true
				continue
			}
			if n > 1000 {
				fixed[k] = float64(1000)
				changed = true
				continue
			}
			fixed[k] = n
		default:
			if s, ok := v.(string); ok {
				if n, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil && looksNumericKey(k) {
					fixed[k] = n
					changed = true
					continue
				}
			}
			fixed[k] = v
		}
	}
	return fixed, changed
}

func looksNumericKey(k string) bool {
	for _, s := range []string{"price", "min", "max", "rating", "threshold"} {
		if strings.Contains(strings.ToLower(k), s) {
			return true
		}
	}
	return false
}

func asFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return n, err == nil
	}
	return 0, false
}

func alternativeTool(tool string, payload map[string]interface{}) string {
	avail, _ := payload["available_tools"].([]string)
	category, _ := payload["category"].(string)
	for _, a := range avail {
		if a == tool {
			continue
		}
		if category != "" && strings.Contains(a, category) {
			return a
		}
	}
	return ""
}

// safeDefault follows the tool-name convention: searches return empty lists,
// groupings empty maps, counts zero.
func safeDefault(tool string) interface{} {
	name := strings.ToLower(tool)
	switch {
	case strings.Contains(name, "group"):
		return map[string][]core.Result{}
	case strings.Contains(name, "count"):
		return 0
	default:
		return []core.Result{}
	}
}

// networkRecovery never produces data itself; it signals whether a retry is
// worth it. Transient failures get up to maxNetworkRetries.
type networkRecovery struct{}

func (networkRecovery) Name() string  { return "network_recovery" }
func (networkRecovery) Priority() int { return 70 }

func (networkRecovery) CanHandle(ctx core.ErrorContext) bool {
	var netErr net.Error
	if errors.As(ctx.Err, &netErr) {
		return true
	}
	return mentionsAny(ctx, "connection refused", "connection reset", "timeout", "no such host", "unreachable", "broken pipe")
}

func (networkRecovery) Execute(ctx core.ErrorContext) core.RecoveryResult {
	if ctx.RetryCount >= maxNetworkRetries {
		return core.RecoveryResult{
			Action:  "fail",
			Message: fmt.Sprintf("network error persisted after %d retries: %v", ctx.RetryCount, ctx.Err),
		}
	}
	return core.RecoveryResult{
		ShouldRetry: true,
		Action:      "retry",
		Message:     fmt.Sprintf("transient network error, retry %d of %d", ctx.RetryCount+1, maxNetworkRetries),
	}
}

// memoryPressureRecovery always recovers by dropping to a degraded mode with
// reduced working-set hints. Running degraded beats crashing.
type memoryPressureRecovery struct{}

func (memoryPressureRecovery) Name() string  { return "memory_pressure_recovery" }
func (memoryPressureRecovery) Priority() int { return 60 }

func (memoryPressureRecovery) CanHandle(ctx core.ErrorContext) bool {
	return mentionsAny(ctx, "out of memory", "memory", "oom", "allocation")
}

func (memoryPressureRecovery) Execute(ctx core.ErrorContext) core.RecoveryResult {
	return core.RecoveryResult{
		Success:   true,
		Recovered: true,
		Action:    "degraded_mode",
		Data: map[string]interface{}{
			"max_results":       25,
			"disable_histories": true,
		},
		Message:    "operating in degraded mode with a reduced working set",
		Confidence: 0.5,
	}
}

func mentionsAny(ctx core.ErrorContext, needles ...string) bool {
	hay := strings.ToLower(ctx.Operation)
	if ctx.Err != nil {
		hay += " " + strings.ToLower(ctx.Err.Error())
	}
	for _, n := range needles {
		if strings.Contains(hay, n) {
			return true
		}
	}
	return false
}
