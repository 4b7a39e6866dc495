package recovery

import (
	"errors"
	"testing"

	"github.com/sift-labs/sift/internal/agent/core"
)

type fixedStrategy struct {
	name     string
	priority int
	handles  bool
	result   core.RecoveryResult
	panics   bool
}

func (f *fixedStrategy) Name() string                          { return f.name }
func (f *fixedStrategy) Priority() int                         { return f.priority }
func (f *fixedStrategy) CanHandle(ctx core.ErrorContext) bool  { return f.handles }
func (f *fixedStrategy) Execute(ctx core.ErrorContext) core.RecoveryResult {
	if f.panics {
		panic("strategy blew up")
	}
	return f.result
}

func TestHandlePriorityOrder(t *testing.T) {
	low := &fixedStrategy{name: "low", priority: 10, handles: true, result: core.RecoveryResult{Recovered: true, Action: "low"}}
	high := &fixedStrategy{name: "high", priority: 90, handles: true, result: core.RecoveryResult{Recovered: true, Action: "high"}}
	m := NewManager(nil, low, high)

	res := m.Handle(core.ErrorContext{Component: "test", Err: errors.New("boom")})
	if res.Action != "high" {
		t.Fatalf("expected highest-priority strategy to win, got %q", res.Action)
	}
}

func TestHandleNoStrategyReturnsFail(t *testing.T) {
	m := NewManager(nil, &fixedStrategy{name: "none", priority: 50, handles: false})
	res := m.Handle(core.ErrorContext{Component: "test", Operation: "op", Err: errors.New("boom")})
	if res.Recovered || res.Action != "fail" {
		t.Fatalf("expected terminal fail result, got %+v", res)
	}
}

func TestHandleStrategyPanicIsIsolated(t *testing.T) {
	panicking := &fixedStrategy{name: "bad", priority: 90, handles: true, panics: true}
	fallback := &fixedStrategy{name: "ok", priority: 10, handles: true, result: core.RecoveryResult{Recovered: true, Action: "ok"}}
	m := NewManager(nil, panicking, fallback)

	res := m.Handle(core.ErrorContext{Err: errors.New("boom")})
	if !res.Recovered || res.Action != "ok" {
		t.Fatalf("panicking strategy should be skipped, got %+v", res)
	}
}

func TestHandleRecordsMetrics(t *testing.T) {
	ok := &fixedStrategy{name: "ok", priority: 50, handles: true, result: core.RecoveryResult{Recovered: true, Action: "ok"}}
	m := NewManager(nil, ok)

	m.Handle(core.ErrorContext{Err: errors.New("a")})
	m.Handle(core.ErrorContext{Err: errors.New("b")})

	snap := m.Snapshot()
	if snap.Handled != 2 || snap.Recovered != 2 {
		t.Fatalf("unexpected metrics: %+v", snap)
	}
	if snap.PerStrategy["ok"].Attempts != 2 || snap.PerStrategy["ok"].Recovered != 2 {
		t.Fatalf("unexpected per-strategy metrics: %+v", snap.PerStrategy)
	}
}

func TestRegisterAndRemove(t *testing.T) {
	m := NewManager(nil)
	m.Register(&fixedStrategy{name: "a", priority: 10, handles: true, result: core.RecoveryResult{Recovered: true, Action: "a"}})
	if res := m.Handle(core.ErrorContext{Err: errors.New("x")}); res.Action != "a" {
		t.Fatalf("registered strategy not used: %+v", res)
	}
	if !m.Remove("a") {
		t.Fatalf("expected Remove to find strategy")
	}
	if res := m.Handle(core.ErrorContext{Err: errors.New("x")}); res.Action != "fail" {
		t.Fatalf("removed strategy still active: %+v", res)
	}
}

func TestParseRecoveryRepairsJSON(t *testing.T) {
	m := NewDefaultManager(nil)
	res := m.Handle(core.ErrorContext{
		Component: "planner",
		Operation: "parse response",
		Err:       errors.New("invalid character '}'"),
		Payload:   map[string]interface{}{"raw": `{"tool": "search_by_text", "limit": 10,}`},
	})
	if !res.Recovered || res.Action != "repaired_json" {
		t.Fatalf("expected JSON repair, got %+v", res)
	}
	if res.Confidence != 0.6 {
		t.Fatalf("repaired JSON should carry 0.6 confidence, got %v", res.Confidence)
	}
	data, ok := res.Data.(map[string]interface{})
	if !ok || data["tool"] != "search_by_text" {
		t.Fatalf("unexpected repaired payload: %#v", res.Data)
	}
}

func TestParseRecoveryPartialExtraction(t *testing.T) {
	m := NewDefaultManager(nil)
	res := m.Handle(core.ErrorContext{
		Operation: "parse tool output",
		Err:       errors.New("unexpected token"),
		Payload:   map[string]interface{}{"raw": "name: claude\nprice: 20\nunparseable garbage {{{"},
	})
	if !res.Recovered || res.Action != "partial_extraction" {
		t.Fatalf("expected partial extraction, got %+v", res)
	}
	if res.Confidence != 0.4 {
		t.Fatalf("partial extraction should carry 0.4 confidence, got %v", res.Confidence)
	}
}

func TestValidationRecoverySanitizes(t *testing.T) {
	m := NewDefaultManager(nil)
	res := m.Handle(core.ErrorContext{
		Operation: "validation failed",
		Err:       core.ValidationError{Field: "limit", Reason: "not a number"},
		Payload: map[string]interface{}{
			"value": map[string]interface{}{"limit": "25", "query": "free cli", "junk": struct{}{}},
			"shape": map[string]string{"limit": "number", "query": "string", "junk": "number"},
		},
	})
	if !res.Recovered {
		t.Fatalf("expected recovery, got %+v", res)
	}
	if res.Confidence < 0.5 {
		t.Fatalf("partial validation above half should pass, got %v", res.Confidence)
	}
	data := res.Data.(map[string]interface{})
	if data["limit"] != 25.0 {
		t.Fatalf("string limit not coerced: %#v", data)
	}
}

func TestValidationRecoveryRejectsBelowHalf(t *testing.T) {
	m := NewDefaultManager(nil)
	res := m.Handle(core.ErrorContext{
		Operation: "validation failed",
		Err:       core.ValidationError{Field: "x", Reason: "bad"},
		Payload: map[string]interface{}{
			"value": map[string]interface{}{"a": struct{}{}},
			"shape": map[string]string{"a": "number", "b": "number", "c": "string"},
		},
	})
	if res.Recovered {
		t.Fatalf("under half the fields valid must not recover: %+v", res)
	}
}

func TestToolExecutionRecoveryFallsBackToSafeDefault(t *testing.T) {
	m := NewDefaultManager(nil)
	res := m.Handle(core.ErrorContext{
		Component: "executor",
		Operation: "tool invoke",
		Err:       core.ExecutionError{Tool: "count_results", Err: errors.New("boom")},
		Payload:   map[string]interface{}{"tool": "count_results"},
	})
	if !res.Recovered || res.Action != "safe_default" {
		t.Fatalf("expected safe default, got %+v", res)
	}
	if res.Data != 0 {
		t.Fatalf("count tools default to zero, got %#v", res.Data)
	}
}

func TestToolExecutionRecoveryFixesParameters(t *testing.T) {
	m := NewDefaultManager(nil)
	res := m.Handle(core.ErrorContext{
		Component: "executor",
		Err:       core.ExecutionError{Tool: "search_by_text", Err: errors.New("limit out of range")},
		Payload: map[string]interface{}{
			"tool":       "search_by_text",
			"parameters": map[string]interface{}{"limit": -5, "text": "cli"},
		},
	})
	if !res.Recovered || res.Action != "fixed_parameters" {
		t.Fatalf("expected parameter repair, got %+v", res)
	}
	fixed := res.Data.(map[string]interface{})
	if fixed["limit"] != 10.0 {
		t.Fatalf("negative limit not reset to default: %#v", fixed)
	}
}

func TestNetworkRecoveryRetriesThenFails(t *testing.T) {
	m := NewDefaultManager(nil)

	res := m.Handle(core.ErrorContext{Operation: "fetch", Err: errors.New("connection refused"), RetryCount: 1})
	if !res.ShouldRetry {
		t.Fatalf("transient error should request retry: %+v", res)
	}

	res = m.Handle(core.ErrorContext{Operation: "fetch", Err: errors.New("connection refused"), RetryCount: 3})
	if res.ShouldRetry || res.Recovered {
		t.Fatalf("retry budget exhausted must fail: %+v", res)
	}
}

func TestMemoryPressureAlwaysRecovers(t *testing.T) {
	m := NewDefaultManager(nil)
	res := m.Handle(core.ErrorContext{Operation: "aggregate", Err: errors.New("runtime: out of memory")})
	if !res.Recovered || res.Action != "degraded_mode" {
		t.Fatalf("memory pressure must recover into degraded mode: %+v", res)
	}
}
