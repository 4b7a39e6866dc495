package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sift-labs/sift/internal/agent/core"
)

const echoSchema = `{
	"type": "object",
	"properties": {
		"text":  {"type": "string"},
		"limit": {"type": "number", "minimum": 1}
	},
	"required": ["text"]
}`

func newTestExecutor(t *testing.T, tools ...*ToolDescriptor) (*Executor, *Registry) {
	t.Helper()
	reg := NewRegistry()
	for _, tool := range tools {
		if err := reg.Register(tool); err != nil {
			t.Fatalf("register %s: %v", tool.Name, err)
		}
	}
	return New(reg, nil, WithBaseBackoff(time.Millisecond)), reg
}

func staticTool(name string, data interface{}) *ToolDescriptor {
	return &ToolDescriptor{
		Name:   name,
		Schema: echoSchema,
		Invoke: func(ctx context.Context, params map[string]interface{}, req core.ExecutionRequest) (interface{}, error) {
			return data, nil
		},
	}
}

func TestExecuteUnknownToolZeroAttempts(t *testing.T) {
	e, _ := newTestExecutor(t)
	res := e.Execute(context.Background(), core.ExecutionRequest{Tool: "nope"})
	if res.Success {
		t.Fatalf("unknown tool must not succeed")
	}
	if !core.IsNotFound(res.Err) {
		t.Fatalf("expected NotFound, got %v", res.Err)
	}
	if res.Attempts != 0 {
		t.Fatalf("unknown tool must not consume attempts, got %d", res.Attempts)
	}
}

func TestExecuteValidatesAndCoercesParameters(t *testing.T) {
	var got map[string]interface{}
	tool := &ToolDescriptor{
		Name:   "search_by_text",
		Schema: echoSchema,
		Invoke: func(ctx context.Context, params map[string]interface{}, req core.ExecutionRequest) (interface{}, error) {
			got = params
			return []core.Result{{Name: "a"}}, nil
		},
	}
	e, _ := newTestExecutor(t, tool)

	res := e.Execute(context.Background(), core.ExecutionRequest{
		Tool:       "search_by_text",
		Parameters: map[string]interface{}{"text": "cli", "limit": "10"},
	})
	if !res.Success {
		t.Fatalf("expected success, got %v", res.Err)
	}
	if got["limit"] != 10.0 {
		t.Fatalf("numeric string not coerced: %#v", got["limit"])
	}
}

func TestExecuteRejectsInvalidParameters(t *testing.T) {
	e, _ := newTestExecutor(t, staticTool("search_by_text", []core.Result{}))
	res := e.Execute(context.Background(), core.ExecutionRequest{
		Tool:       "search_by_text",
		Parameters: map[string]interface{}{"limit": 5},
	})
	if res.Success {
		t.Fatalf("missing required parameter must fail validation")
	}
	if !core.IsValidation(res.Err) {
		t.Fatalf("expected validation error, got %v", res.Err)
	}
}

func TestExecuteRetriesThenSucceeds(t *testing.T) {
	calls := 0
	tool := &ToolDescriptor{
		Name:   "flaky",
		Schema: echoSchema,
		Invoke: func(ctx context.Context, params map[string]interface{}, req core.ExecutionRequest) (interface{}, error) {
			calls++
			if calls < 3 {
				return nil, errors.New("transient")
			}
			return []core.Result{{Name: "ok"}}, nil
		},
	}
	e, _ := newTestExecutor(t, tool)

	res := e.Execute(context.Background(), core.ExecutionRequest{
		Tool:       "flaky",
		Parameters: map[string]interface{}{"text": "x"},
	})
	if !res.Success {
		t.Fatalf("expected success after retries, got %v", res.Err)
	}
	if res.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", res.Attempts)
	}
	if res.FallbackUsed {
		t.Fatalf("retry success must not be marked as fallback")
	}
}

func TestExecuteFallbackChain(t *testing.T) {
	failing := &ToolDescriptor{
		Name:      "primary",
		Schema:    echoSchema,
		Fallbacks: []string{"secondary"},
		Invoke: func(ctx context.Context, params map[string]interface{}, req core.ExecutionRequest) (interface{}, error) {
			return nil, errors.New("always down")
		},
	}
	backup := staticTool("secondary", []core.Result{{Name: "from-backup"}})
	e, _ := newTestExecutor(t, failing, backup)

	res := e.Execute(context.Background(), core.ExecutionRequest{
		Tool:       "primary",
		Parameters: map[string]interface{}{"text": "x"},
	})
	if !res.Success || !res.FallbackUsed {
		t.Fatalf("expected fallback success, got %+v", res)
	}
	results := res.Data.([]core.Result)
	if len(results) != 1 || results[0].Name != "from-backup" {
		t.Fatalf("unexpected fallback data: %#v", res.Data)
	}
}

func TestExecuteSafeDefaults(t *testing.T) {
	cases := []struct {
		tool string
		want interface{}
	}{
		{"count_results", 0},
		{"search_broken", []core.Result{}},
	}
	for _, tc := range cases {
		failing := &ToolDescriptor{
			Name:   tc.tool,
			Schema: echoSchema,
			Invoke: func(ctx context.Context, params map[string]interface{}, req core.ExecutionRequest) (interface{}, error) {
				return nil, errors.New("down")
			},
		}
		e, _ := newTestExecutor(t, failing)
		res := e.Execute(context.Background(), core.ExecutionRequest{
			Tool:       tc.tool,
			Parameters: map[string]interface{}{"text": "x"},
		})
		if !res.Success || !res.FallbackUsed {
			t.Fatalf("%s: expected safe default, got %+v", tc.tool, res)
		}
		switch want := tc.want.(type) {
		case int:
			if res.Data != want {
				t.Fatalf("%s: expected %v, got %#v", tc.tool, want, res.Data)
			}
		case []core.Result:
			if got, ok := res.Data.([]core.Result); !ok || len(got) != 0 {
				t.Fatalf("%s: expected empty result list, got %#v", tc.tool, res.Data)
			}
		}
		if res.Confidence >= 0.5 {
			t.Fatalf("%s: safe default must carry low confidence, got %v", tc.tool, res.Confidence)
		}
	}
}

func TestExecutePanicIsIsolated(t *testing.T) {
	tool := &ToolDescriptor{
		Name:   "panicky_group",
		Schema: echoSchema,
		Invoke: func(ctx context.Context, params map[string]interface{}, req core.ExecutionRequest) (interface{}, error) {
			panic("tool bug")
		},
	}
	e, _ := newTestExecutor(t, tool)
	res := e.Execute(context.Background(), core.ExecutionRequest{
		Tool:       "panicky_group",
		Parameters: map[string]interface{}{"text": "x"},
	})
	if !res.Success || !res.FallbackUsed {
		t.Fatalf("panicking tool should degrade to safe default, got %+v", res)
	}
	if _, ok := res.Data.(map[string][]core.Result); !ok {
		t.Fatalf("grouping tool defaults to empty map, got %#v", res.Data)
	}
}

func TestExecutePreconditions(t *testing.T) {
	tool := &ToolDescriptor{
		Name:      "sort_by_field",
		Schema:    echoSchema,
		Resources: ResourceRequirements{NeedsResults: true},
		Invoke: func(ctx context.Context, params map[string]interface{}, req core.ExecutionRequest) (interface{}, error) {
			return req.State.Results, nil
		},
	}
	e, _ := newTestExecutor(t, tool)

	res := e.Execute(context.Background(), core.ExecutionRequest{
		Tool:       "sort_by_field",
		Parameters: map[string]interface{}{"text": "rating"},
	})
	if res.Success || !core.IsValidation(res.Err) {
		t.Fatalf("missing result set should fail preconditions, got %+v", res)
	}

	res = e.Execute(context.Background(), core.ExecutionRequest{
		Tool:       "sort_by_field",
		Parameters: map[string]interface{}{"text": "rating"},
		State:      core.AgentState{Results: []core.Result{{Name: "a"}}},
	})
	if !res.Success {
		t.Fatalf("populated result set should pass preconditions: %v", res.Err)
	}
}

func TestExecuteParallelIsolatesFailures(t *testing.T) {
	ok := staticTool("ok_tool", []core.Result{{Name: "a"}, {Name: "b"}})
	bad := &ToolDescriptor{
		Name:   "bad_count",
		Schema: echoSchema,
		Invoke: func(ctx context.Context, params map[string]interface{}, req core.ExecutionRequest) (interface{}, error) {
			return nil, errors.New("down")
		},
	}
	e, _ := newTestExecutor(t, ok, bad)

	results := e.ExecuteParallel(context.Background(), []core.ExecutionRequest{
		{Tool: "ok_tool", Parameters: map[string]interface{}{"text": "x"}},
		{Tool: "bad_count", Parameters: map[string]interface{}{"text": "x"}},
		{Tool: "missing"},
	})
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if !results[0].Success || results[0].ResultCount != 2 {
		t.Fatalf("healthy tool affected by neighbors: %+v", results[0])
	}
	if !results[1].Success || !results[1].FallbackUsed {
		t.Fatalf("failing count tool should degrade to default: %+v", results[1])
	}
	if results[2].Success || !core.IsNotFound(results[2].Err) {
		t.Fatalf("missing tool should report NotFound: %+v", results[2])
	}
}

func TestExecuteSequenceFoldsResults(t *testing.T) {
	var secondInput interface{}
	first := staticTool("first", []core.Result{{Name: "seed"}})
	second := &ToolDescriptor{
		Name:   "second",
		Schema: echoSchema,
		Invoke: func(ctx context.Context, params map[string]interface{}, req core.ExecutionRequest) (interface{}, error) {
			secondInput = params["input"]
			return []core.Result{{Name: "derived"}}, nil
		},
	}
	e, _ := newTestExecutor(t, first, second)

	results, err := e.ExecuteSequence(context.Background(), []core.ExecutionRequest{
		{Tool: "first", Parameters: map[string]interface{}{"text": "x"}},
		{Tool: "second", Parameters: map[string]interface{}{"text": "y"}},
	})
	if err != nil {
		t.Fatalf("sequence: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if secondInput == nil {
		t.Fatalf("second step did not receive the first step's output")
	}
}

func TestExecuteTimeoutYieldsTypedError(t *testing.T) {
	slow := &ToolDescriptor{
		Name:   "slow_search",
		Schema: echoSchema,
		Invoke: func(ctx context.Context, params map[string]interface{}, req core.ExecutionRequest) (interface{}, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	e, _ := newTestExecutor(t, slow)

	res := e.Execute(context.Background(), core.ExecutionRequest{
		Tool:       "slow_search",
		Parameters: map[string]interface{}{"text": "x"},
		Timeout:    5 * time.Millisecond,
	})
	if !res.FallbackUsed {
		t.Fatalf("timed-out tool should degrade to safe default, got %+v", res)
	}
	var te core.TimeoutError
	if !errors.As(res.Err, &te) {
		t.Fatalf("expected timeout error, got %v", res.Err)
	}
	if te.Elapsed <= 0 {
		t.Fatalf("timeout error should carry the elapsed duration, got %v", te.Elapsed)
	}
}

func TestExecuteRejectsNilData(t *testing.T) {
	e, _ := newTestExecutor(t, staticTool("null_search", nil))

	res := e.Execute(context.Background(), core.ExecutionRequest{
		Tool:       "null_search",
		Parameters: map[string]interface{}{"text": "x"},
	})
	if !res.FallbackUsed {
		t.Fatalf("nil data must not count as a clean success: %+v", res)
	}
	if res.Err == nil {
		t.Fatalf("nil data should surface an execution error")
	}
	if got, ok := res.Data.([]core.Result); !ok || len(got) != 0 {
		t.Fatalf("expected empty result list default, got %#v", res.Data)
	}
}

func TestExecuteEnforcesResultShape(t *testing.T) {
	wrongType := &ToolDescriptor{
		Name:   "typed_search",
		Schema: echoSchema,
		Expect: ResultShape{List: true},
		Invoke: func(ctx context.Context, params map[string]interface{}, req core.ExecutionRequest) (interface{}, error) {
			return "not a list", nil
		},
	}
	tooFew := &ToolDescriptor{
		Name:   "strict_search",
		Schema: echoSchema,
		Expect: ResultShape{List: true, MinResults: 1},
		Invoke: func(ctx context.Context, params map[string]interface{}, req core.ExecutionRequest) (interface{}, error) {
			return []core.Result{}, nil
		},
	}
	e, _ := newTestExecutor(t, wrongType, tooFew)

	for _, name := range []string{"typed_search", "strict_search"} {
		res := e.Execute(context.Background(), core.ExecutionRequest{
			Tool:       name,
			Parameters: map[string]interface{}{"text": "x"},
		})
		if !res.FallbackUsed {
			t.Fatalf("%s: malformed data should degrade to safe default, got %+v", name, res)
		}
		if res.Err == nil {
			t.Fatalf("%s: shape violation should surface an error", name)
		}
	}
}

func TestExecuteSequenceFeedsDownstreamState(t *testing.T) {
	search := staticTool("seq_search", []core.Result{{Name: "a"}, {Name: "b"}})
	sorter := &ToolDescriptor{
		Name:      "seq_sort",
		Schema:    echoSchema,
		Resources: ResourceRequirements{NeedsResults: true},
		Invoke: func(ctx context.Context, params map[string]interface{}, req core.ExecutionRequest) (interface{}, error) {
			return req.State.Results, nil
		},
	}
	e, _ := newTestExecutor(t, search, sorter)

	results, err := e.ExecuteSequence(context.Background(), []core.ExecutionRequest{
		{Tool: "seq_search", Parameters: map[string]interface{}{"text": "x"}},
		{Tool: "seq_sort", Parameters: map[string]interface{}{"text": "rating"}},
	})
	if err != nil {
		t.Fatalf("sequence: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[1].ResultCount != 2 {
		t.Fatalf("second step should see the first step's results, got %+v", results[1])
	}
}

func TestMetricsSnapshot(t *testing.T) {
	e, _ := newTestExecutor(t, staticTool("m_tool", []core.Result{{Name: "a"}}))
	e.Execute(context.Background(), core.ExecutionRequest{Tool: "m_tool", Parameters: map[string]interface{}{"text": "x"}})
	e.Execute(context.Background(), core.ExecutionRequest{Tool: "m_tool", Parameters: map[string]interface{}{"text": "y"}})

	snap := e.Snapshot()
	if snap["m_tool"].Invocations != 2 || snap["m_tool"].Successes != 2 {
		t.Fatalf("unexpected metrics: %+v", snap["m_tool"])
	}
}

func TestRegistryByCategory(t *testing.T) {
	reg := NewRegistry()
	for _, d := range []*ToolDescriptor{
		{Name: "search_by_text", Category: "search", Invoke: func(ctx context.Context, p map[string]interface{}, r core.ExecutionRequest) (interface{}, error) { return nil, nil }},
		{Name: "filter_by_price", Category: "filter", Invoke: func(ctx context.Context, p map[string]interface{}, r core.ExecutionRequest) (interface{}, error) { return nil, nil }},
	} {
		if err := reg.Register(d); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	if got := reg.ByCategory("search"); len(got) != 1 || got[0] != "search_by_text" {
		t.Fatalf("unexpected category listing: %v", got)
	}
	if err := reg.Register(&ToolDescriptor{Name: "search_by_text", Invoke: func(ctx context.Context, p map[string]interface{}, r core.ExecutionRequest) (interface{}, error) { return nil, nil }}); !core.IsValidation(err) {
		t.Fatalf("duplicate registration should fail validation, got %v", err)
	}
}
