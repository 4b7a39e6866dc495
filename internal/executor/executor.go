package executor

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/sift-labs/sift/internal/agent/core"
)

const (
	defaultMaxAttempts = 3
	defaultBaseBackoff = 100 * time.Millisecond
	defaultTimeout     = 10 * time.Second
)

// ToolMetrics is the per-tool usage snapshot.
type ToolMetrics struct {
	Invocations  int64         `json:"invocations"`
	Successes    int64         `json:"successes"`
	Failures     int64         `json:"failures"`
	Fallbacks    int64         `json:"fallbacks"`
	TotalLatency time.Duration `json:"total_latency"`
}

// Executor runs tools with validation, retry, and fallback. It is safe for
// concurrent use.
type Executor struct {
	registry    *Registry
	logger      *log.Logger
	maxAttempts int
	baseBackoff time.Duration

	mu      sync.RWMutex
	metrics map[string]*ToolMetrics
}

// Option configures an Executor.
type Option func(*Executor)

// WithMaxAttempts overrides the retry budget.
func WithMaxAttempts(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// WithBaseBackoff overrides the first retry delay.
func WithBaseBackoff(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.baseBackoff = d
		}
	}
}

// New creates an executor over the given registry.
func New(registry *Registry, logger *log.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = log.New(log.Writer(), "[EXECUTOR] ", log.LstdFlags)
	}
	e := &Executor{
		registry:    registry,
		logger:      logger,
		maxAttempts: defaultMaxAttempts,
		baseBackoff: defaultBaseBackoff,
		metrics:     make(map[string]*ToolMetrics),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs one tool invocation end to end: lookup, parameter validation,
// precondition checks, bounded retries, then the fallback chain. It always
// returns a structured result; Err is set alongside Success=false.
func (e *Executor) Execute(ctx context.Context, req core.ExecutionRequest) core.ExecutionResult {
	start := time.Now()

	tool, ok := e.registry.Lookup(req.Tool)
	if !ok {
		err := core.NotFoundError{Kind: "tool", Name: req.Tool}
		return core.ExecutionResult{Success: false, Err: err, Elapsed: time.Since(start)}
	}

	params, err := tool.validateParams(req.Parameters)
	if err != nil {
		e.record(req.Tool, false, false, time.Since(start))
		return core.ExecutionResult{Success: false, Err: err, Elapsed: time.Since(start)}
	}
	if err := tool.checkPreconditions(req); err != nil {
		e.record(req.Tool, false, false, time.Since(start))
		return core.ExecutionResult{Success: false, Err: err, Elapsed: time.Since(start)}
	}

	res := e.executeWithRetry(ctx, tool, params, req)
	if res.Success {
		res.Elapsed = time.Since(start)
		e.record(req.Tool, true, false, res.Elapsed)
		return res
	}

	// Retries exhausted. Walk the fallback chain, then substitute a
	// type-appropriate default so the loop keeps moving.
	for _, name := range tool.Fallbacks {
		alt, ok := e.registry.Lookup(name)
		if !ok {
			continue
		}
		altParams, err := alt.validateParams(req.Parameters)
		if err != nil {
			continue
		}
		if err := alt.checkPreconditions(req); err != nil {
			continue
		}
		altRes := e.invokeOnce(ctx, alt, altParams, req)
		if altRes.Success {
			altRes.Attempts = res.Attempts + 1
			altRes.FallbackUsed = true
			altRes.Elapsed = time.Since(start)
			altRes.Confidence *= 0.8 // a substitute tool answers a nearby question
			e.logger.Printf("tool %s failed, fallback %s succeeded", req.Tool, name)
			e.record(req.Tool, true, true, altRes.Elapsed)
			return altRes
		}
	}

	def := defaultForTool(req.Tool)
	e.logger.Printf("tool %s exhausted retries and fallbacks, substituting safe default", req.Tool)
	e.record(req.Tool, false, true, time.Since(start))
	return core.ExecutionResult{
		Success:      true,
		Data:         def,
		Err:          res.Err,
		Elapsed:      time.Since(start),
		Confidence:   0.2,
		Attempts:     res.Attempts,
		FallbackUsed: true,
		ResultCount:  countResults(def),
	}
}

func (e *Executor) executeWithRetry(ctx context.Context, tool *ToolDescriptor, params map[string]interface{}, req core.ExecutionRequest) core.ExecutionResult {
	var last core.ExecutionResult
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		last = e.invokeOnce(ctx, tool, params, req)
		last.Attempts = attempt
		if last.Success {
			return last
		}
		if ctx.Err() != nil {
			last.Err = ctx.Err()
			return last
		}
		if attempt < e.maxAttempts {
			backoff := e.baseBackoff * time.Duration(1<<(attempt-1))
			jitter := time.Duration(rand.Int63n(int64(backoff)/2 + 1))
			select {
			case <-time.After(backoff + jitter):
			case <-ctx.Done():
				last.Err = ctx.Err()
				return last
			}
		}
	}
	return last
}

// invokeOnce runs a single attempt with timeout and panic isolation.
func (e *Executor) invokeOnce(ctx context.Context, tool *ToolDescriptor, params map[string]interface{}, req core.ExecutionRequest) (res core.ExecutionResult) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = core.ExecutionResult{
				Success: false,
				Err:     core.ExecutionError{Tool: tool.Name, Err: fmt.Errorf("panic: %v", r)},
				Elapsed: time.Since(start),
			}
		}
	}()

	data, err := tool.Invoke(attemptCtx, params, req)
	elapsed := time.Since(start)
	if err != nil {
		if attemptCtx.Err() == context.DeadlineExceeded {
			err = core.TimeoutError{Tool: tool.Name, Elapsed: elapsed}
		} else {
			err = core.ExecutionError{Tool: tool.Name, Err: err}
		}
		return core.ExecutionResult{Success: false, Err: err, Elapsed: elapsed}
	}
	if err := checkShape(tool, data); err != nil {
		return core.ExecutionResult{Success: false, Err: err, Elapsed: elapsed}
	}

	count := countResults(data)
	return core.ExecutionResult{
		Success:     true,
		Data:        data,
		Elapsed:     elapsed,
		Confidence:  resultConfidence(count),
		ResultCount: count,
	}
}

// ExecuteParallel runs independent requests concurrently; one failure never
// affects the others. Results come back in request order.
func (e *Executor) ExecuteParallel(ctx context.Context, reqs []core.ExecutionRequest) []core.ExecutionResult {
	out := make([]core.ExecutionResult, len(reqs))
	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req core.ExecutionRequest) {
			defer wg.Done()
			out[i] = e.Execute(ctx, req)
		}(i, req)
	}
	wg.Wait()
	return out
}

// ExecuteSequence runs requests in order, folding each success into the next
// request: the raw data under Parameters["input"], and result lists into the
// state so downstream preconditions see them. A failed step stops the
// pipeline.
func (e *Executor) ExecuteSequence(ctx context.Context, reqs []core.ExecutionRequest) ([]core.ExecutionResult, error) {
	out := make([]core.ExecutionResult, 0, len(reqs))
	var carry interface{}
	var results []core.Result
	for i, req := range reqs {
		if carry != nil {
			if req.Parameters == nil {
				req.Parameters = make(map[string]interface{})
			}
			req.Parameters["input"] = carry
		}
		if results != nil {
			req.State.Results = results
		}
		res := e.Execute(ctx, req)
		out = append(out, res)
		if !res.Success {
			return out, fmt.Errorf("sequence step %d (%s): %w", i, req.Tool, res.Err)
		}
		carry = res.Data
		if rs, ok := res.Data.([]core.Result); ok {
			results = rs
		}
	}
	return out, nil
}

// Snapshot copies the per-tool metrics.
func (e *Executor) Snapshot() map[string]ToolMetrics {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]ToolMetrics, len(e.metrics))
	for name, m := range e.metrics {
		out[name] = *m
	}
	return out
}

func (e *Executor) record(tool string, success, fallback bool, latency time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m := e.metrics[tool]
	if m == nil {
		m = &ToolMetrics{}
		e.metrics[tool] = m
	}
	m.Invocations++
	m.TotalLatency += latency
	if success {
		m.Successes++
	} else {
		m.Failures++
	}
	if fallback {
		m.Fallbacks++
	}
}

// checkShape rejects results that do not hold what the descriptor promised:
// nil data never counts as success, and a declared list shape must actually
// be a list of at least the declared length.
func checkShape(tool *ToolDescriptor, data interface{}) error {
	if data == nil {
		return core.ExecutionError{Tool: tool.Name, Err: fmt.Errorf("returned no data")}
	}
	if !tool.Expect.List {
		return nil
	}
	switch data.(type) {
	case []core.Result, []interface{}:
	default:
		return core.ExecutionError{Tool: tool.Name, Err: fmt.Errorf("returned %T, expected a result list", data)}
	}
	if n := countResults(data); n < tool.Expect.MinResults {
		return core.ExecutionError{Tool: tool.Name, Err: fmt.Errorf("returned %d results, expected at least %d", n, tool.Expect.MinResults)}
	}
	return nil
}

// defaultForTool follows the naming convention: grouping tools return empty
// maps, counting tools zero, everything else an empty result list.
func defaultForTool(tool string) interface{} {
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

func countResults(data interface{}) int {
	switch t := data.(type) {
	case []core.Result:
		return len(t)
	case map[string][]core.Result:
		n := 0
		for _, v := range t {
			n += len(v)
		}
		return n
	case []interface{}:
		return len(t)
	case int:
		return t
	case core.Result:
		return 1
	default:
		return 0
	}
}

// resultConfidence scores a successful invocation by how usable its result
// set is: empty sets are weak signals, modest sets strong, oversized sets
// suspect.
func resultConfidence(count int) float64 {
	switch {
	case count == 0:
		return 0.3
	case count <= 50:
		return 0.8
	default:
		return 0.5
	}
}
