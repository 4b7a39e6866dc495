package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sift-labs/sift/internal/agent/core"
	"github.com/sift-labs/sift/internal/ambiguity"
	"github.com/sift-labs/sift/internal/catalog"
	"github.com/sift-labs/sift/internal/evaluator"
	"github.com/sift-labs/sift/internal/executor"
	"github.com/sift-labs/sift/internal/planner"
	"github.com/sift-labs/sift/internal/recovery"
	"github.com/sift-labs/sift/internal/state"
)

type memoryCache struct {
	plans     map[string]core.CachedPlan
	lookupErr error
	storeErr  error
	stored    int
}

func (m *memoryCache) Lookup(ctx context.Context, query string) (core.CachedPlan, bool, error) {
	if m.lookupErr != nil {
		return core.CachedPlan{}, false, m.lookupErr
	}
	plan, ok := m.plans[query]
	return plan, ok, nil
}

func (m *memoryCache) Store(ctx context.Context, plan core.CachedPlan) error {
	if m.storeErr != nil {
		return m.storeErr
	}
	if m.plans == nil {
		m.plans = make(map[string]core.CachedPlan)
	}
	m.plans[plan.Query] = plan
	m.stored++
	return nil
}

func newTestService(t *testing.T, cache core.PlanCache) *Service {
	t.Helper()
	cat, err := catalog.New(nil, nil)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	t.Cleanup(func() { cat.Close() })

	reg := executor.NewRegistry()
	if err := catalog.RegisterTools(reg, cat); err != nil {
		t.Fatalf("register tools: %v", err)
	}

	svc, err := NewService(Config{
		Detector:  ambiguity.NewDetector(nil),
		Planner:   planner.NewRulesPlanner(nil),
		Executor:  executor.New(reg, nil, executor.WithBaseBackoff(time.Millisecond)),
		Evaluator: evaluator.New(nil),
		States:    state.NewManager(nil, nil),
		Recovery:  recovery.NewDefaultManager(nil),
		Cache:     cache,
	})
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	return svc
}

func TestSpecificQueryCompletesWithoutClarification(t *testing.T) {
	svc := newTestService(t, nil)

	sess, err := svc.Start(context.Background(), "free cli tools")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if sess.Status != StatusCompleted {
		t.Fatalf("specific query should complete, got %s (faults %v)", sess.Status, sess.Faults)
	}
	if sess.Clarification != nil {
		t.Fatalf("specific query must not pause on a question")
	}
	if len(sess.State.Results) == 0 {
		t.Fatalf("expected results for a seeded query")
	}
	if sess.State.Iteration == 0 || sess.State.Confidence <= 0 {
		t.Fatalf("loop did not actually run: %+v", sess.State)
	}
	if sess.Context.Intent != "search" {
		t.Fatalf("intent not analyzed: %q", sess.Context.Intent)
	}
	if sess.State.Phase != core.PhaseCompleted || !sess.State.Completed {
		t.Fatalf("terminal state not marked completed: %+v", sess.State)
	}
}

func TestVagueQueryPausesForClarification(t *testing.T) {
	svc := newTestService(t, nil)

	sess, err := svc.Start(context.Background(), "good tools")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if sess.Status != StatusClarifying || sess.Clarification == nil {
		t.Fatalf("vague query should pause on a question, got %s", sess.Status)
	}
	if sess.Clarification.Question == "" || len(sess.Clarification.Options) == 0 {
		t.Fatalf("clarification request incomplete: %+v", sess.Clarification)
	}

	// Answer up to the round cap; the session must terminate either way.
	for i := 0; i < 3 && sess.Status == StatusClarifying; i++ {
		sess, err = svc.Resume(context.Background(), sess.ID, core.ClarificationResponse{
			RequestID: sess.Clarification.ID,
			OptionID:  sess.Clarification.Options[0].ID,
		})
		if err != nil {
			t.Fatalf("resume round %d: %v", i, err)
		}
	}
	if sess.Status != StatusCompleted {
		t.Fatalf("clarified session should complete, got %s (faults %v)", sess.Status, sess.Faults)
	}
	if len(sess.Context.ClarificationHistory) == 0 {
		t.Fatalf("clarification rounds not recorded")
	}
	if len(sess.State.Results) == 0 {
		t.Fatalf("expected results after clarification")
	}
}

func TestCacheFastPath(t *testing.T) {
	cache := &memoryCache{plans: map[string]core.CachedPlan{
		"free cli tools": {
			Query:      "free cli tools",
			Intent:     "search",
			Results:    []core.Result{{ID: "aider", Name: "Aider", PricingTier: "free"}},
			ToolTrace:  []core.ToolInvocation{{Tool: "search_by_text", ResultCount: 1}},
			Confidence: 0.92,
		},
	}}
	svc := newTestService(t, cache)

	sess, err := svc.Start(context.Background(), "free cli tools")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !sess.FromCache || sess.Status != StatusCompleted {
		t.Fatalf("expected cached answer, got %+v", sess)
	}
	if len(sess.State.Results) != 1 || sess.State.Results[0].ID != "aider" {
		t.Fatalf("cached results not restored: %+v", sess.State.Results)
	}
}

func TestLowConfidenceCacheEntryIgnored(t *testing.T) {
	cache := &memoryCache{plans: map[string]core.CachedPlan{
		"free cli tools": {Query: "free cli tools", Confidence: 0.3, Results: []core.Result{{ID: "x", Name: "x"}}},
	}}
	svc := newTestService(t, cache)

	sess, err := svc.Start(context.Background(), "free cli tools")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if sess.FromCache {
		t.Fatalf("low-confidence cache entry must not short-circuit the loop")
	}
	if sess.Status != StatusCompleted {
		t.Fatalf("loop should still complete, got %s", sess.Status)
	}
}

func TestCacheFailureDegradesSilently(t *testing.T) {
	cache := &memoryCache{lookupErr: errors.New("redis down"), storeErr: errors.New("redis down")}
	svc := newTestService(t, cache)

	sess, err := svc.Start(context.Background(), "free cli tools")
	if err != nil {
		t.Fatalf("cache failure must not fail the session: %v", err)
	}
	if sess.Status != StatusCompleted {
		t.Fatalf("expected completion despite cache failure, got %s", sess.Status)
	}
}

func TestCompletedSessionStoredInCache(t *testing.T) {
	cache := &memoryCache{}
	svc := newTestService(t, cache)

	sess, err := svc.Start(context.Background(), "free cli tools")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if sess.Status != StatusCompleted {
		t.Fatalf("expected completion, got %s", sess.Status)
	}
	if sess.State.Confidence >= cacheConfidenceFloor && cache.stored == 0 {
		t.Fatalf("confident outcome should be memoized")
	}
}

func TestResumeUnknownSession(t *testing.T) {
	svc := newTestService(t, nil)
	if _, err := svc.Resume(context.Background(), "missing", core.ClarificationResponse{}); !core.IsNotFound(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestResumeNonClarifyingSession(t *testing.T) {
	svc := newTestService(t, nil)
	sess, err := svc.Start(context.Background(), "free cli tools")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.Resume(context.Background(), sess.ID, core.ClarificationResponse{}); !core.IsValidation(err) {
		t.Fatalf("resuming a completed session should fail validation, got %v", err)
	}
}

func TestStartRejectsEmptyQuery(t *testing.T) {
	svc := newTestService(t, nil)
	if _, err := svc.Start(context.Background(), ""); !core.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestGetReturnsStoredSession(t *testing.T) {
	svc := newTestService(t, nil)
	sess, err := svc.Start(context.Background(), "free cli tools")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	got, ok := svc.Get(sess.ID)
	if !ok || got.ID != sess.ID {
		t.Fatalf("session not retrievable by id")
	}
	if _, ok := svc.Get("nope"); ok {
		t.Fatalf("unknown id should miss")
	}
}

func TestGetReturnsIsolatedSnapshot(t *testing.T) {
	svc := newTestService(t, nil)
	sess, err := svc.Start(context.Background(), "free cli tools")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	got, ok := svc.Get(sess.ID)
	if !ok {
		t.Fatalf("session not retrievable")
	}
	if len(got.State.Results) == 0 {
		t.Fatalf("expected results to tamper with")
	}
	got.Status = StatusFailed
	got.State.Results[0].Name = "tampered"
	got.Context.Constraints["max_price"] = 1.0
	got.Faults = append(got.Faults, "tampered")

	again, ok := svc.Get(sess.ID)
	if !ok {
		t.Fatalf("session not retrievable")
	}
	if again.Status == StatusFailed {
		t.Fatalf("mutating a copy must not change the stored session")
	}
	if again.State.Results[0].Name == "tampered" {
		t.Fatalf("result list shared between copies")
	}
	if _, ok := again.Context.Constraints["max_price"]; ok {
		t.Fatalf("context maps shared between copies")
	}
}

func TestConcurrentReadsDuringResume(t *testing.T) {
	svc := newTestService(t, nil)
	sess, err := svc.Start(context.Background(), "good tools")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if sess.Status != StatusClarifying {
		t.Fatalf("expected a clarifying session, got %s", sess.Status)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if got, ok := svc.Get(sess.ID); ok {
				if _, err := json.Marshal(got); err != nil {
					t.Errorf("marshal snapshot: %v", err)
					return
				}
			}
		}
	}()

	cur := sess
	for i := 0; i < 3 && cur.Status == StatusClarifying; i++ {
		cur, err = svc.Resume(context.Background(), cur.ID, core.ClarificationResponse{
			RequestID: cur.Clarification.ID,
			OptionID:  cur.Clarification.Options[0].ID,
		})
		if err != nil {
			t.Fatalf("resume round %d: %v", i, err)
		}
	}
	close(stop)
	wg.Wait()

	if cur.Status != StatusCompleted {
		t.Fatalf("clarified session should complete, got %s (faults %v)", cur.Status, cur.Faults)
	}
}

func TestAnalyzeQueryExtraction(t *testing.T) {
	qc := core.NewQueryContext()
	analyzeQuery("open source coding tools under $20", qc)
	if qc.Intent != "search" {
		t.Fatalf("unexpected intent %q", qc.Intent)
	}
	if qc.Entities["category"] != "developer-tools" {
		t.Fatalf("category not detected: %#v", qc.Entities)
	}
	if qc.Constraints["max_price"] != 20.0 {
		t.Fatalf("price bound not detected: %#v", qc.Constraints)
	}

	qc = core.NewQueryContext()
	analyzeQuery("compare chatgpt alternatives", qc)
	if qc.Intent != "compare" {
		t.Fatalf("comparison intent not detected, got %q", qc.Intent)
	}

	qc = core.NewQueryContext()
	analyzeQuery("free transcription api", qc)
	if qc.Constraints["pricing_tier"] != "free" {
		t.Fatalf("free tier not detected: %#v", qc.Constraints)
	}
	if qc.Entities["category"] != "audio" {
		t.Fatalf("audio category not detected: %#v", qc.Entities)
	}
}
