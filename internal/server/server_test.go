package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sift-labs/sift/config"
	"github.com/sift-labs/sift/internal/ambiguity"
	"github.com/sift-labs/sift/internal/catalog"
	"github.com/sift-labs/sift/internal/evaluator"
	"github.com/sift-labs/sift/internal/executor"
	"github.com/sift-labs/sift/internal/planner"
	"github.com/sift-labs/sift/internal/recovery"
	"github.com/sift-labs/sift/internal/session"
	"github.com/sift-labs/sift/internal/state"
)

func newTestServer(t *testing.T) *Server {
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
	svc, err := session.NewService(session.Config{
		Detector:  ambiguity.NewDetector(nil),
		Planner:   planner.NewRulesPlanner(nil),
		Executor:  executor.New(reg, nil, executor.WithBaseBackoff(time.Millisecond)),
		Evaluator: evaluator.New(nil),
		States:    state.NewManager(nil, nil),
		Recovery:  recovery.NewDefaultManager(nil),
	})
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	cfg := config.ServerConfig{Host: "127.0.0.1", Port: 0, JWTSecret: "test-secret"}
	return New(cfg, svc, nil, nil, nil)
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateSessionCompletes(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/sessions", `{"query":"free cli tools"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body.String())
	}
	var sess session.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &sess); err != nil {
		t.Fatalf("decoding session: %v", err)
	}
	if sess.Status != session.StatusCompleted {
		t.Fatalf("expected completed session, got %s", sess.Status)
	}
	if len(sess.State.Results) == 0 {
		t.Fatalf("expected results in response")
	}
}

func TestVagueQueryReturnsAccepted(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/sessions", `{"query":"good tools"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body.String())
	}
	var sess session.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &sess); err != nil {
		t.Fatalf("decoding session: %v", err)
	}
	if sess.Status != session.StatusClarifying || sess.Clarification == nil {
		t.Fatalf("expected paused session with a question, got %s", sess.Status)
	}

	answer := `{"request_id":"` + sess.Clarification.ID + `","option_id":"` + sess.Clarification.Options[0].ID + `"}`
	for i := 0; i < 3; i++ {
		rec = doJSON(t, srv.Handler(), http.MethodPost, "/api/sessions/"+sess.ID+"/clarification", answer)
		if rec.Code != http.StatusOK {
			t.Fatalf("resume status %d, body %s", rec.Code, rec.Body.String())
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &sess); err != nil {
			t.Fatalf("decoding resumed session: %v", err)
		}
		if sess.Status != session.StatusClarifying {
			break
		}
		answer = `{"request_id":"` + sess.Clarification.ID + `","option_id":"` + sess.Clarification.Options[0].ID + `"}`
	}
	if sess.Status != session.StatusCompleted {
		t.Fatalf("resumed session should complete, got %s", sess.Status)
	}
}

func TestGetSessionRoundTrip(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/sessions", `{"query":"free cli tools"}`)
	var created session.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decoding session: %v", err)
	}

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/api/sessions/"+created.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status %d", rec.Code)
	}
	var fetched session.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &fetched); err != nil {
		t.Fatalf("decoding fetched session: %v", err)
	}
	if fetched.ID != created.ID {
		t.Fatalf("fetched wrong session: %s", fetched.ID)
	}
}

func TestErrorMapping(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/sessions/no-such-id", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown session should 404, got %d", rec.Code)
	}

	rec = doJSON(t, srv.Handler(), http.MethodPost, "/api/sessions", `{"query":""}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty query should 400, got %d", rec.Code)
	}

	rec = doJSON(t, srv.Handler(), http.MethodPost, "/api/sessions/no-such-id/clarification", `{"request_id":"x","option_id":"y"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("resume on unknown session should 404, got %d", rec.Code)
	}
}

func TestHealthAndStats(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status %d", rec.Code)
	}

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/api/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status %d", rec.Code)
	}
}

func TestAuthMiddlewareBlocksWithoutToken(t *testing.T) {
	// A server with a store enforces auth on session routes. The handler map
	// is what matters here, so a nil-DB store is enough to flip the switch.
	srv := newTestServer(t)
	auth := newAuthHandler(nil, "test-secret", srv.logger)
	srv.echo.Group("/guarded", auth.require).GET("/ping", srv.health)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/guarded/ping", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing cookie should 401, got %d", rec.Code)
	}
}

func TestAuthTokenRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	auth := newAuthHandler(nil, "test-secret", srv.logger)
	srv.echo.Group("/guarded", auth.require).GET("/ping", srv.health)

	// Mint a cookie the same way the login handler does.
	e := srv.echo
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := auth.setToken(c, "user-123"); err != nil {
		t.Fatalf("set token: %v", err)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != tokenCookie {
		t.Fatalf("expected one auth cookie, got %v", cookies)
	}

	req = httptest.NewRequest(http.MethodGet, "/guarded/ping", nil)
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid token should pass, got %d: %s", rec.Code, rec.Body.String())
	}
}
