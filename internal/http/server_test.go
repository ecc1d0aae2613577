package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

// mockChecker implements TransportChecker for testing.
type mockChecker struct {
	err error
}

func (m *mockChecker) Ping(_ context.Context) error { return m.err }

// mockDBChecker implements DBChecker for testing.
type mockDBChecker struct {
	err error
}

func (m *mockDBChecker) Ping(_ context.Context) error { return m.err }

func newTestServer(ribOK, nextHopOK bool) *Server {
	logger := zap.NewNop()
	rib := map[string]TransportChecker{"fea": &mockChecker{err: checkerErr(ribOK)}}
	nh := &mockChecker{err: checkerErr(nextHopOK)}
	// nil DB checker — readyz will report audit as "disabled".
	return NewServer(":0", nil, rib, nh, logger)
}

func checkerErr(ok bool) error {
	if ok {
		return nil
	}
	return context.DeadlineExceeded
}

func newTestServerWithDB(db DBChecker, ribOK, nextHopOK bool) *Server {
	s := newTestServer(ribOK, nextHopOK)
	s.dbChecker = db
	return s
}

func TestHealthz_AlwaysOK(t *testing.T) {
	s := newTestServer(false, false)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	s.handleHealthz(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status 'ok', got '%s'", body["status"])
	}
}

func TestHealthz_ContentType(t *testing.T) {
	s := newTestServer(false, false)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	s.handleHealthz(w, req)

	ct := w.Header().Get("Content-Type")
	if ct != "application/json" {
		t.Errorf("expected Content-Type 'application/json', got '%s'", ct)
	}
}

func TestReadyz_NotReady_TransportsDown(t *testing.T) {
	s := newTestServer(false, false)
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()

	s.handleReadyz(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "not_ready" {
		t.Errorf("expected status 'not_ready', got '%v'", body["status"])
	}

	checks := body["checks"].(map[string]any)
	if checks["ribclient_fea"] != "error" {
		t.Errorf("expected ribclient_fea 'error', got '%v'", checks["ribclient_fea"])
	}
	if checks["nexthop"] != "error" {
		t.Errorf("expected nexthop 'error', got '%v'", checks["nexthop"])
	}
	if checks["audit"] != "disabled" {
		t.Errorf("expected audit 'disabled' (no checker configured), got '%v'", checks["audit"])
	}
}

func TestReadyz_TransportsUpButAuditDown(t *testing.T) {
	s := newTestServerWithDB(&mockDBChecker{err: context.DeadlineExceeded}, true, true)
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()

	s.handleReadyz(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 (audit down), got %d", w.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	checks := body["checks"].(map[string]any)
	if checks["ribclient_fea"] != "ok" {
		t.Errorf("expected ribclient_fea 'ok', got '%v'", checks["ribclient_fea"])
	}
	if checks["nexthop"] != "ok" {
		t.Errorf("expected nexthop 'ok', got '%v'", checks["nexthop"])
	}
	if checks["audit"] != "error" {
		t.Errorf("expected audit 'error', got '%v'", checks["audit"])
	}
}

func TestReadyz_ContentType(t *testing.T) {
	s := newTestServer(false, false)
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()

	s.handleReadyz(w, req)

	ct := w.Header().Get("Content-Type")
	if ct != "application/json" {
		t.Errorf("expected Content-Type 'application/json', got '%s'", ct)
	}
}

func TestReadyz_AllHealthy(t *testing.T) {
	db := &mockDBChecker{err: nil}
	s := newTestServerWithDB(db, true, true)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()

	s.handleReadyz(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "ready" {
		t.Errorf("expected status 'ready', got '%v'", body["status"])
	}

	checks := body["checks"].(map[string]any)
	if checks["audit"] != "ok" {
		t.Errorf("expected audit 'ok', got '%v'", checks["audit"])
	}
	if checks["ribclient_fea"] != "ok" {
		t.Errorf("expected ribclient_fea 'ok', got '%v'", checks["ribclient_fea"])
	}
	if checks["nexthop"] != "ok" {
		t.Errorf("expected nexthop 'ok', got '%v'", checks["nexthop"])
	}
}
