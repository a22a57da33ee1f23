package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/webtally/webtally/internal/limits"
	"github.com/webtally/webtally/internal/report"
	"github.com/webtally/webtally/internal/storage"
	"github.com/webtally/webtally/internal/storage/bolt"
	"github.com/webtally/webtally/internal/track"
)

func newTestServer(t *testing.T) (*Server, *track.TestClock, *storage.Accessor) {
	t.Helper()

	store, err := bolt.Open(filepath.Join(t.TempDir(), "webtally.bolt"))
	if err != nil {
		t.Fatalf("open bolt store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	accessor := storage.NewAccessor(store)
	evaluator := limits.NewEvaluator(accessor, "webtally://blocked", zerolog.Nop())
	clock := &track.TestClock{CurrentTime: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	tracker := track.NewTracker(accessor, evaluator, track.Config{DefaultDelaySeconds: 15}, clock, zerolog.Nop())
	engine := report.NewEngine(store, clock, zerolog.Nop())

	return NewServer(Config{ListenAddr: "127.0.0.1:0"}, tracker, engine, accessor, zerolog.Nop()), clock, accessor
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewBuffer(data)
	} else {
		reader = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestPostEventReturnsActions(t *testing.T) {
	server, clock, accessor := newTestServer(t)
	ctx := context.Background()

	rec := doJSON(t, server, http.MethodPost, "/api/events", map[string]interface{}{
		"kind":   "activated",
		"tab_id": 1,
		"url":    "https://example.com/",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Actions []track.Action `json:"actions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Actions) != 0 {
		t.Fatalf("expected no actions for a plain navigation, got %+v", resp.Actions)
	}

	// A blocked navigation hands back a redirect action
	limit := storage.Limit{TimeLimitMS: 60000, BlockOnLimit: true}
	if err := accessor.SaveLimit(ctx, "blocked.com", &limit); err != nil {
		t.Fatalf("save limit: %v", err)
	}
	if err := accessor.SaveTime(ctx, "blocked.com", 60000, clock.Now(), ""); err != nil {
		t.Fatalf("save time: %v", err)
	}

	rec = doJSON(t, server, http.MethodPost, "/api/events", map[string]interface{}{
		"kind":   "activated",
		"tab_id": 2,
		"url":    "https://blocked.com/",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Actions) != 1 || resp.Actions[0].Type != track.ActionRedirect {
		t.Fatalf("expected a redirect action, got %+v", resp.Actions)
	}
}

func TestPostEventRejectsUnknownKind(t *testing.T) {
	server, _, _ := newTestServer(t)

	rec := doJSON(t, server, http.MethodPost, "/api/events", map[string]interface{}{
		"kind": "teleported",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown event kind, got %d", rec.Code)
	}

	rec = doJSON(t, server, http.MethodPost, "/api/events", map[string]interface{}{
		"kind":  "idle_changed",
		"state": "dreaming",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid idle state, got %d", rec.Code)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	server, _, _ := newTestServer(t)

	// Defaults are served before anything is stored
	rec := doJSON(t, server, http.MethodGet, "/api/settings", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var settings storage.Settings
	if err := json.Unmarshal(rec.Body.Bytes(), &settings); err != nil {
		t.Fatalf("decode settings: %v", err)
	}
	if settings != storage.DefaultSettings() {
		t.Fatalf("expected default settings, got %+v", settings)
	}

	// Out-of-range values come back clamped
	rec = doJSON(t, server, http.MethodPut, "/api/settings", storage.Settings{TrackingDelaySeconds: 1000, Theme: "rose-500"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &settings); err != nil {
		t.Fatalf("decode settings: %v", err)
	}
	if settings.TrackingDelaySeconds != 100 || settings.Theme != "rose-500" {
		t.Fatalf("expected clamped settings, got %+v", settings)
	}
}

func TestWhitelistEndpoints(t *testing.T) {
	server, _, _ := newTestServer(t)

	rec := doJSON(t, server, http.MethodGet, "/api/whitelist", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var listResp struct {
		Domains []string `json:"domains"`
		Count   int      `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("decode whitelist: %v", err)
	}
	if listResp.Count != 0 {
		t.Fatalf("expected empty whitelist, got %+v", listResp)
	}

	if rec := doJSON(t, server, http.MethodPost, "/api/whitelist/example.com", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 adding to whitelist, got %d", rec.Code)
	}

	rec = doJSON(t, server, http.MethodGet, "/api/whitelist", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("decode whitelist: %v", err)
	}
	if listResp.Count != 1 || listResp.Domains[0] != "example.com" {
		t.Fatalf("expected [example.com], got %+v", listResp)
	}

	if rec := doJSON(t, server, http.MethodDelete, "/api/whitelist/example.com", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 removing from whitelist, got %d", rec.Code)
	}
}

func TestLimitEndpoints(t *testing.T) {
	server, _, _ := newTestServer(t)

	rec := doJSON(t, server, http.MethodPut, "/api/limits/example.com", storage.Limit{TimeLimitMS: 0})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-positive limit, got %d", rec.Code)
	}

	rec = doJSON(t, server, http.MethodPut, "/api/limits/example.com", storage.Limit{
		TimeLimitMS: 3600000, Notify80: true, Notify100: true, BlockOnLimit: true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, server, http.MethodGet, "/api/limits", nil)
	var all map[string]storage.Limit
	if err := json.Unmarshal(rec.Body.Bytes(), &all); err != nil {
		t.Fatalf("decode limits: %v", err)
	}
	if all["example.com"].TimeLimitMS != 3600000 {
		t.Fatalf("expected stored limit, got %+v", all)
	}

	if rec := doJSON(t, server, http.MethodDelete, "/api/limits/example.com", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 deleting limit, got %d", rec.Code)
	}

	rec = doJSON(t, server, http.MethodGet, "/api/limits", nil)
	all = nil
	if err := json.Unmarshal(rec.Body.Bytes(), &all); err != nil {
		t.Fatalf("decode limits: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected empty limits after delete, got %+v", all)
	}
}

func TestReportEndpoints(t *testing.T) {
	server, clock, accessor := newTestServer(t)
	ctx := context.Background()

	if err := accessor.SaveTime(ctx, "example.com", 120000, clock.Now(), ""); err != nil {
		t.Fatalf("save time: %v", err)
	}

	rec := doJSON(t, server, http.MethodGet, "/api/reports/summary?range=today", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var summary report.Summary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.TotalTimeMS != 120000 {
		t.Fatalf("expected 120000 ms, got %d", summary.TotalTimeMS)
	}

	if rec := doJSON(t, server, http.MethodGet, "/api/reports/summary?range=fortnight", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad range, got %d", rec.Code)
	}

	if rec := doJSON(t, server, http.MethodGet, "/api/reports/site/never.com", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown site, got %d", rec.Code)
	}

	if rec := doJSON(t, server, http.MethodGet, "/api/reports/site/example.com", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for recorded site, got %d", rec.Code)
	}

	if rec := doJSON(t, server, http.MethodGet, "/api/reports/trend/example.com", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without start/end, got %d", rec.Code)
	}

	rec = doJSON(t, server, http.MethodGet, "/api/reports/trend/example.com?start=2025-03-04&end=2025-03-10", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGetState(t *testing.T) {
	server, _, _ := newTestServer(t)

	rec := doJSON(t, server, http.MethodPost, "/api/events", map[string]interface{}{
		"kind":   "activated",
		"tab_id": 1,
		"url":    "https://example.com/",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, server, http.MethodGet, "/api/state", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Tracking bool                  `json:"tracking"`
		State    storage.TrackingState `json:"state"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if !resp.Tracking || resp.State.CurrentURL != "https://example.com/" {
		t.Fatalf("expected tracking state, got %+v", resp)
	}
}
