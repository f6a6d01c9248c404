package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/paneld/paneld/internal/automode"
	"github.com/paneld/paneld/internal/config"
	"github.com/paneld/paneld/internal/review"
	"github.com/paneld/paneld/internal/session"
	"github.com/paneld/paneld/internal/shortcut"
	"github.com/paneld/paneld/internal/store"
	"github.com/paneld/paneld/internal/testutil"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	st := store.New(t.TempDir(), 10*time.Millisecond)
	hub := testutil.NewMockEventHub()

	sessCfg := config.SessionsConfig{
		HistoryLimit:   50,
		KillGraceMS:    500,
		CloseTimeoutMS: 2000,
		Shell:          "/bin/sh",
		Providers: map[string]config.ProviderConfig{
			"cat": {Command: "/bin/cat"},
		},
	}
	registry := session.NewRegistry(sessCfg, hub, st)
	t.Cleanup(registry.Shutdown)

	configs := automode.NewConfigStore(st)
	scheduler := automode.NewScheduler(configs, registry, hub, st, time.Hour, 0, "cat")
	t.Cleanup(scheduler.Shutdown)

	shortcuts := shortcut.NewStore(st, registry)
	reviews := review.NewSupervisor(config.ReviewConfig{
		SharedPort:     59371,
		Command:        ":",
		StartTimeoutMS: 100,
	}, hub)
	t.Cleanup(reviews.StopAll)

	return New("127.0.0.1", 0, registry, scheduler, configs, shortcuts, reviews)
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("invalid response JSON %q: %v", rec.Body.String(), err)
	}
}

func TestServer_Health(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /health status = %d, want 200", rec.Code)
	}

	var body map[string]interface{}
	decodeBody(t, rec, &body)
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
}

func TestServer_Status(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/status status = %d, want 200", rec.Code)
	}

	var body map[string]interface{}
	decodeBody(t, rec, &body)
	if _, ok := body["uptime_seconds"]; !ok {
		t.Error("status response missing uptime_seconds")
	}
}

func TestServer_SessionLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/sessions/ensure", map[string]interface{}{
		"repository_path": "/tmp",
		"provider":        "cat",
		"cols":            80,
		"rows":            24,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("ensure status = %d, body %s", rec.Code, rec.Body.String())
	}

	var info session.Info
	decodeBody(t, rec, &info)
	if info.ID == "" || !info.IsActive {
		t.Fatalf("ensure returned %+v", info)
	}

	rec = doJSON(t, s, http.MethodPost, "/api/sessions/"+info.ID+"/send", map[string]string{"input": "hi\n"})
	if rec.Code != http.StatusOK {
		t.Errorf("send status = %d", rec.Code)
	}

	rec = doJSON(t, s, http.MethodPost, "/api/sessions/"+info.ID+"/resize", map[string]int{"cols": 100, "rows": 30})
	if rec.Code != http.StatusOK {
		t.Errorf("resize status = %d", rec.Code)
	}

	rec = doJSON(t, s, http.MethodGet, "/api/sessions", nil)
	var list struct {
		Sessions []session.Info `json:"sessions"`
	}
	decodeBody(t, rec, &list)
	if len(list.Sessions) != 1 {
		t.Errorf("listed %d sessions, want 1", len(list.Sessions))
	}

	rec = doJSON(t, s, http.MethodDelete, "/api/sessions/"+info.ID, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("close status = %d", rec.Code)
	}

	rec = doJSON(t, s, http.MethodDelete, "/api/sessions/"+info.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second close status = %d, want 404", rec.Code)
	}
}

func TestServer_CleanupRepository(t *testing.T) {
	s := newTestServer(t)

	seeds := []struct {
		path string
		body map[string]interface{}
	}{
		{"/api/sessions/ensure", map[string]interface{}{"repository_path": "/repo/a", "provider": "cat"}},
		{"/api/terminals", map[string]interface{}{"repository_path": "/repo/a"}},
		{"/api/sessions/ensure", map[string]interface{}{"repository_path": "/repo/b", "provider": "cat"}},
	}
	for _, seed := range seeds {
		rec := doJSON(t, s, http.MethodPost, seed.path, seed.body)
		if rec.Code != http.StatusOK {
			t.Fatalf("POST %s status = %d, body %s", seed.path, rec.Code, rec.Body.String())
		}
	}

	rec := doJSON(t, s, http.MethodPost, "/api/repositories/cleanup", map[string]string{
		"repository_path": "/repo/a",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("cleanup status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		ClosedSessions int `json:"closed_sessions"`
	}
	decodeBody(t, rec, &resp)
	if resp.ClosedSessions != 2 {
		t.Errorf("closed_sessions = %d, want 2", resp.ClosedSessions)
	}

	// Only the other repository survives.
	rec = doJSON(t, s, http.MethodGet, "/api/sessions", nil)
	var list struct {
		Sessions []session.Info `json:"sessions"`
	}
	decodeBody(t, rec, &list)
	if len(list.Sessions) != 1 || list.Sessions[0].RepositoryPath != "/repo/b" {
		t.Errorf("surviving sessions = %+v, want one for /repo/b", list.Sessions)
	}

	rec = doJSON(t, s, http.MethodPost, "/api/repositories/cleanup", map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("cleanup without repository_path status = %d, want 400", rec.Code)
	}
}

func TestServer_EnsureSessionValidation(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/sessions/ensure", map[string]string{"provider": "cat"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("ensure without repository_path status = %d, want 400", rec.Code)
	}
}

func TestServer_HistoryRoutesNotShadowedByID(t *testing.T) {
	s := newTestServer(t)

	// Missing query params is a 400 from the history handler, not a 404
	// from the {id} close handler.
	rec := doJSON(t, s, http.MethodDelete, "/api/sessions/history", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("DELETE /api/sessions/history status = %d, want 400", rec.Code)
	}

	rec = doJSON(t, s, http.MethodGet, "/api/sessions/history?repository_path=/tmp&provider=cat", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("GET history status = %d, want 200", rec.Code)
	}
}

func TestServer_AutoModeConfigCRUD(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/automode/configs", map[string]string{
		"repository_path": "/repo/a",
		"name":            "continue",
		"prompt":          "keep going",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("create config status = %d, body %s", rec.Code, rec.Body.String())
	}

	var cfg automode.Config
	decodeBody(t, rec, &cfg)
	if cfg.ID == "" {
		t.Fatal("created config has empty ID")
	}
	// Defaults when flags are omitted.
	if !cfg.IsEnabled || !cfg.SendClearCommand {
		t.Errorf("created config flags = %+v, want both true by default", cfg)
	}

	rec = doJSON(t, s, http.MethodPatch, "/api/automode/configs/"+cfg.ID, map[string]interface{}{
		"prompt": "updated prompt",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update config status = %d", rec.Code)
	}
	decodeBody(t, rec, &cfg)
	if cfg.Prompt != "updated prompt" {
		t.Errorf("Prompt = %q after update", cfg.Prompt)
	}

	rec = doJSON(t, s, http.MethodGet, "/api/automode/configs?repository_path=/repo/a", nil)
	var list struct {
		Configs []automode.Config `json:"configs"`
	}
	decodeBody(t, rec, &list)
	if len(list.Configs) != 1 {
		t.Errorf("listed %d configs, want 1", len(list.Configs))
	}

	rec = doJSON(t, s, http.MethodDelete, "/api/automode/configs/"+cfg.ID, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("delete config status = %d", rec.Code)
	}
	rec = doJSON(t, s, http.MethodDelete, "/api/automode/configs/"+cfg.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
}

func TestServer_AutoModeStartStop(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/automode/start", map[string]string{
		"repository_path": "/repo/a",
		"config_id":       "no-such-config",
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("start with unknown config status = %d, want 404", rec.Code)
	}

	var cfg automode.Config
	rec = doJSON(t, s, http.MethodPost, "/api/automode/configs", map[string]string{
		"repository_path": "/tmp",
		"name":            "n",
		"prompt":          "p",
	})
	decodeBody(t, rec, &cfg)

	rec = doJSON(t, s, http.MethodPost, "/api/automode/start", map[string]string{
		"repository_path": "/tmp",
		"config_id":       cfg.ID,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("start status = %d, body %s", rec.Code, rec.Body.String())
	}

	var state automode.State
	decodeBody(t, rec, &state)
	if !state.IsRunning {
		t.Error("state not running after start")
	}

	rec = doJSON(t, s, http.MethodGet, "/api/automode/status?repository_path=/tmp", nil)
	decodeBody(t, rec, &state)
	if !state.IsRunning {
		t.Error("status endpoint reports not running")
	}

	rec = doJSON(t, s, http.MethodPost, "/api/automode/stop", map[string]string{"repository_path": "/tmp"})
	if rec.Code != http.StatusOK {
		t.Errorf("stop status = %d", rec.Code)
	}

	rec = doJSON(t, s, http.MethodPost, "/api/automode/stop", map[string]string{"repository_path": "/tmp"})
	if rec.Code != http.StatusConflict {
		t.Errorf("second stop status = %d, want 409", rec.Code)
	}
}

func TestServer_Hooks(t *testing.T) {
	s := newTestServer(t)

	// Hooks are always acknowledged, managed repo or not.
	rec := doJSON(t, s, http.MethodPost, "/api/hooks/stop", map[string]string{
		"cwd":             "/somewhere/else",
		"hook_event_name": "Stop",
	})
	if rec.Code != http.StatusOK {
		t.Errorf("hook status = %d, want 200", rec.Code)
	}

	rec = doJSON(t, s, http.MethodPost, "/api/hooks/notification", map[string]string{
		"cwd": "/repo/a",
	})
	if rec.Code != http.StatusOK {
		t.Errorf("non-stop hook status = %d, want 200", rec.Code)
	}
}

func TestIsTurnEndedHook(t *testing.T) {
	tests := []struct {
		hookType  string
		eventName string
		want      bool
	}{
		{"stop", "", true},
		{"Stop", "", true},
		{"STOP", "", true},
		{"notification", "Stop", true},
		{"notification", "", false},
		{"subagent-stop", "SubagentStop", false},
	}
	for _, tt := range tests {
		if got := isTurnEndedHook(tt.hookType, tt.eventName); got != tt.want {
			t.Errorf("isTurnEndedHook(%q, %q) = %v, want %v", tt.hookType, tt.eventName, got, tt.want)
		}
	}
}

func TestServer_ManagedRepoFor(t *testing.T) {
	s := newTestServer(t)
	s.configs.Create("/repo/a", "n", "p", true, false)

	tests := []struct {
		cwd  string
		repo string
		ok   bool
	}{
		{"/repo/a", "/repo/a", true},
		{"/repo/a/sub/dir", "/repo/a", true},
		{"/repo/ab", "", false}, // prefix match requires a path boundary
		{"/other", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		repo, ok := s.managedRepoFor(tt.cwd)
		if ok != tt.ok || repo != tt.repo {
			t.Errorf("managedRepoFor(%q) = (%q, %v), want (%q, %v)", tt.cwd, repo, ok, tt.repo, tt.ok)
		}
	}
}

func TestServer_Shortcuts(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/shortcuts", map[string]string{
		"repository_path": "/repo/a",
		"name":            "tests",
		"command":         "go test ./...",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("create shortcut status = %d, body %s", rec.Code, rec.Body.String())
	}

	var sc shortcut.Shortcut
	decodeBody(t, rec, &sc)
	if sc.ID == "" {
		t.Fatal("created shortcut has empty ID")
	}

	rec = doJSON(t, s, http.MethodGet, "/api/shortcuts?repository_path=/repo/a", nil)
	var list struct {
		Shortcuts []shortcut.Shortcut `json:"shortcuts"`
	}
	decodeBody(t, rec, &list)
	if len(list.Shortcuts) != 1 {
		t.Errorf("listed %d shortcuts, want 1", len(list.Shortcuts))
	}

	// Executing against a dead terminal fails.
	rec = doJSON(t, s, http.MethodPost, "/api/shortcuts/"+sc.ID+"/execute", map[string]string{
		"terminal_id": "no-such-terminal",
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("execute against dead terminal status = %d, want 404", rec.Code)
	}

	rec = doJSON(t, s, http.MethodDelete, "/api/shortcuts/"+sc.ID, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("delete shortcut status = %d", rec.Code)
	}
}

func TestServer_ReviewEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/review/servers", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list review servers status = %d", rec.Code)
	}

	rec = doJSON(t, s, http.MethodPost, "/api/review/stop", map[string]string{
		"repository_path": "/no/such/repo",
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("stop unknown review server status = %d, want 404", rec.Code)
	}

	rec = doJSON(t, s, http.MethodPost, "/api/review/start", map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("start without repository_path status = %d, want 400", rec.Code)
	}
}

func TestServer_CORSHeaders(t *testing.T) {
	s := newTestServer(t)

	handler := corsMiddleware(s.router)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Allow-Origin = %q, want echoed localhost origin", got)
	}

	// Non-localhost origins are not echoed back.
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://evil.example.com")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin = %q for foreign origin, want empty", got)
	}
}
