package session

import (
	"os"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/paneld/paneld/internal/config"
	"github.com/paneld/paneld/internal/domain/events"
	"github.com/paneld/paneld/internal/store"
	"github.com/paneld/paneld/internal/testutil"
)

// testProvider launches /bin/cat so sessions stay alive and echo input.
const testProvider = "cat"

// stubbornProvider launches a shell that ignores SIGTERM, so closing it
// has to escalate to SIGKILL.
const stubbornProvider = "stubborn"

func newTestRegistry(t *testing.T) (*Registry, *testutil.MockEventHub, *store.Store) {
	t.Helper()
	st := store.New(t.TempDir(), 10*time.Millisecond)
	t.Cleanup(st.Close)
	hub := testutil.NewMockEventHub()
	cfg := config.SessionsConfig{
		HistoryLimit:   50,
		KillGraceMS:    500,
		CloseTimeoutMS: 2000,
		Shell:          "/bin/sh",
		Providers: map[string]config.ProviderConfig{
			testProvider:     {Command: "/bin/cat"},
			stubbornProvider: {Command: "/bin/sh", Args: []string{"-c", "trap '' TERM; while :; do sleep 0.2; done"}},
		},
	}
	r := NewRegistry(cfg, hub, st)
	t.Cleanup(r.Shutdown)
	return r, hub, st
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

// deadPID returns the pid of a process that has already exited.
func deadPID(t *testing.T) int {
	t.Helper()
	cmd := exec.Command("true")
	if err := cmd.Run(); err != nil {
		t.Fatalf("failed to run helper process: %v", err)
	}
	return cmd.ProcessState.Pid()
}

func TestRegistry_EnsureSessionSpawns(t *testing.T) {
	r, hub, _ := newTestRegistry(t)

	info, err := r.EnsureSession("/tmp", testProvider, 80, 24)
	if err != nil {
		t.Fatalf("EnsureSession() error = %v", err)
	}

	if info.ID == "" {
		t.Error("session ID is empty")
	}
	if !info.IsActive {
		t.Error("new session should be active")
	}
	if !info.IsAttached {
		t.Error("new session should be attached")
	}
	if info.PID <= 0 {
		t.Errorf("PID = %d, want > 0", info.PID)
	}
	if info.Kind != events.KindAssistant {
		t.Errorf("Kind = %v, want %v", info.Kind, events.KindAssistant)
	}
	if info.Provider != testProvider {
		t.Errorf("Provider = %q, want %q", info.Provider, testProvider)
	}

	created := hub.EventsOfType(events.EventTypeSessionCreated)
	if len(created) != 1 {
		t.Fatalf("published %d created events, want 1", len(created))
	}
}

func TestRegistry_EnsureSessionReturnsExisting(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	first, err := r.EnsureSession("/tmp", testProvider, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.EnsureSession("/tmp", testProvider, 0, 0)
	if err != nil {
		t.Fatal(err)
	}

	if first.ID != second.ID {
		t.Errorf("second EnsureSession returned %q, want existing %q", second.ID, first.ID)
	}
	if r.SessionCount() != 1 {
		t.Errorf("SessionCount() = %d, want 1", r.SessionCount())
	}
}

func TestRegistry_EnsureSessionConcurrent(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			info, err := r.EnsureSession("/tmp", testProvider, 0, 0)
			if err != nil {
				t.Errorf("EnsureSession() error = %v", err)
				return
			}
			ids[i] = info.ID
		}(i)
	}
	wg.Wait()

	if r.SessionCount() != 1 {
		t.Fatalf("SessionCount() = %d, want 1 active session per key", r.SessionCount())
	}
	for i := 1; i < len(ids); i++ {
		if ids[i] != ids[0] {
			t.Errorf("goroutine %d got session %q, want %q", i, ids[i], ids[0])
		}
	}
}

func TestRegistry_SendEchoesOutput(t *testing.T) {
	r, hub, _ := newTestRegistry(t)

	info, err := r.EnsureSession("/tmp", testProvider, 80, 24)
	if err != nil {
		t.Fatal(err)
	}

	if !r.Send(info.ID, []byte("hello\n")) {
		t.Fatal("Send() = false, want true")
	}

	waitFor(t, 3*time.Second, func() bool {
		for _, e := range hub.EventsOfType(events.EventTypeSessionOutput) {
			p := e.(*events.BaseEvent).Payload.(events.SessionOutputPayload)
			if strings.Contains(p.Content, "hello") {
				return true
			}
		}
		return false
	}, "no output event containing sent bytes")
}

func TestRegistry_SendUnknownSession(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	if r.Send("no-such-id", []byte("x")) {
		t.Error("Send() to unknown session = true, want false")
	}
}

func TestRegistry_Close(t *testing.T) {
	r, hub, _ := newTestRegistry(t)

	info, err := r.EnsureSession("/tmp", testProvider, 0, 0)
	if err != nil {
		t.Fatal(err)
	}

	if !r.Close(info.ID) {
		t.Fatal("Close() = false, want true")
	}

	if _, ok := r.Get(info.ID); ok {
		t.Error("session still present after Close()")
	}
	if r.SessionCount() != 0 {
		t.Errorf("SessionCount() = %d, want 0", r.SessionCount())
	}

	waitFor(t, 2*time.Second, func() bool {
		return len(hub.EventsOfType(events.EventTypeSessionExit)) > 0
	}, "no exit event after close")
}

func TestRegistry_CloseEscalatesToKill(t *testing.T) {
	r, hub, _ := newTestRegistry(t)

	info, err := r.EnsureSession("/tmp", stubbornProvider, 0, 0)
	if err != nil {
		t.Fatal(err)
	}

	// The process ignores SIGTERM; the grace timer must force a SIGKILL
	// and Close must still return inside the overall ceiling.
	start := time.Now()
	if !r.Close(info.ID) {
		t.Fatal("Close() = false, want true")
	}
	if elapsed := time.Since(start); elapsed >= 3*time.Second {
		t.Errorf("Close() took %v, want under the close ceiling", elapsed)
	}

	if _, ok := r.Get(info.ID); ok {
		t.Error("session still present after Close()")
	}

	waitFor(t, 2*time.Second, func() bool {
		return len(hub.EventsOfType(events.EventTypeSessionExit)) > 0
	}, "no exit event after forced kill")
}

func TestRegistry_CloseUnknown(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	if r.Close("no-such-id") {
		t.Error("Close() on unknown id = true, want false")
	}
}

func TestRegistry_Signal(t *testing.T) {
	r, hub, _ := newTestRegistry(t)

	info, err := r.EnsureSession("/tmp", testProvider, 0, 0)
	if err != nil {
		t.Fatal(err)
	}

	if r.Signal(info.ID, "SIGQUIT") {
		t.Error("Signal() with unsupported name = true, want false")
	}

	if !r.Signal(info.ID, "SIGTERM") {
		t.Fatal("Signal(SIGTERM) = false, want true")
	}

	waitFor(t, 2*time.Second, func() bool {
		return len(hub.EventsOfType(events.EventTypeSessionExit)) > 0
	}, "no exit event after SIGTERM")

	waitFor(t, 2*time.Second, func() bool {
		return r.SessionCount() == 0
	}, "exited session not removed from registry")
}

func TestRegistry_ResizeByID(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	info, err := r.EnsureSession("/tmp", testProvider, 80, 24)
	if err != nil {
		t.Fatal(err)
	}

	if !r.ResizeByID(info.ID, 120, 40) {
		t.Error("ResizeByID() = false, want true for attached session")
	}
	if r.ResizeByID("no-such-id", 80, 24) {
		t.Error("ResizeByID() on unknown id = true, want false")
	}
}

func TestRegistry_CreateAndEnsureTerminal(t *testing.T) {
	r, hub, _ := newTestRegistry(t)

	info, err := r.CreateTerminal("/tmp", 80, 24)
	if err != nil {
		t.Fatalf("CreateTerminal() error = %v", err)
	}
	if info.Kind != events.KindTerminal {
		t.Errorf("Kind = %v, want %v", info.Kind, events.KindTerminal)
	}
	if len(hub.EventsOfType(events.EventTypeTerminalCreated)) != 1 {
		t.Error("no terminal_created event published")
	}

	// Known id returns the existing terminal.
	same, err := r.EnsureTerminal(info.ID, "/tmp", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if same.ID != info.ID {
		t.Errorf("EnsureTerminal(known) returned %q, want %q", same.ID, info.ID)
	}

	// Unknown id creates a fresh terminal.
	fresh, err := r.EnsureTerminal("no-such-id", "/tmp", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if fresh.ID == info.ID {
		t.Error("EnsureTerminal(unknown) returned the existing terminal")
	}
	if r.SessionCount() != 2 {
		t.Errorf("SessionCount() = %d, want 2", r.SessionCount())
	}
}

func TestRegistry_RestoreGhost(t *testing.T) {
	r, _, st := newTestRegistry(t)

	now := time.Now().UTC()
	rec := Record{
		ID:             "ghost-1",
		RepositoryPath: "/repo/a",
		RepositoryName: "a",
		Kind:           events.KindAssistant,
		Provider:       testProvider,
		PID:            os.Getpid(),
		IsActive:       true,
		CreatedAt:      now.Add(-time.Hour),
		LastAccessedAt: now.Add(-time.Minute),
		OutputHistory:  []OutputLine{{ID: "l1", Content: "remembered"}},
	}
	if err := st.Write(store.DocSessions, []Record{rec}); err != nil {
		t.Fatal(err)
	}

	r.Restore()

	info, ok := r.Get("ghost-1")
	if !ok {
		t.Fatal("ghost not restored")
	}
	if !info.IsActive {
		t.Error("restored ghost should report active")
	}
	if info.IsAttached {
		t.Error("restored ghost should not report attached")
	}

	lines := r.History("/repo/a", testProvider)
	if len(lines) != 1 || lines[0].Content != "remembered" {
		t.Errorf("History() = %+v, want the persisted buffer", lines)
	}
}

func TestRegistry_RestoreSkipsDeadProcess(t *testing.T) {
	r, _, st := newTestRegistry(t)

	rec := Record{
		ID:             "dead-1",
		RepositoryPath: "/repo/a",
		Provider:       testProvider,
		PID:            deadPID(t),
		IsActive:       true,
		LastAccessedAt: time.Now().UTC(),
	}
	if err := st.Write(store.DocSessions, []Record{rec}); err != nil {
		t.Fatal(err)
	}

	r.Restore()

	if r.SessionCount() != 0 {
		t.Errorf("SessionCount() = %d, want 0 (dead pid record dropped)", r.SessionCount())
	}
}

func TestRegistry_RestoreSkipsExpiredRecord(t *testing.T) {
	r, _, st := newTestRegistry(t)

	rec := Record{
		ID:             "old-1",
		RepositoryPath: "/repo/a",
		Provider:       testProvider,
		PID:            os.Getpid(),
		IsActive:       true,
		LastAccessedAt: time.Now().UTC().Add(-48 * time.Hour),
	}
	if err := st.Write(store.DocSessions, []Record{rec}); err != nil {
		t.Fatal(err)
	}

	r.Restore()

	if r.SessionCount() != 0 {
		t.Errorf("SessionCount() = %d, want 0 (expired record dropped)", r.SessionCount())
	}
}

func TestRegistry_RestoreTagsLegacyRecords(t *testing.T) {
	r, _, st := newTestRegistry(t)

	legacy := []map[string]interface{}{{
		"id":               "legacy-1",
		"repository_path":  "/repo/a",
		"pid":              os.Getpid(),
		"is_active":        true,
		"last_accessed_at": time.Now().UTC().Format(time.RFC3339),
	}}
	if err := st.Write(store.DocLegacySessions, legacy); err != nil {
		t.Fatal(err)
	}

	r.Restore()

	info, ok := r.Get("legacy-1")
	if !ok {
		t.Fatal("legacy record not restored")
	}
	if info.Provider != config.ProviderClaude {
		t.Errorf("Provider = %q, want %q", info.Provider, config.ProviderClaude)
	}
}

func TestRegistry_SendToGhostRespawns(t *testing.T) {
	r, hub, st := newTestRegistry(t)

	rec := Record{
		ID:             "ghost-1",
		RepositoryPath: "/tmp",
		RepositoryName: "tmp",
		Kind:           events.KindAssistant,
		Provider:       testProvider,
		PID:            os.Getpid(),
		IsActive:       true,
		CreatedAt:      time.Now().UTC(),
		LastAccessedAt: time.Now().UTC(),
	}
	if err := st.Write(store.DocSessions, []Record{rec}); err != nil {
		t.Fatal(err)
	}
	r.Restore()

	// Writes against the ghost are queued and trigger one respawn.
	if !r.Send("ghost-1", []byte("ping\n")) {
		t.Fatal("Send() to ghost = false, want true")
	}

	waitFor(t, 3*time.Second, func() bool {
		info, ok := r.ActiveSession("/tmp", testProvider)
		return ok && info.IsAttached && info.ID != "ghost-1"
	}, "ghost was not replaced by an attached session")

	if _, ok := r.Get("ghost-1"); ok {
		t.Error("ghost entry still registered after respawn")
	}

	// The queued input reaches the replacement and echoes back.
	waitFor(t, 3*time.Second, func() bool {
		for _, e := range hub.EventsOfType(events.EventTypeSessionOutput) {
			p := e.(*events.BaseEvent).Payload.(events.SessionOutputPayload)
			if strings.Contains(p.Content, "ping") {
				return true
			}
		}
		return false
	}, "queued ghost input never surfaced in output")
}

func TestRegistry_EnsureSessionRevivesPersistedRecord(t *testing.T) {
	r, hub, st := newTestRegistry(t)

	rec := Record{
		ID:             "persisted-1",
		RepositoryPath: "/repo/a",
		RepositoryName: "a",
		Kind:           events.KindAssistant,
		Provider:       testProvider,
		PID:            os.Getpid(),
		IsActive:       true,
		CreatedAt:      time.Now().UTC(),
		LastAccessedAt: time.Now().UTC(),
	}
	if err := st.Write(store.DocSessions, []Record{rec}); err != nil {
		t.Fatal(err)
	}

	// No Restore: EnsureSession consults persistence directly before spawning.
	info, err := r.EnsureSession("/repo/a", testProvider, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if info.ID != "persisted-1" {
		t.Errorf("EnsureSession returned %q, want revived record persisted-1", info.ID)
	}
	if info.IsAttached {
		t.Error("revived record should be a detached ghost")
	}

	created := hub.EventsOfType(events.EventTypeSessionCreated)
	if len(created) != 1 {
		t.Fatalf("published %d created events, want 1", len(created))
	}
	p := created[0].(*events.BaseEvent).Payload.(events.SessionCreatedPayload)
	if !p.Restored {
		t.Error("created event should be flagged as restored")
	}
}

func TestRegistry_HistoryFallsBackToPersisted(t *testing.T) {
	r, _, st := newTestRegistry(t)

	lines := make([]OutputLine, 60)
	for i := range lines {
		lines[i] = OutputLine{ID: "l", Content: "x"}
	}
	rec := Record{
		ID:             "inactive-1",
		RepositoryPath: "/repo/a",
		Provider:       testProvider,
		OutputHistory:  lines,
	}
	if err := st.Write(store.DocSessions, []Record{rec}); err != nil {
		t.Fatal(err)
	}

	got := r.History("/repo/a", testProvider)
	// Capped to the configured limit even when the persisted buffer is larger.
	if len(got) != 50 {
		t.Errorf("History() returned %d lines, want 50", len(got))
	}
}

func TestRegistry_ClearHistory(t *testing.T) {
	r, _, st := newTestRegistry(t)

	rec := Record{
		ID:             "inactive-1",
		RepositoryPath: "/repo/a",
		Provider:       testProvider,
		OutputHistory:  []OutputLine{{ID: "l1", Content: "stale"}},
	}
	if err := st.Write(store.DocSessions, []Record{rec}); err != nil {
		t.Fatal(err)
	}

	if !r.ClearHistory("/repo/a", testProvider) {
		t.Fatal("ClearHistory() = false, want true")
	}

	if got := r.History("/repo/a", testProvider); len(got) != 0 {
		t.Errorf("History() after clear = %d lines, want 0", len(got))
	}
}

func TestRegistry_ShutdownPersistsState(t *testing.T) {
	r, _, st := newTestRegistry(t)

	info, err := r.EnsureSession("/tmp", testProvider, 0, 0)
	if err != nil {
		t.Fatal(err)
	}

	r.Shutdown()

	var records []Record
	if err := st.Read(store.DocSessions, &records); err != nil {
		t.Fatal(err)
	}
	// The closed session is gone from the active map, so the final
	// snapshot holds no record for it.
	for _, rec := range records {
		if rec.ID == info.ID {
			t.Errorf("closed session %q still present in persisted snapshot", info.ID)
		}
	}
}
