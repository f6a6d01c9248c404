package review

import (
	"testing"

	"github.com/paneld/paneld/internal/config"
	"github.com/paneld/paneld/internal/domain/events"
	"github.com/paneld/paneld/internal/testutil"
)

func TestDiffTarget(t *testing.T) {
	tests := []struct {
		spec string
		want string
	}{
		{"staged", "staged"},
		{"working", "working"},
		{"all", "."},
		{"", "HEAD"},
		{"HEAD~3", "HEAD~3"},
		{"main..feature", "main..feature"},
	}
	for _, tt := range tests {
		if got := diffTarget(tt.spec); got != tt.want {
			t.Errorf("diffTarget(%q) = %q, want %q", tt.spec, got, tt.want)
		}
	}
}

func TestPortMarker(t *testing.T) {
	tests := []struct {
		in    string
		port  string
		match bool
	}{
		{"Server started on port 4966", "4966", true},
		{"server started on port 12345", "12345", true},
		{"SERVER STARTED ON PORT 80", "80", true},
		{"noise before\r\nServer started on port 4967\r\nnoise after", "4967", true},
		{"listening on 4966", "", false},
		{"Server started on port", "", false},
	}
	for _, tt := range tests {
		m := portMarker.FindStringSubmatch(tt.in)
		if tt.match {
			if m == nil {
				t.Errorf("portMarker did not match %q", tt.in)
				continue
			}
			if m[1] != tt.port {
				t.Errorf("portMarker captured %q from %q, want %q", m[1], tt.in, tt.port)
			}
		} else if m != nil {
			t.Errorf("portMarker matched %q, want no match", tt.in)
		}
	}
}

func TestSupervisor_StartDetectsAnnouncedPort(t *testing.T) {
	hub := testutil.NewMockEventHub()
	s := NewSupervisor(config.ReviewConfig{
		SharedPort: 59321,
		// The echoed invocation itself carries the marker, so the test
		// does not depend on any real diff tool being installed.
		Command:        "echo Server started on port 59322 ;:",
		StartTimeoutMS: 5000,
	}, hub)
	defer s.StopAll()

	srv, err := s.Start(t.TempDir(), "staged")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if srv.Status != StatusRunning {
		t.Errorf("Status = %v, want %v", srv.Status, StatusRunning)
	}
	if srv.Port != 59322 {
		t.Errorf("Port = %d, want announced 59322", srv.Port)
	}
	if srv.URL != "http://localhost:59322" {
		t.Errorf("URL = %q", srv.URL)
	}
	if srv.DiffTarget != "staged" {
		t.Errorf("DiffTarget = %q, want staged", srv.DiffTarget)
	}
	if srv.PID <= 0 {
		t.Errorf("PID = %d, want > 0", srv.PID)
	}

	started := hub.EventsOfType(events.EventTypeReviewServerStarted)
	if len(started) != 1 {
		t.Fatalf("published %d started events, want 1", len(started))
	}
	p := started[0].(*events.BaseEvent).Payload.(events.ReviewServerPayload)
	if p.Port != 59322 {
		t.Errorf("event port = %d, want 59322", p.Port)
	}
}

func TestSupervisor_StartFallsBackToRequestedPort(t *testing.T) {
	hub := testutil.NewMockEventHub()
	s := NewSupervisor(config.ReviewConfig{
		SharedPort: 59331,
		// No announcement anywhere in the output.
		Command:        ":",
		StartTimeoutMS: 100,
	}, hub)
	defer s.StopAll()

	srv, err := s.Start(t.TempDir(), "")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if srv.Port != 59331 {
		t.Errorf("Port = %d, want requested 59331", srv.Port)
	}
	if srv.DiffTarget != "HEAD" {
		t.Errorf("DiffTarget = %q, want HEAD", srv.DiffTarget)
	}
}

func TestSupervisor_ListAndStop(t *testing.T) {
	hub := testutil.NewMockEventHub()
	s := NewSupervisor(config.ReviewConfig{
		SharedPort:     59341,
		Command:        ":",
		StartTimeoutMS: 100,
	}, hub)
	defer s.StopAll()

	repo := t.TempDir()
	if _, err := s.Start(repo, "all"); err != nil {
		t.Fatal(err)
	}

	list := s.List()
	if len(list) != 1 {
		t.Fatalf("List() returned %d servers, want 1", len(list))
	}
	if list[0].RepositoryPath != repo {
		t.Errorf("List()[0].RepositoryPath = %q, want %q", list[0].RepositoryPath, repo)
	}

	if !s.Stop(repo) {
		t.Fatal("Stop() = false, want true")
	}

	list = s.List()
	if len(list) != 1 || list[0].Status != StatusStopped {
		t.Errorf("after Stop() list = %+v, want one stopped entry", list)
	}

	// Second stop is a no-op.
	if s.Stop(repo) {
		t.Error("second Stop() = true, want false")
	}

	stopped := hub.EventsOfType(events.EventTypeReviewServerStopped)
	if len(stopped) == 0 {
		t.Error("no stopped event published")
	}
}

func TestSupervisor_StopUnknownRepo(t *testing.T) {
	hub := testutil.NewMockEventHub()
	s := NewSupervisor(config.ReviewConfig{SharedPort: 59351, Command: ":"}, hub)

	if s.Stop("/no/such/repo") {
		t.Error("Stop() on unknown repo = true, want false")
	}
}
