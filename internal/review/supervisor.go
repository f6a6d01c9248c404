// Package review manages a single ephemeral diff-viewer server per
// repository, including reclamation of the shared port it runs on.
package review

import (
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/rs/zerolog/log"

	"github.com/paneld/paneld/internal/config"
	"github.com/paneld/paneld/internal/domain"
	"github.com/paneld/paneld/internal/domain/events"
	"github.com/paneld/paneld/internal/domain/ports"
	"github.com/paneld/paneld/internal/proc"
)

// Status is the lifecycle state of a review server.
type Status string

const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopped  Status = "stopped"
	StatusError    Status = "error"
)

// Server describes one review server instance.
type Server struct {
	RepositoryPath string    `json:"repository_path"`
	Port           int       `json:"port"`
	Status         Status    `json:"status"`
	PID            int       `json:"pid,omitempty"`
	URL            string    `json:"url"`
	DiffTarget     string    `json:"diff_target"`
	StartedAt      time.Time `json:"started_at"`
}

// portMarker matches the tool's own announcement of its bound port; the
// tool may rebind away from the requested port when it is taken.
var portMarker = regexp.MustCompile(`(?i)server started on port (\d+)`)

// portReleaseWait is how long to wait after force-killing a port owner.
const portReleaseWait = 500 * time.Millisecond

type entry struct {
	Server
	pty *os.File
	cmd *exec.Cmd
}

// Supervisor owns at most one review server per repository.
type Supervisor struct {
	cfg config.ReviewConfig
	hub ports.EventHub

	mu      sync.Mutex
	servers map[string]*entry
}

// NewSupervisor creates a review server supervisor.
func NewSupervisor(cfg config.ReviewConfig, hub ports.EventHub) *Supervisor {
	return &Supervisor{
		cfg:     cfg,
		hub:     hub,
		servers: make(map[string]*entry),
	}
}

// diffTarget maps a diff spec to the concrete argument passed to the
// diff tool. Unrecognized specs are treated as explicit refs.
func diffTarget(spec string) string {
	switch spec {
	case "staged":
		return "staged"
	case "working":
		return "working"
	case "all":
		return "."
	case "":
		return "HEAD"
	default:
		return spec
	}
}

// Start launches the diff viewer for a repository. Any server already
// starting or running for the repository is stopped first; whatever
// foreign process owns the shared port is force-killed. Success is
// best-effort: if the tool never announces its port within the bounded
// wait, the originally requested port is assumed.
func (s *Supervisor) Start(repoPath, diffSpec string) (*Server, error) {
	target := diffTarget(diffSpec)
	port := s.cfg.SharedPort

	s.mu.Lock()
	if existing, ok := s.servers[repoPath]; ok && (existing.Status == StatusStarting || existing.Status == StatusRunning) {
		s.mu.Unlock()
		s.Stop(repoPath)
		s.mu.Lock()
	}
	s.mu.Unlock()

	// Reclaim the shared port from whatever owns it.
	if killed := proc.KillByPort(port); killed > 0 {
		log.Info().Int("port", port).Int("killed", killed).Msg("reclaimed review server port")
		time.Sleep(portReleaseWait)
	}

	cmd := exec.Command(shellCommand())
	cmd.Dir = repoPath
	cmd.Env = os.Environ()
	ptmx, err := pty.Start(cmd)
	if err != nil {
		log.Error().Err(err).Str("repo", repoPath).Msg("failed to start review server shell")
		return nil, domain.NewProcessError("spawn", err, 0)
	}

	e := &entry{
		Server: Server{
			RepositoryPath: repoPath,
			Port:           port,
			Status:         StatusStarting,
			PID:            cmd.Process.Pid,
			DiffTarget:     target,
			StartedAt:      time.Now().UTC(),
		},
		pty: ptmx,
		cmd: cmd,
	}

	s.mu.Lock()
	s.servers[repoPath] = e
	s.mu.Unlock()

	invocation := fmt.Sprintf("%s %s --port %d\r", s.cfg.Command, target, port)
	if _, err := ptmx.Write([]byte(invocation)); err != nil {
		log.Warn().Err(err).Str("repo", repoPath).Msg("failed to write review invocation")
	}

	// Learn the actual bound port from the tool's output; tools may
	// rebind away from the requested one.
	boundPort := s.awaitPortMarker(ptmx, port)

	go s.reap(repoPath, e)

	s.mu.Lock()
	e.Port = boundPort
	e.Status = StatusRunning
	e.URL = fmt.Sprintf("http://localhost:%d", boundPort)
	out := e.Server
	s.mu.Unlock()

	log.Info().
		Str("repo", repoPath).
		Int("port", boundPort).
		Str("target", target).
		Msg("review server started")

	s.hub.Publish(events.NewReviewServerStartedEvent(events.ReviewServerPayload{
		RepositoryPath: repoPath,
		Port:           boundPort,
		URL:            out.URL,
		Status:         string(StatusRunning),
		DiffTarget:     target,
	}))
	return &out, nil
}

// awaitPortMarker scans PTY output for the port announcement, bounded
// by the configured start timeout. Falls back to the requested port.
func (s *Supervisor) awaitPortMarker(ptmx *os.File, requested int) int {
	found := make(chan int, 1)
	go func() {
		buf := make([]byte, 4096)
		var acc []byte
		for {
			n, err := ptmx.Read(buf)
			if n > 0 {
				acc = append(acc, buf[:n]...)
				if m := portMarker.FindSubmatch(acc); m != nil {
					if p, err := strconv.Atoi(string(m[1])); err == nil {
						select {
						case found <- p:
						default:
						}
						// Keep draining so the PTY does not block.
						acc = nil
						continue
					}
				}
				// Bound the scan window.
				if len(acc) > 64*1024 {
					acc = acc[len(acc)-8*1024:]
				}
			}
			if err != nil {
				return
			}
		}
	}()

	timeout := s.cfg.StartTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case p := <-found:
		return p
	case <-timer.C:
		log.Warn().Int("port", requested).Msg("no port marker from review tool, assuming requested port")
		return requested
	}
}

// reap waits for the shell to exit and marks the server stopped if it
// died on its own.
func (s *Supervisor) reap(repoPath string, e *entry) {
	_ = e.cmd.Wait()

	s.mu.Lock()
	cur, ok := s.servers[repoPath]
	if !ok || cur != e || cur.Status == StatusStopped {
		s.mu.Unlock()
		return
	}
	cur.Status = StatusStopped
	payload := events.ReviewServerPayload{
		RepositoryPath: repoPath,
		Port:           cur.Port,
		Status:         string(StatusStopped),
	}
	s.mu.Unlock()

	log.Info().Str("repo", repoPath).Msg("review server exited")
	s.hub.Publish(events.NewReviewServerStoppedEvent(payload))
}

// Stop terminates the review server for a repository: graceful then
// forceful on the tracked process, plus a force-kill of anything still
// holding the shared port as a safety net.
func (s *Supervisor) Stop(repoPath string) bool {
	s.mu.Lock()
	e, ok := s.servers[repoPath]
	if !ok || e.Status == StatusStopped {
		s.mu.Unlock()
		return false
	}
	e.Status = StatusStopped
	pid := e.PID
	port := e.Port
	ptmx := e.pty
	s.mu.Unlock()

	if pid > 0 {
		_ = proc.Terminate(pid)
		grace := time.AfterFunc(2*time.Second, func() {
			_ = proc.Kill(pid)
		})
		defer grace.Stop()

		done := make(chan struct{})
		go func() {
			for proc.Alive(pid) {
				time.Sleep(100 * time.Millisecond)
			}
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			_ = proc.Kill(pid)
		}
	}

	if ptmx != nil {
		_ = ptmx.Close()
	}

	// Safety net: nothing may keep squatting on the shared port.
	proc.KillByPort(port)

	log.Info().Str("repo", repoPath).Int("port", port).Msg("review server stopped")

	s.hub.Publish(events.NewReviewServerStoppedEvent(events.ReviewServerPayload{
		RepositoryPath: repoPath,
		Port:           port,
		Status:         string(StatusStopped),
	}))
	return true
}

// List returns a snapshot of all tracked review servers.
func (s *Supervisor) List() []Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Server, 0, len(s.servers))
	for _, e := range s.servers {
		out = append(out, e.Server)
	}
	return out
}

// StopAll stops every tracked server.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	repos := make([]string, 0, len(s.servers))
	for repo := range s.servers {
		repos = append(repos, repo)
	}
	s.mu.Unlock()

	for _, repo := range repos {
		s.Stop(repo)
	}
}

func shellCommand() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/sh"
}
