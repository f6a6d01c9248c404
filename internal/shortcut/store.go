// Package shortcut implements saved per-repository command shortcuts.
package shortcut

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/paneld/paneld/internal/domain"
	"github.com/paneld/paneld/internal/store"
)

// Shortcut is a saved command string for a repository. Immutable except
// for deletion.
type Shortcut struct {
	ID             string    `json:"id"`
	Name           string    `json:"name,omitempty"`
	Command        string    `json:"command"`
	RepositoryPath string    `json:"repository_path"`
	CreatedAt      time.Time `json:"created_at"`
}

// Sender writes raw bytes into a terminal session.
type Sender interface {
	Send(sessionID string, data []byte) bool
}

// Store owns command shortcuts and mirrors them to disk.
type Store struct {
	store   *store.Store
	sender  Sender
	mu      sync.Mutex
	entries map[string]*Shortcut
}

// NewStore creates the shortcut store and loads the persisted set.
func NewStore(st *store.Store, sender Sender) *Store {
	s := &Store{
		store:   st,
		sender:  sender,
		entries: make(map[string]*Shortcut),
	}
	var persisted []*Shortcut
	_ = st.Read(store.DocShortcuts, &persisted)
	for _, sc := range persisted {
		s.entries[sc.ID] = sc
	}
	return s
}

// Create saves a new shortcut.
func (s *Store) Create(repoPath, name, command string) *Shortcut {
	sc := &Shortcut{
		ID:             uuid.NewString(),
		Name:           name,
		Command:        command,
		RepositoryPath: repoPath,
		CreatedAt:      time.Now().UTC(),
	}

	s.mu.Lock()
	s.entries[sc.ID] = sc
	s.mu.Unlock()

	s.persist()
	return sc
}

// Delete removes a shortcut.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	if _, ok := s.entries[id]; !ok {
		s.mu.Unlock()
		return domain.ErrShortcutNotFound
	}
	delete(s.entries, id)
	s.mu.Unlock()

	s.persist()
	return nil
}

// Get returns a copy of the shortcut for an id.
func (s *Store) Get(id string) (*Shortcut, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	out := *sc
	return &out, true
}

// List returns the shortcuts for a repository, ordered by creation time.
func (s *Store) List(repoPath string) []*Shortcut {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Shortcut
	for _, sc := range s.entries {
		if sc.RepositoryPath == repoPath {
			cp := *sc
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Execute writes a shortcut's command followed by a carriage return into
// a terminal session. Returns false for unknown shortcut or dead target.
func (s *Store) Execute(id, terminalID string) bool {
	sc, ok := s.Get(id)
	if !ok {
		return false
	}
	return s.sender.Send(terminalID, []byte(sc.Command+"\r"))
}

func (s *Store) persist() {
	s.store.Schedule(store.DocShortcuts, func() interface{} {
		s.mu.Lock()
		defer s.mu.Unlock()
		out := make([]*Shortcut, 0, len(s.entries))
		for _, sc := range s.entries {
			cp := *sc
			out = append(out, &cp)
		}
		sort.Slice(out, func(i, j int) bool {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		})
		return out
	})
}
