// Package automode implements the per-repository auto-mode scheduler:
// saved prompt configurations and the timer-based state machine that
// re-issues a prompt into an assistant session on external hook events.
package automode

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/paneld/paneld/internal/domain"
	"github.com/paneld/paneld/internal/store"
)

// Config is a saved auto-mode prompt configuration. One repository may
// have many configs, but at most one may be current for a running state.
type Config struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Prompt           string    `json:"prompt"`
	RepositoryPath   string    `json:"repository_path"`
	IsEnabled        bool      `json:"is_enabled"`
	SendClearCommand bool      `json:"send_clear_command"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ConfigUpdate carries the mutable fields of a config; nil means leave
// unchanged.
type ConfigUpdate struct {
	Name             *string
	Prompt           *string
	IsEnabled        *bool
	SendClearCommand *bool
}

// ConfigStore owns auto-mode configs and mirrors them to disk.
type ConfigStore struct {
	store *store.Store

	mu      sync.Mutex
	configs map[string]*Config
}

// NewConfigStore creates a config store and loads the persisted set.
func NewConfigStore(st *store.Store) *ConfigStore {
	cs := &ConfigStore{
		store:   st,
		configs: make(map[string]*Config),
	}
	var persisted []*Config
	_ = st.Read(store.DocAutoModeCfgs, &persisted)
	for _, c := range persisted {
		cs.configs[c.ID] = c
	}
	return cs
}

// Create adds a new config for a repository.
func (cs *ConfigStore) Create(repoPath, name, prompt string, isEnabled, sendClear bool) *Config {
	now := time.Now().UTC()
	c := &Config{
		ID:               uuid.NewString(),
		Name:             name,
		Prompt:           prompt,
		RepositoryPath:   repoPath,
		IsEnabled:        isEnabled,
		SendClearCommand: sendClear,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	cs.mu.Lock()
	cs.configs[c.ID] = c
	cs.mu.Unlock()

	cs.persist()
	return c
}

// Update applies non-nil fields of upd to a config.
func (cs *ConfigStore) Update(id string, upd ConfigUpdate) (*Config, error) {
	cs.mu.Lock()
	c, ok := cs.configs[id]
	if !ok {
		cs.mu.Unlock()
		return nil, domain.ErrConfigNotFound
	}
	if upd.Name != nil {
		c.Name = *upd.Name
	}
	if upd.Prompt != nil {
		c.Prompt = *upd.Prompt
	}
	if upd.IsEnabled != nil {
		c.IsEnabled = *upd.IsEnabled
	}
	if upd.SendClearCommand != nil {
		c.SendClearCommand = *upd.SendClearCommand
	}
	c.UpdatedAt = time.Now().UTC()
	out := *c
	cs.mu.Unlock()

	cs.persist()
	return &out, nil
}

// Delete removes a config.
func (cs *ConfigStore) Delete(id string) error {
	cs.mu.Lock()
	if _, ok := cs.configs[id]; !ok {
		cs.mu.Unlock()
		return domain.ErrConfigNotFound
	}
	delete(cs.configs, id)
	cs.mu.Unlock()

	cs.persist()
	return nil
}

// Get returns a copy of the config for an id.
func (cs *ConfigStore) Get(id string) (*Config, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	c, ok := cs.configs[id]
	if !ok {
		return nil, false
	}
	out := *c
	return &out, true
}

// List returns the configs for a repository, ordered by creation time.
// An empty repoPath returns every config.
func (cs *ConfigStore) List(repoPath string) []*Config {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	var out []*Config
	for _, c := range cs.configs {
		if repoPath == "" || c.RepositoryPath == repoPath {
			cp := *c
			out = append(out, &cp)
		}
	}
	sortByCreation(out)
	return out
}

func sortByCreation(configs []*Config) {
	sort.Slice(configs, func(i, j int) bool {
		return configs[i].CreatedAt.Before(configs[j].CreatedAt)
	})
}

func (cs *ConfigStore) persist() {
	cs.store.Schedule(store.DocAutoModeCfgs, func() interface{} {
		cs.mu.Lock()
		defer cs.mu.Unlock()
		out := make([]*Config, 0, len(cs.configs))
		for _, c := range cs.configs {
			cp := *c
			out = append(out, &cp)
		}
		sortByCreation(out)
		return out
	})
}
