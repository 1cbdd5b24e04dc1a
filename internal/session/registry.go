// Package session keeps one workflow controller per browser session.
package session

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Brownie44l1/moodsense/internal/workflow"
)

// DefaultMaxSessions bounds the registry when no size is configured.
const DefaultMaxSessions = 1024

// Factory builds the controller for a new session.
type Factory func(id string) *workflow.Controller

// Registry is a bounded set of sessions. The least recently used session is
// evicted when the registry is full and its controller is closed.
type Registry struct {
	mu      sync.Mutex
	cache   *lru.Cache[string, *workflow.Controller]
	factory Factory
	log     *slog.Logger
}

// NewRegistry creates a registry holding at most size sessions.
func NewRegistry(size int, factory Factory, logger *slog.Logger) (*Registry, error) {
	if size <= 0 {
		size = DefaultMaxSessions
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{factory: factory, log: logger}
	cache, err := lru.NewWithEvict[string, *workflow.Controller](size, r.onEvict)
	if err != nil {
		return nil, fmt.Errorf("creating session cache: %w", err)
	}
	r.cache = cache
	return r, nil
}

func (r *Registry) onEvict(id string, c *workflow.Controller) {
	r.log.Debug("session evicted", "session", id)
	c.Close()
}

// Get returns the controller for id if the session is still live.
func (r *Registry) Get(id string) (*workflow.Controller, bool) {
	return r.cache.Get(id)
}

// GetOrCreate returns the controller for id, starting a new session when id
// is unknown or malformed. The returned id is the one the caller must use
// from now on.
func (r *Registry) GetOrCreate(id string) (string, *workflow.Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := uuid.Parse(id); err == nil {
		if c, ok := r.cache.Get(id); ok {
			return id, c, false
		}
	}

	id = uuid.NewString()
	c := r.factory(id)
	r.cache.Add(id, c)
	r.log.Debug("session created", "session", id)
	return id, c, true
}

// Remove ends a session and closes its controller.
func (r *Registry) Remove(id string) {
	r.cache.Remove(id)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	return r.cache.Len()
}

// Close ends every session.
func (r *Registry) Close() {
	r.cache.Purge()
}
