package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gridscrape/coordinator/internal/domain"
)

// Scraper is a registered per-country scraper. Capabilities are expressed
// as interfaces: a scraper that drains a work queue implements Claimable,
// one with a resumable step pipeline implements Checkpointable. Callers
// select behavior with a type assertion against the registry entry rather
// than probing name-keyed maps of functions.
type Scraper interface {
	Name() string
}

// Claimable is implemented by scrapers that process leased work items.
type Claimable interface {
	Scraper
	Process(ctx context.Context, item *domain.WorkItem) (domain.ItemStatus, error)
}

// Checkpointable is implemented by scrapers whose run is an ordered step
// pipeline driven through the checkpoint manager.
type Checkpointable interface {
	Scraper
	Pipeline() Pipeline
}

// Registry holds the known scrapers by name. Registration happens once at
// startup; lookups are read-only afterwards.
type Registry struct {
	mu       sync.RWMutex
	scrapers map[string]Scraper
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{scrapers: make(map[string]Scraper)}
}

// Register adds a scraper. Registering the same name twice is an error, and
// a Checkpointable scraper must carry a valid pipeline.
func (r *Registry) Register(s Scraper) error {
	if s.Name() == "" {
		return fmt.Errorf("scraper has no name")
	}
	if cp, ok := s.(Checkpointable); ok {
		p := cp.Pipeline()
		if err := p.Validate(); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.scrapers[s.Name()]; exists {
		return fmt.Errorf("scraper %q already registered", s.Name())
	}
	r.scrapers[s.Name()] = s
	return nil
}

// Get returns a registered scraper by name.
func (r *Registry) Get(name string) (Scraper, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scrapers[name]
	if !ok {
		return nil, fmt.Errorf("unknown scraper %q", name)
	}
	return s, nil
}

// Claimable returns the named scraper if it processes work items.
func (r *Registry) Claimable(name string) (Claimable, error) {
	s, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	c, ok := s.(Claimable)
	if !ok {
		return nil, fmt.Errorf("scraper %q does not process work items", name)
	}
	return c, nil
}

// Checkpointable returns the named scraper if it runs a step pipeline.
func (r *Registry) Checkpointable(name string) (Checkpointable, error) {
	s, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	cp, ok := s.(Checkpointable)
	if !ok {
		return nil, fmt.Errorf("scraper %q has no step pipeline", name)
	}
	return cp, nil
}

// Names returns the registered scraper names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.scrapers))
	for name := range r.scrapers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
