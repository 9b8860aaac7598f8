package collection

import (
	"sync"

	"github.com/TomNeyland/modash-go/ivm"
	"github.com/TomNeyland/modash-go/ivm/rowexec"
)

// Registry resolves collection names to their StreamingCollection,
// letting a $lookup stage in one collection's pipeline join against
// another collection registered under the same Registry.
type Registry struct {
	mu          sync.RWMutex
	collections map[string]*StreamingCollection
}

// NewRegistry returns an empty collection registry.
func NewRegistry() *Registry {
	return &Registry{collections: make(map[string]*StreamingCollection)}
}

func (r *Registry) register(name string, c *StreamingCollection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collections[name] = c
}

func (r *Registry) get(name string) (rowexec.ForeignSource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.collections[name]
	if !ok {
		return nil, ivm.ErrInvalidPipeline.New("$lookup references unknown collection " + name)
	}
	return c, nil
}

// Get returns the named collection directly, for callers driving
// multiple collections through one Registry.
func (r *Registry) Get(name string) (*StreamingCollection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.collections[name]
	return c, ok
}
