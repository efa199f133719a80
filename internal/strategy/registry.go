package strategy

import (
	"fmt"
	"sync"
)

// Registry is the whitelist of valid strategies. Admin-mutated,
// read-mostly; readers go through a point-in-time snapshot so one
// operation sees a single consistent whitelist.
type Registry struct {
	mu         sync.RWMutex
	strategies map[ID]Strategy
	version    uint64
}

func NewRegistry() *Registry {
	return &Registry{strategies: make(map[ID]Strategy)}
}

func (r *Registry) Add(s Strategy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.strategies[s.ID()]; ok {
		return fmt.Errorf("strategy: %s already registered", s.ID())
	}
	r.strategies[s.ID()] = s
	r.version++
	return nil
}

func (r *Registry) Remove(id ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.strategies[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStrategy, id)
	}
	delete(r.strategies, id)
	r.version++
	return nil
}

func (r *Registry) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// RegistrySnapshot is an immutable view of the whitelist.
type RegistrySnapshot struct {
	strategies map[ID]Strategy
	version    uint64
}

func (r *Registry) Snapshot() *RegistrySnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	strategies := make(map[ID]Strategy, len(r.strategies))
	for k, v := range r.strategies {
		strategies[k] = v
	}
	return &RegistrySnapshot{strategies: strategies, version: r.version}
}

func (s *RegistrySnapshot) Version() uint64 { return s.version }

func (s *RegistrySnapshot) IsValid(id ID) bool {
	_, ok := s.strategies[id]
	return ok
}

func (s *RegistrySnapshot) Get(id ID) (Strategy, error) {
	st, ok := s.strategies[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, id)
	}
	return st, nil
}
