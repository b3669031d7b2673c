package skill

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds every registered skill and enforces the leaves-first
// dependency ordering named by the skill contract: a skill may only
// declare dependencies at a strictly lower layer than its own.
type Registry struct {
	mu     sync.RWMutex
	skills map[string]Skill
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{skills: make(map[string]Skill)}
}

// Register adds a skill, validating its declared dependencies against
// skills already registered. Dependencies must be registered first —
// this is what makes "leaves first" enforceable without a separate
// topological sort pass.
func (r *Registry) Register(s Skill) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.skills[s.Name()]; exists {
		return fmt.Errorf("skill %q already registered", s.Name())
	}

	for _, depName := range s.Dependencies() {
		dep, ok := r.skills[depName]
		if !ok {
			return fmt.Errorf("skill %q depends on %q, which is not yet registered", s.Name(), depName)
		}
		if dep.Layer() >= s.Layer() {
			return fmt.Errorf("skill %q (layer %d) may not depend on %q (layer %d): dependencies must be strictly lower layer",
				s.Name(), s.Layer(), depName, dep.Layer())
		}
	}

	r.skills[s.Name()] = s
	return nil
}

// Get returns a registered skill by name.
func (r *Registry) Get(name string) (Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.skills[name]
	return s, ok
}

// Names returns every registered skill name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.skills))
	for name := range r.skills {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered skills.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.skills)
}
