package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ResourceSet tracks per-session resources and releases them in a fixed,
// deterministic order. Resources are released in the order they were added;
// callers add them in teardown order, not acquisition order.
//
// Release is idempotent: the second and later calls are no-ops, and a
// failing release step never prevents the remaining steps from running.
// Safe for concurrent use.
type ResourceSet struct {
	mu        sync.Mutex
	resources []resource
	released  bool
}

type resource struct {
	name  string
	close func() error
}

// NewResourceSet creates an empty ResourceSet.
func NewResourceSet() *ResourceSet {
	return &ResourceSet{}
}

// Add registers a named release step. Steps run in Add order during Release.
// Adding after Release runs the step's registration through a released set;
// the step is released immediately.
func (r *ResourceSet) Add(name string, close func() error) {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		if err := close(); err != nil {
			slog.Warn("late resource released with error", "resource", name, "error", err)
		}
		return
	}
	r.resources = append(r.resources, resource{name: name, close: close})
	r.mu.Unlock()
}

// Release runs every registered release step in Add order. Errors are
// collected and joined; a failing step does not abort the remaining steps.
// Subsequent calls return nil without re-running any step.
func (r *ResourceSet) Release() error {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return nil
	}
	r.released = true
	resources := r.resources
	r.resources = nil
	r.mu.Unlock()

	var errs []error
	for _, res := range resources {
		if err := res.close(); err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", res.name, err))
		}
	}
	return errors.Join(errs...)
}

// Released reports whether Release has run.
func (r *ResourceSet) Released() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.released
}
