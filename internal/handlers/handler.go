// Package handlers contains the per-type task handlers the queue dispatches
// to. Handlers are dispatch shims: they look up the referenced entities,
// invoke the external collaborator, and persist artifacts. Block status
// transitions happen only in the queue, never here, so the state machine
// stays in one place.
package handlers

import (
	"context"
	"sync"

	"github.com/FreeBandoLano/echobot-sub000/internal/domain"
)

// Handler processes tasks of a single type.
type Handler interface {
	Handle(ctx context.Context, task *domain.Task) error
	TaskType() domain.TaskType
}

// Registry maps task types to their handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[domain.TaskType]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[domain.TaskType]Handler)}
}

// Register adds a handler. Safe to call concurrently.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.TaskType()] = h
}

// Get returns the handler for the given task type.
// Returns InvalidTaskTypeError if not registered.
func (r *Registry) Get(taskType domain.TaskType) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[taskType]
	if !ok {
		return nil, &domain.InvalidTaskTypeError{TaskType: taskType}
	}
	return h, nil
}

// Validate checks that every listed type has a handler, so a missing
// registration is caught at startup rather than at dispatch time.
func (r *Registry) Validate(types []domain.TaskType) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range types {
		if _, ok := r.handlers[t]; !ok {
			return &domain.InvalidTaskTypeError{TaskType: t}
		}
	}
	return nil
}
