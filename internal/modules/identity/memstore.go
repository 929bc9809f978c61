// README: In-memory driver registry; same contract as the Postgres one.
package identity

import (
	"context"
	"sort"
	"sync"

	"dispatch/internal/types"
)

// MemRegistry is safe for concurrent use. It backs tests and
// infrastructure-free runs.
type MemRegistry struct {
	mu      sync.RWMutex
	byID    map[types.ID]Driver
	subject map[string]types.ID
}

func NewMemRegistry() *MemRegistry {
	return &MemRegistry{
		byID:    make(map[types.ID]Driver),
		subject: make(map[string]types.ID),
	}
}

func (r *MemRegistry) Create(_ context.Context, d Driver) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d.LinkedSubjectUID != "" {
		if owner, ok := r.subject[d.LinkedSubjectUID]; ok && owner != d.ID {
			return ErrConflict
		}
		r.subject[d.LinkedSubjectUID] = d.ID
	}
	r.byID[d.ID] = d
	return nil
}

func (r *MemRegistry) Get(_ context.Context, id types.ID) (Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byID[id]
	if !ok {
		return Driver{}, ErrNotFound
	}
	return d, nil
}

func (r *MemRegistry) List(_ context.Context) ([]Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Driver, 0, len(r.byID))
	for _, d := range r.byID {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayName < out[j].DisplayName })
	return out, nil
}

func (r *MemRegistry) SetLink(_ context.Context, id types.ID, subjectUID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	if owner, taken := r.subject[subjectUID]; taken && owner != id {
		return ErrConflict
	}
	if d.LinkedSubjectUID != "" && d.LinkedSubjectUID != subjectUID {
		delete(r.subject, d.LinkedSubjectUID)
	}
	d.LinkedSubjectUID = subjectUID
	r.byID[id] = d
	r.subject[subjectUID] = id
	return nil
}
