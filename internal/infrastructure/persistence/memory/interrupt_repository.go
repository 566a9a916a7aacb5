package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/agentkernel/agentkernel/internal/domain/humanloop"
	"github.com/agentkernel/agentkernel/internal/pkg/errors"
)

// InterruptRepository is an in-process humanloop.Repository for unit tests
// and the non-persistent dev mode.
type InterruptRepository struct {
	mu         sync.RWMutex
	interrupts map[string]*humanloop.Interrupt
}

// NewInterruptRepository creates a new in-memory interrupt repository.
func NewInterruptRepository() *InterruptRepository {
	return &InterruptRepository{interrupts: make(map[string]*humanloop.Interrupt)}
}

func (r *InterruptRepository) Save(ctx context.Context, interrupt *humanloop.Interrupt) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.interrupts[interrupt.ID()] = interrupt
	interrupt.ClearEvents()
	return nil
}

func (r *InterruptRepository) FindByID(ctx context.Context, id string) (*humanloop.Interrupt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	in, ok := r.interrupts[id]
	if !ok {
		return nil, errors.NotFound("interrupt", id)
	}
	return in, nil
}

func (r *InterruptRepository) FindByRunID(ctx context.Context, runID string) ([]*humanloop.Interrupt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*humanloop.Interrupt
	for _, in := range r.interrupts {
		if in.RunID() == runID {
			out = append(out, in)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt().Before(out[j].CreatedAt()) })
	return out, nil
}

func (r *InterruptRepository) FindUnresolvedByRunID(ctx context.Context, runID string) ([]*humanloop.Interrupt, error) {
	all, err := r.FindByRunID(ctx, runID)
	if err != nil {
		return nil, err
	}
	var out []*humanloop.Interrupt
	for _, in := range all {
		if !in.IsResolved() {
			out = append(out, in)
		}
	}
	return out, nil
}

func (r *InterruptRepository) Update(ctx context.Context, interrupt *humanloop.Interrupt) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.interrupts[interrupt.ID()]; !ok {
		return errors.NotFound("interrupt", interrupt.ID())
	}
	r.interrupts[interrupt.ID()] = interrupt
	interrupt.ClearEvents()
	return nil
}

func (r *InterruptRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.interrupts[id]; !ok {
		return errors.NotFound("interrupt", id)
	}
	delete(r.interrupts, id)
	return nil
}
