package comptree

import (
	"context"

	"github.com/google/uuid"
)

// request is the state shared by one outermost Request and every nested
// request issued from the constructors and hooks it runs.
type request struct {
	e  *Engine
	id string

	frames  map[string]*Instance
	stack   []string
	queue   []*Instance
	created []*Instance
	pending []pendingSubscription
}

type pendingSubscription struct {
	observer *Instance
	name     string
	owner    *Instance
}

func newRequest(e *Engine) *request {
	return &request{
		e:      e,
		id:     uuid.NewString(),
		frames: make(map[string]*Instance),
	}
}

func (r *request) push(inst *Instance) {
	r.frames[inst.path] = inst
	r.stack = append(r.stack, inst.path)
	r.created = append(r.created, inst)
}

func (r *request) pop(inst *Instance) {
	delete(r.frames, inst.path)
	for i := len(r.stack) - 1; i >= 0; i-- {
		if r.stack[i] == inst.path {
			r.stack = append(r.stack[:i], r.stack[i+1:]...)
			break
		}
	}
}

func (r *request) stackSnapshot() []string {
	return append([]string(nil), r.stack...)
}

type requestContextKey struct{}

func withRequest(ctx context.Context, r *request) context.Context {
	return context.WithValue(ctx, requestContextKey{}, r)
}

// joinRequest returns the in-flight request ctx belongs to, falling back to
// the request that is building owner, then to the one building the scope of
// a Handle.Engine view.
func (e *Engine) joinRequest(ctx context.Context, owner *Instance) *request {
	if r, ok := ctx.Value(requestContextKey{}).(*request); ok && r.e.core == e.core {
		return r
	}
	if owner == nil {
		owner = e.scope
	}
	if owner == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return owner.req
}

// RequestID returns the identifier of the request ctx is part of, or "".
func RequestID(ctx context.Context) string {
	if r, ok := ctx.Value(requestContextKey{}).(*request); ok {
		return r.id
	}
	return ""
}

func (e *Engine) deferSubscription(p pendingSubscription) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	obs := p.observer
	if obs.state == StateReady || obs.req == nil {
		return false
	}
	obs.req.pending = append(obs.req.pending, p)
	return true
}

// cancelPending drops the subscription of obs on name and owner recorded
// while obs was not ready. It reports false when obs is ready.
func (e *Engine) cancelPending(obs *Instance, name string, owner *Instance) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if obs.state == StateReady || obs.req == nil {
		return false
	}
	r := obs.req
	kept := r.pending[:0]
	for _, p := range r.pending {
		if p.observer == obs && p.name == name && p.owner == owner {
			continue
		}
		kept = append(kept, p)
	}
	r.pending = kept
	return true
}

func (e *Engine) pendingAt(r *request, i int) (pendingSubscription, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if i >= len(r.pending) {
		return pendingSubscription{}, false
	}
	return r.pending[i], true
}
