package comptree

import (
	"context"
	"fmt"
	"io"
	"reflect"

	"github.com/chenyanchen/comptree/configstore"
)

// Instance is one live component in the tree. The zero value is not usable;
// instances are created by an Engine.
type Instance struct {
	e        *Engine
	id       uint64
	path     string
	name     string
	typeName string
	handle   *Handle

	// Guarded by e.mu.
	state      LifecycleState
	destroying bool
	ownerID    uint64
	children   []uint64
	component  any
	req        *request
}

// ID returns the stable identifier of the instance in its engine.
func (i *Instance) ID() uint64 { return i.id }

// Path returns the cleaned configuration path of the instance.
func (i *Instance) Path() string { return i.path }

// Name returns the last element of the path: the local name the owner used.
func (i *Instance) Name() string { return i.name }

// TypeName returns the registered type the instance was created from.
func (i *Instance) TypeName() string { return i.typeName }

// Handle returns the handle given to the component's constructor.
func (i *Instance) Handle() *Handle { return i.handle }

func (i *Instance) String() string {
	return fmt.Sprintf("%s(%s)", i.path, i.typeName)
}

// State returns the lifecycle state.
func (i *Instance) State() LifecycleState {
	i.e.mu.Lock()
	defer i.e.mu.Unlock()
	return i.state
}

// Component returns the value built by the constructor, or nil while the
// constructor is running.
func (i *Instance) Component() any {
	i.e.mu.Lock()
	defer i.e.mu.Unlock()
	return i.component
}

// Owner returns the instance whose construction requested this one, or nil
// for a root or once the owner is gone.
func (i *Instance) Owner() *Instance {
	i.e.mu.Lock()
	defer i.e.mu.Unlock()
	return i.e.instances[i.ownerID]
}

// Children returns the owned instances in acquisition order.
func (i *Instance) Children() []*Instance {
	i.e.mu.Lock()
	defer i.e.mu.Unlock()
	return i.e.resolveIDs(i.children)
}

// Handle is the view of the engine given to a component: it resolves
// configuration, sub-components and resources relative to the component.
type Handle struct {
	inst *Instance
}

// Instance returns the instance this handle belongs to.
func (h *Handle) Instance() *Instance { return h.inst }

// Path returns the configuration group of the component.
func (h *Handle) Path() string { return h.inst.path }

// Engine returns the engine that created the component. Requests made on it
// while the component is being built join that request whatever their
// context; the components they create have no owner.
func (h *Handle) Engine() *Engine { return &Engine{core: h.inst.e.core, scope: h.inst} }

// Store returns the configuration store.
func (h *Handle) Store() *configstore.Store { return h.inst.e.store }

// Value reads a parameter of the component's group. Relative names
// may walk the tree ("sub/param", "../param").
func (h *Handle) Value(name string) (string, error) {
	return h.inst.e.store.Value(configstore.Join(h.inst.path, name))
}

// ValueAlsoMatchParents reads a parameter of the component's group, falling
// back to the enclosing groups.
func (h *Handle) ValueAlsoMatchParents(name string) (string, error) {
	return h.inst.e.store.ValueAlsoMatchParents(configstore.Join(h.inst.path, name))
}

// Request requests the component configured at rel, relative to this
// component's group. New instances are owned by this component.
func (h *Handle) Request(ctx context.Context, rel string, opts ...RequestOption) (*Instance, error) {
	return h.inst.e.request(ctx, h.inst, configstore.Join(h.inst.path, rel), opts)
}

// RequestFromParameter requests the component at the path stored in the
// parameter name of this component's group.
func (h *Handle) RequestFromParameter(ctx context.Context, name string, opts ...RequestOption) (*Instance, error) {
	target, err := h.Value(name)
	if err != nil {
		return nil, err
	}
	return h.inst.e.request(ctx, h.inst, configstore.Join(h.inst.path, target), opts)
}

// Get requests the component at rel relative to h and converts it to T.
func Get[T any](ctx context.Context, h *Handle, rel string, opts ...RequestOption) (T, error) {
	inst, err := h.Request(ctx, rel, opts...)
	if err != nil {
		var zero T
		return zero, err
	}
	return As[T](inst)
}

// GetFromParameter is the typed form of Handle.RequestFromParameter.
func GetFromParameter[T any](ctx context.Context, h *Handle, name string, opts ...RequestOption) (T, error) {
	inst, err := h.RequestFromParameter(ctx, name, opts...)
	if err != nil {
		var zero T
		return zero, err
	}
	return As[T](inst)
}

// As converts the component of inst to T.
func As[T any](inst *Instance) (T, error) {
	var zero T
	v := inst.Component()
	typed, ok := v.(T)
	if !ok {
		return zero, TypeMismatchError{
			Path:     inst.path,
			Expected: reflect.TypeOf((*T)(nil)).Elem().String(),
			Actual:   fmt.Sprintf("%T", v),
		}
	}
	return typed, nil
}

// newInstance allocates an instance record under construction. The caller
// holds no lock.
func (e *Engine) newInstance(r *request, owner *Instance, path, typeName string) *Instance {
	_, name := configstore.Split(path)
	inst := &Instance{
		e:        e,
		path:     path,
		name:     name,
		typeName: typeName,
		state:    StateConstructorRunning,
		req:      r,
	}
	inst.handle = &Handle{inst: inst}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	inst.id = e.nextID
	e.instances[inst.id] = inst
	e.byPath[path] = inst.id
	if owner != nil && e.instances[owner.id] == owner {
		inst.ownerID = owner.id
		owner.children = append(owner.children, inst.id)
	} else {
		e.roots = append(e.roots, inst.id)
	}
	return inst
}

func (e *Engine) resolveIDs(ids []uint64) []*Instance {
	out := make([]*Instance, 0, len(ids))
	for _, id := range ids {
		if inst, ok := e.instances[id]; ok {
			out = append(out, inst)
		}
	}
	return out
}

// InstanceAt returns the live instance configured at path, if any.
func (e *Engine) InstanceAt(path string) (*Instance, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	inst, ok := e.instances[e.byPath[configstore.Clean(path)]]
	return inst, ok
}

// Roots returns the instances without owner in creation order.
func (e *Engine) Roots() []*Instance {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resolveIDs(e.roots)
}

// Instances returns every live instance ordered by ID.
func (e *Engine) Instances() []*Instance {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Instance, 0, len(e.instances))
	for id := uint64(1); id <= e.nextID; id++ {
		if inst, ok := e.instances[id]; ok {
			out = append(out, inst)
		}
	}
	return out
}

// Destroy destroys inst and, in reverse acquisition order, every instance
// it owns. Destroying an already destroyed instance does nothing.
func (e *Engine) Destroy(inst *Instance) {
	if inst == nil || inst.e.core != e.core {
		return
	}
	e.destroy(inst)
}

// DestroyAllComponents destroys every live root, newest first. It must not
// be called from a lifecycle hook.
func (e *Engine) DestroyAllComponents() {
	e.building <- struct{}{}
	defer func() { <-e.building }()

	roots := e.Roots()
	for i := len(roots) - 1; i >= 0; i-- {
		e.destroy(roots[i])
	}
}

func (e *Engine) destroy(inst *Instance) {
	e.mu.Lock()
	if inst.state == StateDestroyed || inst.destroying {
		e.mu.Unlock()
		return
	}
	inst.destroying = true
	component := inst.component
	e.mu.Unlock()

	if component != nil {
		e.runDestroyHook(inst, component)
	}

	children := inst.Children()
	for i := len(children) - 1; i >= 0; i-- {
		e.destroy(children[i])
	}

	e.mu.Lock()
	events := e.releaseLocked(inst)
	e.unlinkLocked(inst)
	inst.state = StateDestroyed
	inst.req = nil
	e.mu.Unlock()

	e.deliver(events)
	if component != nil {
		e.metrics.destroyed.WithLabelValues(inst.typeName).Inc()
		for _, o := range e.observers {
			o.ComponentDestroyed(inst)
		}
	}
	e.logger.Debug("component destroyed", "path", inst.path, "type", inst.typeName)
}

func (e *Engine) runDestroyHook(inst *Instance, component any) {
	switch c := component.(type) {
	case Destroyer:
		c.Destroy()
	case io.Closer:
		if err := c.Close(); err != nil {
			e.logger.Warn("close component failed", "path", inst.path, "type", inst.typeName, "error", err)
		}
	}
}

func (e *Engine) unlinkLocked(inst *Instance) {
	if owner, ok := e.instances[inst.ownerID]; ok {
		owner.children = removeID(owner.children, inst.id)
	} else {
		e.roots = removeID(e.roots, inst.id)
	}
	delete(e.instances, inst.id)
	if e.byPath[inst.path] == inst.id {
		delete(e.byPath, inst.path)
	}
}

func removeID(ids []uint64, id uint64) []uint64 {
	for i := range ids {
		if ids[i] == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
