package comptree

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/chenyanchen/comptree/configstore"
)

// Engine instantiates components from a configuration store.
// It provides:
// 1) the construct, configure, post-configure pipeline with cycle detection
// 2) rollback of every instance created by a failed request
// 3) the component tree, its resources and their notifications
type Engine struct {
	*core

	// scope is set on the views handed out by Handle.Engine. Their requests
	// join the request building scope while it runs.
	scope *Instance
}

type core struct {
	store     *configstore.Store
	types     *TypeRegistry
	logger    *slog.Logger
	metrics   *metrics
	observers []Observer

	// building serializes outermost requests and DestroyAllComponents.
	building chan struct{}
	sf       singleflight.Group

	mu        sync.Mutex
	nextID    uint64
	instances map[uint64]*Instance
	byPath    map[string]uint64
	roots     []uint64
	resources map[string]map[uint64]*resourceEntry
	subs      map[string][]*subscription
}

// Option configures an Engine.
type Option func(*Engine)

// WithTypes makes the engine use r instead of DefaultTypes().
func WithTypes(r *TypeRegistry) Option {
	return func(e *Engine) { e.types = r }
}

// WithLogger sets the logger. The default discards records.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics registers the engine counters on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(e *Engine) { e.metrics = newMetrics(reg) }
}

// WithObserver adds an observer of component creation and destruction.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observers = append(e.observers, o) }
}

// New returns an engine reading component configuration from store.
func New(store *configstore.Store, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("new engine: store is nil")
	}
	e := &Engine{core: &core{
		store:     store,
		types:     DefaultTypes(),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		instances: make(map[uint64]*Instance),
		byPath:    make(map[string]uint64),
		resources: make(map[string]map[uint64]*resourceEntry),
		subs:      make(map[string][]*subscription),
		building:  make(chan struct{}, 1),
	}}
	for _, opt := range opts {
		opt(e)
	}
	if e.types == nil {
		return nil, fmt.Errorf("new engine: type registry is nil")
	}
	if e.metrics == nil {
		e.metrics = newMetrics(nil)
	}
	return e, nil
}

// Store returns the configuration store.
func (e *Engine) Store() *configstore.Store { return e.store }

// Types returns the type registry.
func (e *Engine) Types() *TypeRegistry { return e.types }

// RequestOption tunes a component request.
type RequestOption func(*requestOptions)

type requestOptions struct {
	typeName    string
	requireFull bool
}

// RequireType makes the request fail unless the configured type is name or
// one of its descendants. The default is ComponentType.
func RequireType(name string) RequestOption {
	return func(o *requestOptions) { o.typeName = name }
}

// AllowConfiguring lets the request return a component that is still in its
// configure phase. It is the way to build circular references: request the
// peer from Configure, never from the constructor.
func AllowConfiguring() RequestOption {
	return func(o *requestOptions) { o.requireFull = false }
}

// Request returns the component configured at path, creating it and the
// components it requests when needed. Components created here have no owner.
//
// Hooks issuing requests must pass the context they received, or use the
// engine returned by Handle.Engine, so the nested request joins the running
// one. Otherwise the call waits for the running request and fails when ctx
// is done.
func (e *Engine) Request(ctx context.Context, path string, opts ...RequestOption) (*Instance, error) {
	return e.request(ctx, nil, path, opts)
}

// ComponentFromGroup requests the component at path and converts it to T.
func ComponentFromGroup[T any](ctx context.Context, e *Engine, path string, opts ...RequestOption) (T, error) {
	inst, err := e.Request(ctx, path, opts...)
	if err != nil {
		var zero T
		return zero, err
	}
	return As[T](inst)
}

// ComponentFromParameter requests the component whose group path is the
// value of the parameter at paramPath. Relative values are resolved from
// the parameter's group.
func ComponentFromParameter[T any](ctx context.Context, e *Engine, paramPath string, opts ...RequestOption) (T, error) {
	var zero T
	target, err := e.store.Value(paramPath)
	if err != nil {
		return zero, err
	}
	dir, _ := configstore.Split(paramPath)
	return ComponentFromGroup[T](ctx, e, configstore.Join(dir, target), opts...)
}

func (e *Engine) request(ctx context.Context, owner *Instance, path string, opts []RequestOption) (*Instance, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	o := requestOptions{typeName: ComponentType, requireFull: true}
	for _, opt := range opts {
		opt(&o)
	}
	path = configstore.Clean(path)

	if r := e.joinRequest(ctx, owner); r != nil {
		return e.build(withRequest(ctx, r), r, owner, path, o)
	}

	var ownerID uint64
	if owner != nil {
		ownerID = owner.id
	}
	key := strconv.FormatUint(ownerID, 10) + "|" + path + "|" + o.typeName + "|" + strconv.FormatBool(o.requireFull)
	v, err, _ := e.sf.Do(key, func() (any, error) {
		return e.outermost(ctx, owner, path, o)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Instance), nil
}

func (e *Engine) outermost(ctx context.Context, owner *Instance, path string, o requestOptions) (*Instance, error) {
	select {
	case e.building <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("request %s: %w", path, ctx.Err())
	}
	defer func() { <-e.building }()

	r := newRequest(e)
	ctx = withRequest(ctx, r)
	inst, err := e.build(ctx, r, owner, path, o)
	if err == nil {
		err = e.finish(ctx, r)
	}
	if err != nil {
		e.rollback(r, err)
		e.metrics.requests.WithLabelValues("error").Inc()
		return nil, err
	}

	e.mu.Lock()
	for _, created := range r.created {
		created.req = nil
	}
	e.mu.Unlock()
	e.metrics.requests.WithLabelValues("ok").Inc()
	return inst, nil
}

func (e *Engine) resolveType(path, requested string) (TypeDescriptor, error) {
	if !e.store.GroupExists(path) {
		return TypeDescriptor{}, configstore.NonExistentGroupError{Path: path}
	}
	typeName, err := e.store.Value(configstore.Join(path, TypeParameter))
	if err != nil {
		return TypeDescriptor{}, err
	}
	desc, ok := e.types.Lookup(typeName)
	if !ok {
		return TypeDescriptor{}, TypeNotRegisteredError{Name: typeName}
	}
	if !desc.Creatable {
		return TypeDescriptor{}, TypeIsAbstractError{Name: typeName}
	}
	if !e.types.IsA(typeName, requested) {
		return TypeDescriptor{}, WrongTypeError{Path: path, Configured: typeName, Requested: requested}
	}
	return desc, nil
}

func (e *Engine) build(ctx context.Context, r *request, owner *Instance, path string, o requestOptions) (*Instance, error) {
	desc, err := e.resolveType(path, o.typeName)
	if err != nil {
		return nil, err
	}

	if inst, ok := r.frames[path]; ok {
		state := inst.State()
		if state == StateConstructorRunning || o.requireFull {
			e.metrics.cycles.Inc()
			return nil, CyclicDependencyError{Path: path, State: state, Stack: r.stackSnapshot()}
		}
		return inst, nil
	}
	if inst, ok := e.InstanceAt(path); ok {
		if !e.types.IsA(inst.typeName, o.typeName) {
			return nil, WrongTypeError{Path: path, Configured: inst.typeName, Requested: o.typeName}
		}
		return inst, nil
	}

	log := e.logger.With("path", path, "type", desc.Name, "request_id", r.id)
	inst := e.newInstance(r, owner, path, desc.Name)
	r.push(inst)
	log.Debug("constructing component")

	component, err := desc.create(ctx, inst.handle)
	if err != nil {
		r.pop(inst)
		e.discard(r, inst)
		return nil, fmt.Errorf("construct %s (%s): %w", path, desc.Name, err)
	}
	e.mu.Lock()
	inst.component = component
	inst.state = StateConfigurePhase
	e.mu.Unlock()
	e.metrics.constructed.WithLabelValues(desc.Name).Inc()
	for _, obs := range e.observers {
		obs.ComponentCreated(inst)
	}
	if inst.name != "" {
		inst.handle.DeclareResource(inst.name, component)
	}

	if !desc.ConfiguresInConstructor {
		if c, ok := component.(Configurer); ok {
			log.Debug("configuring component")
			if err := c.Configure(ctx); err != nil {
				r.pop(inst)
				e.discard(r, inst)
				return nil, fmt.Errorf("configure %s (%s): %w", path, desc.Name, err)
			}
		}
	}

	r.pop(inst)
	e.mu.Lock()
	inst.state = StateAwaitingPostConfigure
	e.mu.Unlock()
	r.queue = append(r.queue, inst)
	return inst, nil
}

// finish drains the post-configure queue, then applies the subscriptions
// recorded while their observers were not ready.
func (e *Engine) finish(ctx context.Context, r *request) error {
	for i := 0; i < len(r.queue); i++ {
		inst := r.queue[i]
		if inst.State() == StateDestroyed {
			continue
		}
		if pc, ok := inst.Component().(PostConfigurer); ok {
			if err := pc.PostConfigure(ctx); err != nil {
				return fmt.Errorf("post-configure %s (%s): %w", inst.path, inst.typeName, err)
			}
		}
		e.mu.Lock()
		inst.state = StateReady
		e.mu.Unlock()
		e.logger.Debug("component ready", "path", inst.path, "type", inst.typeName, "request_id", r.id)
	}

	for i := 0; ; i++ {
		p, ok := e.pendingAt(r, i)
		if !ok {
			return nil
		}
		if p.observer.State() == StateDestroyed {
			continue
		}
		if err := e.subscribe(p.observer, p.name, p.owner); err != nil {
			return fmt.Errorf("resource notification %q for %s: %w", p.name, p.observer.path, err)
		}
	}
}

func (e *Engine) rollback(r *request, cause error) {
	e.logger.Warn("component request failed, rolling back",
		"request_id", r.id,
		"created", len(r.created),
		"error", cause,
	)
	inRequest := make(map[uint64]bool, len(r.created))
	for _, inst := range r.created {
		inRequest[inst.id] = true
	}
	// Destroying the roots of the request cascades to what they own.
	for i := len(r.created) - 1; i >= 0; i-- {
		if inst := r.created[i]; !inRequest[inst.ownerID] {
			e.destroy(inst)
		}
	}
	for i := len(r.created) - 1; i >= 0; i-- {
		e.destroy(r.created[i])
	}
}

// discard destroys inst, whose constructor or Configure failed, with
// everything it owns. The request forgets them, so a caller that recovers
// from the error gets neither a half-built record nor its post-configure.
func (e *Engine) discard(r *request, inst *Instance) {
	e.destroy(inst)
	gone := func(i *Instance) bool { return i.State() == StateDestroyed }
	r.created = slices.DeleteFunc(r.created, gone)
	r.queue = slices.DeleteFunc(r.queue, gone)
}
