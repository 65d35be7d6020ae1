package comptree

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

type creator func(ctx context.Context, h *Handle) (any, error)

// TypeDescriptor is the registered information about one type.
type TypeDescriptor struct {
	Name                    string
	Ancestors               []string
	Creatable               bool
	ConfiguresInConstructor bool

	create creator
}

// TypeRegistry maps type names to descriptors. Registrations are
// append-only: a name cannot be registered twice nor removed.
type TypeRegistry struct {
	mu    sync.RWMutex
	types map[string]TypeDescriptor
}

var defaultTypes = NewTypeRegistry()

// DefaultTypes returns the process-wide registry used by engines created
// without WithTypes.
func DefaultTypes() *TypeRegistry {
	return defaultTypes
}

// NewTypeRegistry returns a registry holding only the abstract Component type.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{
		types: map[string]TypeDescriptor{
			ComponentType: {Name: ComponentType},
		},
	}
}

// Register registers one type with generics.
func Register[T any](r *TypeRegistry, name string, def Definition[T]) error {
	if r == nil {
		return fmt.Errorf("register type: registry is nil")
	}
	if name == "" || strings.ContainsAny(name, " /") {
		return fmt.Errorf("register type: invalid name %q", name)
	}
	if !def.Abstract && def.New == nil {
		return fmt.Errorf("register type: constructor is nil for %s", name)
	}

	desc := TypeDescriptor{
		Name:                    name,
		Ancestors:               dedupAncestors(def.Ancestors),
		Creatable:               !def.Abstract,
		ConfiguresInConstructor: def.ConfiguresInConstructor,
	}
	if def.New != nil {
		desc.create = func(ctx context.Context, h *Handle) (any, error) {
			return def.New(ctx, h)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[name]; exists {
		return TypeAlreadyRegisteredError{Name: name}
	}
	for _, a := range desc.Ancestors {
		if _, ok := r.types[a]; !ok {
			return AncestorNotRegisteredError{Name: name, Ancestor: a}
		}
	}
	r.types[name] = desc
	return nil
}

// MustRegister panics on registration error; intended for init code paths.
func MustRegister[T any](r *TypeRegistry, name string, def Definition[T]) {
	if err := Register(r, name, def); err != nil {
		panic(err)
	}
}

// RegisterAbstract registers an abstract (interface-like) type.
func RegisterAbstract(r *TypeRegistry, name string, ancestors ...string) error {
	return Register(r, name, Definition[any]{Ancestors: ancestors, Abstract: true})
}

func dedupAncestors(in []string) []string {
	seen := map[string]struct{}{ComponentType: {}}
	out := []string{ComponentType}
	for _, a := range in {
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}

// Lookup returns the descriptor of name.
func (r *TypeRegistry) Lookup(name string) (TypeDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.types[name]
	if ok {
		d.Ancestors = append([]string(nil), d.Ancestors...)
	}
	return d, ok
}

// IsRegistered reports whether name has been registered.
func (r *TypeRegistry) IsRegistered(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

// IsA reports whether name is ancestor or one of its descendants.
func (r *TypeRegistry) IsA(name, ancestor string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.isA(name, ancestor, map[string]struct{}{})
}

func (r *TypeRegistry) isA(name, ancestor string, visited map[string]struct{}) bool {
	if name == ancestor {
		_, ok := r.types[name]
		return ok
	}
	if _, ok := visited[name]; ok {
		return false
	}
	visited[name] = struct{}{}
	d, ok := r.types[name]
	if !ok {
		return false
	}
	for _, a := range d.Ancestors {
		if r.isA(a, ancestor, visited) {
			return true
		}
	}
	return false
}

// Descendants lists, sorted, every type that is-a name, excluding name
// itself. With concreteOnly abstract types are left out.
func (r *TypeRegistry) Descendants(name string, concreteOnly bool) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for n, d := range r.types {
		if n == name || (concreteOnly && !d.Creatable) {
			continue
		}
		if r.isA(n, name, map[string]struct{}{}) {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}
