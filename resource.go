package comptree

import (
	"sort"

	"github.com/chenyanchen/comptree/configstore"
)

type resourceEntry struct {
	name  string
	owner *Instance
	value any
	null  bool
}

// Resource is one entry returned by the multi-result lookups.
type Resource[T any] struct {
	Owner *Instance
	Value T
	Null  bool
}

// LookupOption narrows a resource lookup or subscription.
type LookupOption func(*lookupOptions)

type lookupOptions struct {
	owner *Instance
}

// Owner restricts the lookup to the entry declared by owner.
func Owner(owner *Instance) LookupOption {
	return func(o *lookupOptions) { o.owner = owner }
}

func newLookupOptions(opts []LookupOption) lookupOptions {
	var o lookupOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// DeclareResource declares (or overwrites) the resource name owned by this
// component. A nil value declares the resource as null.
func (h *Handle) DeclareResource(name string, value any) {
	h.inst.e.declare(h.inst, name, value, value == nil)
}

// DeclareResourceAsNull declares name with no value. It still exists for
// ResourceExists and lookups of any type.
func (h *Handle) DeclareResourceAsNull(name string) {
	h.inst.e.declare(h.inst, name, nil, true)
}

// DeleteResource removes the resource name owned by this component.
func (h *Handle) DeleteResource(name string) error {
	return h.inst.e.deleteResource(h.inst, name)
}

// ResourceExists reports whether a resource named name of any type is
// visible from this component.
func (h *Handle) ResourceExists(name string, opts ...LookupOption) bool {
	return ResourceExists[any](h, name, opts...)
}

// ResourcesCount counts the entries named name of any type.
func (h *Handle) ResourcesCount(name string) int {
	return ResourcesCount[any](h, name)
}

// ResourcesOwners returns the owners of every entry named name.
func (h *Handle) ResourcesOwners(name string) []*Instance {
	return ResourcesOwners[any](h, name)
}

// GetResource returns the value of the nearest entry named name that holds
// a T. Entries declared by the caller come first, then entries in order of
// distance in the component tree. A null entry yields the zero T.
func GetResource[T any](h *Handle, name string, opts ...LookupOption) (T, error) {
	var zero T
	o := newLookupOptions(opts)
	if o.owner != nil {
		entry, ok := h.inst.e.entryOf(o.owner, name, matchType[T])
		if !ok {
			return zero, ResourceNotDeclaredError{Name: name}
		}
		return valueOf[T](entry), nil
	}

	nearest := h.inst.e.nearest(h.inst, name, matchType[T])
	switch len(nearest) {
	case 0:
		return zero, ResourceNotDeclaredError{Name: name}
	case 1:
		return valueOf[T](nearest[0]), nil
	default:
		return zero, ResourceAmbiguityError{Name: name, Count: len(nearest)}
	}
}

// AllCandidateResources returns every entry at the nearest distance, the set
// GetResource picks from.
func AllCandidateResources[T any](h *Handle, name string) ([]Resource[T], error) {
	nearest := h.inst.e.nearest(h.inst, name, matchType[T])
	if len(nearest) == 0 {
		return nil, ResourceNotDeclaredError{Name: name}
	}
	return toResources[T](nearest), nil
}

// AllResources returns every entry named name holding a T, nearest first.
func AllResources[T any](h *Handle, name string) []Resource[T] {
	return toResources[T](h.inst.e.ranked(h.inst, name, matchType[T]))
}

// ResourcesOwners returns the owners of every entry named name holding a T.
func ResourcesOwners[T any](h *Handle, name string) []*Instance {
	entries := h.inst.e.ranked(h.inst, name, matchType[T])
	out := make([]*Instance, len(entries))
	for i := range entries {
		out[i] = entries[i].owner
	}
	return out
}

// ResourcesCount counts the entries named name holding a T.
func ResourcesCount[T any](h *Handle, name string) int {
	return len(h.inst.e.ranked(h.inst, name, matchType[T]))
}

// ResourceExists reports whether GetResource would find an entry, ignoring
// ambiguity.
func ResourceExists[T any](h *Handle, name string, opts ...LookupOption) bool {
	o := newLookupOptions(opts)
	if o.owner != nil {
		_, ok := h.inst.e.entryOf(o.owner, name, matchType[T])
		return ok
	}
	return len(h.inst.e.ranked(h.inst, name, matchType[T])) > 0
}

func matchType[T any](entry resourceEntry) bool {
	if entry.null {
		return true
	}
	_, ok := entry.value.(T)
	return ok
}

func valueOf[T any](entry resourceEntry) T {
	if entry.null {
		var zero T
		return zero
	}
	return entry.value.(T)
}

func toResources[T any](entries []resourceEntry) []Resource[T] {
	out := make([]Resource[T], len(entries))
	for i, entry := range entries {
		out[i] = Resource[T]{Owner: entry.owner, Value: valueOf[T](entry), Null: entry.null}
	}
	return out
}

func (e *Engine) entryOf(owner *Instance, name string, match func(resourceEntry) bool) (resourceEntry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.resources[name][owner.id]
	if !ok || entry.owner != owner || !match(*entry) {
		return resourceEntry{}, false
	}
	return *entry, true
}

// ranked returns copies of the matching entries sorted by tree distance from
// caller, ties broken by owner path.
func (e *Engine) ranked(caller *Instance, name string, match func(resourceEntry) bool) []resourceEntry {
	e.mu.Lock()
	byOwner := e.resources[name]
	out := make([]resourceEntry, 0, len(byOwner))
	for _, entry := range byOwner {
		if match(*entry) {
			out = append(out, *entry)
		}
	}
	e.mu.Unlock()

	from := configstore.Segments(caller.path)
	dist := make(map[uint64]int, len(out))
	for _, entry := range out {
		dist[entry.owner.id] = distance(from, configstore.Segments(entry.owner.path))
	}
	sort.Slice(out, func(i, j int) bool {
		di, dj := dist[out[i].owner.id], dist[out[j].owner.id]
		if di != dj {
			return di < dj
		}
		return out[i].owner.path < out[j].owner.path
	})
	return out
}

// nearest returns the matching entries at the smallest distance from caller.
func (e *Engine) nearest(caller *Instance, name string, match func(resourceEntry) bool) []resourceEntry {
	all := e.ranked(caller, name, match)
	if len(all) == 0 {
		return nil
	}
	from := configstore.Segments(caller.path)
	best := distance(from, configstore.Segments(all[0].owner.path))
	n := 1
	for n < len(all) && distance(from, configstore.Segments(all[n].owner.path)) == best {
		n++
	}
	return all[:n]
}

// distance counts the edges between two groups of the configuration tree.
func distance(a, b []string) int {
	common := 0
	for common < len(a) && common < len(b) && a[common] == b[common] {
		common++
	}
	return len(a) + len(b) - 2*common
}

func (e *Engine) declare(owner *Instance, name string, value any, null bool) {
	e.mu.Lock()
	if owner.state == StateDestroyed {
		e.mu.Unlock()
		return
	}
	byOwner, ok := e.resources[name]
	if !ok {
		byOwner = make(map[uint64]*resourceEntry)
		e.resources[name] = byOwner
	}
	entry, existed := byOwner[owner.id]
	change := Created
	switch {
	case null:
		change = DeclaredAsNull
	case existed:
		change = Modified
	}
	if !existed {
		entry = &resourceEntry{name: name, owner: owner}
		byOwner[owner.id] = entry
	}
	entry.value = value
	entry.null = null

	for _, sub := range e.subs[name] {
		if sub.owner == nil {
			sub.owner = owner
		}
	}
	events := e.eventsLocked(owner, name, change)
	e.mu.Unlock()

	e.deliver(events)
}

func (e *Engine) deleteResource(owner *Instance, name string) error {
	e.mu.Lock()
	entry, ok := e.resources[name][owner.id]
	if !ok || entry.owner != owner {
		e.mu.Unlock()
		return ResourceNotDeclaredError{Name: name}
	}
	events := e.removeEntryLocked(entry)
	e.mu.Unlock()

	e.deliver(events)
	return nil
}

// removeEntryLocked drops entry, notifies its subscribers with Deleted and
// drops their subscriptions.
func (e *Engine) removeEntryLocked(entry *resourceEntry) []event {
	delete(e.resources[entry.name], entry.owner.id)
	if len(e.resources[entry.name]) == 0 {
		delete(e.resources, entry.name)
	}
	events := e.eventsLocked(entry.owner, entry.name, Deleted)
	e.dropSubsLocked(entry.name, func(s *subscription) bool { return s.owner == entry.owner })
	return events
}
