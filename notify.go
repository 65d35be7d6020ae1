package comptree

type subscription struct {
	observer *Instance
	name     string
	// owner is nil until a subscription made without owner binds to the
	// first component declaring name.
	owner *Instance
}

type event struct {
	observer *Instance
	name     string
	owner    *Instance
	change   ChangeType
}

// AddNotifiedResource subscribes this component to changes of the resource
// name. The component must implement ResourceObserver.
//
// With Owner the subscription watches that owner's entry, which need not
// exist yet. Without it the subscription binds to the single visible entry,
// fails with ResourceAmbiguityError when several are equally near, and
// waits for the first declaration when there is none.
//
// When the watched entry exists, Created is delivered at once. Calls made
// before the component is ready take effect after the post-configure phase
// of the running request.
func (h *Handle) AddNotifiedResource(name string, opts ...LookupOption) error {
	o := newLookupOptions(opts)
	p := pendingSubscription{observer: h.inst, name: name, owner: o.owner}
	if h.inst.e.deferSubscription(p) {
		return nil
	}
	return h.inst.e.subscribe(h.inst, name, o.owner)
}

// RemoveNotifiedResource removes the subscription of this component to name.
// Without Owner it resolves the entry like AddNotifiedResource and fails with
// ResourceAmbiguityError when several are equally near. A subscription still
// waiting for its first declaration is removed as well. Deleted is delivered
// for every removed subscription whose entry exists.
func (h *Handle) RemoveNotifiedResource(name string, opts ...LookupOption) error {
	o := newLookupOptions(opts)
	if h.inst.e.cancelPending(h.inst, name, o.owner) {
		return nil
	}
	return h.inst.e.unsubscribe(h.inst, name, o.owner)
}

func (e *Engine) subscribe(obs *Instance, name string, owner *Instance) error {
	if _, ok := obs.Component().(ResourceObserver); !ok {
		return ErrNotResourceObserver
	}

	if owner == nil {
		nearest := e.nearest(obs, name, matchType[any])
		if len(nearest) > 1 {
			return ResourceAmbiguityError{Name: name, Count: len(nearest)}
		}
		if len(nearest) == 1 {
			owner = nearest[0].owner
		}
	}

	e.mu.Lock()
	if obs.state == StateDestroyed || obs.destroying {
		e.mu.Unlock()
		return nil
	}
	if owner != nil && (owner.state == StateDestroyed || e.instances[owner.id] != owner) {
		e.mu.Unlock()
		return nil
	}
	for _, sub := range e.subs[name] {
		if sub.observer == obs && sub.owner == owner {
			e.mu.Unlock()
			return nil
		}
	}
	e.subs[name] = append(e.subs[name], &subscription{observer: obs, name: name, owner: owner})

	var events []event
	if owner != nil {
		if _, ok := e.resources[name][owner.id]; ok {
			events = append(events, event{observer: obs, name: name, owner: owner, change: Created})
		}
	}
	e.mu.Unlock()

	e.deliver(events)
	return nil
}

func (e *Engine) unsubscribe(obs *Instance, name string, owner *Instance) error {
	waiting := owner == nil
	if owner == nil {
		nearest := e.nearest(obs, name, matchType[any])
		if len(nearest) > 1 {
			return ResourceAmbiguityError{Name: name, Count: len(nearest)}
		}
		if len(nearest) == 1 {
			owner = nearest[0].owner
		}
	}

	e.mu.Lock()
	var events []event
	removed := e.dropSubsLocked(name, func(s *subscription) bool {
		if s.observer != obs {
			return false
		}
		if s.owner != owner && !(waiting && s.owner == nil) {
			return false
		}
		if s.owner != nil {
			if _, ok := e.resources[name][s.owner.id]; ok {
				events = append(events, event{observer: obs, name: name, owner: s.owner, change: Deleted})
			}
		}
		return true
	})
	e.mu.Unlock()

	if removed == 0 {
		return ResourceNotDeclaredError{Name: name}
	}
	e.deliver(events)
	return nil
}

// eventsLocked builds one event per live subscriber of (owner, name).
func (e *Engine) eventsLocked(owner *Instance, name string, change ChangeType) []event {
	var events []event
	for _, sub := range e.subs[name] {
		if sub.owner != owner || sub.observer.destroying || sub.observer.state == StateDestroyed {
			continue
		}
		events = append(events, event{observer: sub.observer, name: name, owner: owner, change: change})
	}
	if len(events) > 0 {
		e.metrics.events.WithLabelValues(change.String()).Add(float64(len(events)))
	}
	return events
}

// dropSubsLocked removes the subscriptions on name matched by drop and
// returns how many were removed.
func (e *Engine) dropSubsLocked(name string, drop func(*subscription) bool) int {
	subs := e.subs[name]
	kept := subs[:0]
	removed := 0
	for _, sub := range subs {
		if drop(sub) {
			removed++
			continue
		}
		kept = append(kept, sub)
	}
	for i := len(kept); i < len(subs); i++ {
		subs[i] = nil
	}
	if len(kept) == 0 {
		delete(e.subs, name)
	} else {
		e.subs[name] = kept
	}
	return removed
}

// releaseLocked removes everything inst takes part in: first its own
// subscriptions, then the entries it owns (their other observers receive
// Deleted once), then every subscription still targeting it.
func (e *Engine) releaseLocked(inst *Instance) []event {
	for name := range e.subs {
		e.dropSubsLocked(name, func(s *subscription) bool { return s.observer == inst })
	}

	var events []event
	for _, byOwner := range e.resources {
		if entry, ok := byOwner[inst.id]; ok && entry.owner == inst {
			events = append(events, e.removeEntryLocked(entry)...)
		}
	}
	for name := range e.subs {
		e.dropSubsLocked(name, func(s *subscription) bool { return s.owner == inst })
	}
	return events
}

// deliver runs the callbacks without holding the registry lock, so
// observers may use the resource API from ResourceChanged.
func (e *Engine) deliver(events []event) {
	for _, ev := range events {
		if ev.observer.State() == StateDestroyed {
			continue
		}
		ro, ok := ev.observer.Component().(ResourceObserver)
		if !ok {
			continue
		}
		e.logger.Debug("resource changed",
			"resource", ev.name,
			"owner", ev.owner.path,
			"observer", ev.observer.path,
			"change", ev.change.String(),
		)
		ro.ResourceChanged(ev.name, ev.owner, ev.change)
	}
}
