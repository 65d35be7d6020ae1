package comptree

import (
	"context"
)

// TypeParameter is the parameter of a group naming the type to instantiate.
const TypeParameter = "type"

// ComponentType is the abstract root type. Every registered type is a Component.
const ComponentType = "Component"

// LifecycleState is the stage an Instance has reached.
type LifecycleState int

const (
	StateConstructorRunning LifecycleState = iota
	StateConfigurePhase
	StateAwaitingPostConfigure
	StateReady
	StateDestroyed
)

func (s LifecycleState) String() string {
	switch s {
	case StateConstructorRunning:
		return "constructor-running"
	case StateConfigurePhase:
		return "configure-phase"
	case StateAwaitingPostConfigure:
		return "awaiting-post-configure"
	case StateReady:
		return "ready"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// ChangeType is the kind of change delivered to resource observers.
type ChangeType int

const (
	Created ChangeType = iota
	Modified
	DeclaredAsNull
	Deleted
)

func (c ChangeType) String() string {
	switch c {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case DeclaredAsNull:
		return "declared-as-null"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Configurer is implemented by components that read their configuration
// after the constructor returned. Peers may be requested from Configure
// with AllowConfiguring to build circular references.
type Configurer interface {
	Configure(ctx context.Context) error
}

// PostConfigurer is implemented by components that need a final step once
// the whole requested subtree has been constructed and configured.
type PostConfigurer interface {
	PostConfigure(ctx context.Context) error
}

// Destroyer is called when an instance is destroyed. Components that do
// not implement it but implement io.Closer are closed instead.
type Destroyer interface {
	Destroy()
}

// ResourceObserver receives resource change notifications.
type ResourceObserver interface {
	ResourceChanged(name string, owner *Instance, change ChangeType)
}

// Definition describes how one type is created.
//
// Ancestors lists the type names this type is-a (transitively). Abstract
// types cannot be instantiated and need no New. ConfiguresInConstructor
// skips the Configure call.
type Definition[T any] struct {
	Ancestors               []string
	Abstract                bool
	ConfiguresInConstructor bool
	New                     func(ctx context.Context, h *Handle) (T, error)
}
