package comptree

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotResourceObserver means a component that does not implement
// ResourceObserver asked for resource notifications.
var ErrNotResourceObserver = errors.New("component does not implement ResourceObserver")

// TypeAlreadyRegisteredError means the same type name was registered twice.
type TypeAlreadyRegisteredError struct {
	Name string
}

func (e TypeAlreadyRegisteredError) Error() string {
	return fmt.Sprintf("type already registered: %q", e.Name)
}

// AncestorNotRegisteredError means a type names an ancestor that is unknown.
type AncestorNotRegisteredError struct {
	Name     string
	Ancestor string
}

func (e AncestorNotRegisteredError) Error() string {
	return fmt.Sprintf("ancestor %q of type %q is not registered", e.Ancestor, e.Name)
}

// TypeNotRegisteredError means a type name has no registration.
type TypeNotRegisteredError struct {
	Name string
}

func (e TypeNotRegisteredError) Error() string {
	return fmt.Sprintf("type not registered: %q", e.Name)
}

// TypeIsAbstractError means an abstract type was configured for a group.
type TypeIsAbstractError struct {
	Name string
}

func (e TypeIsAbstractError) Error() string {
	return fmt.Sprintf("type is abstract and cannot be created: %q", e.Name)
}

// WrongTypeError means the configured type is not the requested one nor one
// of its descendants.
type WrongTypeError struct {
	Path       string
	Configured string
	Requested  string
}

func (e WrongTypeError) Error() string {
	return fmt.Sprintf("component %q has type %q which is not a %q", e.Path, e.Configured, e.Requested)
}

// TypeMismatchError means the constructed value cannot be converted to the
// Go type asked by the caller.
type TypeMismatchError struct {
	Path     string
	Expected string
	Actual   string
}

func (e TypeMismatchError) Error() string {
	return fmt.Sprintf("component type mismatch for %q: expected=%s actual=%s", e.Path, e.Expected, e.Actual)
}

// CyclicDependencyError means a path was requested while it was still being
// constructed (or configured, when full initialization was required) in the
// same request. Stack holds the paths under construction, outermost first.
type CyclicDependencyError struct {
	Path  string
	State LifecycleState
	Stack []string
}

func (e CyclicDependencyError) Error() string {
	msg := fmt.Sprintf("cyclic dependency on %q (%s)", e.Path, e.State)
	if len(e.Stack) == 0 {
		return msg
	}
	return msg + ": " + strings.Join(append(append([]string(nil), e.Stack...), e.Path), " -> ")
}

// ResourceNotDeclaredError means no visible entry matches a resource lookup.
type ResourceNotDeclaredError struct {
	Name string
}

func (e ResourceNotDeclaredError) Error() string {
	return fmt.Sprintf("resource not declared: %q", e.Name)
}

// ResourceAmbiguityError means several owners at the same distance declare
// a matching resource and no owner was given.
type ResourceAmbiguityError struct {
	Name  string
	Count int
}

func (e ResourceAmbiguityError) Error() string {
	return fmt.Sprintf("resource %q is ambiguous: %d candidates", e.Name, e.Count)
}
