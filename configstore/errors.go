package configstore

import "fmt"

// InvalidNameError means a group or parameter name cannot be used.
type InvalidNameError struct {
	Name string
}

func (e InvalidNameError) Error() string {
	return fmt.Sprintf("invalid name: %q", e.Name)
}

// AlreadyExistingGroupError means the target group is already present.
type AlreadyExistingGroupError struct {
	Path string
}

func (e AlreadyExistingGroupError) Error() string {
	return fmt.Sprintf("group already exists: %q", e.Path)
}

// NonExistentGroupError means the addressed group does not exist.
type NonExistentGroupError struct {
	Path string
}

func (e NonExistentGroupError) Error() string {
	return fmt.Sprintf("group does not exist: %q", e.Path)
}

// AlreadyExistingParameterError means the parameter is already present.
type AlreadyExistingParameterError struct {
	Path string
}

func (e AlreadyExistingParameterError) Error() string {
	return fmt.Sprintf("parameter already exists: %q", e.Path)
}

// NonExistentParameterError means the addressed parameter does not exist.
type NonExistentParameterError struct {
	Path string
}

func (e NonExistentParameterError) Error() string {
	return fmt.Sprintf("parameter does not exist: %q", e.Path)
}
