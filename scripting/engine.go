package scripting

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a named global does not exist.
var ErrNotFound = errors.New("scripting: name not found")

// ErrNotFunction is returned when calling a name that is not a function.
var ErrNotFunction = errors.New("scripting: not a function")

// Engine represents a scripting engine (e.g., JavaScript).
type Engine interface {
	// Execute runs a script in the engine's global scope.
	Execute(ctx context.Context, script string) (interface{}, error)

	// Call invokes the function at a dotted global path such as
	// "source.imageURL" and returns its exported result.
	Call(ctx context.Context, name string, args ...interface{}) (interface{}, error)

	// Lookup returns the exported value at a dotted global path.
	Lookup(name string) (interface{}, bool)

	// IsFunction reports whether the dotted global path names a function.
	IsFunction(name string) bool
}
