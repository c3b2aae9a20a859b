package birch

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoSuchConstructor is returned when no constructor of a type matches
	// an explicit parameter list.
	ErrNoSuchConstructor = errors.New("no matching constructor")

	// ErrAmbiguousConstructor is returned when automatic selection finds two
	// or more constructors tied on the selection rule.
	ErrAmbiguousConstructor = errors.New("ambiguous constructor")

	// ErrTypeMismatch is returned when a parameter value cannot be assigned to
	// the parameter, element or property it was supplied for.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrNotRegistered is returned when a build key has no registration.
	ErrNotRegistered = errors.New("not registered")

	// ErrCircularDependency is returned when a build key is requested while it
	// is already being built. The error message includes the full chain.
	ErrCircularDependency = errors.New("circular dependency detected")

	// ErrConstructionFailure is returned when a constructor or an injection
	// method fails. The original error is preserved in the chain.
	ErrConstructionFailure = errors.New("construction failed")

	// ErrNoSuchMember is returned when a property or method named by an
	// injection member does not exist on the implementation type.
	ErrNoSuchMember = errors.New("no such member")

	// ErrInvalidDescriptor is returned when a type descriptor cannot be built
	// from the supplied constructors.
	ErrInvalidDescriptor = errors.New("invalid type descriptor")

	// ErrShutdown is returned by Resolve after the container was shut down.
	ErrShutdown = errors.New("container is shut down")

	// ErrAlreadyShutdown is returned by a second call to Shutdown.
	ErrAlreadyShutdown = errors.New("container already shut down")
)

// ResolutionError reports a failed resolution together with the chain of
// build keys that led to the failing one. Chain starts with the key passed
// to Resolve and ends with Key.
type ResolutionError struct {
	Key   BuildKey
	Chain []BuildKey
	Err   error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolving %s: %v", formatChain(e.Chain), e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

func formatChain(chain []BuildKey) string {
	parts := make([]string, len(chain))
	for i, k := range chain {
		parts[i] = k.String()
	}
	return strings.Join(parts, " -> ")
}

// resolutionFailure wraps err with the current chain unless it already
// carries one from a deeper frame.
func resolutionFailure(chain []BuildKey, err error) error {
	var re *ResolutionError
	if errors.As(err, &re) {
		return err
	}
	if len(chain) == 0 {
		return err
	}
	snapshot := make([]BuildKey, len(chain))
	copy(snapshot, chain)
	return &ResolutionError{
		Key:   snapshot[len(snapshot)-1],
		Chain: snapshot,
		Err:   err,
	}
}
