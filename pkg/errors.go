package pkg

import (
	"errors"
	"fmt"
)

// Sentinel errors - simple error constants that can be checked with errors.Is()
var (
	// ErrPackageNotFound is returned when a requested identifier is not in
	// the current package snapshot.
	ErrPackageNotFound = fmt.Errorf("package not found")

	// ErrEmptyIdentifier is returned when a package specification has no
	// identifier.
	ErrEmptyIdentifier = fmt.Errorf("empty package identifier")
)

// NotFoundError wraps lookup failures with the requested key.
type NotFoundError struct {
	// Key is the identity that was requested; Version may be empty
	Key Key
}

// Error implements the error interface
func (e *NotFoundError) Error() string {
	if e.Key.Version == "" {
		return fmt.Sprintf("package not found: %s", e.Key.Identifier)
	}
	return fmt.Sprintf("package not found: %s", e.Key)
}

// Unwrap allows errors.Is(err, ErrPackageNotFound) to work correctly
func (e *NotFoundError) Unwrap() error {
	return ErrPackageNotFound
}

// IsNotFound reports whether err signals a missing package
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPackageNotFound)
}

// Resolve maps package specifications ("identifier" or "identifier@version")
// onto packages from the registry, preserving request order.
func Resolve(r *Registry, specs []string) ([]*Package, error) {
	result := make([]*Package, 0, len(specs))
	for _, spec := range specs {
		k := ParseKey(spec)
		if k.Identifier == "" {
			return nil, ErrEmptyIdentifier
		}

		var p *Package
		if k.Version == "" {
			p = r.FindIdentifier(k.Identifier)
		} else {
			p = r.Find(k)
		}
		if p == nil {
			return nil, &NotFoundError{Key: k}
		}
		result = append(result, p)
	}
	return result, nil
}
