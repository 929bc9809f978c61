// README: Driver records and identity-link definitions.
package identity

import (
	"context"
	"errors"

	"dispatch/internal/types"
)

var (
	// ErrNotLinked is returned when a driver has no identity link; callers
	// must handle the "cannot assign" case explicitly instead of receiving
	// an empty subject.
	ErrNotLinked = errors.New("driver has no linked subject")
	// ErrConflict is returned when a subject is already linked to a
	// different driver.
	ErrConflict = errors.New("subject already linked to another driver")
	ErrNotFound = errors.New("driver not found")
	// ErrInvalidSubject is returned when a link is attempted with an
	// empty subject uid; unlinking is not an operation.
	ErrInvalidSubject = errors.New("subject uid required")
)

// Driver is a roster record. LinkedSubjectUID binds the record to the
// external identity subject that reports as this driver; it is unique
// across all drivers.
type Driver struct {
	ID               types.ID
	DisplayName      string
	LinkedSubjectUID string
}

// Registry is the driver roster storage. SetLink enforces the
// subject-uniqueness invariant and returns ErrConflict on collision;
// re-linking the same (driver, subject) pair succeeds as a no-op.
type Registry interface {
	Create(ctx context.Context, d Driver) error
	Get(ctx context.Context, id types.ID) (Driver, error)
	List(ctx context.Context) ([]Driver, error)
	SetLink(ctx context.Context, id types.ID, subjectUID string) error
}
