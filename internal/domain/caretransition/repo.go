package caretransition

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound means the tenant+key pair does not resolve to a row.
	ErrNotFound = errors.New("not found")
	// ErrStaleVersion means an expected version was supplied and the stored
	// row has moved past it.
	ErrStaleVersion = errors.New("was modified by another request")
	// ErrClosed means the operation is not permitted on a closed transition.
	ErrClosed = errors.New("is closed")
	// ErrInvalid marks request validation failures.
	ErrInvalid = errors.New("invalid request")
)

type validationError struct{ msg string }

func (e *validationError) Error() string        { return e.msg }
func (e *validationError) Is(target error) bool { return target == ErrInvalid }

func invalidf(format string, args ...interface{}) error {
	return &validationError{msg: fmt.Sprintf(format, args...)}
}

// Repository persists care transitions. Every method takes the tenant key
// explicitly and must never observe rows of another tenant.
type Repository interface {
	Create(ctx context.Context, ct *CareTransition) error
	GetByKey(ctx context.Context, tenantKey string, key int64) (*CareTransition, error)
	// Update writes every mutable column and bumps the version. When
	// expectedVersion is non-nil the write only applies to that version and
	// ErrStaleVersion is returned otherwise.
	Update(ctx context.Context, ct *CareTransition, expectedVersion *int) error

	ListByEncounter(ctx context.Context, tenantKey string, encounterKey int64) ([]*CareTransition, error)
	ListByPatient(ctx context.Context, tenantKey string, patientKey int64) ([]*CareTransition, error)
	ListByStatus(ctx context.Context, tenantKey string, status Status) ([]*CareTransition, error)
	ListActive(ctx context.Context, tenantKey string) ([]*CareTransition, error)
	ListByTenant(ctx context.Context, tenantKey string, limit, offset int) ([]*CareTransition, int, error)
	// ListCreatedBetween returns transitions whose created time falls in
	// [from, to]; a nil bound is open.
	ListCreatedBetween(ctx context.Context, tenantKey string, from, to *time.Time) ([]*CareTransition, error)
}
