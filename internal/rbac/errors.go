package rbac

import "errors"

var (
	ErrNotFound     = errors.New("rbac: not found")
	ErrConflict     = errors.New("rbac: resource conflict")
	ErrInvalidInput = errors.New("rbac: invalid input")
	ErrForbidden    = errors.New("rbac: forbidden")

	// ErrAccountDeactivated is the fixed authentication failure for
	// soft-deleted users.
	ErrAccountDeactivated = errors.New("rbac: account deactivated")
)
