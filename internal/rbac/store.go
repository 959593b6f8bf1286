package rbac

import (
	"context"
	"time"
)

// Store describes persistence operations required by the access-control core.
type Store interface {
	Users() UserStore
	Roles() RoleStore
	Assignments() AssignmentStore
	Overrides() OverrideStore
	Resources() ResourceStore
}

// UserStore manages user accounts. Lookups resolve soft-deleted users too, so
// historical relationships stay joinable.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
	List(ctx context.Context, includeDeleted bool) ([]User, error)
	SoftDelete(ctx context.Context, id, deletedBy, reason string, at time.Time) error
}

// RoleStore manages the role matrix. Roles are append-only plus the is_active
// toggle; the name uniqueness constraint spans active and inactive rows.
type RoleStore interface {
	Create(ctx context.Context, role *Role) error
	Find(ctx context.Context, id string) (Role, error)
	List(ctx context.Context, departmentID string, activeOnly bool) ([]Role, error)
	Deactivate(ctx context.Context, id string) error
}

// AssignmentStore manages the user-role assignment ledger. Create must reject
// a second active row for the same (user, role) pair within one transaction.
type AssignmentStore interface {
	Create(ctx context.Context, a *UserRoleAssignment) error
	Find(ctx context.Context, id string) (UserRoleAssignment, error)
	ListByUser(ctx context.Context, userID string, includeInactive bool) ([]UserRoleAssignment, error)
	Approve(ctx context.Context, id, approvedBy string, at time.Time) error
	Deactivate(ctx context.Context, id, deactivatedBy, reason string, at time.Time) error
}

// OverrideStore appends write-once emergency-access records.
type OverrideStore interface {
	Create(ctx context.Context, rec *OverrideRecord) error
	ActiveForResource(ctx context.Context, resourceType, resourceID, userID string, now time.Time) (OverrideRecord, error)
	ListByResource(ctx context.Context, resourceType, resourceID string) ([]OverrideRecord, error)
}

// ResourceStore is the read-mostly registry of resource ownership metadata
// that external resource services sync into for access checks.
type ResourceStore interface {
	Find(ctx context.Context, resourceType, resourceID string) (Resource, error)
	Upsert(ctx context.Context, res Resource) error
}
