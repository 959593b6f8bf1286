package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"auditcore.org/internal/ids"
)

// Service provides the role matrix, assignment ledger and access resolver
// over a backing Store. All decisions read live state; nothing is cached.
type Service struct {
	store Store
	now   func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs a Service.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("rbac store is required")
	}
	svc := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// RoleDefinition is the input for creating a matrix role. FromTemplate, when
// set, expands a role template and unions it with the explicit capabilities.
type RoleDefinition struct {
	Name         string       `json:"name"`
	Category     string       `json:"category"`
	DepartmentID string       `json:"department_id"`
	IsGlobal     bool         `json:"is_global"`
	Capabilities []Capability `json:"capabilities"`
	FromTemplate string       `json:"from_template"`

	IncompatibleRoles       []string `json:"incompatible_roles"`
	RequiresDualApproval    bool     `json:"requires_dual_approval"`
	RequiresBackgroundCheck bool     `json:"requires_background_check"`
	RequiresTrainingCert    bool     `json:"requires_training_cert"`
	MaxAssignmentDays       int      `json:"max_assignment_days"`
}

// CreateRole registers a new role. Duplicate names conflict even against
// deactivated roles.
func (s *Service) CreateRole(ctx context.Context, def RoleDefinition) (Role, error) {
	name := strings.TrimSpace(def.Name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	if def.IsGlobal && strings.TrimSpace(def.DepartmentID) != "" {
		return Role{}, fmt.Errorf("%w: a global role cannot be department-scoped", ErrInvalidInput)
	}
	if def.MaxAssignmentDays < 0 {
		return Role{}, fmt.Errorf("%w: max_assignment_days must be >= 0", ErrInvalidInput)
	}

	caps, err := NewCapabilitySet(def.Capabilities...)
	if err != nil {
		return Role{}, err
	}
	if def.FromTemplate != "" {
		fromTpl, err := ExpandTemplate(def.FromTemplate)
		if err != nil {
			return Role{}, err
		}
		caps.Merge(fromTpl)
	}
	if len(caps) == 0 {
		return Role{}, fmt.Errorf("%w: a role needs at least one capability", ErrInvalidInput)
	}

	now := s.now().UTC()
	role := Role{
		ID:                      ids.New(),
		Name:                    name,
		Category:                strings.TrimSpace(def.Category),
		DepartmentID:            strings.TrimSpace(def.DepartmentID),
		IsGlobal:                def.IsGlobal,
		Capabilities:            caps,
		IncompatibleRoles:       dedupeIDs(def.IncompatibleRoles),
		RequiresDualApproval:    def.RequiresDualApproval,
		RequiresBackgroundCheck: def.RequiresBackgroundCheck,
		RequiresTrainingCert:    def.RequiresTrainingCert,
		MaxAssignmentDays:       def.MaxAssignmentDays,
		IsActive:                true,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	if err := s.store.Roles().Create(ctx, &role); err != nil {
		return Role{}, err
	}
	return role, nil
}

// ListRoles returns matrix roles, optionally scoped to a department and
// filtered to active rows.
func (s *Service) ListRoles(ctx context.Context, departmentID string, activeOnly bool) ([]Role, error) {
	return s.store.Roles().List(ctx, strings.TrimSpace(departmentID), activeOnly)
}

// DeactivateRole soft-deactivates a role. Historical assignments keep
// pointing at the row.
func (s *Service) DeactivateRole(ctx context.Context, roleID string) error {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	return s.store.Roles().Deactivate(ctx, roleID)
}

// CreateUser registers an account with a hashed password.
func (s *Service) CreateUser(ctx context.Context, email, fullName, password, primaryRole, departmentID string) (User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return User{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if strings.TrimSpace(password) == "" {
		return User{}, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	role, err := ParsePrimaryRole(primaryRole)
	if err != nil {
		return User{}, err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return User{}, err
	}
	now := s.now().UTC()
	user := User{
		ID:           ids.New(),
		Email:        email,
		FullName:     strings.TrimSpace(fullName),
		PasswordHash: hash,
		PrimaryRole:  role,
		DepartmentID: strings.TrimSpace(departmentID),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Users().Create(ctx, &user); err != nil {
		return User{}, err
	}
	return user, nil
}

// GetUser resolves a user, including soft-deleted accounts.
func (s *Service) GetUser(ctx context.Context, userID string) (User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return User{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return s.store.Users().Find(ctx, userID)
}

// ListUsers returns accounts, excluding soft-deleted ones unless asked.
func (s *Service) ListUsers(ctx context.Context, includeDeleted bool) ([]User, error) {
	return s.store.Users().List(ctx, includeDeleted)
}

// DeleteUser soft-deletes an account. Self-deletion is rejected; deleting an
// already-deleted account is a no-op. References to the user are never
// cascaded or rewritten.
func (s *Service) DeleteUser(ctx context.Context, userID, deletedBy, reason string) error {
	userID = strings.TrimSpace(userID)
	deletedBy = strings.TrimSpace(deletedBy)
	if userID == "" || deletedBy == "" {
		return fmt.Errorf("%w: user_id and deleted_by are required", ErrInvalidInput)
	}
	if userID == deletedBy {
		return fmt.Errorf("%w: self-deletion is not permitted", ErrInvalidInput)
	}
	user, err := s.store.Users().Find(ctx, userID)
	if err != nil {
		return err
	}
	if user.IsDeleted {
		return nil
	}
	return s.store.Users().SoftDelete(ctx, userID, deletedBy, strings.TrimSpace(reason), s.now().UTC())
}

// Authenticate verifies credentials. Soft-deleted users always fail with
// ErrAccountDeactivated regardless of the supplied password.
func (s *Service) Authenticate(ctx context.Context, email, password string) (User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return User{}, ErrForbidden
	}
	user, err := s.store.Users().FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, ErrForbidden
		}
		return User{}, err
	}
	// The deactivation check runs before any credential check so deleted
	// accounts always fail with the fixed error, even on an empty password.
	if user.IsDeleted {
		return User{}, ErrAccountDeactivated
	}
	if password == "" {
		return User{}, ErrForbidden
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return User{}, ErrForbidden
	}
	return user, nil
}

// AssignmentRequest is the input for creating a ledger entry.
type AssignmentRequest struct {
	UserID        string     `json:"user_id"`
	RoleID        string     `json:"role_id"`
	AssignedBy    string     `json:"assigned_by"`
	Reason        string     `json:"reason"`
	IsTemporary   bool       `json:"is_temporary"`
	EffectiveDate *time.Time `json:"effective_date,omitempty"`
	ExpiryDate    *time.Time `json:"expiry_date,omitempty"`
}

// Assign creates a ledger entry linking a user to a matrix role. It enforces
// segregation of duties against the user's active assignments, the role's
// maximum assignment duration, and leaves dual-approval roles pending until
// a second actor approves.
func (s *Service) Assign(ctx context.Context, req AssignmentRequest) (UserRoleAssignment, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	req.RoleID = strings.TrimSpace(req.RoleID)
	req.AssignedBy = strings.TrimSpace(req.AssignedBy)
	if req.UserID == "" || req.RoleID == "" {
		return UserRoleAssignment{}, fmt.Errorf("%w: user_id and role_id are required", ErrInvalidInput)
	}

	user, err := s.store.Users().Find(ctx, req.UserID)
	if err != nil {
		return UserRoleAssignment{}, err
	}
	if user.IsDeleted {
		return UserRoleAssignment{}, fmt.Errorf("%w: cannot assign roles to a deleted user", ErrInvalidInput)
	}
	role, err := s.store.Roles().Find(ctx, req.RoleID)
	if err != nil {
		return UserRoleAssignment{}, err
	}
	if !role.IsActive {
		return UserRoleAssignment{}, fmt.Errorf("%w: role %s is deactivated", ErrInvalidInput, role.Name)
	}

	now := s.now().UTC()
	effective := now
	if req.EffectiveDate != nil {
		effective = req.EffectiveDate.UTC()
	}
	expiry := req.ExpiryDate
	if expiry == nil && req.IsTemporary && role.MaxAssignmentDays > 0 {
		e := effective.AddDate(0, 0, role.MaxAssignmentDays)
		expiry = &e
	}
	if expiry != nil {
		e := expiry.UTC()
		expiry = &e
		if !e.After(effective) {
			return UserRoleAssignment{}, fmt.Errorf("%w: expiry_date must be after effective_date", ErrInvalidInput)
		}
		if role.MaxAssignmentDays > 0 && e.After(effective.AddDate(0, 0, role.MaxAssignmentDays)) {
			return UserRoleAssignment{}, fmt.Errorf("%w: expiry exceeds role maximum of %d days", ErrInvalidInput, role.MaxAssignmentDays)
		}
	}

	if err := s.checkSegregation(ctx, req.UserID, role, now); err != nil {
		return UserRoleAssignment{}, err
	}

	assignment := UserRoleAssignment{
		ID:               ids.New(),
		UserID:           req.UserID,
		RoleID:           req.RoleID,
		AssignedBy:       req.AssignedBy,
		Reason:           strings.TrimSpace(req.Reason),
		IsTemporary:      req.IsTemporary,
		EffectiveDate:    effective,
		ExpiryDate:       expiry,
		RequiresApproval: role.RequiresDualApproval,
		IsActive:         true,
		CreatedAt:        now,
	}
	if err := s.store.Assignments().Create(ctx, &assignment); err != nil {
		return UserRoleAssignment{}, err
	}
	return assignment, nil
}

// checkSegregation rejects the new role when the user actively holds a role
// that either side declares incompatible.
func (s *Service) checkSegregation(ctx context.Context, userID string, newRole Role, now time.Time) error {
	existing, err := s.store.Assignments().ListByUser(ctx, userID, false)
	if err != nil {
		return err
	}
	incompatible := make(map[string]struct{}, len(newRole.IncompatibleRoles))
	for _, id := range newRole.IncompatibleRoles {
		incompatible[id] = struct{}{}
	}
	for _, a := range existing {
		if !a.ActiveAt(now) {
			continue
		}
		if a.RoleID == newRole.ID {
			return fmt.Errorf("%w: user already holds role %s", ErrConflict, newRole.Name)
		}
		if _, ok := incompatible[a.RoleID]; ok {
			return fmt.Errorf("%w: role %s is incompatible with an existing assignment", ErrConflict, newRole.Name)
		}
		held, err := s.store.Roles().Find(ctx, a.RoleID)
		if err != nil {
			return err
		}
		for _, id := range held.IncompatibleRoles {
			if id == newRole.ID {
				return fmt.Errorf("%w: role %s is incompatible with held role %s", ErrConflict, newRole.Name, held.Name)
			}
		}
	}
	return nil
}

// Approve clears the dual-approval gate on a pending assignment. The approver
// must differ from the original assigner; approving twice is a no-op.
func (s *Service) Approve(ctx context.Context, assignmentID, approverID string) (UserRoleAssignment, error) {
	assignmentID = strings.TrimSpace(assignmentID)
	approverID = strings.TrimSpace(approverID)
	if assignmentID == "" || approverID == "" {
		return UserRoleAssignment{}, fmt.Errorf("%w: assignment_id and approver are required", ErrInvalidInput)
	}
	assignment, err := s.store.Assignments().Find(ctx, assignmentID)
	if err != nil {
		return UserRoleAssignment{}, err
	}
	if !assignment.RequiresApproval {
		return UserRoleAssignment{}, fmt.Errorf("%w: assignment does not require approval", ErrInvalidInput)
	}
	if assignment.ApprovedBy != "" {
		return assignment, nil
	}
	if approverID == assignment.AssignedBy {
		return UserRoleAssignment{}, fmt.Errorf("%w: self-approval is not permitted", ErrInvalidInput)
	}
	now := s.now().UTC()
	if err := s.store.Assignments().Approve(ctx, assignmentID, approverID, now); err != nil {
		return UserRoleAssignment{}, err
	}
	assignment.ApprovedBy = approverID
	assignment.ApprovalDate = &now
	return assignment, nil
}

// Deactivate stamps the deactivation trail on an assignment. Deactivating an
// already-inactive assignment is a no-op, not an error.
func (s *Service) Deactivate(ctx context.Context, assignmentID, deactivatedBy, reason string) (UserRoleAssignment, error) {
	assignmentID = strings.TrimSpace(assignmentID)
	if assignmentID == "" {
		return UserRoleAssignment{}, fmt.Errorf("%w: assignment_id is required", ErrInvalidInput)
	}
	assignment, err := s.store.Assignments().Find(ctx, assignmentID)
	if err != nil {
		return UserRoleAssignment{}, err
	}
	if !assignment.IsActive {
		return assignment, nil
	}
	now := s.now().UTC()
	if err := s.store.Assignments().Deactivate(ctx, assignmentID, strings.TrimSpace(deactivatedBy), strings.TrimSpace(reason), now); err != nil {
		return UserRoleAssignment{}, err
	}
	assignment.IsActive = false
	assignment.DeactivatedBy = strings.TrimSpace(deactivatedBy)
	assignment.DeactivationDate = &now
	assignment.DeactivationReason = strings.TrimSpace(reason)
	return assignment, nil
}

// ListAssignments returns a user's ledger entries ordered by effective date
// descending.
func (s *Service) ListAssignments(ctx context.Context, userID string, includeInactive bool) ([]UserRoleAssignment, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return s.store.Assignments().ListByUser(ctx, userID, includeInactive)
}

// EffectiveCapabilities resolves the live capability union across the user's
// active matrix assignments. When no matrix assignment is active it falls
// back to the static primary-role mapping. The second result reports whether
// any granting role is global in scope.
func (s *Service) EffectiveCapabilities(ctx context.Context, user User) (CapabilitySet, bool, error) {
	assignments, err := s.store.Assignments().ListByUser(ctx, user.ID, false)
	if err != nil {
		return nil, false, err
	}
	now := s.now().UTC()
	caps := make(CapabilitySet)
	global := false
	matched := false
	for _, a := range assignments {
		if !a.ActiveAt(now) {
			continue
		}
		role, err := s.store.Roles().Find(ctx, a.RoleID)
		if err != nil {
			return nil, false, err
		}
		if !role.IsActive {
			continue
		}
		matched = true
		caps.Merge(role.Capabilities)
		if role.IsGlobal {
			global = true
		}
	}
	if !matched {
		return DefaultCapabilities(user.PrimaryRole), user.PrimaryRole == RoleSystemAdmin, nil
	}
	return caps, global, nil
}

func dedupeIDs(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
