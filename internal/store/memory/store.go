// Package memory provides an in-memory rbac.Store used by tests and by the
// API server when no Postgres DSN is configured.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"auditcore.org/internal/rbac"
)

type Store struct {
	mu sync.RWMutex

	usersByID       map[string]rbac.User
	rolesByID       map[string]rbac.Role
	assignmentsByID map[string]rbac.UserRoleAssignment
	overridesByID   map[string]rbac.OverrideRecord
	resources       map[string]rbac.Resource
}

var _ rbac.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		usersByID:       make(map[string]rbac.User),
		rolesByID:       make(map[string]rbac.Role),
		assignmentsByID: make(map[string]rbac.UserRoleAssignment),
		overridesByID:   make(map[string]rbac.OverrideRecord),
		resources:       make(map[string]rbac.Resource),
	}
}

func (s *Store) Users() rbac.UserStore             { return (*userStore)(s) }
func (s *Store) Roles() rbac.RoleStore             { return (*roleStore)(s) }
func (s *Store) Assignments() rbac.AssignmentStore { return (*assignmentStore)(s) }
func (s *Store) Overrides() rbac.OverrideStore     { return (*overrideStore)(s) }
func (s *Store) Resources() rbac.ResourceStore     { return (*resourceStore)(s) }

type userStore Store

func (s *userStore) Create(_ context.Context, u *rbac.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.usersByID {
		if existing.Email == u.Email {
			return fmt.Errorf("%w: email %s already registered", rbac.ErrConflict, u.Email)
		}
	}
	s.usersByID[u.ID] = *u
	return nil
}

func (s *userStore) Find(_ context.Context, id string) (rbac.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.usersByID[id]
	if !ok {
		return rbac.User{}, rbac.ErrNotFound
	}
	return u, nil
}

func (s *userStore) FindByEmail(_ context.Context, email string) (rbac.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.usersByID {
		if u.Email == email {
			return u, nil
		}
	}
	return rbac.User{}, rbac.ErrNotFound
}

func (s *userStore) List(_ context.Context, includeDeleted bool) ([]rbac.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []rbac.User
	for _, u := range s.usersByID {
		if u.IsDeleted && !includeDeleted {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (s *userStore) SoftDelete(_ context.Context, id, deletedBy, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.usersByID[id]
	if !ok {
		return rbac.ErrNotFound
	}
	if u.IsDeleted {
		return nil
	}
	u.IsDeleted = true
	u.DeletedAt = &at
	u.DeletedBy = deletedBy
	u.DeletionReason = reason
	u.UpdatedAt = at
	s.usersByID[id] = u
	return nil
}

type roleStore Store

func (s *roleStore) Create(_ context.Context, role *rbac.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.rolesByID {
		if strings.EqualFold(existing.Name, role.Name) {
			return fmt.Errorf("%w: role name %s already exists", rbac.ErrConflict, role.Name)
		}
	}
	s.rolesByID[role.ID] = *role
	return nil
}

func (s *roleStore) Find(_ context.Context, id string) (rbac.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	role, ok := s.rolesByID[id]
	if !ok {
		return rbac.Role{}, rbac.ErrNotFound
	}
	return role, nil
}

func (s *roleStore) List(_ context.Context, departmentID string, activeOnly bool) ([]rbac.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []rbac.Role
	for _, role := range s.rolesByID {
		if activeOnly && !role.IsActive {
			continue
		}
		if departmentID != "" && !role.IsGlobal && role.DepartmentID != departmentID {
			continue
		}
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *roleStore) Deactivate(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.rolesByID[id]
	if !ok {
		return rbac.ErrNotFound
	}
	if !role.IsActive {
		return nil
	}
	role.IsActive = false
	role.UpdatedAt = time.Now().UTC()
	s.rolesByID[id] = role
	return nil
}

type assignmentStore Store

func (s *assignmentStore) Create(_ context.Context, a *rbac.UserRoleAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.assignmentsByID {
		if existing.UserID == a.UserID && existing.RoleID == a.RoleID && existing.IsActive {
			return fmt.Errorf("%w: active assignment already exists", rbac.ErrConflict)
		}
	}
	s.assignmentsByID[a.ID] = *a
	return nil
}

func (s *assignmentStore) Find(_ context.Context, id string) (rbac.UserRoleAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assignmentsByID[id]
	if !ok {
		return rbac.UserRoleAssignment{}, rbac.ErrNotFound
	}
	return a, nil
}

func (s *assignmentStore) ListByUser(_ context.Context, userID string, includeInactive bool) ([]rbac.UserRoleAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []rbac.UserRoleAssignment
	for _, a := range s.assignmentsByID {
		if a.UserID != userID {
			continue
		}
		if !a.IsActive && !includeInactive {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EffectiveDate.After(out[j].EffectiveDate) })
	return out, nil
}

func (s *assignmentStore) Approve(_ context.Context, id, approvedBy string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assignmentsByID[id]
	if !ok {
		return rbac.ErrNotFound
	}
	if a.ApprovedBy != "" {
		return nil
	}
	a.ApprovedBy = approvedBy
	a.ApprovalDate = &at
	s.assignmentsByID[id] = a
	return nil
}

func (s *assignmentStore) Deactivate(_ context.Context, id, deactivatedBy, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assignmentsByID[id]
	if !ok {
		return rbac.ErrNotFound
	}
	if !a.IsActive {
		return nil
	}
	a.IsActive = false
	a.DeactivatedBy = deactivatedBy
	a.DeactivationDate = &at
	a.DeactivationReason = reason
	s.assignmentsByID[id] = a
	return nil
}

type overrideStore Store

func (s *overrideStore) Create(_ context.Context, rec *rbac.OverrideRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overridesByID[rec.ID] = *rec
	return nil
}

func (s *overrideStore) ActiveForResource(_ context.Context, resourceType, resourceID, userID string, now time.Time) (rbac.OverrideRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.overridesByID {
		if rec.ResourceType == resourceType && rec.ResourceID == resourceID &&
			rec.TargetUserID == userID && rec.ActiveAt(now) {
			return rec, nil
		}
	}
	return rbac.OverrideRecord{}, rbac.ErrNotFound
}

func (s *overrideStore) ListByResource(_ context.Context, resourceType, resourceID string) ([]rbac.OverrideRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []rbac.OverrideRecord
	for _, rec := range s.overridesByID {
		if rec.ResourceType == resourceType && rec.ResourceID == resourceID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GrantedAt.Before(out[j].GrantedAt) })
	return out, nil
}

type resourceStore Store

func resourceKey(resourceType, resourceID string) string {
	return resourceType + "/" + resourceID
}

func (s *resourceStore) Find(_ context.Context, resourceType, resourceID string) (rbac.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.resources[resourceKey(resourceType, resourceID)]
	if !ok {
		return rbac.Resource{}, rbac.ErrNotFound
	}
	return res, nil
}

func (s *resourceStore) Upsert(_ context.Context, res rbac.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources[resourceKey(res.Type, res.ID)] = res
	return nil
}
