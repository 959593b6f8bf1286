package rbac

import (
	"context"
	"fmt"
	"strings"
	"time"

	"auditcore.org/internal/ids"
)

const (
	defaultOverrideTTL = 24 * time.Hour
	maxOverrideTTL     = 7 * 24 * time.Hour
)

// OverrideRequest is the input for an emergency-access grant.
type OverrideRequest struct {
	ResourceType    string        `json:"resource_type"`
	ResourceID      string        `json:"resource_id"`
	TargetUserID    string        `json:"target_user_id"`
	GrantingAdminID string        `json:"-"`
	Reason          string        `json:"reason"`
	TTL             time.Duration `json:"-"`
}

// GrantOverride writes a time-boxed emergency-access record. Only users whose
// primary role is system_admin may grant one, and the reason is mandatory.
// Validation happens before any row is written, so a rejected request leaves
// no partial side effect. The record itself is the log entry: elevation and
// logging are the same atomic write.
func (s *Service) GrantOverride(ctx context.Context, req OverrideRequest) (OverrideRecord, error) {
	req.Reason = strings.TrimSpace(req.Reason)
	if req.Reason == "" {
		return OverrideRecord{}, fmt.Errorf("%w: override reason is required", ErrInvalidInput)
	}
	req.ResourceType = strings.TrimSpace(req.ResourceType)
	req.ResourceID = strings.TrimSpace(req.ResourceID)
	req.TargetUserID = strings.TrimSpace(req.TargetUserID)
	req.GrantingAdminID = strings.TrimSpace(req.GrantingAdminID)
	if req.ResourceType == "" || req.ResourceID == "" || req.TargetUserID == "" || req.GrantingAdminID == "" {
		return OverrideRecord{}, fmt.Errorf("%w: resource, target user and granting admin are required", ErrInvalidInput)
	}

	admin, err := s.store.Users().Find(ctx, req.GrantingAdminID)
	if err != nil {
		return OverrideRecord{}, err
	}
	if admin.IsDeleted || admin.PrimaryRole != RoleSystemAdmin {
		return OverrideRecord{}, fmt.Errorf("%w: overrides require the system_admin primary role", ErrForbidden)
	}
	target, err := s.store.Users().Find(ctx, req.TargetUserID)
	if err != nil {
		return OverrideRecord{}, err
	}
	if target.IsDeleted {
		return OverrideRecord{}, fmt.Errorf("%w: cannot grant access to a deleted user", ErrInvalidInput)
	}
	if _, err := s.store.Resources().Find(ctx, req.ResourceType, req.ResourceID); err != nil {
		return OverrideRecord{}, err
	}

	ttl := req.TTL
	if ttl <= 0 {
		ttl = defaultOverrideTTL
	}
	if ttl > maxOverrideTTL {
		return OverrideRecord{}, fmt.Errorf("%w: override duration exceeds %s", ErrInvalidInput, maxOverrideTTL)
	}

	now := s.now().UTC()
	rec := OverrideRecord{
		ID:              ids.New(),
		ResourceType:    req.ResourceType,
		ResourceID:      req.ResourceID,
		TargetUserID:    req.TargetUserID,
		GrantingAdminID: req.GrantingAdminID,
		Reason:          req.Reason,
		GrantedAt:       now,
		ExpiresAt:       now.Add(ttl),
	}
	if err := s.store.Overrides().Create(ctx, &rec); err != nil {
		return OverrideRecord{}, err
	}
	return rec, nil
}

// ListOverrides returns the immutable override trail for a resource.
func (s *Service) ListOverrides(ctx context.Context, resourceType, resourceID string) ([]OverrideRecord, error) {
	resourceType = strings.TrimSpace(resourceType)
	resourceID = strings.TrimSpace(resourceID)
	if resourceType == "" || resourceID == "" {
		return nil, fmt.Errorf("%w: resource_type and resource_id are required", ErrInvalidInput)
	}
	return s.store.Overrides().ListByResource(ctx, resourceType, resourceID)
}

// RegisterResource records or refreshes the ownership metadata a resource
// service syncs in for access checks.
func (s *Service) RegisterResource(ctx context.Context, res Resource) (Resource, error) {
	res.Type = strings.TrimSpace(res.Type)
	res.ID = strings.TrimSpace(res.ID)
	if res.Type == "" || res.ID == "" {
		return Resource{}, fmt.Errorf("%w: resource_type and resource_id are required", ErrInvalidInput)
	}
	res.UpdatedAt = s.now().UTC()
	if err := s.store.Resources().Upsert(ctx, res); err != nil {
		return Resource{}, err
	}
	return res, nil
}
