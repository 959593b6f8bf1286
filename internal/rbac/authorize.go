package rbac

import (
	"context"
	"fmt"
	"strings"
)

// Authorize ensures the user currently holds the capability, either through
// an active matrix assignment or the primary-role fallback. System admins
// hold every capability implicitly.
func (s *Service) Authorize(ctx context.Context, userID string, capability Capability) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	user, err := s.store.Users().Find(ctx, userID)
	if err != nil {
		return err
	}
	if user.IsDeleted {
		return ErrAccountDeactivated
	}
	if user.PrimaryRole == RoleSystemAdmin {
		return nil
	}
	caps, _, err := s.EffectiveCapabilities(ctx, user)
	if err != nil {
		return err
	}
	if !caps.Has(capability) {
		return fmt.Errorf("%w: missing capability %s", ErrForbidden, capability)
	}
	return nil
}
