package rbac

import (
	"fmt"
	"strings"
	"time"
)

// PrimaryRole is the single fixed-enum role stored directly on a user,
// distinct from the richer matrix assignments.
type PrimaryRole string

const (
	RoleSystemAdmin       PrimaryRole = "system_admin"
	RoleAuditManager      PrimaryRole = "audit_manager"
	RoleAuditor           PrimaryRole = "auditor"
	RoleDepartmentHead    PrimaryRole = "department_head"
	RoleDepartmentOfficer PrimaryRole = "department_officer"
	RoleViewer            PrimaryRole = "viewer"
)

// ParsePrimaryRole normalizes and validates a primary role value.
func ParsePrimaryRole(raw string) (PrimaryRole, error) {
	role := PrimaryRole(strings.TrimSpace(strings.ToLower(raw)))
	switch role {
	case RoleSystemAdmin, RoleAuditManager, RoleAuditor,
		RoleDepartmentHead, RoleDepartmentOfficer, RoleViewer:
		return role, nil
	default:
		return "", fmt.Errorf("%w: unsupported primary role %q", ErrInvalidInput, raw)
	}
}

// primaryRoleCapabilities is the static fallback mapping used when a user
// holds no active matrix assignments.
var primaryRoleCapabilities = map[PrimaryRole][]Capability{
	RoleSystemAdmin: AllCapabilities,
	RoleAuditManager: {
		CapCreateAudits, CapViewAllAudits, CapEditAudits, CapConductAssessments,
		CapApproveReports, CapViewAnalytics, CapExportData,
		CapAssignCAPA, CapCloseCAPA, CapApproveDocuments,
	},
	RoleAuditor: {
		CapViewAssignedAudits, CapConductAssessments,
		CapCreateRisks, CapAssessRisks, CapCreateCAPA, CapUploadDocuments,
	},
	RoleDepartmentHead: {
		CapViewAssignedAudits, CapApproveReports, CapViewAnalytics,
		CapCreateCAPA, CapApproveDocuments, CapAssignAssets,
	},
	RoleDepartmentOfficer: {
		CapViewAssignedAudits, CapCreateCAPA, CapUploadDocuments,
	},
	RoleViewer: {
		CapViewAssignedAudits,
	},
}

// DefaultCapabilities returns the static capability set for a primary role.
func DefaultCapabilities(role PrimaryRole) CapabilitySet {
	set := make(CapabilitySet)
	for _, c := range primaryRoleCapabilities[role] {
		set[c] = struct{}{}
	}
	return set
}

// Role is a named bundle of capabilities plus scope and governance metadata.
// Roles are append-only: edits are limited to the is_active toggle so that
// historical assignments stay interpretable.
type Role struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Category     string        `json:"category,omitempty"`
	DepartmentID string        `json:"department_id,omitempty"`
	IsGlobal     bool          `json:"is_global"`
	Capabilities CapabilitySet `json:"capabilities"`

	IncompatibleRoles       []string `json:"incompatible_roles,omitempty"`
	RequiresDualApproval    bool     `json:"requires_dual_approval"`
	RequiresBackgroundCheck bool     `json:"requires_background_check"`
	RequiresTrainingCert    bool     `json:"requires_training_cert"`
	MaxAssignmentDays       int      `json:"max_assignment_days,omitempty"`

	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// User is an account identity. Users are soft-deleted only: every foreign key
// pointing at a deleted user stays resolvable for historical audit trails.
type User struct {
	ID           string      `json:"id"`
	Email        string      `json:"email"`
	FullName     string      `json:"full_name"`
	PasswordHash string      `json:"-"`
	PrimaryRole  PrimaryRole `json:"primary_role"`
	DepartmentID string      `json:"department_id,omitempty"`

	IsDeleted      bool       `json:"is_deleted"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
	DeletedBy      string     `json:"deleted_by,omitempty"`
	DeletionReason string     `json:"deletion_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UserRoleAssignment links one user to one matrix role with temporal validity,
// an approval trail and a deactivation trail. Rows are never deleted.
type UserRoleAssignment struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	RoleID      string `json:"role_id"`
	AssignedBy  string `json:"assigned_by"`
	Reason      string `json:"reason,omitempty"`
	IsTemporary bool   `json:"is_temporary"`

	EffectiveDate time.Time  `json:"effective_date"`
	ExpiryDate    *time.Time `json:"expiry_date,omitempty"`

	RequiresApproval bool       `json:"requires_approval"`
	ApprovedBy       string     `json:"approved_by,omitempty"`
	ApprovalDate     *time.Time `json:"approval_date,omitempty"`

	IsActive           bool       `json:"is_active"`
	DeactivatedBy      string     `json:"deactivated_by,omitempty"`
	DeactivationDate   *time.Time `json:"deactivation_date,omitempty"`
	DeactivationReason string     `json:"deactivation_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Approved reports whether the assignment has cleared its approval gate.
func (a UserRoleAssignment) Approved() bool {
	return !a.RequiresApproval || a.ApprovedBy != ""
}

// ActiveAt implements the temporal-validity predicate. The expiry bound is
// exclusive: an assignment whose expiry equals now is already expired.
func (a UserRoleAssignment) ActiveAt(now time.Time) bool {
	if !a.IsActive || !a.Approved() {
		return false
	}
	if a.EffectiveDate.After(now) {
		return false
	}
	if a.ExpiryDate != nil && !a.ExpiryDate.After(now) {
		return false
	}
	return true
}

// Identity is the authenticated caller as supplied by the session layer.
type Identity struct {
	UserID       string      `json:"user_id"`
	PrimaryRole  PrimaryRole `json:"primary_role"`
	DepartmentID string      `json:"department_id,omitempty"`
}

// Resource carries the ownership and scoping fields of the object under an
// access check. The values come read-only from the owning resource store.
type Resource struct {
	Type              string    `json:"resource_type"`
	ID                string    `json:"resource_id"`
	DepartmentID      string    `json:"department_id,omitempty"`
	CreatedBy         string    `json:"created_by,omitempty"`
	AssignedManagerID string    `json:"assigned_manager_id,omitempty"`
	LeadAuditorID     string    `json:"lead_auditor_id,omitempty"`
	TeamMemberIDs     []string  `json:"team_member_ids,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// AccessLevel describes the breadth of a granted decision, most permissive first.
type AccessLevel string

const (
	LevelFull         AccessLevel = "full"
	LevelDepartment   AccessLevel = "department"
	LevelAssignedOnly AccessLevel = "assigned_only"
	LevelNone         AccessLevel = "none"
)

// Access reason strings are user-visible and feed compliance reports, so
// their values and precedence are part of the contract.
const (
	ReasonSystemAdmin     = "system_admin"
	ReasonViewAllAudits   = "view_all_audits"
	ReasonDepartmentMatch = "department_match"
	ReasonCreator         = "creator"
	ReasonAssignedManager = "assigned_manager"
	ReasonLeadAuditor     = "lead_auditor"
	ReasonTeamMember      = "team_member"
	ReasonAdminOverride   = "admin_override"
	ReasonNoMatchingRule  = "no_matching_rule"

	// ReasonAccountDeactivated is the deny reason for soft-deleted callers.
	ReasonAccountDeactivated = "account_deactivated"
)

// Decision is the computed outcome of one access check. A denial is an
// ordinary value, never an error.
type Decision struct {
	Allowed bool        `json:"allowed"`
	Level   AccessLevel `json:"access_level"`
	Reason  string      `json:"access_reason"`
}

// OverrideRecord is a write-once emergency-access grant. It doubles as the
// tamper-evident log entry for the grant and is never updated or deleted.
type OverrideRecord struct {
	ID              string    `json:"id"`
	ResourceType    string    `json:"resource_type"`
	ResourceID      string    `json:"resource_id"`
	TargetUserID    string    `json:"target_user_id"`
	GrantingAdminID string    `json:"granting_admin_id"`
	Reason          string    `json:"reason"`
	GrantedAt       time.Time `json:"granted_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// ActiveAt reports whether the override still elevates access.
func (o OverrideRecord) ActiveAt(now time.Time) bool {
	return !o.GrantedAt.After(now) && o.ExpiresAt.After(now)
}
