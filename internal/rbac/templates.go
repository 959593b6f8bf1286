package rbac

import "fmt"

// PermissionGroup is a human-friendly bundle of capability flags used to
// pre-populate role-creation forms.
type PermissionGroup struct {
	Label        string       `json:"label"`
	Description  string       `json:"description"`
	Capabilities []Capability `json:"permission_names"`
}

// RoleTemplate is a pre-built combination of permission groups for quick
// role creation.
type RoleTemplate struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	GroupKeys   []string `json:"group_keys"`
}

var permissionGroups = map[string]PermissionGroup{
	"audit_execution": {
		Label:        "Audit Execution",
		Description:  "Create and run audits assigned to you",
		Capabilities: []Capability{CapCreateAudits, CapViewAssignedAudits, CapConductAssessments},
	},
	"audit_oversight": {
		Label:        "Audit Oversight",
		Description:  "Organisation-wide audit visibility and editing",
		Capabilities: []Capability{CapViewAllAudits, CapEditAudits, CapDeleteAudits, CapApproveReports},
	},
	"risk_management": {
		Label:        "Risk Management",
		Description:  "Raise, assess and approve risks",
		Capabilities: []Capability{CapCreateRisks, CapAssessRisks, CapApproveRisks},
	},
	"capa_management": {
		Label:        "CAPA Management",
		Description:  "Create, assign and close corrective actions",
		Capabilities: []Capability{CapCreateCAPA, CapAssignCAPA, CapCloseCAPA},
	},
	"document_control": {
		Label:        "Document Control",
		Description:  "Upload, approve and archive controlled documents",
		Capabilities: []Capability{CapUploadDocuments, CapApproveDocuments, CapArchiveDocuments},
	},
	"asset_management": {
		Label:        "Asset Management",
		Description:  "Maintain the asset register and assignments",
		Capabilities: []Capability{CapManageAssets, CapAssignAssets},
	},
	"vendor_management": {
		Label:        "Vendor Management",
		Description:  "Maintain and evaluate the vendor register",
		Capabilities: []Capability{CapManageVendors, CapEvaluateVendors},
	},
	"reporting": {
		Label:        "Reporting",
		Description:  "Dashboards, analytics and data export",
		Capabilities: []Capability{CapViewAnalytics, CapExportData},
	},
	"administration": {
		Label:        "Administration",
		Description:  "User, department and role administration",
		Capabilities: []Capability{CapManageUsers, CapManageDepartments, CapManageRoles},
	},
}

var roleTemplates = map[string]RoleTemplate{
	"lead_auditor": {
		Name:        "Lead Auditor",
		Description: "Runs assigned audits and manages their risks and CAPAs",
		GroupKeys:   []string{"audit_execution", "risk_management", "capa_management"},
	},
	"compliance_manager": {
		Name:        "Compliance Manager",
		Description: "Organisation-wide audit oversight with reporting",
		GroupKeys:   []string{"audit_oversight", "capa_management", "reporting"},
	},
	"risk_officer": {
		Name:        "Risk Officer",
		Description: "Dedicated risk and vendor evaluation role",
		GroupKeys:   []string{"risk_management", "vendor_management"},
	},
	"document_controller": {
		Name:        "Document Controller",
		Description: "Owns the controlled-document lifecycle",
		GroupKeys:   []string{"document_control"},
	},
	"administrator": {
		Name:        "Administrator",
		Description: "Full administrative bundle",
		GroupKeys:   []string{"administration", "audit_oversight", "reporting"},
	},
	"facilities_coordinator": {
		Name:        "Facilities Coordinator",
		Description: "Asset register and audit support duties",
		GroupKeys:   []string{"asset_management", "audit_execution"},
	},
}

// PermissionGroups returns the static permission-group catalog.
func PermissionGroups() map[string]PermissionGroup {
	out := make(map[string]PermissionGroup, len(permissionGroups))
	for k, v := range permissionGroups {
		out[k] = v
	}
	return out
}

// RoleTemplates returns the static role-template catalog.
func RoleTemplates() map[string]RoleTemplate {
	out := make(map[string]RoleTemplate, len(roleTemplates))
	for k, v := range roleTemplates {
		out[k] = v
	}
	return out
}

// ExpandTemplate resolves a template key to the concrete capability set its
// groups bundle.
func ExpandTemplate(key string) (CapabilitySet, error) {
	tpl, ok := roleTemplates[key]
	if !ok {
		return nil, fmt.Errorf("%w: role template %q", ErrNotFound, key)
	}
	set := make(CapabilitySet)
	for _, gk := range tpl.GroupKeys {
		group, ok := permissionGroups[gk]
		if !ok {
			return nil, fmt.Errorf("%w: template %q references unknown group %q", ErrInvalidInput, key, gk)
		}
		for _, c := range group.Capabilities {
			set[c] = struct{}{}
		}
	}
	return set, nil
}
