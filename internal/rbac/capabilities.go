package rbac

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Capability is a single named boolean permission owned by a role.
type Capability string

const (
	CapCreateAudits       Capability = "create_audits"
	CapViewAllAudits      Capability = "view_all_audits"
	CapViewAssignedAudits Capability = "view_assigned_audits"
	CapEditAudits         Capability = "edit_audits"
	CapDeleteAudits       Capability = "delete_audits"
	CapConductAssessments Capability = "conduct_assessments"
	CapApproveReports     Capability = "approve_reports"
	CapManageUsers        Capability = "manage_users"
	CapManageDepartments  Capability = "manage_departments"
	CapManageRoles        Capability = "manage_roles"
	CapViewAnalytics      Capability = "view_analytics"
	CapExportData         Capability = "export_data"
	CapCreateRisks        Capability = "create_risks"
	CapAssessRisks        Capability = "assess_risks"
	CapApproveRisks       Capability = "approve_risks"
	CapCreateCAPA         Capability = "create_capa"
	CapAssignCAPA         Capability = "assign_capa"
	CapCloseCAPA          Capability = "close_capa"
	CapUploadDocuments    Capability = "upload_documents"
	CapApproveDocuments   Capability = "approve_documents"
	CapArchiveDocuments   Capability = "archive_documents"
	CapManageAssets       Capability = "manage_assets"
	CapAssignAssets       Capability = "assign_assets"
	CapManageVendors      Capability = "manage_vendors"
	CapEvaluateVendors    Capability = "evaluate_vendors"
)

// AllCapabilities lists every capability the matrix recognizes, in catalog order.
var AllCapabilities = []Capability{
	CapCreateAudits,
	CapViewAllAudits,
	CapViewAssignedAudits,
	CapEditAudits,
	CapDeleteAudits,
	CapConductAssessments,
	CapApproveReports,
	CapManageUsers,
	CapManageDepartments,
	CapManageRoles,
	CapViewAnalytics,
	CapExportData,
	CapCreateRisks,
	CapAssessRisks,
	CapApproveRisks,
	CapCreateCAPA,
	CapAssignCAPA,
	CapCloseCAPA,
	CapUploadDocuments,
	CapApproveDocuments,
	CapArchiveDocuments,
	CapManageAssets,
	CapAssignAssets,
	CapManageVendors,
	CapEvaluateVendors,
}

var knownCapabilities = func() map[Capability]struct{} {
	set := make(map[Capability]struct{}, len(AllCapabilities))
	for _, c := range AllCapabilities {
		set[c] = struct{}{}
	}
	return set
}()

// Valid reports whether the capability belongs to the catalog.
func (c Capability) Valid() bool {
	_, ok := knownCapabilities[c]
	return ok
}

// CapabilitySet is an enum-keyed set of capabilities. The zero value is empty.
type CapabilitySet map[Capability]struct{}

// NewCapabilitySet builds a set, rejecting capabilities outside the catalog.
func NewCapabilitySet(caps ...Capability) (CapabilitySet, error) {
	set := make(CapabilitySet, len(caps))
	for _, c := range caps {
		if !c.Valid() {
			return nil, fmt.Errorf("%w: unknown capability %q", ErrInvalidInput, c)
		}
		set[c] = struct{}{}
	}
	return set, nil
}

// Has reports whether the set contains the capability.
func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// Merge unions other into s in place.
func (s CapabilitySet) Merge(other CapabilitySet) {
	for c := range other {
		s[c] = struct{}{}
	}
}

// Keys returns the capabilities in sorted order.
func (s CapabilitySet) Keys() []Capability {
	out := make([]Capability, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// MarshalJSON encodes the set as a sorted string array.
func (s CapabilitySet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Keys())
}

// UnmarshalJSON decodes a string array, rejecting unknown capabilities.
func (s *CapabilitySet) UnmarshalJSON(data []byte) error {
	var raw []Capability
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	set, err := NewCapabilitySet(raw...)
	if err != nil {
		return err
	}
	*s = set
	return nil
}
