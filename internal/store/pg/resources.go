package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"auditcore.org/internal/rbac"
)

type resourceStore struct {
	db *sql.DB
}

func (s *resourceStore) Find(ctx context.Context, resourceType, resourceID string) (rbac.Resource, error) {
	var (
		res         rbac.Resource
		dept        sql.NullString
		createdBy   sql.NullString
		manager     sql.NullString
		leadAuditor sql.NullString
		teamJSON    []byte
	)
	err := s.db.QueryRowContext(ctx, `
		select resource_type, resource_id, department_id, created_by, assigned_manager_id,
			lead_auditor_id, team_member_ids, updated_at
		from audit_resources
		where resource_type = $1 and resource_id = $2
	`, resourceType, resourceID).Scan(&res.Type, &res.ID, &dept, &createdBy, &manager,
		&leadAuditor, &teamJSON, &res.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.Resource{}, rbac.ErrNotFound
	}
	if err != nil {
		return rbac.Resource{}, err
	}
	res.DepartmentID = dept.String
	res.CreatedBy = createdBy.String
	res.AssignedManagerID = manager.String
	res.LeadAuditorID = leadAuditor.String
	if len(teamJSON) > 0 {
		if err := json.Unmarshal(teamJSON, &res.TeamMemberIDs); err != nil {
			return rbac.Resource{}, fmt.Errorf("decode team members: %w", err)
		}
	}
	return res, nil
}

func (s *resourceStore) Upsert(ctx context.Context, res rbac.Resource) error {
	teamJSON, err := json.Marshal(res.TeamMemberIDs)
	if err != nil {
		return fmt.Errorf("marshal team members: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into audit_resources (resource_type, resource_id, department_id, created_by,
			assigned_manager_id, lead_auditor_id, team_member_ids, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		on conflict (resource_type, resource_id) do update
		set department_id = excluded.department_id,
			created_by = excluded.created_by,
			assigned_manager_id = excluded.assigned_manager_id,
			lead_auditor_id = excluded.lead_auditor_id,
			team_member_ids = excluded.team_member_ids,
			updated_at = excluded.updated_at
	`, res.Type, res.ID, nullIfEmpty(res.DepartmentID), nullIfEmpty(res.CreatedBy),
		nullIfEmpty(res.AssignedManagerID), nullIfEmpty(res.LeadAuditorID), teamJSON, res.UpdatedAt)
	return err
}
