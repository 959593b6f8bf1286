package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"auditcore.org/internal/rbac"
)

type roleStore struct {
	db *sql.DB
}

const roleColumns = `id, name, category, department_id, is_global, capabilities, incompatible_roles,
	requires_dual_approval, requires_background_check, requires_training_cert, max_assignment_days,
	is_active, created_at, updated_at`

func (s *roleStore) Create(ctx context.Context, role *rbac.Role) error {
	capsJSON, err := json.Marshal(role.Capabilities)
	if err != nil {
		return fmt.Errorf("marshal capabilities: %w", err)
	}
	incompatJSON, err := json.Marshal(role.IncompatibleRoles)
	if err != nil {
		return fmt.Errorf("marshal incompatible roles: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into roles (id, name, category, department_id, is_global, capabilities, incompatible_roles,
			requires_dual_approval, requires_background_check, requires_training_cert, max_assignment_days,
			is_active, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, role.ID, role.Name, nullIfEmpty(role.Category), nullIfEmpty(role.DepartmentID), role.IsGlobal,
		capsJSON, incompatJSON, role.RequiresDualApproval, role.RequiresBackgroundCheck,
		role.RequiresTrainingCert, role.MaxAssignmentDays, role.IsActive, role.CreatedAt, role.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return rbac.ErrConflict
		}
		return err
	}
	return nil
}

func (s *roleStore) Find(ctx context.Context, id string) (rbac.Role, error) {
	role, err := scanRole(s.db.QueryRowContext(ctx, `
		select `+roleColumns+`
		from roles
		where id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.Role{}, rbac.ErrNotFound
	}
	if err != nil {
		return rbac.Role{}, err
	}
	return role, nil
}

func (s *roleStore) List(ctx context.Context, departmentID string, activeOnly bool) ([]rbac.Role, error) {
	query := `select ` + roleColumns + ` from roles where 1=1`
	var args []any
	if activeOnly {
		query += ` and is_active = true`
	}
	if departmentID != "" {
		// Department-scoped listings still include global roles.
		query += fmt.Sprintf(` and (is_global = true or department_id = $%d)`, len(args)+1)
		args = append(args, departmentID)
	}
	query += ` order by name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []rbac.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

func (s *roleStore) Deactivate(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		update roles set is_active = false, updated_at = now()
		where id = $1 and is_active = true
	`, id)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx, `select 1 from roles where id = $1`, id).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return rbac.ErrNotFound
		}
		return err
	}
	return nil
}

func scanRole(row rowScanner) (rbac.Role, error) {
	var (
		role         rbac.Role
		category     sql.NullString
		dept         sql.NullString
		capsJSON     []byte
		incompatJSON []byte
	)
	if err := row.Scan(&role.ID, &role.Name, &category, &dept, &role.IsGlobal, &capsJSON, &incompatJSON,
		&role.RequiresDualApproval, &role.RequiresBackgroundCheck, &role.RequiresTrainingCert,
		&role.MaxAssignmentDays, &role.IsActive, &role.CreatedAt, &role.UpdatedAt); err != nil {
		return rbac.Role{}, err
	}
	role.Category = category.String
	role.DepartmentID = dept.String
	if len(capsJSON) > 0 {
		if err := json.Unmarshal(capsJSON, &role.Capabilities); err != nil {
			return rbac.Role{}, fmt.Errorf("decode capabilities: %w", err)
		}
	}
	if len(incompatJSON) > 0 {
		if err := json.Unmarshal(incompatJSON, &role.IncompatibleRoles); err != nil {
			return rbac.Role{}, fmt.Errorf("decode incompatible roles: %w", err)
		}
	}
	return role, nil
}
