package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"auditcore.org/internal/rbac"
)

type assignmentStore struct {
	db *sql.DB
}

const assignmentColumns = `id, user_id, role_id, assigned_by, reason, is_temporary,
	effective_date, expiry_date, requires_approval, approved_by, approval_date,
	is_active, deactivated_by, deactivation_date, deactivation_reason, created_at`

// Create inserts a ledger row. A partial unique index on active
// (user_id, role_id) pairs makes two racing assigns collapse into one
// conflict instead of duplicate active rows.
func (s *assignmentStore) Create(ctx context.Context, a *rbac.UserRoleAssignment) error {
	_, err := s.db.ExecContext(ctx, `
		insert into role_assignments (id, user_id, role_id, assigned_by, reason, is_temporary,
			effective_date, expiry_date, requires_approval, is_active, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, a.ID, a.UserID, a.RoleID, nullIfEmpty(a.AssignedBy), nullIfEmpty(a.Reason), a.IsTemporary,
		a.EffectiveDate, nullTime(a.ExpiryDate), a.RequiresApproval, a.IsActive, a.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return rbac.ErrConflict
			case pgErrForeignKeyViolation:
				return rbac.ErrNotFound
			}
		}
		return err
	}
	return nil
}

func (s *assignmentStore) Find(ctx context.Context, id string) (rbac.UserRoleAssignment, error) {
	a, err := scanAssignment(s.db.QueryRowContext(ctx, `
		select `+assignmentColumns+`
		from role_assignments
		where id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.UserRoleAssignment{}, rbac.ErrNotFound
	}
	if err != nil {
		return rbac.UserRoleAssignment{}, err
	}
	return a, nil
}

func (s *assignmentStore) ListByUser(ctx context.Context, userID string, includeInactive bool) ([]rbac.UserRoleAssignment, error) {
	query := `select ` + assignmentColumns + ` from role_assignments where user_id = $1`
	if !includeInactive {
		query += ` and is_active = true`
	}
	query += ` order by effective_date desc`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assignments []rbac.UserRoleAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		assignments = append(assignments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return assignments, nil
}

func (s *assignmentStore) Approve(ctx context.Context, id, approvedBy string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update role_assignments
		set approved_by = $2, approval_date = $3
		where id = $1 and approved_by is null
	`, id, approvedBy, at)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return s.ensureExists(ctx, id)
	}
	return nil
}

func (s *assignmentStore) Deactivate(ctx context.Context, id, deactivatedBy, reason string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update role_assignments
		set is_active = false, deactivated_by = $2, deactivation_date = $3, deactivation_reason = $4
		where id = $1 and is_active = true
	`, id, nullIfEmpty(deactivatedBy), at, nullIfEmpty(reason))
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return s.ensureExists(ctx, id)
	}
	return nil
}

func (s *assignmentStore) ensureExists(ctx context.Context, id string) error {
	var exists int
	err := s.db.QueryRowContext(ctx, `select 1 from role_assignments where id = $1`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.ErrNotFound
	}
	return err
}

func scanAssignment(row rowScanner) (rbac.UserRoleAssignment, error) {
	var (
		a            rbac.UserRoleAssignment
		assignedBy   sql.NullString
		reason       sql.NullString
		expiry       sql.NullTime
		approvedBy   sql.NullString
		approvalDate sql.NullTime
		deactBy      sql.NullString
		deactDate    sql.NullTime
		deactReason  sql.NullString
	)
	if err := row.Scan(&a.ID, &a.UserID, &a.RoleID, &assignedBy, &reason, &a.IsTemporary,
		&a.EffectiveDate, &expiry, &a.RequiresApproval, &approvedBy, &approvalDate,
		&a.IsActive, &deactBy, &deactDate, &deactReason, &a.CreatedAt); err != nil {
		return rbac.UserRoleAssignment{}, err
	}
	a.AssignedBy = assignedBy.String
	a.Reason = reason.String
	a.ExpiryDate = timePtr(expiry)
	a.ApprovedBy = approvedBy.String
	a.ApprovalDate = timePtr(approvalDate)
	a.DeactivatedBy = deactBy.String
	a.DeactivationDate = timePtr(deactDate)
	a.DeactivationReason = deactReason.String
	return a, nil
}
