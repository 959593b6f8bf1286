package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"auditcore.org/internal/rbac"
)

type overrideStore struct {
	db *sql.DB
}

// Create appends a write-once override record. There is deliberately no
// update or delete path for this table.
func (s *overrideStore) Create(ctx context.Context, rec *rbac.OverrideRecord) error {
	_, err := s.db.ExecContext(ctx, `
		insert into admin_overrides (id, resource_type, resource_id, target_user_id,
			granting_admin_id, reason, granted_at, expires_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rec.ID, rec.ResourceType, rec.ResourceID, rec.TargetUserID,
		rec.GrantingAdminID, rec.Reason, rec.GrantedAt, rec.ExpiresAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return rbac.ErrNotFound
		}
		return err
	}
	return nil
}

func (s *overrideStore) ActiveForResource(ctx context.Context, resourceType, resourceID, userID string, now time.Time) (rbac.OverrideRecord, error) {
	rec, err := scanOverride(s.db.QueryRowContext(ctx, `
		select id, resource_type, resource_id, target_user_id, granting_admin_id, reason, granted_at, expires_at
		from admin_overrides
		where resource_type = $1 and resource_id = $2 and target_user_id = $3
			and granted_at <= $4 and expires_at > $4
		order by expires_at desc
		limit 1
	`, resourceType, resourceID, userID, now))
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.OverrideRecord{}, rbac.ErrNotFound
	}
	if err != nil {
		return rbac.OverrideRecord{}, err
	}
	return rec, nil
}

func (s *overrideStore) ListByResource(ctx context.Context, resourceType, resourceID string) ([]rbac.OverrideRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, resource_type, resource_id, target_user_id, granting_admin_id, reason, granted_at, expires_at
		from admin_overrides
		where resource_type = $1 and resource_id = $2
		order by granted_at asc
	`, resourceType, resourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []rbac.OverrideRecord
	for rows.Next() {
		rec, err := scanOverride(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func scanOverride(row rowScanner) (rbac.OverrideRecord, error) {
	var rec rbac.OverrideRecord
	if err := row.Scan(&rec.ID, &rec.ResourceType, &rec.ResourceID, &rec.TargetUserID,
		&rec.GrantingAdminID, &rec.Reason, &rec.GrantedAt, &rec.ExpiresAt); err != nil {
		return rbac.OverrideRecord{}, err
	}
	return rec, nil
}
