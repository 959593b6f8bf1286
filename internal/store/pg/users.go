package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"auditcore.org/internal/rbac"
)

type userStore struct {
	db *sql.DB
}

const userColumns = `id, email, full_name, password_hash, primary_role, department_id,
	is_deleted, deleted_at, deleted_by, deletion_reason, created_at, updated_at`

func (s *userStore) Create(ctx context.Context, u *rbac.User) error {
	_, err := s.db.ExecContext(ctx, `
		insert into users (id, email, full_name, password_hash, primary_role, department_id, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, u.ID, u.Email, u.FullName, u.PasswordHash, string(u.PrimaryRole), nullIfEmpty(u.DepartmentID), u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return rbac.ErrConflict
		}
		return err
	}
	return nil
}

func (s *userStore) Find(ctx context.Context, id string) (rbac.User, error) {
	return s.scanOne(s.db.QueryRowContext(ctx, `
		select `+userColumns+`
		from users
		where id = $1
	`, id))
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (rbac.User, error) {
	return s.scanOne(s.db.QueryRowContext(ctx, `
		select `+userColumns+`
		from users
		where email = $1
	`, email))
}

func (s *userStore) List(ctx context.Context, includeDeleted bool) ([]rbac.User, error) {
	query := `select ` + userColumns + ` from users`
	if !includeDeleted {
		query += ` where is_deleted = false`
	}
	query += ` order by email`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []rbac.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *userStore) SoftDelete(ctx context.Context, id, deletedBy, reason string, at time.Time) error {
	// No-op when already deleted: history is stamped exactly once.
	res, err := s.db.ExecContext(ctx, `
		update users
		set is_deleted = true, deleted_at = $2, deleted_by = $3, deletion_reason = $4, updated_at = $2
		where id = $1 and is_deleted = false
	`, id, at, deletedBy, nullIfEmpty(reason))
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx, `select 1 from users where id = $1`, id).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return rbac.ErrNotFound
		}
		return err
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *userStore) scanOne(row *sql.Row) (rbac.User, error) {
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.User{}, rbac.ErrNotFound
	}
	if err != nil {
		return rbac.User{}, err
	}
	return user, nil
}

func scanUser(row rowScanner) (rbac.User, error) {
	var (
		user       rbac.User
		role       string
		dept       sql.NullString
		deletedAt  sql.NullTime
		deletedBy  sql.NullString
		delReason  sql.NullString
	)
	if err := row.Scan(&user.ID, &user.Email, &user.FullName, &user.PasswordHash, &role, &dept,
		&user.IsDeleted, &deletedAt, &deletedBy, &delReason, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return rbac.User{}, err
	}
	user.PrimaryRole = rbac.PrimaryRole(role)
	user.DepartmentID = dept.String
	user.DeletedAt = timePtr(deletedAt)
	user.DeletedBy = deletedBy.String
	user.DeletionReason = delReason.String
	return user, nil
}
