package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"paperbase.org/internal/auth"
)

type roleStore struct {
	db *sql.DB
}

func (s *roleStore) Find(ctx context.Context, id string) (*auth.Role, error) {
	var (
		role auth.Role
		desc sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select id, name, scope, description, created_at
		from roles
		where id = $1
	`, id).Scan(&role.ID, &role.Name, &role.Scope, &desc, &role.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	role.Description = desc.String
	return &role, nil
}

func (s *roleStore) Assignments(ctx context.Context, userID string) ([]auth.Assignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		select user_id, role_id, workspace_id, created_at
		from role_assignments
		where user_id = $1
		order by role_id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assignments []auth.Assignment
	for rows.Next() {
		var (
			a  auth.Assignment
			ws sql.NullString
		)
		if err := rows.Scan(&a.UserID, &a.RoleID, &ws, &a.CreatedAt); err != nil {
			return nil, err
		}
		if ws.Valid {
			id := ws.String
			a.WorkspaceID = &id
		}
		assignments = append(assignments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return assignments, nil
}

func (s *roleStore) PermissionKeys(ctx context.Context, roleID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select permission_key
		from role_permissions
		where role_id = $1
		order by permission_key
	`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *roleStore) Assign(ctx context.Context, a auth.Assignment) error {
	var ws sql.NullString
	if a.WorkspaceID != nil {
		ws = sql.NullString{String: *a.WorkspaceID, Valid: true}
	}

	// Role scope and assignment shape must agree before the row lands.
	var scope string
	err := s.db.QueryRowContext(ctx, `select scope from roles where id = $1`, a.RoleID).Scan(&scope)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.ErrNotFound
	}
	if err != nil {
		return err
	}
	if scope == "workspace" && !ws.Valid {
		return fmt.Errorf("%w: workspace role assignment requires a workspace", auth.ErrInvalidInput)
	}
	if scope == "global" && ws.Valid {
		return fmt.Errorf("%w: global role assignment must not name a workspace", auth.ErrInvalidInput)
	}

	_, err = s.db.ExecContext(ctx, `
		insert into role_assignments (user_id, role_id, workspace_id, created_at)
		values ($1, $2, $3, now())
	`, a.UserID, a.RoleID, ws)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return auth.ErrAlreadyExists
			case pgErrForeignKeyViolation:
				return auth.ErrNotFound
			}
		}
		return err
	}
	return nil
}
