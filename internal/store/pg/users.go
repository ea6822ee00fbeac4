package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"paperbase.org/internal/auth"
)

type userStore struct {
	db *sql.DB
}

const userColumns = `id, email, password_hash, status, kind, sso_provider, sso_subject,
	failed_logins, locked_until, last_login_at, created_at, updated_at`

func (s *userStore) Create(ctx context.Context, u *auth.User) error {
	_, err := s.db.ExecContext(ctx, `
		insert into users (id, email, password_hash, status, kind, sso_provider, sso_subject, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, u.ID, u.Email, nullIfEmpty(u.PasswordHash), u.Status, u.Kind,
		nullIfEmpty(u.SSOProvider), nullIfEmpty(u.SSOSubject), u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (s *userStore) Find(ctx context.Context, id string) (*auth.User, error) {
	return s.one(ctx, `select `+userColumns+` from users where id = $1`, id)
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	return s.one(ctx, `select `+userColumns+` from users where email = $1`, email)
}

func (s *userStore) FindBySSOSubject(ctx context.Context, provider, subject string) (*auth.User, error) {
	return s.one(ctx, `
		select `+userColumns+` from users
		where sso_provider = $1 and sso_subject = $2
	`, provider, subject)
}

func (s *userStore) RecordLoginFailure(ctx context.Context, id string, failures int, lockedUntil *time.Time) error {
	return s.exec(ctx, `
		update users
		set failed_logins = $2, locked_until = $3, updated_at = now()
		where id = $1
	`, id, failures, nullTime(lockedUntil))
}

func (s *userStore) RecordLoginSuccess(ctx context.Context, id string, at time.Time) error {
	return s.exec(ctx, `
		update users
		set failed_logins = 0, locked_until = null, last_login_at = $2, updated_at = now()
		where id = $1
	`, id, at)
}

func (s *userStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return s.exec(ctx, `
		update users set password_hash = $2, updated_at = now() where id = $1
	`, id, passwordHash)
}

func (s *userStore) LinkSSOIdentity(ctx context.Context, id, provider, subject string) error {
	err := s.exec(ctx, `
		update users set sso_provider = $2, sso_subject = $3, updated_at = now() where id = $1
	`, id, provider, subject)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (s *userStore) one(ctx context.Context, query string, args ...any) (*auth.User, error) {
	var (
		u                 auth.User
		passwordHash      sql.NullString
		provider, subject sql.NullString
		locked, lastLogin sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&u.ID, &u.Email, &passwordHash, &u.Status, &u.Kind, &provider, &subject,
		&u.FailedLogins, &locked, &lastLogin, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.PasswordHash = passwordHash.String
	u.SSOProvider = provider.String
	u.SSOSubject = subject.String
	u.LockedUntil = timePtr(locked)
	u.LastLoginAt = timePtr(lastLogin)
	return &u, nil
}

func (s *userStore) exec(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}
