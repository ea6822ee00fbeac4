package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"paperbase.org/internal/auth"
)

type sessionStore struct {
	db *sql.DB
}

func (s *sessionStore) Create(ctx context.Context, sess *auth.Session) error {
	_, err := s.db.ExecContext(ctx, `
		insert into sessions (id, user_id, token_hash, csrf_token, issued_at, expires_at, last_seen_at, last_seen_ip, last_seen_agent)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, sess.ID, sess.UserID, sess.TokenHash, sess.CSRFToken,
		sess.IssuedAt, sess.ExpiresAt, sess.LastSeenAt, nullIfEmpty(sess.LastSeenIP), nullIfEmpty(sess.LastSeenAgent))
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

func (s *sessionStore) FindByTokenHash(ctx context.Context, tokenHash string) (*auth.Session, error) {
	var (
		sess      auth.Session
		revoked   sql.NullTime
		ip, agent sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, token_hash, csrf_token, issued_at, expires_at, revoked_at, last_seen_at, last_seen_ip, last_seen_agent
		from sessions
		where token_hash = $1
	`, tokenHash).Scan(&sess.ID, &sess.UserID, &sess.TokenHash, &sess.CSRFToken,
		&sess.IssuedAt, &sess.ExpiresAt, &revoked, &sess.LastSeenAt, &ip, &agent)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sess.RevokedAt = timePtr(revoked)
	sess.LastSeenIP = ip.String
	sess.LastSeenAgent = agent.String
	return &sess, nil
}

// Touch extends expiry without ever shrinking it and refreshes last-seen
// metadata. Revoked or already expired rows never match.
func (s *sessionStore) Touch(ctx context.Context, id string, expiresAt, seenAt time.Time, meta auth.SeenMeta) error {
	res, err := s.db.ExecContext(ctx, `
		update sessions
		set expires_at = greatest(expires_at, $2),
		    last_seen_at = $3,
		    last_seen_ip = $4,
		    last_seen_agent = $5
		where id = $1 and revoked_at is null and expires_at > $3
	`, id, expiresAt, seenAt, nullIfEmpty(meta.IP), nullIfEmpty(meta.UserAgent))
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

// Revoke stamps revoked_at once; repeated calls are no-ops that still
// succeed as long as the row exists.
func (s *sessionStore) Revoke(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		update sessions
		set revoked_at = coalesce(revoked_at, now())
		where id = $1
	`, id)
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

func (s *sessionStore) RevokeByUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		update sessions
		set revoked_at = now()
		where user_id = $1 and revoked_at is null
	`, userID)
	return err
}
