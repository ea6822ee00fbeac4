package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"paperbase.org/internal/auth"
)

type apiKeyStore struct {
	db *sql.DB
}

const apiKeyColumns = `id, owner_id, name, prefix, secret_hash, expires_at, revoked_at,
	last_seen_at, last_seen_ip, last_seen_agent, created_at`

func (s *apiKeyStore) Create(ctx context.Context, k *auth.APIKey) error {
	_, err := s.db.ExecContext(ctx, `
		insert into api_keys (id, owner_id, name, prefix, secret_hash, expires_at, created_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, k.ID, k.OwnerID, nullIfEmpty(k.Name), k.Prefix, k.SecretHash, nullTime(k.ExpiresAt), k.CreatedAt)
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

func (s *apiKeyStore) Find(ctx context.Context, id string) (*auth.APIKey, error) {
	return s.one(ctx, `select `+apiKeyColumns+` from api_keys where id = $1`, id)
}

func (s *apiKeyStore) FindByPrefix(ctx context.Context, prefix string) (*auth.APIKey, error) {
	return s.one(ctx, `select `+apiKeyColumns+` from api_keys where prefix = $1`, prefix)
}

func (s *apiKeyStore) ListByOwner(ctx context.Context, ownerID string) ([]*auth.APIKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+apiKeyColumns+` from api_keys
		where owner_id = $1
		order by created_at
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []*auth.APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *apiKeyStore) TouchUsage(ctx context.Context, id string, seenAt time.Time, meta auth.SeenMeta) error {
	res, err := s.db.ExecContext(ctx, `
		update api_keys
		set last_seen_at = $2, last_seen_ip = $3, last_seen_agent = $4
		where id = $1 and revoked_at is null
	`, id, seenAt, nullIfEmpty(meta.IP), nullIfEmpty(meta.UserAgent))
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

func (s *apiKeyStore) Revoke(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		update api_keys
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAPIKey(row rowScanner) (*auth.APIKey, error) {
	var (
		k                auth.APIKey
		name, ip, agent  sql.NullString
		expires, revoked sql.NullTime
		lastSeen         sql.NullTime
	)
	if err := row.Scan(&k.ID, &k.OwnerID, &name, &k.Prefix, &k.SecretHash,
		&expires, &revoked, &lastSeen, &ip, &agent, &k.CreatedAt); err != nil {
		return nil, err
	}
	k.Name = name.String
	k.ExpiresAt = timePtr(expires)
	k.RevokedAt = timePtr(revoked)
	k.LastSeenAt = timePtr(lastSeen)
	k.LastSeenIP = ip.String
	k.LastSeenAgent = agent.String
	return &k, nil
}

func (s *apiKeyStore) one(ctx context.Context, query string, args ...any) (*auth.APIKey, error) {
	k, err := scanAPIKey(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return k, nil
}
