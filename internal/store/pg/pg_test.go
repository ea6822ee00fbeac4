package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"paperbase.org/internal/auth"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db), mock
}

func TestUserCreateMapsUniqueViolation(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("insert into users").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	err := store.Users().Create(context.Background(), &auth.User{
		ID:     "u1",
		Email:  "dup@example.com",
		Status: auth.UserStatusActive,
		Kind:   auth.UserKindHuman,
	})
	if !errors.Is(err, auth.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserFindByEmail(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "email", "password_hash", "status", "kind", "sso_provider", "sso_subject",
		"failed_logins", "locked_until", "last_login_at", "created_at", "updated_at",
	}).AddRow("u1", "ana@example.com", "$argon2id$...", "active", "user", nil, nil, 2, nil, nil, now, now)

	mock.ExpectQuery("select (.+) from users where email").
		WithArgs("ana@example.com").
		WillReturnRows(rows)

	u, err := store.Users().FindByEmail(context.Background(), "ana@example.com")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if u.ID != "u1" || u.FailedLogins != 2 {
		t.Fatalf("unexpected user: %+v", u)
	}
	if u.LockedUntil != nil {
		t.Fatalf("expected nil LockedUntil, got %v", u.LockedUntil)
	}
}

func TestUserFindByEmailNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("select (.+) from users where email").
		WithArgs("ghost@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.Users().FindByEmail(context.Background(), "ghost@example.com")
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSessionTouchMonotonicAndGuarded(t *testing.T) {
	store, mock := newMockStore(t)

	expires := time.Now().UTC().Add(24 * time.Hour)
	seen := time.Now().UTC()

	mock.ExpectExec("update sessions").
		WithArgs("s1", expires, seen, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.Sessions().Touch(context.Background(), "s1", expires, seen, auth.SeenMeta{IP: "10.0.0.1"}); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSessionTouchRevokedRowReturnsNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("update sessions").
		WithArgs("s1", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Sessions().Touch(context.Background(), "s1", time.Now(), time.Now(), auth.SeenMeta{})
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for non-qualifying row, got %v", err)
	}
}

func TestSessionRevokeIdempotent(t *testing.T) {
	store, mock := newMockStore(t)

	// coalesce keeps the first revocation timestamp; both calls match a row.
	mock.ExpectExec("update sessions").WithArgs("s1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update sessions").WithArgs("s1").WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.Sessions().Revoke(context.Background(), "s1"); err != nil {
		t.Fatalf("first Revoke: %v", err)
	}
	if err := store.Sessions().Revoke(context.Background(), "s1"); err != nil {
		t.Fatalf("second Revoke: %v", err)
	}
}

func TestAPIKeyFindByPrefix(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "owner_id", "name", "prefix", "secret_hash", "expires_at", "revoked_at",
		"last_seen_at", "last_seen_ip", "last_seen_agent", "created_at",
	}).AddRow("k1", "u1", "ci", "a1b2c3d4", "deadbeef", nil, nil, nil, nil, nil, now)

	mock.ExpectQuery("select (.+) from api_keys where prefix").
		WithArgs("a1b2c3d4").
		WillReturnRows(rows)

	k, err := store.APIKeys().FindByPrefix(context.Background(), "a1b2c3d4")
	if err != nil {
		t.Fatalf("FindByPrefix: %v", err)
	}
	if k.ID != "k1" || k.SecretHash != "deadbeef" {
		t.Fatalf("unexpected key: %+v", k)
	}
}

func TestRoleAssignRejectsScopeMismatch(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("select scope from roles").
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"scope"}).AddRow("workspace"))

	err := store.Roles().Assign(context.Background(), auth.Assignment{UserID: "u1", RoleID: "r1"})
	if !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for workspace role without workspace, got %v", err)
	}
}

func TestRolePermissionKeys(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("select permission_key").
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"permission_key"}).
			AddRow("Workspace.Documents.Read").
			AddRow("Workspace.Documents.ReadWrite"))

	keys, err := store.Roles().PermissionKeys(context.Background(), "r1")
	if err != nil {
		t.Fatalf("PermissionKeys: %v", err)
	}
	if len(keys) != 2 || keys[0] != "Workspace.Documents.Read" {
		t.Fatalf("unexpected keys: %v", keys)
	}
}
