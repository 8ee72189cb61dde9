// Package pg implements [store.Store] on PostgreSQL via pgx. Conditional
// mutations are expressed as conditional UPDATEs so concurrent callers
// race in the database, not in the process.
package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/authsmith/authcore/store"
)

// Store is a PostgreSQL-backed [store.Store].
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an existing connection pool. The caller owns the pool's
// lifecycle.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect opens a pool from a connection string and pings it.
func Connect(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("pg: %w: %v", store.ErrUnavailable, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg: %w: %v", store.ErrUnavailable, err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	if err != nil {
		return wrapErr(err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
    id            TEXT PRIMARY KEY,
    email         TEXT NOT NULL UNIQUE,
    username      TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    active        BOOLEAN NOT NULL DEFAULT TRUE,
    verified      BOOLEAN NOT NULL DEFAULT FALSE,
    superuser     BOOLEAN NOT NULL DEFAULT FALSE,
    created_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
    id                 TEXT PRIMARY KEY,
    account_id         TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
    token_hash         BYTEA NOT NULL UNIQUE,
    refresh_token_hash BYTEA NOT NULL,
    device_info        TEXT NOT NULL DEFAULT '',
    ip                 TEXT NOT NULL DEFAULT '',
    active             BOOLEAN NOT NULL DEFAULT TRUE,
    created_at         TIMESTAMPTZ NOT NULL,
    expires_at         TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS sessions_account_idx ON sessions (account_id) WHERE active;

CREATE TABLE IF NOT EXISTS mfa_enrollments (
    account_id TEXT PRIMARY KEY REFERENCES accounts(id) ON DELETE CASCADE,
    secret     BYTEA NOT NULL,
    enabled    BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS backup_codes (
    account_id TEXT NOT NULL REFERENCES mfa_enrollments(account_id) ON DELETE CASCADE,
    code_hash  BYTEA NOT NULL,
    PRIMARY KEY (account_id, code_hash)
);

CREATE TABLE IF NOT EXISTS reset_tokens (
    id         TEXT PRIMARY KEY,
    account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
    token_hash BYTEA NOT NULL UNIQUE,
    used       BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS api_keys (
    id         TEXT PRIMARY KEY,
    account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
    name       TEXT NOT NULL,
    key_hash   BYTEA NOT NULL UNIQUE,
    scopes     TEXT[] NOT NULL DEFAULT '{}',
    active     BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS api_keys_account_idx ON api_keys (account_id);
`

func (s *Store) CreateAccount(ctx context.Context, a *store.Account) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (id, email, username, password_hash, active, verified, superuser, created_at)
		 VALUES ($1, lower($2), $3, $4, $5, $6, $7, $8)`,
		a.ID, a.Email, a.Username, a.PasswordHash, a.Active, a.Verified, a.Superuser, a.CreatedAt)
	return wrapErr(err)
}

func (s *Store) AccountByIdentifier(ctx context.Context, identifier string) (*store.Account, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, email, username, password_hash, active, verified, superuser, created_at
		 FROM accounts WHERE email = lower($1) OR username = $1`,
		identifier)
	return scanAccount(row)
}

func (s *Store) AccountByID(ctx context.Context, id string) (*store.Account, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, email, username, password_hash, active, verified, superuser, created_at
		 FROM accounts WHERE id = $1`,
		id)
	return scanAccount(row)
}

func (s *Store) UpdatePasswordHash(ctx context.Context, accountID, newHash string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE accounts SET password_hash = $2 WHERE id = $1`,
		accountID, newHash)
	if err != nil {
		return wrapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) SetAccountActive(ctx context.Context, accountID string, active bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE accounts SET active = $2 WHERE id = $1`,
		accountID, active)
	if err != nil {
		return wrapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) SetAccountVerified(ctx context.Context, accountID string, verified bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE accounts SET verified = $2 WHERE id = $1`,
		accountID, verified)
	if err != nil {
		return wrapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateSession(ctx context.Context, sess *store.Session) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (id, account_id, token_hash, refresh_token_hash, device_info, ip, active, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		sess.ID, sess.AccountID, sess.TokenHash[:], sess.RefreshTokenHash[:],
		sess.DeviceInfo, sess.IP, sess.Active, sess.CreatedAt, sess.ExpiresAt)
	return wrapErr(err)
}

func (s *Store) SessionByTokenHash(ctx context.Context, tokenHash [32]byte) (*store.Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, account_id, token_hash, refresh_token_hash, device_info, ip, active, created_at, expires_at
		 FROM sessions WHERE token_hash = $1`,
		tokenHash[:])

	var sess store.Session
	var th, rth []byte
	err := row.Scan(&sess.ID, &sess.AccountID, &th, &rth,
		&sess.DeviceInfo, &sess.IP, &sess.Active, &sess.CreatedAt, &sess.ExpiresAt)
	if err != nil {
		return nil, wrapErr(err)
	}
	copy(sess.TokenHash[:], th)
	copy(sess.RefreshTokenHash[:], rth)
	return &sess, nil
}

func (s *Store) RevokeSession(ctx context.Context, tokenHash [32]byte) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET active = FALSE WHERE token_hash = $1 AND active`,
		tokenHash[:])
	if err != nil {
		return false, wrapErr(err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) RevokeAccountSessions(ctx context.Context, accountID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE sessions SET active = FALSE WHERE account_id = $1 AND active`,
		accountID)
	return wrapErr(err)
}

func (s *Store) MFAEnrollment(ctx context.Context, accountID string) (*store.MFAEnrollment, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT account_id, secret, enabled, created_at
		 FROM mfa_enrollments WHERE account_id = $1`,
		accountID)

	var e store.MFAEnrollment
	if err := row.Scan(&e.AccountID, &e.Secret, &e.Enabled, &e.CreatedAt); err != nil {
		return nil, wrapErr(err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT code_hash FROM backup_codes WHERE account_id = $1`,
		accountID)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, wrapErr(err)
		}
		var h [32]byte
		copy(h[:], raw)
		e.BackupCodeHashes = append(e.BackupCodeHashes, h)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(err)
	}

	return &e, nil
}

func (s *Store) SaveMFAEnrollment(ctx context.Context, e *store.MFAEnrollment) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO mfa_enrollments (account_id, secret, enabled, created_at)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (account_id)
			 DO UPDATE SET secret = EXCLUDED.secret, enabled = EXCLUDED.enabled, created_at = EXCLUDED.created_at`,
			e.AccountID, e.Secret, e.Enabled, e.CreatedAt)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `DELETE FROM backup_codes WHERE account_id = $1`, e.AccountID); err != nil {
			return err
		}
		for _, h := range e.BackupCodeHashes {
			if _, err := tx.Exec(ctx,
				`INSERT INTO backup_codes (account_id, code_hash) VALUES ($1, $2)`,
				e.AccountID, h[:]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) SetMFAEnabled(ctx context.Context, accountID string, enabled bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE mfa_enrollments SET enabled = $2 WHERE account_id = $1`,
		accountID, enabled)
	if err != nil {
		return wrapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ReplaceBackupCodes(ctx context.Context, accountID string, hashes [][32]byte) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		var exists bool
		err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM mfa_enrollments WHERE account_id = $1)`,
			accountID).Scan(&exists)
		if err != nil {
			return err
		}
		if !exists {
			return store.ErrNotFound
		}

		if _, err := tx.Exec(ctx, `DELETE FROM backup_codes WHERE account_id = $1`, accountID); err != nil {
			return err
		}
		for _, h := range hashes {
			if _, err := tx.Exec(ctx,
				`INSERT INTO backup_codes (account_id, code_hash) VALUES ($1, $2)`,
				accountID, h[:]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) ConsumeBackupCode(ctx context.Context, accountID string, hash [32]byte) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM mfa_enrollments WHERE account_id = $1)`,
		accountID).Scan(&exists)
	if err != nil {
		return false, wrapErr(err)
	}
	if !exists {
		return false, store.ErrNotFound
	}

	// DELETE's row count decides the race: exactly one concurrent caller
	// sees RowsAffected == 1.
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM backup_codes WHERE account_id = $1 AND code_hash = $2`,
		accountID, hash[:])
	if err != nil {
		return false, wrapErr(err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) CreateResetToken(ctx context.Context, t *store.ResetToken) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO reset_tokens (id, account_id, token_hash, used, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.AccountID, t.TokenHash[:], t.Used, t.CreatedAt, t.ExpiresAt)
	return wrapErr(err)
}

func (s *Store) RedeemResetToken(ctx context.Context, tokenHash [32]byte, newPasswordHash string, now time.Time) (string, error) {
	var accountID string
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`UPDATE reset_tokens SET used = TRUE
			 WHERE token_hash = $1 AND NOT used AND expires_at > $2
			 RETURNING account_id`,
			tokenHash[:], now).Scan(&accountID)
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`UPDATE accounts SET password_hash = $2 WHERE id = $1`,
			accountID, newPasswordHash)
		return err
	})
	if err != nil {
		return "", err
	}
	return accountID, nil
}

func (s *Store) CreateAPIKey(ctx context.Context, k *store.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, account_id, name, key_hash, scopes, active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		k.ID, k.AccountID, k.Name, k.KeyHash[:], k.Scopes, k.Active, k.CreatedAt)
	return wrapErr(err)
}

func (s *Store) APIKeysByAccount(ctx context.Context, accountID string) ([]store.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, account_id, name, key_hash, scopes, active, created_at
		 FROM api_keys WHERE account_id = $1 ORDER BY created_at`,
		accountID)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []store.APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, wrapErr(err)
		}
		out = append(out, *k)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(err)
	}
	return out, nil
}

func (s *Store) APIKeyByHash(ctx context.Context, keyHash [32]byte) (*store.APIKey, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, account_id, name, key_hash, scopes, active, created_at
		 FROM api_keys WHERE key_hash = $1`,
		keyHash[:])
	k, err := scanAPIKey(row)
	if err != nil {
		return nil, wrapErr(err)
	}
	return k, nil
}

func (s *Store) RevokeAPIKey(ctx context.Context, accountID, keyID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET active = FALSE WHERE id = $1 AND account_id = $2 AND active`,
		keyID, accountID)
	if err != nil {
		return false, wrapErr(err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return wrapErr(err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return err
		}
		return wrapErr(err)
	}
	return wrapErr(tx.Commit(ctx))
}

func scanAccount(row pgx.Row) (*store.Account, error) {
	var a store.Account
	err := row.Scan(&a.ID, &a.Email, &a.Username, &a.PasswordHash, &a.Active, &a.Verified, &a.Superuser, &a.CreatedAt)
	if err != nil {
		return nil, wrapErr(err)
	}
	return &a, nil
}

func scanAPIKey(row pgx.Row) (*store.APIKey, error) {
	var k store.APIKey
	var kh []byte
	err := row.Scan(&k.ID, &k.AccountID, &k.Name, &kh, &k.Scopes, &k.Active, &k.CreatedAt)
	if err != nil {
		return nil, err
	}
	copy(k.KeyHash[:], kh)
	return &k, nil
}

// wrapErr maps pgx failures onto the store sentinels.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return store.ErrDuplicate
	}

	return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
}
