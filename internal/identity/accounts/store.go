// Package accounts keeps operator accounts in SQLite.
package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when no account matches.
	ErrNotFound = errors.New("account not found")
	// ErrDuplicateEmail is returned when an email is already registered.
	ErrDuplicateEmail = errors.New("email already registered")
)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id            TEXT PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE COLLATE NOCASE,
	password_hash TEXT NOT NULL DEFAULT '',
	display_name  TEXT NOT NULL DEFAULT '',
	photo_url     TEXT NOT NULL DEFAULT '',
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS external_links (
	provider   TEXT NOT NULL,
	subject    TEXT NOT NULL,
	account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (provider, subject)
);
`

// Account is a stored operator account.
type Account struct {
	ID           string
	Email        string
	PasswordHash string
	DisplayName  string
	PhotoURL     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// External describes an identity asserted by an OAuth provider.
type External struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	PhotoURL      string
}

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis restores millisecond precision and keeps UTC normalization.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Store implements account persistence over SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the account database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection serializes writers and keeps the pragmas in effect.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Create inserts a new password account and returns it.
func (s *Store) Create(ctx context.Context, email, passwordHash, displayName string) (*Account, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, errors.New("email is required")
	}
	now := s.now()
	account := &Account{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: passwordHash,
		DisplayName:  displayName,
		CreatedAt:    fromMillis(toMillis(now)),
		UpdatedAt:    fromMillis(toMillis(now)),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, email, password_hash, display_name, photo_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, '', ?, ?)`,
		account.ID, account.Email, account.PasswordHash, account.DisplayName, toMillis(now), toMillis(now))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("insert account: %w", err)
	}
	return account, nil
}

// ByEmail looks an account up by email, ignoring case.
func (s *Store) ByEmail(ctx context.Context, email string) (*Account, error) {
	return s.queryOne(ctx, `SELECT id, email, password_hash, display_name, photo_url, created_at, updated_at
		FROM accounts WHERE email = ?`, strings.TrimSpace(email))
}

// ByID looks an account up by id.
func (s *Store) ByID(ctx context.Context, id string) (*Account, error) {
	return s.queryOne(ctx, `SELECT id, email, password_hash, display_name, photo_url, created_at, updated_at
		FROM accounts WHERE id = ?`, id)
}

// UpdateDisplayName sets the display name of account id.
func (s *Store) UpdateDisplayName(ctx context.Context, id, name string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET display_name = ?, updated_at = ? WHERE id = ?`,
		name, toMillis(s.now()), id)
	if err != nil {
		return fmt.Errorf("update display name: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update display name: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// LinkExternal returns the account linked to ext, creating the link (and the
// account) on first sign-in. An existing account with the same email is only
// linked when the provider has verified that email.
func (s *Store) LinkExternal(ctx context.Context, ext External) (*Account, error) {
	if ext.Provider == "" || ext.Subject == "" {
		return nil, errors.New("provider and subject are required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var accountID string
	err = tx.QueryRowContext(ctx,
		`SELECT account_id FROM external_links WHERE provider = ? AND subject = ?`,
		ext.Provider, ext.Subject).Scan(&accountID)
	switch {
	case err == nil:
	case errors.Is(err, sql.ErrNoRows):
		accountID, err = s.linkNew(ctx, tx, ext)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("lookup link: %w", err)
	}

	// Provider profile fills gaps; it never overrides what the operator set.
	_, err = tx.ExecContext(ctx, `
		UPDATE accounts SET
			display_name = CASE WHEN display_name = '' THEN ? ELSE display_name END,
			photo_url = CASE WHEN ? <> '' THEN ? ELSE photo_url END,
			updated_at = ?
		WHERE id = ?`,
		ext.Name, ext.PhotoURL, ext.PhotoURL, toMillis(s.now()), accountID)
	if err != nil {
		return nil, fmt.Errorf("refresh profile: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.ByID(ctx, accountID)
}

func (s *Store) linkNew(ctx context.Context, tx *sql.Tx, ext External) (string, error) {
	now := toMillis(s.now())

	var accountID string
	err := tx.QueryRowContext(ctx, `SELECT id FROM accounts WHERE email = ?`, ext.Email).Scan(&accountID)
	switch {
	case err == nil:
		if !ext.EmailVerified {
			return "", ErrDuplicateEmail
		}
	case errors.Is(err, sql.ErrNoRows):
		accountID = uuid.NewString()
		email := ext.Email
		if email == "" {
			// Accounts need a unique email; synthesize one per external subject.
			email = ext.Subject + "@" + ext.Provider + ".invalid"
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO accounts (id, email, password_hash, display_name, photo_url, created_at, updated_at)
			VALUES (?, ?, '', '', '', ?, ?)`, accountID, email, now, now); err != nil {
			if isUniqueViolation(err) {
				return "", ErrDuplicateEmail
			}
			return "", fmt.Errorf("insert account: %w", err)
		}
	default:
		return "", fmt.Errorf("lookup email: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO external_links (provider, subject, account_id, created_at) VALUES (?, ?, ?, ?)`,
		ext.Provider, ext.Subject, accountID, now); err != nil {
		return "", fmt.Errorf("insert link: %w", err)
	}
	return accountID, nil
}

func (s *Store) queryOne(ctx context.Context, query string, arg any) (*Account, error) {
	var (
		a                    Account
		createdAt, updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&a.ID, &a.Email, &a.PasswordHash, &a.DisplayName, &a.PhotoURL, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query account: %w", err)
	}
	a.CreatedAt = fromMillis(createdAt)
	a.UpdatedAt = fromMillis(updatedAt)
	return &a, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
