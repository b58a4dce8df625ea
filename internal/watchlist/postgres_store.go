package watchlist

import (
	"context"
	"database/sql"
	"strings"
)

// PostgresStore persists watched accounts in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed watchlist store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the watched_accounts table if it doesn't exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS watched_accounts (
			handle        VARCHAR(64) PRIMARY KEY,
			display_name  VARCHAR(255),
			is_live       BOOLEAN NOT NULL DEFAULT FALSE,
			is_recording  BOOLEAN NOT NULL DEFAULT FALSE,
			followers     BIGINT NOT NULL DEFAULT 0,
			following     BIGINT NOT NULL DEFAULT 0,
			post_count    BIGINT NOT NULL DEFAULT 0,
			last_updated  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_watched_accounts_live ON watched_accounts(is_live);
	`)
	return err
}

func (p *PostgresStore) Create(ctx context.Context, a *WatchedAccount) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO watched_accounts (
			handle, display_name, is_live, is_recording,
			followers, following, post_count, last_updated, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.Handle, nullString(a.DisplayName), a.IsLive, a.IsRecording,
		a.Followers, a.Following, a.PostCount, a.LastUpdated, a.CreatedAt,
	)
	if err != nil && strings.Contains(err.Error(), "duplicate key") {
		return ErrAlreadyWatched
	}
	return err
}

func (p *PostgresStore) Get(ctx context.Context, handle string) (*WatchedAccount, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT handle, display_name, is_live, is_recording,
		       followers, following, post_count, last_updated, created_at
		FROM watched_accounts WHERE handle = $1`, handle)

	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotWatched
	}
	return a, err
}

func (p *PostgresStore) Update(ctx context.Context, a *WatchedAccount) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE watched_accounts SET
			display_name = $1, is_live = $2, is_recording = $3,
			followers = $4, following = $5, post_count = $6, last_updated = $7
		WHERE handle = $8`,
		nullString(a.DisplayName), a.IsLive, a.IsRecording,
		a.Followers, a.Following, a.PostCount, a.LastUpdated,
		a.Handle,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotWatched
	}
	return nil
}

func (p *PostgresStore) Delete(ctx context.Context, handle string) error {
	result, err := p.db.ExecContext(ctx, `
		DELETE FROM watched_accounts WHERE handle = $1`, handle)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotWatched
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context) ([]*WatchedAccount, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT handle, display_name, is_live, is_recording,
		       followers, following, post_count, last_updated, created_at
		FROM watched_accounts
		ORDER BY handle ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*WatchedAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(sc scanner) (*WatchedAccount, error) {
	a := &WatchedAccount{}
	var displayName sql.NullString

	err := sc.Scan(
		&a.Handle, &displayName, &a.IsLive, &a.IsRecording,
		&a.Followers, &a.Following, &a.PostCount, &a.LastUpdated, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.DisplayName = displayName.String
	return a, nil
}

// nullString converts an empty Go string to sql.NullString.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
