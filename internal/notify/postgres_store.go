package notify

import (
	"context"
	"database/sql"
)

// PostgresStore persists notifications in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed notification store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the notifications table if it doesn't exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS notifications (
			id           VARCHAR(36) PRIMARY KEY,
			handle       VARCHAR(64) NOT NULL,
			display_name VARCHAR(255),
			status       VARCHAR(32) NOT NULL,
			detail       TEXT,
			session_id   VARCHAR(128),
			image_url    TEXT,
			is_new       BOOLEAN NOT NULL DEFAULT TRUE,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_notifications_created ON notifications(created_at DESC);
	`)
	return err
}

func (p *PostgresStore) Create(ctx context.Context, n *Notification) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO notifications (
			id, handle, display_name, status, detail,
			session_id, image_url, is_new, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		n.ID, n.Handle, nullString(n.DisplayName), n.Status, nullString(n.Detail),
		nullString(n.SessionID), nullString(n.ImageURL), n.IsNew, n.CreatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Notification, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, handle, display_name, status, detail,
		       session_id, image_url, is_new, created_at
		FROM notifications WHERE id = $1`, id)

	n, err := scanNotification(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotificationNotFound
	}
	return n, err
}

func (p *PostgresStore) List(ctx context.Context, limit int) ([]*Notification, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, handle, display_name, status, detail,
		       session_id, image_url, is_new, created_at
		FROM notifications
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	return result, rows.Err()
}

func (p *PostgresStore) MarkRead(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx,
		`UPDATE notifications SET is_new = FALSE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanNotification(sc scanner) (*Notification, error) {
	n := &Notification{}
	var displayName, detail, sessionID, imageURL sql.NullString

	err := sc.Scan(
		&n.ID, &n.Handle, &displayName, &n.Status, &detail,
		&sessionID, &imageURL, &n.IsNew, &n.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	n.DisplayName = displayName.String
	n.Detail = detail.String
	n.SessionID = sessionID.String
	n.ImageURL = imageURL.String

	return n, nil
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
