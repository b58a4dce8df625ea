package session

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// PostgresStore persists sessions and chunks in PostgreSQL. A partial unique
// index on (handle) WHERE status = 'active' backs the one-active-session
// invariant at the storage layer.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed session store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the live_sessions and stream_chunks tables if they don't
// exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS live_sessions (
			id                 VARCHAR(128) PRIMARY KEY,
			handle             VARCHAR(64) NOT NULL,
			status             VARCHAR(20) NOT NULL DEFAULT 'active',
			start_time         TIMESTAMPTZ NOT NULL,
			end_time           TIMESTAMPTZ,
			last_chunk_number  INTEGER NOT NULL DEFAULT 0,
			notification_sent  BOOLEAN NOT NULL DEFAULT FALSE,
			full_video_url     TEXT,
			updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_live_sessions_one_active
			ON live_sessions(handle) WHERE status = 'active';
		CREATE INDEX IF NOT EXISTS idx_live_sessions_handle ON live_sessions(handle);

		CREATE TABLE IF NOT EXISTS stream_chunks (
			session_id     VARCHAR(128) NOT NULL REFERENCES live_sessions(id),
			chunk_number   INTEGER NOT NULL,
			transcription  TEXT,
			caption        TEXT,
			justification  TEXT,
			risk_level     VARCHAR(20),
			risk_score     DOUBLE PRECISION,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (session_id, chunk_number)
		);
	`)
	return err
}

func (p *PostgresStore) CreateSession(ctx context.Context, s *LiveSession) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO live_sessions (
			id, handle, status, start_time, end_time,
			last_chunk_number, notification_sent, full_video_url, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		s.ID, s.Handle, string(s.Status), s.StartTime, nullTime(s.EndTime),
		s.LastChunkNumber, s.NotificationSent, nullString(s.FullVideoURL), s.UpdatedAt,
	)
	if err != nil && strings.Contains(err.Error(), "unique constraint") {
		return ErrSessionAlreadyActive
	}
	return err
}

func (p *PostgresStore) GetSession(ctx context.Context, id string) (*LiveSession, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, handle, status, start_time, end_time,
		       last_chunk_number, notification_sent, full_video_url, updated_at
		FROM live_sessions WHERE id = $1`, id)

	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	return s, err
}

func (p *PostgresStore) UpdateSession(ctx context.Context, s *LiveSession) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE live_sessions SET
			status = $1, end_time = $2, last_chunk_number = $3,
			notification_sent = $4, full_video_url = $5, updated_at = $6
		WHERE id = $7`,
		string(s.Status), nullTime(s.EndTime), s.LastChunkNumber,
		s.NotificationSent, nullString(s.FullVideoURL), s.UpdatedAt,
		s.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (p *PostgresStore) GetActiveByHandle(ctx context.Context, handle string) (*LiveSession, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, handle, status, start_time, end_time,
		       last_chunk_number, notification_sent, full_video_url, updated_at
		FROM live_sessions
		WHERE handle = $1 AND status = 'active'`, handle)

	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	return s, err
}

func (p *PostgresStore) ListByHandle(ctx context.Context, handle string, limit int) ([]*LiveSession, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, handle, status, start_time, end_time,
		       last_chunk_number, notification_sent, full_video_url, updated_at
		FROM live_sessions
		WHERE handle = $1
		ORDER BY start_time DESC
		LIMIT $2`, handle, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanSessions(rows)
}

func (p *PostgresStore) ListActive(ctx context.Context) ([]*LiveSession, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, handle, status, start_time, end_time,
		       last_chunk_number, notification_sent, full_video_url, updated_at
		FROM live_sessions
		WHERE status = 'active'
		ORDER BY handle ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanSessions(rows)
}

func (p *PostgresStore) CreateChunk(ctx context.Context, c *StreamChunk) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO stream_chunks (
			session_id, chunk_number, transcription, caption,
			justification, risk_level, risk_score, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.SessionID, c.ChunkNumber, nullString(c.Transcription), nullString(c.Caption),
		nullString(c.Justification), nullString(c.RiskLevel), nullFloat(c.RiskScore), c.CreatedAt,
	)
	return err
}

func (p *PostgresStore) ListChunks(ctx context.Context, sessionID string, limit int) ([]*StreamChunk, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT session_id, chunk_number, transcription, caption,
		       justification, risk_level, risk_score, created_at
		FROM stream_chunks
		WHERE session_id = $1
		ORDER BY chunk_number ASC
		LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*StreamChunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// --- scanners ---

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(sc scanner) (*LiveSession, error) {
	s := &LiveSession{}
	var (
		status       string
		endTime      sql.NullTime
		fullVideoURL sql.NullString
	)

	err := sc.Scan(
		&s.ID, &s.Handle, &status, &s.StartTime, &endTime,
		&s.LastChunkNumber, &s.NotificationSent, &fullVideoURL, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.Status = Status(status)
	s.FullVideoURL = fullVideoURL.String
	if endTime.Valid {
		s.EndTime = &endTime.Time
	}

	return s, nil
}

func scanSessions(rows *sql.Rows) ([]*LiveSession, error) {
	var result []*LiveSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

func scanChunk(sc scanner) (*StreamChunk, error) {
	c := &StreamChunk{}
	var (
		transcription sql.NullString
		caption       sql.NullString
		justification sql.NullString
		riskLevel     sql.NullString
		riskScore     sql.NullFloat64
	)

	err := sc.Scan(
		&c.SessionID, &c.ChunkNumber, &transcription, &caption,
		&justification, &riskLevel, &riskScore, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Transcription = transcription.String
	c.Caption = caption.String
	c.Justification = justification.String
	c.RiskLevel = riskLevel.String
	if riskScore.Valid {
		c.RiskScore = &riskScore.Float64
	}

	return c, nil
}

// nullString converts an empty Go string to sql.NullString.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullTime converts a *time.Time to sql.NullTime.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// nullFloat converts a *float64 to sql.NullFloat64.
func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
