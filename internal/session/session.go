// Package session tracks live broadcast sessions and their content chunks.
//
// Lifecycle:
//  1. Account goes live → session starts (at most one active per handle)
//  2. Content chunks arrive → appended with strictly increasing numbers from 1
//  3. Account goes offline → session ends (terminal; sessions are never deleted)
//
// An ended session keeps its chunks; a new broadcast for the same handle gets
// a fresh session.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/livewatch/livewatch/internal/scoring"
)

var (
	ErrSessionNotFound      = errors.New("session: not found")
	ErrSessionNotActive     = errors.New("session: not active")
	ErrSessionAlreadyActive = errors.New("session: an active session already exists for this handle")
	ErrNotWatched           = errors.New("session: account not watched")
)

// Status represents the state of a live session.
type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// LiveSession represents one broadcast by a watched account.
type LiveSession struct {
	ID               string     `json:"id"` // opaque upstream token, or generated when absent
	Handle           string     `json:"handle"`
	Status           Status     `json:"status"`
	StartTime        time.Time  `json:"startTime"`
	EndTime          *time.Time `json:"endTime,omitempty"`
	LastChunkNumber  int        `json:"lastChunkNumber"` // 0 until the first chunk arrives
	NotificationSent bool       `json:"notificationSent"`
	FullVideoURL     string     `json:"fullVideoUrl,omitempty"` // set when the session ends
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// IsActive reports whether the session still accepts chunks.
func (s *LiveSession) IsActive() bool {
	return s.Status == StatusActive
}

// StreamChunk is one increment of content captured during a session.
// Identity is (SessionID, ChunkNumber).
type StreamChunk struct {
	SessionID     string    `json:"sessionId"`
	ChunkNumber   int       `json:"chunkNumber"` // starts at 1, strictly increasing
	Transcription string    `json:"transcription,omitempty"`
	Caption       string    `json:"caption,omitempty"`
	Justification string    `json:"justification,omitempty"`
	RiskLevel     string    `json:"riskLevel,omitempty"` // empty until scored
	RiskScore     *float64  `json:"riskScore,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// ChunkInput is the ingestion payload for one chunk. Classification is a
// tagged variant: nil means the chunk arrived unclassified and is stored
// without a risk level.
type ChunkInput struct {
	Transcription  string                  `json:"transcription"`
	Caption        string                  `json:"caption"`
	Justification  string                  `json:"justification"`
	Classification *scoring.Classification `json:"classification,omitempty"`
}

// Store persists sessions and chunks.
type Store interface {
	CreateSession(ctx context.Context, session *LiveSession) error
	GetSession(ctx context.Context, id string) (*LiveSession, error)
	UpdateSession(ctx context.Context, session *LiveSession) error
	GetActiveByHandle(ctx context.Context, handle string) (*LiveSession, error)
	ListByHandle(ctx context.Context, handle string, limit int) ([]*LiveSession, error)
	ListActive(ctx context.Context) ([]*LiveSession, error)

	CreateChunk(ctx context.Context, chunk *StreamChunk) error
	ListChunks(ctx context.Context, sessionID string, limit int) ([]*StreamChunk, error)
}

// WatchChecker is satisfied by the watchlist registry; sessions can only be
// started for watched accounts.
type WatchChecker interface {
	IsWatched(ctx context.Context, handle string) bool
}
