package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/livewatch/livewatch/internal/idgen"
	"github.com/livewatch/livewatch/internal/scoring"
	"github.com/livewatch/livewatch/internal/syncutil"
	"github.com/livewatch/livewatch/internal/traces"
	"github.com/livewatch/livewatch/internal/validation"
	"go.opentelemetry.io/otel/codes"
)

// Tracker implements session lifecycle business logic.
type Tracker struct {
	store   Store
	scorer  *scoring.Engine
	watched WatchChecker
	locks   syncutil.ShardedMutex
}

// NewTracker creates a session tracker. The scorer is applied to classified
// chunks at ingestion; the checker gates Start on watchlist membership.
func NewTracker(store Store, scorer *scoring.Engine, watched WatchChecker) *Tracker {
	return &Tracker{
		store:   store,
		scorer:  scorer,
		watched: watched,
	}
}

// Start opens a session for a watched account. externalID is the upstream
// session token; when empty a local ID is generated.
func (t *Tracker) Start(ctx context.Context, handle, externalID string) (_ *LiveSession, retErr error) {
	handle = validation.SanitizeHandle(handle)

	ctx, span := traces.StartSpan(ctx, "session.Start",
		traces.Handle(handle),
		traces.SessionID(externalID),
	)
	defer func() {
		if retErr != nil {
			span.RecordError(retErr)
			span.SetStatus(codes.Error, retErr.Error())
		}
		span.End()
	}()

	if t.watched != nil && !t.watched.IsWatched(ctx, handle) {
		return nil, ErrNotWatched
	}

	unlock := t.locks.Lock(handle)
	defer unlock()

	if existing, err := t.store.GetActiveByHandle(ctx, handle); err == nil && existing != nil {
		return nil, ErrSessionAlreadyActive
	}

	id := externalID
	if id == "" {
		id = idgen.WithPrefix("ses_")
	}

	now := time.Now()
	session := &LiveSession{
		ID:        id,
		Handle:    handle,
		Status:    StatusActive,
		StartTime: now,
		UpdatedAt: now,
	}

	if err := t.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	sessionsStarted.Inc()
	return session, nil
}

// AppendChunk stores one content chunk on an active session. Chunk numbers
// are assigned here and are strictly increasing from 1. A classified chunk is
// scored before storage; an unclassified one is stored without a risk level.
// Appending to an ended or unknown session fails with ErrSessionNotActive.
func (t *Tracker) AppendChunk(ctx context.Context, sessionID string, input ChunkInput) (_ *StreamChunk, _ *LiveSession, retErr error) {
	ctx, span := traces.StartSpan(ctx, "session.AppendChunk",
		traces.SessionID(sessionID),
	)
	defer func() {
		if retErr != nil {
			span.RecordError(retErr)
			span.SetStatus(codes.Error, retErr.Error())
		}
		span.End()
	}()

	unlock := t.locks.Lock(sessionID)
	defer unlock()

	session, err := t.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			// An unknown session cannot accept chunks; callers see the same
			// failure as for an ended one.
			return nil, nil, ErrSessionNotActive
		}
		return nil, nil, err
	}

	if !session.IsActive() {
		return nil, nil, ErrSessionNotActive
	}

	now := time.Now()
	chunk := &StreamChunk{
		SessionID:     sessionID,
		ChunkNumber:   session.LastChunkNumber + 1,
		Transcription: validation.SanitizeString(input.Transcription, validation.MaxStringLength),
		Caption:       validation.SanitizeString(input.Caption, validation.MaxStringLength),
		Justification: validation.SanitizeString(input.Justification, validation.MaxStringLength),
		CreatedAt:     now,
	}

	if input.Classification != nil {
		assessment, err := t.scorer.ScoreContent(*input.Classification)
		if err != nil {
			return nil, nil, err
		}
		score := assessment.CombinedScore
		chunk.RiskLevel = string(assessment.Level)
		chunk.RiskScore = &score
		span.SetAttributes(traces.RiskLevel(chunk.RiskLevel))
	}

	if err := t.store.CreateChunk(ctx, chunk); err != nil {
		return nil, nil, fmt.Errorf("failed to store chunk: %w", err)
	}

	session.LastChunkNumber = chunk.ChunkNumber
	session.UpdatedAt = now

	if err := t.store.UpdateSession(ctx, session); err != nil {
		return nil, nil, fmt.Errorf("failed to update session after chunk: %w", err)
	}

	chunksAppended.Inc()
	span.SetAttributes(traces.ChunkNumber(chunk.ChunkNumber))
	return chunk, session, nil
}

// End closes an active session. Ending an already ended or unknown session is
// a visible failure, not a silent success.
func (t *Tracker) End(ctx context.Context, sessionID, fullVideoURL string) (_ *LiveSession, retErr error) {
	ctx, span := traces.StartSpan(ctx, "session.End",
		traces.SessionID(sessionID),
	)
	defer func() {
		if retErr != nil {
			span.RecordError(retErr)
			span.SetStatus(codes.Error, retErr.Error())
		}
		span.End()
	}()

	unlock := t.locks.Lock(sessionID)
	defer unlock()

	session, err := t.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, ErrSessionNotActive
		}
		return nil, err
	}

	if !session.IsActive() {
		return nil, ErrSessionNotActive
	}

	now := time.Now()
	session.Status = StatusEnded
	session.EndTime = &now
	session.FullVideoURL = fullVideoURL
	session.UpdatedAt = now

	if err := t.store.UpdateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to end session: %w", err)
	}

	sessionsEnded.Inc()
	sessionDuration.Observe(now.Sub(session.StartTime).Seconds())
	return session, nil
}

// MarkNotified latches the notification flag. Returns true only for the call
// that flipped it, so retried end-of-session alerts fire at most once.
func (t *Tracker) MarkNotified(ctx context.Context, sessionID string) (bool, error) {
	unlock := t.locks.Lock(sessionID)
	defer unlock()

	session, err := t.store.GetSession(ctx, sessionID)
	if err != nil {
		return false, err
	}

	if session.NotificationSent {
		return false, nil
	}

	session.NotificationSent = true
	session.UpdatedAt = time.Now()

	if err := t.store.UpdateSession(ctx, session); err != nil {
		return false, fmt.Errorf("failed to mark session notified: %w", err)
	}
	return true, nil
}

// Get returns a session by ID.
func (t *Tracker) Get(ctx context.Context, sessionID string) (*LiveSession, error) {
	return t.store.GetSession(ctx, sessionID)
}

// GetActiveByHandle returns the active session for a handle, if any.
func (t *Tracker) GetActiveByHandle(ctx context.Context, handle string) (*LiveSession, error) {
	return t.store.GetActiveByHandle(ctx, validation.SanitizeHandle(handle))
}

// ListChunks returns a session's chunks in order.
func (t *Tracker) ListChunks(ctx context.Context, sessionID string, limit int) ([]*StreamChunk, error) {
	if limit <= 0 {
		limit = 500
	}
	return t.store.ListChunks(ctx, sessionID, limit)
}

// ListByHandle returns sessions for a handle, newest first.
func (t *Tracker) ListByHandle(ctx context.Context, handle string, limit int) ([]*LiveSession, error) {
	if limit <= 0 {
		limit = 50
	}
	return t.store.ListByHandle(ctx, validation.SanitizeHandle(handle), limit)
}

// ListActive returns all currently active sessions.
func (t *Tracker) ListActive(ctx context.Context) ([]*LiveSession, error) {
	return t.store.ListActive(ctx)
}
