package watchlist

import (
	"context"
	"fmt"
	"time"

	"github.com/livewatch/livewatch/internal/syncutil"
	"github.com/livewatch/livewatch/internal/validation"
)

// Registry implements watchlist business logic over a Store.
type Registry struct {
	store Store
	locks syncutil.ShardedMutex
}

// NewRegistry creates a new watchlist registry.
func NewRegistry(store Store) *Registry {
	return &Registry{store: store}
}

// Add registers an account for monitoring.
func (r *Registry) Add(ctx context.Context, handle, displayName string) (*WatchedAccount, error) {
	handle = validation.SanitizeHandle(handle)
	if !validation.IsValidHandle(handle) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidHandle, handle)
	}

	unlock := r.locks.Lock(handle)
	defer unlock()

	if _, err := r.store.Get(ctx, handle); err == nil {
		return nil, ErrAlreadyWatched
	}

	now := time.Now()
	account := &WatchedAccount{
		Handle:      handle,
		DisplayName: validation.SanitizeString(displayName, 100),
		LastUpdated: now,
		CreatedAt:   now,
	}

	if err := r.store.Create(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to create watchlist entry: %w", err)
	}

	accountsAdded.Inc()
	return account, nil
}

// Remove takes an account off the watchlist.
func (r *Registry) Remove(ctx context.Context, handle string) error {
	handle = validation.SanitizeHandle(handle)

	unlock := r.locks.Lock(handle)
	defer unlock()

	if err := r.store.Delete(ctx, handle); err != nil {
		return err
	}

	accountsRemoved.Inc()
	return nil
}

// SetLiveStatus flips the live flag. Going offline clears the recording flag
// but leaves any active session untouched; closing sessions is the
// orchestrator's job.
func (r *Registry) SetLiveStatus(ctx context.Context, handle string, isLive bool) (*WatchedAccount, error) {
	handle = validation.SanitizeHandle(handle)

	unlock := r.locks.Lock(handle)
	defer unlock()

	account, err := r.store.Get(ctx, handle)
	if err != nil {
		return nil, err
	}

	account.IsLive = isLive
	if !isLive {
		account.IsRecording = false
	}
	account.LastUpdated = time.Now()

	if err := r.store.Update(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to update live status: %w", err)
	}

	liveStatusChanges.WithLabelValues(boolLabel(isLive)).Inc()
	return account, nil
}

// SetRecording flips the recording flag. Recording requires the account to be
// live.
func (r *Registry) SetRecording(ctx context.Context, handle string, isRecording bool) (*WatchedAccount, error) {
	handle = validation.SanitizeHandle(handle)

	unlock := r.locks.Lock(handle)
	defer unlock()

	account, err := r.store.Get(ctx, handle)
	if err != nil {
		return nil, err
	}

	if isRecording && !account.IsLive {
		return nil, ErrNotLive
	}

	account.IsRecording = isRecording
	account.LastUpdated = time.Now()

	if err := r.store.Update(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to update recording flag: %w", err)
	}

	return account, nil
}

// RefreshStats upserts profile counters. The poller can observe an account
// before an operator adds it, so a missing record is created rather than
// rejected.
func (r *Registry) RefreshStats(ctx context.Context, handle string, stats Stats) (*WatchedAccount, error) {
	handle = validation.SanitizeHandle(handle)
	if !validation.IsValidHandle(handle) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidHandle, handle)
	}

	unlock := r.locks.Lock(handle)
	defer unlock()

	now := time.Now()
	account, err := r.store.Get(ctx, handle)
	if err != nil {
		account = &WatchedAccount{
			Handle:    handle,
			CreatedAt: now,
		}
		account.Followers = stats.Followers
		account.Following = stats.Following
		account.PostCount = stats.PostCount
		account.LastUpdated = now
		if err := r.store.Create(ctx, account); err != nil {
			return nil, fmt.Errorf("failed to upsert watchlist entry: %w", err)
		}
		accountsAdded.Inc()
		return account, nil
	}

	account.Followers = stats.Followers
	account.Following = stats.Following
	account.PostCount = stats.PostCount
	account.LastUpdated = now

	if err := r.store.Update(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to refresh stats: %w", err)
	}

	return account, nil
}

// Get returns a single watched account.
func (r *Registry) Get(ctx context.Context, handle string) (*WatchedAccount, error) {
	return r.store.Get(ctx, validation.SanitizeHandle(handle))
}

// List returns a snapshot of all watched accounts ordered by handle.
func (r *Registry) List(ctx context.Context) ([]*WatchedAccount, error) {
	return r.store.List(ctx)
}

// IsWatched reports whether an account is on the watchlist.
func (r *Registry) IsWatched(ctx context.Context, handle string) bool {
	_, err := r.store.Get(ctx, validation.SanitizeHandle(handle))
	return err == nil
}

func boolLabel(b bool) string {
	if b {
		return "live"
	}
	return "offline"
}
