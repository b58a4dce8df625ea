// Package watchlist maintains the registry of monitored social-media accounts.
//
// An account must be on the watchlist before sessions can be tracked for it.
// Live and recording flags are mutually constrained: an account can only be
// recording while it is live.
package watchlist

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotWatched     = errors.New("watchlist: account not watched")
	ErrAlreadyWatched = errors.New("watchlist: account already watched")
	ErrNotLive        = errors.New("watchlist: account is not live")
	ErrInvalidHandle  = errors.New("watchlist: invalid handle")
)

// WatchedAccount is a monitored social-media account.
type WatchedAccount struct {
	Handle      string    `json:"handle"` // unique key, normalized lowercase
	DisplayName string    `json:"displayName,omitempty"`
	IsLive      bool      `json:"isLive"`
	IsRecording bool      `json:"isRecording"` // only meaningful while IsLive
	Followers   int       `json:"followers"`
	Following   int       `json:"following"`
	PostCount   int       `json:"postCount"`
	LastUpdated time.Time `json:"lastUpdated"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Stats carries the profile counters refreshed from upstream.
type Stats struct {
	Followers int `json:"followers"`
	Following int `json:"following"`
	PostCount int `json:"postCount"`
}

// Store persists watched accounts.
type Store interface {
	Create(ctx context.Context, account *WatchedAccount) error
	Get(ctx context.Context, handle string) (*WatchedAccount, error)
	Update(ctx context.Context, account *WatchedAccount) error
	Delete(ctx context.Context, handle string) error
	List(ctx context.Context) ([]*WatchedAccount, error)
}
