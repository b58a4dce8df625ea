// Package notify fans live monitoring events out to subscribers and keeps a
// persistent notification feed for operators.
//
// The hub delivers events to WebSocket clients; the store keeps the feed that
// survives reconnects. An event about a session reaches both global
// subscribers and the session's own audience.
package notify

import (
	"context"
	"errors"
	"time"
)

var (
	ErrHubClosed            = errors.New("notify: hub closed")
	ErrNotificationNotFound = errors.New("notify: notification not found")
)

// EventType identifies what happened.
type EventType string

const (
	EventSessionStarted EventType = "session_started"
	EventSessionEnded   EventType = "session_ended"
	EventChunkScored    EventType = "chunk_scored"
	EventStatsRefreshed EventType = "stats_refreshed"
)

// Event is one real-time message pushed to subscribers.
type Event struct {
	Type          EventType   `json:"type"`
	AccountHandle string      `json:"accountHandle"`
	SessionID     string      `json:"sessionId,omitempty"`
	RiskLevel     string      `json:"riskLevel,omitempty"`
	Payload       interface{} `json:"payload,omitempty"`
	Timestamp     time.Time   `json:"timestamp"`
}

// Notification is a persisted feed entry. Unlike Events, notifications
// survive reconnects and are acknowledged individually.
type Notification struct {
	ID          string    `json:"id"`
	Handle      string    `json:"handle"`
	DisplayName string    `json:"displayName,omitempty"`
	Status      string    `json:"status"` // mirrors the EventType that produced it
	Detail      string    `json:"detail,omitempty"`
	SessionID   string    `json:"sessionId,omitempty"`
	ImageURL    string    `json:"imageUrl,omitempty"`
	IsNew       bool      `json:"isNew"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Store persists the notification feed.
type Store interface {
	Create(ctx context.Context, n *Notification) error
	Get(ctx context.Context, id string) (*Notification, error)
	List(ctx context.Context, limit int) ([]*Notification, error)
	MarkRead(ctx context.Context, id string) error
}
