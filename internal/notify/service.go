package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/livewatch/livewatch/internal/idgen"
)

// Service combines the real-time hub with the persistent feed. Publish does
// both: the event goes out to live subscribers and a feed entry is written
// for anyone not connected at the time.
type Service struct {
	hub   *Hub
	store Store
}

// NewService creates a notification service.
func NewService(hub *Hub, store Store) *Service {
	return &Service{hub: hub, store: store}
}

// Hub exposes the underlying hub for WebSocket wiring.
func (s *Service) Hub() *Hub {
	return s.hub
}

// Publish broadcasts the event and persists a feed notification. The
// broadcast result is returned even when persistence fails; live delivery
// already happened and is not undone.
func (s *Service) Publish(ctx context.Context, event *Event, detail string) (Result, error) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	result := s.hub.Broadcast(event)

	n := &Notification{
		ID:        idgen.WithPrefix("ntf_"),
		Handle:    event.AccountHandle,
		Status:    string(event.Type),
		Detail:    detail,
		SessionID: event.SessionID,
		IsNew:     true,
		CreatedAt: event.Timestamp,
	}
	if err := s.store.Create(ctx, n); err != nil {
		return result, fmt.Errorf("failed to persist notification: %w", err)
	}

	notificationsRecorded.Inc()
	return result, nil
}

// List returns the newest feed entries.
func (s *Service) List(ctx context.Context, limit int) ([]*Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.List(ctx, limit)
}

// Ack marks one notification as read.
func (s *Service) Ack(ctx context.Context, id string) error {
	return s.store.MarkRead(ctx, id)
}
