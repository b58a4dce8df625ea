package notify

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// DefaultSendTimeout bounds how long one slow subscriber can stall a
// broadcast.
const DefaultSendTimeout = 2 * time.Second

// subscriberBuffer is the per-subscriber channel capacity. A subscriber that
// falls this far behind starts eating into the send timeout.
const subscriberBuffer = 64

// Subscriber receives serialized events from the hub. A subscriber with an
// empty session ID receives every event; otherwise only events for that
// session.
type Subscriber struct {
	ch        chan []byte
	sessionID string
	closed    chan struct{}
	closeOnce sync.Once
}

// Events is the subscriber's receive channel.
func (s *Subscriber) Events() <-chan []byte {
	return s.ch
}

// SessionID returns the session filter, empty for global subscribers.
func (s *Subscriber) SessionID() string {
	return s.sessionID
}

// Close marks the subscriber dead. Pending and future sends to it fail
// immediately, and the hub prunes it on the next broadcast that targets it.
// Safe to call multiple times and from any goroutine.
func (s *Subscriber) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// Result reports the outcome of one broadcast.
type Result struct {
	Delivered int `json:"delivered"`
	Pruned    int `json:"pruned"`
}

// Hub fans events out to subscribers. Broadcast is synchronous: it returns
// only after every targeted subscriber was either delivered to or pruned, so
// callers see the true fan-out outcome.
type Hub struct {
	mu       sync.RWMutex
	global   map[*Subscriber]struct{}
	sessions map[string]map[*Subscriber]struct{}
	closed   bool

	timeout time.Duration
	logger  *slog.Logger
}

// NewHub creates a hub. A non-positive timeout falls back to
// DefaultSendTimeout.
func NewHub(logger *slog.Logger, timeout time.Duration) *Hub {
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	return &Hub{
		global:   make(map[*Subscriber]struct{}),
		sessions: make(map[string]map[*Subscriber]struct{}),
		timeout:  timeout,
		logger:   logger,
	}
}

// Subscribe registers a new subscriber. An empty sessionID subscribes to all
// events; otherwise only to events carrying that session ID.
func (h *Hub) Subscribe(sessionID string) (*Subscriber, error) {
	sub := &Subscriber{
		ch:        make(chan []byte, subscriberBuffer),
		sessionID: sessionID,
		closed:    make(chan struct{}),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}

	if sessionID == "" {
		h.global[sub] = struct{}{}
	} else {
		if h.sessions[sessionID] == nil {
			h.sessions[sessionID] = make(map[*Subscriber]struct{})
		}
		h.sessions[sessionID][sub] = struct{}{}
	}

	activeSubscribers.Inc()
	return sub, nil
}

// Unsubscribe removes and closes a subscriber. A second call for the same
// subscriber is a no-op.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	removed := h.remove(sub)
	h.mu.Unlock()

	sub.Close()
	if removed {
		activeSubscribers.Dec()
	}
}

// remove deletes the subscriber from its set. Caller holds h.mu.
func (h *Hub) remove(sub *Subscriber) bool {
	if sub.sessionID == "" {
		if _, ok := h.global[sub]; !ok {
			return false
		}
		delete(h.global, sub)
		return true
	}

	set, ok := h.sessions[sub.sessionID]
	if !ok {
		return false
	}
	if _, ok := set[sub]; !ok {
		return false
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.sessions, sub.sessionID)
	}
	return true
}

// Broadcast delivers the event to all global subscribers plus the event's
// session audience. Subscribers that cannot accept the event within the send
// timeout, or that are already closed, are pruned as part of this same call.
func (h *Hub) Broadcast(event *Event) Result {
	h.mu.RLock()
	targets := make([]*Subscriber, 0, len(h.global))
	for sub := range h.global {
		targets = append(targets, sub)
	}
	if event.SessionID != "" {
		for sub := range h.sessions[event.SessionID] {
			targets = append(targets, sub)
		}
	}
	h.mu.RUnlock()

	return h.deliver(event, targets)
}

// BroadcastGlobal delivers the event to the global subscriber set only.
func (h *Hub) BroadcastGlobal(event *Event) Result {
	h.mu.RLock()
	targets := make([]*Subscriber, 0, len(h.global))
	for sub := range h.global {
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	return h.deliver(event, targets)
}

// BroadcastToSession delivers the event to that session's subscribers only.
// A session with no subscribers is a no-op, not an error.
func (h *Hub) BroadcastToSession(sessionID string, event *Event) Result {
	event.SessionID = sessionID

	h.mu.RLock()
	targets := make([]*Subscriber, 0, len(h.sessions[sessionID]))
	for sub := range h.sessions[sessionID] {
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	return h.deliver(event, targets)
}

// deliver serializes the event and attempts delivery to each target. The
// target snapshot is taken by the caller before any send, so subscribers
// arriving mid-broadcast are not guaranteed this event.
func (h *Hub) deliver(event *Event, targets []*Subscriber) Result {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to serialize event", "type", event.Type, "error", err)
		return Result{}
	}

	var result Result
	var dead []*Subscriber
	for _, sub := range targets {
		if h.send(sub, payload) {
			result.Delivered++
		} else {
			dead = append(dead, sub)
		}
	}

	if len(dead) > 0 {
		h.mu.Lock()
		for _, sub := range dead {
			if h.remove(sub) {
				result.Pruned++
				activeSubscribers.Dec()
			}
			sub.Close()
		}
		h.mu.Unlock()
	}

	eventsBroadcast.WithLabelValues(string(event.Type)).Inc()
	eventsDelivered.Add(float64(result.Delivered))
	if result.Pruned > 0 {
		subscribersPruned.Add(float64(result.Pruned))
		h.logger.Warn("pruned unresponsive subscribers",
			"type", event.Type,
			"pruned", result.Pruned,
			"delivered", result.Delivered,
		)
	}

	return result
}

// send attempts delivery to one subscriber within the hub timeout.
func (h *Hub) send(sub *Subscriber, payload []byte) bool {
	select {
	case <-sub.closed:
		return false
	default:
	}

	timer := time.NewTimer(h.timeout)
	defer timer.Stop()

	select {
	case sub.ch <- payload:
		return true
	case <-sub.closed:
		return false
	case <-timer.C:
		return false
	}
}

// SubscriberCount returns the current number of subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := len(h.global)
	for _, set := range h.sessions {
		n += len(set)
	}
	return n
}

// Close shuts the hub down. All subscribers are closed, and subsequent
// Subscribe calls fail with ErrHubClosed. Broadcast after Close delivers to
// nobody.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	for sub := range h.global {
		sub.Close()
		delete(h.global, sub)
		activeSubscribers.Dec()
	}
	for id, set := range h.sessions {
		for sub := range set {
			sub.Close()
			activeSubscribers.Dec()
		}
		delete(h.sessions, id)
	}

	h.logger.Info("notification hub closed")
}
