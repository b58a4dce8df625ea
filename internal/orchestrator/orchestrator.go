// Package orchestrator drives the monitoring pipeline. It polls an upstream
// source for account activity and turns the raw events into watchlist
// updates, session lifecycle changes, and subscriber notifications.
//
// Events for the same handle are processed in order on a single worker;
// events for different handles run in parallel.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/livewatch/livewatch/internal/notify"
	"github.com/livewatch/livewatch/internal/session"
	"github.com/livewatch/livewatch/internal/watchlist"
)

var ErrStopped = errors.New("orchestrator: stopped")

// EventKind identifies what the poller observed.
type EventKind string

const (
	AccountLive    EventKind = "account_live"
	AccountOffline EventKind = "account_offline"
	ChunkAvailable EventKind = "chunk_available"
	StatsRefreshed EventKind = "stats_refreshed"
)

// Event is one observation from the upstream source.
type Event struct {
	Kind      EventKind
	Handle    string
	SessionID string // upstream session token, when the source provides one

	Chunk        *session.ChunkInput // ChunkAvailable only
	Stats        *watchlist.Stats    // StatsRefreshed only
	FullVideoURL string              // AccountOffline only
}

// Poller fetches pending events from the upstream source. Implementations
// own their own cursoring; each call returns only events not seen before.
type Poller interface {
	Poll(ctx context.Context) ([]Event, error)
}

// Config for the orchestrator.
type Config struct {
	PollInterval time.Duration
	WorkerCount  int
	QueueSize    int
	EventTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval: 15 * time.Second,
		WorkerCount:  8,
		QueueSize:    256,
		EventTimeout: 30 * time.Second,
	}
}

// Orchestrator connects the poller to the registry, tracker, and notifier.
type Orchestrator struct {
	cfg      Config
	registry *watchlist.Registry
	tracker  *session.Tracker
	notifier *notify.Service
	poller   Poller
	logger   *slog.Logger

	queues []chan Event
	wg     sync.WaitGroup

	// Shutdown
	stop     chan struct{}
	pollDone chan struct{}
	stopOnce sync.Once
}

// New creates an orchestrator. poller may be nil when events arrive only via
// Submit (e.g. webhook ingestion).
func New(cfg Config, registry *watchlist.Registry, tracker *session.Tracker, notifier *notify.Service, poller Poller, logger *slog.Logger) *Orchestrator {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = DefaultConfig().WorkerCount
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.EventTimeout <= 0 {
		cfg.EventTimeout = DefaultConfig().EventTimeout
	}

	o := &Orchestrator{
		cfg:      cfg,
		registry: registry,
		tracker:  tracker,
		notifier: notifier,
		poller:   poller,
		logger:   logger,
		queues:   make([]chan Event, cfg.WorkerCount),
		stop:     make(chan struct{}),
		pollDone: make(chan struct{}),
	}
	for i := range o.queues {
		o.queues[i] = make(chan Event, cfg.QueueSize)
	}
	return o
}

// Start launches the worker pool and, when a poller is configured, the poll
// loop.
func (o *Orchestrator) Start(ctx context.Context) {
	for i := range o.queues {
		o.wg.Add(1)
		go o.worker(i)
	}

	if o.poller != nil {
		go o.pollLoop(ctx)
	} else {
		close(o.pollDone)
	}

	o.logger.Info("orchestrator started",
		"workers", o.cfg.WorkerCount,
		"pollInterval", o.cfg.PollInterval,
		"polling", o.poller != nil,
	)
}

// Submit enqueues one event for processing. Events for the same handle land
// on the same worker and are processed in submission order.
func (o *Orchestrator) Submit(event Event) error {
	select {
	case <-o.stop:
		return ErrStopped
	default:
	}

	select {
	case o.queues[o.shard(event.Handle)] <- event:
		return nil
	case <-o.stop:
		return ErrStopped
	}
}

// Stop halts polling, drains queued events, and reports sessions left open.
// Active sessions are never force-closed here: an orchestrator restart must
// not end a broadcast that is still running.
func (o *Orchestrator) Stop(ctx context.Context) {
	o.stopOnce.Do(func() { close(o.stop) })
	<-o.pollDone
	o.wg.Wait()

	active, err := o.tracker.ListActive(ctx)
	if err != nil {
		o.logger.Error("failed to list active sessions at shutdown", "error", err)
	}
	for _, s := range active {
		o.logger.Warn("session still active at shutdown",
			"sessionId", s.ID,
			"handle", s.Handle,
			"startTime", s.StartTime,
		)
	}

	o.logger.Info("orchestrator stopped", "activeSessionsLeft", len(active))
}

func (o *Orchestrator) shard(handle string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(handle))
	return int(h.Sum32() % uint32(len(o.queues)))
}

func (o *Orchestrator) pollLoop(ctx context.Context) {
	defer close(o.pollDone)

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stop:
			return
		case <-ticker.C:
			if err := o.pollOnce(ctx); err != nil {
				o.logger.Error("poll failed", "error", err)
				pollFailures.Inc()
			}
		}
	}
}

func (o *Orchestrator) pollOnce(ctx context.Context) error {
	events, err := o.poller.Poll(ctx)
	if err != nil {
		return fmt.Errorf("poll upstream: %w", err)
	}

	for _, event := range events {
		if err := o.Submit(event); err != nil {
			return err
		}
	}
	return nil
}

// worker processes its queue until stopped, then drains whatever is left so
// submitted events are not silently lost.
func (o *Orchestrator) worker(i int) {
	defer o.wg.Done()

	q := o.queues[i]
	for {
		select {
		case event := <-q:
			o.process(event)
		case <-o.stop:
			for {
				select {
				case event := <-q:
					o.process(event)
				default:
					return
				}
			}
		}
	}
}

// process handles one event. A failure is logged and skipped; one bad event
// must not wedge its worker.
func (o *Orchestrator) process(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.EventTimeout)
	defer cancel()

	err := o.handleEvent(ctx, event)
	status := "ok"
	if err != nil {
		status = "error"
		o.logger.Error("event processing failed",
			"kind", event.Kind,
			"handle", event.Handle,
			"sessionId", event.SessionID,
			"error", err,
		)
	}
	eventsProcessed.WithLabelValues(string(event.Kind), status).Inc()
}

func (o *Orchestrator) handleEvent(ctx context.Context, event Event) error {
	switch event.Kind {
	case AccountLive:
		return o.handleAccountLive(ctx, event)
	case AccountOffline:
		return o.handleAccountOffline(ctx, event)
	case ChunkAvailable:
		return o.handleChunk(ctx, event)
	case StatsRefreshed:
		return o.handleStats(ctx, event)
	default:
		return fmt.Errorf("unknown event kind %q", event.Kind)
	}
}

func (o *Orchestrator) handleAccountLive(ctx context.Context, event Event) error {
	if _, err := o.registry.SetLiveStatus(ctx, event.Handle, true); err != nil {
		// Live events for accounts nobody watches are not ours to track
		if errors.Is(err, watchlist.ErrNotWatched) {
			return nil
		}
		return fmt.Errorf("set live status: %w", err)
	}

	s, err := o.tracker.Start(ctx, event.Handle, event.SessionID)
	if err != nil {
		// The poller may report the same live account on consecutive polls
		if errors.Is(err, session.ErrSessionAlreadyActive) {
			return nil
		}
		return fmt.Errorf("start session: %w", err)
	}

	if _, err := o.notifier.Publish(ctx, &notify.Event{
		Type:          notify.EventSessionStarted,
		AccountHandle: s.Handle,
		SessionID:     s.ID,
	}, fmt.Sprintf("@%s went live", s.Handle)); err != nil {
		return fmt.Errorf("publish session start: %w", err)
	}
	return nil
}

func (o *Orchestrator) handleAccountOffline(ctx context.Context, event Event) error {
	active, err := o.tracker.GetActiveByHandle(ctx, event.Handle)
	if err != nil && !errors.Is(err, session.ErrSessionNotFound) {
		return fmt.Errorf("find active session: %w", err)
	}

	if _, err := o.registry.SetLiveStatus(ctx, event.Handle, false); err != nil && !errors.Is(err, watchlist.ErrNotWatched) {
		return fmt.Errorf("clear live status: %w", err)
	}

	// No session was running, nothing to end
	if active == nil {
		return nil
	}

	ended, err := o.tracker.End(ctx, active.ID, event.FullVideoURL)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}

	// The latch is flipped before the broadcast so a retry of this event
	// never alerts twice.
	first, err := o.tracker.MarkNotified(ctx, ended.ID)
	if err != nil {
		return fmt.Errorf("mark notified: %w", err)
	}
	if !first {
		return nil
	}

	if _, err := o.notifier.Publish(ctx, &notify.Event{
		Type:          notify.EventSessionEnded,
		AccountHandle: ended.Handle,
		SessionID:     ended.ID,
		Payload: map[string]interface{}{
			"chunkCount":   ended.LastChunkNumber,
			"fullVideoUrl": ended.FullVideoURL,
		},
	}, fmt.Sprintf("@%s ended a live session with %d chunks", ended.Handle, ended.LastChunkNumber)); err != nil {
		return fmt.Errorf("publish session end: %w", err)
	}
	return nil
}

func (o *Orchestrator) handleChunk(ctx context.Context, event Event) error {
	if event.Chunk == nil {
		return errors.New("chunk event without chunk payload")
	}

	chunk, s, err := o.tracker.AppendChunk(ctx, event.SessionID, *event.Chunk)
	if err != nil {
		return fmt.Errorf("append chunk: %w", err)
	}

	// Unscored chunks are stored but not announced
	if chunk.RiskLevel == "" {
		return nil
	}

	if _, err := o.notifier.Publish(ctx, &notify.Event{
		Type:          notify.EventChunkScored,
		AccountHandle: s.Handle,
		SessionID:     s.ID,
		RiskLevel:     chunk.RiskLevel,
		Payload: map[string]interface{}{
			"chunkNumber": chunk.ChunkNumber,
			"riskScore":   chunk.RiskScore,
		},
	}, fmt.Sprintf("@%s chunk %d scored %s", s.Handle, chunk.ChunkNumber, chunk.RiskLevel)); err != nil {
		return fmt.Errorf("publish chunk score: %w", err)
	}
	return nil
}

func (o *Orchestrator) handleStats(ctx context.Context, event Event) error {
	if event.Stats == nil {
		return errors.New("stats event without stats payload")
	}

	if _, err := o.registry.RefreshStats(ctx, event.Handle, *event.Stats); err != nil {
		return fmt.Errorf("refresh stats: %w", err)
	}

	// Stats are routine; broadcast live but keep them out of the feed.
	o.notifier.Hub().Broadcast(&notify.Event{
		Type:          notify.EventStatsRefreshed,
		AccountHandle: event.Handle,
		Payload:       event.Stats,
	})
	return nil
}
