package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/livewatch/livewatch/internal/notify"
	"github.com/livewatch/livewatch/internal/scoring"
	"github.com/livewatch/livewatch/internal/session"
	"github.com/livewatch/livewatch/internal/watchlist"
)

type fixture struct {
	orch     *Orchestrator
	registry *watchlist.Registry
	tracker  *session.Tracker
	hub      *notify.Hub
	store    *notify.MemoryStore
}

// fakePoller replays queued event batches, one per Poll call.
type fakePoller struct {
	mu      sync.Mutex
	batches [][]Event
}

func (f *fakePoller) push(events ...Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, events)
}

func (f *fakePoller) Poll(context.Context) ([]Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.batches) == 0 {
		return nil, nil
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	return batch, nil
}

func newFixture(t *testing.T, poller Poller) *fixture {
	t.Helper()

	registry := watchlist.NewRegistry(watchlist.NewMemoryStore())
	engine, err := scoring.NewEngine(scoring.DefaultConfig())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	tracker := session.NewTracker(session.NewMemoryStore(), engine, registry)

	hub := notify.NewHub(slog.Default(), 100*time.Millisecond)
	store := notify.NewMemoryStore()
	notifier := notify.NewService(hub, store)

	cfg := DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond
	cfg.WorkerCount = 4

	orch := New(cfg, registry, tracker, notifier, poller, slog.Default())
	return &fixture{orch: orch, registry: registry, tracker: tracker, hub: hub, store: store}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestLifecycle_LiveToOffline(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.registry.Add(ctx, "creator_one", "Creator One"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	f.orch.Start(ctx)
	defer f.orch.Stop(ctx)

	if err := f.orch.Submit(Event{Kind: AccountLive, Handle: "creator_one", SessionID: "ses_up1"}); err != nil {
		t.Fatalf("Submit live: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		_, err := f.tracker.GetActiveByHandle(ctx, "creator_one")
		return err == nil
	})

	account, err := f.registry.Get(ctx, "creator_one")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !account.IsLive {
		t.Error("account should be marked live")
	}

	for i := 0; i < 3; i++ {
		if err := f.orch.Submit(Event{
			Kind:      ChunkAvailable,
			Handle:    "creator_one",
			SessionID: "ses_up1",
			Chunk:     &session.ChunkInput{Transcription: "speech"},
		}); err != nil {
			t.Fatalf("Submit chunk %d: %v", i, err)
		}
	}

	if err := f.orch.Submit(Event{
		Kind:         AccountOffline,
		Handle:       "creator_one",
		FullVideoURL: "https://cdn.example/full.mp4",
	}); err != nil {
		t.Fatalf("Submit offline: %v", err)
	}

	var ended *session.LiveSession
	waitFor(t, time.Second, func() bool {
		s, err := f.tracker.Get(ctx, "ses_up1")
		if err != nil || s.IsActive() {
			return false
		}
		ended = s
		return true
	})

	if ended.LastChunkNumber != 3 {
		t.Errorf("LastChunkNumber: got %d, want 3", ended.LastChunkNumber)
	}
	if ended.FullVideoURL != "https://cdn.example/full.mp4" {
		t.Errorf("FullVideoURL: got %q", ended.FullVideoURL)
	}
	if !ended.NotificationSent {
		t.Error("session should be latched as notified")
	}

	account, _ = f.registry.Get(ctx, "creator_one")
	if account.IsLive {
		t.Error("account should be marked offline")
	}

	// Feed has exactly one start and one end notification
	feed, err := f.store.List(ctx, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var starts, ends int
	for _, n := range feed {
		switch n.Status {
		case string(notify.EventSessionStarted):
			starts++
		case string(notify.EventSessionEnded):
			ends++
		}
	}
	if starts != 1 || ends != 1 {
		t.Errorf("feed: got %d starts and %d ends, want 1 and 1", starts, ends)
	}
}

func TestOfflineEventRetry_AlertsOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.registry.Add(ctx, "creator_one", ""); err != nil {
		t.Fatalf("Add: %v", err)
	}

	f.orch.Start(ctx)
	defer f.orch.Stop(ctx)

	if err := f.orch.Submit(Event{Kind: AccountLive, Handle: "creator_one", SessionID: "ses_up2"}); err != nil {
		t.Fatalf("Submit live: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := f.orch.Submit(Event{Kind: AccountOffline, Handle: "creator_one"}); err != nil {
			t.Fatalf("Submit offline %d: %v", i, err)
		}
	}

	waitFor(t, time.Second, func() bool {
		s, err := f.tracker.Get(ctx, "ses_up2")
		return err == nil && !s.IsActive()
	})
	// Let the duplicate offline events flow through
	time.Sleep(50 * time.Millisecond)

	feed, err := f.store.List(ctx, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var ends int
	for _, n := range feed {
		if n.Status == string(notify.EventSessionEnded) {
			ends++
		}
	}
	if ends != 1 {
		t.Errorf("expected exactly one session_ended notification, got %d", ends)
	}
}

func TestDuplicateLiveEvents_OneSession(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.registry.Add(ctx, "creator_one", ""); err != nil {
		t.Fatalf("Add: %v", err)
	}

	f.orch.Start(ctx)
	defer f.orch.Stop(ctx)

	for i := 0; i < 3; i++ {
		if err := f.orch.Submit(Event{Kind: AccountLive, Handle: "creator_one", SessionID: "ses_dup"}); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
	}

	waitFor(t, time.Second, func() bool {
		_, err := f.tracker.GetActiveByHandle(ctx, "creator_one")
		return err == nil
	})
	time.Sleep(50 * time.Millisecond)

	sessions, err := f.tracker.ListByHandle(ctx, "creator_one", 10)
	if err != nil {
		t.Fatalf("ListByHandle: %v", err)
	}
	if len(sessions) != 1 {
		t.Errorf("expected 1 session, got %d", len(sessions))
	}
}

func TestChunkScored_BroadcastToSessionAudience(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.registry.Add(ctx, "creator_one", ""); err != nil {
		t.Fatalf("Add: %v", err)
	}

	f.orch.Start(ctx)
	defer f.orch.Stop(ctx)

	if err := f.orch.Submit(Event{Kind: AccountLive, Handle: "creator_one", SessionID: "ses_up3"}); err != nil {
		t.Fatalf("Submit live: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		_, err := f.tracker.GetActiveByHandle(ctx, "creator_one")
		return err == nil
	})

	sub, err := f.hub.Subscribe("ses_up3")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer f.hub.Unsubscribe(sub)

	if err := f.orch.Submit(Event{
		Kind:      ChunkAvailable,
		Handle:    "creator_one",
		SessionID: "ses_up3",
		Chunk: &session.ChunkInput{
			Transcription: "flagged speech",
			Classification: &scoring.Classification{
				Tier: "High", Subcategory: "politics",
				DaysSincePosted: 1, Shares: 100, Saves: 50, Comments: 30, Likes: 200,
				VideoCount: 2,
			},
		},
	}); err != nil {
		t.Fatalf("Submit chunk: %v", err)
	}

	select {
	case payload := <-sub.Events():
		var event notify.Event
		if err := json.Unmarshal(payload, &event); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if event.Type != notify.EventChunkScored {
			t.Errorf("Type: got %q", event.Type)
		}
		if event.RiskLevel != "High" {
			t.Errorf("RiskLevel: got %q", event.RiskLevel)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for chunk_scored event")
	}
}

func TestBadEvent_DoesNotWedgeWorker(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.registry.Add(ctx, "creator_one", ""); err != nil {
		t.Fatalf("Add: %v", err)
	}

	f.orch.Start(ctx)
	defer f.orch.Stop(ctx)

	// Chunk for a session that was never started
	if err := f.orch.Submit(Event{
		Kind:      ChunkAvailable,
		Handle:    "creator_one",
		SessionID: "ses_ghost",
		Chunk:     &session.ChunkInput{Caption: "orphan"},
	}); err != nil {
		t.Fatalf("Submit bad chunk: %v", err)
	}

	// The same worker must still process subsequent events for the handle
	if err := f.orch.Submit(Event{Kind: AccountLive, Handle: "creator_one", SessionID: "ses_after"}); err != nil {
		t.Fatalf("Submit live: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		_, err := f.tracker.GetActiveByHandle(ctx, "creator_one")
		return err == nil
	})
}

func TestPollLoop_DrivesEvents(t *testing.T) {
	poller := &fakePoller{}
	f := newFixture(t, poller)
	ctx := context.Background()

	if _, err := f.registry.Add(ctx, "creator_one", ""); err != nil {
		t.Fatalf("Add: %v", err)
	}

	poller.push(
		Event{Kind: AccountLive, Handle: "creator_one", SessionID: "ses_poll"},
		Event{Kind: StatsRefreshed, Handle: "creator_one", Stats: &watchlist.Stats{Followers: 1200, Following: 10, PostCount: 44}},
	)

	f.orch.Start(ctx)
	defer f.orch.Stop(ctx)

	waitFor(t, 2*time.Second, func() bool {
		account, err := f.registry.Get(ctx, "creator_one")
		return err == nil && account.IsLive && account.Followers == 1200
	})
}

func TestStop_DrainsQueuedEvents(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.registry.Add(ctx, "creator_one", ""); err != nil {
		t.Fatalf("Add: %v", err)
	}

	f.orch.Start(ctx)

	if err := f.orch.Submit(Event{Kind: AccountLive, Handle: "creator_one", SessionID: "ses_drain"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	f.orch.Stop(ctx)

	// The queued event was processed before Stop returned
	if _, err := f.tracker.GetActiveByHandle(ctx, "creator_one"); err != nil {
		t.Errorf("expected session to exist after drain, got %v", err)
	}

	if err := f.orch.Submit(Event{Kind: AccountLive, Handle: "creator_two"}); err != ErrStopped {
		t.Errorf("expected ErrStopped after Stop, got %v", err)
	}
}

func TestUnwatchedLiveEvent_Skipped(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.orch.Start(ctx)
	defer f.orch.Stop(ctx)

	if err := f.orch.Submit(Event{Kind: AccountLive, Handle: "stranger", SessionID: "ses_skip"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if _, err := f.tracker.Get(ctx, "ses_skip"); err == nil {
		t.Error("no session should exist for an unwatched handle")
	}
}
