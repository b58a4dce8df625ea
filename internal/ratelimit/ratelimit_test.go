package ratelimit

import (
	"testing"
	"time"
)

func TestAllow_WithinBurst(t *testing.T) {
	l := New(Config{
		RequestsPerMinute: 60,
		BurstSize:         5,
		CleanupInterval:   time.Minute,
	})
	defer l.Stop()

	// Burst of 5 should all pass
	for i := 0; i < 5; i++ {
		if !l.Allow("10.0.0.1") {
			t.Fatalf("request %d within burst should be allowed", i+1)
		}
	}

	// Sixth immediate request should be rejected
	if l.Allow("10.0.0.1") {
		t.Error("request beyond burst should be rejected")
	}
}

func TestAllow_IndependentKeys(t *testing.T) {
	l := New(Config{
		RequestsPerMinute: 60,
		BurstSize:         1,
		CleanupInterval:   time.Minute,
	})
	defer l.Stop()

	if !l.Allow("10.0.0.1") {
		t.Error("first request for key A should be allowed")
	}
	if !l.Allow("10.0.0.2") {
		t.Error("first request for key B should be allowed")
	}
	if l.Allow("10.0.0.1") {
		t.Error("second immediate request for key A should be rejected")
	}
}

func TestAllow_TokensRefill(t *testing.T) {
	l := New(Config{
		RequestsPerMinute: 6000, // 100 tokens/sec for a fast test
		BurstSize:         1,
		CleanupInterval:   time.Minute,
	})
	defer l.Stop()

	if !l.Allow("10.0.0.1") {
		t.Fatal("first request should be allowed")
	}
	if l.Allow("10.0.0.1") {
		t.Fatal("immediate second request should be rejected")
	}

	time.Sleep(50 * time.Millisecond)

	if !l.Allow("10.0.0.1") {
		t.Error("request after refill should be allowed")
	}
}
