package session

import (
	"context"
	"testing"
	"time"

	"github.com/motiveproxy/motiveproxy/internal/apierr"
)

func testManagerConfig() ManagerConfig {
	return ManagerConfig{
		HandshakeTimeout: time.Second,
		TurnTimeout:      time.Second,
		SessionTTL:       time.Hour,
		MaxSessions:      10,
		CleanupInterval:  time.Minute,
	}
}

func TestGetOrCreateReturnsSameSession(t *testing.T) {
	m := NewManager(testManagerConfig(), nil)
	ctx := context.Background()

	s1, err := m.GetOrCreate(ctx, "alpha")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	s2, err := m.GetOrCreate(ctx, "alpha")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if s1 != s2 {
		t.Fatal("expected the same session for the same id")
	}
	if m.Count() != 1 {
		t.Fatalf("expected 1 session, got %d", m.Count())
	}
}

func TestGetOrCreateReplacesClosedSession(t *testing.T) {
	m := NewManager(testManagerConfig(), nil)
	ctx := context.Background()

	s1, _ := m.GetOrCreate(ctx, "alpha")
	s1.Close(ReasonHandshakeTimeout)

	s2, err := m.GetOrCreate(ctx, "alpha")
	if err != nil {
		t.Fatalf("recreate: %v", err)
	}
	if s1 == s2 {
		t.Fatal("expected a fresh session replacing the closed one")
	}
	if s2.State() != StateEmpty {
		t.Fatalf("expected fresh session to be empty, got %q", s2.State())
	}
}

func TestGetOrCreateOverloadedWhenFull(t *testing.T) {
	cfg := testManagerConfig()
	cfg.MaxSessions = 2
	m := NewManager(cfg, nil)
	ctx := context.Background()

	m.GetOrCreate(ctx, "one")
	m.GetOrCreate(ctx, "two")

	_, err := m.GetOrCreate(ctx, "three")
	if kind := apierr.KindOf(err); kind != apierr.KindOverloaded {
		t.Fatalf("expected overloaded, got %v", kind)
	}
	// Existing ids still resolve while the directory is full.
	if _, err := m.GetOrCreate(ctx, "one"); err != nil {
		t.Fatalf("existing id while full: %v", err)
	}
}

func TestGetOrCreateEvictsMostIdleWhenEnabled(t *testing.T) {
	cfg := testManagerConfig()
	cfg.MaxSessions = 2
	cfg.EvictIdleOnFull = true
	m := NewManager(cfg, nil)
	ctx := context.Background()

	idle, _ := m.GetOrCreate(ctx, "idle")
	time.Sleep(10 * time.Millisecond)
	busy, _ := m.GetOrCreate(ctx, "busy")

	if _, err := m.GetOrCreate(ctx, "newcomer"); err != nil {
		t.Fatalf("expected eviction to make room: %v", err)
	}
	if idle.State() != StateClosed {
		t.Fatal("expected the most idle session to be evicted")
	}
	if busy.State() == StateClosed {
		t.Fatal("the fresher session must survive")
	}
	if m.Get("idle") != nil {
		t.Fatal("evicted session must leave the directory")
	}
}

func TestManagerClose(t *testing.T) {
	m := NewManager(testManagerConfig(), nil)
	ctx := context.Background()

	s, _ := m.GetOrCreate(ctx, "alpha")
	if !m.Close("alpha", ReasonAdminClosed) {
		t.Fatal("expected close to report success")
	}
	if s.State() != StateClosed {
		t.Fatalf("expected closed, got %q", s.State())
	}
	if m.Close("alpha", ReasonAdminClosed) {
		t.Fatal("expected second close to report absence")
	}
	if m.Close("never-existed", ReasonAdminClosed) {
		t.Fatal("expected close of unknown id to report absence")
	}
}

func TestSweepRemovesExpiredSessions(t *testing.T) {
	cfg := testManagerConfig()
	cfg.SessionTTL = 10 * time.Millisecond
	m := NewManager(cfg, nil)
	ctx := context.Background()

	s, _ := m.GetOrCreate(ctx, "stale")
	time.Sleep(20 * time.Millisecond)
	m.sweep(ctx)

	if m.Count() != 0 {
		t.Fatalf("expected empty directory after sweep, got %d", m.Count())
	}
	if s.State() != StateClosed {
		t.Fatalf("expected swept session closed, got %q", s.State())
	}
}

func TestSweepKeepsFreshSessions(t *testing.T) {
	m := NewManager(testManagerConfig(), nil)
	ctx := context.Background()

	m.GetOrCreate(ctx, "fresh")
	m.sweep(ctx)

	if m.Count() != 1 {
		t.Fatalf("expected fresh session to survive the sweep, got %d", m.Count())
	}
}

func TestSweepCollectsAlreadyClosedSessions(t *testing.T) {
	m := NewManager(testManagerConfig(), nil)
	ctx := context.Background()

	s, _ := m.GetOrCreate(ctx, "dead")
	s.Close(ReasonHandshakeTimeout)
	m.sweep(ctx)

	if m.Count() != 0 {
		t.Fatalf("expected closed session removed, got %d", m.Count())
	}
}

func TestSnapshotSortedAndRedacted(t *testing.T) {
	m := NewManager(testManagerConfig(), nil)
	ctx := context.Background()

	for _, id := range []string{"zulu", "alpha", "mike"} {
		m.GetOrCreate(ctx, id)
	}
	infos := m.Snapshot()
	if len(infos) != 3 {
		t.Fatalf("expected 3 infos, got %d", len(infos))
	}
	want := []string{"alpha", "mike", "zulu"}
	for i, info := range infos {
		if info.ID != want[i] {
			t.Fatalf("expected sorted ids %v, got %q at %d", want, info.ID, i)
		}
		if info.State != StateEmpty {
			t.Fatalf("expected empty state, got %q", info.State)
		}
	}
}

func TestRunShutdownClosesAll(t *testing.T) {
	m := NewManager(testManagerConfig(), nil)
	s, _ := m.GetOrCreate(context.Background(), "alpha")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	cancel()
	if err := <-done; err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if s.State() != StateClosed {
		t.Fatalf("expected shutdown to close sessions, got %q", s.State())
	}
	if m.Count() != 0 {
		t.Fatalf("expected empty directory, got %d", m.Count())
	}
}
