package ratelimit

import (
	"testing"
	"time"
)

// fixedClock lets tests drive the limiter's notion of now.
type fixedClock struct {
	t time.Time
}

func (c *fixedClock) now() time.Time          { return c.t }
func (c *fixedClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(cfg Config) (*Limiter, *fixedClock) {
	clock := &fixedClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	l := New(cfg)
	l.now = clock.now
	l.lastCleanup = clock.t
	return l, clock
}

func TestBurstWindow(t *testing.T) {
	l, _ := newTestLimiter(Config{Burst: 3})

	for i := 0; i < 3; i++ {
		if ok, reason := l.Allow("1.2.3.4"); !ok {
			t.Fatalf("request %d blocked: %s", i+1, reason)
		}
	}
	if ok, reason := l.Allow("1.2.3.4"); ok || reason != "burst limit exceeded" {
		t.Fatalf("expected burst rejection, got ok=%v reason=%q", ok, reason)
	}
}

func TestBurstWindowSlides(t *testing.T) {
	l, clock := newTestLimiter(Config{Burst: 2})

	l.Allow("ip")
	l.Allow("ip")
	if ok, _ := l.Allow("ip"); ok {
		t.Fatal("expected third request in window blocked")
	}
	clock.advance(11 * time.Second)
	if ok, reason := l.Allow("ip"); !ok {
		t.Fatalf("expected allowance after window slid: %s", reason)
	}
}

func TestPerMinuteWindow(t *testing.T) {
	l, clock := newTestLimiter(Config{PerMinute: 5})

	for i := 0; i < 5; i++ {
		if ok, reason := l.Allow("ip"); !ok {
			t.Fatalf("request %d blocked: %s", i+1, reason)
		}
		clock.advance(time.Second)
	}
	if ok, reason := l.Allow("ip"); ok || reason != "too many requests per minute" {
		t.Fatalf("expected per-minute rejection, got ok=%v reason=%q", ok, reason)
	}
	clock.advance(time.Minute)
	if ok, _ := l.Allow("ip"); !ok {
		t.Fatal("expected allowance after the minute passed")
	}
}

func TestPerHourWindow(t *testing.T) {
	l, clock := newTestLimiter(Config{PerHour: 3})

	for i := 0; i < 3; i++ {
		l.Allow("ip")
		clock.advance(time.Minute)
	}
	if ok, reason := l.Allow("ip"); ok || reason != "too many requests per hour" {
		t.Fatalf("expected per-hour rejection, got ok=%v reason=%q", ok, reason)
	}
}

func TestIdentifiersAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(Config{Burst: 1})

	l.Allow("alice")
	if ok, _ := l.Allow("alice"); ok {
		t.Fatal("expected alice blocked")
	}
	if ok, _ := l.Allow("bob"); !ok {
		t.Fatal("expected bob unaffected by alice's traffic")
	}
}

func TestZeroLimitsDisableWindows(t *testing.T) {
	l, _ := newTestLimiter(Config{})

	for i := 0; i < 100; i++ {
		if ok, reason := l.Allow("ip"); !ok {
			t.Fatalf("request %d blocked with no limits configured: %s", i+1, reason)
		}
	}
}

func TestStaleEntriesCleanedUp(t *testing.T) {
	l, clock := newTestLimiter(Config{Burst: 5})

	l.Allow("old-client")
	clock.advance(3 * time.Hour)
	l.Allow("new-client")

	l.mu.Lock()
	_, oldPresent := l.entries["old-client"]
	_, newPresent := l.entries["new-client"]
	l.mu.Unlock()

	if oldPresent {
		t.Fatal("expected stale entry dropped")
	}
	if !newPresent {
		t.Fatal("expected active entry retained")
	}
}
