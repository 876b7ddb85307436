package timeoutmgr

import (
	"testing"
	"time"
)

func TestTouchIdlePostponesExpiry(t *testing.T) {
	m := New(10*time.Second, time.Minute)
	now := time.Unix(1000, 0)
	m.Track(1, now)
	m.TouchIdle(1, now.Add(5*time.Second))
	expired := m.Poll(now.Add(9 * time.Second))
	if len(expired) != 0 {
		t.Fatalf("expected no expiry yet, got %v", expired)
	}
	expired = m.Poll(now.Add(16 * time.Second))
	if len(expired) != 1 || expired[0].Kind != Idle {
		t.Fatalf("expected idle expiry, got %v", expired)
	}
}

func TestTotalTimeoutTakesPrecedence(t *testing.T) {
	m := New(time.Minute, 2*time.Second)
	now := time.Unix(2000, 0)
	m.Track(1, now)
	m.StartTotal(1, now)
	expired := m.Poll(now.Add(3 * time.Second))
	if len(expired) != 1 || expired[0].Kind != Total {
		t.Fatalf("expected total expiry, got %v", expired)
	}
}

func TestStopTotalPreventsExpiry(t *testing.T) {
	m := New(time.Minute, 2*time.Second)
	now := time.Unix(3000, 0)
	m.Track(1, now)
	m.StartTotal(1, now)
	m.StopTotal(1)
	expired := m.Poll(now.Add(5 * time.Second))
	if len(expired) != 0 {
		t.Fatalf("expected no expiry after StopTotal, got %v", expired)
	}
}

func TestNextTimeoutTracksNearestDeadline(t *testing.T) {
	m := New(10*time.Second, time.Minute)
	now := time.Unix(4000, 0)
	m.Track(1, now)
	d := m.NextTimeout(now)
	if d <= 0 || d > 10*time.Second {
		t.Fatalf("NextTimeout = %v, want (0, 10s]", d)
	}
}

func TestNextTimeoutNegativeWhenEmpty(t *testing.T) {
	m := New(time.Second, time.Second)
	if d := m.NextTimeout(time.Now()); d >= 0 {
		t.Fatalf("NextTimeout = %v, want negative", d)
	}
}

func TestRemoveStopsTracking(t *testing.T) {
	m := New(time.Second, time.Minute)
	now := time.Unix(5000, 0)
	m.Track(1, now)
	m.Remove(1)
	if expired := m.Poll(now.Add(5 * time.Second)); len(expired) != 0 {
		t.Fatalf("expected no entries after Remove, got %v", expired)
	}
}
