package rate

import "testing"

func TestAllowBurstThenThrottles(t *testing.T) {
	l := New(1, 2) // 1 req/sec, burst of 2
	if !l.Allow(3) {
		t.Fatal("expected first request within burst to be allowed")
	}
	if !l.Allow(3) {
		t.Fatal("expected second request within burst to be allowed")
	}
	if l.Allow(3) {
		t.Fatal("expected third immediate request to be throttled")
	}
}

func TestPerFDIndependence(t *testing.T) {
	l := New(1, 1)
	if !l.Allow(1) {
		t.Fatal("fd 1 first request should be allowed")
	}
	if l.Allow(1) {
		t.Fatal("fd 1 second request should be throttled")
	}
	if !l.Allow(2) {
		t.Fatal("fd 2 should have its own independent bucket")
	}
}

func TestRemoveResetsLimiter(t *testing.T) {
	l := New(1, 1)
	l.Allow(5)
	if l.Allow(5) {
		t.Fatal("expected second request to be throttled before Remove")
	}
	l.Remove(5)
	if !l.Allow(5) {
		t.Fatal("expected a fresh limiter after Remove")
	}
}
