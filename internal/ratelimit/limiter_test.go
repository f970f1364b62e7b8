package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestWaitImmediateWhenFull(t *testing.T) {
	l := New(10, 100, time.Minute)

	start := time.Now()
	if err := l.Wait(context.Background(), 5); err != nil {
		t.Fatalf("Wait error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("full buckets should admit immediately, took %v", elapsed)
	}

	requests, weight := l.Available()
	if requests > 9.5 {
		t.Errorf("request bucket not debited: %v", requests)
	}
	if weight > 95.5 {
		t.Errorf("weight bucket not debited: %v", weight)
	}
}

func TestWeightWindowNeverExceeded(t *testing.T) {
	// 4 weight units per 200ms window; five 2-unit acquisitions need at
	// least three extra window-halves of refill.
	l := New(100, 4, 200*time.Millisecond)

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := l.Wait(context.Background(), 2); err != nil {
			t.Fatalf("Wait error: %v", err)
		}
	}
	elapsed := time.Since(start)

	// 10 units at 4 per 200ms: the 6 units beyond the initial burst take
	// 6/20 units-per-ms = 300ms of refill.
	if elapsed < 250*time.Millisecond {
		t.Errorf("5 acquisitions finished in %v, faster than the weight cap allows", elapsed)
	}
}

func TestRequestBucketNotDebitedWhenWeightShort(t *testing.T) {
	// Weight bucket far too small for the request: Wait must block without
	// consuming a request slot.
	l := New(10, 4, time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx, 5); err == nil {
		t.Fatal("Wait should block until cancellation when weight is unavailable")
	}

	requests, _ := l.Available()
	if requests < 9.5 {
		t.Errorf("request tokens = %v, want ~10 (no debit on failed weight acquisition)", requests)
	}
}

func TestWaitHonoursCancellation(t *testing.T) {
	l := New(1, 1, time.Hour)
	if err := l.Wait(context.Background(), 1); err != nil {
		t.Fatalf("first Wait error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Wait(ctx, 1) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Wait returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after cancellation")
	}
}

func TestNewDefaultCapacities(t *testing.T) {
	l := NewDefault()
	requests, weight := l.Available()
	if requests != DefaultRequestsPerMinute {
		t.Errorf("requests = %v, want %d", requests, DefaultRequestsPerMinute)
	}
	if weight != DefaultWeightPerMinute {
		t.Errorf("weight = %v, want %d", weight, DefaultWeightPerMinute)
	}
}
