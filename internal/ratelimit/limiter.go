// Package ratelimit implements the dual token-bucket limiter the market
// data API requires: one bucket counts raw requests, the other counts the
// weight units the provider charges per request. Every outbound call shares
// one Limiter instance.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Defaults matching the provider's published per-minute limits.
const (
	DefaultRequestsPerMinute = 1200
	DefaultWeightPerMinute   = 6000
)

// maxPoll caps how long a single wait iteration sleeps, so cancellation is
// noticed promptly even when the computed deficit is large.
const maxPoll = time.Second

// Limiter is a dual token-bucket rate limiter. Both buckets refill
// continuously at capacity/window and are debited together under one lock:
// a request is admitted only when the request bucket and the weight bucket
// can both cover it.
type Limiter struct {
	mu         sync.Mutex
	requestCap float64
	weightCap  float64
	requests   float64
	weight     float64
	window     time.Duration
	lastRefill time.Time
}

// New creates a Limiter allowing requestCap requests and weightCap weight
// units per window. Buckets start full.
func New(requestCap, weightCap int, window time.Duration) *Limiter {
	return &Limiter{
		requestCap: float64(requestCap),
		weightCap:  float64(weightCap),
		requests:   float64(requestCap),
		weight:     float64(weightCap),
		window:     window,
		lastRefill: time.Now(),
	}
}

// NewDefault creates a Limiter with the provider's standard per-minute
// limits.
func NewDefault() *Limiter {
	return New(DefaultRequestsPerMinute, DefaultWeightPerMinute, time.Minute)
}

// Wait blocks until one request slot and the given weight are available,
// then debits both buckets. Weights smaller than 1 are treated as 1. The
// only error condition is context cancellation.
func (l *Limiter) Wait(ctx context.Context, weight int) error {
	if weight < 1 {
		weight = 1
	}
	need := float64(weight)

	for {
		l.mu.Lock()
		l.refillLocked(time.Now())

		if l.requests >= 1 && l.weight >= need {
			l.requests--
			l.weight -= need
			l.mu.Unlock()
			return nil
		}

		// Sleep for the larger of the two deficits, capped so cancellation
		// stays responsive.
		wait := l.deficitLocked(need)
		l.mu.Unlock()

		if wait > maxPoll {
			wait = maxPoll
		}
		if wait < time.Millisecond {
			wait = time.Millisecond
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Available returns the current token levels of the request and weight
// buckets, for status tooling.
func (l *Limiter) Available() (requests, weight float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked(time.Now())
	return l.requests, l.weight
}

// refillLocked adds tokens accrued since the last refill. Callers hold mu.
func (l *Limiter) refillLocked(now time.Time) {
	elapsed := now.Sub(l.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	perSec := l.window.Seconds()

	l.requests += elapsed * l.requestCap / perSec
	if l.requests > l.requestCap {
		l.requests = l.requestCap
	}
	l.weight += elapsed * l.weightCap / perSec
	if l.weight > l.weightCap {
		l.weight = l.weightCap
	}
	l.lastRefill = now
}

// deficitLocked returns how long the refill needs to cover one request slot
// plus the given weight. Callers hold mu.
func (l *Limiter) deficitLocked(need float64) time.Duration {
	perSec := l.window.Seconds()

	var reqWait, weightWait float64
	if l.requests < 1 {
		reqWait = (1 - l.requests) * perSec / l.requestCap
	}
	if l.weight < need {
		weightWait = (need - l.weight) * perSec / l.weightCap
	}

	wait := reqWait
	if weightWait > wait {
		wait = weightWait
	}
	return time.Duration(wait * float64(time.Second))
}
