// Package ratelimit implements a token-bucket limiter bounding outbound calls
// to marketplace source APIs.
//
// One bucket exists per seller and is shared across whichever channel sync is
// currently calling the source, so a seller's total request rate stays bounded
// no matter how its channels interleave. Wait blocks until a token is
// available or the context is done; it is the backpressure mechanism, there is
// no hard-failure path.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Bucket is a token bucket refilled at a fixed rate.
type Bucket struct {
	mu     sync.Mutex
	tokens float64
	burst  float64
	rate   float64 // tokens per second
	last   time.Time
}

// New creates a Bucket producing rate tokens per second with the given burst
// capacity. The bucket starts full. rate and burst are clamped to at least 1.
func New(rate float64, burst int) *Bucket {
	if rate <= 0 {
		rate = 1
	}
	if burst < 1 {
		burst = 1
	}
	return &Bucket{
		tokens: float64(burst),
		burst:  float64(burst),
		rate:   rate,
		last:   time.Now(),
	}
}

// Allow consumes a token if one is available and reports whether it did.
func (b *Bucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill(time.Now())
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Wait blocks until a token is consumed or ctx is done.
func (b *Bucket) Wait(ctx context.Context) error {
	for {
		b.mu.Lock()
		now := time.Now()
		b.refill(now)
		if b.tokens >= 1 {
			b.tokens--
			b.mu.Unlock()
			return nil
		}
		need := (1 - b.tokens) / b.rate
		b.mu.Unlock()

		d := time.Duration(need * float64(time.Second))
		if d < time.Millisecond {
			d = time.Millisecond
		}
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// refill adds tokens for the elapsed time. Caller holds b.mu.
func (b *Bucket) refill(now time.Time) {
	elapsed := now.Sub(b.last).Seconds()
	if elapsed <= 0 {
		return
	}
	b.last = now
	b.tokens += elapsed * b.rate
	if b.tokens > b.burst {
		b.tokens = b.burst
	}
}

// PerKey hands out one Bucket per key (seller ID), creating buckets lazily.
type PerKey struct {
	mu      sync.Mutex
	buckets map[string]*Bucket
	rate    float64
	burst   int
}

// NewPerKey creates a PerKey limiter where every key gets an identical bucket.
func NewPerKey(rate float64, burst int) *PerKey {
	return &PerKey{
		buckets: make(map[string]*Bucket),
		rate:    rate,
		burst:   burst,
	}
}

// Get returns the bucket for key, creating it on first use.
func (p *PerKey) Get(key string) *Bucket {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.buckets[key]
	if !ok {
		b = New(p.rate, p.burst)
		p.buckets[key] = b
	}
	return b
}
