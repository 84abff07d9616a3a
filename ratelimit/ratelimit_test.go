package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestAllowConsumesBurst(t *testing.T) {
	// WHAT: A fresh bucket allows exactly burst immediate calls.
	// WHY: The burst bound is what caps a page-fetch spike per seller.
	b := New(1, 3)
	for i := 0; i < 3; i++ {
		if !b.Allow() {
			t.Fatalf("call %d within burst denied", i)
		}
	}
	if b.Allow() {
		t.Error("call beyond burst allowed")
	}
}

func TestWaitRefills(t *testing.T) {
	// WHAT: Wait blocks until the refill rate produces a token.
	// WHY: Wait is the backpressure path between source API pages.
	b := New(50, 1)
	if !b.Allow() {
		t.Fatal("first token denied")
	}
	start := time.Now()
	if err := b.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
	// 50 tokens/s → next token within ~20ms; allow generous slack.
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("wait took %v, expected around 20ms", elapsed)
	}
}

func TestWaitHonoursContext(t *testing.T) {
	// WHAT: Wait returns the context error when cancelled while starved.
	// WHY: A cancelled sync must stop between pages, not hang on a token.
	b := New(0.001, 1)
	b.Allow() // drain
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := b.Wait(ctx); err == nil {
		t.Error("expected context error from starved Wait")
	}
}

func TestPerKeyIsolation(t *testing.T) {
	// WHAT: Buckets are independent per key and stable across Get calls.
	// WHY: One seller's backlog must not consume another seller's budget.
	p := NewPerKey(1, 1)
	a, b := p.Get("seller-a"), p.Get("seller-b")
	if a == b {
		t.Fatal("distinct keys share a bucket")
	}
	if p.Get("seller-a") != a {
		t.Error("same key returned a new bucket")
	}
	a.Allow()
	if !b.Allow() {
		t.Error("draining seller-a starved seller-b")
	}
}
