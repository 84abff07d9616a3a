package vtq_test

import (
	"context"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/sellersync/dbopen"
	"github.com/hazyhaar/sellersync/vtq"
)

func newQ(t *testing.T, opts vtq.Options) *vtq.Q {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(vtq.Schema))
	return vtq.New(db, opts)
}

func TestPublishAndClaim(t *testing.T) {
	// WHAT: A published job is claimable once and then invisible.
	// WHY: Visibility is what stops two workers syncing the same seller.
	q := newQ(t, vtq.Options{Visibility: time.Second})
	ctx := context.Background()

	if err := q.Publish(ctx, "seller-1", []byte("payload")); err != nil {
		t.Fatal(err)
	}

	job, err := q.Claim(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if job == nil {
		t.Fatal("expected a job")
	}
	if job.ID != "seller-1" || string(job.Payload) != "payload" || job.Attempts != 1 {
		t.Fatalf("unexpected job %+v", job)
	}

	again, err := q.Claim(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if again != nil {
		t.Fatal("claimed an invisible job")
	}
}

func TestPublishDeduplicates(t *testing.T) {
	// WHAT: Publishing the same ID twice leaves one queued job.
	// WHY: A sync trigger while one is in-flight must be a no-op, not a queue.
	q := newQ(t, vtq.Options{})
	ctx := context.Background()

	q.Publish(ctx, "seller-1", nil)
	q.Publish(ctx, "seller-1", nil)

	n, err := q.Len(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("queue length = %d, want 1", n)
	}
}

func TestNackDelaysRedelivery(t *testing.T) {
	// WHAT: A nacked job is invisible until its delay elapses.
	// WHY: Failed seller syncs back off instead of hot-looping the source API.
	q := newQ(t, vtq.Options{Visibility: time.Second})
	ctx := context.Background()

	q.Publish(ctx, "j1", nil)
	job, _ := q.Claim(ctx)
	if job == nil {
		t.Fatal("expected job")
	}

	if err := q.Nack(ctx, job.ID, 50*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if j, _ := q.Claim(ctx); j != nil {
		t.Fatal("job visible before nack delay elapsed")
	}

	time.Sleep(80 * time.Millisecond)
	j, err := q.Claim(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if j == nil {
		t.Fatal("job not redelivered after delay")
	}
	if j.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", j.Attempts)
	}
}

func TestAckRemoves(t *testing.T) {
	// WHAT: Ack deletes the job permanently.
	// WHY: A completed sync must not reappear after the visibility timeout.
	q := newQ(t, vtq.Options{Visibility: 10 * time.Millisecond})
	ctx := context.Background()

	q.Publish(ctx, "j1", nil)
	job, _ := q.Claim(ctx)
	if err := q.Ack(ctx, job.ID); err != nil {
		t.Fatal(err)
	}

	time.Sleep(30 * time.Millisecond)
	if j, _ := q.Claim(ctx); j != nil {
		t.Fatal("acked job reappeared")
	}
}

func TestRunDiscardsAfterMaxAttempts(t *testing.T) {
	// WHAT: Run drops a job once attempts exceed MaxAttempts.
	// WHY: Bounded retry — a permanently failing seller must not loop forever.
	q := newQ(t, vtq.Options{
		Visibility:   time.Hour, // irrelevant, handler nacks explicitly
		PollInterval: 5 * time.Millisecond,
		MaxAttempts:  2,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	q.Publish(ctx, "bad", nil)

	calls := 0
	done := make(chan struct{})
	go func() {
		q.Run(ctx, func(ctx context.Context, job *vtq.Job) error {
			calls++
			return errors.New("always fails")
		})
		close(done)
	}()

	deadline := time.After(1500 * time.Millisecond)
	for {
		n, _ := q.Len(ctx)
		if n == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("job never discarded")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done

	if calls != 2 {
		t.Errorf("handler calls = %d, want 2", calls)
	}
}

func TestRetryAfterUnwraps(t *testing.T) {
	// WHAT: RetryAfter exposes the wrapped error through errors.Is.
	// WHY: Callers classify sync failures (auth vs transient) through wraps.
	base := errors.New("transient")
	ra := &vtq.RetryAfter{Err: base, Delay: time.Second}
	if !errors.Is(ra, base) {
		t.Error("RetryAfter does not unwrap to base error")
	}
}
