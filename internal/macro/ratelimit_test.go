package macro

import (
	"context"
	"testing"
	"time"
)

func TestTokenBucketBurstThenBlocks(t *testing.T) {
	t.Parallel()

	tb := NewTokenBucket(2, 1000)
	ctx := context.Background()

	// Two tokens of burst are immediate.
	start := time.Now()
	for i := 0; i < 2; i++ {
		if err := tb.Wait(ctx); err != nil {
			t.Fatalf("Wait(%d): %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("burst took %v, want immediate", elapsed)
	}

	// The third token needs a refill; at 1000/s that is ~1ms, still
	// fast enough for a test but it must not error.
	if err := tb.Wait(ctx); err != nil {
		t.Fatalf("Wait after burst: %v", err)
	}
}

func TestTokenBucketClampsCapacity(t *testing.T) {
	t.Parallel()

	// A sub-1/s rate still admits a single request.
	tb := NewTokenBucket(0.2, 100)
	if err := tb.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestTokenBucketWaitHonoursCancellation(t *testing.T) {
	t.Parallel()

	tb := NewTokenBucket(1, 0.001) // next token is ~17 minutes away
	if err := tb.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := tb.Wait(ctx); err != context.DeadlineExceeded {
		t.Errorf("Wait err = %v, want context.DeadlineExceeded", err)
	}
}
