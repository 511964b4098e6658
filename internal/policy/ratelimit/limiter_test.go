package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiter_Allow(t *testing.T) {
	l := New(Config{
		DefaultRPS:   1,
		DefaultBurst: 2,
	})

	// Burst of 2 admits the first two, then the bucket is dry.
	if !l.Allow("agent-a") {
		t.Fatal("first request should be admitted")
	}
	if !l.Allow("agent-a") {
		t.Fatal("second request should be admitted within the burst")
	}
	if l.Allow("agent-a") {
		t.Fatal("third request should be shed")
	}

	// Other keys carry their own buckets.
	if !l.Allow("agent-b") {
		t.Fatal("a fresh key should be admitted")
	}
}

func TestLimiter_AllowUnlimited(t *testing.T) {
	l := New(Config{})
	for i := 0; i < 100; i++ {
		if !l.Allow("anyone") {
			t.Fatalf("request %d shed by the unlimited config", i)
		}
	}
}

func TestLimiter_Wait(t *testing.T) {
	l := New(Config{
		DefaultRPS:   10, // one token every 100ms
		DefaultBurst: 1,
	})
	ctx := context.Background()

	if err := l.Wait(ctx, "lists.example"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	start := time.Now()
	if err := l.Wait(ctx, "lists.example"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dur := time.Since(start); dur < 80*time.Millisecond {
		t.Errorf("expected wait ~100ms, got %v", dur)
	}
}

func TestLimiter_WaitHonorsContext(t *testing.T) {
	l := New(Config{
		DefaultRPS:   1,
		DefaultBurst: 1,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := l.Wait(ctx, "lists.example"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := l.Wait(ctx, "lists.example"); err == nil {
		t.Fatal("expected a context error once the bucket is dry")
	}
}

func TestLimiter_DifferentKeys(t *testing.T) {
	l := New(Config{
		DefaultRPS:   1,
		DefaultBurst: 1,
	})
	ctx := context.Background()

	if err := l.Wait(ctx, "a.example"); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	if err := l.Wait(ctx, "b.example"); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Error("key b blocked by key a's bucket")
	}
}
