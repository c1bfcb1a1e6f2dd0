package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGetPutInvalidate(t *testing.T) {
	c := New(NewMemoryStore())
	ctx := context.Background()

	if _, ok := c.Get(ctx, "ocr", "fp1"); ok {
		t.Fatalf("expected miss before put")
	}
	c.Put(ctx, "ocr", "fp1", []byte("text"), time.Hour)
	v, ok := c.Get(ctx, "ocr", "fp1")
	if !ok || string(v) != "text" {
		t.Fatalf("expected hit with stored value, got %q ok=%v", v, ok)
	}

	c.Invalidate(ctx, "ocr", "fp1")
	if _, ok := c.Get(ctx, "ocr", "fp1"); ok {
		t.Fatalf("expected miss after invalidate")
	}
}

func TestExpiredEntryIsAMiss(t *testing.T) {
	c := New(NewMemoryStore())
	ctx := context.Background()
	c.Put(ctx, "ocr", "fp1", []byte("stale"), -time.Minute)
	if _, ok := c.Get(ctx, "ocr", "fp1"); ok {
		t.Fatalf("expected expired entry to be a miss")
	}
}

func TestInvalidateKind(t *testing.T) {
	c := New(NewMemoryStore())
	ctx := context.Background()
	c.Put(ctx, "ocr", "a", []byte("1"), time.Hour)
	c.Put(ctx, "ocr", "b", []byte("2"), time.Hour)
	c.Put(ctx, "analysis", "a", []byte("3"), time.Hour)

	c.InvalidateKind(ctx, "ocr")

	if _, ok := c.Get(ctx, "ocr", "a"); ok {
		t.Fatalf("expected ocr/a evicted")
	}
	if _, ok := c.Get(ctx, "ocr", "b"); ok {
		t.Fatalf("expected ocr/b evicted")
	}
	if _, ok := c.Get(ctx, "analysis", "a"); !ok {
		t.Fatalf("expected analysis/a untouched")
	}
}

func TestSingleflightDedupesConcurrentBuilds(t *testing.T) {
	c := New(NewMemoryStore())
	ctx := context.Background()

	var calls int32
	build := func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		return []byte("built"), nil
	}

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.Singleflight(ctx, "analysis", "fp", time.Hour, build)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			results[i] = string(v)
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly 1 build call, got %d", got)
	}
	for _, r := range results {
		if r != "built" {
			t.Fatalf("expected all callers to observe the built value, got %q", r)
		}
	}
}

func TestSingleflightDoesNotCacheFailure(t *testing.T) {
	c := New(NewMemoryStore())
	ctx := context.Background()
	boom := errors.New("build failed")

	_, err := c.Singleflight(ctx, "analysis", "fp", time.Hour, func(context.Context) ([]byte, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected build error to propagate, got %v", err)
	}
	if _, ok := c.Get(ctx, "analysis", "fp"); ok {
		t.Fatalf("expected failed build to not be cached")
	}
}
