package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestStartupScanEnqueuesUnseenPDFs(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.pdf"), []byte("%PDF-1.4"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "ignore.txt"), []byte("not a pdf"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	var mu sync.Mutex
	var enqueued []string
	m, err := New(Config{Dir: dir, DebounceMillis: 10, StableChecks: 1}, func(ctx context.Context, path string) {
		mu.Lock()
		enqueued = append(enqueued, path)
		mu.Unlock()
	}, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(enqueued) != 1 || filepath.Base(enqueued[0]) != "a.pdf" {
		t.Fatalf("expected exactly a.pdf enqueued, got %v", enqueued)
	}
}

func TestSeenFuncSkipsAlreadyIngested(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.pdf"), []byte("%PDF-1.4"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	var called bool
	m, err := New(Config{Dir: dir, DebounceMillis: 10, StableChecks: 1}, func(ctx context.Context, path string) {
		called = true
	}, func(path string) bool { return true }, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	time.Sleep(50 * time.Millisecond)
	if called {
		t.Fatalf("expected seen file to not be enqueued")
	}
}

func TestNewPDFCreatedWhileRunningIsEnqueued(t *testing.T) {
	dir := t.TempDir()

	var mu sync.Mutex
	var enqueued []string
	m, err := New(Config{Dir: dir, DebounceMillis: 20, StableChecks: 1}, func(ctx context.Context, path string) {
		mu.Lock()
		enqueued = append(enqueued, path)
		mu.Unlock()
	}, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	target := filepath.Join(dir, "new.pdf")
	if err := os.WriteFile(target, []byte("%PDF-1.4"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(enqueued)
		mu.Unlock()
		if n >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for new.pdf to be enqueued")
		case <-time.After(20 * time.Millisecond):
		}
	}
}
