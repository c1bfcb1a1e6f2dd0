// Package watch monitors a directory tree for new or modified PDFs
// and enqueues them into the document pipeline, idempotently and
// without dropping events under backpressure.
package watch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sirupsen/logrus"
)

// EnqueueFunc hands a stable, readable PDF path to the pipeline. It
// must block while the pipeline's queue is full rather than drop the
// path, per the monitor's backpressure contract.
type EnqueueFunc func(ctx context.Context, path string)

// SeenFunc reports whether a PDF at path is already represented by an
// active ProcessingVersion for its content hash, so the startup scan
// doesn't re-enqueue already-ingested files.
type SeenFunc func(path string) bool

// Monitor is the PDF watcher: an fsnotify.Watcher over one directory,
// with a per-path debounce/stability window and an in-flight dedup
// set, following the same allocator/debounce-map/stopCh-doneCh shape
// used elsewhere in the pack for directory watching.
type Monitor struct {
	dir          string
	debounceDur  time.Duration
	stableChecks int
	enqueue      EnqueueFunc
	seen         SeenFunc
	log          *logrus.Entry

	mu        sync.Mutex
	inflight  map[string]struct{}
	lastEvent map[string]time.Time

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// Config configures a Monitor.
type Config struct {
	Dir            string
	DebounceMillis int
	StableChecks   int
}

// New builds a Monitor. enqueue hands off stable PDFs to the pipeline;
// seen lets the startup scan skip files already ingested.
func New(cfg Config, enqueue EnqueueFunc, seen SeenFunc, log *logrus.Entry) (*Monitor, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	debounce := time.Duration(cfg.DebounceMillis) * time.Millisecond
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	checks := cfg.StableChecks
	if checks <= 0 {
		checks = 1
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Monitor{
		dir:          cfg.Dir,
		debounceDur:  debounce,
		stableChecks: checks,
		enqueue:      enqueue,
		seen:         seen,
		log:          log,
		inflight:     make(map[string]struct{}),
		lastEvent:    make(map[string]time.Time),
		watcher:      w,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}, nil
}

// Start scans the directory once for unseen PDFs, then begins
// reacting to filesystem events in a background goroutine. Non-blocking.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = true
	m.mu.Unlock()

	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return err
	}
	if err := m.watcher.Add(m.dir); err != nil {
		m.log.WithError(err).Warn("watch: initial directory watch failed, will retry on errors")
	}

	m.scanOnce(ctx)

	go m.run(ctx)
	return nil
}

// Stop halts the watcher and waits for its goroutine to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	close(m.stopCh)
	<-m.doneCh
	_ = m.watcher.Close()
}

func (m *Monitor) scanOnce(ctx context.Context) {
	_ = filepath.WalkDir(m.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !isPDF(path) {
			return nil
		}
		if m.seen != nil && m.seen(path) {
			return nil
		}
		m.waitStableThenEnqueue(ctx, path)
		return nil
	})
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.doneCh)

	debounceTicker := time.NewTicker(m.debounceDur / 2)
	defer debounceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.handleEvent(event)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.log.WithError(err).Warn("watch: fsnotify error, re-adding directory")
			_ = m.watcher.Add(m.dir)
		case <-debounceTicker.C:
			m.processSettled(ctx)
		}
	}
}

func (m *Monitor) handleEvent(event fsnotify.Event) {
	if !isPDF(event.Name) {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return
	}
	m.mu.Lock()
	m.lastEvent[event.Name] = time.Now()
	m.mu.Unlock()
}

// processSettled enqueues paths whose last event is past the debounce
// window, skipping any already in flight.
func (m *Monitor) processSettled(ctx context.Context) {
	m.mu.Lock()
	now := time.Now()
	var settled []string
	for path, t := range m.lastEvent {
		if now.Sub(t) < m.debounceDur {
			continue
		}
		if _, busy := m.inflight[path]; busy {
			continue
		}
		settled = append(settled, path)
		delete(m.lastEvent, path)
	}
	m.mu.Unlock()

	for _, path := range settled {
		m.waitStableThenEnqueue(ctx, path)
	}
}

// waitStableThenEnqueue verifies the file's size is unchanged across
// stableChecks debounce windows (write-completion heuristic) and is
// readable, then hands it to enqueue. Unreadable/still-changing files
// are skipped; a later modify event retries them.
func (m *Monitor) waitStableThenEnqueue(ctx context.Context, path string) {
	m.mu.Lock()
	if _, busy := m.inflight[path]; busy {
		m.mu.Unlock()
		return
	}
	m.inflight[path] = struct{}{}
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.inflight, path)
		m.mu.Unlock()
	}()

	var lastSize int64 = -1
	for i := 0; i <= m.stableChecks; i++ {
		info, err := os.Stat(path)
		if err != nil {
			m.log.WithError(err).WithField("path", path).Warn("watch: file unreadable, skipping")
			return
		}
		if lastSize >= 0 && info.Size() != lastSize {
			m.log.WithField("path", path).Warn("watch: file still changing, skipping")
			return
		}
		if i == m.stableChecks {
			break
		}
		lastSize = info.Size()
		select {
		case <-ctx.Done():
			return
		case <-time.After(m.debounceDur):
		}
	}

	f, err := os.Open(path)
	if err != nil {
		m.log.WithError(err).WithField("path", path).Warn("watch: file unreadable, skipping")
		return
	}
	_ = f.Close()

	m.enqueue(ctx, path) // blocks under backpressure by contract
}

func isPDF(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}
