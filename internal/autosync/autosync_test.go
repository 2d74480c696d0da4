package autosync

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	stocksync "github.com/stockly-app/stockly/internal/sync"
)

type fakeSyncer struct {
	all  atomic.Int32
	push atomic.Int32
}

func (f *fakeSyncer) SyncAll(context.Context) (*stocksync.SyncResult, error) {
	f.all.Add(1)
	return &stocksync.SyncResult{}, nil
}

func (f *fakeSyncer) Push(context.Context) (*stocksync.SyncResult, error) {
	f.push.Add(1)
	return &stocksync.SyncResult{}, nil
}

type fixedPending int

func (p fixedPending) CountPending() (int, error) { return int(p), nil }

func quiet() Option {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// startDaemon runs d until the test ends and records each trigger.
func startDaemon(t *testing.T, d *Daemon) *triggerLog {
	t.Helper()
	log := &triggerLog{}
	d.OnResult = func(tr Trigger, _ *stocksync.SyncResult, _ error) { log.add(tr) }
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run: %v", err)
		}
	})
	return log
}

type triggerLog struct {
	mu  sync.Mutex
	got []Trigger
}

func (l *triggerLog) add(tr Trigger) {
	l.mu.Lock()
	l.got = append(l.got, tr)
	l.mu.Unlock()
}

func (l *triggerLog) count(tr Trigger) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, g := range l.got {
		if g == tr {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestOnStartAndInterval(t *testing.T) {
	s := &fakeSyncer{}
	d := New(Config{Interval: 20 * time.Millisecond, OnStart: true, Pull: true}, s, fixedPending(0), quiet())
	log := startDaemon(t, d)

	waitFor(t, "start trigger", func() bool { return log.count(TriggerStart) == 1 })
	waitFor(t, "two interval triggers", func() bool { return log.count(TriggerInterval) >= 2 })
	if s.push.Load() != 0 {
		t.Errorf("Pull enabled: sessions should use SyncAll, got %d push-only runs", s.push.Load())
	}
}

func TestPushOnlyWhenPullDisabled(t *testing.T) {
	s := &fakeSyncer{}
	d := New(Config{OnStart: true}, s, fixedPending(0), quiet())
	startDaemon(t, d)

	waitFor(t, "push-only session", func() bool { return s.push.Load() == 1 })
	if s.all.Load() != 0 {
		t.Errorf("SyncAll called %d times with pull disabled", s.all.Load())
	}
}

func TestStoreChangeIsDebounced(t *testing.T) {
	dir := t.TempDir()
	s := &fakeSyncer{}
	d := New(Config{Debounce: 100 * time.Millisecond, WatchDir: dir, WatchPrefix: "stockly.db"}, s, fixedPending(2), quiet())
	log := startDaemon(t, d)

	// Give the watcher a moment to register.
	time.Sleep(50 * time.Millisecond)
	path := filepath.Join(dir, "stockly.db-wal")
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte{byte(i)}, 0644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err := os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "change trigger", func() bool { return log.count(TriggerChange) >= 1 })
	time.Sleep(250 * time.Millisecond)
	if n := log.count(TriggerChange); n != 1 {
		t.Errorf("burst of writes triggered %d sessions, want 1", n)
	}
}

func TestStoreChangeWithoutPendingSkips(t *testing.T) {
	dir := t.TempDir()
	s := &fakeSyncer{}
	d := New(Config{Debounce: 20 * time.Millisecond, WatchDir: dir}, s, fixedPending(0), quiet())
	log := startDaemon(t, d)

	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(dir, "stockly.db"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	if n := log.count(TriggerChange); n != 0 {
		t.Errorf("no pending items, got %d change sessions", n)
	}
}

type countingPending struct{ n atomic.Int32 }

func (p *countingPending) CountPending() (int, error) { return int(p.n.Load()), nil }

// touchingSyncer writes to the store like a real session does and leaves
// every item pending.
type touchingSyncer struct {
	fakeSyncer
	path string
}

func (s *touchingSyncer) Push(ctx context.Context) (*stocksync.SyncResult, error) {
	os.WriteFile(s.path, []byte("session"), 0644)
	return s.fakeSyncer.Push(ctx)
}

func TestOwnSessionWritesDoNotRetrigger(t *testing.T) {
	dir := t.TempDir()
	pending := &countingPending{}
	pending.n.Store(2)
	s := &touchingSyncer{path: filepath.Join(dir, "stockly.db-wal")}
	d := New(Config{Debounce: 30 * time.Millisecond, WatchDir: dir, WatchPrefix: "stockly.db"}, s, pending, quiet())
	log := startDaemon(t, d)

	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(dir, "stockly.db"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "change trigger", func() bool { return log.count(TriggerChange) == 1 })
	time.Sleep(300 * time.Millisecond)
	if n := log.count(TriggerChange); n != 1 {
		t.Fatalf("stuck items re-synced %d times, want 1", n)
	}

	// A new local write raises the pending count and syncs again.
	pending.n.Add(1)
	if err := os.WriteFile(filepath.Join(dir, "stockly.db"), []byte("y"), 0644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "second change trigger", func() bool { return log.count(TriggerChange) == 2 })
}

func TestReconnectTriggersSync(t *testing.T) {
	var reachable atomic.Bool
	probe := func(context.Context) error {
		if reachable.Load() {
			return nil
		}
		return errors.New("connection refused")
	}
	s := &fakeSyncer{}
	d := New(Config{ProbeInterval: 15 * time.Millisecond}, s, fixedPending(0), quiet(), WithProbe(probe))
	log := startDaemon(t, d)

	waitFor(t, "offline", func() bool { return !d.Online() })
	if log.count(TriggerReconnect) != 0 {
		t.Fatal("going offline must not trigger a session")
	}

	reachable.Store(true)
	waitFor(t, "reconnect trigger", func() bool { return log.count(TriggerReconnect) == 1 })
	time.Sleep(60 * time.Millisecond)
	if n := log.count(TriggerReconnect); n != 1 {
		t.Errorf("staying online triggered %d reconnect sessions, want 1", n)
	}
	if !d.Online() {
		t.Error("daemon should report online")
	}
}
