package suspend_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ghuser/eventcore/pkg/suspend"
)

func TestSuspend_ResolveDeliversValue(t *testing.T) {
	m := suspend.NewManager(nil)

	s, err := m.Suspend("corr-1", time.Second)
	if err != nil {
		t.Fatalf("suspend: %v", err)
	}

	go m.Resolve("corr-1", "answer")

	value, err := s.Await(context.Background())
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if value != "answer" {
		t.Fatalf("expected resolution value, got %v", value)
	}
	if m.PendingCount() != 0 {
		t.Fatalf("expected no pending entries, got %d", m.PendingCount())
	}
}

func TestSuspend_TimeoutWithinTolerance(t *testing.T) {
	m := suspend.NewManager(nil)

	const timeout = 50 * time.Millisecond
	s, err := m.Suspend("corr-t", timeout)
	if err != nil {
		t.Fatalf("suspend: %v", err)
	}

	start := time.Now()
	_, err = s.Await(context.Background())
	elapsed := time.Since(start)

	if !errors.Is(err, suspend.ErrTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	var timeoutErr *suspend.TimeoutError
	if !errors.As(err, &timeoutErr) || timeoutErr.CorrelationID != "corr-t" {
		t.Fatalf("expected *TimeoutError carrying the correlation id, got %v", err)
	}
	if elapsed < timeout || elapsed > timeout+200*time.Millisecond {
		t.Fatalf("timeout fired at %s, want ~%s", elapsed, timeout)
	}

	// The correlation is gone: a late resolve is a no-op.
	if m.Resolve("corr-t", "late") {
		t.Fatal("expected late resolve to be a no-op")
	}
}

func TestCancel(t *testing.T) {
	m := suspend.NewManager(nil)

	s, err := m.Suspend("corr-c", time.Minute)
	if err != nil {
		t.Fatalf("suspend: %v", err)
	}
	if !m.Cancel("corr-c") {
		t.Fatal("expected cancel to settle the waiter")
	}

	_, err = s.Await(context.Background())
	if !errors.Is(err, suspend.ErrCancelled) {
		t.Fatalf("expected cancellation error, got %v", err)
	}
}

func TestResolve_UnknownID(t *testing.T) {
	m := suspend.NewManager(nil)
	if m.Resolve("never-suspended", 1) {
		t.Fatal("expected no-op for unknown id")
	}
	if m.Cancel("never-suspended") {
		t.Fatal("expected no-op cancel for unknown id")
	}
}

func TestResolve_ExactlyOnce(t *testing.T) {
	m := suspend.NewManager(nil)

	s, _ := m.Suspend("corr-once", time.Minute)
	if !m.Resolve("corr-once", "first") {
		t.Fatal("first resolve should settle")
	}
	if m.Resolve("corr-once", "second") {
		t.Fatal("second resolve must be a no-op")
	}
	if m.Cancel("corr-once") {
		t.Fatal("cancel after resolve must be a no-op")
	}

	value, err := s.Await(context.Background())
	if err != nil || value != "first" {
		t.Fatalf("expected first resolution to win, got %v, %v", value, err)
	}
}

func TestSuspend_DuplicateID(t *testing.T) {
	m := suspend.NewManager(nil)

	if _, err := m.Suspend("dup", time.Minute); err != nil {
		t.Fatalf("first suspend: %v", err)
	}
	if _, err := m.Suspend("dup", time.Minute); !errors.Is(err, suspend.ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}

	// After settling, the id can be reused.
	m.Resolve("dup", nil)
	if _, err := m.Suspend("dup", time.Minute); err != nil {
		t.Fatalf("reuse after settle: %v", err)
	}
}

func TestSuspend_InvalidArgs(t *testing.T) {
	m := suspend.NewManager(nil)

	if _, err := m.Suspend("", time.Second); !errors.Is(err, suspend.ErrEmptyID) {
		t.Fatalf("expected ErrEmptyID, got %v", err)
	}
	if _, err := m.Suspend("x", 0); !errors.Is(err, suspend.ErrNonPositive) {
		t.Fatalf("expected ErrNonPositive, got %v", err)
	}
}

func TestAwait_CallerContext(t *testing.T) {
	m := suspend.NewManager(nil)

	s, _ := m.Suspend("corr-ctx", time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Await(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestCorrelations_Independent(t *testing.T) {
	m := suspend.NewManager(nil)

	first, _ := m.Suspend("first", time.Minute)
	second, _ := m.Suspend("second", time.Minute)

	m.Resolve("second", "two")

	// Resolving the second never affects the first's pending future.
	if m.PendingCount() != 1 {
		t.Fatalf("expected first still pending, count %d", m.PendingCount())
	}

	value, err := second.Await(context.Background())
	if err != nil || value != "two" {
		t.Fatalf("second: got %v, %v", value, err)
	}

	m.Resolve("first", "one")
	value, err = first.Await(context.Background())
	if err != nil || value != "one" {
		t.Fatalf("first: got %v, %v", value, err)
	}
}

func TestSuspend_ConcurrentSettlement(t *testing.T) {
	m := suspend.NewManager(nil)

	s, _ := m.Suspend("race", time.Minute)

	// Many goroutines race to settle; exactly one must win.
	var wins int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			var settled bool
			if n%2 == 0 {
				settled = m.Resolve("race", n)
			} else {
				settled = m.Cancel("race")
			}
			if settled {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one settlement, got %d", wins)
	}
	if _, err := s.Await(context.Background()); err != nil && !errors.Is(err, suspend.ErrCancelled) {
		t.Fatalf("unexpected await error: %v", err)
	}
}
