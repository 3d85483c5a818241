package lockmgr

import (
	"testing"
	"time"

	"txbtree/internal/dberr"
	"txbtree/internal/pageid"
)

func testPage() pageid.PageID {
	return pageid.PageID{TableID: 1, PageNum: 1, Cat: pageid.Leaf}
}

func TestSharedLocksAreCompatible(t *testing.T) {
	lm := New()
	pid := testPage()

	if err := lm.Acquire(1, pid, pageid.ReadOnly); err != nil {
		t.Fatalf("txn 1 failed to acquire read lock: %v", err)
	}
	if err := lm.Acquire(2, pid, pageid.ReadOnly); err != nil {
		t.Fatalf("txn 2 failed to acquire read lock: %v", err)
	}
}

func TestExclusiveLockExcludesReaders(t *testing.T) {
	lm := New()
	lm.Timeout = 50 * time.Millisecond
	pid := testPage()

	if err := lm.Acquire(1, pid, pageid.ReadWrite); err != nil {
		t.Fatalf("txn 1 failed to acquire write lock: %v", err)
	}

	err := lm.Acquire(2, pid, pageid.ReadOnly)
	if err == nil {
		t.Fatalf("expected txn 2 to time out waiting behind txn 1's write lock")
	}
	var aborted *dberr.TransactionAborted
	if !errorsAs(err, &aborted) {
		t.Fatalf("expected a TransactionAborted, got %v", err)
	}
}

func TestUpgradeGrantedWhenSoleReader(t *testing.T) {
	lm := New()
	pid := testPage()

	if err := lm.Acquire(1, pid, pageid.ReadOnly); err != nil {
		t.Fatalf("txn 1 failed to acquire read lock: %v", err)
	}
	if err := lm.Acquire(1, pid, pageid.ReadWrite); err != nil {
		t.Fatalf("expected sole reader's upgrade to be granted: %v", err)
	}
	if !lm.HoldsLock(1, pid) {
		t.Fatalf("txn 1 should hold the upgraded lock")
	}
}

func TestUpgradeWaitsWhenNotSoleReader(t *testing.T) {
	lm := New()
	lm.Timeout = 50 * time.Millisecond
	pid := testPage()

	if err := lm.Acquire(1, pid, pageid.ReadOnly); err != nil {
		t.Fatalf("txn 1 failed to acquire read lock: %v", err)
	}
	if err := lm.Acquire(2, pid, pageid.ReadOnly); err != nil {
		t.Fatalf("txn 2 failed to acquire read lock: %v", err)
	}

	err := lm.Acquire(1, pid, pageid.ReadWrite)
	if err == nil {
		t.Fatalf("expected txn 1's upgrade to time out with another reader present")
	}
}

func TestModeReportsCurrentLock(t *testing.T) {
	lm := New()
	pid := testPage()

	if _, ok := lm.Mode(1, pid); ok {
		t.Fatalf("expected no mode before any lock is acquired")
	}
	if err := lm.Acquire(1, pid, pageid.ReadOnly); err != nil {
		t.Fatalf("txn 1 failed to acquire read lock: %v", err)
	}
	if mode, ok := lm.Mode(1, pid); !ok || mode != pageid.ReadOnly {
		t.Fatalf("expected read-only mode, got %v ok=%v", mode, ok)
	}
	if err := lm.Acquire(1, pid, pageid.ReadWrite); err != nil {
		t.Fatalf("expected sole reader's upgrade to be granted: %v", err)
	}
	if mode, ok := lm.Mode(1, pid); !ok || mode != pageid.ReadWrite {
		t.Fatalf("expected read-write mode after upgrade, got %v ok=%v", mode, ok)
	}
}

func TestReleaseAllUnblocksWaiters(t *testing.T) {
	lm := New()
	lm.Timeout = 2 * time.Second
	pid := testPage()

	if err := lm.Acquire(1, pid, pageid.ReadWrite); err != nil {
		t.Fatalf("txn 1 failed to acquire write lock: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- lm.Acquire(2, pid, pageid.ReadWrite)
	}()

	time.Sleep(20 * time.Millisecond)
	lm.ReleaseAll(1)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("txn 2 should have acquired the lock after txn 1 released it: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("txn 2 never woke up after txn 1 released its lock")
	}
}

func errorsAs(err error, target **dberr.TransactionAborted) bool {
	e, ok := err.(*dberr.TransactionAborted)
	if ok {
		*target = e
	}
	return ok
}
