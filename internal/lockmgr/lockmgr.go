// Package lockmgr implements page-granularity strict two-phase locking
// with timeout-based deadlock resolution: a transaction that cannot
// acquire a lock before its timeout elapses is told to abort and retry,
// rather than being deadlock-detected.
//
// The waiting mechanics (spawn a goroutine that blocks on sync.Cond.Wait,
// race it against a time.Timer via select) are grounded on
// ryuju0911-simpledb-in-go's LockTable. That implementation tracks lock
// state per block with no notion of which transaction holds what, which
// is enough for its own SLock/XLock pair but not for upgrade semantics or
// for discovering "all pages touched by transaction T" on commit/abort.
// This LockManager adds explicit per-page reader sets and a
// per-transaction held-page index to support both.
package lockmgr

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"txbtree/internal/dberr"
	"txbtree/internal/pageid"
)

// DefaultTimeout is the base wait before a lock request aborts. A random
// jitter of up to timeout/4 is added per request so two transactions
// deadlocked on each other do not time out in lockstep and immediately
// re-deadlock on retry.
const DefaultTimeout = 500 * time.Millisecond

type lockState struct {
	readers map[pageid.TransactionID]bool
	writer  pageid.TransactionID // 0 means no writer; transaction ids are expected to be > 0
}

func (s *lockState) hasWriter() bool { return s.writer != 0 }
func (s *lockState) soleReaderIs(tid pageid.TransactionID) bool {
	return len(s.readers) == 1 && s.readers[tid]
}

// LockManager grants and tracks shared/exclusive page locks for
// transactions, and can report or release everything a transaction holds.
type LockManager struct {
	mu      sync.Mutex
	cond    *sync.Cond
	locks   map[pageid.PageID]*lockState
	held    map[pageid.TransactionID]map[pageid.PageID]bool
	Timeout time.Duration
}

func New() *LockManager {
	lm := &LockManager{
		locks:   make(map[pageid.PageID]*lockState),
		held:    make(map[pageid.TransactionID]map[pageid.PageID]bool),
		Timeout: DefaultTimeout,
	}
	lm.cond = sync.NewCond(&lm.mu)
	return lm
}

func (lm *LockManager) jitteredTimeout() time.Duration {
	jitter := time.Duration(rand.Int63n(int64(lm.Timeout)/4 + 1))
	return lm.Timeout + jitter
}

// Acquire blocks until tid holds a lock of at least perm on pid, or returns
// a *dberr.TransactionAborted if the timeout elapses first.
func (lm *LockManager) Acquire(tid pageid.TransactionID, pid pageid.PageID, perm pageid.Permissions) error {
	if perm == pageid.ReadWrite {
		return lm.acquireExclusive(tid, pid)
	}
	return lm.acquireShared(tid, pid)
}

func (lm *LockManager) acquireShared(tid pageid.TransactionID, pid pageid.PageID) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	deadline := time.NewTimer(lm.jitteredTimeout())
	defer deadline.Stop()

	for {
		st := lm.stateFor(pid)
		if st.readers[tid] || st.writer == tid {
			lm.recordHeld(tid, pid)
			return nil
		}
		if !st.hasWriter() {
			st.readers[tid] = true
			lm.recordHeld(tid, pid)
			return nil
		}
		if err := lm.wait(deadline); err != nil {
			return dberr.NewTransactionAborted(int64(tid), fmt.Sprintf("timed out waiting for read lock on %s", pid))
		}
	}
}

func (lm *LockManager) acquireExclusive(tid pageid.TransactionID, pid pageid.PageID) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	deadline := time.NewTimer(lm.jitteredTimeout())
	defer deadline.Stop()

	for {
		st := lm.stateFor(pid)
		if st.writer == tid {
			return nil
		}
		// Upgrade path: requester already holds the read lock. Grant the
		// upgrade only if it is the sole reader; otherwise it must wait
		// as a writer like any other requester, since granting the
		// upgrade while another reader is present would violate
		// exclusivity.
		if st.readers[tid] {
			if st.soleReaderIs(tid) && !st.hasWriter() {
				delete(st.readers, tid)
				st.writer = tid
				lm.recordHeld(tid, pid)
				return nil
			}
		} else if !st.hasWriter() && len(st.readers) == 0 {
			st.writer = tid
			lm.recordHeld(tid, pid)
			return nil
		}
		if err := lm.wait(deadline); err != nil {
			return dberr.NewTransactionAborted(int64(tid), fmt.Sprintf("timed out waiting for write lock on %s", pid))
		}
	}
}

// wait blocks on the condition variable until either it is signalled or
// the deadline fires, re-acquiring lm.mu before returning either way.
func (lm *LockManager) wait(deadline *time.Timer) error {
	woken := make(chan struct{})
	go func() {
		lm.cond.Wait()
		close(woken)
	}()

	select {
	case <-deadline.C:
		// cond.Wait has already released lm.mu and re-acquires it when
		// woken, so lm.mu is not unlocked here. Broadcast until the
		// goroutine (which may not have reached Wait yet) has woken and
		// holds lm.mu again, then hand it back to the caller.
		for {
			lm.cond.Broadcast()
			select {
			case <-woken:
				return dberr.NewTransactionAborted(0, "lock wait timed out")
			case <-time.After(time.Millisecond):
			}
		}
	case <-woken:
		return nil
	}
}

func (lm *LockManager) stateFor(pid pageid.PageID) *lockState {
	st, ok := lm.locks[pid]
	if !ok {
		st = &lockState{readers: make(map[pageid.TransactionID]bool)}
		lm.locks[pid] = st
	}
	return st
}

func (lm *LockManager) recordHeld(tid pageid.TransactionID, pid pageid.PageID) {
	set, ok := lm.held[tid]
	if !ok {
		set = make(map[pageid.PageID]bool)
		lm.held[tid] = set
	}
	set[pid] = true
}

// HoldsLock reports whether tid currently holds any lock on pid.
func (lm *LockManager) HoldsLock(tid pageid.TransactionID, pid pageid.PageID) bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	st, ok := lm.locks[pid]
	if !ok {
		return false
	}
	return st.readers[tid] || st.writer == tid
}

// Mode reports the mode tid currently holds pid in, if any: ReadWrite if
// tid is the writer, ReadOnly if tid is among the readers, ok=false if
// tid holds no lock on pid at all.
func (lm *LockManager) Mode(tid pageid.TransactionID, pid pageid.PageID) (pageid.Permissions, bool) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	st, ok := lm.locks[pid]
	if !ok {
		return 0, false
	}
	if st.writer == tid {
		return pageid.ReadWrite, true
	}
	if st.readers[tid] {
		return pageid.ReadOnly, true
	}
	return 0, false
}

// Release releases tid's lock on a single page.
func (lm *LockManager) Release(tid pageid.TransactionID, pid pageid.PageID) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.releaseLocked(tid, pid)
	lm.cond.Broadcast()
}

func (lm *LockManager) releaseLocked(tid pageid.TransactionID, pid pageid.PageID) {
	st, ok := lm.locks[pid]
	if !ok {
		return
	}
	delete(st.readers, tid)
	if st.writer == tid {
		st.writer = 0
	}
	if len(st.readers) == 0 && !st.hasWriter() {
		delete(lm.locks, pid)
	}
	if set, ok := lm.held[tid]; ok {
		delete(set, pid)
		if len(set) == 0 {
			delete(lm.held, tid)
		}
	}
}

// PagesHeldBy returns every page tid currently holds a lock on, used by
// the buffer pool at commit/abort time to find pages to flush or discard.
func (lm *LockManager) PagesHeldBy(tid pageid.TransactionID) []pageid.PageID {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	set := lm.held[tid]
	pages := make([]pageid.PageID, 0, len(set))
	for pid := range set {
		pages = append(pages, pid)
	}
	return pages
}

// ReleaseAll releases every lock tid holds, used on transaction commit or
// abort.
func (lm *LockManager) ReleaseAll(tid pageid.TransactionID) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	set := lm.held[tid]
	pages := make([]pageid.PageID, 0, len(set))
	for pid := range set {
		pages = append(pages, pid)
	}
	for _, pid := range pages {
		lm.releaseLocked(tid, pid)
	}
	lm.cond.Broadcast()
}
