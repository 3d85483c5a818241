package bufferpool

import (
	"errors"
	"testing"
	"time"

	"txbtree/internal/dberr"
	"txbtree/internal/lockmgr"
	"txbtree/internal/pageid"
)

// fakePage and fakeStore give the buffer pool something to cache and
// evict without pulling in the full B+tree page codec.
type fakePage struct {
	id      pageid.PageID
	dirty   bool
	by      pageid.TransactionID
	written int
}

func (p *fakePage) ID() pageid.PageID { return p.id }
func (p *fakePage) IsDirty() (bool, pageid.TransactionID) { return p.dirty, p.by }
func (p *fakePage) MarkDirty(dirty bool, by pageid.TransactionID) {
	p.dirty = dirty
	if dirty {
		p.by = by
	} else {
		p.by = 0
	}
}

type fakeStore struct {
	pages map[pageid.PageID]*fakePage
}

func newFakeStore() *fakeStore { return &fakeStore{pages: make(map[pageid.PageID]*fakePage)} }

func (s *fakeStore) ReadPage(id pageid.PageID) (Page, error) {
	if p, ok := s.pages[id]; ok {
		return &fakePage{id: p.id}, nil
	}
	p := &fakePage{id: id}
	s.pages[id] = p
	return &fakePage{id: id}, nil
}

func (s *fakeStore) WritePage(p Page) error {
	fp := p.(*fakePage)
	fp.written++
	s.pages[fp.id] = fp
	return nil
}

func pid(n int32) pageid.PageID { return pageid.PageID{TableID: 1, PageNum: n, Cat: pageid.Leaf} }

func TestGetPageCacheHitAvoidsSecondRead(t *testing.T) {
	store := newFakeStore()
	bp := New(4, store, lockmgr.New())

	p1, err := bp.GetPage(1, pid(1), pageid.ReadOnly)
	if err != nil {
		t.Fatalf("first fetch failed: %v", err)
	}
	p2, err := bp.GetPage(1, pid(1), pageid.ReadOnly)
	if err != nil {
		t.Fatalf("second fetch failed: %v", err)
	}
	if p1 != p2 {
		t.Fatalf("expected the same cached page instance on a hit")
	}
}

func TestEvictionSkipsDirtyPages(t *testing.T) {
	store := newFakeStore()
	bp := New(2, store, lockmgr.New())

	p1, _ := bp.GetPage(1, pid(1), pageid.ReadWrite)
	p1.MarkDirty(true, 1)
	bp.UnpinPage(pid(1))

	p2, _ := bp.GetPage(1, pid(2), pageid.ReadOnly)
	bp.UnpinPage(pid(2))

	// Pool is now full (2/2), page 1 dirty and unpinned, page 2 clean and
	// unpinned. A third fetch must evict page 2, not the dirty page 1.
	_, err := bp.GetPage(1, pid(3), pageid.ReadOnly)
	if err != nil {
		t.Fatalf("fetch requiring eviction failed: %v", err)
	}
	if bp.Size() != 2 {
		t.Fatalf("expected pool to stay at capacity 2, got %d", bp.Size())
	}
	if _, ok := bp.frames[pid(1)]; !ok {
		t.Fatalf("dirty page 1 should not have been evicted")
	}
	_ = p2
}

func TestEvictionFailsWhenAllPinnedOrDirty(t *testing.T) {
	store := newFakeStore()
	bp := New(1, store, lockmgr.New())

	p1, _ := bp.GetPage(1, pid(1), pageid.ReadWrite)
	p1.MarkDirty(true, 1)

	_, err := bp.GetPage(1, pid(2), pageid.ReadOnly)
	if err == nil {
		t.Fatalf("expected eviction to fail with the only page pinned and dirty")
	}
}

func TestTransactionCompleteAbortDiscardsWithoutFlush(t *testing.T) {
	store := newFakeStore()
	bp := New(4, store, lockmgr.New())

	p1, _ := bp.GetPage(1, pid(1), pageid.ReadWrite)
	p1.MarkDirty(true, 1)
	bp.UnpinPage(pid(1))

	if err := bp.TransactionComplete(1, false); err != nil {
		t.Fatalf("abort failed: %v", err)
	}
	if bp.Size() != 0 {
		t.Fatalf("expected the dirty page to be discarded, pool size=%d", bp.Size())
	}
	if store.pages[pid(1)].written != 0 {
		t.Fatalf("abort must never flush a dirty page to the store")
	}
}

func TestTransactionCompleteCommitFlushes(t *testing.T) {
	store := newFakeStore()
	bp := New(4, store, lockmgr.New())

	p1, _ := bp.GetPage(1, pid(1), pageid.ReadWrite)
	p1.MarkDirty(true, 1)
	bp.UnpinPage(pid(1))

	if err := bp.TransactionComplete(1, true); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	dirty, _ := p1.IsDirty()
	if dirty {
		t.Fatalf("committed page should be clean")
	}
}

// TestMutualUpgradeDeadlockResolves replays spec.md §8 scenario 6: two
// transactions each hold a read lock on the same page and both try to
// upgrade to a write lock. Neither can be the sole reader the other
// still holds, so both wait and the loser times out; per
// dberr.TransactionAborted's contract the loser is expected to abort via
// TransactionComplete(tid, false) — which releases its read lock too —
// and retry, at which point it becomes the sole reader and the upgrade
// resolves. Exactly one of the two must finish, within two timeout
// intervals, and neither may block indefinitely.
func TestMutualUpgradeDeadlockResolves(t *testing.T) {
	store := newFakeStore()
	locks := lockmgr.New()
	locks.Timeout = 30 * time.Millisecond
	bp := New(4, store, locks)
	page := pid(1)

	attemptUpgrade := func(tid pageid.TransactionID) error {
		for round := 0; round < 2; round++ {
			if _, err := bp.GetPage(tid, page, pageid.ReadOnly); err != nil {
				return err
			}
			_, err := bp.GetPage(tid, page, pageid.ReadWrite)
			if err == nil {
				return nil
			}
			var aborted *dberr.TransactionAborted
			if !errors.As(err, &aborted) {
				return err
			}
			if cerr := bp.TransactionComplete(tid, false); cerr != nil {
				return cerr
			}
		}
		return dberr.NewTransactionAborted(int64(tid), "did not resolve within two timeout intervals")
	}

	type result struct {
		tid pageid.TransactionID
		err error
	}
	results := make(chan result, 2)
	for _, tid := range []pageid.TransactionID{1, 2} {
		tid := tid
		go func() { results <- result{tid, attemptUpgrade(tid)} }()
	}

	succeeded, failed := 0, 0
	for i := 0; i < 2; i++ {
		select {
		case r := <-results:
			if r.err == nil {
				succeeded++
			} else {
				failed++
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("mutual upgrade never resolved: a transaction blocked indefinitely")
		}
	}
	if succeeded != 1 || failed != 1 {
		t.Fatalf("expected exactly one transaction to complete the upgrade and one to abort, got succeeded=%d failed=%d", succeeded, failed)
	}
}
