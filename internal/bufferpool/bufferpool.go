// Package bufferpool is the sole gateway to page I/O and lock acquisition:
// callers never touch the page store or the lock manager directly. It is
// generalized from DaemonDB's storage_engine/bufferpool package — same
// map-plus-LRU-slice cache shape, same FetchPage/UnpinPage/FlushPage/
// FlushAllPages method set and "[BufferPool] HIT/MISS/EVICT/FLUSH" trace
// idiom — extended to gate every fetch through a lock manager first and to
// support NO-STEAL transaction commit/abort semantics, neither of which
// the original package has any notion of.
package bufferpool

import (
	"fmt"
	"sync"

	"txbtree/internal/dberr"
	"txbtree/internal/lockmgr"
	"txbtree/internal/pageid"
	"txbtree/internal/xlog"
)

// Page is the minimal contract a cached page must satisfy: identity and
// dirty-marking with the owning transaction. Concrete page kinds
// (root-pointer/internal/leaf/header) live in package btree; the store
// itself is responsible for their on-disk encoding.
type Page interface {
	ID() pageid.PageID
	IsDirty() (dirty bool, by pageid.TransactionID)
	MarkDirty(dirty bool, by pageid.TransactionID)
}

// PageStore reads and writes whole pages by id; the B+tree file
// implements this against its underlying os.File.
type PageStore interface {
	ReadPage(id pageid.PageID) (Page, error)
	WritePage(p Page) error
}

type frame struct {
	page     Page
	pinCount int
}

// BufferPool caches up to Capacity pages, evicting the least-recently-used
// unpinned, non-dirty page when full (NO-STEAL: a dirty page is never
// written out from under a transaction that has not committed).
type BufferPool struct {
	mu          sync.Mutex
	capacity    int
	frames      map[pageid.PageID]*frame
	accessOrder []pageid.PageID
	store       PageStore
	locks       *lockmgr.LockManager
}

func New(capacity int, store PageStore, locks *lockmgr.LockManager) *BufferPool {
	return &BufferPool{
		capacity:    capacity,
		frames:      make(map[pageid.PageID]*frame, capacity),
		accessOrder: make([]pageid.PageID, 0, capacity),
		store:       store,
		locks:       locks,
	}
}

// SetStore wires the pool's backing store after construction, for callers
// where the store itself (a B+tree file) needs a live pool to be built
// first. It is a one-time wiring step, not meant to be called once the
// pool is already serving pages.
func (bp *BufferPool) SetStore(store PageStore) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	bp.store = store
}

// GetPage acquires the appropriate lock for perm and returns the page,
// pinned, loading it from the store on a cache miss. The lock is acquired
// before the cache is consulted, so a reader can never observe a page an
// uncommitted writer is still modifying.
func (bp *BufferPool) GetPage(tid pageid.TransactionID, id pageid.PageID, perm pageid.Permissions) (Page, error) {
	if err := bp.locks.Acquire(tid, id, perm); err != nil {
		return nil, err
	}

	bp.mu.Lock()
	defer bp.mu.Unlock()

	if fr, ok := bp.frames[id]; ok {
		xlog.Tracef("BufferPool", "HIT  page=%s pinCount=%d", id, fr.pinCount)
		bp.touch(id)
		fr.pinCount++
		return fr.page, nil
	}

	xlog.Tracef("BufferPool", "MISS page=%s — loading from store", id)
	page, err := bp.store.ReadPage(id)
	if err != nil {
		return nil, dberr.Wrap(err, "failed to read page %s", id)
	}
	if err := bp.addFrame(page); err != nil {
		return nil, err
	}
	bp.frames[id].pinCount++
	return page, nil
}

// AddNewPage registers a page the caller just allocated (via the B+tree
// file's free-page management) so it participates in eviction and flush,
// pinned once for the caller. It does not consult the store, matching
// DaemonDB's NewPage: the page exists only in memory until first flushed.
func (bp *BufferPool) AddNewPage(page Page) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	if err := bp.addFrame(page); err != nil {
		return err
	}
	bp.frames[page.ID()].pinCount++
	return nil
}

// UnpinPage decrements a page's pin count. Once unpinned to zero the page
// becomes eligible for eviction.
func (bp *BufferPool) UnpinPage(id pageid.PageID) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	fr, ok := bp.frames[id]
	if !ok {
		return dberr.Newf("page %s not in buffer pool", id)
	}
	if fr.pinCount > 0 {
		fr.pinCount--
	}
	return nil
}

// FlushPage writes a page to the store if dirty, then clears its dirty bit.
func (bp *BufferPool) FlushPage(id pageid.PageID) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return bp.flushLocked(id)
}

func (bp *BufferPool) flushLocked(id pageid.PageID) error {
	fr, ok := bp.frames[id]
	if !ok {
		return nil
	}
	dirty, _ := fr.page.IsDirty()
	if !dirty {
		return nil
	}
	xlog.Tracef("BufferPool", "FLUSH page=%s", id)
	if err := bp.store.WritePage(fr.page); err != nil {
		return dberr.Wrap(err, "failed to flush page %s", id)
	}
	fr.page.MarkDirty(false, 0)
	return nil
}

// FlushAllPages writes every dirty page to the store.
func (bp *BufferPool) FlushAllPages() error {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	xlog.Tracef("BufferPool", "FlushAllPages — pool size=%d", len(bp.frames))
	for id := range bp.frames {
		if err := bp.flushLocked(id); err != nil {
			return err
		}
	}
	return nil
}

// FlushPages writes every dirty page a specific transaction touched, used
// on commit before locks are released.
func (bp *BufferPool) FlushPages(tid pageid.TransactionID) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	for id, fr := range bp.frames {
		if dirty, by := fr.page.IsDirty(); dirty && by == tid {
			if err := bp.flushLocked(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// DiscardPage evicts a page from the cache without flushing it, regardless
// of pin count or dirty bit. Used on abort (NO-STEAL means an aborted
// transaction's writes never reached the store, so simply forgetting the
// in-memory copy suffices) and, per spec.md §4.2, by the B+tree's free-page
// management: a page number handed back to the free list must never leave
// a stale frame behind for a later reuse of that same number to collide
// with, mirroring DaemonDB's BufferPool.DeletePage, used after deletion.
func (bp *BufferPool) DiscardPage(id pageid.PageID) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	bp.discardPage(id)
}

// discardPage is DiscardPage's implementation. Caller must hold bp.mu.
func (bp *BufferPool) discardPage(id pageid.PageID) {
	delete(bp.frames, id)
	for i, pid := range bp.accessOrder {
		if pid == id {
			bp.accessOrder = append(bp.accessOrder[:i], bp.accessOrder[i+1:]...)
			break
		}
	}
}

// HoldsLock reports whether tid currently holds any lock on id, passing
// through to the lock manager. Exposed per spec.md §4.2, which lists
// holds_lock(tid,pid) as a BufferPool auxiliary operation used by tests.
func (bp *BufferPool) HoldsLock(tid pageid.TransactionID, id pageid.PageID) bool {
	return bp.locks.HoldsLock(tid, id)
}

// TransactionComplete implements commit (flush then release) or abort
// (discard then release) for every page the transaction touched, mirroring
// simpledb.storage.BufferPool#transactionComplete(tid, commit).
func (bp *BufferPool) TransactionComplete(tid pageid.TransactionID, commit bool) error {
	if commit {
		if err := bp.FlushPages(tid); err != nil {
			return err
		}
	} else {
		bp.mu.Lock()
		for id, fr := range bp.frames {
			if dirty, by := fr.page.IsDirty(); dirty && by == tid {
				bp.discardPage(id)
			}
		}
		bp.mu.Unlock()
	}
	bp.locks.ReleaseAll(tid)
	return nil
}

// addFrame inserts page into the cache, evicting if at capacity. Caller
// must hold bp.mu.
func (bp *BufferPool) addFrame(page Page) error {
	if fr, ok := bp.frames[page.ID()]; ok {
		bp.touch(page.ID())
		_ = fr
		return nil
	}
	if len(bp.frames) >= bp.capacity {
		if err := bp.evictLRU(); err != nil {
			return err
		}
	}
	bp.frames[page.ID()] = &frame{page: page}
	bp.touch(page.ID())
	return nil
}

// evictLRU evicts the least-recently-used pinned=0, dirty=false page.
// Caller must hold bp.mu. Dirty pages are never evicted (NO-STEAL): if
// every cached page is either pinned or dirty, eviction fails and the
// caller must abort rather than force a partial write to disk.
func (bp *BufferPool) evictLRU() error {
	for i := 0; i < len(bp.accessOrder); i++ {
		id := bp.accessOrder[i]
		fr, ok := bp.frames[id]
		if !ok {
			bp.accessOrder = append(bp.accessOrder[:i], bp.accessOrder[i+1:]...)
			i--
			continue
		}
		if fr.pinCount > 0 {
			continue
		}
		if dirty, _ := fr.page.IsDirty(); dirty {
			continue
		}
		xlog.Tracef("BufferPool", "EVICT page=%s", id)
		delete(bp.frames, id)
		bp.accessOrder = append(bp.accessOrder[:i], bp.accessOrder[i+1:]...)
		return nil
	}
	return dberr.Newf("all pages are pinned or dirty, cannot evict")
}

func (bp *BufferPool) touch(id pageid.PageID) {
	for i, pid := range bp.accessOrder {
		if pid == id {
			bp.accessOrder = append(bp.accessOrder[:i], bp.accessOrder[i+1:]...)
			break
		}
	}
	bp.accessOrder = append(bp.accessOrder, id)
}

// Size reports the number of pages currently cached.
func (bp *BufferPool) Size() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.frames)
}

func (bp *BufferPool) String() string {
	return fmt.Sprintf("BufferPool{size=%d/%d}", bp.Size(), bp.capacity)
}
