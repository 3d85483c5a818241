package btree

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/cespare/xxhash/v2"

	"txbtree/internal/bufferpool"
	"txbtree/internal/dberr"
	"txbtree/internal/dbiface"
	"txbtree/internal/pageid"
	"txbtree/internal/tuple"
	"txbtree/internal/xlog"
)

// File satisfies dbiface.DbFile: its table id is the same stable,
// path-derived id a Catalog would otherwise have to hand out itself.
var _ dbiface.DbFile = (*File)(nil)

// dirtySet is the transaction-local cache threaded explicitly through one
// top-level Insert/Delete call: it takes precedence over the buffer pool
// for the duration of that call so a recursive descent always observes
// its own uncommitted writes to a page, mirroring the dirtypages
// parameter simpledb.index.BTreeFile threads through every private
// helper by hand.
type dirtySet map[pageid.PageID]bufferpool.Page

// opCtx bundles the dirty set with a pin refcount for one top-level
// operation. Every fetch through getPage pins the underlying frame; ops
// call unpinAll exactly once at the end to give back every pin they took,
// including pages fetched read-only and never added to the dirty set.
type opCtx struct {
	dirty dirtySet
	pins  map[pageid.PageID]int
}

func newOpCtx() *opCtx {
	return &opCtx{dirty: make(dirtySet), pins: make(map[pageid.PageID]int)}
}

func (bt *File) unpinAll(ctx *opCtx) {
	for id, n := range ctx.pins {
		for i := 0; i < n; i++ {
			_ = bt.pool.UnpinPage(id)
		}
	}
}

// unpinOne gives back a single pin taken through ctx immediately, rather
// than waiting for the top-level operation to end. A long-lived scan
// walks off pages long before it finishes, and must not hold every leaf
// it has ever visited pinned until Close — the buffer pool would run out
// of evictable frames on any scan longer than its capacity.
func (bt *File) unpinOne(ctx *opCtx, id pageid.PageID) {
	if ctx.pins[id] <= 0 {
		return
	}
	ctx.pins[id]--
	_ = bt.pool.UnpinPage(id)
}

// File is a single table's on-disk B+tree: one physical file holding a
// root-pointer page, internal pages, leaf pages and header pages, all
// PageSize bytes, fetched and pinned exclusively through a BufferPool and
// locked exclusively through a LockManager.
type File struct {
	mu       sync.Mutex // serializes structural mutation (splits/merges/root swaps)
	tableID  int64
	path     string
	f        *os.File
	desc     tuple.TupleDesc
	keyField int
	keyW     int
	tupW     int
	numPages int32 // number of pages currently allocated in the file, including page 0

	pool *bufferpool.BufferPool
}

// Open opens or creates the backing file at path for a table with the
// given schema and key field, wiring it to a shared buffer pool. The
// buffer pool is the sole gateway for page I/O and lock acquisition, so
// the pool's own LockManager is what enforces two-phase locking here; File
// never talks to a LockManager directly. The table id is derived by
// hashing the absolute path with xxhash, mirroring the stable getId()
// simpledb.index.BTreeFile derives from File#getAbsoluteFile().hashCode()
// so the same file always maps to the same table id across process
// restarts.
func Open(path string, desc tuple.TupleDesc, keyField int, pool *bufferpool.BufferPool) (*File, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, dberr.Wrap(err, "resolving path %s", path)
	}
	tableID := int64(xxhash.Sum64String(abs))

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, dberr.Wrap(err, "opening %s", path)
	}

	bt := &File{
		tableID:  tableID,
		path:     abs,
		f:        f,
		desc:     desc,
		keyField: keyField,
		keyW:     keyWidth(desc, keyField),
		tupW:     tupleWidth(desc),
		pool:     pool,
	}

	info, err := f.Stat()
	if err != nil {
		return nil, dberr.Wrap(err, "stat %s", path)
	}
	bt.numPages = int32(info.Size() / PageSize)

	if bt.numPages == 0 {
		if err := bt.bootstrap(); err != nil {
			return nil, err
		}
	}
	xlog.Tracef("BTreeFile", "opened table=%d path=%s numPages=%d", tableID, abs, bt.numPages)
	return bt, nil
}

// OpenFromCatalog resolves tableID's schema and key field through cat
// before opening the backing file, mirroring how DaemonDB's storage engine
// looks a table's schema up from its CatalogManager before touching disk
// (see exec_insert.go's CatalogManager.GetTableSchema call) rather than
// taking the schema as a caller-supplied argument the way Open does.
func OpenFromCatalog(path string, tableID int64, cat dbiface.Catalog, pool *bufferpool.BufferPool) (*File, error) {
	desc, err := cat.TupleDesc(tableID)
	if err != nil {
		return nil, dberr.Wrap(err, "resolving schema for table %d", tableID)
	}
	keyField, err := cat.KeyField(tableID)
	if err != nil {
		return nil, dberr.Wrap(err, "resolving key field for table %d", tableID)
	}
	return Open(path, desc, keyField, pool)
}

// bootstrap lazily creates the root-pointer page and an empty root leaf
// when the backing file is brand new, mirroring getRootPtrPage's
// zero-length-file bootstrap in the original.
func (bt *File) bootstrap() error {
	root := &RootPtrPage{Tid: bt.tableID, RootNum: 1, RootCat: pageid.Leaf, HeaderNum: -1}
	if _, err := bt.f.WriteAt(encodeRootPtr(root), 0); err != nil {
		return dberr.Wrap(err, "writing root-ptr page")
	}
	leaf := &LeafPage{Tid: bt.tableID, PageNo: 1, Parent: 0, Right: -1, Left: -1}
	if _, err := bt.f.WriteAt(encodeLeaf(leaf, bt.desc), int64(PageSize)); err != nil {
		return dberr.Wrap(err, "writing initial root leaf")
	}
	bt.numPages = 2
	return nil
}

// ID returns the table id this B+tree file was opened under, satisfying
// dbiface.DbFile.
func (bt *File) ID() int64 { return bt.tableID }

func (bt *File) Close() error {
	if err := bt.pool.FlushAllPages(); err != nil {
		return err
	}
	return bt.f.Close()
}

// ReadPage and WritePage implement bufferpool.PageStore against the
// backing os.File.
func (bt *File) ReadPage(id pageid.PageID) (bufferpool.Page, error) {
	buf := make([]byte, PageSize)
	if _, err := bt.f.ReadAt(buf, int64(id.PageNum)*PageSize); err != nil {
		return nil, dberr.Wrap(err, "reading page %s", id)
	}
	switch id.Cat {
	case pageid.RootPtr:
		return decodeRootPtr(bt.tableID, buf), nil
	case pageid.Header:
		return decodeHeader(bt.tableID, id.PageNum, buf), nil
	case pageid.Internal:
		return decodeInternal(bt.tableID, id.PageNum, buf, bt.desc, bt.keyField), nil
	case pageid.Leaf:
		return decodeLeaf(bt.tableID, id.PageNum, buf, bt.desc), nil
	default:
		return nil, decodeErr("unknown page category")
	}
}

func (bt *File) WritePage(p bufferpool.Page) error {
	var buf []byte
	switch pg := p.(type) {
	case *RootPtrPage:
		buf = encodeRootPtr(pg)
	case *HeaderPage:
		buf = encodeHeader(pg)
	case *InternalPage:
		buf = encodeInternal(pg, bt.keyW)
	case *LeafPage:
		buf = encodeLeaf(pg, bt.desc)
	default:
		return decodeErr("unknown page type")
	}
	id := p.ID()
	_, err := bt.f.WriteAt(buf, int64(id.PageNum)*PageSize)
	return err
}

// getPage fetches a page for a transaction, checking the dirty set first
// so a recursive descent observes its own uncommitted writes, mirroring
// BTreeFile#getPage(tid, dirtypages, pid, perm). Every call that reaches
// the buffer pool records a pin in ctx.pins so the top-level operation can
// give back exactly as many pins as it took.
func (bt *File) getPage(tid pageid.TransactionID, ctx *opCtx, id pageid.PageID, perm pageid.Permissions) (bufferpool.Page, error) {
	if p, ok := ctx.dirty[id]; ok {
		return p, nil
	}
	p, err := bt.pool.GetPage(tid, id, perm)
	if err != nil {
		return nil, err
	}
	ctx.pins[id]++
	if perm == pageid.ReadWrite {
		p.MarkDirty(true, tid)
		ctx.dirty[id] = p
	}
	return p, nil
}

func (bt *File) rootPtr(tid pageid.TransactionID, ctx *opCtx, perm pageid.Permissions) (*RootPtrPage, error) {
	id := pageid.PageID{TableID: bt.tableID, PageNum: 0, Cat: pageid.RootPtr}
	p, err := bt.getPage(tid, ctx, id, perm)
	if err != nil {
		return nil, err
	}
	return p.(*RootPtrPage), nil
}

func (bt *File) getInternal(tid pageid.TransactionID, ctx *opCtx, pageNo int32, perm pageid.Permissions) (*InternalPage, error) {
	id := pageid.PageID{TableID: bt.tableID, PageNum: pageNo, Cat: pageid.Internal}
	p, err := bt.getPage(tid, ctx, id, perm)
	if err != nil {
		return nil, err
	}
	return p.(*InternalPage), nil
}

func (bt *File) getLeaf(tid pageid.TransactionID, ctx *opCtx, pageNo int32, perm pageid.Permissions) (*LeafPage, error) {
	id := pageid.PageID{TableID: bt.tableID, PageNum: pageNo, Cat: pageid.Leaf}
	p, err := bt.getPage(tid, ctx, id, perm)
	if err != nil {
		return nil, err
	}
	return p.(*LeafPage), nil
}

func (bt *File) getHeader(tid pageid.TransactionID, ctx *opCtx, pageNo int32, perm pageid.Permissions) (*HeaderPage, error) {
	id := pageid.PageID{TableID: bt.tableID, PageNum: pageNo, Cat: pageid.Header}
	p, err := bt.getPage(tid, ctx, id, perm)
	if err != nil {
		return nil, err
	}
	return p.(*HeaderPage), nil
}

// keyOf returns tuple t's field at the tree's key column.
func (bt *File) keyOf(t tuple.Tuple) tuple.Field { return t.Fields[bt.keyField] }

// keyLess reports whether a orders before b.
func (bt *File) keyLess(a, b tuple.Field) bool { return a.Compare(tuple.LessThan, b) }
func (bt *File) keyLeq(a, b tuple.Field) bool  { return a.Compare(tuple.LessThanOrEqual, b) }
