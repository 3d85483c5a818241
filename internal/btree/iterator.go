package btree

import (
	"txbtree/internal/pageid"
	"txbtree/internal/tuple"
)

// Iterator walks tuples in ascending key order across the leaf chain. A
// nil predicate performs a full scan; a non-nil predicate seeks directly
// to the leaf holding its bound for >, >= and = (mirroring
// BTreeSearchIterator's direct-seek optimization) and applies early
// termination for <, <= and = once the scan runs past the bound.
type Iterator struct {
	bt   *File
	tid  pageid.TransactionID
	ctx  *opCtx
	leaf *LeafPage
	idx  int
	pred *tuple.IndexPredicate
	done bool
}

// NewIterator opens a scan, optionally filtered by pred.
func (bt *File) NewIterator(tid pageid.TransactionID, pred *tuple.IndexPredicate) (*Iterator, error) {
	ctx := newOpCtx()
	root, err := bt.rootPtr(tid, ctx, pageid.ReadOnly)
	if err != nil {
		bt.unpinAll(ctx)
		return nil, err
	}

	var seekKey tuple.Field
	if pred != nil {
		switch pred.Op {
		case tuple.GreaterThan, tuple.GreaterThanOrEqual, tuple.Equals:
			seekKey = pred.Bound
		}
	}

	leaf, err := bt.findLeafPage(tid, ctx, root.RootNum, root.RootCat, pageid.ReadOnly, seekKey)
	if err != nil {
		bt.unpinAll(ctx)
		return nil, err
	}
	return &Iterator{bt: bt, tid: tid, ctx: ctx, leaf: leaf, pred: pred}, nil
}

// Next advances the iterator, returning ok=false once the scan is
// exhausted or (for a bounded predicate) has run past its bound.
func (it *Iterator) Next() (tuple.Tuple, bool, error) {
	for {
		if it.done || it.leaf == nil {
			return tuple.Tuple{}, false, nil
		}
		if it.idx >= len(it.leaf.Tuples) {
			if it.leaf.Right < 0 {
				it.done = true
				return tuple.Tuple{}, false, nil
			}
			oldID := it.leaf.ID()
			next, err := it.bt.getLeaf(it.tid, it.ctx, it.leaf.Right, pageid.ReadOnly)
			if err != nil {
				return tuple.Tuple{}, false, err
			}
			it.bt.unpinOne(it.ctx, oldID)
			it.leaf = next
			it.idx = 0
			continue
		}

		t := it.leaf.Tuples[it.idx]
		it.idx++
		key := it.bt.keyOf(t)

		if it.pred != nil {
			if it.pred.ForwardCanStop(key) {
				it.done = true
				return tuple.Tuple{}, false, nil
			}
			if !key.Compare(it.pred.Op, it.pred.Bound) {
				continue
			}
		}
		return t, true, nil
	}
}

// Close releases every page pin the iterator accumulated while scanning.
func (it *Iterator) Close() { it.bt.unpinAll(it.ctx) }
