package btree

import (
	"txbtree/internal/pageid"
	"txbtree/internal/tuple"
)

// InsertTuple inserts t into the tree keyed on the tree's key field,
// splitting leaves and internal pages up the ancestor chain as needed.
// Structural mutation is serialized per file; concurrent readers and
// writers of different tables proceed independently, and within one
// table concurrent operations are still individually serialized against
// each other by the page-granularity locks acquired along the way.
func (bt *File) InsertTuple(tid pageid.TransactionID, t tuple.Tuple) error {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	ctx := newOpCtx()
	defer bt.unpinAll(ctx)

	root, err := bt.rootPtr(tid, ctx, pageid.ReadOnly)
	if err != nil {
		return err
	}

	key := bt.keyOf(t)
	leaf, err := bt.findLeafPage(tid, ctx, root.RootNum, root.RootCat, pageid.ReadWrite, key)
	if err != nil {
		return err
	}

	if len(leaf.Tuples) >= MaxTuplesLeaf(bt.tupW) {
		leaf, err = bt.splitLeafPage(tid, ctx, leaf, key)
		if err != nil {
			return err
		}
	}

	keys := make([]tuple.Field, len(leaf.Tuples))
	for i, lt := range leaf.Tuples {
		keys[i] = bt.keyOf(lt)
	}
	idx := lowerBound(keys, key, bt.keyLess)
	leaf.Tuples = insert(leaf.Tuples, idx, t)
	return nil
}

// splitLeafPage splits a full leaf in two, copying the new right page's
// first key up into the parent (the key still lives in the leaf too —
// "copy up", distinct from an internal split's "push up") and returns
// whichever half key belongs in.
func (bt *File) splitLeafPage(tid pageid.TransactionID, ctx *opCtx, leaf *LeafPage, key tuple.Field) (*LeafPage, error) {
	right, err := bt.allocateLeaf(tid, ctx)
	if err != nil {
		return nil, err
	}

	mid := len(leaf.Tuples) / 2
	right.Tuples = append(right.Tuples, leaf.Tuples[mid:]...)
	leaf.Tuples = leaf.Tuples[:mid]

	right.Right = leaf.Right
	right.Left = leaf.PageNo
	leaf.Right = right.PageNo

	if right.Right >= 0 {
		oldRight, err := bt.getLeaf(tid, ctx, right.Right, pageid.ReadWrite)
		if err != nil {
			return nil, err
		}
		oldRight.Left = right.PageNo
	}

	sepKey := bt.keyOf(right.Tuples[0])
	parent, err := bt.getParentWithEmptySlots(tid, ctx, leaf.Parent, sepKey)
	if err != nil {
		return nil, err
	}
	leaf.Parent = parent.PageNo
	right.Parent = parent.PageNo
	bt.insertEntry(parent, sepKey, ChildPtr{PageNo: leaf.PageNo, Cat: pageid.Leaf}, ChildPtr{PageNo: right.PageNo, Cat: pageid.Leaf})

	if bt.keyLess(key, sepKey) {
		return leaf, nil
	}
	return right, nil
}

// splitInternalPage splits a full internal page in two, pushing its
// median key up into the parent (removed from both children — "push
// up", the point of contrast with a leaf split's "copy up") and returns
// whichever half key belongs in.
func (bt *File) splitInternalPage(tid pageid.TransactionID, ctx *opCtx, node *InternalPage, key tuple.Field) (*InternalPage, error) {
	right, err := bt.allocateInternal(tid, ctx)
	if err != nil {
		return nil, err
	}

	mid := len(node.Keys) / 2
	promoted := node.Keys[mid]

	right.Keys = append(right.Keys, node.Keys[mid+1:]...)
	right.Children = append(right.Children, node.Children[mid+1:]...)
	node.Keys = node.Keys[:mid]
	node.Children = node.Children[:mid+1]

	for _, c := range right.Children {
		if err := bt.updateParentPointer(tid, ctx, c, right.PageNo); err != nil {
			return nil, err
		}
	}

	parent, err := bt.getParentWithEmptySlots(tid, ctx, node.Parent, promoted)
	if err != nil {
		return nil, err
	}
	node.Parent = parent.PageNo
	right.Parent = parent.PageNo
	bt.insertEntry(parent, promoted, ChildPtr{PageNo: node.PageNo, Cat: pageid.Internal}, ChildPtr{PageNo: right.PageNo, Cat: pageid.Internal})

	if bt.keyLess(key, promoted) {
		return node, nil
	}
	return right, nil
}

// getParentWithEmptySlots returns an internal page with room for one more
// entry: parentPageNo itself if it has slack, a freshly created root if
// parentPageNo is 0 (meaning the caller IS currently the root), or the
// result of splitting parentPageNo if it is already full.
func (bt *File) getParentWithEmptySlots(tid pageid.TransactionID, ctx *opCtx, parentPageNo int32, key tuple.Field) (*InternalPage, error) {
	if parentPageNo == 0 {
		return bt.createNewRoot(tid, ctx)
	}
	parent, err := bt.getInternal(tid, ctx, parentPageNo, pageid.ReadWrite)
	if err != nil {
		return nil, err
	}
	if len(parent.Keys) < MaxKeysInternal(bt.keyW) {
		return parent, nil
	}
	return bt.splitInternalPage(tid, ctx, parent, key)
}

// createNewRoot allocates a fresh, empty internal page and installs it as
// the tree's root, to be populated by the caller's insertEntry call.
func (bt *File) createNewRoot(tid pageid.TransactionID, ctx *opCtx) (*InternalPage, error) {
	newRoot, err := bt.allocateInternal(tid, ctx)
	if err != nil {
		return nil, err
	}
	newRoot.Parent = 0
	root, err := bt.rootPtr(tid, ctx, pageid.ReadWrite)
	if err != nil {
		return nil, err
	}
	root.RootNum = newRoot.PageNo
	root.RootCat = pageid.Internal
	return newRoot, nil
}

// insertEntry adds sepKey/right to parent. If parent has no children yet
// (it was just created by createNewRoot) it becomes {Keys: [sepKey],
// Children: [left, right]}; otherwise left is located among parent's
// existing children and sepKey/right are inserted immediately after it.
func (bt *File) insertEntry(parent *InternalPage, sepKey tuple.Field, left, right ChildPtr) {
	if len(parent.Children) == 0 {
		parent.Keys = []tuple.Field{sepKey}
		parent.Children = []ChildPtr{left, right}
		return
	}
	idx := 0
	for i, c := range parent.Children {
		if c.PageNo == left.PageNo {
			idx = i
			break
		}
	}
	parent.Keys = insert(parent.Keys, idx, sepKey)
	parent.Children = insert(parent.Children, idx+1, right)
}

// updateParentPointer writes child's Parent field only if it actually
// differs from newParent, mirroring updateParentPointers' explicit
// "if(pid.equals(...)) return" guard in the original — a page whose
// parent pointer would be unchanged is never marked dirty for it.
func (bt *File) updateParentPointer(tid pageid.TransactionID, ctx *opCtx, child ChildPtr, newParent int32) error {
	switch child.Cat {
	case pageid.Leaf:
		cur, err := bt.getLeaf(tid, ctx, child.PageNo, pageid.ReadOnly)
		if err != nil {
			return err
		}
		if cur.Parent == newParent {
			return nil
		}
		w, err := bt.getLeaf(tid, ctx, child.PageNo, pageid.ReadWrite)
		if err != nil {
			return err
		}
		w.Parent = newParent
	case pageid.Internal:
		cur, err := bt.getInternal(tid, ctx, child.PageNo, pageid.ReadOnly)
		if err != nil {
			return err
		}
		if cur.Parent == newParent {
			return nil
		}
		w, err := bt.getInternal(tid, ctx, child.PageNo, pageid.ReadWrite)
		if err != nil {
			return err
		}
		w.Parent = newParent
	}
	return nil
}
