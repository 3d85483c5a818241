package btree

import (
	"txbtree/internal/dberr"
	"txbtree/internal/pageid"
	"txbtree/internal/tuple"
)

// DeleteTuple removes t from the tree, then rebalances (steal from a
// sibling, or merge with one) any leaf or internal page that drops below
// minimum occupancy, all the way up to a possible root collapse.
func (bt *File) DeleteTuple(tid pageid.TransactionID, t tuple.Tuple) error {
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

	pos := -1
	for i, lt := range leaf.Tuples {
		if tuplesEqual(lt, t) {
			pos = i
			break
		}
	}
	for pos < 0 && leaf.Right >= 0 { // a key equal to a separator sits in a leaf further right
		next, err := bt.getLeaf(tid, ctx, leaf.Right, pageid.ReadWrite)
		if err != nil {
			return err
		}
		if len(next.Tuples) > 0 && bt.keyLess(key, bt.keyOf(next.Tuples[0])) {
			break
		}
		leaf = next
		for i, lt := range leaf.Tuples {
			if tuplesEqual(lt, t) {
				pos = i
				break
			}
		}
	}
	if pos < 0 {
		return dberr.Newf("tuple not found for deletion")
	}
	leaf.Tuples = remove(leaf.Tuples, pos)

	if leaf.Parent != 0 && len(leaf.Tuples) < MinTuplesLeaf(bt.tupW) {
		return bt.handleMinOccupancyLeafPage(tid, ctx, leaf)
	}
	return nil
}

func tuplesEqual(a, b tuple.Tuple) bool {
	if len(a.Fields) != len(b.Fields) {
		return false
	}
	for i := range a.Fields {
		if !a.Fields[i].Compare(tuple.Equals, b.Fields[i]) {
			return false
		}
	}
	return true
}

// childIndex returns the index of a page number among an internal page's
// children.
func childIndex(parent *InternalPage, pageNo int32) int {
	for i, c := range parent.Children {
		if c.PageNo == pageNo {
			return i
		}
	}
	return -1
}

func (bt *File) handleMinOccupancyLeafPage(tid pageid.TransactionID, ctx *opCtx, leaf *LeafPage) error {
	parent, err := bt.getInternal(tid, ctx, leaf.Parent, pageid.ReadWrite)
	if err != nil {
		return err
	}
	idx := childIndex(parent, leaf.PageNo)

	if idx > 0 {
		leftSib, err := bt.getLeaf(tid, ctx, parent.Children[idx-1].PageNo, pageid.ReadWrite)
		if err != nil {
			return err
		}
		if len(leftSib.Tuples) > MinTuplesLeaf(bt.tupW) {
			bt.stealFromLeftLeaf(parent, idx-1, leftSib, leaf)
			return nil
		}
	}
	if idx < len(parent.Children)-1 {
		rightSib, err := bt.getLeaf(tid, ctx, parent.Children[idx+1].PageNo, pageid.ReadWrite)
		if err != nil {
			return err
		}
		if len(rightSib.Tuples) > MinTuplesLeaf(bt.tupW) {
			bt.stealFromRightLeaf(parent, idx, leaf, rightSib)
			return nil
		}
	}

	// Neither sibling has slack to redistribute; merge. Prefer the left
	// sibling when one exists, matching handleMinOccupancyPage's
	// left-before-right preference in the original.
	if idx > 0 {
		leftSib, err := bt.getLeaf(tid, ctx, parent.Children[idx-1].PageNo, pageid.ReadWrite)
		if err != nil {
			return err
		}
		return bt.mergeLeafPages(tid, ctx, parent, idx-1, idx, leftSib, leaf)
	}
	rightSib, err := bt.getLeaf(tid, ctx, parent.Children[idx+1].PageNo, pageid.ReadWrite)
	if err != nil {
		return err
	}
	return bt.mergeLeafPages(tid, ctx, parent, idx, idx+1, leaf, rightSib)
}

func (bt *File) stealFromLeftLeaf(parent *InternalPage, sepIdx int, left, leaf *LeafPage) {
	moveNum := (len(left.Tuples) - len(leaf.Tuples)) / 2
	if moveNum < 1 {
		moveNum = 1
	}
	moved := make([]tuple.Tuple, moveNum)
	copy(moved, left.Tuples[len(left.Tuples)-moveNum:])
	left.Tuples = left.Tuples[:len(left.Tuples)-moveNum]
	leaf.Tuples = append(moved, leaf.Tuples...)
	parent.Keys[sepIdx] = bt.keyOf(leaf.Tuples[0])
}

func (bt *File) stealFromRightLeaf(parent *InternalPage, sepIdx int, leaf, right *LeafPage) {
	moveNum := (len(right.Tuples) - len(leaf.Tuples)) / 2
	if moveNum < 1 {
		moveNum = 1
	}
	moved := append([]tuple.Tuple(nil), right.Tuples[:moveNum]...)
	right.Tuples = right.Tuples[moveNum:]
	leaf.Tuples = append(leaf.Tuples, moved...)
	parent.Keys[sepIdx] = bt.keyOf(right.Tuples[0])
}

// mergeLeafPages absorbs right's tuples into left, bridges the sibling
// chain around right, frees right's page, and removes its entry from the
// shared parent.
func (bt *File) mergeLeafPages(tid pageid.TransactionID, ctx *opCtx, parent *InternalPage, leftIdx, rightIdx int, left, right *LeafPage) error {
	left.Tuples = append(left.Tuples, right.Tuples...)
	left.Right = right.Right
	if right.Right >= 0 {
		afterRight, err := bt.getLeaf(tid, ctx, right.Right, pageid.ReadWrite)
		if err != nil {
			return err
		}
		afterRight.Left = left.PageNo
	}
	if err := bt.freePage(tid, ctx, right.ID()); err != nil {
		return err
	}
	return bt.deleteParentEntry(tid, ctx, parent, leftIdx, rightIdx)
}

func (bt *File) handleMinOccupancyInternalPage(tid pageid.TransactionID, ctx *opCtx, node *InternalPage) error {
	if node.Parent == 0 {
		return nil // the root is exempt from occupancy requirements
	}
	parent, err := bt.getInternal(tid, ctx, node.Parent, pageid.ReadWrite)
	if err != nil {
		return err
	}
	idx := childIndex(parent, node.PageNo)

	if idx > 0 {
		leftSib, err := bt.getInternal(tid, ctx, parent.Children[idx-1].PageNo, pageid.ReadWrite)
		if err != nil {
			return err
		}
		if len(leftSib.Keys) > MinKeysInternal(bt.keyW) {
			return bt.stealFromLeftInternal(tid, ctx, parent, idx-1, leftSib, node)
		}
	}
	if idx < len(parent.Children)-1 {
		rightSib, err := bt.getInternal(tid, ctx, parent.Children[idx+1].PageNo, pageid.ReadWrite)
		if err != nil {
			return err
		}
		if len(rightSib.Keys) > MinKeysInternal(bt.keyW) {
			return bt.stealFromRightInternal(tid, ctx, parent, idx, node, rightSib)
		}
	}

	if idx > 0 {
		leftSib, err := bt.getInternal(tid, ctx, parent.Children[idx-1].PageNo, pageid.ReadWrite)
		if err != nil {
			return err
		}
		return bt.mergeInternalPages(tid, ctx, parent, idx-1, idx, leftSib, node)
	}
	rightSib, err := bt.getInternal(tid, ctx, parent.Children[idx+1].PageNo, pageid.ReadWrite)
	if err != nil {
		return err
	}
	return bt.mergeInternalPages(tid, ctx, parent, idx, idx+1, node, rightSib)
}

// stealFromLeftInternal rotates one entry through the parent: the
// separator key descends to become node's new first key, left's last
// child moves to be node's new first child, and left's last key ascends
// to replace the separator.
func (bt *File) stealFromLeftInternal(tid pageid.TransactionID, ctx *opCtx, parent *InternalPage, sepIdx int, left, node *InternalPage) error {
	node.Keys = insert(node.Keys, 0, parent.Keys[sepIdx])
	movedChild := left.Children[len(left.Children)-1]
	left.Children = left.Children[:len(left.Children)-1]
	node.Children = insert(node.Children, 0, movedChild)
	if err := bt.updateParentPointer(tid, ctx, movedChild, node.PageNo); err != nil {
		return err
	}
	parent.Keys[sepIdx] = left.Keys[len(left.Keys)-1]
	left.Keys = left.Keys[:len(left.Keys)-1]
	return nil
}

// stealFromRightInternal is the mirror image of stealFromLeftInternal.
func (bt *File) stealFromRightInternal(tid pageid.TransactionID, ctx *opCtx, parent *InternalPage, sepIdx int, node, right *InternalPage) error {
	node.Keys = append(node.Keys, parent.Keys[sepIdx])
	movedChild := right.Children[0]
	right.Children = right.Children[1:]
	node.Children = append(node.Children, movedChild)
	if err := bt.updateParentPointer(tid, ctx, movedChild, node.PageNo); err != nil {
		return err
	}
	parent.Keys[sepIdx] = right.Keys[0]
	right.Keys = right.Keys[1:]
	return nil
}

// mergeInternalPages pulls the parent's separator key down between left
// and right's contents, appends right's keys and children onto left,
// re-parents right's children, frees right's page, and removes its entry
// from the shared parent.
func (bt *File) mergeInternalPages(tid pageid.TransactionID, ctx *opCtx, parent *InternalPage, leftIdx, rightIdx int, left, right *InternalPage) error {
	sep := parent.Keys[leftIdx]
	left.Keys = append(left.Keys, sep)
	left.Keys = append(left.Keys, right.Keys...)
	left.Children = append(left.Children, right.Children...)
	for _, c := range right.Children {
		if err := bt.updateParentPointer(tid, ctx, c, left.PageNo); err != nil {
			return err
		}
	}
	if err := bt.freePage(tid, ctx, right.ID()); err != nil {
		return err
	}
	return bt.deleteParentEntry(tid, ctx, parent, leftIdx, rightIdx)
}

// deleteParentEntry removes the separator key at keyIdx and the child
// pointer at childIdx from parent. If that empties the root down to a
// single child, that child is promoted to root and the old root page is
// freed (root collapse). Otherwise, if parent itself is now below
// minimum occupancy, rebalancing recurses up to it.
func (bt *File) deleteParentEntry(tid pageid.TransactionID, ctx *opCtx, parent *InternalPage, keyIdx, childIdx int) error {
	parent.Keys = remove(parent.Keys, keyIdx)
	parent.Children = remove(parent.Children, childIdx)

	if len(parent.Keys) == 0 && parent.Parent == 0 {
		onlyChild := parent.Children[0]
		root, err := bt.rootPtr(tid, ctx, pageid.ReadWrite)
		if err != nil {
			return err
		}
		root.RootNum = onlyChild.PageNo
		root.RootCat = onlyChild.Cat
		if err := bt.updateParentPointer(tid, ctx, onlyChild, 0); err != nil {
			return err
		}
		return bt.freePage(tid, ctx, parent.ID())
	}

	if parent.Parent != 0 && len(parent.Keys) < MinKeysInternal(bt.keyW) {
		return bt.handleMinOccupancyInternalPage(tid, ctx, parent)
	}
	return nil
}
