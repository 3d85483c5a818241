package btree

import (
	"txbtree/internal/pageid"
)

// dataPageForSlot maps a header's ordinal position in the free-list chain
// (0 for the first header, 1 for the second, and so on — never a header's
// own physical page number, which bears no relation to the data pages it
// tracks) and a slot within it to the data page number that slot
// describes: bit i of the h'th header page describes data page
// h*SlotsPerHeader + i + 1, the "+1" reserving page 0 for the root
// pointer. This mirrors the layout comment in spec.md §6 exactly.
func dataPageForSlot(headerOrdinal int32, slot int) int32 {
	return headerOrdinal*int32(SlotsPerHeader()) + int32(slot) + 1
}

// getEmptyPageNumber walks the header-page free-list chain by ordinal
// position looking for a clear bit. If no header exists yet, or none has
// a free slot, it appends a fresh page to the file and returns its number
// without touching any header: headers only ever get created lazily, by
// freePage, when a page is freed and its bit needs somewhere to live.
// This mirrors getEmptyPageNo in the original exactly, including its
// header-page-count loop counter standing in for ordinal position.
func (bt *File) getEmptyPageNumber(tid pageid.TransactionID, ctx *opCtx) (int32, error) {
	root, err := bt.rootPtr(tid, ctx, pageid.ReadOnly)
	if err != nil {
		return 0, err
	}

	var ordinal int32
	cur := root.HeaderNum
	for cur >= 0 {
		hp, err := bt.getHeader(tid, ctx, cur, pageid.ReadOnly)
		if err != nil {
			return 0, err
		}
		if slot := hp.EmptySlot(); slot >= 0 {
			w, err := bt.getHeader(tid, ctx, cur, pageid.ReadWrite)
			if err != nil {
				return 0, err
			}
			w.MarkSlot(slot, true)
			return dataPageForSlot(ordinal, slot), nil
		}
		cur = hp.Next
		ordinal++
	}

	return bt.numPages, nil
}

// newHeaderPage allocates a fresh header page by extending the file. It
// is a bare append like any other new page — a header page occupies a
// physical page number just like a leaf or internal page does, entirely
// unrelated to the ordinal position it will occupy in the free-list
// chain once linked in. Every slot of a new header starts marked in use;
// only freePage clears a bit.
func (bt *File) newHeaderPage(tid pageid.TransactionID, ctx *opCtx) (*HeaderPage, error) {
	pageNo := bt.numPages
	bt.numPages++
	hp := &HeaderPage{
		Tid:    bt.tableID,
		PageNo: pageNo,
		Bitmap: make([]byte, PageSize-headerFixedSize),
		Next:   -1,
		Prev:   -1,
	}
	for i := range hp.Bitmap {
		hp.Bitmap[i] = 0xFF
	}
	if err := bt.pool.AddNewPage(hp); err != nil {
		return nil, err
	}
	ctx.pins[hp.ID()]++
	hp.MarkDirty(true, tid)
	ctx.dirty[hp.ID()] = hp
	return hp, nil
}

// allocateLeaf allocates a fresh, empty leaf page.
func (bt *File) allocateLeaf(tid pageid.TransactionID, ctx *opCtx) (*LeafPage, error) {
	pageNo, err := bt.extendOrReuse(tid, ctx)
	if err != nil {
		return nil, err
	}
	leaf := &LeafPage{Tid: bt.tableID, PageNo: pageNo, Parent: 0, Right: -1, Left: -1}
	if err := bt.pool.AddNewPage(leaf); err != nil {
		return nil, err
	}
	ctx.pins[leaf.ID()]++
	leaf.MarkDirty(true, tid)
	ctx.dirty[leaf.ID()] = leaf
	return leaf, nil
}

// allocateInternal allocates a fresh, empty internal page.
func (bt *File) allocateInternal(tid pageid.TransactionID, ctx *opCtx) (*InternalPage, error) {
	pageNo, err := bt.extendOrReuse(tid, ctx)
	if err != nil {
		return nil, err
	}
	node := &InternalPage{Tid: bt.tableID, PageNo: pageNo}
	if err := bt.pool.AddNewPage(node); err != nil {
		return nil, err
	}
	ctx.pins[node.ID()]++
	node.MarkDirty(true, tid)
	ctx.dirty[node.ID()] = node
	return node, nil
}

// extendOrReuse claims a page number from the free-list, extending the
// file's page count if the returned slot number is beyond what has ever
// been allocated (i.e. the free list has never seen this page before).
func (bt *File) extendOrReuse(tid pageid.TransactionID, ctx *opCtx) (int32, error) {
	pageNo, err := bt.getEmptyPageNumber(tid, ctx)
	if err != nil {
		return 0, err
	}
	if pageNo >= bt.numPages {
		bt.numPages = pageNo + 1
	}
	return pageNo, nil
}

// freePage marks a data page's bit clear in the header page covering its
// ordinal slot, creating and linking header pages lazily until the chain
// reaches that ordinal if it doesn't already, mirroring setEmptyPage in
// the original — a brand-new tree that has never freed a page has no
// header pages at all until the first one is needed here.
func (bt *File) freePage(tid pageid.TransactionID, ctx *opCtx, id pageid.PageID) error {
	root, err := bt.rootPtr(tid, ctx, pageid.ReadWrite)
	if err != nil {
		return err
	}
	slotsPer := int32(SlotsPerHeader())
	wantOrdinal := (id.PageNum - 1) / slotsPer
	slot := int((id.PageNum - 1) % slotsPer)

	if root.HeaderNum < 0 {
		hp, err := bt.newHeaderPage(tid, ctx)
		if err != nil {
			return err
		}
		root.HeaderNum = hp.PageNo
	}

	cur := root.HeaderNum
	for ordinal := int32(0); ordinal < wantOrdinal; ordinal++ {
		hp, err := bt.getHeader(tid, ctx, cur, pageid.ReadOnly)
		if err != nil {
			return err
		}
		if hp.Next >= 0 {
			cur = hp.Next
			continue
		}
		w, err := bt.getHeader(tid, ctx, cur, pageid.ReadWrite)
		if err != nil {
			return err
		}
		next, err := bt.newHeaderPage(tid, ctx)
		if err != nil {
			return err
		}
		next.Prev = w.PageNo
		w.Next = next.PageNo
		cur = next.PageNo
	}

	hp, err := bt.getHeader(tid, ctx, cur, pageid.ReadWrite)
	if err != nil {
		return err
	}
	hp.MarkSlot(slot, false)
	delete(ctx.dirty, id)
	bt.pool.DiscardPage(id)
	return nil
}
