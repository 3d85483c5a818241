package btree

import (
	"txbtree/internal/pageid"
	"txbtree/internal/tuple"
)

// findLeafPage descends from pageNo (of category cat) to the leftmost leaf
// that may hold key: a key equal to a separator descends into that
// separator's left child, so a tuple with that key can sit in a leaf
// further right along the sibling chain. Internal pages are always read-locked during the
// descent (matching findLeafPage's fixed Permissions.READ_ONLY for
// interior nodes in the original); only the final leaf is fetched under
// perm. A nil key descends via the leftmost child at every level, used
// as the starting point for a full forward scan.
func (bt *File) findLeafPage(tid pageid.TransactionID, ctx *opCtx, pageNo int32, cat pageid.Category, perm pageid.Permissions, key tuple.Field) (*LeafPage, error) {
	if cat == pageid.Leaf {
		return bt.getLeaf(tid, ctx, pageNo, perm)
	}

	node, err := bt.getInternal(tid, ctx, pageNo, pageid.ReadOnly)
	if err != nil {
		return nil, err
	}

	child := node.Children[len(node.Children)-1]
	if key == nil {
		child = node.Children[0]
	} else {
		for i, k := range node.Keys {
			if bt.keyLess(key, k) || bt.keyEquals(key, k) {
				child = node.Children[i]
				break
			}
		}
	}
	return bt.findLeafPage(tid, ctx, child.PageNo, child.Cat, perm, key)
}

func (bt *File) keyEquals(a, b tuple.Field) bool { return a.Compare(tuple.Equals, b) }
