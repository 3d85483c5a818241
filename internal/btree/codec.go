package btree

import (
	"encoding/binary"

	"txbtree/internal/dberr"
	"txbtree/internal/pageid"
	"txbtree/internal/tuple"
)

const (
	rootPtrFixedSize = 4 + 1 + 4       // rootNum, rootCat, headerNum
	headerFixedSize  = 4 + 4           // next, prev
	internalFixedSize = 4 + 2          // parent, numKeys
	leafFixedSize      = 4 + 4 + 4 + 2 // parent, right, left, numTuples
	childPtrSize       = 4 + 1 // page number, category
)

func fieldWidth(t tuple.Type) int {
	if t == tuple.StringType {
		return tuple.StringFieldLen
	}
	return 8
}

func keyWidth(desc tuple.TupleDesc, keyField int) int {
	return fieldWidth(desc.Fields[keyField].Type)
}

func tupleWidth(desc tuple.TupleDesc) int {
	w := 0
	for _, f := range desc.Fields {
		w += fieldWidth(f.Type)
	}
	return w
}

// MaxKeysInternal returns the largest number of keys an internal page can
// hold for the given key width, leaving room for NumKeys+1 children.
func MaxKeysInternal(kw int) int {
	// n*(kw+childPtrSize) + childPtrSize <= PageSize - internalFixedSize
	return ((PageSize - internalFixedSize) - childPtrSize) / (kw + childPtrSize)
}

func MinKeysInternal(kw int) int { return MaxKeysInternal(kw) / 2 }

// MaxTuplesLeaf returns the largest number of tuples a leaf page can hold.
func MaxTuplesLeaf(tw int) int { return (PageSize - leafFixedSize) / tw }

func MinTuplesLeaf(tw int) int { return MaxTuplesLeaf(tw) / 2 }

func encodeRootPtr(p *RootPtrPage) []byte {
	buf := make([]byte, PageSize)
	binary.BigEndian.PutUint32(buf[0:4], uint32(p.RootNum))
	buf[4] = byte(p.RootCat)
	binary.BigEndian.PutUint32(buf[5:9], uint32(p.HeaderNum))
	return buf
}

func decodeRootPtr(tid int64, data []byte) *RootPtrPage {
	return &RootPtrPage{
		Tid:       tid,
		RootNum:   int32(binary.BigEndian.Uint32(data[0:4])),
		RootCat:   pageid.Category(data[4]),
		HeaderNum: int32(binary.BigEndian.Uint32(data[5:9])),
	}
}

func encodeHeader(p *HeaderPage) []byte {
	buf := make([]byte, PageSize)
	binary.BigEndian.PutUint32(buf[0:4], uint32(p.Next))
	binary.BigEndian.PutUint32(buf[4:8], uint32(p.Prev))
	copy(buf[headerFixedSize:], p.Bitmap)
	return buf
}

func decodeHeader(tid int64, pageNo int32, data []byte) *HeaderPage {
	bitmap := make([]byte, PageSize-headerFixedSize)
	copy(bitmap, data[headerFixedSize:])
	return &HeaderPage{
		Tid:    tid,
		PageNo: pageNo,
		Next:   int32(binary.BigEndian.Uint32(data[0:4])),
		Prev:   int32(binary.BigEndian.Uint32(data[4:8])),
		Bitmap: bitmap,
	}
}

func encodeInternal(p *InternalPage, kw int) []byte {
	buf := make([]byte, PageSize)
	binary.BigEndian.PutUint32(buf[0:4], uint32(p.Parent))
	binary.BigEndian.PutUint16(buf[4:6], uint16(len(p.Keys)))
	off := internalFixedSize
	for _, k := range p.Keys {
		copy(buf[off:off+kw], k.Serialize())
		off += kw
	}
	for _, c := range p.Children {
		binary.BigEndian.PutUint32(buf[off:off+4], uint32(c.PageNo))
		buf[off+4] = byte(c.Cat)
		off += childPtrSize
	}
	return buf
}

func decodeInternal(tid int64, pageNo int32, data []byte, desc tuple.TupleDesc, keyField int) *InternalPage {
	kw := keyWidth(desc, keyField)
	parent := int32(binary.BigEndian.Uint32(data[0:4]))
	numKeys := int(binary.BigEndian.Uint16(data[4:6]))
	off := internalFixedSize
	keys := make([]tuple.Field, numKeys)
	for i := 0; i < numKeys; i++ {
		keys[i] = decodeField(desc.Fields[keyField].Type, data[off:off+kw])
		off += kw
	}
	children := make([]ChildPtr, numKeys+1)
	for i := range children {
		children[i] = ChildPtr{
			PageNo: int32(binary.BigEndian.Uint32(data[off : off+4])),
			Cat:    pageid.Category(data[off+4]),
		}
		off += childPtrSize
	}
	return &InternalPage{Tid: tid, PageNo: pageNo, Parent: parent, Keys: keys, Children: children}
}

func encodeLeaf(p *LeafPage, desc tuple.TupleDesc) []byte {
	buf := make([]byte, PageSize)
	binary.BigEndian.PutUint32(buf[0:4], uint32(p.Parent))
	binary.BigEndian.PutUint32(buf[4:8], uint32(p.Right))
	binary.BigEndian.PutUint32(buf[8:12], uint32(p.Left))
	binary.BigEndian.PutUint16(buf[12:14], uint16(len(p.Tuples)))
	off := leafFixedSize
	for _, t := range p.Tuples {
		for _, f := range t.Fields {
			w := fieldWidth(f.Type())
			copy(buf[off:off+w], f.Serialize())
			off += w
		}
	}
	return buf
}

func decodeLeaf(tid int64, pageNo int32, data []byte, desc tuple.TupleDesc) *LeafPage {
	parent := int32(binary.BigEndian.Uint32(data[0:4]))
	right := int32(binary.BigEndian.Uint32(data[4:8]))
	left := int32(binary.BigEndian.Uint32(data[8:12]))
	numTuples := int(binary.BigEndian.Uint16(data[12:14]))
	off := leafFixedSize
	tuples := make([]tuple.Tuple, numTuples)
	for i := 0; i < numTuples; i++ {
		fields := make([]tuple.Field, len(desc.Fields))
		for fi, fd := range desc.Fields {
			w := fieldWidth(fd.Type)
			fields[fi] = decodeField(fd.Type, data[off:off+w])
			off += w
		}
		tuples[i] = tuple.Tuple{Desc: desc, Fields: fields, Rid: tuple.RecordID{PageNum: pageNo, Slot: i}}
	}
	return &LeafPage{Tid: tid, PageNo: pageNo, Parent: parent, Right: right, Left: left, Tuples: tuples}
}

func decodeField(t tuple.Type, b []byte) tuple.Field {
	if t == tuple.StringType {
		return tuple.DecodeStringField(b)
	}
	return tuple.DecodeIntField(b)
}

func decodeErr(what string) error { return dberr.Newf("corrupt page: %s", what) }
