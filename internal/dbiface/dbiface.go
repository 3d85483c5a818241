// Package dbiface models the external collaborators the B+tree core talks
// to but does not implement: the catalog and the generic file abstraction.
// Full SQL planning, heap-file storage and catalog persistence are out of
// scope; these interfaces exist only so the core can be exercised and
// tested without depending on a concrete query layer.
package dbiface

import "txbtree/internal/tuple"

// Catalog resolves a table id to the schema and key field an index was
// built over, mirroring simpledb.common.Catalog's role for an index file.
type Catalog interface {
	TupleDesc(tableID int64) (tuple.TupleDesc, error)
	KeyField(tableID int64) (int, error)
}

// DbFile is the minimal file-level contract a table's storage
// implementation exposes to the rest of the engine, mirroring
// simpledb.storage.DbFile. Only the identity accessor is consumed inside
// this module's scope; insertion/deletion/scanning live on btree.File
// itself rather than behind this interface, since heap-file storage is
// not implemented here.
type DbFile interface {
	ID() int64
}

// InMemoryCatalog is a minimal Catalog for tests and the demo command: a
// fixed map from table id to schema, no persistence.
type InMemoryCatalog struct {
	descs     map[int64]tuple.TupleDesc
	keyFields map[int64]int
}

func NewInMemoryCatalog() *InMemoryCatalog {
	return &InMemoryCatalog{
		descs:     make(map[int64]tuple.TupleDesc),
		keyFields: make(map[int64]int),
	}
}

func (c *InMemoryCatalog) Add(tableID int64, desc tuple.TupleDesc, keyField int) {
	c.descs[tableID] = desc
	c.keyFields[tableID] = keyField
}

func (c *InMemoryCatalog) TupleDesc(tableID int64) (tuple.TupleDesc, error) {
	d, ok := c.descs[tableID]
	if !ok {
		return tuple.TupleDesc{}, errUnknownTable(tableID)
	}
	return d, nil
}

func (c *InMemoryCatalog) KeyField(tableID int64) (int, error) {
	k, ok := c.keyFields[tableID]
	if !ok {
		return 0, errUnknownTable(tableID)
	}
	return k, nil
}

type unknownTableError int64

func (e unknownTableError) Error() string {
	return "unknown table id"
}

func errUnknownTable(tableID int64) error { return unknownTableError(tableID) }
