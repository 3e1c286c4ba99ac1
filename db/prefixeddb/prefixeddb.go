// Package prefixeddb lets several stores share one database, each under its
// own key prefix.
package prefixeddb

import (
	"go.vocdoni.io/ballotchain/db"
)

// PrefixedDatabase wraps a db.Database prefixing all keys with `prefix`.
type PrefixedDatabase struct {
	prefix []byte
	db     db.Database
}

var _ db.Database = (*PrefixedDatabase)(nil)

func prefixSlice(prefix, v []byte) []byte {
	// never reuse the prefix's backing array
	joint := make([]byte, 0, len(prefix)+len(v))
	joint = append(joint, prefix...)
	joint = append(joint, v...)
	return joint[:len(joint):len(joint)]
}

// NewPrefixedDatabase creates a new PrefixedDatabase. Wrapping an existing
// PrefixedDatabase joins both prefixes instead of nesting.
func NewPrefixedDatabase(database db.Database, prefix []byte) *PrefixedDatabase {
	if pdb, ok := database.(*PrefixedDatabase); ok {
		return &PrefixedDatabase{prefixSlice(pdb.prefix, prefix), pdb.db}
	}
	return &PrefixedDatabase{prefix, database}
}

// Close closes the wrapped database too.
func (d *PrefixedDatabase) Close() error {
	return d.db.Close()
}

func (d *PrefixedDatabase) Get(key []byte) ([]byte, error) {
	return d.db.Get(prefixSlice(d.prefix, key))
}

func (d *PrefixedDatabase) ReadTx() db.ReadTx {
	return &PrefixedReadTx{prefix: d.prefix, tx: d.db.ReadTx()}
}

func (d *PrefixedDatabase) WriteTx() db.WriteTx {
	return NewPrefixedWriteTx(d.db.WriteTx(), d.prefix)
}

// Iterate strips both the database prefix and the given prefix from keys.
func (d *PrefixedDatabase) Iterate(prefix []byte, callback func(key, value []byte) bool) error {
	return d.db.Iterate(prefixSlice(d.prefix, prefix), callback)
}

func (d *PrefixedDatabase) Compact() error {
	return d.db.Compact()
}

// PrefixedReadTx wraps a db.ReadTx prefixing all keys with `prefix`.
type PrefixedReadTx struct {
	prefix []byte
	tx     db.ReadTx
}

func (t *PrefixedReadTx) Get(key []byte) ([]byte, error) {
	return t.tx.Get(prefixSlice(t.prefix, key))
}

func (t *PrefixedReadTx) Discard() {
	t.tx.Discard()
}

// PrefixedWriteTx wraps a db.WriteTx prefixing all keys with `prefix`.
type PrefixedWriteTx struct {
	prefix []byte
	tx     db.WriteTx
}

var _ db.WriteTx = (*PrefixedWriteTx)(nil)

// NewPrefixedWriteTx wraps tx. Prefixes are joined if tx is already
// prefixed.
func NewPrefixedWriteTx(tx db.WriteTx, prefix []byte) *PrefixedWriteTx {
	if ptx, ok := tx.(*PrefixedWriteTx); ok {
		return &PrefixedWriteTx{prefixSlice(ptx.prefix, prefix), ptx.tx}
	}
	return &PrefixedWriteTx{prefix, tx}
}

func (t *PrefixedWriteTx) Get(key []byte) ([]byte, error) {
	return t.tx.Get(prefixSlice(t.prefix, key))
}

func (t *PrefixedWriteTx) Set(key []byte, value []byte) error {
	return t.tx.Set(prefixSlice(t.prefix, key), value)
}

func (t *PrefixedWriteTx) Delete(key []byte) error {
	return t.tx.Delete(prefixSlice(t.prefix, key))
}

// Commit commits the wrapped transaction.
func (t *PrefixedWriteTx) Commit() error {
	return t.tx.Commit()
}

func (t *PrefixedWriteTx) Discard() {
	t.tx.Discard()
}
