package prefixeddb

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"go.vocdoni.io/ballotchain/db"
	"go.vocdoni.io/ballotchain/db/pebbledb"
)

func TestPrefixed(t *testing.T) {
	c := qt.New(t)
	database, err := pebbledb.New(db.Options{Path: t.TempDir()})
	c.Assert(err, qt.IsNil)
	defer database.Close()

	db1 := NewPrefixedDatabase(database, []byte("one/"))
	db2 := NewPrefixedDatabase(database, []byte("two/"))

	wTx := db1.WriteTx()
	c.Assert(wTx.Set([]byte("a"), []byte("1")), qt.IsNil)
	c.Assert(wTx.Set([]byte("b"), []byte("2")), qt.IsNil)
	c.Assert(wTx.Commit(), qt.IsNil)

	wTx = NewPrefixedWriteTx(database.WriteTx(), []byte("two/"))
	c.Assert(wTx.Set([]byte("a"), []byte("3")), qt.IsNil)
	c.Assert(wTx.Commit(), qt.IsNil)

	v, err := db1.Get([]byte("a"))
	c.Assert(err, qt.IsNil)
	c.Assert(v, qt.DeepEquals, []byte("1"))

	rTx := db2.ReadTx()
	v, err = rTx.Get([]byte("a"))
	c.Assert(err, qt.IsNil)
	c.Assert(v, qt.DeepEquals, []byte("3"))
	_, err = rTx.Get([]byte("b"))
	c.Assert(err, qt.ErrorIs, db.ErrKeyNotFound)
	rTx.Discard()

	var keys []string
	c.Assert(db1.Iterate(nil, func(k, v []byte) bool {
		keys = append(keys, string(k))
		return true
	}), qt.IsNil)
	c.Assert(keys, qt.DeepEquals, []string{"a", "b"})

	v, err = database.Get([]byte("one/b"))
	c.Assert(err, qt.IsNil)
	c.Assert(v, qt.DeepEquals, []byte("2"))

	// nesting joins the prefixes
	nested := NewPrefixedDatabase(db1, []byte("x/"))
	wTx = nested.WriteTx()
	c.Assert(wTx.Set([]byte("k"), []byte("v")), qt.IsNil)
	c.Assert(wTx.Commit(), qt.IsNil)
	v, err = database.Get([]byte("one/x/k"))
	c.Assert(err, qt.IsNil)
	c.Assert(v, qt.DeepEquals, []byte("v"))
}
