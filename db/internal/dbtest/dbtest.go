// Package dbtest holds conformance tests run against every db.Database
// implementation.
package dbtest

import (
	"fmt"
	"strconv"
	"sync"
	"testing"

	qt "github.com/frankban/quicktest"

	"go.vocdoni.io/ballotchain/db"
)

func TestWriteTx(t *testing.T, database db.Database) {
	c := qt.New(t)
	wTx := database.WriteTx()
	_, err := wTx.Get([]byte("a"))
	c.Assert(err, qt.ErrorIs, db.ErrKeyNotFound)

	c.Assert(wTx.Set([]byte("a"), []byte("b")), qt.IsNil)
	v, err := wTx.Get([]byte("a"))
	c.Assert(err, qt.IsNil)
	c.Assert(v, qt.DeepEquals, []byte("b"))

	// not visible before commit
	_, err = database.Get([]byte("a"))
	c.Assert(err, qt.ErrorIs, db.ErrKeyNotFound)

	c.Assert(wTx.Commit(), qt.IsNil)
	// Discard after Commit must be harmless
	wTx.Discard()

	v, err = database.Get([]byte("a"))
	c.Assert(err, qt.IsNil)
	c.Assert(v, qt.DeepEquals, []byte("b"))

	rTx := database.ReadTx()
	defer rTx.Discard()
	v, err = rTx.Get([]byte("a"))
	c.Assert(err, qt.IsNil)
	c.Assert(v, qt.DeepEquals, []byte("b"))

	wTx = database.WriteTx()
	c.Assert(wTx.Delete([]byte("a")), qt.IsNil)
	c.Assert(wTx.Commit(), qt.IsNil)
	_, err = database.Get([]byte("a"))
	c.Assert(err, qt.ErrorIs, db.ErrKeyNotFound)

	// discarded writes are lost
	wTx = database.WriteTx()
	c.Assert(wTx.Set([]byte("x"), []byte("y")), qt.IsNil)
	wTx.Discard()
	_, err = database.Get([]byte("x"))
	c.Assert(err, qt.ErrorIs, db.ErrKeyNotFound)
}

func TestIterate(t *testing.T, d db.Database) {
	c := qt.New(t)
	prefix0, prefix0NumKeys := []byte("a"), 20
	prefix1, prefix1NumKeys := []byte("b"), 30

	wTx := d.WriteTx()
	for i := 0; i < prefix0NumKeys; i++ {
		c.Assert(wTx.Set(append(prefix0, []byte(strconv.Itoa(i))...), []byte(strconv.Itoa(i))), qt.IsNil)
	}
	for i := 0; i < prefix1NumKeys; i++ {
		c.Assert(wTx.Set(append(prefix1, []byte(strconv.Itoa(i))...), []byte(strconv.Itoa(i))), qt.IsNil)
	}
	c.Assert(wTx.Commit(), qt.IsNil)

	count := func(prefix []byte) int {
		n := 0
		err := d.Iterate(prefix, func(k, v []byte) bool {
			// the prefix is stripped from keys
			c.Assert(string(k), qt.Equals, string(v))
			n++
			return true
		})
		c.Assert(err, qt.IsNil)
		return n
	}
	c.Assert(count(prefix0), qt.Equals, prefix0NumKeys)
	c.Assert(count(prefix1), qt.Equals, prefix1NumKeys)

	all := 0
	c.Assert(d.Iterate(nil, func(k, v []byte) bool {
		all++
		return true
	}), qt.IsNil)
	c.Assert(all, qt.Equals, prefix0NumKeys+prefix1NumKeys)

	// stop early
	seen := 0
	c.Assert(d.Iterate(prefix1, func(k, v []byte) bool {
		seen++
		return seen < 5
	}), qt.IsNil)
	c.Assert(seen, qt.Equals, 5)
}

func TestConcurrentWriteTx(t *testing.T, database db.Database) {
	c := qt.New(t)
	var wg sync.WaitGroup
	var mu sync.Mutex
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// some backends reject conflicting concurrent transactions
			mu.Lock()
			defer mu.Unlock()
			tx := database.WriteTx()
			defer tx.Discard()
			if err := tx.Set([]byte(fmt.Sprintf("key%d", i)), []byte{byte(i)}); err != nil {
				t.Error(err)
				return
			}
			if err := tx.Commit(); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()
	for i := 0; i < 10; i++ {
		v, err := database.Get([]byte(fmt.Sprintf("key%d", i)))
		c.Assert(err, qt.IsNil)
		c.Assert(v, qt.DeepEquals, []byte{byte(i)})
	}
}
