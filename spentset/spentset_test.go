package spentset

import (
	"sync"
	"sync/atomic"
	"testing"

	qt "github.com/frankban/quicktest"

	"go.vocdoni.io/ballotchain/db"
	"go.vocdoni.io/ballotchain/db/metadb"
	"go.vocdoni.io/ballotchain/util"
)

func TestTryAdmit(t *testing.T) {
	c := qt.New(t)
	s := New()
	serial := util.RandomBytes(32)
	c.Assert(s.Contains(serial), qt.IsFalse)
	c.Assert(s.TryAdmit(serial), qt.IsNil)
	c.Assert(s.Contains(serial), qt.IsTrue)
	c.Assert(s.TryAdmit(serial), qt.ErrorIs, ErrAlreadySpent)
	c.Assert(s.Len(), qt.Equals, 1)
	c.Assert(s.TryAdmit(nil), qt.Not(qt.IsNil))
}

func TestConcurrentAdmission(t *testing.T) {
	c := qt.New(t)
	s := New()
	serials := [][]byte{util.RandomBytes(32), util.RandomBytes(32), util.RandomBytes(32)}

	var admitted, spent atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 60; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			switch err := s.TryAdmit(serials[i%len(serials)]); err {
			case nil:
				admitted.Add(1)
			case ErrAlreadySpent:
				spent.Add(1)
			default:
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()
	c.Assert(admitted.Load(), qt.Equals, int32(len(serials)))
	c.Assert(spent.Load(), qt.Equals, int32(60-len(serials)))
	c.Assert(s.Len(), qt.Equals, len(serials))
}

func TestPersistent(t *testing.T) {
	c := qt.New(t)
	dir := t.TempDir()
	database, err := metadb.New(db.TypePebble, dir)
	c.Assert(err, qt.IsNil)

	s, err := NewPersistent(database)
	c.Assert(err, qt.IsNil)
	serial := util.RandomBytes(32)
	c.Assert(s.TryAdmit(serial), qt.IsNil)
	c.Assert(database.Close(), qt.IsNil)

	database, err = metadb.New(db.TypePebble, dir)
	c.Assert(err, qt.IsNil)
	defer database.Close()
	s, err = NewPersistent(database)
	c.Assert(err, qt.IsNil)
	c.Assert(s.Len(), qt.Equals, 1)
	c.Assert(s.TryAdmit(serial), qt.ErrorIs, ErrAlreadySpent)
}
