package pebbledb

import (
	"errors"
	"fmt"
	"os"

	"github.com/cockroachdb/pebble"

	"go.vocdoni.io/ballotchain/db"
)

func get(reader pebble.Reader, k []byte) ([]byte, error) {
	v, closer, err := reader.Get(k)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, db.ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	// v is only valid until closer is closed
	v2 := make([]byte, len(v))
	copy(v2, v)
	if err := closer.Close(); err != nil {
		return nil, err
	}
	return v2, nil
}

func keyUpperBound(b []byte) []byte {
	end := make([]byte, len(b))
	copy(end, b)
	for i := len(end) - 1; i >= 0; i-- {
		end[i] = end[i] + 1
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil // no upper-bound
}

// ReadTx implements db.ReadTx over a pebble snapshot.
type ReadTx struct {
	snap *pebble.Snapshot
}

var _ db.ReadTx = (*ReadTx)(nil)

func (tx *ReadTx) Get(k []byte) ([]byte, error) {
	return get(tx.snap, k)
}

func (tx *ReadTx) Discard() {
	if tx.snap == nil {
		return
	}
	tx.snap.Close()
	tx.snap = nil
}

// WriteTx implements db.WriteTx over an indexed batch.
type WriteTx struct {
	batch *pebble.Batch
}

var _ db.WriteTx = (*WriteTx)(nil)

func (tx *WriteTx) Get(k []byte) ([]byte, error) {
	return get(tx.batch, k)
}

func (tx *WriteTx) Set(k, v []byte) error {
	return tx.batch.Set(k, v, nil)
}

func (tx *WriteTx) Delete(k []byte) error {
	return tx.batch.Delete(k, nil)
}

func (tx *WriteTx) Commit() error {
	if tx.batch == nil {
		return fmt.Errorf("cannot commit pebble tx: already committed or discarded")
	}
	err := tx.batch.Commit(pebble.Sync)
	tx.batch = nil
	return err
}

// Discard is a no-op after Commit, so it can always be deferred.
func (tx *WriteTx) Discard() {
	if tx.batch == nil {
		return
	}
	tx.batch.Close()
	tx.batch = nil
}

// PebbleDB implements db.Database.
type PebbleDB struct {
	db *pebble.DB
}

var _ db.Database = (*PebbleDB)(nil)

// New opens (or creates) a pebble database at opts.Path.
func New(opts db.Options) (*PebbleDB, error) {
	if err := os.MkdirAll(opts.Path, os.ModePerm); err != nil {
		return nil, err
	}
	o := &pebble.Options{
		Levels: []pebble.LevelOptions{
			{Compression: pebble.SnappyCompression},
		},
	}
	pdb, err := pebble.Open(opts.Path, o)
	if err != nil {
		return nil, err
	}
	return &PebbleDB{db: pdb}, nil
}

func (d *PebbleDB) Get(k []byte) ([]byte, error) {
	return get(d.db, k)
}

func (d *PebbleDB) ReadTx() db.ReadTx {
	return &ReadTx{snap: d.db.NewSnapshot()}
}

func (d *PebbleDB) WriteTx() db.WriteTx {
	return &WriteTx{batch: d.db.NewIndexedBatch()}
}

func (d *PebbleDB) Close() error {
	return d.db.Close()
}

func (d *PebbleDB) Iterate(prefix []byte, callback func(k, v []byte) bool) (err error) {
	iter, err := d.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer func() {
		if errC := iter.Close(); err == nil {
			err = errC
		}
	}()
	for iter.First(); iter.Valid(); iter.Next() {
		if !callback(iter.Key()[len(prefix):], iter.Value()) {
			break
		}
	}
	return iter.Error()
}

func (d *PebbleDB) Compact() error {
	iter, err := d.db.NewIter(nil)
	if err != nil {
		return err
	}
	var first, last []byte
	if iter.First() {
		first = append(first, iter.Key()...)
	}
	if iter.Last() {
		last = append(last, iter.Key()...)
	}
	if err := iter.Close(); err != nil {
		return err
	}
	return d.db.Compact(first, last, true)
}
