package badgerdb

import (
	"errors"
	"os"

	"github.com/dgraph-io/badger/v3"

	"go.vocdoni.io/ballotchain/db"
)

// MemTableSize is the badger memtable size. The 64MB default is too small for
// large write transactions.
const MemTableSize = 128 << 20

// ReadTx implements db.ReadTx
type ReadTx struct {
	tx *badger.Txn
}

var _ db.ReadTx = (*ReadTx)(nil)

func (tx ReadTx) Get(k []byte) ([]byte, error) {
	item, err := tx.tx.Get(k)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, db.ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (tx ReadTx) Discard() {
	tx.tx.Discard()
}

// WriteTx implements db.WriteTx
type WriteTx struct {
	tx *badger.Txn
}

var _ db.WriteTx = (*WriteTx)(nil)

func (tx WriteTx) Get(k []byte) ([]byte, error) {
	return ReadTx(tx).Get(k)
}

func (tx WriteTx) Set(k, v []byte) error {
	err := tx.tx.Set(k, v)
	if errors.Is(err, badger.ErrTxnTooBig) {
		return db.ErrTxnTooBig
	}
	return err
}

func (tx WriteTx) Delete(k []byte) error {
	err := tx.tx.Delete(k)
	if errors.Is(err, badger.ErrTxnTooBig) {
		return db.ErrTxnTooBig
	}
	return err
}

func (tx WriteTx) Commit() error {
	// badger skips the discard when there are no pending writes
	defer tx.tx.Discard()
	return tx.tx.Commit()
}

func (tx WriteTx) Discard() {
	tx.tx.Discard()
}

// BadgerDB implements db.Database
type BadgerDB struct {
	db *badger.DB
}

var _ db.Database = (*BadgerDB)(nil)

// New opens (or creates) a badger database at opts.Path.
func New(opts db.Options) (*BadgerDB, error) {
	if err := os.MkdirAll(opts.Path, os.ModePerm); err != nil {
		return nil, err
	}
	badgerOpts := badger.DefaultOptions(opts.Path).
		WithLogger(nil).
		WithSyncWrites(true).
		WithCompression(0).
		WithBlockCacheSize(0).
		WithNumMemtables(1)
	badgerOpts.MemTableSize = MemTableSize
	bdb, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, err
	}
	return &BadgerDB{db: bdb}, nil
}

func (d *BadgerDB) Get(k []byte) ([]byte, error) {
	tx := d.ReadTx()
	defer tx.Discard()
	return tx.Get(k)
}

func (d *BadgerDB) ReadTx() db.ReadTx {
	return ReadTx{tx: d.db.NewTransaction(false)}
}

func (d *BadgerDB) WriteTx() db.WriteTx {
	return WriteTx{tx: d.db.NewTransaction(true)}
}

func (d *BadgerDB) Close() error {
	return d.db.Close()
}

func (d *BadgerDB) Iterate(prefix []byte, callback func(k, v []byte) bool) error {
	return d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			stop := false
			err := item.Value(func(v []byte) error {
				stop = !callback(item.Key()[len(prefix):], v)
				return nil
			})
			if err != nil {
				return err
			}
			if stop {
				break
			}
		}
		return nil
	})
}

func (d *BadgerDB) Compact() error {
	return d.db.Flatten(1)
}
