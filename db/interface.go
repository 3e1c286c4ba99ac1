// Package db defines the key-value storage abstraction backing the block
// log, the spent serial set and the issuer registry.
package db

import (
	"errors"
	"io"
)

const (
	TypePebble = "pebble"
	TypeBadger = "badger"
)

// ErrKeyNotFound is used to indicate that a key does not exist in the db.
var ErrKeyNotFound = errors.New("key not found")

// ErrTxnTooBig is returned when a WriteTx can't hold more writes.
var ErrTxnTooBig = errors.New("txn too big")

// Options defines generic parameters for creating a new Database.
type Options struct {
	Path string
}

// Database wraps all database operations. All methods are safe for concurrent
// use.
type Database interface {
	io.Closer
	Reader

	// ReadTx creates a read-only view of the database.
	ReadTx() ReadTx
	// WriteTx creates a new write transaction.
	WriteTx() WriteTx
	// Compact compacts the underlying storage.
	Compact() error
}

// Reader contains the read-only database operations.
type Reader interface {
	// Get retrieves the value for the given key, or ErrKeyNotFound.
	Get(key []byte) ([]byte, error)

	// Iterate calls callback for every key starting with prefix, in
	// lexicographical order. The key passed to the callback has the prefix
	// stripped. Returning false stops the iteration.
	//
	// Key and value are only valid during the callback.
	Iterate(prefix []byte, callback func(key, value []byte) bool) error
}

// ReadTx is a consistent read-only view.
type ReadTx interface {
	Get(key []byte) ([]byte, error)
	// Discard releases the view. Safe to call more than once.
	Discard()
}

// WriteTx is a read-write transaction. Writes become visible to other readers
// only after Commit.
type WriteTx interface {
	ReadTx

	Set(key []byte, value []byte) error
	Delete(key []byte) error
	// Commit commits the transaction. Calling it twice, or after Discard,
	// is an error.
	Commit() error
}
