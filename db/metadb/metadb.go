package metadb

import (
	"fmt"
	"os"
	"testing"

	"go.vocdoni.io/ballotchain/db"
	"go.vocdoni.io/ballotchain/db/badgerdb"
	"go.vocdoni.io/ballotchain/db/pebbledb"
)

// New opens a database of the given type at dir.
func New(typ, dir string) (db.Database, error) {
	var database db.Database
	var err error
	opts := db.Options{Path: dir}
	switch typ {
	case db.TypePebble:
		database, err = pebbledb.New(opts)
	case db.TypeBadger:
		database, err = badgerdb.New(opts)
	default:
		return nil, fmt.Errorf("invalid dbType: %q. Available types: %q %q",
			typ, db.TypePebble, db.TypeBadger)
	}
	if err != nil {
		return nil, err
	}
	return database, nil
}

// ForTest returns the database type used by tests, $BALLOTCHAIN_DB_TYPE or
// pebble.
func ForTest() string {
	if typ := os.Getenv("BALLOTCHAIN_DB_TYPE"); typ != "" {
		return typ
	}
	return db.TypePebble
}

// NewTest opens a temporary database closed at the end of the test.
func NewTest(tb testing.TB) db.Database {
	database, err := New(ForTest(), tb.TempDir())
	if err != nil {
		tb.Fatal(err)
	}
	tb.Cleanup(func() { database.Close() })
	return database
}
