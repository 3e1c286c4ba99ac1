package badgerdb

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"go.vocdoni.io/ballotchain/db"
	"go.vocdoni.io/ballotchain/db/internal/dbtest"
)

func newTestDB(t *testing.T) *BadgerDB {
	database, err := New(db.Options{Path: t.TempDir()})
	qt.Assert(t, err, qt.IsNil)
	t.Cleanup(func() { database.Close() })
	return database
}

func TestWriteTx(t *testing.T) {
	dbtest.TestWriteTx(t, newTestDB(t))
}

func TestIterate(t *testing.T) {
	dbtest.TestIterate(t, newTestDB(t))
}

func TestConcurrentWriteTx(t *testing.T) {
	dbtest.TestConcurrentWriteTx(t, newTestDB(t))
}
