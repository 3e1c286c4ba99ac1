package ledger

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"go.vocdoni.io/ballotchain/compressor"
	"go.vocdoni.io/ballotchain/db"
	"go.vocdoni.io/ballotchain/db/prefixeddb"
)

// BlockLog persists serialized blocks in index order.
type BlockLog interface {
	// Append stores the next serialized block.
	Append(data []byte) error
	// ReadRange returns the serialized blocks with index in [start, end).
	// It stops at the last stored block.
	ReadRange(start, end uint64) ([][]byte, error)
}

// MemLog is a BlockLog kept in memory.
type MemLog struct {
	mu     sync.RWMutex
	blocks [][]byte
}

// NewMemLog returns an empty MemLog.
func NewMemLog() *MemLog { return &MemLog{} }

func (l *MemLog) Append(data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.blocks = append(l.blocks, append([]byte(nil), data...))
	return nil
}

func (l *MemLog) ReadRange(start, end uint64) ([][]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if end > uint64(len(l.blocks)) {
		end = uint64(len(l.blocks))
	}
	if start >= end {
		return nil, nil
	}
	out := make([][]byte, 0, end-start)
	for _, b := range l.blocks[start:end] {
		out = append(out, append([]byte(nil), b...))
	}
	return out, nil
}

var blockPrefix = []byte("blk/")

// DBLog is a BlockLog stored in a db.Database. Blocks are zstd compressed and
// keyed by their big-endian index.
type DBLog struct {
	mu   sync.Mutex
	db   db.Database
	comp compressor.Compressor
	next uint64
}

// NewDBLog opens the block log stored in database.
func NewDBLog(database db.Database) (*DBLog, error) {
	l := &DBLog{
		db:   prefixeddb.NewPrefixedDatabase(database, blockPrefix),
		comp: compressor.NewCompressor(),
	}
	var gap error
	if err := l.db.Iterate(nil, func(k, _ []byte) bool {
		if len(k) != 8 || binary.BigEndian.Uint64(k) != l.next {
			gap = fmt.Errorf("%w: unexpected block key %x", ErrChainCorrupted, k)
			return false
		}
		l.next++
		return true
	}); err != nil {
		return nil, err
	}
	if gap != nil {
		return nil, gap
	}
	return l, nil
}

func indexKey(index uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, index)
	return key
}

func (l *DBLog) Append(data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	tx := l.db.WriteTx()
	defer tx.Discard()
	if err := tx.Set(indexKey(l.next), l.comp.CompressBytes(data)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("cannot store block %d: %w", l.next, err)
	}
	l.next++
	return nil
}

func (l *DBLog) ReadRange(start, end uint64) ([][]byte, error) {
	var out [][]byte
	for i := start; i < end; i++ {
		value, err := l.db.Get(indexKey(i))
		if errors.Is(err, db.ErrKeyNotFound) {
			break
		}
		if err != nil {
			return nil, err
		}
		data, err := l.comp.DecompressBytes(value)
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", i, err)
		}
		out = append(out, data)
	}
	return out, nil
}
