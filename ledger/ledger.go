// Package ledger is the append-only, hash-linked sequence of finalized
// blocks.
package ledger

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"go.vocdoni.io/ballotchain/anonymizer"
	"go.vocdoni.io/ballotchain/log"
	"go.vocdoni.io/ballotchain/types"
)

var (
	// ErrChainBreak is returned when a block does not extend the head, or
	// when a stored block does not link to its predecessor.
	ErrChainBreak = errors.New("chain break")
	// ErrFrozen is returned by Append once a final block was appended.
	ErrFrozen = errors.New("ledger is frozen")
	// ErrChainCorrupted is returned by Open when the persisted chain does
	// not verify. The node must not start on top of it.
	ErrChainCorrupted = errors.New("persisted chain is corrupted")
	// ErrBlockNotFound is returned by Get for an index above the head.
	ErrBlockNotFound = errors.New("block not found")
)

// snapshot is immutable once published. Later snapshots may share the
// backing array of blocks, but never write below their predecessor's length.
type snapshot struct {
	blocks []*types.Block
}

func (s *snapshot) head() *types.Block { return s.blocks[len(s.blocks)-1] }

// Store holds the finalized chain. Append is the only mutator; readers
// never block.
//
// Blocks returned by the Store are shared and must not be modified.
type Store struct {
	writeMu sync.Mutex
	current atomic.Pointer[snapshot]
	serials sync.Map // string(serial) -> block index
	frozen  atomic.Bool
	log     BlockLog
}

// New returns an in-memory Store holding only the genesis block.
func New() *Store {
	s, err := Open(NewMemLog())
	if err != nil {
		panic(err) // an empty memory log always opens
	}
	return s
}

// Open replays blockLog and returns a Store on top of it. An empty log is
// initialized with the genesis block.
func Open(blockLog BlockLog) (*Store, error) {
	s := &Store{log: blockLog}
	stored, err := blockLog.ReadRange(0, math.MaxUint64)
	if err != nil {
		return nil, fmt.Errorf("cannot read block log: %w", err)
	}
	if len(stored) == 0 {
		genesis := types.GenesisBlock()
		data, err := types.Encode(genesis)
		if err != nil {
			return nil, err
		}
		if err := blockLog.Append(data); err != nil {
			return nil, fmt.Errorf("cannot store genesis: %w", err)
		}
		s.current.Store(&snapshot{blocks: []*types.Block{genesis}})
		return s, nil
	}

	blocks := make([]*types.Block, 0, len(stored))
	for i, data := range stored {
		block := &types.Block{}
		if err := types.Decode(data, block); err != nil {
			return nil, fmt.Errorf("%w: block %d: %v", ErrChainCorrupted, i, err)
		}
		if err := s.indexSerials(block); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrChainCorrupted, err)
		}
		blocks = append(blocks, block)
	}
	if err := verifyChain(blocks); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChainCorrupted, err)
	}
	s.current.Store(&snapshot{blocks: blocks})
	head := blocks[len(blocks)-1]
	s.frozen.Store(head.Final)
	log.Infow("ledger loaded", "height", head.Index, "head", head.Hash.String(), "frozen", head.Final)
	return s, nil
}

// indexSerials records the serial of every ballot in block. Serials already
// committed in an earlier block break the chain.
func (s *Store) indexSerials(block *types.Block) error {
	serials := make([]types.HexBytes, 0, len(block.Ballots))
	seen := make(map[string]bool, len(block.Ballots))
	for i, ballot := range block.Ballots {
		serial, err := anonymizer.SerialOf(ballot)
		if err != nil {
			return fmt.Errorf("block %d ballot %d: %w", block.Index, i, err)
		}
		if _, ok := s.serials.Load(string(serial)); ok || seen[string(serial)] {
			return fmt.Errorf("block %d ballot %d: serial %x already committed", block.Index, i, serial)
		}
		seen[string(serial)] = true
		serials = append(serials, serial)
	}
	for _, serial := range serials {
		s.serials.Store(string(serial), block.Index)
	}
	return nil
}

// Append adds block on top of the head. It returns ErrChainBreak unless the
// block has index head+1, references the head hash and its hash recomputes.
// Appending a final block freezes the store.
func (s *Store) Append(block *types.Block) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.frozen.Load() {
		return ErrFrozen
	}
	cur := s.current.Load()
	head := cur.head()
	if block.Index != head.Index+1 {
		return fmt.Errorf("%w: block index %d, expected %d", ErrChainBreak, block.Index, head.Index+1)
	}
	if !bytes.Equal(block.PrevHash, head.Hash) {
		return fmt.Errorf("%w: block %d references %x, head is %x",
			ErrChainBreak, block.Index, block.PrevHash, head.Hash)
	}
	if !block.CheckHash() {
		return fmt.Errorf("%w: block %d hash does not match its contents", ErrChainBreak, block.Index)
	}
	if block.Final && len(block.Ballots) > 0 {
		return fmt.Errorf("%w: final block %d carries ballots", ErrChainBreak, block.Index)
	}
	data, err := types.Encode(block)
	if err != nil {
		return err
	}
	// a duplicated serial leaves nothing indexed
	if err := s.indexSerials(block); err != nil {
		return fmt.Errorf("%w: %v", ErrChainBreak, err)
	}
	if err := s.log.Append(data); err != nil {
		for _, ballot := range block.Ballots {
			serial, _ := anonymizer.SerialOf(ballot)
			s.serials.Delete(string(serial))
		}
		return fmt.Errorf("cannot persist block %d: %w", block.Index, err)
	}
	s.current.Store(&snapshot{blocks: append(cur.blocks, block)})
	if block.Final {
		s.frozen.Store(true)
		log.Infow("ledger frozen", "height", block.Index, "hash", block.Hash.String())
		return nil
	}
	log.Debugw("block appended", "height", block.Index, "hash", block.Hash.String(),
		"ballots", len(block.Ballots))
	return nil
}

// Get returns the block at index.
func (s *Store) Get(index uint64) (*types.Block, error) {
	blocks := s.current.Load().blocks
	if index >= uint64(len(blocks)) {
		return nil, fmt.Errorf("%w: %d", ErrBlockNotFound, index)
	}
	return blocks[index], nil
}

// Range returns the blocks with index in [start, end), clamped to the head.
func (s *Store) Range(start, end uint64) []*types.Block {
	blocks := s.current.Load().blocks
	if end > uint64(len(blocks)) {
		end = uint64(len(blocks))
	}
	if start >= end {
		return nil
	}
	return blocks[start:end:end]
}

// Head returns the latest finalized block.
func (s *Store) Head() *types.Block { return s.current.Load().head() }

// Height returns the index of the head block.
func (s *Store) Height() uint64 { return s.Head().Index }

// HasSerial reports whether a ballot with serial was finalized.
func (s *Store) HasSerial(serial []byte) bool {
	_, ok := s.serials.Load(string(serial))
	return ok
}

// Frozen reports whether the head is a final block.
func (s *Store) Frozen() bool { return s.frozen.Load() }

// VerifyChain recomputes every block hash and link from genesis to the head,
// returning ErrChainBreak at the first mismatch.
func (s *Store) VerifyChain() error {
	return verifyChain(s.current.Load().blocks)
}

func verifyChain(blocks []*types.Block) error {
	genesis := types.GenesisBlock()
	for i, block := range blocks {
		if block.Index != uint64(i) {
			return fmt.Errorf("%w: block at position %d has index %d", ErrChainBreak, i, block.Index)
		}
		if !block.CheckHash() {
			return fmt.Errorf("%w: block %d hash does not match its contents", ErrChainBreak, i)
		}
		if i == 0 {
			if !bytes.Equal(block.Hash, genesis.Hash) {
				return fmt.Errorf("%w: unexpected genesis %x", ErrChainBreak, block.Hash)
			}
			continue
		}
		if !bytes.Equal(block.PrevHash, blocks[i-1].Hash) {
			return fmt.Errorf("%w: block %d does not reference block %d", ErrChainBreak, i, i-1)
		}
		if block.Final && (len(block.Ballots) > 0 || i != len(blocks)-1) {
			return fmt.Errorf("%w: misplaced final block %d", ErrChainBreak, i)
		}
	}
	return nil
}
