// Package spentset is the double-vote guard: the set of credential serial
// numbers that were already admitted.
package spentset

import (
	"errors"
	"fmt"
	"sync"

	"go.vocdoni.io/ballotchain/db"
	"go.vocdoni.io/ballotchain/log"
)

// ErrAlreadySpent is returned when a serial number was admitted before.
var ErrAlreadySpent = errors.New("serial number already spent")

// SpentSet only grows. TryAdmit is atomic, so among concurrent callers with
// the same serial exactly one succeeds.
type SpentSet struct {
	mu      sync.Mutex
	serials map[string]struct{}
	// db is optional
	db db.Database
}

// New returns an empty in-memory SpentSet.
func New() *SpentSet {
	return &SpentSet{serials: make(map[string]struct{})}
}

// NewPersistent returns a SpentSet backed by database, loading every serial
// stored in it.
func NewPersistent(database db.Database) (*SpentSet, error) {
	s := New()
	s.db = database
	if err := database.Iterate(nil, func(k, _ []byte) bool {
		s.serials[string(k)] = struct{}{}
		return true
	}); err != nil {
		return nil, fmt.Errorf("cannot load spent serials: %w", err)
	}
	log.Debugw("loaded spent set", "serials", len(s.serials))
	return s, nil
}

// TryAdmit inserts serial, or returns ErrAlreadySpent if it was present.
func (s *SpentSet) TryAdmit(serial []byte) error {
	if len(serial) == 0 {
		return fmt.Errorf("empty serial number")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.serials[string(serial)]; ok {
		return ErrAlreadySpent
	}
	if s.db != nil {
		tx := s.db.WriteTx()
		defer tx.Discard()
		if err := tx.Set(serial, []byte{1}); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("cannot persist serial: %w", err)
		}
	}
	s.serials[string(serial)] = struct{}{}
	return nil
}

// Contains reports whether serial was admitted.
func (s *SpentSet) Contains(serial []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.serials[string(serial)]
	return ok
}

// Len returns the number of admitted serials.
func (s *SpentSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.serials)
}
