package consensus

import (
	"bytes"
	"fmt"
	"slices"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

// ValidatorSet is the fixed, ordered set of validator addresses.
type ValidatorSet struct {
	addrs []ethcommon.Address
	index map[ethcommon.Address]int
}

// NewValidatorSet sorts addrs and returns the set. Duplicates are an error.
func NewValidatorSet(addrs ...ethcommon.Address) (*ValidatorSet, error) {
	if len(addrs) == 0 {
		return nil, fmt.Errorf("empty validator set")
	}
	vs := &ValidatorSet{
		addrs: slices.Clone(addrs),
		index: make(map[ethcommon.Address]int, len(addrs)),
	}
	slices.SortFunc(vs.addrs, func(a, b ethcommon.Address) int { return bytes.Compare(a[:], b[:]) })
	for i, addr := range vs.addrs {
		if _, ok := vs.index[addr]; ok {
			return nil, fmt.Errorf("duplicated validator %s", addr)
		}
		vs.index[addr] = i
	}
	return vs, nil
}

// Size returns n.
func (vs *ValidatorSet) Size() int { return len(vs.addrs) }

// MaxFaulty returns f, the largest number of byzantine validators n = 3f+1
// tolerates.
func (vs *ValidatorSet) MaxFaulty() int { return (len(vs.addrs) - 1) / 3 }

// HasQuorum reports whether votes is more than two thirds of the set.
func (vs *ValidatorSet) HasQuorum(votes int) bool { return votes*3 > 2*len(vs.addrs) }

// Contains reports whether addr is a validator.
func (vs *ValidatorSet) Contains(addr ethcommon.Address) bool {
	_, ok := vs.index[addr]
	return ok
}

// Proposer returns the proposer for height and round, rotating over the
// sorted set.
func (vs *ValidatorSet) Proposer(height uint64, round uint32) ethcommon.Address {
	n := uint64(len(vs.addrs))
	return vs.addrs[(height%n+uint64(round)%n)%n]
}

// Addresses returns a copy of the sorted addresses.
func (vs *ValidatorSet) Addresses() []ethcommon.Address { return slices.Clone(vs.addrs) }
