package consensus

import (
	"bytes"
	"slices"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"go.vocdoni.io/ballotchain/types"
)

// DuplicateVoteEvidence proves a validator signed two different votes of the
// same type for the same height and round.
type DuplicateVoteEvidence struct {
	VoteA *types.Vote `json:"voteA"`
	VoteB *types.Vote `json:"voteB"`
}

// Validator returns the equivocating validator.
func (e *DuplicateVoteEvidence) Validator() ethcommon.Address {
	return ethcommon.BytesToAddress(e.VoteA.Validator)
}

// VoteSet holds the verified votes of one type for one height and round, at
// most one per validator.
type VoteSet struct {
	votes  map[ethcommon.Address]*types.Vote
	counts map[string]int
}

// NewVoteSet returns an empty VoteSet.
func NewVoteSet() *VoteSet {
	return &VoteSet{
		votes:  make(map[ethcommon.Address]*types.Vote),
		counts: make(map[string]int),
	}
}

// Add records a verified vote. Repeating a vote is a no-op; a different vote
// by the same validator is not recorded and returns the evidence.
func (s *VoteSet) Add(v *types.Vote) (bool, *DuplicateVoteEvidence) {
	addr := ethcommon.BytesToAddress(v.Validator)
	if prev, ok := s.votes[addr]; ok {
		if bytes.Equal(prev.BlockHash, v.BlockHash) {
			return false, nil
		}
		return false, &DuplicateVoteEvidence{VoteA: prev, VoteB: v}
	}
	s.votes[addr] = v
	s.counts[string(v.BlockHash)]++
	return true, nil
}

// Size returns the number of validators that voted.
func (s *VoteSet) Size() int { return len(s.votes) }

// Count returns the number of votes for hash. A nil hash counts nil votes.
func (s *VoteSet) Count(hash []byte) int { return s.counts[string(hash)] }

// Majority returns the hash voted by more than two thirds of vals. The hash
// is empty for a nil majority.
func (s *VoteSet) Majority(vals *ValidatorSet) (types.HexBytes, bool) {
	for h, n := range s.counts {
		if vals.HasQuorum(n) {
			return types.HexBytes(h), true
		}
	}
	return nil, false
}

// HasQuorumAny reports whether more than two thirds of vals voted, for
// anything.
func (s *VoteSet) HasQuorumAny(vals *ValidatorSet) bool { return vals.HasQuorum(len(s.votes)) }

// VotesFor returns the votes for hash sorted by validator address.
func (s *VoteSet) VotesFor(hash []byte) []*types.Vote {
	var out []*types.Vote
	for _, v := range s.votes {
		if bytes.Equal(v.BlockHash, hash) {
			out = append(out, v)
		}
	}
	slices.SortFunc(out, func(a, b *types.Vote) int { return bytes.Compare(a.Validator, b.Validator) })
	return out
}
