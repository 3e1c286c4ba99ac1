// Package tally recomputes election results from the ledger, trusting
// nothing but the chain itself and the election parameters.
package tally

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.vocdoni.io/ballotchain/anonymizer"
	"go.vocdoni.io/ballotchain/log"
	"go.vocdoni.io/ballotchain/spentset"
	"go.vocdoni.io/ballotchain/types"
)

// ErrTallyMismatch is returned when the ledger holds something a valid chain
// cannot: a broken hash link, an invalid ballot or a reused credential.
var ErrTallyMismatch = errors.New("tally mismatch")

// Chain is the read side of the ledger the tally replays.
type Chain interface {
	Height() uint64
	// Range returns the blocks with index in [start, end).
	Range(start, end uint64) []*types.Block
	VerifyChain() error
}

// Result holds the final count of an election at a given ledger height.
type Result struct {
	ElectionName string            `json:"electionName"`
	ElectionID   types.HexBytes    `json:"electionId"`
	Candidates   []string          `json:"candidates"`
	TotalVotes   uint64            `json:"totalVotes"`
	Counts       map[string]uint64 `json:"counts"`
	Winner       string            `json:"winner"` // empty when no ballot was cast
	Height       uint64            `json:"height"`
	// Final is set once the chain holds the block closing the election, so
	// the counts can no longer change.
	Final bool `json:"final"`
}

// String formats the counts in candidate order.
func (r *Result) String() string {
	var b strings.Builder
	b.WriteString("[")
	for i, c := range r.Candidates {
		fmt.Fprintf(&b, "%s:%d", c, r.Counts[c])
		if i < len(r.Candidates)-1 {
			b.WriteString(",")
		}
	}
	b.WriteString("]")
	return b.String()
}

// ComputeTally replays the chain from genesis. Every ballot is verified again
// against the election issuer, without cache, and every serial must appear
// once. The result only depends on the chain contents, so calling it twice
// on the same chain returns the same result.
func ComputeTally(election *types.Election, chain Chain) (*Result, error) {
	if err := chain.VerifyChain(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTallyMismatch, err)
	}
	verifier, err := anonymizer.NewVerifier(election, 0)
	if err != nil {
		return nil, fmt.Errorf("cannot build ballot verifier: %w", err)
	}
	height := chain.Height()
	result := &Result{
		ElectionName: election.Name,
		ElectionID:   election.ID,
		Counts:       make(map[string]uint64, len(election.Candidates)),
		Height:       height,
		Candidates:   election.Candidates,
	}
	for _, c := range election.Candidates {
		result.Counts[c] = 0
	}

	start := time.Now()
	seen := spentset.New()
	for _, block := range chain.Range(1, height+1) {
		for i, ballot := range block.Ballots {
			serial, err := verifier.Verify(ballot)
			if err != nil {
				return nil, fmt.Errorf("%w: block %d ballot %d: %w", ErrTallyMismatch, block.Index, i, err)
			}
			if err := seen.TryAdmit(serial); err != nil {
				return nil, fmt.Errorf("%w: block %d ballot %d: %w", ErrTallyMismatch, block.Index, i, err)
			}
			result.Counts[ballot.Choice]++
			result.TotalVotes++
		}
		result.Final = block.Final
	}
	result.Winner = winner(election.Candidates, result.Counts)
	log.Infow("computed tally",
		"election", election.Name,
		"votes", result.TotalVotes,
		"results", result.String(),
		"height", height,
		"final", result.Final,
		"elapsed", time.Since(start).String(),
	)
	return result, nil
}

// winner returns the candidate with most votes; ties go to the one listed
// first.
func winner(candidates []string, counts map[string]uint64) string {
	best, most := "", uint64(0)
	for _, c := range candidates {
		if counts[c] > most {
			best, most = c, counts[c]
		}
	}
	return best
}
