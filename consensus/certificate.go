package consensus

import (
	"bytes"
	"fmt"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"go.vocdoni.io/ballotchain/types"
)

// NewCertificate collects the precommits for block from a round's vote set.
func NewCertificate(block *types.Block, round uint32, precommits *VoteSet) *types.Certificate {
	return &types.Certificate{
		Height:     block.Index,
		Round:      round,
		BlockHash:  block.Hash,
		Precommits: precommits.VotesFor(block.Hash),
	}
}

// VerifyCertificate checks the block carries precommits for its hash from
// more than two thirds of vals, each correctly signed by a distinct
// validator.
func VerifyCertificate(block *types.Block, vals *ValidatorSet) error {
	cert := block.Certificate
	switch {
	case cert == nil:
		return fmt.Errorf("%w: block %d has no certificate", ErrInvalidCertificate, block.Index)
	case !block.CheckHash():
		return fmt.Errorf("%w: block %d hash does not match its contents", ErrInvalidCertificate, block.Index)
	case cert.Height != block.Index || !bytes.Equal(cert.BlockHash, block.Hash):
		return fmt.Errorf("%w: certificate is for %d/%x", ErrInvalidCertificate, cert.Height, cert.BlockHash)
	}
	signers := make(map[ethcommon.Address]bool, len(cert.Precommits))
	for i, v := range cert.Precommits {
		if v == nil {
			return fmt.Errorf("%w: precommit %d is empty", ErrInvalidCertificate, i)
		}
		if v.Type != types.VotePrecommit || v.Height != cert.Height || v.Round != cert.Round ||
			!bytes.Equal(v.BlockHash, cert.BlockHash) {
			return fmt.Errorf("%w: precommit %d does not match", ErrInvalidCertificate, i)
		}
		addr, err := VerifyVote(v, vals)
		if err != nil {
			return fmt.Errorf("%w: precommit %d: %w", ErrInvalidCertificate, i, err)
		}
		if signers[addr] {
			return fmt.Errorf("%w: %s signed twice", ErrInvalidCertificate, addr)
		}
		signers[addr] = true
	}
	if !vals.HasQuorum(len(signers)) {
		return fmt.Errorf("%w: %d of %d precommits", ErrInvalidCertificate, len(signers), vals.Size())
	}
	return nil
}
