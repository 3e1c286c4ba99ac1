package types

import (
	"bytes"
	"fmt"
	"slices"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const (
	// HashLength is the size of block hashes, serial numbers and election ids.
	HashLength = 32
	// AddressLength is the size of a validator address.
	AddressLength = 20
	// NonceLength is the size of the random nonce carried by every ballot.
	NonceLength = 16
)

// ZeroHash is the previous hash referenced by the genesis block.
var ZeroHash = make(HexBytes, HashLength)

// Election describes a single voting process. It is read only once the
// node has started.
type Election struct {
	ID           HexBytes  `json:"id"           cbor:"0,keyasint,omitempty"`
	Name         string    `json:"name"         cbor:"1,keyasint,omitempty"`
	Candidates   []string  `json:"candidates"   cbor:"2,keyasint,omitempty"`
	IssuerPubKey HexBytes  `json:"issuerPubKey" cbor:"3,keyasint,omitempty"`
	StartTime    time.Time `json:"startTime"    cbor:"4,keyasint,omitempty"`
	EndTime      time.Time `json:"endTime"      cbor:"5,keyasint,omitempty"`
}

// Validate checks the election is well formed.
func (e *Election) Validate() error {
	if len(e.ID) != HashLength {
		return fmt.Errorf("election id must be %d bytes, got %d", HashLength, len(e.ID))
	}
	if len(e.Candidates) == 0 {
		return fmt.Errorf("election %q has no candidates", e.Name)
	}
	seen := make(map[string]bool, len(e.Candidates))
	for _, c := range e.Candidates {
		if c == "" {
			return fmt.Errorf("election %q has an empty candidate id", e.Name)
		}
		if seen[c] {
			return fmt.Errorf("election %q has duplicated candidate %q", e.Name, c)
		}
		seen[c] = true
	}
	if len(e.IssuerPubKey) == 0 {
		return fmt.Errorf("election %q has no issuer public key", e.Name)
	}
	if !e.EndTime.IsZero() && e.EndTime.Before(e.StartTime) {
		return fmt.Errorf("election %q ends before it starts", e.Name)
	}
	return nil
}

// HasCandidate reports whether choice is one of the registered candidates.
func (e *Election) HasCandidate(choice string) bool {
	return slices.Contains(e.Candidates, choice)
}

// IsOpen reports whether ballots are accepted at instant t. A zero start or
// end time leaves that side of the period unbounded.
func (e *Election) IsOpen(t time.Time) bool {
	if !e.StartTime.IsZero() && t.Before(e.StartTime) {
		return false
	}
	if !e.EndTime.IsZero() && !t.Before(e.EndTime) {
		return false
	}
	return true
}

// Ballot is a single anonymous vote. It carries no voter identity: the proof
// only shows that some eligible voter's one-time credential signed it.
type Ballot struct {
	ElectionID HexBytes    `json:"electionId" cbor:"0,keyasint,omitempty"`
	Choice     string      `json:"choice"     cbor:"1,keyasint,omitempty"`
	Nonce      HexBytes    `json:"nonce"      cbor:"2,keyasint,omitempty"`
	Proof      BallotProof `json:"proof"      cbor:"3,keyasint,omitempty"`
}

// BallotProof holds the issuer's unblinded signature over the credential and
// the credential key's signature over the ballot payload.
type BallotProof struct {
	Credential HexBytes `json:"credential" cbor:"0,keyasint,omitempty"`
	Signature  HexBytes `json:"signature"  cbor:"1,keyasint,omitempty"`
}

type ballotPayload struct {
	ElectionID HexBytes `cbor:"0,keyasint"`
	Choice     string   `cbor:"1,keyasint"`
	Nonce      HexBytes `cbor:"2,keyasint"`
}

// SignedPayload returns the bytes the credential key signs.
func (b *Ballot) SignedPayload() ([]byte, error) {
	return Encode(ballotPayload{ElectionID: b.ElectionID, Choice: b.Choice, Nonce: b.Nonce})
}

// Block is a batch of ballots appended to the ledger. Only the index, the
// previous hash, the ballots and the Final mark are covered by Hash; the
// remaining fields are informative and filled by consensus.
//
// A Final block carries no ballots and closes the ledger: validators agree on
// it like on any other block, so every node stops at the same height.
type Block struct {
	Index       uint64       `json:"index"                 cbor:"0,keyasint"`
	PrevHash    HexBytes     `json:"prevHash"              cbor:"1,keyasint,omitempty"`
	Ballots     []*Ballot    `json:"ballots"               cbor:"2,keyasint,omitempty"`
	Hash        HexBytes     `json:"hash"                  cbor:"3,keyasint,omitempty"`
	Proposer    HexBytes     `json:"proposer,omitempty"    cbor:"4,keyasint,omitempty"`
	Round       uint32       `json:"round"                 cbor:"5,keyasint,omitempty"`
	Timestamp   int64        `json:"timestamp"             cbor:"6,keyasint,omitempty"`
	Certificate *Certificate `json:"certificate,omitempty" cbor:"7,keyasint,omitempty"`
	Final       bool         `json:"final,omitempty"       cbor:"8,keyasint,omitempty"`
}

type blockDigest struct {
	Index    uint64    `cbor:"0,keyasint"`
	PrevHash HexBytes  `cbor:"1,keyasint"`
	Ballots  []*Ballot `cbor:"2,keyasint"`
	Final    bool      `cbor:"3,keyasint,omitempty"`
}

// ComputeHash returns keccak256 over the deterministic encoding of the
// block index, previous hash, ballots and final mark.
func (b *Block) ComputeHash() (HexBytes, error) {
	ballots := b.Ballots
	if ballots == nil {
		ballots = []*Ballot{}
	}
	data, err := Encode(blockDigest{Index: b.Index, PrevHash: b.PrevHash, Ballots: ballots, Final: b.Final})
	if err != nil {
		return nil, err
	}
	return ethcrypto.Keccak256(data), nil
}

// Seal computes and stores the block hash.
func (b *Block) Seal() error {
	h, err := b.ComputeHash()
	if err != nil {
		return err
	}
	b.Hash = h
	return nil
}

// CheckHash reports whether the stored hash matches the block contents.
func (b *Block) CheckHash() bool {
	h, err := b.ComputeHash()
	return err == nil && bytes.Equal(h, b.Hash)
}

// GenesisBlock returns the sealed block at index 0. It is identical on every
// node.
func GenesisBlock() *Block {
	b := &Block{Index: 0, PrevHash: ZeroHash}
	if err := b.Seal(); err != nil {
		panic(err)
	}
	return b
}

// VoteType distinguishes the two voting phases of a consensus round.
type VoteType uint8

const (
	VotePrevote   VoteType = 1
	VotePrecommit VoteType = 2
)

func (t VoteType) String() string {
	switch t {
	case VotePrevote:
		return "prevote"
	case VotePrecommit:
		return "precommit"
	default:
		return fmt.Sprintf("VoteType(%d)", uint8(t))
	}
}

// Vote is a signed prevote or precommit. An empty BlockHash is a nil vote.
type Vote struct {
	Type      VoteType `json:"type"      cbor:"0,keyasint"`
	Height    uint64   `json:"height"    cbor:"1,keyasint"`
	Round     uint32   `json:"round"     cbor:"2,keyasint"`
	BlockHash HexBytes `json:"blockHash" cbor:"3,keyasint,omitempty"`
	Validator HexBytes `json:"validator" cbor:"4,keyasint,omitempty"`
	Signature HexBytes `json:"signature" cbor:"5,keyasint,omitempty"`
}

type votePayload struct {
	Type      VoteType `cbor:"0,keyasint"`
	Height    uint64   `cbor:"1,keyasint"`
	Round     uint32   `cbor:"2,keyasint"`
	BlockHash HexBytes `cbor:"3,keyasint"`
}

// SignedPayload returns the bytes a validator signs for this vote.
func (v *Vote) SignedPayload() ([]byte, error) {
	return Encode(votePayload{Type: v.Type, Height: v.Height, Round: v.Round, BlockHash: v.BlockHash})
}

// IsNil reports whether the vote is for no block.
func (v *Vote) IsNil() bool { return len(v.BlockHash) == 0 }

// Certificate proves a block was committed: precommits for BlockHash from
// more than two thirds of the validator set.
type Certificate struct {
	Height     uint64   `json:"height"     cbor:"0,keyasint"`
	Round      uint32   `json:"round"      cbor:"1,keyasint"`
	BlockHash  HexBytes `json:"blockHash"  cbor:"2,keyasint,omitempty"`
	Precommits []*Vote  `json:"precommits" cbor:"3,keyasint,omitempty"`
}
