package consensus

import (
	"errors"
	"fmt"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"go.vocdoni.io/ballotchain/crypto/ethereum"
	"go.vocdoni.io/ballotchain/types"
)

var (
	// ErrInvalidMessage is returned for messages that cannot be decoded or
	// whose payload does not match their type.
	ErrInvalidMessage = errors.New("invalid consensus message")
	// ErrInvalidSignature is returned when a vote or proposal signature
	// does not recover to the claimed signer.
	ErrInvalidSignature = errors.New("invalid consensus signature")
	// ErrUnknownValidator is returned for messages signed by a key outside
	// the validator set, or proposals by the wrong proposer.
	ErrUnknownValidator = errors.New("unknown validator")
	// ErrInvalidCertificate is returned when a commit certificate does not
	// prove its block.
	ErrInvalidCertificate = errors.New("invalid commit certificate")
	// ErrConsensusTimeout is logged when a round phase expires.
	ErrConsensusTimeout = errors.New("consensus timeout")
)

// MsgType tags the variant carried by a Message.
type MsgType uint8

const (
	MsgPropose MsgType = iota + 1
	MsgPrevote
	MsgPrecommit
	MsgBallot
	MsgCommit
	MsgSyncRequest
)

func (t MsgType) String() string {
	switch t {
	case MsgPropose:
		return "propose"
	case MsgPrevote:
		return "prevote"
	case MsgPrecommit:
		return "precommit"
	case MsgBallot:
		return "ballot"
	case MsgCommit:
		return "commit"
	case MsgSyncRequest:
		return "syncRequest"
	default:
		return fmt.Sprintf("MsgType(%d)", uint8(t))
	}
}

// Proposal carries the proposer's candidate block for a round. POLRound is
// the round of the prevote majority that justifies re-proposing a block, or
// -1 for a fresh block.
type Proposal struct {
	Height    uint64         `json:"height"    cbor:"0,keyasint"`
	Round     uint32         `json:"round"     cbor:"1,keyasint"`
	POLRound  int32          `json:"polRound"  cbor:"2,keyasint"`
	Block     *types.Block   `json:"block"     cbor:"3,keyasint,omitempty"`
	Proposer  types.HexBytes `json:"proposer"  cbor:"4,keyasint,omitempty"`
	Signature types.HexBytes `json:"signature" cbor:"5,keyasint,omitempty"`
}

type proposalPayload struct {
	Height    uint64         `cbor:"0,keyasint"`
	Round     uint32         `cbor:"1,keyasint"`
	POLRound  int32          `cbor:"2,keyasint"`
	BlockHash types.HexBytes `cbor:"3,keyasint"`
}

// SignedPayload returns the bytes the proposer signs.
func (p *Proposal) SignedPayload() ([]byte, error) {
	if p.Block == nil {
		return nil, fmt.Errorf("%w: proposal without block", ErrInvalidMessage)
	}
	return types.Encode(proposalPayload{
		Height:    p.Height,
		Round:     p.Round,
		POLRound:  p.POLRound,
		BlockHash: p.Block.Hash,
	})
}

// SyncRequest asks peers for the committed blocks from index From onwards.
type SyncRequest struct {
	From uint64 `json:"from" cbor:"0,keyasint"`
}

// Message is the envelope exchanged by validators. Exactly one payload is
// set, matching Type. Ballots are gossiped in the same envelope so a single
// transport carries all node traffic.
type Message struct {
	Type     MsgType       `json:"type"               cbor:"0,keyasint"`
	Proposal *Proposal     `json:"proposal,omitempty" cbor:"1,keyasint,omitempty"`
	Vote     *types.Vote   `json:"vote,omitempty"     cbor:"2,keyasint,omitempty"`
	Ballot   *types.Ballot `json:"ballot,omitempty"   cbor:"3,keyasint,omitempty"`
	Block    *types.Block  `json:"block,omitempty"    cbor:"4,keyasint,omitempty"`
	Sync     *SyncRequest  `json:"sync,omitempty"     cbor:"5,keyasint,omitempty"`
}

// Validate checks the payload matches the message type.
func (m *Message) Validate() error {
	var ok bool
	switch m.Type {
	case MsgPropose:
		ok = m.Proposal != nil && wellFormed(m.Proposal.Block)
	case MsgPrevote:
		ok = m.Vote != nil && m.Vote.Type == types.VotePrevote
	case MsgPrecommit:
		ok = m.Vote != nil && m.Vote.Type == types.VotePrecommit
	case MsgBallot:
		ok = m.Ballot != nil
	case MsgCommit:
		ok = wellFormed(m.Block) && m.Block.Certificate != nil
	case MsgSyncRequest:
		ok = m.Sync != nil
	}
	if !ok {
		return fmt.Errorf("%w: bad %s payload", ErrInvalidMessage, m.Type)
	}
	return nil
}

// wellFormed reports whether block and its certificate, if any, hold no
// empty entries.
func wellFormed(block *types.Block) bool {
	if block == nil {
		return false
	}
	for _, ballot := range block.Ballots {
		if ballot == nil {
			return false
		}
	}
	if block.Certificate != nil {
		for _, v := range block.Certificate.Precommits {
			if v == nil {
				return false
			}
		}
	}
	return true
}

// Height returns the consensus height the message belongs to, if any.
func (m *Message) Height() (uint64, bool) {
	switch m.Type {
	case MsgPropose:
		return m.Proposal.Height, true
	case MsgPrevote, MsgPrecommit:
		return m.Vote.Height, true
	}
	return 0, false
}

// EncodeMessage serializes m.
func EncodeMessage(m *Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return types.Encode(m)
}

// DecodeMessage parses and validates a message.
func DecodeMessage(data []byte) (*Message, error) {
	m := &Message{}
	if err := types.Decode(data, m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// VoteMessage wraps a vote in its envelope.
func VoteMessage(v *types.Vote) *Message {
	t := MsgPrevote
	if v.Type == types.VotePrecommit {
		t = MsgPrecommit
	}
	return &Message{Type: t, Vote: v}
}

// SignVote fills the validator address and signature of v.
func SignVote(key *ethereum.SignKeys, v *types.Vote) error {
	payload, err := v.SignedPayload()
	if err != nil {
		return err
	}
	addr := key.Address()
	v.Validator = addr.Bytes()
	v.Signature, err = key.Sign(payload)
	return err
}

// VerifyVote checks v is signed by its validator, a member of vals.
func VerifyVote(v *types.Vote, vals *ValidatorSet) (ethcommon.Address, error) {
	if v.Type != types.VotePrevote && v.Type != types.VotePrecommit {
		return ethcommon.Address{}, fmt.Errorf("%w: vote type %s", ErrInvalidMessage, v.Type)
	}
	return verifySigner(v.SignedPayload, v.Signature, v.Validator, vals)
}

// SignProposal fills the proposer address and signature of p.
func SignProposal(key *ethereum.SignKeys, p *Proposal) error {
	payload, err := p.SignedPayload()
	if err != nil {
		return err
	}
	addr := key.Address()
	p.Proposer = addr.Bytes()
	p.Signature, err = key.Sign(payload)
	return err
}

// VerifyProposal checks p is signed by the proposer of its round and that its
// block hash recomputes for the proposed height.
func VerifyProposal(p *Proposal, vals *ValidatorSet) error {
	if p.Block == nil || p.Block.Index != p.Height || !p.Block.CheckHash() {
		return fmt.Errorf("%w: proposal block does not match height %d", ErrInvalidMessage, p.Height)
	}
	if p.POLRound < -1 || (p.POLRound >= 0 && uint32(p.POLRound) >= p.Round) {
		return fmt.Errorf("%w: proof of lock round %d in round %d", ErrInvalidMessage, p.POLRound, p.Round)
	}
	addr, err := verifySigner(p.SignedPayload, p.Signature, p.Proposer, vals)
	if err != nil {
		return err
	}
	if addr != vals.Proposer(p.Height, p.Round) {
		return fmt.Errorf("%w: %s is not the proposer of %d/%d", ErrUnknownValidator, addr, p.Height, p.Round)
	}
	return nil
}

func verifySigner(payloadFn func() ([]byte, error), signature, claimed []byte,
	vals *ValidatorSet,
) (ethcommon.Address, error) {
	payload, err := payloadFn()
	if err != nil {
		return ethcommon.Address{}, err
	}
	addr, err := ethereum.AddrFromSignature(payload, signature)
	if err != nil {
		return ethcommon.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if addr != ethcommon.BytesToAddress(claimed) || len(claimed) != ethcommon.AddressLength {
		return ethcommon.Address{}, fmt.Errorf("%w: signed by %s", ErrInvalidSignature, addr)
	}
	if !vals.Contains(addr) {
		return ethcommon.Address{}, fmt.Errorf("%w: %s", ErrUnknownValidator, addr)
	}
	return addr, nil
}
