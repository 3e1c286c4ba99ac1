package consensus

import (
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
	qt "github.com/frankban/quicktest"

	"go.vocdoni.io/ballotchain/crypto/ethereum"
	"go.vocdoni.io/ballotchain/test/testcommon"
	"go.vocdoni.io/ballotchain/types"
	"go.vocdoni.io/ballotchain/util"
)

func newTestSet(t *testing.T, n int) ([]*ethereum.SignKeys, *ValidatorSet) {
	keys := testcommon.NewValidators(t, n)
	addrs := make([]ethcommon.Address, n)
	for i, k := range keys {
		addrs[i] = k.Address()
	}
	vals, err := NewValidatorSet(addrs...)
	qt.Assert(t, err, qt.IsNil)
	return keys, vals
}

func signedVote(t testing.TB, key *ethereum.SignKeys, typ types.VoteType, height uint64, round uint32,
	hash []byte,
) *types.Vote {
	v := &types.Vote{Type: typ, Height: height, Round: round, BlockHash: hash}
	qt.Assert(t, SignVote(key, v), qt.IsNil)
	return v
}

func TestValidatorSet(t *testing.T) {
	c := qt.New(t)
	keys, vals := newTestSet(t, 4)
	c.Assert(vals.Size(), qt.Equals, 4)
	c.Assert(vals.MaxFaulty(), qt.Equals, 1)
	c.Assert(vals.HasQuorum(2), qt.IsFalse)
	c.Assert(vals.HasQuorum(3), qt.IsTrue)

	// keys come sorted, so proposers rotate in key order
	for h := uint64(0); h < 4; h++ {
		for r := uint32(0); r < 4; r++ {
			c.Assert(vals.Proposer(h, r), qt.Equals, keys[(h+uint64(r))%4].Address())
		}
	}
	c.Assert(vals.Contains(keys[2].Address()), qt.IsTrue)
	c.Assert(vals.Contains(ethcommon.Address{}), qt.IsFalse)

	_, err := NewValidatorSet(keys[0].Address(), keys[0].Address())
	c.Assert(err, qt.Not(qt.IsNil))
	_, err = NewValidatorSet()
	c.Assert(err, qt.Not(qt.IsNil))

	_, seven := newTestSet(t, 7)
	c.Assert(seven.MaxFaulty(), qt.Equals, 2)
	c.Assert(seven.HasQuorum(4), qt.IsFalse)
	c.Assert(seven.HasQuorum(5), qt.IsTrue)
}

func TestVoteSignatures(t *testing.T) {
	c := qt.New(t)
	keys, vals := newTestSet(t, 4)
	hash := util.RandomBytes(types.HashLength)

	v := signedVote(t, keys[1], types.VotePrevote, 3, 1, hash)
	addr, err := VerifyVote(v, vals)
	c.Assert(err, qt.IsNil)
	c.Assert(addr, qt.Equals, keys[1].Address())

	tampered := *v
	tampered.Round = 2
	_, err = VerifyVote(&tampered, vals)
	c.Assert(err, qt.ErrorIs, ErrInvalidSignature)

	impersonated := *v
	impersonated.Validator = keys[2].Address().Bytes()
	_, err = VerifyVote(&impersonated, vals)
	c.Assert(err, qt.ErrorIs, ErrInvalidSignature)

	outsider := ethereum.NewSignKeys()
	c.Assert(outsider.Generate(), qt.IsNil)
	_, err = VerifyVote(signedVote(t, outsider, types.VotePrecommit, 3, 1, hash), vals)
	c.Assert(err, qt.ErrorIs, ErrUnknownValidator)
}

func TestProposals(t *testing.T) {
	c := qt.New(t)
	keys, vals := newTestSet(t, 4)
	block := &types.Block{Index: 1, PrevHash: types.GenesisBlock().Hash}
	c.Assert(block.Seal(), qt.IsNil)

	proposer := keys[1] // height 1, round 0
	p := &Proposal{Height: 1, Round: 0, POLRound: -1, Block: block}
	c.Assert(SignProposal(proposer, p), qt.IsNil)
	c.Assert(VerifyProposal(p, vals), qt.IsNil)

	wrong := &Proposal{Height: 1, Round: 0, POLRound: -1, Block: block}
	c.Assert(SignProposal(keys[2], wrong), qt.IsNil)
	c.Assert(VerifyProposal(wrong, vals), qt.ErrorIs, ErrUnknownValidator)

	badPOL := &Proposal{Height: 1, Round: 0, POLRound: 0, Block: block}
	c.Assert(SignProposal(proposer, badPOL), qt.IsNil)
	c.Assert(VerifyProposal(badPOL, vals), qt.ErrorIs, ErrInvalidMessage)

	otherHeight := &Proposal{Height: 2, Round: 3, POLRound: -1, Block: block}
	c.Assert(SignProposal(keys[1], otherHeight), qt.IsNil)
	c.Assert(VerifyProposal(otherHeight, vals), qt.ErrorIs, ErrInvalidMessage)
}

func TestMessageEncoding(t *testing.T) {
	c := qt.New(t)
	keys, _ := newTestSet(t, 4)
	v := signedVote(t, keys[0], types.VotePrecommit, 7, 2, util.RandomBytes(types.HashLength))

	data, err := EncodeMessage(VoteMessage(v))
	c.Assert(err, qt.IsNil)
	msg, err := DecodeMessage(data)
	c.Assert(err, qt.IsNil)
	c.Assert(msg.Type, qt.Equals, MsgPrecommit)
	c.Assert(msg.Vote, qt.DeepEquals, v)
	h, ok := msg.Height()
	c.Assert(ok, qt.IsTrue)
	c.Assert(h, qt.Equals, uint64(7))

	// the payload must match the type
	_, err = EncodeMessage(&Message{Type: MsgPrevote, Vote: v})
	c.Assert(err, qt.ErrorIs, ErrInvalidMessage)
	_, err = EncodeMessage(&Message{Type: MsgCommit, Block: &types.Block{Index: 1}})
	c.Assert(err, qt.ErrorIs, ErrInvalidMessage)
	_, err = DecodeMessage([]byte("not cbor"))
	c.Assert(err, qt.ErrorIs, ErrInvalidMessage)

	sync, err := EncodeMessage(&Message{Type: MsgSyncRequest, Sync: &SyncRequest{From: 3}})
	c.Assert(err, qt.IsNil)
	msg, err = DecodeMessage(sync)
	c.Assert(err, qt.IsNil)
	c.Assert(msg.Sync.From, qt.Equals, uint64(3))
	_, ok = msg.Height()
	c.Assert(ok, qt.IsFalse)
}

func TestVoteSet(t *testing.T) {
	c := qt.New(t)
	keys, vals := newTestSet(t, 4)
	hashA, hashB := util.RandomBytes(types.HashLength), util.RandomBytes(types.HashLength)
	set := NewVoteSet()

	added, ev := set.Add(signedVote(t, keys[0], types.VotePrevote, 1, 0, hashA))
	c.Assert(added, qt.IsTrue)
	c.Assert(ev, qt.IsNil)
	// the same vote again is idempotent
	added, ev = set.Add(signedVote(t, keys[0], types.VotePrevote, 1, 0, hashA))
	c.Assert(added, qt.IsFalse)
	c.Assert(ev, qt.IsNil)
	// a conflicting vote is evidence and does not count
	added, ev = set.Add(signedVote(t, keys[0], types.VotePrevote, 1, 0, hashB))
	c.Assert(added, qt.IsFalse)
	c.Assert(ev, qt.Not(qt.IsNil))
	c.Assert(ev.Validator(), qt.Equals, keys[0].Address())
	c.Assert(set.Count(hashB), qt.Equals, 0)

	set.Add(signedVote(t, keys[1], types.VotePrevote, 1, 0, hashA))
	_, ok := set.Majority(vals)
	c.Assert(ok, qt.IsFalse)
	set.Add(signedVote(t, keys[2], types.VotePrevote, 1, 0, nil))
	c.Assert(set.HasQuorumAny(vals), qt.IsTrue)
	_, ok = set.Majority(vals)
	c.Assert(ok, qt.IsFalse)
	set.Add(signedVote(t, keys[3], types.VotePrevote, 1, 0, hashA))
	maj, ok := set.Majority(vals)
	c.Assert(ok, qt.IsTrue)
	c.Assert(maj, qt.DeepEquals, types.HexBytes(hashA))
	c.Assert(set.VotesFor(hashA), qt.HasLen, 3)
	c.Assert(set.Count(nil), qt.Equals, 1)
}

func TestCertificate(t *testing.T) {
	c := qt.New(t)
	keys, vals := newTestSet(t, 4)
	block := &types.Block{Index: 1, PrevHash: types.GenesisBlock().Hash}
	c.Assert(block.Seal(), qt.IsNil)

	set := NewVoteSet()
	for _, k := range keys[:3] {
		set.Add(signedVote(t, k, types.VotePrecommit, 1, 2, block.Hash))
	}
	block.Certificate = NewCertificate(block, 2, set)
	c.Assert(VerifyCertificate(block, vals), qt.IsNil)

	c.Run("too few", func(c *qt.C) {
		b := *block
		cert := *block.Certificate
		cert.Precommits = cert.Precommits[:2]
		b.Certificate = &cert
		c.Assert(VerifyCertificate(&b, vals), qt.ErrorIs, ErrInvalidCertificate)
	})
	c.Run("repeated signer", func(c *qt.C) {
		b := *block
		cert := *block.Certificate
		cert.Precommits = []*types.Vote{cert.Precommits[0], cert.Precommits[1], cert.Precommits[1]}
		b.Certificate = &cert
		c.Assert(VerifyCertificate(&b, vals), qt.ErrorIs, ErrInvalidCertificate)
	})
	c.Run("prevotes", func(c *qt.C) {
		b := *block
		cert := *block.Certificate
		cert.Precommits = nil
		for _, k := range keys[:3] {
			cert.Precommits = append(cert.Precommits, signedVote(c, k, types.VotePrevote, 1, 2, block.Hash))
		}
		b.Certificate = &cert
		c.Assert(VerifyCertificate(&b, vals), qt.ErrorIs, ErrInvalidCertificate)
	})
	c.Run("other block", func(c *qt.C) {
		b := *block
		b.Ballots = []*types.Ballot{}
		b.Index = 2
		c.Assert(b.Seal(), qt.IsNil)
		c.Assert(VerifyCertificate(&b, vals), qt.ErrorIs, ErrInvalidCertificate)
	})
	c.Run("missing", func(c *qt.C) {
		b := *block
		b.Certificate = nil
		c.Assert(VerifyCertificate(&b, vals), qt.ErrorIs, ErrInvalidCertificate)
	})
	c.Run("empty precommit", func(c *qt.C) {
		b := *block
		cert := *block.Certificate
		cert.Precommits = append([]*types.Vote{nil}, cert.Precommits...)
		b.Certificate = &cert
		c.Assert(VerifyCertificate(&b, vals), qt.ErrorIs, ErrInvalidCertificate)
	})
}

func TestDecodeRejectsEmptyEntries(t *testing.T) {
	keys, _ := newTestSet(t, 4)
	block := &types.Block{Index: 1, PrevHash: types.GenesisBlock().Hash}
	qt.Assert(t, block.Seal(), qt.IsNil)
	certified := func() *types.Block {
		b := *block
		b.Certificate = &types.Certificate{Height: 1, BlockHash: block.Hash, Precommits: []*types.Vote{
			nil, signedVote(t, keys[0], types.VotePrecommit, 1, 0, block.Hash),
		}}
		return &b
	}
	withNilBallot := func() *types.Block {
		b := &types.Block{Index: 1, PrevHash: types.GenesisBlock().Hash, Ballots: []*types.Ballot{nil}}
		qt.Assert(t, b.Seal(), qt.IsNil)
		return b
	}

	for _, tc := range []struct {
		name string
		msg  *Message
	}{
		{"commit with empty precommit", &Message{Type: MsgCommit, Block: certified()}},
		{"proposal with empty precommit", &Message{Type: MsgPropose, Proposal: &Proposal{
			Height: 1, POLRound: -1, Block: certified(),
		}}},
		{"proposal with empty ballot", &Message{Type: MsgPropose, Proposal: &Proposal{
			Height: 1, POLRound: -1, Block: withNilBallot(),
		}}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c := qt.New(t)
			// types.Encode skips the checks EncodeMessage runs
			data, err := types.Encode(tc.msg)
			c.Assert(err, qt.IsNil)
			_, err = DecodeMessage(data)
			c.Assert(err, qt.ErrorIs, ErrInvalidMessage)
			_, err = EncodeMessage(tc.msg)
			c.Assert(err, qt.ErrorIs, ErrInvalidMessage)
		})
	}
}
