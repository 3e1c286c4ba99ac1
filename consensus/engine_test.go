package consensus_test

import (
	"bytes"
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	qt "github.com/frankban/quicktest"

	"go.vocdoni.io/ballotchain/anonymizer"
	"go.vocdoni.io/ballotchain/builder"
	"go.vocdoni.io/ballotchain/consensus"
	"go.vocdoni.io/ballotchain/crypto/ethereum"
	"go.vocdoni.io/ballotchain/ledger"
	"go.vocdoni.io/ballotchain/network/memnet"
	"go.vocdoni.io/ballotchain/spentset"
	"go.vocdoni.io/ballotchain/test/testcommon"
	"go.vocdoni.io/ballotchain/types"
)

type testNode struct {
	id      string
	key     *ethereum.SignKeys
	store   *ledger.Store
	builder *builder.Builder
	engine  *consensus.Engine
	ep      *memnet.Endpoint
}

type cluster struct {
	te    *testcommon.TestElection
	hub   *memnet.Hub
	vals  *consensus.ValidatorSet
	nodes []*testNode
}

var fastTimeouts = consensus.Config{
	TimeoutPropose:   400 * time.Millisecond,
	TimeoutPrevote:   200 * time.Millisecond,
	TimeoutPrecommit: 200 * time.Millisecond,
	TimeoutDelta:     100 * time.Millisecond,
}

func newCluster(t *testing.T, n, voters int, bcfg builder.Config, ccfg consensus.Config,
	opts ...memnet.Option,
) *cluster {
	te := testcommon.NewTestElection(t, "council", []string{"A", "B", "C"}, voters)
	keys := testcommon.NewValidators(t, n)
	addrs := make([]ethcommon.Address, n)
	for i, k := range keys {
		addrs[i] = k.Address()
	}
	vals, err := consensus.NewValidatorSet(addrs...)
	qt.Assert(t, err, qt.IsNil)

	cl := &cluster{te: te, hub: memnet.NewHub(opts...), vals: vals}
	for i, k := range keys {
		verifier, err := anonymizer.NewVerifier(te.Election, 128)
		qt.Assert(t, err, qt.IsNil)
		store := ledger.New()
		b := builder.New(bcfg, verifier, spentset.New(), store)
		id := fmt.Sprintf("node%d", i)
		ep := cl.hub.Join(id)
		cl.nodes = append(cl.nodes, &testNode{
			id:      id,
			key:     k,
			store:   store,
			builder: b,
			engine:  consensus.New(ccfg, k, vals, store, b, ep),
			ep:      ep,
		})
	}
	return cl
}

// start runs the engines of nodes, or of every node if none is given.
func (cl *cluster) start(t *testing.T, nodes ...*testNode) {
	if len(nodes) == 0 {
		nodes = cl.nodes
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		for _, n := range cl.nodes {
			n.ep.Close()
		}
	})
	for _, n := range nodes {
		go readLoop(ctx, n)
		go n.engine.Run(ctx)
	}
}

func readLoop(ctx context.Context, n *testNode) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-n.ep.Messages():
			if !ok {
				return
			}
			msg, err := consensus.DecodeMessage(data)
			if err != nil {
				continue
			}
			if err := n.engine.Deliver(ctx, msg); err != nil {
				return
			}
		}
	}
}

// submit hands every ballot to the builders of nodes, the way gossip would.
func (cl *cluster) submit(c *qt.C, ballots []*types.Ballot, nodes ...*testNode) {
	if len(nodes) == 0 {
		nodes = cl.nodes
	}
	for _, n := range nodes {
		for _, b := range ballots {
			c.Assert(n.builder.Submit(b), qt.IsNil)
		}
	}
}

func waitFor(c *qt.C, timeout time.Duration, what string, cond func() bool) {
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			c.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func waitHeight(c *qt.C, height uint64, timeout time.Duration, nodes ...*testNode) {
	waitFor(c, timeout, fmt.Sprintf("height %d", height), func() bool {
		for _, n := range nodes {
			if n.store.Height() < height {
				return false
			}
		}
		return true
	})
}

func assertSameChain(c *qt.C, nodes ...*testNode) {
	ref := nodes[0].store.Range(0, nodes[0].store.Height()+1)
	for _, n := range nodes[1:] {
		blocks := n.store.Range(0, n.store.Height()+1)
		c.Assert(blocks, qt.HasLen, len(ref), qt.Commentf("%s", n.id))
		for i := range blocks {
			c.Assert(blocks[i].Hash, qt.DeepEquals, ref[i].Hash, qt.Commentf("%s block %d", n.id, i))
		}
	}
}

func TestCommitsBlock(t *testing.T) {
	c := qt.New(t)
	cl := newCluster(t, 4, 10, builder.Config{MaxBallots: 10, MaxInterval: time.Hour}, fastTimeouts)
	ballots := cl.te.Ballots(t, "A", "B")
	cl.start(t)
	cl.submit(c, ballots)

	waitHeight(c, 1, 10*time.Second, cl.nodes...)
	assertSameChain(c, cl.nodes...)
	for _, n := range cl.nodes {
		block, err := n.store.Get(1)
		c.Assert(err, qt.IsNil)
		c.Assert(block.Ballots, qt.HasLen, 10)
		c.Assert(consensus.VerifyCertificate(block, cl.vals), qt.IsNil)
		c.Assert(n.builder.Pending(), qt.Equals, 0)
		c.Assert(n.store.VerifyChain(), qt.IsNil)
	}
	// nothing pending, so no empty block follows
	time.Sleep(time.Second)
	for _, n := range cl.nodes {
		c.Assert(n.store.Height(), qt.Equals, uint64(1))
	}
}

func TestOfflineValidatorAfterPrevote(t *testing.T) {
	c := qt.New(t)
	cl := newCluster(t, 4, 10, builder.Config{MaxBallots: 10, MaxInterval: time.Hour}, fastTimeouts)
	victim := cl.nodes[3]

	// node3 goes silent right after broadcasting its first prevote
	var lastWords atomic.Pointer[[]byte]
	cl.hub.SetFilter(func(from, to string, data []byte) bool {
		if p := lastWords.Load(); p != nil {
			if from == victim.id && bytes.Equal(data, *p) {
				return true
			}
			return from != victim.id && to != victim.id
		}
		if from == victim.id {
			if msg, err := consensus.DecodeMessage(data); err == nil && msg.Type == consensus.MsgPrevote {
				lastWords.Store(&data)
			}
		}
		return true
	})

	ballots := cl.te.Ballots(t, "A", "B", "C")
	cl.start(t)
	cl.submit(c, ballots)

	live := cl.nodes[:3]
	waitHeight(c, 1, 10*time.Second, live...)
	assertSameChain(c, live...)
	block, err := live[0].store.Get(1)
	c.Assert(err, qt.IsNil)
	c.Assert(block.Ballots, qt.HasLen, 10)
	c.Assert(victim.store.Height(), qt.Equals, uint64(0))
}

func TestSafetyUnderFaults(t *testing.T) {
	if testing.Short() {
		t.Skip("slow cluster test")
	}
	c := qt.New(t)
	cl := newCluster(t, 4, 12, builder.Config{MaxBallots: 4, MaxInterval: 200 * time.Millisecond},
		fastTimeouts,
		memnet.WithDropRate(0.05), memnet.WithDuplicateRate(0.1),
		memnet.WithMaxDelay(30*time.Millisecond), memnet.WithSeed(7))
	ballots := cl.te.Ballots(t, "A", "B", "C")
	cl.start(t)
	cl.submit(c, ballots)

	serials := make([]types.HexBytes, len(ballots))
	for i, b := range ballots {
		s, err := anonymizer.SerialOf(b)
		c.Assert(err, qt.IsNil)
		serials[i] = s
	}
	waitFor(c, 60*time.Second, "every ballot committed everywhere", func() bool {
		for _, n := range cl.nodes {
			for _, s := range serials {
				if !n.store.HasSerial(s) {
					return false
				}
			}
		}
		return true
	})
	waitFor(c, 10*time.Second, "equal heights", func() bool {
		h := cl.nodes[0].store.Height()
		for _, n := range cl.nodes[1:] {
			if n.store.Height() != h {
				return false
			}
		}
		return true
	})
	assertSameChain(c, cl.nodes...)
	for _, n := range cl.nodes {
		c.Assert(n.store.VerifyChain(), qt.IsNil)
		c.Assert(n.engine.Evidence(), qt.HasLen, 0)
		total := 0
		for _, b := range n.store.Range(1, n.store.Height()+1) {
			c.Assert(consensus.VerifyCertificate(b, cl.vals), qt.IsNil)
			total += len(b.Ballots)
		}
		c.Assert(total, qt.Equals, len(ballots))
	}
}

func TestCatchUp(t *testing.T) {
	if testing.Short() {
		t.Skip("slow cluster test")
	}
	c := qt.New(t)
	cl := newCluster(t, 4, 12, builder.Config{MaxBallots: 4, MaxInterval: time.Hour}, fastTimeouts)
	ballots := cl.te.Ballots(t, "A", "B")
	lagging := cl.nodes[3]
	live := cl.nodes[:3]
	cl.hub.Disconnect(lagging.id)
	cl.start(t)

	cl.submit(c, ballots[:4], live...)
	waitHeight(c, 1, 10*time.Second, live...)
	cl.submit(c, ballots[4:8], live...)
	waitHeight(c, 2, 10*time.Second, live...)
	c.Assert(lagging.store.Height(), qt.Equals, uint64(0))

	cl.hub.Reconnect(lagging.id)
	cl.submit(c, ballots[8:])
	waitHeight(c, 3, 20*time.Second, cl.nodes...)
	assertSameChain(c, cl.nodes...)
	c.Assert(lagging.store.VerifyChain(), qt.IsNil)
	c.Assert(lagging.builder.Pending(), qt.Equals, 0)
}

func TestEquivocationEvidence(t *testing.T) {
	c := qt.New(t)
	cl := newCluster(t, 4, 1, builder.Config{MaxBallots: 10, MaxInterval: time.Hour}, fastTimeouts)
	cl.start(t)

	cheater := cl.nodes[2].key
	for _, hash := range [][]byte{bytes.Repeat([]byte{1}, types.HashLength), bytes.Repeat([]byte{2}, types.HashLength)} {
		v := &types.Vote{Type: types.VotePrevote, Height: 1, Round: 0, BlockHash: hash}
		c.Assert(consensus.SignVote(cheater, v), qt.IsNil)
		c.Assert(cl.nodes[0].engine.Deliver(context.Background(), consensus.VoteMessage(v)), qt.IsNil)
	}
	waitFor(c, 5*time.Second, "duplicate vote evidence", func() bool {
		return len(cl.nodes[0].engine.Evidence()) == 1
	})
	ev := cl.nodes[0].engine.Evidence()[0]
	c.Assert(ev.Validator(), qt.Equals, cheater.Address())
	c.Assert(ev.VoteA.BlockHash, qt.Not(qt.DeepEquals), ev.VoteB.BlockHash)
	c.Assert(cl.nodes[0].store.Height(), qt.Equals, uint64(0))
}

func TestMalformedCommitIgnored(t *testing.T) {
	c := qt.New(t)
	cl := newCluster(t, 4, 4, builder.Config{MaxBallots: 4, MaxInterval: time.Hour}, fastTimeouts)
	ballots := cl.te.Ballots(t, "A", "B")
	cl.start(t)

	forged := &types.Block{Index: 1, PrevHash: types.GenesisBlock().Hash, Ballots: ballots[:1]}
	c.Assert(forged.Seal(), qt.IsNil)
	precommit := &types.Vote{Type: types.VotePrecommit, Height: 1, BlockHash: forged.Hash}
	c.Assert(consensus.SignVote(cl.nodes[0].key, precommit), qt.IsNil)
	forged.Certificate = &types.Certificate{
		Height: 1, BlockHash: forged.Hash, Precommits: []*types.Vote{nil, precommit, nil},
	}
	msg := &consensus.Message{Type: consensus.MsgCommit, Block: forged}

	// straight into an engine
	ctx := context.Background()
	c.Assert(cl.nodes[1].engine.Deliver(ctx, msg), qt.ErrorIs, consensus.ErrInvalidMessage)
	c.Assert(cl.nodes[1].engine.Deliver(ctx, nil), qt.ErrorIs, consensus.ErrInvalidMessage)
	// and over the wire, skipping the encoder checks
	data, err := types.Encode(msg)
	c.Assert(err, qt.IsNil)
	rogue := cl.hub.Join("rogue")
	defer rogue.Close()
	c.Assert(rogue.Broadcast(ctx, data), qt.IsNil)

	cl.submit(c, ballots)
	waitHeight(c, 1, 10*time.Second, cl.nodes...)
	assertSameChain(c, cl.nodes...)
	block, err := cl.nodes[1].store.Get(1)
	c.Assert(err, qt.IsNil)
	c.Assert(block.Ballots, qt.HasLen, 4)
	c.Assert(consensus.VerifyCertificate(block, cl.vals), qt.IsNil)
}

// equivocator plays a faulty validator. As proposer it shows one block to
// sideA and a different one to sideB; as voter it backs each side's view.
// The first node of sideA receives both versions of every vote.
type equivocator struct {
	key      *ethereum.SignKeys
	vals     *consensus.ValidatorSet
	ep       *memnet.Endpoint
	sideA    []*testNode
	sideB    []*testNode
	pool     []*types.Ballot
	proposed map[[2]uint64]bool
}

func (q *equivocator) run(ctx context.Context) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-q.ep.Messages():
			if !ok {
				return
			}
			msg, err := consensus.DecodeMessage(data)
			if err != nil || msg.Type != consensus.MsgPropose {
				continue
			}
			p := msg.Proposal
			q.vote(ctx, p.Height, p.Round, p.Block.Hash, nil)
		case <-ticker.C:
			for _, n := range append(append([]*testNode{}, q.sideA...), q.sideB...) {
				h, r := n.engine.Height(), n.engine.Round()
				if q.vals.Proposer(h, r) == q.key.Address() {
					q.propose(ctx, h, r)
				}
			}
		}
	}
}

func (q *equivocator) deliver(ctx context.Context, msg *consensus.Message, nodes ...*testNode) {
	for _, n := range nodes {
		_ = n.engine.Deliver(ctx, msg)
	}
}

func (q *equivocator) vote(ctx context.Context, height uint64, round uint32, hashA, hashB []byte) {
	for _, typ := range []types.VoteType{types.VotePrevote, types.VotePrecommit} {
		va := &types.Vote{Type: typ, Height: height, Round: round, BlockHash: hashA}
		vb := &types.Vote{Type: typ, Height: height, Round: round, BlockHash: hashB}
		if consensus.SignVote(q.key, va) != nil || consensus.SignVote(q.key, vb) != nil {
			return
		}
		q.deliver(ctx, consensus.VoteMessage(va), q.sideA...)
		q.deliver(ctx, consensus.VoteMessage(vb), q.sideB...)
		q.deliver(ctx, consensus.VoteMessage(vb), q.sideA[0])
	}
}

func (q *equivocator) propose(ctx context.Context, height uint64, round uint32) {
	key := [2]uint64{height, uint64(round)}
	if q.proposed[key] || len(q.pool) < 4 {
		return
	}
	head, err := q.sideA[0].store.Get(height - 1)
	if err != nil {
		return
	}
	q.proposed[key] = true
	blockA := &types.Block{Index: height, PrevHash: head.Hash, Ballots: q.pool[:2]}
	blockB := &types.Block{Index: height, PrevHash: head.Hash, Ballots: q.pool[2:4]}
	q.pool = q.pool[4:]
	for _, side := range []struct {
		block *types.Block
		nodes []*testNode
	}{{blockA, q.sideA}, {blockB, q.sideB}} {
		if side.block.Seal() != nil {
			return
		}
		p := &consensus.Proposal{Height: height, Round: round, POLRound: -1, Block: side.block}
		if consensus.SignProposal(q.key, p) != nil {
			return
		}
		q.deliver(ctx, &consensus.Message{Type: consensus.MsgPropose, Proposal: p}, side.nodes...)
	}
	q.vote(ctx, height, round, blockA.Hash, blockB.Hash)
}

func TestSafetyWithEquivocatingValidator(t *testing.T) {
	if testing.Short() {
		t.Skip("slow cluster test")
	}
	c := qt.New(t)
	cl := newCluster(t, 4, 24, builder.Config{MaxBallots: 4, MaxInterval: 200 * time.Millisecond},
		fastTimeouts)
	ballots := cl.te.Ballots(t, "A", "B", "C")
	honest := cl.nodes[:3]
	faulty := &equivocator{
		key:      cl.nodes[3].key,
		vals:     cl.vals,
		ep:       cl.nodes[3].ep,
		sideA:    honest[:2],
		sideB:    honest[2:],
		pool:     ballots[12:],
		proposed: make(map[[2]uint64]bool),
	}
	cl.start(t, honest...)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go faulty.run(ctx)
	cl.submit(c, ballots[:12], honest...)

	serials := make([]types.HexBytes, 12)
	for i, b := range ballots[:12] {
		s, err := anonymizer.SerialOf(b)
		c.Assert(err, qt.IsNil)
		serials[i] = s
	}
	waitFor(c, 60*time.Second, "honest ballots committed on honest nodes", func() bool {
		for _, n := range honest {
			for _, s := range serials {
				if !n.store.HasSerial(s) {
					return false
				}
			}
		}
		return true
	})
	cancel()

	// no two honest nodes disagree at any height both reached
	for i, a := range honest {
		for _, b := range honest[i+1:] {
			top := min(a.store.Height(), b.store.Height())
			for h := uint64(1); h <= top; h++ {
				ba, err := a.store.Get(h)
				c.Assert(err, qt.IsNil)
				bb, err := b.store.Get(h)
				c.Assert(err, qt.IsNil)
				c.Assert(ba.Hash, qt.DeepEquals, bb.Hash, qt.Commentf("%s and %s at height %d", a.id, b.id, h))
			}
		}
	}
	for _, n := range honest {
		c.Assert(n.store.VerifyChain(), qt.IsNil)
		for _, b := range n.store.Range(1, n.store.Height()+1) {
			c.Assert(consensus.VerifyCertificate(b, cl.vals), qt.IsNil)
		}
	}
	evidence := honest[0].engine.Evidence()
	c.Assert(len(evidence) > 0, qt.IsTrue)
	for _, ev := range evidence {
		c.Assert(ev.Validator(), qt.Equals, faulty.key.Address())
	}
}
