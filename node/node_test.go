package node

import (
	"context"
	"fmt"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	qt "github.com/frankban/quicktest"

	"go.vocdoni.io/ballotchain/builder"
	"go.vocdoni.io/ballotchain/consensus"
	"go.vocdoni.io/ballotchain/crypto/ethereum"
	"go.vocdoni.io/ballotchain/network/memnet"
	"go.vocdoni.io/ballotchain/spentset"
	"go.vocdoni.io/ballotchain/test/testcommon"
	"go.vocdoni.io/ballotchain/types"
)

var testTimeouts = consensus.Config{
	TimeoutPropose:   400 * time.Millisecond,
	TimeoutPrevote:   200 * time.Millisecond,
	TimeoutPrecommit: 200 * time.Millisecond,
	TimeoutDelta:     100 * time.Millisecond,
}

func addresses(keys []*ethereum.SignKeys) []ethcommon.Address {
	addrs := make([]ethcommon.Address, len(keys))
	for i, k := range keys {
		addrs[i] = k.Address()
	}
	return addrs
}

// startNodes runs one node per key on hub, all in memory.
func startNodes(t *testing.T, hub *memnet.Hub, election *types.Election, keys []*ethereum.SignKeys,
	bcfg builder.Config,
) []*Node {
	nodes := make([]*Node, len(keys))
	for i, k := range keys {
		n, err := New(Config{
			Election:   election,
			Validators: addresses(keys),
			Builder:    bcfg,
			Consensus:  testTimeouts,
		}, k, hub.Join(fmt.Sprintf("node%d", i)))
		qt.Assert(t, err, qt.IsNil)
		n.Start(context.Background())
		t.Cleanup(n.Stop)
		nodes[i] = n
	}
	return nodes
}

func waitHeight(c *qt.C, height uint64, nodes ...*Node) {
	deadline := time.Now().Add(15 * time.Second)
	for _, n := range nodes {
		for n.Ledger().Height() < height {
			if time.Now().After(deadline) {
				c.Fatalf("node %s stuck at height %d", n.Address(), n.Ledger().Height())
			}
			time.Sleep(20 * time.Millisecond)
		}
	}
}

// waitVotes waits until every node has committed total ballots.
func waitVotes(c *qt.C, total uint64, nodes ...*Node) {
	deadline := time.Now().Add(15 * time.Second)
	for _, n := range nodes {
		for {
			res, err := n.Tally()
			c.Assert(err, qt.IsNil)
			if res.TotalVotes == total {
				break
			}
			if time.Now().After(deadline) {
				c.Fatalf("node %s has %d of %d votes", n.Address(), res.TotalVotes, total)
			}
			time.Sleep(50 * time.Millisecond)
		}
	}
}

func TestGossipAndTally(t *testing.T) {
	c := qt.New(t)
	te := testcommon.NewTestElection(t, "council", []string{"A", "B", "C"}, 8)
	hub := memnet.NewHub()
	nodes := startNodes(t, hub, te.Election, testcommon.NewValidators(t, 4),
		builder.Config{MaxBallots: 8, MaxInterval: time.Hour})

	// every ballot enters through node0 and reaches the rest by gossip
	ctx := context.Background()
	for _, ballot := range te.Ballots(t, "B", "B", "A") {
		c.Assert(nodes[0].SubmitBallot(ctx, ballot), qt.IsNil)
	}
	waitVotes(c, 8, nodes...)

	want, err := nodes[0].Tally()
	c.Assert(err, qt.IsNil)
	c.Assert(want.Counts, qt.DeepEquals, map[string]uint64{"A": 2, "B": 6, "C": 0})
	c.Assert(want.Winner, qt.Equals, "B")
	for _, n := range nodes[1:] {
		got, err := n.Tally()
		c.Assert(err, qt.IsNil)
		c.Assert(got, qt.DeepEquals, want)
	}
}

func TestSingleVoterChangesMind(t *testing.T) {
	c := qt.New(t)
	te := testcommon.NewTestElection(t, "referendum", []string{"A", "B"}, 1)
	hub := memnet.NewHub()
	nodes := startNodes(t, hub, te.Election, testcommon.NewValidators(t, 4),
		builder.Config{MaxBallots: 10, MaxInterval: 300 * time.Millisecond})

	cred := te.Credential(t, 0)
	ctx := context.Background()
	c.Assert(nodes[1].SubmitBallot(ctx, te.Ballot(t, cred, "A")), qt.IsNil)
	c.Assert(nodes[1].SubmitBallot(ctx, te.Ballot(t, cred, "B")), qt.ErrorIs, spentset.ErrAlreadySpent)
	waitHeight(c, 1, nodes...)

	// a late attempt at another node is refused once the first is committed
	c.Assert(nodes[2].SubmitBallot(ctx, te.Ballot(t, cred, "B")), qt.ErrorIs, spentset.ErrAlreadySpent)
	for _, n := range nodes {
		res, err := n.Tally()
		c.Assert(err, qt.IsNil)
		c.Assert(res.Counts, qt.DeepEquals, map[string]uint64{"A": 1, "B": 0})
	}
}

func TestOfflineValidator(t *testing.T) {
	c := qt.New(t)
	te := testcommon.NewTestElection(t, "council", []string{"A", "B"}, 10)
	hub := memnet.NewHub()
	nodes := startNodes(t, hub, te.Election, testcommon.NewValidators(t, 4),
		builder.Config{MaxBallots: 10, MaxInterval: time.Hour})
	hub.Disconnect("node3")

	ctx := context.Background()
	for _, ballot := range te.Ballots(t, "A", "B") {
		c.Assert(nodes[0].SubmitBallot(ctx, ballot), qt.IsNil)
	}
	waitVotes(c, 10, nodes[:3]...)
	for _, n := range nodes[1:3] {
		c.Assert(n.Ledger().Head().Hash, qt.DeepEquals, nodes[0].Ledger().Head().Hash)
	}
	c.Assert(nodes[3].Ledger().Height(), qt.Equals, uint64(0))
}

func TestRestart(t *testing.T) {
	c := qt.New(t)
	te := testcommon.NewTestElection(t, "council", []string{"A", "B"}, 3)
	key := testcommon.NewValidators(t, 1)[0]
	dir := t.TempDir()
	cfg := Config{
		DataDir:    dir,
		Election:   te.Election,
		Validators: []ethcommon.Address{key.Address()},
		Builder:    builder.Config{MaxBallots: 3, MaxInterval: time.Hour},
		Consensus:  testTimeouts,
	}
	ballots := te.Ballots(t, "A", "B", "B")

	hub := memnet.NewHub()
	n, err := New(cfg, key, hub.Join("solo"))
	c.Assert(err, qt.IsNil)
	n.Start(context.Background())
	for _, b := range ballots {
		c.Assert(n.SubmitBallot(context.Background(), b), qt.IsNil)
	}
	waitHeight(c, 1, n)
	before, err := n.Tally()
	c.Assert(err, qt.IsNil)
	n.Stop()

	n, err = New(cfg, key, hub.Join("solo"))
	c.Assert(err, qt.IsNil)
	defer n.Stop()
	c.Assert(n.Ledger().Height(), qt.Equals, uint64(1))
	c.Assert(n.Ledger().VerifyChain(), qt.IsNil)
	after, err := n.Tally()
	c.Assert(err, qt.IsNil)
	c.Assert(after, qt.DeepEquals, before)
	c.Assert(n.SubmitBallot(context.Background(), ballots[0]), qt.ErrorIs, spentset.ErrAlreadySpent)
}

func waitFrozen(c *qt.C, nodes ...*Node) {
	deadline := time.Now().Add(20 * time.Second)
	for _, n := range nodes {
		for !n.Ledger().Frozen() {
			if time.Now().After(deadline) {
				c.Fatalf("node %s never closed the ledger, height %d", n.Address(), n.Ledger().Height())
			}
			time.Sleep(50 * time.Millisecond)
		}
	}
}

func TestCloseAtElectionEnd(t *testing.T) {
	c := qt.New(t)
	te := testcommon.NewTestElection(t, "council", []string{"A", "B"}, 2)
	te.Election.EndTime = time.Now().Add(time.Second)
	key := testcommon.NewValidators(t, 1)[0]
	ballots := te.Ballots(t, "A")

	n, err := New(Config{
		Election:   te.Election,
		Validators: []ethcommon.Address{key.Address()},
		Builder: builder.Config{
			MaxBallots: 10, MaxInterval: 100 * time.Millisecond, CloseGrace: 5 * time.Second,
		},
		Consensus: testTimeouts,
	}, key, memnet.NewHub().Join("solo"))
	c.Assert(err, qt.IsNil)
	n.Start(context.Background())
	defer n.Stop()

	c.Assert(n.SubmitBallot(context.Background(), ballots[0]), qt.IsNil)
	waitFrozen(c, n)
	// the ballot block, then the closing block
	c.Assert(n.Ledger().Height(), qt.Equals, uint64(2))
	head := n.Ledger().Head()
	c.Assert(head.Final, qt.IsTrue)
	c.Assert(head.Ballots, qt.HasLen, 0)
	c.Assert(head.Certificate, qt.IsNotNil)
	c.Assert(n.SubmitBallot(context.Background(), ballots[1]), qt.ErrorIs, builder.ErrElectionClosed)
	res, err := n.Tally()
	c.Assert(err, qt.IsNil)
	c.Assert(res.Final, qt.IsTrue)
	c.Assert(res.TotalVotes, qt.Equals, uint64(1))
}

// Validators see different pending sets at the election end: one of them
// never received the last ballot. They must still close on the same block.
func TestCloseWithDivergentPending(t *testing.T) {
	c := qt.New(t)
	te := testcommon.NewTestElection(t, "council", []string{"A", "B"}, 1)
	te.Election.EndTime = time.Now().Add(1500 * time.Millisecond)
	hub := memnet.NewHub()
	hub.SetFilter(func(from, to string, data []byte) bool {
		if to != "node3" {
			return true
		}
		msg, err := consensus.DecodeMessage(data)
		return err != nil || msg.Type != consensus.MsgBallot
	})
	nodes := startNodes(t, hub, te.Election, testcommon.NewValidators(t, 4),
		builder.Config{MaxBallots: 10, MaxInterval: time.Hour, CloseGrace: 5 * time.Second})

	ballot := te.Ballots(t, "B")[0]
	c.Assert(nodes[0].SubmitBallot(context.Background(), ballot), qt.IsNil)
	c.Assert(nodes[3].Builder().Pending(), qt.Equals, 0)

	waitFrozen(c, nodes...)
	head := nodes[0].Ledger().Head()
	c.Assert(head.Final, qt.IsTrue)
	for _, n := range nodes {
		c.Assert(n.Ledger().Height(), qt.Equals, head.Index)
		c.Assert(n.Ledger().Head().Hash, qt.DeepEquals, head.Hash)
		res, err := n.Tally()
		c.Assert(err, qt.IsNil)
		c.Assert(res.TotalVotes, qt.Equals, uint64(1))
		c.Assert(res.Counts["B"], qt.Equals, uint64(1))
	}
}
