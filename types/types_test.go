package types

import (
	"encoding/json"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
)

func testBallot(choice string) *Ballot {
	return &Ballot{
		ElectionID: make(HexBytes, HashLength),
		Choice:     choice,
		Nonce:      HexBytes{1, 2, 3},
		Proof:      BallotProof{Credential: HexBytes{4}, Signature: HexBytes{5}},
	}
}

func TestBlockHashIsDeterministic(t *testing.T) {
	c := qt.New(t)
	genesis := GenesisBlock()
	c.Assert(genesis.Hash, qt.HasLen, HashLength)
	c.Assert(genesis.Hash, qt.DeepEquals, GenesisBlock().Hash)

	b1 := &Block{Index: 1, PrevHash: genesis.Hash, Ballots: []*Ballot{testBallot("A"), testBallot("B")}}
	c.Assert(b1.Seal(), qt.IsNil)

	// informative fields are not part of the digest
	b2 := &Block{
		Index: 1, PrevHash: genesis.Hash, Ballots: []*Ballot{testBallot("A"), testBallot("B")},
		Round: 3, Timestamp: time.Now().Unix(), Proposer: HexBytes{9},
	}
	c.Assert(b2.Seal(), qt.IsNil)
	c.Assert(b2.Hash, qt.DeepEquals, b1.Hash)
	c.Assert(b2.CheckHash(), qt.IsTrue)

	// ballot order matters
	b3 := &Block{Index: 1, PrevHash: genesis.Hash, Ballots: []*Ballot{testBallot("B"), testBallot("A")}}
	c.Assert(b3.Seal(), qt.IsNil)
	c.Assert(b3.Hash, qt.Not(qt.DeepEquals), b1.Hash)

	b1.Ballots[0].Choice = "B"
	c.Assert(b1.CheckHash(), qt.IsFalse)
}

func TestBlockEncodingRoundTrip(t *testing.T) {
	c := qt.New(t)
	b := &Block{Index: 4, PrevHash: ZeroHash, Ballots: []*Ballot{testBallot("A")}}
	c.Assert(b.Seal(), qt.IsNil)
	data, err := Encode(b)
	c.Assert(err, qt.IsNil)
	var decoded Block
	c.Assert(Decode(data, &decoded), qt.IsNil)
	c.Assert(decoded.CheckHash(), qt.IsTrue)
	c.Assert(decoded.Hash, qt.DeepEquals, b.Hash)
}

func TestHexBytesJSON(t *testing.T) {
	c := qt.New(t)
	data, err := json.Marshal(HexBytes{0xca, 0xfe})
	c.Assert(err, qt.IsNil)
	c.Assert(string(data), qt.Equals, `"cafe"`)

	var hb HexBytes
	c.Assert(json.Unmarshal([]byte(`"0xBEEF"`), &hb), qt.IsNil)
	c.Assert(hb, qt.DeepEquals, HexBytes{0xbe, 0xef})
	c.Assert(json.Unmarshal([]byte(`"zz"`), &hb), qt.ErrorMatches, ".*invalid byte.*")
}

func TestElection(t *testing.T) {
	c := qt.New(t)
	now := time.Now()
	e := &Election{
		ID:           make(HexBytes, HashLength),
		Name:         "board",
		Candidates:   []string{"A", "B"},
		IssuerPubKey: HexBytes{2},
		StartTime:    now.Add(-time.Hour),
		EndTime:      now.Add(time.Hour),
	}
	c.Assert(e.Validate(), qt.IsNil)
	c.Assert(e.HasCandidate("A"), qt.IsTrue)
	c.Assert(e.HasCandidate("C"), qt.IsFalse)
	c.Assert(e.IsOpen(now), qt.IsTrue)
	c.Assert(e.IsOpen(now.Add(2*time.Hour)), qt.IsFalse)
	c.Assert(e.IsOpen(now.Add(-2*time.Hour)), qt.IsFalse)

	e.Candidates = []string{"A", "A"}
	c.Assert(e.Validate(), qt.ErrorMatches, `.*duplicated candidate "A"`)
}
