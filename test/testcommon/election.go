// Package testcommon holds helpers shared by the package tests: an election
// with its issuer and registered voters, and validator key sets.
package testcommon

import (
	"bytes"
	"slices"
	"testing"

	qt "github.com/frankban/quicktest"

	"go.vocdoni.io/ballotchain/anonymizer"
	"go.vocdoni.io/ballotchain/crypto/ethereum"
	"go.vocdoni.io/ballotchain/db/metadb"
	"go.vocdoni.io/ballotchain/issuer"
	"go.vocdoni.io/ballotchain/types"
	"go.vocdoni.io/ballotchain/util"
)

// TestElection bundles an election, its issuer and the eligible voters.
type TestElection struct {
	Election *types.Election
	Issuer   *issuer.CSP
	Voters   []*ethereum.SignKeys
}

// NewTestElection creates an open election with the given candidates and
// numVoters registered voters.
func NewTestElection(tb testing.TB, name string, candidates []string, numVoters int) *TestElection {
	key := ethereum.NewSignKeys()
	qt.Assert(tb, key.Generate(), qt.IsNil)
	electionID := types.HexBytes(util.RandomBytes(types.HashLength))

	csp, err := issuer.New(key, electionID, metadb.NewTest(tb))
	qt.Assert(tb, err, qt.IsNil)

	te := &TestElection{
		Election: &types.Election{
			ID:           electionID,
			Name:         name,
			Candidates:   candidates,
			IssuerPubKey: csp.PublicKey(),
		},
		Issuer: csp,
	}
	for i := 0; i < numVoters; i++ {
		voter := ethereum.NewSignKeys()
		qt.Assert(tb, voter.Generate(), qt.IsNil)
		te.Voters = append(te.Voters, voter)
		qt.Assert(tb, csp.AddVoters(voter.Address()), qt.IsNil)
	}
	qt.Assert(tb, te.Election.Validate(), qt.IsNil)
	return te
}

// Credential runs the blind issuance flow for voter i.
func (te *TestElection) Credential(tb testing.TB, i int) *anonymizer.Credential {
	voter := te.Voters[i]
	sessionID, signerR, err := te.Issuer.NewSession(voter.Address())
	qt.Assert(tb, err, qt.IsNil)
	ctx, req, err := anonymizer.IssueBlindRequest(voter, te.Election.ID, signerR)
	qt.Assert(tb, err, qt.IsNil)
	blindSig, err := te.Issuer.RequestBlindSignature(sessionID, req)
	qt.Assert(tb, err, qt.IsNil)
	cred, err := anonymizer.Unblind(blindSig, ctx)
	qt.Assert(tb, err, qt.IsNil)
	return cred
}

// Ballot signs a ballot for choice with cred.
func (te *TestElection) Ballot(tb testing.TB, cred *anonymizer.Credential, choice string) *types.Ballot {
	ballot, err := anonymizer.SignBallot(cred, choice)
	qt.Assert(tb, err, qt.IsNil)
	return ballot
}

// Ballots returns one ballot per voter, voting choices[i%len(choices)].
func (te *TestElection) Ballots(tb testing.TB, choices ...string) []*types.Ballot {
	ballots := make([]*types.Ballot, len(te.Voters))
	for i := range te.Voters {
		ballots[i] = te.Ballot(tb, te.Credential(tb, i), choices[i%len(choices)])
	}
	return ballots
}

// NewValidators returns n validator keys sorted by address.
func NewValidators(tb testing.TB, n int) []*ethereum.SignKeys {
	keys := make([]*ethereum.SignKeys, n)
	for i := range keys {
		keys[i] = ethereum.NewSignKeys()
		qt.Assert(tb, keys[i].Generate(), qt.IsNil)
	}
	slices.SortFunc(keys, func(a, b *ethereum.SignKeys) int {
		aa, ba := a.Address(), b.Address()
		return bytes.Compare(aa[:], ba[:])
	})
	return keys
}
