package anonymizer

import (
	"fmt"

	blind "github.com/arnaucube/go-blindsecp256k1"
	lru "github.com/hashicorp/golang-lru"

	"go.vocdoni.io/ballotchain/crypto/ethereum"
	"go.vocdoni.io/ballotchain/types"
)

// Verifier checks ballots for a single election. Verified ballots can be
// cached, since every node verifies a ballot once on submission and again
// when it shows up in a proposed block.
type Verifier struct {
	election *types.Election
	issuer   *blind.PublicKey
	cache    *lru.Cache
}

// NewVerifier returns a Verifier for election. A cacheSize of zero disables
// the cache; the tally always runs without one.
func NewVerifier(election *types.Election, cacheSize int) (*Verifier, error) {
	issuer, err := SaltedIssuerKey(election.IssuerPubKey, election.ID)
	if err != nil {
		return nil, err
	}
	v := &Verifier{election: election, issuer: issuer}
	if cacheSize > 0 {
		if v.cache, err = lru.New(cacheSize); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// Election returns the election the verifier checks ballots against.
func (v *Verifier) Election() *types.Election { return v.election }

// Verify checks the ballot belongs to the election, votes for a registered
// candidate and carries a valid credential. It returns the serial number.
func (v *Verifier) Verify(ballot *types.Ballot) (types.HexBytes, error) {
	if err := checkStructure(ballot); err != nil {
		return nil, err
	}
	if !ballot.ElectionID.Equal(v.election.ID) {
		return nil, fmt.Errorf("%w: ballot for election %x", ErrMalformedBallot, ballot.ElectionID)
	}
	if !v.election.HasCandidate(ballot.Choice) {
		return nil, fmt.Errorf("%w: unknown candidate %q", ErrMalformedBallot, ballot.Choice)
	}
	var key string
	if v.cache != nil {
		data, err := types.Encode(ballot)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedBallot, err)
		}
		key = string(ethereum.HashRaw(data))
		if serial, ok := v.cache.Get(key); ok {
			return serial.(types.HexBytes), nil
		}
	}
	serial, err := verifyWithKey(ballot, v.issuer)
	if err != nil {
		return nil, err
	}
	if v.cache != nil {
		v.cache.Add(key, serial)
	}
	return serial, nil
}
