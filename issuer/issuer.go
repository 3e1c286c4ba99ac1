// Package issuer is the eligibility authority: it hands one blind-signed
// credential to each registered voter of an election. The ledger only needs
// its public key; this package is the reference implementation used by the
// node tooling and the tests.
package issuer

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	blind "github.com/arnaucube/go-blindsecp256k1"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"go.vocdoni.io/ballotchain/anonymizer"
	"go.vocdoni.io/ballotchain/crypto/ethereum"
	"go.vocdoni.io/ballotchain/crypto/saltedkey"
	"go.vocdoni.io/ballotchain/db"
	"go.vocdoni.io/ballotchain/db/prefixeddb"
	"go.vocdoni.io/ballotchain/log"
	"go.vocdoni.io/ballotchain/types"
)

// ErrDenied is returned when the requester is not eligible, already received
// a credential, or the request does not match its session.
var ErrDenied = errors.New("credential request denied")

// DefaultSessionTTL is how long a blind signing session stays valid.
const DefaultSessionTTL = 10 * time.Minute

var (
	votersPrefix = []byte("voter/")
	issuedPrefix = []byte("issued/")
)

// Issuer is the contract the voter side relies on. A session hands out the
// one-time point R needed to blind a credential request.
type Issuer interface {
	NewSession(voter ethcommon.Address) (sessionID string, signerR *blind.Point, err error)
	RequestBlindSignature(sessionID string, req *anonymizer.BlindRequest) (types.HexBytes, error)
}

type session struct {
	k       *big.Int
	voter   ethcommon.Address
	expires time.Time
}

// CSP is a credential service provider for a single election. The voter
// registry and the set of voters already served are kept in the database,
// so a restart never issues a second credential.
type CSP struct {
	key        *ethereum.SignKeys
	signer     *blind.PrivateKey
	electionID types.HexBytes
	voters     db.Database
	issued     db.Database
	sessionTTL time.Duration

	mu       sync.Mutex
	sessions map[string]*session
}

var _ Issuer = (*CSP)(nil)

// New returns a CSP signing with key for electionID.
func New(key *ethereum.SignKeys, electionID types.HexBytes, database db.Database) (*CSP, error) {
	if key.Private.D == nil {
		return nil, fmt.Errorf("issuer key has no private part")
	}
	sk := blind.PrivateKey(*key.Private.D)
	signer, err := saltedkey.SaltBlindPrivKey(&sk, electionID)
	if err != nil {
		return nil, err
	}
	return &CSP{
		key:        key,
		signer:     signer,
		electionID: electionID,
		voters:     prefixeddb.NewPrefixedDatabase(database, votersPrefix),
		issued:     prefixeddb.NewPrefixedDatabase(database, issuedPrefix),
		sessionTTL: DefaultSessionTTL,
		sessions:   make(map[string]*session),
	}, nil
}

// PublicKey returns the compressed issuer key to publish in the election.
func (c *CSP) PublicKey() types.HexBytes {
	return c.key.PublicKey()
}

// AddVoters registers eligible voter addresses.
func (c *CSP) AddVoters(addrs ...ethcommon.Address) error {
	tx := c.voters.WriteTx()
	defer tx.Discard()
	for _, addr := range addrs {
		if err := tx.Set(addr.Bytes(), []byte{1}); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// IsEligible reports whether addr is registered and was not served yet.
func (c *CSP) IsEligible(addr ethcommon.Address) bool {
	if _, err := c.voters.Get(addr.Bytes()); err != nil {
		return false
	}
	_, err := c.issued.Get(addr.Bytes())
	return errors.Is(err, db.ErrKeyNotFound)
}

// NewSession starts a blind signing session for voter.
func (c *CSP) NewSession(voter ethcommon.Address) (string, *blind.Point, error) {
	if !c.IsEligible(voter) {
		return "", nil, fmt.Errorf("%w: %s is not eligible", ErrDenied, voter.Hex())
	}
	k, signerR, err := blind.NewRequestParameters()
	if err != nil {
		return "", nil, fmt.Errorf("cannot create blind session: %w", err)
	}
	id := uuid.New().String()

	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for sid, s := range c.sessions {
		if now.After(s.expires) {
			delete(c.sessions, sid)
		}
	}
	c.sessions[id] = &session{k: k, voter: voter, expires: now.Add(c.sessionTTL)}
	return id, signerR, nil
}

// RequestBlindSignature blind-signs the request of an open session. The
// session is consumed whatever the outcome, since its secret k must never
// sign twice.
func (c *CSP) RequestBlindSignature(sessionID string, req *anonymizer.BlindRequest) (types.HexBytes, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: unknown session %s", ErrDenied, sessionID)
	}
	delete(c.sessions, sessionID)
	if time.Now().After(s.expires) {
		return nil, fmt.Errorf("%w: session expired", ErrDenied)
	}
	if !req.ElectionID.Equal(c.electionID) {
		return nil, fmt.Errorf("%w: wrong election %x", ErrDenied, req.ElectionID)
	}
	addr, err := ethereum.AddrFromSignature(req.EligibilitySignedPayload(), req.Eligibility.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDenied, err)
	}
	if addr != s.voter || !req.Eligibility.Address.Equal(addr.Bytes()) {
		return nil, fmt.Errorf("%w: eligibility proof does not match session voter", ErrDenied)
	}
	if !c.IsEligible(addr) {
		return nil, fmt.Errorf("%w: %s is not eligible", ErrDenied, addr.Hex())
	}
	sig, err := c.signer.BlindSign(new(big.Int).SetBytes(req.BlindedToken), s.k)
	if err != nil {
		return nil, fmt.Errorf("cannot blind sign: %w", err)
	}
	tx := c.issued.WriteTx()
	defer tx.Discard()
	if err := tx.Set(addr.Bytes(), []byte{1}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	log.Debugw("issued blind credential", "voter", addr.Hex())
	return sig.Bytes(), nil
}
