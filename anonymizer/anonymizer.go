// Package anonymizer turns an eligible voter into an anonymous one-time
// credential and produces ballots that can be verified without learning who
// cast them.
//
// The voter creates a fresh credential key and has the election issuer
// blind-sign H(electionID || credential public key). The issuer checks
// eligibility on the blinded request, so it never sees the credential key.
// Ballots are signed with the credential key and carry the unblinded issuer
// signature. The serial number of a credential is the hash of its public key,
// which anyone can recover from a ballot signature.
package anonymizer

import (
	"errors"
	"fmt"
	"math/big"

	blind "github.com/arnaucube/go-blindsecp256k1"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"go.vocdoni.io/ballotchain/crypto/ethereum"
	"go.vocdoni.io/ballotchain/crypto/saltedkey"
	"go.vocdoni.io/ballotchain/types"
	"go.vocdoni.io/ballotchain/util"
)

var (
	// ErrInvalidSignature is returned when the ballot signature or the
	// credential signature does not verify.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrMalformedBallot is returned for ballots that are structurally
	// wrong or vote for an unknown candidate.
	ErrMalformedBallot = errors.New("malformed ballot")
)

// BlindingContext is the voter's secret state between the blind request and
// Unblind. It must never leave the voter.
type BlindingContext struct {
	electionID types.HexBytes
	key        *ethereum.SignKeys
	secret     *blind.UserSecretData
}

// EligibilityProof shows the issuer which registered voter is asking for a
// credential. It is bound to the blinded token, never to the credential.
type EligibilityProof struct {
	Address   types.HexBytes `json:"address"`
	Signature types.HexBytes `json:"signature"`
}

// BlindRequest is what the voter sends to the issuer.
type BlindRequest struct {
	ElectionID   types.HexBytes   `json:"electionId"`
	BlindedToken types.HexBytes   `json:"blindedToken"`
	Eligibility  EligibilityProof `json:"eligibility"`
}

// EligibilitySignedPayload is the message the voter identity key signs.
func (r *BlindRequest) EligibilitySignedPayload() []byte {
	return append(append([]byte{}, r.ElectionID...), r.BlindedToken...)
}

// Credential is an anonymous one-time voting credential.
type Credential struct {
	ElectionID types.HexBytes
	key        *ethereum.SignKeys
	signature  *blind.Signature
}

// Serial returns the credential serial number, the value the double-vote
// guard tracks.
func (c *Credential) Serial() types.HexBytes {
	return serialOf(c.key.PublicKey())
}

// Verify checks the issuer signature over the credential.
func (c *Credential) Verify(issuerPubKey []byte) error {
	pub, err := SaltedIssuerKey(issuerPubKey, c.ElectionID)
	if err != nil {
		return err
	}
	if !blind.Verify(credentialMessage(c.ElectionID, c.key.PublicKey()), c.signature, pub) {
		return fmt.Errorf("%w: credential not signed by issuer", ErrInvalidSignature)
	}
	return nil
}

func credentialMessage(electionID, credentialPubKey []byte) *big.Int {
	return new(big.Int).SetBytes(ethereum.HashRaw(append(append([]byte{}, electionID...), credentialPubKey...)))
}

func serialOf(compressedPubKey []byte) types.HexBytes {
	return ethereum.HashRaw(compressedPubKey)
}

// SaltedIssuerKey returns the blind public key that signs credentials for
// electionID, derived from the compressed issuer public key.
func SaltedIssuerKey(issuerPubKey, electionID []byte) (*blind.PublicKey, error) {
	uncompressed, err := ethereum.DecompressPubKey(issuerPubKey)
	if err != nil {
		return nil, fmt.Errorf("cannot decompress issuer public key: %w", err)
	}
	pub, err := blind.NewPublicKeyFromECDSA(uncompressed)
	if err != nil {
		return nil, fmt.Errorf("cannot compute blind issuer public key: %w", err)
	}
	return saltedkey.SaltBlindPubKey(pub, electionID)
}

// IssueBlindRequest generates a new credential key and blinds it with the
// issuer's one-time point signerR. The voter identity only signs the request
// so the issuer can check eligibility.
func IssueBlindRequest(voter *ethereum.SignKeys, electionID types.HexBytes,
	signerR *blind.Point,
) (*BlindingContext, *BlindRequest, error) {
	if len(electionID) != types.HashLength {
		return nil, nil, fmt.Errorf("%w: election id length %d", ErrMalformedBallot, len(electionID))
	}
	key := ethereum.NewSignKeys()
	if err := key.Generate(); err != nil {
		return nil, nil, err
	}
	blinded, secret, err := blind.Blind(credentialMessage(electionID, key.PublicKey()), signerR)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot blind credential: %w", err)
	}
	req := &BlindRequest{
		ElectionID:   electionID,
		BlindedToken: blinded.Bytes(),
	}
	sig, err := voter.Sign(req.EligibilitySignedPayload())
	if err != nil {
		return nil, nil, err
	}
	req.Eligibility = EligibilityProof{Address: voter.Address().Bytes(), Signature: sig}
	return &BlindingContext{electionID: electionID, key: key, secret: secret}, req, nil
}

// Unblind turns the issuer's blind signature into a credential.
func Unblind(blindSignature types.HexBytes, ctx *BlindingContext) (*Credential, error) {
	if len(blindSignature) == 0 || ctx == nil || ctx.secret == nil {
		return nil, fmt.Errorf("%w: empty blind signature or context", ErrInvalidSignature)
	}
	sig := blind.Unblind(new(big.Int).SetBytes(blindSignature), ctx.secret)
	return &Credential{ElectionID: ctx.electionID, key: ctx.key, signature: sig}, nil
}

// SignBallot produces a ballot for choice. The same credential may sign
// several ballots; only the first one admitted counts.
func SignBallot(cred *Credential, choice string) (*types.Ballot, error) {
	ballot := &types.Ballot{
		ElectionID: cred.ElectionID,
		Choice:     choice,
		Nonce:      util.RandomBytes(types.NonceLength),
	}
	payload, err := ballot.SignedPayload()
	if err != nil {
		return nil, err
	}
	sig, err := cred.key.Sign(payload)
	if err != nil {
		return nil, err
	}
	ballot.Proof = types.BallotProof{
		Credential: cred.signature.BytesUncompressed(),
		Signature:  sig,
	}
	return ballot, nil
}

func checkStructure(ballot *types.Ballot) error {
	switch {
	case ballot == nil:
		return fmt.Errorf("%w: nil ballot", ErrMalformedBallot)
	case len(ballot.ElectionID) != types.HashLength:
		return fmt.Errorf("%w: election id length %d", ErrMalformedBallot, len(ballot.ElectionID))
	case ballot.Choice == "":
		return fmt.Errorf("%w: empty choice", ErrMalformedBallot)
	case len(ballot.Nonce) != types.NonceLength:
		return fmt.Errorf("%w: nonce length %d", ErrMalformedBallot, len(ballot.Nonce))
	case len(ballot.Proof.Signature) != ethereum.SignatureLength:
		return fmt.Errorf("%w: signature length %d", ErrMalformedBallot, len(ballot.Proof.Signature))
	case len(ballot.Proof.Credential) == 0:
		return fmt.Errorf("%w: missing credential", ErrMalformedBallot)
	}
	return nil
}

// credentialKey recovers the compressed credential public key from the ballot
// signature.
func credentialKey(ballot *types.Ballot) ([]byte, error) {
	payload, err := ballot.SignedPayload()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBallot, err)
	}
	pub, err := ethereum.PubKeyFromSignature(payload, ballot.Proof.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return ethcrypto.CompressPubkey(pub), nil
}

// SerialOf returns the serial number of the credential that signed ballot.
// It does not check the issuer signature: use VerifyBallot for that.
func SerialOf(ballot *types.Ballot) (types.HexBytes, error) {
	if err := checkStructure(ballot); err != nil {
		return nil, err
	}
	pub, err := credentialKey(ballot)
	if err != nil {
		return nil, err
	}
	return serialOf(pub), nil
}

// VerifyBallot checks that ballot was signed by a credential issued for its
// election and returns the credential serial number.
func VerifyBallot(ballot *types.Ballot, issuerPubKey []byte) (types.HexBytes, error) {
	if err := checkStructure(ballot); err != nil {
		return nil, err
	}
	issuer, err := SaltedIssuerKey(issuerPubKey, ballot.ElectionID)
	if err != nil {
		return nil, err
	}
	return verifyWithKey(ballot, issuer)
}

func verifyWithKey(ballot *types.Ballot, issuer *blind.PublicKey) (types.HexBytes, error) {
	pub, err := credentialKey(ballot)
	if err != nil {
		return nil, err
	}
	sig, err := blind.NewSignatureFromBytesUncompressed(ballot.Proof.Credential)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot decode credential: %v", ErrMalformedBallot, err)
	}
	if !blind.Verify(credentialMessage(ballot.ElectionID, pub), sig, issuer) {
		return nil, fmt.Errorf("%w: credential not signed by issuer", ErrInvalidSignature)
	}
	return serialOf(pub), nil
}
