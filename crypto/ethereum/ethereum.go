// Package ethereum provides the secp256k1 keys used by validators to sign
// consensus messages and by voters for their one-time credential keys.
package ethereum

import (
	"bytes"
	"crypto/ecdsa"
	"errors"
	"fmt"

	ethcommon "github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"go.vocdoni.io/ballotchain/util"
)

// SignatureLength is the size of a recoverable ECDSA signature.
const SignatureLength = ethcrypto.SignatureLength

// PubKeyLengthBytes is the size of a compressed public key.
const PubKeyLengthBytes = 33

// SigningPrefix is the prefix added when hashing a message to sign.
const SigningPrefix = "\u0019Ethereum Signed Message:\n"

// ErrInvalidSignature is returned when a signature cannot be recovered.
var ErrInvalidSignature = errors.New("invalid signature")

// SignKeys is an ECDSA key pair for signing.
type SignKeys struct {
	Public  ecdsa.PublicKey
	Private ecdsa.PrivateKey
}

// NewSignKeys returns an empty SignKeys. Call Generate or AddHexKey before
// signing.
func NewSignKeys() *SignKeys {
	return &SignKeys{}
}

// Generate creates a fresh random key pair.
func (k *SignKeys) Generate() error {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		return err
	}
	k.Private = *key
	k.Public = key.PublicKey
	return nil
}

// AddHexKey imports a hex encoded private key.
func (k *SignKeys) AddHexKey(privHex string) error {
	key, err := ethcrypto.HexToECDSA(util.TrimHex(privHex))
	if err != nil {
		return err
	}
	k.Private = *key
	k.Public = key.PublicKey
	return nil
}

// HexString returns the compressed public key and the private key, hex encoded.
func (k *SignKeys) HexString() (string, string) {
	pubHexComp := fmt.Sprintf("%x", ethcrypto.CompressPubkey(&k.Public))
	privHex := fmt.Sprintf("%x", ethcrypto.FromECDSA(&k.Private))
	return pubHexComp, privHex
}

// PublicKey returns the compressed public key.
func (k *SignKeys) PublicKey() []byte {
	return ethcrypto.CompressPubkey(&k.Public)
}

// Address returns the ethereum address of the key pair.
func (k *SignKeys) Address() ethcommon.Address {
	return ethcrypto.PubkeyToAddress(k.Public)
}

// Sign signs message, hashed with the ethereum prefix. The returned signature
// is 65 bytes long and the public key can be recovered from it.
func (k *SignKeys) Sign(message []byte) ([]byte, error) {
	if k.Private.D == nil {
		return nil, errors.New("no private key available")
	}
	return ethcrypto.Sign(Hash(message), &k.Private)
}

// Verify checks signature was produced by this key pair over message.
func (k *SignKeys) Verify(message, signature []byte) (bool, error) {
	addr, err := AddrFromSignature(message, signature)
	if err != nil {
		return false, err
	}
	return addr == k.Address(), nil
}

// PubKeyFromSignature recovers the public key that signed message.
func PubKeyFromSignature(message, signature []byte) (*ecdsa.PublicKey, error) {
	if len(signature) != SignatureLength {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidSignature, len(signature))
	}
	sig := bytes.Clone(signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] > 1 {
		return nil, fmt.Errorf("%w: bad recovery id", ErrInvalidSignature)
	}
	pub, err := ethcrypto.SigToPub(Hash(message), sig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return pub, nil
}

// AddrFromSignature recovers the address that signed message.
func AddrFromSignature(message, signature []byte) (ethcommon.Address, error) {
	pub, err := PubKeyFromSignature(message, signature)
	if err != nil {
		return ethcommon.Address{}, err
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// DecompressPubKey returns the 65 byte uncompressed form of a compressed
// public key. Already uncompressed keys are returned as is.
func DecompressPubKey(pubComp []byte) ([]byte, error) {
	if len(pubComp) > PubKeyLengthBytes {
		return pubComp, nil
	}
	pub, err := ethcrypto.DecompressPubkey(pubComp)
	if err != nil {
		return nil, fmt.Errorf("decompress pubKey: %w", err)
	}
	return ethcrypto.FromECDSAPub(pub), nil
}

// Hash hashes data adding the ethereum signed message prefix.
func Hash(data []byte) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s%d%s", SigningPrefix, len(data), data)
	return HashRaw(buf.Bytes())
}

// HashRaw returns keccak256 of data, with no prefix.
func HashRaw(data []byte) []byte {
	return ethcrypto.Keccak256(data)
}
