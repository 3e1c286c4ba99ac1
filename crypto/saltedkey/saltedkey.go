// Package saltedkey derives per-election issuer keys. Adding salt*G to the
// issuer public key (and salt to its private key) makes a blind signature
// valid for a single election only.
package saltedkey

import (
	"fmt"
	"math/big"

	blind "github.com/arnaucube/go-blindsecp256k1"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// SaltSize is the size (in bytes) of the salt word
const SaltSize = 20

func saltScalar(salt []byte) ([SaltSize]byte, error) {
	var s [SaltSize]byte
	if len(salt) < SaltSize {
		return s, fmt.Errorf("provided salt is not large enough (need %d bytes)", SaltSize)
	}
	copy(s[:], salt[:SaltSize])
	return s, nil
}

// SaltBlindPubKey returns the salted blind public key of pubKey applying the salt.
func SaltBlindPubKey(pubKey *blind.PublicKey, salt []byte) (*blind.PublicKey, error) {
	if pubKey == nil {
		return nil, fmt.Errorf("public key is nil")
	}
	s, err := saltScalar(salt)
	if err != nil {
		return nil, err
	}
	x, y := ethcrypto.S256().ScalarBaseMult(s[:])
	return (*blind.PublicKey)(pubKey.Point().Add(&blind.Point{X: x, Y: y})), nil
}

// SaltBlindPrivKey returns the private key matching SaltBlindPubKey for the
// same salt.
func SaltBlindPrivKey(privKey *blind.PrivateKey, salt []byte) (*blind.PrivateKey, error) {
	if privKey == nil {
		return nil, fmt.Errorf("private key is nil")
	}
	s, err := saltScalar(salt)
	if err != nil {
		return nil, err
	}
	k := new(big.Int).Add((*big.Int)(privKey), new(big.Int).SetBytes(s[:]))
	k.Mod(k, ethcrypto.S256().Params().N)
	return (*blind.PrivateKey)(k), nil
}
