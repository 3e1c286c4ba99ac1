package api

import "go.vocdoni.io/ballotchain/types"

// ChainInfo summarizes the ledger.
type ChainInfo struct {
	Height      uint64         `json:"height"`
	HeadHash    types.HexBytes `json:"headHash"`
	GenesisHash types.HexBytes `json:"genesisHash"`
	Frozen      bool           `json:"frozen"`
}

// VerifyResponse is the outcome of a full chain verification.
type VerifyResponse struct {
	Valid  bool   `json:"valid"`
	Height uint64 `json:"height"`
	Error  string `json:"error,omitempty"`
}

// BallotResponse acknowledges an accepted ballot.
type BallotResponse struct {
	Serial types.HexBytes `json:"serial"`
}

// SessionRequest opens a credential issuance session.
type SessionRequest struct {
	Address string `json:"address"`
}

// SessionResponse carries the issuer commitment R for the session.
type SessionResponse struct {
	SessionID string         `json:"sessionId"`
	SignerR   types.HexBytes `json:"signerR"`
}

// SignatureResponse carries the blind signature of a credential.
type SignatureResponse struct {
	BlindSignature types.HexBytes `json:"blindSignature"`
}
