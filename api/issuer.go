package api

import (
	"errors"
	"net/http"

	blind "github.com/arnaucube/go-blindsecp256k1"
	ethcommon "github.com/ethereum/go-ethereum/common"

	"go.vocdoni.io/ballotchain/anonymizer"
	"go.vocdoni.io/ballotchain/issuer"
)

// POST /issuer/sessions
func (a *API) newSession(w http.ResponseWriter, r *http.Request) {
	if a.issuer == nil {
		ErrIssuerDisabled.Write(w)
		return
	}
	req := &SessionRequest{}
	if !decodeBody(w, r, req) {
		return
	}
	if !ethcommon.IsHexAddress(req.Address) {
		ErrMalformedAddress.Withf("%q", req.Address).Write(w)
		return
	}
	id, signerR, err := a.issuer.NewSession(ethcommon.HexToAddress(req.Address))
	if err != nil {
		writeIssuerError(w, err)
		return
	}
	httpWriteJSON(w, &SessionResponse{SessionID: id, SignerR: signerR.BytesUncompressed()})
}

// POST /issuer/signatures?session={id}
func (a *API) blindSignature(w http.ResponseWriter, r *http.Request) {
	if a.issuer == nil {
		ErrIssuerDisabled.Write(w)
		return
	}
	req := &anonymizer.BlindRequest{}
	if !decodeBody(w, r, req) {
		return
	}
	sig, err := a.issuer.RequestBlindSignature(r.URL.Query().Get("session"), req)
	if err != nil {
		writeIssuerError(w, err)
		return
	}
	httpWriteJSON(w, &SignatureResponse{BlindSignature: sig})
}

func writeIssuerError(w http.ResponseWriter, err error) {
	if errors.Is(err, issuer.ErrDenied) {
		ErrCredentialDenied.WithErr(err).Write(w)
		return
	}
	ErrGenericInternal.WithErr(err).Write(w)
}

// ParseSignerR decodes the R point of a SessionResponse.
func ParseSignerR(data []byte) (*blind.Point, error) {
	p, err := blind.NewPointFromBytesUncompressed(data)
	if err != nil {
		return nil, ErrMalformedPoint.WithErr(err)
	}
	return p, nil
}
