package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"go.vocdoni.io/ballotchain/ledger"
	"go.vocdoni.io/ballotchain/log"
)

// GET /election
func (a *API) election(w http.ResponseWriter, _ *http.Request) {
	httpWriteJSON(w, a.node.Election())
}

// GET /chain
func (a *API) chainInfo(w http.ResponseWriter, _ *http.Request) {
	l := a.node.Ledger()
	head := l.Head()
	genesis, err := l.Get(0)
	if err != nil {
		ErrGenericInternal.WithErr(err).Write(w)
		return
	}
	httpWriteJSON(w, &ChainInfo{
		Height:      head.Index,
		HeadHash:    head.Hash,
		GenesisHash: genesis.Hash,
		Frozen:      l.Frozen(),
	})
}

// GET /chain/blocks/{index}
func (a *API) block(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.ParseUint(chi.URLParam(r, indexURLParam), 10, 64)
	if err != nil {
		ErrMalformedBlockIndex.WithErr(err).Write(w)
		return
	}
	block, err := a.node.Ledger().Get(index)
	if errors.Is(err, ledger.ErrBlockNotFound) {
		ErrBlockNotFound.Withf("%d", index).Write(w)
		return
	}
	if err != nil {
		ErrGenericInternal.WithErr(err).Write(w)
		return
	}
	httpWriteJSON(w, block)
}

// GET /chain/verify
func (a *API) verifyChain(w http.ResponseWriter, _ *http.Request) {
	l := a.node.Ledger()
	resp := &VerifyResponse{Valid: true, Height: l.Height()}
	if err := l.VerifyChain(); err != nil {
		log.Warnw("chain verification failed", "error", err)
		resp.Valid = false
		resp.Error = err.Error()
	}
	httpWriteJSON(w, resp)
}

// GET /tally
func (a *API) tally(w http.ResponseWriter, _ *http.Request) {
	res, err := a.node.Tally()
	if err != nil {
		ErrTallyFailed.WithErr(err).Write(w)
		return
	}
	httpWriteJSON(w, res)
}
