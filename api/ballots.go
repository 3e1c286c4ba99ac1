package api

import (
	"errors"
	"net/http"

	"go.vocdoni.io/ballotchain/anonymizer"
	"go.vocdoni.io/ballotchain/builder"
	"go.vocdoni.io/ballotchain/log"
	"go.vocdoni.io/ballotchain/spentset"
	"go.vocdoni.io/ballotchain/types"
)

// POST /ballots
func (a *API) submitBallot(w http.ResponseWriter, r *http.Request) {
	ballot := &types.Ballot{}
	if !decodeBody(w, r, ballot) {
		return
	}
	err := a.node.SubmitBallot(r.Context(), ballot)
	switch {
	case err == nil:
	case errors.Is(err, builder.ErrElectionClosed):
		ErrElectionClosed.Write(w)
		return
	case errors.Is(err, spentset.ErrAlreadySpent),
		errors.Is(err, anonymizer.ErrInvalidSignature),
		errors.Is(err, anonymizer.ErrMalformedBallot):
		log.Debugw("ballot rejected", "error", err)
		ErrBallotRejected.Write(w)
		return
	default:
		ErrGenericInternal.WithErr(err).Write(w)
		return
	}
	serial, err := anonymizer.SerialOf(ballot)
	if err != nil {
		ErrGenericInternal.WithErr(err).Write(w)
		return
	}
	httpWriteJSON(w, &BallotResponse{Serial: serial})
}
