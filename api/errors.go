package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.vocdoni.io/ballotchain/log"
)

// Error is used by handler functions to wrap errors, assigning a unique error code
// and also specifying which HTTP Status should be used.
type Error struct {
	Err        error
	Code       int
	HTTPstatus int
}

// MarshalJSON returns a JSON containing Err.Error() and Code. Field HTTPstatus is ignored.
//
// Example output: {"error":"block not found","code":40002}
func (e Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(
		struct {
			Err  string `json:"error"`
			Code int    `json:"code"`
		}{
			Err:  e.Err.Error(),
			Code: e.Code,
		})
}

// Error returns the Message contained inside the APIerror
func (e Error) Error() string {
	return e.Err.Error()
}

// Write serializes a JSON msg using APIerror.Message and APIerror.Code
func (e Error) Write(w http.ResponseWriter) {
	msg, err := json.Marshal(e)
	if err != nil {
		log.Warn(err)
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	log.Debugw("API error response", "error", e.Error(), "code", e.Code, "httpStatus", e.HTTPstatus)
	w.Header().Set("Content-Type", "application/json")
	http.Error(w, string(msg), e.HTTPstatus)
}

// Withf returns a copy of APIerror with the Sprintf formatted string appended at the end of e.Err
func (e Error) Withf(format string, args ...any) Error {
	return Error{
		Err:        fmt.Errorf("%w: %v", e.Err, fmt.Sprintf(format, args...)),
		Code:       e.Code,
		HTTPstatus: e.HTTPstatus,
	}
}

// WithErr returns a copy of APIerror with err.Error() appended at the end of e.Err
func (e Error) WithErr(err error) Error {
	return Error{
		Err:        fmt.Errorf("%w: %v", e.Err, err.Error()),
		Code:       e.Code,
		HTTPstatus: e.HTTPstatus,
	}
}

// Error codes in the 40001-49999 range are the user's fault, 50001-59999 the
// server's. Codes are never reused.
//
// ErrBallotRejected does not tell why, so a rejected ballot reveals nothing
// about other ballots cast with the same credential.
var (
	ErrMalformedBody       = Error{Code: 40001, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed JSON body")}
	ErrBlockNotFound       = Error{Code: 40002, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("block not found")}
	ErrMalformedBlockIndex = Error{Code: 40003, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed block index")}
	ErrBallotRejected      = Error{Code: 40004, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("ballot rejected")}
	ErrElectionClosed      = Error{Code: 40005, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("election is closed")}
	ErrIssuerDisabled      = Error{Code: 40006, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("credential issuer not enabled")}
	ErrMalformedAddress    = Error{Code: 40007, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed address")}
	ErrCredentialDenied    = Error{Code: 40008, HTTPstatus: http.StatusForbidden, Err: fmt.Errorf("credential denied")}
	ErrMalformedPoint      = Error{Code: 40009, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed curve point")}

	ErrMarshalingJSON  = Error{Code: 50001, HTTPstatus: http.StatusInternalServerError, Err: fmt.Errorf("marshaling (server-side) JSON failed")}
	ErrTallyFailed     = Error{Code: 50002, HTTPstatus: http.StatusInternalServerError, Err: fmt.Errorf("cannot compute tally")}
	ErrGenericInternal = Error{Code: 50003, HTTPstatus: http.StatusInternalServerError, Err: fmt.Errorf("internal server error")}
)
