// Package gatewayerr defines the typed errors that cross the HTTP boundary.
//
// Every stage in the credential lifecycle and the secured execution pipeline
// returns one of these instead of a bare error, so the API layer can decide
// the status code and the `detail` string without re-classifying the
// failure by string matching.
package gatewayerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code names a failure kind independent of its HTTP status, so call sites
// (e.g. the audit logger) can switch on it without depending on net/http.
type Code string

const (
	CodeAuthentication Code = "authentication_failure"
	CodeAuthorization  Code = "authorization_denied"
	CodeInputRejected  Code = "input_rejected"
	CodeOutputRejected Code = "output_rejected"
	CodeCrypto         Code = "crypto_failure"
	CodeScopeMismatch  Code = "scope_mismatch"
	CodeUpstreamLLM    Code = "upstream_llm_failure"
	CodeLedger         Code = "ledger_failure"
	CodeMalformed      Code = "malformed_request"
	CodeInternal       Code = "internal_error"
)

// Error is the typed error every gateway stage surfaces. It carries enough
// to render the API's `{"detail": ...}` body and pick the HTTP status,
// without ever leaking stack traces or internal state to the caller.
type Error struct {
	Status int
	Code   Code
	Detail string
	// Err, when present, is the underlying cause — logged server-side, never
	// rendered to the caller.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Detail, e.Err)
	}
	return e.Detail
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code Code, detail string) *Error {
	return &Error{Status: status, Code: code, Detail: detail}
}

func Wrap(status int, code Code, detail string, err error) *Error {
	return &Error{Status: status, Code: code, Detail: detail, Err: err}
}

func Unauthorized(detail string) *Error {
	return New(http.StatusUnauthorized, CodeAuthentication, detail)
}

func Forbidden(detail string) *Error {
	return New(http.StatusForbidden, CodeAuthorization, detail)
}

func BadRequest(detail string) *Error {
	return New(http.StatusBadRequest, CodeInputRejected, detail)
}

func Internal(detail string, err error) *Error {
	return Wrap(http.StatusInternalServerError, CodeInternal, detail, err)
}

// As is a thin wrapper over errors.As for the common case of recovering a
// *Error from an error chain at the HTTP boundary.
func As(err error) (*Error, bool) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}
