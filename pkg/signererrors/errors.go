// Package signererrors implements the error taxonomy of spec §7: each
// error is tagged with a class so that callers can branch on how to react
// (retry, skip, abort the tenure, drop a message, fail fast, or exit)
// without string-matching.
package signererrors

import "fmt"

// Class is the error taxonomy bucket an error belongs to.
type Class string

const (
	// Transient errors are network/RPC failures; the caller should retry
	// with backoff.
	Transient Class = "transient"
	// Validation errors are request-level; the request is recorded and
	// skipped, the error is not fatal.
	Validation Class = "validation"
	// Consistency errors (TooManySignerUtxos, DuplicateRequests) abort
	// the current coordinator tenure but do not crash the process.
	Consistency Class = "consistency"
	// Cryptographic errors are signature or codec failures; only the
	// offending message is dropped.
	Cryptographic Class = "cryptographic"
	// Configuration errors are invalid endpoints or key material; the
	// process fails fast at startup.
	Configuration Class = "configuration"
	// Shutdown indicates the termination latch was set; it is a signal
	// to exit gracefully, not a failure.
	Shutdown Class = "shutdown"
)

// Error is a classified error. The zero value is not useful; construct
// with New or Wrap.
type Error struct {
	Class Class
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Class, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds a classified error with no underlying cause.
func New(class Class, msg string) *Error {
	return &Error{Class: class, Msg: msg}
}

// Wrap builds a classified error around an underlying cause.
func Wrap(class Class, msg string, err error) *Error {
	return &Error{Class: class, Msg: msg, Err: err}
}

// Is reports whether err is a classified error of the given class.
func Is(err error, class Class) bool {
	var e *Error
	for err != nil {
		if ce, ok := err.(*Error); ok {
			e = ce
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return e != nil && e.Class == class
}

// Sentinel consistency errors named explicitly by the spec.
var (
	ErrTooManySignerUtxos = New(Consistency, "more than one candidate signer UTXO in the same confirming block")
	ErrDuplicateRequests  = New(Consistency, "package contains a duplicated deposit outpoint or withdrawal id")
	ErrSignerShutdown     = New(Shutdown, "signer context is shutting down")
)
