// Package httperror implements the error taxonomy from spec §7: typed
// client/server error values carrying an HTTP status code, plus thin
// stack-attaching wraps for diagnostic logging.
//
// The typed-error pattern (a named string/struct type implementing error,
// switched on by callers instead of sentinel comparison) follows the
// teacher's badRequestError convention (badu-http's types_request.go).
package httperror

import (
	"fmt"

	"github.com/pkg/errors"
)

// Status is a client or server error carrying the response status code it
// should produce, per the taxonomy in spec §7.
type Status struct {
	Code    int
	Reason  string
	closeAfter bool // true when the transport state is unrecoverable
}

func (e *Status) Error() string { return fmt.Sprintf("%d %s", e.Code, e.Reason) }

// CloseAfter reports whether the connection must be closed after this
// error is written (partial response already sent, or parse corruption).
func (e *Status) CloseAfter() bool { return e.closeAfter }

func newStatus(code int, reason string, closeAfter bool) *Status {
	return &Status{Code: code, Reason: reason, closeAfter: closeAfter}
}

// Constructors for every status spec §7 names explicitly.
var (
	ErrBadRequest          = func() *Status { return newStatus(400, "Bad Request", false) }
	ErrForbidden           = func() *Status { return newStatus(403, "Forbidden", false) }
	ErrNotFound            = func() *Status { return newStatus(404, "Not Found", false) }
	ErrMethodNotAllowed    = func() *Status { return newStatus(405, "Method Not Allowed", false) }
	ErrRequestTimeout      = func() *Status { return newStatus(408, "Request Timeout", true) }
	ErrLengthRequired      = func() *Status { return newStatus(411, "Length Required", false) }
	ErrPayloadTooLarge     = func() *Status { return newStatus(413, "Payload Too Large", true) }
	ErrURITooLong          = func() *Status { return newStatus(414, "URI Too Long", true) }
	ErrHeaderFieldsTooLarge = func() *Status { return newStatus(431, "Request Header Fields Too Large", true) }

	ErrInternal    = func() *Status { return newStatus(500, "Internal Server Error", true) }
	ErrBadGateway  = func() *Status { return newStatus(502, "Bad Gateway", true) }
	ErrGatewayTime = func() *Status { return newStatus(504, "Gateway Timeout", true) }
)

// Wrap attaches msg context to err using pkg/errors, the way the wider
// example corpus (docker-compose and multiple other_examples manifests)
// wraps errors for diagnostic logging; it is never used for control flow
// -- callers still type-switch on *Status or sentinel errors.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, msg)
}

// Wrapf is Wrap with formatting.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, format, args...)
}

// Cause unwraps to the root error, mirroring pkg/errors.Cause.
func Cause(err error) error { return errors.Cause(err) }
