package internal

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"github.com/rs/zerolog"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger().Output(zerolog.ConsoleWriter{
	Out:        os.Stderr,
	TimeFormat: "15:04:05",
})

// ErrKind classifies a handler error so the transport layer knows how to
// surface it: all kinds are origin-only, but store errors are reported and
// state errors are expected/recoverable.
type ErrKind string

const (
	KindValidation    ErrKind = "validation"
	KindAuthorization ErrKind = "authorization"
	KindState         ErrKind = "state"
	KindStore         ErrKind = "store"
	KindTransport     ErrKind = "transport"
)

type HandlerError struct {
	StatusCode int
	Kind       ErrKind
	Err        error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("HTTP %d (%s) : %s", e.StatusCode, e.Kind, e.Err.Error())
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// Message is the client-safe description sent on the originating connection.
// Store errors are deliberately vague; the real cause goes to the logs.
func (e *HandlerError) Message() string {
	if e.Kind == KindStore {
		return "internal error"
	}
	return e.Err.Error()
}

func NewValidationError(format string, args ...any) *HandlerError {
	return &HandlerError{StatusCode: 400, Kind: KindValidation, Err: fmt.Errorf(format, args...)}
}

func NewAuthorizationError(format string, args ...any) *HandlerError {
	return &HandlerError{StatusCode: 403, Kind: KindAuthorization, Err: fmt.Errorf(format, args...)}
}

func NewStateError(format string, args ...any) *HandlerError {
	return &HandlerError{StatusCode: 409, Kind: KindState, Err: fmt.Errorf(format, args...)}
}

func NewStoreError(err error) *HandlerError {
	return &HandlerError{StatusCode: 500, Kind: KindStore, Err: err}
}

func NewTransportError(format string, args ...any) *HandlerError {
	return &HandlerError{StatusCode: 401, Kind: KindTransport, Err: fmt.Errorf(format, args...)}
}

type jsonError struct {
	Err string `json:"error"`
}

func (e HandlerError) JSON() []byte {
	je := jsonError{e.Error()}
	b, _ := json.Marshal(je)
	return b
}

// Assert that the expression is true, similar to assert() in C. If expr is false, print or panic.
//
// If expr is false and AGAPE_DEBUG=1 then the program panics.
// If expr is false and AGAPE_DEBUG is unset or not '1' then the program logs an error along with
// a field which contains the file/line number of the caller/assertion of Assert.
// Assert should be used to verify invariants which should never be broken during normal functioning
// of the program, and shouldn't be used to log a normal error e.g network errors.
func Assert(msg string, expr bool) {
	if expr {
		return
	}
	if os.Getenv("AGAPE_DEBUG") == "1" {
		panic(fmt.Sprintf("assert: %s", msg))
	}
	l := logger.Error()
	_, file, line, ok := runtime.Caller(1)
	if ok {
		l = l.Str("assertion", fmt.Sprintf("%s:%d", file, line))
	}
	_, file, line, ok = runtime.Caller(2)
	if ok {
		l = l.Str("caller", fmt.Sprintf("%s:%d", file, line))
	}
	l.Msg("assertion failed: " + msg)
}
