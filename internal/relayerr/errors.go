// Package relayerr defines the error-kind taxonomy shared by every core
// component. Kinds distinguish how a caller should react: surface and drop,
// retry with backoff, or halt and let the supervisor restart the process.
package relayerr

import "errors"

// Kind classifies an error by the handling policy it requires.
type Kind int

const (
	// KindInputInvalid marks malformed bytes, oversize payloads, invalid
	// frame/segment framing. Never retried.
	KindInputInvalid Kind = iota
	// KindCryptoFailure marks a failed signature/VRF/challenge/proof check.
	KindCryptoFailure
	// KindProtocolViolation marks LoopbackTicket, InvalidTicketRecipient,
	// MonotonicityViolation, ReassemblerClosed, UnknownSession.
	KindProtocolViolation
	// KindTransient marks timeouts, backpressure, chain RPC timeouts.
	// Safe to retry with bounded backoff.
	KindTransient
	// KindFatal marks storage corruption, nonce desync, or on-chain/local
	// state mismatch. The owning component should halt and restart.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindInputInvalid:
		return "input-invalid"
	case KindCryptoFailure:
		return "crypto-failure"
	case KindProtocolViolation:
		return "protocol-violation"
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is a classified error carrying its kind alongside the underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Kind.String() + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with kind and an operation label, the same way the teacher
// wraps sqlstore failures with fmt.Errorf("Could not select session: %v", err).
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Sentinel errors for the specific protocol violations named in spec.md §4.1-4.3.
var (
	ErrMonotonicityViolation = errors.New("monotonicity violation")
	ErrLoopbackTicket        = errors.New("loopback ticket")
	ErrInvalidTicketRecipient = errors.New("invalid ticket recipient")
	ErrReassemblerClosed     = errors.New("reassembler closed")
	ErrUnknownSession        = errors.New("unknown session")
	ErrDuplicateTicket       = errors.New("duplicate ticket")
	ErrInvalidFrameID        = errors.New("invalid frame id")
	ErrInvalidChallenge      = errors.New("invalid challenge")
)
