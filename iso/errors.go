// Package iso holds the types shared across every scr7816 protocol
// component: the error taxonomy (§7), the byte convention (§4.1), the
// per-session timing context (§3) and the external hardware
// collaborator interfaces (§6) that the USART/GPIO/tick driver -
// deliberately out of scope for this module - must satisfy.
//
// It exists as its own package, below atr/pps/t0/t1/channel/timing in
// the import graph, purely so those packages and the root scr7816
// package can share one vocabulary without importing each other.
package iso

import "fmt"

// Kind enumerates the taxonomy of protocol failures (§7). It is not an
// error itself: ProtocolError pairs a Kind with context.
type Kind int

const (
	// Timeout is returned by any ETU-timed wait that elapsed before
	// the expected byte, block or procedure byte arrived.
	Timeout Kind = iota
	// BadTS means the first ATR byte was neither 0x3B nor 0x03.
	BadTS
	// BadChecksum means the ATR's TCK did not match the XOR of the
	// bytes it is supposed to protect.
	BadChecksum
	// PpsRejected means the card's PPS echo did not match byte for
	// byte, or timed out.
	PpsRejected
	// ClockUnrepresentable means no divisor of the USART reference
	// clock is close enough to the requested card-clock frequency.
	ClockUnrepresentable
	// OverflowBuffer means an APDU or response would not fit in a
	// fixed, caller-provided buffer.
	OverflowBuffer
	// UnsupportedProtocol means the card's TD1 named a protocol other
	// than T=0 or T=1.
	UnsupportedProtocol
	// T0OneByteUnsupported means the card requested the T=0
	// byte-at-a-time procedure (INS^0xFF), which this module does not
	// implement (§4.6, §9).
	T0OneByteUnsupported
	// UnexpectedSBlock means a RESYNC_REQ or WAITING_RESP S-block
	// arrived where the T=1 automaton does not expect one.
	UnexpectedSBlock
	// LineBroken means three consecutive T=1 R-block errors were
	// observed for the same I-block.
	LineBroken
	// CardLost signals card removal; the session also returns it from
	// SendAPDU when it is not in IdleCmd.
	CardLost
	// InsertionGivesUp means 2000 consecutive cold-reset attempts
	// never reached IdleCmd.
	InsertionGivesUp
	// InvalidEncoding means a caller-supplied APDU violates the data
	// model's invariants (Lc/Le out of range, inconsistent send_le).
	InvalidEncoding
)

var kindNames = [...]string{
	Timeout:               "timeout",
	BadTS:                 "bad TS",
	BadChecksum:           "bad ATR checksum",
	PpsRejected:           "PPS rejected",
	ClockUnrepresentable:  "clock unrepresentable",
	OverflowBuffer:        "buffer overflow",
	UnsupportedProtocol:   "unsupported protocol",
	T0OneByteUnsupported:  "T=0 one-byte mode unsupported",
	UnexpectedSBlock:      "unexpected S-block",
	LineBroken:            "line broken",
	CardLost:              "card lost",
	InsertionGivesUp:      "insertion gives up",
	InvalidEncoding:       "invalid encoding",
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if int(k) < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// ProtocolError is the single error type returned across a card
// session's public surface (§6, §7): a taxonomy Kind plus the
// component-local detail and, where relevant, the error it wraps.
type ProtocolError struct {
	Kind   Kind
	Detail string
	Err    error
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if e.Detail == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Unwrap allows errors.Is/errors.As to see through to Err.
func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a *ProtocolError of the same Kind, so
// callers can write errors.Is(err, iso.New(iso.Timeout, "")).
func (e *ProtocolError) Is(target error) bool {
	pe, ok := target.(*ProtocolError)
	return ok && pe.Kind == e.Kind
}

// New builds a *ProtocolError carrying kind and an optional formatted
// detail message.
func New(kind Kind, format string, args ...any) *ProtocolError {
	return &ProtocolError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap builds a *ProtocolError carrying kind and the underlying err.
func Wrap(kind Kind, err error) *ProtocolError {
	if err == nil {
		return nil
	}
	return &ProtocolError{Kind: kind, Detail: err.Error(), Err: err}
}

// Is reports whether err is a *ProtocolError of the given kind.
func Is(err error, kind Kind) bool {
	pe, ok := err.(*ProtocolError)
	return ok && pe.Kind == kind
}
