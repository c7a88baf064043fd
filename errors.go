package scr7816

import "github.com/usbarmory/scr7816/iso"

// Kind and ProtocolError re-export the shared error taxonomy (§7) so
// callers need not import the iso package directly.
type Kind = iso.Kind
type ProtocolError = iso.ProtocolError

const (
	Timeout               = iso.Timeout
	BadTS                 = iso.BadTS
	BadChecksum           = iso.BadChecksum
	PpsRejected           = iso.PpsRejected
	ClockUnrepresentable  = iso.ClockUnrepresentable
	OverflowBuffer        = iso.OverflowBuffer
	UnsupportedProtocol   = iso.UnsupportedProtocol
	T0OneByteUnsupported  = iso.T0OneByteUnsupported
	UnexpectedSBlock      = iso.UnexpectedSBlock
	LineBroken            = iso.LineBroken
	CardLost              = iso.CardLost
	InsertionGivesUp      = iso.InsertionGivesUp
	InvalidEncoding       = iso.InvalidEncoding
)

// Is reports whether err is a *ProtocolError of the given kind.
func Is(err error, kind Kind) bool { return iso.Is(err, kind) }
