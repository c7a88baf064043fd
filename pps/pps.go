// Package pps implements the PTS/PPS negotiator (C5, §4.5), grounded
// on original_source/smartcard_iso7816.c's SC_negotiate_PTS (divisor
// tables, wire layout) but not its untested negotiation control flow,
// which the source itself flags as work in progress; the exchange
// below follows spec.md §4.5 instead.
package pps

import (
	"github.com/usbarmory/scr7816/iso"
	"github.com/usbarmory/scr7816/timing"
)

// F_i, f_max and D_i are the ISO/IEC 7816-3 clock-rate and baud-rate
// adjustment divisor tables (§4.5). A zero F_i/f_max entry is
// reserved and must be rejected; D_i's top 16 bits carry a fractional
// multiplier when the low 16 bits are zero.
var (
	FI = [16]uint32{372, 372, 558, 744, 1116, 1488, 1860, 0, 0, 512, 768, 1024, 1536, 2048, 0, 0}
	FMax = [16]uint32{
		4000000, 5000000, 6000000, 8000000, 12000000, 16000000, 20000000, 0,
		0, 5000000, 7500000, 10000000, 15000000, 20000000, 0, 0,
	}
	DI = [16]uint32{0, 1, 2, 4, 8, 16, 0, 0, 0, 0, 2 << 16, 4 << 16, 8 << 16, 16 << 16, 32 << 16, 64 << 16}
)

// ETU computes F/D from the encoded divisor pair, handling the
// fractional-D encoding in DI's top 16 bits.
func ETU(f, d uint32) uint32 {
	if d&0xFFFF == 0 {
		return f * (d >> 16)
	}
	return f / d
}

// Port is the byte-level collaborator the PPS exchange consumes.
type Port interface {
	GetByte(timeoutETU uint32) (byte, error)
	PutByte(b byte, timeoutETU uint32) error
}

// ATR is the subset of the parsed ATR the PPS negotiator needs.
type ATR interface {
	// HasTA(k), HasTC(k) report presence of the k-th TA/TC interface
	// byte (k is 0-based: TA1 is k=0).
	HasTA(k int) bool
	HasTC(k int) bool
	TAByte(k int) byte
	TCByte(k int) byte
	// Protocol returns the TD1-named protocol, or 0.
	Protocol() byte
}

// Result is the outcome of a successful negotiation.
type Result struct {
	Protocol byte
	Program  iso.BaudProgram
	Declined bool // true if negotiation was not requested or the card's TA2 bit 8 (0x80) forbade it
}

const wt = 9600

// Negotiate runs the PTS exchange (§4.5). If doNegotiate is false, or
// the card's TA2 bit 7 (0x80) forbids negotiation, it returns the
// current defaults with Declined set and does not touch the wire.
func Negotiate(p Port, a ATR, neg timing.Negotiator, doNegotiate, doChangeBaud bool, ta2 byte, hasTA2 bool) (Result, error) {
	protocol := a.Protocol()
	if protocol != 0 && protocol != 1 {
		return Result{}, iso.New(iso.UnsupportedProtocol, "TD1 names protocol T=%d", protocol)
	}

	if !doNegotiate || (hasTA2 && ta2&0x80 != 0) {
		return Result{Protocol: protocol, Declined: true}, nil
	}

	askTA1 := a.HasTA(0)
	askTC1 := a.HasTC(0)

	ta1 := byte(0x11)
	if askTA1 {
		ta1 = a.TAByte(0)
	}
	tc1 := byte(0)
	if askTC1 {
		tc1 = a.TCByte(0)
	}

	pts0 := byte(0)
	if askTA1 {
		pts0 |= 1 << 4
	}
	if askTC1 {
		pts0 |= 1 << 5
	}
	pts0 |= protocol & 0x0F

	out := []byte{0xFF, pts0}
	if askTA1 {
		out = append(out, ta1)
	}
	if askTC1 {
		out = append(out, tc1)
	}

	pck := byte(0)
	for _, b := range out {
		pck ^= b
	}
	out = append(out, pck)

	for _, b := range out {
		if err := p.PutByte(b, wt); err != nil {
			return Result{}, iso.Wrap(iso.PpsRejected, err)
		}
	}

	for _, want := range out {
		got, err := p.GetByte(wt)
		if err != nil {
			return Result{}, iso.Wrap(iso.PpsRejected, err)
		}
		if got != want {
			return Result{}, iso.New(iso.PpsRejected, "echo mismatch: want %#02x got %#02x", want, got)
		}
	}

	if !doChangeBaud {
		return Result{Protocol: protocol, Declined: false}, nil
	}

	d := DI[ta1&0x0F]
	f := FI[ta1>>4]
	fm := FMax[ta1>>4]
	if d == 0 || f == 0 || fm == 0 {
		return Result{}, iso.New(iso.ClockUnrepresentable, "card requested a reserved Fi/Di entry")
	}

	etu := ETU(f, d)

	guard := uint32(1)
	if askTC1 {
		guard = uint32(tc1)
	}

	program, err := neg.Negotiate(etu, fm, guard)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Protocol: protocol,
		Program:  program,
	}, nil
}
