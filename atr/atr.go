// Package atr implements the Answer-To-Reset data model and reader
// (C4, §3, §4.4), grounded on original_source/smartcard_iso7816.c's
// ATR read loop and smartcard_iso7816.h's SC_ATR layout.
package atr

import (
	"github.com/usbarmory/scr7816/bits"
	"github.com/usbarmory/scr7816/iso"
)

// Source is the byte-level collaborator the ATR reader consumes:
// channel.Port satisfies it.
type Source interface {
	GetByte(timeoutETU uint32) (byte, error)
	SetConvention(iso.Convention)
}

// ATR is the parsed Answer-To-Reset (§3).
type ATR struct {
	TS byte
	T0 byte

	TA, TB, TC, TD [4]byte
	// Mask[k] is the 4-bit presence bitmap (bit0=TA, bit1=TB, bit2=TC,
	// bit3=TD) of the four possible interface bytes of kind k.
	Mask [4]byte

	Hist  []byte
	HNum  byte
	TCK   byte
	TCKPresent bool

	Convention iso.Convention
}

// Bit positions of the presence mask / TD upper-nibble encoding
// (bit0=TA, bit1=TB, bit2=TC, bit3=TD).
const (
	posTA = 0
	posTB = 1
	posTC = 2
	posTD = 3
)

// Read acquires and parses one ATR from src, per §4.4's five steps.
func Read(src Source) (*ATR, error) {
	a := &ATR{}

	// (i) TS, raw: convention is not yet known, so the byte must be
	// read before the source's convention mapping is set.
	rawTS, err := src.GetByte(iso.ATRETUTimeout)
	if err != nil {
		return nil, iso.Wrap(iso.Timeout, err)
	}

	switch rawTS {
	case 0x3B:
		a.Convention = iso.Direct
		a.TS = rawTS
	case 0x03:
		a.Convention = iso.Inverse
		src.SetConvention(iso.Inverse)
		a.TS = iso.Mirror(rawTS)
	default:
		return nil, iso.New(iso.BadTS, "TS=%#02x", rawTS)
	}

	wt := uint32(9600)
	xor := byte(0)

	// (ii) T0
	t0, err := src.GetByte(wt)
	if err != nil {
		return nil, iso.Wrap(iso.Timeout, err)
	}
	a.T0 = t0
	a.HNum = bits.Get8(&t0, 0, 0x0F)
	xor ^= t0

	maskNext := bits.Get8(&t0, 4, 0x0F)

	// (iii) TA/TB/TC/TD groups, chained through TD's upper nibble.
	for k := 0; k < 4 && maskNext != 0; k++ {
		a.Mask[k] = maskNext

		if bits.Get8(&maskNext, posTA, 1) != 0 {
			b, err := src.GetByte(wt)
			if err != nil {
				return nil, iso.Wrap(iso.Timeout, err)
			}
			a.TA[k] = b
			xor ^= b
		}
		if bits.Get8(&maskNext, posTB, 1) != 0 {
			b, err := src.GetByte(wt)
			if err != nil {
				return nil, iso.Wrap(iso.Timeout, err)
			}
			a.TB[k] = b
			xor ^= b
		}
		if bits.Get8(&maskNext, posTC, 1) != 0 {
			b, err := src.GetByte(wt)
			if err != nil {
				return nil, iso.Wrap(iso.Timeout, err)
			}
			a.TC[k] = b
			xor ^= b
		}

		nextMask := byte(0)
		if bits.Get8(&maskNext, posTD, 1) != 0 {
			b, err := src.GetByte(wt)
			if err != nil {
				return nil, iso.Wrap(iso.Timeout, err)
			}
			a.TD[k] = b
			xor ^= b

			if bits.Get8(&b, 0, 0x0F) != 0 {
				a.TCKPresent = true
			}
			nextMask = bits.Get8(&b, 4, 0x0F)
		}

		maskNext = nextMask
	}

	// (iv) historical bytes
	a.Hist = make([]byte, a.HNum)
	for i := 0; i < int(a.HNum); i++ {
		b, err := src.GetByte(wt)
		if err != nil {
			return nil, iso.Wrap(iso.Timeout, err)
		}
		a.Hist[i] = b
		xor ^= b
	}

	// (v) TCK
	if a.TCKPresent {
		tck, err := src.GetByte(wt)
		if err != nil {
			return nil, iso.Wrap(iso.Timeout, err)
		}
		a.TCK = tck

		if xor != tck {
			return nil, iso.New(iso.BadChecksum, "computed %#02x, received %#02x", xor, tck)
		}
	}

	return a, nil
}

// Protocol returns the protocol TD1 names (§4.5): the low nibble of
// TD[0] if present, else 0 (T=0 is the default).
func (a *ATR) Protocol() byte {
	if bits.Get8(&a.Mask[0], posTD, 1) == 0 {
		return 0
	}
	return bits.Get8(&a.TD[0], 0, 0x0F)
}

// HasTA reports whether the k-th TA interface byte (k is 0-based:
// TA1 is k=0) is present.
func (a *ATR) HasTA(k int) bool { return k < 4 && bits.Get8(&a.Mask[k], posTA, 1) != 0 }

// HasTB reports whether the k-th TB interface byte is present.
func (a *ATR) HasTB(k int) bool { return k < 4 && bits.Get8(&a.Mask[k], posTB, 1) != 0 }

// HasTC reports whether the k-th TC interface byte is present.
func (a *ATR) HasTC(k int) bool { return k < 4 && bits.Get8(&a.Mask[k], posTC, 1) != 0 }

// HasTD reports whether the k-th TD interface byte is present.
func (a *ATR) HasTD(k int) bool { return k < 4 && bits.Get8(&a.Mask[k], posTD, 1) != 0 }

// TAByte, TBByte, TCByte, TDByte return the k-th interface byte of
// the corresponding kind (zero if absent; check presence first).
func (a *ATR) TAByte(k int) byte { return a.TA[k] }
func (a *ATR) TBByte(k int) byte { return a.TB[k] }
func (a *ATR) TCByte(k int) byte { return a.TC[k] }
func (a *ATR) TDByte(k int) byte { return a.TD[k] }

// IFSC returns the T=1 information-field size for the card: the
// default of 32, or TA3 when present and in [1, 0xFE] (§4.7).
func (a *ATR) IFSC() byte {
	const dflt = 32
	if !a.HasTA(2) {
		return dflt
	}
	v := a.TA[2]
	if v == 0x00 || v == 0xFF {
		return dflt
	}
	return v
}

// EDCType reports the T=1 epilogue type TC2 selects: CRC if TC2's bit
// 0 is set, LRC otherwise (the default, including when TC2 is absent)
// (§4.7).
func (a *ATR) EDCType() (crc bool) {
	if !a.HasTC(1) {
		return false
	}
	return bits.Get8(&a.TC[1], 0, 1) != 0
}

// WaitingTimes returns BWI, CWI decoded from TB3 when present, for
// ComputeBWT/ComputeCWT (§3). ok is false when TB3 is absent and the
// session should keep the pre-ATR defaults.
func (a *ATR) WaitingTimes() (bwi, cwi uint8, ok bool) {
	if !a.HasTB(2) {
		return 0, 0, false
	}
	b := a.TB[2]
	return bits.Get8(&b, 4, 0x0F), bits.Get8(&b, 0, 0x0F), true
}

// Bytes re-serializes the parsed ATR back to its original wire form
// (direct convention; the inverse-convention mirroring is a channel
// concern, not part of the logical byte sequence), for the §8
// round-trip property.
func (a *ATR) Bytes() []byte {
	out := []byte{0x3B, a.T0}

	maskNext := bits.Get8(&a.T0, 4, 0x0F)
	for k := 0; k < 4 && maskNext != 0; k++ {
		if bits.Get8(&maskNext, posTA, 1) != 0 {
			out = append(out, a.TA[k])
		}
		if bits.Get8(&maskNext, posTB, 1) != 0 {
			out = append(out, a.TB[k])
		}
		if bits.Get8(&maskNext, posTC, 1) != 0 {
			out = append(out, a.TC[k])
		}

		next := byte(0)
		if bits.Get8(&maskNext, posTD, 1) != 0 {
			out = append(out, a.TD[k])
			next = bits.Get8(&a.TD[k], 4, 0x0F)
		}
		maskNext = next
	}

	out = append(out, a.Hist...)

	if a.TCKPresent {
		out = append(out, a.TCK)
	}

	return out
}
