// Package apdu implements the application-protocol-data-unit data
// model shared by the T=0 and T=1 engines (§3), grounded on
// original_source/smartcard_iso7816.h's SC_T0_APDU_cmd/SC_T0_APDU_resp
// but generalized to the extended-APDU sizes spec.md §3 requires
// (Lc <= 512, Le <= 65536) rather than the original's short-APDU-only
// 255/256 caps.
package apdu

import "github.com/usbarmory/scr7816/iso"

// Send_le values (§3).
const (
	NoLe        = 0 // case 1/3: no Le sent
	ShortLe     = 1 // short-form Le preferred, promoted to extended if Le>256 and Lc==0
	ExtendedLe  = 2 // extended Le encoding forced
)

// MaxLc and MaxLe bound the fixed, caller-provided buffers (§1, §3).
const (
	MaxLc = 512
	MaxLe = 65536
)

// MaxBuffLen is the hard ceiling any accumulated response buffer must
// be checked against (§9: "reject at the boundary").
const MaxBuffLen = 512

// Command is an APDU command (§3).
type Command struct {
	CLA, INS, P1, P2 byte
	Data             []byte // len(Data) == Lc, Lc <= MaxLc
	Le               uint32 // <= MaxLe
	SendLe           int    // NoLe, ShortLe or ExtendedLe
}

// Lc returns the command's Lc.
func (c *Command) Lc() int { return len(c.Data) }

// Validate checks the invariants of §3's data model.
func (c *Command) Validate() error {
	if c.Lc() > MaxLc {
		return iso.New(iso.InvalidEncoding, "Lc %d exceeds %d", c.Lc(), MaxLc)
	}
	if c.Le > MaxLe {
		return iso.New(iso.InvalidEncoding, "Le %d exceeds %d", c.Le, MaxLe)
	}
	if c.SendLe != NoLe && c.SendLe != ShortLe && c.SendLe != ExtendedLe {
		return iso.New(iso.InvalidEncoding, "invalid send_le %d", c.SendLe)
	}
	return nil
}

// Case classifies the command per §4.6: 1 (no data, no Le), 2 (no
// data, Le), 3 (data, no Le) or 4 (data and Le).
func (c *Command) Case() int {
	switch {
	case c.Lc() == 0 && c.SendLe == NoLe:
		return 1
	case c.Lc() == 0:
		return 2
	case c.SendLe == NoLe:
		return 3
	default:
		return 4
	}
}

// Extended reports whether the logical encoding needs extended-length
// fields: Lc > 255, or a forced/promoted extended Le.
func (c *Command) Extended() bool {
	if c.Lc() > 255 {
		return true
	}
	if c.SendLe == ExtendedLe {
		return true
	}
	if c.SendLe == ShortLe && c.Lc() == 0 && c.Le > 256 {
		return true
	}
	return false
}

// Response is an APDU response (§3).
type Response struct {
	Data     []byte
	Le       uint32
	SW1, SW2 byte
}

// SW returns the two status bytes as a 16-bit word.
func (r *Response) SW() uint16 {
	return uint16(r.SW1)<<8 | uint16(r.SW2)
}
