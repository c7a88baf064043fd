// Package timing implements the clock/ETU negotiator (C3, §4.3) of the
// protocol core. The ETU delay and convention primitives (C1, §4.1)
// live in package iso.
package timing

import (
	"github.com/usbarmory/scr7816/iso"
)

// Negotiator recomputes a committed (ETU, card-clock-frequency) pair
// and the driver's baud-rate/guard-time program from the USART
// reference clock and a requested ETU/frequency, grounded on
// imx6/clock.go's divisor-search style (start from the requested
// value, walk down to the nearest exact divisor of the bus clock).
type Negotiator struct {
	// Bus is the USART reference clock in Hz.
	Bus uint32
}

// Negotiate commits (etu, f) such that f is a true divisor of Bus no
// greater than the requested f, and returns the resulting baud-rate
// and guard-time program (§4.3). guard is the extra-guard-time value
// the PPS negotiator (C5) or the ATR's TC1 contributed; it passes
// through unmodified into the program's Guard field.
func (n Negotiator) Negotiate(etu, f, guard uint32) (iso.BaudProgram, error) {
	if etu == 0 {
		return iso.BaudProgram{}, iso.New(iso.ClockUnrepresentable, "requested ETU is zero")
	}
	if f > n.Bus {
		return iso.BaudProgram{}, iso.New(iso.ClockUnrepresentable, "requested frequency %d exceeds bus clock %d", f, n.Bus)
	}

	for i := f; i > 0; i-- {
		if n.Bus%i != 0 {
			continue
		}

		return iso.BaudProgram{
			F:            i,
			ETU:          etu,
			GuardHalfBit: (n.Bus / i) / 2,
			Guard:        guard,
		}, nil
	}

	return iso.BaudProgram{}, iso.New(iso.ClockUnrepresentable, "no divisor of bus clock %d found below %d", n.Bus, f)
}

// Baud returns the effective baud rate of a committed program:
// f'/etu.
func Baud(p iso.BaudProgram) uint32 {
	if p.ETU == 0 {
		return 0
	}
	return p.F / p.ETU
}
