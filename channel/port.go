// Package channel implements the guarded byte channel (C2, §4.2): a
// get_byte/put_byte pair with ETU timeouts and inverse-convention
// mapping, backed by the external Driver's pending-state reporting
// and a single-producer/single-consumer receive ring (§5).
//
// Grounded on imx6/uart.go's Tx/Rx/Read/Write shape (one register
// poll loop per byte) and internal/reg/reg.go's WaitFor idiom
// (time.Now/time.Since/runtime.Gosched polling loop) for the
// ETU-timed waits.
package channel

import (
	"runtime"
	"time"

	"github.com/usbarmory/scr7816/internal/ring"
	"github.com/usbarmory/scr7816/iso"
)

// Port is a guarded byte channel over an external Driver (§4.2).
type Port struct {
	drv  iso.Driver
	rx   *ring.Ring
	clk  iso.Clock
	conv iso.Convention

	// etuCurr and fCurr are the committed clock/ETU negotiator (C3)
	// outputs, used to translate ETU counts into durations.
	etuCurr uint32
	fCurr   uint32

	// cgt is the character guard time enforced after every
	// successful PutByte (§4.2).
	cgt uint32
}

// New constructs a Port over drv, using rxCapacity for the receive
// ring (rounded up to ring.MinCapacity).
func New(drv iso.Driver, clk iso.Clock, rxCapacity int) *Port {
	return &Port{
		drv: drv,
		rx:  ring.New(rxCapacity),
		clk: clk,
	}
}

// SetConvention updates the byte convention both directions apply
// (§4.1).
func (p *Port) SetConvention(c iso.Convention) {
	p.conv = c
}

// Convention reports the byte convention currently in effect.
func (p *Port) Convention() iso.Convention {
	return p.conv
}

// SetTiming updates the committed clock/ETU and character guard time
// used to translate ETU counts into durations (C3, §4.2).
func (p *Port) SetTiming(etuCurr, fCurr, cgt uint32) {
	p.etuCurr = etuCurr
	p.fCurr = fCurr
	p.cgt = cgt
}

// Deliver is the entry point the external interrupt-level byte
// producer calls for every received raw wire byte (§5). It never
// blocks; on ring overflow the newest byte is dropped (§4.2).
func (p *Port) Deliver(raw byte) {
	p.rx.Push(raw)
}

// GetByte waits up to timeoutETU ETUs (0 = forever) for one byte,
// applying the inverse-convention mapping if configured (§4.2).
func (p *Port) GetByte(timeoutETU uint32) (byte, error) {
	var deadline time.Time
	hasDeadline := timeoutETU != 0
	if hasDeadline {
		deadline = time.Now().Add(iso.ETUDuration(timeoutETU, p.etuCurr, p.fCurr))
	}

	for {
		if raw, ok := p.rx.Pop(); ok {
			return p.conv.Apply(raw), nil
		}
		if hasDeadline && time.Now().After(deadline) {
			return 0, iso.New(iso.Timeout, "get_byte: no byte within %d ETU", timeoutETU)
		}
		runtime.Gosched()
	}
}

// PutByte transmits b, applying the inverse-convention mapping, then
// waits up to timeoutETU ETUs (0 = forever) for the driver to report
// completion, looping through RetryParity/RetryFrame as the hardware
// schedules resends (§4.2, §5). On success it enforces the CGT
// post-stop-bit delay before returning.
func (p *Port) PutByte(b byte, timeoutETU uint32) error {
	var deadline time.Time
	hasDeadline := timeoutETU != 0
	if hasDeadline {
		deadline = time.Now().Add(iso.ETUDuration(timeoutETU, p.etuCurr, p.fCurr))
	}

	p.drv.StartSend(p.conv.Apply(b))

	for {
		switch p.drv.State() {
		case iso.StateSent:
			iso.DelayETU(p.clk, p.cgt, p.etuCurr, p.fCurr)
			return nil
		case iso.StateRetryParity, iso.StateRetryFrame, iso.StateSending:
			// hardware-scheduled resend in progress; keep polling.
		default:
			// StateIdle before StartSend landed: also keep polling.
		}

		if hasDeadline && time.Now().After(deadline) {
			return iso.New(iso.Timeout, "put_byte: no completion within %d ETU", timeoutETU)
		}
		runtime.Gosched()
	}
}
