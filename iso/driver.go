package iso

import "time"

// PendingState is the asynchronous completion state the external
// USART driver reports for the transmit/receive operation currently
// in flight (§4.2, §5). The byte channel spins on RetryParity/
// RetryFrame until Sent or a timeout.
type PendingState int

const (
	StateIdle PendingState = iota
	StateSending
	StateSent
	StateRetryParity
	StateRetryFrame
)

// BaudProgram is the divisor pair the clock negotiator (§4.3) commits
// to the USART: the card-clock frequency divisor and the guard-time
// register program, exactly as C3 derives them.
type BaudProgram struct {
	// F is the effective card-clock frequency (a true divisor of the
	// USART reference clock).
	F uint32
	// ETU is the elementary time unit in card-clock cycles (at F).
	ETU uint32
	// GuardHalfBit and Guard are the two halves of the guard-time
	// program C3 derives: GuardHalfBit is (bus/F')/2, Guard is the
	// extra guard time passed through unchanged.
	GuardHalfBit uint32
	Guard        uint32
}

// Driver is the external, out-of-scope USART collaborator: a smart-
// card-mode serial port with hardware parity/framing and a NACK-driven
// software resend scheduled by the hardware layer, never by this
// module (§1, §5, §6).
type Driver interface {
	// Configure reprograms the USART for the given convention (parity
	// sense) and baud/guard-time divisors.
	Configure(conv Convention, baud BaudProgram) error
	// StartSend schedules asynchronous transmission of b. Completion
	// is observed through State.
	StartSend(b byte)
	// StartRecv arms the receiver for one incoming byte. The byte
	// itself is deposited into the channel's receive ring by the
	// driver's interrupt producer, not returned here.
	StartRecv()
	// State reports the pending state of the most recently scheduled
	// operation (§4.2).
	State() PendingState
}

// GPIO is the external RST/VCC/card-present collaborator (§1, §6).
type GPIO interface {
	// SetRST drives the reset line.
	SetRST(high bool)
	// SetVCC drives the supply-voltage control line.
	SetVCC(high bool)
	// CardPresent reports the debounced, edge-triggered card
	// insertion level.
	CardPresent() bool
}

// Clock is the external microsecond tick source (§1, §6): the only
// suspension primitive the protocol core uses besides the byte
// channel (§5).
type Clock interface {
	// Sleep blocks the calling task for at least d.
	Sleep(d time.Duration)
}

// DelayCycles waits n card-clock cycles against clk at the committed
// card-clock frequency fCurr (§4.1): n*10^6/fCurr
// microseconds.
func DelayCycles(clk Clock, n uint32, fCurr uint32) {
	if fCurr == 0 || n == 0 {
		return
	}
	clk.Sleep(time.Duration(n) * time.Second / time.Duration(fCurr))
}

// DelayETU waits n ETUs at the committed etuCurr/fCurr (§4.1):
// DelayCycles(n*etuCurr).
func DelayETU(clk Clock, n uint32, etuCurr uint32, fCurr uint32) {
	DelayCycles(clk, n*etuCurr, fCurr)
}

// ETUDuration converts n ETUs at the committed etuCurr/fCurr into a
// time.Duration, for the ETU-denominated timeout deadlines get_byte/
// put_byte and the T=0/T=1 wait loops compute (§4.2, §4.6, §4.7).
func ETUDuration(n uint32, etuCurr uint32, fCurr uint32) time.Duration {
	if fCurr == 0 {
		return 0
	}
	return time.Duration(n) * time.Duration(etuCurr) * time.Second / time.Duration(fCurr)
}
