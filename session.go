package scr7816

import (
	"time"

	"github.com/usbarmory/scr7816/apdu"
	"github.com/usbarmory/scr7816/atr"
	"github.com/usbarmory/scr7816/channel"
	"github.com/usbarmory/scr7816/iso"
	"github.com/usbarmory/scr7816/pps"
	"github.com/usbarmory/scr7816/t0"
	"github.com/usbarmory/scr7816/t1"
	"github.com/usbarmory/scr7816/timing"
)

// State is one of the session FSM's states (C8, §4.8).
type State int

const (
	StatusIdle State = iota
	StatusPowerCard
	StatusProtocolNeg
	StatusIdleCmd
	StatusWaitResp
	StatusWaitCmdComp
)

// defaultETU and defaultF are the ATR reader's pre-negotiation
// defaults (§4.4, §4.8).
const (
	defaultETU = 372
	defaultF   = 5250000
)

// insertionGiveUpAttempts is the §4.8 safety bound on consecutive
// cold-reset attempts that never reach IdleCmd.
const insertionGiveUpAttempts = 2000

// idlePollInterval is how often the Idle state polls CardPresent while
// waiting for insertion, since GPIO has no blocking wait primitive.
const idlePollInterval = time.Millisecond

// Card is one smart-card session: the external hardware collaborators,
// the byte channel built over them, and the negotiated protocol state
// (§4.8).
type Card struct {
	gpio iso.GPIO
	drv  iso.Driver
	clk  iso.Clock
	bus  uint32

	port *channel.Port

	state State

	atr      *atr.ATR
	protocol byte
	t0       *t0.Engine
	t1       *t1.Engine

	etuCurr, fCurr uint32

	insertionAttempts int
	removalHandler    func()
}

// NewCard constructs a session over the given hardware collaborators.
// bus is the USART reference clock in Hz, and rxCapacity sizes the
// byte channel's receive ring (§4.2).
func NewCard(gpio iso.GPIO, drv iso.Driver, clk iso.Clock, bus uint32, rxCapacity int) *Card {
	return &Card{
		gpio: gpio,
		drv:  drv,
		clk:  clk,
		bus:  bus,
		port: channel.New(drv, clk, rxCapacity),
	}
}

// State reports the session FSM's current state.
func (c *Card) State() State { return c.state }

// EarlyInit performs the one-shot hardware bring-up (§6): RST and VCC
// both deasserted, byte channel idle. It must run once before the
// first Init call.
func EarlyInit(c *Card) {
	c.gpio.SetRST(false)
	c.gpio.SetVCC(false)
	c.port.SetConvention(iso.Direct)
	c.port.SetTiming(defaultETU, defaultF, 0)
}

// Init drives the session from Idle through PowerCard and ProtocolNeg
// to IdleCmd (§4.8). doNegotiate and doChangeBaud gate the PPS
// exchange as in C5; forceProtocol, when >= 0, overrides the
// negotiated protocol; forceETU, when nonzero, overrides the
// negotiated ETU. Repeated cold-reset/negotiation failures retry from
// Idle up to insertionGiveUpAttempts times before returning
// InsertionGivesUp.
func Init(c *Card, doNegotiate, doChangeBaud bool, forceProtocol int, forceETU uint32) error {
	for c.insertionAttempts < insertionGiveUpAttempts {
		c.state = StatusIdle
		c.gpio.SetRST(false)
		c.gpio.SetVCC(false)

		for !c.gpio.CardPresent() {
			c.clk.Sleep(idlePollInterval)
		}

		c.state = StatusPowerCard
		c.insertionAttempts++

		if err := c.coldReset(); err != nil {
			continue
		}

		c.state = StatusProtocolNeg

		if err := c.negotiate(doNegotiate, doChangeBaud, forceProtocol, forceETU); err != nil {
			continue
		}

		c.state = StatusIdleCmd
		c.insertionAttempts = 0
		return nil
	}

	return iso.New(iso.InsertionGivesUp, "%d cold-reset attempts never reached IdleCmd", insertionGiveUpAttempts)
}

// coldReset performs the PowerCard state's actions: VCC/RST sequencing
// and the ATR read, at the pre-negotiation defaults (§4.8).
func (c *Card) coldReset() error {
	c.gpio.SetVCC(false)
	c.gpio.SetRST(false)

	program := iso.BaudProgram{F: defaultF, ETU: defaultETU}
	if err := c.drv.Configure(iso.Direct, program); err != nil {
		return iso.Wrap(iso.Timeout, err)
	}

	c.port.SetConvention(iso.Direct)
	c.port.SetTiming(defaultETU, defaultF, 0)
	c.etuCurr, c.fCurr = defaultETU, defaultF

	c.gpio.SetVCC(true)
	iso.DelayCycles(c.clk, iso.ColdResetCycles, defaultF)
	c.gpio.SetRST(true)

	a, err := atr.Read(c.port)
	if err != nil {
		return err
	}

	c.atr = a
	c.protocol = a.Protocol()

	return nil
}

// negotiate performs the ProtocolNeg state's actions: the PPS exchange
// and engine construction (§4.5, §4.6, §4.7).
func (c *Card) negotiate(doNegotiate, doChangeBaud bool, forceProtocol int, forceETU uint32) error {
	neg := timing.Negotiator{Bus: c.bus}

	result, err := pps.Negotiate(c.port, c.atr, neg, doNegotiate, doChangeBaud, c.atr.TAByte(1), c.atr.HasTA(1))
	if err != nil {
		return err
	}

	c.protocol = result.Protocol
	if forceProtocol >= 0 {
		c.protocol = byte(forceProtocol)
	}

	if doChangeBaud && !result.Declined {
		program := result.Program
		if forceETU != 0 {
			program.ETU = forceETU
		}
		c.etuCurr, c.fCurr = program.ETU, program.F
		if err := c.drv.Configure(c.port.Convention(), program); err != nil {
			return iso.Wrap(iso.Timeout, err)
		}
		c.port.SetTiming(c.etuCurr, c.fCurr, program.Guard)
	}

	tc := iso.DefaultTimingContext()
	bwt := tc.BWT
	if bwi, _, ok := c.atr.WaitingTimes(); ok {
		bwt = iso.ComputeBWT(bwi)
	}

	switch c.protocol {
	case 0:
		c.t0 = t0.New(c.port, tc.WT)
	case 1:
		edc := t1.EDCLRC
		if c.atr.EDCType() {
			edc = t1.EDCCRC
		}
		c.t1 = t1.New(c.port, c.clk, edc, int(c.atr.IFSC()), bwt, tc.BGT, c.etuCurr, c.fCurr)
	default:
		return iso.New(iso.UnsupportedProtocol, "negotiated protocol T=%d", c.protocol)
	}

	return nil
}

// SendAPDU dispatches cmd to the negotiated protocol engine and copies
// the result into resp (§4.6, §4.7, §4.8). A CardLost or LineBroken
// failure drives the session back to Idle; all other errors leave
// IdleCmd untouched.
func SendAPDU(c *Card, cmd *apdu.Command, resp *apdu.Response) error {
	if c.state != StatusIdleCmd {
		return iso.New(iso.CardLost, "session is not in IdleCmd")
	}

	if err := cmd.Validate(); err != nil {
		return err
	}

	var (
		r   *apdu.Response
		err error
	)

	if c.protocol == 0 {
		r, err = c.t0.Transmit(cmd)
	} else {
		r, err = c.t1.Transmit(cmd)
	}

	if err != nil {
		if iso.Is(err, iso.CardLost) || iso.Is(err, iso.LineBroken) {
			c.state = StatusIdle
		}
		return err
	}

	*resp = *r
	return nil
}

// IsInserted reports the debounced card-present level (§6).
func IsInserted(c *Card) bool {
	return c.gpio.CardPresent()
}

// Lost drives the session back to Idle and invokes the registered
// removal handler, if any (§4.8, §6).
func Lost(c *Card) {
	c.state = StatusIdle
	if c.removalHandler != nil {
		c.removalHandler()
	}
}

// RegisterRemovalHandler installs fn to be called on the next Lost
// (§6).
func RegisterRemovalHandler(c *Card, fn func()) {
	c.removalHandler = fn
}
