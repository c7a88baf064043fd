package t1

import (
	"github.com/usbarmory/scr7816/apdu"
	"github.com/usbarmory/scr7816/bits"
	"github.com/usbarmory/scr7816/iso"
	"github.com/usbarmory/scr7816/t0"
)

// maxConsecutiveRErrors bounds the retry loop before the line is
// declared broken (§4.7).
const maxConsecutiveRErrors = 3

// Engine drives T=1 exchanges over a Port, holding the sliding
// sequence counters and timing/EDC/IFSC parameters across calls
// (§3, §4.7).
type Engine struct {
	port Port
	clk  iso.Clock
	nad  byte
	edc  EDCKind
	ifsc int

	bwt uint32
	bgt uint32

	// etuCurr/fCurr are the committed clock/ETU negotiator (C3) outputs,
	// used to translate the BGT ETU count into a real delay.
	etuCurr uint32
	fCurr   uint32

	sendSeq uint8
	recvSeq uint8
}

// New constructs a T=1 Engine. ifsc is the card's information-field
// size (atr.ATR.IFSC), bwt/bgt are the block wait/guard times in ETU
// (§3), and etuCurr/fCurr are C3's committed clock program, needed to
// turn the BGT ETU count into a real delay between send and receive.
func New(port Port, clk iso.Clock, edc EDCKind, ifsc int, bwt, bgt, etuCurr, fCurr uint32) *Engine {
	return &Engine{port: port, clk: clk, edc: edc, ifsc: ifsc, bwt: bwt, bgt: bgt, etuCurr: etuCurr, fCurr: fCurr}
}

// delayBGT honours the block guard time between a receive and the
// following send, or vice versa (§4.7 step 3).
func (e *Engine) delayBGT() {
	iso.DelayETU(e.clk, e.bgt, e.etuCurr, e.fCurr)
}

// Transmit sends cmd's logically encoded bytes as a chain of
// I-blocks and returns the reassembled response (§4.7).
func (e *Engine) Transmit(cmd *apdu.Command) (*apdu.Response, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	logical := t0.EncodeLogical(cmd)
	blocks := t0.Fragment(logical, e.ifsc)
	if len(logical) == 0 {
		blocks = [][]byte{{}}
	}

	var last *TPDU
	for i, inf := range blocks {
		chain := i != len(blocks)-1
		tpdu := newIBlock(e.nad, e.sendSeq, chain, inf, e.edc)

		rcv, err := e.sendAndAwait(tpdu, chain)
		if err != nil {
			return nil, err
		}

		if chain {
			// positive R-ACK confirms this chunk; advance our sender
			// sequence for the next one.
			bits.Toggle1(&e.sendSeq)
			continue
		}

		// final block: the card's first response I-block.
		bits.Toggle1(&e.recvSeq)
		last = rcv
	}

	return e.receiveAll(last)
}

// sendAndAwait pushes tpdu and resolves the reply per the step-2
// rules of §4.7: only an "R-block with error" retry resends the exact
// same I-block; a bad-EDC reply or an S(WAITING_REQ) both loop back to
// a fresh receive instead, per §4.7 step 2's "loop to step 2" wording.
func (e *Engine) sendAndAwait(tpdu *TPDU, chain bool) (*TPDU, error) {
	errRetries := 0
	bwt := e.bwt

	e.delayBGT()
	if err := send(e.port, tpdu, e.bwt); err != nil {
		return nil, err
	}

	for {
		rcv, rerr := recv(e.port, bwt, e.edc)
		if rerr != nil {
			if iso.Is(rerr, iso.BadChecksum) {
				e.delayBGT()
				e.sendRBlock(pcbErrEDC, rcv.seq())
				continue
			}
			return nil, rerr
		}

		if rcv.isRBlock() && rcv.rError() != pcbErrNone {
			if rcv.rSeq() != tpdu.iSeq() {
				return nil, iso.New(iso.UnexpectedSBlock, "R-block error with unexpected sequence")
			}
			errRetries++
			if errRetries >= maxConsecutiveRErrors {
				return nil, iso.New(iso.LineBroken, "%d consecutive R-errors", errRetries)
			}
			e.delayBGT()
			if err := send(e.port, tpdu, e.bwt); err != nil {
				return nil, err
			}
			continue
		}

		if rcv.isSBlock() {
			switch rcv.sType() {
			case sblockWaitingReq:
				factor := byte(1)
				if len(rcv.INF) > 0 {
					factor = rcv.INF[0]
				}
				bwt = e.bwt * uint32(factor)
				e.delayBGT()
				resp := newSBlock(e.nad, sblockWaitingResp, rcv.INF, e.edc)
				if err := send(e.port, resp, e.bwt); err != nil {
					return nil, err
				}
				continue
			case sblockResyncReq, sblockWaitingResp:
				return nil, iso.New(iso.UnexpectedSBlock, "S-block type %#02x", rcv.sType())
			}
		}

		if chain {
			if !rcv.isRBlock() || rcv.rSeq() != (tpdu.iSeq()^1) {
				return nil, iso.New(iso.UnexpectedSBlock, "expected positive R-ACK")
			}
			return rcv, nil
		}

		if !rcv.isIBlock() || rcv.iSeq() != e.recvSeq {
			return nil, iso.New(iso.UnexpectedSBlock, "expected I-block with sequence %d", e.recvSeq)
		}
		return rcv, nil
	}
}

// sendRBlock transmits an R-block carrying errCode at the given
// sequence, best-effort (a transport failure here surfaces on the
// next recv anyway).
func (e *Engine) sendRBlock(errCode, seq byte) {
	_ = send(e.port, newRBlock(e.nad, seq, errCode, e.edc), e.bwt)
}

// receiveAll drains the rest of a chained response (§4.7's receive
// loop), starting from the first I-block the send loop already
// collected.
func (e *Engine) receiveAll(first *TPDU) (*apdu.Response, error) {
	if first == nil {
		return nil, iso.New(iso.UnexpectedSBlock, "no response I-block received")
	}

	var data []byte
	cur := first

	for {
		data = append(data, cur.INF...)
		if len(data) > apdu.MaxBuffLen+2 {
			return nil, iso.New(iso.OverflowBuffer, "accumulated response exceeds %d", apdu.MaxBuffLen)
		}

		if !cur.chained() {
			break
		}

		e.delayBGT()
		e.sendRBlock(pcbErrNone, cur.iSeq()^1)

		errRetries := 0
		rbwt := e.bwt
		for {
			next, err := recv(e.port, rbwt, e.edc)
			if err != nil {
				if iso.Is(err, iso.BadChecksum) {
					e.delayBGT()
					e.sendRBlock(pcbErrEDC, next.seq())
					continue
				}
				return nil, err
			}

			if next.isSBlock() && next.sType() == sblockWaitingReq {
				factor := byte(1)
				if len(next.INF) > 0 {
					factor = next.INF[0]
				}
				rbwt = e.bwt * uint32(factor)
				e.delayBGT()
				resp := newSBlock(e.nad, sblockWaitingResp, next.INF, e.edc)
				if err := send(e.port, resp, e.bwt); err != nil {
					return nil, err
				}
				continue
			}
			if next.isSBlock() && (next.sType() == sblockResyncReq || next.sType() == sblockWaitingResp) {
				return nil, iso.New(iso.UnexpectedSBlock, "S-block type %#02x", next.sType())
			}
			if next.isRBlock() && next.rError() != pcbErrNone {
				errRetries++
				if errRetries >= maxConsecutiveRErrors {
					return nil, iso.New(iso.LineBroken, "%d consecutive R-errors", errRetries)
				}
				e.delayBGT()
				e.sendRBlock(pcbErrNone, cur.iSeq()^1)
				continue
			}
			if !next.isIBlock() {
				return nil, iso.New(iso.UnexpectedSBlock, "expected chained I-block")
			}

			bits.Toggle1(&e.recvSeq)
			cur = next
			break
		}
	}

	if len(data) < 2 {
		return nil, iso.New(iso.InvalidEncoding, "T=1 response shorter than SW1/SW2")
	}

	resp := &apdu.Response{
		Data: data[:len(data)-2],
		SW1:  data[len(data)-2],
		SW2:  data[len(data)-1],
	}
	resp.Le = uint32(len(resp.Data))
	return resp, nil
}
