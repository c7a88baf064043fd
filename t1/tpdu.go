// Package t1 implements the T=1 block-oriented engine (C7, §4.7):
// TPDU framing, LRC/CRC epilogues, the sliding-sequence send/receive
// loops with chaining, and the R/S-block automaton, grounded on
// original_source/smartcard_iso7816.c's SC_TPDU_T1_* family and
// smartcard_iso7816.h's PCB/SBLOCK bit layout.
package t1

import (
	"github.com/usbarmory/scr7816/bits"
	"github.com/usbarmory/scr7816/iso"
)

// PCB bit layout (smartcard_iso7816.h).
const (
	pcbMPos  = 5
	pcbChain = 1 << pcbMPos

	pcbRBlock = 2 << 6
	pcbSBlock = 3 << 6

	pcbISeqPos = 6
	pcbRSeqPos = 4

	pcbErrMask  = 3
	pcbErrNone  = 0
	pcbErrEDC   = 1
	pcbErrOther = 2
)

// S-block type codes (low 6 bits of PCB, smartcard_iso7816.h).
const (
	sblockResyncReq     = 0x00
	sblockResyncResp    = 0x20
	sblockChangeIFSReq  = 0x01
	sblockChangeIFSResp = 0x21
	sblockAbortReq      = 0x02
	sblockAbortResp     = 0x22
	sblockWaitingReq    = 0x03
	sblockWaitingResp   = 0x23
	sblockVppErrResp    = 0x24

	sblockTypeMask = 0x3F
)

// EDCKind selects the TPDU epilogue algorithm (§4.7).
type EDCKind int

const (
	EDCLRC EDCKind = iota
	EDCCRC
)

// MaxINF is the largest LEN a TPDU may carry (§4.7).
const MaxINF = 254

// TPDU is one T=1 transmission protocol data unit.
type TPDU struct {
	NAD byte
	PCB byte
	INF []byte
	EDC EDCKind
}

func (t *TPDU) isIBlock() bool { return bits.Get8(&t.PCB, 7, 1) == 0 }
func (t *TPDU) isRBlock() bool { return bits.Get8(&t.PCB, 6, 3) == 2 }
func (t *TPDU) isSBlock() bool { return bits.Get8(&t.PCB, 6, 3) == 3 }

func (t *TPDU) chained() bool { return t.isIBlock() && bits.Get8(&t.PCB, pcbMPos, 1) == 1 }

// iSeq/rSeq extract the sequence bit of an I-block/R-block PCB.
func (t *TPDU) iSeq() byte { return bits.Get8(&t.PCB, pcbISeqPos, 1) }
func (t *TPDU) rSeq() byte { return bits.Get8(&t.PCB, pcbRSeqPos, 1) }

// rError extracts an R-block's error code (0 = ACK, 1 = EDC error, 2
// = other error).
func (t *TPDU) rError() byte { return bits.Get8(&t.PCB, 0, pcbErrMask) }

func (t *TPDU) sType() byte { return bits.Get8(&t.PCB, 0, sblockTypeMask) }

// seq returns the block's sequence number regardless of its kind
// (I-block or R-block), for the bad-EDC error-block reply which must
// echo "the sequence of the received frame" without yet trusting
// which kind of block it parses as (smartcard_iso7816.c's
// SC_TPDU_T1_get_sequence).
func (t *TPDU) seq() byte {
	switch {
	case t.isIBlock():
		return t.iSeq()
	case t.isRBlock():
		return t.rSeq()
	default:
		return 0xFF
	}
}

func newIBlock(nad byte, seq byte, chain bool, inf []byte, edc EDCKind) *TPDU {
	var pcb byte
	bits.SetN8(&pcb, pcbISeqPos, 1, seq)
	if chain {
		bits.Set8(&pcb, pcbMPos)
	}
	return &TPDU{NAD: nad, PCB: pcb, INF: inf, EDC: edc}
}

func newRBlock(nad byte, seq byte, errCode byte, edc EDCKind) *TPDU {
	pcb := byte(pcbRBlock)
	bits.SetN8(&pcb, pcbRSeqPos, 1, seq)
	bits.SetN8(&pcb, 0, pcbErrMask, errCode&pcbErrMask)
	return &TPDU{NAD: nad, PCB: pcb, EDC: edc}
}

func newSBlock(nad byte, sType byte, inf []byte, edc EDCKind) *TPDU {
	pcb := byte(pcbSBlock)
	bits.SetN8(&pcb, 0, sblockTypeMask, sType&sblockTypeMask)
	return &TPDU{NAD: nad, PCB: pcb, INF: inf, EDC: edc}
}

// lrc computes the XOR checksum of NAD|PCB|LEN|INF.
func lrc(nad, pcb byte, inf []byte) byte {
	v := nad ^ pcb ^ byte(len(inf))
	for _, b := range inf {
		v ^= b
	}
	return v
}

// epilogue returns the 1-byte (LRC) or 2-byte (CRC) epilogue to push
// on the wire.
func (t *TPDU) epilogue() []byte {
	if t.EDC == EDCLRC {
		return []byte{lrc(t.NAD, t.PCB, t.INF)}
	}
	v := crcCCITT(t.NAD, t.PCB, t.INF)
	return []byte{byte(v >> 8), byte(v)}
}

// verify checks a received epilogue against the recomputed checksum.
func (t *TPDU) verify(epilogue []byte) bool {
	want := t.epilogue()
	if len(want) != len(epilogue) {
		return false
	}
	for i := range want {
		if want[i] != epilogue[i] {
			return false
		}
	}
	return true
}

// Port is the byte-level collaborator the T=1 framer consumes.
type Port interface {
	GetByte(timeoutETU uint32) (byte, error)
	PutByte(b byte, timeoutETU uint32) error
}

// send writes t's full wire encoding (prologue + INF + epilogue).
func send(p Port, t *TPDU, wt uint32) error {
	hdr := []byte{t.NAD, t.PCB, byte(len(t.INF))}
	for _, b := range hdr {
		if err := p.PutByte(b, wt); err != nil {
			return iso.Wrap(iso.Timeout, err)
		}
	}
	for _, b := range t.INF {
		if err := p.PutByte(b, wt); err != nil {
			return iso.Wrap(iso.Timeout, err)
		}
	}
	for _, b := range t.epilogue() {
		if err := p.PutByte(b, wt); err != nil {
			return iso.Wrap(iso.Timeout, err)
		}
	}
	return nil
}

// recv reads one TPDU within bwt ETUs, verifying its epilogue against
// edc.
func recv(p Port, bwt uint32, edc EDCKind) (*TPDU, error) {
	nad, err := p.GetByte(bwt)
	if err != nil {
		return nil, iso.Wrap(iso.Timeout, err)
	}
	pcb, err := p.GetByte(bwt)
	if err != nil {
		return nil, iso.Wrap(iso.Timeout, err)
	}
	length, err := p.GetByte(bwt)
	if err != nil {
		return nil, iso.Wrap(iso.Timeout, err)
	}

	inf := make([]byte, length)
	for i := range inf {
		b, err := p.GetByte(bwt)
		if err != nil {
			return nil, iso.Wrap(iso.Timeout, err)
		}
		inf[i] = b
	}

	epLen := 1
	if edc == EDCCRC {
		epLen = 2
	}
	epilogue := make([]byte, epLen)
	for i := range epilogue {
		b, err := p.GetByte(bwt)
		if err != nil {
			return nil, iso.Wrap(iso.Timeout, err)
		}
		epilogue[i] = b
	}

	t := &TPDU{NAD: nad, PCB: pcb, INF: inf, EDC: edc}
	if !t.verify(epilogue) {
		return t, iso.New(iso.BadChecksum, "T=1 epilogue mismatch")
	}
	return t, nil
}
