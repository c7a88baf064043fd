package t1

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/usbarmory/scr7816/apdu"
)

type fakeClock struct{}

func (fakeClock) Sleep(time.Duration) {}

// fakePort is an in-memory loopback Port driven by a scripted card
// responder, for exercising the T=1 engine without real hardware.
type fakePort struct {
	toCard   []byte
	fromCard []byte
	respond  func(p *fakePort)
}

func (p *fakePort) PutByte(b byte, timeoutETU uint32) error {
	p.toCard = append(p.toCard, b)
	if p.respond != nil {
		p.respond(p)
	}
	return nil
}

func (p *fakePort) GetByte(timeoutETU uint32) (byte, error) {
	if len(p.fromCard) == 0 {
		return 0, errNoByte{}
	}
	b := p.fromCard[0]
	p.fromCard = p.fromCard[1:]
	return b, nil
}

type errNoByte struct{}

func (errNoByte) Error() string { return "fakePort: no byte queued" }

// encodeFrame builds the raw wire bytes of tpdu, for queuing scripted
// card replies.
func encodeFrame(tpdu *TPDU) []byte {
	out := []byte{tpdu.NAD, tpdu.PCB, byte(len(tpdu.INF))}
	out = append(out, tpdu.INF...)
	out = append(out, tpdu.epilogue()...)
	return out
}

// TestSingleIBlockRoundTrip exercises S6: a one-block command gets a
// one-block I-block reply with the engine's expected recv sequence.
func TestSingleIBlockRoundTrip(t *testing.T) {
	cmd := &apdu.Command{CLA: 0x00, INS: 0xA4, Data: []byte{0x01, 0x02}, Le: 2, SendLe: apdu.ShortLe}

	p := &fakePort{}
	p.respond = func(p *fakePort) {
		// wait for the full I-block frame: 3 header + INF + 1 LRC byte.
		expected := 3 + (4 + 1 + len(cmd.Data) + 1) + 1
		if len(p.toCard) != expected {
			return
		}
		reply := newIBlock(0x00, 0, false, []byte{0x90, 0x00}, EDCLRC)
		p.fromCard = encodeFrame(reply)
	}

	e := New(p, fakeClock{}, EDCLRC, 32, 9600, 22, 1, 1)
	resp, err := e.Transmit(cmd)
	assert.NoError(t, err)
	assert.Equal(t, uint16(0x9000), resp.SW())
	assert.Equal(t, uint8(1), e.recvSeq)
}

// TestWaitingTimeExtension exercises S7: the card asks for a BWT
// extension before replying, and the engine must answer
// WAITING_RESP and keep waiting rather than timing out or erroring.
func TestWaitingTimeExtension(t *testing.T) {
	cmd := &apdu.Command{CLA: 0x00, INS: 0xA4, Data: []byte{0x01}, SendLe: apdu.NoLe}

	p := &fakePort{}
	phase := 0
	p.respond = func(p *fakePort) {
		expected := 3 + (4 + 1 + len(cmd.Data)) + 1
		switch phase {
		case 0:
			if len(p.toCard) == expected {
				wait := newSBlock(0x00, sblockWaitingReq, []byte{0x02}, EDCLRC)
				p.fromCard = encodeFrame(wait)
				phase = 1
			}
		case 1:
			// the engine's WAITING_RESP echo arrives as a 4-byte
			// S-block frame (3 header + 1 INF byte) plus 1 LRC byte.
			if len(p.toCard) == expected+5 {
				reply := newIBlock(0x00, 0, false, []byte{0x90, 0x00}, EDCLRC)
				p.fromCard = encodeFrame(reply)
				phase = 2
			}
		}
	}

	e := New(p, fakeClock{}, EDCLRC, 32, 9600, 22, 1, 1)
	resp, err := e.Transmit(cmd)
	assert.NoError(t, err)
	assert.Equal(t, uint16(0x9000), resp.SW())

	// the original I-block must be sent exactly once: the WAITING_REQ
	// round answers with WAITING_RESP and loops to a fresh receive,
	// never resending the I-block itself (§4.7 step 2).
	expected := 3 + (4 + 1 + len(cmd.Data)) + 1
	assert.Len(t, p.toCard, expected+5)
}

// TestEDCErrorDoesNotResendIBlock exercises the bad-EDC branch of
// sendAndAwait: the engine answers with an R(EDC error) block and
// loops to a fresh receive, rather than retransmitting the I-block it
// already sent (§4.7 step 2, only the "R-block with error" branch
// resends).
func TestEDCErrorDoesNotResendIBlock(t *testing.T) {
	cmd := &apdu.Command{CLA: 0x00, INS: 0xA4, SendLe: apdu.NoLe}

	iBlockLen := 3 + 4 + 1 // NAD PCB LEN + CLA INS P1 P2 + LRC
	rBlockLen := 3 + 1     // NAD PCB LEN + LRC, no INF

	phase := 0
	p := &fakePort{}
	p.respond = func(p *fakePort) {
		switch phase {
		case 0:
			if len(p.toCard) == iBlockLen {
				// corrupt the LRC so the engine sees a bad checksum.
				bad := encodeFrame(newIBlock(0x00, 0, false, []byte{0x90, 0x00}, EDCLRC))
				bad[len(bad)-1] ^= 0xFF
				p.fromCard = bad
				phase = 1
			}
		case 1:
			if len(p.toCard) == iBlockLen+rBlockLen {
				reply := newIBlock(0x00, 0, false, []byte{0x90, 0x00}, EDCLRC)
				p.fromCard = encodeFrame(reply)
				phase = 2
			}
		}
	}

	e := New(p, fakeClock{}, EDCLRC, 32, 9600, 22, 1, 1)
	resp, err := e.Transmit(cmd)
	assert.NoError(t, err)
	assert.Equal(t, uint16(0x9000), resp.SW())

	// total bytes sent must be exactly one I-block plus one R(EDC
	// error) block: no duplicate I-block injected onto the wire.
	assert.Len(t, p.toCard, iBlockLen+rBlockLen)
}

// TestChainedIBlocks exercises an oversized command split across two
// I-blocks (IFSC forces chaining), requiring a positive R-ACK before
// the final block.
func TestChainedIBlocks(t *testing.T) {
	data := make([]byte, 10)
	for i := range data {
		data[i] = byte(i)
	}
	cmd := &apdu.Command{CLA: 0x00, INS: 0xD6, Data: data, SendLe: apdu.NoLe}

	const ifsc = 8 // forces the 15-byte logical encoding to split in two

	logical := []byte{cmd.CLA, cmd.INS, cmd.P1, cmd.P2, byte(len(cmd.Data))}
	logical = append(logical, cmd.Data...)
	firstINF := logical[:ifsc]
	secondINF := logical[ifsc:]
	firstLen := 3 + len(firstINF) + 1
	secondLen := 3 + len(secondINF) + 1

	p := &fakePort{}
	phase := 0
	p.respond = func(p *fakePort) {
		switch phase {
		case 0:
			if len(p.toCard) == firstLen {
				ack := newRBlock(0x00, 1, pcbErrNone, EDCLRC)
				p.fromCard = encodeFrame(ack)
				phase = 1
			}
		case 1:
			if len(p.toCard) == firstLen+secondLen {
				reply := newIBlock(0x00, 0, false, []byte{0x90, 0x00}, EDCLRC)
				p.fromCard = encodeFrame(reply)
				phase = 2
			}
		}
	}

	e := New(p, fakeClock{}, EDCLRC, ifsc, 9600, 22, 1, 1)
	resp, err := e.Transmit(cmd)
	assert.NoError(t, err)
	assert.Equal(t, uint16(0x9000), resp.SW())
	assert.Equal(t, uint8(1), e.sendSeq) // one chained block toggles send_seq once
}

// TestLineBrokenAfterThreeRErrors exercises the LineBroken bound: the
// card keeps sending an EDC-error R-block for the same sequence.
func TestLineBrokenAfterThreeRErrors(t *testing.T) {
	cmd := &apdu.Command{CLA: 0x00, INS: 0xA4, SendLe: apdu.NoLe}

	p := &fakePort{}
	p.respond = func(p *fakePort) {
		expected := 3 + 4 + 1
		if len(p.toCard) == expected {
			errBlock := newRBlock(0x00, 0, pcbErrEDC, EDCLRC)
			p.fromCard = append(p.fromCard, encodeFrame(errBlock)...)
			p.toCard = nil
		}
	}

	e := New(p, fakeClock{}, EDCLRC, 32, 9600, 22, 1, 1)
	_, err := e.Transmit(cmd)
	assert.Error(t, err)
}
