// Package t0 implements the T=0 character-oriented engine (C6, §4.6):
// case 1-4 APDU encoding, the procedure-byte decoder, ENVELOPE
// fragmentation of extended APDUs and case-4/61xx GET-RESPONSE
// chaining, grounded on
// original_source/smartcard_iso7816.c's SC_send_APDU_T0.
package t0

import (
	"github.com/usbarmory/scr7816/apdu"
	"github.com/usbarmory/scr7816/iso"
)

const (
	insGetResponse = 0xC0
	insEnvelope    = 0xC2
	envelopeChunk  = 255
)

// Port is the byte-level collaborator the T=0 engine consumes.
type Port interface {
	GetByte(timeoutETU uint32) (byte, error)
	PutByte(b byte, timeoutETU uint32) error
}

// Engine drives T=0 exchanges over a Port.
type Engine struct {
	port Port
	wt   uint32
}

// New constructs a T=0 Engine. wt is the work waiting time (§3, §4.6)
// governing every procedure-byte and data-byte wait.
func New(port Port, wt uint32) *Engine {
	return &Engine{port: port, wt: wt}
}

// Transmit sends cmd and returns the card's response, handling
// extended-APDU ENVELOPE fragmentation and case-4/61xx GET-RESPONSE
// chaining transparently (§4.6).
func (e *Engine) Transmit(cmd *apdu.Command) (*apdu.Response, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	// ENVELOPE carries commands whose Lc does not fit the one-byte P3,
	// and case-2 commands that need an extended Le; a case-4 command
	// with a short Lc goes out as case 3 and fetches its response
	// through GET-RESPONSE whatever its Le.
	if cmd.Lc() > 255 || (cmd.Case() == 2 && cmd.Extended()) {
		resp, err := e.sendEnvelope(cmd)
		if err != nil {
			return nil, err
		}
		return e.fanout(cmd, resp)
	}

	switch cmd.Case() {
	case 1:
		return e.sendData(cmd.CLA, cmd.INS, cmd.P1, cmd.P2, 0, nil)
	case 2:
		le := cmd.Le
		if le == 0 {
			le = 256
		}
		return e.recvData(cmd.CLA, cmd.INS, cmd.P1, cmd.P2, le)
	case 3:
		return e.sendData(cmd.CLA, cmd.INS, cmd.P1, cmd.P2, byte(cmd.Lc()), cmd.Data)
	default: // case 4
		resp, err := e.sendData(cmd.CLA, cmd.INS, cmd.P1, cmd.P2, byte(cmd.Lc()), cmd.Data)
		if err != nil {
			return nil, err
		}
		return e.fanout(cmd, resp)
	}
}

// sendData pushes the 5-byte header (P3 = lc) and then runs the
// procedure-byte protocol (§4.6) sending data, returning the SW1/SW2
// the card ultimately replies with.
func (e *Engine) sendData(cla, ins, p1, p2, lc byte, data []byte) (*apdu.Response, error) {
	if err := e.pushHeader(cla, ins, p1, p2, lc); err != nil {
		return nil, err
	}
	return e.procedureSend(ins, data)
}

// recvData pushes the 5-byte header (P3 = le, 0 standing for 256) and
// runs the procedure-byte protocol receiving up to le bytes of data.
func (e *Engine) recvData(cla, ins, p1, p2 byte, le uint32) (*apdu.Response, error) {
	p3 := byte(le)
	if le == 256 {
		p3 = 0
	}
	if err := e.pushHeader(cla, ins, p1, p2, p3); err != nil {
		return nil, err
	}
	return e.procedureRecv(ins, int(le))
}

func (e *Engine) pushHeader(cla, ins, p1, p2, p3 byte) error {
	for _, b := range []byte{cla, ins, p1, p2, p3} {
		if err := e.port.PutByte(b, e.wt); err != nil {
			return iso.Wrap(iso.Timeout, err)
		}
	}
	return nil
}

// procedureSend decodes procedure bytes while the reader still has
// data to push (§4.6).
func (e *Engine) procedureSend(ins byte, data []byte) (*apdu.Response, error) {
	sent := 0
	for {
		pb, err := e.port.GetByte(e.wt)
		if err != nil {
			return nil, iso.Wrap(iso.Timeout, err)
		}

		switch {
		case pb == 0x60:
			continue
		case pb == ins:
			for ; sent < len(data); sent++ {
				if err := e.port.PutByte(data[sent], e.wt); err != nil {
					return nil, iso.Wrap(iso.Timeout, err)
				}
			}
		case pb == ins^0xFF:
			return nil, iso.New(iso.T0OneByteUnsupported, "")
		default:
			sw2, err := e.port.GetByte(e.wt)
			if err != nil {
				return nil, iso.Wrap(iso.Timeout, err)
			}
			return &apdu.Response{SW1: pb, SW2: sw2}, nil
		}
	}
}

// procedureRecv decodes procedure bytes while the reader is still
// expecting data from the card (§4.6).
func (e *Engine) procedureRecv(ins byte, want int) (*apdu.Response, error) {
	resp := &apdu.Response{}
	received := 0

	for {
		pb, err := e.port.GetByte(e.wt)
		if err != nil {
			return nil, iso.Wrap(iso.Timeout, err)
		}

		switch {
		case pb == 0x60:
			continue
		case pb == ins:
			for ; received < want; received++ {
				b, err := e.port.GetByte(e.wt)
				if err != nil {
					return nil, iso.Wrap(iso.Timeout, err)
				}
				resp.Data = append(resp.Data, b)
			}
		case pb == ins^0xFF:
			return nil, iso.New(iso.T0OneByteUnsupported, "")
		default:
			sw2, err := e.port.GetByte(e.wt)
			if err != nil {
				return nil, iso.Wrap(iso.Timeout, err)
			}
			resp.SW1, resp.SW2 = pb, sw2
			resp.Le = uint32(len(resp.Data))
			return resp, nil
		}
	}
}

// sendEnvelope fragments cmd's logical encoding into ceil(n/255)
// ENVELOPE commands (§4.6, §8 invariant 2). All but the last envelope
// must return 9000; the final envelope's response is returned as-is.
func (e *Engine) sendEnvelope(cmd *apdu.Command) (*apdu.Response, error) {
	logical := EncodeLogical(cmd)
	chunks := Fragment(logical, envelopeChunk)

	var resp *apdu.Response
	for i, c := range chunks {
		r, err := e.sendData(cmd.CLA, insEnvelope, 0, 0, byte(len(c)), c)
		if err != nil {
			return nil, err
		}
		if i < len(chunks)-1 {
			if r.SW() != 0x9000 {
				return nil, iso.New(iso.InvalidEncoding, "ENVELOPE chunk %d/%d: SW=%04x", i+1, len(chunks), r.SW())
			}
			continue
		}
		resp = r
	}
	return resp, nil
}

// fanout implements the case-4/61xx GET-RESPONSE fan-out (§4.6): a
// 9000 after the body send synthesises 61 Le, chasing cmd.Le in
// 256-byte GET-RESPONSE chunks since a single SW2 byte cannot encode
// more than that; a 61 xx uses min(xx, le); chained GET-RESPONSE
// replies are concatenated into resp.Data until SW is no longer 61 xx
// or the synthesised length is exhausted.
func (e *Engine) fanout(cmd *apdu.Command, resp *apdu.Response) (*apdu.Response, error) {
	if cmd.SendLe == apdu.NoLe || cmd.Lc() == 0 {
		return resp, nil
	}

	sw1, sw2 := resp.SW1, resp.SW2
	synthRemain := uint32(0)

	switch {
	case sw1 == 0x90 && sw2 == 0x00:
		synthRemain = cmd.Le
	case sw1 == 0x61:
		// fall through with the card's own sw2
	default:
		return resp, nil
	}

	final := &apdu.Response{}

	for sw1 == 0x61 || synthRemain > 0 {
		var avail uint32
		if synthRemain > 0 {
			avail = synthRemain
			if avail > 256 {
				avail = 256
			}
		} else {
			avail = uint32(sw2)
			if avail == 0 {
				avail = 256
			}
		}

		want := avail
		if cmd.Le > 0 && cmd.Le < want {
			want = cmd.Le
		}

		r, err := e.recvData(cmd.CLA, insGetResponse, 0, 0, want)
		if err != nil {
			return nil, err
		}

		final.Data = append(final.Data, r.Data...)
		if len(final.Data) > apdu.MaxBuffLen {
			return nil, iso.New(iso.OverflowBuffer, "accumulated response exceeds %d", apdu.MaxBuffLen)
		}

		sw1, sw2 = r.SW1, r.SW2

		if synthRemain > 0 {
			synthRemain -= avail
			if sw1 == 0x90 && sw2 == 0x00 && synthRemain > 0 {
				continue
			}
			synthRemain = 0
		}
	}

	final.SW1, final.SW2 = sw1, sw2
	final.Le = uint32(len(final.Data))
	return final, nil
}
