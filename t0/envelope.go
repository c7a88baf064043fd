package t0

import "github.com/usbarmory/scr7816/apdu"

// EncodeLogical produces the logical command-APDU byte sequence used
// as the payload for ENVELOPE fragmentation (§4.6, §8 invariant 2):
// CLA INS P1 P2, an Lc field (absent if Lc==0, one byte if Lc<=255,
// else 00 LcHi LcLo), the data, and an Le field sized per cmd.SendLe
// (absent; one byte for a short Le; otherwise two bytes when an Lc
// field is present, or three bytes led by 00 when it is not), grounded
// on
// original_source/smartcard_iso7816.c's SC_APDU_prepare_buffer.
func EncodeLogical(cmd *apdu.Command) []byte {
	out := []byte{cmd.CLA, cmd.INS, cmd.P1, cmd.P2}

	lc := cmd.Lc()
	switch {
	case lc == 0:
		// no Lc field
	case lc <= 255:
		out = append(out, byte(lc))
	default:
		out = append(out, 0x00, byte(lc>>8), byte(lc))
	}
	out = append(out, cmd.Data...)

	if cmd.SendLe == apdu.NoLe {
		return out
	}

	le := cmd.Le
	switch {
	case cmd.SendLe == apdu.ShortLe && le <= 256:
		out = append(out, byte(le))
	case lc > 0:
		out = append(out, byte(le>>8), byte(le))
	default:
		out = append(out, 0x00, byte(le>>8), byte(le))
	}

	return out
}

// Fragment splits logical into chunks of at most size bytes, always
// producing at least one (possibly empty) chunk (§4.6).
func Fragment(logical []byte, size int) [][]byte {
	if len(logical) == 0 {
		return [][]byte{{}}
	}

	var chunks [][]byte
	for off := 0; off < len(logical); off += size {
		end := off + size
		if end > len(logical) {
			end = len(logical)
		}
		chunks = append(chunks, logical[off:end])
	}
	return chunks
}
