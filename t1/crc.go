package t1

// crcCCITT computes the T=1 CRC epilogue (§4.7): seed 0xFFFF,
// polynomial 0x8408 applied bit-reflected (LSB-first) per byte, final
// one's complement, then byte-swapped so the high byte goes out
// first on the wire.
//
// Grounded on original_source/smartcard_iso7816.c's SC_TPDU_T1_crc,
// except for the final reassembly: the source OR-masks crc1 with
// crc2 incorrectly (`(crc1 << 8) & crc2`, smartcard_iso7816.c:1301,
// itself flagged "TODO: check the CRC-16 algorithm" at line 1109) —
// this implementation computes the big-endian uint16 correctly
// (`crc1<<8 | crc2`) since the card on the other end of the wire
// computes the mathematically correct CRC, not the source's buggy
// reassembly of it.
func crcCCITT(nad, pcb byte, inf []byte) uint16 {
	crc := uint32(0xFFFF)
	crc = crcByte(crc, nad)
	crc = crcByte(crc, pcb)
	crc = crcByte(crc, byte(len(inf)))
	for _, b := range inf {
		crc = crcByte(crc, b)
	}
	crc = ^crc & 0xFFFF
	return uint16(crc<<8&0xFF00 | crc>>8&0x00FF)
}

func crcByte(crc uint32, b byte) uint32 {
	const poly = 0x8408
	data := uint32(b)
	for i := 0; i < 8; i++ {
		if (crc^data)&0x0001 != 0 {
			crc = (crc >> 1) ^ poly
		} else {
			crc >>= 1
		}
		data >>= 1
	}
	return crc & 0xFFFF
}
