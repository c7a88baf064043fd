package iso

// TimingContext holds the per-session wait times used throughout the
// protocol core, all expressed in ETUs (§3). Defaults apply before the
// ATR sets CWT/BWT from TB3/TC2 and before PTS may change the guard
// time.
type TimingContext struct {
	// CGT is the character guard time: the minimum delay between the
	// leading edges of two consecutive characters sent in the same
	// direction.
	CGT uint32
	// WT is the work waiting time used by the T=0 procedure-byte
	// decoder and the ATR reader's per-byte timeout.
	WT uint32
	// BGT is the block guard time enforced between any direction
	// change in T=1.
	BGT uint32
	// CWT is the T=1 character waiting time.
	CWT uint32
	// BWT is the T=1 block waiting time, subject to the S-block
	// waiting-time-extension multiplier.
	BWT uint32
}

// DefaultTimingContext returns the §3 defaults in force before the ATR
// is read.
func DefaultTimingContext() TimingContext {
	return TimingContext{
		CGT: 0,
		WT:  9600,
		BGT: 22,
		CWT: 1 << 13,
		BWT: 1 << 4,
	}
}

// ATRETUTimeout is the fixed 110 ETU timeout the ATR reader applies
// while waiting for TS (§4.4).
const ATRETUTimeout = 110

// ColdResetCycles is the number of card-clock cycles the session FSM
// holds RST low after asserting VCC, before raising it (§4.8).
const ColdResetCycles = 400000

// ComputeBWT derives BWT from BWI once TB3 has been read (§3):
// BWT = 960 * 2^BWI.
func ComputeBWT(bwi uint8) uint32 {
	return 960 * (uint32(1) << bwi)
}

// ComputeCWT derives CWT from CWI once TB3 has been read (§3):
// CWT = 2^CWI.
func ComputeCWT(cwi uint8) uint32 {
	return uint32(1) << cwi
}
