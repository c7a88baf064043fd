// Package scr7816 implements a reader-side ISO/IEC 7816-3 smart-card
// protocol stack: ATR parsing, PPS negotiation, and the T=0 and T=1
// transmission protocols, driven by a session FSM (C8, §4.8) over an
// external USART/GPIO/clock hardware contract (§6).
//
// The protocol core is organized as import-leaf-first packages: iso
// (shared types), timing (ETU/clock negotiation), channel (the guarded
// byte link), atr and pps (session bring-up), t0 and t1 (the two wire
// protocols). This package wires them into the Card session a caller
// drives through EarlyInit, Init, SendAPDU, IsInserted, Lost and
// RegisterRemovalHandler.
package scr7816
