package scr7816

import "github.com/usbarmory/scr7816/iso"

// Driver, GPIO and Clock re-export the external hardware collaborator
// interfaces (§6) a caller must implement to drive a Card.
type Driver = iso.Driver
type GPIO = iso.GPIO
type Clock = iso.Clock

// BaudProgram is the committed clock/guard-time program a Driver.Configure
// call receives (C3, §4.3).
type BaudProgram = iso.BaudProgram

// PendingState is the asynchronous send/receive completion state a
// Driver reports through State (§4.2).
type PendingState = iso.PendingState

const (
	StateIdle        = iso.StateIdle
	StateSending     = iso.StateSending
	StateSent        = iso.StateSent
	StateRetryParity = iso.StateRetryParity
	StateRetryFrame  = iso.StateRetryFrame
)
