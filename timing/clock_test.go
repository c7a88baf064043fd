package timing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/usbarmory/scr7816/iso"
)

func TestNegotiateExactDivisor(t *testing.T) {
	n := Negotiator{Bus: 10000000}
	p, err := n.Negotiate(372, 5000000, 1)
	assert.NoError(t, err)
	assert.Equal(t, uint32(5000000), p.F)
	assert.Equal(t, uint32(372), p.ETU)
	assert.Equal(t, uint32(1), p.Guard)
}

// TestNegotiateWalksDown checks C3 falls back to the nearest lower
// exact divisor when the requested frequency does not evenly divide
// the bus clock.
func TestNegotiateWalksDown(t *testing.T) {
	n := Negotiator{Bus: 10000000}
	p, err := n.Negotiate(372, 3000001, 1)
	assert.NoError(t, err)
	assert.LessOrEqual(t, p.F, uint32(3000001))
	assert.Equal(t, uint32(0), n.Bus%p.F)
}

func TestNegotiateRejectsOverBus(t *testing.T) {
	n := Negotiator{Bus: 1000000}
	_, err := n.Negotiate(372, 5000000, 1)
	assert.True(t, iso.Is(err, iso.ClockUnrepresentable))
}

func TestNegotiateRejectsZeroETU(t *testing.T) {
	n := Negotiator{Bus: 1000000}
	_, err := n.Negotiate(0, 500000, 1)
	assert.True(t, iso.Is(err, iso.ClockUnrepresentable))
}

func TestBaud(t *testing.T) {
	assert.Equal(t, uint32(10000), Baud(iso.BaudProgram{F: 3720000, ETU: 372}))
	assert.Equal(t, uint32(0), Baud(iso.BaudProgram{F: 100, ETU: 0}))
}
