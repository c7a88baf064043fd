package bits

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet8Set8Clear8(t *testing.T) {
	var v uint8
	Set8(&v, 2)
	assert.Equal(t, uint8(0x04), v)
	assert.Equal(t, uint8(1), Get8(&v, 2, 0x1))

	Clear8(&v, 2)
	assert.Equal(t, uint8(0), v)
}

func TestSetN8(t *testing.T) {
	var v uint8
	SetN8(&v, 4, 0xF, 0xA)
	assert.Equal(t, uint8(0xA0), v)
	assert.Equal(t, uint8(0xA), Get8(&v, 4, 0xF))
}

// TestToggle1 checks the T=1 sequence-toggle invariant (§8 invariant
// 3): an even number of toggles returns to the original value, and
// every toggle flips exactly the low bit.
func TestToggle1(t *testing.T) {
	var seq uint8

	got := Toggle1(&seq)
	assert.Equal(t, uint8(1), got)
	assert.Equal(t, uint8(1), seq)

	got = Toggle1(&seq)
	assert.Equal(t, uint8(0), got)
	assert.Equal(t, uint8(0), seq)
}
