package iso

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

// TestMirrorInvolution checks §8 invariant 5: Mirror(Mirror(b)) == b
// for every byte value.
func TestMirrorInvolution(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := rapid.Byte().Draw(t, "b")
		assert.Equal(t, b, Mirror(Mirror(b)))
	})
}

func TestConventionApply(t *testing.T) {
	assert.Equal(t, byte(0x3B), Direct.Apply(0x3B))
	assert.Equal(t, Mirror(0x03), Inverse.Apply(0x03))
}

func TestProtocolErrorIs(t *testing.T) {
	a := New(Timeout, "first")
	b := New(Timeout, "second")
	c := New(BadChecksum, "")

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
}

func TestProtocolErrorUnwrap(t *testing.T) {
	inner := errors.New("underlying")
	wrapped := Wrap(Timeout, inner)
	assert.ErrorIs(t, wrapped, inner)
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(Timeout, nil))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "timeout", Timeout.String())
	assert.Equal(t, "unknown", Kind(999).String())
}

func TestComputeBWTCWT(t *testing.T) {
	assert.Equal(t, uint32(960*16), ComputeBWT(4))
	assert.Equal(t, uint32(1<<13), ComputeCWT(13))
}

func TestIsHelper(t *testing.T) {
	err := New(LineBroken, "three errors")
	assert.True(t, Is(err, LineBroken))
	assert.False(t, Is(err, Timeout))
	assert.False(t, Is(errors.New("plain"), LineBroken))
}
