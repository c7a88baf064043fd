package channel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/usbarmory/scr7816/iso"
)

type fakeClock struct{}

func (fakeClock) Sleep(time.Duration) {}

// fakeDriver models the external USART collaborator: StartSend
// completes immediately and reports StateSent on the next State()
// call.
type fakeDriver struct {
	sent  []byte
	state iso.PendingState
}

func (d *fakeDriver) Configure(iso.Convention, iso.BaudProgram) error { return nil }
func (d *fakeDriver) StartSend(b byte) {
	d.sent = append(d.sent, b)
	d.state = iso.StateSent
}
func (d *fakeDriver) StartRecv()            {}
func (d *fakeDriver) State() iso.PendingState { return d.state }

func TestPutByteAppliesConventionAndCGT(t *testing.T) {
	drv := &fakeDriver{}
	p := New(drv, fakeClock{}, 8)
	p.SetConvention(iso.Inverse)
	p.SetTiming(372, 5000000, 0)

	err := p.PutByte(0x3B, 0)
	assert.NoError(t, err)
	assert.Equal(t, []byte{iso.Mirror(0x3B)}, drv.sent)
}

func TestGetByteAppliesConvention(t *testing.T) {
	drv := &fakeDriver{}
	p := New(drv, fakeClock{}, 8)
	p.SetConvention(iso.Inverse)
	p.SetTiming(372, 5000000, 0)

	p.Deliver(iso.Mirror(0x3B))

	b, err := p.GetByte(0)
	assert.NoError(t, err)
	assert.Equal(t, byte(0x3B), b)
}

func TestGetByteTimesOut(t *testing.T) {
	drv := &fakeDriver{}
	p := New(drv, fakeClock{}, 8)
	p.SetTiming(1, 1000000, 0)

	_, err := p.GetByte(1)
	assert.True(t, iso.Is(err, iso.Timeout))
}

// TestDeliverDropsOnOverflow checks the §4.2 overflow-drops-newest
// policy holds for the single-producer ring.
func TestDeliverDropsOnOverflow(t *testing.T) {
	drv := &fakeDriver{}
	p := New(drv, fakeClock{}, 1)

	for i := 0; i < 1000; i++ {
		p.Deliver(byte(i))
	}

	b, err := p.GetByte(0)
	assert.NoError(t, err)
	assert.Equal(t, byte(0), b) // the oldest byte survives the overflow
}
