package sensors

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hmcFakeRegs() *fakeRegs {
	io := newFakeRegs()
	io.regs[hmcRegIdentA] = []byte{'H', '4', '3'}
	io.regs[hmcRegStatus] = []byte{hmcStatusRDY}
	return io
}

func TestHMC5883LProbeConfigures(t *testing.T) {
	io := hmcFakeRegs()
	h := NewHMC5883L(io)
	require.NoError(t, h.Probe())
	require.Len(t, io.writes, 2)
	assert.Equal(t, []byte{hmcRegConfigA, hmcConfigASetup}, io.writes[0])
	assert.Equal(t, []byte{hmcRegConfigB, hmcConfigBGain}, io.writes[1])
}

func TestHMC5883LProbeRejectsWrongIdent(t *testing.T) {
	io := newFakeRegs()
	io.regs[hmcRegIdentA] = []byte{0x00, 0x00, 0x00}
	h := NewHMC5883L(io)
	assert.ErrorIs(t, h.Probe(), errHMCIdent)
	assert.Empty(t, io.writes, "no configuration writes after a failed probe")
}

// The register file orders the axes X, Z, Y; Collect must unscramble that.
func TestHMC5883LCollectAxisOrder(t *testing.T) {
	io := hmcFakeRegs()
	// X=100, Z=-200, Y=300, big-endian.
	io.regs[hmcRegDataX] = []byte{0x00, 0x64, 0xFF, 0x38, 0x01, 0x2C}

	h := NewHMC5883L(io)
	vals, err := h.Collect()
	require.NoError(t, err)
	assert.InDelta(t, 100*hmcScaleUT, vals["magnetic_field_x"], 1e-9)
	assert.InDelta(t, 300*hmcScaleUT, vals["magnetic_field_y"], 1e-9)
	assert.InDelta(t, -200*hmcScaleUT, vals["magnetic_field_z"], 1e-9)
	assert.Greater(t, vals["magnetic_field"], vals["magnetic_field_y"])
}

// An axis reading of -4096 is the chip's overflow sentinel. The cycle must
// fail with no values published, counting as one engine error.
func TestHMC5883LOverflowSentinel(t *testing.T) {
	io := hmcFakeRegs()
	// Y axis overflowed: -4096 = 0xF000.
	io.regs[hmcRegDataX] = []byte{0x00, 0x64, 0xFF, 0x38, 0xF0, 0x00}

	h := NewHMC5883L(io)
	clk := clock.NewMock()
	e := NewEngine(h, clk, time.Second)
	require.True(t, e.Begin())

	e.Tick()
	assert.Equal(t, []byte{hmcRegMode, hmcModeSingle}, io.lastWrite())
	clk.Add(6 * time.Millisecond)
	e.Tick() // status poll passes
	vals, ok := e.Tick()
	assert.False(t, ok)
	assert.Nil(t, vals)
	assert.Equal(t, 1, e.ErrorCount())
	assert.ErrorIs(t, e.LastError(), errHMCOverflow)

	// Next cycle with a clean reading recovers.
	io.regs[hmcRegDataX] = []byte{0x00, 0x64, 0xFF, 0x38, 0x01, 0x2C}
	clk.Add(time.Second)
	e.Tick() // back to IDLE
	e.Tick() // trigger
	clk.Add(6 * time.Millisecond)
	e.Tick() // status poll passes
	_, ok = e.Tick()
	assert.True(t, ok)
	assert.Equal(t, 0, e.ErrorCount())
}

func qmcFakeRegs() *fakeRegs {
	io := newFakeRegs()
	io.regs[qmcRegChipID] = []byte{qmcChipID}
	io.regs[qmcRegStatus] = []byte{qmcStatusDRDY}
	return io
}

func TestQMC5883LProbeConfiguresContinuousMode(t *testing.T) {
	io := qmcFakeRegs()
	q := NewQMC5883L(io)
	require.NoError(t, q.Probe())
	require.Len(t, io.writes, 2)
	assert.Equal(t, []byte{qmcRegSetReset, qmcSetResetValue}, io.writes[0])
	assert.Equal(t, []byte{qmcRegControl1, qmcControlSetup}, io.writes[1])
}

func TestQMC5883LCollectLittleEndian(t *testing.T) {
	io := qmcFakeRegs()
	// X=100, Y=300, Z=-200: natural axis order, little-endian.
	io.regs[qmcRegDataX] = []byte{0x64, 0x00, 0x2C, 0x01, 0x38, 0xFF}

	q := NewQMC5883L(io)
	vals, err := q.Collect()
	require.NoError(t, err)
	assert.InDelta(t, 100*qmcScaleUT, vals["magnetic_field_x"], 1e-9)
	assert.InDelta(t, 300*qmcScaleUT, vals["magnetic_field_y"], 1e-9)
	assert.InDelta(t, -200*qmcScaleUT, vals["magnetic_field_z"], 1e-9)
}

func TestQMC5883LOverflowStatusFailsCycle(t *testing.T) {
	io := qmcFakeRegs()
	io.regs[qmcRegStatus] = []byte{qmcStatusDRDY | qmcStatusOVL}
	io.regs[qmcRegDataX] = []byte{0x64, 0x00, 0x2C, 0x01, 0x38, 0xFF}

	q := NewQMC5883L(io)
	clk := clock.NewMock()
	e := NewEngine(q, clk, time.Second)
	require.True(t, e.Begin())

	e.Tick()
	vals, ok := e.Tick()
	assert.False(t, ok)
	assert.Nil(t, vals)
	assert.ErrorIs(t, e.LastError(), errQMCOverflow)
}

func TestMagChannelsShared(t *testing.T) {
	h := NewHMC5883L(newFakeRegs())
	q := NewQMC5883L(newFakeRegs())
	assert.Equal(t, h.Channels(), q.Channels())
	require.Len(t, h.Channels(), 4)
	assert.Equal(t, "uT", h.Channels()[0].Unit)
}
