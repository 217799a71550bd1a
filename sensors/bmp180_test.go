package sensors

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Calibration set from the Bosch BMP180 datasheet worked example
// (section 3.5): UT=27898, UP=23843, oss=0 must yield exactly 15.0 degC
// and 69964 Pa.
var bmp180TestCalib = bmp180Calib{
	ac1: 408, ac2: -72, ac3: -14383,
	ac4: 32741, ac5: 32757, ac6: 23153,
	b1: 6190, b2: 4, mb: -32768, mc: -8711, md: 2868,
}

func bmp180CalibBytes(c bmp180Calib) []byte {
	words := []uint16{
		uint16(c.ac1), uint16(c.ac2), uint16(c.ac3),
		c.ac4, c.ac5, c.ac6,
		uint16(c.b1), uint16(c.b2), uint16(c.mb), uint16(c.mc), uint16(c.md),
	}
	out := make([]byte, 0, 22)
	for _, w := range words {
		out = append(out, byte(w>>8), byte(w))
	}
	return out
}

func TestBMP180CompensateDatasheetExample(t *testing.T) {
	tempC, pressPa := bmp180Compensate(bmp180TestCalib, 27898, 23843, 0)
	assert.InDelta(t, 15.0, tempC, 1e-9)
	assert.Equal(t, int32(69964), pressPa)
}

func TestBMP180CompensateIsDeterministic(t *testing.T) {
	t1, p1 := bmp180Compensate(bmp180TestCalib, 27898, 23843, 0)
	t2, p2 := bmp180Compensate(bmp180TestCalib, 27898, 23843, 0)
	assert.Equal(t, t1, t2)
	assert.Equal(t, p1, p2)
}

func TestBMP180ProbeChecksChipID(t *testing.T) {
	io := newFakeRegs()
	io.regs[bmp180RegChipID] = []byte{0x58} // a BMP280 answering on 0x77
	io.regs[bmp180RegCalib] = bmp180CalibBytes(bmp180TestCalib)

	b := NewBMP180(io)
	err := b.Probe()
	require.Error(t, err)
	assert.ErrorIs(t, err, errBMP180ChipID)
}

func TestBMP180ProbeRejectsBlankCalibration(t *testing.T) {
	io := newFakeRegs()
	io.regs[bmp180RegChipID] = []byte{bmp180ChipID}
	io.regs[bmp180RegCalib] = make([]byte, 22) // all zero: bus floating low

	b := NewBMP180(io)
	assert.ErrorIs(t, b.Probe(), errBMP180Calib)
}

func TestBMP180ProbeParsesCalibration(t *testing.T) {
	io := newFakeRegs()
	io.regs[bmp180RegChipID] = []byte{bmp180ChipID}
	io.regs[bmp180RegCalib] = bmp180CalibBytes(bmp180TestCalib)

	b := NewBMP180(io)
	require.NoError(t, b.Probe())
	assert.Equal(t, bmp180TestCalib, b.cal)
	assert.Contains(t, b.CalibrationDump(), "AC1=408")
	assert.Contains(t, b.CalibrationDump(), "MD=2868")
}

// TestBMP180FullCycle walks one complete four-stage measurement through the
// engine, swapping the shared data register between the temperature and
// pressure readouts the way the chip does.
func TestBMP180FullCycle(t *testing.T) {
	io := newFakeRegs()
	io.regs[bmp180RegChipID] = []byte{bmp180ChipID}
	io.regs[bmp180RegCalib] = bmp180CalibBytes(bmp180TestCalib)

	b := NewBMP180(io)
	require.NoError(t, b.SetOversampling(OversampleUltraLowPower))

	clk := clock.NewMock()
	e := NewEngine(b, clk, time.Second)
	require.True(t, e.Begin())

	// IDLE: trigger the temperature conversion.
	e.Tick()
	assert.Equal(t, []byte{bmp180RegControl, bmp180CmdReadTemp}, io.lastWrite())

	// Temperature wait elapsed: next tick reads UT.
	io.regs[bmp180RegData] = []byte{0x6C, 0xFA} // 27898
	clk.Add(5 * time.Millisecond)
	e.Tick()
	assert.Equal(t, int32(27898), b.rawUT)

	// Advance into the pressure trigger stage.
	e.Tick()
	assert.Equal(t, []byte{bmp180RegControl, bmp180CmdReadPress}, io.lastWrite())

	// Advance into the pressure wait stage, let it elapse, then Collect
	// compensates both channels.
	io.regs[bmp180RegData] = []byte{0x5D, 0x23, 0x00} // 23843 after oss shift
	e.Tick()
	clk.Add(5 * time.Millisecond)
	vals, ok := e.Tick()
	require.True(t, ok)
	assert.InDelta(t, 15.0, vals["temperature"], 1e-9)
	assert.InDelta(t, 699.64, vals["pressure"], 1e-9)
	assert.InDelta(t, 699.64, vals["pressureNN"], 1e-9) // refAlt 0
}

func TestBMP180OversamplingMapping(t *testing.T) {
	b := NewBMP180(newFakeRegs())
	cases := []struct {
		mode Oversampling
		oss  uint
		wait time.Duration
	}{
		{OversampleUltraLowPower, 0, 4500 * time.Microsecond},
		{OversampleLowPower, 0, 4500 * time.Microsecond},
		{OversampleStandard, 1, 7500 * time.Microsecond},
		{OversampleHighResolution, 2, 13500 * time.Microsecond},
		{OversampleUltraHighResolution, 3, 25500 * time.Microsecond},
	}
	for _, c := range cases {
		require.NoError(t, b.SetOversampling(c.mode))
		assert.Equal(t, c.oss, b.oss(), c.mode.String())
		assert.Equal(t, c.wait, b.pressureWait(), c.mode.String())
	}
}
