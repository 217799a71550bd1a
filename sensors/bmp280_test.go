package sensors

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Calibration set from the Bosch BMP280 datasheet worked example
// (section 3.12): adc_T=519888 yields t_fine=128422 and 25.08 degC,
// adc_P=415148 yields roughly 1006.53 hPa.
var bmx280TestCalib = bmx280Calib{
	t1: 27504, t2: 26435, t3: -1000,
	p1: 36477, p2: -10685, p3: 3024, p4: 2855, p5: 140,
	p6: -7, p7: 15500, p8: -14600, p9: 6000,
}

func bmx280CalibBytes(c bmx280Calib) []byte {
	words := []uint16{
		c.t1, uint16(c.t2), uint16(c.t3),
		c.p1, uint16(c.p2), uint16(c.p3), uint16(c.p4), uint16(c.p5),
		uint16(c.p6), uint16(c.p7), uint16(c.p8), uint16(c.p9),
	}
	out := make([]byte, 0, 24)
	for _, w := range words {
		out = append(out, byte(w), byte(w>>8)) // little-endian
	}
	return out
}

func TestBMX280CompensateDatasheetExample(t *testing.T) {
	tempC, tFine := bmx280CompensateTemp(bmx280TestCalib, 519888)
	assert.Equal(t, int32(128422), tFine)
	assert.InDelta(t, 25.08, tempC, 1e-9)

	press := bmx280CompensatePress(bmx280TestCalib, 415148, tFine)
	assert.InDelta(t, 1006.53, press, 0.2)
}

func TestBMX280CompensateIsDeterministic(t *testing.T) {
	t1, f1 := bmx280CompensateTemp(bmx280TestCalib, 519888)
	t2, f2 := bmx280CompensateTemp(bmx280TestCalib, 519888)
	assert.Equal(t, t1, t2)
	assert.Equal(t, f1, f2)
	assert.Equal(t,
		bmx280CompensatePress(bmx280TestCalib, 415148, f1),
		bmx280CompensatePress(bmx280TestCalib, 415148, f2))
}

func TestBMX280CompensatePressZeroGuard(t *testing.T) {
	// p1=0 would divide by zero in the pipeline; a chip answering all
	// zeroes must yield 0 hPa, not a panic.
	assert.Equal(t, 0.0, bmx280CompensatePress(bmx280Calib{}, 415148, 128422))
}

func TestBMX280CalibParseIsLittleEndian(t *testing.T) {
	cal := parseBMX280Calib(bmx280CalibBytes(bmx280TestCalib))
	assert.Equal(t, bmx280TestCalib, cal)
}

func TestBMP280ProbeAcceptsChipID58(t *testing.T) {
	io := newFakeRegs()
	io.regs[bmx280RegChipID] = []byte{bmp280ChipID}
	io.regs[bmx280RegCalib] = bmx280CalibBytes(bmx280TestCalib)

	b := NewBMP280(io)
	require.NoError(t, b.Probe())
	assert.Equal(t, bmx280TestCalib, b.cal)
}

// A BME280 (ID 0x60) configured as a BMP280 must be refused outright: the
// calibration layouts differ, and after the failed probe the driver must
// generate no further bus traffic.
func TestBMP280ProbeRejectsChipID60(t *testing.T) {
	io := newFakeRegs()
	io.regs[bmx280RegChipID] = []byte{bme280ChipID}
	io.regs[bmx280RegCalib] = bmx280CalibBytes(bmx280TestCalib)

	clk := clock.NewMock()
	e := NewEngine(NewBMP280(io), clk, time.Second)
	require.False(t, e.Begin())
	assert.False(t, e.Active())

	reads := io.reads
	for i := 0; i < 20; i++ {
		clk.Add(time.Second)
		e.Tick()
	}
	assert.Equal(t, reads, io.reads)
	assert.Empty(t, io.writes)
}

func TestBMP280FullCycle(t *testing.T) {
	io := newFakeRegs()
	io.regs[bmx280RegChipID] = []byte{bmp280ChipID}
	io.regs[bmx280RegCalib] = bmx280CalibBytes(bmx280TestCalib)
	io.regs[bmx280RegStatus] = []byte{bmx280StatusMeasuring}
	io.regs[bmx280RegPressMSB] = []byte{0x65, 0x5A, 0xC0, 0x7E, 0xED, 0x00}

	b := NewBMP280(io)
	clk := clock.NewMock()
	e := NewEngine(b, clk, time.Second)
	require.True(t, e.Begin())

	// Forced-mode trigger: osrs x4 on both channels plus mode bits.
	e.Tick()
	assert.Equal(t, []byte{bmx280RegCtrlMeas, 0x6D}, io.lastWrite())

	// Conversion time elapsed but the measuring bit is still set: the
	// fixed delay alone must not pass.
	clk.Add(bmx280ConvTime(OversampleStandard))
	_, ok := e.Tick()
	assert.False(t, ok)

	// Status clears: the poll tick passes the gate, the next tick reads
	// the data registers.
	io.regs[bmx280RegStatus] = []byte{0x00}
	_, ok = e.Tick()
	assert.False(t, ok)
	vals, ok := e.Tick()
	require.True(t, ok)
	assert.InDelta(t, 25.08, vals["temperature"], 1e-9)
	assert.InDelta(t, 1006.53, vals["pressure"], 0.2)
}

func TestBME280ProbeParsesHumidityCalibration(t *testing.T) {
	io := newFakeRegs()
	io.regs[bmx280RegChipID] = []byte{bme280ChipID}
	io.regs[bmx280RegCalib] = bmx280CalibBytes(bmx280TestCalib)
	io.regs[bme280RegCalibH1] = []byte{75}
	// H2=361 (0x0169 LE), H3=0, H4/H5 nibble-packed around the shared
	// byte 0xE5, H6=30.
	io.regs[bme280RegCalibH2] = []byte{0x69, 0x01, 0x00, 0x14, 0x2A, 0x03, 30}

	b := NewBME280(io)
	require.NoError(t, b.Probe())
	assert.Equal(t, uint8(75), b.calH.h1)
	assert.Equal(t, int16(361), b.calH.h2)
	assert.Equal(t, uint8(0), b.calH.h3)
	assert.Equal(t, int16(0x14A), b.calH.h4) // 0x14<<4 | low nibble of 0x2A
	assert.Equal(t, int16(0x32), b.calH.h5)  // 0x03<<4 | high nibble of 0x2A
	assert.Equal(t, int8(30), b.calH.h6)
	assert.Contains(t, b.CalibrationDump(), "H2=361")
}

func TestBME280CompensateHumClamps(t *testing.T) {
	cal := bme280CalibH{h1: 75, h2: 361, h3: 0, h4: 330, h5: 50, h6: 30}

	hum := bme280CompensateHum(cal, 32768, 128422)
	assert.GreaterOrEqual(t, hum, 0.0)
	assert.LessOrEqual(t, hum, 100.0)

	// Identical raw inputs produce identical output.
	assert.Equal(t, hum, bme280CompensateHum(cal, 32768, 128422))
}

func TestBME280StartCycleArmsHumidityFirst(t *testing.T) {
	io := newFakeRegs()
	b := NewBME280(io)
	// ctrl_hum write must precede ctrl_meas, which latches it; the
	// trigger write is a separate stage entry.
	require.NoError(t, b.StartCycle())
	require.Len(t, io.writes, 1)
	assert.Equal(t, []byte{bme280RegCtrlHum, 0x03}, io.writes[0])

	st := b.Stages()
	require.Len(t, st, 2)
	require.NotNil(t, st[1].Enter)
	require.NoError(t, st[1].Enter())
	assert.Equal(t, []byte{bmx280RegCtrlMeas, 0x6D}, io.writes[1])
}

// Every tick of a running cycle performs at most one bus transaction.
func TestBME280OneTransactionPerTick(t *testing.T) {
	io := newFakeRegs()
	io.regs[bmx280RegChipID] = []byte{bme280ChipID}
	io.regs[bmx280RegCalib] = bmx280CalibBytes(bmx280TestCalib)
	io.regs[bme280RegCalibH1] = []byte{75}
	io.regs[bme280RegCalibH2] = []byte{0x69, 0x01, 0x00, 0x14, 0x2A, 0x03, 30}
	io.regs[bmx280RegStatus] = []byte{0x00}
	io.regs[bmx280RegPressMSB] = []byte{0x65, 0x5A, 0xC0, 0x7E, 0xED, 0x00, 0x80, 0x00}

	clk := clock.NewMock()
	e := NewEngine(NewBME280(io), clk, time.Second)
	require.True(t, e.Begin())

	collected := false
	for i := 0; i < 40 && !collected; i++ {
		before := io.reads + len(io.writes)
		_, collected = e.Tick()
		after := io.reads + len(io.writes)
		assert.LessOrEqual(t, after-before, 1, "tick %d", i)
		clk.Add(25 * time.Millisecond)
	}
	require.True(t, collected)
}

func TestBMX280OversamplingEncoding(t *testing.T) {
	assert.Equal(t, byte(0x01), bmx280osrs(OversampleUltraLowPower))
	assert.Equal(t, byte(0x02), bmx280osrs(OversampleLowPower))
	assert.Equal(t, byte(0x03), bmx280osrs(OversampleStandard))
	assert.Equal(t, byte(0x04), bmx280osrs(OversampleHighResolution))
	assert.Equal(t, byte(0x05), bmx280osrs(OversampleUltraHighResolution))
}
