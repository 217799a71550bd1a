package sensors

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gdkFakeRegs() *fakeRegs {
	io := newFakeRegs()
	io.regs[gdkRegFirmware] = []byte{1, 4}
	io.regs[gdkRegStatus] = []byte{1, 0}
	io.regs[gdkRegAvg1Min] = []byte{0, 12}  // 0.12 uSv/h
	io.regs[gdkRegAvg10Min] = []byte{0, 9}  // 0.09 uSv/h
	return io
}

func TestGDK101ProbeFirmwarePlausibility(t *testing.T) {
	io := gdkFakeRegs()
	g := NewGDK101(io)
	require.NoError(t, g.Probe())
	assert.Equal(t, "firmware=1.4", g.CalibrationDump())

	io.regs[gdkRegFirmware] = []byte{0x00, 0x00} // resetting
	assert.ErrorIs(t, NewGDK101(io).Probe(), errGDKNotPresent)

	io.regs[gdkRegFirmware] = []byte{0xFF, 0xFF} // bus floating
	assert.ErrorIs(t, NewGDK101(io).Probe(), errGDKNotPresent)
}

// One cycle is three single reads on three consecutive ticks: status,
// 1-minute average, 10-minute average.
func TestGDK101CycleSpreadsReads(t *testing.T) {
	io := gdkFakeRegs()
	g := NewGDK101(io)
	clk := clock.NewMock()
	e := NewEngine(g, clk, time.Minute)
	require.True(t, e.Begin())
	probeReads := io.reads

	e.Tick() // IDLE, no-op StartCycle
	assert.Equal(t, probeReads, io.reads)
	e.Tick() // status read
	assert.Equal(t, probeReads+1, io.reads)
	e.Tick() // 1-minute average read
	assert.Equal(t, probeReads+2, io.reads)
	vals, ok := e.Tick() // 10-minute average read
	require.True(t, ok)
	assert.Equal(t, probeReads+3, io.reads)

	assert.InDelta(t, 0.12, vals["gamma_1minavg"], 1e-9)
	assert.InDelta(t, 0.09, vals["gamma_10minavg"], 1e-9)
}

func TestGDK101VibrationRejectsCycle(t *testing.T) {
	io := gdkFakeRegs()
	io.regs[gdkRegStatus] = []byte{1, 1}

	g := NewGDK101(io)
	clk := clock.NewMock()
	e := NewEngine(g, clk, time.Minute)
	require.True(t, e.Begin())

	e.Tick()
	e.Tick() // status read fails the cycle
	assert.Equal(t, 1, e.ErrorCount())
	assert.ErrorIs(t, e.LastError(), errGDKVibration)
	assert.Equal(t, StateWaitNextCycle, e.State())
}

func ccsFakeRegs() *fakeRegs {
	io := newFakeRegs()
	io.regs[ccsRegHWID] = []byte{ccsHWID}
	io.regs[ccsRegStatus] = []byte{ccsStatusAppValid | ccsStatusFWMode | ccsStatusDataReady}
	io.regs[ccsRegAlgResult] = []byte{0x01, 0xF4, 0x00, 0x19} // 500 ppm, 25 ppb
	return io
}

func TestCCS811ProbeStartsAppFromBootMode(t *testing.T) {
	io := ccsFakeRegs()
	io.regs[ccsRegStatus] = []byte{ccsStatusAppValid} // boot mode

	c := NewCCS811(io)
	require.NoError(t, c.Probe())
	require.Len(t, io.writes, 2)
	// APP_START is a bare mailbox write with no data byte.
	assert.Equal(t, []byte{ccsRegAppStart}, io.writes[0])
	assert.Equal(t, []byte{ccsRegMeasMode, ccsDriveMode1s}, io.writes[1])
}

func TestCCS811ProbeSkipsAppStartInFWMode(t *testing.T) {
	io := ccsFakeRegs()
	c := NewCCS811(io)
	require.NoError(t, c.Probe())
	require.Len(t, io.writes, 1)
	assert.Equal(t, []byte{ccsRegMeasMode, ccsDriveMode1s}, io.writes[0])
}

func TestCCS811ProbeRejectsInvalidApp(t *testing.T) {
	io := ccsFakeRegs()
	io.regs[ccsRegStatus] = []byte{0x00}
	assert.ErrorIs(t, NewCCS811(io).Probe(), errCCSAppValid)
}

func TestCCS811Collect(t *testing.T) {
	c := NewCCS811(ccsFakeRegs())
	vals, err := c.Collect()
	require.NoError(t, err)
	assert.Equal(t, 500.0, vals["co2"])
	assert.Equal(t, 25.0, vals["tvoc"])
}

func TestCCS811CollectRejectsOutOfRange(t *testing.T) {
	io := ccsFakeRegs()
	io.regs[ccsRegAlgResult] = []byte{0x00, 0x00, 0x00, 0x19} // eCO2 below 400
	_, err := NewCCS811(io).Collect()
	assert.ErrorIs(t, err, errCCSRange)

	io.regs[ccsRegAlgResult] = []byte{0x01, 0xF4, 0x30, 0x00} // TVOC 12288
	_, err = NewCCS811(io).Collect()
	assert.ErrorIs(t, err, errCCSRange)
}

// A set ERROR status bit fails cycles until the engine's cooldown re-probe
// reinitializes the chip.
func TestCCS811ErrorFlagTriggersCooldownRecovery(t *testing.T) {
	io := ccsFakeRegs()
	c := NewCCS811(io)
	clk := clock.NewMock()
	e := NewEngine(c, clk, 100*time.Millisecond)
	require.True(t, e.Begin())

	io.regs[ccsRegStatus] = []byte{ccsStatusAppValid | ccsStatusFWMode | ccsStatusError}
	io.regs[ccsRegErrorID] = []byte{0x02}
	for e.State() != StateErrorWait {
		e.Tick()
		clk.Add(100 * time.Millisecond)
	}
	assert.Greater(t, e.ErrorCount(), e.ErrorLimit)

	// Cooldown elapses, the chip reads healthy again, probe reconfigures.
	io.regs[ccsRegStatus] = []byte{ccsStatusAppValid | ccsStatusFWMode | ccsStatusDataReady}
	clk.Add(e.ErrorCooldown)
	e.Tick()
	assert.Equal(t, StateIdle, e.State())

	e.Tick() // start cycle
	e.Tick() // data-ready poll
	vals, ok := e.Tick()
	require.True(t, ok)
	assert.Equal(t, 500.0, vals["co2"])
}

func TestCCS811SetEnvironment(t *testing.T) {
	io := ccsFakeRegs()
	c := NewCCS811(io)
	require.NoError(t, c.SetEnvironment(50.0, 25.0))
	// 50 %RH -> 0x6400, 25 degC -> (25+25)*512 = 0x6400.
	assert.Equal(t, []byte{ccsRegEnvData, 0x64, 0x00, 0x64, 0x00}, io.lastWrite())
}
