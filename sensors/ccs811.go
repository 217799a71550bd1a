package sensors

import (
	"errors"
	"fmt"
	"time"
)

// ams CCS811 eCO2/TVOC air quality sensor. The firmware runs a measurement
// app that must be started out of boot mode; a set ERROR status bit is the
// chip asking for re-initialization, which the engine's error cooldown
// handles by re-probing.
const (
	CCS811Address = 0x5A

	ccsRegStatus    = 0x00
	ccsRegMeasMode  = 0x01
	ccsRegAlgResult = 0x02
	ccsRegEnvData   = 0x05
	ccsRegBaseline  = 0x11
	ccsRegHWID      = 0x20
	ccsRegErrorID   = 0xE0
	ccsRegAppStart  = 0xF4 // mailbox: bare register write, no data
	ccsRegSWReset   = 0xFF

	ccsHWID = 0x81

	ccsStatusError     = 0x01
	ccsStatusDataReady = 0x08
	ccsStatusAppValid  = 0x10
	ccsStatusFWMode    = 0x80

	ccsDriveMode1s = 0x10 // one measurement per second
)

var (
	errCCSHWID     = errors.New("ccs811: hardware ID mismatch")
	errCCSAppValid = errors.New("ccs811: no valid application firmware")
	errCCSRange    = errors.New("ccs811: reading outside sensor range")
)

type CCS811 struct {
	io RegisterIO
}

func NewCCS811(io RegisterIO) *CCS811 {
	return &CCS811{io: io}
}

func (c *CCS811) Name() string { return "CCS811" }

func (c *CCS811) Probe() error {
	id, err := c.io.ReadReg(ccsRegHWID, 1)
	if err != nil {
		return err
	}
	if id[0] != ccsHWID {
		return fmt.Errorf("%w: got %#02x, want %#02x", errCCSHWID, id[0], ccsHWID)
	}
	st, err := c.io.ReadReg(ccsRegStatus, 1)
	if err != nil {
		return err
	}
	if st[0]&ccsStatusAppValid == 0 {
		return errCCSAppValid
	}
	if st[0]&ccsStatusFWMode == 0 {
		if err := c.io.WriteReg(ccsRegAppStart); err != nil {
			return err
		}
	}
	return c.io.WriteReg(ccsRegMeasMode, ccsDriveMode1s)
}

// StartCycle is a no-op: drive mode 1 measures once a second on its own.
func (c *CCS811) StartCycle() error { return nil }

func (c *CCS811) Stages() []Stage {
	return []Stage{{
		Name:         "dataready",
		Ready:        c.dataReady,
		ReadyTimeout: 2 * time.Second,
	}}
}

func (c *CCS811) dataReady() (bool, error) {
	st, err := c.io.ReadReg(ccsRegStatus, 1)
	if err != nil {
		return false, err
	}
	if st[0]&ccsStatusError != 0 {
		eid, err := c.io.ReadReg(ccsRegErrorID, 1)
		if err != nil {
			return false, err
		}
		return false, fmt.Errorf("ccs811: device error flag set, ERROR_ID=%#02x", eid[0])
	}
	return st[0]&ccsStatusDataReady != 0, nil
}

func (c *CCS811) Collect() (map[string]float64, error) {
	raw, err := c.io.ReadReg(ccsRegAlgResult, 4)
	if err != nil {
		return nil, err
	}
	eco2 := float64(readWordBE(raw, 0))
	tvoc := float64(readWordBE(raw, 2))
	if eco2 < 400 || eco2 > 8192 || tvoc > 1187 {
		return nil, fmt.Errorf("%w: eCO2=%.0f TVOC=%.0f", errCCSRange, eco2, tvoc)
	}
	return map[string]float64{
		"co2":  eco2,
		"tvoc": tvoc,
	}, nil
}

func (c *CCS811) Channels() []ChannelSpec {
	presets := map[FilterMode]FilterPreset{
		FilterFast:     {SmoothInterval: 1, PollTime: 2 * time.Second, Eps: 5},
		FilterMedium:   {SmoothInterval: 4, PollTime: 60 * time.Second, Eps: 20},
		FilterLongterm: {SmoothInterval: 16, PollTime: 600 * time.Second, Eps: 50},
	}
	return []ChannelSpec{
		{Name: "co2", Unit: "ppm", Precision: 1, Presets: presets},
		{Name: "tvoc", Unit: "ppb", Precision: 1, Presets: presets},
	}
}

// SetEnvironment feeds ambient humidity/temperature to the compensation
// engine on the chip, typically wired from a BME280 on the same bus.
func (c *CCS811) SetEnvironment(humidity, temperature float64) error {
	if temperature < -25 {
		temperature = -25
	}
	h := uint16(humidity * 512)
	t := uint16((temperature + 25) * 512)
	return c.io.WriteReg(ccsRegEnvData, byte(h>>8), byte(h), byte(t>>8), byte(t))
}
