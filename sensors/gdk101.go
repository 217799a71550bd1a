package sensors

import (
	"errors"
	"fmt"
	"time"
)

// FTLab GDK101 solid-state gamma radiation detector. The module counts
// continuously and serves 1-minute and 10-minute dose-rate averages over
// I2C; a cycle is three small reads spread over consecutive ticks.
const (
	GDK101Address = 0x18

	gdkRegReset         = 0xA0
	gdkRegStatus        = 0xB0 // [status, vibration]
	gdkRegMeasuringTime = 0xB1
	gdkRegAvg10Min      = 0xB2 // [integer uSv/h, centi]
	gdkRegAvg1Min       = 0xB3
	gdkRegFirmware      = 0xB4 // [major, minor]
)

var (
	errGDKNotPresent = errors.New("gdk101: no plausible firmware version")
	errGDKVibration  = errors.New("gdk101: vibration detected, reading discarded")
)

type GDK101 struct {
	io RegisterIO

	fwMajor, fwMinor byte
	avg1Min          float64
}

func NewGDK101(io RegisterIO) *GDK101 {
	return &GDK101{io: io}
}

func (g *GDK101) Name() string { return "GDK101" }

func (g *GDK101) Probe() error {
	fw, err := g.io.ReadReg(gdkRegFirmware, 2)
	if err != nil {
		return err
	}
	// The module has no chip-ID register; a missing device floats the bus
	// high, a resetting one reads zero.
	if fw[0] == 0x00 || fw[0] == 0xFF {
		return fmt.Errorf("%w: %d.%d", errGDKNotPresent, fw[0], fw[1])
	}
	g.fwMajor, g.fwMinor = fw[0], fw[1]
	return nil
}

// StartCycle is a no-op: the counter free-runs, the cycle interval paces
// how often the averages are fetched.
func (g *GDK101) StartCycle() error { return nil }

func (g *GDK101) Stages() []Stage {
	return []Stage{
		{Name: "status"},
		{Name: "avg1min", Enter: g.readStatus},
		{Name: "avg10min", Enter: g.readAvg1Min},
	}
}

// readStatus rejects the cycle while the vibration flag is set; dose rates
// spike under mechanical shock.
func (g *GDK101) readStatus() error {
	st, err := g.io.ReadReg(gdkRegStatus, 2)
	if err != nil {
		return err
	}
	if st[1] != 0 {
		return errGDKVibration
	}
	return nil
}

func (g *GDK101) readAvg1Min() error {
	raw, err := g.io.ReadReg(gdkRegAvg1Min, 2)
	if err != nil {
		return err
	}
	g.avg1Min = float64(raw[0]) + float64(raw[1])/100.0
	return nil
}

func (g *GDK101) Collect() (map[string]float64, error) {
	raw, err := g.io.ReadReg(gdkRegAvg10Min, 2)
	if err != nil {
		return nil, err
	}
	return map[string]float64{
		"gamma_10minavg": float64(raw[0]) + float64(raw[1])/100.0,
		"gamma_1minavg":  g.avg1Min,
	}, nil
}

func (g *GDK101) Channels() []ChannelSpec {
	presets := map[FilterMode]FilterPreset{
		FilterFast:     {SmoothInterval: 1, PollTime: 10 * time.Second, Eps: 0.001},
		FilterMedium:   {SmoothInterval: 2, PollTime: 60 * time.Second, Eps: 0.005},
		FilterLongterm: {SmoothInterval: 4, PollTime: 600 * time.Second, Eps: 0.01},
	}
	return []ChannelSpec{
		{Name: "gamma_10minavg", Unit: "uSv/h", Precision: 3, Presets: presets},
		{Name: "gamma_1minavg", Unit: "uSv/h", Precision: 3, Presets: presets},
	}
}

func (g *GDK101) CalibrationDump() string {
	return fmt.Sprintf("firmware=%d.%d", g.fwMajor, g.fwMinor)
}
