package sensors

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Honeywell HMC5883L 3-axis magnetometer, driven in single-measurement
// mode: one mode-register write per cycle, then poll the RDY status bit.
const (
	HMC5883LAddress = 0x1E

	hmcRegConfigA = 0x00
	hmcRegConfigB = 0x01
	hmcRegMode    = 0x02
	hmcRegDataX   = 0x03 // X, Z, Y order, big-endian
	hmcRegStatus  = 0x09
	hmcRegIdentA  = 0x0A // 'H', '4', '3'

	hmcConfigASetup = 0x70 // 8-sample average, 15 Hz
	hmcConfigBGain  = 0x20 // +-1.3 Ga range, 0.92 mGa/LSB
	hmcModeSingle   = 0x01
	hmcStatusRDY    = 0x01

	// hmcOverflow is the reserved raw value the chip reports on sensor
	// saturation or an ADC overflow. Never a valid reading.
	hmcOverflow = -4096

	// 0.92 mGa/LSB at the default gain, 1 mGa = 0.1 uT.
	hmcScaleUT = 0.092
)

var (
	errHMCIdent    = errors.New("hmc5883l: identification register mismatch")
	errHMCOverflow = errors.New("hmc5883l: axis overflow, reading discarded")
)

type HMC5883L struct {
	io RegisterIO
}

func NewHMC5883L(io RegisterIO) *HMC5883L {
	return &HMC5883L{io: io}
}

func (h *HMC5883L) Name() string { return "HMC5883L" }

func (h *HMC5883L) Probe() error {
	id, err := h.io.ReadReg(hmcRegIdentA, 3)
	if err != nil {
		return err
	}
	if id[0] != 'H' || id[1] != '4' || id[2] != '3' {
		return fmt.Errorf("%w: got %q", errHMCIdent, id)
	}
	if err := h.io.WriteReg(hmcRegConfigA, hmcConfigASetup); err != nil {
		return err
	}
	return h.io.WriteReg(hmcRegConfigB, hmcConfigBGain)
}

func (h *HMC5883L) StartCycle() error {
	return h.io.WriteReg(hmcRegMode, hmcModeSingle)
}

func (h *HMC5883L) Stages() []Stage {
	return []Stage{{
		Name:    "measurement",
		MinWait: 6 * time.Millisecond,
		Ready:   h.dataReady,
	}}
}

func (h *HMC5883L) dataReady() (bool, error) {
	st, err := h.io.ReadReg(hmcRegStatus, 1)
	if err != nil {
		return false, err
	}
	return st[0]&hmcStatusRDY != 0, nil
}

// Collect reads the six data registers. The register order is X, Z, Y.
func (h *HMC5883L) Collect() (map[string]float64, error) {
	raw, err := h.io.ReadReg(hmcRegDataX, 6)
	if err != nil {
		return nil, err
	}
	x := int16(readWordBE(raw, 0))
	z := int16(readWordBE(raw, 2))
	y := int16(readWordBE(raw, 4))
	if x == hmcOverflow || y == hmcOverflow || z == hmcOverflow {
		return nil, errHMCOverflow
	}
	fx := float64(x) * hmcScaleUT
	fy := float64(y) * hmcScaleUT
	fz := float64(z) * hmcScaleUT
	return map[string]float64{
		"magnetic_field_x": fx,
		"magnetic_field_y": fy,
		"magnetic_field_z": fz,
		"magnetic_field":   math.Sqrt(fx*fx + fy*fy + fz*fz),
	}, nil
}

func magChannels() []ChannelSpec {
	presets := map[FilterMode]FilterPreset{
		FilterFast:     {SmoothInterval: 1, PollTime: 2 * time.Second, Eps: 0.5},
		FilterMedium:   {SmoothInterval: 4, PollTime: 30 * time.Second, Eps: 1.0},
		FilterLongterm: {SmoothInterval: 10, PollTime: 600 * time.Second, Eps: 2.0},
	}
	names := []string{"magnetic_field_x", "magnetic_field_y", "magnetic_field_z", "magnetic_field"}
	specs := make([]ChannelSpec, 0, len(names))
	for _, n := range names {
		specs = append(specs, ChannelSpec{Name: n, Unit: "uT", Precision: 2, Presets: presets})
	}
	return specs
}

func (h *HMC5883L) Channels() []ChannelSpec { return magChannels() }
