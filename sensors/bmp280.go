package sensors

import (
	"errors"
	"fmt"
	"time"
)

// Bosch BMP280 barometric pressure / temperature sensor. The BME280
// strategy shares the register layout and the t_fine pipeline, see
// bme280.go.
const (
	BMP280Address1 = 0x76
	BMP280Address2 = 0x77

	bmx280RegCalib     = 0x88 // 12 little-endian words, dig_T1..dig_P9
	bmx280RegChipID    = 0xD0
	bmx280RegSoftReset = 0xE0
	bmx280RegStatus    = 0xF3
	bmx280RegCtrlMeas  = 0xF4
	bmx280RegConfig    = 0xF5
	bmx280RegPressMSB  = 0xF7

	bmp280ChipID = 0x58

	bmx280SoftResetCode   = 0xB6
	bmx280ModeForced      = 0x01
	bmx280StatusMeasuring = 0x08
)

var errBMX280ChipID = errors.New("bmx280: chip ID mismatch")

// bmx280Calib holds the shared BMP280/BME280 trim values. Calibration
// registers are little-endian, unlike the big-endian measurement registers.
type bmx280Calib struct {
	t1                             uint16
	t2, t3                         int16
	p1                             uint16
	p2, p3, p4, p5, p6, p7, p8, p9 int16
}

func parseBMX280Calib(raw []byte) bmx280Calib {
	return bmx280Calib{
		t1: readWordLE(raw, 0),
		t2: int16(readWordLE(raw, 2)),
		t3: int16(readWordLE(raw, 4)),
		p1: readWordLE(raw, 6),
		p2: int16(readWordLE(raw, 8)),
		p3: int16(readWordLE(raw, 10)),
		p4: int16(readWordLE(raw, 12)),
		p5: int16(readWordLE(raw, 14)),
		p6: int16(readWordLE(raw, 16)),
		p7: int16(readWordLE(raw, 18)),
		p8: int16(readWordLE(raw, 20)),
		p9: int16(readWordLE(raw, 22)),
	}
}

// BMP280 drives the chip in forced mode: each cycle writes ctrl_meas with
// the mode bits set, waits the worst-case conversion time, then polls the
// measuring status bit instead of trusting the fixed delay alone.
type BMP280 struct {
	io  RegisterIO
	cal bmx280Calib

	sampleMode Oversampling
	refAlt     float64
}

func NewBMP280(io RegisterIO) *BMP280 {
	return &BMP280{io: io, sampleMode: OversampleStandard}
}

func (b *BMP280) Name() string { return "BMP280" }

func (b *BMP280) Probe() error {
	id, err := b.io.ReadReg(bmx280RegChipID, 1)
	if err != nil {
		return err
	}
	if id[0] != bmp280ChipID {
		// 0x60 here means a BME280 was configured as the wrong model; the
		// calibration layouts differ, so refuse rather than misread.
		return fmt.Errorf("%w: got %#02x, want %#02x", errBMX280ChipID, id[0], bmp280ChipID)
	}
	raw, err := b.io.ReadReg(bmx280RegCalib, 24)
	if err != nil {
		return err
	}
	b.cal = parseBMX280Calib(raw)
	return nil
}

// bmx280osrs maps the symbolic level onto the 3-bit oversampling encoding
// (x1..x16), used for both temperature and pressure.
func bmx280osrs(o Oversampling) byte {
	switch o {
	case OversampleUltraLowPower:
		return 0x01 // x1
	case OversampleLowPower:
		return 0x02 // x2
	case OversampleStandard:
		return 0x03 // x4
	case OversampleHighResolution:
		return 0x04 // x8
	default:
		return 0x05 // x16
	}
}

// bmx280ConvTime is the datasheet worst-case conversion time for one forced
// measurement with temperature and pressure at the same setting.
func bmx280ConvTime(o Oversampling) time.Duration {
	switch o {
	case OversampleUltraLowPower:
		return 7 * time.Millisecond
	case OversampleLowPower:
		return 10 * time.Millisecond
	case OversampleStandard:
		return 15 * time.Millisecond
	case OversampleHighResolution:
		return 26 * time.Millisecond
	default:
		return 45 * time.Millisecond
	}
}

func (b *BMP280) StartCycle() error {
	osrs := bmx280osrs(b.sampleMode)
	return b.io.WriteReg(bmx280RegCtrlMeas, osrs<<5|osrs<<2|bmx280ModeForced)
}

func (b *BMP280) Stages() []Stage {
	return []Stage{{
		Name:    "conversion",
		MinWait: bmx280ConvTime(b.sampleMode),
		Ready:   b.conversionDone,
	}}
}

func (b *BMP280) conversionDone() (bool, error) {
	st, err := b.io.ReadReg(bmx280RegStatus, 1)
	if err != nil {
		return false, err
	}
	return st[0]&bmx280StatusMeasuring == 0, nil
}

func (b *BMP280) Collect() (map[string]float64, error) {
	raw, err := b.io.ReadReg(bmx280RegPressMSB, 6)
	if err != nil {
		return nil, err
	}
	rawPress := int32(raw[0])<<12 | int32(raw[1])<<4 | int32(raw[2])>>4
	rawTemp := int32(raw[3])<<12 | int32(raw[4])<<4 | int32(raw[5])>>4

	tempC, tFine := bmx280CompensateTemp(b.cal, rawTemp)
	press := bmx280CompensatePress(b.cal, rawPress, tFine)
	return map[string]float64{
		"temperature": tempC,
		"pressure":    press,
		"pressureNN":  PressureNN(press, b.refAlt, tempC),
	}, nil
}

// bmx280CompensateTemp runs the Bosch integer temperature pipeline and
// returns degrees C plus the t_fine carrier consumed by the pressure (and,
// on the BME280, humidity) pipeline.
func bmx280CompensateTemp(cal bmx280Calib, raw int32) (tempC float64, tFine int32) {
	var1 := (((raw >> 3) - (int32(cal.t1) << 1)) * int32(cal.t2)) >> 11
	var2 := (((((raw >> 4) - int32(cal.t1)) * ((raw >> 4) - int32(cal.t1))) >> 12) * int32(cal.t3)) >> 14
	tFine = var1 + var2
	t := (tFine*5 + 128) >> 8
	return float64(t) / 100.0, tFine
}

// bmx280CompensatePress runs the Bosch 64-bit pressure pipeline, returning
// hPa (Q24.8 internally).
func bmx280CompensatePress(cal bmx280Calib, raw, tFine int32) float64 {
	var1 := int64(tFine) - 128000
	var2 := var1 * var1 * int64(cal.p6)
	var2 += (var1 * int64(cal.p5)) << 17
	var2 += int64(cal.p4) << 35
	var1 = ((var1 * var1 * int64(cal.p3)) >> 8) + ((var1 * int64(cal.p2)) << 12)
	var1 = ((int64(1) << 47) + var1) * int64(cal.p1) >> 33
	if var1 == 0 {
		return 0
	}
	p := int64(1048576 - raw)
	p = (((p << 31) - var2) * 3125) / var1
	var1 = (int64(cal.p9) * (p >> 13) * (p >> 13)) >> 25
	var2 = (int64(cal.p8) * p) >> 19
	p = ((p + var1 + var2) >> 8) + (int64(cal.p7) << 4)
	return float64(p) / 25600.0
}

func bmx280PressureChannels() []ChannelSpec {
	pressPresets := map[FilterMode]FilterPreset{
		FilterFast:     {SmoothInterval: 1, PollTime: 2 * time.Second, Eps: 0.02},
		FilterMedium:   {SmoothInterval: 4, PollTime: 30 * time.Second, Eps: 0.1},
		FilterLongterm: {SmoothInterval: 16, PollTime: 600 * time.Second, Eps: 0.5},
	}
	return []ChannelSpec{
		{Name: "temperature", Unit: "C", Precision: 2, Presets: map[FilterMode]FilterPreset{
			FilterFast:     {SmoothInterval: 1, PollTime: 2 * time.Second, Eps: 0.05},
			FilterMedium:   {SmoothInterval: 4, PollTime: 30 * time.Second, Eps: 0.2},
			FilterLongterm: {SmoothInterval: 16, PollTime: 600 * time.Second, Eps: 0.5},
		}},
		{Name: "pressure", Unit: "hPa", Precision: 2, Presets: pressPresets},
		{Name: "pressureNN", Unit: "hPa", Precision: 2, Presets: pressPresets},
	}
}

func (b *BMP280) Channels() []ChannelSpec { return bmx280PressureChannels() }

func (b *BMP280) Oversampling() Oversampling { return b.sampleMode }

func (b *BMP280) SetOversampling(o Oversampling) error {
	// Takes effect with the next forced-mode trigger.
	b.sampleMode = o
	return nil
}

func (b *BMP280) ReferenceAltitude() float64     { return b.refAlt }
func (b *BMP280) SetReferenceAltitude(a float64) { b.refAlt = a }

func (b *BMP280) CalibrationDump() string { return bmx280CalibDump(b.cal) }

func bmx280CalibDump(c bmx280Calib) string {
	return fmt.Sprintf("T1=%d T2=%d T3=%d P1=%d P2=%d P3=%d P4=%d P5=%d P6=%d P7=%d P8=%d P9=%d",
		c.t1, c.t2, c.t3, c.p1, c.p2, c.p3, c.p4, c.p5, c.p6, c.p7, c.p8, c.p9)
}
