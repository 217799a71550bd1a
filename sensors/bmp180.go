package sensors

import (
	"errors"
	"fmt"
	"time"
)

// Bosch BMP180 barometric pressure / temperature sensor.
const (
	BMP180Address = 0x77

	bmp180RegChipID    = 0xD0
	bmp180RegSoftReset = 0xE0
	bmp180RegControl   = 0xF4
	bmp180RegData      = 0xF6
	bmp180RegCalib     = 0xAA // 11 big-endian words, AC1..MD

	bmp180ChipID = 0x55

	bmp180CmdReadTemp  = 0x2E
	bmp180CmdReadPress = 0x34 // | oss<<6
)

var (
	errBMP180ChipID = errors.New("bmp180: chip ID mismatch")
	errBMP180Calib  = errors.New("bmp180: invalid calibration data")
)

// bmp180Calib holds the factory trim values, immutable after Probe.
type bmp180Calib struct {
	ac1, ac2, ac3      int16
	ac4, ac5, ac6      uint16
	b1, b2, mb, mc, md int16
}

// BMP180 drives the chip in single-conversion mode: trigger temperature,
// wait, read, trigger pressure, wait, read, compensate. The two waits are
// separate state machine stages since the chip has no data-ready flag.
type BMP180 struct {
	io  RegisterIO
	cal bmp180Calib

	sampleMode Oversampling
	refAlt     float64

	rawUT int32
}

func NewBMP180(io RegisterIO) *BMP180 {
	return &BMP180{io: io, sampleMode: OversampleStandard}
}

func (b *BMP180) Name() string { return "BMP180" }

func (b *BMP180) Probe() error {
	id, err := b.io.ReadReg(bmp180RegChipID, 1)
	if err != nil {
		return err
	}
	if id[0] != bmp180ChipID {
		return fmt.Errorf("%w: got %#02x, want %#02x", errBMP180ChipID, id[0], bmp180ChipID)
	}
	raw, err := b.io.ReadReg(bmp180RegCalib, 22)
	if err != nil {
		return err
	}
	// The datasheet marks 0x0000 and 0xFFFF as impossible trim words.
	for i := 0; i < 22; i += 2 {
		if w := readWordBE(raw, i); w == 0x0000 || w == 0xFFFF {
			return errBMP180Calib
		}
	}
	b.cal = bmp180Calib{
		ac1: int16(readWordBE(raw, 0)),
		ac2: int16(readWordBE(raw, 2)),
		ac3: int16(readWordBE(raw, 4)),
		ac4: readWordBE(raw, 6),
		ac5: readWordBE(raw, 8),
		ac6: readWordBE(raw, 10),
		b1:  int16(readWordBE(raw, 12)),
		b2:  int16(readWordBE(raw, 14)),
		mb:  int16(readWordBE(raw, 16)),
		mc:  int16(readWordBE(raw, 18)),
		md:  int16(readWordBE(raw, 20)),
	}
	return nil
}

// oss maps the symbolic oversampling level onto the 2-bit hardware setting.
// The chip has four modes, so the two low-power levels coincide.
func (b *BMP180) oss() uint {
	switch b.sampleMode {
	case OversampleUltraLowPower, OversampleLowPower:
		return 0
	case OversampleStandard:
		return 1
	case OversampleHighResolution:
		return 2
	default:
		return 3
	}
}

// pressureWait returns the datasheet conversion time for the current mode.
func (b *BMP180) pressureWait() time.Duration {
	switch b.oss() {
	case 0:
		return 4500 * time.Microsecond
	case 1:
		return 7500 * time.Microsecond
	case 2:
		return 13500 * time.Microsecond
	default:
		return 25500 * time.Microsecond
	}
}

func (b *BMP180) StartCycle() error {
	return b.io.WriteReg(bmp180RegControl, bmp180CmdReadTemp)
}

func (b *BMP180) Stages() []Stage {
	return []Stage{
		{Name: "temperature", MinWait: 4500 * time.Microsecond},
		{Name: "readtemp", Enter: b.readUT},
		{Name: "startpressure", Enter: b.startPressure},
		{Name: "pressure", MinWait: b.pressureWait()},
	}
}

func (b *BMP180) readUT() error {
	raw, err := b.io.ReadReg(bmp180RegData, 2)
	if err != nil {
		return err
	}
	b.rawUT = int32(readWordBE(raw, 0))
	return nil
}

func (b *BMP180) startPressure() error {
	return b.io.WriteReg(bmp180RegControl, bmp180CmdReadPress|byte(b.oss())<<6)
}

func (b *BMP180) Collect() (map[string]float64, error) {
	raw, err := b.io.ReadReg(bmp180RegData, 3)
	if err != nil {
		return nil, err
	}
	oss := b.oss()
	up := (int32(raw[0])<<16 | int32(raw[1])<<8 | int32(raw[2])) >> (8 - oss)

	tempC, pressPa := bmp180Compensate(b.cal, b.rawUT, up, oss)
	press := float64(pressPa) / 100.0 // Pa -> hPa
	vals := map[string]float64{
		"temperature": tempC,
		"pressure":    press,
		"pressureNN":  PressureNN(press, b.refAlt, tempC),
	}
	return vals, nil
}

// bmp180Compensate runs the datasheet integer pipeline on the raw readings.
// No hidden state: identical inputs always produce identical outputs.
func bmp180Compensate(cal bmp180Calib, ut, up int32, oss uint) (tempC float64, pressPa int32) {
	x1 := ((ut - int32(cal.ac6)) * int32(cal.ac5)) >> 15
	x2 := (int32(cal.mc) << 11) / (x1 + int32(cal.md))
	b5 := x1 + x2
	t := (b5 + 8) >> 4 // 0.1 degC

	b6 := b5 - 4000
	x1 = (int32(cal.b2) * ((b6 * b6) >> 12)) >> 11
	x2 = (int32(cal.ac2) * b6) >> 11
	x3 := x1 + x2
	b3 := (((int32(cal.ac1)*4 + x3) << oss) + 2) / 4
	x1 = (int32(cal.ac3) * b6) >> 13
	x2 = (int32(cal.b1) * ((b6 * b6) >> 12)) >> 16
	x3 = ((x1 + x2) + 2) >> 2
	b4 := (uint32(cal.ac4) * uint32(x3+32768)) >> 15
	b7 := uint32(up-b3) * (50000 >> oss)
	var p int32
	if b7 < 0x80000000 {
		p = int32((b7 * 2) / b4)
	} else {
		p = int32((b7 / b4) * 2)
	}
	x1 = (p >> 8) * (p >> 8)
	x1 = (x1 * 3038) >> 16
	x2 = (-7357 * p) >> 16
	p += (x1 + x2 + 3791) >> 4

	return float64(t) / 10.0, p
}

func (b *BMP180) Channels() []ChannelSpec {
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

func (b *BMP180) Oversampling() Oversampling { return b.sampleMode }

func (b *BMP180) SetOversampling(o Oversampling) error {
	// Takes effect with the next conversion trigger, no register write now.
	b.sampleMode = o
	return nil
}

func (b *BMP180) ReferenceAltitude() float64     { return b.refAlt }
func (b *BMP180) SetReferenceAltitude(a float64) { b.refAlt = a }

func (b *BMP180) CalibrationDump() string {
	c := b.cal
	return fmt.Sprintf("AC1=%d AC2=%d AC3=%d AC4=%d AC5=%d AC6=%d B1=%d B2=%d MB=%d MC=%d MD=%d",
		c.ac1, c.ac2, c.ac3, c.ac4, c.ac5, c.ac6, c.b1, c.b2, c.mb, c.mc, c.md)
}
