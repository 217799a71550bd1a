package sensors

import (
	"fmt"
	"time"
)

// Bosch BME280 pressure / temperature / humidity sensor. Register map is
// the BMP280's plus the humidity block.
const (
	bme280ChipID = 0x60

	bme280RegCalibH1 = 0xA1
	bme280RegCalibH2 = 0xE1 // 7 bytes, dig_H2..dig_H6 (H4/H5 nibble-packed)
	bme280RegCtrlHum = 0xF2
)

// bme280CalibH holds the humidity trim values.
type bme280CalibH struct {
	h1, h3 uint8
	h2     int16
	h4, h5 int16 // 12-bit, nibble-packed in the register file
	h6     int8
}

// BME280 runs the same forced-mode cycle as the BMP280 with the humidity
// oversampling armed before each trigger (ctrl_hum only latches on a
// ctrl_meas write, per datasheet).
type BME280 struct {
	io   RegisterIO
	cal  bmx280Calib
	calH bme280CalibH

	sampleMode Oversampling
	refAlt     float64
}

func NewBME280(io RegisterIO) *BME280 {
	return &BME280{io: io, sampleMode: OversampleStandard}
}

func (b *BME280) Name() string { return "BME280" }

func (b *BME280) Probe() error {
	id, err := b.io.ReadReg(bmx280RegChipID, 1)
	if err != nil {
		return err
	}
	if id[0] != bme280ChipID {
		return fmt.Errorf("%w: got %#02x, want %#02x", errBMX280ChipID, id[0], bme280ChipID)
	}
	raw, err := b.io.ReadReg(bmx280RegCalib, 24)
	if err != nil {
		return err
	}
	b.cal = parseBMX280Calib(raw)

	h1, err := b.io.ReadReg(bme280RegCalibH1, 1)
	if err != nil {
		return err
	}
	rawH, err := b.io.ReadReg(bme280RegCalibH2, 7)
	if err != nil {
		return err
	}
	b.calH = bme280CalibH{
		h1: h1[0],
		h2: int16(readWordLE(rawH, 0)),
		h3: rawH[2],
		h4: int16(rawH[3])<<4 | int16(rawH[4]&0x0F),
		h5: int16(rawH[5])<<4 | int16(rawH[4]>>4),
		h6: int8(rawH[6]),
	}
	return nil
}

// StartCycle arms the humidity oversampling. ctrl_hum only takes effect
// once ctrl_meas is written, which happens on the next stage entry.
func (b *BME280) StartCycle() error {
	return b.io.WriteReg(bme280RegCtrlHum, bmx280osrs(b.sampleMode))
}

func (b *BME280) trigger() error {
	osrs := bmx280osrs(b.sampleMode)
	return b.io.WriteReg(bmx280RegCtrlMeas, osrs<<5|osrs<<2|bmx280ModeForced)
}

func (b *BME280) Stages() []Stage {
	// Humidity adds roughly half the pressure conversion time on top.
	return []Stage{
		{Name: "arm"},
		{
			Name:    "conversion",
			MinWait: bmx280ConvTime(b.sampleMode) * 3 / 2,
			Ready:   b.conversionDone,
			Enter:   b.trigger,
		},
	}
}

func (b *BME280) conversionDone() (bool, error) {
	st, err := b.io.ReadReg(bmx280RegStatus, 1)
	if err != nil {
		return false, err
	}
	return st[0]&bmx280StatusMeasuring == 0, nil
}

func (b *BME280) Collect() (map[string]float64, error) {
	raw, err := b.io.ReadReg(bmx280RegPressMSB, 8)
	if err != nil {
		return nil, err
	}
	rawPress := int32(raw[0])<<12 | int32(raw[1])<<4 | int32(raw[2])>>4
	rawTemp := int32(raw[3])<<12 | int32(raw[4])<<4 | int32(raw[5])>>4
	rawHum := int32(raw[6])<<8 | int32(raw[7])

	tempC, tFine := bmx280CompensateTemp(b.cal, rawTemp)
	press := bmx280CompensatePress(b.cal, rawPress, tFine)
	hum := bme280CompensateHum(b.calH, rawHum, tFine)
	return map[string]float64{
		"temperature": tempC,
		"pressure":    press,
		"pressureNN":  PressureNN(press, b.refAlt, tempC),
		"humidity":    hum,
	}, nil
}

// bme280CompensateHum runs the Bosch 32-bit humidity pipeline on the t_fine
// carrier from the temperature compensation, returning %RH.
func bme280CompensateHum(cal bme280CalibH, raw, tFine int32) float64 {
	v := tFine - 76800
	v = (((raw<<14 - int32(cal.h4)<<20 - int32(cal.h5)*v) + 16384) >> 15) *
		(((((((v*int32(cal.h6))>>10)*(((v*int32(cal.h3))>>11)+32768))>>10)+2097152)*int32(cal.h2) + 8192) >> 14)
	v -= (((((v >> 15) * (v >> 15)) >> 7) * int32(cal.h1)) >> 4)
	if v < 0 {
		v = 0
	}
	if v > 419430400 {
		v = 419430400
	}
	return float64(v>>12) / 1024.0
}

func (b *BME280) Channels() []ChannelSpec {
	specs := bmx280PressureChannels()
	specs = append(specs, ChannelSpec{
		Name: "humidity", Unit: "%RH", Precision: 1,
		Presets: map[FilterMode]FilterPreset{
			FilterFast:     {SmoothInterval: 1, PollTime: 2 * time.Second, Eps: 0.2},
			FilterMedium:   {SmoothInterval: 4, PollTime: 30 * time.Second, Eps: 0.5},
			FilterLongterm: {SmoothInterval: 16, PollTime: 600 * time.Second, Eps: 1.0},
		},
	})
	return specs
}

func (b *BME280) Oversampling() Oversampling { return b.sampleMode }

func (b *BME280) SetOversampling(o Oversampling) error {
	b.sampleMode = o
	return nil
}

func (b *BME280) ReferenceAltitude() float64     { return b.refAlt }
func (b *BME280) SetReferenceAltitude(a float64) { b.refAlt = a }

func (b *BME280) CalibrationDump() string {
	return bmx280CalibDump(b.cal) + fmt.Sprintf(" H1=%d H2=%d H3=%d H4=%d H5=%d H6=%d",
		b.calH.h1, b.calH.h2, b.calH.h3, b.calH.h4, b.calH.h5, b.calH.h6)
}
