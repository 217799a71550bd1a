package sensors

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// QST QMC5883L 3-axis magnetometer (the common HMC5883L drop-in at bus
// address 0x0D). Measures continuously; each cycle just waits for DRDY.
// Data registers are little-endian, unlike the Honeywell part.
const (
	QMC5883LAddress = 0x0D

	qmcRegDataX    = 0x00 // X, Y, Z order, little-endian
	qmcRegStatus   = 0x06
	qmcRegControl1 = 0x09
	qmcRegSetReset = 0x0B
	qmcRegChipID   = 0x0D

	qmcChipID = 0xFF

	// OSR=512, RNG=2G, ODR=10Hz, continuous mode.
	qmcControlSetup  = 0x01
	qmcSetResetValue = 0x01

	qmcStatusDRDY = 0x01
	qmcStatusOVL  = 0x02

	// 12000 LSB/Ga at the 2 Ga range; 1 Ga = 100 uT.
	qmcScaleUT = 100.0 / 12000.0
)

var (
	errQMCChipID   = errors.New("qmc5883l: chip ID mismatch")
	errQMCOverflow = errors.New("qmc5883l: field overflow, reading discarded")
)

type QMC5883L struct {
	io RegisterIO
}

func NewQMC5883L(io RegisterIO) *QMC5883L {
	return &QMC5883L{io: io}
}

func (q *QMC5883L) Name() string { return "QMC5883L" }

func (q *QMC5883L) Probe() error {
	id, err := q.io.ReadReg(qmcRegChipID, 1)
	if err != nil {
		return err
	}
	if id[0] != qmcChipID {
		return fmt.Errorf("%w: got %#02x, want %#02x", errQMCChipID, id[0], qmcChipID)
	}
	if err := q.io.WriteReg(qmcRegSetReset, qmcSetResetValue); err != nil {
		return err
	}
	return q.io.WriteReg(qmcRegControl1, qmcControlSetup)
}

// StartCycle is a no-op: the chip free-runs in continuous mode and DRDY
// gates the read.
func (q *QMC5883L) StartCycle() error { return nil }

func (q *QMC5883L) Stages() []Stage {
	return []Stage{{
		Name:         "dataready",
		Ready:        q.dataReady,
		ReadyTimeout: 500 * time.Millisecond,
	}}
}

func (q *QMC5883L) dataReady() (bool, error) {
	st, err := q.io.ReadReg(qmcRegStatus, 1)
	if err != nil {
		return false, err
	}
	if st[0]&qmcStatusOVL != 0 {
		return false, errQMCOverflow
	}
	return st[0]&qmcStatusDRDY != 0, nil
}

func (q *QMC5883L) Collect() (map[string]float64, error) {
	raw, err := q.io.ReadReg(qmcRegDataX, 6)
	if err != nil {
		return nil, err
	}
	fx := float64(int16(readWordLE(raw, 0))) * qmcScaleUT
	fy := float64(int16(readWordLE(raw, 2))) * qmcScaleUT
	fz := float64(int16(readWordLE(raw, 4))) * qmcScaleUT
	return map[string]float64{
		"magnetic_field_x": fx,
		"magnetic_field_y": fy,
		"magnetic_field_z": fz,
		"magnetic_field":   math.Sqrt(fx*fx + fy*fy + fz*fz),
	}, nil
}

func (q *QMC5883L) Channels() []ChannelSpec { return magChannels() }
