// Package sensors provides the cooperative acquisition drivers ("mupplets")
// for the I2C and GPIO sensors supported by sensord: a generic non-blocking
// measurement state machine, the software smoothing filter, and one chip
// strategy per supported sensor.
package sensors

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/kidoman/embd"
)

// BusError is the closed taxonomy of register transport failures. Transport
// calls return a normal Go error; the last classified code stays inspectable
// on the transport so drivers can report it without re-parsing strings.
type BusError int

const (
	BusErrNone BusError = iota
	BusErrNotPresent
	BusErrWriteRejected
	BusErrShortRead
	BusErrTimeout
	BusErrHardware
)

func (e BusError) String() string {
	switch e {
	case BusErrNone:
		return "OK"
	case BusErrNotPresent:
		return "DEVICE_NOT_PRESENT"
	case BusErrWriteRejected:
		return "WRITE_REJECTED"
	case BusErrShortRead:
		return "SHORT_READ"
	case BusErrTimeout:
		return "TIMEOUT"
	default:
		return "HARDWARE_ERROR"
	}
}

var errShortRead = errors.New("sensors: short register read")

// RegisterIO is the register-level transport a chip strategy talks to.
// Implementations must serialize access to the underlying bus: at most one
// transaction is in flight per physical bus at any time.
type RegisterIO interface {
	// ReadReg reads n bytes starting at register reg.
	ReadReg(reg byte, n int) ([]byte, error)
	// WriteReg writes data to register reg. Zero data bytes sends a bare
	// register/command byte (some chips use write-only command mailboxes).
	WriteReg(reg byte, data ...byte) error
	// LastError reports the classified code of the most recent failure,
	// BusErrNone after a successful transaction.
	LastError() BusError
}

// I2CRegs adapts one device address on an embd I2C bus to RegisterIO.
// All I2CRegs sharing a physical bus must share the same lock.
type I2CRegs struct {
	mu      *sync.Mutex
	bus     embd.I2CBus
	addr    byte
	lastErr BusError
}

func NewI2CRegs(bus embd.I2CBus, lock *sync.Mutex, addr byte) *I2CRegs {
	return &I2CRegs{mu: lock, bus: bus, addr: addr}
}

func (r *I2CRegs) Addr() byte { return r.addr }

func (r *I2CRegs) ReadReg(reg byte, n int) ([]byte, error) {
	buf := make([]byte, n)
	r.mu.Lock()
	err := r.bus.ReadFromReg(r.addr, reg, buf)
	r.mu.Unlock()
	if err != nil {
		r.lastErr = classifyBusError(err)
		return nil, fmt.Errorf("i2c read reg %#02x @%#02x: %w", reg, r.addr, err)
	}
	r.lastErr = BusErrNone
	return buf, nil
}

func (r *I2CRegs) WriteReg(reg byte, data ...byte) error {
	r.mu.Lock()
	var err error
	if len(data) == 0 {
		err = r.bus.WriteByte(r.addr, reg)
	} else {
		err = r.bus.WriteToReg(r.addr, reg, data)
	}
	r.mu.Unlock()
	if err != nil {
		r.lastErr = classifyBusError(err)
		if r.lastErr == BusErrHardware {
			r.lastErr = BusErrWriteRejected
		}
		return fmt.Errorf("i2c write reg %#02x @%#02x: %w", reg, r.addr, err)
	}
	r.lastErr = BusErrNone
	return nil
}

func (r *I2CRegs) LastError() BusError { return r.lastErr }

// classifyBusError maps driver error strings from the kernel/embd layer onto
// the closed taxonomy. Unrecognized failures count as hardware errors.
func classifyBusError(err error) BusError {
	if err == nil {
		return BusErrNone
	}
	if errors.Is(err, errShortRead) {
		return BusErrShortRead
	}
	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "timeout") || strings.Contains(s, "timed out"):
		return BusErrTimeout
	case strings.Contains(s, "no such device") || strings.Contains(s, "remote i/o error") ||
		strings.Contains(s, "no such file"):
		return BusErrNotPresent
	case strings.Contains(s, "short"):
		return BusErrShortRead
	default:
		return BusErrHardware
	}
}

// readWordBE / readWordLE assemble 16-bit values out of a register dump.
func readWordBE(buf []byte, i int) uint16 { return uint16(buf[i])<<8 | uint16(buf[i+1]) }
func readWordLE(buf []byte, i int) uint16 { return uint16(buf[i+1])<<8 | uint16(buf[i]) }
