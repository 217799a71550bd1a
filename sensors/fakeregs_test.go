package sensors

import (
	"errors"
	"fmt"
)

// fakeRegs is a scripted RegisterIO for driving chip strategies without
// hardware. Register blocks are keyed by their start address, so reads must
// use the same (reg, len) shape the driver uses.
type fakeRegs struct {
	regs   map[byte][]byte
	writes [][]byte // reg followed by data

	failReads  int // fail this many upcoming reads
	failWrites int

	reads   int
	lastErr BusError
}

func newFakeRegs() *fakeRegs {
	return &fakeRegs{regs: map[byte][]byte{}}
}

var errFakeInjected = errors.New("injected bus failure")

func (f *fakeRegs) ReadReg(reg byte, n int) ([]byte, error) {
	f.reads++
	if f.failReads > 0 {
		f.failReads--
		f.lastErr = BusErrTimeout
		return nil, errFakeInjected
	}
	b, ok := f.regs[reg]
	if !ok {
		f.lastErr = BusErrNotPresent
		return nil, fmt.Errorf("no device register %#02x", reg)
	}
	if len(b) < n {
		f.lastErr = BusErrShortRead
		return nil, errShortRead
	}
	f.lastErr = BusErrNone
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

func (f *fakeRegs) WriteReg(reg byte, data ...byte) error {
	if f.failWrites > 0 {
		f.failWrites--
		f.lastErr = BusErrWriteRejected
		return errFakeInjected
	}
	f.writes = append(f.writes, append([]byte{reg}, data...))
	f.lastErr = BusErrNone
	return nil
}

func (f *fakeRegs) LastError() BusError { return f.lastErr }

// lastWrite returns the most recent write, nil if none.
func (f *fakeRegs) lastWrite() []byte {
	if len(f.writes) == 0 {
		return nil
	}
	return f.writes[len(f.writes)-1]
}
