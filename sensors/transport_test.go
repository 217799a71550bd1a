package sensors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyBusError(t *testing.T) {
	cases := []struct {
		err  error
		want BusError
	}{
		{nil, BusErrNone},
		{errors.New("i2c: transaction timed out"), BusErrTimeout},
		{errors.New("read timeout on /dev/i2c-1"), BusErrTimeout},
		{errors.New("no such device or address"), BusErrNotPresent},
		{errors.New("remote I/O error"), BusErrNotPresent},
		{errors.New("open /dev/i2c-1: no such file or directory"), BusErrNotPresent},
		{errShortRead, BusErrShortRead},
		{errors.New("short write"), BusErrShortRead},
		{errors.New("input/output error"), BusErrHardware},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, classifyBusError(c.err), "%v", c.err)
	}
}

func TestClassifyWrapsAreTransparent(t *testing.T) {
	wrapped := errors.New("i2c read reg 0xf7 @0x76: " + errShortRead.Error())
	assert.Equal(t, BusErrShortRead, classifyBusError(wrapped))
}

func TestBusErrorStrings(t *testing.T) {
	assert.Equal(t, "OK", BusErrNone.String())
	assert.Equal(t, "DEVICE_NOT_PRESENT", BusErrNotPresent.String())
	assert.Equal(t, "WRITE_REJECTED", BusErrWriteRejected.String())
	assert.Equal(t, "SHORT_READ", BusErrShortRead.String())
	assert.Equal(t, "TIMEOUT", BusErrTimeout.String())
	assert.Equal(t, "HARDWARE_ERROR", BusErrHardware.String())
}

func TestReadWordEndianness(t *testing.T) {
	buf := []byte{0x12, 0x34, 0xAB, 0xCD}
	assert.Equal(t, uint16(0x1234), readWordBE(buf, 0))
	assert.Equal(t, uint16(0x3412), readWordLE(buf, 0))
	assert.Equal(t, uint16(0xABCD), readWordBE(buf, 2))
	assert.Equal(t, uint16(0xCDAB), readWordLE(buf, 2))
}
