package sensors

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	dhtZero = 26 * time.Microsecond
	dhtOne  = 70 * time.Microsecond
)

// dhtFrameHighs encodes the five frame bytes as high-phase durations, MSB
// first, optionally with the ~80 us sensor-response preamble in front.
func dhtFrameHighs(data [5]byte, preamble bool) []time.Duration {
	var highs []time.Duration
	if preamble {
		highs = append(highs, 80*time.Microsecond)
	}
	for _, b := range data {
		for bit := 7; bit >= 0; bit-- {
			if b&(1<<uint(bit)) != 0 {
				highs = append(highs, dhtOne)
			} else {
				highs = append(highs, dhtZero)
			}
		}
	}
	return highs
}

func dhtChecksummed(b0, b1, b2, b3 byte) [5]byte {
	return [5]byte{b0, b1, b2, b3, b0 + b1 + b2 + b3}
}

func TestDecodeDHTFrame(t *testing.T) {
	// 65.2 %RH, 26.3 degC: the datasheet example frame.
	frame := dhtChecksummed(0x02, 0x8C, 0x01, 0x07)
	hum, temp, err := decodeDHTFrame(dhtFrameHighs(frame, true))
	require.NoError(t, err)
	assert.InDelta(t, 65.2, hum, 1e-9)
	assert.InDelta(t, 26.3, temp, 1e-9)
}

func TestDecodeDHTFrameNegativeTemperature(t *testing.T) {
	// Sign-magnitude: 0x80 0x65 is -10.1 degC, not two's complement.
	frame := dhtChecksummed(0x02, 0x8C, 0x80, 0x65)
	hum, temp, err := decodeDHTFrame(dhtFrameHighs(frame, true))
	require.NoError(t, err)
	assert.InDelta(t, 65.2, hum, 1e-9)
	assert.InDelta(t, -10.1, temp, 1e-9)
}

func TestDecodeDHTFrameChecksum(t *testing.T) {
	frame := dhtChecksummed(0x02, 0x8C, 0x01, 0x07)
	frame[4]++ // corrupt
	_, _, err := decodeDHTFrame(dhtFrameHighs(frame, false))
	assert.ErrorIs(t, err, errDHTChecksum)
}

// The byte sum wraps at 8 bits; a frame whose sum exceeds 0xFF must still
// verify against the truncated checksum.
func TestDecodeDHTFrameChecksumWraps(t *testing.T) {
	frame := [5]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFC}
	_, _, err := decodeDHTFrame(dhtFrameHighs(frame, false))
	assert.NoError(t, err)
}

func TestDecodeDHTFrameShort(t *testing.T) {
	frame := dhtChecksummed(0x02, 0x8C, 0x01, 0x07)
	highs := dhtFrameHighs(frame, false)
	_, _, err := decodeDHTFrame(highs[:30])
	assert.ErrorIs(t, err, errDHTShortFrame)

	_, _, err = decodeDHTFrame(nil)
	assert.ErrorIs(t, err, errDHTShortFrame)
}

func TestDecodeDHTFrameWithoutPreamble(t *testing.T) {
	// An interrupt slot armed a little late misses the preamble; the
	// decoder must take exactly the trailing 40 highs either way.
	frame := dhtChecksummed(0x02, 0x8C, 0x01, 0x07)
	hum, temp, err := decodeDHTFrame(dhtFrameHighs(frame, false))
	require.NoError(t, err)
	assert.InDelta(t, 65.2, hum, 1e-9)
	assert.InDelta(t, 26.3, temp, 1e-9)
}

func TestDecodeDHTFrameDeterministic(t *testing.T) {
	highs := dhtFrameHighs(dhtChecksummed(0x02, 0x8C, 0x01, 0x07), true)
	h1, t1, err1 := decodeDHTFrame(highs)
	h2, t2, err2 := decodeDHTFrame(highs)
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, h1, h2)
	assert.Equal(t, t1, t2)
}

func TestDHTHighPhases(t *testing.T) {
	// Capture starts while the host drives the line low, so edge 0 is the
	// rising release edge: highs of 26 and 70 us, one trailing unpaired
	// rising edge ignored.
	edges := []time.Duration{
		0, 26 * time.Microsecond,
		76 * time.Microsecond, 146 * time.Microsecond,
		196 * time.Microsecond,
	}
	highs := dhtHighPhases(edges)
	require.Len(t, highs, 2)
	assert.Equal(t, 26*time.Microsecond, highs[0])
	assert.Equal(t, 70*time.Microsecond, highs[1])
}

// dhtEdgeTrain lays out the full wire protocol as edge timestamps, starting
// at the rising release edge: pull-up high, 80 us response low, 80 us
// response high, then per bit a ~50 us gap low and the value-coding high.
func dhtEdgeTrain(data [5]byte) []time.Duration {
	t := time.Duration(0)
	edges := []time.Duration{t}
	advance := func(d time.Duration) {
		t += d
		edges = append(edges, t)
	}
	advance(30 * time.Microsecond) // pull-up before the sensor responds
	advance(80 * time.Microsecond) // response low
	advance(80 * time.Microsecond) // response high
	for _, b := range data {
		for bit := 7; bit >= 0; bit-- {
			advance(50 * time.Microsecond) // bit gap
			if b&(1<<uint(bit)) != 0 {
				advance(dhtOne)
			} else {
				advance(dhtZero)
			}
		}
	}
	return edges
}

// The decoder must recover the datasheet example from the raw edge
// sequence, not just from pre-paired high phases.
func TestDecodeDHTProtocolEdgeTrain(t *testing.T) {
	frame := dhtChecksummed(0x02, 0x8C, 0x01, 0x07)
	hum, temp, err := decodeDHTFrame(dhtHighPhases(dhtEdgeTrain(frame)))
	require.NoError(t, err)
	assert.InDelta(t, 65.2, hum, 1e-9)
	assert.InDelta(t, 26.3, temp, 1e-9)
}

// Mis-paired captures yield the low phases: forty ~50 us gaps decode to an
// all-zero frame that passes the zero checksum but must still be rejected.
func TestDecodeDHTFrameRejectsAllZero(t *testing.T) {
	highs := make([]time.Duration, dhtBits)
	for i := range highs {
		highs[i] = 50 * time.Microsecond
	}
	_, _, err := decodeDHTFrame(highs)
	assert.ErrorIs(t, err, errDHTEmptyFrame)
}
