package sensors

import (
	"errors"
	"fmt"
	"time"

	"github.com/kidoman/embd"
)

// Aosong DHT22/AM2302 humidity/temperature sensor on a single GPIO line.
// The protocol is pulse-width coded: after a >1 ms host start pulse the
// sensor answers with a preamble and 40 data bits, a bit's value encoded in
// the duration of its high phase (~26 us = 0, ~70 us = 1). Edges are
// captured by an interrupt slot and decoded from the driver's tick; the
// tick itself never busy-waits on the line.
const (
	dhtBits          = 40
	dhtStartPulse    = 1200 * time.Microsecond
	dhtFrameDuration = 6 * time.Millisecond

	// High phases longer than this are ones. Halfway between the nominal
	// 26-28 us zero and 70 us one.
	dhtOneThreshold = 50 * time.Microsecond

	// Preamble highs (sensor response, ~80 us) exceed this and are skipped.
	dhtPreambleMin = 76 * time.Microsecond
)

var (
	errDHTShortFrame = errors.New("dht22: incomplete frame")
	errDHTChecksum   = errors.New("dht22: checksum mismatch")
	errDHTEmptyFrame = errors.New("dht22: all-zero frame")
)

// DHT22 implements the Chip strategy on a GPIO pin instead of a register
// transport: stage 0 holds the start pulse, stage 1 releases the line and
// collects edges, Collect decodes the frame.
type DHT22 struct {
	pin  embd.DigitalPin
	slot int
}

func NewDHT22(pin embd.DigitalPin) *DHT22 {
	return &DHT22{pin: pin, slot: -1}
}

func (d *DHT22) Name() string { return "DHT22" }

// Probe claims an interrupt slot and parks the line high. There is no
// identity register; the first decoded frame is the presence check.
func (d *DHT22) Probe() error {
	if d.slot < 0 {
		slot, err := ClaimIsrSlot(d.pin, embd.EdgeBoth)
		if err != nil {
			return err
		}
		d.slot = slot
	}
	if err := d.pin.SetDirection(embd.Out); err != nil {
		return err
	}
	return d.pin.Write(embd.High)
}

// StartCycle pulls the line low; the stage wait keeps it there long enough
// for the sensor to notice.
func (d *DHT22) StartCycle() error {
	if err := d.pin.SetDirection(embd.Out); err != nil {
		return err
	}
	return d.pin.Write(embd.Low)
}

func (d *DHT22) Stages() []Stage {
	return []Stage{
		{Name: "startpulse", MinWait: dhtStartPulse},
		{Name: "frame", MinWait: dhtFrameDuration, Enter: d.release},
	}
}

// release hands the line back to the sensor and starts edge capture.
func (d *DHT22) release() error {
	RearmIsrSlot(d.slot)
	return d.pin.SetDirection(embd.In)
}

func (d *DHT22) Collect() (map[string]float64, error) {
	edges := IsrEdgeTimes(d.slot)
	humidity, temperature, err := decodeDHTFrame(dhtHighPhases(edges))
	if err != nil {
		return nil, err
	}
	return map[string]float64{
		"temperature": temperature,
		"humidity":    humidity,
	}, nil
}

// dhtHighPhases pairs rising/falling edge timestamps into high-phase
// durations. release rearms the slot while the host still drives the line
// low, so the first captured edge is the rising release edge and each high
// phase runs from an even offset to the falling edge after it.
func dhtHighPhases(edges []time.Duration) []time.Duration {
	highs := make([]time.Duration, 0, len(edges)/2)
	for i := 0; i+1 < len(edges); i += 2 {
		highs = append(highs, edges[i+1]-edges[i])
	}
	return highs
}

// decodeDHTFrame turns high-phase durations into %RH and degrees C.
// Deterministic; tolerant of leading preamble pulses.
func decodeDHTFrame(highs []time.Duration) (humidity, temperature float64, err error) {
	// Skip the sensor response preamble (~80 us high) if captured.
	for len(highs) > dhtBits && highs[0] > dhtPreambleMin {
		highs = highs[1:]
	}
	if len(highs) < dhtBits {
		return 0, 0, fmt.Errorf("%w: %d of %d bits", errDHTShortFrame, len(highs), dhtBits)
	}
	// The 40 data bits (checksum byte included) are the last 40 highs;
	// anything earlier is leftover preamble.
	highs = highs[len(highs)-dhtBits:]

	var data [5]byte
	for i, h := range highs {
		data[i/8] <<= 1
		if h > dhtOneThreshold {
			data[i/8] |= 1
		}
	}
	if byte(data[0]+data[1]+data[2]+data[3]) != data[4] {
		return 0, 0, errDHTChecksum
	}
	// An all-zero frame satisfies the zero checksum but cannot occur on a
	// live sensor; it means the capture paired the low phases.
	if data[0]|data[1]|data[2]|data[3] == 0 {
		return 0, 0, errDHTEmptyFrame
	}

	humidity = float64(uint16(data[0])<<8|uint16(data[1])) / 10.0
	t := uint16(data[2]&0x7F)<<8 | uint16(data[3])
	temperature = float64(t) / 10.0
	if data[2]&0x80 != 0 { // sign-magnitude, not two's complement
		temperature = -temperature
	}
	return humidity, temperature, nil
}

func (d *DHT22) Channels() []ChannelSpec {
	return []ChannelSpec{
		{Name: "temperature", Unit: "C", Precision: 1, Presets: map[FilterMode]FilterPreset{
			FilterFast:     {SmoothInterval: 1, PollTime: 2 * time.Second, Eps: 0.1},
			FilterMedium:   {SmoothInterval: 4, PollTime: 30 * time.Second, Eps: 0.2},
			FilterLongterm: {SmoothInterval: 10, PollTime: 600 * time.Second, Eps: 0.5},
		}},
		{Name: "humidity", Unit: "%RH", Precision: 1, Presets: map[FilterMode]FilterPreset{
			FilterFast:     {SmoothInterval: 1, PollTime: 2 * time.Second, Eps: 0.2},
			FilterMedium:   {SmoothInterval: 4, PollTime: 30 * time.Second, Eps: 0.5},
			FilterLongterm: {SmoothInterval: 10, PollTime: 600 * time.Second, Eps: 1.0},
		}},
	}
}

// Close releases the interrupt slot.
func (d *DHT22) Close() {
	if d.slot >= 0 {
		ReleaseIsrSlot(d.slot)
		d.slot = -1
	}
}
