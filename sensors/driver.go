package sensors

import (
	"log"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/muwerk/sensord/muwerk"
)

// ChannelSpec describes one measurement channel of a chip: its topic leaf
// name, the decimal precision used when formatting values, and its filter
// presets per mode.
type ChannelSpec struct {
	Name      string
	Unit      string
	Precision int
	Presets   map[FilterMode]FilterPreset
}

// Oversampling is the hardware sample-averaging mode shared by the Bosch
// pressure chips. Each chip maps the symbolic level onto its own register
// encoding.
type Oversampling int

const (
	OversampleUltraLowPower Oversampling = iota
	OversampleLowPower
	OversampleStandard
	OversampleHighResolution
	OversampleUltraHighResolution
)

func (o Oversampling) String() string {
	switch o {
	case OversampleUltraLowPower:
		return "ULTRA_LOW_POWER"
	case OversampleLowPower:
		return "LOW_POWER"
	case OversampleStandard:
		return "STANDARD"
	case OversampleHighResolution:
		return "HIGH_RESOLUTION"
	default:
		return "ULTRA_HIGH_RESOLUTION"
	}
}

// ParseOversampling parses a level name case-insensitively, defaulting to
// STANDARD on unrecognized input.
func ParseOversampling(s string) Oversampling {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ULTRA_LOW_POWER":
		return OversampleUltraLowPower
	case "LOW_POWER":
		return OversampleLowPower
	case "HIGH_RESOLUTION":
		return OversampleHighResolution
	case "ULTRA_HIGH_RESOLUTION":
		return OversampleUltraHighResolution
	default:
		return OversampleStandard
	}
}

// Optional chip capabilities, discovered by the driver via type assertion.
type (
	// OversamplingChip exposes the hardware oversampling mode.
	OversamplingChip interface {
		Oversampling() Oversampling
		SetOversampling(Oversampling) error
	}
	// AltitudeChip computes sea-level adjusted pressure from a reference
	// altitude in meters.
	AltitudeChip interface {
		ReferenceAltitude() float64
		SetReferenceAltitude(float64)
	}
	// CalibrationDumper renders the factory calibration constants for the
	// debug topic.
	CalibrationDumper interface {
		CalibrationDump() string
	}
)

// Driver ties one chip's acquisition engine and per-channel smoothing
// filters to the message bus: the Go rendition of a sensor mupplet.
type Driver struct {
	name   string
	chip   Chip
	engine *Engine
	bus    *muwerk.Bus
	clk    clock.Clock

	mode  FilterMode
	specs []ChannelSpec
	procs map[string]*SensorProcessor

	Publishes uint64 // bus messages sent, scraped by the metrics task
}

// NewDriver builds a driver publishing under <name>/sensor/. cycleTime is
// the idle interval between measurement cycles.
func NewDriver(name string, chip Chip, bus *muwerk.Bus, clk clock.Clock,
	mode FilterMode, cycleTime time.Duration) *Driver {
	d := &Driver{
		name:   name,
		chip:   chip,
		engine: NewEngine(chip, clk, cycleTime),
		bus:    bus,
		clk:    clk,
		mode:   mode,
		specs:  chip.Channels(),
		procs:  map[string]*SensorProcessor{},
	}
	for _, spec := range d.specs {
		d.procs[spec.Name] = NewSensorProcessor(spec.Presets[mode], clk)
	}
	return d
}

func (d *Driver) Name() string     { return d.name }
func (d *Driver) Active() bool     { return d.engine.Active() }
func (d *Driver) Engine() *Engine  { return d.engine }
func (d *Driver) Mode() FilterMode { return d.mode }

// Begin probes the chip, subscribes the command topics and registers the
// periodic tick. An inactive driver subscribes nothing and stays silent.
func (d *Driver) Begin(sched *muwerk.Scheduler, tickInterval time.Duration) bool {
	if !d.engine.Begin() {
		return false
	}
	d.bus.Subscribe(d.name+"/sensor/#", d.onMessage)
	sched.Add(d.name, tickInterval, d.Tick)
	d.publishMode()
	return true
}

// Tick advances the acquisition engine one step and routes any finished
// sample through the filters.
func (d *Driver) Tick() {
	vals, ok := d.engine.Tick()
	if !ok {
		return
	}
	for _, spec := range d.specs {
		v, present := vals[spec.Name]
		if !present {
			continue
		}
		if d.procs[spec.Name].Filter(v) {
			d.publishChannel(spec)
		}
	}
}

func (d *Driver) publishChannel(spec ChannelSpec) {
	v := d.procs[spec.Name].Value()
	d.bus.Publish(d.name+"/sensor/"+spec.Name,
		strconv.FormatFloat(v, 'f', spec.Precision, 64))
	d.Publishes++
}

func (d *Driver) publishMode() {
	d.bus.Publish(d.name+"/sensor/mode", d.mode.String())
	d.Publishes++
}

// SetFilterMode switches every channel to the named preset and resets the
// filters so the mode change takes effect immediately.
func (d *Driver) SetFilterMode(m FilterMode) {
	d.mode = m
	for _, spec := range d.specs {
		d.procs[spec.Name].Configure(spec.Presets[m])
	}
	d.publishMode()
}

// onMessage handles the <name>/sensor/... command topics.
func (d *Driver) onMessage(topic, msg string) {
	sub := strings.TrimPrefix(topic, d.name+"/sensor/")
	switch sub {
	case "mode/get":
		d.publishMode()
	case "mode/set":
		d.SetFilterMode(ParseFilterMode(msg))
	case "oversampling/get":
		if c, ok := d.chip.(OversamplingChip); ok {
			d.bus.Publish(d.name+"/sensor/oversampling", c.Oversampling().String())
		}
	case "oversampling/set":
		if c, ok := d.chip.(OversamplingChip); ok {
			if err := c.SetOversampling(ParseOversampling(msg)); err != nil {
				log.Printf("%s Error: oversampling change failed: %v", d.chip.Name(), err)
				return
			}
			d.bus.Publish(d.name+"/sensor/oversampling", c.Oversampling().String())
		}
	case "referencealtitude/get":
		if c, ok := d.chip.(AltitudeChip); ok {
			d.bus.Publish(d.name+"/sensor/referencealtitude",
				strconv.FormatFloat(c.ReferenceAltitude(), 'f', 1, 64))
		}
	case "referencealtitude/set":
		if c, ok := d.chip.(AltitudeChip); ok {
			alt, err := strconv.ParseFloat(strings.TrimSpace(msg), 64)
			if err != nil {
				log.Printf("%s Error: bad reference altitude %q", d.chip.Name(), msg)
				return
			}
			c.SetReferenceAltitude(alt)
			d.bus.Publish(d.name+"/sensor/referencealtitude",
				strconv.FormatFloat(alt, 'f', 1, 64))
		}
	case "calibrationdata/get":
		if c, ok := d.chip.(CalibrationDumper); ok {
			d.bus.Publish(d.name+"/sensor/calibrationdata", c.CalibrationDump())
		}
	default:
		if meas, found := strings.CutSuffix(sub, "/get"); found {
			if _, ok := d.procs[meas]; ok {
				for _, spec := range d.specs {
					if spec.Name == meas {
						d.publishChannel(spec)
					}
				}
			}
		}
	}
}

// PressureNN converts station pressure (hPa) at a known altitude (m) and
// temperature (°C) to the sea-level "Normal Null" equivalent.
func PressureNN(pressure, altitude, temperature float64) float64 {
	kelvin := temperature + 0.0065*altitude + 273.15
	return pressure / math.Pow(1.0-(0.0065*altitude)/kelvin, 5.255)
}