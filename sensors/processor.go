package sensors

import (
	"math"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
)

// FilterMode selects one of the canonical smoothing presets. The numeric
// parameters behind each preset are chip tuning data, see FilterPreset
// tables on the individual chip strategies.
type FilterMode int

const (
	FilterFast FilterMode = iota
	FilterMedium
	FilterLongterm
)

func (m FilterMode) String() string {
	switch m {
	case FilterFast:
		return "FAST"
	case FilterMedium:
		return "MEDIUM"
	default:
		return "LONGTERM"
	}
}

// ParseFilterMode parses a mode name case-insensitively. Anything
// unrecognized maps to LONGTERM.
func ParseFilterMode(s string) FilterMode {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "FAST":
		return FilterFast
	case "MEDIUM":
		return FilterMedium
	default:
		return FilterLongterm
	}
}

// FilterPreset is the parameter set behind one FilterMode for one channel.
type FilterPreset struct {
	SmoothInterval int           // samples averaged per filter update, >= 1
	PollTime       time.Duration // max time between forced republishes
	Eps            float64       // min absolute delta counting as a change
}

// SensorProcessor is the exponential smoothing filter with
// change-significance gating sitting between raw chip samples and the bus.
// It is single-threaded, owned and called only by its driver's tick.
type SensorProcessor struct {
	smoothInterval int
	pollTime       time.Duration
	eps            float64

	clk clock.Clock

	value       float64
	lastRaw     float64
	lastPub     float64
	lastPubTime time.Time
	primed      bool // false until the first sample after construction/Reset
}

func NewSensorProcessor(p FilterPreset, clk clock.Clock) *SensorProcessor {
	sp := &SensorProcessor{clk: clk}
	sp.Configure(p)
	return sp
}

// Configure replaces the filter parameters and resets accumulation, so a
// mode change is never masked by a stale running average.
func (sp *SensorProcessor) Configure(p FilterPreset) {
	if p.SmoothInterval < 1 {
		p.SmoothInterval = 1
	}
	sp.smoothInterval = p.SmoothInterval
	sp.pollTime = p.PollTime
	sp.eps = p.Eps
	sp.Reset()
}

// Reset clears the running state. The next Filter call publishes
// unconditionally, regardless of eps.
func (sp *SensorProcessor) Reset() {
	sp.primed = false
	sp.value = 0
}

// Filter feeds one raw sample and reports whether the smoothed value is
// worth publishing: first sample after reset, change >= eps, or keep-alive
// interval expired. On true the publish baseline is updated.
func (sp *SensorProcessor) Filter(v float64) bool {
	sp.lastRaw = v
	if !sp.primed {
		sp.value = v
	} else {
		sp.value = (sp.value*float64(sp.smoothInterval-1) + v) / float64(sp.smoothInterval)
	}

	now := sp.clk.Now()
	publish := !sp.primed ||
		math.Abs(sp.value-sp.lastPub) >= sp.eps ||
		now.Sub(sp.lastPubTime) >= sp.pollTime
	sp.primed = true
	if publish {
		sp.lastPub = sp.value
		sp.lastPubTime = now
	}
	return publish
}

// Value returns the current smoothed value.
func (sp *SensorProcessor) Value() float64 { return sp.value }

// LastRaw returns the most recent unfiltered sample.
func (sp *SensorProcessor) LastRaw() float64 { return sp.lastRaw }

// LastPublished returns the current publish baseline.
func (sp *SensorProcessor) LastPublished() float64 { return sp.lastPub }
