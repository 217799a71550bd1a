package sensors

import (
	"log"
	"time"

	"github.com/benbjohnson/clock"
)

// EngineState is the acquisition state machine position.
type EngineState int

const (
	StateUnavailable EngineState = iota
	StateIdle
	StateWait
	StateWaitNextCycle
	StateErrorWait
)

func (s EngineState) String() string {
	switch s {
	case StateUnavailable:
		return "UNAVAILABLE"
	case StateIdle:
		return "IDLE"
	case StateWait:
		return "MEASURE_WAIT"
	case StateWaitNextCycle:
		return "WAIT_NEXT_CYCLE"
	case StateErrorWait:
		return "ERROR_WAIT"
	default:
		return "INVALID"
	}
}

// Stage is one conversion step of a measurement cycle.
type Stage struct {
	// Name shows up in debug logs only.
	Name string
	// MinWait is the datasheet minimum conversion time for this stage. The
	// engine does not touch the bus before it has elapsed.
	MinWait time.Duration
	// Ready, if non-nil, polls a hardware data-ready/measuring flag once
	// MinWait has elapsed. Nil means the fixed delay alone gates the stage.
	Ready func() (bool, error)
	// ReadyTimeout bounds how long a Ready poll may keep reporting false
	// before the cycle counts as failed. Zero selects a default.
	ReadyTimeout time.Duration
	// Enter, if non-nil, runs once when the engine advances into this
	// stage: typically the register write triggering the next conversion.
	Enter func() error
}

// Chip is the per-sensor strategy driven by the Engine. Implementations do
// at most one bus transaction per method call.
type Chip interface {
	// Name is the chip model, used as log prefix ("BMP280").
	Name() string
	// Probe verifies device identity and loads factory calibration. An
	// error here leaves the driver permanently unavailable: the engine
	// never trusts zeroed calibration constants.
	Probe() error
	// StartCycle triggers the first conversion stage of a cycle.
	StartCycle() error
	// Stages returns the conversion stages of one cycle, in order. Stage 0
	// is entered by StartCycle, so its Enter is ignored.
	Stages() []Stage
	// Collect reads the raw result registers and applies compensation,
	// returning one value per measurement channel.
	Collect() (map[string]float64, error)
	// Channels describes the measurement channels Collect produces.
	Channels() []ChannelSpec
}

const (
	defaultErrorLimit    = 10
	defaultErrorCooldown = 5000 * time.Millisecond
	defaultReadyTimeout  = 1 * time.Second
)

// Engine drives one chip's measurement cycle without ever blocking. Each
// Tick performs at most one state evaluation: a single bus transaction or a
// pure deadline comparison.
type Engine struct {
	chip Chip
	clk  clock.Clock

	// CycleTime is the idle interval between full measurement cycles,
	// measured from cycle start.
	CycleTime time.Duration
	// ErrorLimit is the consecutive-failure count above which the engine
	// enters ERROR_WAIT.
	ErrorLimit int
	// ErrorCooldown is how long ERROR_WAIT holds before re-probing.
	ErrorCooldown time.Duration

	state      EngineState
	stages     []Stage
	stage      int
	stageReady bool        // gate passed via Ready poll, act next tick
	stamp      time.Time   // last state transition
	cycleStart time.Time
	active     bool

	errCount int
	lastErr  error
}

func NewEngine(chip Chip, clk clock.Clock, cycleTime time.Duration) *Engine {
	return &Engine{
		chip:          chip,
		clk:           clk,
		CycleTime:     cycleTime,
		ErrorLimit:    defaultErrorLimit,
		ErrorCooldown: defaultErrorCooldown,
		state:         StateUnavailable,
	}
}

// Begin probes the chip. On success the engine becomes active in IDLE; on
// failure it stays UNAVAILABLE and all further Ticks are no-ops.
func (e *Engine) Begin() bool {
	if err := e.chip.Probe(); err != nil {
		log.Printf("%s Error: probe failed, sensor disabled: %v", e.chip.Name(), err)
		e.state = StateUnavailable
		e.active = false
		return false
	}
	e.state = StateIdle
	e.stamp = e.clk.Now()
	e.active = true
	e.errCount = 0
	return true
}

func (e *Engine) Active() bool       { return e.active }
func (e *Engine) State() EngineState { return e.state }
func (e *Engine) ErrorCount() int    { return e.errCount }
func (e *Engine) LastError() error   { return e.lastErr }

// fail records one missed cycle and escalates to ERROR_WAIT once the
// consecutive-failure count exceeds the limit.
func (e *Engine) fail(err error) {
	e.errCount++
	e.lastErr = err
	e.stageReady = false
	if e.errCount > e.ErrorLimit {
		log.Printf("%s Error: %d consecutive failures, cooling down: %v",
			e.chip.Name(), e.errCount, err)
		e.state = StateErrorWait
	} else {
		e.state = StateWaitNextCycle
	}
	e.stamp = e.clk.Now()
}

// Tick advances the state machine one step. It returns the calibrated
// channel values and true exactly when a cycle completed successfully.
func (e *Engine) Tick() (map[string]float64, bool) {
	now := e.clk.Now()

	switch e.state {
	case StateUnavailable:
		return nil, false

	case StateIdle:
		e.cycleStart = now
		if err := e.chip.StartCycle(); err != nil {
			e.fail(err)
			return nil, false
		}
		e.stages = e.chip.Stages()
		e.stage = 0
		e.stageReady = false
		e.state = StateWait
		e.stamp = now
		return nil, false

	case StateWait:
		st := e.stages[e.stage]
		if !e.stageReady {
			if now.Sub(e.stamp) < st.MinWait {
				return nil, false
			}
			if st.Ready != nil {
				ok, err := st.Ready()
				if err != nil {
					e.fail(err)
					return nil, false
				}
				if !ok {
					timeout := st.ReadyTimeout
					if timeout == 0 {
						timeout = defaultReadyTimeout
					}
					if now.Sub(e.stamp) > st.MinWait+timeout {
						e.fail(errStageTimeout)
					}
					return nil, false
				}
				// The poll was this tick's bus transaction; the collect
				// or advance write gets the next one.
				e.stageReady = true
				return nil, false
			}
		}
		e.stageReady = false
		if e.stage == len(e.stages)-1 {
			vals, err := e.chip.Collect()
			if err != nil {
				e.fail(err)
				return nil, false
			}
			e.errCount = 0
			e.lastErr = nil
			e.state = StateWaitNextCycle
			e.stamp = now
			return vals, true
		}
		e.stage++
		e.stamp = now
		if enter := e.stages[e.stage].Enter; enter != nil {
			if err := enter(); err != nil {
				e.fail(err)
			}
		}
		return nil, false

	case StateWaitNextCycle:
		if now.Sub(e.cycleStart) >= e.CycleTime {
			e.state = StateIdle
			e.stamp = now
		}
		return nil, false

	case StateErrorWait:
		if now.Sub(e.stamp) < e.ErrorCooldown {
			return nil, false
		}
		// Full re-initialization after the cooldown: the chip may have
		// browned out and lost its configuration.
		if err := e.chip.Probe(); err != nil {
			e.lastErr = err
			e.stamp = now
			return nil, false
		}
		log.Printf("%s Info: recovered after error cooldown", e.chip.Name())
		e.errCount = 0
		e.state = StateIdle
		e.stamp = now
		return nil, false
	}
	return nil, false
}

var errStageTimeout = &stageTimeoutError{}

type stageTimeoutError struct{}

func (*stageTimeoutError) Error() string { return "conversion data-ready timeout" }
