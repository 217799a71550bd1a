package sensors

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stianeikeland/go-rpio/v4"

	"github.com/muwerk/sensord/muwerk"
)

// GPIOInput is a debounced digital input mupplet (reed contact, rain
// gauge tip, PIR) on a BCM pin. It stays off the acquisition engine: the
// scheduler tick polls the edge-detect latch, which is non-blocking, so
// there is no conversion to wait for.
type GPIOInput struct {
	name     string
	pin      rpio.Pin
	bus      *muwerk.Bus
	clk      clock.Clock
	debounce time.Duration

	state      bool
	lastChange time.Time
	edges      uint64

	Publishes uint64
}

// NewGPIOInput configures bcmPin as a pulled-up input with both-edge
// detection. rpio.Open must have been called by the host process.
func NewGPIOInput(name string, bcmPin int, bus *muwerk.Bus, clk clock.Clock,
	debounce time.Duration) *GPIOInput {
	pin := rpio.Pin(bcmPin)
	pin.Input()
	pin.PullUp()
	pin.Detect(rpio.AnyEdge)
	return &GPIOInput{
		name:     name,
		pin:      pin,
		bus:      bus,
		clk:      clk,
		debounce: debounce,
	}
}

func (g *GPIOInput) Name() string { return g.name }

// Begin publishes the initial state and registers the poll task.
func (g *GPIOInput) Begin(sched *muwerk.Scheduler, tickInterval time.Duration) {
	g.state = g.pin.Read() == rpio.Low // pulled up: low means closed
	g.lastChange = g.clk.Now()
	g.publishState()
	g.bus.Subscribe(g.name+"/sensor/state/get", func(string, string) {
		g.publishState()
	})
	sched.Add(g.name, tickInterval, g.Tick)
}

func (g *GPIOInput) Tick() {
	if !g.pin.EdgeDetected() {
		return
	}
	g.edges++
	now := g.clk.Now()
	if now.Sub(g.lastChange) < g.debounce {
		return
	}
	state := g.pin.Read() == rpio.Low
	if state == g.state {
		return
	}
	g.state = state
	g.lastChange = now
	g.publishState()
}

func (g *GPIOInput) publishState() {
	v := "0"
	if g.state {
		v = "1"
	}
	g.bus.Publish(g.name+"/sensor/state", v)
	g.Publishes++
}

// EdgeCount returns raw (pre-debounce) edges seen since start.
func (g *GPIOInput) EdgeCount() uint64 { return g.edges }

// Close disables edge detection on the pin.
func (g *GPIOInput) Close() {
	g.pin.Detect(rpio.NoEdge)
}
