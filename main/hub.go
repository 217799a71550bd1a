/*
	hub.go: Builds the configured sensor drivers, attaches them to the
	scheduler/bus pair and keeps the per-sensor status the management
	interface reports.
*/

package main

import (
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/kidoman/embd"
	_ "github.com/kidoman/embd/host/all"
	"github.com/stianeikeland/go-rpio/v4"

	"github.com/muwerk/sensord/common"
	"github.com/muwerk/sensord/muwerk"
	"github.com/muwerk/sensord/sensors"
)

type sensorEntry struct {
	cfg    SensorConfig
	driver *sensors.Driver
	gpio   *sensors.GPIOInput
}

// SensorStatus is the management interface's view of one configured sensor.
type SensorStatus struct {
	Name      string
	Chip      string
	Active    bool
	State     string
	Errors    int
	LastError string
	Publishes uint64
}

var (
	i2cBuses   = map[int]embd.I2CBus{}
	i2cLocks   = map[int]*sync.Mutex{}
	sensorHub  []*sensorEntry
	rpioOpened bool

	// Latest CPU temperature, updated by the monitor goroutine, read by
	// the cputemp task and the fan controller. Bits of a float64.
	cpuTempBits uint64
)

func i2cRegsFor(busNo int, addr byte) *sensors.I2CRegs {
	if _, ok := i2cBuses[busNo]; !ok {
		i2cBuses[busNo] = embd.NewI2CBus(byte(busNo))
		i2cLocks[busNo] = &sync.Mutex{}
	}
	return sensors.NewI2CRegs(i2cBuses[busNo], i2cLocks[busNo], addr)
}

func needRpio() error {
	if rpioOpened {
		return nil
	}
	if err := rpio.Open(); err != nil {
		return err
	}
	rpioOpened = true
	return nil
}

// buildChip maps one SensorConfig onto a chip strategy. A zero address
// selects the chip's default bus address.
func buildChip(cfg SensorConfig) (sensors.Chip, error) {
	addr := func(def byte) byte {
		if cfg.Address != 0 {
			return cfg.Address
		}
		return def
	}
	switch strings.ToUpper(cfg.Chip) {
	case "BMP180":
		return sensors.NewBMP180(i2cRegsFor(cfg.Bus, addr(sensors.BMP180Address))), nil
	case "BMP280":
		return sensors.NewBMP280(i2cRegsFor(cfg.Bus, addr(sensors.BMP280Address1))), nil
	case "BME280":
		return sensors.NewBME280(i2cRegsFor(cfg.Bus, addr(sensors.BMP280Address1))), nil
	case "HMC5883L":
		return sensors.NewHMC5883L(i2cRegsFor(cfg.Bus, addr(sensors.HMC5883LAddress))), nil
	case "QMC5883L":
		return sensors.NewQMC5883L(i2cRegsFor(cfg.Bus, addr(sensors.QMC5883LAddress))), nil
	case "GDK101":
		return sensors.NewGDK101(i2cRegsFor(cfg.Bus, addr(sensors.GDK101Address))), nil
	case "CCS811":
		return sensors.NewCCS811(i2cRegsFor(cfg.Bus, addr(sensors.CCS811Address))), nil
	case "ADS1115":
		return sensors.NewADS1115(i2cRegsFor(cfg.Bus, addr(sensors.ADS1115Address)),
			cfg.Input, cfg.ChannelName, cfg.Scale, cfg.Precision)
	case "DHT22":
		pin, err := embd.NewDigitalPin(cfg.Pin)
		if err != nil {
			return nil, err
		}
		return sensors.NewDHT22(pin), nil
	default:
		return nil, fmt.Errorf("unknown sensor chip %q", cfg.Chip)
	}
}

// initSensors attaches every configured sensor. Failed probes are reported
// and skipped; the daemon runs with whatever hardware answered.
func initSensors(sched *muwerk.Scheduler, clk clock.Clock) {
	tick := time.Duration(globalSettings.SchedulerMs) * time.Millisecond
	for _, cfg := range globalSettings.Sensors {
		cfg := cfg
		if strings.EqualFold(cfg.Chip, "GPIO") {
			if err := needRpio(); err != nil {
				log.Printf("%s Error: gpio unavailable: %v", cfg.Name, err)
				continue
			}
			debounce := time.Duration(cfg.DebounceMs) * time.Millisecond
			g := sensors.NewGPIOInput(cfg.Name, cfg.Pin, sched.Bus(), clk, debounce)
			g.Begin(sched, tick)
			sensorHub = append(sensorHub, &sensorEntry{cfg: cfg, gpio: g})
			continue
		}

		chip, err := buildChip(cfg)
		if err != nil {
			log.Printf("%s Error: %v", cfg.Name, err)
			continue
		}
		cycle := time.Duration(cfg.CycleTimeMs) * time.Millisecond
		if cycle <= 0 {
			cycle = time.Second
		}
		d := sensors.NewDriver(cfg.Name, chip, sched.Bus(), clk,
			sensors.ParseFilterMode(cfg.FilterMode), cycle)
		if !d.Begin(sched, tick) {
			log.Printf("%s Warning: %s did not answer, sensor disabled", cfg.Name, cfg.Chip)
		}
		sensorHub = append(sensorHub, &sensorEntry{cfg: cfg, driver: d})
	}

	refreshStatusSnapshot()
	sched.Add("status", 1*time.Second, refreshStatusSnapshot)
	initCPUTemp(sched)
}

// initCPUTemp publishes the SoC temperature as the pseudo-sensor
// "cpu/sensor/temperature". The sysfs read can stall, so a goroutine does
// the reading and the scheduler task only formats the latest value.
func initCPUTemp(sched *muwerk.Scheduler) {
	go common.CpuTempMonitor(func(t float32) {
		atomic.StoreUint64(&cpuTempBits, math.Float64bits(float64(t)))
	})
	sched.Add("cputemp", 10*time.Second, func() {
		t := math.Float64frombits(atomic.LoadUint64(&cpuTempBits))
		if t <= 0 {
			return
		}
		sched.Bus().Publish("cpu/sensor/temperature", fmt.Sprintf("%.1f", t))
	})
	sched.Bus().Subscribe("cpu/sensor/temperature/get", func(string, string) {
		t := math.Float64frombits(atomic.LoadUint64(&cpuTempBits))
		sched.Bus().Publish("cpu/sensor/temperature", fmt.Sprintf("%.1f", t))
	})
}

func currentCPUTemp() float32 {
	return float32(math.Float64frombits(atomic.LoadUint64(&cpuTempBits)))
}

var (
	statusMu       sync.RWMutex
	statusSnapshot []SensorStatus
)

// refreshStatusSnapshot runs as a scheduler task: engine state and publish
// counters may only be read on the scheduler goroutine.
func refreshStatusSnapshot() {
	snap := collectSensorStatuses()
	statusMu.Lock()
	statusSnapshot = snap
	statusMu.Unlock()
}

// sensorStatuses returns the last snapshot, safe from any goroutine.
func sensorStatuses() []SensorStatus {
	statusMu.RLock()
	defer statusMu.RUnlock()
	out := make([]SensorStatus, len(statusSnapshot))
	copy(out, statusSnapshot)
	return out
}

func collectSensorStatuses() []SensorStatus {
	out := make([]SensorStatus, 0, len(sensorHub))
	for _, e := range sensorHub {
		st := SensorStatus{Name: e.cfg.Name, Chip: e.cfg.Chip}
		switch {
		case e.driver != nil:
			eng := e.driver.Engine()
			st.Active = eng.Active()
			st.State = eng.State().String()
			st.Errors = eng.ErrorCount()
			if err := eng.LastError(); err != nil {
				st.LastError = err.Error()
			}
			st.Publishes = e.driver.Publishes
		case e.gpio != nil:
			st.Active = true
			st.State = "POLLING"
			st.Publishes = e.gpio.Publishes
		}
		out = append(out, st)
	}
	return out
}
