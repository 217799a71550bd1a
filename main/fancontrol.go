/*
	fancontrol.go: PID-based cooling fan speed control on a PWM pin,
	driven by the CPU temperature monitor. The fan state is published on
	the bus like any other reading.
*/

package main

import (
	"log"
	"math"
	"strconv"
	"time"

	"github.com/felixge/pidctrl"
	"github.com/stianeikeland/go-rpio/v4"

	"github.com/muwerk/sensord/muwerk"
)

const (
	pwmDutyMax      = 100
	pwmFanFrequency = 3000

	// Below this PID output the fan is switched off entirely instead of
	// stalling at a duty cycle it cannot spin at.
	fanCutoff = 5.0

	// Kick the fan at full duty for this long when spinning up from rest.
	fanStartKick = 500 * time.Millisecond

	fanUpdateDelay = 5 * time.Second
)

type fanControl struct {
	pin     rpio.Pin
	pid     *pidctrl.PIDController
	bus     *muwerk.Bus
	dutyMin uint32

	duty    uint32
	lastOut float64
}

func fmap(x, inMin, inMax, outMin, outMax float64) float64 {
	return (x-inMin)*(outMax-outMin)/(inMax-inMin) + outMin
}

// dutyToHW maps a 0-100 control value into the usable hardware range: the
// configured minimum duty is the lowest value the fan reliably spins at.
func (f *fanControl) dutyToHW(duty float64) uint32 {
	mappedMin := fmap(float64(f.dutyMin), 0, 100, 0, pwmDutyMax)
	return uint32(math.Ceil(fmap(duty, 0, 100, mappedMin, pwmDutyMax)))
}

// initFanControl starts the control loop. Requires rpio to be usable; on a
// dev machine without GPIO the feature just logs and stays off.
func initFanControl(bus *muwerk.Bus) {
	cfg := settingsSnapshot().FanControl
	if err := needRpio(); err != nil {
		log.Printf("fancontrol disabled: %v\n", err)
		return
	}

	pin := rpio.Pin(cfg.PWMPin)
	pin.Mode(rpio.Pwm)
	pin.Freq(pwmFanFrequency)

	pid := pidctrl.NewPIDController(0.2, 0.2, 0.1)
	pid.SetOutputLimits(-100, 0)
	pid.Set(cfg.TempTarget)

	f := &fanControl{pin: pin, pid: pid, bus: bus, dutyMin: cfg.PWMDutyMin}
	go f.run()
}

func (f *fanControl) run() {
	// Power-on test: full kick, then minimum duty, so a misconfigured
	// minimum shows up as a stopped fan right at boot.
	f.setDuty(100)
	time.Sleep(fanStartKick)
	f.setDuty(float64(f.dutyMin))
	time.Sleep(10 * time.Second)

	ticker := time.NewTicker(fanUpdateDelay)
	for range ticker.C {
		if !settingsSnapshot().FanControl.Enabled {
			f.setDuty(0)
			continue
		}
		temp := float64(currentCPUTemp())
		if temp <= 0 {
			continue
		}
		out := -f.pid.UpdateDuration(temp, fanUpdateDelay)

		if f.lastOut <= fanCutoff && out > fanCutoff {
			// Spin-up from rest needs a kick.
			f.setDuty(100)
			time.Sleep(fanStartKick)
		}
		if out > fanCutoff {
			f.setDuty(out)
		} else {
			f.setDuty(0)
		}
		f.lastOut = out

		f.bus.Publish("fan/sensor/duty", strconv.FormatUint(uint64(f.duty), 10))
	}
}

func (f *fanControl) setDuty(duty float64) {
	if duty <= 0 {
		f.duty = 0
		f.pin.DutyCycle(0, pwmDutyMax)
		return
	}
	f.duty = uint32(duty)
	f.pin.DutyCycle(f.dutyToHW(duty), pwmDutyMax)
}
