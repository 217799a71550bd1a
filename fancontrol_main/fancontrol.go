/*
	fancontrol: standalone cooling fan controller for hosts that run the
	sensor daemon elsewhere (or not at all). PID control of a PWM fan pin
	against a CPU temperature target, with a Prometheus endpoint and a
	JSON status page.

	Usage: fancontrol [flags] install | remove | start | stop | status
*/

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/felixge/pidctrl"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stianeikeland/go-rpio/v4"
	"github.com/takama/daemon"

	"github.com/muwerk/sensord/common"
)

var (
	currentTemp = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "current_temp",
		Help: "Current CPU temp.",
	})

	currentPWM = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "current_pwm",
		Help: "Current PWM value.",
	})

	totalFanOnTime = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "total_fan_on_time",
		Help: "Total fan run time, seconds.",
	})

	totalUptime = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "total_uptime",
		Help: "Total uptime, seconds.",
	})
)

const (
	configLocation = "/etc/sensord-fan.conf"

	defaultTempTarget = 50.
	defaultPwmDutyMin = 50
	pwmDutyMax        = 100
	pwmFanFrequency   = 3000

	// Below this PID output the fan is off rather than stalled.
	fanCutoff = 5.0

	updateDelay = 5 * time.Second

	// Full-duty kick duration when spinning up from rest.
	startKick = 500 * time.Millisecond

	defaultPin = 18

	name        = "fancontrol"
	description = "cooling fan speed control based on CPU temperature"

	addr = ":9977"
)

type FanControl struct {
	TempTarget     float64
	TempCurrent    float64
	PWMDutyMin     uint32
	PWMDutyCurrent uint32
	PWMPin         int
}

var myFanControl FanControl

var configChan = make(chan bool, 1)

func updateStats() {
	ticker := time.NewTicker(1 * time.Second)
	for range ticker.C {
		totalUptime.Inc()
		currentTemp.Set(myFanControl.TempCurrent)
		currentPWM.Set(float64(myFanControl.PWMDutyCurrent))
		if myFanControl.PWMDutyCurrent > 0 {
			totalFanOnTime.Inc()
		}
	}
}

func fmap(x, inMin, inMax, outMin, outMax float64) float64 {
	return (x-inMin)*(outMax-outMin)/(inMax-inMin) + outMin
}

func fanControl() {
	go common.CpuTempMonitor(func(cpuTemp float32) {
		myFanControl.TempCurrent = float64(cpuTemp)
	})

	if err := rpio.Open(); err != nil {
		log.Printf("can't open gpio: %v\n", err)
		os.Exit(1)
	}
	defer rpio.Close()

	pin := rpio.Pin(myFanControl.PWMPin)
	pin.Mode(rpio.Pwm)
	pin.Freq(pwmFanFrequency)

	dutyCycleToHW := func(dutyCycle float64) uint32 {
		mappedMin := fmap(float64(myFanControl.PWMDutyMin), 0, 100, 0, pwmDutyMax)
		return uint32(math.Ceil(fmap(dutyCycle, 0, 100, mappedMin, pwmDutyMax)))
	}

	// Power-on test: lets the user verify the fan keeps spinning at the
	// configured minimum duty.
	turnOnFanTest := func() {
		myFanControl.PWMDutyCurrent = 100
		pin.DutyCycle(dutyCycleToHW(100), pwmDutyMax)
		time.Sleep(startKick)
		myFanControl.PWMDutyCurrent = myFanControl.PWMDutyMin
		pin.DutyCycle(dutyCycleToHW(float64(myFanControl.PWMDutyMin)), pwmDutyMax)
		time.Sleep(10 * time.Second)
	}
	turnOnFanTest()

	prometheus.MustRegister(currentTemp, currentPWM, totalFanOnTime, totalUptime)
	go updateStats()

	pidControl := pidctrl.NewPIDController(0.2, 0.2, 0.1)
	pidControl.SetOutputLimits(-100, 0)
	pidControl.Set(myFanControl.TempTarget)

	ticker := time.NewTicker(updateDelay)
	lastOut := 0.0
	for {
		out := -pidControl.UpdateDuration(myFanControl.TempCurrent, updateDelay)

		if lastOut <= fanCutoff && out > fanCutoff {
			log.Println("starting up fan")
			myFanControl.PWMDutyCurrent = 100
			pin.DutyCycle(pwmDutyMax, pwmDutyMax)
			time.Sleep(startKick)
		}

		if out > fanCutoff {
			myFanControl.PWMDutyCurrent = uint32(out)
			pin.DutyCycle(dutyCycleToHW(out), pwmDutyMax)
		} else {
			myFanControl.PWMDutyCurrent = 0
			pin.DutyCycle(0, pwmDutyMax)
		}
		lastOut = out

		select {
		case <-ticker.C:
		case <-configChan:
			pidControl.Set(myFanControl.TempTarget)
			lastOut = 0
			turnOnFanTest()
		}
	}
}

// Service has embedded daemon
type Service struct {
	daemon.Daemon
}

// Manage by daemon commands or run the daemon
func (service *Service) Manage() (string, error) {
	tempTarget := flag.Float64("temp", defaultTempTarget, "Target CPU Temperature, degrees C")
	pwmDutyMin := flag.Int("minduty", defaultPwmDutyMin, "Minimum PWM duty cycle")
	pin := flag.Int("pin", defaultPin, "PWM pin (BCM numbering)")
	flag.Parse()

	usage := "Usage: " + name + " install | remove | start | stop | status"
	if flag.NArg() > 0 {
		switch flag.Arg(0) {
		case "install":
			return service.Install()
		case "remove":
			return service.Remove()
		case "start":
			return service.Start()
		case "stop":
			return service.Stop()
		case "status":
			return service.Status()
		default:
			return usage, nil
		}
	}

	myFanControl.TempTarget = *tempTarget
	myFanControl.PWMDutyMin = uint32(*pwmDutyMin)
	myFanControl.PWMPin = *pin

	readSettings()

	go fanControl()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)

	http.HandleFunc("/", handleStatusRequest)
	http.Handle("/metrics", promhttp.Handler())
	go http.ListenAndServe(addr, nil)

	for {
		killSignal := <-interrupt
		log.Println("Got signal:", killSignal)
		if killSignal == syscall.SIGINT {
			return "Daemon was interrupted by system signal", nil
		} else if killSignal == syscall.SIGUSR1 {
			readSettings()
			configChan <- true
		} else {
			return "Daemon was killed", nil
		}
	}
}

func readSettings() {
	buf, err := os.ReadFile(configLocation)
	if err != nil {
		log.Printf("can't read settings %s: %s\n", configLocation, err.Error())
		return
	}
	if err := json.Unmarshal(buf, &myFanControl); err != nil {
		log.Printf("can't read settings %s: %s\n", configLocation, err.Error())
		return
	}
	log.Printf("read in settings.\n")
}

func handleStatusRequest(w http.ResponseWriter, r *http.Request) {
	statusJSON, _ := json.Marshal(&myFanControl)
	w.Write(statusJSON)
}

func main() {
	srv, err := daemon.New(name, description, daemon.SystemDaemon)
	if err != nil {
		log.Println("Error: ", err)
		os.Exit(1)
	}
	service := &Service{srv}
	status, err := service.Manage()
	if err != nil {
		log.Println(status, "\nError: ", err)
		os.Exit(1)
	}
	fmt.Println(status)
}
