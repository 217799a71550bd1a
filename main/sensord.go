/*
	sensord.go: Daemon entry point. Builds the scheduler/bus pair, attaches
	the configured sensor drivers and the supporting services (management
	interface, MQTT bridge, datalog, metrics, fan control), then runs until
	signalled. SIGUSR1 reloads settings.
*/

package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/takama/daemon"

	"github.com/muwerk/sensord/muwerk"
)

const (
	name        = "sensord"
	description = "cooperative multi-sensor acquisition daemon"
)

var (
	sensordVersion = "v0.9"
	configLocation = "/etc/sensord.conf"
)

type status struct {
	Version     string
	Uptime      int64
	UptimeHuman string
	CPUTemp     float32
	Sensors     []SensorStatus
	MQTTBridge  bool
	Datalogging bool
}

// currentStatus assembles a fresh status snapshot. Everything it reads is
// either immutable or mutex/atomic-guarded, so any goroutine may call it.
func currentStatus() status {
	s := settingsSnapshot()
	return status{
		Version:     sensordVersion,
		Uptime:      sensordClock.Seconds(),
		UptimeHuman: sensordClock.UptimeHuman(),
		CPUTemp:     currentCPUTemp(),
		Sensors:     sensorStatuses(),
		MQTTBridge:  s.MQTT.Enabled,
		Datalogging: s.Datalog.Enabled && !dataLogPaused.Load(),
	}
}

// Service has embedded daemon
type Service struct {
	daemon.Daemon
}

// Manage handles the service verbs or runs the daemon loop.
func (service *Service) Manage() (string, error) {
	configFlag := flag.String("config", configLocation, "Settings file location")
	logDirFlag := flag.String("logdir", "/var/log", "Directory for the debug log")
	flag.Parse()
	configLocation = *configFlag

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

	initLogging(*logDirFlag)
	log.Printf("sensord %s starting.\n", sensordVersion)
	readSettings()

	bus := muwerk.NewBus()
	tick := time.Duration(globalSettings.SchedulerMs) * time.Millisecond
	sched := muwerk.NewScheduler(bus, tick)
	clk := clock.New()

	initSensors(sched, clk)
	initMetrics(sched)
	initDataLog(bus)
	initFanControl(bus)
	if globalSettings.MQTT.Enabled {
		if _, err := initMQTT(bus); err != nil {
			log.Printf("mqtt bridge disabled: %v\n", err)
		}
	}
	go managementInterface(sched)
	go sched.Run()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)
	for {
		killSignal := <-interrupt
		log.Println("Got signal:", killSignal)
		if killSignal == syscall.SIGUSR1 {
			readSettings()
			continue
		}
		sched.Stop()
		closeDataLog()
		if killSignal == syscall.SIGINT {
			return "Daemon was interrupted by system signal", nil
		}
		return "Daemon was killed", nil
	}
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
