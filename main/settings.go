/*
	settings.go: Daemon configuration. Read once at startup, saved whenever
	the management interface changes anything, reloaded on SIGUSR1.
*/

package main

import (
	"encoding/json"
	"log"
	"os"
	"sync"
)

// SensorConfig declares one attached sensor. Chip selects the driver
// ("BMP180", "BMP280", "BME280", "HMC5883L", "QMC5883L", "GDK101",
// "CCS811", "ADS1115", "DHT22", "GPIO"). Address is the I2C address, 0 for
// the chip default; Pin is the BCM pin for GPIO-based sensors.
type SensorConfig struct {
	Name        string
	Chip        string
	Bus         int
	Address     byte
	Pin         int
	FilterMode  string
	CycleTimeMs int

	// ADS1115 wiring: which input, what the attached divider measures.
	Input       int
	ChannelName string
	Scale       float64
	Precision   int

	// GPIO input debounce.
	DebounceMs int
}

type MQTTConfig struct {
	Enabled  bool
	Broker   string // tcp://host:1883
	ClientID string
	Username string
	Password string
	Prefix   string // prepended to every outbound topic
}

type DatalogConfig struct {
	Enabled bool
	Path    string
	// MaxDiskUsagePercent pauses logging when the filesystem fills past
	// this mark.
	MaxDiskUsagePercent float64
}

type FanControlConfig struct {
	Enabled    bool
	TempTarget float64
	PWMPin     int
	PWMDutyMin uint32
}

type settings struct {
	Sensors        []SensorConfig
	MQTT           MQTTConfig
	Datalog        DatalogConfig
	FanControl     FanControlConfig
	ManagementAddr string
	SchedulerMs    int
	DEBUG          bool
}

// globalSettings is written by the HTTP/WebSocket handlers and the SIGUSR1
// reload while scheduler tasks read it; all access goes through settingsMu.
var (
	globalSettings settings
	settingsMu     sync.RWMutex
)

// settingsSnapshot returns a copy safe to read from any goroutine. The
// Sensors slice is shared and must be treated as read-only.
func settingsSnapshot() settings {
	settingsMu.RLock()
	defer settingsMu.RUnlock()
	return globalSettings
}

func defaultSettings() {
	settingsMu.Lock()
	defer settingsMu.Unlock()
	globalSettings = settings{
		Sensors: []SensorConfig{
			{Name: "bmp01", Chip: "BMP280", Bus: 1, FilterMode: "MEDIUM", CycleTimeMs: 1000},
		},
		MQTT: MQTTConfig{Broker: "tcp://localhost:1883", ClientID: "sensord"},
		Datalog: DatalogConfig{
			Path:                "/var/log/sensord.sqlite",
			MaxDiskUsagePercent: 95,
		},
		FanControl: FanControlConfig{
			TempTarget: 50,
			PWMPin:     18,
			PWMDutyMin: 50,
		},
		ManagementAddr: ":8911",
		SchedulerMs:    10,
	}
}

func readSettings() {
	buf, err := os.ReadFile(configLocation)
	if err != nil {
		log.Printf("can't read settings %s: %s\n", configLocation, err.Error())
		defaultSettings()
		return
	}
	var newSettings settings
	err = json.Unmarshal(buf, &newSettings)
	if err != nil {
		log.Printf("can't read settings %s: %s\n", configLocation, err.Error())
		defaultSettings()
		return
	}
	settingsMu.Lock()
	globalSettings = newSettings
	settingsMu.Unlock()
	log.Printf("read in settings.\n")
}

func saveSettings() {
	current := settingsSnapshot()
	jsonSettings, _ := json.MarshalIndent(&current, "", "\t")
	err := os.WriteFile(configLocation, jsonSettings, 0644)
	if err != nil {
		log.Printf("can't save settings %s: %s\n", configLocation, err.Error())
		return
	}
	log.Printf("wrote settings.\n")
}
