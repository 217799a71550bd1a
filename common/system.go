// Package common holds the small host-level helpers shared between the
// sensord daemon and the standalone fan controller: CPU temperature
// monitoring, disk usage checks and privilege detection.
package common

import (
	"os"
	"os/user"
	"strconv"
	"strings"
	"time"

	"github.com/ricochet2200/go-disk-usage/du"
)

const (
	cpuTempPath = "/sys/class/thermal/thermal_zone0/temp"

	// InvalidCpuTemp is reported when the thermal zone cannot be read.
	InvalidCpuTemp = float32(-99.0)
)

type CpuTempUpdateFunc func(cpuTemp float32)

// ReadCPUTemp reads the SoC temperature once. Some kernels report
// millidegrees, very old ones plain degrees.
func ReadCPUTemp() float32 {
	raw, err := os.ReadFile(cpuTempPath)
	if err != nil {
		return InvalidCpuTemp
	}
	tInt, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return InvalidCpuTemp
	}
	if tInt > 1000 {
		return float32(tInt) / 1000.0
	}
	return float32(tInt)
}

// CpuTempMonitor polls the board temperature every second and calls the
// updater with each valid reading. Run as its own goroutine: reading the
// thermal zone sysfs file can hang for a while on buggy firmware, and that
// stall must never reach a cooperative scheduler task.
func CpuTempMonitor(updater CpuTempUpdateFunc) {
	ticker := time.NewTicker(1 * time.Second)
	for {
		if t := ReadCPUTemp(); IsCPUTempValid(t) {
			updater(t)
		}
		<-ticker.C
	}
}

// IsCPUTempValid assumes readings <= 0 indicate a broken sensor path.
func IsCPUTempValid(cpuTemp float32) bool {
	return cpuTemp > 0
}

// DiskUsagePercent reports how full the filesystem holding path is, 0-100.
// Returns -1 when the path cannot be statted.
func DiskUsagePercent(path string) float64 {
	usage := du.NewDiskUsage(path)
	if usage == nil || usage.Size() == 0 {
		return -1
	}
	return float64(usage.Usage()) * 100.0
}

func IsRunningAsRoot() bool {
	usr, err := user.Current()
	return err == nil && usr.Username == "root"
}
