/*
	metrics.go: Prometheus instrumentation, scraped via the management
	interface's /metrics endpoint.
*/

package main

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/muwerk/sensord/muwerk"
)

var (
	sensorValue = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sensord_sensor_value",
		Help: "Last published reading per sensor channel.",
	}, []string{"sensor", "channel"})

	sensorActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sensord_sensor_active",
		Help: "1 while the sensor's acquisition engine is active.",
	}, []string{"sensor"})

	sensorErrors = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sensord_sensor_consecutive_errors",
		Help: "Consecutive failed measurement cycles.",
	}, []string{"sensor"})

	busMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sensord_bus_messages_total",
		Help: "Messages dispatched on the internal bus.",
	})

	cpuTempGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sensord_cpu_temp",
		Help: "SoC temperature, degrees C.",
	})

	uptimeSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sensord_uptime_seconds",
		Help: "Monotonic uptime.",
	})
)

// initMetrics registers the collectors, mirrors published readings into the
// value gauge and adds the periodic engine-state scrape task.
func initMetrics(sched *muwerk.Scheduler) {
	prometheus.MustRegister(sensorValue, sensorActive, sensorErrors,
		busMessages, cpuTempGauge, uptimeSeconds)

	sched.Bus().Subscribe("#", func(topic, msg string) {
		busMessages.Inc()
		sensor, channel, ok := parseReadingTopic(topic)
		if !ok {
			return
		}
		if v, err := strconv.ParseFloat(msg, 64); err == nil {
			sensorValue.WithLabelValues(sensor, channel).Set(v)
		}
	})

	sched.Add("metrics", 1*time.Second, func() {
		for _, st := range sensorStatuses() {
			active := 0.0
			if st.Active {
				active = 1.0
			}
			sensorActive.WithLabelValues(st.Name).Set(active)
			sensorErrors.WithLabelValues(st.Name).Set(float64(st.Errors))
		}
		if t := currentCPUTemp(); t > 0 {
			cpuTempGauge.Set(float64(t))
		}
		uptimeSeconds.Set(float64(sensordClock.Seconds()))
	})
}
