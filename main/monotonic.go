/*
	monotonic.go: Uptime accounting on a monotonic tick counter. The Pi has
	no RTC and jumps wall time after NTP sync, which must never shorten or
	stretch uptime or the datalog's relative timestamps.
*/

package main

import (
	"strings"
	"sync/atomic"
	"time"

	humanize "github.com/dustin/go-humanize"
)

const monoTick = 10 * time.Millisecond

// monoClock counts scheduler-independent uptime. The counter is atomic:
// HTTP handlers, the datalog callback and the metrics task all read it
// while the ticker goroutine advances it.
type monoClock struct {
	ms atomic.Uint64
}

func newMonoClock() *monoClock {
	m := &monoClock{}
	go m.run()
	return m
}

func (m *monoClock) run() {
	ticker := time.NewTicker(monoTick)
	for range ticker.C {
		m.ms.Add(uint64(monoTick / time.Millisecond))
	}
}

func (m *monoClock) Milliseconds() uint64 { return m.ms.Load() }

func (m *monoClock) Seconds() int64 {
	return int64(m.Milliseconds() / 1000)
}

func (m *monoClock) Uptime() time.Duration {
	return time.Duration(m.Milliseconds()) * time.Millisecond
}

// UptimeHuman renders the uptime the way the web frontend shows it
// ("18 minutes", "3 days").
func (m *monoClock) UptimeHuman() string {
	base := time.Time{}
	return strings.TrimSpace(humanize.RelTime(base, base.Add(m.Uptime()), "", ""))
}

var sensordClock = newMonoClock()
