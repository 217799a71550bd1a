/*
	datalog.go: Log published sensor readings to SQLite. Inserts run on
	their own goroutine fed by a channel so a slow SD card never stalls the
	scheduler loop; logging pauses when the disk fills up.
*/

package main

import (
	"database/sql"
	"log"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/muwerk/sensord/common"
	"github.com/muwerk/sensord/muwerk"
)

type dataLogEntry struct {
	clockSeconds int64
	wallTime     time.Time
	sensor       string
	channel      string
	value        float64
}

var (
	dataLogChan   chan dataLogEntry
	dataLogDB     *sql.DB
	dataLogPaused atomic.Bool // set by diskGuard, read by the bus callback
)

const dataLogSchema = `
CREATE TABLE IF NOT EXISTS readings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	clock_seconds INTEGER NOT NULL,
	wall_time TEXT NOT NULL,
	sensor TEXT NOT NULL,
	channel TEXT NOT NULL,
	value REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS readings_sensor_idx ON readings (sensor, channel);
`

func openDataLog(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(dataLogSchema); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// dataLogWriter drains the entry channel. One insert per entry keeps the
// code simple; at sensor rates this is far below SQLite's write ceiling.
func dataLogWriter(db *sql.DB) {
	stmt := `INSERT INTO readings (clock_seconds, wall_time, sensor, channel, value)
		VALUES (?, ?, ?, ?, ?)`
	for e := range dataLogChan {
		_, err := db.Exec(stmt, e.clockSeconds, e.wallTime.Format(time.RFC3339),
			e.sensor, e.channel, e.value)
		if err != nil {
			log.Printf("datalog insert: %v\n", err)
		}
	}
}

// diskGuard pauses logging past the configured fill mark and resumes with
// 5% headroom.
func diskGuard(path string) {
	limit := settingsSnapshot().Datalog.MaxDiskUsagePercent
	if limit <= 0 {
		limit = 95
	}
	ticker := time.NewTicker(time.Minute)
	for range ticker.C {
		pct := common.DiskUsagePercent(filepath.Dir(path))
		if pct < 0 {
			continue
		}
		if !dataLogPaused.Load() && pct >= limit {
			dataLogPaused.Store(true)
			log.Printf("datalog paused, disk %.1f%% full\n", pct)
		} else if dataLogPaused.Load() && pct < limit-5 {
			dataLogPaused.Store(false)
			log.Printf("datalog resumed, disk %.1f%% full\n", pct)
		}
	}
}

// parseReadingTopic splits "<sensor>/sensor/<channel>" into its parts.
func parseReadingTopic(topic string) (sensor, channel string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[1] != "sensor" {
		return "", "", false
	}
	return parts[0], parts[2], true
}

// initDataLog subscribes the logger to every published reading. Command
// topics and non-numeric payloads (mode names, calibration dumps) are
// skipped.
func initDataLog(bus *muwerk.Bus) {
	path := settingsSnapshot().Datalog.Path
	db, err := openDataLog(path)
	if err != nil {
		log.Printf("datalog disabled: %v\n", err)
		return
	}
	dataLogDB = db
	dataLogChan = make(chan dataLogEntry, 1024)
	go dataLogWriter(db)
	go diskGuard(path)

	bus.Subscribe("+/sensor/+", func(topic, msg string) {
		if !settingsSnapshot().Datalog.Enabled || dataLogPaused.Load() {
			return
		}
		sensor, channel, ok := parseReadingTopic(topic)
		if !ok {
			return
		}
		v, err := strconv.ParseFloat(msg, 64)
		if err != nil {
			return
		}
		e := dataLogEntry{
			clockSeconds: sensordClock.Seconds(),
			wallTime:     time.Now(),
			sensor:       sensor,
			channel:      channel,
			value:        v,
		}
		select {
		case dataLogChan <- e:
		default:
			// Writer is behind; dropping beats blocking the scheduler.
		}
	})
}

func closeDataLog() {
	if dataLogChan != nil {
		close(dataLogChan)
		dataLogChan = nil
	}
	if dataLogDB != nil {
		dataLogDB.Close()
		dataLogDB = nil
	}
}
