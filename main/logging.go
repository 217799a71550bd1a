/*
	logging.go: Log to stdout and a rotating file. Rotation keeps up to ten
	numbered logs and deletes the oldest ones when the SD card runs out of
	space.
*/

package main

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ricochet2200/go-disk-usage/du"
)

const (
	debugLogFile = "sensord.log"

	logRotateSize = 10 * 1024 * 1024
	logKeepCount  = 10
	logMinFree    = 50 * 1024 * 1024
)

var (
	logDir        string
	debugLogf     string
	logFileHandle *os.File
)

func getSensordLogFiles() []string {
	entries, err := os.ReadDir(logDir)
	if err != nil {
		return nil
	}
	logs := make([]string, 0)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), debugLogFile+".") {
			logs = append(logs, filepath.Join(logDir, e.Name()))
		}
	}
	sort.Strings(logs)
	return logs
}

func openLogFile() {
	fp, err := os.OpenFile(debugLogf, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		log.Printf("can't open log file %s: %s\n", debugLogf, err.Error())
		return
	}
	logFileHandle = fp
	log.SetOutput(io.MultiWriter(fp, os.Stdout))
}

func rotateLogs() {
	logs := getSensordLogFiles()

	// Bump every numbered suffix, dropping the oldest.
	for i := len(logs) - 1; i >= 0; i-- {
		parts := strings.Split(logs[i], ".")
		logNum, err := strconv.Atoi(parts[len(parts)-1])
		if err != nil {
			continue
		}
		if logNum >= logKeepCount-1 {
			os.Remove(logs[i])
		} else {
			os.Rename(logs[i], filepath.Join(logDir, debugLogFile+"."+strconv.Itoa(logNum+1)))
		}
	}

	if logFileHandle != nil {
		logFileHandle.Close()
	}
	os.Rename(debugLogf, debugLogf+".1")
	openLogFile()
}

func deleteOldestLog() int64 {
	logs := getSensordLogFiles()
	if len(logs) == 0 {
		return 0
	}
	oldest := logs[len(logs)-1]
	stat, err := os.Stat(oldest)
	if err != nil {
		return 0
	}
	if os.Remove(oldest) != nil {
		return 0
	}
	return stat.Size()
}

func logFileWatcher() {
	for {
		if stat, err := os.Stat(debugLogf); err == nil && stat.Size() > logRotateSize {
			rotateLogs()
		}

		usage := du.NewDiskUsage(logDir)
		freeBytes := int64(usage.Free())
		for freeBytes < logMinFree {
			deleted := deleteOldestLog()
			if deleted == 0 {
				break
			}
			freeBytes += deleted
		}

		time.Sleep(30 * time.Second)
	}
}

func initLogging(dir string) {
	logDir = dir
	debugLogf = filepath.Join(dir, debugLogFile)
	openLogFile()
	go logFileWatcher()
}
