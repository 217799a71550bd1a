/*
	managementinterface.go: HTTP/WebSocket management surface. Serves the
	live status feed, settings get/set, the latest sensor readings and the
	Prometheus scrape endpoint.
*/

package main

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/exp/slices"
	"golang.org/x/net/websocket"

	"github.com/muwerk/sensord/muwerk"
)

// SettingMessage is one toggle pushed by the web frontend.
type SettingMessage struct {
	Setting string `json:"setting"`
	Value   bool   `json:"state"`
}

type InfoMessage struct {
	*status
	*settings
}

// lastValues caches the most recent payload per bus topic so HTTP requests
// never have to wait for the next measurement cycle.
var (
	lastValues   = map[string]string{}
	lastValuesMu sync.Mutex
)

func trackValues(bus *muwerk.Bus) {
	bus.Subscribe("#", func(topic, msg string) {
		if strings.HasSuffix(topic, "/get") || strings.HasSuffix(topic, "/set") {
			return
		}
		lastValuesMu.Lock()
		lastValues[topic] = msg
		lastValuesMu.Unlock()
	})
}

func statusSender(conn *websocket.Conn) {
	timer := time.NewTicker(1 * time.Second)
	defer timer.Stop()
	for range timer.C {
		st := currentStatus()
		set := settingsSnapshot()
		update, _ := json.Marshal(InfoMessage{status: &st, settings: &set})
		if _, err := conn.Write(update); err != nil {
			break
		}
	}
}

func handleManagementConnection(conn *websocket.Conn) {
	go statusSender(conn)

	for {
		var msg SettingMessage
		err := websocket.JSON.Receive(conn, &msg)
		if err == io.EOF {
			break
		} else if err != nil {
			log.Printf("handleManagementConnection: %s\n", err.Error())
		} else {
			applySetting(msg)
			saveSettings()
		}
	}
}

func applySetting(msg SettingMessage) {
	settingsMu.Lock()
	defer settingsMu.Unlock()
	switch msg.Setting {
	case "Datalog_Enabled":
		globalSettings.Datalog.Enabled = msg.Value
	case "MQTT_Enabled":
		globalSettings.MQTT.Enabled = msg.Value
	case "FanControl_Enabled":
		globalSettings.FanControl.Enabled = msg.Value
	case "DEBUG":
		globalSettings.DEBUG = msg.Value
	default:
		log.Printf("unknown setting %q ignored\n", msg.Setting)
	}
}

func handleStatusRequest(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	st := currentStatus()
	statusJSON, _ := json.Marshal(&st)
	w.Write(statusJSON)
}

func handleSettingsGetRequest(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	set := settingsSnapshot()
	settingsJSON, _ := json.Marshal(&set)
	w.Write(settingsJSON)
}

func handleSettingsSetRequest(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	// Patch semantics: fields absent from the request keep their value.
	patched := settingsSnapshot()
	if err := json.Unmarshal(body, &patched); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	settingsMu.Lock()
	globalSettings = patched
	settingsMu.Unlock()
	saveSettings()
	handleSettingsGetRequest(w, r)
}

// handleValuesRequest responds with the latest reading per topic.
func handleValuesRequest(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	lastValuesMu.Lock()
	out, _ := json.Marshal(lastValues)
	lastValuesMu.Unlock()
	w.Write(out)
}

func handleSensorsRequest(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	out, _ := json.Marshal(sensorStatuses())
	w.Write(out)
}

// handleTasksRequest dumps scheduler task accounting, sorted by name.
func handleTasksRequest(sched *muwerk.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		stats := sched.Stats()
		slices.SortFunc(stats, func(a, b muwerk.TaskStats) int {
			return strings.Compare(a.Name, b.Name)
		})
		out, _ := json.Marshal(stats)
		w.Write(out)
	}
}

func managementInterface(sched *muwerk.Scheduler) {
	trackValues(sched.Bus())

	http.HandleFunc("/", handleStatusRequest)
	http.HandleFunc("/getStatus", handleStatusRequest)
	http.HandleFunc("/getSettings", handleSettingsGetRequest)
	http.HandleFunc("/setSettings", handleSettingsSetRequest)
	http.HandleFunc("/getValues", handleValuesRequest)
	http.HandleFunc("/getSensors", handleSensorsRequest)
	http.HandleFunc("/getTasks", handleTasksRequest(sched))
	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/live", func(w http.ResponseWriter, r *http.Request) {
		s := websocket.Server{Handler: websocket.Handler(handleManagementConnection)}
		s.ServeHTTP(w, r)
	})

	addr := settingsSnapshot().ManagementAddr
	if addr == "" {
		addr = ":8911"
	}
	log.Printf("management interface on %s\n", addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Printf("management interface: %v\n", err)
	}
}
