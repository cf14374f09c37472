package telemetry

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/smart-greenhouse/telemetry/internal/model"
)

// API exposes the query engine over HTTP to the (external) dashboard.
type API struct {
	engine *Engine
	now    func() time.Time
}

func NewAPI(engine *Engine) *API {
	return &API{engine: engine, now: time.Now}
}

// Register mounts all query endpoints on mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/history", a.handleHistory)
	mux.HandleFunc("/api/history/batch", a.handleHistoryBatch)
	mux.HandleFunc("/api/history/export", a.handleHistoryExport)
	mux.HandleFunc("/api/actuators/history", a.handleActuatorHistory)
	mux.HandleFunc("/api/latest", a.handleLatest)
}

// window parses fromMs/toMs with the original defaults: last 24 hours,
// upper bound now.
func (a *API) window(r *http.Request) (from, to time.Time) {
	now := a.now()
	from = now.Add(-24 * time.Hour)
	if s := r.URL.Query().Get("fromMs"); s != "" {
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			from = time.UnixMilli(ms)
		}
	}
	to = now
	if s := r.URL.Query().Get("toMs"); s != "" {
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			to = time.UnixMilli(ms)
		}
	}
	return from, to
}

type pointRow struct {
	Ts    int64   `json:"ts"`
	Value float64 `json:"value"`
}

// batchRow uses a shortened value key to keep multi-sensor payloads small.
type batchRow struct {
	Ts int64   `json:"ts"`
	V  float64 `json:"v"`
}

type actuatorRow struct {
	Ts     int64  `json:"ts"`
	Status string `json:"status"`
}

// GET /api/history?sensor=<id>&fromMs=<int>[&toMs=<int>]
func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	defer observe("history", time.Now())

	sensor, ok := a.sensorParam(w, r)
	if !ok {
		return
	}
	from, to := a.window(r)

	rows, err := a.engine.Query(r.Context(), sensor, from, to)
	if err != nil {
		writeQueryError(w, err, map[string]any{"sensor": sensor, "fromMs": from.UnixMilli()})
		return
	}

	out := make([]pointRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, pointRow{Ts: row.Timestamp.UnixMilli(), Value: row.Value})
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /api/history/batch?sensors=<csv>&fromMs=<int>[&toMs=<int>]
func (a *API) handleHistoryBatch(w http.ResponseWriter, r *http.Request) {
	defer observe("history_batch", time.Now())

	raw := r.URL.Query().Get("sensors")
	if strings.TrimSpace(raw) == "" {
		writeError(w, http.StatusBadRequest, "sensors parameter required", nil)
		return
	}

	sensors := make([]model.Sensor, 0, 8)
	for _, name := range strings.Split(raw, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		sensor, ok := model.ParseSensor(name)
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown sensor %q", name), map[string]any{"sensors": raw})
			return
		}
		sensors = append(sensors, sensor)
	}

	from, to := a.window(r)
	out := make(map[string][]batchRow, len(sensors))
	for _, sensor := range sensors {
		rows, err := a.engine.Query(r.Context(), sensor, from, to)
		if err != nil {
			writeQueryError(w, err, map[string]any{"sensor": sensor, "fromMs": from.UnixMilli()})
			return
		}
		series := make([]batchRow, 0, len(rows))
		for _, row := range rows {
			series = append(series, batchRow{Ts: row.Timestamp.UnixMilli(), V: row.Value})
		}
		out[sensor.String()] = series
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /api/history/export?sensor=<id>&fromMs=<int>[&toMs=<int>]
// Same sampled series as /api/history, as two-column CSV.
func (a *API) handleHistoryExport(w http.ResponseWriter, r *http.Request) {
	defer observe("history_export", time.Now())

	sensor, ok := a.sensorParam(w, r)
	if !ok {
		return
	}
	from, to := a.window(r)

	rows, err := a.engine.Query(r.Context(), sensor, from, to)
	if err != nil {
		writeQueryError(w, err, map[string]any{"sensor": sensor, "fromMs": from.UnixMilli()})
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s-history.csv", sensor))
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"ts", "value"})
	for _, row := range rows {
		_ = cw.Write([]string{
			strconv.FormatInt(row.Timestamp.UnixMilli(), 10),
			strconv.FormatFloat(row.Value, 'f', -1, 64),
		})
	}
	cw.Flush()
}

// GET /api/actuators/history?actuator=<fan|humidifier|sprinkler>&fromMs=<int>
func (a *API) handleActuatorHistory(w http.ResponseWriter, r *http.Request) {
	defer observe("actuator_history", time.Now())

	name := strings.ToLower(r.URL.Query().Get("actuator"))
	if name == "" {
		name = model.ActuatorFan.String()
	}
	actuator, ok := model.ParseActuator(name)
	if !ok {
		valid := make([]string, 0, len(model.Actuators))
		for _, act := range model.Actuators {
			valid = append(valid, act.String())
		}
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("Invalid actuator. Valid options: %s", strings.Join(valid, ", ")), nil)
		return
	}

	from, to := a.window(r)
	rows, err := a.engine.ActuatorHistory(r.Context(), actuator, from, to)
	if err != nil {
		writeQueryError(w, err, map[string]any{"actuator": actuator, "fromMs": from.UnixMilli()})
		return
	}

	out := make([]actuatorRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, actuatorRow{Ts: row.Timestamp.UnixMilli(), Status: row.Status})
	}
	writeJSON(w, http.StatusOK, out)
}

// latestEntry mirrors the original /api/latest shape per sensor.
type latestEntry struct {
	Timestamp     int64   `json:"timestamp"`
	Value         float64 `json:"value"`
	TimeAgo       int64   `json:"timeAgo"` // ms since the reading
	HumanReadable string  `json:"humanReadable"`
}

// GET /api/latest
func (a *API) handleLatest(w http.ResponseWriter, r *http.Request) {
	defer observe("latest", time.Now())

	latest, err := a.engine.Latest(r.Context())
	if err != nil {
		writeQueryError(w, err, nil)
		return
	}

	now := a.now()
	out := make(map[string]*latestEntry, len(model.Sensors))
	for _, sensor := range model.Sensors {
		row, ok := latest[sensor]
		if !ok {
			out[sensor.String()] = nil
			continue
		}
		out[sensor.String()] = &latestEntry{
			Timestamp:     row.Timestamp.UnixMilli(),
			Value:         row.Value,
			TimeAgo:       now.Sub(row.Timestamp).Milliseconds(),
			HumanReadable: row.Timestamp.Local().Format("2006-01-02 15:04:05"),
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) sensorParam(w http.ResponseWriter, r *http.Request) (model.Sensor, bool) {
	name := r.URL.Query().Get("sensor")
	if name == "" {
		name = model.SensorTemperature.String()
	}
	sensor, ok := model.ParseSensor(name)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown sensor %q", name), nil)
		return "", false
	}
	return sensor, true
}

func observe(endpoint string, start time.Time) {
	querySeconds.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeQueryError maps a read-path failure to a structured error response:
// 503 while the store breaker is open, 500 otherwise, with the query
// parameters echoed back for diagnosis.
func writeQueryError(w http.ResponseWriter, err error, params map[string]any) {
	status := http.StatusInternalServerError
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		status = http.StatusServiceUnavailable
	}
	writeError(w, status, err.Error(), params)
}

func writeError(w http.ResponseWriter, status int, msg string, params map[string]any) {
	body := map[string]any{"error": msg}
	for k, v := range params {
		body[k] = v
	}
	writeJSON(w, status, body)
}
