package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"github.com/smart-greenhouse/telemetry/internal/model"
)

func newTestServer(t *testing.T, store *memStore) *httptest.Server {
	t.Helper()
	api := NewAPI(NewEngine(store))
	mux := http.NewServeMux()
	api.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	res, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer res.Body.Close()
	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return res
}

func TestHistoryEndToEnd(t *testing.T) {
	store := newMemStore()
	sub := startSubscriber(t, store)

	before := time.Now().Add(-time.Second)
	_ = sub.HandleMessage("greenhouse/temperature", &fakeMessage{
		topic: "greenhouse/temperature", payload: []byte("26.2"),
	})
	waitFor(t, func() bool { return store.readingCount(model.SensorTemperature) == 1 })

	srv := newTestServer(t, store)

	var rows []pointRow
	res := getJSON(t, srv.URL+"/api/history?sensor=temperature&fromMs="+strconv.FormatInt(before.UnixMilli(), 10), &rows)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.StatusCode)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if rows[0].Value != 26.2 {
		t.Errorf("value = %v, want 26.2", rows[0].Value)
	}
	if rows[0].Ts < before.UnixMilli() {
		t.Errorf("ts = %d, want ingestion time after %d", rows[0].Ts, before.UnixMilli())
	}
}

func TestHistoryRejectedReadingNeverAppears(t *testing.T) {
	store := newMemStore()
	sub := startSubscriber(t, store)

	_ = sub.HandleMessage("greenhouse/humidity", &fakeMessage{
		topic: "greenhouse/humidity", payload: []byte("150"),
	})
	time.Sleep(50 * time.Millisecond)

	srv := newTestServer(t, store)
	var rows []pointRow
	res := getJSON(t, srv.URL+"/api/history?sensor=humidity", &rows)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.StatusCode)
	}
	if len(rows) != 0 {
		t.Errorf("rejected reading visible in history: %+v", rows)
	}
}

func TestHistoryUnknownSensorParam(t *testing.T) {
	srv := newTestServer(t, newMemStore())

	var body map[string]any
	res := getJSON(t, srv.URL+"/api/history?sensor=unknown_sensor", &body)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", res.StatusCode)
	}
	if body["error"] == nil {
		t.Error("error body missing error field")
	}
}

func TestHistoryQueryErrorEchoesParams(t *testing.T) {
	store := newMemStore()
	store.readErr = errors.New("index on ts missing")
	srv := newTestServer(t, store)

	var body map[string]any
	res := getJSON(t, srv.URL+"/api/history?sensor=temperature&fromMs=1000", &body)
	if res.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", res.StatusCode)
	}
	if body["error"] == nil {
		t.Error("missing error field")
	}
	if body["sensor"] != "temperature" {
		t.Errorf("sensor echo = %v, want temperature", body["sensor"])
	}
	if body["fromMs"] != float64(1000) {
		t.Errorf("fromMs echo = %v, want 1000", body["fromMs"])
	}
}

func TestHistoryBreakerOpenMapsTo503(t *testing.T) {
	store := newMemStore()
	store.readErr = fmt.Errorf("readings query: %w", gobreaker.ErrOpenState)
	srv := newTestServer(t, store)

	res := getJSON(t, srv.URL+"/api/history?sensor=temperature", &map[string]any{})
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", res.StatusCode)
	}
}

func TestHistoryBatch(t *testing.T) {
	store := newMemStore()
	base := time.Now().Add(-time.Hour)
	store.readings[model.SensorTemperature] = []model.Reading{
		{Sensor: model.SensorTemperature, Timestamp: base, Value: 21.25},
	}
	store.readings[model.SensorHumidity] = []model.Reading{
		{Sensor: model.SensorHumidity, Timestamp: base, Value: 60},
	}

	srv := newTestServer(t, store)
	var body map[string][]batchRow
	res := getJSON(t, srv.URL+"/api/history/batch?sensors=temperature,humidity", &body)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.StatusCode)
	}
	if len(body) != 2 {
		t.Fatalf("got %d series, want 2", len(body))
	}
	if got := body["temperature"][0].V; got != 21.3 {
		t.Errorf("temperature value = %v, want 21.3 (rounded)", got)
	}
	if len(body["humidity"]) != 1 {
		t.Errorf("humidity series = %+v, want 1 row", body["humidity"])
	}

	res = getJSON(t, srv.URL+"/api/history/batch?sensors=temperature,bogus", &map[string]any{})
	if res.StatusCode != http.StatusBadRequest {
		t.Errorf("bad sensor list: status = %d, want 400", res.StatusCode)
	}
}

func TestActuatorHistoryEndpoint(t *testing.T) {
	store := newMemStore()
	base := time.Now().Add(-time.Hour)
	store.events[model.ActuatorFan] = []model.ActuatorEvent{
		{Actuator: model.ActuatorFan, Timestamp: base, Status: "ON"},
		{Actuator: model.ActuatorFan, Timestamp: base.Add(time.Minute), Status: "off"},
	}

	srv := newTestServer(t, store)
	var rows []actuatorRow
	res := getJSON(t, srv.URL+"/api/actuators/history?actuator=fan", &rows)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.StatusCode)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[1].Status != "OFF" {
		t.Errorf("status = %q, want OFF", rows[1].Status)
	}

	res = getJSON(t, srv.URL+"/api/actuators/history?actuator=pump", &map[string]any{})
	if res.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid actuator: status = %d, want 400", res.StatusCode)
	}
}

func TestLatestEndpoint(t *testing.T) {
	store := newMemStore()
	ts := time.Now().Add(-5 * time.Minute)
	store.readings[model.SensorTemperature] = []model.Reading{
		{Sensor: model.SensorTemperature, Timestamp: ts, Value: 24.9},
	}

	srv := newTestServer(t, store)
	var body map[string]*latestEntry
	res := getJSON(t, srv.URL+"/api/latest", &body)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.StatusCode)
	}
	if len(body) != len(model.Sensors) {
		t.Fatalf("got %d sensors, want %d (every sensor present, null when silent)", len(body), len(model.Sensors))
	}

	temp := body["temperature"]
	if temp == nil {
		t.Fatal("temperature entry is null, want data")
	}
	if temp.Timestamp != ts.UnixMilli() {
		t.Errorf("timestamp = %d, want %d", temp.Timestamp, ts.UnixMilli())
	}
	if temp.TimeAgo <= 0 {
		t.Errorf("timeAgo = %d, want > 0", temp.TimeAgo)
	}
	if temp.HumanReadable == "" {
		t.Error("humanReadable is empty")
	}
	if body["ph"] != nil {
		t.Errorf("ph entry = %+v, want null", body["ph"])
	}
}

func TestHistoryExportCSV(t *testing.T) {
	store := newMemStore()
	ts := time.Now().Add(-time.Minute)
	store.readings[model.SensorTemperature] = []model.Reading{
		{Sensor: model.SensorTemperature, Timestamp: ts, Value: 23.456},
	}

	srv := newTestServer(t, store)
	res, err := http.Get(srv.URL + "/api/history/export?sensor=temperature")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); ct != "text/csv" {
		t.Errorf("content type = %q, want text/csv", ct)
	}

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	body := string(raw)
	wantRow := fmt.Sprintf("%d,23.5", ts.UnixMilli())
	if body != "ts,value\n"+wantRow+"\n" {
		t.Errorf("csv body = %q, want header plus %q", body, wantRow)
	}
}
