// Package storage persists readings and actuator events to InfluxDB and
// serves the bounded range reads the query engine is built on.
package storage

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/sony/gobreaker"

	"github.com/smart-greenhouse/telemetry/internal/model"
)

const (
	readingMeasurement  = "sensor_reading"
	actuatorMeasurement = "actuator_event"
)

// Config carries the Influx connection parameters.
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Store wraps the async write path and the breaker-guarded Flux read path.
// Writes are fire-and-forget: batching and delivery belong to the write API,
// async failures are logged and tracked for health, never retried here.
type Store struct {
	writeAPI api.WriteAPI
	queryAPI api.QueryAPI
	bucket   string
	breaker  *gobreaker.CircuitBreaker

	mu      sync.RWMutex
	lastErr time.Time
}

// NewStore builds a Store on an existing Influx client.
func NewStore(client influxdb2.Client, cfg Config) (*Store, error) {
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("influx config incomplete")
	}

	s := &Store{
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		queryAPI: client.QueryAPI(cfg.Org),
		bucket:   cfg.Bucket,
		lastErr:  time.Now().Add(-24 * time.Hour),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:     "influx-read",
			Interval: 30 * time.Second,
			Timeout:  10 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
		}),
	}

	go func() {
		for err := range s.writeAPI.Errors() {
			if err != nil {
				s.mu.Lock()
				s.lastErr = time.Now()
				s.mu.Unlock()
				log.Printf("storage: influx write error: %v", err)
			}
		}
	}()

	return s, nil
}

// AppendReading queues one reading for write. Never blocks.
func (s *Store) AppendReading(_ context.Context, r model.Reading) error {
	p := influxdb2.NewPoint(readingMeasurement,
		map[string]string{"sensor": r.Sensor.String()},
		map[string]interface{}{"value": r.Value},
		r.Timestamp)
	s.writeAPI.WritePoint(p)
	return nil
}

// AppendActuatorEvent queues one ON/OFF transition for write. Never blocks.
func (s *Store) AppendActuatorEvent(_ context.Context, e model.ActuatorEvent) error {
	p := influxdb2.NewPoint(actuatorMeasurement,
		map[string]string{"actuator": e.Actuator.String()},
		map[string]interface{}{"status": e.Status},
		e.Timestamp)
	s.writeAPI.WritePoint(p)
	return nil
}

// Flush forces any batched points out, for shutdown.
func (s *Store) Flush() { s.writeAPI.Flush() }

// LastWriteErrorAge returns how long the write path has been error-free.
func (s *Store) LastWriteErrorAge() time.Duration {
	s.mu.RLock()
	t := s.lastErr
	s.mu.RUnlock()
	return time.Since(t)
}

// ReadingsBetween fetches at most limit readings for one sensor with
// from <= t <= to, ascending. A query failure is surfaced as an error:
// there is deliberately no fall back to an unbounded scan.
func (s *Store) ReadingsBetween(ctx context.Context, sensor model.Sensor, from, to time.Time, limit int) ([]model.Reading, error) {
	flux := fmt.Sprintf(`
from(bucket: %q)
  |> range(start: time(v: %q), stop: time(v: %q))
  |> filter(fn: (r) => r._measurement == %q and r.sensor == %q and r._field == "value")
  |> sort(columns: ["_time"])
  |> limit(n: %d)
`, s.bucket, from.UTC().Format(time.RFC3339Nano),
		// Flux range stop is exclusive; nudge it so `to` itself is included.
		to.Add(time.Millisecond).UTC().Format(time.RFC3339Nano),
		readingMeasurement, sensor.String(), limit)

	out := make([]model.Reading, 0, 64)
	err := s.query(ctx, flux, func(rec fluxRecord) {
		out = append(out, model.Reading{
			Sensor:    sensor,
			Timestamp: rec.time,
			Value:     rec.float(),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("readings query for %s: %w", sensor, err)
	}
	return out, nil
}

// ActuatorEventsBetween fetches at most limit events for one actuator with
// from <= t <= to, ascending.
func (s *Store) ActuatorEventsBetween(ctx context.Context, actuator model.Actuator, from, to time.Time, limit int) ([]model.ActuatorEvent, error) {
	flux := fmt.Sprintf(`
from(bucket: %q)
  |> range(start: time(v: %q), stop: time(v: %q))
  |> filter(fn: (r) => r._measurement == %q and r.actuator == %q and r._field == "status")
  |> sort(columns: ["_time"])
  |> limit(n: %d)
`, s.bucket, from.UTC().Format(time.RFC3339Nano),
		to.Add(time.Millisecond).UTC().Format(time.RFC3339Nano),
		actuatorMeasurement, actuator.String(), limit)

	out := make([]model.ActuatorEvent, 0, 16)
	err := s.query(ctx, flux, func(rec fluxRecord) {
		out = append(out, model.ActuatorEvent{
			Actuator:  actuator,
			Timestamp: rec.time,
			Status:    strings.ToUpper(rec.str()),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("actuator query for %s: %w", actuator, err)
	}
	return out, nil
}

// LatestReadings returns the most recent reading per sensor. Sensors with no
// data in the lookback window are absent from the map.
func (s *Store) LatestReadings(ctx context.Context, lookback time.Duration) (map[model.Sensor]model.Reading, error) {
	flux := fmt.Sprintf(`
from(bucket: %q)
  |> range(start: -%ds)
  |> filter(fn: (r) => r._measurement == %q and r._field == "value")
  |> group(columns: ["sensor"])
  |> last()
`, s.bucket, int(lookback.Seconds()), readingMeasurement)

	out := make(map[model.Sensor]model.Reading, len(model.Sensors))
	err := s.query(ctx, flux, func(rec fluxRecord) {
		sensor, ok := model.ParseSensor(rec.tag("sensor"))
		if !ok {
			return
		}
		out[sensor] = model.Reading{Sensor: sensor, Timestamp: rec.time, Value: rec.float()}
	})
	if err != nil {
		return nil, fmt.Errorf("latest query: %w", err)
	}
	return out, nil
}

// fluxRecord is the slice of a query result row the callbacks care about.
type fluxRecord struct {
	time time.Time
	val  interface{}
	tags func(string) interface{}
}

func (r fluxRecord) float() float64 {
	switch v := r.val.(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return 0
}

func (r fluxRecord) str() string {
	if s, ok := r.val.(string); ok {
		return s
	}
	return ""
}

func (r fluxRecord) tag(key string) string {
	if v := r.tags(key); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// query runs one Flux statement through the breaker and streams each record
// into visit. Once the breaker opens, reads fail fast until Influx recovers.
func (s *Store) query(ctx context.Context, flux string, visit func(fluxRecord)) error {
	_, err := s.breaker.Execute(func() (any, error) {
		res, err := s.queryAPI.Query(ctx, flux)
		if err != nil {
			return nil, err
		}
		defer func() { _ = res.Close() }()
		for res.Next() {
			rec := res.Record()
			visit(fluxRecord{time: rec.Time(), val: rec.Value(), tags: rec.ValueByKey})
		}
		return nil, res.Err()
	})
	return err
}
