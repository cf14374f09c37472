package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/smart-greenhouse/telemetry/internal/model"
)

// memStore is an in-memory Appender + Source double for pipeline tests.
type memStore struct {
	mu       sync.Mutex
	readings map[model.Sensor][]model.Reading
	events   map[model.Actuator][]model.ActuatorEvent

	failWrites bool
	readErr    error
}

func newMemStore() *memStore {
	return &memStore{
		readings: make(map[model.Sensor][]model.Reading),
		events:   make(map[model.Actuator][]model.ActuatorEvent),
	}
}

func (m *memStore) AppendReading(_ context.Context, r model.Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites {
		return errors.New("write failed")
	}
	m.readings[r.Sensor] = append(m.readings[r.Sensor], r)
	return nil
}

func (m *memStore) AppendActuatorEvent(_ context.Context, e model.ActuatorEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites {
		return errors.New("write failed")
	}
	m.events[e.Actuator] = append(m.events[e.Actuator], e)
	return nil
}

func (m *memStore) ReadingsBetween(_ context.Context, sensor model.Sensor, from, to time.Time, limit int) ([]model.Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	out := make([]model.Reading, 0)
	for _, r := range m.readings[sensor] {
		if len(out) >= limit {
			break
		}
		if !r.Timestamp.Before(from) && !r.Timestamp.After(to) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) ActuatorEventsBetween(_ context.Context, actuator model.Actuator, from, to time.Time, limit int) ([]model.ActuatorEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	out := make([]model.ActuatorEvent, 0)
	for _, e := range m.events[actuator] {
		if len(out) >= limit {
			break
		}
		if !e.Timestamp.Before(from) && !e.Timestamp.After(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) LatestReadings(_ context.Context, _ time.Duration) (map[model.Sensor]model.Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	out := make(map[model.Sensor]model.Reading)
	for sensor, rows := range m.readings {
		for _, r := range rows {
			if cur, ok := out[sensor]; !ok || r.Timestamp.After(cur.Timestamp) {
				out[sensor] = r
			}
		}
	}
	return out, nil
}

func (m *memStore) readingCount(sensor model.Sensor) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.readings[sensor])
}

func (m *memStore) eventCount(actuator model.Actuator) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events[actuator])
}

// fakeMessage implements mqtt.Message for handler tests.
type fakeMessage struct {
	topic    string
	payload  []byte
	retained bool
}

func (f *fakeMessage) Duplicate() bool   { return false }
func (f *fakeMessage) Qos() byte         { return 1 }
func (f *fakeMessage) Retained() bool    { return f.retained }
func (f *fakeMessage) Topic() string     { return f.topic }
func (f *fakeMessage) MessageID() uint16 { return 0 }
func (f *fakeMessage) Payload() []byte   { return f.payload }
func (f *fakeMessage) Ack()              {}

var _ mqtt.Message = (*fakeMessage)(nil)
