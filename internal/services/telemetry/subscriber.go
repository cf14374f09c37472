package telemetry

import (
	"context"
	"log"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/smart-greenhouse/telemetry/internal/model"
)

// Appender is the write half of the store the subscriber feeds.
type Appender interface {
	AppendReading(ctx context.Context, r model.Reading) error
	AppendActuatorEvent(ctx context.Context, e model.ActuatorEvent) error
}

// record is one accepted message waiting for the append loop.
type record struct {
	reading *model.Reading
	event   *model.ActuatorEvent
}

// Subscriber turns inbound MQTT messages into stored readings and actuator
// events. The MQTT callback only parses, validates and enqueues; a single
// drain goroutine performs the store appends so a slow write can never stall
// message processing. When the queue is full the newest message is dropped.
type Subscriber struct {
	store Appender
	live  *LiveHub // may be nil
	queue chan record
	now   func() time.Time
}

// NewSubscriber creates a Subscriber with the given append-queue capacity.
func NewSubscriber(store Appender, live *LiveHub, queueSize int) *Subscriber {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Subscriber{
		store: store,
		live:  live,
		queue: make(chan record, queueSize),
		now:   time.Now,
	}
}

// HandleMessage is the per-message entry point wired into the consumer.
// Malformed payloads are logged and dropped; it never returns an error for
// them, so one bad device can not wedge the stream.
func (s *Subscriber) HandleMessage(topic string, msg mqtt.Message) error {
	// Public brokers replay the last retained value to new subscribers;
	// persisting those would record stale data as fresh events.
	if msg.Retained() {
		log.Printf("ingest: ignoring retained message on %s", topic)
		return nil
	}

	route := NormalizeTopic(topic)
	switch route.Kind {
	case RouteActuator:
		s.handleActuator(route.Actuator, msg.Payload())
	case RouteSensor:
		s.handleSensor(topic, route.Sensor, msg.Payload())
	default:
		messagesTotal.WithLabelValues(resultUnknown).Inc()
		log.Printf("ingest: unknown topic %s, dropping", topic)
	}
	return nil
}

func (s *Subscriber) handleSensor(topic, name string, payload []byte) {
	// The subscription set is fixed, but enforce the canonical-id invariant
	// here too: nothing outside the known sensor set reaches the store.
	sensor, ok := model.ParseSensor(name)
	if !ok {
		messagesTotal.WithLabelValues(resultUnknown).Inc()
		log.Printf("ingest: unmapped sensor %q on %s, dropping", name, topic)
		return
	}

	value, err := strconv.ParseFloat(strings.TrimSpace(string(payload)), 64)
	if err != nil {
		messagesTotal.WithLabelValues(resultRejected).Inc()
		log.Printf("ingest: non-numeric value on %s: %q", topic, payload)
		return
	}
	if !model.IsValidReading(sensor, value) {
		messagesTotal.WithLabelValues(resultRejected).Inc()
		log.Printf("ingest: invalid reading %s=%v (from %s)", sensor, value, topic)
		return
	}

	r := model.Reading{Sensor: sensor, Timestamp: s.now(), Value: value}
	if s.enqueue(record{reading: &r}) {
		messagesTotal.WithLabelValues(resultAccepted).Inc()
		if s.live != nil {
			s.live.PublishReading(r)
		}
	}
}

func (s *Subscriber) handleActuator(actuator model.Actuator, payload []byte) {
	status := strings.ToUpper(strings.TrimSpace(string(payload)))
	if status != model.StatusOn && status != model.StatusOff {
		messagesTotal.WithLabelValues(resultRejected).Inc()
		log.Printf("ingest: invalid actuator status %q for %s", payload, actuator)
		return
	}

	e := model.ActuatorEvent{Actuator: actuator, Timestamp: s.now(), Status: status}
	if s.enqueue(record{event: &e}) {
		messagesTotal.WithLabelValues(resultAccepted).Inc()
	}
}

func (s *Subscriber) enqueue(rec record) bool {
	select {
	case s.queue <- rec:
		queueDepth.Set(float64(len(s.queue)))
		return true
	default:
		messagesTotal.WithLabelValues(resultDropped).Inc()
		log.Printf("ingest: append queue full, dropping message")
		return false
	}
}

// Run drains the append queue into the store until ctx is cancelled.
// Append failures are logged and the record is lost; writes are never
// retried.
func (s *Subscriber) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-s.queue:
			queueDepth.Set(float64(len(s.queue)))
			switch {
			case rec.reading != nil:
				if err := s.store.AppendReading(ctx, *rec.reading); err != nil {
					log.Printf("ingest: append reading failed, record lost: %v", err)
				}
			case rec.event != nil:
				if err := s.store.AppendActuatorEvent(ctx, *rec.event); err != nil {
					log.Printf("ingest: append actuator event failed, record lost: %v", err)
				}
			}
		}
	}
}
