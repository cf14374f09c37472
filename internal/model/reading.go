package model

import "time"

// Reading is one timestamped numeric observation for a canonical sensor.
// Immutable once stored; duplicates (e.g. QoS1 redeliveries) are permitted.
type Reading struct {
	Sensor    Sensor    `json:"sensor"`
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Actuator is a controllable device with an ON/OFF state.
type Actuator string

const (
	ActuatorFan        Actuator = "fan"
	ActuatorHumidifier Actuator = "humidifier"
	ActuatorSprinkler  Actuator = "sprinkler"
)

// Actuators lists every known actuator.
var Actuators = []Actuator{ActuatorFan, ActuatorHumidifier, ActuatorSprinkler}

// ParseActuator maps a raw name to a known Actuator.
func ParseActuator(name string) (Actuator, bool) {
	switch a := Actuator(name); a {
	case ActuatorFan, ActuatorHumidifier, ActuatorSprinkler:
		return a, true
	}
	return "", false
}

func (a Actuator) String() string { return string(a) }

// Actuator status values as stored and as returned by the API.
const (
	StatusOn  = "ON"
	StatusOff = "OFF"
)

// ActuatorEvent is one ON/OFF transition. Append-only, timestamped at
// ingestion (the device does not send timestamps).
type ActuatorEvent struct {
	Actuator  Actuator  `json:"actuator"`
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"`
}
