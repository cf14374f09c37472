// Package telemetry is the greenhouse sensor pipeline: it subscribes the
// broker topic set, validates and persists readings and actuator events,
// and serves bandwidth-bounded history queries over HTTP.
package telemetry

import (
	"strings"

	"github.com/smart-greenhouse/telemetry/internal/model"
)

// RouteKind tags what a wire topic refers to.
type RouteKind int

const (
	RouteUnknown RouteKind = iota
	RouteSensor
	RouteActuator
)

// Route is the result of normalizing a wire topic name.
type Route struct {
	Kind     RouteKind
	Sensor   string // raw, alias-mapped sensor name (RouteSensor)
	Actuator model.Actuator
}

// actuatorTopicMap maps actuator topic suffixes to actuator ids,
// e.g. fan_status -> fan.
var actuatorTopicMap = map[string]model.Actuator{
	"fan_status":        model.ActuatorFan,
	"humidifier_status": model.ActuatorHumidifier,
	"sprinkler_status":  model.ActuatorSprinkler,
}

// sensorAliasMap maps device topic names to canonical sensor names. The
// Arduino publishes soil_moisture and soil_ph; the store knows neither.
var sensorAliasMap = map[string]string{
	"soil_moisture": "soil_humidity",
	"soil_ph":       "ph",
}

// NormalizeTopic maps a wire topic to a Route. Topics shaped
// <prefix>/actuators/<name>_status are actuators; anything else is treated
// as a sensor named by the last segment, alias-mapped. Pure, no side
// effects; the only failure mode is RouteUnknown.
func NormalizeTopic(topic string) Route {
	parts := strings.Split(topic, "/")
	last := parts[len(parts)-1]

	if len(parts) >= 3 && parts[len(parts)-2] == "actuators" {
		actuator, ok := actuatorTopicMap[last]
		if !ok {
			return Route{Kind: RouteUnknown}
		}
		return Route{Kind: RouteActuator, Actuator: actuator}
	}

	sensor := last
	if mapped, ok := sensorAliasMap[sensor]; ok {
		sensor = mapped
	}
	return Route{Kind: RouteSensor, Sensor: sensor}
}

// SensorTopics returns the full sensor subscription set for a prefix,
// canonical names plus the device aliases.
func SensorTopics(prefix string) []string {
	names := make([]string, 0, len(model.Sensors)+len(sensorAliasMap))
	for _, s := range model.Sensors {
		names = append(names, s.String())
	}
	names = append(names, "soil_moisture", "soil_ph")

	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, prefix+"/"+n)
	}
	return out
}

// ActuatorTopics returns the actuator subscription set for a prefix.
func ActuatorTopics(prefix string) []string {
	out := make([]string, 0, len(actuatorTopicMap))
	for _, a := range model.Actuators {
		out = append(out, prefix+"/actuators/"+a.String()+"_status")
	}
	return out
}
