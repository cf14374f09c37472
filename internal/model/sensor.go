package model

import "math"

// Sensor is a canonical, storage-level sensor identifier. Wire aliases
// (soil_moisture, soil_ph) are mapped to one of these before anything is
// persisted.
type Sensor string

const (
	SensorTemperature     Sensor = "temperature"
	SensorHumidity        Sensor = "humidity"
	SensorLight           Sensor = "light"
	SensorPH              Sensor = "ph"
	SensorSoilHumidity    Sensor = "soil_humidity"
	SensorSoilTemperature Sensor = "soil_temperature"
	SensorNitrogen        Sensor = "nitrogen"
	SensorPhosphorus      Sensor = "phosphorus"
	SensorPotassium       Sensor = "potassium"
)

// Sensors lists every canonical sensor in a stable order.
var Sensors = []Sensor{
	SensorTemperature,
	SensorHumidity,
	SensorLight,
	SensorPH,
	SensorSoilHumidity,
	SensorSoilTemperature,
	SensorNitrogen,
	SensorPhosphorus,
	SensorPotassium,
}

// ParseSensor maps a raw name to a canonical Sensor. ok is false for any
// name outside the canonical set.
func ParseSensor(name string) (Sensor, bool) {
	switch s := Sensor(name); s {
	case SensorTemperature, SensorHumidity, SensorLight, SensorPH,
		SensorSoilHumidity, SensorSoilTemperature,
		SensorNitrogen, SensorPhosphorus, SensorPotassium:
		return s, true
	}
	return "", false
}

func (s Sensor) String() string { return string(s) }

// IsValidReading reports whether value is plausible for the given sensor.
// NaN is never valid. Sensors without a range entry are accepted as-is:
// the original system deliberately lets unmapped names through rather than
// silently dropping a new sensor type.
func IsValidReading(sensor Sensor, value float64) bool {
	if math.IsNaN(value) {
		return false
	}
	switch sensor {
	case SensorTemperature, SensorSoilTemperature:
		return value > -10 && value < 60
	case SensorHumidity, SensorSoilHumidity:
		return value >= 0 && value <= 100
	case SensorLight:
		return value >= 0 && value <= 120000
	case SensorPH:
		return value >= 0 && value <= 14
	case SensorNitrogen, SensorPhosphorus, SensorPotassium:
		return value >= 0 && value < 10000
	default:
		return true
	}
}
