package telemetry

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/smart-greenhouse/telemetry/internal/model"
)

// Source is the read half of the store the query engine runs on.
type Source interface {
	ReadingsBetween(ctx context.Context, sensor model.Sensor, from, to time.Time, limit int) ([]model.Reading, error)
	ActuatorEventsBetween(ctx context.Context, actuator model.Actuator, from, to time.Time, limit int) ([]model.ActuatorEvent, error)
	LatestReadings(ctx context.Context, lookback time.Duration) (map[model.Sensor]model.Reading, error)
}

// latestLookback bounds the "latest value" scan; a sensor silent for this
// long is reported as having no data.
const latestLookback = 30 * 24 * time.Hour

// Engine answers time-range history queries with a bandwidth-bounded
// result: raw fetches are capped by window length, the response is
// downsampled to a second cap, and values are rounded to the sensor
// hardware's single-decimal resolution.
type Engine struct {
	src Source
}

func NewEngine(src Source) *Engine { return &Engine{src: src} }

// fetchCap is the hard cap on raw records fetched for a window. Longer
// windows allow proportionally more raw points, on the assumption that
// long-window data is less dense per point of interest.
func fetchCap(window time.Duration) int {
	switch {
	case window <= time.Hour:
		return 720
	case window <= 24*time.Hour:
		return 17280
	case window <= 7*24*time.Hour:
		return 120960
	default:
		return 518400
	}
}

// responseCap bounds the returned series regardless of raw density.
func responseCap(window time.Duration) int {
	switch {
	case window <= time.Hour:
		return 720
	case window <= 24*time.Hour:
		return 1440
	case window <= 7*24*time.Hour:
		return 1680
	default:
		return 720
	}
}

// Query returns the sampled, rounded series for one sensor over
// [from, to]. Freshly computed per call; identical inputs over an
// unchanged store yield identical results.
func (e *Engine) Query(ctx context.Context, sensor model.Sensor, from, to time.Time) ([]model.Reading, error) {
	window := to.Sub(from)
	rows, err := e.src.ReadingsBetween(ctx, sensor, from, to, fetchCap(window))
	if err != nil {
		return nil, err
	}

	// Store order is not guaranteed stable across fetch strategies.
	sort.Slice(rows, func(i, j int) bool { return rows[i].Timestamp.Before(rows[j].Timestamp) })

	rows = downsample(rows, responseCap(window))
	for i := range rows {
		rows[i].Value = round1(rows[i].Value)
	}
	return rows, nil
}

// ActuatorHistory returns the ON/OFF transitions for one actuator over
// [from, to]. Same capped fetch and sort as Query, no downsampling:
// actuator events are inherently low-frequency.
func (e *Engine) ActuatorHistory(ctx context.Context, actuator model.Actuator, from, to time.Time) ([]model.ActuatorEvent, error) {
	window := to.Sub(from)
	rows, err := e.src.ActuatorEventsBetween(ctx, actuator, from, to, fetchCap(window))
	if err != nil {
		return nil, err
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].Timestamp.Before(rows[j].Timestamp) })
	for i := range rows {
		rows[i].Status = strings.ToUpper(rows[i].Status)
	}
	return rows, nil
}

// Latest returns the most recent reading per canonical sensor; sensors with
// no recent data are absent from the map.
func (e *Engine) Latest(ctx context.Context) (map[model.Sensor]model.Reading, error) {
	latest, err := e.src.LatestReadings(ctx, latestLookback)
	if err != nil {
		return nil, fmt.Errorf("latest readings: %w", err)
	}
	return latest, nil
}

// downsample keeps every Nth row with N = ceil(len/cap) and always keeps
// the final row, so the most recent value is never dropped. If the stride
// walk already filled the cap, the last kept row is replaced instead of
// appended; the cap is never exceeded.
func downsample(rows []model.Reading, maxPoints int) []model.Reading {
	n := len(rows)
	if maxPoints <= 0 || n <= maxPoints {
		return rows
	}

	stride := (n + maxPoints - 1) / maxPoints
	out := rows[:0]
	for i := 0; i < n; i += stride {
		out = append(out, rows[i])
	}
	if last := rows[n-1]; !out[len(out)-1].Timestamp.Equal(last.Timestamp) {
		if len(out) < maxPoints {
			out = append(out, last)
		} else {
			out[len(out)-1] = last
		}
	}
	return out
}

// round1 rounds to one decimal place, half away from zero.
func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
