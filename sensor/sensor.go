// Package sensor provides the data sources for the monitoring pipeline:
// physical probes read through the Linux IIO subsystem, and a simulated
// source for running without hardware.
package sensor

import (
	"context"
	"errors"
	"math"
	"time"
)

// Metric identifies one measured quantity.
type Metric string

const (
	Temperature  Metric = "temperature"
	Humidity     Metric = "humidity"
	SoilMoisture Metric = "soil_moisture"
)

// Metrics lists every metric in the order cycles read and publish them.
func Metrics() []Metric {
	return []Metric{Temperature, Humidity, SoilMoisture}
}

// Unit returns the display unit for the metric.
func (m Metric) Unit() string {
	if m == Temperature {
		return "°C"
	}
	return "%"
}

var (
	// ErrUnavailable reports that the device node is missing or the bus
	// could not be reached.
	ErrUnavailable = errors.New("sensor unavailable")

	// ErrTimeout reports that the sensor produced no value within the
	// caller's deadline.
	ErrTimeout = errors.New("sensor read timed out")

	// ErrUnsupportedMetric reports a metric the source does not provide.
	ErrUnsupportedMetric = errors.New("metric not provided by this source")
)

// Reading is one sample from a source. Value is in physical units (°C or
// percent); Raw carries the pre-calibration ADC sample for analog channels
// when HasRaw is set. Readings are not mutated after creation.
type Reading struct {
	Metric    Metric
	Value     float64
	Raw       int
	HasRaw    bool
	Timestamp time.Time
}

// Source produces readings for one or more metrics. Implementations honor
// the ctx deadline: Read never blocks past it.
type Source interface {
	Read(ctx context.Context, m Metric) (Reading, error)
}

// round1 rounds to one decimal place, the resolution both the DHT22 and the
// calibrated soil percentage are reported at.
func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
