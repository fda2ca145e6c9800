package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rohan-js/agrimon/sensor"
	"github.com/rohan-js/agrimon/threshold"
)

// ErrEmptyBatch reports a cycle in which every sensor read failed, leaving
// nothing to assemble.
var ErrEmptyBatch = errors.New("no readings to assemble")

// TelemetryRecord is the routine per-cycle payload published on the
// telemetry topic. Records are owned by a single publish call and never
// mutated after assembly.
type TelemetryRecord struct {
	Data      map[string]float64 `json:"data"`
	DeviceID  string             `json:"device_id"`
	Location  string             `json:"location,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
	Epoch     float64            `json:"epoch"`
}

// AlertRecord is published on the alerts topic when a metric leaves its
// normal band.
type AlertRecord struct {
	DeviceID  string             `json:"device_id"`
	Metric    string             `json:"metric"`
	Value     float64            `json:"value"`
	Severity  threshold.Severity `json:"severity"`
	Message   string             `json:"message"`
	Timestamp time.Time          `json:"timestamp"`
}

// StatusRecord is published on the status topic when the agent comes online
// and again when it stops.
type StatusRecord struct {
	Status        string    `json:"status"`
	DeviceID      string    `json:"device_id"`
	Location      string    `json:"location,omitempty"`
	Sensors       []string  `json:"sensors"`
	UptimeSeconds float64   `json:"uptime_seconds"`
	Timestamp     time.Time `json:"timestamp"`
}

// assembleTelemetry merges one cycle's readings into a single record. At
// least one reading is required; a cycle where everything failed has nothing
// worth publishing. Duplicate metrics keep the last reading. Serialization
// is deterministic: encoding/json emits map keys in sorted order.
func assembleTelemetry(readings []sensor.Reading, deviceID, location string, at time.Time) (TelemetryRecord, error) {
	if len(readings) == 0 {
		return TelemetryRecord{}, ErrEmptyBatch
	}
	data := make(map[string]float64, len(readings))
	for _, r := range readings {
		data[string(r.Metric)] = r.Value
	}
	return TelemetryRecord{
		Data:      data,
		DeviceID:  deviceID,
		Location:  location,
		Timestamp: at,
		Epoch:     float64(at.UnixNano()) / float64(time.Second),
	}, nil
}

// newAlert builds the alert for one out-of-band reading. The message names
// the limit that was crossed so the notification reads on its own.
func newAlert(deviceID string, r sensor.Reading, b threshold.Band, sev threshold.Severity, at time.Time) AlertRecord {
	var side string
	var limit float64
	switch {
	case sev == threshold.Critical && r.Value <= b.CriticalLow:
		side, limit = "below critical", b.CriticalLow
	case sev == threshold.Critical:
		side, limit = "above critical", b.CriticalHigh
	case r.Value <= b.WarningLow:
		side, limit = "below warning", b.WarningLow
	default:
		side, limit = "above warning", b.WarningHigh
	}

	unit := r.Metric.Unit()
	return AlertRecord{
		DeviceID: deviceID,
		Metric:   string(r.Metric),
		Value:    r.Value,
		Severity: sev,
		Message: fmt.Sprintf("%s is %s threshold: %.1f%s (limit %.1f%s)",
			metricTitle(r.Metric), side, r.Value, unit, limit, unit),
		Timestamp: at,
	}
}

// newStatus builds a lifecycle announcement for the status topic.
func newStatus(status, deviceID, location string, sensors []string, uptime time.Duration, at time.Time) StatusRecord {
	return StatusRecord{
		Status:        status,
		DeviceID:      deviceID,
		Location:      location,
		Sensors:       sensors,
		UptimeSeconds: uptime.Seconds(),
		Timestamp:     at,
	}
}

// metricTitle renders a metric name for human-facing messages,
// e.g. soil_moisture -> "Soil moisture".
func metricTitle(m sensor.Metric) string {
	s := strings.ReplaceAll(string(m), "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
