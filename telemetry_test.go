package main

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohan-js/agrimon/sensor"
	"github.com/rohan-js/agrimon/threshold"
)

func TestAssembleTelemetry_MergesReadings(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 500_000_000, time.UTC)
	readings := []sensor.Reading{
		{Metric: sensor.Temperature, Value: 23.4},
		{Metric: sensor.Humidity, Value: 67.8},
		{Metric: sensor.SoilMoisture, Value: 41.0},
	}

	rec, err := assembleTelemetry(readings, "farm-01", "greenhouse-2", at)

	require.NoError(t, err)
	assert.Equal(t, map[string]float64{
		"temperature":   23.4,
		"humidity":      67.8,
		"soil_moisture": 41.0,
	}, rec.Data)
	assert.Equal(t, "farm-01", rec.DeviceID)
	assert.Equal(t, "greenhouse-2", rec.Location)
	assert.Equal(t, at, rec.Timestamp)
	// Epoch carries sub-second precision: unix seconds plus the 500ms fraction
	assert.InDelta(t, float64(at.Unix())+0.5, rec.Epoch, 1e-6)
}

func TestAssembleTelemetry_EmptyBatch(t *testing.T) {
	_, err := assembleTelemetry(nil, "farm-01", "", time.Now())

	assert.ErrorIs(t, err, ErrEmptyBatch)
}

func TestAssembleTelemetry_DuplicateMetricKeepsLast(t *testing.T) {
	readings := []sensor.Reading{
		{Metric: sensor.Temperature, Value: 20.0},
		{Metric: sensor.Temperature, Value: 21.5},
	}

	rec, err := assembleTelemetry(readings, "farm-01", "", time.Now())

	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"temperature": 21.5}, rec.Data)
}

func TestAssembleTelemetry_DeterministicSerialization(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	forward := []sensor.Reading{
		{Metric: sensor.Temperature, Value: 23.4},
		{Metric: sensor.Humidity, Value: 67.8},
		{Metric: sensor.SoilMoisture, Value: 41.0},
	}
	reversed := []sensor.Reading{
		{Metric: sensor.SoilMoisture, Value: 41.0},
		{Metric: sensor.Humidity, Value: 67.8},
		{Metric: sensor.Temperature, Value: 23.4},
	}

	recA, err := assembleTelemetry(forward, "farm-01", "", at)
	require.NoError(t, err)
	recB, err := assembleTelemetry(reversed, "farm-01", "", at)
	require.NoError(t, err)

	jsonA, err := json.Marshal(recA)
	require.NoError(t, err)
	jsonB, err := json.Marshal(recB)
	require.NoError(t, err)

	// Same readings in any order serialize byte for byte identically
	assert.Equal(t, string(jsonA), string(jsonB))
}

func TestNewAlert_AboveCritical(t *testing.T) {
	band := threshold.Band{WarningLow: 10, WarningHigh: 35, CriticalLow: 5, CriticalHigh: 40}
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r := sensor.Reading{Metric: sensor.Temperature, Value: 42.0}

	alert := newAlert("farm-01", r, band, threshold.Critical, at)

	assert.Equal(t, "farm-01", alert.DeviceID)
	assert.Equal(t, "temperature", alert.Metric)
	assert.Equal(t, 42.0, alert.Value)
	assert.Equal(t, threshold.Critical, alert.Severity)
	assert.Equal(t, "Temperature is above critical threshold: 42.0°C (limit 40.0°C)", alert.Message)
	assert.Equal(t, at, alert.Timestamp)
}

func TestNewAlert_BelowWarning(t *testing.T) {
	band := threshold.Band{WarningLow: 20, WarningHigh: 80, CriticalLow: 10, CriticalHigh: 90}
	r := sensor.Reading{Metric: sensor.Humidity, Value: 12.0}

	alert := newAlert("farm-01", r, band, threshold.Warning, time.Now())

	assert.Equal(t, "Humidity is below warning threshold: 12.0% (limit 20.0%)", alert.Message)
}

func TestNewAlert_BelowCritical(t *testing.T) {
	band := threshold.Band{WarningLow: 10, WarningHigh: 70, CriticalLow: 5, CriticalHigh: 90}
	r := sensor.Reading{Metric: sensor.SoilMoisture, Value: 3.0}

	alert := newAlert("farm-01", r, band, threshold.Critical, time.Now())

	assert.Equal(t, "Soil moisture is below critical threshold: 3.0% (limit 5.0%)", alert.Message)
}

func TestNewAlert_SeveritySerializesAsText(t *testing.T) {
	band := threshold.Band{WarningLow: 10, WarningHigh: 35, CriticalLow: 5, CriticalHigh: 40}
	alert := newAlert("farm-01", sensor.Reading{Metric: sensor.Temperature, Value: 36.0}, band, threshold.Warning, time.Now())

	payload, err := json.Marshal(alert)

	require.NoError(t, err)
	assert.Contains(t, string(payload), `"severity":"warning"`)
}

func TestNewStatus_Fields(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	rec := newStatus("online", "farm-01", "greenhouse-2", []string{"temperature", "humidity"}, 90*time.Second, at)

	assert.Equal(t, "online", rec.Status)
	assert.Equal(t, "farm-01", rec.DeviceID)
	assert.Equal(t, []string{"temperature", "humidity"}, rec.Sensors)
	assert.Equal(t, 90.0, rec.UptimeSeconds)
	assert.Equal(t, at, rec.Timestamp)
}

func TestMetricTitle(t *testing.T) {
	assert.Equal(t, "Temperature", metricTitle(sensor.Temperature))
	assert.Equal(t, "Soil moisture", metricTitle(sensor.SoilMoisture))
}
