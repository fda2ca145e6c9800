package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus counters served by the health listener's /metrics endpoint.
var (
	cyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agrimon_cycles_total",
		Help: "Sampling cycles started.",
	})

	publishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agrimon_publish_total",
		Help: "Messages delivered to the broker, per channel.",
	}, []string{"channel"})

	publishErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agrimon_publish_errors_total",
		Help: "Publishes that failed after exhausting retries, per channel.",
	}, []string{"channel"})

	sensorReadErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agrimon_sensor_read_errors_total",
		Help: "Sensor reads that failed, per metric.",
	}, []string{"metric"})

	alertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agrimon_alerts_total",
		Help: "Alerts published, per severity.",
	}, []string{"severity"})
)
