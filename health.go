package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/negroni"
)

// healthResponse is what GET /healthcheck returns.
type healthResponse struct {
	Status        string  `json:"status"`
	State         string  `json:"state"`
	Connected     bool    `json:"connected"`
	PublishCount  int64   `json:"publish_count"`
	ErrorCount    int64   `json:"error_count"`
	SuccessRate   float64 `json:"success_rate"`
	AlertFailures int64   `json:"alert_failures"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// healthWorker serves the health and metrics endpoints until ctx ends.
func healthWorker(ctx context.Context, addr string, pipe *Pipeline, pub *Publisher) {
	router := mux.NewRouter()
	router.HandleFunc("/healthcheck", healthHandler(pipe, pub)).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	n := negroni.New(negroni.NewRecovery())
	n.UseHandler(router)

	srv := &http.Server{
		Addr:              addr,
		Handler:           n,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("Health listener on %s\n", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Printf("Health listener failed: %v\n", err)
	}
}

// healthHandler reports liveness plus the pipeline state and delivery
// counters. A faulted pipeline answers 503 so orchestrators restart us.
func healthHandler(pipe *Pipeline, pub *Publisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m := pub.Metrics()
		state := pipe.State()
		resp := healthResponse{
			Status:        "ok",
			State:         state.String(),
			Connected:     pub.Connected(),
			PublishCount:  m.PublishCount,
			ErrorCount:    m.ErrorCount,
			SuccessRate:   m.SuccessRate,
			AlertFailures: pipe.AlertFailures(),
			UptimeSeconds: pipe.Uptime().Seconds(),
		}

		w.Header().Set("Content-Type", "application/json")
		if state == StateFaulted {
			resp.Status = "faulted"
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}
