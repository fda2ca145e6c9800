package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/rohan-js/agrimon/sensor"
	"github.com/rohan-js/agrimon/threshold"
)

// SafeGo launches a goroutine with panic recovery and retry logic.
// On panic, retries with exponential backoff (max 10 retries).
// Retry count resets if worker ran for 2+ minutes before failing.
// After exhausting retries, cancels context to trigger shutdown.
func SafeGo(
	ctx context.Context,
	cancel context.CancelFunc,
	name string,
	fn func(ctx context.Context),
) {
	const maxRetries = 10
	const maxDelay = 10 * time.Minute
	const resetAfter = 2 * time.Minute

	go func() {
		retries := 0
		delay := time.Second

		for {
			startTime := time.Now()
			var panicValue any

			func() {
				defer func() {
					panicValue = recover()
				}()
				fn(ctx)
			}()

			// If function returned normally (no panic), exit the goroutine
			// This covers both context cancellation and unexpected completion
			if panicValue == nil {
				return
			}

			// If ran for resetAfter duration before panicking, reset retry state
			if time.Since(startTime) >= resetAfter {
				retries = 0
				delay = time.Second
			}

			retries++
			log.Printf("Panic in %s (attempt %d/%d): %v\n", name, retries, maxRetries, panicValue)

			// Check if we've exhausted retries
			if retries >= maxRetries {
				log.Printf("%s failed after %d retries, shutting down\n", name, maxRetries)
				cancel()
				return
			}

			// Wait before retry with exponential backoff
			log.Printf("%s will retry in %v\n", name, delay)
			select {
			case <-time.After(delay):
				// Double delay for next time, cap at max
				delay = min(delay*2, maxDelay)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// buildSources wires up the metric sources for this run. Simulation swaps in
// the seeded random walk for every metric; hardware mode reads the DHT22 and
// the soil probe through their IIO sysfs directories.
func buildSources(cfg Config) ([]MetricSource, *sensor.Simulated) {
	if cfg.Simulation.Enabled {
		sim := sensor.NewSimulated(cfg.SimConfig())
		return []MetricSource{
			{Metric: sensor.Temperature, Source: sim},
			{Metric: sensor.Humidity, Source: sim},
			{Metric: sensor.SoilMoisture, Source: sim},
		}, sim
	}

	dht := sensor.NewDHT22(cfg.Sensors.DHT22.DeviceDir)
	soil := sensor.NewSoilProbe(
		cfg.Sensors.SoilMoisture.DeviceDir,
		cfg.Sensors.SoilMoisture.Channel,
		cfg.SoilProfile(),
	)
	return []MetricSource{
		{Metric: sensor.Temperature, Source: dht},
		{Metric: sensor.Humidity, Source: dht},
		{Metric: sensor.SoilMoisture, Source: soil},
	}, nil
}

// forcedCriticalValue picks a reading guaranteed to classify critical for the
// metric: just past the configured critical maximum, or an implausibly large
// value when no band exists.
func forcedCriticalValue(bands threshold.Set, metric string) float64 {
	if b, ok := bands[metric]; ok {
		return b.CriticalHigh + 5
	}
	return 999
}

// armForceAlert forces the first banded metric critical on the next cycle.
func armForceAlert(sim *sensor.Simulated, bands threshold.Set) {
	for _, m := range sensor.Metrics() {
		if _, ok := bands[string(m)]; !ok {
			continue
		}
		value := forcedCriticalValue(bands, string(m))
		sim.ForceExtreme(m, value)
		log.Printf("Forcing %s to %.1f on the first cycle\n", m, value)
		return
	}
	log.Println("Warning: -force-alert set but no thresholds configured, nothing to force")
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "Path to the device config file")
	thresholdsPath := flag.String("thresholds", "config/thresholds.yaml", "Path to the alert thresholds file")
	simulate := flag.Bool("simulate", false, "Use simulated sensors instead of hardware")
	duration := flag.Duration("duration", 0, "Stop after this long (0 runs until interrupted)")
	testConnection := flag.Bool("test-connection", false, "Connect to the broker, report the result, and exit")
	forceAlert := flag.Bool("force-alert", false, "Force a critical reading on the first cycle (needs -simulate)")
	debugConsole := flag.Bool("debug", false, "Start the interactive debug console")
	verbose := flag.Bool("v", false, "Log every sensor reading")
	flag.Parse()

	log.Println("Starting agrimon...")

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Error loading .env file: %v\n", err)
	}

	cfg, err := LoadConfig(*configPath, *thresholdsPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Flags override the file so one config serves field and bench runs
	if *simulate {
		cfg.Simulation.Enabled = true
	}
	if *verbose {
		cfg.Verbose = true
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Create context for lifecycle management
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Shut down cleanly on interrupt or termination
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			log.Println("\nShutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()

	pub := NewPublisher(cfg.PublisherConfig())

	if *testConnection {
		if err := pub.Connect(ctx); err != nil {
			log.Printf("Connection test failed: %v\n", err)
			os.Exit(1)
		}
		pub.Disconnect()
		log.Println("Connection test passed")
		return
	}

	sources, sim := buildSources(cfg)

	if *forceAlert {
		if sim == nil {
			log.Println("Warning: -force-alert needs -simulate, ignoring")
		} else {
			armForceAlert(sim, cfg.Thresholds)
		}
	}

	pipeCfg := PipelineConfig{
		Publisher:   pub,
		Sources:     sources,
		Bands:       cfg.Thresholds,
		DeviceID:    cfg.Device.ID,
		Location:    cfg.Device.Location,
		Interval:    cfg.Interval(),
		Duration:    *duration,
		ReadTimeout: cfg.ReadTimeout(),
		Cooldown:    cfg.Cooldown(),
		Verbose:     cfg.Verbose,
	}
	if cfg.CloudWatch.Enabled {
		pipeCfg.CloudWatch = NewCloudWatchForwarder(cfg.CloudWatch, cfg.Device.ID, cfg.Device.Location)
		log.Printf("CloudWatch forwarding enabled (namespace %s)\n", cfg.CloudWatch.Namespace)
	}

	pipe := NewPipeline(pipeCfg)

	if cfg.Health.Enabled {
		SafeGo(ctx, cancel, "health-worker", func(ctx context.Context) {
			healthWorker(ctx, cfg.Health.Address, pipe, pub)
		})
		log.Printf("Health listener started on %s\n", cfg.Health.Address)
	}

	if *debugConsole {
		SafeGo(ctx, cancel, "debug-worker", func(ctx context.Context) {
			debugWorker(ctx, cancel, pipe, pub, sim, cfg.Thresholds)
		})
	}

	err = pipe.Run(ctx)

	m := pub.Metrics()
	log.Printf("Published %d messages, %d errors (%.1f%% success)\n",
		m.PublishCount, m.ErrorCount, m.SuccessRate)

	if err != nil {
		log.Printf("Pipeline stopped with error: %v\n", err)
		os.Exit(2)
	}
	log.Println("Shutdown complete")
}
