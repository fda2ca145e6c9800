package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/rohan-js/agrimon/sensor"
	"github.com/rohan-js/agrimon/threshold"
)

// State is the pipeline's lifecycle position.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateRunning
	StateStopping
	StateStopped
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFaulted:
		return "faulted"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// messagePublisher is the slice of Publisher the pipeline depends on, kept
// narrow so tests can substitute a recording fake.
type messagePublisher interface {
	Connect(ctx context.Context) error
	Disconnect()
	PublishTelemetry(ctx context.Context, rec TelemetryRecord) (PublishResult, error)
	PublishAlert(ctx context.Context, rec AlertRecord) (PublishResult, error)
	PublishStatus(ctx context.Context, rec StatusRecord) (PublishResult, error)
}

// metricForwarder mirrors telemetry into an external metrics store.
type metricForwarder interface {
	Put(rec TelemetryRecord) error
}

// MetricSource pairs a metric with the source that provides it, keeping the
// cycle's read order stable.
type MetricSource struct {
	Metric sensor.Metric
	Source sensor.Source
}

// CycleSnapshot is what the debug console sees after each cycle.
type CycleSnapshot struct {
	Record     TelemetryRecord
	Severities map[string]threshold.Severity
	Results    []PublishResult
}

// PipelineConfig wires the loop's collaborators and timing.
type PipelineConfig struct {
	Publisher   messagePublisher
	Sources     []MetricSource
	Bands       threshold.Set
	CloudWatch  metricForwarder // nil when forwarding is disabled
	DeviceID    string
	Location    string
	Interval    time.Duration
	Duration    time.Duration // 0 runs until cancelled
	ReadTimeout time.Duration
	Cooldown    time.Duration
	Verbose     bool
}

// Pipeline drives the sample, classify, publish cycle on a fixed interval.
// One Pipeline owns its publisher's connection; nothing else touches it.
type Pipeline struct {
	pub         messagePublisher
	sources     []MetricSource
	bands       threshold.Set
	cw          metricForwarder
	deviceID    string
	location    string
	interval    time.Duration
	duration    time.Duration
	readTimeout time.Duration
	verbose     bool

	gate          *alertGate
	state         atomic.Int32
	startedNanos  atomic.Int64
	alertFailures atomic.Int64
	snapshots     chan CycleSnapshot
}

// NewPipeline builds an idle pipeline. Run starts it.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 5 * time.Second
	}
	p := &Pipeline{
		pub:         cfg.Publisher,
		sources:     cfg.Sources,
		bands:       cfg.Bands,
		cw:          cfg.CloudWatch,
		deviceID:    cfg.DeviceID,
		location:    cfg.Location,
		interval:    cfg.Interval,
		duration:    cfg.Duration,
		readTimeout: cfg.ReadTimeout,
		verbose:     cfg.Verbose,
		gate:        newAlertGate(cfg.Cooldown),
		snapshots:   make(chan CycleSnapshot, 4),
	}
	p.state.Store(int32(StateIdle))
	return p
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// AlertFailures counts alerts lost after exhausting their retry budget.
func (p *Pipeline) AlertFailures() int64 {
	return p.alertFailures.Load()
}

// Uptime is the time since the pipeline connected, zero before that.
func (p *Pipeline) Uptime() time.Duration {
	ns := p.startedNanos.Load()
	if ns == 0 {
		return 0
	}
	return time.Since(time.Unix(0, ns))
}

// Snapshots exposes per-cycle outcomes for the debug console. Sends never
// block the loop; an idle console just misses frames.
func (p *Pipeline) Snapshots() <-chan CycleSnapshot {
	return p.snapshots
}

func (p *Pipeline) setState(s State) {
	old := State(p.state.Swap(int32(s)))
	if old != s {
		log.Printf("Pipeline state: %s -> %s\n", old, s)
	}
}

// Run drives the pipeline until ctx is cancelled, the configured duration
// elapses, or a fatal publish error occurs. It returns nil on a clean stop.
func (p *Pipeline) Run(ctx context.Context) error {
	p.setState(StateConnecting)
	if err := p.pub.Connect(ctx); err != nil {
		p.setState(StateFaulted)
		return fmt.Errorf("connect: %w", err)
	}
	p.startedNanos.Store(time.Now().UnixNano())

	if err := p.publishStatus(ctx, "online"); err != nil {
		var fatal *FatalError
		if errors.As(err, &fatal) {
			p.setState(StateFaulted)
			p.pub.Disconnect()
			return err
		}
		log.Printf("Online status publish failed: %v\n", err)
	}
	p.setState(StateRunning)

	start := time.Now()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var fatal error
loop:
	for {
		if ctx.Err() != nil {
			break
		}
		if p.duration > 0 && time.Since(start) >= p.duration {
			log.Printf("Run duration %s elapsed\n", p.duration)
			break
		}

		if err := p.runCycle(ctx); err != nil {
			fatal = err
			break
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			break loop
		}
	}

	if fatal != nil {
		p.setState(StateFaulted)
		p.pub.Disconnect()
		return fatal
	}

	p.setState(StateStopping)
	// The run ctx is usually already cancelled here; the farewell publish
	// gets its own short deadline.
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.publishStatus(stopCtx, "offline"); err != nil {
		log.Printf("Offline status publish failed: %v\n", err)
	}
	p.pub.Disconnect()
	p.setState(StateStopped)
	return nil
}

// runCycle performs one sample, assemble, classify, publish pass. Sensor
// failures degrade to missing metrics; only fatal publish errors return.
func (p *Pipeline) runCycle(ctx context.Context) error {
	cyclesTotal.Inc()

	readings := make([]sensor.Reading, 0, len(p.sources))
	for _, ms := range p.sources {
		readCtx, cancel := context.WithTimeout(ctx, p.readTimeout)
		r, err := ms.Source.Read(readCtx, ms.Metric)
		cancel()
		if err != nil {
			sensorReadErrors.WithLabelValues(string(ms.Metric)).Inc()
			log.Printf("Sensor read failed for %s: %v\n", ms.Metric, err)
			continue
		}
		if p.verbose {
			log.Printf("Read %s: %.1f%s\n", r.Metric, r.Value, r.Metric.Unit())
		}
		readings = append(readings, r)
	}

	now := time.Now().UTC()
	rec, err := assembleTelemetry(readings, p.deviceID, p.location, now)
	if err != nil {
		// Every sensor failed this cycle. Skip it and try again next tick.
		log.Printf("Nothing to publish: %v\n", err)
		return nil
	}

	severities := make(map[string]threshold.Severity, len(rec.Data))
	var alerts []AlertRecord
	for _, r := range readings {
		sev := p.bands.Classify(string(r.Metric), r.Value)
		severities[string(r.Metric)] = sev
		if sev > threshold.Normal {
			alerts = append(alerts, newAlert(p.deviceID, r, p.bands[string(r.Metric)], sev, now))
		}
	}

	results := make([]PublishResult, 0, 1+len(alerts))
	res, err := p.pub.PublishTelemetry(ctx, rec)
	results = append(results, res)
	if err != nil {
		var fatal *FatalError
		if errors.As(err, &fatal) {
			return err
		}
		log.Printf("Telemetry delivery failed after %d attempts: %v\n", res.Attempts, err)
	}

	if p.cw != nil {
		if err := p.cw.Put(rec); err != nil {
			log.Printf("CloudWatch forwarding failed: %v\n", err)
		}
	}

	for _, alert := range alerts {
		if !p.gate.allow(alert.Metric, alert.Severity, now) {
			if p.verbose {
				log.Printf("Alert for %s suppressed by cooldown\n", alert.Metric)
			}
			continue
		}
		log.Printf("ALERT [%s] %s\n", alert.Severity, alert.Message)
		res, err := p.pub.PublishAlert(ctx, alert)
		results = append(results, res)
		if err != nil {
			var fatal *FatalError
			if errors.As(err, &fatal) {
				return err
			}
			// Losing an alert is worse than losing telemetry: count it
			// loudly, but one lost alert must not stop the sampling loop.
			p.alertFailures.Add(1)
			log.Printf("ERROR: alert delivery failed for %s after %d attempts: %v\n", alert.Metric, res.Attempts, err)
			continue
		}
		alertsTotal.WithLabelValues(alert.Severity.String()).Inc()
	}

	p.offerSnapshot(CycleSnapshot{Record: rec, Severities: severities, Results: results})
	return nil
}

func (p *Pipeline) publishStatus(ctx context.Context, status string) error {
	sensors := make([]string, 0, len(p.sources))
	for _, ms := range p.sources {
		sensors = append(sensors, string(ms.Metric))
	}
	rec := newStatus(status, p.deviceID, p.location, sensors, p.Uptime(), time.Now().UTC())
	_, err := p.pub.PublishStatus(ctx, rec)
	return err
}

// offerSnapshot hands the cycle's outcome to the debug console without ever
// blocking the loop.
func (p *Pipeline) offerSnapshot(s CycleSnapshot) {
	select {
	case p.snapshots <- s:
	default:
	}
}

// alertGate suppresses repeats of the same alert inside the cooldown window
// so a stuck-high metric pages once, not every cycle.
type alertGate struct {
	cooldown time.Duration
	lastSent map[string]time.Time
}

func newAlertGate(cooldown time.Duration) *alertGate {
	return &alertGate{cooldown: cooldown, lastSent: make(map[string]time.Time)}
}

func (g *alertGate) allow(metric string, sev threshold.Severity, now time.Time) bool {
	if g.cooldown <= 0 {
		return true
	}
	key := metric + "/" + sev.String()
	if last, ok := g.lastSent[key]; ok && now.Sub(last) < g.cooldown {
		return false
	}
	g.lastSent[key] = now
	return true
}
