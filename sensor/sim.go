package sensor

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rohan-js/agrimon/calib"
)

// Simulated generates plausible readings without hardware. Each metric walks
// randomly inside a configured range, so consecutive cycles look like slowly
// drifting field conditions rather than white noise.
type Simulated struct {
	mu      sync.Mutex
	rng     *rand.Rand
	walks   map[Metric]*walk
	forced  map[Metric]float64
	profile calib.Profile
}

type walk struct {
	value    float64
	min, max float64
	step     float64 // stddev of one gaussian step
}

// SimConfig bounds the random walks. Zero ranges fall back to the defaults;
// a zero seed means seed from the clock.
type SimConfig struct {
	Seed             int64
	TemperatureRange [2]float64
	HumidityRange    [2]float64
	SoilRange        [2]float64
	Profile          calib.Profile // fabricates raw ADC values for soil readings
}

// DefaultSimConfig returns ranges typical of a greenhouse in season:
// 20-35°C, 40-80% humidity, 30-70% soil moisture.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		TemperatureRange: [2]float64{20, 35},
		HumidityRange:    [2]float64{40, 80},
		SoilRange:        [2]float64{30, 70},
		Profile:          calib.DefaultProfile(),
	}
}

// NewSimulated starts each walk at the midpoint of its range. The same seed
// reproduces the same sequence of readings.
func NewSimulated(cfg SimConfig) *Simulated {
	def := DefaultSimConfig()
	if cfg.TemperatureRange == [2]float64{} {
		cfg.TemperatureRange = def.TemperatureRange
	}
	if cfg.HumidityRange == [2]float64{} {
		cfg.HumidityRange = def.HumidityRange
	}
	if cfg.SoilRange == [2]float64{} {
		cfg.SoilRange = def.SoilRange
	}
	if (cfg.Profile == calib.Profile{}) {
		cfg.Profile = def.Profile
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	// Step sizes per 30s cycle: temperature drifts slowly, soil moisture
	// swings harder as irrigation and evaporation fight it out.
	return &Simulated{
		rng:     rand.New(rand.NewSource(seed)),
		forced:  make(map[Metric]float64),
		profile: cfg.Profile,
		walks: map[Metric]*walk{
			Temperature:  newWalk(cfg.TemperatureRange, 0.5),
			Humidity:     newWalk(cfg.HumidityRange, 2.0),
			SoilMoisture: newWalk(cfg.SoilRange, 3.0),
		},
	}
}

func newWalk(r [2]float64, step float64) *walk {
	return &walk{value: (r[0] + r[1]) / 2, min: r[0], max: r[1], step: step}
}

// ForceExtreme makes the next read of the metric return the given value
// as-is, bypassing the walk and its clamping. Used to exercise the alert
// path without waiting for the walk to drift out of band.
func (s *Simulated) ForceExtreme(m Metric, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forced[m] = value
}

func (s *Simulated) Read(ctx context.Context, m Metric) (Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.walks[m]
	if !ok {
		return Reading{}, fmt.Errorf("simulated: %s: %w", m, ErrUnsupportedMetric)
	}

	value, isForced := s.forced[m]
	if isForced {
		delete(s.forced, m)
	} else {
		w.value += s.rng.NormFloat64() * w.step
		w.value = max(w.min, min(w.max, w.value))
		value = round1(w.value)
	}

	r := Reading{Metric: m, Value: value, Timestamp: time.Now().UTC()}
	if m == SoilMoisture {
		r.Raw = calib.Raw(value, s.profile)
		r.HasRaw = true
	}
	return r, nil
}
