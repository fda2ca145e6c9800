package sensor

import (
	"context"
	"testing"

	"github.com/rohan-js/agrimon/calib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulated_StaysInRange(t *testing.T) {
	cfg := DefaultSimConfig()
	cfg.Seed = 1
	sim := NewSimulated(cfg)
	ctx := context.Background()

	ranges := map[Metric][2]float64{
		Temperature:  cfg.TemperatureRange,
		Humidity:     cfg.HumidityRange,
		SoilMoisture: cfg.SoilRange,
	}

	// Long enough for every walk to slam into both limits.
	for i := 0; i < 500; i++ {
		for m, r := range ranges {
			got, err := sim.Read(ctx, m)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, got.Value, r[0], "%s read %d", m, i)
			assert.LessOrEqual(t, got.Value, r[1], "%s read %d", m, i)
			assert.Equal(t, m, got.Metric)
			assert.False(t, got.Timestamp.IsZero())
		}
	}
}

func TestSimulated_SeedReproducesSequence(t *testing.T) {
	cfg := DefaultSimConfig()
	cfg.Seed = 42
	a := NewSimulated(cfg)
	b := NewSimulated(cfg)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		for _, m := range Metrics() {
			ra, err := a.Read(ctx, m)
			require.NoError(t, err)
			rb, err := b.Read(ctx, m)
			require.NoError(t, err)
			assert.Equal(t, ra.Value, rb.Value, "%s read %d", m, i)
		}
	}
}

func TestSimulated_ForceExtreme(t *testing.T) {
	cfg := DefaultSimConfig()
	cfg.Seed = 7
	sim := NewSimulated(cfg)
	ctx := context.Background()

	// The forced value comes back exactly once, even far outside the
	// configured range, then the walk resumes inside it.
	sim.ForceExtreme(Temperature, 45.0)

	got, err := sim.Read(ctx, Temperature)
	require.NoError(t, err)
	assert.Equal(t, 45.0, got.Value)

	next, err := sim.Read(ctx, Temperature)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, next.Value, cfg.TemperatureRange[0])
	assert.LessOrEqual(t, next.Value, cfg.TemperatureRange[1])
}

func TestSimulated_SoilCarriesRawSample(t *testing.T) {
	cfg := DefaultSimConfig()
	cfg.Seed = 3
	sim := NewSimulated(cfg)

	got, err := sim.Read(context.Background(), SoilMoisture)
	require.NoError(t, err)
	require.True(t, got.HasRaw)

	// The fabricated raw sample must calibrate back to the reported value.
	back, err := calib.Convert(got.Raw, cfg.Profile)
	require.NoError(t, err)
	assert.InDelta(t, got.Value, back, 0.2)

	// Temperature is not an analog channel.
	temp, err := sim.Read(context.Background(), Temperature)
	require.NoError(t, err)
	assert.False(t, temp.HasRaw)
}

func TestSimulated_UnknownMetric(t *testing.T) {
	sim := NewSimulated(DefaultSimConfig())

	_, err := sim.Read(context.Background(), Metric("pressure"))
	assert.ErrorIs(t, err, ErrUnsupportedMetric)
}
