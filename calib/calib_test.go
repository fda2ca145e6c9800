package calib

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConvert_ReferencePoints(t *testing.T) {
	p := Profile{DryValue: 1023, WetValue: 300}

	dry, err := Convert(1023, p)
	assert.NoError(t, err)
	assert.Equal(t, 0.0, dry)

	wet, err := Convert(300, p)
	assert.NoError(t, err)
	assert.Equal(t, 100.0, wet)
}

func TestConvert_Midpoint(t *testing.T) {
	// (1000 - 650) / (1000 - 300) * 100 = 350/700 * 100 = 50%
	p := Profile{DryValue: 1000, WetValue: 300}

	got, err := Convert(650, p)
	assert.NoError(t, err)
	assert.InDelta(t, 50.0, got, 0.001)
}

func TestConvert_ClampsOutOfRangeSamples(t *testing.T) {
	p := Profile{DryValue: 1023, WetValue: 300}

	// Drier than the dry reference would go negative: clamps to 0.
	got, err := Convert(1100, p)
	assert.NoError(t, err)
	assert.Equal(t, 0.0, got)

	// Wetter than the wet reference would exceed 100: clamps to 100.
	got, err = Convert(150, p)
	assert.NoError(t, err)
	assert.Equal(t, 100.0, got)

	// Any raw sample at all stays inside [0, 100].
	for raw := -500; raw <= 1500; raw += 50 {
		got, err := Convert(raw, p)
		assert.NoError(t, err)
		assert.GreaterOrEqual(t, got, 0.0, "raw=%d", raw)
		assert.LessOrEqual(t, got, 100.0, "raw=%d", raw)
	}
}

func TestConvert_ReversedOrientation(t *testing.T) {
	// Resistive probes read low when dry. The mapping must hold with
	// dry < wet too.
	p := Profile{DryValue: 100, WetValue: 900}

	dry, err := Convert(100, p)
	assert.NoError(t, err)
	assert.Equal(t, 0.0, dry)

	wet, err := Convert(900, p)
	assert.NoError(t, err)
	assert.Equal(t, 100.0, wet)

	// (100 - 500) / (100 - 900) * 100 = -400/-800 * 100 = 50%
	mid, err := Convert(500, p)
	assert.NoError(t, err)
	assert.InDelta(t, 50.0, mid, 0.001)
}

func TestConvert_EqualReferences(t *testing.T) {
	_, err := Convert(512, Profile{DryValue: 500, WetValue: 500})
	assert.ErrorIs(t, err, ErrInvalidProfile)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, DefaultProfile().Validate())
	assert.ErrorIs(t, Profile{DryValue: 7, WetValue: 7}.Validate(), ErrInvalidProfile)
}

func TestRaw_InvertsConvert(t *testing.T) {
	p := DefaultProfile()

	for _, percent := range []float64{0, 12.5, 25, 50, 75, 100} {
		raw := Raw(percent, p)
		got, err := Convert(raw, p)
		assert.NoError(t, err)
		// Raw rounds to whole ADC counts; one count on a 723-count span
		// is ~0.14%, so a 0.2 tolerance covers the roundtrip.
		assert.InDelta(t, percent, got, 0.2, "percent=%v", percent)
	}
}
