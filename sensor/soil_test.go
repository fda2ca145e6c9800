package sensor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rohan-js/agrimon/calib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSoilProbe(dir string, ch int, p calib.Profile) *SoilProbe {
	s := NewSoilProbe(dir, ch, p)
	s.RetryDelay = time.Millisecond
	return s
}

func TestSoilProbe_CalibratesSample(t *testing.T) {
	// (1000 - 650) / (1000 - 300) * 100 = 50%
	dir := fakeIIODir(t, map[string]string{"in_voltage0_raw": "650\n"})
	probe := testSoilProbe(dir, 0, calib.Profile{DryValue: 1000, WetValue: 300})

	got, err := probe.Read(context.Background(), SoilMoisture)
	require.NoError(t, err)
	assert.Equal(t, 50.0, got.Value)
	assert.Equal(t, 650, got.Raw)
	assert.True(t, got.HasRaw)
	assert.Equal(t, SoilMoisture, got.Metric)
}

func TestSoilProbe_ChannelSelectsAttribute(t *testing.T) {
	dir := fakeIIODir(t, map[string]string{
		"in_voltage0_raw": "1000",
		"in_voltage3_raw": "300",
	})
	probe := testSoilProbe(dir, 3, calib.Profile{DryValue: 1000, WetValue: 300})

	got, err := probe.Read(context.Background(), SoilMoisture)
	require.NoError(t, err)
	assert.Equal(t, 100.0, got.Value)
	assert.Equal(t, 300, got.Raw)
}

func TestSoilProbe_ClampsNoisySample(t *testing.T) {
	// 1100 is beyond the 10-bit range the dry reference sits at: the
	// calibrated value clamps to 0 instead of going negative.
	dir := fakeIIODir(t, map[string]string{"in_voltage0_raw": "1100"})
	probe := testSoilProbe(dir, 0, calib.Profile{DryValue: 1023, WetValue: 300})

	got, err := probe.Read(context.Background(), SoilMoisture)
	require.NoError(t, err)
	assert.Equal(t, 0.0, got.Value)
	assert.Equal(t, 1100, got.Raw)
}

func TestSoilProbe_MissingADC(t *testing.T) {
	probe := testSoilProbe(filepath.Join(t.TempDir(), "absent"), 0, calib.DefaultProfile())

	_, err := probe.Read(context.Background(), SoilMoisture)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestSoilProbe_OnlyProvidesSoilMoisture(t *testing.T) {
	dir := fakeIIODir(t, map[string]string{"in_voltage0_raw": "500"})
	probe := testSoilProbe(dir, 0, calib.DefaultProfile())

	_, err := probe.Read(context.Background(), Temperature)
	assert.ErrorIs(t, err, ErrUnsupportedMetric)
}
