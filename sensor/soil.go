package sensor

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rohan-js/agrimon/calib"
)

// SoilProbe reads a capacitive soil moisture probe through an MCP3008 ADC
// exposed by the mcp320x IIO driver, then calibrates the 10-bit sample
// (0..1023) into a moisture percentage.
type SoilProbe struct {
	Dir        string // IIO device directory for the ADC
	Channel    int    // ADC channel the probe is wired to
	Profile    calib.Profile
	Attempts   int
	RetryDelay time.Duration
}

// NewSoilProbe returns a source reading channel ch of the ADC at dir,
// calibrated with the given profile.
func NewSoilProbe(dir string, ch int, profile calib.Profile) *SoilProbe {
	return &SoilProbe{
		Dir:        dir,
		Channel:    ch,
		Profile:    profile,
		Attempts:   3,
		RetryDelay: 500 * time.Millisecond,
	}
}

func (s *SoilProbe) Read(ctx context.Context, m Metric) (Reading, error) {
	if m != SoilMoisture {
		return Reading{}, fmt.Errorf("soil probe: %s: %w", m, ErrUnsupportedMetric)
	}

	attr := fmt.Sprintf("in_voltage%d_raw", s.Channel)
	raw, err := readIIOAttrRetry(ctx, filepath.Join(s.Dir, attr), s.Attempts, s.RetryDelay)
	if err != nil {
		return Reading{}, fmt.Errorf("soil probe: %w", err)
	}

	percent, err := calib.Convert(raw, s.Profile)
	if err != nil {
		return Reading{}, fmt.Errorf("soil probe: %w", err)
	}
	return Reading{
		Metric:    m,
		Value:     round1(percent),
		Raw:       raw,
		HasRaw:    true,
		Timestamp: time.Now().UTC(),
	}, nil
}
