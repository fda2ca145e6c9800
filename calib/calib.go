// Package calib converts raw analog-to-digital samples into calibrated
// percentages using a two-point linear mapping.
package calib

import (
	"errors"
	"math"
)

// ErrInvalidProfile is returned when a profile's reference points coincide,
// which would make the linear mapping undefined.
var ErrInvalidProfile = errors.New("calib: dry and wet reference values are equal")

// Profile holds the two reference points for one analog channel.
// DryValue is the raw sample observed in air (0% moisture) and WetValue the
// raw sample observed submerged in water (100% moisture). Capacitive probes
// read high when dry, so DryValue > WetValue is the usual orientation, but
// the mapping works either way round.
type Profile struct {
	DryValue int // raw ADC sample at 0%
	WetValue int // raw ADC sample at 100%
}

// DefaultProfile returns the calibration for the stock capacitive probe on a
// 10-bit ADC: ~1023 in air, ~300 submerged.
func DefaultProfile() Profile {
	return Profile{DryValue: 1023, WetValue: 300}
}

// Validate reports whether the profile can produce a defined mapping.
func (p Profile) Validate() error {
	if p.DryValue == p.WetValue {
		return ErrInvalidProfile
	}
	return nil
}

// Convert maps a raw ADC sample to a moisture percentage:
//
//	percent = (dry - raw) / (dry - wet) * 100
//
// The result is clamped to [0, 100], so raw samples outside the reference
// range (sensor noise, loose wiring) still produce a physically meaningful
// value. Fails with ErrInvalidProfile when the references coincide.
func Convert(raw int, p Profile) (float64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	percent := float64(p.DryValue-raw) / float64(p.DryValue-p.WetValue) * 100
	return max(0, min(100, percent)), nil
}

// Raw inverts Convert, producing the raw ADC sample that calibrates to the
// given percentage. The simulated source uses it to fabricate plausible
// pre-calibration values.
func Raw(percent float64, p Profile) int {
	raw := float64(p.DryValue) - percent/100*float64(p.DryValue-p.WetValue)
	return int(math.Round(raw))
}
