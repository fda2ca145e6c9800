// Package threshold classifies metric values into severity levels using
// configured warning and critical bands.
package threshold

import "fmt"

// Severity is the ordered classification of a reading. Higher values are
// more severe; the zero value is Normal.
type Severity int

const (
	Normal Severity = iota
	Warning
	Critical
)

// String returns the lowercase name used in alert payloads and logs.
func (s Severity) String() string {
	switch s {
	case Warning:
		return "warning"
	case Critical:
		return "critical"
	default:
		return "normal"
	}
}

// MarshalText serializes the severity as its name, so alert payloads carry
// "critical" rather than an integer.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Band holds the warning and critical limits for one metric. Values strictly
// between the warning limits are normal; at or beyond a warning limit is a
// warning, and at or beyond a critical limit is critical.
type Band struct {
	WarningLow   float64
	WarningHigh  float64
	CriticalLow  float64
	CriticalHigh float64
}

// Validate enforces CriticalLow <= WarningLow <= WarningHigh <= CriticalHigh.
func (b Band) Validate() error {
	if b.CriticalLow > b.WarningLow || b.WarningLow > b.WarningHigh || b.WarningHigh > b.CriticalHigh {
		return fmt.Errorf("threshold: limits out of order, want critical_low <= warning_low <= warning_high <= critical_high, got %v, %v, %v, %v",
			b.CriticalLow, b.WarningLow, b.WarningHigh, b.CriticalHigh)
	}
	return nil
}

// Classify places a value into a severity. Boundary values land on the more
// severe side: equal to a critical limit is critical, equal to a warning
// limit is warning.
func Classify(value float64, b Band) Severity {
	switch {
	case value <= b.CriticalLow || value >= b.CriticalHigh:
		return Critical
	case value <= b.WarningLow || value >= b.WarningHigh:
		return Warning
	default:
		return Normal
	}
}

// Set maps metric names to their configured bands.
type Set map[string]Band

// Classify looks up the metric's band and classifies the value. Metrics
// without a configured band are always Normal.
func (s Set) Classify(metric string, value float64) Severity {
	b, ok := s[metric]
	if !ok {
		return Normal
	}
	return Classify(value, b)
}

// Validate checks every band in the set, naming the offending metric.
func (s Set) Validate() error {
	for metric, b := range s {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("%s: %w", metric, err)
		}
	}
	return nil
}
