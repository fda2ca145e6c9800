package sensor

import (
	"context"
	"fmt"
	"path/filepath"
	"time"
)

// DHT22 reads temperature and relative humidity through the kernel dht11 IIO
// driver, which also speaks the DHT22/AM2302 variant. The driver owns the
// single-wire protocol and timing; userspace only reads the attribute files
// it exposes, in millidegrees and milli-percent.
type DHT22 struct {
	Dir        string        // IIO device directory, e.g. /sys/bus/iio/devices/iio:device0
	Attempts   int           // reads per sample, the wire protocol fails routinely
	RetryDelay time.Duration // the sensor needs ~2s between sampling attempts
}

// NewDHT22 returns a source reading from the given IIO device directory.
func NewDHT22(dir string) *DHT22 {
	return &DHT22{Dir: dir, Attempts: 3, RetryDelay: 2 * time.Second}
}

func (d *DHT22) Read(ctx context.Context, m Metric) (Reading, error) {
	var attr string
	switch m {
	case Temperature:
		attr = "in_temp_input"
	case Humidity:
		attr = "in_humidityrelative_input"
	default:
		return Reading{}, fmt.Errorf("dht22: %s: %w", m, ErrUnsupportedMetric)
	}

	milli, err := readIIOAttrRetry(ctx, filepath.Join(d.Dir, attr), d.Attempts, d.RetryDelay)
	if err != nil {
		return Reading{}, fmt.Errorf("dht22 %s: %w", m, err)
	}

	value := round1(float64(milli) / 1000)
	if err := validDHT22(m, value); err != nil {
		return Reading{}, err
	}
	return Reading{Metric: m, Value: value, Timestamp: time.Now().UTC()}, nil
}

// validDHT22 rejects values outside the sensor's datasheet envelope, which
// show up when a bit flips during the single-wire transfer.
func validDHT22(m Metric, v float64) error {
	if m == Temperature && (v < -40 || v > 80) {
		return fmt.Errorf("dht22: temperature %.1f°C outside -40..80", v)
	}
	if m == Humidity && (v < 0 || v > 100) {
		return fmt.Errorf("dht22: humidity %.1f%% outside 0..100", v)
	}
	return nil
}
