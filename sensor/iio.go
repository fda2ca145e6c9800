package sensor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// readIIOAttr reads one IIO sysfs attribute and parses it as an integer.
// The file read runs in its own goroutine so a stuck kernel driver cannot
// hold the caller past the ctx deadline. A missing attribute file maps to
// ErrUnavailable (driver not loaded or device not wired).
func readIIOAttr(ctx context.Context, path string) (int, error) {
	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		data, err := os.ReadFile(path)
		ch <- result{data, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			if os.IsNotExist(res.err) {
				return 0, fmt.Errorf("%s: %w", path, ErrUnavailable)
			}
			return 0, fmt.Errorf("%s: %w", path, res.err)
		}
		v, err := strconv.Atoi(strings.TrimSpace(string(res.data)))
		if err != nil {
			return 0, fmt.Errorf("%s: unparseable value %q", path, strings.TrimSpace(string(res.data)))
		}
		return v, nil
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", path, ErrTimeout)
	}
}

// readIIOAttrRetry retries transient read failures. The dht11 driver returns
// EIO or EAGAIN when a transfer gets corrupted mid-air, which happens
// routinely on the single-wire bus. Missing devices and deadline hits are
// not retried.
func readIIOAttrRetry(ctx context.Context, path string, attempts int, delay time.Duration) (int, error) {
	var lastErr error
	for i := 0; i < attempts; i++ {
		v, err := readIIOAttr(ctx, path)
		if err == nil {
			return v, nil
		}
		if errors.Is(err, ErrUnavailable) || errors.Is(err, ErrTimeout) {
			return 0, err
		}
		lastErr = err
		if i < attempts-1 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return 0, fmt.Errorf("%s: %w", path, ErrTimeout)
			}
		}
	}
	return 0, lastErr
}
