package config

import (
	"fmt"
	"strings"
	"time"
)

// Duration parses a non-negative Go duration string from the config field
// at path. Empty means 0.
func Duration(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// DurationOr is Duration with def substituted for an empty or zero value.
func DurationOr(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := Duration(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
