package config

import (
	"fmt"
	"strings"
	"time"
)

// Timeout parses a duration-valued field such as toxicity.timeout or
// audit.busy_timeout. Empty and zero values fall back to def; negative
// values are rejected so a hot reload can't smuggle one in.
func Timeout(field, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: bad duration %q: %w", field, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: negative duration %q", field, raw)
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}
