// Package duration parses the compact expiry strings used in token configuration.
package duration

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrInvalid is returned for any expiry string that cannot be parsed.
var ErrInvalid = errors.New("invalid duration")

var units = map[byte]time.Duration{
	's': time.Second,
	'm': time.Minute,
	'h': time.Hour,
	'd': 24 * time.Hour,
}

// Parse converts strings such as "15m", "12h" or "30d" into a time.Duration.
// The amount must be a positive integer followed by exactly one of s, m, h or d.
func Parse(raw string) (time.Duration, error) {
	value := strings.TrimSpace(raw)
	if len(value) < 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalid, raw)
	}

	unit, ok := units[value[len(value)-1]]
	if !ok {
		return 0, fmt.Errorf("%w: unknown unit in %q", ErrInvalid, raw)
	}

	digits := value[:len(value)-1]
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return 0, fmt.Errorf("%w: %q", ErrInvalid, raw)
		}
	}

	amount, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalid, raw)
	}
	if amount <= 0 {
		return 0, fmt.Errorf("%w: %q must be positive", ErrInvalid, raw)
	}
	if amount > math.MaxInt64/int64(unit) {
		return 0, fmt.Errorf("%w: %q overflows", ErrInvalid, raw)
	}

	return time.Duration(amount) * unit, nil
}

// Seconds parses raw and returns the whole number of seconds it represents.
func Seconds(raw string) (int64, error) {
	d, err := Parse(raw)
	if err != nil {
		return 0, err
	}
	return int64(d / time.Second), nil
}
