package duration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSupportedUnits(t *testing.T) {
	cases := map[string]time.Duration{
		"45s": 45 * time.Second,
		"15m": 15 * time.Minute,
		"12h": 12 * time.Hour,
		"30d": 30 * 24 * time.Hour,
		" 1d": 24 * time.Hour,
	}
	for raw, want := range cases {
		got, err := Parse(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}
}

func TestParseRejectsInvalidInput(t *testing.T) {
	for _, raw := range []string{"", "m", "15", "15w", "0m", "-5m", "1.5h", "abc", "99999999999999999999d", "9999999999999d"} {
		_, err := Parse(raw)
		assert.ErrorIs(t, err, ErrInvalid, raw)
	}
}

func TestSeconds(t *testing.T) {
	secs, err := Seconds("15m")
	require.NoError(t, err)
	assert.Equal(t, int64(900), secs)

	_, err = Seconds("later")
	assert.Error(t, err)
}
