package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClock(t *testing.T) {
	min, err := ParseClock("09:30")
	require.NoError(t, err)
	assert.Equal(t, 570, min)

	min, err = ParseClock("00:00")
	require.NoError(t, err)
	assert.Equal(t, 0, min)

	for _, bad := range []string{"9", "24:00", "12:60", "ab:cd", "12:30:00", ""} {
		_, err := ParseClock(bad)
		assert.Error(t, err, bad)
	}
}

func TestFormatClock(t *testing.T) {
	assert.Equal(t, "09:30", FormatClock(570))
	assert.Equal(t, "00:00", FormatClock(0))
	assert.Equal(t, "23:59", FormatClock(23*60+59))
}

func TestCombineZonedPlain(t *testing.T) {
	loc, err := time.LoadLocation("America/Argentina/Buenos_Aires")
	require.NoError(t, err)

	d := time.Date(2026, time.September, 1, 0, 0, 0, 0, loc)
	got, err := CombineZoned(d, "10:30", loc)
	require.NoError(t, err)
	assert.Equal(t, 10, got.Hour())
	assert.Equal(t, 30, got.Minute())
	assert.Equal(t, loc.String(), got.Location().String())
	// Buenos Aires is UTC-3 year round.
	assert.Equal(t, time.Date(2026, time.September, 1, 13, 30, 0, 0, time.UTC), got.UTC())
}

func TestCombineZonedNonexistent(t *testing.T) {
	// US spring-forward: 2026-03-08 02:30 does not exist in New York.
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	d := time.Date(2026, time.March, 8, 0, 0, 0, 0, loc)
	_, err = CombineZoned(d, "02:30", loc)
	assert.ErrorIs(t, err, ErrAmbiguousLocalTime)
}

func TestCombineZonedAmbiguous(t *testing.T) {
	// US fall-back: 2026-11-01 01:30 occurs twice in New York.
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	d := time.Date(2026, time.November, 1, 0, 0, 0, 0, loc)
	_, err = CombineZoned(d, "01:30", loc)
	assert.ErrorIs(t, err, ErrAmbiguousLocalTime)
}

func TestCombineZonedNearTransitionButValid(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// The hour right after the fall-back repeat maps to a single instant.
	d := time.Date(2026, time.November, 1, 0, 0, 0, 0, loc)
	got, err := CombineZoned(d, "03:00", loc)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Hour())

	// Same for the hour after the spring-forward gap.
	d = time.Date(2026, time.March, 8, 0, 0, 0, 0, loc)
	got, err = CombineZoned(d, "03:30", loc)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Hour())
	assert.Equal(t, 30, got.Minute())
}

func TestCombineZonedBadClock(t *testing.T) {
	_, err := CombineZoned(time.Now(), "25:99", time.UTC)
	assert.Error(t, err)
}
