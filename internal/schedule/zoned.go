package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrAmbiguousLocalTime indicates a wall-clock time that does not map to
// exactly one instant in the target zone (DST gap or fall-back repeat).
// Booking instants must never be guessed.
var ErrAmbiguousLocalTime = errors.New("schedule: ambiguous or nonexistent local time")

// ParseClock parses an HH:MM string into minutes since midnight.
func ParseClock(v string) (int, error) {
	parts := strings.Split(strings.TrimSpace(v), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("schedule: invalid clock %q, expected HH:MM", v)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("schedule: invalid hour in %q", v)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("schedule: invalid minute in %q", v)
	}
	return h*60 + m, nil
}

// FormatClock renders minutes since midnight as HH:MM.
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// CombineZoned interprets (date, clock) as wall-clock time in loc and returns
// the corresponding absolute instant. Clock is an HH:MM string. Nonexistent
// local times (spring-forward gap) and ambiguous ones (fall-back repeat)
// return ErrAmbiguousLocalTime.
func CombineZoned(date time.Time, clock string, loc *time.Location) (time.Time, error) {
	minutes, err := ParseClock(clock)
	if err != nil {
		return time.Time{}, err
	}
	return CombineZonedMinutes(date, minutes, loc)
}

// CombineZonedMinutes is CombineZoned with the clock already split into
// minutes since midnight.
func CombineZonedMinutes(date time.Time, minutes int, loc *time.Location) (time.Time, error) {
	h, m := minutes/60, minutes%60
	t := time.Date(date.Year(), date.Month(), date.Day(), h, m, 0, 0, loc)

	// A spring-forward gap makes time.Date renormalize the clock.
	if t.Hour() != h || t.Minute() != m {
		return time.Time{}, fmt.Errorf("%w: %s %s in %s does not exist",
			ErrAmbiguousLocalTime, date.Format("2006-01-02"), FormatClock(minutes), loc)
	}

	// A fall-back repeat means a second instant carries the same wall clock
	// under the neighbouring UTC offset. Probe the offsets around t and test
	// whether shifting onto them lands on the same local reading.
	_, offT := t.Zone()
	for _, probe := range []time.Time{t.Add(-4 * time.Hour), t.Add(4 * time.Hour)} {
		_, off := probe.Zone()
		if off == offT {
			continue
		}
		alt := t.Add(time.Duration(offT-off) * time.Second)
		if alt.Equal(t) {
			continue
		}
		local := alt.In(loc)
		if local.Hour() == h && local.Minute() == m && local.Day() == date.Day() {
			return time.Time{}, fmt.Errorf("%w: %s %s in %s occurs twice",
				ErrAmbiguousLocalTime, date.Format("2006-01-02"), FormatClock(minutes), loc)
		}
	}
	return t, nil
}
