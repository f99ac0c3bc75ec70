// Package schedule resolves weekday names and wall-clock times into concrete
// zoned instants for the booking flows.
package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidWeekday indicates a weekday name outside the supported set.
var ErrInvalidWeekday = errors.New("schedule: invalid weekday name")

// weekdays maps normalized Spanish day names to time.Weekday.
var weekdays = map[string]time.Weekday{
	"lunes":     time.Monday,
	"martes":    time.Tuesday,
	"miercoles": time.Wednesday,
	"jueves":    time.Thursday,
	"viernes":   time.Friday,
	"sabado":    time.Saturday,
	"domingo":   time.Sunday,
}

var diacritics = strings.NewReplacer(
	"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ü", "u",
	"Á", "a", "É", "e", "Í", "i", "Ó", "o", "Ú", "u", "Ü", "u",
)

func normalizeWeekday(name string) string {
	return diacritics.Replace(strings.ToLower(strings.TrimSpace(name)))
}

// ParseWeekday returns the weekday for a Spanish day name, case- and
// diacritic-insensitive ("Miércoles", "miercoles", "SÁBADO" all resolve).
func ParseWeekday(name string) (time.Weekday, error) {
	wd, ok := weekdays[normalizeWeekday(name)]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidWeekday, name)
	}
	return wd, nil
}

// NextOccurrence returns the nearest date on or after today whose weekday
// matches name. Today itself is returned when it matches, so same-day
// booking stays possible. The result keeps today's location with the clock
// zeroed out.
func NextOccurrence(name string, today time.Time) (time.Time, error) {
	target, err := ParseWeekday(name)
	if err != nil {
		return time.Time{}, err
	}
	date := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, today.Location())
	offset := (int(target) - int(date.Weekday()) + 7) % 7
	return date.AddDate(0, 0, offset), nil
}
