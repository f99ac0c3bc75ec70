// Package availability computes the free slot lattice for a provider's day.
package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/clinicware/turnero/internal/calendar"
	"github.com/clinicware/turnero/internal/schedule"
	"github.com/clinicware/turnero/pkg/logging"
)

// maxSlotsPerDay bounds enumeration against misconfigured office windows or
// slot durations. Hitting it truncates and logs instead of failing.
const maxSlotsPerDay = 64

// Slot is a bookable window within office hours. Immutable once computed;
// slots are regenerated fresh on every query.
type Slot struct {
	Start time.Time
	End   time.Time
}

// Clock returns the slot's wall-clock label (HH:MM) in the slot's zone.
func (s Slot) Clock() string {
	return s.Start.Format("15:04")
}

// BusyQuerier is the slice of the calendar client the engine needs.
type BusyQuerier interface {
	QueryBusy(ctx context.Context, calendarID string, from, to time.Time) ([]calendar.BusyInterval, error)
}

// Engine enumerates free slots for a calendar on a given date under the
// configured office hours.
type Engine struct {
	store        BusyQuerier
	location     *time.Location
	openMinutes  int
	closeMinutes int
	slotDuration time.Duration
	logger       *logging.Logger
}

// NewEngine builds an availability engine. Open and close are HH:MM strings
// in the business timezone.
func NewEngine(store BusyQuerier, loc *time.Location, open, close string, slotDuration time.Duration, logger *logging.Logger) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("availability: busy querier required")
	}
	if loc == nil {
		return nil, fmt.Errorf("availability: location required")
	}
	openMin, err := schedule.ParseClock(open)
	if err != nil {
		return nil, fmt.Errorf("availability: office open: %w", err)
	}
	closeMin, err := schedule.ParseClock(close)
	if err != nil {
		return nil, fmt.Errorf("availability: office close: %w", err)
	}
	if closeMin <= openMin {
		return nil, fmt.Errorf("availability: office close %s must be after open %s", close, open)
	}
	if slotDuration <= 0 {
		return nil, fmt.Errorf("availability: slot duration must be positive")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{
		store:        store,
		location:     loc,
		openMinutes:  openMin,
		closeMinutes: closeMin,
		slotDuration: slotDuration,
		logger:       logger,
	}, nil
}

// SlotDuration returns the configured slot length.
func (e *Engine) SlotDuration() time.Duration {
	return e.slotDuration
}

// Location returns the business timezone.
func (e *Engine) Location() *time.Location {
	return e.location
}

// FreeSlots returns the free slots for calendarID on date, ordered by start
// ascending. A slot is excluded when it already ended relative to now or
// when it strictly overlaps a busy interval (half-open test, touching
// endpoints allowed). Calling twice against an unchanged store yields the
// same sequence.
func (e *Engine) FreeSlots(ctx context.Context, calendarID string, date, now time.Time) ([]Slot, error) {
	open, err := schedule.CombineZonedMinutes(date, e.openMinutes, e.location)
	if err != nil {
		return nil, err
	}
	close, err := schedule.CombineZonedMinutes(date, e.closeMinutes, e.location)
	if err != nil {
		return nil, err
	}

	busy, err := e.store.QueryBusy(ctx, calendarID, open, close)
	if err != nil {
		return nil, err
	}

	var free []Slot
	count := 0
	for start := open; start.Before(close); start = start.Add(e.slotDuration) {
		end := start.Add(e.slotDuration)
		if end.After(close) {
			break
		}
		count++
		if count > maxSlotsPerDay {
			e.logger.Warn("slot enumeration truncated",
				"calendar_id", calendarID,
				"date", date.Format("2006-01-02"),
				"cap", maxSlotsPerDay,
			)
			break
		}
		if !end.After(now) {
			continue
		}
		if overlapsAny(busy, start, end) {
			continue
		}
		free = append(free, Slot{Start: start, End: end})
	}
	return free, nil
}

func overlapsAny(busy []calendar.BusyInterval, start, end time.Time) bool {
	for _, b := range busy {
		if b.Overlaps(start, end) {
			return true
		}
	}
	return false
}
