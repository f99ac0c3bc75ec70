// Package calendar talks to the remote calendar store that holds the
// authoritative appointment data. The rest of the system only sees the
// Client interface; the Google implementation lives in google.go.
package calendar

import (
	"context"
	"errors"
	"time"
)

// ErrRemoteUnavailable covers transport, auth, and timeout failures against
// the remote store. Callers decide whether the operation is retryable.
var ErrRemoteUnavailable = errors.New("calendar: remote store unavailable")

// ErrEventNotFound indicates the event no longer exists (deleted or expired).
var ErrEventNotFound = errors.New("calendar: event not found")

// BusyInterval is an externally booked time range, closed on the left and
// open on the right for overlap purposes.
type BusyInterval struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether the half-open interval [start, end) intersects
// the busy interval. Touching endpoints do not overlap.
func (b BusyInterval) Overlaps(start, end time.Time) bool {
	return b.End.After(start) && end.After(b.Start)
}

// EventDraft is the payload for creating a remote event.
type EventDraft struct {
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
}

// Event is a remote calendar event.
type Event struct {
	ID          string
	CalendarID  string
	Summary     string
	Description string
	HTMLLink    string
	Start       time.Time
	End         time.Time
}

// Client is the remote calendar store surface consumed by the availability
// engine and the reservation manager.
type Client interface {
	// QueryBusy returns the busy intervals overlapping [from, to] on the
	// given calendar.
	QueryBusy(ctx context.Context, calendarID string, from, to time.Time) ([]BusyInterval, error)

	// InsertEvent creates an event and returns it with the remote ID and
	// link populated.
	InsertEvent(ctx context.Context, calendarID string, draft EventDraft) (*Event, error)

	// ListEvents returns up to max events starting at or after from whose
	// text matches search, ordered by start time ascending.
	ListEvents(ctx context.Context, calendarID string, from time.Time, search string, max int64) ([]Event, error)

	// DeleteEvent removes an event. Returns ErrEventNotFound when the remote
	// store reports it already gone.
	DeleteEvent(ctx context.Context, calendarID, eventID string) error

	// GetEvent fetches a single event by ID.
	GetEvent(ctx context.Context, calendarID, eventID string) (*Event, error)
}
