// Package conversation drives the chat dialogue: per-user session records,
// the booking/cancel/edit state machine, and the dispatcher that serializes
// inbound messages per user.
package conversation

import (
	"time"

	"github.com/clinicware/turnero/internal/booking"
)

// State tags where a session sits in the dialogue.
type State string

const (
	StateIdle                  State = "idle"
	StateAwaitingProvider      State = "awaiting_provider"
	StateAwaitingDay           State = "awaiting_day"
	StateAwaitingTimeslot      State = "awaiting_timeslot"
	StateAwaitingEditSelection State = "awaiting_edit_selection"
	StateAwaitingEditConfirm   State = "awaiting_edit_confirmation"
	StateAwaitingNewDay        State = "awaiting_new_day"
	StateAwaitingNewTimeslot   State = "awaiting_new_timeslot"
	StateAwaitingFinalConfirm  State = "awaiting_final_confirmation"
	StateTalkingToOperator     State = "talking_to_operator"
)

// Intent distinguishes what the user wants done with a selected reservation.
type Intent string

const (
	IntentCancel Intent = "cancel"
	IntentEdit   Intent = "edit"
)

// ReservationRef is the session-resident handle to a remote reservation.
// Only identifiers and display data are kept; the remote store stays
// authoritative.
type ReservationRef struct {
	EventID    string    `json:"event_id"`
	CalendarID string    `json:"calendar_id"`
	Provider   string    `json:"provider"`
	Start      time.Time `json:"start"`
	Display    string    `json:"display"`
}

// BookingDraft accumulates the answers of an in-flight booking flow.
type BookingDraft struct {
	Provider string `json:"provider,omitempty"`
	Weekday  string `json:"weekday,omitempty"`
	Date     string `json:"date,omitempty"`
}

// EditDraft accumulates an in-flight cancel or reschedule flow.
type EditDraft struct {
	Intent     Intent           `json:"intent,omitempty"`
	Options    []ReservationRef `json:"options,omitempty"`
	Selected   *ReservationRef  `json:"selected,omitempty"`
	NewWeekday string           `json:"new_weekday,omitempty"`
	NewDate    string           `json:"new_date,omitempty"`
	NewClock   string           `json:"new_clock,omitempty"`
}

// Session is the per-user dialogue record persisted between messages.
type Session struct {
	UserID      string       `json:"user_id"`
	ChatID      int64        `json:"chat_id"`
	DisplayName string       `json:"display_name,omitempty"`
	State       State        `json:"state"`
	Draft       BookingDraft `json:"draft"`
	Edit        EditDraft    `json:"edit"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// NewSession returns a fresh idle session for the user.
func NewSession(userID string) *Session {
	return &Session{UserID: userID, State: StateIdle}
}

// Reset drops all in-flight flow data and returns the session to idle.
// This is what the global cancel does, regardless of the current state.
func (s *Session) Reset() {
	s.State = StateIdle
	s.Draft = BookingDraft{}
	s.Edit = EditDraft{}
}

// User converts the session identity into a booking user.
func (s *Session) User() booking.User {
	return booking.User{ID: s.UserID, DisplayName: s.DisplayName}
}
