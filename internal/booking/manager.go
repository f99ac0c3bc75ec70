package booking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/clinicware/turnero/internal/availability"
	"github.com/clinicware/turnero/internal/calendar"
	"github.com/clinicware/turnero/internal/observability/metrics"
	"github.com/clinicware/turnero/internal/schedule"
	"github.com/clinicware/turnero/pkg/logging"
)

var bookingTracer = otel.Tracer("turnero.internal.booking")

// User identifies the person booking through the chat channel.
type User struct {
	ID          string
	DisplayName string
}

// Marker returns the machine-parseable ownership tag embedded in event
// descriptions and used for ownership-scoped search.
func (u User) Marker() string {
	return "ID Chat: " + u.ID
}

// Reservation is a confirmed appointment held on the remote store. The
// store is authoritative; nothing here is persisted locally.
type Reservation struct {
	EventID    string
	Provider   string
	CalendarID string
	UserID     string
	Summary    string
	Start      time.Time
	End        time.Time
	Link       string
}

// BookRequest describes a booking to attempt. Date is optional: when zero,
// the target date is resolved from Weekday (nearest occurrence on or after
// today). Clock is the slot start as HH:MM in the business timezone.
type BookRequest struct {
	Provider Provider
	Weekday  string
	Date     time.Time
	Clock    string
	User     User
}

// RescheduleRequest moves an existing reservation to a new provider/day/slot.
type RescheduleRequest struct {
	Old      Reservation
	Provider Provider
	Weekday  string
	Date     time.Time
	Clock    string
	User     User
}

// Manager creates, finds, and cancels reservations. The "one future
// reservation per (user, provider)" rule and the confirmation-time slot
// re-check live here, not in the store.
type Manager struct {
	store     calendar.Client
	dir       *Directory
	engine    *availability.Engine
	maxListed int
	logger    *logging.Logger
	metrics   *metrics.BotMetrics
	now       func() time.Time
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithMetrics attaches operation counters. A nil value is safe.
func WithMetrics(bm *metrics.BotMetrics) ManagerOption {
	return func(m *Manager) { m.metrics = bm }
}

// NewManager wires the reservation manager.
func NewManager(store calendar.Client, dir *Directory, engine *availability.Engine, maxListed int, logger *logging.Logger, opts ...ManagerOption) *Manager {
	if store == nil {
		panic("booking: calendar client required")
	}
	if dir == nil {
		panic("booking: directory required")
	}
	if engine == nil {
		panic("booking: availability engine required")
	}
	if maxListed <= 0 {
		maxListed = 5
	}
	if logger == nil {
		logger = logging.Default()
	}
	m := &Manager{
		store:     store,
		dir:       dir,
		engine:    engine,
		maxListed: maxListed,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Directory exposes the provider table.
func (m *Manager) Directory() *Directory {
	return m.dir
}

// HasActive returns the user's earliest future reservation with the given
// provider, or nil when none exists. Used as the pre-booking gate.
func (m *Manager) HasActive(ctx context.Context, user User, provider Provider) (*Reservation, error) {
	now := m.now()
	events, err := m.store.ListEvents(ctx, provider.CalendarID, now, user.Marker(), 5)
	if err != nil {
		return nil, err
	}
	for _, ev := range events {
		if !strings.Contains(ev.Description, user.Marker()) {
			continue
		}
		if !ev.Start.After(now) {
			continue
		}
		res := m.toReservation(ev, provider, user.ID)
		return &res, nil
	}
	return nil, nil
}

// Book resolves the target date, re-validates the requested slot against the
// store's current busy intervals, and creates the event. The re-validation
// re-fetch is mandatory: it is the only thing closing the race between "user
// saw free slot" and "user confirmed".
func (m *Manager) Book(ctx context.Context, req BookRequest) (*Reservation, error) {
	ctx, span := bookingTracer.Start(ctx, "booking.book")
	defer span.End()
	span.SetAttributes(
		attribute.String("turnero.provider", req.Provider.Name),
		attribute.String("turnero.user_id", req.User.ID),
	)

	now := m.now().In(m.engine.Location())
	date := req.Date
	if date.IsZero() {
		var err error
		date, err = schedule.NextOccurrence(req.Weekday, now)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
	}

	if existing, err := m.HasActive(ctx, req.User, req.Provider); err != nil {
		span.RecordError(err)
		return nil, err
	} else if existing != nil {
		return nil, fmt.Errorf("%w: %s at %s", ErrConflictExists,
			req.Provider.Name, existing.Start.In(m.engine.Location()).Format("02/01 15:04"))
	}

	start, err := schedule.CombineZoned(date, req.Clock, m.engine.Location())
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	end := start.Add(m.engine.SlotDuration())

	free, err := m.engine.FreeSlots(ctx, req.Provider.CalendarID, date, now)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !slotOffered(free, start) {
		return nil, fmt.Errorf("%w: %s %s with %s", ErrSlotTaken,
			date.Format("2006-01-02"), req.Clock, req.Provider.Name)
	}

	draft := calendar.EventDraft{
		Summary:     fmt.Sprintf("Turno %s con %s", displayName(req.User), req.Provider.Name),
		Description: eventDescription(req.User),
		Start:       start,
		End:         end,
	}
	created, err := m.store.InsertEvent(ctx, req.Provider.CalendarID, draft)
	if err != nil {
		span.RecordError(err)
		m.metrics.ObserveBookingOp("book", "error")
		return nil, fmt.Errorf("%w: %v", ErrBookingFailed, err)
	}
	m.metrics.ObserveBookingOp("book", "ok")

	res := m.toReservation(*created, req.Provider, req.User.ID)
	m.logger.Info("reservation created",
		"provider", req.Provider.Name,
		"event_id", res.EventID,
		"start", res.Start.Format(time.RFC3339),
		"user_id", req.User.ID,
	)
	return &res, nil
}

// FindAllFuture fans out across every provider calendar and returns the
// user's future reservations merged, sorted ascending, and capped. A broken
// provider calendar is logged and skipped, never fatal.
func (m *Manager) FindAllFuture(ctx context.Context, user User) ([]Reservation, error) {
	ctx, span := bookingTracer.Start(ctx, "booking.find_all_future")
	defer span.End()
	span.SetAttributes(attribute.String("turnero.user_id", user.ID))

	now := m.now()
	var all []Reservation
	for _, p := range m.dir.Providers() {
		events, err := m.store.ListEvents(ctx, p.CalendarID, now, user.Marker(), int64(m.maxListed)+5)
		if err != nil {
			m.logger.Warn("provider calendar query failed, skipping",
				"provider", p.Name, "error", err)
			continue
		}
		for _, ev := range events {
			if !strings.Contains(ev.Description, user.Marker()) {
				continue
			}
			if !ev.Start.After(now) {
				continue
			}
			all = append(all, m.toReservation(ev, p, user.ID))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Start.Before(all[j].Start) })
	if len(all) > m.maxListed {
		all = all[:m.maxListed]
	}
	return all, nil
}

// Cancel deletes the remote event. An event that is already gone counts as
// success, so cancelling twice is safe.
func (m *Manager) Cancel(ctx context.Context, calendarID, eventID string) error {
	ctx, span := bookingTracer.Start(ctx, "booking.cancel")
	defer span.End()
	span.SetAttributes(attribute.String("turnero.event_id", eventID))

	err := m.store.DeleteEvent(ctx, calendarID, eventID)
	if err == nil {
		m.logger.Info("reservation cancelled", "calendar_id", calendarID, "event_id", eventID)
		m.metrics.ObserveBookingOp("cancel", "ok")
		return nil
	}
	if errors.Is(err, calendar.ErrEventNotFound) {
		m.logger.Info("reservation already gone", "calendar_id", calendarID, "event_id", eventID)
		m.metrics.ObserveBookingOp("cancel", "ok")
		return nil
	}
	span.RecordError(err)
	m.metrics.ObserveBookingOp("cancel", "error")
	return err
}

// Reschedule deletes the old reservation and books the new slot. When the
// rebook fails after the delete succeeded the user holds nothing; that case
// surfaces as ErrRescheduleLostSlot so the caller can say "please rebook"
// instead of a generic failure.
func (m *Manager) Reschedule(ctx context.Context, req RescheduleRequest) (*Reservation, error) {
	ctx, span := bookingTracer.Start(ctx, "booking.reschedule")
	defer span.End()
	span.SetAttributes(
		attribute.String("turnero.old_event_id", req.Old.EventID),
		attribute.String("turnero.provider", req.Provider.Name),
	)

	if err := m.Cancel(ctx, req.Old.CalendarID, req.Old.EventID); err != nil {
		// Old reservation still stands; plain failure, nothing lost.
		span.RecordError(err)
		return nil, err
	}

	res, err := m.Book(ctx, BookRequest{
		Provider: req.Provider,
		Weekday:  req.Weekday,
		Date:     req.Date,
		Clock:    req.Clock,
		User:     req.User,
	})
	if err != nil {
		span.RecordError(err)
		m.metrics.ObserveBookingOp("reschedule", "lost_slot")
		return nil, fmt.Errorf("%w: %v", ErrRescheduleLostSlot, err)
	}
	m.logger.Info("reservation rescheduled",
		"old_event_id", req.Old.EventID, "new_event_id", res.EventID)
	m.metrics.ObserveBookingOp("reschedule", "ok")
	return res, nil
}

func (m *Manager) toReservation(ev calendar.Event, p Provider, userID string) Reservation {
	return Reservation{
		EventID:    ev.ID,
		Provider:   p.Name,
		CalendarID: p.CalendarID,
		UserID:     userID,
		Summary:    ev.Summary,
		Start:      ev.Start.In(m.engine.Location()),
		End:        ev.End.In(m.engine.Location()),
		Link:       ev.HTMLLink,
	}
}

func slotOffered(slots []availability.Slot, start time.Time) bool {
	for _, s := range slots {
		if s.Start.Equal(start) {
			return true
		}
	}
	return false
}

func displayName(u User) string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return "Paciente"
}

func eventDescription(u User) string {
	return fmt.Sprintf("Solicitado vía bot.\nUsuario: %s\n%s", displayName(u), u.Marker())
}
