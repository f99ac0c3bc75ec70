package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/clinicware/turnero/internal/observability/metrics"
	"github.com/clinicware/turnero/pkg/logging"
)

const defaultTimeout = 10 * time.Second

// Reminder offsets carried on every created appointment, in minutes.
var reminderOffsets = []int64{60, 24 * 60}

// GoogleClient implements Client against Google Calendar v3. It is
// constructed once at startup and injected; there is no lazy singleton.
type GoogleClient struct {
	svc      *gcal.Service
	timezone string
	timeout  time.Duration
	logger   *logging.Logger
	metrics  *metrics.BotMetrics
}

// GoogleOption customizes a GoogleClient.
type GoogleOption func(*GoogleClient)

// WithTimeout overrides the per-call deadline.
func WithTimeout(d time.Duration) GoogleOption {
	return func(c *GoogleClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithCalendarMetrics attaches remote-call latency observation. Nil is safe.
func WithCalendarMetrics(bm *metrics.BotMetrics) GoogleOption {
	return func(c *GoogleClient) { c.metrics = bm }
}

// NewGoogleClient builds a calendar client authenticated with a service
// account credentials file.
func NewGoogleClient(ctx context.Context, credentialsFile, timezone string, logger *logging.Logger, opts ...GoogleOption) (*GoogleClient, error) {
	if logger == nil {
		logger = logging.Default()
	}
	svc, err := gcal.NewService(ctx,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(gcal.CalendarScope),
	)
	if err != nil {
		return nil, fmt.Errorf("calendar: create google service: %w", err)
	}
	c := &GoogleClient{
		svc:      svc,
		timezone: timezone,
		timeout:  defaultTimeout,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewGoogleClientWithHTTP builds a client over a caller-supplied HTTP client.
// Used by tests to point the service at a fake server.
func NewGoogleClientWithHTTP(ctx context.Context, hc *http.Client, endpoint, timezone string, logger *logging.Logger) (*GoogleClient, error) {
	if logger == nil {
		logger = logging.Default()
	}
	svc, err := gcal.NewService(ctx,
		option.WithHTTPClient(hc),
		option.WithEndpoint(endpoint),
	)
	if err != nil {
		return nil, fmt.Errorf("calendar: create google service: %w", err)
	}
	return &GoogleClient{svc: svc, timezone: timezone, timeout: defaultTimeout, logger: logger}, nil
}

var _ Client = (*GoogleClient)(nil)

func (c *GoogleClient) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

func (c *GoogleClient) observe(op string, started time.Time) {
	c.metrics.ObserveRemoteLatency(op, time.Since(started).Seconds())
}

// QueryBusy runs a freebusy query for one calendar.
func (c *GoogleClient) QueryBusy(ctx context.Context, calendarID string, from, to time.Time) ([]BusyInterval, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()
	defer c.observe("freebusy", time.Now())

	req := &gcal.FreeBusyRequest{
		TimeMin:  from.Format(time.RFC3339),
		TimeMax:  to.Format(time.RFC3339),
		TimeZone: c.timezone,
		Items:    []*gcal.FreeBusyRequestItem{{Id: calendarID}},
	}
	resp, err := c.svc.Freebusy.Query(req).Context(ctx).Do()
	if err != nil {
		return nil, mapError("freebusy query", err)
	}

	cal, ok := resp.Calendars[calendarID]
	if !ok {
		return nil, nil
	}
	intervals := make([]BusyInterval, 0, len(cal.Busy))
	for _, p := range cal.Busy {
		start, err := time.Parse(time.RFC3339, p.Start)
		if err != nil {
			c.logger.Warn("skipping busy interval with bad start", "calendar_id", calendarID, "start", p.Start)
			continue
		}
		end, err := time.Parse(time.RFC3339, p.End)
		if err != nil {
			c.logger.Warn("skipping busy interval with bad end", "calendar_id", calendarID, "end", p.End)
			continue
		}
		intervals = append(intervals, BusyInterval{Start: start, End: end})
	}
	return intervals, nil
}

// InsertEvent creates an appointment event with popup reminders.
func (c *GoogleClient) InsertEvent(ctx context.Context, calendarID string, draft EventDraft) (*Event, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()
	defer c.observe("insert", time.Now())

	reminders := make([]*gcal.EventReminder, 0, len(reminderOffsets))
	for _, m := range reminderOffsets {
		reminders = append(reminders, &gcal.EventReminder{Method: "popup", Minutes: m})
	}
	body := &gcal.Event{
		Summary:     draft.Summary,
		Description: draft.Description,
		Start:       &gcal.EventDateTime{DateTime: draft.Start.Format(time.RFC3339), TimeZone: c.timezone},
		End:         &gcal.EventDateTime{DateTime: draft.End.Format(time.RFC3339), TimeZone: c.timezone},
		Reminders: &gcal.EventReminders{
			UseDefault:      false,
			Overrides:       reminders,
			ForceSendFields: []string{"UseDefault"},
		},
	}
	created, err := c.svc.Events.Insert(calendarID, body).Context(ctx).Do()
	if err != nil {
		return nil, mapError("insert event", err)
	}
	ev := fromGoogleEvent(created, calendarID)
	c.logger.Info("calendar event created", "calendar_id", calendarID, "event_id", ev.ID)
	return ev, nil
}

// ListEvents searches future events by free text.
func (c *GoogleClient) ListEvents(ctx context.Context, calendarID string, from time.Time, search string, max int64) ([]Event, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()
	defer c.observe("list", time.Now())

	call := c.svc.Events.List(calendarID).
		TimeMin(from.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(max)
	if search != "" {
		call = call.Q(search)
	}
	resp, err := call.Context(ctx).Do()
	if err != nil {
		return nil, mapError("list events", err)
	}
	events := make([]Event, 0, len(resp.Items))
	for _, item := range resp.Items {
		ev := fromGoogleEvent(item, calendarID)
		if ev.Start.IsZero() {
			// All-day entries have no dateTime; appointments always do.
			continue
		}
		events = append(events, *ev)
	}
	return events, nil
}

// DeleteEvent removes an event from the calendar.
func (c *GoogleClient) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()
	defer c.observe("delete", time.Now())

	if err := c.svc.Events.Delete(calendarID, eventID).Context(ctx).Do(); err != nil {
		return mapError("delete event", err)
	}
	c.logger.Info("calendar event deleted", "calendar_id", calendarID, "event_id", eventID)
	return nil
}

// GetEvent fetches a single event.
func (c *GoogleClient) GetEvent(ctx context.Context, calendarID, eventID string) (*Event, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()
	defer c.observe("get", time.Now())

	item, err := c.svc.Events.Get(calendarID, eventID).Context(ctx).Do()
	if err != nil {
		return nil, mapError("get event", err)
	}
	return fromGoogleEvent(item, calendarID), nil
}

func fromGoogleEvent(item *gcal.Event, calendarID string) *Event {
	ev := &Event{
		ID:          item.Id,
		CalendarID:  calendarID,
		Summary:     item.Summary,
		Description: item.Description,
		HTMLLink:    item.HtmlLink,
	}
	if item.Start != nil && item.Start.DateTime != "" {
		if t, err := time.Parse(time.RFC3339, item.Start.DateTime); err == nil {
			ev.Start = t
		}
	}
	if item.End != nil && item.End.DateTime != "" {
		if t, err := time.Parse(time.RFC3339, item.End.DateTime); err == nil {
			ev.End = t
		}
	}
	return ev
}

// mapError folds Google API failures into the package error taxonomy.
// 404 and 410 mean the event is gone; everything else is a remote-store
// failure the caller may retry.
func mapError(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone {
			return fmt.Errorf("calendar: %s: %w", op, ErrEventNotFound)
		}
	}
	return fmt.Errorf("calendar: %s: %w: %v", op, ErrRemoteUnavailable, err)
}
