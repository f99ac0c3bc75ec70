package conversation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/clinicware/turnero/internal/availability"
	"github.com/clinicware/turnero/internal/booking"
	"github.com/clinicware/turnero/internal/schedule"
	"github.com/clinicware/turnero/pkg/logging"
)

// Menu buttons and commands. The reply keyboard sends these back verbatim,
// so matching is exact on the button text.
const (
	btnRequest  = "Solicitar turno"
	btnCancel   = "Cancelar turno"
	btnEdit     = "Editar turno"
	btnDoctors  = "Doctores"
	btnVideo    = "Videollamada"
	btnOperator = "Hablar con la secretaría"
	btnYes      = "Sí"
	btnNo       = "No"

	cancelWord = "Cancelar"
)

const dateLayout = "2006-01-02"

var weekdayChoices = []string{"Lunes", "Martes", "Miércoles", "Jueves", "Viernes", "Sábado"}

var shortDays = map[time.Weekday]string{
	time.Sunday:    "dom",
	time.Monday:    "lun",
	time.Tuesday:   "mar",
	time.Wednesday: "mié",
	time.Thursday:  "jue",
	time.Friday:    "vie",
	time.Saturday:  "sáb",
}

// Input is one inbound user message.
type Input struct {
	Text string
}

// Outgoing is one reply the channel must deliver. Choices, when present,
// render as a one-time reply keyboard.
type Outgoing struct {
	ChatID  int64
	Text    string
	Choices []string
}

// SlotFinder yields the free slots of a provider calendar for one day.
type SlotFinder interface {
	FreeSlots(ctx context.Context, calendarID string, date, now time.Time) ([]availability.Slot, error)
}

// ReservationService is the booking surface the dialogue drives.
type ReservationService interface {
	HasActive(ctx context.Context, user booking.User, provider booking.Provider) (*booking.Reservation, error)
	Book(ctx context.Context, req booking.BookRequest) (*booking.Reservation, error)
	FindAllFuture(ctx context.Context, user booking.User) ([]booking.Reservation, error)
	Cancel(ctx context.Context, calendarID, eventID string) error
	Reschedule(ctx context.Context, req booking.RescheduleRequest) (*booking.Reservation, error)
}

// Machine is the dialogue transition function. It mutates the session in
// place and returns the replies to send; it never talks to the channel
// directly.
type Machine struct {
	res          ReservationService
	slots        SlotFinder
	dir          *booking.Directory
	loc          *time.Location
	operatorChat int64
	logger       *logging.Logger
	now          func() time.Time
}

// MachineOption customizes a Machine.
type MachineOption func(*Machine)

// WithMachineClock injects a clock for tests.
func WithMachineClock(now func() time.Time) MachineOption {
	return func(m *Machine) { m.now = now }
}

// NewMachine wires the dialogue machine. operatorChat may be zero, which
// disables the secretary relay.
func NewMachine(res ReservationService, slots SlotFinder, dir *booking.Directory, loc *time.Location, operatorChat int64, logger *logging.Logger, opts ...MachineOption) *Machine {
	if res == nil {
		panic("conversation: reservation service required")
	}
	if slots == nil {
		panic("conversation: slot finder required")
	}
	if dir == nil {
		panic("conversation: provider directory required")
	}
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = logging.Default()
	}
	m := &Machine{
		res:          res,
		slots:        slots,
		dir:          dir,
		loc:          loc,
		operatorChat: operatorChat,
		logger:       logger,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Handle advances the session with one inbound message. The global cancel
// ("Cancelar" or /cancel) short-circuits every state back to idle before any
// per-state handling runs.
func (m *Machine) Handle(ctx context.Context, s *Session, in Input) []Outgoing {
	text := strings.TrimSpace(in.Text)

	if text == "/start" {
		s.Reset()
		greeting := "¡Hola!"
		if s.DisplayName != "" {
			greeting = "¡Hola " + s.DisplayName + "!"
		}
		return m.say(s, greeting+" Soy el asistente de turnos del consultorio. ¿En qué te ayudo?", mainMenu())
	}
	if isGlobalCancel(text) {
		wasIdle := s.State == StateIdle
		s.Reset()
		if wasIdle {
			return m.say(s, "No hay ninguna operación en curso. Elegí una opción del menú.", mainMenu())
		}
		return m.say(s, "Operación cancelada.", mainMenu())
	}

	switch s.State {
	case StateIdle:
		return m.handleIdle(ctx, s, text)
	case StateAwaitingProvider:
		return m.handleProvider(ctx, s, text)
	case StateAwaitingDay:
		return m.handleDay(ctx, s, text)
	case StateAwaitingTimeslot:
		return m.handleTimeslot(ctx, s, text)
	case StateAwaitingEditSelection:
		return m.handleEditSelection(s, text)
	case StateAwaitingEditConfirm:
		return m.handleEditConfirm(ctx, s, text)
	case StateAwaitingNewDay:
		return m.handleNewDay(ctx, s, text)
	case StateAwaitingNewTimeslot:
		return m.handleNewTimeslot(s, text)
	case StateAwaitingFinalConfirm:
		return m.handleFinalConfirm(ctx, s, text)
	case StateTalkingToOperator:
		return m.handleOperator(s, text)
	default:
		m.logger.Warn("unknown session state, resetting", "state", string(s.State), "user_id", s.UserID)
		s.Reset()
		return m.say(s, "Volvamos a empezar. Elegí una opción del menú.", mainMenu())
	}
}

func (m *Machine) handleIdle(ctx context.Context, s *Session, text string) []Outgoing {
	switch text {
	case btnRequest:
		s.State = StateAwaitingProvider
		return m.say(s, "¿Con qué doctor querés el turno?", withCancel(m.dir.Names()))
	case btnCancel:
		return m.startSelection(ctx, s, IntentCancel)
	case btnEdit:
		return m.startSelection(ctx, s, IntentEdit)
	case btnDoctors:
		return m.say(s, "Atienden en el consultorio:\n"+bulleted(m.dir.Names()), mainMenu())
	case btnVideo:
		return m.say(s, "Las videollamadas se coordinan con la secretaría: pedí un turno normal y aclarale que lo querés por videollamada.", mainMenu())
	case btnOperator:
		if m.operatorChat == 0 {
			return m.say(s, "La secretaría no está disponible por este medio en este momento.", mainMenu())
		}
		s.State = StateTalkingToOperator
		return m.say(s, "Escribí tu mensaje y se lo paso a la secretaría. Cuando termines, tocá Cancelar.", []string{cancelWord})
	default:
		return m.say(s, "No entendí esa opción. Elegí una del menú.", mainMenu())
	}
}

func (m *Machine) handleProvider(ctx context.Context, s *Session, text string) []Outgoing {
	prov, ok := m.dir.ByName(text)
	if !ok {
		return m.say(s, "No reconozco ese doctor. Elegí uno del listado.", withCancel(m.dir.Names()))
	}
	existing, err := m.res.HasActive(ctx, s.User(), prov)
	if err != nil {
		return m.abortRemote(s, err)
	}
	if existing != nil {
		s.Reset()
		return m.say(s, fmt.Sprintf("Ya tenés un turno con %s el %s. Podés cancelarlo o editarlo desde el menú.",
			prov.Name, stamp(existing.Start.In(m.loc))), mainMenu())
	}
	s.Draft.Provider = prov.Name
	s.State = StateAwaitingDay
	return m.say(s, "¿Qué día te queda bien?", withCancel(weekdayChoices))
}

func (m *Machine) handleDay(ctx context.Context, s *Session, text string) []Outgoing {
	prov, ok := m.dir.ByName(s.Draft.Provider)
	if !ok {
		s.Reset()
		return m.say(s, "Perdí el doctor elegido, empecemos de nuevo.", mainMenu())
	}
	date, err := schedule.NextOccurrence(text, m.now().In(m.loc))
	if err != nil {
		return m.say(s, "No reconozco ese día. Elegí uno del listado.", withCancel(weekdayChoices))
	}
	slots, err := m.slots.FreeSlots(ctx, prov.CalendarID, date, m.now().In(m.loc))
	if err != nil {
		return m.abortRemote(s, err)
	}
	if len(slots) == 0 {
		return m.say(s, fmt.Sprintf("No quedan horarios libres el %s %s. Probá con otro día.",
			strings.ToLower(text), date.Format("02/01")), withCancel(weekdayChoices))
	}
	s.Draft.Weekday = text
	s.Draft.Date = date.Format(dateLayout)
	s.State = StateAwaitingTimeslot
	return m.say(s, fmt.Sprintf("Horarios libres con %s el %s:", prov.Name, date.Format("02/01")),
		withCancel(clockChoices(slots)))
}

func (m *Machine) handleTimeslot(ctx context.Context, s *Session, text string) []Outgoing {
	prov, ok := m.dir.ByName(s.Draft.Provider)
	if !ok {
		s.Reset()
		return m.say(s, "Perdí el doctor elegido, empecemos de nuevo.", mainMenu())
	}
	date, derr := time.ParseInLocation(dateLayout, s.Draft.Date, m.loc)
	if derr != nil {
		s.Reset()
		return m.say(s, "Perdí el día elegido, empecemos de nuevo.", mainMenu())
	}
	if _, err := schedule.ParseClock(text); err != nil {
		return m.reofferSlots(ctx, s, prov, date, "Elegí un horario del listado.")
	}

	res, err := m.res.Book(ctx, booking.BookRequest{
		Provider: prov,
		Date:     date,
		Clock:    text,
		User:     s.User(),
	})
	switch {
	case err == nil:
		s.Reset()
		msg := fmt.Sprintf("¡Listo! Turno confirmado con %s el %s.", res.Provider, stamp(res.Start))
		if res.Link != "" {
			msg += "\n" + res.Link
		}
		return m.say(s, msg, mainMenu())
	case errors.Is(err, booking.ErrSlotTaken):
		return m.reofferSlots(ctx, s, prov, date, "Ese horario se acaba de ocupar.")
	case errors.Is(err, booking.ErrConflictExists):
		s.Reset()
		return m.say(s, "Ya tenés un turno vigente con ese doctor. Cancelalo o editalo desde el menú.", mainMenu())
	default:
		return m.abortRemote(s, err)
	}
}

// reofferSlots refreshes the free list after a stale or unparseable pick.
// When the whole day filled up it walks the flow back to the day question
// instead of offering an empty keyboard.
func (m *Machine) reofferSlots(ctx context.Context, s *Session, prov booking.Provider, date time.Time, prefix string) []Outgoing {
	slots, err := m.slots.FreeSlots(ctx, prov.CalendarID, date, m.now().In(m.loc))
	if err != nil {
		return m.abortRemote(s, err)
	}
	if len(slots) == 0 {
		s.Draft.Weekday = ""
		s.Draft.Date = ""
		s.State = StateAwaitingDay
		return m.say(s, prefix+" No quedan más horarios ese día. Probá con otro día.", withCancel(weekdayChoices))
	}
	return m.say(s, prefix+" Quedan estos:", withCancel(clockChoices(slots)))
}

func (m *Machine) startSelection(ctx context.Context, s *Session, intent Intent) []Outgoing {
	list, err := m.res.FindAllFuture(ctx, s.User())
	if err != nil {
		return m.abortRemote(s, err)
	}
	if len(list) == 0 {
		return m.say(s, "No encontré turnos futuros a tu nombre.", mainMenu())
	}
	refs := make([]ReservationRef, 0, len(list))
	for _, r := range list {
		refs = append(refs, ReservationRef{
			EventID:    r.EventID,
			CalendarID: r.CalendarID,
			Provider:   r.Provider,
			Start:      r.Start,
			Display:    fmt.Sprintf("%s %s", r.Provider, stamp(r.Start.In(m.loc))),
		})
	}
	s.Edit = EditDraft{Intent: intent, Options: refs}
	s.State = StateAwaitingEditSelection
	verb := "cancelar"
	if intent == IntentEdit {
		verb = "editar"
	}
	return m.say(s, "¿Qué turno querés "+verb+"?", withCancel(displays(refs)))
}

func (m *Machine) handleEditSelection(s *Session, text string) []Outgoing {
	sel, ok := pickOption(s.Edit.Options, text)
	if !ok {
		return m.say(s, "No reconozco ese turno. Elegí uno del listado.", withCancel(displays(s.Edit.Options)))
	}
	s.Edit.Selected = &sel
	s.State = StateAwaitingEditConfirm
	if s.Edit.Intent == IntentCancel {
		return m.say(s, fmt.Sprintf("¿Confirmás la cancelación del turno %s?", sel.Display), yesNo())
	}
	return m.say(s, fmt.Sprintf("Vas a reprogramar el turno %s. ¿Continuamos?", sel.Display), yesNo())
}

func (m *Machine) handleEditConfirm(ctx context.Context, s *Session, text string) []Outgoing {
	sel := s.Edit.Selected
	if sel == nil {
		s.Reset()
		return m.say(s, "Perdí el turno elegido, empecemos de nuevo.", mainMenu())
	}
	switch {
	case isYes(text):
		if s.Edit.Intent == IntentCancel {
			if err := m.res.Cancel(ctx, sel.CalendarID, sel.EventID); err != nil {
				return m.abortRemote(s, err)
			}
			display := sel.Display
			s.Reset()
			return m.say(s, fmt.Sprintf("Listo, el turno %s fue cancelado.", display), mainMenu())
		}
		s.State = StateAwaitingNewDay
		return m.say(s, "¿Para qué día lo pasamos?", withCancel(weekdayChoices))
	case isNo(text):
		s.Reset()
		return m.say(s, "Operación cancelada.", mainMenu())
	default:
		return m.say(s, "Respondé Sí o No, por favor.", yesNo())
	}
}

func (m *Machine) handleNewDay(ctx context.Context, s *Session, text string) []Outgoing {
	sel := s.Edit.Selected
	if sel == nil {
		s.Reset()
		return m.say(s, "Perdí el turno elegido, empecemos de nuevo.", mainMenu())
	}
	date, err := schedule.NextOccurrence(text, m.now().In(m.loc))
	if err != nil {
		return m.say(s, "No reconozco ese día. Elegí uno del listado.", withCancel(weekdayChoices))
	}
	slots, err := m.slots.FreeSlots(ctx, sel.CalendarID, date, m.now().In(m.loc))
	if err != nil {
		return m.abortRemote(s, err)
	}
	if len(slots) == 0 {
		return m.say(s, fmt.Sprintf("No quedan horarios libres el %s %s. Probá con otro día.",
			strings.ToLower(text), date.Format("02/01")), withCancel(weekdayChoices))
	}
	s.Edit.NewWeekday = text
	s.Edit.NewDate = date.Format(dateLayout)
	s.State = StateAwaitingNewTimeslot
	return m.say(s, fmt.Sprintf("Horarios libres con %s el %s:", sel.Provider, date.Format("02/01")),
		withCancel(clockChoices(slots)))
}

func (m *Machine) handleNewTimeslot(s *Session, text string) []Outgoing {
	sel := s.Edit.Selected
	if sel == nil || s.Edit.NewDate == "" {
		s.Reset()
		return m.say(s, "Perdí los datos del cambio, empecemos de nuevo.", mainMenu())
	}
	if _, err := schedule.ParseClock(text); err != nil {
		return m.say(s, "Elegí un horario del listado (formato HH:MM).", []string{cancelWord})
	}
	s.Edit.NewClock = text
	s.State = StateAwaitingFinalConfirm
	date, _ := time.ParseInLocation(dateLayout, s.Edit.NewDate, m.loc)
	return m.say(s, fmt.Sprintf("Vas a mover el turno %s al %s %s a las %s. ¿Confirmás?",
		sel.Display, shortDays[date.Weekday()], date.Format("02/01"), text), yesNo())
}

func (m *Machine) handleFinalConfirm(ctx context.Context, s *Session, text string) []Outgoing {
	sel := s.Edit.Selected
	if sel == nil || s.Edit.NewDate == "" || s.Edit.NewClock == "" {
		s.Reset()
		return m.say(s, "Perdí los datos del cambio, empecemos de nuevo.", mainMenu())
	}
	switch {
	case isYes(text):
		prov, ok := m.dir.ByName(sel.Provider)
		if !ok {
			s.Reset()
			return m.say(s, "Ese doctor ya no atiende por este medio. Consultá con la secretaría.", mainMenu())
		}
		date, derr := time.ParseInLocation(dateLayout, s.Edit.NewDate, m.loc)
		if derr != nil {
			s.Reset()
			return m.say(s, "Perdí los datos del cambio, empecemos de nuevo.", mainMenu())
		}
		res, err := m.res.Reschedule(ctx, booking.RescheduleRequest{
			Old: booking.Reservation{
				EventID:    sel.EventID,
				CalendarID: sel.CalendarID,
				Provider:   sel.Provider,
				Start:      sel.Start,
			},
			Provider: prov,
			Date:     date,
			Clock:    s.Edit.NewClock,
			User:     s.User(),
		})
		switch {
		case err == nil:
			s.Reset()
			return m.say(s, fmt.Sprintf("Listo, tu turno quedó reprogramado: %s el %s.",
				res.Provider, stamp(res.Start)), mainMenu())
		case errors.Is(err, booking.ErrRescheduleLostSlot):
			s.Reset()
			m.logger.Warn("reschedule lost both slots", "user_id", s.UserID, "error", err)
			return m.say(s, "Atención: tu turno original fue cancelado pero no pude agendar el nuevo. Por favor pedí un turno nuevo desde el menú.", mainMenu())
		default:
			s.Reset()
			m.logger.Warn("reschedule failed, original stands", "user_id", s.UserID, "error", err)
			return m.say(s, "No pude reprogramar el turno. Tu turno original sigue vigente.", mainMenu())
		}
	case isNo(text):
		s.Reset()
		return m.say(s, "Operación cancelada. Tu turno original sigue vigente.", mainMenu())
	default:
		return m.say(s, "Respondé Sí o No, por favor.", yesNo())
	}
}

func (m *Machine) handleOperator(s *Session, text string) []Outgoing {
	if text == "" {
		return m.say(s, "Escribí el mensaje para la secretaría.", []string{cancelWord})
	}
	return []Outgoing{
		{
			ChatID: m.operatorChat,
			Text:   fmt.Sprintf("Mensaje de %s (ID Chat: %s):\n%s", displayOr(s, "un paciente"), s.UserID, text),
		},
		{
			ChatID:  s.ChatID,
			Text:    "Tu mensaje fue enviado a la secretaría. Podés seguir escribiendo o tocar Cancelar para volver al menú.",
			Choices: []string{cancelWord},
		},
	}
}

// abortRemote ends the current flow after a store failure. The session goes
// back to idle so a later retry starts clean.
func (m *Machine) abortRemote(s *Session, err error) []Outgoing {
	m.logger.Error("remote store failure during dialogue",
		"user_id", s.UserID, "state", string(s.State), "error", err)
	s.Reset()
	return m.say(s, "No pude consultar la agenda en este momento. Probá de nuevo en unos minutos.", mainMenu())
}

func (m *Machine) say(s *Session, text string, choices []string) []Outgoing {
	return []Outgoing{{ChatID: s.ChatID, Text: text, Choices: choices}}
}

func mainMenu() []string {
	return []string{btnRequest, btnCancel, btnEdit, btnDoctors, btnVideo, btnOperator}
}

func yesNo() []string {
	return []string{btnYes, btnNo, cancelWord}
}

func withCancel(choices []string) []string {
	out := make([]string, 0, len(choices)+1)
	out = append(out, choices...)
	return append(out, cancelWord)
}

func isGlobalCancel(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	return t == "/cancel" || t == "cancelar"
}

func isYes(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	return t == "sí" || t == "si" || t == strings.ToLower(btnYes)
}

func isNo(text string) bool {
	return strings.EqualFold(strings.TrimSpace(text), btnNo)
}

// pickOption resolves a selection either by its full display text or by the
// 1-based position in the offered list.
func pickOption(options []ReservationRef, text string) (ReservationRef, bool) {
	for _, o := range options {
		if o.Display == text {
			return o, true
		}
	}
	if n, err := strconv.Atoi(strings.TrimSpace(text)); err == nil && n >= 1 && n <= len(options) {
		return options[n-1], true
	}
	return ReservationRef{}, false
}

func displays(refs []ReservationRef) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.Display)
	}
	return out
}

func clockChoices(slots []availability.Slot) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.Clock())
	}
	return out
}

func bulleted(items []string) string {
	var b strings.Builder
	for _, it := range items {
		b.WriteString("• ")
		b.WriteString(it)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func stamp(t time.Time) string {
	return fmt.Sprintf("%s %s", shortDays[t.Weekday()], t.Format("02/01 15:04"))
}

func displayOr(s *Session, fallback string) string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	return fallback
}
