// Package booking owns reservation records on the remote calendar store:
// creation with conflict re-validation, ownership-scoped search, idempotent
// cancellation, and delete-then-rebook rescheduling.
package booking

import (
	"fmt"
	"sort"
)

// Provider is a schedulable entity (a doctor) with its own calendar.
type Provider struct {
	Name       string
	CalendarID string
}

// Directory is the fixed provider table. Both lookups must stay consistent:
// no two providers may share a calendar ID.
type Directory struct {
	providers  []Provider
	byName     map[string]Provider
	byCalendar map[string]Provider
}

// NewDirectory builds the provider table from a name -> calendar ID map,
// validating the bijection at startup.
func NewDirectory(calendars map[string]string) (*Directory, error) {
	if len(calendars) == 0 {
		return nil, fmt.Errorf("booking: provider table is empty")
	}
	d := &Directory{
		byName:     make(map[string]Provider, len(calendars)),
		byCalendar: make(map[string]Provider, len(calendars)),
	}
	for name, calID := range calendars {
		if name == "" || calID == "" {
			return nil, fmt.Errorf("booking: provider entry %q -> %q is incomplete", name, calID)
		}
		if dup, ok := d.byCalendar[calID]; ok {
			return nil, fmt.Errorf("booking: providers %q and %q share calendar %q", dup.Name, name, calID)
		}
		p := Provider{Name: name, CalendarID: calID}
		d.byName[name] = p
		d.byCalendar[calID] = p
		d.providers = append(d.providers, p)
	}
	sort.Slice(d.providers, func(i, j int) bool { return d.providers[i].Name < d.providers[j].Name })
	return d, nil
}

// Providers returns all providers ordered by name.
func (d *Directory) Providers() []Provider {
	out := make([]Provider, len(d.providers))
	copy(out, d.providers)
	return out
}

// Names returns the provider names ordered alphabetically.
func (d *Directory) Names() []string {
	names := make([]string, 0, len(d.providers))
	for _, p := range d.providers {
		names = append(names, p.Name)
	}
	return names
}

// ByName looks a provider up by display name.
func (d *Directory) ByName(name string) (Provider, bool) {
	p, ok := d.byName[name]
	return p, ok
}

// ByCalendar looks a provider up by calendar ID.
func (d *Directory) ByCalendar(calendarID string) (Provider, bool) {
	p, ok := d.byCalendar[calendarID]
	return p, ok
}
