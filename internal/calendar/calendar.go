// Package calendar talks to the calendar that receives the synced shifts.
package calendar

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrCalendarNotFound is returned when no calendar carries the requested name.
	ErrCalendarNotFound = errors.New("calendar not found")
	// ErrSharedCalendar is returned when the sync target is not a dedicated calendar.
	ErrSharedCalendar = errors.New("calendar is not dedicated to shift sync")
)

// Event is an existing entry in the target calendar.
type Event struct {
	ID    string
	Title string
	Start time.Time
	End   time.Time
}

// EventPayload describes an event to insert.
type EventPayload struct {
	Summary         string
	Description     string
	Location        string
	Start           time.Time
	End             time.Time
	TimeZone        string  // IANA name, e.g. "America/New_York"
	ReminderMinutes []int64 // Popup reminders; empty means no reminders
}

// Service is the calendar capability the syncer needs.
// Google Calendar and CalDAV clients implement it.
type Service interface {
	ResolveCalendarID(ctx context.Context, name string) (string, error)
	IsDedicated(ctx context.Context, calendarID string) (bool, error)
	ListUpcomingEvents(ctx context.Context, calendarID string, from time.Time) ([]Event, error)
	InsertEvent(ctx context.Context, calendarID string, payload EventPayload) (Event, error)
	DeleteEvent(ctx context.Context, calendarID, eventID string) error
}

// Creator is implemented by services that can create a missing calendar.
type Creator interface {
	CreateCalendar(ctx context.Context, name, timeZone string) (string, error)
}
