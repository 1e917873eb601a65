package calendar

import (
	"context"
	"fmt"
	"net/http"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// GoogleClient is a wrapper around the Google Calendar API service.
type GoogleClient struct {
	service *gcal.Service
}

// NewGoogleClient creates a Google Calendar client using the provided HTTP client.
// Extra options are applied after the HTTP client (tests point the endpoint at a fake server).
func NewGoogleClient(ctx context.Context, httpClient *http.Client, opts ...option.ClientOption) (*GoogleClient, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	service, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}

	return &GoogleClient{service: service}, nil
}

// ResolveCalendarID returns the ID of the calendar whose summary equals name.
func (c *GoogleClient) ResolveCalendarID(ctx context.Context, name string) (string, error) {
	var id string
	err := c.service.CalendarList.List().Context(ctx).Pages(ctx, func(page *gcal.CalendarList) error {
		for _, cal := range page.Items {
			if id == "" && cal.Summary == name {
				id = cal.Id
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("Google: failed to list calendars: %w", err)
	}
	if id == "" {
		return "", fmt.Errorf("%w: %q", ErrCalendarNotFound, name)
	}
	return id, nil
}

// CreateCalendar creates a secondary calendar and returns its ID.
func (c *GoogleClient) CreateCalendar(ctx context.Context, name, timeZone string) (string, error) {
	created, err := c.service.Calendars.Insert(&gcal.Calendar{
		Summary:     name,
		Description: "Work shifts synced from the schedule site",
		TimeZone:    timeZone,
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to create calendar: %w", err)
	}
	return created.Id, nil
}

// IsDedicated reports whether the calendar is a secondary calendar of the account.
func (c *GoogleClient) IsDedicated(ctx context.Context, calendarID string) (bool, error) {
	entry, err := c.service.CalendarList.Get(calendarID).Context(ctx).Do()
	if err != nil {
		return false, fmt.Errorf("failed to get calendar %s: %w", calendarID, err)
	}
	return !entry.Primary, nil
}

// ListUpcomingEvents returns every event that ends after from.
// Important: SingleEvents expands recurring events into instances.
func (c *GoogleClient) ListUpcomingEvents(ctx context.Context, calendarID string, from time.Time) ([]Event, error) {
	var events []Event
	err := c.service.Events.List(calendarID).
		TimeMin(from.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).
		Pages(ctx, func(page *gcal.Events) error {
			for _, item := range page.Items {
				event, err := fromGoogleEvent(item)
				if err != nil {
					return err
				}
				events = append(events, event)
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	return events, nil
}

// InsertEvent inserts a new event into a calendar.
// Important: Sets sendUpdates="none" to prevent notifications.
func (c *GoogleClient) InsertEvent(ctx context.Context, calendarID string, payload EventPayload) (Event, error) {
	created, err := c.service.Events.Insert(calendarID, toGoogleEvent(payload)).
		SendUpdates("none").
		Context(ctx).
		Do()
	if err != nil {
		return Event{}, fmt.Errorf("failed to insert event: %w", err)
	}

	return fromGoogleEvent(created)
}

// DeleteEvent deletes an event from a calendar.
func (c *GoogleClient) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	err := c.service.Events.Delete(calendarID, eventID).
		SendUpdates("none").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}

	return nil
}

func toGoogleEvent(payload EventPayload) *gcal.Event {
	overrides := make([]*gcal.EventReminder, 0, len(payload.ReminderMinutes))
	for _, minutes := range payload.ReminderMinutes {
		overrides = append(overrides, &gcal.EventReminder{Method: "popup", Minutes: minutes})
	}

	return &gcal.Event{
		Summary:     payload.Summary,
		Description: payload.Description,
		Location:    payload.Location,
		Start: &gcal.EventDateTime{
			DateTime: payload.Start.Format(time.RFC3339),
			TimeZone: payload.TimeZone,
		},
		End: &gcal.EventDateTime{
			DateTime: payload.End.Format(time.RFC3339),
			TimeZone: payload.TimeZone,
		},
		Reminders: &gcal.EventReminders{
			UseDefault:      false,
			Overrides:       overrides,
			ForceSendFields: []string{"UseDefault"},
		},
	}
}

// fromGoogleEvent converts an API event. All-day events are kept with
// midnight boundaries so they still take part in reconciliation.
func fromGoogleEvent(item *gcal.Event) (Event, error) {
	start, err := parseEventDateTime(item.Start)
	if err != nil {
		return Event{}, fmt.Errorf("event %s: start: %w", item.Id, err)
	}
	end, err := parseEventDateTime(item.End)
	if err != nil {
		return Event{}, fmt.Errorf("event %s: end: %w", item.Id, err)
	}

	return Event{
		ID:    item.Id,
		Title: item.Summary,
		Start: start,
		End:   end,
	}, nil
}

func parseEventDateTime(edt *gcal.EventDateTime) (time.Time, error) {
	if edt == nil {
		return time.Time{}, fmt.Errorf("missing date")
	}
	if edt.DateTime != "" {
		return time.Parse(time.RFC3339, edt.DateTime)
	}
	return time.Parse("2006-01-02", edt.Date)
}
