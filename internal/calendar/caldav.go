package calendar

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"
)

const calendarQueryBody = `<?xml version="1.0" encoding="utf-8" ?>
<C:calendar-query xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <D:prop>
    <D:getetag/>
    <C:calendar-data/>
  </D:prop>
  <C:filter>
    <C:comp-filter name="VCALENDAR">
      <C:comp-filter name="VEVENT">
        <C:time-range start="%s"/>
      </C:comp-filter>
    </C:comp-filter>
  </C:filter>
</C:calendar-query>`

const propfindBody = `<?xml version="1.0" encoding="utf-8" ?>
<d:propfind xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">
  <d:prop>
    <d:displayname/>
    <d:resourcetype/>
  </d:prop>
</d:propfind>`

// CalDAVClient is a client for CalDAV servers such as iCloud.
// Calendar IDs are collection paths ("/user/calendars/shifts/") and
// event IDs are resource names inside them ("<uid>.ics").
type CalDAVClient struct {
	httpClient *http.Client
	username   string
	password   string
	serverURL  string
	basePath   string
	location   *time.Location
}

// NewCalDAVClient creates a CalDAV client using basic auth.
// For iCloud the password should be an app-specific password.
func NewCalDAVClient(serverURL, username, password string, loc *time.Location) *CalDAVClient {
	if loc == nil {
		loc = time.UTC
	}
	return &CalDAVClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		username:   username,
		password:   password,
		serverURL:  strings.TrimSuffix(serverURL, "/"),
		basePath:   fmt.Sprintf("/%s/calendars/", username),
		location:   loc,
	}
}

// makeRequest makes an authenticated HTTP request to the CalDAV server.
func (c *CalDAVClient) makeRequest(ctx context.Context, method, p string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+p, body)
	if err != nil {
		return nil, err
	}

	req.SetBasicAuth(c.username, c.password)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if method == "PROPFIND" || method == "REPORT" {
		req.Header.Set("Depth", "1")
	}

	return c.httpClient.Do(req)
}

type multistatus struct {
	XMLName   xml.Name      `xml:"multistatus"`
	Responses []davResponse `xml:"response"`
}

type davResponse struct {
	Href         string `xml:"href"`
	DisplayName  string `xml:"propstat>prop>displayname"`
	CalendarData string `xml:"propstat>prop>calendar-data"`
}

func readMultistatus(resp *http.Response) (*multistatus, error) {
	if resp.StatusCode != http.StatusMultiStatus && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	var ms multistatus
	if err := xml.Unmarshal(body, &ms); err != nil {
		return nil, fmt.Errorf("failed to parse XML: %w", err)
	}
	return &ms, nil
}

// ResolveCalendarID finds the calendar collection whose display name equals name.
// CalDAV calendars are never created here; create them in the calendar app.
func (c *CalDAVClient) ResolveCalendarID(ctx context.Context, name string) (string, error) {
	resp, err := c.makeRequest(ctx, "PROPFIND", c.basePath, strings.NewReader(propfindBody), "application/xml; charset=utf-8")
	if err != nil {
		return "", fmt.Errorf("failed to list calendars: %w", err)
	}
	defer resp.Body.Close()

	ms, err := readMultistatus(resp)
	if err != nil {
		return "", fmt.Errorf("failed to list calendars: %w", err)
	}

	for _, r := range ms.Responses {
		if r.DisplayName == name {
			return r.Href, nil
		}
	}
	return "", fmt.Errorf("%w: %q (create it in your calendar app first)", ErrCalendarNotFound, name)
}

// IsDedicated always reports true: CalDAV has no primary calendar, so the
// operator's choice of collection is trusted.
func (c *CalDAVClient) IsDedicated(ctx context.Context, calendarID string) (bool, error) {
	return true, nil
}

// ListUpcomingEvents runs a calendar-query REPORT for events after from.
func (c *CalDAVClient) ListUpcomingEvents(ctx context.Context, calendarID string, from time.Time) ([]Event, error) {
	query := fmt.Sprintf(calendarQueryBody, from.UTC().Format("20060102T150405Z"))
	resp, err := c.makeRequest(ctx, "REPORT", calendarID, strings.NewReader(query), "application/xml; charset=utf-8")
	if err != nil {
		return nil, fmt.Errorf("failed to query calendar: %w", err)
	}
	defer resp.Body.Close()

	ms, err := readMultistatus(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to query calendar: %w", err)
	}

	var events []Event
	for _, r := range ms.Responses {
		if r.CalendarData == "" {
			continue
		}
		cal, err := ical.NewDecoder(strings.NewReader(r.CalendarData)).Decode()
		if err != nil {
			return nil, fmt.Errorf("failed to parse iCalendar data at %s: %w", r.Href, err)
		}
		event, err := c.fromICal(cal)
		if err != nil {
			return nil, fmt.Errorf("failed to convert event at %s: %w", r.Href, err)
		}
		event.ID = path.Base(r.Href)
		events = append(events, event)
	}

	return events, nil
}

// InsertEvent stores a new event resource named after a fresh UID.
func (c *CalDAVClient) InsertEvent(ctx context.Context, calendarID string, payload EventPayload) (Event, error) {
	uid := uuid.NewString()
	cal := toICal(uid, payload, time.Now())

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return Event{}, fmt.Errorf("failed to encode iCalendar: %w", err)
	}

	resource := uid + ".ics"
	resp, err := c.makeRequest(ctx, http.MethodPut, eventPath(calendarID, resource), &buf, "text/calendar; charset=utf-8")
	if err != nil {
		return Event{}, fmt.Errorf("failed to insert event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return Event{}, fmt.Errorf("failed to insert event: HTTP %d", resp.StatusCode)
	}

	return Event{ID: resource, Title: payload.Summary, Start: payload.Start, End: payload.End}, nil
}

// DeleteEvent deletes an event resource.
func (c *CalDAVClient) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	resp, err := c.makeRequest(ctx, http.MethodDelete, eventPath(calendarID, eventID), nil, "")
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to delete event: HTTP %d", resp.StatusCode)
	}

	return nil
}

func eventPath(calendarID, resource string) string {
	return strings.TrimSuffix(calendarID, "/") + "/" + resource
}

// fromICal reads the first VEVENT of an iCalendar object.
func (c *CalDAVClient) fromICal(cal *ical.Calendar) (Event, error) {
	var vevent *ical.Component
	for _, comp := range cal.Children {
		if comp.Name == ical.CompEvent {
			vevent = comp
			break
		}
	}
	if vevent == nil {
		return Event{}, fmt.Errorf("no VEVENT found in calendar")
	}

	var event Event
	if summary := vevent.Props.Get(ical.PropSummary); summary != nil {
		event.Title = summary.Value
	}

	dtstart := vevent.Props.Get(ical.PropDateTimeStart)
	if dtstart == nil {
		return Event{}, fmt.Errorf("event has no DTSTART")
	}
	start, err := dtstart.DateTime(c.location)
	if err != nil {
		return Event{}, fmt.Errorf("invalid DTSTART: %w", err)
	}
	event.Start = start

	switch {
	case vevent.Props.Get(ical.PropDateTimeEnd) != nil:
		end, err := vevent.Props.Get(ical.PropDateTimeEnd).DateTime(c.location)
		if err != nil {
			return Event{}, fmt.Errorf("invalid DTEND: %w", err)
		}
		event.End = end
	case vevent.Props.Get(ical.PropDuration) != nil:
		d, err := vevent.Props.Get(ical.PropDuration).Duration()
		if err != nil {
			return Event{}, fmt.Errorf("invalid DURATION: %w", err)
		}
		event.End = start.Add(d)
	default:
		event.End = start
	}

	return event, nil
}

// toICal builds the iCalendar object for a new shift event.
func toICal(uid string, payload EventPayload, now time.Time) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//shiftsync//EN")

	vevent := ical.NewComponent(ical.CompEvent)
	vevent.Props.SetText(ical.PropUID, uid)
	vevent.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())
	vevent.Props.SetDateTime(ical.PropDateTimeStart, payload.Start)
	vevent.Props.SetDateTime(ical.PropDateTimeEnd, payload.End)
	if payload.Summary != "" {
		vevent.Props.SetText(ical.PropSummary, payload.Summary)
	}
	if payload.Description != "" {
		vevent.Props.SetText(ical.PropDescription, payload.Description)
	}
	if payload.Location != "" {
		vevent.Props.SetText(ical.PropLocation, payload.Location)
	}

	for _, minutes := range payload.ReminderMinutes {
		alarm := ical.NewComponent(ical.CompAlarm)
		alarm.Props.SetText(ical.PropAction, "DISPLAY")
		alarm.Props.SetText(ical.PropDescription, payload.Summary)
		trigger := ical.NewProp(ical.PropTrigger)
		trigger.Value = fmt.Sprintf("-PT%dM", minutes)
		alarm.Props.Set(trigger)
		vevent.Children = append(vevent.Children, alarm)
	}

	cal.Children = append(cal.Children, vevent)
	return cal
}
