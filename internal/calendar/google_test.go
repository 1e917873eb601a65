package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// fakeGoogleAPI answers the handful of Calendar API calls the client makes.
type fakeGoogleAPI struct {
	mu       sync.Mutex
	requests []*http.Request
	bodies   []string
	events   []*gcal.Event
}

func (f *fakeGoogleAPI) serveHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	f.requests = append(f.requests, r)
	f.bodies = append(f.bodies, string(body))
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	p := r.URL.Path
	enc := json.NewEncoder(w)

	switch {
	case r.Method == http.MethodGet && strings.HasSuffix(p, "/users/me/calendarList"):
		if r.URL.Query().Get("pageToken") == "" {
			_ = enc.Encode(map[string]any{
				"items":         []map[string]any{{"id": "me@example.com", "summary": "me@example.com", "primary": true}},
				"nextPageToken": "page2",
			})
			return
		}
		_ = enc.Encode(map[string]any{
			"items": []map[string]any{{"id": "shifts@group.calendar.google.com", "summary": "Starbucks"}},
		})

	case r.Method == http.MethodGet && strings.Contains(p, "/users/me/calendarList/"):
		id := p[strings.LastIndex(p, "/")+1:]
		_ = enc.Encode(map[string]any{"id": id, "primary": id == "me@example.com"})

	case r.Method == http.MethodPost && strings.HasSuffix(p, "/calendars"):
		_ = enc.Encode(map[string]any{"id": "created@group.calendar.google.com"})

	case r.Method == http.MethodGet && strings.HasSuffix(p, "/events"):
		_ = enc.Encode(map[string]any{"items": f.events})

	case r.Method == http.MethodPost && strings.HasSuffix(p, "/events"):
		var ev map[string]any
		_ = json.Unmarshal(body, &ev)
		ev["id"] = "evt123"
		_ = enc.Encode(ev)

	case r.Method == http.MethodDelete && strings.Contains(p, "/events/"):
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"code":404,"message":"not found"}}`)
	}
}

func (f *fakeGoogleAPI) last() (*http.Request, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1], f.bodies[len(f.bodies)-1]
}

func newTestGoogleClient(t *testing.T) (*GoogleClient, *fakeGoogleAPI) {
	t.Helper()
	fake := &fakeGoogleAPI{}
	srv := httptest.NewServer(http.HandlerFunc(fake.serveHTTP))
	t.Cleanup(srv.Close)

	client, err := NewGoogleClient(context.Background(), srv.Client(), option.WithEndpoint(srv.URL+"/"))
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return client, fake
}

func TestGoogle_ResolveCalendarID_Pages(t *testing.T) {
	client, _ := newTestGoogleClient(t)

	id, err := client.ResolveCalendarID(context.Background(), "Starbucks")
	if err != nil {
		t.Fatalf("ResolveCalendarID failed: %v", err)
	}
	if id != "shifts@group.calendar.google.com" {
		t.Errorf("Expected calendar from second page, got %s", id)
	}

	_, err = client.ResolveCalendarID(context.Background(), "Nope")
	if !errors.Is(err, ErrCalendarNotFound) {
		t.Errorf("Expected ErrCalendarNotFound, got %v", err)
	}
}

func TestGoogle_IsDedicated(t *testing.T) {
	client, _ := newTestGoogleClient(t)
	ctx := context.Background()

	dedicated, err := client.IsDedicated(ctx, "me@example.com")
	if err != nil {
		t.Fatalf("IsDedicated failed: %v", err)
	}
	if dedicated {
		t.Error("Primary calendar must not be reported as dedicated")
	}

	dedicated, err = client.IsDedicated(ctx, "shifts@group.calendar.google.com")
	if err != nil {
		t.Fatalf("IsDedicated failed: %v", err)
	}
	if !dedicated {
		t.Error("Secondary calendar should be dedicated")
	}
}

func TestGoogle_CreateCalendar(t *testing.T) {
	client, fake := newTestGoogleClient(t)

	id, err := client.CreateCalendar(context.Background(), "Starbucks", "America/New_York")
	if err != nil {
		t.Fatalf("CreateCalendar failed: %v", err)
	}
	if id != "created@group.calendar.google.com" {
		t.Errorf("Unexpected id %s", id)
	}
	_, body := fake.last()
	if !strings.Contains(body, `"summary":"Starbucks"`) || !strings.Contains(body, `"timeZone":"America/New_York"`) {
		t.Errorf("Unexpected request body: %s", body)
	}
}

func TestGoogle_ListUpcomingEvents(t *testing.T) {
	client, fake := newTestGoogleClient(t)
	fake.events = []*gcal.Event{
		{
			Id:      "a",
			Summary: "(5HR) Starbucks",
			Start:   &gcal.EventDateTime{DateTime: "2024-03-05T06:00:00-05:00"},
			End:     &gcal.EventDateTime{DateTime: "2024-03-05T11:00:00-05:00"},
		},
		{
			Id:    "holiday",
			Start: &gcal.EventDateTime{Date: "2024-03-06"},
			End:   &gcal.EventDateTime{Date: "2024-03-07"},
		},
	}

	from := time.Date(2024, 3, 4, 17, 0, 0, 0, time.UTC)
	events, err := client.ListUpcomingEvents(context.Background(), "shifts@group.calendar.google.com", from)
	if err != nil {
		t.Fatalf("ListUpcomingEvents failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}

	wantStart := time.Date(2024, 3, 5, 11, 0, 0, 0, time.UTC)
	if events[0].ID != "a" || !events[0].Start.Equal(wantStart) {
		t.Errorf("Unexpected first event: %+v", events[0])
	}
	if events[1].Start.Format("2006-01-02") != "2024-03-06" {
		t.Errorf("All-day event should start at its date, got %v", events[1].Start)
	}

	req, _ := fake.last()
	q := req.URL.Query()
	if q.Get("singleEvents") != "true" {
		t.Errorf("Expected singleEvents=true, got %q", q.Get("singleEvents"))
	}
	if q.Get("orderBy") != "startTime" {
		t.Errorf("Expected orderBy=startTime, got %q", q.Get("orderBy"))
	}
	if q.Get("timeMin") != "2024-03-04T17:00:00Z" {
		t.Errorf("Unexpected timeMin %q", q.Get("timeMin"))
	}
}

func TestGoogle_InsertEvent(t *testing.T) {
	client, fake := newTestGoogleClient(t)

	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("Failed to load location: %v", err)
	}
	start := time.Date(2024, 3, 5, 6, 0, 0, 0, loc)

	created, err := client.InsertEvent(context.Background(), "shifts@group.calendar.google.com", EventPayload{
		Summary:         "(5.5HR) Starbucks",
		Location:        "Burlington Town Center - #007629",
		Start:           start,
		End:             start.Add(5*time.Hour + 30*time.Minute),
		TimeZone:        "America/New_York",
		ReminderMinutes: []int64{240, 60, 15},
	})
	if err != nil {
		t.Fatalf("InsertEvent failed: %v", err)
	}
	if created.ID != "evt123" {
		t.Errorf("Expected created ID evt123, got %s", created.ID)
	}
	if !created.Start.Equal(start) {
		t.Errorf("Expected start %v, got %v", start, created.Start)
	}

	req, body := fake.last()
	if req.URL.Query().Get("sendUpdates") != "none" {
		t.Errorf("Expected sendUpdates=none, got %q", req.URL.Query().Get("sendUpdates"))
	}

	var sent gcal.Event
	if err := json.Unmarshal([]byte(body), &sent); err != nil {
		t.Fatalf("Failed to decode request body: %v", err)
	}
	if sent.Start.DateTime != "2024-03-05T06:00:00-05:00" || sent.Start.TimeZone != "America/New_York" {
		t.Errorf("Unexpected start: %+v", sent.Start)
	}
	if len(sent.Reminders.Overrides) != 3 || sent.Reminders.Overrides[0].Minutes != 240 || sent.Reminders.Overrides[0].Method != "popup" {
		t.Errorf("Unexpected reminders: %+v", sent.Reminders.Overrides)
	}
	if !strings.Contains(body, `"useDefault":false`) {
		t.Errorf("useDefault=false must be sent explicitly: %s", body)
	}
}

func TestGoogle_DeleteEvent(t *testing.T) {
	client, fake := newTestGoogleClient(t)

	if err := client.DeleteEvent(context.Background(), "shifts@group.calendar.google.com", "evt123"); err != nil {
		t.Fatalf("DeleteEvent failed: %v", err)
	}

	req, _ := fake.last()
	if req.Method != http.MethodDelete || !strings.HasSuffix(req.URL.Path, "/events/evt123") {
		t.Errorf("Unexpected request %s %s", req.Method, req.URL.Path)
	}
	if req.URL.Query().Get("sendUpdates") != "none" {
		t.Errorf("Expected sendUpdates=none")
	}
}
