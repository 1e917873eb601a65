// Package shift extracts scheduled shifts from the schedule page and turns
// them into concrete time ranges.
package shift

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/beekhof/shift-sync/internal/browser"
)

var (
	// ErrBadTimeRange is returned for time text that does not split into a start and an end.
	ErrBadTimeRange = errors.New("malformed shift time range")
	// ErrBadDayLabel is returned for day labels without a recognisable month and day.
	ErrBadDayLabel = errors.New("malformed shift day label")
)

// Raw is a shift exactly as scraped from the page.
type Raw struct {
	Day       string `json:"day"`   // "Friday, January 11"
	TimeRange string `json:"time"`  // "12:30 PM - 06:00 PM"
	Store     string `json:"store"` // "Store #007629, Burlington Town Center"
	StoreLink string `json:"storeLink"`
}

// Shift is a scheduled work period.
type Shift struct {
	Start       time.Time
	End         time.Time
	StoreNumber string
	StoreName   string
	StoreLink   string
}

// Duration returns the shift length.
func (s Shift) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// Selectors locates shifts inside the schedule page.
type Selectors struct {
	Shift     string
	Time      string
	Store     string
	Day       string
	DayTitle  string
	Separator string
}

// DefaultSelectors returns the selectors of the MySchedule site.
func DefaultSelectors() Selectors {
	return Selectors{
		Shift:     ".scheduleShift",
		Time:      ".scheduleShiftTime",
		Store:     ".scheduleShiftStore",
		Day:       ".scheduleDayRight",
		DayTitle:  ".scheduleDayTitle",
		Separator: "-",
	}
}

// Extract reads every shift on the schedule page in one evaluation.
func Extract(ctx context.Context, page browser.Browser, sel Selectors) ([]Raw, error) {
	var raws []Raw
	if err := page.Evaluate(ctx, extractScript(sel), &raws); err != nil {
		return nil, fmt.Errorf("failed to extract shifts: %w", err)
	}
	return raws, nil
}

func extractScript(sel Selectors) string {
	return fmt.Sprintf(`Array.from(document.querySelectorAll(%s)).map((el) => {
  const day = el.closest(%s);
  const title = day ? day.querySelector(%s) : null;
  const time = el.querySelector(%s);
  const store = el.querySelector(%s);
  return {
    day: title ? title.textContent.trim() : "",
    time: time ? time.textContent.trim() : "",
    store: store ? store.textContent.trim() : "",
    storeLink: store && store.getAttribute("href") ? store.href : ""
  };
})`, browser.Quote(sel.Shift), browser.Quote(sel.Day), browser.Quote(sel.DayTitle), browser.Quote(sel.Time), browser.Quote(sel.Store))
}

// SplitTimeRange splits "12:30 PM - 06:00 PM" into its two trimmed halves.
func SplitTimeRange(text, sep string) (start, end string, err error) {
	if sep == "" {
		sep = "-"
	}
	parts := strings.Split(text, sep)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("%w: %q", ErrBadTimeRange, text)
	}
	start, end = strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	if start == "" || end == "" {
		return "", "", fmt.Errorf("%w: %q", ErrBadTimeRange, text)
	}
	return start, end, nil
}

// InferYear picks the year for a day label that carries none: the current
// year, or next year when it is December and the label is in January.
// Schedules further ahead than that are not handled.
func InferYear(now time.Time, dayLabel string) (int, error) {
	month, _, err := parseMonthDay(dayLabel)
	if err != nil {
		return 0, err
	}
	return yearFor(now, month), nil
}

func yearFor(now time.Time, month time.Month) int {
	if now.Month() == time.December && month == time.January {
		return now.Year() + 1
	}
	return now.Year()
}

// monthDay returns the "January 11" part of "Friday, January 11".
func monthDay(label string) string {
	if i := strings.Index(label, ","); i >= 0 {
		label = label[i+1:]
	}
	return strings.Join(strings.Fields(label), " ")
}

var monthLayouts = []string{"January 2", "Jan 2"}

func parseMonthDay(label string) (time.Month, int, error) {
	md := monthDay(label)
	for _, layout := range monthLayouts {
		if t, err := time.Parse(layout, md); err == nil {
			return t.Month(), t.Day(), nil
		}
	}
	return 0, 0, fmt.Errorf("%w: %q", ErrBadDayLabel, label)
}

// parseClock parses "06:00 PM" or "6:00pm".
func parseClock(text string) (hour, minute int, err error) {
	clean := strings.ToUpper(strings.Join(strings.Fields(text), ""))
	t, err := time.Parse("3:04PM", clean)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: bad time %q", ErrBadTimeRange, text)
	}
	return t.Hour(), t.Minute(), nil
}

// ParseStore splits "Store #007629, Burlington Town Center" into number and name.
// Text without a '#' is taken as the name.
func ParseStore(text string) (number, name string) {
	head, rest, found := strings.Cut(text, ",")
	if !found {
		rest = ""
	}
	if _, num, ok := strings.Cut(head, "#"); ok {
		return strings.TrimSpace(num), strings.TrimSpace(rest)
	}
	return "", strings.TrimSpace(text)
}

// Parse converts one raw shift. A shift whose end is not after its start
// crosses midnight and ends the following day.
func Parse(raw Raw, now time.Time, loc *time.Location, sep string) (Shift, error) {
	if loc == nil {
		loc = time.Local
	}

	month, day, err := parseMonthDay(raw.Day)
	if err != nil {
		return Shift{}, err
	}
	year := yearFor(now.In(loc), month)

	startText, endText, err := SplitTimeRange(raw.TimeRange, sep)
	if err != nil {
		return Shift{}, err
	}
	sh, sm, err := parseClock(startText)
	if err != nil {
		return Shift{}, err
	}
	eh, em, err := parseClock(endText)
	if err != nil {
		return Shift{}, err
	}

	start := time.Date(year, month, day, sh, sm, 0, 0, loc)
	end := time.Date(year, month, day, eh, em, 0, 0, loc)
	if !end.After(start) {
		end = time.Date(year, month, day+1, eh, em, 0, 0, loc)
	}

	number, name := ParseStore(raw.Store)
	return Shift{
		Start:       start,
		End:         end,
		StoreNumber: number,
		StoreName:   name,
		StoreLink:   raw.StoreLink,
	}, nil
}

// Dropped is a raw shift that could not be parsed.
type Dropped struct {
	Raw Raw
	Err error
}

// Result is the outcome of normalising a page of shifts.
type Result struct {
	Shifts  []Shift
	Dropped []Dropped
}

// Normalize parses every raw shift. Unparseable shifts are reported in
// Result.Dropped and do not affect the others.
func Normalize(raws []Raw, now time.Time, loc *time.Location, sep string) Result {
	var res Result
	for _, raw := range raws {
		s, err := Parse(raw, now, loc, sep)
		if err != nil {
			res.Dropped = append(res.Dropped, Dropped{Raw: raw, Err: err})
			continue
		}
		res.Shifts = append(res.Shifts, s)
	}
	return res
}
