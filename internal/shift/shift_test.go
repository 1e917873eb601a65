package shift

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beekhof/shift-sync/internal/browser/browsertest"
)

func newYork(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return loc
}

func TestSplitTimeRange(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		wantStart string
		wantEnd   string
		wantErr   bool
	}{
		{name: "spaced", text: "12:30 PM - 06:00 PM", wantStart: "12:30 PM", wantEnd: "06:00 PM"},
		{name: "tight", text: "5:00 AM-1:30 PM", wantStart: "5:00 AM", wantEnd: "1:30 PM"},
		{name: "no separator", text: "12:30 PM", wantErr: true},
		{name: "two separators", text: "1:00 PM - 2:00 PM - 3:00 PM", wantErr: true},
		{name: "empty half", text: "12:30 PM - ", wantErr: true},
		{name: "empty", text: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, err := SplitTimeRange(tt.text, "-")
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrBadTimeRange)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStart, start)
			assert.Equal(t, tt.wantEnd, end)
		})
	}
}

func TestInferYear(t *testing.T) {
	loc := newYork(t)
	tests := []struct {
		name  string
		now   time.Time
		label string
		want  int
	}{
		{name: "same year", now: time.Date(2024, 6, 3, 9, 0, 0, 0, loc), label: "Friday, June 7", want: 2024},
		{name: "december to january", now: time.Date(2024, 12, 30, 9, 0, 0, 0, loc), label: "Friday, January 3", want: 2025},
		{name: "december to december", now: time.Date(2024, 12, 2, 9, 0, 0, 0, loc), label: "Friday, December 6", want: 2024},
		{name: "january stays", now: time.Date(2025, 1, 2, 9, 0, 0, 0, loc), label: "Friday, January 3", want: 2025},
		{name: "abbreviated month", now: time.Date(2024, 12, 30, 9, 0, 0, 0, loc), label: "Fri, Jan 3", want: 2025},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := InferYear(tt.now, tt.label)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInferYear_BadLabel(t *testing.T) {
	_, err := InferYear(time.Now(), "Someday")
	assert.ErrorIs(t, err, ErrBadDayLabel)
}

func TestParseStore(t *testing.T) {
	number, name := ParseStore("Store #007629, Burlington Town Center")
	assert.Equal(t, "007629", number)
	assert.Equal(t, "Burlington Town Center", name)

	number, name = ParseStore("Store #000123, Church St, Burlington")
	assert.Equal(t, "000123", number)
	assert.Equal(t, "Church St, Burlington", name)

	number, name = ParseStore("Roastery")
	assert.Empty(t, number)
	assert.Equal(t, "Roastery", name)
}

func TestParse(t *testing.T) {
	loc := newYork(t)
	now := time.Date(2019, 1, 7, 8, 0, 0, 0, loc)

	s, err := Parse(Raw{
		Day:       "Friday, January 11",
		TimeRange: "12:30 PM - 06:00 PM",
		Store:     "Store #007629, Burlington Town Center",
		StoreLink: "https://example.com/store/007629",
	}, now, loc, "-")
	require.NoError(t, err)

	assert.True(t, s.Start.Equal(time.Date(2019, 1, 11, 12, 30, 0, 0, loc)))
	assert.True(t, s.End.Equal(time.Date(2019, 1, 11, 18, 0, 0, 0, loc)))
	assert.Equal(t, 5*time.Hour+30*time.Minute, s.Duration())
	assert.Equal(t, "007629", s.StoreNumber)
	assert.Equal(t, "Burlington Town Center", s.StoreName)
	assert.Equal(t, "https://example.com/store/007629", s.StoreLink)
}

func TestParse_YearRollover(t *testing.T) {
	loc := newYork(t)
	now := time.Date(2024, 12, 30, 10, 0, 0, 0, loc)

	s, err := Parse(Raw{Day: "Friday, January 3", TimeRange: "5:00 AM - 11:00 AM"}, now, loc, "-")
	require.NoError(t, err)
	assert.Equal(t, 2025, s.Start.Year())
	assert.True(t, s.Start.Equal(time.Date(2025, 1, 3, 5, 0, 0, 0, loc)))
}

func TestParse_Overnight(t *testing.T) {
	loc := newYork(t)
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, loc)

	s, err := Parse(Raw{Day: "Saturday, March 2", TimeRange: "10:00 PM - 2:00 AM"}, now, loc, "-")
	require.NoError(t, err)
	assert.True(t, s.Start.Equal(time.Date(2024, 3, 2, 22, 0, 0, 0, loc)))
	assert.True(t, s.End.Equal(time.Date(2024, 3, 3, 2, 0, 0, 0, loc)))
	assert.True(t, s.Start.Before(s.End))
}

func TestParse_LowercaseMeridiem(t *testing.T) {
	loc := newYork(t)
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, loc)

	s, err := Parse(Raw{Day: "Monday, March 4", TimeRange: "6:00am - 12:15pm"}, now, loc, "-")
	require.NoError(t, err)
	assert.Equal(t, 6, s.Start.Hour())
	assert.Equal(t, 12, s.End.Hour())
	assert.Equal(t, 15, s.End.Minute())
}

func TestNormalize_DropsMalformed(t *testing.T) {
	loc := newYork(t)
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, loc)

	res := Normalize([]Raw{
		{Day: "Monday, March 4", TimeRange: "6:00 AM - 12:00 PM"},
		{Day: "Tuesday, March 5", TimeRange: "6:00 AM"},
		{Day: "", TimeRange: "6:00 AM - 12:00 PM"},
		{Day: "Wednesday, March 6", TimeRange: "6:00 AM - noon"},
		{Day: "Thursday, March 7", TimeRange: "1:00 PM - 5:00 PM"},
	}, now, loc, "-")

	require.Len(t, res.Shifts, 2)
	assert.Equal(t, 4, res.Shifts[0].Start.Day())
	assert.Equal(t, 7, res.Shifts[1].Start.Day())

	require.Len(t, res.Dropped, 3)
	assert.ErrorIs(t, res.Dropped[0].Err, ErrBadTimeRange)
	assert.ErrorIs(t, res.Dropped[1].Err, ErrBadDayLabel)
	assert.ErrorIs(t, res.Dropped[2].Err, ErrBadTimeRange)
	assert.Equal(t, "Tuesday, March 5", res.Dropped[0].Raw.Day)
}

func TestExtract(t *testing.T) {
	var script string
	page := browsertest.New()
	page.EvaluateFunc = func(expr string) (any, error) {
		script = expr
		return []map[string]string{
			{"day": "Friday, January 11", "time": "12:30 PM - 06:00 PM", "store": "Store #007629, Burlington Town Center"},
			{"day": "Saturday, January 12", "time": "5:00 AM - 10:00 AM", "store": "Store #007629, Burlington Town Center"},
		}, nil
	}

	raws, err := Extract(context.Background(), page, DefaultSelectors())
	require.NoError(t, err)
	require.Len(t, raws, 2)
	assert.Equal(t, Raw{Day: "Friday, January 11", TimeRange: "12:30 PM - 06:00 PM", Store: "Store #007629, Burlington Town Center"}, raws[0])
	assert.Contains(t, script, `".scheduleShift"`)
	assert.Contains(t, script, `".scheduleDayRight"`)
}

func TestExtract_EvaluateError(t *testing.T) {
	page := browsertest.New()
	page.EvaluateFunc = func(string) (any, error) { return nil, errors.New("target closed") }

	_, err := Extract(context.Background(), page, DefaultSelectors())
	assert.Error(t, err)
}
