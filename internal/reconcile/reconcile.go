// Package reconcile decides which calendar events to insert and delete so the
// calendar mirrors the published schedule.
package reconcile

import (
	"time"

	"github.com/beekhof/shift-sync/internal/calendar"
	"github.com/beekhof/shift-sync/internal/shift"
)

// MatchKey identifies a time range to the second. A shift and an event
// with equal keys are the same occurrence, whatever their titles say.
type MatchKey struct {
	Start int64
	End   int64
}

// KeyOf builds the key for a time range.
func KeyOf(start, end time.Time) MatchKey {
	return MatchKey{Start: start.Unix(), End: end.Unix()}
}

// Plan is the set of calendar changes for one run.
type Plan struct {
	Insert []shift.Shift
	Delete []calendar.Event
	// Matched counts shifts already present in the calendar.
	Matched int
	// SkippedPast counts new shifts not inserted because they already started.
	SkippedPast int
}

// Empty reports whether the plan changes nothing.
func (p Plan) Empty() bool {
	return len(p.Insert) == 0 && len(p.Delete) == 0
}

// Reconcile compares the scraped shifts with the calendar's upcoming events.
//
// A shift is inserted when no event carries its key and it starts after now.
// An event is deleted when no shift carries its key; past shifts still count,
// so an event for a shift that already began is kept. Shifts sharing a key
// are inserted once.
func Reconcile(shifts []shift.Shift, events []calendar.Event, now time.Time) Plan {
	eventKeys := make(map[MatchKey]bool, len(events))
	for _, e := range events {
		eventKeys[KeyOf(e.Start, e.End)] = true
	}

	shiftKeys := make(map[MatchKey]bool, len(shifts))
	var plan Plan
	for _, s := range shifts {
		key := KeyOf(s.Start, s.End)
		seen := shiftKeys[key]
		shiftKeys[key] = true

		switch {
		case eventKeys[key]:
			if !seen {
				plan.Matched++
			}
		case seen:
			// duplicate of a shift already planned or skipped
		case !s.Start.After(now):
			plan.SkippedPast++
		default:
			plan.Insert = append(plan.Insert, s)
		}
	}

	for _, e := range events {
		if !shiftKeys[KeyOf(e.Start, e.End)] {
			plan.Delete = append(plan.Delete, e)
		}
	}

	return plan
}
