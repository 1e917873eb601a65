package sync

import (
	"fmt"
	"strings"
	"time"

	"github.com/beekhof/shift-sync/internal/navigator"
	"github.com/beekhof/shift-sync/internal/reconcile"
	"github.com/beekhof/shift-sync/internal/shift"
)

// Summary describes one pass.
type Summary struct {
	RunID         string
	DryRun        bool
	CalendarID    string
	Screens       navigator.Trace
	ShiftsFound   int
	Dropped       []shift.Dropped
	EventsFetched int
	Plan          reconcile.Plan
	Report        Report
	Elapsed       time.Duration
}

// Failed reports whether any calendar operation failed.
func (s *Summary) Failed() bool {
	return len(s.Report.Failures) > 0
}

func (s *Summary) String() string {
	var b strings.Builder

	mode := "sync"
	if s.DryRun {
		mode = "plan (dry run)"
	}
	calendarID := s.CalendarID
	if calendarID == "" {
		calendarID = "(not created yet)"
	}
	fmt.Fprintf(&b, "Run %s: %s against calendar %s\n", s.RunID, mode, calendarID)
	if len(s.Screens) > 0 {
		fmt.Fprintf(&b, "  Screens: %s\n", s.Screens)
	}
	fmt.Fprintf(&b, "  Shifts found: %d", s.ShiftsFound)
	if len(s.Dropped) > 0 {
		fmt.Fprintf(&b, " (%d dropped)", len(s.Dropped))
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "  Upcoming events: %d, matched: %d, already started: %d\n",
		s.EventsFetched, s.Plan.Matched, s.Plan.SkippedPast)

	if s.DryRun {
		fmt.Fprintf(&b, "  Would insert %d shift(s):\n", len(s.Plan.Insert))
		for _, sh := range s.Plan.Insert {
			fmt.Fprintf(&b, "    + %s - %s %s\n",
				sh.Start.Format("Mon Jan 2 15:04"), sh.End.Format("15:04"), DurationLabel(sh.Duration()))
		}
		fmt.Fprintf(&b, "  Would delete %d event(s):\n", len(s.Plan.Delete))
		for _, ev := range s.Plan.Delete {
			fmt.Fprintf(&b, "    - %s - %s %s\n",
				ev.Start.Format("Mon Jan 2 15:04"), ev.End.Format("15:04"), ev.Title)
		}
	} else {
		fmt.Fprintf(&b, "  Inserted: %d/%d, deleted: %d/%d\n",
			len(s.Report.Inserted), len(s.Plan.Insert), len(s.Report.Deleted), len(s.Plan.Delete))
	}

	for _, d := range s.Dropped {
		fmt.Fprintf(&b, "  Dropped %q %q: %v\n", d.Raw.Day, d.Raw.TimeRange, d.Err)
	}
	if len(s.Report.Failures) > 0 {
		fmt.Fprintf(&b, "  Failures (%d):\n", len(s.Report.Failures))
		for _, f := range s.Report.Failures {
			fmt.Fprintf(&b, "    %s\n", f)
		}
	}
	fmt.Fprintf(&b, "  Took %s", s.Elapsed.Round(time.Millisecond))

	return b.String()
}
