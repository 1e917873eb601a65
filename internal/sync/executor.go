package sync

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/beekhof/shift-sync/internal/calendar"
	"github.com/beekhof/shift-sync/internal/config"
	"github.com/beekhof/shift-sync/internal/reconcile"
	"github.com/beekhof/shift-sync/internal/shift"
)

// Failure is one calendar operation that did not succeed.
type Failure struct {
	Op  string // "insert" or "delete"
	At  time.Time
	Err error
}

func (f Failure) String() string {
	return fmt.Sprintf("%s %s: %v", f.Op, f.At.Format(time.RFC3339), f.Err)
}

// Report is the outcome of applying a plan.
type Report struct {
	Inserted []calendar.Event
	Deleted  []calendar.Event
	Failures []Failure
}

// Executor applies a reconciliation plan to one calendar.
type Executor struct {
	calendar   calendar.Service
	calendarID string
	template   config.EventTemplate
	timeZone   string
	logger     *zap.Logger
}

// NewExecutor creates an Executor writing to calendarID.
func NewExecutor(cal calendar.Service, calendarID string, template config.EventTemplate, timeZone string, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		calendar:   cal,
		calendarID: calendarID,
		template:   template,
		timeZone:   timeZone,
		logger:     logger,
	}
}

// Apply inserts then deletes, one call at a time. A failed item is recorded
// and the batch carries on.
func (e *Executor) Apply(ctx context.Context, plan reconcile.Plan) Report {
	var report Report

	for _, s := range plan.Insert {
		created, err := e.calendar.InsertEvent(ctx, e.calendarID, e.Payload(s))
		if err != nil {
			e.logger.Error("failed to insert shift", zap.Time("start", s.Start), zap.Error(err))
			report.Failures = append(report.Failures, Failure{Op: "insert", At: s.Start, Err: err})
			continue
		}
		e.logger.Info("inserted shift",
			zap.Time("start", s.Start),
			zap.Time("end", s.End),
			zap.String("event_id", created.ID),
		)
		report.Inserted = append(report.Inserted, created)
	}

	for _, ev := range plan.Delete {
		if err := e.calendar.DeleteEvent(ctx, e.calendarID, ev.ID); err != nil {
			e.logger.Error("failed to delete event", zap.String("event_id", ev.ID), zap.Error(err))
			report.Failures = append(report.Failures, Failure{Op: "delete", At: ev.Start, Err: err})
			continue
		}
		e.logger.Info("deleted event", zap.String("event_id", ev.ID), zap.Time("start", ev.Start))
		report.Deleted = append(report.Deleted, ev)
	}

	return report
}

// Payload builds the event inserted for a shift.
func (e *Executor) Payload(s shift.Shift) calendar.EventPayload {
	location := e.template.Location
	if s.StoreName != "" {
		location = s.StoreName
		if s.StoreNumber != "" {
			location += " - #" + s.StoreNumber
		}
	}

	description := e.template.Description
	if s.StoreLink != "" {
		if description != "" {
			description += "\n\n"
		}
		description += s.StoreLink
	}

	return calendar.EventPayload{
		Summary:         DurationLabel(s.Duration()) + " " + e.template.Summary,
		Description:     description,
		Location:        location,
		Start:           s.Start,
		End:             s.End,
		TimeZone:        e.timeZone,
		ReminderMinutes: e.template.ReminderMinutes,
	}
}

// DurationLabel renders a shift length as "(5.5HR)".
func DurationLabel(d time.Duration) string {
	return "(" + strconv.FormatFloat(d.Hours(), 'f', -1, 64) + "HR)"
}
