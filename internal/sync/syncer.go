// Package sync runs one scrape-and-reconcile pass against the target calendar.
package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/beekhof/shift-sync/internal/browser"
	"github.com/beekhof/shift-sync/internal/calendar"
	"github.com/beekhof/shift-sync/internal/config"
	"github.com/beekhof/shift-sync/internal/navigator"
	"github.com/beekhof/shift-sync/internal/reconcile"
	"github.com/beekhof/shift-sync/internal/screen"
	"github.com/beekhof/shift-sync/internal/shift"
)

// BrowserOpener starts a browser for one pass. The syncer closes it.
type BrowserOpener func(ctx context.Context) (browser.Browser, error)

// Syncer handles the synchronization between the schedule site and the calendar.
type Syncer struct {
	calendar    calendar.Service
	openBrowser BrowserOpener
	config      *config.Config
	secrets     *config.Secrets
	logger      *zap.Logger
	now         func() time.Time
}

// NewSyncer creates a new Syncer instance.
func NewSyncer(cal calendar.Service, openBrowser BrowserOpener, cfg *config.Config, secrets *config.Secrets, logger *zap.Logger) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{
		calendar:    cal,
		openBrowser: openBrowser,
		config:      cfg,
		secrets:     secrets,
		logger:      logger,
		now:         time.Now,
	}
}

// Sync performs one full pass and writes the changes to the calendar.
// The summary is returned even when the pass fails part way.
func (s *Syncer) Sync(ctx context.Context) (*Summary, error) {
	return s.run(ctx, true)
}

// Plan performs one pass without changing the calendar.
func (s *Syncer) Plan(ctx context.Context) (*Summary, error) {
	return s.run(ctx, false)
}

func (s *Syncer) run(ctx context.Context, apply bool) (*Summary, error) {
	started := s.now()
	summary := &Summary{RunID: uuid.NewString(), DryRun: !apply}
	logger := s.logger.With(zap.String("run_id", summary.RunID))
	defer func() { summary.Elapsed = s.now().Sub(started) }()

	loc, err := s.config.Location()
	if err != nil {
		return summary, err
	}

	calendarID, found, err := s.resolveCalendar(ctx, apply, logger)
	if err != nil {
		return summary, err
	}
	summary.CalendarID = calendarID

	// Fetch before scraping so a calendar problem never costs a login.
	var events []calendar.Event
	if found {
		events, err = s.calendar.ListUpcomingEvents(ctx, calendarID, started)
		if err != nil {
			return summary, fmt.Errorf("failed to fetch upcoming events: %w", err)
		}
	}
	summary.EventsFetched = len(events)
	logger.Info("fetched upcoming events", zap.Int("count", len(events)))

	raws, trace, err := s.scrape(ctx, logger)
	summary.Screens = trace
	if err != nil {
		return summary, err
	}

	result := shift.Normalize(raws, started, loc, s.shiftSelectors().Separator)
	summary.ShiftsFound = len(result.Shifts)
	summary.Dropped = result.Dropped
	for _, d := range result.Dropped {
		logger.Warn("dropped unparseable shift",
			zap.String("day", d.Raw.Day),
			zap.String("time", d.Raw.TimeRange),
			zap.Error(d.Err),
		)
	}
	if len(raws) == 0 {
		logger.Warn("schedule page listed no shifts; every upcoming event will be removed")
	}

	plan := reconcile.Reconcile(result.Shifts, events, started)
	summary.Plan = plan
	logger.Info("reconciled",
		zap.Int("insert", len(plan.Insert)),
		zap.Int("delete", len(plan.Delete)),
		zap.Int("matched", plan.Matched),
		zap.Int("skipped_past", plan.SkippedPast),
	)

	if !apply {
		return summary, nil
	}

	executor := NewExecutor(s.calendar, calendarID, s.config.Event, s.config.Timezone, logger)
	summary.Report = executor.Apply(ctx, plan)

	return summary, nil
}

// resolveCalendar returns the target calendar ID and whether it exists.
// A missing calendar is created when the backend supports it, except in a
// dry run, which plans against an empty calendar instead.
func (s *Syncer) resolveCalendar(ctx context.Context, apply bool, logger *zap.Logger) (string, bool, error) {
	id := s.config.CalendarID
	if id == "" {
		var err error
		id, err = s.calendar.ResolveCalendarID(ctx, s.config.CalendarName)
		switch {
		case err == nil:
		case !errors.Is(err, calendar.ErrCalendarNotFound):
			return "", false, fmt.Errorf("failed to resolve calendar %q: %w", s.config.CalendarName, err)
		case !apply:
			logger.Info("calendar does not exist yet", zap.String("name", s.config.CalendarName))
			return "", false, nil
		default:
			creator, ok := s.calendar.(calendar.Creator)
			if !ok {
				return "", false, err
			}
			id, err = creator.CreateCalendar(ctx, s.config.CalendarName, s.config.Timezone)
			if err != nil {
				return "", false, fmt.Errorf("failed to create calendar %q: %w", s.config.CalendarName, err)
			}
			logger.Info("created calendar", zap.String("name", s.config.CalendarName), zap.String("id", id))
		}
	}

	dedicated, err := s.calendar.IsDedicated(ctx, id)
	if err != nil {
		return "", false, err
	}
	if !dedicated {
		return "", false, fmt.Errorf("%w: %s", calendar.ErrSharedCalendar, id)
	}
	return id, true, nil
}

// scrape logs in, reads the schedule and closes the browser.
func (s *Syncer) scrape(ctx context.Context, logger *zap.Logger) ([]shift.Raw, navigator.Trace, error) {
	page, err := s.openBrowser(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start browser: %w", err)
	}
	defer func() {
		if err := page.Close(); err != nil {
			logger.Warn("failed to close browser", zap.Error(err))
		}
	}()

	nav := navigator.New(page, navigator.Credentials{
		PartnerID: s.secrets.PartnerID,
		Password:  s.secrets.Password,
		Answer:    s.secrets.Answer,
	}, s.navigatorOptions(), logger)

	trace, err := nav.Run(ctx)
	if err != nil {
		return nil, trace, err
	}

	var (
		extractCtx context.Context
		cancel     context.CancelFunc
	)
	if timeout := s.config.Browser.SelectorTimeout(); timeout > 0 {
		extractCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		extractCtx, cancel = context.WithCancel(ctx)
	}
	raws, err := shift.Extract(extractCtx, page, s.shiftSelectors())
	cancel()
	if err != nil {
		return nil, trace, err
	}
	logger.Info("retrieved shifts from schedule", zap.Int("count", len(raws)))
	for _, r := range raws {
		logger.Debug("shift", zap.String("day", r.Day), zap.String("time", r.TimeRange))
	}

	return raws, trace, nil
}

func (s *Syncer) navigatorOptions() navigator.Options {
	b := s.config.Browser
	return navigator.Options{
		SiteURL:               s.config.SiteURL,
		Selectors:             s.screenSelectors(),
		NavigationTimeout:     b.NavigationTimeout(),
		SelectorTimeout:       b.SelectorTimeout(),
		PollInterval:          b.PollInterval(),
		MaxIndeterminatePolls: b.MaxIndeterminatePolls,
		MaxTransitions:        b.MaxTransitions,
	}
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func (s *Syncer) screenSelectors() screen.Selectors {
	sel := screen.DefaultSelectors()
	o := s.config.Selectors
	override(&sel.Credential, o.CredentialInput)
	override(&sel.Password, o.PasswordInput)
	override(&sel.SecurityInput, o.SecurityInput)
	override(&sel.SecurityLabel, o.SecurityLabel)
	override(&sel.Submit, o.Submit)
	override(&sel.Schedule, o.Shift)
	return sel
}

func (s *Syncer) shiftSelectors() shift.Selectors {
	sel := shift.DefaultSelectors()
	o := s.config.Selectors
	override(&sel.Shift, o.Shift)
	override(&sel.Time, o.ShiftTime)
	override(&sel.Store, o.ShiftStore)
	override(&sel.Day, o.Day)
	override(&sel.DayTitle, o.DayTitle)
	override(&sel.Separator, o.TimeSeparator)
	return sel
}
