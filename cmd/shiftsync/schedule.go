package main

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// cronLogger routes cron's internal logging through zap.
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func newCronLogger(logger *zap.Logger) cron.Logger {
	return cronLogger{sugar: logger.Named("cron").Sugar()}
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}

// newScheduler builds a cron scheduler that never overlaps runs: a pass that
// is still going when the next one is due makes cron skip that slot.
func newScheduler(loc *time.Location, logger *zap.Logger) *cron.Cron {
	cl := newCronLogger(logger)
	return cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
}

// runScheduled runs pass on the cron schedule until ctx is canceled. Failed
// passes are logged and the next slot runs as usual.
func runScheduled(ctx context.Context, spec string, loc *time.Location, logger *zap.Logger, pass func(context.Context) error) error {
	c := newScheduler(loc, logger)
	id, err := c.AddFunc(spec, func() {
		if err := pass(ctx); err != nil {
			logger.Error("scheduled sync failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}

	c.Start()
	logger.Info("waiting for scheduled syncs",
		zap.String("schedule", spec),
		zap.Time("next", c.Entry(id).Next),
	)

	<-ctx.Done()
	logger.Info("shutting down, waiting for a running sync to finish")
	<-c.Stop().Done()
	return nil
}
