// Package rollover moves the calling window to the new day.
//
// Window boundaries are epoch seconds anchored to the day they were entered.
// A cron job in the reference zone re-anchors the session to today's date at
// the same wall-clock times, and re-arms the window watcher if it was armed
// for the old window.
package rollover

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/smtaidev/outbound/errors"
	"github.com/smtaidev/outbound/logger"
	"github.com/smtaidev/outbound/pulse/schedule"
	"github.com/smtaidev/outbound/pulse/watcher"
)

// Session is the schedule being re-anchored
type Session interface {
	Reanchor() schedule.Config
}

// Watcher is the window watcher to re-arm
type Watcher interface {
	State() watcher.State
	Arm(ctx context.Context, windowEnd int64) (uint64, error)
}

// Stats describes past and upcoming runs
type Stats struct {
	Spec    string     `json:"spec"`
	Runs    int64      `json:"runs"`
	LastRun *time.Time `json:"last_run,omitempty"`
	NextRun *time.Time `json:"next_run,omitempty"`
}

// Rollover runs the daily re-anchor job
type Rollover struct {
	spec    string
	loc     *time.Location
	cron    *cron.Cron
	entry   cron.EntryID
	session Session
	watcher Watcher
	logger  *zap.SugaredLogger

	mu      sync.Mutex
	runs    int64
	lastRun time.Time
}

// New schedules the re-anchor job on spec (standard 5-field cron) in loc.
// w may be nil.
func New(spec string, loc *time.Location, session Session, w Watcher, log *zap.SugaredLogger) (*Rollover, error) {
	if log == nil {
		log = logger.ComponentLogger("rollover")
	}
	r := &Rollover{spec: spec, loc: loc, session: session, watcher: w, logger: log}
	r.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cronLogger{log}),
		cron.WithChain(cron.Recover(cronLogger{log}), cron.SkipIfStillRunning(cronLogger{log})),
	)

	id, err := r.cron.AddFunc(spec, func() {
		if err := r.Run(context.Background()); err != nil {
			r.logger.Warnw("Rollover failed", logger.FieldError, err)
		}
	})
	if err != nil {
		return nil, errors.WithHint(
			errors.Wrapf(errors.ErrValidation, "invalid rollover cron %q: %v", spec, err),
			"schedule.rollover_cron takes five fields, e.g. \"0 0 * * *\"")
	}
	r.entry = id
	return r, nil
}

// Start begins the cron scheduler
func (r *Rollover) Start() {
	r.cron.Start()
	r.logger.Infow("Rollover scheduled", "spec", r.spec, "next_run", r.cron.Entry(r.entry).Next)
}

// Stop halts the scheduler and waits for a running job
func (r *Rollover) Stop() {
	<-r.cron.Stop().Done()
}

// Run re-anchors the window now. It is what the cron job calls.
func (r *Rollover) Run(ctx context.Context) error {
	cfg := r.session.Reanchor()

	r.mu.Lock()
	r.runs++
	r.lastRun = time.Now()
	r.mu.Unlock()

	r.logger.Infow("Calling window re-anchored",
		"call_start_time", cfg.CallStartTime,
		"call_end_time", cfg.CallEndTime)

	if r.watcher == nil || r.watcher.State() != watcher.StateArmed {
		return nil
	}
	gen, err := r.watcher.Arm(ctx, cfg.CallEndTime)
	if err != nil {
		return errors.Wrap(err, "re-arm window watcher")
	}
	r.logger.Infow("Window watcher re-armed for new day",
		logger.FieldGeneration, gen,
		logger.FieldWindowEnd, cfg.CallEndTime)
	return nil
}

// Stats returns run counters and the next scheduled run
func (r *Rollover) Stats() Stats {
	r.mu.Lock()
	s := Stats{Spec: r.spec, Runs: r.runs}
	if !r.lastRun.IsZero() {
		t := r.lastRun
		s.LastRun = &t
	}
	r.mu.Unlock()

	if next := r.cron.Entry(r.entry).Next; !next.IsZero() {
		s.NextRun = &next
	}
	return s
}

// NextAfter returns when the job runs next after t, in the reference zone
func (r *Rollover) NextAfter(t time.Time) time.Time {
	return r.cron.Entry(r.entry).Schedule.Next(t.In(r.loc))
}

// cronLogger adapts a zap logger to cron.Logger
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, logger.FieldError, err)...)
}
