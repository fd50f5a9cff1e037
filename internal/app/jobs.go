package app

import (
	"context"
	"errors"
	"time"

	"lifejourney/internal/config"
	logx "lifejourney/pkg/logx"
)

// Scheduled job names.
const (
	JobSweep     = "sweep.overdue"
	JobReminders = "reminders.dispatch"
)

// registerJobs (re)registers the scheduled jobs from cfg. A disabled job is
// removed; registering an existing name replaces its schedule.
func (a *App) registerJobs(cfg *config.Config) error {
	_, sj, err := mapSweep(cfg)
	if err != nil {
		return err
	}
	if err := a.schedule(JobSweep, sj, a.runSweep); err != nil {
		return err
	}
	_, rj, err := mapReminders(cfg)
	if err != nil {
		return err
	}
	return a.schedule(JobReminders, rj, a.runReminders)
}

func (a *App) schedule(name string, js jobSpec, run func(ctx context.Context) error) error {
	if !js.enabled {
		if a.trig.Remove(name) {
			a.log.Info("job unscheduled", logx.String("job", name))
		}
		return nil
	}
	return a.trig.AddSchedule(name, js.schedule, js.timeout, run)
}

// runSweep advances every overdue item. Per-item failures are reported by
// the sweep itself; only a failed scan fails the job so the engine retries.
func (a *App) runSweep(ctx context.Context) error {
	sw := a.sweeper.Load()
	if sw == nil {
		return errors.New("sweeper not configured")
	}
	_, err := sw.Run(ctx, time.Now())
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	a.lastSweepErr.Store(&msg)
	return err
}

func (a *App) runReminders(ctx context.Context) error {
	if !a.notif.Enabled() {
		a.log.Debug("reminders skipped: notifier disabled")
		return nil
	}
	if len(a.notif.Channels()) == 0 {
		a.log.Debug("reminders skipped: no gateway configured")
		return nil
	}
	pl := a.planner.Load()
	if pl == nil {
		return errors.New("reminder planner not configured")
	}
	_, err := pl.Run(ctx, time.Now())
	return err
}

// RunNow fires a scheduled job immediately through the engine.
func (a *App) RunNow(name string) error {
	return a.trig.Fire(name)
}
