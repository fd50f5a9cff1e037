package trigger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"lifejourney/internal/eventbus"
	"lifejourney/internal/jobs/engine"
	logx "lifejourney/pkg/logx"
)

var ErrUnknownSchedule = errors.New("unknown schedule")

// AddSchedule parses schedule and registers a cron or interval job.
//
// Supported schedule formats:
//   - Cron: "*/5 * * * *", "0 7 * * *", "@daily", "@every 55m"
//   - Interval duration: "55m", "2h30m"
//   - Interval HH:MM: "00:50" (50 minutes), "02:30" (2 hours 30 minutes)
//
// Registering an existing name replaces it. The job skips a tick while a
// previous run is still queued or running.
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, run func(ctx context.Context) error) error {
	return s.AddScheduleOpt(name, schedule, timeout, engine.Options{Overlap: engine.OverlapSkipIfRunning}, run)
}

func (s *Service) AddScheduleOpt(name, schedule string, timeout time.Duration, opt engine.Options, run func(ctx context.Context) error) error {
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	spec := ps.Cron
	if ps.Kind == SpecInterval {
		spec = "@every " + ps.Every.String()
	}
	return s.register(name, spec, timeout, opt, run)
}

// AddDaily runs the job every day at HH:MM in the trigger's timezone.
func (s *Service) AddDaily(name, atHHMM string, timeout time.Duration, run func(ctx context.Context) error) error {
	h, m, err := parseHHMM(atHHMM)
	if err != nil {
		return err
	}
	return s.register(name, fmt.Sprintf("%d %d * * *", m, h), timeout, engine.Options{}, run)
}

func (s *Service) register(name, spec string, timeout time.Duration, opt engine.Options, run func(ctx context.Context) error) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if run == nil {
		return errors.New("run required")
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("schedule %q: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	s.defs = append(s.defs, scheduleDef{name: name, spec: spec, timeout: timeout, run: run, opt: opt})
	if s.c == nil {
		// Not running yet: Start registers it.
		return nil
	}
	d := &s.defs[len(s.defs)-1]
	if err := s.addCronLocked(d); err != nil {
		return err
	}
	args := []logx.Field{logx.String("name", name), logx.String("spec", spec), logx.Duration("timeout", timeout)}
	if next := s.previewNextRunsLocked(spec, 3); next != "" {
		args = append(args, logx.String("next", next))
	}
	s.log.Debug("schedule registered", args...)
	return nil
}

// Remove unregisters the named schedule and reports whether it existed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	removed := s.removeLocked(strings.TrimSpace(name))
	s.mu.Unlock()
	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

// Fire enqueues the named job immediately, outside its schedule. It goes
// through the same overlap and circuit checks as a timed tick.
func (s *Service) Fire(name string) error {
	s.mu.Lock()
	var def *scheduleDef
	for i := range s.defs {
		if s.defs[i].name == name {
			d := s.defs[i]
			def = &d
			break
		}
	}
	s.mu.Unlock()
	if def == nil {
		return fmt.Errorf("%w: %s", ErrUnknownSchedule, name)
	}
	return s.fire(*def)
}

// Names lists registered schedules in registration order.
func (s *Service) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.defs))
	for _, d := range s.defs {
		out = append(out, d.name)
	}
	return out
}

func (s *Service) fire(d scheduleDef) error {
	now := time.Now()
	var err error
	if s.eng == nil {
		err = engine.ErrStopped
	} else {
		err = s.eng.Enqueue(engine.Job{Name: d.name, Timeout: d.timeout, Run: d.run, Opt: d.opt})
	}
	if s.bus != nil {
		ev := FiredEvent{Name: d.name, At: now}
		if err != nil {
			ev.Error = err.Error()
		}
		s.bus.Publish(eventbus.Event{Type: TopicFired, Time: now, Data: ev})
	}
	if err != nil {
		s.reportEnqueueError(d.name, err)
	}
	return err
}

// removeLocked must be called with s.mu held.
func (s *Service) removeLocked(name string) bool {
	if name == "" {
		return false
	}
	n := 0
	removed := false
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	s.defs = s.defs[:n]
	return removed
}

// addCronLocked must be called with s.mu held and cron running. Interval
// schedules get a random first-run delay so a restart does not fire every
// job at once.
func (s *Service) addCronLocked(d *scheduleDef) error {
	def := *d
	job := cron.FuncJob(func() { _ = s.fire(def) })

	if everyStr, ok := strings.CutPrefix(d.spec, "@every"); ok {
		every, err := time.ParseDuration(strings.TrimSpace(everyStr))
		if err == nil && every > 0 {
			sched, spread := makeIntervalScheduleWithSpread(every, time.Now().In(s.loc), d.name)
			d.startupSpread = spread
			d.entryID = s.c.Schedule(sched, job)
			return nil
		}
	}
	d.startupSpread = 0
	id, err := s.c.AddJob(d.spec, job)
	if err != nil {
		return err
	}
	d.entryID = id
	return nil
}

// previewNextRunsLocked formats the next n run times for debug logs.
func (s *Service) previewNextRunsLocked(spec string, n int) string {
	if !s.log.Enabled(logx.LevelDebug) || n <= 0 {
		return ""
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return ""
	}
	t := time.Now().In(s.loc)
	var b strings.Builder
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}
