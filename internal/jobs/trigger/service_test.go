package trigger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"lifejourney/internal/eventbus"
	"lifejourney/internal/jobs/engine"
	logx "lifejourney/pkg/logx"
)

type fakeEnqueuer struct {
	mu   sync.Mutex
	jobs []engine.Job
	err  error
}

func (f *fakeEnqueuer) Enqueue(j engine.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, j)
	return nil
}

func (f *fakeEnqueuer) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, j := range f.jobs {
		out = append(out, j.Name)
	}
	return out
}

func noop(context.Context) error { return nil }

func TestRegisterBeforeStartAndSnapshot(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Timezone: "UTC"}, &fakeEnqueuer{}, logx.Nop(), nil)
	if err := s.AddSchedule("sweep.overdue", "0 5 * * *", time.Minute, noop); err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}
	if err := s.AddSchedule("reminders.dispatch", "15m", 0, noop); err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}

	if snap := s.Snapshot(); snap.Running || len(snap.Schedules) != 2 || !snap.Schedules[0].Next.IsZero() {
		t.Fatalf("pre-start snapshot = %+v", snap)
	}

	s.Start(context.Background())
	defer s.Stop(context.Background())

	snap := s.Snapshot()
	if !snap.Running || snap.Timezone != "UTC" {
		t.Fatalf("snapshot = %+v", snap)
	}
	for _, it := range snap.Schedules {
		if it.Next.IsZero() {
			t.Fatalf("schedule %s has no next run", it.Name)
		}
	}
	sweep := snap.Schedules[0]
	if sweep.Spec != "0 5 * * *" || sweep.Next.Hour() != 5 || sweep.Next.Minute() != 0 {
		t.Fatalf("sweep schedule = %+v", sweep)
	}
	rem := snap.Schedules[1]
	if rem.Spec != "@every 15m0s" {
		t.Fatalf("interval spec = %q", rem.Spec)
	}
	if rem.StartupSpread < 0 || rem.StartupSpread >= maxStartupSpread {
		t.Fatalf("startup spread = %v", rem.StartupSpread)
	}
}

func TestReplaceAndRemove(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, &fakeEnqueuer{}, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if err := s.AddSchedule("job", "1h", 0, noop); err != nil {
		t.Fatal(err)
	}
	if err := s.AddDaily("job", "07:30", 0, noop); err != nil {
		t.Fatal(err)
	}
	if got := s.Names(); len(got) != 1 {
		t.Fatalf("Names = %v, want one entry after replace", got)
	}
	if spec := s.Snapshot().Schedules[0].Spec; spec != "30 7 * * *" {
		t.Fatalf("spec = %q", spec)
	}
	if !s.Remove("job") || s.Remove("job") {
		t.Fatal("Remove should report true once")
	}
	if err := s.AddSchedule("bad", "61 * * * *", 0, noop); err == nil {
		t.Fatal("invalid cron accepted")
	}
	if err := s.AddSchedule("", "1h", 0, noop); err == nil {
		t.Fatal("empty name accepted")
	}
}

func TestFireEnqueuesAndPublishes(t *testing.T) {
	t.Parallel()
	eng := &fakeEnqueuer{}
	bus := eventbus.New()
	events, unsubscribe := bus.Subscribe(4, TopicFired)
	defer unsubscribe()

	s := New(Config{}, eng, logx.Nop(), bus)
	if err := s.AddSchedule("sweep.overdue", "@daily", 2*time.Minute, noop); err != nil {
		t.Fatal(err)
	}
	if err := s.Fire("sweep.overdue"); err != nil {
		t.Fatalf("Fire: %v", err)
	}
	if got := eng.names(); len(got) != 1 || got[0] != "sweep.overdue" {
		t.Fatalf("enqueued = %v", got)
	}
	if eng.jobs[0].Timeout != 2*time.Minute {
		t.Fatalf("timeout = %v", eng.jobs[0].Timeout)
	}
	ev := <-events
	if fe, ok := ev.Data.(FiredEvent); !ok || fe.Name != "sweep.overdue" || fe.Error != "" {
		t.Fatalf("event = %+v", ev.Data)
	}

	if err := s.Fire("missing"); !errors.Is(err, ErrUnknownSchedule) {
		t.Fatalf("Fire(missing) = %v", err)
	}

	eng.err = engine.ErrQueueFull
	if err := s.Fire("sweep.overdue"); !errors.Is(err, engine.ErrQueueFull) {
		t.Fatalf("Fire on full queue = %v", err)
	}
	if fe := (<-events).Data.(FiredEvent); fe.Error == "" {
		t.Fatal("failed fire should carry the error")
	}
}

func TestSpreadScheduleDelaysOnlyFirstRun(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	sched, spread := makeIntervalScheduleWithSpread(time.Minute, now, "x")
	if spread < 0 || spread >= time.Minute {
		t.Fatalf("spread = %v", spread)
	}
	first := sched.Next(now)
	if want := now.Add(time.Minute + spread); !first.Equal(want) {
		t.Fatalf("first = %v, want %v", first, want)
	}
	// cron.Every truncates to whole seconds.
	if gap := sched.Next(first).Sub(first); gap <= 59*time.Second || gap > time.Minute {
		t.Fatalf("second run %v after first, want about 1m", gap)
	}
}

func TestApplyTogglesRunning(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(Config{}, &fakeEnqueuer{}, logx.Nop(), nil)
	s.Start(ctx)
	if s.Snapshot().Running {
		t.Fatal("disabled trigger started")
	}
	s.Apply(ctx, Config{Enabled: true, Timezone: "UTC"})
	if !s.Snapshot().Running {
		t.Fatal("Apply(enabled) did not start")
	}
	s.Apply(ctx, Config{Enabled: true, Timezone: "Asia/Tokyo"})
	if tz := s.Snapshot().Timezone; tz != "Asia/Tokyo" {
		t.Fatalf("timezone = %s", tz)
	}
	s.Apply(ctx, Config{Enabled: false})
	if s.Snapshot().Running {
		t.Fatal("Apply(disabled) did not stop")
	}
}
