// Package sweep advances overdue recurring items.
//
// A run lists every item whose next occurrence is on or before today and
// moves it past today, recording the latest passed occurrence as processed.
// Writes are conditional on the item being unchanged since it was read, so a
// concurrent user edit always wins. Re-running on the same day finds nothing
// to do.
package sweep

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"lifejourney/internal/eventbus"
	"lifejourney/internal/recurrence"
	"lifejourney/internal/storage"
	logx "lifejourney/pkg/logx"
)

// ErrCatchUpLimit is reported for an item that is further behind than
// Config.MaxCatchUp occurrences.
var ErrCatchUpLimit = errors.New("catch-up limit exceeded")

const (
	TopicCompleted = "sweep.completed"

	auditActor  = "sweep"
	auditAction = "sweep.overdue"
)

type Config struct {
	// Timezone decides which civil date "today" is. Empty means UTC.
	Timezone string
	// BatchSize is the ListDue page size.
	BatchSize int
	// MaxCatchUp bounds how many occurrences one item may be advanced by in
	// a single run.
	MaxCatchUp int
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 200
	}
	if c.MaxCatchUp <= 0 {
		c.MaxCatchUp = 10000
	}
	return c
}

// Failure is one item the sweep could not advance.
type Failure struct {
	ItemID string
	Err    error
}

func (f Failure) Error() string { return f.ItemID + ": " + f.Err.Error() }

type Report struct {
	Date      time.Time // civil date the run treated as today
	Started   time.Time
	Took      time.Duration
	Scanned   int
	Advanced  int
	Conflicts int
	Failures  []Failure
}

// Observer receives every finished run, e.g. a metrics collector.
type Observer interface {
	SweepFinished(r Report)
}

type Store interface {
	storage.ItemStore
	storage.AuditStore
}

type Sweeper struct {
	cfg   Config
	loc   *time.Location
	store Store
	log   logx.Logger
	bus   eventbus.Bus
	obs   Observer
}

type Option func(*Sweeper)

func WithBus(b eventbus.Bus) Option { return func(s *Sweeper) { s.bus = b } }

func WithObserver(o Observer) Option { return func(s *Sweeper) { s.obs = o } }

func WithLogger(l logx.Logger) Option { return func(s *Sweeper) { s.log = l } }

// New validates the timezone up front so a typo fails at startup rather than
// on the first tick.
func New(cfg Config, store Store, opts ...Option) (*Sweeper, error) {
	if store == nil {
		return nil, errors.New("sweep: store required")
	}
	s := &Sweeper{cfg: cfg.withDefaults(), store: store, loc: time.UTC}
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("sweep: timezone %q: %w", tz, err)
		}
		s.loc = loc
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s, nil
}

// Today returns the civil date of now in the sweep's timezone.
func (s *Sweeper) Today(now time.Time) time.Time {
	return recurrence.DateOf(now.In(s.loc))
}

// Run performs one sweep. Per-item problems land in Report.Failures; the
// returned error is reserved for failures to list items or cancellation.
func (s *Sweeper) Run(ctx context.Context, now time.Time) (Report, error) {
	rep := Report{Date: s.Today(now), Started: time.Now()}
	err := s.run(ctx, &rep)
	rep.Took = time.Since(rep.Started)
	s.finish(ctx, rep, err)
	return rep, err
}

func (s *Sweeper) run(ctx context.Context, rep *Report) error {
	q := storage.DueQuery{Through: rep.Date, Limit: s.cfg.BatchSize}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := s.store.ListDue(ctx, q)
		if err != nil {
			return fmt.Errorf("list due items: %w", err)
		}
		for _, it := range page {
			if err := ctx.Err(); err != nil {
				return err
			}
			rep.Scanned++
			s.advance(ctx, it, rep)
		}
		if len(page) < q.Limit {
			return nil
		}
		q.AfterID = page[len(page)-1].ID
	}
}

func (s *Sweeper) advance(ctx context.Context, it storage.Item, rep *Report) {
	next, processed, err := CatchUp(it.Pattern, it.NextOccurrence, rep.Date, s.cfg.MaxCatchUp)
	if err != nil {
		s.fail(rep, it.ID, err)
		return
	}
	ok, err := s.store.AdvanceIfUnchanged(ctx, storage.Advance{
		ID:               it.ID,
		ExpectedNext:     it.NextOccurrence,
		ExpectedRevision: it.Revision,
		Next:             next,
		Processed:        processed,
	})
	switch {
	case err != nil:
		s.fail(rep, it.ID, err)
	case !ok:
		rep.Conflicts++
		s.log.Debug("item changed during sweep; skipped", logx.String("item", it.ID))
	default:
		rep.Advanced++
		s.log.Debug("item advanced",
			logx.String("item", it.ID),
			logx.Date("processed", processed),
			logx.Date("next", next),
		)
	}
}

func (s *Sweeper) fail(rep *Report, id string, err error) {
	rep.Failures = append(rep.Failures, Failure{ItemID: id, Err: err})
	s.log.Warn("sweep item failed", logx.String("item", id), logx.Err(err))
}

// CatchUp steps from next until the occurrence lies after today. It returns
// the new next occurrence and the latest occurrence that was passed.
func CatchUp(p recurrence.Pattern, next, today time.Time, limit int) (newNext, processed time.Time, err error) {
	cur := recurrence.DateOf(next)
	if cur.After(today) {
		return cur, time.Time{}, nil
	}
	for steps := 0; !cur.After(today); steps++ {
		if limit > 0 && steps >= limit {
			return time.Time{}, time.Time{}, fmt.Errorf("%w (%d)", ErrCatchUpLimit, limit)
		}
		processed = cur
		if cur, err = recurrence.Next(p, cur); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	return cur, processed, nil
}

type auditMeta struct {
	Date      string   `json:"date"`
	Scanned   int      `json:"scanned"`
	Conflicts int      `json:"conflicts"`
	Failures  []string `json:"failures,omitempty"`
}

func (s *Sweeper) finish(ctx context.Context, rep Report, runErr error) {
	fields := []logx.Field{
		logx.Date("date", rep.Date),
		logx.Int("scanned", rep.Scanned),
		logx.Int("advanced", rep.Advanced),
		logx.Int("conflicts", rep.Conflicts),
		logx.Int("failed", len(rep.Failures)),
		logx.Duration("took", rep.Took),
	}
	if runErr != nil {
		s.log.Error("sweep aborted", append(fields, logx.Err(runErr))...)
	} else {
		s.log.Info("sweep finished", fields...)
	}

	if s.obs != nil {
		s.obs.SweepFinished(rep)
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: TopicCompleted, Data: rep})
	}

	meta := auditMeta{Date: rep.Date.Format(time.DateOnly), Scanned: rep.Scanned, Conflicts: rep.Conflicts}
	for _, f := range rep.Failures {
		meta.Failures = append(meta.Failures, f.Error())
	}
	b, _ := json.Marshal(meta)
	entry := storage.AuditEntry{
		At:       rep.Started.UTC(),
		Actor:    auditActor,
		Action:   auditAction,
		Target:   meta.Date,
		OK:       rep.Advanced,
		Fail:     len(rep.Failures),
		TookMS:   rep.Took.Milliseconds(),
		MetaJSON: string(b),
	}
	if runErr != nil {
		entry.Error = runErr.Error()
	}
	// Record the run even when ctx ended it.
	if err := s.store.AppendAudit(context.WithoutCancel(ctx), entry); err != nil {
		s.log.Warn("sweep audit write failed", logx.Err(err))
	}
}
