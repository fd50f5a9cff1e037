// Package reminders sends "due today" messages for recurring items.
//
// A run looks at every item whose next occurrence is today in its owner's
// timezone and queues one message per channel the owner can be reached on.
// Each message carries a key derived from (item, date, channel), so
// repeating a run the same day, or after a restart, sends nothing new.
// Item titles are moderated before they leave the process.
package reminders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"lifejourney/internal/eventbus"
	"lifejourney/internal/moderation"
	"lifejourney/internal/notifier"
	"lifejourney/internal/recurrence"
	"lifejourney/internal/storage"
	logx "lifejourney/pkg/logx"
)

const TopicDispatched = "reminders.dispatched"

type Config struct {
	// Timezone applies to owners without one. Empty means UTC.
	Timezone string
	// QuietStart and QuietEnd ("HH:MM", owner local time) bound a window in
	// which nothing is sent. Equal values disable it.
	QuietStart string
	QuietEnd   string
	// Channels in preference order. Empty means sms then telegram.
	Channels      []string
	MaxTitleRunes int
	BatchSize     int
}

func (c Config) withDefaults() Config {
	if len(c.Channels) == 0 {
		c.Channels = []string{notifier.ChannelSMS, notifier.ChannelTelegram}
	}
	if c.MaxTitleRunes <= 0 {
		c.MaxTitleRunes = 80
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 200
	}
	return c
}

// Notifier queues outbound messages.
type Notifier interface {
	Notify(ctx context.Context, m notifier.Message) error
}

type Store interface {
	storage.ItemStore
	storage.OwnerStore
	storage.AuditStore
}

// Observer receives every finished run.
type Observer interface {
	RemindersDispatched(r Report)
}

type Failure struct {
	ItemID  string
	Channel string
	Err     error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s/%s: %v", f.ItemID, f.Channel, f.Err)
}

type Report struct {
	Started time.Time
	Took    time.Duration
	// Considered counts items due today for an owner with reminders on.
	Considered int
	Queued     int
	Deduped    int
	Quiet      int
	Moderated  int
	// Unreachable counts items whose owner has no usable channel.
	Unreachable int
	Failures    []Failure
}

type Planner struct {
	cfg        Config
	loc        *time.Location
	quiet      quietHours
	store      Store
	notify     Notifier
	classifier *moderation.Classifier
	log        logx.Logger
	bus        eventbus.Bus
	obs        Observer
}

type Option func(*Planner)

func WithBus(b eventbus.Bus) Option { return func(p *Planner) { p.bus = b } }

func WithObserver(o Observer) Option { return func(p *Planner) { p.obs = o } }

func WithLogger(l logx.Logger) Option { return func(p *Planner) { p.log = l } }

// New builds a planner. A nil classifier forwards titles unmoderated.
func New(cfg Config, store Store, n Notifier, classifier *moderation.Classifier, opts ...Option) (*Planner, error) {
	if store == nil || n == nil {
		return nil, errors.New("reminders: store and notifier required")
	}
	cfg = cfg.withDefaults()
	p := &Planner{cfg: cfg, loc: time.UTC, store: store, notify: n, classifier: classifier}
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("reminders: timezone %q: %w", tz, err)
		}
		p.loc = loc
	}
	q, err := parseQuietHours(cfg.QuietStart, cfg.QuietEnd)
	if err != nil {
		return nil, fmt.Errorf("reminders: %w", err)
	}
	p.quiet = q
	for _, o := range opts {
		o(p)
	}
	if p.log.IsZero() {
		p.log = logx.Nop()
	}
	return p, nil
}

// Key is the dedup key of the reminder for item on date over channel.
func Key(itemID string, date time.Time, channel string) string {
	return "reminder:" + itemID + ":" + date.Format(time.DateOnly) + ":" + channel
}

// Run queues today's reminders. Only a failure to list items is returned;
// per-message problems are collected in the report.
func (p *Planner) Run(ctx context.Context, now time.Time) (Report, error) {
	rep := Report{Started: time.Now()}
	err := p.run(ctx, now, &rep)
	rep.Took = time.Since(rep.Started)
	p.finish(ctx, rep, err)
	return rep, err
}

func (p *Planner) run(ctx context.Context, now time.Time, rep *Report) error {
	// No zone is more than 14h ahead of UTC, so this covers every owner's today.
	q := storage.DueQuery{Through: recurrence.DateOf(now.UTC().Add(14 * time.Hour)), Limit: p.cfg.BatchSize}
	owners := map[string]*ownerView{}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := p.store.ListDue(ctx, q)
		if err != nil {
			return fmt.Errorf("list due items: %w", err)
		}
		for _, it := range page {
			ov, err := p.owner(ctx, owners, it.OwnerID)
			if err != nil {
				rep.Failures = append(rep.Failures, Failure{ItemID: it.ID, Err: err})
				continue
			}
			if ov == nil {
				continue
			}
			local := now.In(ov.loc)
			if !it.NextOccurrence.Equal(recurrence.DateOf(local)) {
				continue
			}
			rep.Considered++
			if p.quiet.contains(local) {
				rep.Quiet++
				continue
			}
			p.dispatch(ctx, it, ov, rep)
		}
		if len(page) < q.Limit {
			return nil
		}
		q.AfterID = page[len(page)-1].ID
	}
}

type ownerView struct {
	storage.Owner
	loc *time.Location
}

// owner loads and caches an owner for one run. It returns nil for owners
// that do not want reminders.
func (p *Planner) owner(ctx context.Context, cache map[string]*ownerView, id string) (*ownerView, error) {
	if ov, ok := cache[id]; ok {
		return ov, nil
	}
	o, err := p.store.GetOwner(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		cache[id] = nil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load owner %s: %w", id, err)
	}
	if !o.RemindersEnabled {
		cache[id] = nil
		return nil, nil
	}
	ov := &ownerView{Owner: o, loc: p.loc}
	if tz := strings.TrimSpace(o.Timezone); tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			ov.loc = loc
		} else {
			p.log.Warn("owner timezone invalid; using default", logx.String("owner", id), logx.String("tz", tz))
		}
	}
	cache[id] = ov
	return ov, nil
}

func (p *Planner) dispatch(ctx context.Context, it storage.Item, ov *ownerView, rep *Report) {
	text, moderated := p.compose(it)
	if moderated {
		rep.Moderated++
	}
	reached := false
	for _, ch := range p.cfg.Channels {
		to := address(ov.Owner, ch)
		if to == "" {
			continue
		}
		reached = true
		err := p.notify.Notify(ctx, notifier.Message{
			Channel: ch,
			To:      to,
			Text:    text,
			Key:     Key(it.ID, it.NextOccurrence, ch),
		})
		switch {
		case err == nil:
			rep.Queued++
		case errors.Is(err, notifier.ErrDeduped):
			rep.Deduped++
		default:
			rep.Failures = append(rep.Failures, Failure{ItemID: it.ID, Channel: ch, Err: err})
			p.log.Warn("reminder not queued", logx.String("item", it.ID), logx.String("channel", ch), logx.Err(err))
		}
	}
	if !reached {
		rep.Unreachable++
	}
}

func address(o storage.Owner, channel string) string {
	switch channel {
	case notifier.ChannelSMS:
		if notifier.ValidPhone(o.Phone) {
			return o.Phone
		}
	case notifier.ChannelTelegram:
		if o.TelegramChatID != 0 {
			return strconv.FormatInt(o.TelegramChatID, 10)
		}
	}
	return ""
}

// compose renders the reminder text. A title the classifier blocks is
// replaced by a generic line; moderated reports that replacement.
func (p *Planner) compose(it storage.Item) (text string, moderated bool) {
	noun := "task"
	if it.Kind == storage.KindEvent {
		noun = "event"
	}
	title := moderation.Sanitize(it.Title, p.cfg.MaxTitleRunes)
	if title != "" && p.classifier != nil {
		if v := p.classifier.Classify(it.Title); v.Blocked() {
			p.log.Info("reminder title blocked",
				logx.String("item", it.ID),
				logx.String("rule", v.Rule),
				logx.String("category", string(v.Category)),
			)
			title, moderated = "", true
		}
	}
	if title == "" {
		return fmt.Sprintf("Reminder: you have a recurring %s due today.", noun), moderated
	}
	return fmt.Sprintf("Reminder: %q is due today.", title), moderated
}

type auditMeta struct {
	Considered  int      `json:"considered"`
	Deduped     int      `json:"deduped"`
	Quiet       int      `json:"quiet"`
	Moderated   int      `json:"moderated"`
	Unreachable int      `json:"unreachable"`
	Failures    []string `json:"failures,omitempty"`
}

func (p *Planner) finish(ctx context.Context, rep Report, runErr error) {
	fields := []logx.Field{
		logx.Int("considered", rep.Considered),
		logx.Int("queued", rep.Queued),
		logx.Int("deduped", rep.Deduped),
		logx.Int("quiet", rep.Quiet),
		logx.Int("failed", len(rep.Failures)),
		logx.Duration("took", rep.Took),
	}
	if runErr != nil {
		p.log.Error("reminder run aborted", append(fields, logx.Err(runErr))...)
	} else {
		p.log.Info("reminder run finished", fields...)
	}
	if p.obs != nil {
		p.obs.RemindersDispatched(rep)
	}
	if p.bus != nil {
		p.bus.Publish(eventbus.Event{Type: TopicDispatched, Data: rep})
	}

	meta := auditMeta{
		Considered:  rep.Considered,
		Deduped:     rep.Deduped,
		Quiet:       rep.Quiet,
		Moderated:   rep.Moderated,
		Unreachable: rep.Unreachable,
	}
	for _, f := range rep.Failures {
		meta.Failures = append(meta.Failures, f.Error())
	}
	b, _ := json.Marshal(meta)
	entry := storage.AuditEntry{
		At:       rep.Started.UTC(),
		Actor:    "reminders",
		Action:   "reminders.dispatch",
		OK:       rep.Queued,
		Fail:     len(rep.Failures),
		TookMS:   rep.Took.Milliseconds(),
		MetaJSON: string(b),
	}
	if runErr != nil {
		entry.Error = runErr.Error()
	}
	if err := p.store.AppendAudit(context.WithoutCancel(ctx), entry); err != nil {
		p.log.Warn("reminder audit write failed", logx.Err(err))
	}
}
