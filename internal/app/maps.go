package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"lifejourney/internal/config"
	"lifejourney/internal/jobs/engine"
	"lifejourney/internal/jobs/trigger"
	"lifejourney/internal/moderation"
	"lifejourney/internal/notifier"
	"lifejourney/internal/observability/ops"
	"lifejourney/internal/reminders"
	"lifejourney/internal/storage"
	"lifejourney/internal/sweep"
	logx "lifejourney/pkg/logx"
)

// Default schedules. The sweep advances items due today, so it runs at the
// end of the day rather than the start.
const (
	DefaultSweepSchedule     = "50 23 * * *"
	DefaultRemindersSchedule = "0 8 * * *"
)

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorage(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "sqlite", "sqlite3":
		if path == "" {
			path = "./lifejourney.db"
		}
		busy, err := config.DurationOr("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	case "memory", "mem":
		return storage.Config{Driver: "memory"}, nil
	case "none":
		return storage.Config{}, fmt.Errorf("storage.driver: items need a store; use sqlite or memory")
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapEngine(cfg *config.Config) (engine.Config, error) {
	je := cfg.JobEngine
	if cfg.Scheduler.Enabled && je.Enabled != nil && !*je.Enabled {
		return engine.Config{}, fmt.Errorf("job_engine.enabled cannot be false while scheduler.enabled is true")
	}
	if je.Workers < 0 || je.QueueSize < 0 || je.HistorySize < 0 || je.RetryMax < 0 {
		return engine.Config{}, fmt.Errorf("job_engine: workers, queue_size, history_size and retry_max must be >= 0")
	}
	defTimeout, err := config.Duration("job_engine.default_timeout", je.DefaultTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	maxDelay, err := config.Duration("job_engine.max_queue_delay", je.MaxQueueDelay)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Enabled:             cfg.EngineEnabled(),
		Workers:             je.Workers,
		QueueSize:           je.QueueSize,
		DefaultTimeout:      defTimeout,
		MaxQueueDelay:       maxDelay,
		HistorySize:         je.HistorySize,
		RetryMax:            je.RetryMax,
		CircuitTripFailures: je.CircuitTripFailures,
	}, nil
}

func mapTrigger(cfg *config.Config) (trigger.Config, error) {
	tz := strings.TrimSpace(cfg.Scheduler.Timezone)
	if err := checkTimezone("scheduler.timezone", tz); err != nil {
		return trigger.Config{}, err
	}
	return trigger.Config{Enabled: cfg.Scheduler.Enabled, Timezone: tz}, nil
}

// jobSpec is a resolved schedule for one of the app's jobs.
type jobSpec struct {
	enabled  bool
	schedule string
	timeout  time.Duration
}

func mapSweep(cfg *config.Config) (sweep.Config, jobSpec, error) {
	sc := cfg.Sweep
	tz := strings.TrimSpace(sc.Timezone)
	if tz == "" {
		tz = strings.TrimSpace(cfg.Scheduler.Timezone)
	}
	if err := checkTimezone("sweep.timezone", tz); err != nil {
		return sweep.Config{}, jobSpec{}, err
	}
	if sc.BatchSize < 0 || sc.MaxCatchUp < 0 {
		return sweep.Config{}, jobSpec{}, fmt.Errorf("sweep: batch_size and max_catch_up must be >= 0")
	}
	spec, err := schedule("sweep.schedule", sc.Schedule, DefaultSweepSchedule)
	if err != nil {
		return sweep.Config{}, jobSpec{}, err
	}
	timeout, err := config.DurationOr("sweep.timeout", sc.Timeout, 10*time.Minute)
	if err != nil {
		return sweep.Config{}, jobSpec{}, err
	}
	return sweep.Config{Timezone: tz, BatchSize: sc.BatchSize, MaxCatchUp: sc.MaxCatchUp},
		jobSpec{enabled: cfg.SweepEnabled(), schedule: spec, timeout: timeout}, nil
}

func mapReminders(cfg *config.Config) (reminders.Config, jobSpec, error) {
	rc := cfg.Reminders
	tz := strings.TrimSpace(rc.Timezone)
	if tz == "" {
		tz = strings.TrimSpace(cfg.Scheduler.Timezone)
	}
	if err := checkTimezone("reminders.timezone", tz); err != nil {
		return reminders.Config{}, jobSpec{}, err
	}
	for _, ch := range rc.Channels {
		if ch != notifier.ChannelSMS && ch != notifier.ChannelTelegram {
			return reminders.Config{}, jobSpec{}, fmt.Errorf("reminders.channels: unknown channel %q", ch)
		}
	}
	spec, err := schedule("reminders.schedule", rc.Schedule, DefaultRemindersSchedule)
	if err != nil {
		return reminders.Config{}, jobSpec{}, err
	}
	timeout, err := config.DurationOr("reminders.timeout", rc.Timeout, 5*time.Minute)
	if err != nil {
		return reminders.Config{}, jobSpec{}, err
	}
	return reminders.Config{
			Timezone:      tz,
			QuietStart:    rc.QuietStart,
			QuietEnd:      rc.QuietEnd,
			Channels:      rc.Channels,
			MaxTitleRunes: rc.MaxTitleRunes,
		},
		jobSpec{enabled: rc.Enabled, schedule: spec, timeout: timeout}, nil
}

func mapNotifier(cfg *config.Config) (notifier.Config, error) {
	nc := cfg.Notifier
	if nc.Workers < 0 || nc.QueueSize < 0 || nc.RatePerSec < 0 || nc.RetryMax < 0 || nc.DedupMaxEntries < 0 {
		return notifier.Config{}, fmt.Errorf("notifier: numeric settings must be >= 0")
	}
	var (
		out = notifier.Config{
			Enabled:         nc.Enabled,
			Workers:         nc.Workers,
			QueueSize:       nc.QueueSize,
			RatePerSec:      nc.RatePerSec,
			RetryMax:        nc.RetryMax,
			DedupMaxEntries: nc.DedupMaxEntries,
			PersistDedup:    nc.PersistDedup,
		}
		err error
	)
	if out.RetryBase, err = config.Duration("notifier.retry_base", nc.RetryBase); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay, err = config.Duration("notifier.retry_max_delay", nc.RetryMaxDelay); err != nil {
		return notifier.Config{}, err
	}
	if out.SendTimeout, err = config.Duration("notifier.send_timeout", nc.SendTimeout); err != nil {
		return notifier.Config{}, err
	}
	// Reminder keys span a whole day, so the default window must too.
	if out.DedupWindow, err = config.DurationOr("notifier.dedup_window", nc.DedupWindow, 36*time.Hour); err != nil {
		return notifier.Config{}, err
	}
	return out, nil
}

func mapGateways(cfg *config.Config) ([]notifier.Gateway, error) {
	var gws []notifier.Gateway
	if cfg.SMS.Enabled {
		timeout, err := config.Duration("sms.timeout", cfg.SMS.Timeout)
		if err != nil {
			return nil, err
		}
		g, err := notifier.NewSMS(notifier.SMSConfig{
			BaseURL:    cfg.SMS.BaseURL,
			AccountSID: cfg.SMS.AccountSID,
			AuthToken:  cfg.SMS.AuthToken,
			From:       cfg.SMS.From,
			Timeout:    timeout,
		})
		if err != nil {
			return nil, err
		}
		gws = append(gws, g)
	}
	if cfg.Telegram.Enabled {
		timeout, err := config.Duration("telegram.timeout", cfg.Telegram.Timeout)
		if err != nil {
			return nil, err
		}
		g, err := notifier.NewTelegram(notifier.TelegramConfig{
			Token:   cfg.Telegram.Token,
			APIURL:  cfg.Telegram.APIURL,
			Timeout: timeout,
		})
		if err != nil {
			return nil, err
		}
		gws = append(gws, g)
	}
	return gws, nil
}

// mapModeration returns nil when moderation is disabled.
func mapModeration(cfg *config.Config) (*moderation.Classifier, error) {
	if cfg.Moderation.Disabled {
		return nil, nil
	}
	extra := make([]moderation.Rule, 0, len(cfg.Moderation.Rules))
	for _, r := range cfg.Moderation.Rules {
		extra = append(extra, moderation.Rule{
			Name:     r.Name,
			Category: moderation.Category(r.Category),
			Action:   moderation.Action(strings.ToLower(strings.TrimSpace(r.Action))),
			Pattern:  r.Pattern,
		})
	}
	c, err := moderation.NewDefault(extra...)
	if err != nil {
		return nil, fmt.Errorf("moderation.rules: %w", err)
	}
	return c, nil
}

func mapOps(cfg *config.Config) (ops.Config, error) {
	oc := cfg.Ops
	out := ops.Config{
		Enabled:              oc.Enabled,
		Addr:                 oc.Addr,
		Token:                oc.Token,
		AllowInsecure:        oc.AllowInsecure,
		Pprof:                oc.Pprof,
		PprofPrefix:          oc.PprofPrefix,
		MutexProfileFraction: oc.MutexProfileFraction,
		BlockProfileRate:     oc.BlockProfileRate,
	}
	var err error
	if out.ReadTimeout, err = config.DurationOr("ops.read_timeout", oc.ReadTimeout, 10*time.Second); err != nil {
		return ops.Config{}, err
	}
	if out.WriteTimeout, err = config.Duration("ops.write_timeout", oc.WriteTimeout); err != nil {
		return ops.Config{}, err
	}
	if out.IdleTimeout, err = config.DurationOr("ops.idle_timeout", oc.IdleTimeout, time.Minute); err != nil {
		return ops.Config{}, err
	}
	return out, nil
}

// Validate checks every section the way a reload would apply it.
func Validate(_ context.Context, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if _, err := mapStorage(cfg); err != nil {
		return err
	}
	if _, err := mapEngine(cfg); err != nil {
		return err
	}
	if _, err := mapTrigger(cfg); err != nil {
		return err
	}
	if _, _, err := mapSweep(cfg); err != nil {
		return err
	}
	rc, _, err := mapReminders(cfg)
	if err != nil {
		return err
	}
	if _, err := reminders.New(rc, storage.NewMemory(), nopNotifier{}, nil); err != nil {
		return err
	}
	if _, err := mapNotifier(cfg); err != nil {
		return err
	}
	if _, err := mapModeration(cfg); err != nil {
		return err
	}
	if _, err := mapOps(cfg); err != nil {
		return err
	}
	return nil
}

func checkTimezone(path, tz string) error {
	if tz == "" {
		return nil
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return fmt.Errorf("%s: invalid %q: %w", path, tz, err)
	}
	return nil
}

func schedule(path, raw, def string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		s = def
	}
	if _, err := trigger.ParseSchedule(s); err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, notifier.Message) error { return nil }
