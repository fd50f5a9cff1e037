package config

import (
	"reflect"
	"sort"
	"strings"

	logx "lifejourney/pkg/logx"
)

// Summarize returns the names of the sections that differ between two
// configs and log fields describing the new values. Secrets are reported
// only as set/unset.
func Summarize(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)
	section := func(name string, differs bool, fields ...logx.Field) {
		if differs {
			changed = append(changed, name)
			attrs = append(attrs, fields...)
		}
	}

	section("logging", !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging),
		logx.String("logging.level", newCfg.Logging.Level),
		logx.Bool("logging.console", newCfg.Logging.Console),
		logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
	)
	section("storage", !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage),
		logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
		logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
	)
	section("scheduler", oldCfg.Scheduler != newCfg.Scheduler,
		logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
		logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
	)
	section("job_engine", !reflect.DeepEqual(oldCfg.JobEngine, newCfg.JobEngine) || oldCfg.EngineEnabled() != newCfg.EngineEnabled(),
		logx.Bool("job_engine.enabled", newCfg.EngineEnabled()),
		logx.Int("job_engine.workers", newCfg.JobEngine.Workers),
		logx.Int("job_engine.queue_size", newCfg.JobEngine.QueueSize),
		logx.Int("job_engine.retry_max", newCfg.JobEngine.RetryMax),
	)
	section("sweep", !reflect.DeepEqual(oldCfg.Sweep, newCfg.Sweep),
		logx.Bool("sweep.enabled", newCfg.SweepEnabled()),
		logx.String("sweep.schedule", newCfg.Sweep.Schedule),
		logx.String("sweep.timezone", newCfg.Sweep.Timezone),
	)
	section("reminders", !reflect.DeepEqual(oldCfg.Reminders, newCfg.Reminders),
		logx.Bool("reminders.enabled", newCfg.Reminders.Enabled),
		logx.String("reminders.schedule", newCfg.Reminders.Schedule),
		logx.String("reminders.quiet", newCfg.Reminders.QuietStart+"-"+newCfg.Reminders.QuietEnd),
	)
	section("notifier", oldCfg.Notifier != newCfg.Notifier,
		logx.Bool("notifier.enabled", newCfg.Notifier.Enabled),
		logx.Int("notifier.workers", newCfg.Notifier.Workers),
		logx.Int("notifier.rate_per_sec", newCfg.Notifier.RatePerSec),
		logx.Bool("notifier.persist_dedup", newCfg.Notifier.PersistDedup),
	)
	section("sms", oldCfg.SMS != newCfg.SMS,
		logx.Bool("sms.enabled", newCfg.SMS.Enabled),
		logx.String("sms.base_url", newCfg.SMS.BaseURL),
		logx.Bool("sms.auth_token_set", newCfg.SMS.AuthToken != ""),
	)
	section("telegram", oldCfg.Telegram != newCfg.Telegram,
		logx.Bool("telegram.enabled", newCfg.Telegram.Enabled),
		logx.Bool("telegram.token_set", newCfg.Telegram.Token != ""),
	)
	section("moderation", !reflect.DeepEqual(oldCfg.Moderation, newCfg.Moderation),
		logx.Bool("moderation.disabled", newCfg.Moderation.Disabled),
		logx.Int("moderation.extra_rules", len(newCfg.Moderation.Rules)),
	)
	section("ops", oldCfg.Ops != newCfg.Ops,
		logx.Bool("ops.enabled", newCfg.Ops.Enabled),
		logx.String("ops.addr", strings.TrimSpace(newCfg.Ops.Addr)),
		logx.Bool("ops.pprof", newCfg.Ops.Pprof),
		logx.Bool("ops.token_set", newCfg.Ops.Token != ""),
	)

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired lists changed sections that only take effect on restart.
func RestartRequired(sections []string) []string {
	var out []string
	for _, s := range sections {
		switch s {
		case "storage", "sms", "telegram":
			out = append(out, s)
		}
	}
	return out
}
