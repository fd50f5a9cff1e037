package trigger

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"lifejourney/internal/eventbus"
	"lifejourney/internal/jobs/engine"
	logx "lifejourney/pkg/logx"
)

type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Europe/Berlin"; empty means Local
}

// Enqueuer is the part of the job engine the trigger needs.
type Enqueuer interface {
	Enqueue(j engine.Job) error
}

// Bus topic published on every trigger attempt.
const TopicFired = "job.triggered"

// FiredEvent is the payload of TopicFired.
type FiredEvent struct {
	Name  string    `json:"name"`
	At    time.Time `json:"at"`
	Error string    `json:"error,omitempty"`
}

type scheduleDef struct {
	name          string
	spec          string // cron spec or "@every <d>"
	timeout       time.Duration
	run           func(ctx context.Context) error
	opt           engine.Options
	entryID       cron.EntryID
	startupSpread time.Duration
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus
	eng Enqueuer

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef

	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

type ScheduleInfo struct {
	Name          string
	Spec          string
	Timeout       time.Duration
	StartupSpread time.Duration
	Next          time.Time
	Prev          time.Time
}

type Snapshot struct {
	Enabled   bool
	Running   bool
	Timezone  string
	Schedules []ScheduleInfo
}
