package engine

import (
	"context"
	"sync"
	"time"
)

// Config controls the job engine. The trigger service only enqueues; every
// execution setting lives here.
type Config struct {
	Enabled   bool
	Workers   int
	QueueSize int

	// DefaultTimeout applies when Job.Timeout is 0.
	DefaultTimeout time.Duration

	// MaxQueueDelay drops jobs queued longer than this. 0 disables it.
	MaxQueueDelay time.Duration

	HistorySize int
	RetryMax    int

	// Consecutive-failure circuit breaker. CircuitTripFailures < 0 disables
	// it; 0 applies the default.
	CircuitTripFailures int
	CircuitBaseDelay    time.Duration
	CircuitMaxDelay     time.Duration
	CircuitResetAfter   time.Duration
}

type OverlapPolicy int

const (
	OverlapSkipIfRunning OverlapPolicy = iota
	OverlapAllow
)

type Options struct {
	Overlap       OverlapPolicy
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	RetryJitter   float64 // 0.2 = 20%

	// CircuitTripFailures overrides the engine threshold. < 0 disables the
	// breaker for this job.
	CircuitTripFailures int
}

func (o Options) withDefaults(cfg Config) Options {
	if o.RetryMax == 0 {
		o.RetryMax = cfg.RetryMax
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 500 * time.Millisecond
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = 15 * time.Second
	}
	if o.RetryJitter <= 0 {
		o.RetryJitter = 0.2
	}
	if o.Overlap != OverlapAllow {
		o.Overlap = OverlapSkipIfRunning
	}
	return o
}

// runState gates overlap: a job counts as running from enqueue until its
// last attempt finishes, so a fast trigger cannot pile up queued copies.
type runState struct {
	mu       sync.Mutex
	inflight int
}

func (s *runState) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight > 0 {
		return false
	}
	s.inflight++
	return true
}

func (s *runState) release() {
	s.mu.Lock()
	if s.inflight > 0 {
		s.inflight--
	}
	s.mu.Unlock()
}

type HistoryItem struct {
	ID         string
	Name       string
	Started    time.Time
	QueueDelay time.Duration
	Duration   time.Duration
	Attempts   int
	Error      string
}

// Event is the payload of job.* bus events.
type Event struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Attempts   int           `json:"attempts"`
	Error      string        `json:"error,omitempty"`
}

// Bus topics.
const (
	TopicStarted  = "job.started"
	TopicFinished = "job.finished"
	TopicFailed   = "job.failed"
	TopicSkipped  = "job.skipped"
	TopicDropped  = "job.dropped"
)

// Job is a unit of work. Jobs with the same Name share overlap and
// circuit-breaker state.
type Job struct {
	ID      string
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
	Opt     Options
}

// Observer receives the final outcome of every executed job.
type Observer interface {
	JobFinished(name string, dur time.Duration, attempts int, err error)
	JobDropped(name, reason string)
}

type Snapshot struct {
	Enabled  bool
	Workers  int
	QueueLen int
	QueueCap int
	InFlight int

	Dropped          uint64
	DroppedQueueFull uint64
	DroppedStale     uint64

	DefaultTimeout time.Duration
	MaxQueueDelay  time.Duration
	RetryMax       int

	CircuitTotal int
	CircuitOpen  int

	History []HistoryItem
}
