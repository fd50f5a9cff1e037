// Package engine executes named jobs on a bounded worker pool with overlap
// protection, retry with jittered exponential backoff and a per-job circuit
// breaker.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"lifejourney/internal/eventbus"
	rtsup "lifejourney/internal/runtime/supervisor"
	logx "lifejourney/pkg/logx"
)

const warnThrottleEvery = 5 * time.Second

type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus
	obs Observer

	q      chan queued
	sup    *rtsup.Supervisor
	stopCh chan struct{}

	inFlight atomic.Int32

	stateMu sync.Mutex
	states  map[string]*runState

	circuits circuitStore

	hmu     sync.Mutex
	history []HistoryItem

	idSeq atomic.Uint64

	dropped          atomic.Uint64
	droppedQueueFull atomic.Uint64
	droppedStale     atomic.Uint64

	lastQueueFullWarnAt atomic.Int64
	lastStaleWarnAt     atomic.Int64
}

type queued struct {
	job        Job
	enqueuedAt time.Time
	timeout    time.Duration
	opt        Options
	state      *runState
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus, obs Observer) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    withDefaults(cfg),
		log:    log,
		bus:    bus,
		obs:    obs,
		states: make(map[string]*runState),
	}
}

func withDefaults(cfg Config) Config {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.RetryMax == 0 {
		cfg.RetryMax = 3
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 200
	}
	if cfg.CircuitTripFailures == 0 {
		cfg.CircuitTripFailures = 5
	}
	if cfg.CircuitBaseDelay <= 0 {
		cfg.CircuitBaseDelay = 5 * time.Second
	}
	if cfg.CircuitMaxDelay <= 0 {
		cfg.CircuitMaxDelay = 2 * time.Minute
	}
	if cfg.CircuitResetAfter <= 0 {
		cfg.CircuitResetAfter = 5 * time.Minute
	}
	return cfg
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the configuration, restarting workers if the pool shape changed.
func (s *Service) Apply(ctx context.Context, cfg Config) {
	cfg = withDefaults(cfg)
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	running := s.stopCh != nil
	s.mu.Unlock()

	switch {
	case !running:
		s.Start(ctx)
	case !cfg.Enabled || prev.Workers != cfg.Workers || prev.QueueSize != cfg.QueueSize:
		s.Stop(ctx)
		s.Start(ctx)
	}
}

// Start launches the worker pool. It is idempotent.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.stopCh != nil {
		return
	}

	s.q = make(chan queued, s.cfg.QueueSize)
	s.stopCh = make(chan struct{})
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		rtsup.WithCancelOnError(false),
	)
	stopCh, queue, sup := s.stopCh, s.q, s.sup

	for i := 0; i < s.cfg.Workers; i++ {
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.worker(c, stopCh, queue)
			select {
			case <-stopCh:
				return nil
			default:
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("worker exited unexpectedly")
		})
	}
	s.log.Info("job engine started", logx.Int("workers", s.cfg.Workers), logx.Int("queue", s.cfg.QueueSize))
}

// Stop signals the workers and waits for running jobs, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	sup, q := s.sup, s.q
	s.q, s.stopCh, s.sup = nil, nil, nil
	s.mu.Unlock()

	sup.Cancel()
	err := sup.Wait(ctx)
	// Jobs still queued will never run; free their overlap slots.
	for {
		select {
		case qj := <-q:
			if qj.state != nil {
				qj.state.release()
			}
			continue
		default:
		}
		break
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.log.Warn("job engine stop timed out", logx.Err(err))
		return
	}
	s.log.Info("job engine stopped")
}

// Enqueue queues a job without blocking; a full queue drops it.
func (s *Service) Enqueue(j Job) error {
	return s.enqueue(context.Background(), j, false)
}

// Submit blocks until the job is queued, ctx ends or the engine stops.
func (s *Service) Submit(ctx context.Context, j Job) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.enqueue(ctx, j, true)
}

func (s *Service) enqueue(ctx context.Context, j Job, block bool) error {
	if j.Run == nil {
		return errors.New("job Run is nil")
	}
	j.Name = strings.TrimSpace(j.Name)
	if j.Name == "" {
		return errors.New("job Name is required")
	}
	now := time.Now()
	if strings.TrimSpace(j.ID) == "" {
		j.ID = fmt.Sprintf("job-%x-%x", now.UnixNano(), s.idSeq.Add(1))
	}

	s.mu.Lock()
	cfg, q, stopCh := s.cfg, s.q, s.stopCh
	s.mu.Unlock()

	if !cfg.Enabled {
		return ErrDisabled
	}
	if q == nil || stopCh == nil {
		return ErrStopped
	}

	timeout := j.Timeout
	if timeout <= 0 {
		timeout = cfg.DefaultTimeout
	}
	opt := j.Opt.withDefaults(cfg)

	if open, until := s.circuitIsOpen(now, j.Name, cfg, opt); open {
		s.publish(TopicSkipped, Event{ID: j.ID, Name: j.Name, Started: now, Error: "circuit_open"})
		s.log.Debug("job skipped: circuit open", logx.String("job", j.Name), logx.Time("until", until))
		s.record(cfg, HistoryItem{ID: j.ID, Name: j.Name, Started: now, Error: "circuit_open"})
		return ErrCircuitOpen
	}

	var st *runState
	if opt.Overlap == OverlapSkipIfRunning {
		st = s.stateFor(j.Name)
		if !st.tryAcquire() {
			s.publish(TopicSkipped, Event{ID: j.ID, Name: j.Name, Started: now, Error: "overlap_skip"})
			s.log.Debug("job skipped due to overlap", logx.String("job", j.Name))
			return ErrOverlapSkip
		}
	}

	qj := queued{job: j, enqueuedAt: now, timeout: timeout, opt: opt, state: st}
	release := func() {
		if st != nil {
			st.release()
		}
	}

	if !block {
		select {
		case q <- qj:
			return nil
		default:
			release()
			s.onDropped(now, j, "queue_full", 0, &s.droppedQueueFull, &s.lastQueueFullWarnAt)
			return ErrQueueFull
		}
	}
	select {
	case q <- qj:
		return nil
	case <-ctx.Done():
		release()
		return ctx.Err()
	case <-stopCh:
		release()
		return ErrStopping
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg, q := s.cfg, s.q
	s.mu.Unlock()

	snap := Snapshot{
		Enabled:          cfg.Enabled,
		Workers:          cfg.Workers,
		InFlight:         int(s.inFlight.Load()),
		Dropped:          s.dropped.Load(),
		DroppedQueueFull: s.droppedQueueFull.Load(),
		DroppedStale:     s.droppedStale.Load(),
		DefaultTimeout:   cfg.DefaultTimeout,
		MaxQueueDelay:    cfg.MaxQueueDelay,
		RetryMax:         cfg.RetryMax,
	}
	if q != nil {
		snap.QueueLen, snap.QueueCap = len(q), cap(q)
	}
	snap.CircuitTotal, snap.CircuitOpen = s.circuitSnapshot(time.Now(), cfg)

	s.hmu.Lock()
	snap.History = append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return snap
}

func (s *Service) stateFor(name string) *runState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	st := s.states[name]
	if st == nil {
		st = &runState{}
		s.states[name] = st
	}
	return st
}

func (s *Service) record(cfg Config, item HistoryItem) {
	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > cfg.HistorySize {
		s.history = s.history[len(s.history)-cfg.HistorySize:]
	}
	s.hmu.Unlock()
}

func (s *Service) publish(topic string, e Event) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: topic, Data: e})
}

func (s *Service) shouldWarn(last *atomic.Int64, now time.Time) bool {
	prev := last.Load()
	n := now.UnixNano()
	if prev != 0 && n-prev < int64(warnThrottleEvery) {
		return false
	}
	return last.CompareAndSwap(prev, n)
}

func (s *Service) onDropped(now time.Time, j Job, reason string, queueDelay time.Duration, counter *atomic.Uint64, lastWarn *atomic.Int64) {
	s.dropped.Add(1)
	n := counter.Add(1)
	s.publish(TopicDropped, Event{ID: j.ID, Name: j.Name, Started: now, QueueDelay: queueDelay, Error: reason})
	if s.obs != nil {
		s.obs.JobDropped(j.Name, reason)
	}
	if s.shouldWarn(lastWarn, now) {
		s.log.Warn("job dropped",
			logx.String("job", j.Name),
			logx.String("reason", reason),
			logx.Duration("queue_delay", queueDelay),
			logx.Uint64("dropped_total", n),
		)
	}
}
