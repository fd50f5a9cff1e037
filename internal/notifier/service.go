package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"lifejourney/internal/eventbus"
	rtsup "lifejourney/internal/runtime/supervisor"
	"lifejourney/internal/storage"
	logx "lifejourney/pkg/logx"
)

var (
	ErrDisabled       = errors.New("notifier disabled")
	ErrQueueFull      = errors.New("notifier queue full")
	ErrStopped        = errors.New("notifier stopped")
	ErrUnknownChannel = errors.New("notifier: no gateway for channel")
	// ErrDeduped is returned by Notify when the message was suppressed.
	ErrDeduped = errors.New("notifier: duplicate suppressed")
)

type job struct {
	m   Message
	key string
}

// Service implements an async notification pipeline:
// queue + worker pool + rate limit + retry + dedup.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log      logx.Logger
	gateways map[string]Gateway
	bus      eventbus.Bus
	store    storage.DedupStore
	obs      Observer

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan job
	sup      *rtsup.Supervisor
	stopDone chan struct{} // non-nil while stopping

	dmu   sync.Mutex
	dedup map[string]time.Time

	persistCh chan dedupWrite

	hmu     sync.Mutex
	history []HistoryItem
}

type Option func(*Service)

func WithBus(b eventbus.Bus) Option { return func(s *Service) { s.bus = b } }

func WithObserver(o Observer) Option { return func(s *Service) { s.obs = o } }

// WithDedupStore enables cross-restart dedup when Config.PersistDedup is set.
func WithDedupStore(st storage.DedupStore) Option { return func(s *Service) { s.store = st } }

func New(cfg Config, log logx.Logger, gateways []Gateway, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:      log,
		gateways: map[string]Gateway{},
		dedup:    map[string]time.Time{},
	}
	for _, g := range gateways {
		if g != nil {
			s.gateways[g.Channel()] = g
		}
	}
	for _, o := range opts {
		o(s)
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Channels lists channels with a configured gateway.
func (s *Service) Channels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.gateways))
	for c := range s.gateways {
		out = append(out, c)
	}
	return out
}

// Apply swaps runtime knobs. Workers and QueueSize take effect on the next
// Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 512
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 2000
	}
	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start launches the workers. It is idempotent and a no-op when disabled.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	if s.cfg.PersistDedup && s.store != nil {
		s.persistCh = make(chan dedupWrite, 1024)
	}
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		// Delivery failures must not take the app down.
		rtsup.WithCancelOnError(false),
	)
	sup, q, pch, workers := s.sup, s.queue, s.persistCh, s.cfg.Workers
	s.mu.Unlock()

	exit := func(c context.Context, what string) error {
		s.mu.Lock()
		stopping := s.stopDone != nil
		s.mu.Unlock()
		if stopping {
			return nil
		}
		if c.Err() != nil {
			return c.Err()
		}
		return fmt.Errorf("notifier %s exited unexpectedly", what)
	}

	if pch != nil {
		sup.GoRestart("dedup.persist", func(c context.Context) error {
			s.persistLoop(c, pch)
			return exit(c, "persist loop")
		})
	}
	for i := 0; i < workers; i++ {
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.workerLoop(c, q)
			return exit(c, "worker")
		})
	}
	s.log.Info("notifier started", logx.Int("workers", workers), logx.Int("channels", len(s.gateways)))
}

// Stop stops intake and drains the queue best-effort until ctx ends.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	q, pch, sup := s.queue, s.persistCh, s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	go func() {
		defer close(done)
		// In-flight Notify calls finish before the channels close.
		s.sendWG.Wait()
		if pch != nil {
			close(pch)
		}
		close(q)
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.queue, s.persistCh, s.stopDone, s.sup = nil, nil, nil, nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
		s.log.Info("notifier stopped")
	case <-ctx.Done():
		sup.Cancel()
		<-done
		s.log.Warn("notifier stop deadline reached; queued messages dropped", logx.Err(ctx.Err()))
	}
}

// Notify queues m for delivery. It returns ErrDeduped when the key is
// still suppressed.
func (s *Service) Notify(ctx context.Context, m Message) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.Channel = strings.TrimSpace(m.Channel)
	m.To = strings.TrimSpace(m.To)
	if m.To == "" || strings.TrimSpace(m.Text) == "" {
		return errors.New("notifier: recipient and text required")
	}

	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	if _, ok := s.gateways[m.Channel]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w %q", ErrUnknownChannel, m.Channel)
	}
	q, cfg, pch := s.queue, s.cfg, s.persistCh
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	key := m.Key
	if key == "" {
		key = dedupKey(m)
	}
	if cfg.DedupWindow > 0 {
		if !s.dedupAllow(ctx, key, cfg, pch) {
			s.emit(TopicDeduped, m, key, nil)
			s.observe(m.Channel, "deduped")
			return ErrDeduped
		}
	}

	select {
	case q <- job{m: m, key: key}:
		s.emit(TopicQueued, m, key, nil)
		return nil
	default:
		s.forget(key)
		s.emit(TopicDropped, m, key, ErrQueueFull)
		s.observe(m.Channel, "dropped")
		return ErrQueueFull
	}
}

func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(m Message, key string, err error) {
	it := HistoryItem{At: time.Now(), Channel: m.Channel, To: m.To, Key: key}
	if err != nil {
		it.Error = err.Error()
	}
	s.hmu.Lock()
	s.history = append(s.history, it)
	if len(s.history) > 300 {
		s.history = s.history[len(s.history)-300:]
	}
	s.hmu.Unlock()
}

func (s *Service) emit(topic string, m Message, key string, err error) {
	if s.bus == nil {
		return
	}
	now := time.Now()
	ev := NotificationEvent{Channel: m.Channel, To: m.To, Key: key, At: now}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: topic, Time: now, Data: ev})
}

func (s *Service) observe(channel, result string) {
	if s.obs != nil {
		s.obs.NotificationResult(channel, result)
	}
}
