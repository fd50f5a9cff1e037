package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"time"

	logx "lifejourney/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan queued) {
	// Per-worker RNG keeps jitter off the global source's lock.
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case qj := <-queue:
			s.inFlight.Add(1)
			s.execOne(ctx, stopCh, qj, rng)
			s.inFlight.Add(-1)
		}
	}
}

func (s *Service) execOne(ctx context.Context, stopCh <-chan struct{}, qj queued, rng *rand.Rand) {
	if qj.state != nil {
		defer qj.state.release()
	}
	start := time.Now()
	queueDelay := max(start.Sub(qj.enqueuedAt), 0)

	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	if cfg.MaxQueueDelay > 0 && queueDelay > cfg.MaxQueueDelay {
		s.onDropped(start, qj.job, "stale_queue_delay", queueDelay, &s.droppedStale, &s.lastStaleWarnAt)
		s.record(cfg, HistoryItem{ID: qj.job.ID, Name: qj.job.Name, Started: start, QueueDelay: queueDelay, Error: "stale_queue_delay"})
		return
	}

	log := s.log.With(logx.String("job", qj.job.Name), logx.String("id", qj.job.ID))
	log.Debug("job started", logx.Duration("queue_delay", queueDelay))
	s.publish(TopicStarted, Event{ID: qj.job.ID, Name: qj.job.Name, Started: start, QueueDelay: queueDelay})

	maxAttempts := 1 + max(qj.opt.RetryMax, 0)
	var err error
	attempts := 0
attemptLoop:
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		err = s.runOnce(ctx, qj, log)
		if err == nil {
			break
		}
		var nr noRetryError
		if errors.As(err, &nr) {
			err = nr.err
			break
		}
		if attempt == maxAttempts {
			break
		}

		delay := backoffDelayWithHint(qj.opt, attempt, err, rng)
		log.Debug("job retry scheduled", logx.Int("attempt", attempt+1), logx.Duration("delay", delay), logx.Err(err))
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			err = ctx.Err()
			break attemptLoop
		case <-stopCh:
			t.Stop()
			err = ErrStopping
			break attemptLoop
		case <-t.C:
		}
	}

	dur := time.Since(start)
	item := HistoryItem{ID: qj.job.ID, Name: qj.job.Name, Started: start, QueueDelay: queueDelay, Duration: dur, Attempts: attempts}
	ev := Event{ID: qj.job.ID, Name: qj.job.Name, Started: start, QueueDelay: queueDelay, Duration: dur, Attempts: attempts}
	if err != nil {
		item.Error = err.Error()
		ev.Error = item.Error
		log.Warn("job failed", logx.Err(err), logx.Duration("dur", dur), logx.Int("attempts", attempts))
		s.publish(TopicFailed, ev)
	} else {
		log.Info("job finished", logx.Duration("dur", dur), logx.Int("attempts", attempts))
		s.publish(TopicFinished, ev)
	}
	if s.obs != nil {
		s.obs.JobFinished(qj.job.Name, dur, attempts, err)
	}
	s.circuitRecordResult(time.Now(), qj.job.Name, cfg, qj.opt, err)
	s.record(cfg, item)
}

// runOnce runs a single attempt, converting a panic into an error.
func (s *Service) runOnce(ctx context.Context, qj queued, log logx.Logger) (err error) {
	runCtx := ctx
	if qj.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, qj.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			log.Error("job panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	return qj.job.Run(runCtx)
}

func backoffDelayWithHint(opt Options, retry int, err error, rng *rand.Rand) time.Duration {
	if d, ok := RetryAfterHint(err); ok {
		return jitter(min(max(d, 0), opt.RetryMaxDelay), opt, rng)
	}
	return backoffDelay(opt, retry, rng)
}

func backoffDelay(opt Options, retry int, rng *rand.Rand) time.Duration {
	d := opt.RetryBase
	for i := 1; i < retry; i++ {
		d *= 2
		if d >= opt.RetryMaxDelay {
			d = opt.RetryMaxDelay
			break
		}
	}
	return jitter(d, opt, rng)
}

func jitter(d time.Duration, opt Options, rng *rand.Rand) time.Duration {
	if opt.RetryJitter > 0 && d > 0 && rng != nil {
		r := (rng.Float64()*2 - 1) * opt.RetryJitter
		d = time.Duration(float64(d) * (1 + r))
	}
	return min(max(d, 0), opt.RetryMaxDelay)
}
