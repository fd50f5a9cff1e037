package notifier

import (
	"context"
	"math/rand"
	"time"

	"lifejourney/internal/jobs/engine"
	logx "lifejourney/pkg/logx"
)

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.sendWithRetry(ctx, j, rng)
		}
	}
}

func (s *Service) sendWithRetry(ctx context.Context, j job, rng *rand.Rand) {
	s.mu.Lock()
	cfg, lim, gw := s.cfg, s.limiter, s.gateways[j.m.Channel]
	s.mu.Unlock()
	if gw == nil {
		return
	}
	log := s.log.With(logx.String("channel", j.m.Channel), logx.String("key", j.key))

	maxAttempts := 1 + cfg.RetryMax
	var lastErr error
attempts:
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			lastErr = err
			break
		}
		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		err := gw.Send(callCtx, j.m.To, j.m.Text)
		cancel()
		if err == nil {
			s.appendHistory(j.m, j.key, nil)
			s.emit(TopicSent, j.m, j.key, nil)
			s.observe(j.m.Channel, "sent")
			log.Debug("notification sent", logx.Int("attempt", attempt))
			return
		}
		lastErr = err
		log.Debug("notification send failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))

		if engine.IsNoRetry(err) || attempt >= maxAttempts {
			break
		}
		delay := retryDelay(cfg, attempt, err, rng)
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			lastErr = ctx.Err()
			break attempts
		}
	}

	s.forget(j.key)
	s.appendHistory(j.m, j.key, lastErr)
	s.emit(TopicFailed, j.m, j.key, lastErr)
	s.observe(j.m.Channel, "failed")
	log.Warn("notification failed", logx.Err(lastErr))
}

// retryDelay is the wait before attempt+1: a gateway hint if present,
// otherwise exponential backoff with 0.7..1.3 jitter, capped at
// RetryMaxDelay.
func retryDelay(cfg Config, attempt int, err error, rng *rand.Rand) time.Duration {
	if d, ok := engine.RetryAfterHint(err); ok {
		return min(d, cfg.RetryMaxDelay)
	}
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	if rng != nil {
		d = time.Duration(float64(d) * (0.7 + rng.Float64()*0.6))
	}
	return min(max(d, 0), cfg.RetryMaxDelay)
}
