package trigger

import (
	"errors"
	"time"

	"lifejourney/internal/jobs/engine"
	logx "lifejourney/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

func (s *Service) reportEnqueueError(name string, err error) {
	// A slow sweep overlapping the next tick is routine.
	if errors.Is(err, engine.ErrOverlapSkip) {
		s.log.Debug("schedule tick skipped", logx.String("schedule", name), logx.Err(err))
		return
	}

	now := time.Now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[name]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[name] = now
	s.enqMu.Unlock()

	s.log.Warn("schedule failed to enqueue job", logx.String("schedule", name), logx.Err(err))
}
