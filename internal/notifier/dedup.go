package notifier

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	logx "lifejourney/pkg/logx"
)

type dedupWrite struct {
	key   string
	until time.Time
}

func dedupKey(m Message) string {
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "%s|%s|", m.Channel, m.To)
	_, _ = h.Write([]byte(m.Text))
	return fmt.Sprintf("%x", h.Sum64())
}

// dedupAllow reports whether key may be sent now and, if so, suppresses it
// for the configured window.
func (s *Service) dedupAllow(ctx context.Context, key string, cfg Config, pch chan<- dedupWrite) bool {
	now := time.Now()

	s.dmu.Lock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		s.dmu.Unlock()
		return false
	}
	s.dmu.Unlock()

	if cfg.PersistDedup && s.store != nil {
		cctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
		until, ok, err := s.store.GetDedup(cctx, key)
		cancel()
		if err != nil {
			s.log.Debug("dedup lookup failed", logx.String("key", key), logx.Err(err))
		}
		if err == nil && ok && now.Before(until) {
			s.dmu.Lock()
			s.dedup[key] = until
			s.dmu.Unlock()
			return false
		}
	}

	until := now.Add(cfg.DedupWindow)
	s.dmu.Lock()
	s.dedup[key] = until
	for k, u := range s.dedup {
		if !now.Before(u) {
			delete(s.dedup, k)
		}
	}
	for len(s.dedup) > cfg.DedupMaxEntries {
		var (
			minKey string
			minT   time.Time
		)
		for k, u := range s.dedup {
			if minKey == "" || u.Before(minT) {
				minKey, minT = k, u
			}
		}
		delete(s.dedup, minKey)
	}
	s.dmu.Unlock()

	if pch != nil {
		select {
		case pch <- dedupWrite{key: key, until: until}:
		default:
		}
	}
	return true
}

// forget lifts the suppression of key so a failed message can be retried
// by a later Notify.
func (s *Service) forget(key string) {
	s.dmu.Lock()
	delete(s.dedup, key)
	s.dmu.Unlock()

	s.mu.Lock()
	persist := s.cfg.PersistDedup
	s.mu.Unlock()
	if !persist || s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	if err := s.store.PutDedup(ctx, key, time.Now()); err != nil {
		s.log.Debug("dedup release failed", logx.String("key", key), logx.Err(err))
	}
}

func (s *Service) persistLoop(ctx context.Context, ch <-chan dedupWrite) {
	for {
		select {
		case <-ctx.Done():
			return
		case w, ok := <-ch:
			if !ok {
				return
			}
			cctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
			if err := s.store.PutDedup(cctx, w.key, w.until); err != nil {
				s.log.Debug("dedup persist failed", logx.String("key", w.key), logx.Err(err))
			}
			cancel()
		}
	}
}
