package engine

import (
	"sync"
	"time"
)

// circuitState counts consecutive failures of one job name. Once failures
// reach the trip threshold the circuit opens for a cooldown that doubles
// with every further failure; a success closes it.
type circuitState struct {
	fails       int
	openUntil   time.Time
	lastFailure time.Time
}

type circuitStore struct {
	mu sync.Mutex
	m  map[string]*circuitState
}

// getLocked must be called with mu held.
func (s *circuitStore) getLocked(key string) *circuitState {
	if s.m == nil {
		s.m = make(map[string]*circuitState)
	}
	st := s.m[key]
	if st == nil {
		st = &circuitState{}
		s.m[key] = st
	}
	return st
}

type circuitCfg struct {
	enabled    bool
	trip       int
	baseDelay  time.Duration
	maxDelay   time.Duration
	resetAfter time.Duration
}

func effectiveCircuitCfg(cfg Config, opt Options) circuitCfg {
	if cfg.CircuitTripFailures < 0 || opt.CircuitTripFailures < 0 {
		return circuitCfg{}
	}
	trip := cfg.CircuitTripFailures
	if opt.CircuitTripFailures > 0 {
		trip = opt.CircuitTripFailures
	}
	return circuitCfg{
		enabled:    true,
		trip:       trip,
		baseDelay:  cfg.CircuitBaseDelay,
		maxDelay:   cfg.CircuitMaxDelay,
		resetAfter: cfg.CircuitResetAfter,
	}
}

func (c circuitCfg) maybeReset(st *circuitState, now time.Time) {
	if !st.lastFailure.IsZero() && c.resetAfter > 0 && now.Sub(st.lastFailure) > c.resetAfter {
		st.fails = 0
		st.openUntil = time.Time{}
	}
}

func (s *Service) circuitIsOpen(now time.Time, name string, cfg Config, opt Options) (bool, time.Time) {
	cc := effectiveCircuitCfg(cfg, opt)
	if !cc.enabled {
		return false, time.Time{}
	}
	s.circuits.mu.Lock()
	defer s.circuits.mu.Unlock()
	st := s.circuits.getLocked(name)
	cc.maybeReset(st, now)
	if now.Before(st.openUntil) {
		return true, st.openUntil
	}
	return false, time.Time{}
}

func (s *Service) circuitRecordResult(now time.Time, name string, cfg Config, opt Options, err error) {
	cc := effectiveCircuitCfg(cfg, opt)
	if !cc.enabled {
		return
	}
	s.circuits.mu.Lock()
	defer s.circuits.mu.Unlock()
	st := s.circuits.getLocked(name)
	cc.maybeReset(st, now)

	if err == nil {
		*st = circuitState{}
		return
	}
	st.fails++
	st.lastFailure = now
	if st.fails < cc.trip {
		return
	}
	d := cc.baseDelay
	for i := 0; i < st.fails-cc.trip && d < cc.maxDelay; i++ {
		d *= 2
	}
	st.openUntil = now.Add(min(d, cc.maxDelay))
}

func (s *Service) circuitSnapshot(now time.Time, cfg Config) (total, open int) {
	if !effectiveCircuitCfg(cfg, Options{}).enabled {
		return 0, 0
	}
	s.circuits.mu.Lock()
	defer s.circuits.mu.Unlock()
	for _, st := range s.circuits.m {
		total++
		if now.Before(st.openUntil) {
			open++
		}
	}
	return total, open
}
