package trigger

import "time"

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	tz := s.cfg.Timezone
	if tz == "" {
		loc := s.loc
		if loc == nil {
			loc = time.Local
		}
		tz = loc.String()
	}
	snap := Snapshot{Enabled: s.cfg.Enabled, Running: s.c != nil, Timezone: tz}
	for _, d := range s.defs {
		it := ScheduleInfo{Name: d.name, Spec: d.spec, Timeout: d.timeout, StartupSpread: d.startupSpread}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		}
		snap.Schedules = append(snap.Schedules, it)
	}
	return snap
}
