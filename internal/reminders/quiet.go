package reminders

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// quietHours is a daily window in minutes since midnight. It may wrap past
// midnight (22:00-07:00).
type quietHours struct {
	start, end int
	enabled    bool
}

func parseQuietHours(start, end string) (quietHours, error) {
	if strings.TrimSpace(start) == "" && strings.TrimSpace(end) == "" {
		return quietHours{}, nil
	}
	s, err := minuteOfDay(start)
	if err != nil {
		return quietHours{}, fmt.Errorf("quiet_start: %w", err)
	}
	e, err := minuteOfDay(end)
	if err != nil {
		return quietHours{}, fmt.Errorf("quiet_end: %w", err)
	}
	return quietHours{start: s, end: e, enabled: s != e}, nil
}

func minuteOfDay(v string) (int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(v), ":")
	if !ok {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", v)
	}
	hh, err := strconv.Atoi(h)
	if err != nil || hh < 0 || hh > 23 {
		return 0, fmt.Errorf("invalid hour in %q", v)
	}
	mm, err := strconv.Atoi(m)
	if err != nil || mm < 0 || mm > 59 {
		return 0, fmt.Errorf("invalid minute in %q", v)
	}
	return hh*60 + mm, nil
}

func (q quietHours) contains(t time.Time) bool {
	if !q.enabled {
		return false
	}
	m := t.Hour()*60 + t.Minute()
	if q.start < q.end {
		return m >= q.start && m < q.end
	}
	return m >= q.start || m < q.end
}
