package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// memoryStore keeps everything in maps guarded by one mutex. Conditional
// writes are atomic because they check and update under the same lock.
type memoryStore struct {
	mu     sync.Mutex
	closed bool

	items  map[string]Item
	owners map[string]Owner
	audit  []AuditEntry
	dedup  map[string]int64 // unix milli

	dedupWrites int
}

// NewMemory returns an empty in-process store.
func NewMemory() Store {
	return &memoryStore{
		items:  map[string]Item{},
		owners: map[string]Owner{},
		dedup:  map[string]int64{},
	}
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) CreateItem(ctx context.Context, it Item) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrDisabled
	}
	if _, exists := s.items[it.ID]; exists {
		return ErrConflict
	}
	s.items[it.ID] = cloneItem(it)
	return nil
}

func (s *memoryStore) GetItem(ctx context.Context, id string) (Item, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return Item{}, ErrNotFound
	}
	return cloneItem(it), nil
}

func (s *memoryStore) ListItemsByOwner(ctx context.Context, ownerID string) ([]Item, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Item, 0)
	for _, it := range s.items {
		if it.OwnerID == ownerID {
			out = append(out, cloneItem(it))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextOccurrence.Equal(out[j].NextOccurrence) {
			return out[i].NextOccurrence.Before(out[j].NextOccurrence)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *memoryStore) ListDue(ctx context.Context, q DueQuery) ([]Item, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Item, 0)
	for _, it := range s.items {
		if it.NextOccurrence.After(q.Through) || it.ID <= q.AfterID {
			continue
		}
		out = append(out, cloneItem(it))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *memoryStore) UpdateItem(ctx context.Context, it Item) (Item, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.items[it.ID]
	if !ok {
		return Item{}, ErrNotFound
	}
	if cur.Revision != it.Revision {
		return Item{}, ErrConflict
	}
	it.Revision++
	it.CreatedAt = cur.CreatedAt
	if it.UpdatedAt.IsZero() {
		it.UpdatedAt = time.Now().UTC()
	}
	s.items[it.ID] = cloneItem(it)
	return cloneItem(it), nil
}

func (s *memoryStore) AdvanceIfUnchanged(ctx context.Context, a Advance) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.items[a.ID]
	if !ok || cur.Revision != a.ExpectedRevision || !cur.NextOccurrence.Equal(a.ExpectedNext) {
		return false, nil
	}
	cur.NextOccurrence = a.Next
	cur.LastProcessed = a.Processed
	cur.Revision++
	cur.UpdatedAt = time.Now().UTC()
	s.items[a.ID] = cur
	return true, nil
}

func (s *memoryStore) DeleteItem(ctx context.Context, id string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return ErrNotFound
	}
	delete(s.items, id)
	return nil
}

func (s *memoryStore) PutOwner(ctx context.Context, o Owner) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if prev, ok := s.owners[o.ID]; ok {
		o.CreatedAt = prev.CreatedAt
	} else if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	s.owners[o.ID] = o
	return nil
}

func (s *memoryStore) GetOwner(ctx context.Context, id string) (Owner, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.owners[id]
	if !ok {
		return Owner{}, ErrNotFound
	}
	return o, nil
}

func (s *memoryStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.audit = append(s.audit, e)
	return nil
}

// Audit returns a copy of the audit log of a memory store. It returns nil
// for other stores.
func Audit(st Store) []AuditEntry {
	ms, ok := st.(*memoryStore)
	if !ok {
		return nil
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return append([]AuditEntry(nil), ms.audit...)
}

func (s *memoryStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dedup[key] = until.UnixMilli()
	s.dedupWrites++
	if s.dedupWrites%1000 == 0 {
		pruneExpiredDedup(s.dedup)
	}
	return nil
}

func (s *memoryStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return time.Time{}, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.dedup[key]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func pruneExpiredDedup(m map[string]int64) {
	now := time.Now().UnixMilli()
	for k, v := range m {
		if v < now {
			delete(m, k)
		}
	}
}

func cloneItem(it Item) Item {
	if it.Pattern.Weekdays != nil {
		it.Pattern.Weekdays = append(it.Pattern.Weekdays[:0:0], it.Pattern.Weekdays...)
	}
	return it
}
