// Package items manages recurring tasks and events: creation with pattern
// validation, edits, completion and deletion.
package items

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"lifejourney/internal/eventbus"
	"lifejourney/internal/recurrence"
	"lifejourney/internal/storage"
	logx "lifejourney/pkg/logx"
)

var (
	ErrNotFound = storage.ErrNotFound
	ErrConflict = storage.ErrConflict
	ErrInvalid  = errors.New("invalid item")
)

// Bus topics published by the service.
const (
	TopicCompleted = "item.completed"
	TopicEdited    = "item.edited"
	TopicDeleted   = "item.deleted"
)

// CreateInput describes a new item. Start is the first due date.
type CreateInput struct {
	OwnerID string
	Kind    storage.ItemKind
	Title   string
	Notes   string
	Pattern recurrence.Pattern
	Start   time.Time
}

// EditInput carries the fields to change. Nil pointers keep the current
// value. Revision must match the stored item.
type EditInput struct {
	ID       string
	Revision int64
	Title    *string
	Notes    *string
	Pattern  *recurrence.Pattern
	// Next overrides the next occurrence; when only Pattern changes the next
	// occurrence is recomputed from the last processed date.
	Next *time.Time
}

type Service struct {
	store storage.Store
	log   logx.Logger
	bus   eventbus.Bus
	now   func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithBus(b eventbus.Bus) Option { return func(s *Service) { s.bus = b } }

func New(store storage.Store, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{store: store, log: log, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Create validates the pattern and stores a new item due on Start. A start
// outside a weekly pattern's weekday set moves to the next listed weekday.
//
// Monthly and yearly patterns without a day of month are pinned to Start's
// day so that clamping in short months does not drift later occurrences.
func (s *Service) Create(ctx context.Context, in CreateInput) (storage.Item, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return storage.Item{}, fmt.Errorf("%w: title is required", ErrInvalid)
	}
	if strings.TrimSpace(in.OwnerID) == "" {
		return storage.Item{}, fmt.Errorf("%w: owner is required", ErrInvalid)
	}
	kind := in.Kind
	switch kind {
	case "":
		kind = storage.KindTask
	case storage.KindTask, storage.KindEvent:
	default:
		return storage.Item{}, fmt.Errorf("%w: unknown kind %q", ErrInvalid, kind)
	}
	if in.Start.IsZero() {
		return storage.Item{}, fmt.Errorf("%w: start date is required", ErrInvalid)
	}
	p := pin(in.Pattern, recurrence.DateOf(in.Start))
	if err := recurrence.Validate(p); err != nil {
		return storage.Item{}, err
	}

	now := s.now().UTC()
	it := storage.Item{
		ID:             uuid.NewString(),
		OwnerID:        in.OwnerID,
		Kind:           kind,
		Title:          title,
		Notes:          in.Notes,
		Pattern:        p,
		NextOccurrence: recurrence.Align(p, in.Start),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateItem(ctx, it); err != nil {
		return storage.Item{}, err
	}
	s.log.Debug("item created", logx.String("id", it.ID), logx.String("pattern", p.String()), logx.Date("next", it.NextOccurrence))
	return it, nil
}

func pin(p recurrence.Pattern, start time.Time) recurrence.Pattern {
	if (p.Kind == recurrence.Monthly || p.Kind == recurrence.Yearly) && p.DayOfMonth == 0 {
		p.DayOfMonth = start.Day()
	}
	return p
}

func (s *Service) Get(ctx context.Context, id string) (storage.Item, error) {
	return s.store.GetItem(ctx, id)
}

func (s *Service) ListByOwner(ctx context.Context, ownerID string) ([]storage.Item, error) {
	return s.store.ListItemsByOwner(ctx, ownerID)
}

// Edit applies in to the stored item. It fails with ErrConflict when the
// item changed since in.Revision was read.
func (s *Service) Edit(ctx context.Context, in EditInput) (storage.Item, error) {
	it, err := s.store.GetItem(ctx, in.ID)
	if err != nil {
		return storage.Item{}, err
	}
	if it.Revision != in.Revision {
		return storage.Item{}, ErrConflict
	}
	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			return storage.Item{}, fmt.Errorf("%w: title is required", ErrInvalid)
		}
		it.Title = title
	}
	if in.Notes != nil {
		it.Notes = *in.Notes
	}
	if in.Pattern != nil {
		p := pin(*in.Pattern, it.NextOccurrence)
		if err := recurrence.Validate(p); err != nil {
			return storage.Item{}, err
		}
		changed := p.String() != it.Pattern.String()
		it.Pattern = p
		if changed && in.Next == nil && !it.LastProcessed.IsZero() {
			next, err := recurrence.Next(p, it.LastProcessed)
			if err != nil {
				return storage.Item{}, err
			}
			it.NextOccurrence = next
		}
	}
	if in.Next != nil {
		next := recurrence.DateOf(*in.Next)
		if !it.LastProcessed.IsZero() && !next.After(it.LastProcessed) {
			return storage.Item{}, fmt.Errorf("%w: next occurrence must be after %s", ErrInvalid, it.LastProcessed.Format(time.DateOnly))
		}
		it.NextOccurrence = next
	}
	it.UpdatedAt = s.now().UTC()

	out, err := s.store.UpdateItem(ctx, it)
	if err != nil {
		return storage.Item{}, err
	}
	s.publish(TopicEdited, out)
	return out, nil
}

// Complete marks the current occurrence done on the given day and advances
// the item past both the occurrence and the completion date.
func (s *Service) Complete(ctx context.Context, id string, on time.Time) (storage.Item, error) {
	it, err := s.store.GetItem(ctx, id)
	if err != nil {
		return storage.Item{}, err
	}
	from := it.NextOccurrence
	if d := recurrence.DateOf(on); d.After(from) {
		from = d
	}
	next, err := recurrence.Next(it.Pattern, from)
	if err != nil {
		return storage.Item{}, err
	}
	ok, err := s.store.AdvanceIfUnchanged(ctx, storage.Advance{
		ID:               it.ID,
		ExpectedNext:     it.NextOccurrence,
		ExpectedRevision: it.Revision,
		Next:             next,
		Processed:        it.NextOccurrence,
	})
	if err != nil {
		return storage.Item{}, err
	}
	if !ok {
		return storage.Item{}, ErrConflict
	}
	it.LastProcessed = it.NextOccurrence
	it.NextOccurrence = next
	it.Revision++

	err = s.store.AppendAudit(ctx, storage.AuditEntry{
		At:     s.now().UTC(),
		Actor:  it.OwnerID,
		Action: TopicCompleted,
		Target: it.ID,
		OK:     1,
	})
	if err != nil {
		s.log.Warn("completion audit write failed", logx.String("id", it.ID), logx.Err(err))
	}
	s.publish(TopicCompleted, it)
	return it, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteItem(ctx, id); err != nil {
		return err
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: TopicDeleted, Data: id})
	}
	return nil
}

func (s *Service) publish(topic string, it storage.Item) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: topic, Data: it})
}
