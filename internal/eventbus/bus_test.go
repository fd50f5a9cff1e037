package eventbus

import "testing"

func TestPublishFiltersByPrefix(t *testing.T) {
	t.Parallel()
	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	sweeps, unsubSweeps := b.Subscribe(4, "sweep.")
	defer unsubSweeps()

	b.Publish(Event{Type: "sweep.completed", Data: 3})
	b.Publish(Event{Type: "item.completed"})

	if got := len(all); got != 2 {
		t.Fatalf("unfiltered subscriber got %d events, want 2", got)
	}
	if got := len(sweeps); got != 1 {
		t.Fatalf("filtered subscriber got %d events, want 1", got)
	}
	e := <-sweeps
	if e.Type != "sweep.completed" || e.Data != 3 || e.Time.IsZero() {
		t.Fatalf("unexpected event: %+v", e)
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})
	if got := b.Dropped(); got != 1 {
		t.Fatalf("Dropped() = %d, want 1", got)
	}
	unsub()
	unsub()
	b.Publish(Event{Type: "c"})
}
