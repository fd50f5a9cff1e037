package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"lifejourney/internal/eventbus"
	"lifejourney/internal/jobs/engine"
	"lifejourney/internal/storage"
	logx "lifejourney/pkg/logx"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// Keep-alive connections of the gateway HTTP clients.
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

type fakeGateway struct {
	channel string

	mu    sync.Mutex
	sent  []string
	calls int
	// errs is consumed one per call; nil entries succeed.
	errs []error
}

func (g *fakeGateway) Channel() string { return g.channel }

func (g *fakeGateway) Send(_ context.Context, to, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if len(g.errs) > 0 {
		err := g.errs[0]
		g.errs = g.errs[1:]
		if err != nil {
			return err
		}
	}
	g.sent = append(g.sent, to+":"+text)
	return nil
}

func (g *fakeGateway) snapshot() ([]string, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.sent...), g.calls
}

type results struct {
	mu  sync.Mutex
	got map[string]int
}

func (r *results) NotificationResult(channel, result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.got == nil {
		r.got = map[string]int{}
	}
	r.got[channel+"/"+result]++
}

func (r *results) count(k string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.got[k]
}

func fastConfig() Config {
	return Config{
		Enabled:       true,
		Workers:       1,
		QueueSize:     8,
		RatePerSec:    1000,
		RetryMax:      3,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
		DedupWindow:   time.Hour,
	}
}

func startService(t *testing.T, cfg Config, gws []Gateway, opts ...Option) *Service {
	t.Helper()
	s := New(cfg, logx.Nop(), gws, opts...)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNotifyRetriesTransientFailures(t *testing.T) {
	gw := &fakeGateway{channel: ChannelSMS, errs: []error{errors.New("503"), errors.New("503")}}
	res := &results{}
	s := startService(t, fastConfig(), []Gateway{gw}, WithObserver(res))

	if err := s.Notify(context.Background(), Message{Channel: ChannelSMS, To: "+15550001111", Text: "Water the plants"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	waitFor(t, "sent result", func() bool { return res.count("sms/sent") == 1 })

	sent, calls := gw.snapshot()
	if calls != 3 || len(sent) != 1 || sent[0] != "+15550001111:Water the plants" {
		t.Fatalf("calls=%d sent=%v", calls, sent)
	}
}

func TestNotifyStopsOnPermanentFailureAndReleasesKey(t *testing.T) {
	gw := &fakeGateway{channel: ChannelSMS, errs: []error{engine.NoRetry(errors.New("400 invalid number"))}}
	res := &results{}
	s := startService(t, fastConfig(), []Gateway{gw}, WithObserver(res))

	msg := Message{Channel: ChannelSMS, To: "+15550001111", Text: "hi", Key: "reminder:1"}
	if err := s.Notify(context.Background(), msg); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "failed result", func() bool { return res.count("sms/failed") == 1 })
	if _, calls := gw.snapshot(); calls != 1 {
		t.Fatalf("calls = %d, want 1 (no retry)", calls)
	}

	// The failed key no longer suppresses a second attempt.
	if err := s.Notify(context.Background(), msg); err != nil {
		t.Fatalf("second Notify after failure: %v", err)
	}
	waitFor(t, "sent result", func() bool { return res.count("sms/sent") == 1 })

	h := s.History()
	if len(h) != 2 || h[0].Error == "" || h[1].Error != "" {
		t.Fatalf("history = %+v", h)
	}
}

func TestNotifyDedup(t *testing.T) {
	gw := &fakeGateway{channel: ChannelTelegram}
	res := &results{}
	bus := eventbus.New()
	events, unsubscribe := bus.Subscribe(16, TopicDeduped)
	defer unsubscribe()
	s := startService(t, fastConfig(), []Gateway{gw}, WithObserver(res), WithBus(bus))

	msg := Message{Channel: ChannelTelegram, To: "42", Text: "Journal tonight"}
	if err := s.Notify(context.Background(), msg); err != nil {
		t.Fatal(err)
	}
	if err := s.Notify(context.Background(), msg); !errors.Is(err, ErrDeduped) {
		t.Fatalf("duplicate Notify = %v, want ErrDeduped", err)
	}
	other := msg
	other.To = "43"
	if err := s.Notify(context.Background(), other); err != nil {
		t.Fatalf("different recipient deduped: %v", err)
	}
	waitFor(t, "two sends", func() bool { return res.count("telegram/sent") == 2 })
	if res.count("telegram/deduped") != 1 {
		t.Fatalf("deduped = %d", res.count("telegram/deduped"))
	}
	select {
	case ev := <-events:
		if ev.Data.(NotificationEvent).To != "42" {
			t.Fatalf("event = %+v", ev.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("no dedup event")
	}
}

func TestPersistedDedupSurvivesRestart(t *testing.T) {
	st := storage.NewMemory()
	defer st.Close()
	cfg := fastConfig()
	cfg.PersistDedup = true
	msg := Message{Channel: ChannelSMS, To: "+15550001111", Text: "x", Key: "reminder:item-1:2024-01-10:sms"}

	gw := &fakeGateway{channel: ChannelSMS}
	first := New(cfg, logx.Nop(), []Gateway{gw}, WithDedupStore(st))
	first.Start(context.Background())
	if err := first.Notify(context.Background(), msg); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "first send", func() bool { sent, _ := gw.snapshot(); return len(sent) == 1 })
	first.Stop(context.Background())

	waitFor(t, "dedup persisted", func() bool {
		_, ok, _ := st.GetDedup(context.Background(), msg.Key)
		return ok
	})

	second := New(cfg, logx.Nop(), []Gateway{gw}, WithDedupStore(st))
	second.Start(context.Background())
	defer second.Stop(context.Background())
	if err := second.Notify(context.Background(), msg); !errors.Is(err, ErrDeduped) {
		t.Fatalf("Notify after restart = %v, want ErrDeduped", err)
	}
}

func TestNotifyRejects(t *testing.T) {
	gw := &fakeGateway{channel: ChannelSMS}

	disabled := New(Config{}, logx.Nop(), []Gateway{gw})
	if err := disabled.Notify(context.Background(), Message{Channel: ChannelSMS, To: "+1", Text: "x"}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled = %v", err)
	}

	s := startService(t, fastConfig(), []Gateway{gw})
	if err := s.Notify(context.Background(), Message{Channel: "pigeon", To: "x", Text: "x"}); !errors.Is(err, ErrUnknownChannel) {
		t.Fatalf("unknown channel = %v", err)
	}
	if err := s.Notify(context.Background(), Message{Channel: ChannelSMS, To: "+1", Text: "  "}); err == nil {
		t.Fatal("empty text accepted")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	if err := s.Notify(context.Background(), Message{Channel: ChannelSMS, To: "+1", Text: "x"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("after Stop = %v", err)
	}
}

func TestRetryDelay(t *testing.T) {
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	if d := retryDelay(cfg, 1, errors.New("x"), nil); d != 100*time.Millisecond {
		t.Fatalf("attempt 1 = %v", d)
	}
	if d := retryDelay(cfg, 3, errors.New("x"), nil); d != 400*time.Millisecond {
		t.Fatalf("attempt 3 = %v", d)
	}
	if d := retryDelay(cfg, 10, errors.New("x"), nil); d != time.Second {
		t.Fatalf("attempt 10 = %v", d)
	}
	if d := retryDelay(cfg, 1, engine.RetryAfter(errors.New("429"), 700*time.Millisecond), nil); d != 700*time.Millisecond {
		t.Fatalf("hinted = %v", d)
	}
}
