package ops

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	logx "lifejourney/pkg/logx"
)

func startOps(t *testing.T, cfg Config, reg prometheus.Gatherer) *Service {
	t.Helper()
	cfg.Enabled = true
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:0"
	}
	s := New(cfg, logx.Nop(), reg)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func get(t *testing.T, url, token string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(b)
}

func TestMetricsAndHealth(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "ops_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Add(3)

	s := startOps(t, Config{Token: "s3cret"}, reg)
	down := errors.New("database locked")
	var unhealthy atomic.Bool
	s.AddCheck("storage", func(context.Context) error {
		if !unhealthy.Load() {
			return nil
		}
		return down
	})
	base := "http://" + s.Addr()

	if code, _ := get(t, base+"/metrics", ""); code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated /metrics = %d", code)
	}
	code, body := get(t, base+"/metrics", "s3cret")
	if code != http.StatusOK || !strings.Contains(body, "ops_test_total 3") {
		t.Fatalf("/metrics = %d\n%s", code, body)
	}

	code, body = get(t, base+"/healthz?token=s3cret", "")
	if code != http.StatusOK {
		t.Fatalf("/healthz = %d %s", code, body)
	}

	unhealthy.Store(true)
	code, body = get(t, base+"/healthz", "s3cret")
	var rep healthReport
	if err := json.Unmarshal([]byte(body), &rep); err != nil {
		t.Fatalf("decode health: %v (%s)", err, body)
	}
	if code != http.StatusServiceUnavailable || rep.Status != "degraded" || rep.Checks["storage"] != down.Error() {
		t.Fatalf("degraded /healthz = %d %+v", code, rep)
	}
}

func TestPprofMountedOnlyWhenEnabled(t *testing.T) {
	off := startOps(t, Config{}, nil)
	if code, _ := get(t, "http://"+off.Addr()+"/debug/pprof/", ""); code != http.StatusNotFound {
		t.Fatalf("pprof disabled = %d, want 404", code)
	}

	on := startOps(t, Config{Pprof: true, PprofPrefix: "ops/pprof"}, nil)
	code, body := get(t, "http://"+on.Addr()+"/ops/pprof/", "")
	if code != http.StatusOK || !strings.Contains(body, "goroutine") {
		t.Fatalf("pprof index = %d", code)
	}
}

func TestRefusesInsecureBind(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, logx.Nop(), nil)
	if err := s.Start(context.Background()); err == nil {
		s.Stop(context.Background())
		t.Fatal("non-loopback bind without token accepted")
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	tests := map[string]bool{
		"127.0.0.1:9477": true,
		"[::1]:9477":     true,
		"localhost:1":    true,
		":9477":          false,
		"10.0.0.2:9477":  false,
		"garbage":        false,
	}
	for addr, want := range tests {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}
