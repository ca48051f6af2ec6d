package downloader

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nao1215/crawlcore/internal/config"
)

// TestDelayPolicy tests resolution order of slot settings.
func TestDelayPolicy(t *testing.T) {
	t.Parallel()

	boolPtr := func(v bool) *bool { return &v }
	durPtr := func(v time.Duration) *time.Duration { return &v }

	newCfg := func() *config.Config {
		cfg := config.NewConfig()
		cfg.PerDomainConcurrency = 8
		cfg.DownloadDelay = time.Second
		cfg.Slots["special.example"] = config.SlotConfig{
			Concurrency:    2,
			Delay:          durPtr(5 * time.Second),
			RandomizeDelay: boolPtr(false),
		}
		cfg.Slots["nodelay.example"] = config.SlotConfig{Delay: durPtr(0)}
		return cfg
	}

	t.Run("global defaults apply to unknown slots", func(t *testing.T) {
		t.Parallel()

		p := NewDelayPolicy(newCfg(), Overrides{})
		if got := p.Concurrency("plain.example"); got != 8 {
			t.Errorf("expected 8, got %d", got)
		}
		if got := p.Delay("plain.example"); got != time.Second {
			t.Errorf("expected 1s, got %v", got)
		}
		if !p.Randomize("plain.example") {
			t.Error("expected randomize from global default")
		}
	})

	t.Run("per-IP concurrency replaces per-domain", func(t *testing.T) {
		t.Parallel()

		cfg := newCfg()
		cfg.PerIPConcurrency = 3
		if got := NewDelayPolicy(cfg, Overrides{}).Concurrency("192.0.2.1"); got != 3 {
			t.Errorf("expected 3, got %d", got)
		}
	})

	t.Run("overrides beat globals", func(t *testing.T) {
		t.Parallel()

		p := NewDelayPolicy(newCfg(), Overrides{Concurrency: 4, Delay: durPtr(0)})
		if got := p.Concurrency("plain.example"); got != 4 {
			t.Errorf("expected 4, got %d", got)
		}
		if got := p.Delay("plain.example"); got != 0 {
			t.Errorf("expected explicit zero delay, got %v", got)
		}
	})

	t.Run("per-slot settings beat overrides", func(t *testing.T) {
		t.Parallel()

		p := NewDelayPolicy(newCfg(), Overrides{Concurrency: 4, Delay: durPtr(0)})
		if got := p.Concurrency("special.example"); got != 2 {
			t.Errorf("expected 2, got %d", got)
		}
		if got := p.Delay("special.example"); got != 5*time.Second {
			t.Errorf("expected 5s, got %v", got)
		}
		if p.Randomize("special.example") {
			t.Error("expected per-slot randomize false")
		}
	})

	t.Run("per-slot zero delay cancels the global delay", func(t *testing.T) {
		t.Parallel()

		p := NewDelayPolicy(newCfg(), Overrides{Delay: durPtr(2 * time.Second)})
		if got := p.Delay("nodelay.example"); got != 0 {
			t.Errorf("expected zero delay, got %v", got)
		}
	})

	t.Run("concurrency is at least one", func(t *testing.T) {
		t.Parallel()

		cfg := newCfg()
		cfg.PerDomainConcurrency = 0
		if got := NewDelayPolicy(cfg, Overrides{}).Concurrency("x"); got != 1 {
			t.Errorf("expected 1, got %d", got)
		}
	})
}

// TestCachingResolver tests address caching.
func TestCachingResolver(t *testing.T) {
	t.Parallel()

	t.Run("IP literals skip the lookup", func(t *testing.T) {
		t.Parallel()

		r := newCachingResolver(func(context.Context, string) ([]string, error) {
			t.Error("lookup should not be called")
			return nil, nil
		}, time.Minute)
		got, err := r.Resolve(t.Context(), "2001:db8::1")
		if err != nil || got != "2001:db8::1" {
			t.Errorf("Resolve() = (%q, %v)", got, err)
		}
	})

	t.Run("results are cached until the TTL expires", func(t *testing.T) {
		t.Parallel()

		var calls atomic.Int32
		r := newCachingResolver(func(context.Context, string) ([]string, error) {
			calls.Add(1)
			return []string{"192.0.2.7", "192.0.2.8"}, nil
		}, time.Minute)
		now := time.Now()
		r.now = func() time.Time { return now }

		for range 3 {
			got, err := r.Resolve(t.Context(), "cached.example")
			if err != nil || got != "192.0.2.7" {
				t.Fatalf("Resolve() = (%q, %v)", got, err)
			}
		}
		if calls.Load() != 1 {
			t.Errorf("expected 1 lookup, got %d", calls.Load())
		}

		now = now.Add(2 * time.Minute)
		if _, err := r.Resolve(t.Context(), "cached.example"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if calls.Load() != 2 {
			t.Errorf("expected a fresh lookup after expiry, got %d lookups", calls.Load())
		}
	})

	t.Run("empty answers return ErrNoAddress", func(t *testing.T) {
		t.Parallel()

		r := newCachingResolver(func(context.Context, string) ([]string, error) {
			return nil, nil
		}, time.Minute)
		if _, err := r.Resolve(t.Context(), "empty.example"); !errors.Is(err, ErrNoAddress) {
			t.Errorf("expected ErrNoAddress, got %v", err)
		}
	})
}
