package downloader

import (
	"math/rand/v2"
	"time"

	"github.com/nao1215/crawlcore/internal/config"
)

// Rand is the source of delay jitter.
type Rand interface {
	// Float64 returns a number in [0.0, 1.0).
	Float64() float64
}

// defaultRand draws from the math/rand/v2 global source.
type defaultRand struct{}

func (defaultRand) Float64() float64 { return rand.Float64() } //nolint:gosec // jitter, not crypto

// Overrides are crawl-wide settings that take precedence over the global
// defaults but not over per-slot settings.
type Overrides struct {
	// Concurrency replaces the per-domain (or per-IP) default when positive.
	Concurrency int

	// Delay replaces the global download delay when non-nil.
	Delay *time.Duration
}

// DelayPolicy resolves the concurrency, delay and jitter of a slot.
// Resolution order, highest first: per-slot settings, crawl overrides,
// global defaults.
type DelayPolicy struct {
	cfg       *config.Config
	overrides Overrides
}

// NewDelayPolicy creates a DelayPolicy over cfg.
func NewDelayPolicy(cfg *config.Config, overrides Overrides) *DelayPolicy {
	return &DelayPolicy{cfg: cfg, overrides: overrides}
}

// Concurrency returns the transfer limit for the slot key. It is at least 1.
func (p *DelayPolicy) Concurrency(key string) int {
	n := p.cfg.PerDomainConcurrency
	if p.cfg.PerIPConcurrency > 0 {
		n = p.cfg.PerIPConcurrency
	}
	if p.overrides.Concurrency > 0 {
		n = p.overrides.Concurrency
	}
	if s, ok := p.cfg.SlotSettings(key); ok && s.Concurrency > 0 {
		n = s.Concurrency
	}
	return max(n, 1)
}

// Delay returns the base download delay for the slot key.
func (p *DelayPolicy) Delay(key string) time.Duration {
	d := p.cfg.DownloadDelay
	if p.overrides.Delay != nil {
		d = *p.overrides.Delay
	}
	if s, ok := p.cfg.SlotSettings(key); ok && s.Delay != nil {
		d = *s.Delay
	}
	return max(d, 0)
}

// Randomize reports whether the slot's delay is jittered.
func (p *DelayPolicy) Randomize(key string) bool {
	if s, ok := p.cfg.SlotSettings(key); ok && s.RandomizeDelay != nil {
		return *s.RandomizeDelay
	}
	return p.cfg.RandomizeDelay
}

// Jitter scales delay by a uniform factor in [0.5, 1.5).
func Jitter(delay time.Duration, rnd Rand) time.Duration {
	return time.Duration(float64(delay) * (0.5 + rnd.Float64()))
}
