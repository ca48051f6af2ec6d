package config

import "time"

// Defaults holds global settings read from the configuration file.
// Nil fields leave the current value untouched.
type Defaults struct {
	TotalConcurrency     *int           `yaml:"totalConcurrency,omitempty"`
	PerDomainConcurrency *int           `yaml:"perDomainConcurrency,omitempty"`
	PerIPConcurrency     *int           `yaml:"perIPConcurrency,omitempty"`
	DownloadDelay        *time.Duration `yaml:"downloadDelay,omitempty"`
	RandomizeDelay       *bool          `yaml:"randomizeDelay,omitempty"`
	DownloadTimeout      *time.Duration `yaml:"downloadTimeout,omitempty"`
	ConnectTimeout       *time.Duration `yaml:"connectTimeout,omitempty"`
	MaxSize              *int64         `yaml:"maxSize,omitempty"`
	WarnSize             *int64         `yaml:"warnSize,omitempty"`
	FailOnDataloss       *bool          `yaml:"failOnDataloss,omitempty"`
	TLSVerify            *bool          `yaml:"tlsVerify,omitempty"`
	BindAddress          string         `yaml:"bindAddress,omitempty"`
	Proxy                string         `yaml:"proxy,omitempty"`
	UserAgent            string         `yaml:"userAgent,omitempty"`
}

// File represents the structure of the .crawlcore configuration file.
type File struct {
	// Defaults overrides the built-in global settings.
	Defaults Defaults `yaml:"defaults,omitempty"`

	// Slots maps slot keys (host names, IP addresses or explicit
	// download_slot values) to their scheduling overrides.
	Slots map[string]SlotConfig `yaml:"slots,omitempty"`
}

// Apply merges the file into cfg. File values win over cfg values;
// per-slot entries are merged field by field into cfg.Slots.
func (f *File) Apply(cfg *Config) {
	d := f.Defaults
	setInt(&cfg.TotalConcurrency, d.TotalConcurrency)
	setInt(&cfg.PerDomainConcurrency, d.PerDomainConcurrency)
	setInt(&cfg.PerIPConcurrency, d.PerIPConcurrency)
	setDuration(&cfg.DownloadDelay, d.DownloadDelay)
	setBool(&cfg.RandomizeDelay, d.RandomizeDelay)
	setDuration(&cfg.DownloadTimeout, d.DownloadTimeout)
	setDuration(&cfg.ConnectTimeout, d.ConnectTimeout)
	setBool(&cfg.FailOnDataloss, d.FailOnDataloss)
	setBool(&cfg.TLSVerify, d.TLSVerify)
	if d.MaxSize != nil {
		cfg.MaxSize = *d.MaxSize
	}
	if d.WarnSize != nil {
		cfg.WarnSize = *d.WarnSize
	}
	if d.BindAddress != "" {
		cfg.BindAddress = d.BindAddress
	}
	if d.Proxy != "" {
		cfg.Proxy = d.Proxy
	}
	if d.UserAgent != "" {
		cfg.UserAgent = d.UserAgent
	}

	if cfg.Slots == nil {
		cfg.Slots = make(map[string]SlotConfig, len(f.Slots))
	}
	for key, override := range f.Slots {
		cfg.Slots[key] = cfg.Slots[key].merge(override)
	}
}

// merge returns s with the non-zero fields of o applied.
func (s SlotConfig) merge(o SlotConfig) SlotConfig {
	if o.Concurrency != 0 {
		s.Concurrency = o.Concurrency
	}
	if o.Delay != nil {
		v := *o.Delay
		s.Delay = &v
	}
	if o.RandomizeDelay != nil {
		v := *o.RandomizeDelay
		s.RandomizeDelay = &v
	}
	return s
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *time.Duration) {
	if v != nil {
		*dst = *v
	}
}
