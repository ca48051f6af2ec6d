package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

// Default configuration values.
// Concurrency, timeout and size defaults follow the usual crawler settings.
const (
	// DefaultTotalConcurrency is the global ceiling on simultaneous transfers.
	DefaultTotalConcurrency = 16

	// DefaultPerDomainConcurrency is the default per-slot ceiling.
	DefaultPerDomainConcurrency = 8

	// DefaultDownloadTimeout is the wall-clock budget for one transfer.
	DefaultDownloadTimeout = 180 * time.Second

	// DefaultConnectTimeout bounds TCP connect and tunnel negotiation.
	DefaultConnectTimeout = 10 * time.Second

	// DefaultMaxSize is the hard response size ceiling (1 GiB).
	DefaultMaxSize = 1024 * 1024 * 1024

	// DefaultWarnSize is the soft response size ceiling (32 MiB).
	DefaultWarnSize = 32 * 1024 * 1024

	// DefaultSlotGCInterval is how often idle slots are collected.
	DefaultSlotGCInterval = 60 * time.Second

	// DefaultIdleSlotAge is how long a slot must be idle before collection.
	DefaultIdleSlotAge = 60 * time.Second

	// DefaultDNSCacheTTL is how long resolved addresses are reused for slot keys.
	DefaultDNSCacheTTL = 5 * time.Minute

	// DefaultUserAgent identifies crawlcore in HTTP requests.
	DefaultUserAgent = "crawlcore/1.0 (+https://github.com/nao1215/crawlcore)"

	// AppName is the application name used for XDG directory paths.
	AppName = "crawlcore"
)

// Config holds every setting consumed by the downloader, the transport agent
// and the CLI around them. It is populated from defaults, an optional YAML
// file, the environment and CLI flags, in that order.
type Config struct {
	// TotalConcurrency caps simultaneous transfers across all slots.
	TotalConcurrency int

	// PerDomainConcurrency is the default per-slot ceiling.
	PerDomainConcurrency int

	// PerIPConcurrency, when non-zero, keys slots by resolved IP address and
	// replaces PerDomainConcurrency as the per-slot default.
	PerIPConcurrency int

	// DownloadDelay is the minimum time between transfer starts in one slot.
	DownloadDelay time.Duration

	// RandomizeDelay multiplies the delay by a random factor in [0.5, 1.5).
	RandomizeDelay bool

	// Slots holds per-slot overrides keyed by slot key.
	Slots map[string]SlotConfig

	// DownloadTimeout is the default wall-clock budget per transfer.
	// Requests override it with the download_timeout meta key.
	DownloadTimeout time.Duration

	// ConnectTimeout bounds the TCP connect, TLS handshake and CONNECT negotiation.
	ConnectTimeout time.Duration

	// MaxSize is the hard response size ceiling in bytes. 0 disables it.
	MaxSize int64

	// WarnSize is the soft response size ceiling in bytes. 0 disables it.
	WarnSize int64

	// FailOnDataloss makes truncated bodies fail instead of being flagged.
	FailOnDataloss bool

	// SlotGCInterval is the period of the idle slot collector.
	SlotGCInterval time.Duration

	// IdleSlotAge is how long a slot must stay idle before it is collected.
	IdleSlotAge time.Duration

	// DNSCacheTTL is how long resolved addresses are cached for IP slot keys.
	DNSCacheTTL time.Duration

	// BindAddress is the default local address for outgoing connections.
	BindAddress string

	// TLSVerify enables certificate verification. Crawlers usually leave it
	// off so that misconfigured sites can still be fetched.
	TLSVerify bool

	// Proxy is the default proxy URL for requests that do not set one.
	Proxy string

	// UserAgent is the User-Agent header sent with requests.
	UserAgent string

	// Verbose enables debug logging.
	Verbose bool

	// LogFile, when set, receives a rotating copy of the log output.
	LogFile string

	// ConfigFilePath is the path of the YAML override file, if any.
	ConfigFilePath string

	// DBDir is the directory of the SQLite transfer log.
	DBDir string

	// SaveToDB records every fetch outcome in the transfer log.
	SaveToDB bool
}

// SlotConfig overrides scheduling settings for one slot. A zero
// Concurrency and nil pointers leave the setting untouched.
type SlotConfig struct {
	// Concurrency overrides the per-slot ceiling.
	Concurrency int `yaml:"concurrency,omitempty"`

	// Delay overrides the download delay. An explicit zero disables it.
	Delay *time.Duration `yaml:"delay,omitempty"`

	// RandomizeDelay overrides the jitter switch.
	RandomizeDelay *bool `yaml:"randomizeDelay,omitempty"`
}

// NewConfig creates a new Config with default values.
func NewConfig() *Config {
	return &Config{
		TotalConcurrency:     DefaultTotalConcurrency,
		PerDomainConcurrency: DefaultPerDomainConcurrency,
		RandomizeDelay:       true,
		Slots:                make(map[string]SlotConfig),
		DownloadTimeout:      DefaultDownloadTimeout,
		ConnectTimeout:       DefaultConnectTimeout,
		MaxSize:              DefaultMaxSize,
		WarnSize:             DefaultWarnSize,
		FailOnDataloss:       true,
		SlotGCInterval:       DefaultSlotGCInterval,
		IdleSlotAge:          DefaultIdleSlotAge,
		DNSCacheTTL:          DefaultDNSCacheTTL,
		UserAgent:            DefaultUserAgent,
		DBDir:                XDGDataDir(),
		SaveToDB:             true,
	}
}

// XDGDataDir returns the XDG data directory for crawlcore.
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for crawlcore.
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// Validate checks if the configuration is valid and returns the first problem found.
func (c *Config) Validate() error {
	if c.TotalConcurrency <= 0 {
		return ErrInvalidTotalConcurrency
	}
	if c.PerDomainConcurrency <= 0 {
		return ErrInvalidDomainConcurrency
	}
	if c.PerIPConcurrency < 0 {
		return ErrInvalidIPConcurrency
	}
	if c.DownloadDelay < 0 {
		return ErrInvalidDelay
	}
	if c.DownloadTimeout <= 0 || c.ConnectTimeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.MaxSize < 0 || c.WarnSize < 0 {
		return ErrInvalidSize
	}
	if c.SlotGCInterval <= 0 {
		return ErrInvalidGCInterval
	}
	for key, slot := range c.Slots {
		if slot.Concurrency < 0 || (slot.Delay != nil && *slot.Delay < 0) {
			return &SlotError{Key: key}
		}
	}
	return nil
}

// SlotSettings returns the override for key and whether one exists.
func (c *Config) SlotSettings(key string) (SlotConfig, bool) {
	s, ok := c.Slots[key]
	return s, ok
}
