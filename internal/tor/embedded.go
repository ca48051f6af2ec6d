package tor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nao1215/tornago"
)

// DefaultStartupTimeout bounds how long Start waits for Tor to bootstrap.
const DefaultStartupTimeout = 3 * time.Minute

// Daemon manages one embedded Tor process.
type Daemon struct {
	mu          sync.Mutex
	process     *tornago.TorProcess
	socksAddr   string
	controlAddr string

	startupTimeout time.Duration
	logger         *slog.Logger
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithStartupTimeout sets the maximum time to wait for Tor to bootstrap.
func WithStartupTimeout(timeout time.Duration) Option {
	return func(d *Daemon) {
		d.startupTimeout = timeout
	}
}

// WithLogger sets a custom logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(d *Daemon) {
		d.logger = logger
	}
}

// NewDaemon creates a Daemon. Call Start to launch the process.
func NewDaemon(opts ...Option) *Daemon {
	d := &Daemon{startupTimeout: DefaultStartupTimeout}
	for _, opt := range opts {
		opt(d)
	}
	if d.startupTimeout <= 0 {
		d.startupTimeout = DefaultStartupTimeout
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

// Start launches Tor and blocks until it has bootstrapped. Starting a
// running daemon returns ErrAlreadyRunning.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.process != nil {
		return ErrAlreadyRunning
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	launchCfg, err := tornago.NewTorLaunchConfig(
		tornago.WithTorSocksAddr(":0"),
		tornago.WithTorControlAddr(":0"),
		tornago.WithTorStartupTimeout(d.startupTimeout),
	)
	if err != nil {
		return fmt.Errorf("failed to create Tor launch config: %w", err)
	}

	d.logger.Info("starting embedded Tor daemon", "timeout", d.startupTimeout)
	started := time.Now()
	process, err := tornago.StartTorDaemon(launchCfg)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStartFailed, err)
	}

	// StartTorDaemon does not take a context.
	if err := ctx.Err(); err != nil {
		_ = process.Stop() //nolint:errcheck // best effort
		return err
	}

	d.process = process
	d.socksAddr = process.SocksAddr()
	d.controlAddr = process.ControlAddr()
	d.logger.Info("embedded Tor daemon ready",
		"socks", d.socksAddr, "elapsed", time.Since(started).Round(time.Millisecond))
	return nil
}

// Stop shuts the daemon down. It is safe to call on a stopped daemon.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.process == nil {
		return nil
	}
	err := d.process.Stop()
	d.process = nil
	d.socksAddr = ""
	d.controlAddr = ""
	return err
}

// SocksAddr returns the host:port of the SOCKS listener, or "" when the
// daemon is not running.
func (d *Daemon) SocksAddr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.socksAddr
}

// ControlAddr returns the host:port of the control port, or "".
func (d *Daemon) ControlAddr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.controlAddr
}

// IsRunning reports whether the daemon has been started and not stopped.
func (d *Daemon) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.process != nil
}

// ProxyURL returns the proxy to set as the crawl default.
func (d *Daemon) ProxyURL() (string, error) {
	addr := d.SocksAddr()
	if addr == "" {
		return "", ErrNotRunning
	}
	return ProxyURL(addr), nil
}

// ProxyURL turns a SOCKS listener address into a socks5h proxy URL.
func ProxyURL(socksAddr string) string {
	return "socks5h://" + socksAddr
}
