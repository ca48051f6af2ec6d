package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptrace"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nao1215/crawlcore/internal/config"
	"github.com/nao1215/crawlcore/internal/model"
	"github.com/nao1215/crawlcore/internal/signal"
)

const (
	// idleConnTimeout is how long pooled connections stay open unused.
	idleConnTimeout = 240 * time.Second

	// closeTimeout bounds how long Close waits for pools to disconnect.
	closeTimeout = time.Second

	defaultMaxIdleConnsPerHost = 4
)

// Options holds the agent-wide defaults. Request meta keys override the
// timeout, size ceilings, data loss policy and bind address per request.
type Options struct {
	ConnectTimeout      time.Duration
	DownloadTimeout     time.Duration
	MaxSize             int64
	WarnSize            int64
	FailOnDataloss      bool
	BindAddress         string
	TLSVerify           bool
	MaxIdleConnsPerHost int
}

// OptionsFromConfig copies the transport settings of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ConnectTimeout:      cfg.ConnectTimeout,
		DownloadTimeout:     cfg.DownloadTimeout,
		MaxSize:             cfg.MaxSize,
		WarnSize:            cfg.WarnSize,
		FailOnDataloss:      cfg.FailOnDataloss,
		BindAddress:         cfg.BindAddress,
		TLSVerify:           cfg.TLSVerify,
		MaxIdleConnsPerHost: max(cfg.PerDomainConcurrency, defaultMaxIdleConnsPerHost),
	}
}

// Agent executes requests over pooled HTTP/1.1 connections.
// It is safe for concurrent use.
type Agent struct {
	opts    Options
	logger  *slog.Logger
	signals signal.Sink

	mu    sync.Mutex
	pools map[poolKey]http.RoundTripper

	datalossWarned atomic.Bool
}

// AgentOption configures an Agent.
type AgentOption func(*Agent)

// WithLogger sets a custom logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) AgentOption {
	return func(a *Agent) {
		a.logger = logger
	}
}

// WithSignals sets the sink for header, chunk and download notifications.
func WithSignals(sink signal.Sink) AgentOption {
	return func(a *Agent) {
		a.signals = sink
	}
}

// NewAgent creates an Agent. Zero timeouts fall back to the config defaults.
func NewAgent(opts Options, agentOpts ...AgentOption) *Agent {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = config.DefaultConnectTimeout
	}
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = config.DefaultDownloadTimeout
	}
	if opts.MaxIdleConnsPerHost <= 0 {
		opts.MaxIdleConnsPerHost = defaultMaxIdleConnsPerHost
	}

	a := &Agent{
		opts:  opts,
		pools: make(map[poolKey]http.RoundTripper),
	}
	for _, opt := range agentOpts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.signals == nil {
		a.signals = signal.Nop{}
	}
	return a
}

type transferResult struct {
	resp    *model.Response
	latency time.Duration
	err     error
}

// Execute sends req and reads the whole response body.
//
// The transfer races a timer of download_timeout (or the agent default);
// when the timer wins the transfer is cancelled and a *TimeoutError is
// returned. ctx cancellation aborts the transfer the same way.
func (a *Agent) Execute(ctx context.Context, req *model.Request) (*model.Response, error) {
	req.EnsureMeta()
	timeout := a.opts.DownloadTimeout
	if v, ok := req.Meta.Duration(model.MetaDownloadTimeout); ok && v > 0 {
		timeout = v
	}

	r, err := a.route(req)
	if err != nil {
		return nil, &TransferError{URL: req.URL.String(), Err: err}
	}
	rt, err := a.transportFor(r)
	if err != nil {
		return nil, &TransferError{URL: req.URL.String(), Err: err}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := time.Now()
	results := make(chan transferResult, 1)
	go func() {
		results <- a.transfer(ctx, rt, r, req, start)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-results:
		if res.latency > 0 {
			req.Meta[model.MetaDownloadLatency] = res.latency
		}
		return res.resp, res.err
	case <-timer.C:
		cancel()
		return nil, &TimeoutError{URL: req.URL.String(), Timeout: timeout, Elapsed: time.Since(start)}
	}
}

// peerAddr records the remote address of the connection a request used.
type peerAddr struct {
	mu sync.Mutex
	ip net.IP
}

func (p *peerAddr) set(addr net.Addr) {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		host, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			return
		}
		tcp = &net.TCPAddr{IP: net.ParseIP(host)}
	}
	p.mu.Lock()
	p.ip = tcp.IP
	p.mu.Unlock()
}

func (p *peerAddr) get() net.IP {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ip
}

// transfer runs on its own goroutine and must not touch req.Meta.
func (a *Agent) transfer(ctx context.Context, rt http.RoundTripper, r route, req *model.Request, start time.Time) transferResult {
	peer := &peerAddr{}
	ctx = httptrace.WithClientTrace(ctx, &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) {
			if info.Conn != nil {
				peer.set(info.Conn.RemoteAddr())
			}
		},
	})

	httpReq, err := a.newHTTPRequest(ctx, req, r)
	if err != nil {
		return transferResult{err: &TransferError{URL: req.URL.String(), Err: err}}
	}

	httpResp, err := rt.RoundTrip(httpReq)
	if err != nil {
		return transferResult{err: a.classify(ctx, req, r, err)}
	}
	latency := time.Since(start)

	resp := &model.Response{
		URL:       req.URL.String(),
		Status:    httpResp.StatusCode,
		Header:    httpResp.Header.Clone(),
		Protocol:  httpResp.Proto,
		IPAddress: peer.get(),
		Request:   req,
	}
	if httpResp.TLS != nil && len(httpResp.TLS.PeerCertificates) > 0 {
		resp.Certificate = httpResp.TLS.PeerCertificates[0]
	}

	resp, err = a.newBodyReader(req, httpResp).read(ctx, httpResp.Body, resp)
	return transferResult{resp: resp, latency: latency, err: err}
}

// newHTTPRequest converts req for the round tripper of r. The fragment is
// dropped; a Host header sets the request host; for tunnels the
// Proxy-Authorization header is kept off the wire to the target.
func (a *Agent) newHTTPRequest(ctx context.Context, req *model.Request, r route) (*http.Request, error) {
	u := *req.URL
	u.Fragment = ""
	u.RawFragment = ""

	var body io.Reader = http.NoBody
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), body)
	if err != nil {
		return nil, err
	}

	httpReq.Header = req.Header.Clone()
	if httpReq.Header == nil {
		httpReq.Header = make(http.Header)
	}
	if host := httpReq.Header.Get("Host"); host != "" {
		httpReq.Host = host
		httpReq.Header.Del("Host")
	}
	if r.strategy == strategyTunnel || r.strategy == strategyDirect {
		httpReq.Header.Del(headerProxyAuthorization)
	}
	return httpReq, nil
}

// classify maps a round trip failure to the package's error types.
func (a *Agent) classify(ctx context.Context, req *model.Request, r route, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	var tunnelErr *TunnelError
	if errors.As(err, &tunnelErr) {
		return tunnelErr
	}
	var connectErr *ConnectError
	if errors.As(err, &connectErr) {
		return connectErr
	}

	addr := req.URL.Host
	if r.proxy != nil {
		addr = net.JoinHostPort(r.key.proxyHost, r.key.proxyPort)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && (opErr.Op == "dial" || opErr.Op == "proxyconnect") {
		return &ConnectError{Addr: addr, Err: err}
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &ConnectError{Addr: addr, Err: err}
	}
	if isTLSError(err) {
		return &ConnectError{Addr: req.URL.Host, Err: err}
	}
	return &TransferError{URL: req.URL.String(), Err: err}
}

func isTLSError(err error) bool {
	var (
		recordErr tls.RecordHeaderError
		alertErr  tls.AlertError
		verifyErr *tls.CertificateVerificationError
	)
	return errors.As(err, &recordErr) || errors.As(err, &alertErr) || errors.As(err, &verifyErr)
}

// Close closes the idle connections of every pool. It waits at most one
// second for them to go away.
func (a *Agent) Close() error {
	a.mu.Lock()
	pools := make([]http.RoundTripper, 0, len(a.pools))
	for _, rt := range a.pools {
		pools = append(pools, rt)
	}
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, rt := range pools {
			if c, ok := rt.(interface{ CloseIdleConnections() }); ok {
				c.CloseIdleConnections()
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(closeTimeout):
		a.logger.Warn("timed out closing idle connections", "pools", len(pools))
	}
	return nil
}
