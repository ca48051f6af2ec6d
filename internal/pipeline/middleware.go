package pipeline

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/nao1215/crawlcore/internal/model"
	"golang.org/x/net/http/httpproxy"
)

// MetaRetryTimes counts the retries already made for a request.
const MetaRetryTimes = "retry_times"

// DefaultRetryTimes is the retry budget used by NewRetry for non-positive values.
const DefaultRetryTimes = 2

// DefaultHeaders sets a User-Agent and fixed headers on requests that do
// not carry them yet.
type DefaultHeaders struct {
	userAgent string
	header    http.Header
}

// NewDefaultHeaders creates a DefaultHeaders middleware. header may be nil.
func NewDefaultHeaders(userAgent string, header http.Header) *DefaultHeaders {
	if header == nil {
		header = make(http.Header)
	}
	return &DefaultHeaders{userAgent: userAgent, header: header.Clone()}
}

// Name implements Middleware.
func (m *DefaultHeaders) Name() string {
	return "default_headers"
}

// Wrap implements Middleware.
func (m *DefaultHeaders) Wrap(next DownloadFunc) DownloadFunc {
	return func(ctx context.Context, req *model.Request) (*model.Response, error) {
		req.EnsureMeta()
		if m.userAgent != "" && req.Header.Get("User-Agent") == "" {
			req.Header.Set("User-Agent", m.userAgent)
		}
		for key, values := range m.header {
			if _, ok := req.Header[key]; ok {
				continue
			}
			req.Header[key] = append([]string(nil), values...)
		}
		return next(ctx, req)
	}
}

// HTTPProxy assigns a proxy to requests without one and turns proxy URL
// credentials into a Proxy-Authorization header.
//
// Credentials of http proxies move from the proxy meta to the header, so
// the transport can tell them apart from the target's. SOCKS proxies keep
// their user info, which the transport uses for SOCKS authentication.
type HTTPProxy struct {
	proxyFor func(*url.URL) (*url.URL, error)
	logger   *slog.Logger
}

// NewHTTPProxy creates an HTTPProxy sending every request through rawProxy.
// An empty rawProxy only handles credentials of per-request proxies.
func NewHTTPProxy(rawProxy string, logger *slog.Logger) (*HTTPProxy, error) {
	m := &HTTPProxy{logger: loggerOrDefault(logger)}
	if rawProxy == "" {
		m.proxyFor = func(*url.URL) (*url.URL, error) { return nil, nil }
		return m, nil
	}
	if !strings.Contains(rawProxy, "://") {
		rawProxy = "http://" + rawProxy
	}
	proxyURL, err := url.Parse(rawProxy)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy %q: %w", rawProxy, err)
	}
	m.proxyFor = func(*url.URL) (*url.URL, error) { return proxyURL, nil }
	return m, nil
}

// NewHTTPProxyFromEnvironment creates an HTTPProxy reading HTTP_PROXY,
// HTTPS_PROXY and NO_PROXY (or their lowercase forms).
func NewHTTPProxyFromEnvironment(logger *slog.Logger) *HTTPProxy {
	return &HTTPProxy{
		proxyFor: httpproxy.FromEnvironment().ProxyFunc(),
		logger:   loggerOrDefault(logger),
	}
}

// Name implements Middleware.
func (m *HTTPProxy) Name() string {
	return "http_proxy"
}

// Wrap implements Middleware.
func (m *HTTPProxy) Wrap(next DownloadFunc) DownloadFunc {
	return func(ctx context.Context, req *model.Request) (*model.Response, error) {
		req.EnsureMeta()
		if err := m.apply(req); err != nil {
			return nil, err
		}
		return next(ctx, req)
	}
}

func (m *HTTPProxy) apply(req *model.Request) error {
	raw, ok := req.Meta.String(model.MetaProxy)
	if !ok {
		proxyURL, err := m.proxyFor(req.URL)
		if err != nil {
			return fmt.Errorf("proxy lookup for %s: %w", req.URL.Host, err)
		}
		if proxyURL == nil {
			req.Header.Del("Proxy-Authorization")
			return nil
		}
		raw = proxyURL.String()
	}

	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	proxyURL, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid proxy %q: %w", raw, err)
	}

	if proxyURL.User != nil && strings.EqualFold(proxyURL.Scheme, "http") {
		pass, _ := proxyURL.User.Password()
		creds := proxyURL.User.Username() + ":" + pass
		req.Header.Set("Proxy-Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(creds)))
		proxyURL.User = nil
		m.logger.Debug("moved proxy credentials to header", "proxy", proxyURL.Redacted())
	}
	req.Meta[model.MetaProxy] = proxyURL.String()
	return nil
}

// Retry re-runs a fetch that failed with a timeout, a connect or tunnel
// failure, or data loss. Each attempt goes through the rest of the chain
// again and is admitted into the downloader anew.
type Retry struct {
	maxRetries int
	logger     *slog.Logger
}

// RetryOption configures a Retry middleware.
type RetryOption func(*Retry)

// WithRetryLogger sets a custom logger for the retry middleware.
func WithRetryLogger(logger *slog.Logger) RetryOption {
	return func(r *Retry) {
		r.logger = logger
	}
}

// NewRetry creates a Retry middleware allowing maxRetries retries.
// Non-positive values fall back to DefaultRetryTimes.
func NewRetry(maxRetries int, opts ...RetryOption) *Retry {
	r := &Retry{maxRetries: maxRetries}
	if r.maxRetries <= 0 {
		r.maxRetries = DefaultRetryTimes
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = loggerOrDefault(r.logger)
	return r
}

// Name implements Middleware.
func (m *Retry) Name() string {
	return "retry"
}

// Wrap implements Middleware.
func (m *Retry) Wrap(next DownloadFunc) DownloadFunc {
	return func(ctx context.Context, req *model.Request) (*model.Response, error) {
		req.EnsureMeta()
		for {
			resp, err := next(ctx, req)
			if err == nil || !Retryable(err) || ctx.Err() != nil {
				return resp, err
			}

			retries, _ := req.Meta.Int64(MetaRetryTimes)
			if retries >= int64(m.maxRetries) {
				m.logger.Warn("gave up retrying",
					"request", req.String(),
					"retries", retries,
					"error", err,
				)
				return resp, err
			}
			req.Meta[MetaRetryTimes] = retries + 1
			m.logger.Debug("retrying",
				"request", req.String(),
				"attempt", retries+1,
				"kind", ErrorKind(err),
			)
		}
	}
}

func loggerOrDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
