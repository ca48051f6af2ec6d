package model

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Meta keys understood by the downloader and the transport agent.
const (
	// MetaProxy is the proxy URL for the request (http, https, socks5, socks5h).
	// A "noconnect" query parameter on an http proxy disables CONNECT tunneling.
	MetaProxy = "proxy"

	// MetaBindAddress is the local address ("host" or "host:port") to bind outgoing connections to.
	MetaBindAddress = "bindaddress"

	// MetaDownloadTimeout overrides the agent's default download timeout.
	MetaDownloadTimeout = "download_timeout"

	// MetaMaxSize overrides the hard response size ceiling in bytes. 0 disables it.
	MetaMaxSize = "download_maxsize"

	// MetaWarnSize overrides the soft response size ceiling in bytes. 0 disables it.
	MetaWarnSize = "download_warnsize"

	// MetaFailOnDataloss overrides whether truncated bodies are failures.
	MetaFailOnDataloss = "download_fail_on_dataloss"

	// MetaDownloadSlot holds the slot key. Set it to force a slot; the
	// downloader writes the derived key back when it is absent.
	MetaDownloadSlot = "download_slot"

	// MetaDownloadLatency is set by the agent to the time between sending
	// the request and receiving the response headers.
	MetaDownloadLatency = "download_latency"
)

// Request is a single fetch request travelling through the downloader.
type Request struct {
	// Method is the HTTP method. Empty means GET.
	Method string

	// URL is the target URL.
	URL *url.URL

	// Header holds the request headers.
	Header http.Header

	// Body is the request body, sent as-is.
	Body []byte

	// Meta carries per-request settings and side-effect values.
	Meta Meta
}

// NewRequest parses rawURL and returns a GET request when method is empty.
func NewRequest(method, rawURL string) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid request URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid request URL %q: scheme and host are required", rawURL)
	}
	if method == "" {
		method = http.MethodGet
	}
	return &Request{
		Method: strings.ToUpper(method),
		URL:    u,
		Header: make(http.Header),
		Meta:   make(Meta),
	}, nil
}

// String returns a short form such as "<GET https://example.com/>".
func (r *Request) String() string {
	return fmt.Sprintf("<%s %s>", r.method(), r.URL.String())
}

func (r *Request) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return r.Method
}

// EnsureMeta initializes Meta and Header when the request was built by hand.
func (r *Request) EnsureMeta() {
	if r.Meta == nil {
		r.Meta = make(Meta)
	}
	if r.Header == nil {
		r.Header = make(http.Header)
	}
}

// Meta is the free-form metadata map of a request.
type Meta map[string]any

// String returns the string value stored under key.
func (m Meta) String(key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	switch s := v.(type) {
	case string:
		return s, s != ""
	case fmt.Stringer:
		str := s.String()
		return str, str != ""
	default:
		return "", false
	}
}

// Duration returns the duration stored under key. Numbers are read as seconds.
func (m Meta) Duration(key string) (time.Duration, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch d := v.(type) {
	case time.Duration:
		return d, true
	case float64:
		return time.Duration(d * float64(time.Second)), true
	case float32:
		return time.Duration(float64(d) * float64(time.Second)), true
	case int:
		return time.Duration(d) * time.Second, true
	case int64:
		return time.Duration(d) * time.Second, true
	case string:
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

// Int64 returns the integer stored under key.
func (m Meta) Int64(key string) (int64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true //nolint:gosec // sizes never approach the int64 limit
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

// Bool returns the boolean stored under key.
func (m Meta) Bool(key string) (bool, bool) {
	v, ok := m[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}
