package transport

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nao1215/crawlcore/internal/model"
	"golang.org/x/net/proxy"
)

// strategy is how a request reaches its target.
type strategy int

const (
	strategyDirect strategy = iota
	strategyProxy
	strategyNoConnect
	strategyTunnel
	strategySOCKS
)

func (s strategy) String() string {
	switch s {
	case strategyDirect:
		return "direct"
	case strategyProxy:
		return "http-proxy"
	case strategyNoConnect:
		return "http-proxy-noconnect"
	case strategyTunnel:
		return "connect-tunnel"
	case strategySOCKS:
		return "socks5"
	default:
		return "unknown"
	}
}

// poolKey identifies a connection pool. Targets are keyed by the transports
// themselves; the key separates proxy identities and bind addresses.
type poolKey struct {
	strategy    strategy
	proxyScheme string
	proxyHost   string
	proxyPort   string
	proxyAuth   string
	bindAddress string
}

// route is the resolved strategy for one request.
type route struct {
	strategy strategy
	proxy    *url.URL
	key      poolKey

	// auth is the Proxy-Authorization value sent with the CONNECT request.
	auth string
}

const (
	headerProxyAuthorization = "Proxy-Authorization"
	noConnectParam           = "noconnect"
)

// parseProxy parses a proxy meta value. Values without a scheme are HTTP
// proxies.
func parseProxy(raw string) (*url.URL, error) {
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy %q: %w", raw, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	switch u.Scheme {
	case "http", "socks5", "socks5h":
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProxy, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("invalid proxy %q: missing host", raw)
	}
	return u, nil
}

// proxyPort returns the explicit port or the scheme default.
func proxyPort(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}
	if strings.HasPrefix(u.Scheme, "socks5") {
		return "1080"
	}
	return "80"
}

// basicAuth returns the Basic credentials of the proxy URL user info.
func basicAuth(u *url.URL) string {
	if u.User == nil {
		return ""
	}
	pass, _ := u.User.Password()
	creds := u.User.Username() + ":" + pass
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(creds))
}

// selectStrategy picks the strategy for target through proxy (nil for none).
func selectStrategy(target *url.URL, proxyURL *url.URL) strategy {
	switch {
	case proxyURL == nil:
		return strategyDirect
	case strings.HasPrefix(proxyURL.Scheme, "socks5"):
		return strategySOCKS
	case strings.EqualFold(target.Scheme, "https"):
		if proxyURL.Query().Has(noConnectParam) {
			return strategyNoConnect
		}
		return strategyTunnel
	default:
		return strategyProxy
	}
}

// route resolves the strategy, pool key and tunnel credentials of req.
func (a *Agent) route(req *model.Request) (route, error) {
	bind := a.opts.BindAddress
	if v, ok := req.Meta.String(model.MetaBindAddress); ok {
		bind = v
	}

	raw, ok := req.Meta.String(model.MetaProxy)
	if !ok {
		return route{
			strategy: strategyDirect,
			key:      poolKey{strategy: strategyDirect, bindAddress: bind},
		}, nil
	}

	proxyURL, err := parseProxy(raw)
	if err != nil {
		return route{}, err
	}
	r := route{
		strategy: selectStrategy(req.URL, proxyURL),
		proxy:    proxyURL,
	}
	r.key = poolKey{
		strategy:    r.strategy,
		proxyScheme: proxyURL.Scheme,
		proxyHost:   strings.ToLower(proxyURL.Hostname()),
		proxyPort:   proxyPort(proxyURL),
		bindAddress: bind,
	}

	switch r.strategy {
	case strategyTunnel:
		r.auth = req.Header.Get(headerProxyAuthorization)
		if r.auth == "" {
			r.auth = basicAuth(proxyURL)
		}
		r.key.proxyAuth = r.auth
	case strategyProxy, strategySOCKS:
		if proxyURL.User != nil {
			r.key.proxyAuth = proxyURL.User.String()
		}
	}
	return r, nil
}

// transportFor returns the pooled round tripper for r, creating it on first use.
func (a *Agent) transportFor(r route) (http.RoundTripper, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if rt, ok := a.pools[r.key]; ok {
		return rt, nil
	}

	dialer, err := a.newDialer(r.key.bindAddress)
	if err != nil {
		return nil, err
	}

	var rt http.RoundTripper
	switch r.strategy {
	case strategyDirect:
		rt = a.newHTTPTransport(dialer.DialContext)
	case strategyProxy:
		t := a.newHTTPTransport(dialer.DialContext)
		t.Proxy = http.ProxyURL(proxyWithoutParams(r.proxy))
		rt = t
	case strategyNoConnect:
		rt = &noConnectTransport{
			proxyAddr: net.JoinHostPort(r.key.proxyHost, r.key.proxyPort),
			dial:      dialer.DialContext,
		}
	case strategyTunnel:
		rt = a.newTunnelTransport(r, dialer.DialContext)
	case strategySOCKS:
		dial, err := a.socksDialer(r, dialer)
		if err != nil {
			return nil, err
		}
		rt = a.newHTTPTransport(dial)
	}

	a.pools[r.key] = rt
	a.logger.Debug("connection pool created", "strategy", r.strategy.String(),
		"proxy", net.JoinHostPort(r.key.proxyHost, r.key.proxyPort), "bindaddress", r.key.bindAddress)
	return rt, nil
}

// proxyWithoutParams strips query parameters meant for the agent.
func proxyWithoutParams(u *url.URL) *url.URL {
	c := *u
	c.RawQuery = ""
	return &c
}

func (a *Agent) newDialer(bind string) (*net.Dialer, error) {
	d := &net.Dialer{Timeout: a.opts.ConnectTimeout, KeepAlive: 30 * time.Second}
	if bind == "" {
		return d, nil
	}
	if _, _, err := net.SplitHostPort(bind); err != nil {
		bind = net.JoinHostPort(bind, "0")
	}
	addr, err := net.ResolveTCPAddr("tcp", bind)
	if err != nil {
		return nil, fmt.Errorf("invalid bind address %q: %w", bind, err)
	}
	d.LocalAddr = addr
	return d, nil
}

func (a *Agent) tlsConfig(serverName string) *tls.Config {
	return &tls.Config{
		ServerName:         serverName,
		InsecureSkipVerify: !a.opts.TLSVerify, //nolint:gosec // crawlers fetch sites with broken certificates
		NextProtos:         []string{"http/1.1"},
	}
}

func (a *Agent) newHTTPTransport(dial dialFunc) *http.Transport {
	return &http.Transport{
		DialContext:         dial,
		TLSClientConfig:     a.tlsConfig(""),
		TLSHandshakeTimeout: a.opts.ConnectTimeout,
		MaxIdleConnsPerHost: a.opts.MaxIdleConnsPerHost,
		IdleConnTimeout:     idleConnTimeout,
		DisableCompression:  true,
		// HTTP/1.1 only.
		TLSNextProto: map[string]func(string, *tls.Conn) http.RoundTripper{},
	}
}

// newTunnelTransport returns a transport whose TLS dialer opens a CONNECT
// tunnel per target address. net/http pools the resulting connections by
// target, so each target gets its own tunnel and this proxy identity its
// own pool.
func (a *Agent) newTunnelTransport(r route, dial dialFunc) *http.Transport {
	t := a.newHTTPTransport(dial)
	t.DialTLSContext = func(ctx context.Context, _, addr string) (net.Conn, error) {
		tn := &tunnel{
			proxyHost: r.key.proxyHost,
			proxyPort: r.key.proxyPort,
			target:    addr,
			auth:      r.auth,
			timeout:   a.opts.ConnectTimeout,
			logger:    a.logger,
		}
		conn, err := tn.dial(ctx, dial)
		if err != nil {
			return nil, err
		}
		host, _, _ := net.SplitHostPort(addr)
		tlsConn := tls.Client(conn, a.tlsConfig(host))
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			_ = conn.Close()
			return nil, &ConnectError{Addr: addr, Err: err}
		}
		return tlsConn, nil
	}
	return t
}

// socksDialer returns a dial function through the SOCKS5 proxy of r.
// socks5 resolves target names locally, socks5h leaves it to the proxy.
func (a *Agent) socksDialer(r route, forward *net.Dialer) (dialFunc, error) {
	var auth *proxy.Auth
	if r.proxy.User != nil {
		pass, _ := r.proxy.User.Password()
		auth = &proxy.Auth{User: r.proxy.User.Username(), Password: pass}
	}
	d, err := proxy.SOCKS5("tcp", net.JoinHostPort(r.key.proxyHost, r.key.proxyPort), auth, forward)
	if err != nil {
		return nil, fmt.Errorf("socks5 proxy: %w", err)
	}
	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("socks5 proxy: dialer does not support contexts")
	}
	if r.proxy.Scheme == "socks5" {
		return func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			if net.ParseIP(host) == nil {
				ips, err := net.DefaultResolver.LookupHost(ctx, host)
				if err != nil {
					return nil, err
				}
				addr = net.JoinHostPort(ips[0], port)
			}
			return cd.DialContext(ctx, network, addr)
		}, nil
	}
	return cd.DialContext, nil
}
