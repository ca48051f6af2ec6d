package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// tunnelState is the progress of a CONNECT negotiation.
type tunnelState int

const (
	stateConnecting tunnelState = iota
	stateAwaitingResponse
	stateEstablished
	stateFailed
)

func (s tunnelState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateAwaitingResponse:
		return "awaiting-tunnel-response"
	case stateEstablished:
		return "established"
	case stateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

const (
	// maxTunnelResponse bounds the proxy response head.
	maxTunnelResponse = 64 * 1024

	// tunnelErrorRawLimit is how much of an unparseable answer TunnelError keeps.
	tunnelErrorRawLimit = 1000
)

var (
	tunnelStatusRe = regexp.MustCompile(`^HTTP/1\.. (\d{3})(.{0,1000})`)
	headTerminator = []byte("\r\n\r\n")
)

// dialFunc matches net.Dialer.DialContext.
type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// tunnel opens a CONNECT tunnel to target through an HTTP proxy.
type tunnel struct {
	proxyHost string
	proxyPort string
	target    string
	auth      string
	timeout   time.Duration
	logger    *slog.Logger

	state tunnelState
}

// tunnelRequest renders the CONNECT request for host:port.
func tunnelRequest(host, port, auth string) []byte {
	hostport := net.JoinHostPort(host, port)
	var b bytes.Buffer
	fmt.Fprintf(&b, "CONNECT %s HTTP/1.1\r\n", hostport)
	fmt.Fprintf(&b, "Host: %s\r\n", hostport)
	if auth != "" {
		fmt.Fprintf(&b, "Proxy-Authorization: %s\r\n", auth)
	}
	b.WriteString("\r\n")
	return b.Bytes()
}

// dial connects to the proxy and negotiates the tunnel. The returned
// connection carries raw bytes to the target.
func (t *tunnel) dial(ctx context.Context, dial dialFunc) (net.Conn, error) {
	t.state = stateConnecting
	proxyAddr := net.JoinHostPort(t.proxyHost, t.proxyPort)
	conn, err := dial(ctx, "tcp", proxyAddr)
	if err != nil {
		t.state = stateFailed
		return nil, &ConnectError{Addr: proxyAddr, Err: err}
	}
	tunneled, err := t.negotiate(ctx, conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return tunneled, nil
}

// negotiate sends the CONNECT request over conn and reads the proxy's
// answer. Bytes received after the answer head are replayed by the
// returned connection.
func (t *tunnel) negotiate(ctx context.Context, conn net.Conn) (net.Conn, error) {
	proxyAddr := net.JoinHostPort(t.proxyHost, t.proxyPort)

	if t.timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(t.timeout))
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	host, port, err := net.SplitHostPort(t.target)
	if err != nil {
		t.state = stateFailed
		return nil, &ConnectError{Addr: t.target, Err: err}
	}

	t.state = stateAwaitingResponse
	if _, err := conn.Write(tunnelRequest(host, port, t.auth)); err != nil {
		t.state = stateFailed
		return nil, &ConnectError{Addr: proxyAddr, Err: t.contextErr(ctx, err)}
	}

	head, rest, err := readTunnelHead(conn)
	if err != nil {
		t.state = stateFailed
		if errors.Is(err, errHeadTooLarge) {
			return nil, t.failure(head)
		}
		return nil, &ConnectError{Addr: proxyAddr, Err: t.contextErr(ctx, err)}
	}

	m := tunnelStatusRe.FindSubmatch(head)
	if m == nil || string(m[1]) != "200" {
		t.state = stateFailed
		return nil, t.failure(head)
	}

	_ = conn.SetDeadline(time.Time{})
	t.state = stateEstablished
	t.logger.Debug("tunnel established", "proxy", proxyAddr, "target", t.target)

	if len(rest) == 0 {
		return conn, nil
	}
	return &prefixConn{Conn: conn, r: io.MultiReader(bytes.NewReader(rest), conn)}, nil
}

// failure builds the TunnelError for a rejected or unparseable answer.
func (t *tunnel) failure(head []byte) *TunnelError {
	e := &TunnelError{ProxyHost: t.proxyHost, ProxyPort: t.proxyPort}
	if m := tunnelStatusRe.FindSubmatch(head); m != nil {
		e.Status, _ = strconv.Atoi(string(m[1]))
		e.Reason = strings.TrimSpace(string(m[2]))
		return e
	}
	e.Raw = bytes.Clone(head[:min(len(head), tunnelErrorRawLimit)])
	return e
}

func (t *tunnel) contextErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

var errHeadTooLarge = errors.New("tunnel response head too large")

// readTunnelHead reads until the blank line ending the proxy's response
// head and returns the head and any bytes read past it.
func readTunnelHead(r io.Reader) (head, rest []byte, err error) {
	var buf []byte
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if i := bytes.Index(buf, headTerminator); i >= 0 {
			end := i + len(headTerminator)
			return buf[:end], buf[end:], nil
		}
		if len(buf) > maxTunnelResponse {
			return buf, nil, errHeadTooLarge
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return buf, nil, err
		}
	}
}

// prefixConn replays bytes already read from the connection before
// reading from it again.
type prefixConn struct {
	net.Conn
	r io.Reader
}

func (c *prefixConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}
