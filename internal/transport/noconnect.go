package transport

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
)

// noConnectTransport sends https requests to an HTTP proxy in plain text,
// with the absolute URI on the request line, instead of opening a tunnel.
// Every request uses a fresh connection.
type noConnectTransport struct {
	proxyAddr string
	dial      dialFunc
}

// RoundTrip implements http.RoundTripper.
func (t *noConnectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	conn, err := t.dial(ctx, "tcp", t.proxyAddr)
	if err != nil {
		return nil, &ConnectError{Addr: t.proxyAddr, Err: err}
	}
	if trace := httptrace.ContextClientTrace(ctx); trace != nil && trace.GotConn != nil {
		trace.GotConn(httptrace.GotConnInfo{Conn: conn})
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })

	out := req.Clone(ctx)
	out.Close = true
	if err := out.WriteProxy(conn); err != nil {
		stop()
		_ = conn.Close()
		return nil, err
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), out)
	if err != nil {
		stop()
		_ = conn.Close()
		return nil, err
	}
	resp.Body = &connBody{ReadCloser: resp.Body, conn: conn, stop: stop}
	return resp, nil
}

// CloseIdleConnections is a no-op; connections are never reused.
func (t *noConnectTransport) CloseIdleConnections() {}

// connBody closes the connection with the response body.
type connBody struct {
	io.ReadCloser
	conn net.Conn
	stop func() bool
}

func (b *connBody) Close() error {
	b.stop()
	err := b.ReadCloser.Close()
	_ = b.conn.Close()
	return err
}
