package transport

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrUnsupportedProxy is returned for proxy URLs with an unknown scheme.
var ErrUnsupportedProxy = errors.New("unsupported proxy scheme")

// ConnectError reports a failure to establish the connection: dialing the
// target or proxy, or the TLS handshake.
type ConnectError struct {
	Addr string
	Err  error
}

// Error implements error.
func (e *ConnectError) Error() string {
	return fmt.Sprintf("could not connect to %s: %v", e.Addr, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConnectError) Unwrap() error { return e.Err }

// TunnelError reports a CONNECT request the proxy did not accept.
// Status and Reason are set when the proxy answered with a parseable status
// line; otherwise Raw holds the start of what it sent.
type TunnelError struct {
	ProxyHost string
	ProxyPort string
	Status    int
	Reason    string
	Raw       []byte
}

// Error implements error.
func (e *TunnelError) Error() string {
	proxy := net.JoinHostPort(e.ProxyHost, e.ProxyPort)
	if e.Status != 0 {
		return fmt.Sprintf("could not open CONNECT tunnel with proxy %s [status=%d reason=%q]", proxy, e.Status, e.Reason)
	}
	return fmt.Sprintf("could not open CONNECT tunnel with proxy %s [%q]", proxy, e.Raw)
}

// TimeoutError reports a transfer that exceeded its download timeout.
type TimeoutError struct {
	URL     string
	Timeout time.Duration
	Elapsed time.Duration
}

// Error implements error.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("getting %s took longer than %v (gave up after %v)", e.URL, e.Timeout, e.Elapsed.Round(time.Millisecond))
}

// SizeExceededError reports a body over the hard size ceiling. Expected is
// set when the declared length was rejected before reading.
type SizeExceededError struct {
	URL      string
	Size     int64
	MaxSize  int64
	Expected bool
}

// Error implements error.
func (e *SizeExceededError) Error() string {
	if e.Expected {
		return fmt.Sprintf("cancelled download of %s: expected response size (%d) larger than download max size (%d)", e.URL, e.Size, e.MaxSize)
	}
	return fmt.Sprintf("cancelled download of %s: received %d bytes, larger than download max size (%d)", e.URL, e.Size, e.MaxSize)
}

// DataLossError reports a body that ended before its declared end.
// Expected is -1 for chunked bodies.
type DataLossError struct {
	URL      string
	Received int64
	Expected int64
}

// Error implements error.
func (e *DataLossError) Error() string {
	if e.Expected >= 0 {
		return fmt.Sprintf("data loss in %s: received %d of %d bytes", e.URL, e.Received, e.Expected)
	}
	return fmt.Sprintf("data loss in %s: connection lost after %d bytes", e.URL, e.Received)
}

// TransferError wraps any other failure while sending the request or
// reading the response.
type TransferError struct {
	URL string
	Err error
}

// Error implements error.
func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer of %s failed: %v", e.URL, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransferError) Unwrap() error { return e.Err }
