package model

import (
	"crypto/x509"
	"net"
	"net/http"
	"slices"
)

// Response flags.
const (
	// FlagPartial marks a body delimited by connection close, whose completeness
	// cannot be confirmed.
	FlagPartial = "partial"

	// FlagDataLoss marks a body shorter than its declared length that was
	// accepted because fail-on-dataloss is disabled.
	FlagDataLoss = "dataloss"

	// FlagDownloadStopped marks a body cut short by a signal handler.
	FlagDownloadStopped = "download_stopped"
)

// Response is a downloaded HTTP response.
type Response struct {
	// URL is the request URL without its fragment.
	URL string

	// Status is the HTTP status code.
	Status int

	// Header holds the response headers.
	Header http.Header

	// Body is the received body.
	Body []byte

	// Flags describe how the body ended (see Flag constants).
	Flags []string

	// Protocol is the protocol label, e.g. "HTTP/1.1".
	Protocol string

	// Certificate is the peer leaf certificate for TLS connections.
	Certificate *x509.Certificate

	// IPAddress is the address of the peer the connection was made to.
	// For proxied requests this is the proxy.
	IPAddress net.IP

	// Request is the request that produced this response.
	Request *Request
}

// HasFlag reports whether flag is set on the response.
func (r *Response) HasFlag(flag string) bool {
	return slices.Contains(r.Flags, flag)
}
