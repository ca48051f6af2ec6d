// Package transport executes one admitted request over HTTP/1.1.
//
// The Agent picks a connection strategy from the request's proxy meta:
// a direct connection, a plain HTTP proxy (absolute URI on the request
// line), a CONNECT tunnel through an HTTP proxy for https targets, or a
// SOCKS5 proxy. Connections are pooled per destination and proxy identity,
// never shared between proxies.
//
// The response body is streamed in chunks and checked against a hard and a
// soft size ceiling. How the body ended decides the outcome: a clean end, a
// close-delimited end (flagged partial) or a truncated body (data loss).
package transport
