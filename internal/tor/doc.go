// Package tor runs an embedded Tor daemon whose SOCKS5 port serves as the
// default proxy of a crawl.
//
// The daemon is launched through tornago on OS assigned ports. ProxyURL
// returns a socks5h URL so host names are resolved by Tor rather than
// locally.
package tor
