package downloader

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrNoAddress is returned when a host resolves to no address.
var ErrNoAddress = errors.New("host has no address")

// Resolver maps a host name to the address used as its slot key.
type Resolver interface {
	Resolve(ctx context.Context, host string) (string, error)
}

type cachedAddr struct {
	addr    string
	expires time.Time
}

// CachingResolver resolves host names and caches the first address for a
// fixed TTL. Concurrent lookups of one host share a single query.
type CachingResolver struct {
	lookup func(ctx context.Context, host string) ([]string, error)
	ttl    time.Duration
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]cachedAddr
	group singleflight.Group
}

// NewCachingResolver creates a CachingResolver over r (net.DefaultResolver
// when nil). A non-positive ttl disables caching.
func NewCachingResolver(r *net.Resolver, ttl time.Duration) *CachingResolver {
	if r == nil {
		r = net.DefaultResolver
	}
	return newCachingResolver(r.LookupHost, ttl)
}

func newCachingResolver(lookup func(context.Context, string) ([]string, error), ttl time.Duration) *CachingResolver {
	return &CachingResolver{
		lookup: lookup,
		ttl:    ttl,
		now:    time.Now,
		cache:  make(map[string]cachedAddr),
	}
}

// Resolve returns the cached or freshly looked-up address of host.
// IP literals are returned as-is.
func (c *CachingResolver) Resolve(ctx context.Context, host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip.String(), nil
	}

	c.mu.Lock()
	cached, ok := c.cache[host]
	c.mu.Unlock()
	if ok && c.now().Before(cached.expires) {
		return cached.addr, nil
	}

	v, err, _ := c.group.Do(host, func() (any, error) {
		addrs, err := c.lookup(ctx, host)
		if err != nil {
			return "", err
		}
		if len(addrs) == 0 {
			return "", ErrNoAddress
		}
		if c.ttl > 0 {
			c.mu.Lock()
			c.cache[host] = cachedAddr{addr: addrs[0], expires: c.now().Add(c.ttl)}
			c.mu.Unlock()
		}
		return addrs[0], nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil //nolint:forcetypeassert // always a string
}
