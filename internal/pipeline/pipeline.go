package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/nao1215/crawlcore/internal/model"
)

// DownloadFunc fetches one request. Downloader.Fetch is the usual innermost
// DownloadFunc.
type DownloadFunc func(ctx context.Context, req *model.Request) (*model.Response, error)

// Middleware decorates a DownloadFunc.
type Middleware interface {
	// Name returns the middleware name for logging.
	Name() string

	// Wrap returns a DownloadFunc calling next.
	Wrap(next DownloadFunc) DownloadFunc
}

// Chain is an ordered list of middlewares.
type Chain struct {
	middlewares []Middleware
	logger      *slog.Logger
}

// Option configures a Chain.
type Option func(*Chain)

// WithLogger sets a custom logger for the chain.
// If not set, slog.Default() is used.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Chain) {
		c.logger = logger
	}
}

// New creates an empty Chain.
func New(opts ...Option) *Chain {
	c := &Chain{
		middlewares: make([]Middleware, 0),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Use appends middlewares. The first one added is the outermost.
func (c *Chain) Use(middlewares ...Middleware) {
	c.middlewares = append(c.middlewares, middlewares...)
}

// Then returns fetch wrapped by every middleware of the chain. The returned
// function logs each outcome at debug level.
func (c *Chain) Then(fetch DownloadFunc) DownloadFunc {
	wrapped := fetch
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		wrapped = c.middlewares[i].Wrap(wrapped)
	}

	return func(ctx context.Context, req *model.Request) (*model.Response, error) {
		start := time.Now()
		resp, err := wrapped(ctx, req)
		if err != nil {
			c.logger.Debug("fetch failed",
				"request", req.String(),
				"kind", ErrorKind(err),
				"elapsed", time.Since(start),
				"error", err,
			)
			return resp, err
		}
		c.logger.Debug("fetch completed",
			"request", req.String(),
			"status", resp.Status,
			"bytes", len(resp.Body),
			"elapsed", time.Since(start),
		)
		return resp, nil
	}
}

// Len returns the number of middlewares in the chain.
func (c *Chain) Len() int {
	return len(c.middlewares)
}

// Names returns the middleware names from outermost to innermost.
func (c *Chain) Names() []string {
	names := make([]string, len(c.middlewares))
	for i, m := range c.middlewares {
		names[i] = m.Name()
	}
	return names
}
