package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/nao1215/crawlcore/internal/model"
	"golang.org/x/sync/errgroup"
)

const (
	defaultBatchConcurrency = 16
	defaultBackoutPoll      = 50 * time.Millisecond
)

// BatchFetcher fetches many requests concurrently.
type BatchFetcher struct {
	fetch       DownloadFunc
	concurrency int
	backout     func() bool
	poll        time.Duration
	logger      *slog.Logger
}

// BatchOption configures a BatchFetcher.
type BatchOption func(*BatchFetcher)

// WithBatchLogger sets a custom logger for batch fetching.
func WithBatchLogger(logger *slog.Logger) BatchOption {
	return func(b *BatchFetcher) {
		b.logger = logger
	}
}

// WithConcurrency sets the maximum number of fetches in flight.
// Default is 16 if not specified.
func WithConcurrency(n int) BatchOption {
	return func(b *BatchFetcher) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// WithBackout sets the check consulted before each new fetch; while it
// returns true no new fetch starts. Downloader.NeedsBackout is the usual one.
func WithBackout(needsBackout func() bool) BatchOption {
	return func(b *BatchFetcher) {
		b.backout = needsBackout
	}
}

// WithBackoutPoll sets how often a paused batch re-checks backout.
func WithBackoutPoll(d time.Duration) BatchOption {
	return func(b *BatchFetcher) {
		if d > 0 {
			b.poll = d
		}
	}
}

// NewBatchFetcher creates a BatchFetcher calling fetch for each request.
func NewBatchFetcher(fetch DownloadFunc, opts ...BatchOption) *BatchFetcher {
	b := &BatchFetcher{
		fetch:       fetch,
		concurrency: defaultBatchConcurrency,
		backout:     func() bool { return false },
		poll:        defaultBackoutPoll,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return b
}

// FetchAll fetches every request and returns one result per request, in
// request order. Failed fetches are results too. When ctx ends before all
// requests started, the error is set and the unstarted entries are nil.
func (b *BatchFetcher) FetchAll(ctx context.Context, reqs []*model.Request) ([]*model.Result, error) {
	results := make([]*model.Result, len(reqs))
	err := b.FetchEach(ctx, reqs, func(r *model.Result, i int) {
		results[i] = r
	})
	return results, err
}

// FetchEach fetches every request and calls callback with each result and
// the request index as soon as it is available. callback runs on the
// fetching goroutine and must be safe for concurrent use.
func (b *BatchFetcher) FetchEach(ctx context.Context, reqs []*model.Request, callback func(*model.Result, int)) error {
	b.logger.Info("starting batch fetch",
		"total_requests", len(reqs),
		"concurrency", b.concurrency,
	)
	startTime := time.Now()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)

	var err error
	for i, req := range reqs {
		if err = b.waitBackout(ctx); err != nil {
			break
		}
		g.Go(func() error {
			resp, fetchErr := b.fetch(ctx, req)
			callback(model.NewResult(req, resp, fetchErr, ErrorKind(fetchErr)), i)
			return nil
		})
	}

	if waitErr := g.Wait(); err == nil {
		err = waitErr
	}

	b.logger.Info("batch fetch complete",
		"total_requests", len(reqs),
		"elapsed", time.Since(startTime),
	)
	return err
}

// waitBackout blocks while the backout check reports true.
func (b *BatchFetcher) waitBackout(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if !b.backout() {
		return nil
	}

	b.logger.Debug("downloader asked for backout, pausing batch")
	ticker := time.NewTicker(b.poll)
	defer ticker.Stop()
	for b.backout() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
