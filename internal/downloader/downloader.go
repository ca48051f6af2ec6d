package downloader

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nao1215/crawlcore/internal/config"
	"github.com/nao1215/crawlcore/internal/model"
	"github.com/nao1215/crawlcore/internal/signal"
)

// outcome is the single result of an admitted request.
type outcome struct {
	resp *model.Response
	err  error
}

// entry is one admission of a request.
type entry struct {
	req     *model.Request
	handler Handler
	slot    *slot

	// cancel aborts the running transfer. Set when dispatched.
	cancel context.CancelFunc

	done chan outcome
	once sync.Once
}

func newEntry(req *model.Request, handler Handler) *entry {
	return &entry{req: req, handler: handler, done: make(chan outcome, 1)}
}

// resolve delivers the outcome. Only the first call has an effect.
func (e *entry) resolve(resp *model.Response, err error) {
	e.once.Do(func() {
		e.done <- outcome{resp: resp, err: err}
	})
}

func (e *entry) abort() {
	if e.cancel != nil {
		e.cancel()
	}
}

// Downloader admits requests into slots and dispatches them to handlers
// under per-slot and global concurrency limits.
type Downloader struct {
	cfg      *config.Config
	policy   *DelayPolicy
	handlers Handlers
	logger   *slog.Logger
	signals  signal.Sink
	resolver Resolver
	rnd      Rand
	now      func() time.Time

	overrides Overrides

	ops       chan func()
	done      chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once
	closeErr  error

	// baseCtx parents every transfer context and is cancelled by Close.
	baseCtx    context.Context
	cancelBase context.CancelFunc

	// Owned by the event loop.
	slots        map[string]*slot
	active       map[*entry]struct{}
	transferring int
	stalled      map[*slot]struct{}

	activeCount atomic.Int64
	slotCount   atomic.Int64
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithLogger sets a custom logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(d *Downloader) {
		d.logger = logger
	}
}

// WithSignals sets the sink notified when requests enter and leave.
func WithSignals(sink signal.Sink) Option {
	return func(d *Downloader) {
		d.signals = sink
	}
}

// WithResolver sets the resolver used for IP slot keys.
func WithResolver(r Resolver) Option {
	return func(d *Downloader) {
		d.resolver = r
	}
}

// WithRand sets the jitter source.
func WithRand(r Rand) Option {
	return func(d *Downloader) {
		d.rnd = r
	}
}

// WithOverrides sets crawl-wide concurrency and delay overrides.
func WithOverrides(o Overrides) Option {
	return func(d *Downloader) {
		d.overrides = o
	}
}

// WithClock sets the time source used for delay accounting and slot
// collection.
func WithClock(now func() time.Time) Option {
	return func(d *Downloader) {
		d.now = now
	}
}

// New creates a Downloader and starts its event loop. Close must be called
// to stop it.
func New(cfg *config.Config, handlers Handlers, opts ...Option) *Downloader {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Downloader{
		cfg:        cfg,
		handlers:   handlers,
		ops:        make(chan func()),
		done:       make(chan struct{}),
		loopDone:   make(chan struct{}),
		baseCtx:    ctx,
		cancelBase: cancel,
		slots:      make(map[string]*slot),
		active:     make(map[*entry]struct{}),
		stalled:    make(map[*slot]struct{}),
	}

	for _, opt := range opts {
		opt(d)
	}

	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.signals == nil {
		d.signals = signal.Nop{}
	}
	if d.rnd == nil {
		d.rnd = defaultRand{}
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.resolver == nil && cfg.PerIPConcurrency > 0 {
		d.resolver = NewCachingResolver(nil, cfg.DNSCacheTTL)
	}
	d.policy = NewDelayPolicy(cfg, d.overrides)

	go d.loop()
	return d
}

// Fetch admits req, waits for a free slot and returns the handler's outcome.
//
// Requests with an unregistered scheme fail with ErrUnsupportedScheme before
// admission. When ctx ends first the request is withdrawn (dequeued, or its
// transfer aborted) and ctx.Err() is returned.
func (d *Downloader) Fetch(ctx context.Context, req *model.Request) (*model.Response, error) {
	if d.closed() {
		return nil, ErrClosed
	}
	handler, err := d.handlers.Lookup(req.URL.Scheme)
	if err != nil {
		return nil, err
	}

	key := d.slotKey(ctx, req)
	e := newEntry(req, handler)
	if !d.post(func() { d.enqueue(e, key) }) {
		return nil, ErrClosed
	}

	select {
	case out := <-e.done:
		return out.resp, out.err
	case <-ctx.Done():
		d.post(func() { d.withdraw(e) })
		e.resolve(nil, ctx.Err())
		return nil, ctx.Err()
	}
}

// NeedsBackout reports whether the number of admitted, unfinished requests
// has reached the global limit. It is advisory: Fetch still admits.
func (d *Downloader) NeedsBackout() bool {
	return d.activeCount.Load() >= int64(d.cfg.TotalConcurrency)
}

// Active returns the number of admitted, unfinished requests.
func (d *Downloader) Active() int {
	return int(d.activeCount.Load())
}

// SlotCount returns the number of live slots.
func (d *Downloader) SlotCount() int {
	return int(d.slotCount.Load())
}

// Close cancels every pending wakeup, resolves queued requests with
// ErrCancelled, aborts in-flight transfers and closes the handlers.
// It is safe to call more than once.
func (d *Downloader) Close() error {
	d.closeOnce.Do(func() {
		close(d.done)
		<-d.loopDone
		d.cancelBase()
		d.closeErr = d.handlers.Close()
	})
	return d.closeErr
}

func (d *Downloader) closed() bool {
	select {
	case <-d.done:
		return true
	default:
		return false
	}
}

// post runs op on the event loop. It returns false once the loop stopped.
// It must never be called from the loop itself.
func (d *Downloader) post(op func()) bool {
	select {
	case d.ops <- op:
		return true
	case <-d.done:
		return false
	}
}

func (d *Downloader) loop() {
	defer close(d.loopDone)

	ticker := time.NewTicker(d.cfg.SlotGCInterval)
	defer ticker.Stop()

	for {
		select {
		case op := <-d.ops:
			op()
		case <-ticker.C:
			d.collectIdleSlots()
		case <-d.done:
			d.shutdown()
			return
		}
	}
}

func (d *Downloader) slotFor(key string) *slot {
	if s, ok := d.slots[key]; ok {
		return s
	}
	s := newSlot(key, d.policy)
	d.slots[key] = s
	d.slotCount.Store(int64(len(d.slots)))
	d.logger.Debug("slot created", "slot", s.String())
	return s
}

func (d *Downloader) enqueue(e *entry, key string) {
	s := d.slotFor(key)
	e.slot = s
	s.active[e] = struct{}{}
	s.queue = append(s.queue, e)
	d.active[e] = struct{}{}
	d.activeCount.Store(int64(len(d.active)))

	d.signals.RequestReachedDownloader(e.req)
	d.processQueue(s)
}

// processQueue dispatches queued entries of s while the slot, the delay and
// the global limit allow it, and schedules a wakeup when the delay does not.
func (d *Downloader) processQueue(s *slot) {
	for {
		if s.wakeup != nil {
			return
		}

		now := d.now()
		delay := s.downloadDelay(d.rnd)
		if delay > 0 {
			if penalty := delay - now.Sub(s.lastSeen); penalty > 0 {
				d.scheduleWakeup(s, penalty)
				return
			}
		}

		dispatched := false
		for len(s.queue) > 0 && s.freeSlots() > 0 {
			if d.transferring >= d.cfg.TotalConcurrency {
				d.stalled[s] = struct{}{}
				return
			}
			e := s.queue[0]
			s.queue = s.queue[1:]
			s.lastSeen = now
			d.startTransfer(s, e)
			dispatched = true
			if delay > 0 {
				break
			}
		}

		if !dispatched || delay == 0 || len(s.queue) == 0 {
			return
		}
	}
}

func (d *Downloader) scheduleWakeup(s *slot, after time.Duration) {
	s.wakeup = time.AfterFunc(after, func() {
		d.post(func() {
			if d.slots[s.key] != s {
				return
			}
			s.wakeup = nil
			d.processQueue(s)
		})
	})
}

func (d *Downloader) startTransfer(s *slot, e *entry) {
	ctx, cancel := context.WithCancel(d.baseCtx)
	e.cancel = cancel
	s.transferring[e] = struct{}{}
	d.transferring++
	s.checkInvariant()

	d.logger.Debug("dispatching request", "request", e.req.String(), "slot", s.key)

	go func() {
		defer cancel()
		resp, err := e.handler.Execute(ctx, e.req)
		if !d.post(func() { d.finish(e, resp, err) }) {
			e.resolve(resp, err)
		}
	}()
}

func (d *Downloader) finish(e *entry, resp *model.Response, err error) {
	s := e.slot
	if _, ok := s.transferring[e]; !ok {
		// Already settled by slot collection.
		return
	}
	delete(s.transferring, e)
	delete(s.active, e)
	delete(d.active, e)
	d.transferring--
	d.activeCount.Store(int64(len(d.active)))

	d.signals.RequestLeftDownloader(e.req)
	e.resolve(resp, err)

	if d.slots[s.key] == s {
		d.processQueue(s)
	}
	d.runStalled()
}

// runStalled retries slots that were held back by the global limit.
func (d *Downloader) runStalled() {
	if len(d.stalled) == 0 {
		return
	}
	pending := make([]*slot, 0, len(d.stalled))
	for s := range d.stalled {
		pending = append(pending, s)
	}
	clear(d.stalled)
	for _, s := range pending {
		if d.transferring >= d.cfg.TotalConcurrency {
			d.stalled[s] = struct{}{}
			continue
		}
		if d.slots[s.key] == s {
			d.processQueue(s)
		}
	}
}

// withdraw removes an entry whose caller gave up.
func (d *Downloader) withdraw(e *entry) {
	s := e.slot
	if s == nil {
		return
	}
	if s.dequeue(e) {
		delete(s.active, e)
		delete(d.active, e)
		d.activeCount.Store(int64(len(d.active)))
		d.signals.RequestLeftDownloader(e.req)
		e.resolve(nil, context.Canceled)
		return
	}
	if _, ok := s.transferring[e]; ok {
		e.abort()
	}
}

// collectIdleSlots removes slots with nothing active that have not started
// a transfer for longer than the idle age.
func (d *Downloader) collectIdleSlots() {
	now := d.now()
	for key, s := range d.slots {
		if len(s.active) > 0 || now.Sub(s.lastSeen) <= d.cfg.IdleSlotAge {
			continue
		}
		d.dropSlot(s)
		delete(d.slots, key)
		d.logger.Debug("idle slot collected", "slot", key)
	}
	d.slotCount.Store(int64(len(d.slots)))
}

func (d *Downloader) dropSlot(s *slot) {
	for e := range s.active {
		delete(d.active, e)
		d.signals.RequestLeftDownloader(e.req)
	}
	if n := len(s.transferring); n > 0 {
		d.transferring -= n
	}
	delete(d.stalled, s)
	s.close(ErrCancelled)
	d.activeCount.Store(int64(len(d.active)))
}

func (d *Downloader) shutdown() {
	for key, s := range d.slots {
		d.dropSlot(s)
		delete(d.slots, key)
	}
	d.slotCount.Store(0)
	d.logger.Debug("downloader closed")
}
