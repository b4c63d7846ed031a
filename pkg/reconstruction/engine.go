// Package reconstruction turns assembled volumes into multiplanar slices,
// intensity projections, tissue renderings and surfaces. The Engine runs
// requests on a bounded worker pool, reports progress through handles and
// shares results through a byte-bounded cache.
package reconstruction

import (
	"context"
	"errors"
	"io"
	"runtime"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/semaphore"

	"dicomrecon/pkg/cache"
	"dicomrecon/pkg/metrics"
	"dicomrecon/pkg/progress"
	"dicomrecon/pkg/windowing"
)

// Config holds engine parameters
type Config struct {
	// Workers bounds the goroutines computing bands of one request
	Workers int
	// MaxConcurrent bounds the requests computing at the same time
	MaxConcurrent int
	// BandRows is the number of output rows between progress checkpoints
	BandRows int

	// CacheBudget is the result cache size in bytes
	CacheBudget int64
	// MaxWorkingSet rejects requests whose estimated memory use exceeds it;
	// zero disables the check
	MaxWorkingSet int64

	// CurvedWidth is the default lateral extent of curved MPR in mm
	CurvedWidth float64

	// OpacityScale converts transfer opacity into per-sample opacity
	OpacityScale float64
	// EarlyTermination ends rays at this accumulated opacity
	EarlyTermination float64
	// TissueRampWidth is the intensity span over which tissue becomes opaque
	TissueRampWidth float64

	ClosingIterations     int
	SmoothingSigma        float64
	AutoThresholdFraction float64

	Tolerances windowing.Tolerances
}

// DefaultConfig returns the engine defaults
func DefaultConfig() Config {
	return Config{
		Workers:               runtime.NumCPU(),
		MaxConcurrent:         2,
		BandRows:              16,
		CacheBudget:           512 << 20,
		CurvedWidth:           40,
		OpacityScale:          0.05,
		EarlyTermination:      0.98,
		TissueRampWidth:       500,
		ClosingIterations:     1,
		SmoothingSigma:        0.5,
		AutoThresholdFraction: 0.3,
		Tolerances:            windowing.DefaultTolerances(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = d.MaxConcurrent
	}
	if c.BandRows <= 0 {
		c.BandRows = d.BandRows
	}
	if c.CacheBudget <= 0 {
		c.CacheBudget = d.CacheBudget
	}
	if c.CurvedWidth <= 0 {
		c.CurvedWidth = d.CurvedWidth
	}
	if c.OpacityScale <= 0 {
		c.OpacityScale = d.OpacityScale
	}
	if c.EarlyTermination <= 0 || c.EarlyTermination > 1 {
		c.EarlyTermination = d.EarlyTermination
	}
	if c.TissueRampWidth <= 0 {
		c.TissueRampWidth = d.TissueRampWidth
	}
	if c.ClosingIterations < 0 {
		c.ClosingIterations = 0
	}
	if c.SmoothingSigma < 0 {
		c.SmoothingSigma = 0
	}
	if c.AutoThresholdFraction <= 0 {
		c.AutoThresholdFraction = d.AutoThresholdFraction
	}
	if c.Tolerances == (windowing.Tolerances{}) {
		c.Tolerances = d.Tolerances
	}
	return c
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the engine logger
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithMetrics records engine and cache activity on m
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracker shares a progress tracker with the engine
func WithTracker(t *progress.Tracker) Option {
	return func(e *Engine) { e.tracker = t }
}

// OnCompute registers a hook called each time a result is actually
// computed rather than served from the cache or a shared computation
func OnCompute(fn func(fingerprint string)) Option {
	return func(e *Engine) { e.onCompute = fn }
}

// OnCheckpoint registers a hook called at every progress checkpoint with
// the handle of the computing request
func OnCheckpoint(fn func(h *progress.Handle, percent float64)) Option {
	return func(e *Engine) { e.onCheckpoint = fn }
}

// Engine executes reconstruction requests
type Engine struct {
	cfg     Config
	log     *log.Logger
	metrics *metrics.Metrics
	tracker *progress.Tracker
	cache   *cache.LRU[*Result]
	sem     *semaphore.Weighted

	onCompute    func(string)
	onCheckpoint func(*progress.Handle, float64)

	ctx  context.Context
	stop context.CancelFunc
	jobs sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	watchers map[string]map[*progress.Handle]struct{}
}

// New creates an engine with its own cache and tracker
func New(cfg Config, opts ...Option) *Engine {
	cfg = cfg.withDefaults()
	ctx, stop := context.WithCancel(context.Background())
	e := &Engine{
		cfg:      cfg,
		log:      log.New(io.Discard),
		tracker:  progress.NewTracker(),
		cache:    cache.New[*Result](cfg.CacheBudget),
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		ctx:      ctx,
		stop:     stop,
		watchers: make(map[string]map[*progress.Handle]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics != nil {
		e.cache.Observe(e.metrics)
	}
	return e
}

// Job is a reconstruction running in the background
type Job struct {
	handle *progress.Handle
	done   chan struct{}
	result *Result
	err    error
}

// Handle returns the progress handle of the job
func (j *Job) Handle() *progress.Handle { return j.handle }

// Done is closed when the job has finished
func (j *Job) Done() <-chan struct{} { return j.done }

// Wait blocks until the job finishes
func (j *Job) Wait() (*Result, error) {
	<-j.done
	return j.result, j.err
}

// Start submits req and returns immediately. The job's handle is
// registered before Start returns, so it can be cancelled by id at once.
func (e *Engine) Start(ctx context.Context, req Request) *Job {
	id := req.ID
	if id == "" {
		id = progress.NewID()
	}
	job := &Job{handle: e.tracker.Register(id), done: make(chan struct{})}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		job.err = ErrClosed
		job.handle.Fail(ErrClosed)
		e.tracker.Remove(id)
		close(job.done)
		return job
	}
	e.jobs.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.jobs.Done()
		defer close(job.done)
		defer e.tracker.Remove(id)
		job.result, job.err = e.execute(ctx, job.handle, req)
	}()
	return job
}

// Reconstruct runs req to completion. The handle is returned in every case
// so callers can inspect the terminal state.
func (e *Engine) Reconstruct(ctx context.Context, req Request) (*Result, *progress.Handle, error) {
	job := e.Start(ctx, req)
	res, err := job.Wait()
	return res, job.handle, err
}

// Cancel requests cancellation of a running request by id
func (e *Engine) Cancel(requestID string) bool {
	return e.tracker.Cancel(requestID)
}

// Active returns the ids of requests that have not finished
func (e *Engine) Active() []string {
	return e.tracker.Active()
}

// InvalidateSeries drops every cached result derived from series and
// returns how many were removed
func (e *Engine) InvalidateSeries(seriesID string) int {
	n := e.cache.InvalidateSeries(seriesID)
	e.log.Info("invalidated series", "series", seriesID, "entries", n)
	return n
}

// CacheStats returns result cache statistics
func (e *Engine) CacheStats() cache.Stats {
	return e.cache.Stats()
}

// Cached reports whether a result for fingerprint is in the cache
func (e *Engine) Cached(fingerprint string) bool {
	return e.cache.Contains(fingerprint)
}

// Close cancels running requests, waits for them and rejects new ones
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.stop()
	e.jobs.Wait()
	e.cache.Clear()
}

// execute drives one request through the cache and records its outcome
func (e *Engine) execute(parent context.Context, h *progress.Handle, req Request) (*Result, error) {
	start := time.Now()
	logger := e.log.With("request", h.ID(), "kind", req.Kind)

	req, err := req.normalize(e.cfg)
	if err != nil {
		return nil, e.fail(h, req, err, start)
	}
	fp := req.Fingerprint()
	logger = logger.With("fingerprint", shortFingerprint(fp), "series", req.Volume.SeriesID)

	if err := e.checkMemory(req); err != nil {
		logger.Warn("reconstruction rejected", "err", err)
		return nil, e.fail(h, req, err, start)
	}

	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)
	go func() {
		select {
		case <-h.Cancelled():
			cancel(ErrCancelled)
		case <-e.ctx.Done():
			cancel(ErrClosed)
		case <-ctx.Done():
		}
	}()

	h.Start()
	e.watch(fp, h)
	defer e.unwatch(fp, h)

	logger.Debug("reconstruction started")
	res, out, err := e.cache.Do(ctx, fp, req.Volume.SeriesID, func(ctx context.Context) (*Result, error) {
		return e.compute(ctx, cancel, h, req, fp)
	})
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, ErrCancelled) {
			var ce *CancelledError
			if !errors.As(err, &ce) || ce.RequestID != h.ID() {
				err = &CancelledError{RequestID: h.ID(), Percent: h.Percent(), Cause: context.Cause(ctx)}
			}
			h.Abort(err)
			e.record(req.Kind, "cancelled", time.Since(start))
			logger.Info("reconstruction cancelled", "percent", h.Percent())
			return nil, err
		}
		logger.Error("reconstruction failed", "err", err)
		return nil, e.fail(h, req, err, start)
	}

	res = res.forRequest(h.ID())
	if out.StoreErr != nil {
		res.Warnings = append(append([]string(nil), res.Warnings...), out.StoreErr.Error())
		logger.Warn("result not cached", "err", out.StoreErr)
	}
	h.Complete()

	outcome := "completed"
	switch {
	case out.Cached:
		outcome = "cached"
	case out.Shared:
		outcome = "coalesced"
		if e.metrics != nil {
			e.metrics.Coalesced.Inc()
		}
	}
	e.record(req.Kind, outcome, res.Elapsed)
	logger.Info("reconstruction finished", "outcome", outcome, "elapsed", res.Elapsed)
	return res, nil
}

func (e *Engine) fail(h *progress.Handle, req Request, err error, start time.Time) error {
	h.Fail(err)
	e.record(req.Kind, "failed", time.Since(start))
	return err
}

func (e *Engine) record(kind Kind, outcome string, elapsed time.Duration) {
	if e.metrics != nil {
		e.metrics.RecordReconstruction(kind.String(), outcome, elapsed)
	}
}

// watch subscribes h to progress of the computation for fp
func (e *Engine) watch(fp string, h *progress.Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.watchers[fp] == nil {
		e.watchers[fp] = make(map[*progress.Handle]struct{})
	}
	e.watchers[fp][h] = struct{}{}
}

func (e *Engine) unwatch(fp string, h *progress.Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.watchers[fp], h)
	if len(e.watchers[fp]) == 0 {
		delete(e.watchers, fp)
	}
}

// broadcast reports progress to every request waiting on fp
func (e *Engine) broadcast(fp string, percent float64) {
	e.mu.Lock()
	hs := make([]*progress.Handle, 0, len(e.watchers[fp]))
	for h := range e.watchers[fp] {
		hs = append(hs, h)
	}
	e.mu.Unlock()
	for _, h := range hs {
		h.Update(percent)
	}
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
