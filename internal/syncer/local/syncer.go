package local

import (
	"context"
	"dirmirror/internal/logger"
	"dirmirror/internal/model"
	"dirmirror/internal/syncer"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultWorkers       = 4
	DefaultQueueSize     = 256
	DefaultChunkSize     = 1 << 20
	DefaultRetryAttempts = 3
	DefaultRetryBackoff  = 50 * time.Millisecond
	DefaultMaxBackoff    = 2 * time.Second
	DefaultDiffMaxBytes  = 1 << 20
)

var _ syncer.Applier = (*Engine)(nil)

type Options struct {
	Workers       int
	QueueSize     int
	ChunkSize     int
	RetryAttempts int
	RetryBackoff  time.Duration
	MaxBackoff    time.Duration

	// Diffs enables a diff of the previous target content on Modify.
	Diffs        bool
	DiffMaxBytes int64

	// Skip hides source-relative paths from directory-level fallbacks that
	// walk the source tree.
	Skip func(rel string) bool
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.RetryAttempts < 0 {
		o.RetryAttempts = 0
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = DefaultRetryBackoff
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = DefaultMaxBackoff
	}
	if o.DiffMaxBytes <= 0 {
		o.DiffMaxBytes = DefaultDiffMaxBytes
	}

	return o
}

// Engine applies mapped events to the target tree with a bounded worker
// pool. Operations on overlapping paths run one at a time in submission
// order; everything else may run concurrently.
type Engine struct {
	src  string
	dst  string
	opts Options

	locks   *lockTable
	slots   *semaphore.Weighted
	workCh  chan *op
	outCh   chan model.ApplyOutcome
	bufPool sync.Pool
	pending sync.WaitGroup

	group     *errgroup.Group
	ctx       context.Context
	closeOnce sync.Once

	// afterCopy lets tests tamper with a freshly written target.
	afterCopy func(dst string)
}

func NewEngine(src, dst string, opts Options) (*Engine, error) {
	absSrc, err := filepath.Abs(src)
	if err != nil {
		return nil, fmt.Errorf("invalid src path: %w", err)
	}
	absDst, err := filepath.Abs(dst)
	if err != nil {
		return nil, fmt.Errorf("invalid dst path: %w", err)
	}

	if err := os.MkdirAll(absDst, 0755); err != nil {
		return nil, fmt.Errorf("failed to create dst dir: %w", err)
	}

	opts = opts.withDefaults()

	e := &Engine{
		src:    absSrc,
		dst:    absDst,
		opts:   opts,
		locks:  newLockTable(),
		slots:  semaphore.NewWeighted(int64(opts.QueueSize)),
		workCh: make(chan *op, opts.QueueSize),
		outCh:  make(chan model.ApplyOutcome, opts.QueueSize),
	}
	e.bufPool.New = func() any {
		b := make([]byte, opts.ChunkSize)
		return &b
	}

	return e, nil
}

func (e *Engine) Source() string { return e.src }
func (e *Engine) Target() string { return e.dst }

// Start launches the workers. ctx bounds retries and backoff waits; work
// already queued is still applied after ctx ends.
func (e *Engine) Start(ctx context.Context) {
	e.ctx = ctx
	e.group = &errgroup.Group{}

	for i := 0; i < e.opts.Workers; i++ {
		e.group.Go(func() error {
			for o := range e.workCh {
				e.execute(o)
			}
			return nil
		})
	}

	logger.Log.Info("sync engine started",
		zap.String("src", e.src),
		zap.String("dst", e.dst),
		zap.Int("workers", e.opts.Workers))
}

// Submit queues one event. It blocks while the engine already holds
// QueueSize unfinished operations.
func (e *Engine) Submit(ctx context.Context, event model.MappedEvent) error {
	if err := e.slots.Acquire(ctx, 1); err != nil {
		return err
	}

	e.pending.Add(1)
	o := &op{event: event, keys: event.Keys()}
	if e.locks.enqueue(o) {
		e.workCh <- o
	}

	return nil
}

// Outcomes yields one outcome per submitted event and must be drained
// continuously. The channel is closed by Close once every submitted event
// has been applied.
func (e *Engine) Outcomes() <-chan model.ApplyOutcome {
	return e.outCh
}

// InFlight returns the number of submitted operations not yet finished.
func (e *Engine) InFlight() int {
	return e.locks.inFlight()
}

// Close waits for all submitted work and stops the workers. No Submit may
// be in progress or follow.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.pending.Wait()
		close(e.workCh)
		if e.group != nil {
			_ = e.group.Wait()
		}
		close(e.outCh)
	})
}

func (e *Engine) execute(o *op) {
	outcome := e.apply(e.ctx, o.event)
	e.report(outcome)

	// Publishing before release keeps same-path outcomes in apply order.
	e.outCh <- outcome

	// workCh holds QueueSize slots and no more than QueueSize operations
	// exist at once, so these sends never block.
	for _, next := range e.locks.release(o) {
		e.workCh <- next
	}

	e.slots.Release(1)
	e.pending.Done()
}

func (e *Engine) report(outcome model.ApplyOutcome) {
	ev := outcome.Event
	fields := []zap.Field{
		zap.String("type", string(ev.Kind)),
		zap.String("path", ev.Path),
	}
	if ev.From != "" {
		fields = append(fields, zap.String("from", ev.From))
	}

	switch outcome.Result {
	case model.ResultApplied:
		fields = append(fields, zap.Duration("took", outcome.Duration))
		if outcome.Bytes > 0 {
			fields = append(fields, zap.Int64("bytes", outcome.Bytes))
		}
		logger.Log.Info("synced", fields...)
	case model.ResultSkipped:
		logger.Log.Warn("skipped", append(fields, zap.String("reason", outcome.Reason))...)
	case model.ResultFailed:
		logger.Log.Error("sync failed", append(fields, zap.Error(outcome.Err))...)
	}
}

func (e *Engine) srcPath(rel string) string {
	return filepath.Join(e.src, filepath.FromSlash(rel))
}

func (e *Engine) dstPath(rel string) string {
	return filepath.Join(e.dst, filepath.FromSlash(rel))
}

func (e *Engine) buffer() (*[]byte, func()) {
	b := e.bufPool.Get().(*[]byte)
	return b, func() { e.bufPool.Put(b) }
}
