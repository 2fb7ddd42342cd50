package daemon

import (
	"context"
	"dirmirror/internal/config"
	"dirmirror/internal/diff"
	"dirmirror/internal/logger"
	"dirmirror/internal/model"
	"dirmirror/internal/pipeline"
	"dirmirror/internal/repository"
	"dirmirror/internal/stats"
	"dirmirror/internal/syncer"
	"dirmirror/internal/syncer/local"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Mirror owns one source/target pair and every stage between them:
// watcher, coalescer, exclusion, mapping, engine and the outcome sinks.
type Mirror struct {
	cfg    *config.Config
	runID  string
	rules  pipeline.Rules
	mapper *pipeline.Mapper

	watcher   *local.Watcher
	coalescer *pipeline.Coalescer
	engine    *local.Engine
	stats     *stats.Collector
	state     *RunState
	progress  Progress

	histRepo *repository.HistoryRepository
	runRepo  *repository.RunRepository

	diffMu  sync.Mutex
	diffOut io.Writer
}

// NewMirror builds the stages from cfg. When withHistory is set, outcomes
// and the run itself are written through the repositories; db must be
// initialised. Rendered diffs go to diffOut when it is non-nil.
func NewMirror(cfg *config.Config, withHistory bool, diffOut io.Writer) (*Mirror, error) {
	rules, err := pipeline.NewRules(cfg.Exclude, cfg.IgnoreCreation, cfg.IgnoreTempFiles, cfg.IDEMode)
	if err != nil {
		return nil, err
	}

	m := &Mirror{
		cfg:     cfg,
		runID:   uuid.NewString(),
		rules:   rules,
		mapper:  pipeline.NewMapper(),
		stats:   stats.NewCollector(),
		diffOut: diffOut,
	}

	engine, err := local.NewEngine(cfg.Source, cfg.Target, local.Options{
		Workers:       cfg.Workers,
		QueueSize:     cfg.QueueSize,
		ChunkSize:     cfg.ChunkSize,
		RetryAttempts: cfg.RetryAttempts,
		RetryBackoff:  cfg.RetryBackoff,
		Diffs:         cfg.Diffs,
		DiffMaxBytes:  cfg.DiffMaxBytes,
		Skip:          m.skip,
	})
	if err != nil {
		return nil, err
	}

	m.engine = engine
	m.watcher = local.New(engine.Source(), cfg.QueueSize, m.skip)
	m.coalescer = pipeline.NewCoalescer(engine.Source(), cfg.Debounce)
	m.state = NewRunState(m.runID, engine.Source(), engine.Target(), m.stats)

	if withHistory {
		m.histRepo = repository.NewHistoryRepository()
		m.runRepo = repository.NewRunRepository()
	}

	return m, nil
}

func (m *Mirror) RunID() string { return m.runID }

func (m *Mirror) Snapshot() model.RunSnapshot {
	snap := m.state.Snapshot()
	snap.Buffered = m.coalescer.Pending()
	snap.InFlight = m.engine.InFlight()
	return snap
}

func (m *Mirror) skip(rel string) bool {
	return pipeline.ExcludesPath(rel, m.rules)
}

// Run mirrors until ctx is cancelled. The watcher is subscribed before the
// initial copy so nothing changed during the copy is missed. On shutdown the
// watcher stops first, pending coalesced events are flushed, and every
// queued operation finishes before Run returns.
func (m *Mirror) Run(parent context.Context) error {
	if err := m.watcher.Start(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	m.begin()
	m.engine.Start(ctx)
	consumed := m.consume()

	if m.cfg.Statistics {
		m.stats.StartProgress("statistics", m.cfg.StatsInterval)
		defer m.stats.StopProgress()
	}

	// The flush after the watcher stops must not be cut short by ctx.
	drain := context.WithoutCancel(ctx)

	canonical := m.coalescer.Run(drain, m.watcher.Events())
	filtered := pipeline.Filter(canonical, m.rules)
	mapped := m.mapEvents(filtered)

	g := &errgroup.Group{}
	g.Go(func() error {
		return syncer.RunLoop(drain, mapped, m.engine.Submit)
	})
	g.Go(func() error {
		report, err := local.Bootstrap(ctx, m.engine, m.skip, m.mapper, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			cancel()
			return fmt.Errorf("initial sync failed: %w", err)
		}

		m.setStatus(model.RunStatusWatching)
		logger.Log.Info("watching for changes",
			zap.String("src", m.engine.Source()),
			zap.String("dst", m.engine.Target()),
			zap.Int("initial", report.Submitted))
		return nil
	})

	<-ctx.Done()
	m.setStatus(model.RunStatusStopping)
	m.watcher.Stop()

	err := g.Wait()
	m.engine.Close()
	<-consumed

	m.setStatus(model.RunStatusStopped)
	m.stats.LogSummary("mirror stopped")
	return err
}

// Progress follows a one-shot sync. Scanned gets the bootstrap counts as
// the walk advances and Finished is called once per finished operation.
type Progress interface {
	Scanned(report local.BootstrapReport)
	Finished(outcome model.ApplyOutcome)
}

// SyncOnce runs the initial copy alone and waits for it to finish. progress
// may be nil.
func (m *Mirror) SyncOnce(ctx context.Context, progress Progress) (local.BootstrapReport, model.StatsSnapshot, error) {
	var onScan func(local.BootstrapReport)
	if progress != nil {
		m.progress = progress
		onScan = progress.Scanned
	}

	m.begin()
	m.engine.Start(ctx)
	consumed := m.consume()

	report, err := local.Bootstrap(ctx, m.engine, m.skip, m.mapper, onScan)

	m.engine.Close()
	<-consumed

	m.setStatus(model.RunStatusStopped)
	return report, m.stats.Snapshot(), err
}

func (m *Mirror) begin() {
	if m.runRepo == nil {
		return
	}

	if _, err := m.runRepo.Add(m.runID, m.engine.Source(), m.engine.Target(), m.state.StartedAt); err != nil {
		logger.Log.Warn("failed to record run",
			zap.Error(err))
	}
}

func (m *Mirror) setStatus(status model.RunStatus) {
	m.state.SetStatus(status)

	if m.runRepo == nil {
		return
	}

	if err := m.runRepo.UpdateStatus(m.runID, status); err != nil {
		logger.Log.Warn("failed to update run status",
			zap.Error(err))
	}
}

// mapEvents rewrites paths for the target. A mapping failure never reaches
// the engine; it is reported as a Failed outcome for that event only.
func (m *Mirror) mapEvents(inCh <-chan model.CanonicalEvent) <-chan model.MappedEvent {
	outCh := make(chan model.MappedEvent, cap(inCh))

	go func() {
		defer close(outCh)

		for event := range inCh {
			mapped, err := m.mapper.Map(event)
			if err != nil {
				m.handle(model.ApplyOutcome{
					Event: model.MappedEvent{
						Kind:       event.Kind,
						Path:       event.Path,
						From:       event.From,
						SourcePath: event.Path,
						SourceFrom: event.From,
						IsDir:      event.IsDir,
						ObservedAt: event.ObservedAt,
					},
					Result:     model.ResultFailed,
					Err:        err,
					FinishedAt: time.Now(),
				})
				logger.Log.Error("mapping failed",
					zap.String("path", event.Path),
					zap.Error(err))
				continue
			}

			outCh <- mapped
		}
	}()

	return outCh
}

func (m *Mirror) consume() <-chan struct{} {
	done := make(chan struct{})

	go func() {
		defer close(done)
		for outcome := range m.engine.Outcomes() {
			m.handle(outcome)
		}
	}()

	return done
}

// handle fans one outcome out to statistics, history and the diff output.
// It is called from the consumer and the mapping stage concurrently.
func (m *Mirror) handle(outcome model.ApplyOutcome) {
	m.stats.Record(outcome)

	if m.progress != nil {
		m.progress.Finished(outcome)
	}

	if m.histRepo != nil {
		if err := m.histRepo.Save(m.runID, outcome); err != nil {
			logger.Log.Warn("failed to save history",
				zap.Error(err))
		}
	}

	if m.cfg.Statistics && outcome.Result == model.ResultApplied && outcome.SourceHash != "" {
		fields := []zap.Field{
			zap.String("path", outcome.Event.Path),
			zap.String("elapsed", formatElapsed(outcome.Duration)),
		}
		if !outcome.Event.ObservedAt.IsZero() {
			fields = append(fields, zap.String("since_change", formatElapsed(outcome.FinishedAt.Sub(outcome.Event.ObservedAt))))
		}
		logger.Log.Info("copied", fields...)
	}

	if outcome.Diff != nil && m.diffOut != nil {
		m.diffMu.Lock()
		diff.Render(m.diffOut, outcome.Diff)
		m.diffMu.Unlock()
	}
}

// formatElapsed prints milliseconds, or microseconds below one millisecond.
func formatElapsed(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}

	return fmt.Sprintf("%dms", d.Milliseconds())
}
