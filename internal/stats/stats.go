// Package stats aggregates apply outcomes into running totals.
package stats

import (
	"dirmirror/internal/logger"
	"dirmirror/internal/model"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// Collector is shared by the engine and the status API. The zero value is
// not usable; call NewCollector.
type Collector struct {
	mu sync.Mutex

	applied int64
	skipped int64
	failed  int64
	bytes   int64

	copies    int64
	minCopy   time.Duration
	maxCopy   time.Duration
	totalCopy time.Duration

	startedAt   time.Time
	lastOutcome time.Time

	stopCh chan struct{}
	once   sync.Once
}

func NewCollector() *Collector {
	return &Collector{
		startedAt: time.Now(),
		stopCh:    make(chan struct{}),
	}
}

// Record folds one outcome into the totals. Only applied content copies
// contribute to copy timing and throughput.
func (c *Collector) Record(outcome model.ApplyOutcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch outcome.Result {
	case model.ResultApplied:
		c.applied++
	case model.ResultSkipped:
		c.skipped++
	case model.ResultFailed:
		c.failed++
	}

	finished := outcome.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	c.lastOutcome = finished

	if outcome.Result != model.ResultApplied || outcome.Bytes == 0 && outcome.SourceHash == "" {
		return
	}

	c.bytes += outcome.Bytes
	c.copies++
	c.totalCopy += outcome.Duration

	if c.copies == 1 || outcome.Duration < c.minCopy {
		c.minCopy = outcome.Duration
	}
	if outcome.Duration > c.maxCopy {
		c.maxCopy = outcome.Duration
	}
}

func (c *Collector) Snapshot() model.StatsSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := model.StatsSnapshot{
		Applied:   c.applied,
		Skipped:   c.skipped,
		Failed:    c.failed,
		Bytes:     c.bytes,
		Copies:    c.copies,
		MinCopy:   c.minCopy,
		MaxCopy:   c.maxCopy,
		StartedAt: c.startedAt,
	}

	if c.copies > 0 {
		snap.MeanCopy = c.totalCopy / time.Duration(c.copies)
	}

	if c.totalCopy > 0 {
		snap.BytesPerSec = float64(c.bytes) / c.totalCopy.Seconds()
	}

	if !c.lastOutcome.IsZero() {
		last := c.lastOutcome
		snap.LastOutcome = &last
	}

	return snap
}

func (c *Collector) LogSummary(msg string) {
	s := c.Snapshot()

	logger.Log.Info(msg,
		zap.Int64("applied", s.Applied),
		zap.Int64("skipped", s.Skipped),
		zap.Int64("failed", s.Failed),
		zap.Int64("copies", s.Copies),
		zap.String("bytes", humanize.IBytes(uint64(s.Bytes))),
		zap.String("throughput", humanize.IBytes(uint64(s.BytesPerSec))+"/s"),
		zap.Duration("min_copy", s.MinCopy),
		zap.Duration("max_copy", s.MaxCopy),
		zap.Duration("mean_copy", s.MeanCopy),
		zap.Duration("uptime", time.Since(s.StartedAt).Round(time.Second)),
	)
}

// StartProgress logs a summary every interval until StopProgress.
func (c *Collector) StartProgress(msg string, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.LogSummary(msg)
			case <-c.stopCh:
				return
			}
		}
	}()
}

func (c *Collector) StopProgress() {
	c.once.Do(func() {
		close(c.stopCh)
	})
}
