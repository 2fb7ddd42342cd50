package stats

import (
	"dirmirror/internal/model"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func applied(bytes int64, d time.Duration) model.ApplyOutcome {
	return model.ApplyOutcome{
		Result:     model.ResultApplied,
		Bytes:      bytes,
		Duration:   d,
		SourceHash: "00",
		FinishedAt: time.Now(),
	}
}

func TestCollectorTotals(t *testing.T) {
	c := NewCollector()

	c.Record(applied(100, 10*time.Millisecond))
	c.Record(applied(300, 30*time.Millisecond))
	c.Record(model.ApplyOutcome{Result: model.ResultSkipped, Reason: "source missing"})
	c.Record(model.ApplyOutcome{Result: model.ResultFailed})
	c.Record(model.ApplyOutcome{Result: model.ResultApplied, Duration: time.Second})

	s := c.Snapshot()
	assert.EqualValues(t, 3, s.Applied)
	assert.EqualValues(t, 1, s.Skipped)
	assert.EqualValues(t, 1, s.Failed)
	assert.EqualValues(t, 400, s.Bytes)
	assert.EqualValues(t, 2, s.Copies)
	assert.Equal(t, 10*time.Millisecond, s.MinCopy)
	assert.Equal(t, 30*time.Millisecond, s.MaxCopy)
	assert.Equal(t, 20*time.Millisecond, s.MeanCopy)
	assert.InDelta(t, 10000.0, s.BytesPerSec, 0.001)
	require.NotNil(t, s.LastOutcome)
}

func TestCollectorEmptyFileCopyCounts(t *testing.T) {
	c := NewCollector()
	c.Record(applied(0, time.Millisecond))

	s := c.Snapshot()
	assert.EqualValues(t, 1, s.Copies)
	assert.EqualValues(t, 0, s.Bytes)
}

func TestCollectorEmpty(t *testing.T) {
	s := NewCollector().Snapshot()
	assert.Zero(t, s.Applied)
	assert.Zero(t, s.MeanCopy)
	assert.Zero(t, s.BytesPerSec)
	assert.Nil(t, s.LastOutcome)
	assert.False(t, s.StartedAt.IsZero())
}

func TestCollectorConcurrentRecord(t *testing.T) {
	c := NewCollector()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Record(applied(1, time.Millisecond))
		}()
	}
	wg.Wait()

	s := c.Snapshot()
	assert.EqualValues(t, 50, s.Applied)
	assert.EqualValues(t, 50, s.Bytes)
}

func TestCollectorProgressStop(t *testing.T) {
	c := NewCollector()
	c.StartProgress("stats", time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	c.StopProgress()
	c.StopProgress()
}
