package daemon

import (
	"dirmirror/internal/model"
	"dirmirror/internal/stats"
	"sync"
	"time"
)

type RunState struct {
	mu        sync.RWMutex
	RunID     string
	Source    string
	Target    string
	Status    model.RunStatus
	StartedAt time.Time
	stats     *stats.Collector
}

func NewRunState(runID, src, dst string, collector *stats.Collector) *RunState {
	return &RunState{
		RunID:     runID,
		Source:    src,
		Target:    dst,
		Status:    model.RunStatusBootstrapping,
		StartedAt: time.Now(),
		stats:     collector,
	}
}

func (s *RunState) SetStatus(status model.RunStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = status
}

func (s *RunState) Snapshot() model.RunSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return model.RunSnapshot{
		RunID:     s.RunID,
		Source:    s.Source,
		Target:    s.Target,
		Status:    s.Status,
		StartedAt: s.StartedAt,
		Stats:     s.stats.Snapshot(),
	}
}
