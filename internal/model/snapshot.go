package model

import "time"

type StatsSnapshot struct {
	Applied     int64         `json:"applied"`
	Skipped     int64         `json:"skipped"`
	Failed      int64         `json:"failed"`
	Bytes       int64         `json:"bytes"`
	Copies      int64         `json:"copies"`
	MinCopy     time.Duration `json:"min_copy"`
	MaxCopy     time.Duration `json:"max_copy"`
	MeanCopy    time.Duration `json:"mean_copy"`
	BytesPerSec float64       `json:"bytes_per_sec"`
	StartedAt   time.Time     `json:"started_at"`
	LastOutcome *time.Time    `json:"last_outcome"`
}

type RunStatus string

const (
	RunStatusBootstrapping RunStatus = "BOOTSTRAPPING"
	RunStatusWatching      RunStatus = "WATCHING"
	RunStatusStopping      RunStatus = "STOPPING"
	RunStatusStopped       RunStatus = "STOPPED"
)

type RunSnapshot struct {
	RunID     string        `json:"run_id"`
	Source    string        `json:"source"`
	Target    string        `json:"target"`
	Status    RunStatus     `json:"status"`
	StartedAt time.Time     `json:"started_at"`
	Stats     StatsSnapshot `json:"stats"`

	// Buffered counts paths still inside their quiet window; InFlight
	// counts operations submitted to the engine and not yet finished.
	Buffered int `json:"buffered"`
	InFlight int `json:"in_flight"`
}
