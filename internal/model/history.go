package model

import (
	"time"

	"gorm.io/gorm"
)

// History is one persisted ApplyOutcome.
type History struct {
	gorm.Model
	RunID      string    `gorm:"index;not null" json:"run_id"`
	Result     Result    `gorm:"index;not null" json:"result"`
	EventKind  string    `gorm:"not null" json:"event_kind"`
	Path       string    `gorm:"not null" json:"path"`
	FromPath   string    `json:"from_path,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	ErrMsg     string    `json:"error,omitempty"`
	Bytes      int64     `json:"bytes"`
	DurationUS int64     `json:"duration_us"`
	SourceHash string    `json:"source_hash,omitempty"`
	TargetHash string    `json:"target_hash,omitempty"`
	SyncedAt   time.Time `gorm:"index;not null" json:"synced_at"`
}

// Run is one invocation of the mirror.
type Run struct {
	gorm.Model
	RunID     string     `gorm:"uniqueIndex;not null" json:"run_id"`
	Source    string     `gorm:"not null" json:"source"`
	Target    string     `gorm:"not null" json:"target"`
	Status    RunStatus  `gorm:"not null" json:"status"`
	StartedAt time.Time  `json:"started_at"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`
}
