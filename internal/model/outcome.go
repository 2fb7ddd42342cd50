package model

import "time"

type Result string

const (
	ResultApplied Result = "APPLIED"
	ResultSkipped Result = "SKIPPED"
	ResultFailed  Result = "FAILED"
)

type ApplyOutcome struct {
	Event      MappedEvent
	Result     Result
	Reason     string
	Err        error
	Duration   time.Duration
	Bytes      int64
	SourceHash string
	TargetHash string
	Diff       *Diff
	FinishedAt time.Time
}

// Diff is the rendered difference between the previous target content and
// the incoming source content of a modified file.
type Diff struct {
	Path   string
	Binary bool
	Text   string
}
