package model

import "time"

type EventKind string

const (
	EventCreate     EventKind = "CREATE"
	EventModify     EventKind = "MODIFY"
	EventDelete     EventKind = "DELETE"
	EventRename     EventKind = "RENAME"
	EventRenameFrom EventKind = "RENAME_FROM"
	EventRenameTo   EventKind = "RENAME_TO"
	EventUnknown    EventKind = "UNKNOWN"
)

// RawEvent is a normalized OS notification. Path is absolute.
// OldPath is set on RenameTo when the watcher could pair the two halves.
type RawEvent struct {
	Kind      EventKind
	Path      string
	OldPath   string
	IsDir     bool
	Timestamp time.Time
}

// CanonicalEvent is the net effect of one quiet window on a single path.
// Paths are relative to the source root, slash separated. From is only set
// for renames; ContentChanged marks a rename whose content was also written
// during the window and must be re-copied after the move. MovedIn marks a
// Create that arrived by a rename onto the path, which may have replaced an
// existing file.
type CanonicalEvent struct {
	Kind           EventKind
	Path           string
	From           string
	IsDir          bool
	ContentChanged bool
	MovedIn        bool
	ObservedAt     time.Time
}

// MappedEvent is a CanonicalEvent rewritten into target-relative paths.
// Source paths are kept so the engine knows where to read from.
type MappedEvent struct {
	Kind           EventKind
	Path           string
	From           string
	SourcePath     string
	SourceFrom     string
	IsDir          bool
	ContentChanged bool
	MovedIn        bool
	ObservedAt     time.Time
}

// Keys returns the target paths the event touches, used for per-path
// serialization.
func (e MappedEvent) Keys() []string {
	if e.Kind == EventRename && e.From != "" && e.From != e.Path {
		return []string{e.From, e.Path}
	}

	return []string{e.Path}
}
