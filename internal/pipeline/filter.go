package pipeline

import (
	"dirmirror/internal/logger"
	"dirmirror/internal/matcher"
	"dirmirror/internal/model"
	"path"
	"strings"

	"go.uber.org/zap"
)

var ideSegments = []string{".git", ".idea"}

// Rules is the exclusion rule set. It is built once at startup and shared
// read-only by every stage.
type Rules struct {
	Matcher         *matcher.Matcher
	IgnoreCreation  bool
	IgnoreTempFiles bool
	IDEMode         bool
}

func NewRules(patterns []string, ignoreCreation, ignoreTemp, ideMode bool) (Rules, error) {
	m, err := matcher.New(patterns)
	if err != nil {
		return Rules{}, err
	}

	return Rules{
		Matcher:         m,
		IgnoreCreation:  ignoreCreation,
		IgnoreTempFiles: ignoreTemp || ideMode,
		IDEMode:         ideMode,
	}, nil
}

// ShouldExclude applies the flag rules first and then the user patterns.
// Patterns are checked against every ancestor, so an excluded directory
// hides its whole subtree. kind is the observed event; ignore_creation only
// drops fresh Creates, never a file renamed into place.
func ShouldExclude(rel string, isDir bool, kind model.EventKind, rules Rules) bool {
	return excludeReason(rel, isDir, kind, rules) != ""
}

// ExcludesPath reports whether rel is hidden regardless of event kind.
// The watcher uses it to skip subscribing to excluded directories.
func ExcludesPath(rel string, rules Rules) bool {
	return pathReason(rel, rules) != ""
}

func excludeReason(rel string, isDir bool, kind model.EventKind, rules Rules) string {
	if rules.IgnoreCreation && kind == model.EventCreate {
		return "creation events ignored"
	}

	return pathReason(rel, rules)
}

func pathReason(rel string, rules Rules) string {
	rel = path.Clean(strings.ReplaceAll(rel, "\\", "/"))

	if rules.IgnoreTempFiles && strings.HasSuffix(path.Base(rel), "~") {
		return "temporary editor file"
	}

	if rules.IDEMode {
		for _, part := range strings.Split(rel, "/") {
			for _, seg := range ideSegments {
				if part == seg {
					return "ide metadata"
				}
			}
		}
	}

	if p := rules.Matcher.MatchedBy(rel); p != "" {
		return "pattern " + p
	}

	return ""
}

// observedKind is the kind the exclusion rules see. A Create that came from
// a rename counts as RenameTo.
func observedKind(event model.CanonicalEvent) model.EventKind {
	if event.Kind == model.EventCreate && event.MovedIn {
		return model.EventRenameTo
	}

	return event.Kind
}

func excluded(rel string, isDir bool, kind model.EventKind, rules Rules) bool {
	if !ShouldExclude(rel, isDir, kind, rules) {
		return false
	}

	if logger.Tracing() {
		logger.Log.Debug("event excluded",
			zap.String("kind", string(kind)),
			zap.String("path", rel),
			zap.String("reason", excludeReason(rel, isDir, kind, rules)))
	}
	return true
}

// Apply runs a single coalesced event through the rule set. A rename whose
// origin is hidden becomes a Create of the destination; one whose
// destination is hidden becomes a Delete of the origin.
func Apply(event model.CanonicalEvent, rules Rules) (model.CanonicalEvent, bool) {
	if event.Kind != model.EventRename {
		return event, !excluded(event.Path, event.IsDir, observedKind(event), rules)
	}

	fromHidden := excluded(event.From, event.IsDir, model.EventRenameFrom, rules)
	toHidden := excluded(event.Path, event.IsDir, model.EventRenameTo, rules)

	switch {
	case fromHidden && toHidden:
		return event, false

	case fromHidden:
		created := event
		created.Kind = model.EventCreate
		created.From = ""
		created.ContentChanged = false
		created.MovedIn = true
		return created, true

	case toHidden:
		deleted := event
		deleted.Kind = model.EventDelete
		deleted.Path = event.From
		deleted.From = ""
		deleted.ContentChanged = false
		return deleted, true
	}

	return event, true
}

func Filter(inCh <-chan model.CanonicalEvent, rules Rules) <-chan model.CanonicalEvent {
	outCh := make(chan model.CanonicalEvent, cap(inCh))

	go func() {
		defer close(outCh)

		for event := range inCh {
			if out, ok := Apply(event, rules); ok {
				outCh <- out
			}
		}
	}()

	return outCh
}
