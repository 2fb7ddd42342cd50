package pipeline

import (
	"dirmirror/internal/model"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

var ErrPathEscapesRoot = errors.New("path escapes target root")

type MappingError struct {
	Path string
	Err  error
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("cannot map %q: %v", e.Path, e.Err)
}

func (e *MappingError) Unwrap() error {
	return e.Err
}

// Mapper rewrites source-relative paths into target-relative ones. The
// layout is a 1:1 mirror so the rewrite is the identity on clean paths.
type Mapper struct{}

func NewMapper() *Mapper {
	return &Mapper{}
}

func (m *Mapper) MapPath(rel string) (string, error) {
	if rel == "" {
		return "", &MappingError{Path: rel, Err: errors.New("empty path")}
	}

	slashed := strings.ReplaceAll(rel, "\\", "/")
	if path.IsAbs(slashed) || filepath.IsAbs(rel) || filepath.VolumeName(rel) != "" {
		return "", &MappingError{Path: rel, Err: ErrPathEscapesRoot}
	}

	clean := path.Clean(slashed)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", &MappingError{Path: rel, Err: ErrPathEscapesRoot}
	}

	return clean, nil
}

func (m *Mapper) Map(event model.CanonicalEvent) (model.MappedEvent, error) {
	target, err := m.MapPath(event.Path)
	if err != nil {
		return model.MappedEvent{}, err
	}

	mapped := model.MappedEvent{
		Kind:           event.Kind,
		Path:           target,
		SourcePath:     event.Path,
		IsDir:          event.IsDir,
		ContentChanged: event.ContentChanged,
		MovedIn:        event.MovedIn,
		ObservedAt:     event.ObservedAt,
	}

	if event.Kind == model.EventRename {
		from, err := m.MapPath(event.From)
		if err != nil {
			return model.MappedEvent{}, err
		}
		mapped.From = from
		mapped.SourceFrom = event.From
	}

	return mapped, nil
}
