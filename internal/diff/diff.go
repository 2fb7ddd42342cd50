// Package diff renders the change a Modify is about to apply to the target:
// a unified line diff for text, a one-line notice for binary content.
package diff

import (
	"bytes"
	"dirmirror/internal/model"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/pmezard/go-difflib/difflib"
)

const (
	DefaultMaxBytes = 1 << 20
	sniffLen        = 8000
	contextLines    = 3
)

type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("diff %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Compute diffs the current content at oldPath against newPath. It returns
// nil when there is no previous content or nothing changed.
func Compute(rel, oldPath, newPath string, maxBytes int64) (*model.Diff, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	oldData, err := readLimited(oldPath, maxBytes)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &Error{Path: rel, Err: err}
	}

	newData, err := readLimited(newPath, maxBytes)
	if err != nil {
		return nil, &Error{Path: rel, Err: err}
	}

	if oldData == nil || newData == nil {
		return &model.Diff{Path: rel, Text: fmt.Sprintf("Files a/%s and b/%s are too large to diff", rel, rel)}, nil
	}

	if bytes.Equal(oldData, newData) {
		return nil, nil
	}

	if IsBinary(oldData) || IsBinary(newData) {
		return &model.Diff{Path: rel, Binary: true, Text: fmt.Sprintf("Binary files a/%s and b/%s differ", rel, rel)}, nil
	}

	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(oldData)),
		B:        difflib.SplitLines(string(newData)),
		FromFile: "a/" + rel,
		ToFile:   "b/" + rel,
		Context:  contextLines,
	})
	if err != nil {
		return nil, &Error{Path: rel, Err: err}
	}

	return &model.Diff{Path: rel, Text: text}, nil
}

// readLimited returns nil data without error when the file exceeds max.
func readLimited(path string, max int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	data, err := io.ReadAll(io.LimitReader(f, max+1))
	if err != nil {
		return nil, err
	}

	if int64(len(data)) > max {
		return nil, nil
	}

	return data, nil
}

// IsBinary uses the same heuristic as git: a NUL byte near the start.
func IsBinary(data []byte) bool {
	if len(data) > sniffLen {
		data = data[:sniffLen]
	}

	return bytes.IndexByte(data, 0) >= 0
}

var (
	addColor    = color.New(color.FgGreen)
	removeColor = color.New(color.FgRed)
	hunkColor   = color.New(color.FgCyan)
	headerColor = color.New(color.Bold)
)

// Render writes d to w, coloured when the terminal supports it.
func Render(w io.Writer, d *model.Diff) {
	if d == nil {
		return
	}

	if d.Binary {
		_, _ = headerColor.Fprintln(w, d.Text)
		return
	}

	for _, line := range strings.SplitAfter(d.Text, "\n") {
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			_, _ = headerColor.Fprint(w, line)
		case strings.HasPrefix(line, "@@"):
			_, _ = hunkColor.Fprint(w, line)
		case strings.HasPrefix(line, "+"):
			_, _ = addColor.Fprint(w, line)
		case strings.HasPrefix(line, "-"):
			_, _ = removeColor.Fprint(w, line)
		default:
			_, _ = fmt.Fprint(w, line)
		}
	}

	if !strings.HasSuffix(d.Text, "\n") {
		_, _ = fmt.Fprintln(w)
	}
}
