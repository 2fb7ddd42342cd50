package local

import (
	"errors"
	"fmt"
)

// ErrSourceMissing marks a copy whose source vanished before it could be
// read. It degrades the operation to Skipped.
var ErrSourceMissing = errors.New("source no longer exists")

// WatchError is fatal when returned from Start and logged otherwise.
type WatchError struct {
	Path string
	Err  error
}

func (e *WatchError) Error() string {
	return fmt.Sprintf("watch %s: %v", e.Path, e.Err)
}

func (e *WatchError) Unwrap() error {
	return e.Err
}

// CopyIOError is an I/O failure that survived every retry.
type CopyIOError struct {
	Op       string
	Path     string
	Attempts int
	Err      error
}

func (e *CopyIOError) Error() string {
	return fmt.Sprintf("%s %s failed after %d attempt(s): %v", e.Op, e.Path, e.Attempts, e.Err)
}

func (e *CopyIOError) Unwrap() error {
	return e.Err
}

// IntegrityMismatchError reports target content that still differs from the
// source after the automatic re-copy.
type IntegrityMismatchError struct {
	Path       string
	SourceHash string
	TargetHash string
}

func (e *IntegrityMismatchError) Error() string {
	return fmt.Sprintf("integrity mismatch on %s: source %s, target %s", e.Path, e.SourceHash, e.TargetHash)
}
