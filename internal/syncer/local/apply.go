package local

import (
	"context"
	"dirmirror/internal/checksum"
	"dirmirror/internal/diff"
	"dirmirror/internal/logger"
	"dirmirror/internal/model"
	"dirmirror/internal/util"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

func (e *Engine) apply(ctx context.Context, ev model.MappedEvent) model.ApplyOutcome {
	start := time.Now()
	out := model.ApplyOutcome{Event: ev, Result: model.ResultApplied}

	var err error
	switch {
	case ev.Kind == model.EventDelete:
		err = e.retry(ctx, "delete", ev.Path, func() error {
			return util.RemoveAllIfExists(e.dstPath(ev.Path))
		})

	case ev.Kind == model.EventRename:
		err = e.rename(ctx, ev, &out)

	case ev.IsDir:
		err = e.retry(ctx, "mkdir", ev.Path, func() error {
			return ensureDir(e.dstPath(ev.Path))
		})

	case ev.Kind == model.EventCreate || ev.Kind == model.EventModify:
		// A Create renamed into place may have replaced a file the target
		// still holds; diff finds nothing when it did not.
		if e.opts.Diffs && (ev.Kind == model.EventModify || ev.MovedIn) {
			out.Diff = e.diff(ev)
		}
		err = e.copyVerified(ctx, ev.SourcePath, ev.Path, &out)

	default:
		err = fmt.Errorf("unsupported event kind %s", ev.Kind)
	}

	out.Duration = time.Since(start)
	out.FinishedAt = time.Now()

	switch {
	case errors.Is(err, ErrSourceMissing):
		out.Result = model.ResultSkipped
		out.Reason = ErrSourceMissing.Error()
	case err != nil:
		out.Result = model.ResultFailed
		out.Err = err
	}

	return out
}

// diff is best effort: failures are logged and the copy goes ahead.
func (e *Engine) diff(ev model.MappedEvent) *model.Diff {
	d, err := diff.Compute(ev.Path, e.dstPath(ev.Path), e.srcPath(ev.SourcePath), e.opts.DiffMaxBytes)
	if err != nil {
		logger.Log.Warn("diff omitted",
			zap.String("path", ev.Path),
			zap.Error(err))
		return nil
	}

	return d
}

// copyVerified copies srcRel to dstRel and compares the hash of the bytes
// read from the source with a fresh hash of the target. Writes to the
// source after it was read are not a mismatch; they arrive as new events. A
// mismatch triggers exactly one more copy before it is reported.
func (e *Engine) copyVerified(ctx context.Context, srcRel, dstRel string, out *model.ApplyOutcome) error {
	src := e.srcPath(srcRel)
	dst := e.dstPath(dstRel)

	for attempt := 1; ; attempt++ {
		var (
			n   int64
			sum uint64
		)
		err := e.retry(ctx, "copy", dstRel, func() error {
			var err error
			n, sum, err = e.copyFile(src, dst)
			return err
		})
		if err != nil {
			return err
		}
		out.Bytes = n

		if e.afterCopy != nil {
			e.afterCopy(dst)
		}

		dstSum, _, err := checksum.File(dst)
		if err != nil {
			return &CopyIOError{Op: "verify", Path: dstRel, Attempts: 1, Err: err}
		}

		srcHash := checksum.Format(sum)
		dstHash := checksum.Format(dstSum)
		out.SourceHash = srcHash
		out.TargetHash = dstHash
		if sum == dstSum {
			return nil
		}

		if attempt > 1 {
			return &IntegrityMismatchError{Path: dstRel, SourceHash: srcHash, TargetHash: dstHash}
		}

		logger.Log.Warn("integrity mismatch, copying again",
			zap.String("path", dstRel),
			zap.String("source", srcHash),
			zap.String("target", dstHash))
	}
}

// copyFile streams src into dst through a pooled chunk buffer and replaces
// dst atomically, hashing the bytes as they are read. Mode and modification
// time follow the source.
func (e *Engine) copyFile(src, dst string) (int64, uint64, error) {
	f, err := os.Open(src)
	if errors.Is(err, os.ErrNotExist) {
		return 0, 0, ErrSourceMissing
	}
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open src: %w", err)
	}

	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	info, err := f.Stat()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to stat src: %w", err)
	}
	if info.IsDir() {
		return 0, 0, ensureDir(dst)
	}

	if existing, err := os.Lstat(dst); err == nil && existing.IsDir() {
		if err := os.RemoveAll(dst); err != nil {
			return 0, 0, fmt.Errorf("failed to replace directory: %w", err)
		}
	}

	buf, put := e.buffer()
	defer put()

	h := checksum.New()
	n, err := util.AtomicWrite(dst, io.TeeReader(f, h), *buf, info.Mode().Perm())
	if err != nil {
		return n, 0, err
	}

	if err := os.Chtimes(dst, info.ModTime(), info.ModTime()); err != nil {
		logger.Log.Debug("failed to preserve mtime",
			zap.String("path", dst),
			zap.Error(err))
	}

	return n, h.Sum64(), nil
}

// rename moves the target in one step when the origin is present and
// otherwise rebuilds the destination from the source.
func (e *Engine) rename(ctx context.Context, ev model.MappedEvent, out *model.ApplyOutcome) error {
	from := e.dstPath(ev.From)
	to := e.dstPath(ev.Path)

	fromInfo, err := os.Lstat(from)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return &CopyIOError{Op: "rename", Path: ev.From, Attempts: 1, Err: err}
		}

		logger.Log.Debug("rename origin missing in target, copying",
			zap.String("from", ev.From),
			zap.String("to", ev.Path))
		return e.recreate(ctx, ev, out)
	}

	// Renaming over an existing file is how editors save.
	if e.opts.Diffs && !fromInfo.IsDir() {
		out.Diff = e.diff(ev)
	}

	err = e.retry(ctx, "rename", ev.Path, func() error {
		if existing, err := os.Lstat(to); err == nil && (existing.IsDir() || fromInfo.IsDir()) {
			if err := os.RemoveAll(to); err != nil {
				return err
			}
		}
		if err := os.MkdirAll(filepath.Dir(to), 0755); err != nil {
			return err
		}
		return os.Rename(from, to)
	})
	if err != nil {
		return err
	}

	if fromInfo.IsDir() {
		return nil
	}

	if ev.ContentChanged || e.drifted(e.srcPath(ev.SourcePath), to) {
		return e.copyVerified(ctx, ev.SourcePath, ev.Path, out)
	}

	return nil
}

// recreate is the Delete(from) + Create(to) fallback.
func (e *Engine) recreate(ctx context.Context, ev model.MappedEvent, out *model.ApplyOutcome) error {
	if err := e.retry(ctx, "delete", ev.From, func() error {
		return util.RemoveAllIfExists(e.dstPath(ev.From))
	}); err != nil {
		return err
	}

	src := e.srcPath(ev.SourcePath)
	info, err := os.Stat(src)
	if errors.Is(err, os.ErrNotExist) {
		return ErrSourceMissing
	}
	if err != nil {
		return &CopyIOError{Op: "stat", Path: ev.Path, Attempts: 1, Err: err}
	}

	if !info.IsDir() {
		return e.copyVerified(ctx, ev.SourcePath, ev.Path, out)
	}

	return e.copyTree(ctx, ev.SourcePath, ev.Path, out)
}

// copyTree mirrors a whole source directory, honouring Options.Skip.
func (e *Engine) copyTree(ctx context.Context, srcRel, dstRel string, out *model.ApplyOutcome) error {
	root := e.srcPath(srcRel)

	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		sub, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel := filepath.ToSlash(filepath.Join(filepath.FromSlash(srcRel), sub))
		target := filepath.ToSlash(filepath.Join(filepath.FromSlash(dstRel), sub))

		if path != root && e.opts.Skip != nil && e.opts.Skip(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			return ensureDir(e.dstPath(target))
		}

		var file model.ApplyOutcome
		err = e.copyVerified(ctx, rel, target, &file)
		if errors.Is(err, ErrSourceMissing) {
			return nil
		}
		total += file.Bytes
		return err
	})

	out.Bytes = total
	if err != nil && !errors.Is(err, ErrSourceMissing) {
		var copyErr *CopyIOError
		var mismatch *IntegrityMismatchError
		if errors.As(err, &copyErr) || errors.As(err, &mismatch) {
			return err
		}
		return &CopyIOError{Op: "copy", Path: dstRel, Attempts: 1, Err: err}
	}

	return err
}

// drifted reports whether a renamed target no longer matches the source by
// size or modification time.
func (e *Engine) drifted(src, dst string) bool {
	si, err := os.Stat(src)
	if err != nil {
		return false
	}
	di, err := os.Stat(dst)
	if err != nil {
		return true
	}

	return si.Size() != di.Size() || !si.ModTime().Equal(di.ModTime())
}

// retry runs fn up to 1+RetryAttempts times with doubling backoff. A
// missing source is returned at once.
func (e *Engine) retry(ctx context.Context, opName, path string, fn func() error) error {
	backoff := e.opts.RetryBackoff
	attempts := e.opts.RetryAttempts + 1

	var err error
	for i := 1; i <= attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if errors.Is(err, ErrSourceMissing) {
			return err
		}
		if i == attempts {
			break
		}

		logger.Log.Debug("retrying",
			zap.String("op", opName),
			zap.String("path", path),
			zap.Int("attempt", i),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return &CopyIOError{Op: opName, Path: path, Attempts: i, Err: ctx.Err()}
		}

		backoff *= 2
		if backoff > e.opts.MaxBackoff {
			backoff = e.opts.MaxBackoff
		}
	}

	return &CopyIOError{Op: opName, Path: path, Attempts: attempts, Err: err}
}

// ensureDir creates dir, replacing a non-directory that sits in its way.
func ensureDir(dir string) error {
	info, err := os.Lstat(dir)
	if err == nil {
		if info.IsDir() {
			return nil
		}
		if err := os.Remove(dir); err != nil {
			return fmt.Errorf("failed to replace file with directory: %w", err)
		}
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create dir: %w", err)
	}

	return nil
}
