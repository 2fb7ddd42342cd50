package local

import (
	"context"
	"dirmirror/internal/logger"
	"dirmirror/internal/model"
	"dirmirror/internal/util"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// Mapper is the path rewrite the bootstrap shares with the live pipeline.
type Mapper interface {
	Map(event model.CanonicalEvent) (model.MappedEvent, error)
}

type BootstrapReport struct {
	Submitted int
	UpToDate  int
	Excluded  int
	Unmapped  int
	StaleTemp int
}

// Bootstrap walks the source tree once and submits a Create for every
// entry that is not excluded, through the same engine as live events.
// Files whose target copy already matches by size and modification time
// are not submitted again. Leftover temporary files from an interrupted
// atomic write are removed from the target first. onScan, when set, gets
// the counts so far after every entry the walk accounts for.
func Bootstrap(ctx context.Context, e *Engine, skip func(rel string) bool, mapper Mapper, onScan func(BootstrapReport)) (BootstrapReport, error) {
	var report BootstrapReport
	start := time.Now()

	report.StaleTemp = e.removeStaleTemp()

	scanned := func() {
		if onScan != nil {
			onScan(report)
		}
	}

	err := filepath.WalkDir(e.src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			logger.Log.Warn("bootstrap scan error",
				zap.String("path", path),
				zap.Error(err))
			if d != nil && d.IsDir() && path != e.src {
				return filepath.SkipDir
			}
			return nil
		}

		if path == e.src {
			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, err := filepath.Rel(e.src, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if skip != nil && skip(rel) {
			report.Excluded++
			scanned()
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		mapped, err := mapper.Map(model.CanonicalEvent{
			Kind:       model.EventCreate,
			Path:       rel,
			IsDir:      d.IsDir(),
			ObservedAt: time.Now(),
		})
		if err != nil {
			report.Unmapped++
			scanned()
			logger.Log.Error("bootstrap mapping failed",
				zap.String("path", rel),
				zap.Error(err))
			return nil
		}

		if !d.IsDir() && e.upToDate(path, e.dstPath(mapped.Path)) {
			report.UpToDate++
			scanned()
			return nil
		}

		if err := e.Submit(ctx, mapped); err != nil {
			return err
		}
		report.Submitted++
		scanned()
		return nil
	})

	logger.Log.Info("bootstrap scan finished",
		zap.Int("submitted", report.Submitted),
		zap.Int("up_to_date", report.UpToDate),
		zap.Int("excluded", report.Excluded),
		zap.Int("stale_temp", report.StaleTemp),
		zap.Duration("took", time.Since(start)))

	return report, err
}

func (e *Engine) upToDate(src, dst string) bool {
	si, err := os.Stat(src)
	if err != nil {
		return false
	}
	di, err := os.Stat(dst)
	if err != nil || di.IsDir() {
		return false
	}

	return si.Size() == di.Size() && si.ModTime().Equal(di.ModTime())
}

func (e *Engine) removeStaleTemp() int {
	removed := 0
	_ = filepath.WalkDir(e.dst, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || !util.IsTempFile(d.Name()) {
			return nil
		}

		if err := util.RemoveIfExists(path); err != nil {
			logger.Log.Warn("failed to remove stale temp file",
				zap.String("path", path),
				zap.Error(err))
			return nil
		}

		removed++
		return nil
	})

	return removed
}
