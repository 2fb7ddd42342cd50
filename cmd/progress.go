package cmd

import (
	"dirmirror/internal/model"
	"dirmirror/internal/syncer/local"
	"io"
	"sync/atomic"

	"github.com/cheggaaa/pb/v3"
	"github.com/dustin/go-humanize"
)

const syncBarTemplate = `{{counters . }} {{bar . "[" "=" ">" " " "]"}} {{percent . }} {{string . "copied"}} {{etime . }}`

// syncBar draws the one-shot sync on a terminal. The total grows while the
// bootstrap walk is still submitting entries.
type syncBar struct {
	bar   *pb.ProgressBar
	bytes atomic.Int64
}

func newSyncBar(w io.Writer) *syncBar {
	bar := pb.New64(0).
		SetTemplateString(syncBarTemplate).
		SetWriter(w).
		Set("copied", humanize.IBytes(0))

	return &syncBar{bar: bar.Start()}
}

func (b *syncBar) Scanned(report local.BootstrapReport) {
	b.bar.SetTotal(int64(report.Submitted))
}

func (b *syncBar) Finished(outcome model.ApplyOutcome) {
	if outcome.Result == model.ResultApplied && outcome.Bytes > 0 {
		b.bar.Set("copied", humanize.IBytes(uint64(b.bytes.Add(outcome.Bytes))))
	}
	b.bar.Increment()
}

func (b *syncBar) Finish() {
	b.bar.Finish()
}
