package cmd

import (
	"bytes"
	"dirmirror/internal/model"
	"dirmirror/internal/syncer/local"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSyncBarFollowsBootstrap(t *testing.T) {
	var out bytes.Buffer
	bar := newSyncBar(&out)

	bar.Scanned(local.BootstrapReport{Submitted: 1})
	bar.Scanned(local.BootstrapReport{Submitted: 2, UpToDate: 4})
	bar.Finished(model.ApplyOutcome{Result: model.ResultApplied, Bytes: 1024})
	bar.Finished(model.ApplyOutcome{Result: model.ResultApplied, Bytes: 512})
	bar.Finish()

	assert.EqualValues(t, 2, bar.bar.Total())
	assert.EqualValues(t, 2, bar.bar.Current())
	assert.EqualValues(t, 1536, bar.bytes.Load())
	assert.Contains(t, out.String(), "1.5 KiB")
}
