package syncer

import (
	"context"
	"dirmirror/internal/model"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunLoopSubmitsUntilClosed(t *testing.T) {
	inCh := make(chan model.MappedEvent, 3)
	inCh <- model.MappedEvent{Kind: model.EventCreate, Path: "a"}
	inCh <- model.MappedEvent{Kind: model.EventModify, Path: "b"}
	close(inCh)

	var got []string
	err := RunLoop(context.Background(), inCh, func(_ context.Context, ev model.MappedEvent) error {
		got = append(got, ev.Path)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestRunLoopStopsOnSubmitError(t *testing.T) {
	inCh := make(chan model.MappedEvent, 2)
	inCh <- model.MappedEvent{Path: "a"}
	inCh <- model.MappedEvent{Path: "b"}

	boom := errors.New("boom")
	calls := 0
	err := RunLoop(context.Background(), inCh, func(context.Context, model.MappedEvent) error {
		calls++
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestRunLoopHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RunLoop(ctx, make(chan model.MappedEvent), func(context.Context, model.MappedEvent) error {
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
