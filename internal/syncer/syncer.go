package syncer

import (
	"context"
	"dirmirror/internal/model"
)

// EventSource produces raw change notifications for one tree.
type EventSource interface {
	Events() <-chan model.RawEvent
	Start() error
	Stop()
}

// Applier applies mapped events to the target tree and reports one outcome
// per event.
type Applier interface {
	Start(ctx context.Context)
	Submit(ctx context.Context, event model.MappedEvent) error
	Outcomes() <-chan model.ApplyOutcome
	Close()
}

// RunLoop feeds every event from inCh to submit until inCh closes or submit
// fails, and returns the first error.
func RunLoop(ctx context.Context, inCh <-chan model.MappedEvent, submit func(context.Context, model.MappedEvent) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-inCh:
			if !ok {
				return nil
			}
			if err := submit(ctx, event); err != nil {
				return err
			}
		}
	}
}
