package live

import (
	"context"
	"errors"
	"sync"
)

// Emitter delivers events for a [Session] implementation and guarantees the
// closing sequence: at most one EventClose, emitted last, then the channel is
// closed. The zero value is not usable; call [NewEmitter].
type Emitter struct {
	ch   chan Event
	ctx  context.Context
	once sync.Once
}

// NewEmitter returns an Emitter whose sends are abandoned once ctx is done.
// ctx should be cancelled by the session's Close.
func NewEmitter(ctx context.Context, buffer int) *Emitter {
	return &Emitter{ch: make(chan Event, buffer), ctx: ctx}
}

// Events returns the receive side of the channel.
func (e *Emitter) Events() <-chan Event { return e.ch }

// Emit sends ev and reports whether it was delivered. It must not be called
// after Finish.
func (e *Emitter) Emit(ev Event) bool {
	select {
	case e.ch <- ev:
		return true
	case <-e.ctx.Done():
		return false
	}
}

// Finish emits an EventError for err (unless nil or a local cancellation),
// then EventClose, then closes the channel. Only the first call has effect.
func (e *Emitter) Finish(reason string, err error) {
	e.once.Do(func() {
		if err != nil && !errors.Is(err, context.Canceled) {
			e.Emit(Event{Kind: EventError, Err: err})
		}
		e.Emit(Event{Kind: EventClose, Reason: reason, Err: err})
		close(e.ch)
	})
}
