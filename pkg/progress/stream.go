package progress

import (
	"context"

	"k8s.io/klog/v2"
)

// defaultBuffer is generous enough that a producer emitting a
// heartbeat plus a stage transition back-to-back never blocks on a
// slow-but-still-connected subscriber.
const defaultBuffer = 8

// Stream is a single-subscriber, finite, strictly-ordered event
// channel. It is restartable only by initiating a new Create: once
// closed, it stays closed.
type Stream struct {
	events chan Event
	done   chan struct{}
}

// NewStream allocates a bounded Progress Stream.
func NewStream() *Stream {
	return &Stream{
		events: make(chan Event, defaultBuffer),
		done:   make(chan struct{}),
	}
}

// Events returns the channel subscribers drain. It is closed exactly
// once, after the terminal event (if any) has been delivered or the
// producer gives up.
func (s *Stream) Events() <-chan Event { return s.events }

// Publish attempts to deliver e to the subscriber. It reports whether
// the event was actually queued: false means the subscriber has
// disappeared (ctx was cancelled or the stream was already closed) and
// production should stop, without affecting the underlying
// reconciliation — per spec.md §4.5's abandonment contract.
//
// Publish never blocks past ctx's lifetime or the stream's own
// closure.
func (s *Stream) Publish(ctx context.Context, e Event) bool {
	select {
	case <-s.done:
		return false
	case <-ctx.Done():
		klog.V(4).Infof("progress stream: subscriber gone, abandoning further events (stage=%s)", e.Stage)
		s.Close()
		return false
	default:
	}

	select {
	case s.events <- e:
		if e.Stage.IsTerminal() {
			s.Close()
		}
		return true
	case <-ctx.Done():
		klog.V(4).Infof("progress stream: subscriber gone, abandoning further events (stage=%s)", e.Stage)
		s.Close()
		return false
	case <-s.done:
		return false
	}
}

// Close terminates the stream. Safe to call more than once.
func (s *Stream) Close() {
	select {
	case <-s.done:
		return
	default:
		close(s.done)
		close(s.events)
	}
}
