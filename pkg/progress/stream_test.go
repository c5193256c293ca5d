package progress

import (
	"context"
	"testing"
)

func TestStreamDeliversEventsInOrder(t *testing.T) {
	s := NewStream()
	ctx := context.Background()

	go func() {
		s.Publish(ctx, Event{Stage: StageUserCreated, Message: "created"})
		s.Publish(ctx, Event{Stage: StageCRDSubmitted, Message: "submitted"})
		s.Publish(ctx, Event{Stage: StageCompleted, Message: "done", Payload: &TerminalPayload{EnvironmentID: "env-1"}})
	}()

	var got []Stage
	for e := range s.Events() {
		got = append(got, e.Stage)
	}

	want := []Stage{StageUserCreated, StageCRDSubmitted, StageCompleted}
	if len(got) != len(want) {
		t.Fatalf("got %v stages, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("stage %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestStreamStopsAfterTerminalEvent(t *testing.T) {
	s := NewStream()
	ctx := context.Background()

	s.Publish(ctx, Event{Stage: StageCompleted})
	if ok := s.Publish(ctx, Event{Stage: StagePodRunning}); ok {
		t.Fatalf("expected Publish after terminal event to report false")
	}

	count := 0
	for range s.Events() {
		count++
	}
	if count != 1 {
		t.Fatalf("got %d events, want exactly 1 terminal event", count)
	}
}

func TestStreamAbandonsOnDisconnectedSubscriber(t *testing.T) {
	s := NewStream()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Drain nothing: the subscriber is already "gone" via a cancelled
	// context, so Publish must not block forever.
	if ok := s.Publish(ctx, Event{Stage: StagePodPending}); ok {
		t.Fatalf("expected Publish to report false for a disconnected subscriber")
	}
}

func TestFrameFormatsSSE(t *testing.T) {
	frame, err := Frame(Event{Stage: StageCompleted, Message: "done"})
	if err != nil {
		t.Fatalf("Frame returned error: %v", err)
	}
	if len(frame) < len("data: ") || frame[:6] != "data: " {
		t.Fatalf("frame %q does not start with 'data: '", frame)
	}
	if frame[len(frame)-2:] != "\n\n" {
		t.Fatalf("frame %q does not end with a blank line", frame)
	}
}
