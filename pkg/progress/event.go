// Package progress implements the Progress Stream: for a single
// streaming Create, a lazy, ordered sequence of ProgressEvents pushed
// to one subscriber until a terminal stage is reached.
//
// Per Design Note §9, the Orchestrator publishes events to a bounded
// channel; a thin, HTTP-agnostic adapter drains the channel and
// formats SSE frames. The Orchestrator itself never imports net/http.
package progress

import "encoding/json"

// Stage is one point in a Create's progress, in the order they may be
// observed.
type Stage string

const (
	StageUserCreated    Stage = "user_created"
	StageTemplateLoaded Stage = "template_loaded"
	StageCRDSubmitted   Stage = "crd_submitted"
	StagePodPending     Stage = "pod_pending"
	StagePodRunning     Stage = "pod_running"
	StageCompleted      Stage = "completed"
	StageTimeout        Stage = "timeout"
	StageError          Stage = "error"
)

// terminal is the set of stages after which no further event may be
// published on a stream.
var terminal = map[Stage]bool{
	StageCompleted: true,
	StageTimeout:   true,
	StageError:     true,
}

// IsTerminal reports whether s ends a Progress Stream.
func (s Stage) IsTerminal() bool { return terminal[s] }

// TerminalPayload carries the data the streaming Create's completed
// event resolves with.
type TerminalPayload struct {
	EnvironmentID string `json:"environment_id"`
	AccessURL     string `json:"access_url,omitempty"`
	AccessCode    string `json:"access_code,omitempty"`
}

// Event is one ProgressEvent flowing through the stream.
type Event struct {
	Stage   Stage            `json:"status"`
	Message string           `json:"message"`
	Payload *TerminalPayload `json:"payload,omitempty"`
}

// Frame formats e as one SSE wire frame: "data: {json}\n\n", matching
// §6's event stream wire shape.
func Frame(e Event) (string, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return "data: " + string(body) + "\n\n", nil
}
