// Package record is the Environment Record Store: the durable source
// of truth for the orchestrator's view of each environment — its
// declared spec, CR coordinates, lifecycle state, access URL,
// timestamps, and owner.
package record

import "time"

// State is one of the lifecycle states an EnvironmentRecord may be in.
type State string

const (
	StatePending  State = "Pending"
	StateCreating State = "Creating"
	StateRunning  State = "Running"
	StateStopping State = "Stopping"
	StateStopped  State = "Stopped"
	StateError    State = "Error"
	StateExpired  State = "Expired"
)

// terminalStates are the states in which a record may sit durably
// between lifecycle operations (as opposed to transient in-flight
// states). Only Delete removes a record entirely.
var terminalStates = map[State]bool{
	StateError:   true,
	StateExpired: true,
	StateRunning: true,
	StateStopped: true,
}

// IsTerminal reports whether s is one of the storage-terminal states
// from spec.md §4.4.
func (s State) IsTerminal() bool { return terminalStates[s] }

// DeclaredResources is the snapshot of a manifest's resource section,
// kept for audit.
type DeclaredResources struct {
	CPU     string `json:"cpu,omitempty"`
	Memory  string `json:"memory,omitempty"`
	Storage string `json:"storage,omitempty"`
}

// EnvironmentRecord is one row of the Environment Record Store.
type EnvironmentRecord struct {
	ID            string
	OwnerID       string
	TemplateID    string
	DisplayName   string
	SanitizedName string

	CRName      string
	CRNamespace string
	WorkloadName string

	State        State
	StateMessage string
	AccessURL    *string

	DeclaredGit       map[string]string
	DeclaredPorts     []int32
	DeclaredEnv       map[string]string
	DeclaredResources DeclaredResources

	CreatedAt    time.Time
	StartedAt    *time.Time
	StoppedAt    *time.Time
	LastAccessAt *time.Time
	ExpiresAt    time.Time

	// version backs optimistic-concurrency Update retries; callers never
	// set it directly.
	version int64
}
