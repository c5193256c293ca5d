// Package orchestrator implements the Orchestrator Core: the state
// machine and top-level sequencer for environment lifecycle operations
// (Create, Start, Stop, Restart, Delete) plus the read paths (Get,
// List, GetLogs, GetAccessInfo). It is the one package that coordinates
// the Cluster Gateway, the Environment Record Store, the Spec
// Normalizer, the Progress Stream, and the notification hook.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/scoutflo/kubdev-orchestrator/internal/telemetry"
	"github.com/scoutflo/kubdev-orchestrator/pkg/gateway"
	"github.com/scoutflo/kubdev-orchestrator/pkg/notify"
	"github.com/scoutflo/kubdev-orchestrator/pkg/record"
	"github.com/scoutflo/kubdev-orchestrator/pkg/spec"
)

// ClusterGateway is the subset of *gateway.Gateway the Orchestrator
// Core depends on. Declaring it here (rather than depending on the
// concrete type) lets tests exercise the state machine against a fake
// without standing up a cluster.
type ClusterGateway interface {
	EnsureNamespace(ctx context.Context, name string) gateway.Result[struct{}]
	EnsureResourceQuota(ctx context.Context, ns, name string, limits gateway.ResourceQuotaLimits) gateway.Result[struct{}]
	CreateCustomObject(ctx context.Context, obj *unstructured.Unstructured) gateway.Result[*unstructured.Unstructured]
	GetCustomObject(ctx context.Context, coords gateway.CustomObjectCoordinates) gateway.Result[*unstructured.Unstructured]
	DeleteCustomObject(ctx context.Context, coords gateway.CustomObjectCoordinates) gateway.Result[struct{}]
	ScaleDeployment(ctx context.Context, ns, name string, replicas int32) gateway.Result[struct{}]
	GetDeploymentStatus(ctx context.Context, ns, name string) gateway.Result[gateway.DeploymentStatus]
	GetNodePortURL(ctx context.Context, ns, service string) gateway.Result[*string]
	GetPodLogs(ctx context.Context, ns, workload string, tail int64) gateway.Result[[]string]
}

// RecordStore is the subset of *record.Store the Orchestrator Core
// depends on.
type RecordStore interface {
	Get(ctx context.Context, id string) (*record.EnvironmentRecord, error)
	List(ctx context.Context, filter record.Filter) ([]*record.EnvironmentRecord, error)
	Create(ctx context.Context, rec *record.EnvironmentRecord) (*record.EnvironmentRecord, error)
	Update(ctx context.Context, id string, mutate record.Mutator) (*record.EnvironmentRecord, error)
	Delete(ctx context.Context, id string) error
}

// TemplateLoader resolves a template id to manifest bytes. The
// template catalog itself is an external collaborator (§1's explicit
// non-goal); the Orchestrator Core only consumes it through this
// narrow interface for the CreateStream path.
type TemplateLoader interface {
	Load(ctx context.Context, templateID string) ([]byte, error)
}

// Reconciler spawns the Status Reconciler (F) for a record that just
// entered Creating, detached from the calling task.
type Reconciler interface {
	Spawn(id string)
}

// Principal identifies the caller of a lifecycle operation.
type Principal struct {
	ID          string
	DisplayName string
	IsAdmin     bool
}

// Options configures the Orchestrator's fixed, environment-derived
// parameters (everything internal/config.Config exposes that this
// package needs — passed as plain fields rather than the config type
// itself, so this package doesn't depend on internal/config's flag
// wiring).
type Options struct {
	CRNamespace      string
	DefaultResources spec.ResourceDefaults
	MaxPods          int
	EnvironmentTTL   time.Duration
	PlatformDomain   string

	StreamPollInterval   time.Duration
	StreamMaxWait        time.Duration
	StreamHeartbeatEvery time.Duration
}

// Orchestrator is the Orchestrator Core. One instance is constructed
// at process startup and shared across all inbound requests.
type Orchestrator struct {
	gw         ClusterGateway
	store      RecordStore
	notifier   notify.Notifier
	templates  TemplateLoader
	reconciler Reconciler
	opts       Options
	metrics    *telemetry.Metrics

	locks lockRegistry
}

// New builds an Orchestrator Core. templates and reconciler may be
// nil: CreateStream returns Internal if templates is nil and a
// caller attempts it, and Create simply never spawns a background
// reconciler if reconciler is nil (useful in tests).
func New(gw ClusterGateway, store RecordStore, notifier notify.Notifier, templates TemplateLoader, reconciler Reconciler, opts Options) *Orchestrator {
	return &Orchestrator{
		gw:         gw,
		store:      store,
		notifier:   notifier,
		templates:  templates,
		reconciler: reconciler,
		opts:       opts,
		locks:      newLockRegistry(),
	}
}

// SetMetrics attaches a telemetry.Metrics instance for lifecycle
// operation and stream termination counters. Left unset, the
// Orchestrator records nothing — callers that don't construct
// internal/telemetry (all current tests) pay no cost.
func (o *Orchestrator) SetMetrics(m *telemetry.Metrics) {
	o.metrics = m
}

// recordLifecycle increments LifecycleOps for a completed lifecycle
// operation. errKind is empty on success.
func (o *Orchestrator) recordLifecycle(operation string, err error) {
	if o.metrics == nil {
		return
	}
	kind := ""
	if oerr, ok := AsError(err); ok {
		kind = string(oerr.Kind)
	}
	o.metrics.LifecycleOps.WithLabelValues(operation, kind).Inc()
}

// recordStreamTerminal increments StreamTerminal for a CreateStream
// invocation that reached a terminal stage.
func (o *Orchestrator) recordStreamTerminal(stage string) {
	if o.metrics == nil {
		return
	}
	o.metrics.StreamTerminal.WithLabelValues(stage).Inc()
}

// authorize enforces spec.md §4.4's ownership rule: the caller must
// own the record or hold the administrator role.
func authorize(principal Principal, rec *record.EnvironmentRecord) *Error {
	if principal.IsAdmin || rec.OwnerID == principal.ID {
		return nil
	}
	return newError(Forbidden, "caller does not own this environment", nil)
}

// withLock serializes lifecycle operations on the same record within
// this process, per §5's per-record mutual-exclusion requirement.
func (o *Orchestrator) withLock(id string, fn func() (*record.EnvironmentRecord, error)) (*record.EnvironmentRecord, error) {
	unlock := o.locks.lock(id)
	defer unlock()
	return fn()
}

// lockRegistry hands out one *sync.Mutex per record id, created
// lazily and kept for the process lifetime. A stdlib sync.Mutex map is
// sufficient here: the Gateway and Record Store are already the
// concurrency-safe shared resources (§5), so this registry only needs
// to serialize same-record operations, not model cluster state.
type lockRegistry struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLockRegistry() lockRegistry {
	return lockRegistry{locks: make(map[string]*sync.Mutex)}
}

func (r *lockRegistry) lock(id string) (unlock func()) {
	r.mu.Lock()
	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	r.mu.Unlock()

	l.Lock()
	return l.Unlock
}
