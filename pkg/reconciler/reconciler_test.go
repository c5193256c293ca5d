package reconciler

import (
	"context"
	"sync"
	"testing"
	"time"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/scoutflo/kubdev-orchestrator/pkg/gateway"
	"github.com/scoutflo/kubdev-orchestrator/pkg/record"
)

type fakeGateway struct {
	mu sync.Mutex

	getStatus     func(ctx context.Context, ns, name string) gateway.Result[gateway.DeploymentStatus]
	getCR         func(ctx context.Context, coords gateway.CustomObjectCoordinates) gateway.Result[*unstructured.Unstructured]
	getNodePort   func(ctx context.Context, ns, service string) gateway.Result[*string]
	statusCalls   int
}

func (g *fakeGateway) GetDeploymentStatus(ctx context.Context, ns, name string) gateway.Result[gateway.DeploymentStatus] {
	g.mu.Lock()
	g.statusCalls++
	g.mu.Unlock()
	if g.getStatus != nil {
		return g.getStatus(ctx, ns, name)
	}
	return gateway.NotFound[gateway.DeploymentStatus]("no such deployment")
}

func (g *fakeGateway) GetCustomObject(ctx context.Context, coords gateway.CustomObjectCoordinates) gateway.Result[*unstructured.Unstructured] {
	if g.getCR != nil {
		return g.getCR(ctx, coords)
	}
	return gateway.NotFound[*unstructured.Unstructured]("no such custom object")
}

func (g *fakeGateway) GetNodePortURL(ctx context.Context, ns, service string) gateway.Result[*string] {
	if g.getNodePort != nil {
		return g.getNodePort(ctx, ns, service)
	}
	return gateway.Ok[*string](nil)
}

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.statusCalls
}

type fakeStore struct {
	mu      sync.Mutex
	records map[string]*record.EnvironmentRecord
}

func newFakeStore(recs ...*record.EnvironmentRecord) *fakeStore {
	s := &fakeStore{records: make(map[string]*record.EnvironmentRecord)}
	for _, r := range recs {
		cp := *r
		s.records[r.ID] = &cp
	}
	return s
}

func (s *fakeStore) Get(ctx context.Context, id string) (*record.EnvironmentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, record.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *fakeStore) Update(ctx context.Context, id string, mutate record.Mutator) (*record.EnvironmentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, record.ErrNotFound
	}
	cp := *rec
	if err := mutate(&cp); err != nil {
		return nil, err
	}
	s.records[id] = &cp
	out := cp
	return &out, nil
}

func (s *fakeStore) snapshot(id string) *record.EnvironmentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil
	}
	cp := *rec
	return &cp
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *fakeNotifier) Notify(ctx context.Context, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

func creatingRecord(id string) *record.EnvironmentRecord {
	return &record.EnvironmentRecord{
		ID:           id,
		OwnerID:      "owner-1",
		CRName:       "env-owner-1",
		CRNamespace:  "kubdev-users",
		WorkloadName: "env-owner-1",
		State:        record.StateCreating,
	}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestConvergeTransitionsToRunning(t *testing.T) {
	store := newFakeStore(creatingRecord("rec-1"))
	gw := &fakeGateway{
		getStatus: func(ctx context.Context, ns, name string) gateway.Result[gateway.DeploymentStatus] {
			return gateway.Ok(gateway.DeploymentStatus{ReadyReplicas: 1})
		},
		getCR: func(ctx context.Context, coords gateway.CustomObjectCoordinates) gateway.Result[*unstructured.Unstructured] {
			obj := &unstructured.Unstructured{Object: map[string]interface{}{
				"status": map[string]interface{}{"ideUrl": "https://env-owner-1.example.com"},
			}}
			return gateway.Ok(obj)
		},
	}
	notifier := &fakeNotifier{}
	r := New(gw, store, notifier, 5*time.Millisecond, time.Second, "example.com", nil, nil)

	r.Spawn("rec-1")

	waitUntil(t, time.Second, func() bool {
		rec := store.snapshot("rec-1")
		return rec != nil && rec.State == record.StateRunning
	})

	rec := store.snapshot("rec-1")
	if rec.AccessURL == nil || *rec.AccessURL != "https://env-owner-1.example.com" {
		t.Fatalf("expected access url from CR status.ideUrl, got %v", rec.AccessURL)
	}
	if notifier.count() != 1 {
		t.Fatalf("expected 1 notification, got %d", notifier.count())
	}
}

func TestConvergeFallsBackToNodePortURL(t *testing.T) {
	store := newFakeStore(creatingRecord("rec-1"))
	fallback := "http://10.0.0.5:31000"
	gw := &fakeGateway{
		getStatus: func(ctx context.Context, ns, name string) gateway.Result[gateway.DeploymentStatus] {
			return gateway.Ok(gateway.DeploymentStatus{ReadyReplicas: 1})
		},
		getNodePort: func(ctx context.Context, ns, service string) gateway.Result[*string] {
			return gateway.Ok(&fallback)
		},
	}
	r := New(gw, store, &fakeNotifier{}, 5*time.Millisecond, time.Second, "example.com", nil, nil)

	r.Spawn("rec-1")

	waitUntil(t, time.Second, func() bool {
		rec := store.snapshot("rec-1")
		return rec != nil && rec.State == record.StateRunning
	})

	rec := store.snapshot("rec-1")
	if rec.AccessURL == nil || *rec.AccessURL != fallback {
		t.Fatalf("expected fallback node port url, got %v", rec.AccessURL)
	}
}

func TestConvergeMarksErrorOnFailedPhase(t *testing.T) {
	store := newFakeStore(creatingRecord("rec-1"))
	gw := &fakeGateway{
		getStatus: func(ctx context.Context, ns, name string) gateway.Result[gateway.DeploymentStatus] {
			return gateway.Ok(gateway.DeploymentStatus{ReadyReplicas: 0})
		},
		getCR: func(ctx context.Context, coords gateway.CustomObjectCoordinates) gateway.Result[*unstructured.Unstructured] {
			obj := &unstructured.Unstructured{Object: map[string]interface{}{
				"status": map[string]interface{}{"phase": "Failed", "reason": "image pull backoff"},
			}}
			return gateway.Ok(obj)
		},
	}
	r := New(gw, store, &fakeNotifier{}, 5*time.Millisecond, time.Second, "example.com", nil, nil)

	r.Spawn("rec-1")

	waitUntil(t, time.Second, func() bool {
		rec := store.snapshot("rec-1")
		return rec != nil && rec.State == record.StateError
	})

	rec := store.snapshot("rec-1")
	if rec.StateMessage != "image pull backoff" {
		t.Fatalf("expected CR reason propagated, got %q", rec.StateMessage)
	}
}

func TestConvergeTimesOut(t *testing.T) {
	store := newFakeStore(creatingRecord("rec-1"))
	gw := &fakeGateway{
		getStatus: func(ctx context.Context, ns, name string) gateway.Result[gateway.DeploymentStatus] {
			return gateway.Ok(gateway.DeploymentStatus{ReadyReplicas: 0})
		},
	}
	r := New(gw, store, &fakeNotifier{}, 5*time.Millisecond, 20*time.Millisecond, "example.com", nil, nil)

	r.Spawn("rec-1")

	waitUntil(t, time.Second, func() bool {
		rec := store.snapshot("rec-1")
		return rec != nil && rec.State == record.StateError
	})

	rec := store.snapshot("rec-1")
	if rec.StateMessage != "Deployment timeout" {
		t.Fatalf("expected timeout message, got %q", rec.StateMessage)
	}
}

func TestConvergeStopsWhenRecordLeavesCreating(t *testing.T) {
	rec := creatingRecord("rec-1")
	rec.State = record.StateStopped
	store := newFakeStore(rec)
	gw := &fakeGateway{
		getStatus: func(ctx context.Context, ns, name string) gateway.Result[gateway.DeploymentStatus] {
			return gateway.Ok(gateway.DeploymentStatus{ReadyReplicas: 1})
		},
	}
	r := New(gw, store, &fakeNotifier{}, 5*time.Millisecond, 50*time.Millisecond, "example.com", nil, nil)

	r.Spawn("rec-1")
	time.Sleep(30 * time.Millisecond)

	if gw.calls() > 1 {
		t.Fatalf("expected reconciler to stop polling once record left Creating, got %d calls", gw.calls())
	}
	got := store.snapshot("rec-1")
	if got.State != record.StateStopped {
		t.Fatalf("expected record to remain Stopped, got %s", got.State)
	}
}

func TestConvergeRetriesOnClusterUnavailable(t *testing.T) {
	store := newFakeStore(creatingRecord("rec-1"))
	var calls int
	var mu sync.Mutex
	gw := &fakeGateway{
		getStatus: func(ctx context.Context, ns, name string) gateway.Result[gateway.DeploymentStatus] {
			mu.Lock()
			calls++
			n := calls
			mu.Unlock()
			if n < 3 {
				return gateway.Unavailable[gateway.DeploymentStatus]("etcd timeout")
			}
			return gateway.Ok(gateway.DeploymentStatus{ReadyReplicas: 1})
		},
	}
	r := New(gw, store, &fakeNotifier{}, 5*time.Millisecond, time.Second, "example.com", nil, nil)

	r.Spawn("rec-1")

	waitUntil(t, time.Second, func() bool {
		rec := store.snapshot("rec-1")
		return rec != nil && rec.State == record.StateRunning
	})
}
