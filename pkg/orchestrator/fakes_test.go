package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/scoutflo/kubdev-orchestrator/pkg/gateway"
	"github.com/scoutflo/kubdev-orchestrator/pkg/record"
)

// fakeGateway is a hand-written stand-in for *gateway.Gateway,
// matching the teacher's own no-mock-library convention. Unless a test
// installs an override function, the write methods and GetNodePortURL
// return Ok, while GetCustomObject, GetDeploymentStatus and GetPodLogs
// return NotFound.
type fakeGateway struct {
	mu sync.Mutex

	ensureNamespace func(ctx context.Context, name string) gateway.Result[struct{}]
	ensureQuota     func(ctx context.Context, ns, name string, limits gateway.ResourceQuotaLimits) gateway.Result[struct{}]
	createCR        func(ctx context.Context, obj *unstructured.Unstructured) gateway.Result[*unstructured.Unstructured]
	getCR           func(ctx context.Context, coords gateway.CustomObjectCoordinates) gateway.Result[*unstructured.Unstructured]
	deleteCR        func(ctx context.Context, coords gateway.CustomObjectCoordinates) gateway.Result[struct{}]
	scale           func(ctx context.Context, ns, name string, replicas int32) gateway.Result[struct{}]
	getStatus       func(ctx context.Context, ns, name string) gateway.Result[gateway.DeploymentStatus]
	getNodePortURL  func(ctx context.Context, ns, service string) gateway.Result[*string]
	getLogs         func(ctx context.Context, ns, workload string, tail int64) gateway.Result[[]string]

	scaleCalls []int32
}

func (g *fakeGateway) EnsureNamespace(ctx context.Context, name string) gateway.Result[struct{}] {
	if g.ensureNamespace != nil {
		return g.ensureNamespace(ctx, name)
	}
	return gateway.Ok(struct{}{})
}

func (g *fakeGateway) EnsureResourceQuota(ctx context.Context, ns, name string, limits gateway.ResourceQuotaLimits) gateway.Result[struct{}] {
	if g.ensureQuota != nil {
		return g.ensureQuota(ctx, ns, name, limits)
	}
	return gateway.Ok(struct{}{})
}

func (g *fakeGateway) CreateCustomObject(ctx context.Context, obj *unstructured.Unstructured) gateway.Result[*unstructured.Unstructured] {
	if g.createCR != nil {
		return g.createCR(ctx, obj)
	}
	return gateway.Ok(obj)
}

func (g *fakeGateway) GetCustomObject(ctx context.Context, coords gateway.CustomObjectCoordinates) gateway.Result[*unstructured.Unstructured] {
	if g.getCR != nil {
		return g.getCR(ctx, coords)
	}
	return gateway.NotFound[*unstructured.Unstructured]("no such custom object")
}

func (g *fakeGateway) DeleteCustomObject(ctx context.Context, coords gateway.CustomObjectCoordinates) gateway.Result[struct{}] {
	if g.deleteCR != nil {
		return g.deleteCR(ctx, coords)
	}
	return gateway.Ok(struct{}{})
}

func (g *fakeGateway) ScaleDeployment(ctx context.Context, ns, name string, replicas int32) gateway.Result[struct{}] {
	g.mu.Lock()
	g.scaleCalls = append(g.scaleCalls, replicas)
	g.mu.Unlock()
	if g.scale != nil {
		return g.scale(ctx, ns, name, replicas)
	}
	return gateway.Ok(struct{}{})
}

func (g *fakeGateway) GetDeploymentStatus(ctx context.Context, ns, name string) gateway.Result[gateway.DeploymentStatus] {
	if g.getStatus != nil {
		return g.getStatus(ctx, ns, name)
	}
	return gateway.NotFound[gateway.DeploymentStatus]("no such deployment")
}

func (g *fakeGateway) GetNodePortURL(ctx context.Context, ns, service string) gateway.Result[*string] {
	if g.getNodePortURL != nil {
		return g.getNodePortURL(ctx, ns, service)
	}
	return gateway.Ok[*string](nil)
}

func (g *fakeGateway) GetPodLogs(ctx context.Context, ns, workload string, tail int64) gateway.Result[[]string] {
	if g.getLogs != nil {
		return g.getLogs(ctx, ns, workload, tail)
	}
	return gateway.NotFound[[]string]("no pod found for workload")
}

// fakeStore is an in-memory RecordStore, sufficient for exercising the
// Orchestrator Core's sequencing without a live database.
type fakeStore struct {
	mu      sync.Mutex
	records map[string]*record.EnvironmentRecord
	nextID  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]*record.EnvironmentRecord)}
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

func (s *fakeStore) List(ctx context.Context, filter record.Filter) ([]*record.EnvironmentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*record.EnvironmentRecord
	for _, r := range s.records {
		if filter.OwnerID != "" && r.OwnerID != filter.OwnerID {
			continue
		}
		if filter.State != "" && r.State != filter.State {
			continue
		}
		if filter.TemplateID != "" && r.TemplateID != filter.TemplateID {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (s *fakeStore) Create(ctx context.Context, rec *record.EnvironmentRecord) (*record.EnvironmentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == "" {
		s.nextID++
		rec.ID = fmt.Sprintf("rec-%d", s.nextID)
	}
	if rec.State == "" {
		rec.State = record.StatePending
	}
	cp := *rec
	s.records[rec.ID] = &cp
	out := cp
	return &out, nil
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

func (s *fakeStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return record.ErrNotFound
	}
	delete(s.records, id)
	return nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// fakeNotifier records every message Notify receives.
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

// fakeReconciler records every record id it was asked to Spawn,
// without actually running any convergence loop.
type fakeReconciler struct {
	mu      sync.Mutex
	spawned []string
}

func (r *fakeReconciler) Spawn(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spawned = append(r.spawned, id)
}

func (r *fakeReconciler) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.spawned)
}
