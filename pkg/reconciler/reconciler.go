// Package reconciler implements the Status Reconciler (F): a
// background poller that drives a single environment record from
// Creating toward Running or Error, grounded on the teacher pack's
// escalation.Engine ticker-loop shape (wisbric-nightowl/pkg/escalation)
// — adapted from "tick every tenant on a shared interval" to "poll one
// record's convergence on its own goroutine," since F's unit of work
// is a single record handed off by the Orchestrator Core rather than a
// database-wide sweep.
package reconciler

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/klog/v2"

	"github.com/scoutflo/kubdev-orchestrator/pkg/gateway"
	"github.com/scoutflo/kubdev-orchestrator/pkg/notify"
	"github.com/scoutflo/kubdev-orchestrator/pkg/record"
)

// ClusterGateway is the subset of *gateway.Gateway the reconciler
// needs.
type ClusterGateway interface {
	GetDeploymentStatus(ctx context.Context, ns, name string) gateway.Result[gateway.DeploymentStatus]
	GetCustomObject(ctx context.Context, coords gateway.CustomObjectCoordinates) gateway.Result[*unstructured.Unstructured]
	GetNodePortURL(ctx context.Context, ns, service string) gateway.Result[*string]
}

// RecordStore is the subset of *record.Store the reconciler needs.
type RecordStore interface {
	Get(ctx context.Context, id string) (*record.EnvironmentRecord, error)
	Update(ctx context.Context, id string, mutate record.Mutator) (*record.EnvironmentRecord, error)
}

// Reconciler drives records handed to it via Spawn toward Running or
// Error, one detached goroutine per record, per §4.6/§5.
type Reconciler struct {
	gw       ClusterGateway
	store    RecordStore
	notifier notify.Notifier

	pollInterval   time.Duration
	maxWait        time.Duration
	platformDomain string

	ticks    *prometheus.CounterVec // result: "ran", "timeout"
	outcomes *prometheus.CounterVec // new state
}

// New builds a Status Reconciler. ticks/outcomes may be nil (metrics
// are optional instrumentation, not required for correctness).
func New(gw ClusterGateway, store RecordStore, notifier notify.Notifier, pollInterval, maxWait time.Duration, platformDomain string, ticks, outcomes *prometheus.CounterVec) *Reconciler {
	return &Reconciler{
		gw:             gw,
		store:          store,
		notifier:       notifier,
		pollInterval:   pollInterval,
		maxWait:        maxWait,
		platformDomain: platformDomain,
		ticks:          ticks,
		outcomes:       outcomes,
	}
}

// Spawn starts converging id in its own goroutine, detached from
// whatever task called it (the Orchestrator Core never awaits this).
func (r *Reconciler) Spawn(id string) {
	go r.converge(id)
}

// converge polls id every pollInterval until it leaves Creating, the
// record disappears, or maxWait elapses.
func (r *Reconciler) converge(id string) {
	deadline := time.Now().Add(r.maxWait)
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			if now.After(deadline) {
				r.markTimeout(id)
				return
			}
			if r.pollOnce(id) {
				return
			}
		}
	}
}

// pollOnce checks id's deployment status once and reports whether
// convergence is finished (Running, Error, or the record is no longer
// ours to drive).
func (r *Reconciler) pollOnce(id string) bool {
	r.tick("ran")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rec, err := r.store.Get(ctx, id)
	if err != nil {
		klog.V(4).Infof("reconciler: record %s vanished mid-convergence: %v", id, err)
		return true
	}
	if rec.State != record.StateCreating {
		// Resolved by someone else (the inline streaming wait, a
		// concurrent Stop/Delete) — nothing left for F to do.
		return true
	}

	status := r.gw.GetDeploymentStatus(ctx, rec.CRNamespace, rec.WorkloadName)
	switch status.Status {
	case gateway.StatusOk:
		if status.Value.ReadyReplicas >= 1 {
			r.markRunning(ctx, rec)
			return true
		}
		if r.crFailed(ctx, rec) {
			return true
		}
		return false
	case gateway.StatusUnavailable:
		klog.V(4).Infof("reconciler: cluster unavailable polling %s, retrying: %s", id, status.Reason)
		return false
	default: // StatusNotFound: the controller hasn't materialized the Deployment yet.
		return false
	}
}

// crFailed checks whether the CR's observed phase is Failed, per
// §4.4's tie-break: "If F observes phase=Failed on the CR, it
// transitions the record to Error with the CR's reason string."
func (r *Reconciler) crFailed(ctx context.Context, rec *record.EnvironmentRecord) bool {
	crResult := r.gw.GetCustomObject(ctx, gateway.CustomObjectCoordinates{Namespace: rec.CRNamespace, Name: rec.CRName})
	if crResult.Status != gateway.StatusOk {
		return false
	}
	phase, _ := nestedString(crResult.Value.Object, "status", "phase")
	if phase != "Failed" {
		return false
	}
	reason, ok := nestedString(crResult.Value.Object, "status", "reason")
	if !ok || reason == "" {
		reason = "cluster controller reported phase=Failed"
	}

	if _, err := r.store.Update(ctx, rec.ID, func(r *record.EnvironmentRecord) error {
		r.State = record.StateError
		r.StateMessage = reason
		return nil
	}); err != nil {
		klog.Errorf("reconciler: marking %s Error: %v", rec.ID, err)
	}
	r.outcome("Error")
	return true
}

// markRunning resolves access_url (CR status.ideUrl preferred,
// GetNodePortURL fallback) and commits the Running transition,
// per §4.4's ordering rule that access_url resolution precedes the
// Running commit within the same task.
func (r *Reconciler) markRunning(ctx context.Context, rec *record.EnvironmentRecord) {
	accessURL := r.resolveAccessURL(ctx, rec)

	updated, err := r.store.Update(ctx, rec.ID, func(r *record.EnvironmentRecord) error {
		now := time.Now()
		r.State = record.StateRunning
		r.StateMessage = "workload ready"
		r.AccessURL = &accessURL
		r.StartedAt = &now
		return nil
	})
	if err != nil {
		klog.Errorf("reconciler: committing Running for %s: %v", rec.ID, err)
		return
	}

	r.notifier.Notify(ctx, "environment "+updated.ID+" is running")
	r.outcome("Running")
}

func (r *Reconciler) resolveAccessURL(ctx context.Context, rec *record.EnvironmentRecord) string {
	crResult := r.gw.GetCustomObject(ctx, gateway.CustomObjectCoordinates{Namespace: rec.CRNamespace, Name: rec.CRName})
	if crResult.Status == gateway.StatusOk {
		if url, ok := nestedString(crResult.Value.Object, "status", "ideUrl"); ok && url != "" {
			return url
		}
	}

	urlResult := r.gw.GetNodePortURL(ctx, rec.CRNamespace, rec.WorkloadName)
	if urlResult.Status == gateway.StatusOk && urlResult.Value != nil && *urlResult.Value != "" {
		return *urlResult.Value
	}
	return "https://" + rec.CRName + "." + r.platformDomain
}

// markTimeout transitions a record still stuck in Creating to Error
// once maxWait has elapsed, per §4.6: "On timeout, transition to Error
// with reason 'Deployment timeout'."
func (r *Reconciler) markTimeout(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rec, err := r.store.Get(ctx, id)
	if err != nil || rec.State != record.StateCreating {
		return
	}
	if _, err := r.store.Update(ctx, id, func(r *record.EnvironmentRecord) error {
		r.State = record.StateError
		r.StateMessage = "Deployment timeout"
		return nil
	}); err != nil {
		klog.Errorf("reconciler: marking %s Error on timeout: %v", id, err)
		return
	}
	r.outcome("Error")
	r.tick("timeout")
}

func (r *Reconciler) tick(result string) {
	if r.ticks != nil {
		r.ticks.WithLabelValues(result).Inc()
	}
}

func (r *Reconciler) outcome(state string) {
	if r.outcomes != nil {
		r.outcomes.WithLabelValues(state).Inc()
	}
}

func nestedString(obj map[string]interface{}, fields ...string) (string, bool) {
	cur := obj
	for i, f := range fields {
		v, ok := cur[f]
		if !ok {
			return "", false
		}
		if i == len(fields)-1 {
			s, ok := v.(string)
			return s, ok
		}
		next, ok := v.(map[string]interface{})
		if !ok {
			return "", false
		}
		cur = next
	}
	return "", false
}
