package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/scoutflo/kubdev-orchestrator/pkg/gateway"
	"github.com/scoutflo/kubdev-orchestrator/pkg/record"
)

// restartGrace is the bounded pause between scaling a Deployment to 0
// and back to 1 during Restart, per §4.4. A var, not a const, so
// tests can shrink it.
var restartGrace = 5 * time.Second

// Start requires the record be Stopped; scales the workload back to 1
// replica and hands it to the Status Reconciler. A concurrent Start on
// an already-Running record is a no-op returning the current view.
func (o *Orchestrator) Start(ctx context.Context, principal Principal, id string) (*record.EnvironmentRecord, error) {
	rec, err := o.start(ctx, principal, id)
	o.recordLifecycle("Start", err)
	return rec, err
}

func (o *Orchestrator) start(ctx context.Context, principal Principal, id string) (*record.EnvironmentRecord, error) {
	return o.withLock(id, func() (*record.EnvironmentRecord, error) {
		rec, err := o.store.Get(ctx, id)
		if err != nil {
			return nil, classifyRecordError(err)
		}
		if oerr := authorize(principal, rec); oerr != nil {
			return nil, oerr
		}
		rec = o.applyExpiry(ctx, rec)
		if rec.State == record.StateRunning {
			return rec, nil
		}
		if rec.State != record.StateStopped {
			return nil, newError(PreconditionFailed, "Start requires a Stopped environment", nil)
		}

		result := o.gw.ScaleDeployment(ctx, rec.CRNamespace, rec.WorkloadName, 1)
		if result.Status == gateway.StatusUnavailable {
			return nil, newError(ClusterUnavailable, "scaling workload up", errors.New(result.Reason))
		}
		if result.Status == gateway.StatusNotFound {
			return nil, newError(NotFound, "no such workload", nil)
		}

		updated, err := o.store.Update(ctx, id, func(r *record.EnvironmentRecord) error {
			r.State = record.StateCreating
			r.StateMessage = "scaling up"
			return nil
		})
		if err != nil {
			return nil, classifyRecordError(err)
		}

		if o.reconciler != nil {
			o.reconciler.Spawn(updated.ID)
		}
		return updated, nil
	})
}

// Stop requires the record be Running; scales the workload to 0 and
// transitions it to Stopped. A NotFound from ScaleDeployment still
// counts as stopped — the cluster has already reclaimed the workload.
func (o *Orchestrator) Stop(ctx context.Context, principal Principal, id string) (*record.EnvironmentRecord, error) {
	rec, err := o.stop(ctx, principal, id)
	o.recordLifecycle("Stop", err)
	return rec, err
}

func (o *Orchestrator) stop(ctx context.Context, principal Principal, id string) (*record.EnvironmentRecord, error) {
	return o.withLock(id, func() (*record.EnvironmentRecord, error) {
		rec, err := o.store.Get(ctx, id)
		if err != nil {
			return nil, classifyRecordError(err)
		}
		if oerr := authorize(principal, rec); oerr != nil {
			return nil, oerr
		}
		rec = o.applyExpiry(ctx, rec)
		if rec.State != record.StateRunning {
			return nil, newError(PreconditionFailed, "Stop requires a Running environment", nil)
		}

		result := o.gw.ScaleDeployment(ctx, rec.CRNamespace, rec.WorkloadName, 0)
		stateMessage := "scaled to 0"
		if result.Status == gateway.StatusUnavailable {
			return nil, newError(ClusterUnavailable, "scaling workload down", errors.New(result.Reason))
		}
		if result.Status == gateway.StatusNotFound {
			stateMessage = "workload already absent; treating as stopped"
		}

		updated, err := o.store.Update(ctx, id, func(r *record.EnvironmentRecord) error {
			now := time.Now()
			r.State = record.StateStopped
			r.StateMessage = stateMessage
			r.StoppedAt = &now
			return nil
		})
		if err != nil {
			return nil, classifyRecordError(err)
		}

		o.notifier.Notify(ctx, "environment "+updated.ID+" has stopped")
		return updated, nil
	})
}

// Restart scales the workload to 0, waits a bounded grace period, then
// scales it back to 1, driving the record Running -> Creating ->
// Running via the Status Reconciler. A failure on the second scale
// call marks the record Error.
func (o *Orchestrator) Restart(ctx context.Context, principal Principal, id string) (*record.EnvironmentRecord, error) {
	rec, err := o.restart(ctx, principal, id)
	o.recordLifecycle("Restart", err)
	return rec, err
}

func (o *Orchestrator) restart(ctx context.Context, principal Principal, id string) (*record.EnvironmentRecord, error) {
	return o.withLock(id, func() (*record.EnvironmentRecord, error) {
		rec, err := o.store.Get(ctx, id)
		if err != nil {
			return nil, classifyRecordError(err)
		}
		if oerr := authorize(principal, rec); oerr != nil {
			return nil, oerr
		}
		rec = o.applyExpiry(ctx, rec)
		if rec.State != record.StateRunning {
			return nil, newError(PreconditionFailed, "Restart requires a Running environment", nil)
		}

		downResult := o.gw.ScaleDeployment(ctx, rec.CRNamespace, rec.WorkloadName, 0)
		if downResult.Status == gateway.StatusUnavailable {
			return nil, newError(ClusterUnavailable, "scaling workload down for restart", errors.New(downResult.Reason))
		}

		updated, err := o.store.Update(ctx, id, func(r *record.EnvironmentRecord) error {
			r.State = record.StateCreating
			r.StateMessage = "restarting"
			return nil
		})
		if err != nil {
			return nil, classifyRecordError(err)
		}

		select {
		case <-time.After(restartGrace):
		case <-ctx.Done():
			return nil, newError(Internal, "restart cancelled during grace period", ctx.Err())
		}

		upResult := o.gw.ScaleDeployment(ctx, rec.CRNamespace, rec.WorkloadName, 1)
		if upResult.Status != gateway.StatusOk {
			failed, ferr := o.store.Update(ctx, id, func(r *record.EnvironmentRecord) error {
				r.State = record.StateError
				r.StateMessage = "restart: scaling back up failed: " + upResult.Reason
				return nil
			})
			if ferr != nil {
				return nil, classifyRecordError(ferr)
			}
			return failed, newError(ClusterUnavailable, "scaling workload up for restart", errors.New(upResult.Reason))
		}

		if o.reconciler != nil {
			o.reconciler.Spawn(updated.ID)
		}
		return updated, nil
	})
}

// Delete removes the environment's custom resource — not its shared
// namespace, see DESIGN.md's Open Question resolution — then removes
// the record. Any failure other than NotFound leaves the record
// intact; the operation is safe to retry.
func (o *Orchestrator) Delete(ctx context.Context, principal Principal, id string) error {
	err := o.delete(ctx, principal, id)
	o.recordLifecycle("Delete", err)
	return err
}

func (o *Orchestrator) delete(ctx context.Context, principal Principal, id string) error {
	_, err := o.withLock(id, func() (*record.EnvironmentRecord, error) {
		rec, err := o.store.Get(ctx, id)
		if err != nil {
			return nil, classifyRecordError(err)
		}
		if oerr := authorize(principal, rec); oerr != nil {
			return nil, oerr
		}

		result := o.gw.DeleteCustomObject(ctx, gateway.CustomObjectCoordinates{Namespace: rec.CRNamespace, Name: rec.CRName})
		if result.Status == gateway.StatusUnavailable {
			return nil, newError(ClusterUnavailable, "deleting custom resource", errors.New(result.Reason))
		}

		o.notifier.Notify(ctx, "environment "+rec.ID+" has been deleted")
		if err := o.store.Delete(ctx, id); err != nil {
			return nil, classifyRecordError(err)
		}
		return nil, nil
	})
	return err
}
