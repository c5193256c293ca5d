package orchestrator

import (
	"context"
	"time"

	"k8s.io/klog/v2"

	"github.com/scoutflo/kubdev-orchestrator/pkg/gateway"
	"github.com/scoutflo/kubdev-orchestrator/pkg/record"
)

// Get returns a single environment record, enforcing ownership.
func (o *Orchestrator) Get(ctx context.Context, principal Principal, id string) (*record.EnvironmentRecord, error) {
	rec, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, classifyRecordError(err)
	}
	if oerr := authorize(principal, rec); oerr != nil {
		return nil, oerr
	}
	return o.applyExpiry(ctx, rec), nil
}

// List returns every environment the caller may see: their own
// records matching filter, or (as an administrator) every record
// matching filter regardless of owner.
func (o *Orchestrator) List(ctx context.Context, principal Principal, filter record.Filter) ([]*record.EnvironmentRecord, error) {
	if !principal.IsAdmin {
		filter.OwnerID = principal.ID
	}
	recs, err := o.store.List(ctx, filter)
	if err != nil {
		return nil, classifyRecordError(err)
	}
	for i, rec := range recs {
		recs[i] = o.applyExpiry(ctx, rec)
	}
	return recs, nil
}

// applyExpiry lazily transitions a Running or Stopped record to
// Expired once now has passed expires_at. There is no standalone
// sweeper: expiry is cheap to check and every read path already loads
// the record, so the transition happens on next observation rather
// than on a timer. A failed commit is logged and the unexpired record
// is returned as-is; the next read retries.
func (o *Orchestrator) applyExpiry(ctx context.Context, rec *record.EnvironmentRecord) *record.EnvironmentRecord {
	if rec.State != record.StateRunning && rec.State != record.StateStopped {
		return rec
	}
	if time.Now().Before(rec.ExpiresAt) {
		return rec
	}

	updated, err := o.store.Update(ctx, rec.ID, func(r *record.EnvironmentRecord) error {
		if r.State != record.StateRunning && r.State != record.StateStopped {
			return nil
		}
		r.State = record.StateExpired
		r.StateMessage = "environment expired"
		return nil
	})
	if err != nil {
		klog.V(4).Infof("orchestrator: marking %s Expired: %v", rec.ID, err)
		return rec
	}
	o.recordLifecycle("Expire", nil)
	return updated
}

// GetLogs fetches the most recent tail log lines for the environment's
// workload.
func (o *Orchestrator) GetLogs(ctx context.Context, principal Principal, id string, tail int64) ([]string, error) {
	rec, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, classifyRecordError(err)
	}
	if oerr := authorize(principal, rec); oerr != nil {
		return nil, oerr
	}

	result := o.gw.GetPodLogs(ctx, rec.CRNamespace, rec.WorkloadName, tail)
	switch result.Status {
	case gateway.StatusOk:
		return result.Value, nil
	case gateway.StatusNotFound:
		return nil, newError(NotFound, "no running pod for this environment", nil)
	default:
		return nil, newError(ClusterUnavailable, "fetching logs", nil)
	}
}

// AccessInfo is the response shape for GetAccessInfo.
type AccessInfo struct {
	AccessURL string
	State     record.State
	Ports     []int32
}

// GetAccessInfo reports the environment's current access URL, state,
// and declared ports.
func (o *Orchestrator) GetAccessInfo(ctx context.Context, principal Principal, id string) (*AccessInfo, error) {
	rec, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, classifyRecordError(err)
	}
	if oerr := authorize(principal, rec); oerr != nil {
		return nil, oerr
	}
	rec = o.applyExpiry(ctx, rec)

	info := &AccessInfo{State: rec.State, Ports: rec.DeclaredPorts}
	if rec.AccessURL != nil {
		info.AccessURL = *rec.AccessURL
	}

	if rec.State == record.StateRunning {
		if _, err := o.store.Update(ctx, id, func(r *record.EnvironmentRecord) error {
			now := time.Now()
			r.LastAccessAt = &now
			return nil
		}); err != nil {
			klog.V(4).Infof("orchestrator: touching last_access_at for %s: %v", id, err)
		}
	}

	return info, nil
}
