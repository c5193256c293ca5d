package orchestrator

import (
	"context"
	"errors"
	"time"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/klog/v2"

	"github.com/scoutflo/kubdev-orchestrator/pkg/gateway"
	"github.com/scoutflo/kubdev-orchestrator/pkg/progress"
	"github.com/scoutflo/kubdev-orchestrator/pkg/record"
	"github.com/scoutflo/kubdev-orchestrator/pkg/spec"
)

// Create implements the synchronous Create variant of §4.4: normalize,
// write a Pending record, then submit cluster resources and advance it
// to Creating.
func (o *Orchestrator) Create(ctx context.Context, principal Principal, templateID string, manifest []byte) (*record.EnvironmentRecord, error) {
	rec, err := o.create(ctx, principal, templateID, manifest)
	o.recordLifecycle("Create", err)
	return rec, err
}

func (o *Orchestrator) create(ctx context.Context, principal Principal, templateID string, manifest []byte) (*record.EnvironmentRecord, error) {
	norm, oerr := o.normalize(principal, manifest)
	if oerr != nil {
		return nil, oerr
	}

	if oerr := o.rejectDuplicate(ctx, principal); oerr != nil {
		return nil, oerr
	}

	rec := o.buildRecord(principal, templateID, norm)
	created, err := o.store.Create(ctx, rec)
	if err != nil {
		return nil, classifyRecordError(err)
	}

	return o.withLock(created.ID, func() (*record.EnvironmentRecord, error) {
		return o.submitAndAdvance(ctx, created, norm)
	})
}

// CreateStream implements the streaming Create variant of §4.4/§4.5:
// the same steps, interleaved with ProgressEvent emissions, with an
// inline bounded wait for pod_running before the stream closes.
//
// The returned channel is closed once a terminal stage has been
// published or ctx is cancelled. A non-nil error means the request
// never got far enough to produce any events (malformed manifest,
// duplicate environment, or a template that failed to load).
func (o *Orchestrator) CreateStream(ctx context.Context, principal Principal, templateID string) (<-chan progress.Event, error) {
	stream, err := o.createStream(ctx, principal, templateID)
	if err != nil {
		o.recordLifecycle("CreateStream", err)
	}
	return stream, err
}

func (o *Orchestrator) createStream(ctx context.Context, principal Principal, templateID string) (<-chan progress.Event, error) {
	if o.templates == nil {
		return nil, newError(Internal, "no template loader configured", nil)
	}
	manifest, err := o.templates.Load(ctx, templateID)
	if err != nil {
		return nil, newError(MalformedSpec, "loading template", err)
	}

	norm, oerr := o.normalize(principal, manifest)
	if oerr != nil {
		return nil, oerr
	}
	if oerr := o.rejectDuplicate(ctx, principal); oerr != nil {
		return nil, oerr
	}

	rec := o.buildRecord(principal, templateID, norm)
	created, err := o.store.Create(ctx, rec)
	if err != nil {
		return nil, classifyRecordError(err)
	}

	stream := progress.NewStream()
	stream.Publish(ctx, progress.Event{Stage: progress.StageUserCreated, Message: "environment record created"})
	stream.Publish(ctx, progress.Event{Stage: progress.StageTemplateLoaded, Message: "template manifest normalized"})

	go o.driveStream(ctx, stream, created, norm)

	return stream.Events(), nil
}

// driveStream runs the rest of the streaming Create in its own task:
// submit the CR, wait inline for readiness, and either complete or
// time out while handing the record off to the Status Reconciler.
func (o *Orchestrator) driveStream(ctx context.Context, stream *progress.Stream, created *record.EnvironmentRecord, norm *spec.Normalized) {
	unlock := o.locks.lock(created.ID)
	updated, err := o.submitAndAdvance(ctx, created, norm)
	unlock()

	if err != nil {
		o.recordStreamTerminal(string(progress.StageError))
		stream.Publish(ctx, progress.Event{Stage: progress.StageError, Message: err.Error()})
		return
	}
	stream.Publish(ctx, progress.Event{Stage: progress.StageCRDSubmitted, Message: "custom resource submitted"})

	o.waitForReadiness(ctx, stream, updated)
}

// waitForReadiness polls GetDeploymentStatus on a fixed cadence up to
// StreamMaxWait, emitting a heartbeat every StreamHeartbeatEvery and a
// terminal completed/timeout event, per §4.5's contract.
func (o *Orchestrator) waitForReadiness(ctx context.Context, stream *progress.Stream, rec *record.EnvironmentRecord) {
	deadline := time.Now().Add(o.opts.StreamMaxWait)
	ticker := time.NewTicker(o.opts.StreamPollInterval)
	defer ticker.Stop()

	lastHeartbeat := time.Now()
	stream.Publish(ctx, progress.Event{Stage: progress.StagePodPending, Message: "waiting for workload to become ready"})

	for {
		select {
		case <-ctx.Done():
			stream.Close()
			return
		case now := <-ticker.C:
			if now.After(deadline) {
				// F was already spawned in submitAndAdvance when the
				// record entered Creating; it keeps driving toward
				// Running/Error in the background after this point.
				o.emitTimeout(ctx, stream, rec)
				return
			}

			status := o.gw.GetDeploymentStatus(ctx, rec.CRNamespace, rec.WorkloadName)
			if status.Status == gateway.StatusOk && status.Value.ReadyReplicas >= 1 {
				o.completeStream(ctx, stream, rec)
				return
			}

			if now.Sub(lastHeartbeat) >= o.opts.StreamHeartbeatEvery {
				lastHeartbeat = now
				stream.Publish(ctx, progress.Event{Stage: progress.StagePodPending, Message: "still waiting for workload readiness"})
			}
		}
	}
}

func (o *Orchestrator) emitTimeout(ctx context.Context, stream *progress.Stream, rec *record.EnvironmentRecord) {
	o.recordStreamTerminal(string(progress.StageTimeout))
	stream.Publish(ctx, progress.Event{
		Stage:   progress.StageTimeout,
		Message: "inline readiness wait exceeded its budget; convergence continues in the background",
		Payload: &progress.TerminalPayload{EnvironmentID: rec.ID, AccessCode: rec.SanitizedName},
	})
}

func (o *Orchestrator) completeStream(ctx context.Context, stream *progress.Stream, rec *record.EnvironmentRecord) {
	accessURL, oerr := o.resolveAccessURL(ctx, rec)
	if oerr != nil {
		o.recordStreamTerminal(string(progress.StageError))
		stream.Publish(ctx, progress.Event{Stage: progress.StageError, Message: oerr.Error()})
		return
	}

	updated, err := o.store.Update(ctx, rec.ID, func(r *record.EnvironmentRecord) error {
		now := time.Now()
		r.State = record.StateRunning
		r.StateMessage = "workload ready"
		r.AccessURL = &accessURL
		r.StartedAt = &now
		return nil
	})
	if err != nil {
		o.recordStreamTerminal(string(progress.StageError))
		stream.Publish(ctx, progress.Event{Stage: progress.StageError, Message: err.Error()})
		return
	}

	o.notifier.Notify(ctx, "environment "+updated.ID+" is running")
	stream.Publish(ctx, progress.Event{
		Stage:   progress.StagePodRunning,
		Message: "workload is ready",
	})
	o.recordStreamTerminal(string(progress.StageCompleted))
	stream.Publish(ctx, progress.Event{
		Stage:   progress.StageCompleted,
		Message: "environment is running",
		Payload: &progress.TerminalPayload{EnvironmentID: updated.ID, AccessURL: accessURL, AccessCode: updated.SanitizedName},
	})
}

// normalize runs the Spec Normalizer and maps its sentinel errors into
// this package's taxonomy.
func (o *Orchestrator) normalize(principal Principal, manifest []byte) (*spec.Normalized, *Error) {
	norm, err := spec.Normalize(manifest, spec.Principal{ID: principal.ID, DisplayName: principal.DisplayName}, o.opts.CRNamespace, o.opts.DefaultResources)
	if err != nil {
		return nil, classifySpecError(err)
	}
	return norm, nil
}

// rejectDuplicate enforces §4.3 step 4 / §4.4's tie-break: one
// orchestrator-issued environment per owner. Since cr_name is derived
// purely from owner_id, any existing record for this owner already
// occupies the only cr_name this Create could produce.
func (o *Orchestrator) rejectDuplicate(ctx context.Context, principal Principal) *Error {
	existing, err := o.store.List(ctx, record.Filter{OwnerID: principal.ID})
	if err != nil {
		return classifyRecordError(err)
	}
	if len(existing) > 0 {
		return newError(Conflict, "an environment already exists for this owner", nil)
	}
	return nil
}

func (o *Orchestrator) buildRecord(principal Principal, templateID string, norm *spec.Normalized) *record.EnvironmentRecord {
	now := time.Now()
	return &record.EnvironmentRecord{
		OwnerID:       principal.ID,
		TemplateID:    templateID,
		DisplayName:   principal.DisplayName,
		SanitizedName: norm.SanitizedName,
		CRName:        norm.CRName,
		CRNamespace:   norm.CRNamespace,
		WorkloadName:  norm.CRName,
		State:         record.StatePending,
		DeclaredGit:   declaredGitMap(norm),
		DeclaredPorts: extractPorts(norm.Object),
		DeclaredEnv:   extractEnv(norm.Object),
		DeclaredResources: record.DeclaredResources{
			CPU:     o.opts.DefaultResources.CPU,
			Memory:  o.opts.DefaultResources.Memory,
			Storage: o.opts.DefaultResources.Storage,
		},
		CreatedAt: now,
		ExpiresAt: now.Add(o.opts.EnvironmentTTL),
	}
}

// submitAndAdvance performs steps 3-7 of the Create algorithm:
// EnsureNamespace/EnsureResourceQuota, CreateCustomObject, and the
// transition to Creating with the Status Reconciler spawned.
//
// A cluster failure in EnsureNamespace/EnsureResourceQuota rolls the
// Pending record back (deletes it) rather than leaving an orphaned
// record with no corresponding cluster object, consistent with §7's
// propagation policy that cluster errors observed before the CR exists
// leave no record behind.
func (o *Orchestrator) submitAndAdvance(ctx context.Context, rec *record.EnvironmentRecord, norm *spec.Normalized) (*record.EnvironmentRecord, error) {
	nsResult := o.gw.EnsureNamespace(ctx, rec.CRNamespace)
	if nsResult.Status == gateway.StatusUnavailable {
		o.rollbackPending(ctx, rec.ID)
		return nil, newError(ClusterUnavailable, "ensuring namespace", errors.New(nsResult.Reason))
	}

	if rec.DeclaredResources.CPU != "" || rec.DeclaredResources.Memory != "" || rec.DeclaredResources.Storage != "" {
		quotaResult := o.gw.EnsureResourceQuota(ctx, rec.CRNamespace, rec.CRNamespace+"-quota", gateway.ResourceQuotaLimits{
			CPU:     rec.DeclaredResources.CPU,
			Memory:  rec.DeclaredResources.Memory,
			Storage: rec.DeclaredResources.Storage,
			MaxPods: o.opts.MaxPods,
		})
		if quotaResult.Status == gateway.StatusUnavailable {
			o.rollbackPending(ctx, rec.ID)
			return nil, newError(ClusterUnavailable, "ensuring resource quota", errors.New(quotaResult.Reason))
		}
	}

	crResult := o.gw.CreateCustomObject(ctx, norm.Object)
	if crResult.Status == gateway.StatusUnavailable {
		_, _ = o.store.Update(ctx, rec.ID, func(r *record.EnvironmentRecord) error {
			r.State = record.StateError
			r.StateMessage = crResult.Reason
			return nil
		})
		return nil, newError(ClusterUnavailable, "submitting custom resource", errors.New(crResult.Reason))
	}
	if crResult.Reason == "already exists" {
		// Two Creates for the same owner raced past rejectDuplicate;
		// the Gateway's AlreadyExists is this operation's tie-break
		// signal per §4.4.
		o.rollbackPending(ctx, rec.ID)
		return nil, newError(Conflict, "duplicate environment name", nil)
	}

	updated, err := o.store.Update(ctx, rec.ID, func(r *record.EnvironmentRecord) error {
		r.State = record.StateCreating
		r.StateMessage = "custom resource submitted"
		return nil
	})
	if err != nil {
		return nil, classifyRecordError(err)
	}

	if o.reconciler != nil {
		o.reconciler.Spawn(updated.ID)
	}
	return updated, nil
}

func (o *Orchestrator) rollbackPending(ctx context.Context, id string) {
	if err := o.store.Delete(ctx, id); err != nil {
		klog.Errorf("orchestrator: rolling back pending record %s: %v", id, err)
	}
}

// resolveAccessURL prefers the CR's status.ideUrl (the cluster
// controller's own resolution), falls back to GetNodePortURL, and
// otherwise returns https://<cr_name>.<platform-domain>. It serves the
// inline streaming wait; pkg/reconciler has its own resolver with the
// same preference order.
func (o *Orchestrator) resolveAccessURL(ctx context.Context, rec *record.EnvironmentRecord) (string, *Error) {
	crResult := o.gw.GetCustomObject(ctx, gateway.CustomObjectCoordinates{Namespace: rec.CRNamespace, Name: rec.CRName})
	if crResult.Status == gateway.StatusOk {
		if url, ok := nestedString(crResult.Value.Object, "status", "ideUrl"); ok && url != "" {
			return url, nil
		}
	}

	urlResult := o.gw.GetNodePortURL(ctx, rec.CRNamespace, rec.WorkloadName)
	if urlResult.Status == gateway.StatusUnavailable {
		return "", newError(ClusterUnavailable, "resolving access url", errors.New(urlResult.Reason))
	}
	if urlResult.Value != nil && *urlResult.Value != "" {
		return *urlResult.Value, nil
	}
	return "https://" + rec.CRName + "." + o.opts.PlatformDomain, nil
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

func declaredGitMap(norm *spec.Normalized) map[string]string {
	if norm.DeclaredGit == nil {
		return nil
	}
	return map[string]string{
		"repository": norm.DeclaredGit.Repository,
		"branch":      norm.DeclaredGit.Branch,
	}
}

func extractPorts(obj *unstructured.Unstructured) []int32 {
	raw, ok, _ := unstructured.NestedSlice(obj.Object, "spec", "ports")
	if !ok {
		return nil
	}
	ports := make([]int32, 0, len(raw))
	for _, v := range raw {
		switch n := v.(type) {
		case int64:
			ports = append(ports, int32(n))
		case float64:
			ports = append(ports, int32(n))
		}
	}
	return ports
}

func extractEnv(obj *unstructured.Unstructured) map[string]string {
	raw, ok, _ := unstructured.NestedMap(obj.Object, "spec", "env")
	if !ok {
		return nil
	}
	env := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			env[k] = s
		}
	}
	return env
}
