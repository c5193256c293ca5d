package gateway

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/klog/v2"
)

// EnsureNamespace creates the namespace if it doesn't exist.
// AlreadyExists is treated as Ok, so repeated calls are idempotent.
func (g *Gateway) EnsureNamespace(ctx context.Context, name string) Result[struct{}] {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	ns := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name:   name,
			Labels: map[string]string{ManagedLabel: "true"},
		},
	}

	_, err := g.clientset.CoreV1().Namespaces().Create(ctx, ns, metav1.CreateOptions{})
	if err == nil || apierrors.IsAlreadyExists(err) {
		return Ok(struct{}{})
	}
	if isUnavailable(err) {
		klog.Errorf("EnsureNamespace(%s): cluster unavailable: %v", name, err)
		return Unavailable[struct{}](err.Error())
	}
	return Unavailable[struct{}](fmt.Sprintf("creating namespace %s: %v", name, err))
}

// ResourceQuotaLimits describes the quota a namespace should carry.
type ResourceQuotaLimits struct {
	CPU     string
	Memory  string
	Storage string
	MaxPods int
}

// EnsureResourceQuota creates or updates the namespace's resource
// quota object. Idempotent.
func (g *Gateway) EnsureResourceQuota(ctx context.Context, ns, name string, limits ResourceQuotaLimits) Result[struct{}] {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	hard := corev1.ResourceList{
		corev1.ResourceRequestsCPU:    resource.MustParse(limits.CPU),
		corev1.ResourceRequestsMemory: resource.MustParse(limits.Memory),
		corev1.ResourceRequestsStorage: resource.MustParse(limits.Storage),
	}
	if limits.MaxPods > 0 {
		hard[corev1.ResourcePods] = *resource.NewQuantity(int64(limits.MaxPods), resource.DecimalSI)
	}

	quota := &corev1.ResourceQuota{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: ns,
			Labels:    map[string]string{ManagedLabel: "true"},
		},
		Spec: corev1.ResourceQuotaSpec{Hard: hard},
	}

	client := g.clientset.CoreV1().ResourceQuotas(ns)
	_, err := client.Create(ctx, quota, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		_, err = client.Update(ctx, quota, metav1.UpdateOptions{})
	}
	if err == nil {
		return Ok(struct{}{})
	}
	if isUnavailable(err) {
		return Unavailable[struct{}](err.Error())
	}
	return Unavailable[struct{}](fmt.Sprintf("ensuring quota %s/%s: %v", ns, name, err))
}

// QuotaStatus reports a namespace's resource quota utilization.
type QuotaStatus struct {
	Hard        map[string]string
	Used        map[string]string
	Utilization map[string]float64
}

// GetResourceQuotaStatus reads the current hard/used values for a
// namespace's quota object.
func (g *Gateway) GetResourceQuotaStatus(ctx context.Context, ns, name string) Result[QuotaStatus] {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	quota, err := g.clientset.CoreV1().ResourceQuotas(ns).Get(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return NotFound[QuotaStatus]("no such resource quota")
	}
	if err != nil {
		return Unavailable[QuotaStatus](err.Error())
	}

	status := QuotaStatus{
		Hard:        map[string]string{},
		Used:        map[string]string{},
		Utilization: map[string]float64{},
	}
	for resName, qty := range quota.Status.Hard {
		status.Hard[string(resName)] = qty.String()
	}
	for resName, qty := range quota.Status.Used {
		status.Used[string(resName)] = qty.String()
	}
	for resName, hardQty := range quota.Status.Hard {
		if usedQty, ok := quota.Status.Used[resName]; ok && hardQty.MilliValue() > 0 {
			status.Utilization[string(resName)] = float64(usedQty.MilliValue()) / float64(hardQty.MilliValue())
		}
	}
	return Ok(status)
}

// DeleteNamespace deletes a namespace, cascading to every child
// resource. NotFound is not treated as an error by callers that want
// idempotent deletes; this method reports it explicitly so callers can
// decide.
func (g *Gateway) DeleteNamespace(ctx context.Context, name string) Result[struct{}] {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	err := g.clientset.CoreV1().Namespaces().Delete(ctx, name, metav1.DeleteOptions{})
	if err == nil {
		return Ok(struct{}{})
	}
	if apierrors.IsNotFound(err) {
		return NotFound[struct{}]("namespace already absent")
	}
	return Unavailable[struct{}](fmt.Sprintf("deleting namespace %s: %v", name, err))
}
