package gateway

import (
	"context"
	"testing"

	appsv1 "k8s.io/api/apps/v1"
	autoscalingv1 "k8s.io/api/autoscaling/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	k8stesting "k8s.io/client-go/testing"

	"k8s.io/client-go/dynamic/fake"
	kubefake "k8s.io/client-go/kubernetes/fake"
)

// newTestGateway builds a Gateway backed entirely by in-memory fake
// clients, standing in for the real-cluster tests the teacher drives
// via envtest (see DESIGN.md's dropped-dependency note on
// controller-runtime/setup-envtest): fast, no external binary, and
// sufficient to exercise the Gateway's own translation logic rather
// than the apiserver itself.
func newTestGateway(objects ...runtime.Object) (*Gateway, *kubefake.Clientset) {
	clientset := kubefake.NewSimpleClientset(objects...)

	scheme := runtime.NewScheme()
	gvrToListKind := map[schema.GroupVersionResource]string{
		EnvironmentGVR: "KubeDevEnvironmentList",
	}
	dynamicClient := fake.NewSimpleDynamicClientWithCustomListKinds(scheme, gvrToListKind)

	return &Gateway{
		clientset:      clientset,
		dynamicClient:  dynamicClient,
		platformDomain: "kubdev.example.com",
	}, clientset
}

func TestEnsureNamespaceIsIdempotent(t *testing.T) {
	gw, _ := newTestGateway()
	ctx := context.Background()

	if got := gw.EnsureNamespace(ctx, "kubdev-users"); got.Status != StatusOk {
		t.Fatalf("first EnsureNamespace status = %v, want Ok", got.Status)
	}
	if got := gw.EnsureNamespace(ctx, "kubdev-users"); got.Status != StatusOk {
		t.Fatalf("repeat EnsureNamespace status = %v, want Ok", got.Status)
	}
}

func TestCreateDeploymentAppliesManagedLabels(t *testing.T) {
	gw, clientset := newTestGateway()
	ctx := context.Background()

	result := gw.CreateDeployment(ctx, DeploymentSpec{
		Namespace: "kubdev-users",
		Name:      "env-user-1",
		Image:     "registry.example.com/ide:latest",
		CPU:       "500m",
		Memory:    "1Gi",
	})
	if result.Status != StatusOk {
		t.Fatalf("CreateDeployment status = %v, reason = %s", result.Status, result.Reason)
	}

	dep, err := clientset.AppsV1().Deployments("kubdev-users").Get(ctx, "env-user-1", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("fetching created deployment: %v", err)
	}
	if dep.Labels[ManagedLabel] != "true" || dep.Labels[AppLabel] != "env-user-1" {
		t.Fatalf("labels = %v, want managed=true app=env-user-1", dep.Labels)
	}
	if *dep.Spec.Replicas != 1 {
		t.Fatalf("replicas = %d, want 1", *dep.Spec.Replicas)
	}
}

func TestGetDeploymentStatusReportsReadyReplicas(t *testing.T) {
	ready := int32(1)
	dep := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: "env-user-1", Namespace: "kubdev-users"},
		Status:     appsv1.DeploymentStatus{ReadyReplicas: ready, Replicas: 1},
	}
	gw, _ := newTestGateway(dep)

	got := gw.GetDeploymentStatus(context.Background(), "kubdev-users", "env-user-1")
	if got.Status != StatusOk {
		t.Fatalf("status = %v, want Ok", got.Status)
	}
	if got.Value.Phase != "Running" || got.Value.ReadyReplicas != 1 {
		t.Fatalf("value = %+v, want Phase=Running ReadyReplicas=1", got.Value)
	}
}

func TestGetDeploymentStatusNotFound(t *testing.T) {
	gw, _ := newTestGateway()

	got := gw.GetDeploymentStatus(context.Background(), "kubdev-users", "no-such-env")
	if got.Status != StatusNotFound {
		t.Fatalf("status = %v, want NotFound", got.Status)
	}
}

func TestScaleDeploymentNotFound(t *testing.T) {
	gw, _ := newTestGateway()

	got := gw.ScaleDeployment(context.Background(), "kubdev-users", "no-such-env", 0)
	if got.Status != StatusNotFound {
		t.Fatalf("status = %v, want NotFound", got.Status)
	}
}

func TestScaleDeploymentUpdatesReplicas(t *testing.T) {
	replicas := int32(1)
	dep := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: "env-user-1", Namespace: "kubdev-users"},
		Spec:       appsv1.DeploymentSpec{Replicas: &replicas},
	}
	gw, clientset := newTestGateway(dep)

	// The fake clientset's generated reactors don't synthesize the
	// scale subresource for Deployments on their own; register one
	// that reads/writes Spec.Replicas off the backing Deployment, the
	// same shape the real apiserver offers.
	clientset.PrependReactor("get", "deployments", func(action k8stesting.Action) (bool, runtime.Object, error) {
		getAction, ok := action.(k8stesting.GetActionImpl)
		if !ok || getAction.Subresource != "scale" {
			return false, nil, nil
		}
		current, err := clientset.AppsV1().Deployments(getAction.Namespace).Get(context.Background(), getAction.Name, metav1.GetOptions{})
		if err != nil {
			return true, nil, err
		}
		return true, &autoscalingv1.Scale{
			ObjectMeta: metav1.ObjectMeta{Name: current.Name, Namespace: current.Namespace},
			Spec:       autoscalingv1.ScaleSpec{Replicas: *current.Spec.Replicas},
		}, nil
	})
	clientset.PrependReactor("update", "deployments", func(action k8stesting.Action) (bool, runtime.Object, error) {
		updateAction, ok := action.(k8stesting.UpdateActionImpl)
		if !ok || updateAction.Subresource != "scale" {
			return false, nil, nil
		}
		scale := updateAction.Object.(*autoscalingv1.Scale)
		current, err := clientset.AppsV1().Deployments(scale.Namespace).Get(context.Background(), scale.Name, metav1.GetOptions{})
		if err != nil {
			return true, nil, err
		}
		current.Spec.Replicas = &scale.Spec.Replicas
		updated, err := clientset.AppsV1().Deployments(scale.Namespace).Update(context.Background(), current, metav1.UpdateOptions{})
		return true, updated, err
	})

	got := gw.ScaleDeployment(context.Background(), "kubdev-users", "env-user-1", 0)
	if got.Status != StatusOk {
		t.Fatalf("ScaleDeployment status = %v, reason = %s", got.Status, got.Reason)
	}

	updated, err := clientset.AppsV1().Deployments("kubdev-users").Get(context.Background(), "env-user-1", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("fetching scaled deployment: %v", err)
	}
	if *updated.Spec.Replicas != 0 {
		t.Fatalf("replicas = %d, want 0", *updated.Spec.Replicas)
	}
}

func TestCustomObjectCreateGetDelete(t *testing.T) {
	gw, _ := newTestGateway()
	ctx := context.Background()

	obj := &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "kubedev.my-project.com/v1alpha1",
		"kind":       "KubeDevEnvironment",
		"metadata": map[string]interface{}{
			"name":      "env-user-1",
			"namespace": "kubdev-users",
		},
	}}

	if created := gw.CreateCustomObject(ctx, obj); created.Status != StatusOk {
		t.Fatalf("CreateCustomObject status = %v, reason = %s", created.Status, created.Reason)
	}

	coords := CustomObjectCoordinates{Namespace: "kubdev-users", Name: "env-user-1"}
	got := gw.GetCustomObject(ctx, coords)
	if got.Status != StatusOk {
		t.Fatalf("GetCustomObject status = %v, reason = %s", got.Status, got.Reason)
	}
	if got.Value.GetName() != "env-user-1" {
		t.Fatalf("name = %s, want env-user-1", got.Value.GetName())
	}

	if deleted := gw.DeleteCustomObject(ctx, coords); deleted.Status != StatusOk {
		t.Fatalf("DeleteCustomObject status = %v, reason = %s", deleted.Status, deleted.Reason)
	}

	afterDelete := gw.GetCustomObject(ctx, coords)
	if afterDelete.Status != StatusNotFound {
		t.Fatalf("GetCustomObject after delete status = %v, want NotFound", afterDelete.Status)
	}
}

func TestGetCustomObjectNotFound(t *testing.T) {
	gw, _ := newTestGateway()

	got := gw.GetCustomObject(context.Background(), CustomObjectCoordinates{Namespace: "kubdev-users", Name: "missing"})
	if got.Status != StatusNotFound {
		t.Fatalf("status = %v, want NotFound", got.Status)
	}
}

func TestEnsureResourceQuotaCreatesThenUpdates(t *testing.T) {
	gw, clientset := newTestGateway()
	ctx := context.Background()

	limits := ResourceQuotaLimits{CPU: "2", Memory: "4Gi", Storage: "20Gi", MaxPods: 5}
	if got := gw.EnsureResourceQuota(ctx, "kubdev-users", "kubdev-quota", limits); got.Status != StatusOk {
		t.Fatalf("first EnsureResourceQuota status = %v, reason = %s", got.Status, got.Reason)
	}

	limits.MaxPods = 10
	if got := gw.EnsureResourceQuota(ctx, "kubdev-users", "kubdev-quota", limits); got.Status != StatusOk {
		t.Fatalf("second EnsureResourceQuota status = %v, reason = %s", got.Status, got.Reason)
	}

	quota, err := clientset.CoreV1().ResourceQuotas("kubdev-users").Get(ctx, "kubdev-quota", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("fetching quota: %v", err)
	}
	if quota.Spec.Hard.Pods().Value() != 10 {
		t.Fatalf("pods hard limit = %d, want 10", quota.Spec.Hard.Pods().Value())
	}
}

func TestDeleteNamespaceNotFound(t *testing.T) {
	gw, _ := newTestGateway()

	got := gw.DeleteNamespace(context.Background(), "no-such-namespace")
	if got.Status != StatusNotFound {
		t.Fatalf("status = %v, want NotFound", got.Status)
	}
}
