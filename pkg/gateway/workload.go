package gateway

import (
	"context"
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
)

// DeploymentSpec is the input CreateDeployment needs to materialize a
// workload for an environment.
type DeploymentSpec struct {
	Namespace string
	Name      string
	Image     string
	Env       map[string]string
	CPU       string
	Memory    string
	GitRef    string // optional; used only for a descriptive annotation
}

// CreateDeployment creates a single-replica Deployment labeled
// kubdev.managed=true / app=<name>, with the declared env vars and
// resource limits.
func (g *Gateway) CreateDeployment(ctx context.Context, spec DeploymentSpec) Result[struct{}] {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	var envVars []corev1.EnvVar
	for k, v := range spec.Env {
		envVars = append(envVars, corev1.EnvVar{Name: k, Value: v})
	}

	limits := corev1.ResourceList{}
	if spec.CPU != "" {
		limits[corev1.ResourceCPU] = resource.MustParse(spec.CPU)
	}
	if spec.Memory != "" {
		limits[corev1.ResourceMemory] = resource.MustParse(spec.Memory)
	}

	labels := ManagedLabels(spec.Name)
	replicas := int32(1)

	annotations := map[string]string{}
	if spec.GitRef != "" {
		annotations["kubdev.my-project.com/git-ref"] = spec.GitRef
	}

	deployment := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      spec.Name,
			Namespace: spec.Namespace,
			Labels:    labels,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{MatchLabels: labels},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels:      labels,
					Annotations: annotations,
				},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{
						{
							Name:  "ide",
							Image: spec.Image,
							Ports: []corev1.ContainerPort{
								{ContainerPort: IDEContainerPort},
							},
							Env: envVars,
							Resources: corev1.ResourceRequirements{
								Limits: limits,
							},
						},
					},
				},
			},
		},
	}

	client := g.clientset.AppsV1().Deployments(spec.Namespace)
	_, err := client.Create(ctx, deployment, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		return Ok(struct{}{})
	}
	if err == nil {
		return Ok(struct{}{})
	}
	return Unavailable[struct{}](fmt.Sprintf("creating deployment %s/%s: %v", spec.Namespace, spec.Name, err))
}

// CreateService creates a ClusterIP service selecting the workload's
// pods and forwarding to its IDE port.
func (g *Gateway) CreateService(ctx context.Context, ns, name string, port int32) Result[struct{}] {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	labels := ManagedLabels(name)
	svc := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: ns,
			Labels:    labels,
		},
		Spec: corev1.ServiceSpec{
			Type:     corev1.ServiceTypeClusterIP,
			Selector: labels,
			Ports: []corev1.ServicePort{
				{
					Port:       port,
					TargetPort: intstr.FromInt32(IDEContainerPort),
				},
			},
		},
	}

	_, err := g.clientset.CoreV1().Services(ns).Create(ctx, svc, metav1.CreateOptions{})
	if err == nil || apierrors.IsAlreadyExists(err) {
		return Ok(struct{}{})
	}
	return Unavailable[struct{}](fmt.Sprintf("creating service %s/%s: %v", ns, name, err))
}

// CreateIngress creates an ingress routing <name>.<platform-domain> to
// the named service.
func (g *Gateway) CreateIngress(ctx context.Context, ns, name, host, service string, port int32) Result[struct{}] {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	pathType := networkingv1.PathTypePrefix
	ing := &networkingv1.Ingress{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: ns,
			Labels:    ManagedLabels(name),
		},
		Spec: networkingv1.IngressSpec{
			Rules: []networkingv1.IngressRule{
				{
					Host: host,
					IngressRuleValue: networkingv1.IngressRuleValue{
						HTTP: &networkingv1.HTTPIngressRuleValue{
							Paths: []networkingv1.HTTPIngressPath{
								{
									Path:     "/",
									PathType: &pathType,
									Backend: networkingv1.IngressBackend{
										Service: &networkingv1.IngressServiceBackend{
											Name: service,
											Port: networkingv1.ServiceBackendPort{Number: port},
										},
									},
								},
							},
						},
					},
				},
			},
		},
	}

	_, err := g.clientset.NetworkingV1().Ingresses(ns).Create(ctx, ing, metav1.CreateOptions{})
	if err == nil || apierrors.IsAlreadyExists(err) {
		return Ok(struct{}{})
	}
	return Unavailable[struct{}](fmt.Sprintf("creating ingress %s/%s: %v", ns, name, err))
}

// ScaleDeployment patches a Deployment's replica count. Used for
// Stop (0), Start (1), and the two halves of Restart.
func (g *Gateway) ScaleDeployment(ctx context.Context, ns, name string, replicas int32) Result[struct{}] {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	client := g.clientset.AppsV1().Deployments(ns)
	scale, err := client.GetScale(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return NotFound[struct{}]("no such deployment")
	}
	if err != nil {
		return Unavailable[struct{}](err.Error())
	}

	scale.Spec.Replicas = replicas
	_, err = client.UpdateScale(ctx, name, scale, metav1.UpdateOptions{})
	if apierrors.IsNotFound(err) {
		return NotFound[struct{}]("no such deployment")
	}
	if err != nil {
		return Unavailable[struct{}](fmt.Sprintf("scaling %s/%s to %d: %v", ns, name, replicas, err))
	}
	return Ok(struct{}{})
}

// DeploymentStatus summarizes a Deployment's readiness as observed by
// the cluster.
type DeploymentStatus struct {
	Phase          string // "Running" or "Pending"
	ReadyReplicas  int32
	TotalReplicas  int32
}

// GetDeploymentStatus reports ready vs. total replicas. Phase is
// "Running" iff ready_replicas >= 1, else "Pending".
func (g *Gateway) GetDeploymentStatus(ctx context.Context, ns, name string) Result[DeploymentStatus] {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	dep, err := g.clientset.AppsV1().Deployments(ns).Get(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return NotFound[DeploymentStatus]("no such deployment")
	}
	if err != nil {
		return Unavailable[DeploymentStatus](err.Error())
	}

	phase := "Pending"
	if dep.Status.ReadyReplicas >= 1 {
		phase = "Running"
	}

	return Ok(DeploymentStatus{
		Phase:         phase,
		ReadyReplicas: dep.Status.ReadyReplicas,
		TotalReplicas: dep.Status.Replicas,
	})
}
