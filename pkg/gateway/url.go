package gateway

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// GetNodePortURL resolves an access URL for a service. If the service
// is of type NodePort, it returns http://<cluster-ingress>:<nodePort>
// using the resolved cluster API host as the ingress address. For
// ClusterIP services (the common case here, since access normally goes
// through the Ingress instead), there is no externally reachable
// NodePort to report and nil is returned — not an error, per the
// contract's "URL string or null".
func (g *Gateway) GetNodePortURL(ctx context.Context, ns, service string) Result[*string] {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	svc, err := g.clientset.CoreV1().Services(ns).Get(ctx, service, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return NotFound[*string]("no such service")
	}
	if err != nil {
		return Unavailable[*string](err.Error())
	}

	if svc.Spec.Type != corev1.ServiceTypeNodePort {
		return Ok[*string](nil)
	}

	for _, port := range svc.Spec.Ports {
		if port.NodePort != 0 {
			url := fmt.Sprintf("http://%s:%d", clusterIngressHost(g.restConfig.Host), port.NodePort)
			return Ok(&url)
		}
	}
	return Ok[*string](nil)
}

// clusterIngressHost strips any scheme/port from the cluster API host
// so it can be reused as a node address for NodePort URLs.
func clusterIngressHost(apiHost string) string {
	host := apiHost
	for _, prefix := range []string{"https://", "http://"} {
		if len(host) > len(prefix) && host[:len(prefix)] == prefix {
			host = host[len(prefix):]
			break
		}
	}
	for i := 0; i < len(host); i++ {
		if host[i] == ':' || host[i] == '/' {
			return host[:i]
		}
	}
	return host
}
