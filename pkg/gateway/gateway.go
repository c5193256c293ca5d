// Package gateway offers a single, typed interface to the cluster for
// every operation the Orchestrator needs: CRUD on namespaces,
// deployments, services, ingress, quotas, and the KubeDevEnvironment
// custom resource; log and event fetch; metrics fetch; URL resolution.
//
// Every operation converts transport failures into one of three result
// kinds (see Result) instead of throwing. The Gateway itself never
// writes to the Environment Record Store.
package gateway

import (
	"fmt"
	"time"

	"k8s.io/client-go/discovery"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	metricsclientset "k8s.io/metrics/pkg/client/clientset/versioned"
)

const (
	// ManagedLabel marks every resource the orchestrator creates.
	ManagedLabel = "kubdev.managed"
	// AppLabel carries the CR name that owns a workload.
	AppLabel = "app"

	readTimeout  = 5 * time.Second
	writeTimeout = 30 * time.Second

	// IDEContainerPort is the fixed port the cluster-side controller
	// exposes the IDE container on.
	IDEContainerPort = 8080
)

// Gateway is a long-lived, concurrency-safe handle to the cluster API,
// constructed once at process startup and passed explicitly to
// whatever needs it (the Orchestrator Core and the Status Reconciler).
type Gateway struct {
	clientset       kubernetes.Interface
	dynamicClient   dynamic.Interface
	discoveryClient discovery.DiscoveryInterface
	metricsClient   metricsclientset.Interface
	restConfig      *rest.Config

	platformDomain string
}

// Options configures New.
type Options struct {
	// APIAddressOverride, when non-empty, replaces the Host of whatever
	// config is resolved (in-cluster first, kubeconfig fallback).
	APIAddressOverride string
	VerifyTLS          bool
	PlatformDomain      string
}

// New resolves cluster credentials (in-cluster config first, falling
// back to the default kubeconfig loading rules) and builds every
// client the Gateway's operations need.
func New(opts Options) (*Gateway, error) {
	restConfig, err := resolveConfig()
	if err != nil {
		return nil, fmt.Errorf("resolving cluster config: %w", err)
	}

	if opts.APIAddressOverride != "" {
		restConfig.Host = opts.APIAddressOverride
	}
	if !opts.VerifyTLS {
		restConfig.TLSClientConfig.Insecure = true
		restConfig.TLSClientConfig.CAData = nil
		restConfig.TLSClientConfig.CAFile = ""
	}

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("building typed client: %w", err)
	}
	dynamicClient, err := dynamic.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("building dynamic client: %w", err)
	}
	discoveryClient, err := discovery.NewDiscoveryClientForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("building discovery client: %w", err)
	}
	metricsClient, err := metricsclientset.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("building metrics client: %w", err)
	}

	return &Gateway{
		clientset:       clientset,
		dynamicClient:   dynamicClient,
		discoveryClient: discoveryClient,
		metricsClient:   metricsClient,
		restConfig:      restConfig,
		platformDomain:  opts.PlatformDomain,
	}, nil
}

// resolveConfig tries in-cluster config first (the pod's mounted
// service account) and falls back to the default kubeconfig loading
// rules, matching pkg/kubernetes/configuration.go's ConfigurationView.
func resolveConfig() (*rest.Config, error) {
	if cfg, err := rest.InClusterConfig(); err == nil {
		return cfg, nil
	}
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	overrides := &clientcmd.ConfigOverrides{}
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, overrides).ClientConfig()
}

// ManagedLabels returns the label set the workload resources the
// Gateway creates (Deployment, Service, Ingress) carry. Namespaces and
// resource quotas carry only the managed label.
func ManagedLabels(crName string) map[string]string {
	return map[string]string{
		ManagedLabel: "true",
		AppLabel:     crName,
	}
}
