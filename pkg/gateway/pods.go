package gateway

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
)

// ManagedPod is one snapshot row in a ListManagedPods/StreamManagedPods
// result.
type ManagedPod struct {
	Namespace    string
	Name         string
	Phase        string
	Ready        bool
	RestartCount int32
	Containers   []string
}

// ListManagedPods lists every pod across the cluster that matches the
// given label selector (kubdev.managed=true when selector is empty),
// ordered by namespace then name. It issues a single cluster-wide List
// call; namespaces are not queried separately.
func (g *Gateway) ListManagedPods(ctx context.Context, selector string) Result[[]ManagedPod] {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	sel := selector
	if sel == "" {
		sel = ManagedLabel + "=true"
	}
	if _, err := labels.Parse(sel); err != nil {
		return Unavailable[[]ManagedPod](fmt.Sprintf("invalid selector %q: %v", selector, err))
	}

	list, err := g.clientset.CoreV1().Pods(metav1.NamespaceAll).List(ctx, metav1.ListOptions{LabelSelector: sel})
	if err != nil {
		return Unavailable[[]ManagedPod](err.Error())
	}

	pods := make([]ManagedPod, 0, len(list.Items))
	for _, pod := range list.Items {
		pods = append(pods, toManagedPod(&pod))
	}
	sort.Slice(pods, func(i, j int) bool {
		if pods[i].Namespace != pods[j].Namespace {
			return pods[i].Namespace < pods[j].Namespace
		}
		return pods[i].Name < pods[j].Name
	})
	return Ok(pods)
}

func toManagedPod(pod *corev1.Pod) ManagedPod {
	ready := false
	var restarts int32
	containers := make([]string, 0, len(pod.Spec.Containers))
	for _, c := range pod.Spec.Containers {
		containers = append(containers, c.Name)
	}
	for _, cs := range pod.Status.ContainerStatuses {
		restarts += cs.RestartCount
		if cs.Ready {
			ready = true
		}
	}
	return ManagedPod{
		Namespace:    pod.Namespace,
		Name:         pod.Name,
		Phase:        string(pod.Status.Phase),
		Ready:        ready,
		RestartCount: restarts,
		Containers:   containers,
	}
}

// GetPodLogs selects the first pod labeled app=<workload> in ns and
// returns up to `tail` of its most recent log lines.
func (g *Gateway) GetPodLogs(ctx context.Context, ns, workload string, tail int64) Result[[]string] {
	readCtx, cancel := context.WithTimeout(ctx, readTimeout)
	list, err := g.clientset.CoreV1().Pods(ns).List(readCtx, metav1.ListOptions{
		LabelSelector: fmt.Sprintf("%s=%s", AppLabel, workload),
	})
	cancel()
	if err != nil {
		return Unavailable[[]string](err.Error())
	}
	if len(list.Items) == 0 {
		return NotFound[[]string]("no pod found for workload")
	}

	podName := list.Items[0].Name
	opts := &corev1.PodLogOptions{}
	if tail > 0 {
		opts.TailLines = &tail
	}

	req := g.clientset.CoreV1().Pods(ns).GetLogs(podName, opts)
	stream, err := req.Stream(ctx)
	if err != nil {
		return Unavailable[[]string](fmt.Sprintf("streaming logs for %s/%s: %v", ns, podName, err))
	}
	defer stream.Close()

	var lines []string
	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return Unavailable[[]string](fmt.Sprintf("reading logs for %s/%s: %v", ns, podName, err))
	}
	return Ok(lines)
}

// StreamManagedPods returns an infinite, lazily-produced sequence of
// pod snapshots, one every interval, until ctx is cancelled. Used by
// dashboard-style consumers (§6), not by the Orchestrator itself.
func (g *Gateway) StreamManagedPods(ctx context.Context, interval time.Duration) <-chan Result[[]ManagedPod] {
	out := make(chan Result[[]ManagedPod])
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				select {
				case out <- g.ListManagedPods(ctx, ""):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
