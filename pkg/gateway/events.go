package gateway

import (
	"context"
	"sort"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// ManagedEvent is one cluster event row, ordered newest-first.
type ManagedEvent struct {
	Namespace string
	Reason    string
	Message   string
	Type      string
	LastSeen  metav1.Time
}

// ListEvents returns up to `limit` events, optionally scoped to a
// namespace, ordered newest-first by last-seen timestamp.
func (g *Gateway) ListEvents(ctx context.Context, ns string, limit int) Result[[]ManagedEvent] {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	namespace := ns
	if namespace == "" {
		namespace = metav1.NamespaceAll
	}

	list, err := g.clientset.CoreV1().Events(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return Unavailable[[]ManagedEvent](err.Error())
	}

	events := make([]ManagedEvent, 0, len(list.Items))
	for _, e := range list.Items {
		lastSeen := e.LastTimestamp
		if lastSeen.IsZero() {
			lastSeen = e.FirstTimestamp
		}
		events = append(events, ManagedEvent{
			Namespace: e.Namespace,
			Reason:    e.Reason,
			Message:   e.Message,
			Type:      e.Type,
			LastSeen:  lastSeen,
		})
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].LastSeen.After(events[j].LastSeen.Time)
	})
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return Ok(events)
}
