package apitest

import (
	"card-agents/internal/api"

	"k8s.io/apimachinery/pkg/watch"
)

// Pod builds an AgentPod with id "uid-<name>" and one "agent" container.
func Pod(name string, phase api.PodPhase, opts ...func(*api.AgentPod)) api.AgentPod {
	pod := api.AgentPod{
		ID:          "uid-" + name,
		Name:        name,
		DisplayName: name,
		Phase:       phase,
		CardID:      "card-1",
		Namespace:   api.DefaultNamespace,
		Containers:  []string{"agent"},
	}
	for _, opt := range opts {
		opt(&pod)
	}
	return pod
}

// Added wraps pod in an ADDED event.
func Added(pod api.AgentPod) api.WatchEvent { return api.WatchEvent{Type: watch.Added, Pod: pod} }

// Modified wraps pod in a MODIFIED event.
func Modified(pod api.AgentPod) api.WatchEvent { return api.WatchEvent{Type: watch.Modified, Pod: pod} }

// Deleted wraps pod in a DELETED event.
func Deleted(pod api.AgentPod) api.WatchEvent { return api.WatchEvent{Type: watch.Deleted, Pod: pod} }
