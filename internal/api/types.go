package api

import (
	"time"

	"k8s.io/apimachinery/pkg/watch"
)

// PodPhase is the lifecycle phase reported for an agent pod.
type PodPhase string

const (
	PodRunning     PodPhase = "Running"
	PodPending     PodPhase = "Pending"
	PodFailed      PodPhase = "Failed"
	PodSucceeded   PodPhase = "Succeeded"
	PodUnknown     PodPhase = "Unknown"
	PodTerminating PodPhase = "Terminating"
)

// PodOwnerReference points at the controller (normally a batch Job) that owns a pod.
type PodOwnerReference struct {
	Kind string `json:"kind"`
	Name string `json:"name"`
	UID  string `json:"uid,omitempty"`
}

// AgentPod is one cluster pod observed for a card.
type AgentPod struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// DisplayName prefers the jobName annotation and falls back to Name.
	DisplayName string `json:"displayName,omitempty"`
	JobName     string `json:"jobName,omitempty"`

	// Descriptive fields read from the pod environment (AGENT, MODEL, PROMPT, AGENT_RULES).
	Agent      string `json:"agent,omitempty"`
	Model      string `json:"model,omitempty"`
	Prompt     string `json:"prompt,omitempty"`
	AgentRules string `json:"agentRules,omitempty"`

	Phase     PodPhase  `json:"phase"`
	CardID    string    `json:"cardId"`
	Namespace string    `json:"namespace"`
	StartedAt time.Time `json:"startedAt"`
	// RuntimeStart is the container's own start time, distinct from scheduling time.
	RuntimeStart *time.Time `json:"runtimeStart,omitempty"`
	// RuntimeEnd is only set once the container has terminated.
	RuntimeEnd *time.Time `json:"runtimeEnd,omitempty"`

	Containers []string           `json:"containers"`
	LastEvent  string             `json:"lastEvent,omitempty"`
	NodeName   string             `json:"nodeName,omitempty"`
	Restarts   int32              `json:"restarts"`
	Owner      *PodOwnerReference `json:"owner,omitempty"`
}

// PrimaryContainer returns the first declared container name, or "".
func (p AgentPod) PrimaryContainer() string {
	if len(p.Containers) == 0 {
		return ""
	}
	return p.Containers[0]
}

// PodGroup is a set of pods sharing one phase, sorted by name.
type PodGroup struct {
	Phase PodPhase   `json:"phase"`
	Pods  []AgentPod `json:"pods"`
}

// WatchEvent is one ADDED, MODIFIED or DELETED notification for a pod.
type WatchEvent struct {
	Type watch.EventType `json:"type"`
	Pod  AgentPod        `json:"pod"`
}

// WatchHandler receives watch events in wire order.
type WatchHandler func(WatchEvent)

// ConnectionState is the observable state of a watch connection.
type ConnectionState string

const (
	StateConnecting ConnectionState = "connecting"
	StateStreaming  ConnectionState = "streaming"
	StateError      ConnectionState = "error"
)

// ClusterSettings are the board-level connection settings supplied by the host.
type ClusterSettings struct {
	ClusterURL string `json:"clusterUrl" yaml:"clusterUrl"`
	Namespace  string `json:"namespace" yaml:"namespace"`
	LoginAlias string `json:"loginAlias" yaml:"loginAlias"`
	IgnoreSSL  bool   `json:"ignoreSsl" yaml:"ignoreSsl"`
	Token      string `json:"-" yaml:"token"`
	CABundle   string `json:"caBundle,omitempty" yaml:"caBundle,omitempty"`
}

const (
	DefaultNamespace  = "automation"
	DefaultLoginAlias = "service-account"
)

// DefaultClusterSettings returns the settings used before the board is configured.
func DefaultClusterSettings() ClusterSettings {
	return ClusterSettings{
		Namespace:  DefaultNamespace,
		LoginAlias: DefaultLoginAlias,
	}
}
