// Package podmapper turns raw cluster pod resources into api.AgentPod values.
//
// Map is total: it never fails and never panics. Missing or malformed fields
// degrade to safe defaults (Unknown phase, "unknown" name, a random id).
package podmapper

import (
	"fmt"
	"strings"
	"time"

	"card-agents/internal/api"

	"github.com/google/uuid"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// UnknownName is used when a resource carries no name.
const UnknownName = "unknown"

// Map converts a pod resource into an AgentPod. A nil pod maps to an Unknown
// placeholder with a generated id.
func Map(pod *corev1.Pod) api.AgentPod {
	if pod == nil {
		pod = &corev1.Pod{}
	}

	out := api.AgentPod{
		ID:         string(pod.UID),
		Name:       pod.Name,
		Namespace:  pod.Namespace,
		CardID:     pod.Labels[api.LabelCardID],
		Phase:      mapPhase(pod),
		NodeName:   pod.Spec.NodeName,
		Containers: make([]string, 0, len(pod.Spec.Containers)),
	}
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	if out.Name == "" {
		out.Name = UnknownName
	}

	out.JobName = pod.Annotations[api.AnnotationJobName]
	out.DisplayName = out.Name
	if out.JobName != "" {
		out.DisplayName = out.JobName
	}

	for _, c := range pod.Spec.Containers {
		out.Containers = append(out.Containers, c.Name)
	}

	switch {
	case pod.Status.StartTime != nil:
		out.StartedAt = pod.Status.StartTime.Time
	case !pod.CreationTimestamp.IsZero():
		out.StartedAt = pod.CreationTimestamp.Time
	}

	status := primaryStatus(pod, out.PrimaryContainer())
	out.RuntimeStart = runtimeStart(pod, status)
	if status != nil && status.State.Terminated != nil && !status.State.Terminated.FinishedAt.IsZero() {
		out.RuntimeEnd = timePtr(status.State.Terminated.FinishedAt)
	}
	out.LastEvent = lastEvent(pod, status)

	for _, cs := range pod.Status.ContainerStatuses {
		out.Restarts += cs.RestartCount
	}

	if len(pod.OwnerReferences) > 0 {
		ref := pod.OwnerReferences[0]
		out.Owner = &api.PodOwnerReference{Kind: ref.Kind, Name: ref.Name, UID: string(ref.UID)}
	}

	out.Agent = envValue(pod, api.EnvAgent)
	out.Model = envValue(pod, api.EnvModel)
	out.Prompt = envValue(pod, api.EnvPrompt)
	out.AgentRules = envValue(pod, api.EnvAgentRules)

	return out
}

// MapList maps every item of a pod list in order.
func MapList(list *corev1.PodList) []api.AgentPod {
	if list == nil {
		return []api.AgentPod{}
	}
	out := make([]api.AgentPod, 0, len(list.Items))
	for i := range list.Items {
		out = append(out, Map(&list.Items[i]))
	}
	return out
}

func mapPhase(pod *corev1.Pod) api.PodPhase {
	var phase api.PodPhase
	switch pod.Status.Phase {
	case corev1.PodRunning:
		phase = api.PodRunning
	case corev1.PodPending:
		phase = api.PodPending
	case corev1.PodSucceeded:
		phase = api.PodSucceeded
	case corev1.PodFailed:
		phase = api.PodFailed
	default:
		phase = api.PodUnknown
	}
	// A pod being deleted keeps its phase until the kubelet finishes; report it
	// as Terminating unless it already reached a terminal phase.
	if pod.DeletionTimestamp != nil && phase != api.PodSucceeded && phase != api.PodFailed {
		return api.PodTerminating
	}
	return phase
}

// primaryStatus picks the status of the named container, falling back to the
// first reported status.
func primaryStatus(pod *corev1.Pod, primary string) *corev1.ContainerStatus {
	statuses := pod.Status.ContainerStatuses
	if len(statuses) == 0 {
		return nil
	}
	for i := range statuses {
		if statuses[i].Name == primary {
			return &statuses[i]
		}
	}
	return &statuses[0]
}

func runtimeStart(pod *corev1.Pod, status *corev1.ContainerStatus) *time.Time {
	if status != nil {
		if running := status.State.Running; running != nil && !running.StartedAt.IsZero() {
			return timePtr(running.StartedAt)
		}
		if terminated := status.State.Terminated; terminated != nil && !terminated.StartedAt.IsZero() {
			return timePtr(terminated.StartedAt)
		}
	}
	if pod.Status.StartTime != nil {
		return timePtr(*pod.Status.StartTime)
	}
	return nil
}

func lastEvent(pod *corev1.Pod, status *corev1.ContainerStatus) string {
	if status != nil {
		switch {
		case status.State.Waiting != nil:
			return joinReason(status.State.Waiting.Reason, status.State.Waiting.Message)
		case status.State.Terminated != nil:
			t := status.State.Terminated
			msg := joinReason(t.Reason, t.Message)
			if t.ExitCode != 0 {
				msg = strings.TrimSpace(fmt.Sprintf("%s (exit code %d)", msg, t.ExitCode))
			}
			return msg
		}
	}
	if msg := joinReason(pod.Status.Reason, pod.Status.Message); msg != "" {
		return msg
	}
	for i := len(pod.Status.Conditions) - 1; i >= 0; i-- {
		c := pod.Status.Conditions[i]
		if c.Message != "" {
			return joinReason(c.Reason, c.Message)
		}
	}
	if status != nil && status.State.Running != nil {
		return "Running"
	}
	return ""
}

func joinReason(reason, message string) string {
	switch {
	case reason != "" && message != "":
		return reason + ": " + message
	case reason != "":
		return reason
	default:
		return message
	}
}

// envValue returns the first literal value of name across the pod's
// containers in declaration order.
func envValue(pod *corev1.Pod, name string) string {
	for _, c := range pod.Spec.Containers {
		for _, env := range c.Env {
			if env.Name == name && env.Value != "" {
				return env.Value
			}
		}
	}
	return ""
}

func timePtr(t metav1.Time) *time.Time {
	v := t.Time
	return &v
}
