package preview

import (
	"time"

	"card-agents/internal/api"
)

// seedPods returns the fixed preview set: two running, one pending, two
// succeeded and two failed pods.
func seedPods(cardID, namespace string, now time.Time) []api.AgentPod {
	seed := []struct {
		id, name  string
		phase     api.PodPhase
		age       time.Duration
		lastEvent string
		node      string
		restarts  int32
	}{
		{"preview-running-1", "card-agent-running-1", api.PodRunning, 5 * time.Minute, "Probe success", "automation-node-a", 0},
		{"preview-running-2", "card-agent-running-2", api.PodRunning, 8 * time.Minute, "Streaming logs", "automation-node-b", 1},
		{"preview-pending-1", "card-agent-pending-1", api.PodPending, 2 * time.Minute, "Pulling image", "automation-node-c", 0},
		{"preview-succeeded-1", "card-agent-completed-1", api.PodSucceeded, 15 * time.Minute, "Completed successfully", "automation-node-d", 0},
		{"preview-succeeded-2", "card-agent-completed-2", api.PodSucceeded, 20 * time.Minute, "Job finished", "automation-node-e", 1},
		{"preview-failed-1", "card-agent-failed-1", api.PodFailed, 12 * time.Minute, "Error: exit code 1", "automation-node-f", 2},
		{"preview-failed-2", "card-agent-failed-2", api.PodFailed, 18 * time.Minute, "CrashLoopBackOff", "automation-node-g", 0},
	}

	pods := make([]api.AgentPod, 0, len(seed))
	for _, s := range seed {
		pods = append(pods, api.AgentPod{
			ID:          s.id,
			Name:        s.name,
			DisplayName: s.name,
			Phase:       s.phase,
			CardID:      cardID,
			Namespace:   namespace,
			StartedAt:   now.Add(-s.age),
			Containers:  []string{"agent"},
			LastEvent:   s.lastEvent,
			NodeName:    s.node,
			Restarts:    s.restarts,
			Agent:       "preview",
			Owner:       &api.PodOwnerReference{Kind: api.OwnerKindJob, Name: s.name},
		})
	}
	return pods
}

func clonePod(p api.AgentPod) api.AgentPod {
	p.Containers = append([]string(nil), p.Containers...)
	if p.Owner != nil {
		owner := *p.Owner
		p.Owner = &owner
	}
	return p
}
