// Package podstore holds the local set of pods observed for one card and
// derives the phase grouping shown to users.
package podstore

import (
	"sort"

	"card-agents/internal/api"

	"k8s.io/apimachinery/pkg/watch"
)

// ActionType names a store mutation.
type ActionType string

const (
	ActionReset  ActionType = "reset"
	ActionUpsert ActionType = "upsert"
	ActionRemove ActionType = "remove"
)

// Action is one reducer input. Reset reads Pods, Upsert reads Pod and Remove
// reads PodID.
type Action struct {
	Type  ActionType
	Pods  []api.AgentPod
	Pod   api.AgentPod
	PodID string
}

// Reset replaces the whole state.
func Reset(pods []api.AgentPod) Action { return Action{Type: ActionReset, Pods: pods} }

// Upsert inserts or replaces the pod with the same id.
func Upsert(pod api.AgentPod) Action { return Action{Type: ActionUpsert, Pod: pod} }

// Remove drops the pod with the given id, if present.
func Remove(podID string) Action { return Action{Type: ActionRemove, PodID: podID} }

// ActionFor converts a watch event: DELETED removes, anything else upserts.
func ActionFor(evt api.WatchEvent) Action {
	if evt.Type == watch.Deleted {
		return Remove(evt.Pod.ID)
	}
	return Upsert(evt.Pod)
}

// Reduce applies action to state and returns the next state. state is never
// modified. An upserted pod moves to the end; unknown action types return
// state unchanged.
func Reduce(state []api.AgentPod, action Action) []api.AgentPod {
	switch action.Type {
	case ActionReset:
		return dedupe(action.Pods)
	case ActionUpsert:
		next := without(state, action.Pod.ID)
		return append(next, action.Pod)
	case ActionRemove:
		return without(state, action.PodID)
	default:
		return state
	}
}

func without(state []api.AgentPod, id string) []api.AgentPod {
	next := make([]api.AgentPod, 0, len(state)+1)
	for _, pod := range state {
		if pod.ID != id {
			next = append(next, pod)
		}
	}
	return next
}

// dedupe keeps the last entry for each id so a reset never introduces
// duplicates.
func dedupe(pods []api.AgentPod) []api.AgentPod {
	next := make([]api.AgentPod, 0, len(pods))
	for _, pod := range pods {
		next = Reduce(next, Upsert(pod))
	}
	return next
}

// PhaseOrder is the display order of phase groups.
var PhaseOrder = []api.PodPhase{
	api.PodRunning,
	api.PodPending,
	api.PodTerminating,
	api.PodFailed,
	api.PodSucceeded,
	api.PodUnknown,
}

// Group partitions pods by phase. Groups follow PhaseOrder, phases outside
// it come last in name order, and pods within a group are sorted by name.
// Empty groups are omitted.
func Group(pods []api.AgentPod) []api.PodGroup {
	byPhase := make(map[api.PodPhase][]api.AgentPod)
	for _, pod := range pods {
		byPhase[pod.Phase] = append(byPhase[pod.Phase], pod)
	}

	phases := make([]api.PodPhase, 0, len(byPhase))
	seen := make(map[api.PodPhase]bool, len(PhaseOrder))
	for _, phase := range PhaseOrder {
		seen[phase] = true
		if len(byPhase[phase]) > 0 {
			phases = append(phases, phase)
		}
	}
	var extra []api.PodPhase
	for phase := range byPhase {
		if !seen[phase] {
			extra = append(extra, phase)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	phases = append(phases, extra...)

	groups := make([]api.PodGroup, 0, len(phases))
	for _, phase := range phases {
		members := byPhase[phase]
		sort.SliceStable(members, func(i, j int) bool { return members[i].Name < members[j].Name })
		groups = append(groups, api.PodGroup{Phase: phase, Pods: members})
	}
	return groups
}
