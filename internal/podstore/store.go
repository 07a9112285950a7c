package podstore

import (
	"sort"

	"card-agents/internal/api"
)

// Store is the indexed form of Reduce: same semantics, O(1) per mutation.
// It is not safe for concurrent use; its owner serializes access.
type Store struct {
	pods map[string]api.AgentPod
}

// New returns an empty store.
func New() *Store {
	return &Store{pods: make(map[string]api.AgentPod)}
}

// Apply dispatches action to the matching mutation.
func (s *Store) Apply(action Action) {
	switch action.Type {
	case ActionReset:
		s.Reset(action.Pods)
	case ActionUpsert:
		s.Upsert(action.Pod)
	case ActionRemove:
		s.Remove(action.PodID)
	}
}

// Reset replaces the contents with pods.
func (s *Store) Reset(pods []api.AgentPod) {
	s.pods = make(map[string]api.AgentPod, len(pods))
	for _, pod := range pods {
		s.pods[pod.ID] = pod
	}
}

// Upsert stores pod and returns the entry it replaced, if any.
func (s *Store) Upsert(pod api.AgentPod) (previous api.AgentPod, existed bool) {
	previous, existed = s.pods[pod.ID]
	s.pods[pod.ID] = pod
	return previous, existed
}

// Remove deletes the pod with id and returns it, if it was present.
func (s *Store) Remove(id string) (removed api.AgentPod, existed bool) {
	removed, existed = s.pods[id]
	if existed {
		delete(s.pods, id)
	}
	return removed, existed
}

// Get returns the pod with id.
func (s *Store) Get(id string) (api.AgentPod, bool) {
	pod, ok := s.pods[id]
	return pod, ok
}

// Len returns the number of pods.
func (s *Store) Len() int { return len(s.pods) }

// Pods returns a copy of the contents sorted by name, then id.
func (s *Store) Pods() []api.AgentPod {
	out := make([]api.AgentPod, 0, len(s.pods))
	for _, pod := range s.pods {
		out = append(out, pod)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Groups derives the phase grouping from the current contents.
func (s *Store) Groups() []api.PodGroup {
	return Group(s.Pods())
}
