package cmd

import (
	"context"
	"fmt"
	"time"

	"card-agents/internal/api"
	"card-agents/internal/cluster"

	"github.com/fatih/color"
)

func phaseColor(phase api.PodPhase) *color.Color {
	switch phase {
	case api.PodRunning:
		return color.New(color.FgGreen)
	case api.PodPending:
		return color.New(color.FgYellow)
	case api.PodFailed:
		return color.New(color.FgRed)
	case api.PodTerminating:
		return color.New(color.FgMagenta)
	case api.PodSucceeded:
		return color.New(color.FgCyan)
	}
	return color.New(color.Faint)
}

func age(since time.Time) string {
	if since.IsZero() {
		return "-"
	}
	return time.Since(since).Truncate(time.Second).String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// findPod looks up one pod by name in the current namespace.
func findPod(ctx context.Context, client api.PodAPI, name string) (api.AgentPod, error) {
	pods, err := client.ListPods(ctx, api.ListOptions{
		Namespace:     namespace(),
		FieldSelector: cluster.PodNameSelector(name),
	})
	if err != nil {
		return api.AgentPod{}, err
	}
	for _, pod := range pods {
		if pod.Name == name {
			return pod, nil
		}
	}
	return api.AgentPod{}, fmt.Errorf("pod %q not found in namespace %s", name, namespace())
}
