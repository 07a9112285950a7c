package podruntime

import (
	"context"
	"fmt"
)

// BadgeRefreshSeconds is how often hosts should re-request a badge.
const BadgeRefreshSeconds = 15

// Badge is the running-pods summary shown on a card.
type Badge struct {
	Text    string `json:"text"`
	Color   string `json:"color,omitempty"`
	Title   string `json:"title,omitempty"`
	Refresh int    `json:"refresh"`
	Running int    `json:"running"`
	Total   int    `json:"total"`
}

// BuildBadge waits for w's first snapshot and summarizes it. A nil watcher
// (not configured) and zero running pods both yield an empty text.
func BuildBadge(ctx context.Context, w *Watcher) Badge {
	badge := Badge{Refresh: BadgeRefreshSeconds}
	if w == nil {
		return badge
	}

	// Bootstrap failures surface through Status below.
	_ = w.Wait(ctx)

	if w.Status() == StatusError {
		badge.Text = "Pods offline"
		badge.Color = "red"
		badge.Title = "Unable to reach the cluster pods API"
		if err := w.Err(); err != nil {
			badge.Title = err.Error()
		}
		return badge
	}

	badge.Running = w.Count()
	badge.Total = w.Total()
	switch {
	case badge.Running <= 0:
	case badge.Running == 1:
		badge.Text = "1 running pod"
		badge.Color = "green"
		badge.Title = "1 pod is Running on this card"
	default:
		badge.Text = fmt.Sprintf("%d running pods", badge.Running)
		badge.Color = "green"
		badge.Title = fmt.Sprintf("%d pods are Running on this card", badge.Running)
	}
	return badge
}
