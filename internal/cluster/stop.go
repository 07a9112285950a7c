package cluster

import (
	"context"
	"fmt"
	"net/http"

	"card-agents/internal/api"
)

// StopPod deletes the pod's controlling job, if any, then the pod itself.
// A job that is already gone (404/410) and a pod that is already gone (404)
// are not errors.
func (c *Client) StopPod(ctx context.Context, podName string, opts api.StopOptions) error {
	if podName == "" {
		return ErrPodNameRequired
	}
	ns := c.namespace(opts.Namespace)
	log := c.log.WithValues("pod", podName, "namespace", ns)

	jobName, err := c.resolveJobName(ctx, ns, podName, opts.Owner)
	if err != nil {
		return fmt.Errorf("resolving job for pod %s: %w", podName, err)
	}

	if jobName != "" {
		err := c.doJSON(ctx, "delete-job", http.MethodDelete, c.JobURL(ns, jobName), nil)
		switch {
		case err == nil:
			log.Info("deleted job", "job", jobName)
		case IsNotFound(err) || IsGone(err):
			log.V(1).Info("job already gone", "job", jobName)
		default:
			return fmt.Errorf("deleting job %s: %w", jobName, err)
		}

		if c.jobDeleteGrace > 0 {
			timer := c.clock.NewTimer(c.jobDeleteGrace)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C():
			}
		}
	}

	err = c.doJSON(ctx, "delete-pod", http.MethodDelete, c.PodURL(ns, podName), nil)
	switch {
	case err == nil:
		log.Info("deleted pod")
	case IsNotFound(err):
		log.V(1).Info("pod already gone")
	default:
		return fmt.Errorf("deleting pod %s: %w", podName, err)
	}
	return nil
}

// resolveJobName prefers a Job owner reference supplied by the caller, then
// the pod's own owner references, then its job-name label. A pod that no
// longer exists has no job.
func (c *Client) resolveJobName(ctx context.Context, ns, podName string, owner *api.PodOwnerReference) (string, error) {
	if owner != nil && owner.Kind == api.OwnerKindJob && owner.Name != "" {
		return owner.Name, nil
	}

	pod, err := c.getPod(ctx, ns, podName)
	if err != nil {
		if IsNotFound(err) {
			return "", nil
		}
		return "", err
	}
	for _, ref := range pod.OwnerReferences {
		if ref.Kind == api.OwnerKindJob && ref.Name != "" {
			return ref.Name, nil
		}
	}
	return api.JobNameFromLabels(pod.Labels), nil
}
