package api

import (
	"context"
	"io"
	"time"
)

// PodAPI is the cluster surface the dashboard needs. The HTTP client in
// internal/cluster and the preview client both implement it.
type PodAPI interface {
	ListPods(ctx context.Context, opts ListOptions) ([]AgentPod, error)
	// WatchPods streams events until ctx is done or the returned stop func is called.
	WatchPods(ctx context.Context, handler WatchHandler, opts WatchOptions) (stop func())
	StopPod(ctx context.Context, podName string, opts StopOptions) error
	StreamLogs(ctx context.Context, podName string, opts LogOptions) (io.ReadCloser, error)
}

// ListOptions narrows a pod list. Empty Namespace means the client's default.
type ListOptions struct {
	CardID        string
	Namespace     string
	LabelSelector string
	FieldSelector string
}

// WatchOptions configures a long-lived pod watch.
type WatchOptions struct {
	CardID        string
	Namespace     string
	LabelSelector string
	FieldSelector string

	OnConnectionStateChange func(ConnectionState)
	OnReconnect             func(attempt int)
	// OnError is called once per failed connection attempt. Cancellation is never reported.
	OnError func(error)
	// Backoff is the base reconnect delay. Zero uses the default.
	Backoff time.Duration
}

// StopOptions identifies the pod's namespace and, when known, its owning job.
type StopOptions struct {
	Namespace string
	Owner     *PodOwnerReference
}

// LogOptions mirrors the pod log query parameters. Nil pointers are omitted.
type LogOptions struct {
	Namespace    string
	Container    string
	TailLines    *int64
	SinceSeconds *int64
	LimitBytes   *int64
}
