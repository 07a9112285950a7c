package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"card-agents/internal/api"
	"card-agents/internal/cluster"
	"card-agents/internal/host"
	"card-agents/internal/logstream"
	"card-agents/internal/podruntime"

	"github.com/go-chi/chi/v5"
)

// ensure returns the card's watcher after its first snapshot, or nil when
// the card is not configured. A slow bootstrap returns the watcher still
// initializing.
func (s *Server) ensure(r *http.Request) (*podruntime.Watcher, error) {
	w, err := s.registry.EnsureFor(r.Context(), s.source.ForCard(chi.URLParam(r, "card")))
	if err != nil || w == nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.readyTimeout)
	defer cancel()
	// Bootstrap failures are reported through the watcher status.
	_ = w.Wait(ctx)
	return w, nil
}

// handlePods serves the grouped pod list of a card.
func (s *Server) handlePods(w http.ResponseWriter, r *http.Request) {
	cardID := chi.URLParam(r, "card")
	watcher, err := s.ensure(r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	resp := PodsResponse{CardID: cardID, Groups: []api.PodGroup{}}
	if watcher != nil {
		resp.Configured = true
		resp.Status = string(watcher.Status())
		resp.Running = watcher.Count()
		resp.Total = watcher.Total()
		if shown := cluster.DisplayableError(watcher.Err()); shown != nil {
			resp.Error = shown.Error()
		}
		if groups := watcher.Groups(); groups != nil {
			resp.Groups = groups
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleBadge serves the running-pods badge of a card.
func (s *Server) handleBadge(w http.ResponseWriter, r *http.Request) {
	watcher, err := s.ensure(r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, podruntime.BuildBadge(r.Context(), watcher))
}

// handleLogs tails a pod log as chunked plain text. A pending pod is waited
// for; the session status and error arrive as trailers.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	client, err := s.source.Client(r.Context())
	if err != nil {
		writeError(w, clientStatus(err), err)
		return
	}

	pod, err := s.findPod(r.Context(), client, chi.URLParam(r, "name"), r.URL.Query().Get("namespace"))
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	if pod == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("pod %q not found", chi.URLParam(r, "name")))
		return
	}

	var opts []logstream.Option
	opts = append(opts, logstream.WithLogger(s.log.WithName("logs")))
	if c := r.URL.Query().Get("container"); c != "" {
		pod.Containers = []string{c}
	}
	if raw := r.URL.Query().Get("tailLines"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid tailLines %q", raw))
			return
		}
		opts = append(opts, logstream.WithTailLines(n))
	}
	if r.URL.Query().Get("timestamps") == "true" {
		opts = append(opts, logstream.WithTimestamps())
	}

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Trailer", "X-Log-Status, X-Log-Error")
	w.WriteHeader(http.StatusOK)
	if flusher != nil {
		flusher.Flush()
	}

	session := logstream.Open(r.Context(), client, *pod, func(lines []string) {
		_, _ = fmt.Fprint(w, strings.Join(lines, "\n")+"\n")
		if flusher != nil {
			flusher.Flush()
		}
	}, opts...)
	<-session.Done()

	w.Header().Set("X-Log-Status", string(session.Status()))
	if err := session.Err(); err != nil {
		w.Header().Set("X-Log-Error", err.Error())
	}
}

// handleStop stops a pod and its backing job.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	client, err := s.source.Client(r.Context())
	if err != nil {
		writeError(w, clientStatus(err), err)
		return
	}

	name := chi.URLParam(r, "name")
	ns := r.URL.Query().Get("namespace")
	pod, err := s.findPod(r.Context(), client, name, ns)
	if err != nil || pod == nil {
		// StopPod resolves the job on its own.
		pod = &api.AgentPod{Name: name, Namespace: ns}
	}

	if err := host.ConfirmAndStop(r.Context(), s.confirm, s.notifier, client, *pod); err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, StopResponse{Success: true, Message: fmt.Sprintf("Pod %s stopped", name)})
}

// findPod looks the pod up by name. A nil pod with a nil error means it does
// not exist.
func (s *Server) findPod(ctx context.Context, client api.PodAPI, name, namespace string) (*api.AgentPod, error) {
	pods, err := client.ListPods(ctx, api.ListOptions{
		Namespace:     namespace,
		FieldSelector: cluster.PodNameSelector(name),
	})
	if err != nil {
		return nil, err
	}
	for i := range pods {
		if pods[i].Name == name {
			return &pods[i], nil
		}
	}
	return nil, nil
}

func clientStatus(err error) int {
	if errors.Is(err, host.ErrNotConfigured) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// errorStatus maps pod action errors to HTTP statuses. Cluster responses
// keep their status; requests that never reached the cluster are a bad gateway.
func errorStatus(err error) int {
	var te *cluster.TransportError
	switch {
	case errors.Is(err, host.ErrCancelled):
		return http.StatusConflict
	case errors.Is(err, cluster.ErrPodNameRequired):
		return http.StatusBadRequest
	case errors.As(err, &te) && te.Status == 0:
		return http.StatusBadGateway
	case errors.As(err, &te):
		return te.Status
	}
	return http.StatusInternalServerError
}
