package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"aimx.console/internal/core/domain"
	"aimx.console/internal/core/logger"
)

// doneSentinel terminates a push stream on the wire. Consumers must never see
// it as a log entry.
const doneSentinel = "[DONE]"

const heartbeatInterval = 15 * time.Second

// handleStreamLogsSSE serves a workload's logs as a server-sent event stream:
// the stored history window first, then live entries, then the done sentinel
// when the workload's stream is closed.
func (s *Server) handleStreamLogsSSE(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	query, err := domain.ParseLogQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid query: "+err.Error())
		return
	}

	workload, err := s.workloadSvc.GetWorkload(r.Context(), id)
	if err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx := r.Context()

	// Subscribe before replaying so no live entry falls into the gap. A live
	// subscription on a finished workload would never close, so skip it.
	var live <-chan domain.LogEntry
	if !workload.Status.Terminal() {
		live, err = s.workloadSvc.SubscribeLogs(ctx, id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	recordStreamOpen("sse")
	defer recordStreamClose("sse")

	history, err := s.workloadSvc.RecentLogs(ctx, id, 0)
	if err != nil {
		logger.Error("failed to load log history", "workload_id", id, "error", err)
		history = nil
	}
	for _, entry := range history {
		if !query.Matches(entry) {
			continue
		}
		if err := writeSSEEntry(w, entry); err != nil {
			return
		}
		recordEntryStreamed("sse")
	}
	flusher.Flush()

	if live == nil {
		fmt.Fprintf(w, "data: %s\n\n", doneSentinel)
		flusher.Flush()
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			// Comment frame, ignored by consumers, keeps intermediaries open.
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case entry, ok := <-live:
			if !ok {
				fmt.Fprintf(w, "data: %s\n\n", doneSentinel)
				flusher.Flush()
				return
			}
			if !query.Matches(entry) {
				continue
			}
			if err := writeSSEEntry(w, entry); err != nil {
				return
			}
			recordEntryStreamed("sse")
			flusher.Flush()
		}
	}
}

func writeSSEEntry(w http.ResponseWriter, entry domain.LogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

// streamLogsFiltered is shared by the WebSocket producer: history then live,
// with the query applied, reporting whether the stream ended naturally.
func (s *Server) streamLogsFiltered(r *http.Request, id string, query domain.LogQuery, send func(domain.LogEntry) error) (bool, error) {
	ctx := r.Context()

	workload, err := s.workloadSvc.GetWorkload(ctx, id)
	if err != nil {
		return false, err
	}

	var live <-chan domain.LogEntry
	if !workload.Status.Terminal() {
		live, err = s.workloadSvc.SubscribeLogs(ctx, id)
		if err != nil {
			return false, err
		}
	}

	history, err := s.workloadSvc.RecentLogs(ctx, id, 0)
	if err != nil {
		logger.Error("failed to load log history", "workload_id", id, "error", err)
		history = nil
	}
	for _, entry := range history {
		if !query.Matches(entry) {
			continue
		}
		if err := send(entry); err != nil {
			return false, err
		}
		recordEntryStreamed("ws")
	}

	if live == nil {
		return true, nil
	}

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case entry, ok := <-live:
			if !ok {
				return true, nil
			}
			if !query.Matches(entry) {
				continue
			}
			if err := send(entry); err != nil {
				return false, err
			}
			recordEntryStreamed("ws")
		}
	}
}
