package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"

	"github.com/justdata-platform/justdata/internal/model"
)

const heartbeatInterval = 15 * time.Second

// handleProgress streams a job's progress events as server-sent events.
// The hub replays the full history on subscribe; when the client sends
// Last-Event-ID the prefix it already saw is skipped. The stream ends
// with the terminal event.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	sub, err := s.jobs.Subscribe(chi.URLParam(r, "jobId"))
	if err != nil {
		writeError(w, err)
		return
	}
	defer sub.Cancel()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, eris.New("server: streaming unsupported"))
		return
	}

	var lastSeen uint64
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		lastSeen, _ = strconv.ParseUint(v, 10, 64)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, open := <-sub.Events():
			if !open {
				return
			}
			if ev.Seq <= lastSeen {
				continue
			}
			if err := writeEvent(w, flusher, ev); err != nil {
				return
			}
			if ev.Terminal {
				return
			}
		case <-ticker.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// writeEvent writes one SSE frame. The event id carries the sequence
// number so reconnecting clients can resume with Last-Event-ID.
func writeEvent(w http.ResponseWriter, flusher http.Flusher, ev model.ProgressEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "id: %d\ndata: %s\n\n", ev.Seq, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
