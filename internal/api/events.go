package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagecapture/internal/progress"
)

// eventFrame is the JSON payload of one SSE message.
type eventFrame struct {
	progress.Event
	Message string `json:"message"`
}

// streamEvents handles GET /v1/jobs/{job_id}/events. It greets the client,
// replays the job's history and then follows live events until the job
// ends or the client goes away.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	journal, ok := s.submitter.Journal(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	history, events, cancel := journal.Subscribe()
	defer cancel()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	logger := s.logger.With(zap.String("job_id", jobID))
	send := func(evt progress.Event) bool {
		if err := writeFrame(w, evt); err != nil {
			logger.Debug("event stream write failed", zap.Error(err))
			return false
		}
		return true
	}

	if !send(progress.Event{JobID: jobID, TS: time.Now().UTC(), Kind: progress.KindConnected}) {
		return
	}
	for _, evt := range history {
		if !send(evt) || evt.Terminal() {
			flusher.Flush()
			return
		}
	}
	flusher.Flush()

	heartbeat := time.NewTicker(s.opts.Heartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt, open := <-events:
			if !open {
				return
			}
			if !send(evt) {
				return
			}
			flusher.Flush()
			if evt.Terminal() {
				return
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeFrame(w http.ResponseWriter, evt progress.Event) error {
	payload, err := json.Marshal(eventFrame{Event: evt, Message: evt.Message()})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Kind, payload); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}
