package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jdziat/strand-jobs/pkg/core"
	"github.com/jdziat/strand-jobs/pkg/events"
)

// EventMessage is the data of one server-sent event.
type EventMessage struct {
	Type      core.EventType  `json:"type"`
	Job       *core.StoredJob `json:"job"`
	Timestamp time.Time       `json:"timestamp"`
}

// handleEvents streams lifecycle events as text/event-stream. Query
// parameters job_id, type and events narrow the stream.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, r, http.StatusInternalServerError, "streaming unsupported", nil)
		return
	}

	sub := s.queue.Subscribe(eventFilters(r)...)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	var seq int
	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case e, ok := <-sub.C():
			if !ok {
				return
			}
			data, err := json.Marshal(EventMessage{Type: e.Type, Job: core.ToStored(e.Job), Timestamp: e.Timestamp})
			if err != nil {
				s.logger.Error("failed to encode event", "job_id", e.JobID(), "error", err)
				continue
			}
			seq++
			if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", seq, e.Type, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func eventFilters(r *http.Request) []events.Filter {
	q := r.URL.Query()
	var filters []events.Filter
	if id := q.Get("job_id"); id != "" {
		filters = append(filters, events.ForJob(id))
	}
	if t := q.Get("type"); t != "" {
		filters = append(filters, events.ForJobType(core.JobType(t)))
	}
	if list := q.Get("events"); list != "" {
		var types []core.EventType
		for _, name := range strings.Split(list, ",") {
			if name = strings.TrimSpace(name); name != "" {
				types = append(types, core.EventType(name))
			}
		}
		filters = append(filters, events.ForEvents(types...))
	}
	return filters
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	if s.recent == nil {
		s.respondError(w, r, http.StatusNotImplemented, "event relay is not configured", nil)
		return
	}
	count := int64(100)
	if raw := r.URL.Query().Get("count"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 1 || n > 1000 {
			s.respondError(w, r, http.StatusBadRequest, "Validation error: count must be between 1 and 1000", err)
			return
		}
		count = n
	}
	entries, err := s.recent.Recent(r.Context(), count)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"events": entries})
}
