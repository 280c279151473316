package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/ShayCichocki/roundtable/internal/queue"
	"github.com/ShayCichocki/roundtable/pkg/models"
)

// writeEvent writes one server-sent event.
func writeEvent(w io.Writer, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

// handleEvents streams a task's progress as server-sent events until the
// task finishes or the client goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	task, err := s.store.GetTask(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// A task finished before this process saw it has no live updates.
	seen := false
	if s.broadcaster != nil {
		_, seen = s.broadcaster.Last(id)
	}
	if task.Status.Terminal() && !seen {
		done := queue.Update{
			TaskID:    id,
			Type:      queue.UpdateDone,
			Status:    task.Status,
			Progress:  queue.ProgressDone,
			Message:   "Completed",
			Timestamp: time.Now().UTC(),
		}
		if task.Status == models.TaskStatusFailed {
			done.Progress = 0
			done.Message = "Failed: " + task.Error
		}
		_ = writeEvent(w, string(done.Type), done)
		flusher.Flush()
		return
	}
	if s.broadcaster == nil {
		_ = writeEvent(w, "error", map[string]string{"error": "progress streaming disabled"})
		flusher.Flush()
		return
	}

	updates, cancel := s.broadcaster.Subscribe(id)
	defer cancel()

	keepAlive := time.NewTicker(s.keepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case u, ok := <-updates:
			if !ok {
				return
			}
			if err := writeEvent(w, string(u.Type), u); err != nil {
				s.logger.Debugw("event stream closed", "task_id", id, "error", err)
				return
			}
			flusher.Flush()
			if u.Type == queue.UpdateDone {
				return
			}
		}
	}
}
