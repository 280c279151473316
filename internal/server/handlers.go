package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/ShayCichocki/roundtable/internal/auth"
	"github.com/ShayCichocki/roundtable/internal/metrics"
	"github.com/ShayCichocki/roundtable/internal/queue"
	"github.com/ShayCichocki/roundtable/internal/report"
	"github.com/ShayCichocki/roundtable/internal/state"
	"github.com/ShayCichocki/roundtable/pkg/models"
)

// maxBodyBytes bounds request bodies; a maximal task is well below it.
const maxBodyBytes = 64 << 10

type submitRequest struct {
	Task     string `json:"task" validate:"required"`
	UseCache *bool  `json:"use_cache"`
}

type registerRequest struct {
	Username string `json:"username" validate:"required,alphanum,min=3,max=64"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// decode reads a JSON body into dst and validates it.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return &queue.ValidationError{Field: "body", Message: "request body is required"}
		}
		return &queue.ValidationError{Field: "body", Message: err.Error()}
	}
	if err := s.validate.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return &queue.ValidationError{
				Field:   strings.ToLower(fe.Field()),
				Message: "failed the " + fe.Tag() + " rule",
			}
		}
		return err
	}
	return nil
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := queue.ValidateTask(req.Task); err != nil {
		s.fail(w, r, err)
		return
	}
	task := strings.TrimSpace(req.Task)

	useCache := req.UseCache == nil || *req.UseCache
	if useCache && s.cache != nil {
		if entry, ok := s.cache.Get(r.Context(), task); ok {
			s.logger.Infow("cache hit", "task", preview(task), "task_id", entry.TaskID)
			writeJSON(w, http.StatusOK, map[string]any{
				"success":    true,
				"from_cache": true,
				"task_id":    entry.TaskID,
				"messages":   entry.Messages,
				"metrics":    entry.Metrics,
			})
			return
		}
	}

	user, _ := auth.UserFromContext(r.Context())
	rt := state.NewResearchTask(task, user)
	if err := s.store.CreateTask(rt); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.queue.Submit(queue.Job{TaskID: rt.ID, Task: task}); err != nil {
		if uerr := s.store.UpdateTaskStatus(rt.ID, models.TaskStatusFailed, err.Error()); uerr != nil {
			s.logger.Warnw("marking unqueued task failed", "task_id", rt.ID, "error", uerr)
		}
		s.fail(w, r, err)
		return
	}

	s.logger.Infow("queued research task", "task_id", rt.ID, "task", preview(task))
	writeJSON(w, http.StatusAccepted, map[string]any{
		"success": true,
		"task_id": rt.ID,
		"status":  "queued",
		"message": "Research task queued successfully",
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := state.ListOptions{}

	var err error
	if opts.Page, err = intParam(q.Get("page"), "page"); err != nil {
		s.fail(w, r, err)
		return
	}
	if opts.PerPage, err = intParam(q.Get("per_page"), "per_page"); err != nil {
		s.fail(w, r, err)
		return
	}
	if raw := q.Get("status"); raw != "" {
		opts.Status = models.TaskStatus(raw)
		if !opts.Status.Valid() {
			s.fail(w, r, &queue.ValidationError{Field: "status", Message: "unknown status " + strconv.Quote(raw)})
			return
		}
	}

	page, err := s.store.ListTasks(opts)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"tasks":   page.Tasks,
		"pagination": map[string]int{
			"page":     page.Page,
			"per_page": page.PerPage,
			"total":    page.Total,
			"pages":    page.Pages,
		},
	})
}

func intParam(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, &queue.ValidationError{Field: name, Message: "must be a positive integer"}
	}
	return n, nil
}

// taskMetrics returns the metrics of id, or nil when none were saved.
func (s *Server) taskMetrics(id string) (*state.TaskMetrics, error) {
	m, err := s.store.GetMetrics(id)
	if errors.Is(err, state.ErrNotFound) {
		return nil, nil
	}
	return m, err
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	task, err := s.store.GetTask(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	msgs, err := s.store.ListMessages(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	m, err := s.taskMetrics(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"task":     task,
		"messages": msgs,
		"metrics":  m,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	task, err := s.store.GetTask(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	resp := map[string]any{
		"success": true,
		"task_id": task.ID,
		"status":  task.Status,
	}
	if s.broadcaster != nil {
		if last, ok := s.broadcaster.Last(id); ok {
			resp["progress"] = map[string]any{"percent": last.Progress, "message": last.Message}
		}
	}

	switch task.Status {
	case models.TaskStatusCompleted:
		msgs, err := s.store.ListMessages(id)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		m, err := s.taskMetrics(id)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		resp["result"] = map[string]any{"task": task, "messages": msgs, "metrics": m}
	case models.TaskStatusFailed:
		resp["error"] = task.Error
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	task, err := s.store.GetTask(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	msgs, err := s.store.ListMessages(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	m, err := s.taskMetrics(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	md := report.Markdown(task, msgs, m)

	if r.URL.Query().Get("format") == "md" || strings.Contains(r.Header.Get("Accept"), "text/markdown") {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="`+report.Filename(task)+`"`)
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, md)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "markdown": md})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := map[string]any{
		"service":   ServiceName,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"queue": map[string]int{
			"pending": s.queue.Pending(),
			"running": s.queue.Running(),
		},
	}
	healthy := true

	if err := s.store.Ping(ctx); err != nil {
		healthy = false
		resp["database"] = "error: " + err.Error()
	} else {
		resp["database"] = "connected"
	}

	switch {
	case s.cache == nil:
		resp["redis"] = "disabled"
	default:
		if err := s.cache.Ping(ctx); err != nil {
			healthy = false
			resp["redis"] = "error: " + err.Error()
		} else {
			resp["redis"] = "connected"
		}
	}

	if !healthy {
		resp["status"] = "unhealthy"
		s.logger.Warnw("health check failed", "database", resp["database"], "redis", resp["redis"])
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	resp["status"] = "healthy"
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	cfg := s.cfg.Load()
	writeJSON(w, http.StatusOK, map[string]any{
		"model_type":  cfg.Model.Provider,
		"model_name":  cfg.Model.Name,
		"temperature": cfg.Model.Temperature,
		"max_rounds":  cfg.Team.MaxRounds,
		"config":      cfg.Map(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var summary metrics.Summary
	if s.collector != nil {
		summary = s.collector.Summary()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"summary": summary,
		"queue": map[string]int{
			"pending": s.queue.Pending(),
			"running": s.queue.Running(),
		},
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.users.Create(r.Context(), req.Username, req.Password); err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Infow("registered user", "username", req.Username)
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "username": req.Username})
}

// preview shortens a task for log lines.
func preview(task string) string {
	const limit = 50
	if r := []rune(task); len(r) > limit {
		return string(r[:limit]) + "..."
	}
	return task
}
