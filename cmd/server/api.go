package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/guido-cesarano/stepq/pkg/broker"
	"github.com/guido-cesarano/stepq/pkg/logger"
	"github.com/guido-cesarano/stepq/pkg/service"
	"github.com/guido-cesarano/stepq/pkg/store"
	"github.com/guido-cesarano/stepq/pkg/tasks"
	"github.com/robfig/cron/v3"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// api serves the admin endpoints.
type api struct {
	svc     *service.Service
	catalog store.TaskStore
	broker  *broker.Client
	streams []string
	cron    *cron.Cron
	now     func() time.Time
}

func newAPI(svc *service.Service, catalog store.TaskStore, monitor *broker.Client, streams []string) *api {
	for _, s := range streams {
		monitor.Watch(s, s+broker.DeadSuffix)
	}
	return &api{
		svc:     svc,
		catalog: catalog,
		broker:  monitor,
		streams: streams,
		cron:    cron.New(),
		now:     time.Now,
	}
}

// taskRequest names a payload type and the process it belongs to.
type taskRequest struct {
	Type         string `json:"type"`
	ProcessID    string `json:"processId"`
	ProcessState string `json:"processState"`
	ProcessType  string `json:"processType"`
	// At is the due time in epoch milliseconds; zero means now.
	At int64 `json:"at,omitempty"`
}

func (req taskRequest) build(now time.Time) (tasks.Task, error) {
	ref, err := tasks.NewProcessRef(req.ProcessID, req.ProcessState, req.ProcessType)
	if err != nil {
		return tasks.Task{}, fmt.Errorf("%w: %v", tasks.ErrInvalidTask, err)
	}
	payload, err := tasks.NewPayload(req.Type, ref)
	if err != nil {
		return tasks.Task{}, err
	}
	at := req.At
	if at == 0 {
		at = now.UnixMilli()
	}
	return tasks.New(at, payload)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Error().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tasks.ErrInvalidTask), errors.Is(err, tasks.ErrUnknownPayload):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, tasks.ErrDuplicate):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, tasks.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// handleTasks creates (POST) or lists (GET) tasks.
func (a *api) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req taskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		task, err := req.build(a.now())
		if err != nil {
			writeError(w, err)
			return
		}
		created, err := a.svc.Create(r.Context(), task)
		if err != nil {
			writeError(w, err)
			return
		}
		logger.Log.Info().Str("task_id", created.ID).Str("name", created.Name).Msg("Task created")
		writeJSON(w, http.StatusCreated, created)

	case http.MethodGet:
		limit := defaultListLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				http.Error(w, "Invalid limit", http.StatusBadRequest)
				return
			}
			limit = min(n, maxListLimit)
		}
		list, err := a.catalog.List(r.Context(), tasks.Query{Limit: limit})
		if err != nil {
			writeError(w, err)
			return
		}
		if list == nil {
			list = []tasks.Task{}
		}
		writeJSON(w, http.StatusOK, list)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleTask returns (GET) or deletes (DELETE) one task.
func (a *api) handleTask(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Missing task ID", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		t, err := a.svc.FindByID(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		if t == nil {
			http.Error(w, "Task not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, t)

	case http.MethodDelete:
		if err := a.svc.Delete(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *api) handleTypes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, tasks.WireTypes())
}

// handleSchedule registers a cron job that creates a fresh task on every tick.
func (a *api) handleSchedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Spec string `json:"spec"` // Cron expression (e.g. "@every 1m")
		taskRequest
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	// Validate the payload once up front.
	if _, err := req.build(a.now()); err != nil {
		writeError(w, err)
		return
	}

	tmpl := req.taskRequest
	tmpl.At = 0
	entryID, err := a.cron.AddFunc(req.Spec, func() {
		task, err := tmpl.build(a.now())
		if err == nil {
			task, err = a.svc.Create(context.Background(), task)
		}
		if err != nil {
			logger.Log.Error().Err(err).Str("type", tmpl.Type).Msg("Scheduled task creation failed")
			return
		}
		logger.Log.Info().Str("task_id", task.ID).Msg("Scheduled task created")
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid cron spec: %v", err), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]int{"entryId": int(entryID)})
}

func (a *api) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	backlog, err := a.catalog.Backlog(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"backlog": backlog,
		"streams": a.broker.StreamDepths(r.Context()),
	})
}

// deadMessage is the JSON view of a dead-lettered entry.
type deadMessage struct {
	ID      string          `json:"id"`
	Subject string          `json:"subject"`
	Data    json.RawMessage `json:"data"`
}

func (a *api) handleDead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stream := r.URL.Query().Get("stream")
	if stream == "" && len(a.streams) > 0 {
		stream = a.streams[0]
	}
	if stream == "" {
		http.Error(w, "Missing stream parameter", http.StatusBadRequest)
		return
	}

	msgs, err := a.broker.Inspect(r.Context(), stream+broker.DeadSuffix, defaultListLimit)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]deadMessage, 0, len(msgs))
	for _, m := range msgs {
		data := json.RawMessage(m.Data)
		if !json.Valid(data) {
			data, _ = json.Marshal(string(m.Data))
		}
		out = append(out, deadMessage{ID: m.ID, Subject: m.Subject, Data: data})
	}
	writeJSON(w, http.StatusOK, out)
}
