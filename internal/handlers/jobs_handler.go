package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/paylite/backend/internal/queue"
	"github.com/paylite/backend/internal/services"
)

// JobsHandler exposes the dispatcher's terminal job records so failed
// operations stay observable.
type JobsHandler struct {
	dispatcher *queue.Dispatcher
}

func NewJobsHandler(dispatcher *queue.Dispatcher) *JobsHandler {
	return &JobsHandler{dispatcher: dispatcher}
}

// Completed lists recent completed jobs
// @Summary List completed jobs
// @Tags jobs
// @Produce json
// @Param limit query int false "Number of records (default 50)"
// @Success 200 {object} map[string]any
// @Router /jobs/completed [get]
func (h *JobsHandler) Completed(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.dispatcher.ListCompleted)
}

// Failed lists recent failed jobs with their error messages
// @Summary List failed jobs
// @Tags jobs
// @Produce json
// @Param limit query int false "Number of records (default 50)"
// @Success 200 {object} map[string]any
// @Router /jobs/failed [get]
func (h *JobsHandler) Failed(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.dispatcher.ListFailed)
}

func (h *JobsHandler) list(w http.ResponseWriter, r *http.Request, fetch func(context.Context, int64) ([]queue.Job, error)) {
	limit := int64(50)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	jobs, err := fetch(r.Context(), limit)
	if err != nil {
		log.Printf("[JOBS] Failed to list job records: %v", err)
		services.SendErrorResponse(w, "Failed to fetch jobs", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"jobs":  jobs,
		"count": len(jobs),
	})
}
