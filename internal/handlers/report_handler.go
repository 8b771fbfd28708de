package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/paylite/backend/internal/queue"
	"github.com/paylite/backend/internal/services"
)

// ReportHandler exposes report generation over HTTP, both synchronously
// and as a queued job.
type ReportHandler struct {
	reports    *services.ReportService
	dispatcher *queue.Dispatcher
}

func NewReportHandler(reports *services.ReportService, dispatcher *queue.Dispatcher) *ReportHandler {
	return &ReportHandler{reports: reports, dispatcher: dispatcher}
}

// Daily generates today's report immediately
// @Summary Generate the daily report now
// @Tags reports
// @Produce json
// @Success 200 {object} services.DailyReport
// @Router /reports/daily [get]
func (h *ReportHandler) Daily(w http.ResponseWriter, r *http.Request) {
	report, err := h.reports.GenerateDailyReport(r.Context())
	if err != nil {
		log.Printf("[REPORT] Daily report failed: %v", err)
		services.SendErrorResponse(w, "Failed to generate report", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

// Schedule queues daily report generation
// @Summary Queue daily report generation
// @Tags reports
// @Produce json
// @Success 202 {object} map[string]string
// @Router /reports/daily/schedule [post]
func (h *ReportHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	job, err := h.dispatcher.Enqueue(r.Context(), queue.QueueReport, queue.OpDailyReport, struct{}{})
	if err != nil {
		log.Printf("[REPORT] Failed to enqueue daily report: %v", err)
		services.SendErrorResponse(w, "Failed to queue report", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"message": "Report generation queued.",
		"jobId":   job.ID,
	})
}
