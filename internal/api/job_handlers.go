package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/models"
	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/reminder"
)

// sendRemindersHandler handles POST /cron/send-reminders.
func (s *Server) sendRemindersHandler(w http.ResponseWriter, r *http.Request) {
	if s.opts.Reminders == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Reminders are not configured"))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.JobTimeout)
	defer cancel()

	summary, err := s.opts.Reminders.Run(ctx, s.opts.Clock())
	if errors.Is(err, reminder.ErrRunInProgress) {
		slog.Warn("Server.sendRemindersHandler: run already in progress")
		writeJSONResponse(w, http.StatusConflict, models.Error(err.Error()))
		return
	}
	if err != nil {
		slog.Error("Server.sendRemindersHandler: run failed", "error", err, "summary", summary)
		writeJSONResponse(w, http.StatusInternalServerError, models.APIResponse{
			Status: string(models.APIStatusError), Message: "Reminder run failed", Result: summary,
		})
		return
	}
	slog.Info("Server.sendRemindersHandler: run completed", "sent", summary.Sent(), "failed", summary.Failed)
	writeJSONResponse(w, http.StatusOK, models.Success(summary))
}

// cleanupHandler handles POST /cron/cleanup.
func (s *Server) cleanupHandler(w http.ResponseWriter, r *http.Request) {
	if s.opts.Cleaner == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Cleanup is not configured"))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.JobTimeout)
	defer cancel()

	res, err := s.opts.Cleaner.Run(ctx, s.opts.Clock())
	if err != nil {
		slog.Error("Server.cleanupHandler: run failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.APIResponse{
			Status: string(models.APIStatusError), Message: "Cleanup failed", Result: res,
		})
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(res))
}
