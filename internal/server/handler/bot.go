package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jmonteroh/polysignal/internal/domain"
)

// Controller defines the orchestrator operations the bot handler drives.
type Controller interface {
	StartBackground() error
	Stop()
	Running() bool
	Trigger(name string) error
	SetEnabled(name string, enabled bool) error
	Status() domain.BotStatus
}

// BotHandler serves the bot control endpoints.
type BotHandler struct {
	bot    Controller
	logger *slog.Logger
}

// NewBotHandler creates a BotHandler.
func NewBotHandler(bot Controller, logger *slog.Logger) *BotHandler {
	return &BotHandler{bot: bot, logger: logger}
}

// GetStatus summarizes the orchestrator and its tasks.
// GET /api/bot/status
func (h *BotHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.bot.Status())
}

// Start launches the task loops.
// POST /api/bot/start
func (h *BotHandler) Start(w http.ResponseWriter, r *http.Request) {
	if err := h.bot.StartBackground(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	h.logger.InfoContext(r.Context(), "handler: bot started",
		slog.String("actor", actor(r)),
	)
	writeJSON(w, http.StatusOK, h.bot.Status())
}

// Stop halts the task loops, waiting for in-flight runs to drain.
// POST /api/bot/stop
func (h *BotHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.bot.Stop()
	h.logger.InfoContext(r.Context(), "handler: bot stopped",
		slog.String("actor", actor(r)),
	)
	writeJSON(w, http.StatusOK, h.bot.Status())
}

// TriggerTask queues an immediate run of one task.
// POST /api/bot/tasks/{name}/trigger
func (h *BotHandler) TriggerTask(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.bot.Trigger(name); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"task": name, "status": "triggered"})
}

type updateTaskRequest struct {
	Enabled bool `json:"enabled"`
}

// UpdateTask pauses or resumes one task.
// PUT /api/bot/tasks/{name}
func (h *BotHandler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req updateTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.bot.SetEnabled(name, req.Enabled); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": name, "enabled": req.Enabled})
}
