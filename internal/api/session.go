package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rexproai/rexpro/internal/app"
	"github.com/rexproai/rexpro/internal/chat"
	"github.com/rexproai/rexpro/internal/log"
)

const maxBodyBytes = 1 << 20 // request bodies over 1MB are rejected

// sessionHandler serves session CRUD and history management.
type sessionHandler struct {
	app    *app.App
	logger log.Logger
}

// appStatus maps application errors to HTTP status and error codes.
func appStatus(err error) (int, string) {
	switch {
	case errors.Is(err, app.ErrAuthRequired):
		return http.StatusUnauthorized, "auth_required"
	case errors.Is(err, app.ErrGenerationInFlight):
		return http.StatusConflict, "generation_in_flight"
	case errors.Is(err, app.ErrNotInitialized):
		return http.StatusServiceUnavailable, "not_initialized"
	case errors.Is(err, chat.ErrSessionNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, chat.ErrMessageNotFound), errors.Is(err, chat.ErrAttachmentNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, chat.ErrInvalidDataURL):
		return http.StatusBadRequest, "invalid_attachment"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (h *sessionHandler) writeAppError(w http.ResponseWriter, err error) {
	status, code := appStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
	}
	writeError(w, status, code, err.Error(), h.logger)
}

// decodeBody decodes a size-limited JSON request body into dst.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}

// initUser handles POST /api/v1/users/init: signs a user in, loading their
// sessions and settings. Responds with the loaded session list.
func (h *sessionHandler) initUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"userId"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body", h.logger)
		return
	}
	if body.UserID == "" {
		writeError(w, http.StatusBadRequest, "missing_user_id", "userId is required", h.logger)
		return
	}
	if err := h.app.Init(r.Context(), body.UserID); err != nil {
		h.writeAppError(w, err)
		return
	}
	h.listSessions(w, r)
}

// signOut handles POST /api/v1/users/signout: drops in-memory state. The
// store keeps everything for the next sign-in.
func (h *sessionHandler) signOut(w http.ResponseWriter, _ *http.Request) {
	h.app.Teardown()
	w.WriteHeader(http.StatusNoContent)
}

// listSessions handles GET /api/v1/sessions.
func (h *sessionHandler) listSessions(w http.ResponseWriter, _ *http.Request) {
	sessions := h.app.Sessions()
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"activeId": activeSessionID(h.app),
	}, h.logger)
}

// getActiveSession handles GET /api/v1/sessions/active.
func (h *sessionHandler) getActiveSession(w http.ResponseWriter, _ *http.Request) {
	s := h.app.ActiveSession()
	if s == nil {
		writeError(w, http.StatusNotFound, "not_found", "no active session", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, s, h.logger)
}

// createSession handles POST /api/v1/sessions.
func (h *sessionHandler) createSession(w http.ResponseWriter, r *http.Request) {
	id, err := h.app.NewChat(r.Context())
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id}, h.logger)
}

// selectSession handles POST /api/v1/sessions/{id}/select.
func (h *sessionHandler) selectSession(w http.ResponseWriter, r *http.Request) {
	if err := h.app.SelectChat(r.PathValue("id")); err != nil {
		h.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.app.ActiveSession(), h.logger)
}

// renameSession handles PATCH /api/v1/sessions/{id}.
func (h *sessionHandler) renameSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title string `json:"title"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body", h.logger)
		return
	}
	if body.Title == "" {
		writeError(w, http.StatusBadRequest, "missing_title", "title is required", h.logger)
		return
	}
	if err := h.app.RenameChat(r.Context(), r.PathValue("id"), body.Title); err != nil {
		h.writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// deleteSession handles DELETE /api/v1/sessions/{id}.
func (h *sessionHandler) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.app.DeleteChat(r.Context(), r.PathValue("id")); err != nil {
		h.writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// clearSessions handles DELETE /api/v1/sessions. The whole history goes, and
// a fresh empty session takes its place.
func (h *sessionHandler) clearSessions(w http.ResponseWriter, r *http.Request) {
	if err := h.app.ClearHistory(r.Context()); err != nil {
		h.writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// exportSessions handles GET /api/v1/sessions/export. Responds with the full
// history as a JSON download.
func (h *sessionHandler) exportSessions(w http.ResponseWriter, _ *http.Request) {
	data, err := h.app.ExportHistory()
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="chat-history.json"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if _, err := w.Write(data); err != nil {
		h.logger.Debug("failed to write export", "error", err)
	}
}

// deleteAttachment handles DELETE /api/v1/messages/{index}/attachments/{attachment}.
// Indices address the active session's message list.
func (h *sessionHandler) deleteAttachment(w http.ResponseWriter, r *http.Request) {
	msgIndex, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_index", "message index must be an integer", h.logger)
		return
	}
	attIndex, err := strconv.Atoi(r.PathValue("attachment"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_index", "attachment index must be an integer", h.logger)
		return
	}
	if err := h.app.DeleteAttachment(r.Context(), msgIndex, attIndex); err != nil {
		h.writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func activeSessionID(a *app.App) string {
	if s := a.ActiveSession(); s != nil {
		return s.ID
	}
	return ""
}
