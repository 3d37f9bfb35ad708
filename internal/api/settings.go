package api

import (
	"net/http"

	"github.com/rexproai/rexpro/internal/app"
	"github.com/rexproai/rexpro/internal/gen"
	"github.com/rexproai/rexpro/internal/log"
)

// settingsHandler serves generation options, usage stats and preferences.
type settingsHandler struct {
	app    *app.App
	logger log.Logger
}

// getOptions handles GET /api/v1/options.
func (h *settingsHandler) getOptions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.app.Options(), h.logger)
}

// putOptions handles PUT /api/v1/options. The body replaces the whole
// option set; partial updates are the frontend's job.
func (h *settingsHandler) putOptions(w http.ResponseWriter, r *http.Request) {
	var opts gen.Options
	if err := decodeBody(w, r, &opts); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body", h.logger)
		return
	}
	if opts.Model == "" {
		writeError(w, http.StatusBadRequest, "missing_model", "model is required", h.logger)
		return
	}
	h.app.SetOptions(opts)
	writeJSON(w, http.StatusOK, h.app.Options(), h.logger)
}

// getUsage handles GET /api/v1/usage.
func (h *settingsHandler) getUsage(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.app.UsageStats(), h.logger)
}

// resetUsage handles DELETE /api/v1/usage.
func (h *settingsHandler) resetUsage(w http.ResponseWriter, r *http.Request) {
	h.app.ResetUsage(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// getTheme handles GET /api/v1/settings/theme.
func (h *settingsHandler) getTheme(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"theme": h.app.Theme()}, h.logger)
}

// putTheme handles PUT /api/v1/settings/theme.
func (h *settingsHandler) putTheme(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Theme string `json:"theme"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body", h.logger)
		return
	}
	switch body.Theme {
	case "light", "dark", "system":
	default:
		writeError(w, http.StatusBadRequest, "invalid_theme", "theme must be light, dark or system", h.logger)
		return
	}
	if err := h.app.SetTheme(r.Context(), body.Theme); err != nil {
		status, code := appStatus(err)
		writeError(w, status, code, err.Error(), h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// putAPIKey handles PUT /api/v1/settings/api-key. The key is stored per
// user and the generation client is rebuilt with it.
func (h *settingsHandler) putAPIKey(w http.ResponseWriter, r *http.Request) {
	var body struct {
		APIKey string `json:"apiKey"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body", h.logger)
		return
	}
	if err := h.app.SetAPIKey(r.Context(), body.APIKey); err != nil {
		status, code := appStatus(err)
		writeError(w, status, code, err.Error(), h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
