package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/V4T54L/msgtap/internal/diag"
	"github.com/V4T54L/msgtap/internal/domain"
)

// Diagnostics is the part of the diagnostics facade the admin API exposes.
type Diagnostics interface {
	DumpDebugInfo() diag.DebugInfo
	ResetMetrics()
}

// AdminHandler handles settings and diagnostics requests.
type AdminHandler struct {
	settings domain.SettingsRepository
	diag     Diagnostics
	logger   *slog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(settings domain.SettingsRepository, d Diagnostics, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{settings: settings, diag: d, logger: logger}
}

// HealthCheck is a simple health check endpoint.
func (h *AdminHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, h.logger, http.StatusOK, map[string]string{"status": "ok"})
}

// GetSettings returns every known setting.
// GET /v1/settings
func (h *AdminHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, h.logger, http.StatusOK, h.settings.All())
}

// errUnknownSetting is returned for keys the logger does not read.
var errUnknownSetting = errors.New("unknown setting")

// validateSetting checks that value parses as the type key is read as.
func validateSetting(key, value string) error {
	switch key {
	case domain.SettingMessageLogging, domain.SettingMessageLoggingDetailed:
		if _, err := strconv.ParseBool(value); err != nil {
			return fmt.Errorf("%s must be a boolean", key)
		}
	case domain.SettingMaxEntries:
		if _, err := strconv.Atoi(value); err != nil {
			return fmt.Errorf("%s must be an integer", key)
		}
	default:
		return fmt.Errorf("%w: %s", errUnknownSetting, key)
	}
	return nil
}

// PutSetting stores a setting. Watchers apply it immediately.
// PUT /v1/settings/{key}
func (h *AdminHandler) PutSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var payload struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := validateSetting(key, payload.Value); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errUnknownSetting) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	if err := h.settings.Set(r.Context(), key, payload.Value); err != nil {
		h.logger.Error("failed to store setting", "error", err, "key", key)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.logger.Info("setting updated", "key", key, "value", payload.Value)
	respondWithJSON(w, h.logger, http.StatusOK, map[string]string{key: payload.Value})
}

// GetDiagnostics returns the debug dump of the diagnostics facade.
// GET /v1/diagnostics
func (h *AdminHandler) GetDiagnostics(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, h.logger, http.StatusOK, h.diag.DumpDebugInfo())
}

// ResetDiagnostics clears the diagnostics counters and timing window.
// POST /v1/diagnostics/reset
func (h *AdminHandler) ResetDiagnostics(w http.ResponseWriter, r *http.Request) {
	h.diag.ResetMetrics()
	w.WriteHeader(http.StatusNoContent)
}

func respondWithJSON(w http.ResponseWriter, logger *slog.Logger, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		logger.Error("failed to marshal JSON response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Internal Server Error"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
