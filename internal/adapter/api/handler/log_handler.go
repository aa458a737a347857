package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/V4T54L/msgtap/internal/domain"
	"github.com/V4T54L/msgtap/internal/usecase"
)

// LogService is the consumer surface of the message logger.
type LogService interface {
	Query(f domain.LogFilter) []domain.LogEntry
	Search(query string, f domain.LogFilter) []domain.LogEntry
	Recent(window time.Duration) []domain.LogEntry
	ExportFilteredLogs(f domain.LogFilter) string
	ClearLogs()
	Stats(f domain.LogFilter) domain.LogStats
	PersistMaxEntries(ctx context.Context, n int) (int, error)
	Status() usecase.Status
}

// LogHandler serves the message log.
type LogHandler struct {
	logs   LogService
	logger *slog.Logger
	now    func() time.Time
}

// NewLogHandler creates a new LogHandler.
func NewLogHandler(logs LogService, logger *slog.Logger) *LogHandler {
	return &LogHandler{logs: logs, logger: logger, now: time.Now}
}

// parseFilter reads conversation_id, user_id, type, start, end, limit and
// order from the query string. start and end accept ms since epoch or
// RFC 3339. order defaults to newest first.
func parseFilter(r *http.Request) (domain.LogFilter, error) {
	q := r.URL.Query()
	f := domain.LogFilter{
		ConversationID: q.Get("conversation_id"),
		UserID:         q.Get("user_id"),
		NewestFirst:    true,
	}

	if v := q.Get("type"); v != "" {
		t, err := domain.ParseEventType(v)
		if err != nil {
			return f, err
		}
		f.Type = t
	}

	var err error
	if f.StartTime, err = parseTime(q.Get("start")); err != nil {
		return f, fmt.Errorf("invalid start: %w", err)
	}
	if f.EndTime, err = parseTime(q.Get("end")); err != nil {
		return f, fmt.Errorf("invalid end: %w", err)
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, fmt.Errorf("invalid limit %q", v)
		}
		f.Limit = n
	}

	switch q.Get("order") {
	case "", "desc":
	case "asc":
		f.NewestFirst = false
	default:
		return f, fmt.Errorf("invalid order %q", q.Get("order"))
	}
	return f, nil
}

func parseTime(v string) (int64, error) {
	if v == "" {
		return 0, nil
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return ms, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return 0, err
	}
	return t.UnixMilli(), nil
}

// GetLogs returns the matching entries.
// GET /v1/logs
func (h *LogHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, nonNil(h.logs.Query(f)))
}

// ExportLogs downloads the matching entries as pretty-printed JSON. With
// compress=zstd the file is zstd-compressed.
// GET /v1/logs/export
func (h *LogHandler) ExportLogs(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	// Export keeps store order.
	f.NewestFirst = r.URL.Query().Get("order") == "desc"

	compress := r.URL.Query().Get("compress")
	if compress != "" && compress != "zstd" {
		http.Error(w, fmt.Sprintf("unsupported compression %q", compress), http.StatusBadRequest)
		return
	}

	data, ok := h.export(f)
	if !ok {
		http.Error(w, "Failed to export logs", http.StatusInternalServerError)
		return
	}

	body := []byte(data)
	contentType := "application/json"
	filename := fmt.Sprintf("message-logs-%s.json", h.now().UTC().Format("2006-01-02"))
	if compress == "zstd" {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			h.logger.Error("failed to create zstd encoder", "error", err)
			http.Error(w, "Failed to export logs", http.StatusInternalServerError)
			return
		}
		body = enc.EncodeAll(body, nil)
		enc.Close()
		contentType = "application/zstd"
		filename += ".zst"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func (h *LogHandler) export(f domain.LogFilter) (data string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("failed to export logs", "error", fmt.Sprint(r))
			ok = false
		}
	}()
	return h.logs.ExportFilteredLogs(f), true
}

// SearchLogs returns entries whose text fields contain q.
// GET /v1/logs/search?q=
func (h *LogHandler) SearchLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		http.Error(w, "q is required", http.StatusBadRequest)
		return
	}
	f, err := parseFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, nonNil(h.logs.Search(query, f)))
}

// maxRecentHours bounds the recent window so it fits in a time.Duration.
const maxRecentHours = 24 * 365

// RecentLogs returns entries from the last hours (default 24, at most a
// year).
// GET /v1/logs/recent?hours=
func (h *LogHandler) RecentLogs(w http.ResponseWriter, r *http.Request) {
	hours := 24.0
	if v := r.URL.Query().Get("hours"); v != "" {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil || n <= 0 || n > maxRecentHours {
			http.Error(w, "invalid hours parameter", http.StatusBadRequest)
			return
		}
		hours = n
	}
	window := time.Duration(hours * float64(time.Hour))
	respondWithJSON(w, h.logger, http.StatusOK, nonNil(h.logs.Recent(window)))
}

// ClearLogs empties the log.
// DELETE /v1/logs
func (h *LogHandler) ClearLogs(w http.ResponseWriter, r *http.Request) {
	h.logs.ClearLogs()
	w.WriteHeader(http.StatusNoContent)
}

// GetStats aggregates the matching entries.
// GET /v1/stats
func (h *LogHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, h.logs.Stats(f))
}

// GetStatus reports whether logging is on and how full the log is.
// GET /v1/status
func (h *LogHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, h.logger, http.StatusOK, h.logs.Status())
}

// PutCapacity changes the log capacity and stores it in the settings. The
// effective, clamped value is returned.
// PUT /v1/logs/capacity
func (h *LogHandler) PutCapacity(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		MaxEntries *int `json:"max_entries"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.MaxEntries == nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	effective, err := h.logs.PersistMaxEntries(r.Context(), *payload.MaxEntries)
	if err != nil {
		h.logger.Error("failed to persist log capacity", "error", err, "max_entries", effective)
		http.Error(w, "failed to persist capacity", http.StatusInternalServerError)
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, map[string]int{"max_entries": effective})
}

func nonNil(entries []domain.LogEntry) []domain.LogEntry {
	if entries == nil {
		return []domain.LogEntry{}
	}
	return entries
}
