package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/V4T54L/msgtap/internal/domain"
	"github.com/V4T54L/msgtap/internal/usecase"
)

type fakeLogService struct {
	entries    []domain.LogEntry
	lastFilter domain.LogFilter
	lastQuery  string
	lastWindow time.Duration
	cleared    bool
	maxEntries int
	persistErr error
	exportFn   func() string
}

func (f *fakeLogService) Query(flt domain.LogFilter) []domain.LogEntry {
	f.lastFilter = flt
	return f.entries
}

func (f *fakeLogService) Search(q string, flt domain.LogFilter) []domain.LogEntry {
	f.lastQuery, f.lastFilter = q, flt
	return f.entries
}

func (f *fakeLogService) Recent(window time.Duration) []domain.LogEntry {
	f.lastWindow = window
	return nil
}

func (f *fakeLogService) ExportFilteredLogs(flt domain.LogFilter) string {
	f.lastFilter = flt
	if f.exportFn != nil {
		return f.exportFn()
	}
	return "[]"
}

func (f *fakeLogService) ClearLogs() { f.cleared = true }

func (f *fakeLogService) Stats(flt domain.LogFilter) domain.LogStats {
	f.lastFilter = flt
	return domain.LogStats{TotalMessages: len(f.entries)}
}

func (f *fakeLogService) PersistMaxEntries(_ context.Context, n int) (int, error) {
	f.maxEntries = n
	return 100, f.persistErr
}

func (f *fakeLogService) Status() usecase.Status {
	return usecase.Status{Enabled: true, Entries: len(f.entries)}
}

func TestParseFilter(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		want    domain.LogFilter
		wantErr bool
	}{
		{
			name:  "defaults",
			query: "",
			want:  domain.LogFilter{NewestFirst: true},
		},
		{
			name:  "all fields",
			query: "conversation_id=c1&user_id=bob&type=received&start=1000&end=2000&limit=5&order=asc",
			want: domain.LogFilter{
				ConversationID: "c1",
				UserID:         "bob",
				Type:           domain.EventReceived,
				StartTime:      1000,
				EndTime:        2000,
				Limit:          5,
			},
		},
		{
			name:  "rfc3339 start",
			query: "start=2024-01-02T03:04:05Z",
			want:  domain.LogFilter{StartTime: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC).UnixMilli(), NewestFirst: true},
		},
		{name: "bad type", query: "type=poked", wantErr: true},
		{name: "bad limit", query: "limit=-1", wantErr: true},
		{name: "bad order", query: "order=sideways", wantErr: true},
		{name: "bad end", query: "end=yesterday", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/logs?"+tt.query, nil)
			got, err := parseFilter(req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseFilter() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parseFilter() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestLogHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("GetLogs returns an empty array", func(t *testing.T) {
		h := NewLogHandler(&fakeLogService{}, logger)
		rr := httptest.NewRecorder()
		h.GetLogs(rr, httptest.NewRequest(http.MethodGet, "/v1/logs", nil))
		if rr.Code != http.StatusOK || strings.TrimSpace(rr.Body.String()) != "[]" {
			t.Errorf("got %d %q", rr.Code, rr.Body.String())
		}
	})

	t.Run("GetLogs rejects bad filters", func(t *testing.T) {
		h := NewLogHandler(&fakeLogService{}, logger)
		rr := httptest.NewRecorder()
		h.GetLogs(rr, httptest.NewRequest(http.MethodGet, "/v1/logs?limit=x", nil))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("got %d", rr.Code)
		}
	})

	t.Run("Export is an attachment in store order", func(t *testing.T) {
		svc := &fakeLogService{}
		h := NewLogHandler(svc, logger)
		h.now = func() time.Time { return time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC) }
		rr := httptest.NewRecorder()
		h.ExportLogs(rr, httptest.NewRequest(http.MethodGet, "/v1/logs/export?conversation_id=c1", nil))

		if rr.Code != http.StatusOK || rr.Body.String() != "[]" {
			t.Errorf("got %d %q", rr.Code, rr.Body.String())
		}
		if got := rr.Header().Get("Content-Disposition"); got != `attachment; filename="message-logs-2024-05-06.json"` {
			t.Errorf("Content-Disposition = %q", got)
		}
		if svc.lastFilter.ConversationID != "c1" || svc.lastFilter.NewestFirst {
			t.Errorf("filter = %+v", svc.lastFilter)
		}
	})

	t.Run("Export with zstd", func(t *testing.T) {
		svc := &fakeLogService{exportFn: func() string { return `[{"id":"e1"}]` }}
		h := NewLogHandler(svc, logger)
		h.now = func() time.Time { return time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC) }
		rr := httptest.NewRecorder()
		h.ExportLogs(rr, httptest.NewRequest(http.MethodGet, "/v1/logs/export?compress=zstd", nil))

		if got := rr.Header().Get("Content-Disposition"); got != `attachment; filename="message-logs-2024-05-06.json.zst"` {
			t.Errorf("Content-Disposition = %q", got)
		}
		dec, err := zstd.NewReader(nil)
		if err != nil {
			t.Fatal(err)
		}
		defer dec.Close()
		plain, err := dec.DecodeAll(rr.Body.Bytes(), nil)
		if err != nil {
			t.Fatalf("body is not zstd: %v", err)
		}
		if string(plain) != `[{"id":"e1"}]` {
			t.Errorf("decoded = %q", plain)
		}

		rr = httptest.NewRecorder()
		h.ExportLogs(rr, httptest.NewRequest(http.MethodGet, "/v1/logs/export?compress=rar", nil))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("unsupported compression: got %d", rr.Code)
		}
	})

	t.Run("Export failure answers with a message", func(t *testing.T) {
		svc := &fakeLogService{exportFn: func() string { panic("boom") }}
		h := NewLogHandler(svc, logger)
		rr := httptest.NewRecorder()
		h.ExportLogs(rr, httptest.NewRequest(http.MethodGet, "/v1/logs/export", nil))
		if rr.Code != http.StatusInternalServerError || rr.Body.String() != "Failed to export logs\n" {
			t.Errorf("got %d %q", rr.Code, rr.Body.String())
		}
	})

	t.Run("Search requires q", func(t *testing.T) {
		svc := &fakeLogService{}
		h := NewLogHandler(svc, logger)
		rr := httptest.NewRecorder()
		h.SearchLogs(rr, httptest.NewRequest(http.MethodGet, "/v1/logs/search", nil))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("got %d", rr.Code)
		}

		rr = httptest.NewRecorder()
		h.SearchLogs(rr, httptest.NewRequest(http.MethodGet, "/v1/logs/search?q=hello&type=SENT", nil))
		if rr.Code != http.StatusOK || svc.lastQuery != "hello" || svc.lastFilter.Type != domain.EventSent {
			t.Errorf("got %d, query %q, filter %+v", rr.Code, svc.lastQuery, svc.lastFilter)
		}
	})

	t.Run("Recent window", func(t *testing.T) {
		svc := &fakeLogService{}
		h := NewLogHandler(svc, logger)
		rr := httptest.NewRecorder()
		h.RecentLogs(rr, httptest.NewRequest(http.MethodGet, "/v1/logs/recent", nil))
		if svc.lastWindow != 24*time.Hour {
			t.Errorf("default window = %v", svc.lastWindow)
		}
		rr = httptest.NewRecorder()
		h.RecentLogs(rr, httptest.NewRequest(http.MethodGet, "/v1/logs/recent?hours=0.5", nil))
		if svc.lastWindow != 30*time.Minute {
			t.Errorf("window = %v", svc.lastWindow)
		}
		rr = httptest.NewRecorder()
		h.RecentLogs(rr, httptest.NewRequest(http.MethodGet, "/v1/logs/recent?hours=-1", nil))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("negative hours: got %d", rr.Code)
		}
		rr = httptest.NewRecorder()
		h.RecentLogs(rr, httptest.NewRequest(http.MethodGet, "/v1/logs/recent?hours=1e12", nil))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("huge hours: got %d", rr.Code)
		}
		rr = httptest.NewRecorder()
		h.RecentLogs(rr, httptest.NewRequest(http.MethodGet, "/v1/logs/recent?hours=8760", nil))
		if rr.Code != http.StatusOK || svc.lastWindow != 8760*time.Hour {
			t.Errorf("one year: got %d, window %v", rr.Code, svc.lastWindow)
		}
	})

	t.Run("PutCapacity returns the effective value", func(t *testing.T) {
		svc := &fakeLogService{}
		h := NewLogHandler(svc, logger)
		rr := httptest.NewRecorder()
		h.PutCapacity(rr, httptest.NewRequest(http.MethodPut, "/v1/logs/capacity", bytes.NewBufferString(`{"max_entries": 5}`)))

		var body map[string]int
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatal(err)
		}
		if svc.maxEntries != 5 || body["max_entries"] != 100 {
			t.Errorf("requested %d, response %v", svc.maxEntries, body)
		}

		rr = httptest.NewRecorder()
		h.PutCapacity(rr, httptest.NewRequest(http.MethodPut, "/v1/logs/capacity", bytes.NewBufferString(`{}`)))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("missing max_entries: got %d", rr.Code)
		}

		svc.persistErr = errors.New("redis down")
		rr = httptest.NewRecorder()
		h.PutCapacity(rr, httptest.NewRequest(http.MethodPut, "/v1/logs/capacity", bytes.NewBufferString(`{"max_entries": 500}`)))
		if rr.Code != http.StatusInternalServerError {
			t.Errorf("persist failure: got %d", rr.Code)
		}
	})

	t.Run("ClearLogs", func(t *testing.T) {
		svc := &fakeLogService{}
		h := NewLogHandler(svc, logger)
		rr := httptest.NewRecorder()
		h.ClearLogs(rr, httptest.NewRequest(http.MethodDelete, "/v1/logs", nil))
		if rr.Code != http.StatusNoContent || !svc.cleared {
			t.Errorf("got %d, cleared %v", rr.Code, svc.cleared)
		}
	})
}
