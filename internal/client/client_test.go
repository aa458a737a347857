package client

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/V4T54L/msgtap/internal/adapter/api/middleware"
	"github.com/V4T54L/msgtap/internal/domain"
)

func TestFilterValues(t *testing.T) {
	tests := []struct {
		name   string
		filter domain.LogFilter
		want   url.Values
	}{
		{
			name:   "empty filter keeps store order",
			filter: domain.LogFilter{},
			want:   url.Values{"order": {"asc"}},
		},
		{
			name: "every field",
			filter: domain.LogFilter{
				ConversationID: "c1",
				UserID:         "bob",
				Type:           domain.EventRead,
				StartTime:      10,
				EndTime:        20,
				Limit:          5,
				NewestFirst:    true,
			},
			want: url.Values{
				"conversation_id": {"c1"},
				"user_id":         {"bob"},
				"type":            {"MESSAGE_READ"},
				"start":           {"10"},
				"end":             {"20"},
				"limit":           {"5"},
				"order":           {"desc"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FilterValues(tt.filter); got.Encode() != tt.want.Encode() {
				t.Errorf("FilterValues() = %s, want %s", got.Encode(), tt.want.Encode())
			}
		})
	}
}

func TestClient(t *testing.T) {
	var (
		mu       sync.Mutex
		lastReq  *http.Request
		lastBody []string
	)
	last := func() (*http.Request, []string) {
		mu.Lock()
		defer mu.Unlock()
		return lastReq, lastBody
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body []string
		sc := bufio.NewScanner(r.Body)
		for sc.Scan() {
			body = append(body, sc.Text())
		}
		mu.Lock()
		lastReq, lastBody = r.Clone(context.Background()), body
		mu.Unlock()
		switch r.URL.Path {
		case "/v1/logs":
			w.Write([]byte(`[{"id":"e1","type":"MESSAGE_SENT","conversation_id":"c1"}]`))
		case "/v1/host/mutations":
			w.WriteHeader(http.StatusAccepted)
			w.Write([]byte(`{"applied":2}`))
		case "/v1/logs/export":
			w.Write([]byte("[\n]"))
		default:
			http.Error(w, "nope", http.StatusTeapot)
		}
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "secret", nil)
	ctx := context.Background()

	t.Run("Logs sends filter and key", func(t *testing.T) {
		entries, err := c.Logs(ctx, domain.LogFilter{ConversationID: "c1", NewestFirst: true})
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 1 || entries[0].Type != domain.EventSent {
			t.Errorf("entries = %+v", entries)
		}
		req, _ := last()
		if got := req.Header.Get(middleware.APIKeyHeader); got != "secret" {
			t.Errorf("api key header = %q", got)
		}
		if q := req.URL.Query(); q.Get("conversation_id") != "c1" || q.Get("order") != "desc" {
			t.Errorf("query = %v", q)
		}
	})

	t.Run("PushMutations sends NDJSON", func(t *testing.T) {
		n, err := c.PushMutations(ctx, []domain.Mutation{{ConversationID: "a"}, {ConversationID: "b"}})
		if err != nil {
			t.Fatal(err)
		}
		if n != 2 {
			t.Errorf("applied = %d", n)
		}
		req, body := last()
		if ct := req.Header.Get("Content-Type"); ct != "application/x-ndjson" {
			t.Errorf("Content-Type = %q", ct)
		}
		if len(body) != 2 {
			t.Errorf("body lines = %q", body)
		}
	})

	t.Run("Export returns raw bytes", func(t *testing.T) {
		data, err := c.Export(ctx, domain.LogFilter{}, "")
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != "[\n]" {
			t.Errorf("data = %q", data)
		}
	})

	t.Run("non-2xx is an APIError", func(t *testing.T) {
		err := c.Clear(ctx)
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("error = %v", err)
		}
		if apiErr.StatusCode != http.StatusTeapot || apiErr.Message != "nope" {
			t.Errorf("APIError = %+v", apiErr)
		}
	})
}
