// Package client is a small HTTP client for the msgtap API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/V4T54L/msgtap/internal/adapter/api/middleware"
	"github.com/V4T54L/msgtap/internal/diag"
	"github.com/V4T54L/msgtap/internal/domain"
	"github.com/V4T54L/msgtap/internal/usecase"
)

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("msgtap api: %d %s", e.StatusCode, e.Message)
}

// Client talks to one msgtap server.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New creates a Client. A nil httpClient uses a client with a 10s timeout.
func New(baseURL, apiKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    httpClient,
	}
}

// FilterValues encodes f as the query parameters the API understands.
func FilterValues(f domain.LogFilter) url.Values {
	v := url.Values{}
	if f.ConversationID != "" {
		v.Set("conversation_id", f.ConversationID)
	}
	if f.UserID != "" {
		v.Set("user_id", f.UserID)
	}
	if f.Type != "" {
		v.Set("type", string(f.Type))
	}
	if f.StartTime != 0 {
		v.Set("start", strconv.FormatInt(f.StartTime, 10))
	}
	if f.EndTime != 0 {
		v.Set("end", strconv.FormatInt(f.EndTime, 10))
	}
	if f.Limit > 0 {
		v.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.NewestFirst {
		v.Set("order", "desc")
	} else {
		v.Set("order", "asc")
	}
	return v
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, contentType string, body io.Reader, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.apiKey != "" {
		req.Header.Set(middleware.APIKeyHeader, c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}

	switch o := out.(type) {
	case nil:
		return nil
	case *[]byte:
		*o, err = io.ReadAll(resp.Body)
		return err
	default:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding %s response: %w", path, err)
		}
		return nil
	}
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	contentType := ""
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}
	return c.do(ctx, method, path, nil, contentType, body, out)
}

// Status returns the logger state.
func (c *Client) Status(ctx context.Context) (usecase.Status, error) {
	var s usecase.Status
	err := c.doJSON(ctx, http.MethodGet, "/v1/status", nil, &s)
	return s, err
}

// Settings returns every known setting.
func (c *Client) Settings(ctx context.Context) (map[string]string, error) {
	var s map[string]string
	err := c.doJSON(ctx, http.MethodGet, "/v1/settings", nil, &s)
	return s, err
}

// SetSetting stores a setting on the server.
func (c *Client) SetSetting(ctx context.Context, key, value string) error {
	return c.doJSON(ctx, http.MethodPut, "/v1/settings/"+url.PathEscape(key), map[string]string{"value": value}, nil)
}

// Logs returns the entries matching f.
func (c *Client) Logs(ctx context.Context, f domain.LogFilter) ([]domain.LogEntry, error) {
	var entries []domain.LogEntry
	err := c.do(ctx, http.MethodGet, "/v1/logs", FilterValues(f), "", nil, &entries)
	return entries, err
}

// Recent returns the entries of the last hours.
func (c *Client) Recent(ctx context.Context, hours float64) ([]domain.LogEntry, error) {
	q := url.Values{"hours": {strconv.FormatFloat(hours, 'f', -1, 64)}}
	var entries []domain.LogEntry
	err := c.do(ctx, http.MethodGet, "/v1/logs/recent", q, "", nil, &entries)
	return entries, err
}

// Search returns the entries matching query and f.
func (c *Client) Search(ctx context.Context, query string, f domain.LogFilter) ([]domain.LogEntry, error) {
	q := FilterValues(f)
	q.Set("q", query)
	var entries []domain.LogEntry
	err := c.do(ctx, http.MethodGet, "/v1/logs/search", q, "", nil, &entries)
	return entries, err
}

// Export returns the pretty-printed JSON export of the entries matching f.
// A non-empty compress ("zstd") asks the server for a compressed file.
func (c *Client) Export(ctx context.Context, f domain.LogFilter, compress string) ([]byte, error) {
	q := FilterValues(f)
	if compress != "" {
		q.Set("compress", compress)
	}
	var data []byte
	err := c.do(ctx, http.MethodGet, "/v1/logs/export", q, "", nil, &data)
	return data, err
}

// Clear empties the log.
func (c *Client) Clear(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodDelete, "/v1/logs", nil, nil)
}

// Stats aggregates the entries matching f.
func (c *Client) Stats(ctx context.Context, f domain.LogFilter) (domain.LogStats, error) {
	var s domain.LogStats
	err := c.do(ctx, http.MethodGet, "/v1/stats", FilterValues(f), "", nil, &s)
	return s, err
}

// SetCapacity changes the log capacity and returns the effective value.
func (c *Client) SetCapacity(ctx context.Context, n int) (int, error) {
	var out struct {
		MaxEntries int `json:"max_entries"`
	}
	err := c.doJSON(ctx, http.MethodPut, "/v1/logs/capacity", map[string]int{"max_entries": n}, &out)
	return out.MaxEntries, err
}

// Diagnostics returns the server's diagnostics dump.
func (c *Client) Diagnostics(ctx context.Context) (diag.DebugInfo, error) {
	var info diag.DebugInfo
	err := c.doJSON(ctx, http.MethodGet, "/v1/diagnostics", nil, &info)
	return info, err
}

// ResetDiagnostics clears the server's diagnostics counters.
func (c *Client) ResetDiagnostics(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/v1/diagnostics/reset", nil, nil)
}

// PushMutations sends mutations as one NDJSON request and returns how many
// the server applied.
func (c *Client) PushMutations(ctx context.Context, mutations []domain.Mutation) (int, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, m := range mutations {
		if err := enc.Encode(m); err != nil {
			return 0, err
		}
	}
	var out struct {
		Applied int `json:"applied"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/host/mutations", nil, "application/x-ndjson", &buf, &out)
	return out.Applied, err
}

// Send sends a message through the host client as the session user.
func (c *Client) Send(ctx context.Context, conversationID, text string) (domain.Message, error) {
	var msg domain.Message
	err := c.doJSON(ctx, http.MethodPost, "/v1/host/send", map[string]string{
		"conversation_id": conversationID,
		"text":            text,
	}, &msg)
	return msg, err
}

// Update marks a message read (or saved, for domain.UpdateTypeSave).
func (c *Client) Update(ctx context.Context, conversationID, messageID string, updateType int) error {
	return c.doJSON(ctx, http.MethodPost, "/v1/host/update", map[string]any{
		"conversation_id": conversationID,
		"message_id":      messageID,
		"update_type":     updateType,
	}, nil)
}

// Delete removes a message through the host client.
func (c *Client) Delete(ctx context.Context, conversationID, messageID string) error {
	return c.doJSON(ctx, http.MethodPost, "/v1/host/delete", map[string]string{
		"conversation_id": conversationID,
		"message_id":      messageID,
	}, nil)
}
