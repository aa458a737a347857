// Package logstore holds the capped, append-only message log.
package logstore

import (
	"encoding/json"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/V4T54L/msgtap/internal/adapter/metrics"
	"github.com/V4T54L/msgtap/internal/domain"
)

const (
	MinCapacity     = 100
	MaxCapacity     = 10000
	DefaultCapacity = 1000
)

// ClampCapacity bounds n to [MinCapacity, MaxCapacity].
func ClampCapacity(n int) int {
	if n < MinCapacity {
		return MinCapacity
	}
	if n > MaxCapacity {
		return MaxCapacity
	}
	return n
}

// Store is an ordered, size-bounded sequence of log entries. The oldest
// entries are evicted first once the capacity is exceeded.
type Store struct {
	mu       sync.RWMutex
	entries  []domain.LogEntry
	capacity int

	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.PipelineMetrics
}

// New creates a Store with the given capacity (clamped). m may be nil.
func New(capacity int, logger *slog.Logger, m *metrics.PipelineMetrics) *Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Store{
		capacity: ClampCapacity(capacity),
		now:      time.Now,
		logger:   logger.With("component", "logstore"),
		metrics:  m,
	}
}

// Append stamps the entry with the current time and a fresh id, pushes it to
// the tail and evicts from the head while over capacity. The stored entry is
// returned.
func (s *Store) Append(entry domain.LogEntry) domain.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.Timestamp = s.now().UnixMilli()
	if n := len(s.entries); n > 0 && entry.Timestamp < s.entries[n-1].Timestamp {
		// Wall clock stepped back; keep insertion order non-decreasing.
		entry.Timestamp = s.entries[n-1].Timestamp
	}
	entry.ID = uuid.NewString()
	s.entries = append(s.entries, entry)
	s.pruneLocked()

	if s.metrics != nil {
		s.metrics.EventsTotal.WithLabelValues(string(entry.Type)).Inc()
	}
	return entry
}

func (s *Store) pruneLocked() {
	over := len(s.entries) - s.capacity
	if over > 0 {
		// Copy so the evicted head can be collected.
		kept := make([]domain.LogEntry, s.capacity, s.capacity+1)
		copy(kept, s.entries[over:])
		s.entries = kept
		if s.metrics != nil {
			s.metrics.EvictionsTotal.Add(float64(over))
		}
	}
	if s.metrics != nil {
		s.metrics.LogEntries.Set(float64(len(s.entries)))
	}
}

// SetCapacity changes the capacity (clamped) and prunes immediately. It
// returns the effective capacity.
func (s *Store) SetCapacity(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.capacity = ClampCapacity(n)
	s.pruneLocked()
	s.logger.Debug("log capacity changed", "requested", n, "capacity", s.capacity)
	return s.capacity
}

// Capacity returns the current capacity.
func (s *Store) Capacity() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.capacity
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Clear drops every entry.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	if s.metrics != nil {
		s.metrics.LogEntries.Set(0)
	}
}

// Query returns the entries matching f. With a positive limit only the most
// recent matches are kept. The result never aliases the store.
func (s *Store) Query(f domain.LogFilter) []domain.LogEntry {
	s.mu.RLock()
	matched := make([]domain.LogEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if f.Match(e) {
			matched = append(matched, e)
		}
	}
	s.mu.RUnlock()

	return present(matched, f)
}

func present(entries []domain.LogEntry, f domain.LogFilter) []domain.LogEntry {
	if f.Limit > 0 && len(entries) > f.Limit {
		entries = entries[len(entries)-f.Limit:]
	}
	if f.NewestFirst {
		// Reverse first so equal timestamps keep newest-inserted first.
		for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
			entries[i], entries[j] = entries[j], entries[i]
		}
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].Timestamp > entries[j].Timestamp
		})
	}
	return entries
}

// Search returns the entries matching f whose content, username, display
// name or conversation title contains query, case-insensitively.
func (s *Store) Search(query string, f domain.LogFilter) []domain.LogEntry {
	q := strings.ToLower(query)
	s.mu.RLock()
	matched := make([]domain.LogEntry, 0)
	for _, e := range s.entries {
		if f.Match(e) && containsFold(e, q) {
			matched = append(matched, e)
		}
	}
	s.mu.RUnlock()

	return present(matched, f)
}

func containsFold(e domain.LogEntry, q string) bool {
	for _, field := range []string{e.Content, e.Username, e.DisplayName, e.ConversationTitle} {
		if field != "" && strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}

// Recent returns the entries appended within window of now, newest first.
func (s *Store) Recent(window time.Duration) []domain.LogEntry {
	now := s.now()
	return s.Query(domain.LogFilter{
		StartTime:   now.Add(-window).UnixMilli(),
		EndTime:     now.UnixMilli(),
		NewestFirst: true,
	})
}

// Stats aggregates the entries matching f in a single pass. Limit is
// honored the same way Query does. Ties for the most active conversation go
// to the conversation seen first.
func (s *Store) Stats(f domain.LogFilter) domain.LogStats {
	f.NewestFirst = false
	entries := s.Query(f)

	stats := domain.LogStats{TotalMessages: len(entries)}
	if len(entries) == 0 {
		return stats
	}

	type convCount struct {
		title string
		count int
	}
	counts := make(map[string]*convCount)
	var order []string
	span := domain.DateRange{Start: entries[0].Timestamp, End: entries[0].Timestamp}

	for _, e := range entries {
		switch e.Type {
		case domain.EventSent:
			stats.MessagesSent++
		case domain.EventReceived:
			stats.MessagesReceived++
		}

		c, ok := counts[e.ConversationID]
		if !ok {
			c = &convCount{}
			counts[e.ConversationID] = c
			order = append(order, e.ConversationID)
		}
		c.count++
		if c.title == "" {
			c.title = e.ConversationTitle
		}

		if e.Timestamp < span.Start {
			span.Start = e.Timestamp
		}
		if e.Timestamp > span.End {
			span.End = e.Timestamp
		}
	}

	stats.ConversationsActive = len(counts)
	var best *domain.ConversationActivity
	for _, id := range order {
		c := counts[id]
		if best == nil || c.count > best.MessageCount {
			best = &domain.ConversationActivity{ID: id, Title: c.title, MessageCount: c.count}
		}
	}
	stats.MostActiveConversation = best
	stats.DateRange = &span
	return stats
}

// Export serializes Query(f) as indented JSON. Serialization failures are
// logged and yield an empty array.
func (s *Store) Export(f domain.LogFilter) string {
	entries := s.Query(f)
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		s.logger.Error("failed to export message log", "error", err, "entries", len(entries))
		return "[]"
	}
	return string(data)
}

// ParseExport decodes the output of Export.
func ParseExport(data []byte) ([]domain.LogEntry, error) {
	var entries []domain.LogEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []domain.LogEntry{}
	}
	return entries, nil
}
