package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/V4T54L/msgtap/internal/domain"
)

const (
	sseHeartbeatInterval = 15 * time.Second
	sseClientBuffer      = 64
)

// SSEBroker streams appended log entries to connected clients. Each client
// may narrow the stream with the same conversation_id, user_id and type
// parameters as GET /v1/logs.
type SSEBroker struct {
	logger  *slog.Logger
	clients map[chan []byte]domain.LogFilter
	mu      sync.RWMutex
	entries chan domain.LogEntry
}

// NewSSEBroker creates a new SSEBroker and starts its processing loop.
func NewSSEBroker(ctx context.Context, logger *slog.Logger) *SSEBroker {
	broker := &SSEBroker{
		logger:  logger,
		clients: make(map[chan []byte]domain.LogFilter),
		entries: make(chan domain.LogEntry, 1000),
	}
	go broker.run(ctx)
	return broker
}

// ServeHTTP handles new client connections for the SSE stream.
func (b *SSEBroker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported!", http.StatusInternalServerError)
		return
	}
	filter, err := parseFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	messageChan := make(chan []byte, sseClientBuffer)
	b.addClient(messageChan, filter)
	defer b.removeClient(messageChan)

	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messageChan:
			if !ok {
				return // Channel was closed
			}
			w.Write(msg)
			flusher.Flush()
		}
	}
}

// Publish queues an appended entry for broadcast. It never blocks; it is
// registered as an append listener of the message logger.
func (b *SSEBroker) Publish(entry domain.LogEntry) {
	select {
	case b.entries <- entry:
	default:
		b.logger.Warn("SSE entry channel is full, dropping entry", "entry_id", entry.ID)
	}
}

// Clients returns the number of connected clients.
func (b *SSEBroker) Clients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func (b *SSEBroker) addClient(client chan []byte, filter domain.LogFilter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[client] = filter
	b.logger.Info("SSE client connected")
}

func (b *SSEBroker) removeClient(client chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[client]; ok {
		delete(b.clients, client)
		close(client)
		b.logger.Info("SSE client disconnected")
	}
}

// broadcast sends msg to every client whose filter matches entry. A nil
// entry matches everyone.
func (b *SSEBroker) broadcast(entry *domain.LogEntry, msg []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for client, filter := range b.clients {
		if entry != nil && !filter.Match(*entry) {
			continue
		}
		select {
		case client <- msg:
		default:
			// Slow client; drop rather than stall everyone else.
		}
	}
}

// run is the main processing loop for the broker.
func (b *SSEBroker) run(ctx context.Context) {
	ticker := time.NewTicker(sseHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case entry := <-b.entries:
			jsonData, err := json.Marshal(entry)
			if err != nil {
				b.logger.Error("Failed to marshal SSE entry", "error", err, "entry_id", entry.ID)
				continue
			}
			b.broadcast(&entry, []byte(fmt.Sprintf("id: %s\nevent: %s\ndata: %s\n\n", entry.ID, entry.Type, jsonData)))
		case <-ticker.C:
			b.broadcast(nil, []byte(": ping\n\n"))
		}
	}
}
