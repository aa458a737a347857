package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/V4T54L/msgtap/internal/domain"
)

// MutationIngester applies one host mutation.
type MutationIngester interface {
	Ingest(ctx context.Context, m *domain.Mutation) error
}

// MutationHandler handles HTTP requests that push changes into the host
// conversation graph.
type MutationHandler struct {
	useCase     MutationIngester
	logger      *slog.Logger
	maxBodySize int64
}

// NewMutationHandler creates a new MutationHandler.
func NewMutationHandler(uc MutationIngester, logger *slog.Logger, maxBodySize int64) *MutationHandler {
	return &MutationHandler{
		useCase:     uc,
		logger:      logger,
		maxBodySize: maxBodySize,
	}
}

// errDecode marks request bodies that are not valid mutations.
type errDecode struct {
	msg string
	err error
}

func (e *errDecode) Error() string { return e.msg + ": " + e.err.Error() }
func (e *errDecode) Unwrap() error { return e.err }

// ServeHTTP accepts a single JSON mutation or an NDJSON stream of them.
func (h *MutationHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	contentType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var (
		applied int
		err     error
	)
	switch contentType {
	case "application/json":
		applied, err = h.handleSingleJSON(r.Context(), r.Body)
	case "application/x-ndjson":
		applied, err = h.handleNDJSON(r.Context(), r.Body)
	default:
		http.Error(w, "Unsupported Media Type: "+r.Header.Get("Content-Type"), http.StatusUnsupportedMediaType)
		return
	}

	if err != nil {
		var maxBytesErr *http.MaxBytesError
		var decodeErr *errDecode
		switch {
		case errors.As(err, &maxBytesErr):
			http.Error(w, "http: request body too large", http.StatusRequestEntityTooLarge)
		case errors.As(err, &decodeErr):
			http.Error(w, "Bad Request: "+decodeErr.msg, http.StatusBadRequest)
		case errors.Is(err, domain.ErrInvalidMutation):
			http.Error(w, "Bad Request: "+err.Error(), http.StatusBadRequest)
		default:
			h.logger.Error("failed to apply host mutations", "error", err, "applied", applied)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
		return
	}

	respondWithJSON(w, h.logger, http.StatusAccepted, map[string]int{"applied": applied})
}

func (h *MutationHandler) handleSingleJSON(ctx context.Context, body io.Reader) (int, error) {
	rawBody, err := io.ReadAll(body)
	if err != nil {
		return 0, err
	}

	var m domain.Mutation
	if err := json.Unmarshal(rawBody, &m); err != nil {
		return 0, &errDecode{msg: "Failed to decode JSON", err: err}
	}
	if err := h.useCase.Ingest(ctx, &m); err != nil {
		return 0, err
	}
	return 1, nil
}

// handleNDJSON stops at the first bad line; earlier lines stay applied.
func (h *MutationHandler) handleNDJSON(ctx context.Context, body io.Reader) (int, error) {
	applied := 0
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), int(h.maxBodySize))
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var m domain.Mutation
		if err := json.Unmarshal(line, &m); err != nil {
			h.logger.Warn("failed to unmarshal ndjson line", "error", err, "line", string(line))
			return applied, &errDecode{msg: "Failed to decode NDJSON line", err: err}
		}
		if err := h.useCase.Ingest(ctx, &m); err != nil {
			return applied, err
		}
		applied++
	}
	return applied, scanner.Err()
}
