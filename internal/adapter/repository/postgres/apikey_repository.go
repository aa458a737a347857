package postgres

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/V4T54L/msgtap/internal/adapter/metrics"
)

// APIKeyRepository implements domain.APIKeyRepository using PostgreSQL as the
// source of truth and an in-memory, time-based cache.
type APIKeyRepository struct {
	db      *sql.DB
	logger  *slog.Logger
	cache   *ttlCache[bool]
	metrics *metrics.PipelineMetrics
}

// NewAPIKeyRepository creates a new instance of the PostgreSQL API key repository.
func NewAPIKeyRepository(db *sql.DB, logger *slog.Logger, cacheTTL time.Duration, m *metrics.PipelineMetrics) *APIKeyRepository {
	return &APIKeyRepository{
		db:      db,
		logger:  logger.With("component", "apikey_repository"),
		cache:   newTTLCache[bool](cacheTTL),
		metrics: m,
	}
}

// IsValid checks the cache first and falls back to the database on a miss or
// an expired entry. Database errors are not cached.
func (r *APIKeyRepository) IsValid(ctx context.Context, key string) (bool, error) {
	if valid, ok := r.cache.get(key); ok {
		if r.metrics != nil {
			r.metrics.APIKeyCacheHits.Inc()
		}
		return valid, nil
	}
	if r.metrics != nil {
		r.metrics.APIKeyCacheMisses.Inc()
	}

	var isValid bool
	// A key is valid if it exists, is active, and has not expired.
	query := `SELECT EXISTS(SELECT 1 FROM api_keys WHERE key = $1 AND is_active = true AND (expires_at IS NULL OR expires_at > NOW()))`
	if err := r.db.QueryRowContext(ctx, query, key).Scan(&isValid); err != nil {
		r.logger.Error("failed to validate API key in database", "error", err)
		return false, err
	}

	r.cache.set(key, isValid)
	return isValid, nil
}
