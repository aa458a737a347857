package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/V4T54L/msgtap/internal/adapter/metrics"
	"github.com/V4T54L/msgtap/internal/domain"
)

const (
	identityQuery      = `SELECT username, display_name FROM users WHERE user_id = $1`
	identityBatchQuery = `SELECT user_id, username, display_name FROM users WHERE user_id = ANY($1)`
)

type identityEntry struct {
	identity domain.Identity
	found    bool
}

// IdentityRepository resolves user ids against the users table. Lookups,
// including misses, are cached for the configured TTL.
type IdentityRepository struct {
	db      *sql.DB
	logger  *slog.Logger
	cache   *ttlCache[identityEntry]
	metrics *metrics.PipelineMetrics
}

// NewIdentityRepository creates a new PostgreSQL identity directory.
func NewIdentityRepository(db *sql.DB, logger *slog.Logger, cacheTTL time.Duration, m *metrics.PipelineMetrics) *IdentityRepository {
	return &IdentityRepository{
		db:      db,
		logger:  logger.With("component", "identity_repository"),
		cache:   newTTLCache[identityEntry](cacheTTL),
		metrics: m,
	}
}

func (r *IdentityRepository) cached(userID string) (identityEntry, bool) {
	entry, ok := r.cache.get(userID)
	if r.metrics != nil {
		if ok {
			r.metrics.IdentityCacheHits.Inc()
		} else {
			r.metrics.IdentityCacheMisses.Inc()
		}
	}
	return entry, ok
}

func notFound(userID string) error {
	return fmt.Errorf("user %s: %w", userID, domain.ErrNotFound)
}

// ResolveIdentity implements domain.IdentityResolver.
func (r *IdentityRepository) ResolveIdentity(ctx context.Context, userID string) (domain.Identity, error) {
	if entry, ok := r.cached(userID); ok {
		if !entry.found {
			return domain.Identity{}, notFound(userID)
		}
		return entry.identity, nil
	}

	var username, displayName sql.NullString
	err := r.db.QueryRowContext(ctx, identityQuery, userID).Scan(&username, &displayName)
	if errors.Is(err, sql.ErrNoRows) {
		r.cache.set(userID, identityEntry{})
		return domain.Identity{}, notFound(userID)
	}
	if err != nil {
		r.logger.Error("failed to resolve identity", "user_id", userID, "error", err)
		return domain.Identity{}, fmt.Errorf("failed to resolve identity for %s: %w", userID, err)
	}

	identity := domain.Identity{Username: username.String, DisplayName: displayName.String}
	r.cache.set(userID, identityEntry{identity: identity, found: true})
	return identity, nil
}

// ResolveMany resolves every id in one round trip for the ids not already
// cached. Unknown ids are absent from the result.
func (r *IdentityRepository) ResolveMany(ctx context.Context, userIDs []string) (map[string]domain.Identity, error) {
	out := make(map[string]domain.Identity, len(userIDs))
	var missing []string
	seen := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		if _, dup := seen[id]; dup || id == "" {
			continue
		}
		seen[id] = struct{}{}
		if entry, ok := r.cached(id); ok {
			if entry.found {
				out[id] = entry.identity
			}
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out, nil
	}

	rows, err := r.db.QueryContext(ctx, identityBatchQuery, pq.Array(missing))
	if err != nil {
		return out, fmt.Errorf("failed to resolve %d identities: %w", len(missing), err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var username, displayName sql.NullString
		if err := rows.Scan(&id, &username, &displayName); err != nil {
			return out, fmt.Errorf("failed to scan identity row: %w", err)
		}
		identity := domain.Identity{Username: username.String, DisplayName: displayName.String}
		out[id] = identity
		r.cache.set(id, identityEntry{identity: identity, found: true})
	}
	if err := rows.Err(); err != nil {
		return out, fmt.Errorf("failed to iterate identity rows: %w", err)
	}

	for _, id := range missing {
		if _, ok := out[id]; !ok {
			r.cache.set(id, identityEntry{})
		}
	}
	return out, nil
}
