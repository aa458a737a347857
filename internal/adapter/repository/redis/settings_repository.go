package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// SettingsRepository implements domain.SettingsRepository on a Redis hash.
// Writes publish the changed key on a channel so every process sharing the
// hash can refresh; reads are served from a local snapshot.
type SettingsRepository struct {
	client  *redis.Client
	logger  *slog.Logger
	key     string
	channel string

	mu       sync.RWMutex
	values   map[string]string
	watchers map[int]func(string)
	next     int
}

// NewSettingsRepository creates a repository for the hash at key. Defaults
// are written with HSETNX so existing values win, then the snapshot is
// loaded.
func NewSettingsRepository(ctx context.Context, client *redis.Client, logger *slog.Logger, key, channel string, defaults map[string]string) (*SettingsRepository, error) {
	r := &SettingsRepository{
		client:   client,
		logger:   logger.With("component", "redis_settings"),
		key:      key,
		channel:  channel,
		values:   make(map[string]string),
		watchers: make(map[int]func(string)),
	}

	if len(defaults) > 0 {
		pipe := client.Pipeline()
		for k, v := range defaults {
			pipe.HSetNX(ctx, key, k, v)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("failed to seed settings hash %s: %w", key, err)
		}
	}

	if err := r.Refresh(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Refresh reloads the whole hash into the local snapshot.
func (r *SettingsRepository) Refresh(ctx context.Context) error {
	values, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return fmt.Errorf("failed to load settings hash %s: %w", r.key, err)
	}
	r.mu.Lock()
	r.values = values
	r.mu.Unlock()
	return nil
}

func (r *SettingsRepository) Get(key string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.values[key]
	return v, ok
}

func (r *SettingsRepository) All() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// Set writes the value, updates the local snapshot, notifies local watchers
// and publishes the key for other processes.
func (r *SettingsRepository) Set(ctx context.Context, key, value string) error {
	if err := r.client.HSet(ctx, r.key, key, value).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}

	r.mu.Lock()
	r.values[key] = value
	r.mu.Unlock()
	r.notify(key)

	if err := r.client.Publish(ctx, r.channel, key).Err(); err != nil {
		r.logger.Warn("failed to publish settings update", "key", key, "error", err)
	}
	return nil
}

func (r *SettingsRepository) Watch(fn func(key string)) func() {
	r.mu.Lock()
	id := r.next
	r.next++
	r.watchers[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.watchers, id)
		r.mu.Unlock()
	}
}

func (r *SettingsRepository) notify(key string) {
	r.mu.RLock()
	watchers := make([]func(string), 0, len(r.watchers))
	for _, fn := range r.watchers {
		watchers = append(watchers, fn)
	}
	r.mu.RUnlock()

	for _, fn := range watchers {
		fn(key)
	}
}

// Run subscribes to the update channel and applies remote changes until ctx
// is cancelled. Updates this process published itself are applied again,
// which is harmless since watchers only re-read settings.
func (r *SettingsRepository) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	// Wait for the subscription to be confirmed before reporting ready.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}
	r.logger.Info("listening for settings updates", "channel", r.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("settings subscription closed")
			}
			r.apply(ctx, msg.Payload)
		}
	}
}

func (r *SettingsRepository) apply(ctx context.Context, key string) {
	value, err := r.client.HGet(ctx, r.key, key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		r.mu.Lock()
		delete(r.values, key)
		r.mu.Unlock()
	case err != nil:
		r.logger.Error("failed to read updated setting", "key", key, "error", err)
		return
	default:
		r.mu.Lock()
		r.values[key] = value
		r.mu.Unlock()
	}
	r.logger.Debug("setting updated", "key", key)
	r.notify(key)
}
