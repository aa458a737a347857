package domain

import (
	"context"
	"strconv"
)

// ConversationStore is the externally owned conversation graph the logger
// observes. Implementations must invoke subscribers with a snapshot the
// subscriber may keep; the logger never mutates it.
type ConversationStore interface {
	// SubscribeConversations registers fn to be called with the full,
	// ordered conversation list whenever it changes. The returned function
	// releases the subscription.
	SubscribeConversations(fn func(conversations []Conversation)) (unsubscribe func())

	// Conversation returns the current state of a single conversation.
	Conversation(id string) (Conversation, bool)

	// CurrentUserID returns the id of the session's own user.
	CurrentUserID() string
}

// IdentityResolver looks up display metadata for a user id.
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, userID string) (Identity, error)
}

// BatchIdentityResolver resolves many user ids in one round trip. Unknown
// ids are absent from the result.
type BatchIdentityResolver interface {
	ResolveMany(ctx context.Context, userIDs []string) (map[string]Identity, error)
}

// Settings is a read-only view of the externally owned settings.
type Settings interface {
	Get(key string) (string, bool)
}

// SettingsRepository is a writable, observable settings store.
type SettingsRepository interface {
	Settings

	// Set stores value under key and notifies watchers.
	Set(ctx context.Context, key, value string) error

	// All returns a copy of every known setting.
	All() map[string]string

	// Watch registers fn to be called with the key of every changed setting.
	Watch(fn func(key string)) (cancel func())
}

// APIKeyRepository defines the interface for validating API keys.
type APIKeyRepository interface {
	// IsValid checks if the provided API key is valid and active.
	IsValid(ctx context.Context, key string) (bool, error)
}

// Setting keys read by the message logger.
const (
	SettingMessageLogging         = "MESSAGE_LOGGING"
	SettingMessageLoggingDetailed = "MESSAGE_LOGGING_DETAILED"
	SettingMaxEntries             = "MESSAGE_LOGGING_MAX_ENTRIES"
)

// SettingBool reads key as a boolean. Missing or malformed values are false.
func SettingBool(s Settings, key string) bool {
	if s == nil {
		return false
	}
	v, ok := s.Get(key)
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

// SettingInt reads key as an integer, returning def when missing or malformed.
func SettingInt(s Settings, key string, def int) int {
	if s == nil {
		return def
	}
	v, ok := s.Get(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// MutationApplier applies changes to the host conversation graph.
type MutationApplier interface {
	Apply(m Mutation) error
}
