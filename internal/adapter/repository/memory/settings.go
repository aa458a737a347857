package memory

import (
	"context"
	"sync"
)

// Settings is an in-process domain.SettingsRepository.
type Settings struct {
	mu       sync.RWMutex
	values   map[string]string
	watchers map[int]func(string)
	next     int
}

// NewSettings creates a repository seeded with initial.
func NewSettings(initial map[string]string) *Settings {
	values := make(map[string]string, len(initial))
	for k, v := range initial {
		values[k] = v
	}
	return &Settings{values: values, watchers: make(map[int]func(string))}
}

func (s *Settings) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *Settings) All() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Set stores value and synchronously notifies watchers.
func (s *Settings) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	s.values[key] = value
	watchers := make([]func(string), 0, len(s.watchers))
	for _, fn := range s.watchers {
		watchers = append(watchers, fn)
	}
	s.mu.Unlock()

	for _, fn := range watchers {
		fn(key)
	}
	return nil
}

func (s *Settings) Watch(fn func(key string)) func() {
	s.mu.Lock()
	id := s.next
	s.next++
	s.watchers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
}

// APIKeys is a static domain.APIKeyRepository.
type APIKeys struct {
	keys map[string]struct{}
}

// NewAPIKeys creates a key set from keys, ignoring empty entries.
func NewAPIKeys(keys []string) *APIKeys {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k != "" {
			set[k] = struct{}{}
		}
	}
	return &APIKeys{keys: set}
}

// Empty reports whether no keys are configured.
func (a *APIKeys) Empty() bool { return len(a.keys) == 0 }

func (a *APIKeys) IsValid(_ context.Context, key string) (bool, error) {
	_, ok := a.keys[key]
	return ok, nil
}
