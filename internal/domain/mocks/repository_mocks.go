package mocks

import (
	"context"
	"sync"

	"github.com/V4T54L/msgtap/internal/domain"
	"github.com/V4T54L/msgtap/internal/interpose"
)

// MockIdentityResolver is a mock implementation of domain.IdentityResolver.
// When Block is non-nil, lookups wait for it to be closed and ignore ctx.
type MockIdentityResolver struct {
	mu         sync.Mutex
	Identities map[string]domain.Identity
	Err        error
	Block      chan struct{}
	Calls      []string
}

func (m *MockIdentityResolver) ResolveIdentity(ctx context.Context, userID string) (domain.Identity, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, userID)
	block := m.Block
	m.mu.Unlock()

	if block != nil {
		<-block
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return domain.Identity{}, m.Err
	}
	return m.Identities[userID], nil
}

// CallCount returns the number of single lookups made.
func (m *MockIdentityResolver) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// MockBatchIdentityResolver adds domain.BatchIdentityResolver to
// MockIdentityResolver.
type MockBatchIdentityResolver struct {
	MockIdentityResolver
	BatchCalls [][]string
}

func (m *MockBatchIdentityResolver) ResolveMany(ctx context.Context, userIDs []string) (map[string]domain.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BatchCalls = append(m.BatchCalls, append([]string(nil), userIDs...))
	if m.Err != nil {
		return nil, m.Err
	}
	out := make(map[string]domain.Identity)
	for _, id := range userIDs {
		if identity, ok := m.Identities[id]; ok {
			out[id] = identity
		}
	}
	return out, nil
}

// MockAPIKeyRepository is a mock implementation of domain.APIKeyRepository.
type MockAPIKeyRepository struct {
	Keys map[string]bool
	Err  error
}

func (m *MockAPIKeyRepository) IsValid(ctx context.Context, key string) (bool, error) {
	if m.Err != nil {
		return false, m.Err
	}
	return m.Keys[key], nil
}

// MockConversationStore is a domain.ConversationStore whose snapshots are
// pushed by the test.
type MockConversationStore struct {
	mu            sync.Mutex
	Self          string
	Conversations map[string]domain.Conversation
	subs          map[int]func([]domain.Conversation)
	next          int
}

func (m *MockConversationStore) SubscribeConversations(fn func([]domain.Conversation)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subs == nil {
		m.subs = make(map[int]func([]domain.Conversation))
	}
	id := m.next
	m.next++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

func (m *MockConversationStore) Conversation(id string) (domain.Conversation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.Conversations[id]
	return c, ok
}

func (m *MockConversationStore) CurrentUserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Self
}

// Push delivers conversations to every subscriber synchronously.
func (m *MockConversationStore) Push(conversations []domain.Conversation) {
	m.mu.Lock()
	subs := make([]func([]domain.Conversation), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()
	for _, fn := range subs {
		fn(conversations)
	}
}

// Subscribers returns the number of active subscriptions.
func (m *MockConversationStore) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// MockHolder is an interpose.Holder backed by a map.
type MockHolder struct {
	mu    sync.Mutex
	Slots map[string]interpose.Callable
}

func (m *MockHolder) Slot(name string) (interpose.Callable, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn, ok := m.Slots[name]
	return fn, ok
}

func (m *MockHolder) SetSlot(name string, fn interpose.Callable) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Slots == nil {
		m.Slots = make(map[string]interpose.Callable)
	}
	m.Slots[name] = fn
}
