// Package memory provides in-process implementations of the host
// conversation store, its client slots, its user directory and settings.
package memory

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/V4T54L/msgtap/internal/domain"
	"github.com/V4T54L/msgtap/internal/interpose"
)

// Host is an in-memory conversation graph with reassignable client slots.
// It implements domain.ConversationStore, domain.IdentityResolver and
// interpose.Holder.
//
// Subscribers are called outside the state lock, one notification at a time,
// and must not mutate the host from within the callback.
type Host struct {
	mu     sync.RWMutex
	selfID string
	order  []string
	convs  map[string]*domain.Conversation
	users  map[string]domain.Identity
	slots  map[string]interpose.Callable

	notifyMu sync.Mutex
	subsMu   sync.Mutex
	subs     map[int]func([]domain.Conversation)
	nextSub  int

	logger *slog.Logger
}

// NewHost creates an empty host for the given session user and installs the
// native sendMessage, updateMessage and deleteMessage slots.
func NewHost(selfID string, logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	h := &Host{
		selfID: selfID,
		convs:  make(map[string]*domain.Conversation),
		users:  make(map[string]domain.Identity),
		subs:   make(map[int]func([]domain.Conversation)),
		logger: logger.With("component", "memory_host"),
	}
	h.slots = map[string]interpose.Callable{
		domain.SlotSendMessage:   interpose.Func(h.sendMessage),
		domain.SlotUpdateMessage: interpose.Func(h.updateMessage),
		domain.SlotDeleteMessage: interpose.Func(h.deleteMessage),
	}
	return h
}

// CurrentUserID returns the session user's id.
func (h *Host) CurrentUserID() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.selfID
}

// SetCurrentUserID switches the session user.
func (h *Host) SetCurrentUserID(id string) {
	h.mu.Lock()
	h.selfID = id
	h.mu.Unlock()
}

// SetUser registers display metadata for a user id.
func (h *Host) SetUser(id string, identity domain.Identity) {
	h.mu.Lock()
	h.users[id] = identity
	h.mu.Unlock()
}

// ResolveIdentity implements domain.IdentityResolver.
func (h *Host) ResolveIdentity(ctx context.Context, userID string) (domain.Identity, error) {
	if err := ctx.Err(); err != nil {
		return domain.Identity{}, err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	identity, ok := h.users[userID]
	if !ok {
		return domain.Identity{}, fmt.Errorf("user %s: %w", userID, domain.ErrNotFound)
	}
	return identity, nil
}

// Conversation returns a copy of one conversation.
func (h *Host) Conversation(id string) (domain.Conversation, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.convs[id]
	if !ok {
		return domain.Conversation{}, false
	}
	return cloneConversation(c), true
}

// Conversations returns a copy of every conversation in creation order.
func (h *Host) Conversations() []domain.Conversation {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snapshotLocked()
}

func (h *Host) snapshotLocked() []domain.Conversation {
	out := make([]domain.Conversation, 0, len(h.order))
	for _, id := range h.order {
		out = append(out, cloneConversation(h.convs[id]))
	}
	return out
}

func cloneConversation(c *domain.Conversation) domain.Conversation {
	out := domain.Conversation{ID: c.ID, Title: c.Title, Messages: make([]domain.Message, len(c.Messages))}
	for i, m := range c.Messages {
		out.Messages[i] = m.Clone()
	}
	return out
}

// SubscribeConversations implements domain.ConversationStore.
func (h *Host) SubscribeConversations(fn func([]domain.Conversation)) func() {
	h.subsMu.Lock()
	id := h.nextSub
	h.nextSub++
	h.subs[id] = fn
	h.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.subsMu.Lock()
			delete(h.subs, id)
			h.subsMu.Unlock()
		})
	}
}

// Subscribers returns the number of active subscriptions.
func (h *Host) Subscribers() int {
	h.subsMu.Lock()
	defer h.subsMu.Unlock()
	return len(h.subs)
}

// mutate runs fn under the state lock and then notifies subscribers with the
// resulting snapshot.
func (h *Host) mutate(fn func() error) error {
	h.notifyMu.Lock()
	defer h.notifyMu.Unlock()

	h.mu.Lock()
	if err := fn(); err != nil {
		h.mu.Unlock()
		return err
	}
	snapshot := h.snapshotLocked()
	h.mu.Unlock()

	h.subsMu.Lock()
	subs := make([]func([]domain.Conversation), 0, len(h.subs))
	for _, fn := range h.subs {
		subs = append(subs, fn)
	}
	h.subsMu.Unlock()

	for _, fn := range subs {
		h.deliver(fn, snapshot)
	}
	return nil
}

func (h *Host) deliver(fn func([]domain.Conversation), snapshot []domain.Conversation) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("conversation subscriber panicked", "error", fmt.Sprint(r))
		}
	}()
	fn(snapshot)
}

func (h *Host) conversationLocked(id string) *domain.Conversation {
	c, ok := h.convs[id]
	if !ok {
		c = &domain.Conversation{ID: id}
		h.convs[id] = c
		h.order = append(h.order, id)
	}
	return c
}

// Apply merges a mutation into the graph: Clear empties the conversation,
// Title replaces the title when set, Messages are upserted by id and
// DeleteMessageIDs are removed.
func (h *Host) Apply(m domain.Mutation) error {
	if m.ConversationID == "" {
		return fmt.Errorf("%w: conversation_id is required", domain.ErrInvalidMutation)
	}
	for _, msg := range m.Messages {
		if msg.ID == "" {
			return fmt.Errorf("%w: message id is required", domain.ErrInvalidMutation)
		}
	}

	return h.mutate(func() error {
		c := h.conversationLocked(m.ConversationID)
		if m.Clear {
			c.Messages = nil
		}
		if m.Title != "" {
			c.Title = m.Title
		}
		for _, msg := range m.Messages {
			upsert(c, msg.Clone())
		}
		for _, id := range m.DeleteMessageIDs {
			remove(c, id)
		}
		return nil
	})
}

func upsert(c *domain.Conversation, msg domain.Message) {
	for i := range c.Messages {
		if c.Messages[i].ID == msg.ID {
			c.Messages[i] = msg
			return
		}
	}
	c.Messages = append(c.Messages, msg)
}

func remove(c *domain.Conversation, id string) bool {
	for i := range c.Messages {
		if c.Messages[i].ID == id {
			c.Messages = append(c.Messages[:i], c.Messages[i+1:]...)
			return true
		}
	}
	return false
}

func find(c *domain.Conversation, id string) *domain.Message {
	for i := range c.Messages {
		if c.Messages[i].ID == id {
			return &c.Messages[i]
		}
	}
	return nil
}
