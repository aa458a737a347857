package memory

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/V4T54L/msgtap/internal/domain"
	"github.com/V4T54L/msgtap/internal/interpose"
)

// Slot implements interpose.Holder.
func (h *Host) Slot(name string) (interpose.Callable, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	fn, ok := h.slots[name]
	return fn, ok
}

// SetSlot implements interpose.Holder.
func (h *Host) SetSlot(name string, fn interpose.Callable) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.slots[name] = fn
}

// Invoke calls whatever is currently installed in the named slot.
func (h *Host) Invoke(ctx context.Context, slot string, args ...any) (any, error) {
	fn, ok := h.Slot(slot)
	if !ok || fn == nil {
		return nil, fmt.Errorf("client slot %s: %w", slot, domain.ErrNotFound)
	}
	return fn.Invoke(ctx, args...)
}

// SendMessage invokes the sendMessage slot.
func (h *Host) SendMessage(ctx context.Context, conversationID, text string) (domain.Message, error) {
	res, err := h.Invoke(ctx, domain.SlotSendMessage, conversationID, text)
	if err != nil {
		return domain.Message{}, err
	}
	msg, _ := res.(domain.Message)
	return msg, nil
}

// UpdateMessage invokes the updateMessage slot.
func (h *Host) UpdateMessage(ctx context.Context, conversationID, messageID string, updateType int) error {
	_, err := h.Invoke(ctx, domain.SlotUpdateMessage, conversationID, messageID, updateType)
	return err
}

// DeleteMessage invokes the deleteMessage slot.
func (h *Host) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	_, err := h.Invoke(ctx, domain.SlotDeleteMessage, conversationID, messageID)
	return err
}

func stringArg(args []any, i int, name string) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("missing %s argument", name)
	}
	s, ok := args[i].(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%s must be a non-empty string, got %T", name, args[i])
	}
	return s, nil
}

// sendMessage(conversationID, text|Message) appends an own message and
// returns it.
func (h *Host) sendMessage(_ context.Context, args ...any) (any, error) {
	conversationID, err := stringArg(args, 0, "conversation_id")
	if err != nil {
		return nil, err
	}

	var msg domain.Message
	if len(args) > 1 {
		switch v := args[1].(type) {
		case string:
			msg.Text = v
		case domain.Message:
			msg = v.Clone()
		default:
			return nil, fmt.Errorf("unsupported message payload %T", v)
		}
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	err = h.mutate(func() error {
		msg.SenderID = h.selfID
		upsert(h.conversationLocked(conversationID), msg.Clone())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// updateMessage(conversationID, messageID, updateType) saves the message for
// UpdateTypeSave and marks it read by the session user otherwise.
func (h *Host) updateMessage(_ context.Context, args ...any) (any, error) {
	conversationID, err := stringArg(args, 0, "conversation_id")
	if err != nil {
		return nil, err
	}
	messageID, err := stringArg(args, 1, "message_id")
	if err != nil {
		return nil, err
	}
	updateType := 0
	if len(args) > 2 {
		if n, ok := args[2].(int); ok {
			updateType = n
		}
	}

	return nil, h.mutate(func() error {
		c, ok := h.convs[conversationID]
		if !ok {
			return fmt.Errorf("conversation %s: %w", conversationID, domain.ErrNotFound)
		}
		m := find(c, messageID)
		if m == nil {
			return fmt.Errorf("message %s: %w", messageID, domain.ErrNotFound)
		}
		if updateType == domain.UpdateTypeSave {
			m.Saved = true
			return nil
		}
		for _, r := range m.ReadBy {
			if r == h.selfID {
				return nil
			}
		}
		m.ReadBy = append(m.ReadBy, h.selfID)
		return nil
	})
}

// deleteMessage(conversationID, messageID) removes the message.
func (h *Host) deleteMessage(_ context.Context, args ...any) (any, error) {
	conversationID, err := stringArg(args, 0, "conversation_id")
	if err != nil {
		return nil, err
	}
	messageID, err := stringArg(args, 1, "message_id")
	if err != nil {
		return nil, err
	}

	return nil, h.mutate(func() error {
		c, ok := h.convs[conversationID]
		if !ok || !remove(c, messageID) {
			return fmt.Errorf("message %s: %w", messageID, domain.ErrNotFound)
		}
		return nil
	})
}
