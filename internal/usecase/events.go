package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/V4T54L/msgtap/internal/adapter/sanitize"
	"github.com/V4T54L/msgtap/internal/domain"
	"github.com/V4T54L/msgtap/internal/interpose"
	"github.com/V4T54L/msgtap/internal/tracker"
)

// job is a classified change waiting for enrichment.
type job struct {
	typ            domain.EventType
	conversationID string
	messageID      string
	userID         string
	content        string
	messageType    string
	metadata       any
}

// hooks builds the interposition hooks for slot. The log entry is built and
// appended on a tracked goroutine; the caller only pays for argument capture.
func (uc *MessageLoggingUseCase) hooks(slot string) interpose.Hooks {
	return interpose.Hooks{
		Logger: uc.logger,
		After: func(ctx context.Context, args []any, result any, err error) {
			if uc.metrics != nil {
				uc.metrics.InterposedCalls.WithLabelValues(slot).Inc()
			}
			uc.diag.LogAPICall(slot, args, result, err)
			if err != nil {
				return
			}

			captured := append([]any(nil), args...)
			uc.goTracked(slot, func() {
				timer := uc.diag.StartTimer(slot)
				entry, ok := uc.entryForCall(slot, captured, result)
				if !ok {
					timer.End("error", true)
					return
				}
				uc.record(entry)
				timer.End("conversation_id", entry.ConversationID, "message_id", entry.MessageID, "event_type", string(entry.Type))
			})
		},
	}
}

// entryForCall turns the arguments of an interposed call into an entry. It
// reports false when the arguments cannot be interpreted.
func (uc *MessageLoggingUseCase) entryForCall(slot string, args []any, result any) (entry domain.LogEntry, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			uc.diag.Error("error logging intercepted call", "method", slot, "error", fmt.Sprint(r))
			ok = false
		}
	}()

	conversationID, _ := argAt(args, 0).(string)
	if conversationID == "" {
		uc.diag.Error("error logging intercepted call", "method", slot, "error", "missing conversation id")
		return domain.LogEntry{}, false
	}
	entry = domain.LogEntry{
		ConversationID:    conversationID,
		ConversationTitle: uc.conversationTitle(conversationID),
	}

	switch slot {
	case domain.SlotSendMessage:
		msg, hasMsg := messageArg(argAt(args, 1))
		if sent, isMsg := result.(domain.Message); isMsg && msg.ID == "" {
			msg.ID = sent.ID
		}
		entry.Type = domain.EventSent
		entry.MessageID = msg.ID
		if hasMsg {
			entry.Content = extractContent(msg)
			entry.MessageType = messageType(msg)
			entry.Metadata = uc.sanitizer.Sanitize(map[string]any{"message": argAt(args, 1)})
		}

	case domain.SlotUpdateMessage:
		entry.MessageID, _ = argAt(args, 1).(string)
		updateType, _ := intArg(argAt(args, 2))
		entry.Type = updateEventType(updateType)
		entry.Metadata = uc.sanitizer.Sanitize(map[string]any{"update_type": argAt(args, 2)})

	case domain.SlotDeleteMessage:
		entry.MessageID, _ = argAt(args, 1).(string)
		entry.Type = domain.EventDeleted

	default:
		return domain.LogEntry{}, false
	}
	return entry, true
}

// updateEventType maps a host update kind to an event type. Only the save
// kind is distinguished.
func updateEventType(updateType int) domain.EventType {
	if updateType == domain.UpdateTypeSave {
		return domain.EventSaved
	}
	return domain.EventRead
}

// handleConversations classifies every message in a full snapshot of the
// conversation graph. Classification is synchronous; enrichment and appends
// are not.
func (uc *MessageLoggingUseCase) handleConversations(conversations []domain.Conversation) {
	if !uc.Enabled() {
		return
	}

	self := uc.store.CurrentUserID()
	live := make(map[string]struct{})
	var jobs []job

	for _, conv := range conversations {
		for _, msg := range conv.Messages {
			key := tracker.Key(conv.ID, msg.ID)
			live[key] = struct{}{}
			jobs = append(jobs, uc.classify(conv.ID, key, msg, self)...)
		}
	}

	if evicted := uc.tracker.Sweep(live); evicted > 0 {
		uc.diag.Verbose("tracker swept", "evicted", evicted)
	}
	if len(jobs) == 0 {
		return
	}

	uc.goTracked("conversation_changes", func() {
		uc.enrichAndRecord(context.Background(), jobs)
	})
}

// classify isolates a single message: a panic here drops that message only.
func (uc *MessageLoggingUseCase) classify(conversationID, key string, msg domain.Message, self string) (jobs []job) {
	defer func() {
		if r := recover(); r != nil {
			jobs = nil
			if uc.metrics != nil {
				uc.metrics.ClassificationErrors.Inc()
			}
			uc.logger.Error("failed to classify message", "conversation_id", conversationID, "message_id", msg.ID, "error", fmt.Sprint(r))
			uc.diag.Error("failed to classify message", "conversation_id", conversationID, "message_id", msg.ID, "error", fmt.Sprint(r))
		}
	}()

	tr := uc.tracker.Observe(key, msg)
	if tr.IsNew && msg.SenderID != self {
		jobs = append(jobs, job{
			typ:            domain.EventReceived,
			conversationID: conversationID,
			messageID:      msg.ID,
			userID:         msg.SenderID,
			content:        extractContent(msg),
			messageType:    messageType(msg),
			metadata:       uc.sanitizer.Sanitize(map[string]any{"message": msg}),
		})
	}
	if tr.ReadReceiptAdded {
		jobs = append(jobs, job{
			typ:            domain.EventRead,
			conversationID: conversationID,
			messageID:      msg.ID,
			userID:         tr.NewReader,
		})
	}
	return jobs
}

// enrichAndRecord resolves identities for jobs and appends them in order.
// Lookup failures leave the identity fields empty.
func (uc *MessageLoggingUseCase) enrichAndRecord(ctx context.Context, jobs []job) {
	seen := make(map[string]struct{})
	var ids []string
	for _, j := range jobs {
		if _, ok := seen[j.userID]; !ok && j.userID != "" {
			seen[j.userID] = struct{}{}
			ids = append(ids, j.userID)
		}
	}
	uc.enricher.Prefetch(ctx, ids)

	for _, j := range jobs {
		timer := uc.diag.StartTimer(timerLabel(j.typ))
		identity := uc.enricher.Resolve(ctx, j.userID)
		entry := uc.record(domain.LogEntry{
			Type:              j.typ,
			ConversationID:    j.conversationID,
			ConversationTitle: uc.conversationTitle(j.conversationID),
			MessageID:         j.messageID,
			UserID:            j.userID,
			Username:          identity.Username,
			DisplayName:       identity.DisplayName,
			Content:           j.content,
			MessageType:       j.messageType,
			Metadata:          j.metadata,
		})
		timer.End("conversation_id", entry.ConversationID, "message_id", entry.MessageID, "user_id", entry.UserID)
	}
}

func timerLabel(t domain.EventType) string {
	if t == domain.EventRead {
		return "logMessageRead"
	}
	return "logReceivedMessage"
}

// extractContent renders a message for the log: text when present, else a
// marker for media, the type tag, or unknown content. Payload bytes are
// never kept.
func extractContent(msg domain.Message) string {
	var content string
	switch {
	case msg.Text != "":
		content = msg.Text
	case len(msg.Content) > 0:
		content = "[Media Content]"
	case msg.Type != "":
		content = "[" + msg.Type + "]"
	default:
		content = "[Unknown Content]"
	}
	if len(content) > maxContentLength {
		content = sanitize.Truncate(content, maxContentLength) + "..."
	}
	return content
}

var contentTypeNames = map[int]string{
	0: "TEXT",
	1: "SNAP",
	2: "IMAGE",
	3: "VIDEO",
	4: "AUDIO",
}

// messageType names the message's content kind.
func messageType(msg domain.Message) string {
	if msg.ContentType != nil {
		if name, ok := contentTypeNames[*msg.ContentType]; ok {
			return name
		}
		return "UNKNOWN_TYPE_" + strconv.Itoa(*msg.ContentType)
	}
	if msg.Type != "" {
		return msg.Type
	}
	return "UNKNOWN"
}

func argAt(args []any, i int) any {
	if i < len(args) {
		return args[i]
	}
	return nil
}

// messageArg accepts the message forms the host client is called with.
func messageArg(v any) (domain.Message, bool) {
	switch m := v.(type) {
	case domain.Message:
		return m, true
	case *domain.Message:
		if m != nil {
			return *m, true
		}
	case string:
		return domain.Message{Text: m}, true
	}
	return domain.Message{}, false
}

// intArg accepts every numeric form an update kind arrives in, including
// decoded JSON.
func intArg(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint:
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		return int(n), true
	case float32:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	}
	return 0, false
}
