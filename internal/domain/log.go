package domain

import (
	"fmt"
	"strings"
)

// EventType identifies what happened to a message or conversation.
type EventType string

const (
	EventSent                EventType = "MESSAGE_SENT"
	EventReceived            EventType = "MESSAGE_RECEIVED"
	EventRead                EventType = "MESSAGE_READ"
	EventSaved               EventType = "MESSAGE_SAVED"
	EventUnsaved             EventType = "MESSAGE_UNSAVED"
	EventDeleted             EventType = "MESSAGE_DELETED"
	EventSnapOpened          EventType = "SNAP_OPENED"
	EventMediaShared         EventType = "MEDIA_SHARED"
	EventReactionAdded       EventType = "REACTION_ADDED"
	EventReactionRemoved     EventType = "REACTION_REMOVED"
	EventConversationCleared EventType = "CONVERSATION_CLEARED"
)

// EventTypes lists every known event type in declaration order.
var EventTypes = []EventType{
	EventSent,
	EventReceived,
	EventRead,
	EventSaved,
	EventUnsaved,
	EventDeleted,
	EventSnapOpened,
	EventMediaShared,
	EventReactionAdded,
	EventReactionRemoved,
	EventConversationCleared,
}

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	for _, known := range EventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseEventType accepts either the wire value ("MESSAGE_SENT") or the short
// name ("SENT", "sent").
func ParseEventType(s string) (EventType, error) {
	up := strings.ToUpper(strings.TrimSpace(s))
	if t := EventType(up); t.Valid() {
		return t, nil
	}
	if t := EventType("MESSAGE_" + up); t.Valid() {
		return t, nil
	}
	return "", fmt.Errorf("unknown event type %q", s)
}

// LogEntry is one record of the message log. Entries are immutable once
// appended; Timestamp and ID are assigned by the log store.
type LogEntry struct {
	ID                string    `json:"id"`
	Timestamp         int64     `json:"timestamp"` // ms since epoch
	Type              EventType `json:"type"`
	ConversationID    string    `json:"conversation_id"`
	ConversationTitle string    `json:"conversation_title,omitempty"`
	MessageID         string    `json:"message_id,omitempty"`
	UserID            string    `json:"user_id,omitempty"`
	Username          string    `json:"username,omitempty"`
	DisplayName       string    `json:"display_name,omitempty"`
	Content           string    `json:"content,omitempty"`
	MessageType       string    `json:"message_type,omitempty"`
	Metadata          any       `json:"metadata,omitempty"`
}

// LogFilter selects entries from the log. Zero values mean "no constraint".
type LogFilter struct {
	ConversationID string    `json:"conversation_id,omitempty"`
	UserID         string    `json:"user_id,omitempty"`
	Type           EventType `json:"type,omitempty"`
	StartTime      int64     `json:"start_time,omitempty"` // inclusive, ms
	EndTime        int64     `json:"end_time,omitempty"`   // inclusive, ms
	Limit          int       `json:"limit,omitempty"`
	// NewestFirst sorts the result by timestamp, descending. Store order is
	// never affected.
	NewestFirst bool `json:"newest_first,omitempty"`
}

// Match reports whether e satisfies every predicate of f. Limit and ordering
// are not predicates and are ignored here.
func (f LogFilter) Match(e LogEntry) bool {
	if f.ConversationID != "" && e.ConversationID != f.ConversationID {
		return false
	}
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.StartTime != 0 && e.Timestamp < f.StartTime {
		return false
	}
	if f.EndTime != 0 && e.Timestamp > f.EndTime {
		return false
	}
	return true
}

// ConversationActivity describes the busiest conversation in a stats window.
type ConversationActivity struct {
	ID           string `json:"id"`
	Title        string `json:"title,omitempty"`
	MessageCount int    `json:"message_count"`
}

// DateRange is the [Start, End] timestamp span of a set of entries, in ms.
type DateRange struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// LogStats aggregates a (possibly filtered) view of the log.
type LogStats struct {
	TotalMessages          int                   `json:"total_messages"`
	MessagesSent           int                   `json:"messages_sent"`
	MessagesReceived       int                   `json:"messages_received"`
	ConversationsActive    int                   `json:"conversations_active"`
	MostActiveConversation *ConversationActivity `json:"most_active_conversation,omitempty"`
	DateRange              *DateRange            `json:"date_range,omitempty"`
}
