package logstore

import (
	"fmt"
	"time"

	"github.com/V4T54L/msgtap/internal/domain"
)

// FormatEntry renders e as a single human-readable line.
func FormatEntry(e domain.LogEntry) string {
	ts := time.UnixMilli(e.Timestamp).Format("2006-01-02 15:04:05")
	where := e.ConversationID
	if e.ConversationTitle != "" {
		where = fmt.Sprintf("%q", e.ConversationTitle)
	}
	who := e.DisplayName
	if who == "" {
		who = e.Username
	}
	if who == "" {
		who = "Unknown User"
	}

	var what string
	switch e.Type {
	case domain.EventSent:
		what = "You sent a message in " + where
	case domain.EventReceived:
		what = who + " sent a message in " + where
	case domain.EventRead:
		what = who + " read a message in " + where
	case domain.EventSaved:
		what = who + " saved a message in " + where
	case domain.EventUnsaved:
		what = who + " unsaved a message in " + where
	case domain.EventDeleted:
		what = "A message was deleted in " + where
	case domain.EventSnapOpened:
		what = who + " opened a snap in " + where
	case domain.EventMediaShared:
		what = "Media was shared in " + where
	case domain.EventReactionAdded:
		what = who + " added a reaction in " + where
	case domain.EventReactionRemoved:
		what = who + " removed a reaction in " + where
	case domain.EventConversationCleared:
		what = "Conversation cleared: " + where
	default:
		what = "Unknown event in " + where
	}
	return "[" + ts + "] " + what
}
