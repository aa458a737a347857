package domain

import "errors"

// Message is the subset of a host message the logger cares about.
type Message struct {
	ID          string   `json:"id"`
	SenderID    string   `json:"sender_id"`
	Text        string   `json:"text,omitempty"`
	Content     []byte   `json:"content,omitempty"`
	Type        string   `json:"type,omitempty"`
	ContentType *int     `json:"content_type,omitempty"`
	ReadBy      []string `json:"read_by,omitempty"`
	Saved       bool     `json:"saved,omitempty"`
}

// Clone returns a copy of m that shares no slices with it.
func (m Message) Clone() Message {
	c := m
	if m.ReadBy != nil {
		c.ReadBy = append([]string(nil), m.ReadBy...)
	}
	if m.Content != nil {
		c.Content = append([]byte(nil), m.Content...)
	}
	if m.ContentType != nil {
		ct := *m.ContentType
		c.ContentType = &ct
	}
	return c
}

// Conversation is one thread of the host conversation graph. Messages keep
// the order in which the host first stored them.
type Conversation struct {
	ID       string    `json:"id"`
	Title    string    `json:"title,omitempty"`
	Messages []Message `json:"messages,omitempty"`
}

// Identity is the display metadata resolved for a user id.
type Identity struct {
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// IsZero reports whether nothing was resolved.
func (i Identity) IsZero() bool {
	return i.Username == "" && i.DisplayName == ""
}

// Mutation is a change pushed into the host conversation graph. Messages are
// upserted by id; DeleteMessageIDs removes messages; Clear empties the
// conversation before the rest of the mutation is applied.
type Mutation struct {
	ConversationID   string    `json:"conversation_id"`
	Title            string    `json:"title,omitempty"`
	Clear            bool      `json:"clear,omitempty"`
	Messages         []Message `json:"messages,omitempty"`
	DeleteMessageIDs []string  `json:"delete_message_ids,omitempty"`
}

// Host client slot names that the message logger interposes.
const (
	SlotSendMessage   = "sendMessage"
	SlotUpdateMessage = "updateMessage"
	SlotDeleteMessage = "deleteMessage"
)

// UpdateTypeSave is the host's update kind for saving a message in chat.
const UpdateTypeSave = 3

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidMutation = errors.New("invalid mutation")
)
