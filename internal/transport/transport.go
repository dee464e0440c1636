// Package transport connects the bot to a chat network.
package transport

import (
	"context"
	"strings"
)

// Event is one inbound chat message, reduced to what the bot needs.
type Event struct {
	ChatID     string `json:"chat_id"`
	MessageID  string `json:"message_id"`
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name,omitempty"`
	Text       string `json:"text"`
	Timestamp  int64  `json:"timestamp"`
	FromSelf   bool   `json:"from_self,omitempty"`
}

// Group is a chat the bot account belongs to.
type Group struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Members int    `json:"members"`
}

// Handler receives inbound events. It must not block for long.
type Handler func(Event)

// Transport is the chat network adapter.
type Transport interface {
	Connect(ctx context.Context) error
	Close() error
	OnEvent(h Handler)
	SendText(ctx context.Context, chatID, text string) error
	ListGroups(ctx context.Context) ([]Group, error)

	// Disconnected yields an error when the connection is lost without
	// Close. A nil channel means the transport never drops.
	Disconnected() <-chan error
}

// BareID strips a "@server" suffix from a sender or chat id.
func BareID(id string) string {
	id = strings.TrimSpace(id)
	if i := strings.IndexByte(id, '@'); i >= 0 {
		return id[:i]
	}
	return id
}
