package transport

import (
	"context"
	"strings"
)

// GroupSuffix marks group conversations in the host's id scheme.
const GroupSuffix = "@chatroom"

// IsGroup reports whether id names a group conversation.
func IsGroup(id string) bool { return strings.HasSuffix(id, GroupSuffix) }

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

// Message is an incoming text message.
//
// ConversationID is where replies go: the group id for group messages,
// the sender id for direct messages.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Text           string
	IsGroup        bool
}

// ContactPage is one page of the host's contact listing.
//
// The listing is resumed with two independent sequence numbers
// (direct contacts, group contacts).
type ContactPage struct {
	IDs     []string
	CursorA int64
	CursorB int64
	HasMore bool
}

// Directory enumerates every contact id known to the host.
type Directory interface {
	ListContacts(ctx context.Context, cursorA, cursorB int64) (ContactPage, error)
}

// Sender delivers a text message to a conversation.
type Sender interface {
	SendText(ctx context.Context, to, text string) error
}

// NameLookup resolves a contact or group id to its display name.
type NameLookup interface {
	DisplayName(ctx context.Context, id string) (string, error)
}

// Source produces incoming updates until ctx is cancelled.
type Source interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}

// Host is the full capability set of a messaging client.
type Host interface {
	Directory
	Sender
	NameLookup
	Source
}
