// Package transport holds the platform-neutral message model. Adapters map
// platform objects into these structs at the boundary so nothing past the
// adapter depends on a platform SDK.
package transport

import (
	"context"
	"time"
)

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type ChatType string

const (
	ChatPrivate    ChatType = "private"
	ChatGroup      ChatType = "group"
	ChatSupergroup ChatType = "supergroup"
	ChatChannel    ChatType = "channel"
)

type Chat struct {
	ID        int64
	Type      ChatType
	Title     string
	FirstName string
	LastName  string
	Username  string
}

type User struct {
	ID        int64
	FirstName string
	LastName  string
	Username  string
	IsBot     bool
}

// Reply references the message being answered. AuthorID is zero when unknown.
type Reply struct {
	MessageID int
	AuthorID  int64
}

type Media struct {
	Kind   string
	FileID string
}

type Message struct {
	ID       int
	ThreadID int
	Chat     Chat
	Sender   *User // nil for anonymous channel posts
	Text     string
	// Service marks joins, title changes, pins and other system messages.
	Service    bool
	MentionIDs []int64
	ReplyTo    *Reply
	Media      *Media
	SentAt     time.Time
	// BusinessConnection is set for messages in the owner's own private chats,
	// seen through a Telegram Business connection rather than sent to the bot.
	BusinessConnection string
}

// SenderID returns the author id, or zero when there is none.
func (m *Message) SenderID() int64 {
	if m == nil || m.Sender == nil {
		return 0
	}
	return m.Sender.ID
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// Contact is a chat or user resolved from an operator-supplied handle.
type Contact struct {
	ID   int64
	Name string
}

// BotCommand is one entry of the platform command menu.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters that can publish a command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
